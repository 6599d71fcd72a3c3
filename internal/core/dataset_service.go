package core

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"gwi.com/insight-chat/internal/store"
)

// DatasetStats summarizes the sample dataset for the data overview.
type DatasetStats struct {
	TotalRecords      int            `json:"totalRecords"`
	QualifiedCount    int            `json:"qualifiedCount"`
	NotQualifiedCount int            `json:"notQualifiedCount"`
	TrainingTypes     map[string]int `json:"trainingTypes"`
	AvgTheoryTest     int            `json:"avgTheoryTest"`
}

type DatasetOverview struct {
	Columns []string          `json:"columns"`
	Rows    []store.SampleRow `json:"rows"`
	Stats   DatasetStats      `json:"stats"`
}

type DatasetService struct {
	source DatasetSource
}

func NewDatasetService(source DatasetSource) *DatasetService {
	return &DatasetService{source: source}
}

// Overview returns the first previewRows rows and statistics over the whole
// dataset.
func (d *DatasetService) Overview(previewRows int) (*DatasetOverview, error) {
	rows, err := d.source.GetSampleRows(0)
	if err != nil {
		return nil, fmt.Errorf("failed to load sample rows: %w", err)
	}

	preview := rows
	if previewRows > 0 && len(preview) > previewRows {
		preview = preview[:previewRows]
	}
	if preview == nil {
		preview = []store.SampleRow{}
	}

	return &DatasetOverview{
		Columns: columnsOf(rows),
		Rows:    preview,
		Stats:   ComputeDatasetStats(rows),
	}, nil
}

func ComputeDatasetStats(rows []store.SampleRow) DatasetStats {
	stats := DatasetStats{
		TotalRecords:  len(rows),
		TrainingTypes: map[string]int{},
	}

	var theorySum float64
	theoryCount := 0
	for _, row := range rows {
		switch strings.ToLower(row.Fields["qualified"]) {
		case "yes":
			stats.QualifiedCount++
		case "no":
			stats.NotQualifiedCount++
		}
		if training := strings.ToLower(row.Fields["training"]); training != "" {
			stats.TrainingTypes[training]++
		}
		if v, err := strconv.ParseFloat(row.Fields["theory_test"], 64); err == nil {
			theorySum += v
			theoryCount++
		}
	}
	if theoryCount > 0 {
		stats.AvgTheoryTest = int(math.Round(theorySum / float64(theoryCount)))
	}
	return stats
}

// columnsOf keeps applicant_id first when present, the rest sorted.
func columnsOf(rows []store.SampleRow) []string {
	seen := map[string]bool{}
	var cols []string
	for _, row := range rows {
		for k := range row.Fields {
			if !seen[k] {
				seen[k] = true
				cols = append(cols, k)
			}
		}
	}
	sort.Slice(cols, func(i, j int) bool {
		if cols[i] == "applicant_id" || cols[j] == "applicant_id" {
			return cols[i] == "applicant_id"
		}
		return cols[i] < cols[j]
	})
	if cols == nil {
		cols = []string{}
	}
	return cols
}
