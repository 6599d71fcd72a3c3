package core

import (
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"gwi.com/insight-chat/internal/store"
	"gwi.com/insight-chat/internal/utils"
)

const (
	NumRelevantRows     = 5    // Number of dataset rows to put in the prompt
	SimilarityThreshold = 0.05 // Minimum term similarity for a row to count as relevant
)

// DatasetSource is the read side of the sample dataset.
type DatasetSource interface {
	GetSampleRows(limit int) ([]store.SampleRow, error)
}

// GroundingService picks sample dataset rows related to a query and builds
// the Gemini prompt around them.
type GroundingService struct {
	rows []store.SampleRow // In-memory cache of the sample dataset
}

func NewGroundingService(ds DatasetSource) (*GroundingService, error) {
	rows, err := ds.GetSampleRows(0)
	if err != nil {
		return nil, fmt.Errorf("failed to load sample rows for grounding: %w", err)
	}
	if len(rows) == 0 {
		log.Println("Warning: GroundingService initialized with no sample rows. Run with -ingest to load the dataset.")
	} else {
		log.Printf("GroundingService initialized with %d sample rows.", len(rows))
	}
	return &GroundingService{rows: rows}, nil
}

type ScoredRow struct {
	Row        store.SampleRow
	Similarity float32
}

// RowText renders a row as "key value" pairs in key order.
func RowText(row store.SampleRow) string {
	keys := make([]string, 0, len(row.Fields))
	for k := range row.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for i, k := range keys {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(k)
		sb.WriteString(": ")
		sb.WriteString(row.Fields[k])
	}
	return sb.String()
}

func (s *GroundingService) RelevantRows(query string) []store.SampleRow {
	scored := make([]ScoredRow, 0, len(s.rows))
	for _, row := range s.rows {
		similarity := utils.TextSimilarity(query, RowText(row))
		if similarity >= SimilarityThreshold {
			scored = append(scored, ScoredRow{Row: row, Similarity: similarity})
		}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Similarity > scored[j].Similarity
	})

	out := make([]store.SampleRow, 0, NumRelevantRows)
	for i := 0; i < len(scored) && len(out) < NumRelevantRows; i++ {
		out = append(out, scored[i].Row)
	}
	return out
}

// BuildPrompt converts the chat history into Gemini turns and appends the
// query with the relevant rows as context. It also reports how many rows
// were used.
func (s *GroundingService) BuildPrompt(req AnalysisRequest) ([]*genai.Content, int) {
	var history []*genai.Content
	for _, turn := range req.ChatHistory {
		role := "user"
		if turn.Role == "assistant" {
			role = "model"
		}
		history = append(history, &genai.Content{
			Role:  role,
			Parts: []genai.Part{genai.Text(turn.Content)},
		})
	}

	rows := s.RelevantRows(req.UserInput)
	var finalUserContent string
	if len(rows) > 0 {
		var contextBuilder strings.Builder
		for _, row := range rows {
			contextBuilder.WriteString(RowText(row))
			contextBuilder.WriteString("\n")
		}
		finalUserContent = fmt.Sprintf("Dataset rows related to the question:\n\n--- CONTEXT START ---\n%s--- CONTEXT END ---\n\nQuestion: %s", contextBuilder.String(), req.UserInput)
	} else {
		finalUserContent = fmt.Sprintf("No dataset rows matched the question directly. Question: %s", req.UserInput)
	}

	history = append(history, &genai.Content{
		Role:  "user",
		Parts: []genai.Part{genai.Text(finalUserContent)},
	})
	return history, len(rows)
}
