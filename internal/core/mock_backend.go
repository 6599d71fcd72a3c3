package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gwi.com/insight-chat/internal/store"
)

// MockBackend returns canned answers keyed on words in the query. It is
// used for local development when no analysis service is reachable.
type MockBackend struct {
	Delay time.Duration
}

func NewMockBackend(delay time.Duration) *MockBackend {
	return &MockBackend{Delay: delay}
}

func (m *MockBackend) Analyze(ctx context.Context, req AnalysisRequest) AnalysisResult {
	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return failuref("request cancelled")
		}
	}

	q := strings.ToLower(req.UserInput)
	switch {
	case strings.Contains(q, "teenage") || strings.Contains(q, "male"):
		return newSuccess(Insight{
			Summary:     "Found 3 teenage male applicants in the database.",
			KeyFindings: []string{"All three are between 16 and 19 years old."},
		}, nil, 3)
	case strings.Contains(q, "chart") || strings.Contains(q, "distribution"):
		return newSuccess(Insight{
			Summary:     "Generated age distribution chart for all applicants.",
			KeyFindings: []string{"Most applicants fall in the 19-21 age group."},
		}, []store.Chart{{ChartName: "Age Distribution", ChartURL: "mock://charts/age-distribution.png"}}, 10)
	case strings.Contains(q, "average") || strings.Contains(q, "gender"):
		return newSuccess(Insight{
			Summary:         "Calculated average age by gender.",
			KeyFindings:     []string{"Male average age 20.2", "Female average age 22.4"},
			Recommendations: []string{"Compare qualification rates across the same split."},
		}, []store.Chart{{ChartName: "Gender Distribution", ChartURL: "mock://charts/gender-distribution.png"}}, 2)
	case strings.Contains(q, "california"):
		return newSuccess(Insight{Summary: "Found 4 applicants from California."}, nil, 4)
	}

	return newSuccess(Insight{
		Summary: fmt.Sprintf("I've processed your query: %q. Here's what I found in the sample data.", req.UserInput),
	}, nil, 10)
}
