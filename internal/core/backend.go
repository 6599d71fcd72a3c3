package core

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"gwi.com/insight-chat/internal/store"
)

const defaultSummary = "Analysis completed"

// HistoryTurn is one prior exchange sent back to the analysis service.
type HistoryTurn struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

type AnalysisRequest struct {
	UserInput   string        `json:"user_input"`
	ChatHistory []HistoryTurn `json:"chat_history"`
	// Model selects the backend; it is not part of the wire contract.
	Model string `json:"-"`
}

type Insight struct {
	Summary         string   `json:"summary"`
	KeyFindings     []string `json:"keyFindings"`
	Recommendations []string `json:"recommendations"`
}

// AnalysisResult is either *AnalysisSuccess or *AnalysisFailure.
type AnalysisResult interface {
	isAnalysisResult()
}

type AnalysisSuccess struct {
	Insight  Insight
	Charts   []store.Chart
	RowCount int
}

type AnalysisFailure struct {
	Message string
}

func (*AnalysisSuccess) isAnalysisResult() {}
func (*AnalysisFailure) isAnalysisResult() {}

// AnalysisBackend answers one query. Implementations report every problem
// as an *AnalysisFailure rather than panicking or returning nil.
type AnalysisBackend interface {
	Analyze(ctx context.Context, req AnalysisRequest) AnalysisResult
}

func failuref(format string, args ...any) *AnalysisFailure {
	return &AnalysisFailure{Message: fmt.Sprintf(format, args...)}
}

// newSuccess fills the defaults for optional fields.
func newSuccess(insight Insight, charts []store.Chart, rowCount int) *AnalysisSuccess {
	if strings.TrimSpace(insight.Summary) == "" {
		insight.Summary = defaultSummary
	}
	if insight.KeyFindings == nil {
		insight.KeyFindings = []string{}
	}
	if insight.Recommendations == nil {
		insight.Recommendations = []string{}
	}
	if charts == nil {
		charts = []store.Chart{}
	}
	return &AnalysisSuccess{Insight: insight, Charts: charts, RowCount: rowCount}
}

type analysisPayload struct {
	Insight     *Insight      `json:"insight"`
	Charts      []store.Chart `json:"charts"`
	RowCount    *float64      `json:"rowCount"`
	ReturnValue *struct {
		RowCount *float64 `json:"rowCount"`
	} `json:"returnValue"`
	Error string `json:"error"`
}

// DecodeAnalysisResponse converts an HTTP status and body from the analysis
// service into a result. It accepts direct JSON payloads, API Gateway proxy
// envelopes ({statusCode, body}) and plain-text 2xx bodies.
func DecodeAnalysisResponse(status int, body []byte) AnalysisResult {
	raw := strings.TrimSpace(string(body))
	if status < 200 || status > 299 {
		return failuref("API request failed: %d - %s", status, raw)
	}
	if !json.Valid(body) {
		return newSuccess(Insight{Summary: raw}, nil, 0)
	}

	var top map[string]json.RawMessage
	if err := json.Unmarshal(body, &top); err != nil || top == nil {
		return failuref("malformed analysis response: expected a JSON object")
	}

	payload := top
	if envelopeBody, ok := top["body"]; ok {
		var statusCode *int
		if sc, ok := top["statusCode"]; ok {
			if err := json.Unmarshal(sc, &statusCode); err != nil {
				return failuref("malformed analysis response: statusCode is not a number")
			}
		}

		inner, text, err := unwrapEnvelopeBody(envelopeBody)
		if err != nil {
			return failuref("malformed analysis response: %v", err)
		}
		if statusCode != nil && *statusCode != 200 {
			msg := "Lambda function error"
			if inner != nil {
				if m := envelopeMessage(inner); m != "" {
					msg = m
				}
			} else if text != "" {
				msg = text
			}
			return &AnalysisFailure{Message: msg}
		}
		if inner == nil {
			return newSuccess(Insight{Summary: text}, nil, 0)
		}
		payload = inner
	}

	return decodePayload(payload)
}

// unwrapEnvelopeBody returns the inner object, or the raw text when the body
// is a string that is not itself a JSON object.
func unwrapEnvelopeBody(raw json.RawMessage) (map[string]json.RawMessage, string, error) {
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		var inner map[string]json.RawMessage
		if err := json.Unmarshal([]byte(asString), &inner); err != nil {
			return nil, asString, nil
		}
		return inner, "", nil
	}
	var inner map[string]json.RawMessage
	if err := json.Unmarshal(raw, &inner); err != nil {
		return nil, "", fmt.Errorf("body is neither a string nor an object")
	}
	return inner, "", nil
}

func envelopeMessage(obj map[string]json.RawMessage) string {
	for _, key := range []string{"error", "message"} {
		var s string
		if v, ok := obj[key]; ok && json.Unmarshal(v, &s) == nil && s != "" {
			return s
		}
	}
	return ""
}

func decodePayload(obj map[string]json.RawMessage) AnalysisResult {
	enc, err := json.Marshal(obj)
	if err != nil {
		return failuref("malformed analysis response: %v", err)
	}
	var p analysisPayload
	if err := json.Unmarshal(enc, &p); err != nil {
		return failuref("malformed analysis response: %v", err)
	}

	if p.Insight == nil && p.Error != "" {
		return &AnalysisFailure{Message: p.Error}
	}

	var insight Insight
	if p.Insight != nil {
		insight = *p.Insight
	}

	rowCount := 0
	switch {
	case p.RowCount != nil:
		rowCount = int(*p.RowCount)
	case p.ReturnValue != nil && p.ReturnValue.RowCount != nil:
		rowCount = int(*p.ReturnValue.RowCount)
	}

	return newSuccess(insight, p.Charts, rowCount)
}
