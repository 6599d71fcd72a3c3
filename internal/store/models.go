package store

import "time"

type User struct {
	ID             int64     `json:"id"`
	ExternalUserID string    `json:"external_user_id"`
	PasswordHash   string    `json:"-"` // Do not expose this in JSON responses
	CreatedAt      time.Time `json:"created_at"`
}

type MessageKind string

const (
	KindUser      MessageKind = "user"
	KindAssistant MessageKind = "assistant"
	KindError     MessageKind = "error"
)

// Message is one conversational turn. The JSON shape matches the
// "chat-messages" slot written by earlier clients.
type Message struct {
	ID             int64       `json:"id"`
	Kind           MessageKind `json:"type"`
	Content        string      `json:"content"`
	Model          string      `json:"model,omitempty"`
	AnalysisNumber int         `json:"analysisNumber,omitempty"`
	// LinkedAnalysisID is the id of the user message that started the
	// analysis. Only set on assistant messages.
	LinkedAnalysisID *int64    `json:"analysisId,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
}

type Chart struct {
	ChartName string `json:"chartName"`
	ChartURL  string `json:"chartUrl"`
}

// Analysis is the result derived from one user query. ID and MessageID both
// hold the originating user message id.
type Analysis struct {
	ID                 int64     `json:"id"`
	MessageID          int64     `json:"messageId"`
	AssistantMessageID int64     `json:"assistantMessageId"`
	Query              string    `json:"query"`
	Model              string    `json:"model,omitempty"`
	AnalysisNumber     int       `json:"analysisNumber"`
	Markdown           string    `json:"markdown"`
	Description        string    `json:"description"`
	Charts             []Chart   `json:"charts"`
	KeyFindings        []string  `json:"keyFindings,omitempty"`
	Recommendations    []string  `json:"recommendations,omitempty"`
	RowCount           int       `json:"rowCount"`
	Timestamp          time.Time `json:"timestamp"`
}

// SampleRow is one record of the sample dataset shown in the data overview.
type SampleRow struct {
	ID     int64             `json:"id"`
	Fields map[string]string `json:"fields"`
}

// Slot keys of the Persistent State Store.
const (
	MessagesSlot = "chat-messages"
	AnalysesSlot = "analysis-history"
	// SequenceSlot holds the analysis ordinal high-water mark so deleted
	// ordinals are not handed out again after a restart.
	SequenceSlot = "analysis-sequence"
)
