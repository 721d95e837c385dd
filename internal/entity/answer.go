package entity

import "time"

type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// Rank orders confidence labels so they can be compared.
func (c Confidence) Rank() int {
	switch c {
	case ConfidenceHigh:
		return 2
	case ConfidenceMedium:
		return 1
	default:
		return 0
	}
}

// Source is a cited search result shown next to an answer.
type Source struct {
	Index   int     `json:"index,omitempty"`
	URL     string  `json:"url"`
	Title   string  `json:"title"`
	Score   float64 `json:"score"`
	Snippet string  `json:"snippet"`
}

// AnswerResponse is the result of a question.
type AnswerResponse struct {
	Answer       string        `json:"answer"`
	Sources      []Source      `json:"sources"`
	Confidence   Confidence    `json:"confidence"`
	ResponseTime time.Duration `json:"response_time"`
	TokensUsed   int           `json:"tokens_used"`
	SessionID    string        `json:"session_id,omitempty"`
	ContextUsed  bool          `json:"context_used"`
	Cached       bool          `json:"cached,omitempty"`
}

// StreamEventType discriminates events on an answer stream.
type StreamEventType string

const (
	EventToken StreamEventType = "token"
	EventDone  StreamEventType = "done"
	EventError StreamEventType = "error"
)

// StreamEvent is one element of an answer stream. Done carries the final
// response; Error carries a user-facing message.
type StreamEvent struct {
	Type    StreamEventType `json:"type"`
	Content string          `json:"content,omitempty"`
	Done    *AnswerResponse `json:"done,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Message is a chat message sent to the completion capability.
type Message struct {
	Role    Role
	Content string
}

// QueryLog records an answered question.
type QueryLog struct {
	TenantID     string
	SessionID    string
	Query        string
	Answer       string
	Sources      []Source
	Confidence   Confidence
	ResponseTime time.Duration
	TokensUsed   int
	CreatedAt    time.Time
}
