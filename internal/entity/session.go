package entity

import "time"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Turn is one message in a conversation.
type Turn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Session is ephemeral conversation state kept in the cache.
type Session struct {
	ID           string    `json:"id"`
	Turns        []Turn    `json:"turns"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
}

// Relevance is the outcome of checking a query against session history.
type Relevance struct {
	IsRelated       bool   `json:"is_related"`
	RequiresContext bool   `json:"requires_context"`
	ContextText     string `json:"context_text,omitempty"`
}
