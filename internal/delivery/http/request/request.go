package request

import "github.com/user/rag-service/internal/entity"

// SubmitCrawlRequest overrides the tenant's domains or settings for one job.
// Both fields are optional.
type SubmitCrawlRequest struct {
	Domains  []entity.TenantDomain `json:"domains,omitempty"`
	Settings *entity.CrawlSettings `json:"settings,omitempty"`
}

type SearchRequest struct {
	Query       string            `json:"query"`
	Limit       int               `json:"limit"`
	MinScore    float64           `json:"min_score"`
	Mode        entity.SearchMode `json:"mode"`
	ExpandQuery bool              `json:"expand_query"`
}

// AskRequest is a question, optionally within a conversation.
type AskRequest struct {
	Query        string            `json:"query"`
	SessionID    string            `json:"session_id"`
	OldSessionID string            `json:"old_session_id"`
	Limit        int               `json:"limit"`
	MinScore     float64           `json:"min_score"`
	Mode         entity.SearchMode `json:"mode"`
}

type NewSessionRequest struct {
	SessionID    string `json:"session_id"`
	OldSessionID string `json:"old_session_id"`
}
