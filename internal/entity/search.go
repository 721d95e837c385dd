package entity

// SearchSource says which strategy produced a result.
type SearchSource string

const (
	SourceVector SearchSource = "vector"
	SourceText   SearchSource = "text"
	SourceHybrid SearchSource = "hybrid"
)

// SearchMode selects the retrieval strategy.
type SearchMode string

const (
	ModeVector SearchMode = "vector"
	ModeHybrid SearchMode = "hybrid"
)

// SearchResult is one ranked chunk.
type SearchResult struct {
	ChunkID    int64        `json:"chunk_id"`
	PageID     int64        `json:"page_id"`
	URL        string       `json:"url"`
	Title      string       `json:"title"`
	Text       string       `json:"text"`
	Score      float64      `json:"score"`
	Source     SearchSource `json:"source"`
	Rank       int          `json:"rank"`
	PageRank   float64      `json:"page_rank"`
	MatchCount int          `json:"match_count,omitempty"`
}

// SearchOptions tunes a single search call. Zero values fall back to the
// retriever defaults.
type SearchOptions struct {
	Limit       int        `json:"limit"`
	MinScore    float64    `json:"min_score"`
	Mode        SearchMode `json:"mode"`
	ExpandQuery bool       `json:"expand_query"`
	SkipCache   bool       `json:"-"`
}
