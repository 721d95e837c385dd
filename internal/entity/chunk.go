package entity

// ChunkType tags a chunk with the kind of section it most likely came from.
type ChunkType string

const (
	ChunkIntroduction ChunkType = "introduction"
	ChunkConclusion   ChunkType = "conclusion"
	ChunkFeatures     ChunkType = "features"
	ChunkPricing      ChunkType = "pricing"
	ChunkTutorial     ChunkType = "tutorial"
	ChunkFAQ          ChunkType = "faq"
	ChunkContent      ChunkType = "content"
)

// Chunk is the unit of retrieval.
type Chunk struct {
	ID        int64
	PageID    int64
	TenantID  string
	Position  int
	Text      string
	Embedding []float32
	Tokens    int
	Type      ChunkType
}
