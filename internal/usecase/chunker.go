package usecase

import (
	"math"
	"regexp"
	"strings"
	"unicode"

	"github.com/user/rag-service/internal/entity"
	"github.com/user/rag-service/pkg/sanitize"
)

// ChunkerConfig bounds chunk sizes in estimated tokens.
type ChunkerConfig struct {
	MaxTokens int
	MinTokens int
	// Overlap is expressed in tokens; every 50 tokens carry one sentence over.
	Overlap int
}

func (c ChunkerConfig) withDefaults() ChunkerConfig {
	if c.MaxTokens <= 0 {
		c.MaxTokens = 1000
	}
	if c.MinTokens <= 0 {
		c.MinTokens = 200
	}
	if c.Overlap < 0 {
		c.Overlap = 0
	}
	return c
}

// Chunker turns page text into overlapping, token-budgeted chunks.
type Chunker struct {
	cfg ChunkerConfig
}

func NewChunker(cfg ChunkerConfig) *Chunker {
	return &Chunker{cfg: cfg.withDefaults()}
}

// TextChunk is a chunk before it is embedded and stored. First and Last are
// sentence indexes into the segmented document.
type TextChunk struct {
	Text   string
	Tokens int
	Type   entity.ChunkType
	First  int
	Last   int
}

var (
	sentenceEnd   = regexp.MustCompile(`[.!?]\s+`)
	whitespaceRun = regexp.MustCompile(`\s+`)
	quoteReplacer = strings.NewReplacer("“", `"`, "”", `"`, "‘", "'", "’", "'")
	abbreviations = []string{"Mr.", "Mrs.", "Dr.", "Ms.", "Prof.", "Sr.", "Jr.", "Ph.D", "M.D", "B.A", "M.A", "B.S", "M.S"}
)

const minSentenceChars = 10

// Split cleans, contextualizes and chunks a page.
func (c *Chunker) Split(page *entity.Page) []TextChunk {
	doc := BuildDocument(page.Title, page.Description, page.Headings, CleanText(page.Content))
	return c.ChunkText(doc)
}

// ChunkText splits already prepared text.
func (c *Chunker) ChunkText(text string) []TextChunk {
	sentences := SplitSentences(text)
	if len(sentences) == 0 {
		return nil
	}

	overlap := c.cfg.Overlap / 50
	var chunks []TextChunk
	first, last := 0, 0
	current := sentences[0]

	for i := 1; i < len(sentences); i++ {
		candidate := current + " " + sentences[i]
		if EstimateTokens(candidate) <= c.cfg.MaxTokens {
			current = candidate
			last = i
			continue
		}
		chunks = append(chunks, c.newChunk(current, first, last))

		// Carry trailing sentences over, never reaching behind the closed chunk,
		// and shed them while the seed alone would blow the budget.
		first = max(i-overlap, first)
		for first < i && EstimateTokens(strings.Join(sentences[first:i+1], " ")) > c.cfg.MaxTokens {
			first++
		}
		last = i
		current = strings.Join(sentences[first:i+1], " ")
	}

	tail := c.newChunk(current, first, last)
	if tail.Tokens >= c.cfg.MinTokens || len(chunks) == 0 {
		return append(chunks, tail)
	}

	// A short tail is folded into its predecessor when the result stays
	// within 1.2x of the budget, otherwise it is dropped.
	prev := chunks[len(chunks)-1]
	if tail.Last <= prev.Last {
		return chunks
	}
	merged := prev.Text + " " + strings.Join(sentences[prev.Last+1:tail.Last+1], " ")
	if float64(EstimateTokens(merged)) <= float64(c.cfg.MaxTokens)*1.2 {
		chunks[len(chunks)-1] = c.newChunk(merged, prev.First, tail.Last)
	}
	return chunks
}

func (c *Chunker) newChunk(text string, first, last int) TextChunk {
	return TextChunk{
		Text:   text,
		Tokens: EstimateTokens(text),
		Type:   DetectChunkType(text),
		First:  first,
		Last:   last,
	}
}

// CleanText strips markup leftovers, normalizes quotes and whitespace and drops
// characters outside letters, digits and common punctuation.
func CleanText(text string) string {
	if text == "" {
		return ""
	}
	text = sanitize.PlainText(text)
	text = quoteReplacer.Replace(text)
	text = whitespaceRun.ReplaceAllString(text, " ")

	var b strings.Builder
	b.Grow(len(text))
	var prev rune
	for _, r := range text {
		if !keepRune(r) {
			continue
		}
		if r == prev && strings.ContainsRune(".,;:!?", r) {
			continue
		}
		b.WriteRune(r)
		prev = r
	}
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(b.String(), " "))
}

func keepRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
		return true
	}
	return strings.ContainsRune(`_.,;:!?'"()-/$%&+@#`, r)
}

// BuildDocument prepends a header of title, description and up to five
// headings so chunks stay self-describing.
func BuildDocument(title, description string, headings []string, content string) string {
	var b strings.Builder
	if title != "" {
		b.WriteString("Title: " + title + "\n\n")
	}
	if description != "" {
		b.WriteString("Description: " + description + "\n\n")
	}
	if len(headings) > 0 {
		b.WriteString("Main Topics: " + strings.Join(headings[:min(5, len(headings))], ", ") + "\n\n")
	}
	b.WriteString("Content:\n" + content)
	return b.String()
}

// SplitSentences splits on terminal punctuation followed by whitespace,
// skipping breaks right after common abbreviations, and drops fragments of
// ten characters or fewer.
func SplitSentences(text string) []string {
	var raw []string
	start := 0
	for _, loc := range sentenceEnd.FindAllStringIndex(text, -1) {
		sentence := strings.TrimSpace(text[start : loc[0]+1])
		if sentence == "" || endsWithAbbreviation(sentence) {
			continue
		}
		raw = append(raw, sentence)
		start = loc[1]
	}
	if rest := strings.TrimSpace(text[start:]); rest != "" {
		raw = append(raw, rest)
	}

	sentences := raw[:0]
	for _, s := range raw {
		if len(s) > minSentenceChars {
			sentences = append(sentences, s)
		}
	}
	return sentences
}

func endsWithAbbreviation(s string) bool {
	for _, abbr := range abbreviations {
		if strings.HasSuffix(s, abbr) || strings.HasSuffix(s, abbr+".") {
			return true
		}
	}
	return false
}

// EstimateTokens approximates a token count as the mean of words/0.75 and
// chars/4, rounded up. It is a heuristic, not a tokenizer.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	words := float64(len(strings.Fields(text)))
	chars := float64(len(text))
	return int(math.Ceil((words/0.75 + chars/4) / 2))
}

// DetectChunkType tags text by the first matching keyword group.
func DetectChunkType(text string) entity.ChunkType {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "introduction") || strings.Contains(lower, "overview"):
		return entity.ChunkIntroduction
	case strings.Contains(lower, "conclusion") || strings.Contains(lower, "summary"):
		return entity.ChunkConclusion
	case strings.Contains(lower, "features") || strings.Contains(lower, "benefits"):
		return entity.ChunkFeatures
	case strings.Contains(lower, "pricing") || strings.Contains(lower, "cost"):
		return entity.ChunkPricing
	case strings.Contains(lower, "how to") || strings.Contains(lower, "tutorial"):
		return entity.ChunkTutorial
	case strings.Contains(lower, "faq") || strings.Contains(lower, "question"):
		return entity.ChunkFAQ
	default:
		return entity.ChunkContent
	}
}
