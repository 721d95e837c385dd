package usecase

import (
	"fmt"
	"strings"
	"testing"

	"github.com/user/rag-service/internal/entity"
)

func numberedSentences(n int, format string) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf(format, i, i)
	}
	return out
}

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"hello world", 3},
		{"Sentence number 1 talks about topic 1 here.", 11},
	}
	for _, tt := range tests {
		if got := EstimateTokens(tt.in); got != tt.want {
			t.Fatalf("EstimateTokens(%q): expected %d, got %d", tt.in, tt.want, got)
		}
	}
}

func TestSplitSentences(t *testing.T) {
	text := "Dr. Smith arrived today. He was late! Was he? Yes indeed it was true."
	got := SplitSentences(text)
	want := []string{"Dr. Smith arrived today.", "He was late!", "Yes indeed it was true."}
	if len(got) != len(want) {
		t.Fatalf("expected %d sentences, got %d: %q", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sentence %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}

func TestCleanText(t *testing.T) {
	in := "Hello   &amp;  “world”!!! ©2024 <b>x</b>"
	want := `Hello & "world"! 2024 x`
	if got := CleanText(in); got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestCleanTextKeepsNonASCIILetters(t *testing.T) {
	if got := CleanText("Café über naïve"); got != "Café über naïve" {
		t.Fatalf("unexpected %q", got)
	}
}

func TestBuildDocument(t *testing.T) {
	doc := BuildDocument("Fees", "All fees", []string{"a", "b", "c", "d", "e", "f"}, "Body text.")
	want := "Title: Fees\n\nDescription: All fees\n\nMain Topics: a, b, c, d, e\n\nContent:\nBody text."
	if doc != want {
		t.Fatalf("expected %q, got %q", want, doc)
	}
	if got := BuildDocument("", "", nil, "x"); got != "Content:\nx" {
		t.Fatalf("expected bare content header, got %q", got)
	}
}

func TestChunkTextPreservesOrderWithoutGaps(t *testing.T) {
	sentences := numberedSentences(30, "Sentence number %d talks about topic %d here.")
	c := NewChunker(ChunkerConfig{MaxTokens: 50, MinTokens: 10, Overlap: 100})

	chunks := c.ChunkText(strings.Join(sentences, " "))
	if len(chunks) < 2 {
		t.Fatalf("expected several chunks, got %d", len(chunks))
	}
	if chunks[0].First != 0 {
		t.Fatalf("first chunk must start at sentence 0, got %d", chunks[0].First)
	}
	if last := chunks[len(chunks)-1].Last; last != len(sentences)-1 {
		t.Fatalf("last chunk must end at sentence %d, got %d", len(sentences)-1, last)
	}
	for i, ch := range chunks {
		if want := strings.Join(sentences[ch.First:ch.Last+1], " "); ch.Text != want {
			t.Fatalf("chunk %d text does not match its sentence span", i)
		}
		if ch.Tokens > 60 {
			t.Fatalf("chunk %d exceeds budget: %d tokens", i, ch.Tokens)
		}
		if i == 0 {
			continue
		}
		prev := chunks[i-1]
		if ch.First > prev.Last+1 {
			t.Fatalf("gap between chunk %d and %d", i-1, i)
		}
		if ch.First <= prev.First {
			t.Fatalf("chunk %d does not advance", i)
		}
		if ch.First != prev.Last-1 {
			t.Fatalf("expected two overlap sentences at chunk %d, got first=%d prev.last=%d", i, ch.First, prev.Last)
		}
	}
}

func TestChunkTextOverlapNeverExceedsBudget(t *testing.T) {
	sentences := make([]string, 8)
	for i := range sentences {
		sentences[i] = fmt.Sprintf("Item %d ", i) + strings.Repeat("alpha ", 27) + "end."
	}
	c := NewChunker(ChunkerConfig{MaxTokens: 100, MinTokens: 10, Overlap: 100})

	chunks := c.ChunkText(strings.Join(sentences, " "))
	if len(chunks) < 2 {
		t.Fatalf("expected several chunks, got %d", len(chunks))
	}
	for i, ch := range chunks {
		if ch.Tokens > 100 {
			t.Fatalf("chunk %d exceeds budget: %d tokens", i, ch.Tokens)
		}
		if i > 0 && ch.First <= chunks[i-1].First {
			t.Fatalf("chunk %d does not advance", i)
		}
	}
	if last := chunks[len(chunks)-1].Last; last != len(sentences)-1 {
		t.Fatalf("last chunk must end at sentence %d, got %d", len(sentences)-1, last)
	}
}

func TestChunkTextOversizedSentenceStandsAlone(t *testing.T) {
	long := "This one " + strings.Repeat("keeps going ", 40) + "forever."
	text := "A short opening line here. " + long + " A short closing line here."
	c := NewChunker(ChunkerConfig{MaxTokens: 30, MinTokens: 1, Overlap: 100})

	chunks := c.ChunkText(text)
	if len(chunks) < 2 {
		t.Fatalf("expected several chunks, got %d", len(chunks))
	}
	if chunks[1].First != 1 || chunks[1].Last != 1 {
		t.Fatalf("expected the long sentence alone in [1..1], got [%d..%d]", chunks[1].First, chunks[1].Last)
	}
}

func TestChunkTextMergesShortTail(t *testing.T) {
	sentences := numberedSentences(9, "Sentence number %d talks about topic %d here.")
	c := NewChunker(ChunkerConfig{MaxTokens: 50, MinTokens: 30})

	chunks := c.ChunkText(strings.Join(sentences, " "))
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if chunks[1].First != 4 || chunks[1].Last != 8 {
		t.Fatalf("expected tail merged into [4..8], got [%d..%d]", chunks[1].First, chunks[1].Last)
	}
}

func TestChunkTextDropsTailThatCannotMerge(t *testing.T) {
	sentences := numberedSentences(5, "This is a considerably longer sentence number %d that keeps going on and on for a while %d.")
	c := NewChunker(ChunkerConfig{MaxTokens: 50, MinTokens: 40})

	chunks := c.ChunkText(strings.Join(sentences, " "))
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if chunks[1].Last != 3 {
		t.Fatalf("expected short tail to be dropped, last sentence %d", chunks[1].Last)
	}
}

func TestChunkTextKeepsSoleShortChunk(t *testing.T) {
	c := NewChunker(ChunkerConfig{})
	chunks := c.ChunkText("Our fees are listed on the pricing page.")
	if len(chunks) != 1 {
		t.Fatalf("expected the only chunk to be kept, got %d", len(chunks))
	}
	if chunks[0].Type != entity.ChunkPricing {
		t.Fatalf("expected pricing chunk, got %s", chunks[0].Type)
	}
}

func TestChunkTextEmpty(t *testing.T) {
	c := NewChunker(ChunkerConfig{})
	if chunks := c.ChunkText("tiny"); len(chunks) != 0 {
		t.Fatalf("expected no chunks, got %d", len(chunks))
	}
}

func TestSplitPageIncludesHeader(t *testing.T) {
	c := NewChunker(ChunkerConfig{})
	page := &entity.Page{
		Title:    "Trading Fees",
		Headings: []string{"Spot", "Futures"},
		Content:  "Spot trades cost 0.1 percent per fill. Futures trades cost 0.05 percent per fill.",
	}
	chunks := c.Split(page)
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if !strings.HasPrefix(chunks[0].Text, "Title: Trading Fees") {
		t.Fatalf("expected contextual header, got %q", chunks[0].Text)
	}
	if !strings.Contains(chunks[0].Text, "Main Topics: Spot, Futures") {
		t.Fatalf("expected headings in header, got %q", chunks[0].Text)
	}
}

func TestDetectChunkType(t *testing.T) {
	tests := []struct {
		in   string
		want entity.ChunkType
	}{
		{"An overview of the platform", entity.ChunkIntroduction},
		{"In summary, it works", entity.ChunkConclusion},
		{"Key benefits include speed", entity.ChunkFeatures},
		{"The cost is low", entity.ChunkPricing},
		{"How to open an account", entity.ChunkTutorial},
		{"Frequently asked question", entity.ChunkFAQ},
		{"Plain text", entity.ChunkContent},
	}
	for _, tt := range tests {
		if got := DetectChunkType(tt.in); got != tt.want {
			t.Fatalf("DetectChunkType(%q): expected %s, got %s", tt.in, tt.want, got)
		}
	}
}
