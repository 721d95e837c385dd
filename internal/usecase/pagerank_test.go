package usecase

import (
	"math"
	"strings"
	"testing"

	"github.com/user/rag-service/internal/entity"
)

func TestPageRanks(t *testing.T) {
	home := &entity.Page{URL: "/", ContentType: entity.ContentHomepage, Links: []string{"/a", "/b", "/a"}}
	a := &entity.Page{URL: "/a", ContentType: entity.ContentArticle, Links: []string{"/", "/b"}, Content: strings.Repeat("x", 1001)}
	b := &entity.Page{URL: "/b", Links: []string{"/b"}}

	ranks := PageRanks([]*entity.Page{home, a, b})
	want := map[string]float64{
		"/":  1.1 * 2,
		"/a": 1.1 * 1.5 * 1.2,
		"/b": 1.2,
	}
	for url, w := range want {
		if math.Abs(ranks[url]-w) > 1e-9 {
			t.Fatalf("%s: expected %.3f, got %.3f", url, w, ranks[url])
		}
	}
}

func TestPageRankPenaltyAndCap(t *testing.T) {
	links := make([]string, 60)
	p := &entity.Page{URL: "/", Links: links}
	if got := PageRank(p, 0); math.Abs(got-0.8) > 1e-9 {
		t.Fatalf("expected 0.8, got %.3f", got)
	}
	p = &entity.Page{URL: "/", ContentType: entity.ContentHomepage, Content: strings.Repeat("x", 2000)}
	if got := PageRank(p, 100); got != maxPageRank {
		t.Fatalf("expected cap at %d, got %.3f", maxPageRank, got)
	}
}
