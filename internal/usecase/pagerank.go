package usecase

import (
	"math"

	"github.com/user/rag-service/internal/entity"
)

const maxPageRank = 10

// PageRanks scores every page by the links between pages of the same crawl.
// The result is keyed by URL.
func PageRanks(pages []*entity.Page) map[string]float64 {
	incoming := make(map[string]int, len(pages))
	for _, p := range pages {
		seen := make(map[string]bool, len(p.Links))
		for _, l := range p.Links {
			if l == p.URL || seen[l] {
				continue
			}
			seen[l] = true
			incoming[l]++
		}
	}

	ranks := make(map[string]float64, len(pages))
	for _, p := range pages {
		ranks[p.URL] = PageRank(p, incoming[p.URL])
	}
	return ranks
}

// PageRank scores a single page given its incoming link count.
func PageRank(p *entity.Page, incoming int) float64 {
	score := 1 + float64(incoming)*0.1
	if len(p.Links) > 50 {
		score *= 0.8
	}
	switch p.ContentType {
	case entity.ContentHomepage:
		score *= 2
	case entity.ContentArticle:
		score *= 1.5
	}
	if len([]rune(p.Content)) > 1000 {
		score *= 1.2
	}
	return math.Min(score, maxPageRank)
}
