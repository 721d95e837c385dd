package memory

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/blevesearch/bleve"
	"github.com/blevesearch/bleve/search/query"

	"github.com/user/rag-service/internal/entity"
	"github.com/user/rag-service/internal/repository"
	"github.com/user/rag-service/pkg/utils"
)

// indexedChunk is the document stored in the keyword index.
type indexedChunk struct {
	Tenant string `json:"tenant"`
	Text   string `json:"text"`
	Title  string `json:"title"`
}

// DocumentStore keeps pages and chunks in process memory. Vector search is a
// linear cosine scan; keyword search goes through a bleve in-memory index.
type DocumentStore struct {
	mu        sync.RWMutex
	pages     map[int64]*entity.Page
	byURL     map[string]int64
	chunks    map[int64]entity.Chunk
	byPage    map[int64][]int64
	nextPage  int64
	nextChunk int64
	index     bleve.Index
}

func NewDocumentStore() (*DocumentStore, error) {
	index, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("create keyword index: %w", err)
	}
	return &DocumentStore{
		pages:  make(map[int64]*entity.Page),
		byURL:  make(map[string]int64),
		chunks: make(map[int64]entity.Chunk),
		byPage: make(map[int64][]int64),
		index:  index,
	}, nil
}

func urlKey(tenantID, url string) string { return tenantID + "\x00" + url }

func (s *DocumentStore) FindByURL(_ context.Context, tenantID, url string) (*entity.Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byURL[urlKey(tenantID, url)]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *s.pages[id]
	return &cp, nil
}

func (s *DocumentStore) Upsert(_ context.Context, page *entity.Page) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *page
	cp.UpdatedAt = time.Now().UTC()
	if id, ok := s.byURL[urlKey(page.TenantID, page.URL)]; ok {
		cp.ID = id
		if cp.PageRank <= 0 {
			cp.PageRank = s.pages[id].PageRank
		}
		s.pages[id] = &cp
		return id, nil
	}
	s.nextPage++
	cp.ID = s.nextPage
	if cp.PageRank <= 0 {
		cp.PageRank = 1
	}
	s.pages[cp.ID] = &cp
	s.byURL[urlKey(page.TenantID, page.URL)] = cp.ID
	return cp.ID, nil
}

func (s *DocumentStore) UpdatePageRank(_ context.Context, ranks map[int64]float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, r := range ranks {
		if p, ok := s.pages[id]; ok {
			p.PageRank = r
		}
	}
	return nil
}

func (s *DocumentStore) CountByTenant(_ context.Context, tenantID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, p := range s.pages {
		if p.TenantID == tenantID {
			n++
		}
	}
	return n, nil
}

func (s *DocumentStore) DeleteByPage(_ context.Context, pageID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteLocked(pageID)
}

func (s *DocumentStore) InsertChunks(_ context.Context, chunks []entity.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(chunks)
}

func (s *DocumentStore) ReplaceChunks(_ context.Context, pageID int64, chunks []entity.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.deleteLocked(pageID); err != nil {
		return err
	}
	return s.insertLocked(chunks)
}

func (s *DocumentStore) deleteLocked(pageID int64) error {
	batch := s.index.NewBatch()
	for _, id := range s.byPage[pageID] {
		delete(s.chunks, id)
		batch.Delete(docID(id))
	}
	delete(s.byPage, pageID)
	return s.index.Batch(batch)
}

func (s *DocumentStore) insertLocked(chunks []entity.Chunk) error {
	batch := s.index.NewBatch()
	for _, c := range chunks {
		s.nextChunk++
		c.ID = s.nextChunk
		s.chunks[c.ID] = c
		s.byPage[c.PageID] = append(s.byPage[c.PageID], c.ID)
		title := ""
		if p, ok := s.pages[c.PageID]; ok {
			title = p.Title
		}
		if err := batch.Index(docID(c.ID), indexedChunk{Tenant: c.TenantID, Text: c.Text, Title: title}); err != nil {
			return err
		}
	}
	return s.index.Batch(batch)
}

func docID(id int64) string { return strconv.FormatInt(id, 10) }

func (s *DocumentStore) VectorSearch(_ context.Context, tenantID string, vector []float32, limit int, minScore float64) ([]entity.SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []entity.SearchResult
	for _, c := range s.chunks {
		if c.TenantID != tenantID {
			continue
		}
		score := utils.CosineSimilarity(vector, c.Embedding)
		if score < minScore {
			continue
		}
		out = append(out, s.resultLocked(c, score))
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ChunkID < out[j].ChunkID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// TextSearch unions bleve hits on text and title with substring matches on the
// page url. Scores are left at zero.
func (s *DocumentStore) TextSearch(_ context.Context, tenantID string, keywords []string, limit int) ([]entity.SearchResult, error) {
	if len(keywords) == 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var clauses []query.Query
	for _, kw := range keywords {
		clauses = append(clauses, bleve.NewMatchQuery(kw), bleve.NewPrefixQuery(kw))
	}
	total, err := s.index.DocCount()
	if err != nil {
		return nil, err
	}
	req := bleve.NewSearchRequestOptions(bleve.NewDisjunctionQuery(clauses...), int(total), 0, false)
	res, err := s.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("keyword index search: %w", err)
	}

	seen := make(map[int64]bool)
	var out []entity.SearchResult
	add := func(c entity.Chunk) {
		if seen[c.ID] || c.TenantID != tenantID || (limit > 0 && len(out) >= limit) {
			return
		}
		seen[c.ID] = true
		out = append(out, s.resultLocked(c, 0))
	}
	for _, hit := range res.Hits {
		id, err := strconv.ParseInt(hit.ID, 10, 64)
		if err != nil {
			continue
		}
		if c, ok := s.chunks[id]; ok {
			add(c)
		}
	}

	ids := make([]int64, 0, len(s.chunks))
	for id := range s.chunks {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		c := s.chunks[id]
		p, ok := s.pages[c.PageID]
		if !ok {
			continue
		}
		u := strings.ToLower(p.URL)
		for _, kw := range keywords {
			if strings.Contains(u, kw) {
				add(c)
				break
			}
		}
	}
	return out, nil
}

func (s *DocumentStore) resultLocked(c entity.Chunk, score float64) entity.SearchResult {
	r := entity.SearchResult{ChunkID: c.ID, PageID: c.PageID, Text: c.Text, Score: score, PageRank: 1}
	if p, ok := s.pages[c.PageID]; ok {
		r.URL, r.Title, r.PageRank = p.URL, p.Title, p.PageRank
	}
	return r
}

// Close releases the keyword index.
func (s *DocumentStore) Close() error {
	return s.index.Close()
}
