package usecase

import (
	"context"
	"errors"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/user/rag-service/internal/entity"
	"github.com/user/rag-service/internal/repository"
	"github.com/user/rag-service/pkg/utils"
)

type fakeCache struct {
	mu   sync.Mutex
	data map[string][]byte
	down bool
}

func newFakeCache() *fakeCache { return &fakeCache{data: map[string][]byte{}} }

func (c *fakeCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.down {
		return nil, false, repository.ErrCacheUnavailable
	}
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *fakeCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.down {
		return repository.ErrCacheUnavailable
	}
	c.data[key] = value
	return nil
}

func (c *fakeCache) Delete(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.data, k)
	}
	return nil
}

func (c *fakeCache) DeletePattern(_ context.Context, pattern string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k := range c.data {
		if ok, _ := path.Match(pattern, k); ok {
			delete(c.data, k)
			n++
		}
	}
	return n, nil
}

func (c *fakeCache) Update(_ context.Context, key string, _ time.Duration, fn func([]byte) ([]byte, error)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.down {
		return repository.ErrCacheUnavailable
	}
	next, err := fn(c.data[key])
	if err != nil {
		return err
	}
	if next == nil {
		delete(c.data, key)
		return nil
	}
	c.data[key] = next
	return nil
}

func (c *fakeCache) keys(prefix string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for k := range c.data {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	return out
}

// fakeEmbedder maps each text to a vector from vectors, or a length-based
// vector otherwise.
type fakeEmbedder struct {
	mu       sync.Mutex
	calls    int
	inputs   [][]string
	failures int
	vectors  map[string][]float32
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.inputs = append(f.inputs, append([]string(nil), texts...))
	if f.failures > 0 {
		f.failures--
		return nil, errors.New("provider unavailable")
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if v, ok := f.vectors[t]; ok {
			out[i] = v
			continue
		}
		out[i] = []float32{float32(len(t)), 1, 0}
	}
	return out, nil
}

type fakeCompletion struct {
	mu       sync.Mutex
	answer   string
	tokens   []string
	err      error
	calls    int
	messages [][]entity.Message
}

func (f *fakeCompletion) Complete(_ context.Context, msgs []entity.Message, _ repository.CompletionOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.messages = append(f.messages, msgs)
	return f.answer, f.err
}

func (f *fakeCompletion) Stream(ctx context.Context, msgs []entity.Message, _ repository.CompletionOptions, onToken func(string) error) error {
	f.mu.Lock()
	f.calls++
	f.messages = append(f.messages, msgs)
	tokens, err := f.tokens, f.err
	f.mu.Unlock()
	if err != nil {
		return err
	}
	for _, tok := range tokens {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := onToken(tok); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeCompletion) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeStore is an in-memory DocumentStore. Vector search scores every chunk by
// cosine similarity; text search returns chunks mentioning any keyword.
type fakeStore struct {
	mu         sync.Mutex
	pages      map[int64]*entity.Page
	chunks     []entity.Chunk
	nextPage   int64
	nextChunk  int64
	vectorErr  error
	vectorHits int
	textHits   int
	inserted   int
}

func newFakeStore() *fakeStore { return &fakeStore{pages: map[int64]*entity.Page{}} }

func (s *fakeStore) FindByURL(_ context.Context, tenantID, url string) (*entity.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.pages {
		if p.TenantID == tenantID && p.URL == url {
			cp := *p
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *fakeStore) Upsert(_ context.Context, page *entity.Page) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, p := range s.pages {
		if p.TenantID == page.TenantID && p.URL == page.URL {
			cp := *page
			cp.ID = id
			s.pages[id] = &cp
			return id, nil
		}
	}
	s.nextPage++
	cp := *page
	cp.ID = s.nextPage
	s.pages[cp.ID] = &cp
	return cp.ID, nil
}

func (s *fakeStore) UpdatePageRank(_ context.Context, ranks map[int64]float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, r := range ranks {
		if p, ok := s.pages[id]; ok {
			p.PageRank = r
		}
	}
	return nil
}

func (s *fakeStore) CountByTenant(_ context.Context, tenantID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, p := range s.pages {
		if p.TenantID == tenantID {
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) DeleteByPage(_ context.Context, pageID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteLocked(pageID)
	return nil
}

func (s *fakeStore) deleteLocked(pageID int64) {
	kept := s.chunks[:0]
	for _, c := range s.chunks {
		if c.PageID != pageID {
			kept = append(kept, c)
		}
	}
	s.chunks = kept
}

func (s *fakeStore) InsertChunks(_ context.Context, chunks []entity.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertLocked(chunks)
	return nil
}

func (s *fakeStore) insertLocked(chunks []entity.Chunk) {
	for _, c := range chunks {
		s.nextChunk++
		c.ID = s.nextChunk
		s.chunks = append(s.chunks, c)
		s.inserted++
	}
}

func (s *fakeStore) ReplaceChunks(_ context.Context, pageID int64, chunks []entity.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteLocked(pageID)
	s.insertLocked(chunks)
	return nil
}

func (s *fakeStore) VectorSearch(_ context.Context, tenantID string, vector []float32, limit int, minScore float64) ([]entity.SearchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vectorHits++
	if s.vectorErr != nil {
		return nil, s.vectorErr
	}
	var out []entity.SearchResult
	for _, c := range s.chunks {
		if c.TenantID != tenantID {
			continue
		}
		score := utils.CosineSimilarity(vector, c.Embedding)
		if score < minScore {
			continue
		}
		out = append(out, s.result(c, score))
	}
	sortByScore(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeStore) TextSearch(_ context.Context, tenantID string, keywords []string, limit int) ([]entity.SearchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.textHits++
	var out []entity.SearchResult
	for _, c := range s.chunks {
		if c.TenantID != tenantID {
			continue
		}
		r := s.result(c, 0)
		hay := strings.ToLower(c.Text + " " + r.Title + " " + r.URL)
		for _, kw := range keywords {
			if strings.Contains(hay, kw) {
				out = append(out, r)
				break
			}
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *fakeStore) result(c entity.Chunk, score float64) entity.SearchResult {
	r := entity.SearchResult{ChunkID: c.ID, PageID: c.PageID, Text: c.Text, Score: score}
	if p, ok := s.pages[c.PageID]; ok {
		r.URL, r.Title, r.PageRank = p.URL, p.Title, p.PageRank
	}
	return r
}

// addChunk indexes a page with a single chunk and returns the page id.
func (s *fakeStore) addChunk(tenantID, url, title, text string, vec []float32) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var pageID int64
	for id, p := range s.pages {
		if p.TenantID == tenantID && p.URL == url {
			pageID = id
		}
	}
	if pageID == 0 {
		s.nextPage++
		pageID = s.nextPage
		s.pages[pageID] = &entity.Page{ID: pageID, TenantID: tenantID, URL: url, Title: title, PageRank: 1}
	}
	s.insertLocked([]entity.Chunk{{PageID: pageID, TenantID: tenantID, Text: text, Embedding: vec}})
	return pageID
}

type fakeTenants struct {
	mu      sync.Mutex
	tenants map[string]*entity.Tenant
	reports []entity.CrawlReport
	next    map[string]time.Time
}

func newFakeTenants(ts ...*entity.Tenant) *fakeTenants {
	f := &fakeTenants{tenants: map[string]*entity.Tenant{}, next: map[string]time.Time{}}
	for _, t := range ts {
		f.tenants[t.ID] = t
	}
	return f
}

func (f *fakeTenants) Get(_ context.Context, id string) (*entity.Tenant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tenants[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (f *fakeTenants) Upsert(_ context.Context, t *entity.Tenant) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tenants[t.ID] = t
	return nil
}

func (f *fakeTenants) ReportCrawlStats(_ context.Context, _ string, r entity.CrawlReport) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reports = append(f.reports, r)
	return nil
}

func (f *fakeTenants) ListScheduled(_ context.Context) ([]*entity.Tenant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*entity.Tenant
	for _, t := range f.tenants {
		if t.CrawlSchedule != "" && t.Active() {
			cp := *t
			if n, ok := f.next[t.ID]; ok {
				cp.NextScheduledCrawl = &n
			}
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeTenants) SetNextCrawl(_ context.Context, id string, next time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next[id] = next
	return nil
}
