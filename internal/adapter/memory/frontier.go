package memory

import (
	"context"
	"sync"
)

// Frontier is a per-job FIFO with a seen set.
type Frontier struct {
	mu     sync.Mutex
	queues map[string][]string
	seen   map[string]map[string]struct{}
}

func NewFrontier() *Frontier {
	return &Frontier{queues: make(map[string][]string), seen: make(map[string]map[string]struct{})}
}

func (f *Frontier) Push(_ context.Context, jobID string, urls ...string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seen := f.seen[jobID]
	if seen == nil {
		seen = make(map[string]struct{})
		f.seen[jobID] = seen
	}
	added := 0
	for _, u := range urls {
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		f.queues[jobID] = append(f.queues[jobID], u)
		added++
	}
	return added, nil
}

func (f *Frontier) Pop(_ context.Context, jobID string, n int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	q := f.queues[jobID]
	n = min(n, len(q))
	if n <= 0 {
		return nil, nil
	}
	out := append([]string(nil), q[:n]...)
	f.queues[jobID] = q[n:]
	return out, nil
}

func (f *Frontier) Size(_ context.Context, jobID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.queues[jobID])), nil
}

func (f *Frontier) Clear(_ context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.queues, jobID)
	delete(f.seen, jobID)
	return nil
}

// Visited is a per-job set of fetched URLs.
type Visited struct {
	mu   sync.Mutex
	sets map[string]map[string]struct{}
}

func NewVisited() *Visited {
	return &Visited{sets: make(map[string]map[string]struct{})}
}

func (v *Visited) MarkVisited(_ context.Context, jobID, url string) (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	set := v.sets[jobID]
	if set == nil {
		set = make(map[string]struct{})
		v.sets[jobID] = set
	}
	if _, ok := set[url]; ok {
		return false, nil
	}
	set[url] = struct{}{}
	return true, nil
}

func (v *Visited) IsVisited(_ context.Context, jobID, url string) (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	_, ok := v.sets[jobID][url]
	return ok, nil
}

func (v *Visited) Count(_ context.Context, jobID string) (int64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return int64(len(v.sets[jobID])), nil
}

func (v *Visited) Clear(_ context.Context, jobID string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.sets, jobID)
	return nil
}
