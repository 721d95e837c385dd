package redis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/user/rag-service/internal/repository"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestCacheGetSetDelete(t *testing.T) {
	_, client := newTestClient(t)
	cache := NewCacheRepo(client)
	ctx := context.Background()

	if _, ok, err := cache.Get(ctx, "missing"); ok || err != nil {
		t.Fatalf("expected a clean miss, got ok=%v err=%v", ok, err)
	}
	if err := cache.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	val, ok, err := cache.Get(ctx, "k")
	if err != nil || !ok || string(val) != "v" {
		t.Fatalf("expected v, got %q ok=%v err=%v", val, ok, err)
	}
	if err := cache.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := cache.Get(ctx, "k"); ok {
		t.Fatalf("expected key to be deleted")
	}
}

func TestCacheDeletePattern(t *testing.T) {
	_, client := newTestClient(t)
	cache := NewCacheRepo(client)
	ctx := context.Background()

	for _, k := range []string{"search:a:1", "search:a:2", "search:b:1", "answer:a:1"} {
		if err := cache.Set(ctx, k, []byte("x"), 0); err != nil {
			t.Fatalf("Set: %v", err)
		}
	}
	n, err := cache.DeletePattern(ctx, "search:a:*")
	if err != nil {
		t.Fatalf("DeletePattern: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 deleted, got %d", n)
	}
	if _, ok, _ := cache.Get(ctx, "search:b:1"); !ok {
		t.Fatalf("expected other tenant's key to survive")
	}
}

func TestCacheUpdateSerializesWriters(t *testing.T) {
	_, client := newTestClient(t)
	cache := NewCacheRepo(client)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := cache.Update(ctx, "counter", time.Minute, func(cur []byte) ([]byte, error) {
				return append(cur, 'x'), nil
			})
			if err != nil {
				t.Errorf("Update: %v", err)
			}
		}()
	}
	wg.Wait()

	val, _, _ := cache.Get(ctx, "counter")
	if len(val) != 5 {
		t.Fatalf("expected 5 appends, got %q", val)
	}
}

func TestCacheUpdatePropagatesCallbackError(t *testing.T) {
	_, client := newTestClient(t)
	cache := NewCacheRepo(client)
	boom := errors.New("boom")
	err := cache.Update(context.Background(), "k", 0, func([]byte) ([]byte, error) { return nil, boom })
	if !errors.Is(err, boom) {
		t.Fatalf("expected callback error, got %v", err)
	}
}

func TestCacheUnavailable(t *testing.T) {
	cache := NewCacheRepo(nil)
	if _, _, err := cache.Get(context.Background(), "k"); !errors.Is(err, repository.ErrCacheUnavailable) {
		t.Fatalf("expected ErrCacheUnavailable, got %v", err)
	}

	mr, client := newTestClient(t)
	down := NewCacheRepo(client)
	mr.Close()
	if err := down.Set(context.Background(), "k", []byte("v"), 0); !errors.Is(err, repository.ErrCacheUnavailable) {
		t.Fatalf("expected ErrCacheUnavailable from a closed server, got %v", err)
	}
}

func TestFrontierFIFOAndDedup(t *testing.T) {
	_, client := newTestClient(t)
	f := NewFrontierRepo(client)
	ctx := context.Background()

	added, err := f.Push(ctx, "job", "a", "b", "c")
	if err != nil || added != 3 {
		t.Fatalf("expected 3 added, got %d (%v)", added, err)
	}
	if added, _ := f.Push(ctx, "job", "a", "d"); added != 1 {
		t.Fatalf("expected only d to be added, got %d", added)
	}
	got, err := f.Pop(ctx, "job", 2)
	if err != nil {
		t.Fatalf("Pop: %v", err)
	}
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("expected [a b], got %v", got)
	}
	if size, _ := f.Size(ctx, "job"); size != 2 {
		t.Fatalf("expected 2 left, got %d", size)
	}
	// Popped URLs stay seen.
	if added, _ := f.Push(ctx, "job", "a"); added != 0 {
		t.Fatalf("expected a to stay seen, got %d", added)
	}
	if err := f.Clear(ctx, "job"); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if got, _ := f.Pop(ctx, "job", 5); len(got) != 0 {
		t.Fatalf("expected empty frontier, got %v", got)
	}
}

func TestVisitedSet(t *testing.T) {
	_, client := newTestClient(t)
	v := NewVisitedRepo(client)
	ctx := context.Background()

	fresh, err := v.MarkVisited(ctx, "job", "https://acme.test/")
	if err != nil || !fresh {
		t.Fatalf("expected first mark to be fresh, got %v (%v)", fresh, err)
	}
	if fresh, _ := v.MarkVisited(ctx, "job", "https://acme.test/"); fresh {
		t.Fatalf("expected second mark to be stale")
	}
	if ok, _ := v.IsVisited(ctx, "job", "https://acme.test/"); !ok {
		t.Fatalf("expected url to be visited")
	}
	if ok, _ := v.IsVisited(ctx, "other", "https://acme.test/"); ok {
		t.Fatalf("expected jobs to be isolated")
	}
	if n, _ := v.Count(ctx, "job"); n != 1 {
		t.Fatalf("expected 1 visited, got %d", n)
	}
}

func TestLogSinkCapsAndOrders(t *testing.T) {
	_, client := newTestClient(t)
	sink := NewLogSink(client, nil)
	ctx := context.Background()

	for i := 0; i < maxLogEntries+20; i++ {
		if err := sink.Log(ctx, "job", "info", "line"); err != nil {
			t.Fatalf("Log: %v", err)
		}
	}
	if err := sink.Log(ctx, "job", "success", "last"); err != nil {
		t.Fatalf("Log: %v", err)
	}
	entries, err := sink.Recent(ctx, "job", 0)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != maxLogEntries {
		t.Fatalf("expected %d entries, got %d", maxLogEntries, len(entries))
	}
	if last := entries[len(entries)-1]; last.Message != "last" || last.JobID != "job" {
		t.Fatalf("expected newest entry last, got %+v", last)
	}
}

func TestLogSinkFollow(t *testing.T) {
	_, client := newTestClient(t)
	sink := NewLogSink(client, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	live, err := sink.Follow(ctx, "job")
	if err != nil {
		t.Fatalf("Follow: %v", err)
	}
	if err := sink.Log(context.Background(), "job", "info", "hello"); err != nil {
		t.Fatalf("Log: %v", err)
	}
	select {
	case e := <-live:
		if e.Message != "hello" {
			t.Fatalf("expected hello, got %+v", e)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("expected a live entry")
	}
	cancel()
	for range live {
	}
}
