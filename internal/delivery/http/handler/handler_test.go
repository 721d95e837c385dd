package handler_test

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/user/rag-service/internal/adapter/memory"
	"github.com/user/rag-service/internal/delivery/http/handler"
	"github.com/user/rag-service/internal/delivery/http/response"
	"github.com/user/rag-service/internal/delivery/http/router"
	"github.com/user/rag-service/internal/entity"
	"github.com/user/rag-service/internal/repository"
	"github.com/user/rag-service/internal/usecase"
)

type fakeJobs struct {
	jobs map[string]*entity.CrawlJob
}

func (f *fakeJobs) Submit(_ context.Context, tenantID string, _ usecase.CrawlJobRequest) (*entity.CrawlJob, error) {
	switch tenantID {
	case "missing":
		return nil, fmt.Errorf("tenant %s: %w", tenantID, repository.ErrNotFound)
	case "paused":
		return nil, usecase.ErrTenantInactive
	}
	job := &entity.CrawlJob{ID: "job-1", TenantID: tenantID, Status: entity.CrawlPending}
	f.jobs[job.ID] = job
	return job, nil
}

func (f *fakeJobs) Status(_ context.Context, jobID string) (*entity.CrawlJob, error) {
	if job, ok := f.jobs[jobID]; ok {
		return job, nil
	}
	return nil, usecase.ErrJobNotFound
}

type fakeSearch struct {
	err error
}

func (f fakeSearch) Search(_ context.Context, query, tenantID string, opts entity.SearchOptions) ([]entity.SearchResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	if strings.TrimSpace(query) == "" {
		return nil, usecase.ErrEmptyQuery
	}
	return []entity.SearchResult{{URL: "https://acme.test/pricing", Title: "Pricing", Score: 0.9, Source: entity.SourceVector}}, nil
}

type fakeChat struct {
	lastReq usecase.ChatRequest
}

func (f *fakeChat) Ask(_ context.Context, req usecase.ChatRequest) (*entity.AnswerResponse, error) {
	f.lastReq = req
	if req.Query == "" {
		return nil, usecase.ErrEmptyQuery
	}
	return &entity.AnswerResponse{Answer: "Fees are low.", Confidence: entity.ConfidenceHigh, SessionID: "s-1"}, nil
}

func (f *fakeChat) AskStream(_ context.Context, req usecase.ChatRequest) (*usecase.ChatStream, error) {
	f.lastReq = req
	if req.Query == "" {
		return nil, usecase.ErrEmptyQuery
	}
	events := make(chan entity.StreamEvent, 3)
	events <- entity.StreamEvent{Type: entity.EventToken, Content: "Fees "}
	events <- entity.StreamEvent{Type: entity.EventToken, Content: "are low."}
	events <- entity.StreamEvent{Type: entity.EventDone, Done: &entity.AnswerResponse{Answer: "Fees are low.", Confidence: entity.ConfidenceMedium}}
	close(events)
	return &usecase.ChatStream{SessionID: "s-9", Events: events}, nil
}

type testAPI struct {
	srv  *httptest.Server
	jobs *fakeJobs
	chat *fakeChat
	logs *memory.LogSink
}

func newTestAPI(t *testing.T, checks map[string]handler.HealthCheck) *testAPI {
	t.Helper()
	api := &testAPI{
		jobs: &fakeJobs{jobs: map[string]*entity.CrawlJob{}},
		chat: &fakeChat{},
		logs: memory.NewLogSink(),
	}
	h := handler.NewHandler(handler.Deps{
		Jobs:     api.jobs,
		Search:   fakeSearch{},
		Chat:     api.chat,
		Sessions: usecase.NewSessionManager(memory.NewCache(), 0, nil),
		Logs:     api.logs,
		Checks:   checks,
	}, nil)
	api.srv = httptest.NewServer(router.New(h, nil))
	t.Cleanup(api.srv.Close)
	return api
}

func (a *testAPI) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, a.srv.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

func TestHealthCheck(t *testing.T) {
	api := newTestAPI(t, map[string]handler.HealthCheck{
		"postgres": func(context.Context) error { return nil },
	})
	resp := api.do(t, http.MethodGet, "/api/health", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	down := newTestAPI(t, map[string]handler.HealthCheck{
		"redis": func(context.Context) error { return errors.New("connection refused") },
	})
	resp = down.do(t, http.MethodGet, "/api/health", "")
	var body response.HealthResponse
	decode(t, resp, &body)
	if resp.StatusCode != http.StatusServiceUnavailable || body.Status != "degraded" || body.Checks["redis"] == "ok" {
		t.Fatalf("expected degraded health, got %d %+v", resp.StatusCode, body)
	}
}

func TestSubmitCrawlAndStatus(t *testing.T) {
	api := newTestAPI(t, nil)

	resp := api.do(t, http.MethodPost, "/api/tenants/acme/crawl", "")
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	var submitted response.SubmitCrawlResponse
	decode(t, resp, &submitted)
	if submitted.JobID != "job-1" {
		t.Fatalf("expected job id, got %+v", submitted)
	}

	resp = api.do(t, http.MethodGet, "/api/jobs/job-1", "")
	var job entity.CrawlJob
	decode(t, resp, &job)
	if resp.StatusCode != http.StatusOK || job.TenantID != "acme" {
		t.Fatalf("unexpected status response %d %+v", resp.StatusCode, job)
	}
}

func TestErrorMapping(t *testing.T) {
	api := newTestAPI(t, nil)
	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"unknown tenant", http.MethodPost, "/api/tenants/missing/crawl", "", http.StatusNotFound},
		{"inactive tenant", http.MethodPost, "/api/tenants/paused/crawl", "", http.StatusBadRequest},
		{"unknown job", http.MethodGet, "/api/jobs/nope", "", http.StatusNotFound},
		{"empty query", http.MethodPost, "/api/tenants/acme/search", `{"query":"  "}`, http.StatusBadRequest},
		{"bad json", http.MethodPost, "/api/tenants/acme/ask", `{`, http.StatusBadRequest},
		{"unknown session", http.MethodGet, "/api/sessions/none", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := api.do(t, tt.method, tt.path, tt.body)
			if resp.StatusCode != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, resp.StatusCode)
			}
		})
	}
}

func TestSearchReturnsResults(t *testing.T) {
	api := newTestAPI(t, nil)
	resp := api.do(t, http.MethodPost, "/api/tenants/acme/search", `{"query":"pricing","mode":"hybrid"}`)
	var body response.SearchResponse
	decode(t, resp, &body)
	if resp.StatusCode != http.StatusOK || body.Count != 1 || body.Results[0].URL != "https://acme.test/pricing" {
		t.Fatalf("unexpected search response %d %+v", resp.StatusCode, body)
	}
}

func TestAskPassesSessionAndTenant(t *testing.T) {
	api := newTestAPI(t, nil)
	resp := api.do(t, http.MethodPost, "/api/tenants/acme/ask", `{"query":"What are the fees?","session_id":"s-1","limit":3}`)
	var body entity.AnswerResponse
	decode(t, resp, &body)
	if resp.StatusCode != http.StatusOK || body.Answer != "Fees are low." {
		t.Fatalf("unexpected answer %d %+v", resp.StatusCode, body)
	}
	if api.chat.lastReq.TenantID != "acme" || api.chat.lastReq.SessionID != "s-1" || api.chat.lastReq.Options.Limit != 3 {
		t.Fatalf("unexpected chat request %+v", api.chat.lastReq)
	}
}

func TestAskStreamEmitsEvents(t *testing.T) {
	api := newTestAPI(t, nil)
	resp := api.do(t, http.MethodPost, "/api/tenants/acme/ask/stream", `{"query":"What are the fees?"}`)
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("expected event stream, got %q", ct)
	}

	var names []string
	var done entity.StreamEvent
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			names = append(names, strings.TrimPrefix(line, "event: "))
		case strings.HasPrefix(line, "data: ") && names[len(names)-1] == "done":
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &done); err != nil {
				t.Fatalf("decode done: %v", err)
			}
		}
	}
	if strings.Join(names, ",") != "token,token,done" {
		t.Fatalf("unexpected events %v", names)
	}
	if done.Done == nil || done.Done.SessionID != "s-9" {
		t.Fatalf("expected session id on done event, got %+v", done.Done)
	}
}

func TestSessionLifecycle(t *testing.T) {
	api := newTestAPI(t, nil)

	resp := api.do(t, http.MethodPost, "/api/sessions", `{"session_id":"s-7"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	resp = api.do(t, http.MethodGet, "/api/sessions/s-7", "")
	var session entity.Session
	decode(t, resp, &session)
	if resp.StatusCode != http.StatusOK || session.ID != "s-7" {
		t.Fatalf("unexpected session %d %+v", resp.StatusCode, session)
	}

	resp = api.do(t, http.MethodDelete, "/api/sessions/s-7", "")
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
	resp = api.do(t, http.MethodGet, "/api/sessions/s-7", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", resp.StatusCode)
	}
}

func TestJobLogs(t *testing.T) {
	api := newTestAPI(t, nil)
	ctx := context.Background()
	_ = api.logs.Log(ctx, "job-1", "info", "Starting crawl")
	_ = api.logs.Log(ctx, "job-1", "info", "Crawled https://acme.test/")

	resp := api.do(t, http.MethodGet, "/api/jobs/job-1/logs", "")
	var body response.JobLogsResponse
	decode(t, resp, &body)
	if resp.StatusCode != http.StatusOK || len(body.Entries) != 2 || body.Entries[0].Message != "Starting crawl" {
		t.Fatalf("unexpected logs %d %+v", resp.StatusCode, body)
	}

	resp = api.do(t, http.MethodGet, "/api/jobs/job-1/logs?limit=zero", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", resp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	api := newTestAPI(t, nil)
	api.do(t, http.MethodGet, "/api/health", "")
	resp := api.do(t, http.MethodGet, "/metrics", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}
