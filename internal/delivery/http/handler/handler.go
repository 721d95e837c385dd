package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/user/rag-service/internal/delivery/http/request"
	"github.com/user/rag-service/internal/delivery/http/response"
	"github.com/user/rag-service/internal/entity"
	"github.com/user/rag-service/internal/repository"
	"github.com/user/rag-service/internal/usecase"
)

// JobService submits and reads crawl jobs.
type JobService interface {
	Submit(ctx context.Context, tenantID string, req usecase.CrawlJobRequest) (*entity.CrawlJob, error)
	Status(ctx context.Context, jobID string) (*entity.CrawlJob, error)
}

type SearchService interface {
	Search(ctx context.Context, query, tenantID string, opts entity.SearchOptions) ([]entity.SearchResult, error)
}

type ChatService interface {
	Ask(ctx context.Context, req usecase.ChatRequest) (*entity.AnswerResponse, error)
	AskStream(ctx context.Context, req usecase.ChatRequest) (*usecase.ChatStream, error)
}

type SessionService interface {
	NewSession(ctx context.Context, newID, oldID string) (*entity.Session, error)
	Get(ctx context.Context, sessionID string) (*entity.Session, error)
	ClearSession(ctx context.Context, sessionID string) error
}

// HealthCheck pings one dependency.
type HealthCheck func(ctx context.Context) error

// Deps are the services behind the API. Logs and Checks may be nil.
type Deps struct {
	Jobs     JobService
	Search   SearchService
	Chat     ChatService
	Sessions SessionService
	Logs     repository.LogReader
	Checks   map[string]HealthCheck
}

type Handler struct {
	deps   Deps
	logger *zap.Logger
}

func NewHandler(deps Deps, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{deps: deps, logger: logger}
}

const recentLogEntries = 100

func (h *Handler) HandleHealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := response.HealthResponse{Status: "ok", Checks: map[string]string{}}
	names := make([]string, 0, len(h.deps.Checks))
	for name := range h.deps.Checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := h.deps.Checks[name](ctx); err != nil {
			resp.Status = "degraded"
			resp.Checks[name] = err.Error()
			continue
		}
		resp.Checks[name] = "ok"
	}
	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	h.writeJSON(w, status, resp)
}

func (h *Handler) HandleSubmitCrawl(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	var req request.SubmitCrawlRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeJSONError(w, "Invalid request body", http.StatusBadRequest)
			return
		}
	}

	job, err := h.deps.Jobs.Submit(r.Context(), tenantID, usecase.CrawlJobRequest{Domains: req.Domains, Settings: req.Settings})
	if err != nil {
		h.writeUsecaseError(w, "Failed to submit crawl", err, zap.String("tenant_id", tenantID))
		return
	}
	h.writeJSON(w, http.StatusAccepted, response.SubmitCrawlResponse{
		Status:  "success",
		Message: "Crawl job submitted",
		JobID:   job.ID,
		Job:     job,
	})
}

func (h *Handler) HandleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	job, err := h.deps.Jobs.Status(r.Context(), jobID)
	if err != nil {
		h.writeUsecaseError(w, "Failed to get crawl job", err, zap.String("job_id", jobID))
		return
	}
	h.writeJSON(w, http.StatusOK, job)
}

func (h *Handler) HandleGetJobLogs(w http.ResponseWriter, r *http.Request) {
	if h.deps.Logs == nil {
		h.writeJSONError(w, "Job logs are not available", http.StatusNotImplemented)
		return
	}
	jobID := chi.URLParam(r, "jobID")
	n := recentLogEntries
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			h.writeJSONError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		n = v
	}
	entries, err := h.deps.Logs.Recent(r.Context(), jobID, n)
	if err != nil {
		h.writeUsecaseError(w, "Failed to read job logs", err, zap.String("job_id", jobID))
		return
	}
	if entries == nil {
		entries = []repository.LogEntry{}
	}
	h.writeJSON(w, http.StatusOK, response.JobLogsResponse{JobID: jobID, Entries: entries})
}

func (h *Handler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	var req request.SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	results, err := h.deps.Search.Search(r.Context(), req.Query, tenantID, entity.SearchOptions{
		Limit:       req.Limit,
		MinScore:    req.MinScore,
		Mode:        req.Mode,
		ExpandQuery: req.ExpandQuery,
	})
	if err != nil {
		h.writeUsecaseError(w, "Search failed", err, zap.String("tenant_id", tenantID))
		return
	}
	if results == nil {
		results = []entity.SearchResult{}
	}
	h.writeJSON(w, http.StatusOK, response.SearchResponse{Query: req.Query, Count: len(results), Results: results})
}

func (h *Handler) HandleAsk(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeAsk(w, r)
	if !ok {
		return
	}
	resp, err := h.deps.Chat.Ask(r.Context(), req)
	if err != nil {
		h.writeUsecaseError(w, "Failed to answer", err, zap.String("tenant_id", req.TenantID))
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) decodeAsk(w http.ResponseWriter, r *http.Request) (usecase.ChatRequest, bool) {
	var body request.AskRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeJSONError(w, "Invalid request body", http.StatusBadRequest)
		return usecase.ChatRequest{}, false
	}
	return usecase.ChatRequest{
		TenantID:     chi.URLParam(r, "tenantID"),
		SessionID:    body.SessionID,
		OldSessionID: body.OldSessionID,
		Query:        body.Query,
		Options: usecase.AnswerOptions{
			Limit:    body.Limit,
			MinScore: body.MinScore,
			Mode:     body.Mode,
		},
	}, true
}

func (h *Handler) HandleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req request.NewSessionRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeJSONError(w, "Invalid request body", http.StatusBadRequest)
			return
		}
	}
	session, err := h.deps.Sessions.NewSession(r.Context(), req.SessionID, req.OldSessionID)
	if err != nil {
		h.writeUsecaseError(w, "Failed to create session", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, session)
}

func (h *Handler) HandleGetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	session, err := h.deps.Sessions.Get(r.Context(), id)
	if err != nil {
		h.writeUsecaseError(w, "Failed to get session", err, zap.String("session_id", id))
		return
	}
	h.writeJSON(w, http.StatusOK, session)
}

func (h *Handler) HandleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if err := h.deps.Sessions.ClearSession(r.Context(), id); err != nil {
		h.writeUsecaseError(w, "Failed to clear session", err, zap.String("session_id", id))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeUsecaseError maps contract violations to 400 and lookups to 404.
// Anything else is logged and hidden behind a 500.
func (h *Handler) writeUsecaseError(w http.ResponseWriter, msg string, err error, fields ...zap.Field) {
	switch {
	case usecase.IsContractViolation(err):
		h.writeJSONError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, repository.ErrNotFound), errors.Is(err, usecase.ErrJobNotFound):
		h.writeJSONError(w, "Not found", http.StatusNotFound)
	default:
		h.logger.Error(msg, append(fields, zap.Error(err))...)
		h.writeJSONError(w, "Internal server error", http.StatusInternalServerError)
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to write JSON response", zap.Error(err))
	}
}

func (h *Handler) writeJSONError(w http.ResponseWriter, message string, status int) {
	h.writeJSON(w, status, response.ErrorResponse{Error: message})
}
