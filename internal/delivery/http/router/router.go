package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/user/rag-service/internal/delivery/http/handler"
	"github.com/user/rag-service/internal/delivery/http/middleware"
)

func New(h *handler.Handler, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(middleware.Logging(logger))
	r.Use(middleware.Metrics)
	r.Use(chimw.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.HandleHealthCheck)

		r.Route("/tenants/{tenantID}", func(r chi.Router) {
			r.Post("/crawl", h.HandleSubmitCrawl)
			r.Post("/search", h.HandleSearch)
			r.Post("/ask", h.HandleAsk)
			r.Post("/ask/stream", h.HandleAskStream)
		})

		r.Route("/jobs/{jobID}", func(r chi.Router) {
			r.Get("/", h.HandleGetJob)
			r.Get("/logs", h.HandleGetJobLogs)
			r.Get("/logs/stream", h.HandleStreamJobLogs)
		})

		r.Post("/sessions", h.HandleCreateSession)
		r.Get("/sessions/{sessionID}", h.HandleGetSession)
		r.Delete("/sessions/{sessionID}", h.HandleDeleteSession)
	})

	// Prometheus metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	return r
}
