package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/user/rag-service/internal/app"
	"github.com/user/rag-service/internal/delivery/http/handler"
	"github.com/user/rag-service/internal/delivery/http/router"
	"github.com/user/rag-service/pkg/config"
	"github.com/user/rag-service/pkg/logger"
	"github.com/user/rag-service/pkg/metrics"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	// --- Configuration ---
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// --- Logger ---
	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = log.Sync() }()
	zap.ReplaceGlobals(log)
	log.Info("Logger initialized", zap.String("level", cfg.LogLevel))

	// --- Metrics ---
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Services ---
	svc, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer svc.Close()

	go svc.Scheduler.Start(ctx)

	// --- HTTP Server ---
	apiHandler := handler.NewHandler(handler.Deps{
		Jobs:     svc.Ingest,
		Search:   svc.Retriever,
		Chat:     svc.Chat,
		Sessions: svc.Sessions,
		Logs:     svc.LogReader,
		Checks:   svc.Checks,
	}, log.Named("http"))

	server := &http.Server{
		Addr:        ":" + cfg.ServerPort,
		Handler:     router.New(apiHandler, log.Named("http")),
		ReadTimeout: 10 * time.Second,
		// Streamed answers and log tails stay open well beyond a normal request.
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("Starting server", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("could not listen on port %s: %w", cfg.ServerPort, err)
		}
	case <-ctx.Done():
	}

	log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("HTTP shutdown incomplete", zap.Error(err))
	}
	svc.Ingest.Wait()
	return nil
}
