package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wgomg/pulsegen/internal/api"
	"github.com/wgomg/pulsegen/internal/config"
	"github.com/wgomg/pulsegen/internal/feedback"
	"github.com/wgomg/pulsegen/internal/llm"
	"github.com/wgomg/pulsegen/internal/metrics"
	"github.com/wgomg/pulsegen/internal/pipeline"
	"github.com/wgomg/pulsegen/internal/semantic"
	"github.com/wgomg/pulsegen/internal/taxonomy"
	"github.com/wgomg/pulsegen/internal/utils"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log := utils.NewLogger("error", false)
		log.Fatal("Failed to load configuration: ", err)
	}
	if err := cfg.Validate(); err != nil {
		log := utils.NewLogger("error", false)
		log.Fatal("Invalid configuration: ", err)
	}

	logger := utils.NewLoggerWithFormat(cfg.App.LogLevel, cfg.App.LogFormat, cfg.App.RawBodyLog)
	logger.Info(nil, "Starting PulseGen")
	logger.Info(nil, "Environment: %s", cfg.App.Env)
	logger.Info(nil, "Log level: %s", cfg.App.LogLevel)
	logger.Info(nil, "Embedding backend: %s (cache: %s)", cfg.Semantic.Backend, cfg.Semantic.Cache)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	collector := metrics.New()

	embedder, err := semantic.NewEmbedder(ctx, logger, &cfg.Semantic, collector)
	if err != nil {
		logger.Error(nil, "Failed to create embedder: %v", err)
		logger.Fatal("Failed to initialize embedding backend")
	}
	defer embedder.Close()

	store, err := taxonomy.Open(cfg.Taxonomy.File, embedder, logger)
	if err != nil {
		embedder.Close()
		logger.Fatal("Failed to load taxonomy: ", err)
	}
	logger.Info(nil, "Loaded %d topics from %s", store.Len(), store.Path())
	logger.Debug(nil, "Topics: %v", store.Names())
	if d, ok := embedder.(semantic.Dimensioned); ok {
		if want, got := store.Dimension(), d.Dimension(); want != 0 && got != 0 && want != got {
			embedder.Close()
			logger.Fatal("Taxonomy embeddings have ", want, " dimensions but the embedding model produces ", got)
		}
	}
	collector.WatchTaxonomy(store.Len)

	matcher := taxonomy.NewMatcher(store, embedder, cfg.Taxonomy.SimilarityThreshold)

	httpTimeout := time.Duration(cfg.App.HttpTimeoutSeconds) * time.Second
	backends := make([]llm.Backend, 0, len(cfg.Llm.Backends))
	for _, b := range cfg.Llm.Backends {
		client, err := llm.NewClient(b, &cfg.Llm, httpTimeout, logger)
		if err != nil {
			embedder.Close()
			logger.Fatal("Failed to create LLM client: ", err)
		}
		backends = append(backends, client)
	}
	callTimeout := time.Duration(cfg.Llm.CallTimeoutSeconds) * time.Second
	orchestrator := llm.NewOrchestrator(backends, callTimeout, logger, collector)
	logger.Info(nil, "LLM backends in order: %v", orchestrator.Backends())

	source, err := newFeedbackSource(cfg, logger)
	if err != nil {
		embedder.Close()
		logger.Fatal("Failed to create feedback source: ", err)
	}

	p := pipeline.New(store, matcher, orchestrator, source, cfg.Pipeline, logger, collector)

	var checker api.HealthChecker
	if hc, ok := embedder.(semantic.HealthChecker); ok {
		checker = hc
	}
	handler := api.NewHandler(logger, p, checker)
	srv := &http.Server{
		Addr:              "0.0.0.0:" + cfg.App.ServerPort,
		Handler:           api.NewRouter(handler, logger, cfg.App.CORSOrigins, collector.Handler()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info(nil, "Starting server on port %s", cfg.App.ServerPort)
		logger.Info(nil, "Endpoints:")
		logger.Info(nil, "  GET  /health")
		logger.Info(nil, "  POST /analyze")
		logger.Info(nil, "  POST /analyze/csv")
		logger.Info(nil, "  GET  /metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(nil, "Server error: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info(nil, "Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error(nil, "Graceful shutdown failed: %v", err)
	}
}

// newFeedbackSource prefers the review service API and falls back to a local
// directory of exported reviews.
func newFeedbackSource(cfg *config.Config, logger *utils.Logger) (feedback.Source, error) {
	if cfg.Feedback.URL != "" {
		client, err := feedback.NewClient(cfg, logger)
		if err != nil {
			return nil, err
		}
		return client, nil
	}
	return feedback.NewDirSource(cfg.Feedback.Dir, logger), nil
}
