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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"kno-canvas/internal/api"
	"kno-canvas/internal/canvas"
	"kno-canvas/internal/config"
	"kno-canvas/internal/db"
	"kno-canvas/internal/openai"
	"kno-canvas/internal/services"
	"kno-canvas/internal/services/live"
	"kno-canvas/internal/telemetry"
)

/*
LEARNING: GRACEFUL SHUTDOWN PATTERN WITH OBSERVABILITY

Startup order follows the dependencies: tracing, store, background workers,
engine, then the servers. Shutdown runs the other way round so nothing
writes into a component that is already gone:

  HTTP server → live hub → engine (waits for in-flight synthesis, then
  saves the open canvas) → library workers → persistence flush → database
*/

// generator is what the engine and the health check need from either
// synthesis backend.
type generator interface {
	canvas.Generator
	canvas.Critic
	api.BreakerState
}

func newGenerator(cfg *config.Config, logger *zap.Logger) generator {
	if cfg.Generator == "offline" {
		logger.Info("✓ Offline generator selected")
		return openai.Offline{}
	}
	client := openai.NewClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel, cfg.GenerationTimeout)
	settings := openai.BreakerSettings{
		MaxRequests:  uint32(cfg.BreakerMaxRequests),
		Interval:     cfg.BreakerInterval,
		Timeout:      cfg.BreakerTimeout,
		FailureRatio: cfg.BreakerFailureRatio,
		MinRequests:  openai.DefaultBreakerSettings().MinRequests,
	}
	logger.Info("✓ OpenAI generator initialized", zap.String("model", cfg.OpenAIModel))
	return openai.NewGenerator(client, settings, logger)
}

// detailLog records open-detail requests; live clients receive the same
// event through the hub.
type detailLog struct {
	logger *zap.Logger
}

func (d detailLog) OpenDetail(noteID string) {
	d.logger.Debug("open detail", zap.String("note_id", noteID))
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	zcfg := zap.NewDevelopmentConfig()
	if cfg.IsProduction() {
		zcfg = zap.NewProductionConfig()
	}
	if err := zcfg.Level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", cfg.LogLevel, err)
	}
	return zcfg.Build()
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	logger.Info("🚀 Starting Kno canvas host", zap.String("environment", cfg.Environment))

	// Learning: Do this FIRST so all operations are traced
	jaegerShutdown, err := telemetry.InitJaeger(cfg.ServiceName, cfg.JaegerEndpoint, logger)
	if err != nil {
		logger.Warn("⚠️  Failed to initialize Jaeger, continuing without tracing", zap.Error(err))
		jaegerShutdown = func(ctx context.Context) error { return nil }
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := jaegerShutdown(ctx); err != nil {
			logger.Warn("⚠️  Failed to shutdown Jaeger", zap.Error(err))
		}
	}()

	metrics := telemetry.NewMetrics(prometheus.DefaultRegisterer)

	ctx := context.Background()
	st, err := db.Open(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Warn("⚠️  Failed to close store", zap.Error(err))
		}
	}()

	persistence := canvas.NewPersistence(st.Blobs, logger.Named("persistence"))
	persistence.SetRecorder(metrics)
	persistence.Start()
	defer persistence.Close()

	// Learning: The library pool starts before the engine so the first
	// synthesis has somewhere to publish.
	library := services.NewLibraryService(st.Notes, st.Links, metrics, logger.Named("library"),
		cfg.LibraryWorkers, cfg.LibraryQueueSize)
	library.Start()
	defer library.Shutdown()

	gen := newGenerator(cfg, logger.Named("generator"))

	engine := canvas.New(
		canvas.WithPersistence(persistence),
		canvas.WithGenerator(gen),
		canvas.WithCritic(gen),
		canvas.WithLibrary(library),
		canvas.WithResolver(library),
		canvas.WithCandidates(library),
		canvas.WithRecorder(metrics),
		canvas.WithDetailOpener(detailLog{logger: logger.Named("detail")}),
		canvas.WithHistoryLimit(cfg.HistoryLimit),
		canvas.WithGenerationTimeout(cfg.GenerationTimeout),
		canvas.WithLogger(logger.Named("engine")),
	)
	defer engine.Close()

	registry := canvas.NewRegistry(persistence, logger.Named("registry"))
	workspace := canvas.NewWorkspace(registry, engine, persistence, logger.Named("workspace"))
	defer workspace.Close()
	if err := workspace.Open(ctx); err != nil {
		return fmt.Errorf("failed to open canvas: %w", err)
	}
	logger.Info("✓ Canvas opened", zap.String("document_id", engine.DocumentID()))

	hub := live.NewHub(engine, logger.Named("live"))
	hub.Start()
	defer hub.Shutdown()

	handler := api.NewHandler(workspace, library, gen, logger.Named("api"))
	router := api.SetupRoutes(handler, promhttp.Handler(), hub.ServeWS, logger)

	addr := fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort)
	server := &http.Server{
		Addr:        addr,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		// Synchronous commands never wait on generation, but PNG export of a
		// large board can take a moment.
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("🌐 Server listening", zap.String("addr", "http://"+addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	}

	logger.Info("🛑 Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("⚠️  Server forced to shutdown", zap.Error(err))
	}
	hub.Shutdown()
	engine.Close()
	// Deactivate saves the open canvas, including a viewport that changed
	// after the last commit.
	engine.Deactivate()
	library.Shutdown()
	if err := persistence.Flush(shutdownCtx); err != nil {
		logger.Warn("⚠️  Pending canvas writes were not flushed", zap.Error(err))
	}

	logger.Info("✓ Server shutdown complete")
	return nil
}
