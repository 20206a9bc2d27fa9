package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"sapling-graph/backend/internal/adapter"
	"sapling-graph/backend/internal/api"
	"sapling-graph/backend/internal/bootstrap"
	"sapling-graph/backend/internal/coursectx"
	"sapling-graph/backend/internal/engine"
	"sapling-graph/backend/pkg/config"
	"sapling-graph/backend/pkg/logger"
	"sapling-graph/backend/pkg/tracing"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load configuration: %v", err))
	}

	// Initialize logger
	if err := logger.Init(cfg.Env); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	log := logger.Get()
	log.Info("Starting HTTP API server...", zap.String("env", cfg.Env))

	ctx := context.Background()

	shutdownTracing, err := tracing.Init(ctx, log, tracingOptions(cfg))
	if err != nil {
		log.Fatal("Failed to initialize tracing", zap.Error(err))
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			log.Warn("Tracer shutdown failed", zap.Error(err))
		}
	}()

	// Record store
	s, closeStore, err := bootstrap.OpenStore(ctx, cfg, logger.Named("store"))
	if err != nil {
		log.Fatal("Failed to open record store", zap.Error(err))
	}
	defer func() {
		if err := closeStore(); err != nil {
			log.Warn("Failed to close record store", zap.Error(err))
		}
	}()

	cache, closeCache := bootstrap.OpenCache(ctx, cfg, logger.Named("cache"))
	defer closeCache()

	e := engine.New(s, engineOptions(cfg, cache)...)
	if !e.AIEnabled() {
		log.Warn("LLM_BASE_URL not set; tutor and review refresh are disabled")
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := api.NewRouter(e, api.Options{
		Logger:         logger.Named("http"),
		RequestTimeout: cfg.StoreTimeout(),
		Tracing:        cfg.OtelEnabled,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	log.Info("Server started",
		zap.String("port", cfg.Port),
		zap.String("store", cfg.StoreBackend),
	)

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server exited")
}

func tracingOptions(cfg *config.Config) tracing.Options {
	return tracing.Options{
		Enabled:     cfg.OtelEnabled,
		Endpoint:    cfg.OtelEndpoint,
		Environment: cfg.Env,
		SampleRatio: cfg.OtelSampleRatio,
	}
}

func engineOptions(cfg *config.Config, cache coursectx.Cache) []engine.Option {
	opts := []engine.Option{
		engine.WithLogger(logger.Named("engine")),
		engine.WithCache(cache),
	}
	if cfg.LLMEnabled() {
		opts = append(opts, engine.WithCompleter(adapter.NewLLMAdapter(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.ModelID)))
	}
	return opts
}
