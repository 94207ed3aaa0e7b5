package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"PhantomQuery/internal/backend"
	"PhantomQuery/internal/cache"
	"PhantomQuery/internal/config"
	"PhantomQuery/internal/server"
	"PhantomQuery/internal/store"
	"PhantomQuery/internal/telemetry"
)

const (
	serviceName = "phantomquery-server"
	version     = "1.0.0"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	config.LoadEnv()
	cfg, err := config.DefaultServer()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	flag.StringVar(&cfg.Addr, "addr", cfg.Addr, "Listen address")
	flag.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite database path")
	flag.StringVar(&cfg.Backend, "backend", cfg.Backend, "LLM backend ("+strings.Join(config.Backends, "|")+")")
	flag.StringVar(&cfg.OllamaModel, "ollama-model", cfg.OllamaModel, "Ollama model (format: model:version)")
	flag.StringVar(&cfg.OllamaURL, "ollama-url", cfg.OllamaURL, "Ollama base URL")
	flag.StringVar(&cfg.SystemPrompt, "system-prompt", cfg.SystemPrompt, "System prompt sent before every conversation")
	flag.StringVar(&cfg.RedisURL, "redis-url", cfg.RedisURL, "Redis URL for the response cache (in-memory when empty)")
	flag.DurationVar(&cfg.CacheTTL, "cache-ttl", cfg.CacheTTL, "Response cache TTL (0 disables caching)")
	flag.StringVar(&cfg.TranscriberCmd, "transcriber-cmd", cfg.TranscriberCmd, "Command whose output lines are broadcast as transcriptions")
	flag.StringVar(&cfg.LogDir, "log-dir", cfg.LogDir, "Directory for log, trace and metric files")
	flag.BoolVar(&cfg.Debug, "debug", cfg.Debug, "Enable debug logging")
	flag.Parse()

	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, logFile, err := telemetry.InitLogger(telemetry.LogOptions{
		Dir:     cfg.LogDir,
		File:    serviceName + ".log",
		Debug:   cfg.Debug,
		Console: os.Stderr,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logFile.Close()

	ctx := context.Background()
	tracer, meter, shutdownTelemetry, err := telemetry.InitTelemetry(ctx, serviceName, version, cfg.LogDir)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer shutdownTelemetry()

	db, err := store.Open(cfg.DBPath, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	completer, err := backend.New(cfg, backend.Instruments{Tracer: tracer, Meter: meter, Logger: logger})
	if err != nil {
		return fmt.Errorf("failed to create backend: %w", err)
	}
	if ollama, ok := completer.(*backend.Ollama); ok {
		logOllamaModels(ctx, ollama, logger)
	}

	responses, closeCache, err := openCache(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeCache()

	svc, err := server.NewService(db, completer, responses, cfg.SystemPrompt, logger)
	if err != nil {
		return err
	}
	hub, err := server.NewHub(logger)
	if err != nil {
		return err
	}
	srv, err := server.New(server.Options{
		Store:       db,
		Service:     svc,
		Hub:         hub,
		Logger:      logger,
		ServiceName: serviceName,
	})
	if err != nil {
		return err
	}

	if cfg.TranscriberCmd != "" {
		transcriber, err := server.StartTranscriber(cfg.TranscriberCmd, srv.Transcribe, logger)
		if err != nil {
			return err
		}
		defer transcriber.Close()
	}

	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server starting", "addr", cfg.Addr, "backend", completer.Name())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return fmt.Errorf("http server error: %w", err)
	}

	logger.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if err := srv.Close(); err != nil {
		logger.Error("socket shutdown error", "error", err)
	}
	logger.Info("shutdown complete")
	return nil
}

// openCache picks Redis when configured and the in-process cache otherwise.
// A zero TTL turns caching off.
func openCache(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) (cache.Cache, func(), error) {
	if cfg.CacheTTL == 0 {
		logger.Info("response cache disabled")
		return nil, func() {}, nil
	}
	if cfg.RedisURL == "" {
		logger.Info("using in-memory response cache", "ttl", cfg.CacheTTL)
		return cache.NewMemory(cfg.CacheTTL), func() {}, nil
	}

	r, err := cache.NewRedis(ctx, cfg.RedisURL, cfg.CacheTTL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	logger.Info("redis connected", "ttl", cfg.CacheTTL)
	return r, func() {
		if err := r.Close(); err != nil {
			logger.Error("failed to close redis", "error", err)
		}
	}, nil
}

func logOllamaModels(ctx context.Context, o *backend.Ollama, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	models, err := o.ListModels(ctx)
	if err != nil {
		logger.Warn("could not list ollama models", "error", err)
		return
	}
	names := make([]string, len(models))
	for i, m := range models {
		names[i] = m.Name
	}
	logger.Info("ollama models available", "models", names)
}
