package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"comicforge/internal/adapter/repo"
	"comicforge/internal/cache"
	"comicforge/internal/infra"
	"comicforge/internal/pipeline"
	"comicforge/internal/providers/imagen"
	"comicforge/internal/providers/reasoning"
	"comicforge/internal/storage"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: db connection failed")
	}
	defer pool.Close()

	storagePath := cfg.StoragePath
	if !filepath.IsAbs(storagePath) {
		if abs, err := filepath.Abs(storagePath); err == nil {
			storagePath = abs
		}
	}
	fileStore, err := storage.NewFileStore(storagePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: storage setup failed")
	}

	// Each provider gets its own transport timeout matching its stage
	// window; a shared client would cap render calls below the configured
	// render timeout.
	reasoner, err := reasoning.NewClient(reasoning.Options{
		APIKey:     cfg.GeminiAPIKey,
		BaseURL:    cfg.GeminiBaseURL,
		Model:      cfg.GeminiModel,
		HTTPClient: &http.Client{Timeout: cfg.StageTimeout},
		Logger:     &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: reasoning client setup failed")
	}
	renderer, err := imagen.NewClient(imagen.Options{
		APIKey:     cfg.GeminiAPIKey,
		BaseURL:    cfg.ImagenBaseURL,
		Model:      cfg.ImagenModel,
		HTTPClient: &http.Client{Timeout: cfg.RenderTimeout},
		Logger:     &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: imagen client setup failed")
	}

	jobs := repo.NewJobRepository(pool)
	if err := jobs.EnsureSchema(ctx); err != nil {
		logger.Fatal().Err(err).Msg("worker: schema setup failed")
	}
	content := repo.NewContentRepository(pool, reasoner)
	if err := content.EnsureSchema(ctx); err != nil {
		logger.Fatal().Err(err).Msg("worker: content schema setup failed")
	}
	attempts := repo.NewStageLogRepository(pool)

	deps := &pipeline.Deps{
		Reasoner: reasoner,
		Renderer: renderer,
		Content:  content,
		Cache:    cache.New(cfg.CacheSize, cfg.CacheTTL),
		Pages:    fileStore,
		Logger:   logger,
	}

	stages := pipeline.DefaultStages(pipeline.StageConfig{
		StageTimeout:  cfg.StageTimeout,
		RenderTimeout: cfg.RenderTimeout,
		Retry: pipeline.RetryPolicy{
			MaxAttempts: cfg.RetryMaxAttempts,
			BaseDelay:   cfg.RetryBaseDelay,
		},
	})
	exec := pipeline.NewExecutor(deps, attempts, logger)
	orch := pipeline.NewOrchestrator(jobs, stages, exec, cfg.JobTimeout, logger)
	workers := pipeline.NewPool(jobs, orch, cfg.WorkerSlots, cfg.QueuePollInterval, logger)

	if err := workers.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("worker: stopped with error")
	}
	logger.Info().Msg("worker: stopped")
}
