// Command worker runs a single transcription worker process: it leases jobs
// from the Store, downloads media from the object store, transcribes it,
// and persists terminal results, until told to shut down.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/recipeai/transcribe-worker/internal/config"
	"github.com/recipeai/transcribe-worker/internal/infrastructure/objectstore"
	"github.com/recipeai/transcribe-worker/internal/infrastructure/persistence/postgres"
	"github.com/recipeai/transcribe-worker/internal/infrastructure/transcription"
	"github.com/recipeai/transcribe-worker/internal/platform/logging"
	"github.com/recipeai/transcribe-worker/internal/worker"
)

func main() {
	logger := logging.New(os.Getenv("LOG_LEVEL"))
	logger.Info("starting transcription worker process")

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := postgres.NewDB(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	jobRepo := postgres.NewJobRepository(db.DB)
	quotaRepo := postgres.NewQuotaRepository(db.DB, logger)

	store, err := objectstore.NewS3Store(ctx, objectstore.Config{
		Endpoint:        cfg.S3Endpoint,
		Region:          cfg.S3Region,
		Bucket:          cfg.S3Bucket,
		AccessKeyID:     cfg.S3AccessKeyID,
		SecretAccessKey: cfg.S3SecretAccessKey,
	})
	if err != nil {
		logger.Error("failed to initialize object store", "error", err)
		os.Exit(1)
	}

	engine, err := transcription.NewGeminiEngine(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
	if err != nil {
		logger.Error("failed to initialize transcription engine", "error", err)
		os.Exit(1)
	}

	w := worker.New(worker.Config{
		WorkerID:              cfg.WorkerID,
		PollInterval:          cfg.PollInterval,
		MaxPollInterval:       cfg.MaxPollInterval,
		MaxJobsPerRun:         cfg.MaxJobsPerRun,
		ShutdownOnEmpty:       cfg.ShutdownOnEmpty,
		EmptyShutdownMinutes:  cfg.EmptyShutdownMinutes,
		LockTTLMinutes:        cfg.LockTTLMinutes,
		StaleCheckMinutes:     cfg.StaleCheckMinutes,
		TempDir:               cfg.TempDir,
		Language:              cfg.Language,
		DownloadTimeout:       time.Duration(cfg.DownloadTimeoutSeconds) * time.Second,
		HeartbeatInterval:     time.Duration(cfg.HeartbeatIntervalSeconds) * time.Second,
		ProgressWriteInterval: time.Duration(cfg.ProgressWriteIntervalSeconds) * time.Second,
		DailyLimitMinutes:     cfg.DailyLimitMinutes,
	}, jobRepo, quotaRepo, store, engine, logger)

	if err := w.Run(ctx); err != nil {
		logger.Error("worker exited with error", "error", err)
		os.Exit(1)
	}

	logger.Info("worker stopped")
}
