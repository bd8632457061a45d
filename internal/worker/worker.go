// Package worker implements the Worker (G): a long-running loop that leases
// one job at a time from the Job Repository, drives it through download,
// transcription, and terminal persistence, and periodically sweeps stale
// leases before leasing again.
package worker

import (
	"context"
	"time"

	"github.com/recipeai/transcribe-worker/internal/domain/repository"
	"github.com/recipeai/transcribe-worker/internal/domain/service"
	"github.com/recipeai/transcribe-worker/internal/infrastructure/objectstore"
	"github.com/recipeai/transcribe-worker/internal/infrastructure/transcription"
)

// Config is the subset of worker tuning the loop needs, independent of how
// it was loaded.
type Config struct {
	WorkerID                     string
	PollInterval                 time.Duration
	MaxPollInterval              time.Duration
	MaxJobsPerRun                int
	ShutdownOnEmpty              bool
	EmptyShutdownMinutes         int
	LockTTLMinutes               int
	StaleCheckMinutes            int
	TempDir                      string
	Language                     string
	DownloadTimeout              time.Duration
	HeartbeatInterval            time.Duration
	ProgressWriteInterval        time.Duration
	DailyLimitMinutes            int
}

// Worker drives the lease -> process -> reconcile cycle for one process.
type Worker struct {
	cfg    Config
	jobs   repository.JobRepository
	quota  repository.QuotaRepository
	store  objectstore.ObjectStore
	engine transcription.Engine
	logger service.Logger

	jobsProcessed  int
	lastJobTime    time.Time
	lastStaleCheck time.Time
}

func New(cfg Config, jobs repository.JobRepository, quota repository.QuotaRepository, store objectstore.ObjectStore, engine transcription.Engine, logger service.Logger) *Worker {
	return &Worker{cfg: cfg, jobs: jobs, quota: quota, store: store, engine: engine, logger: logger}
}

// Run executes the main loop until ctx is cancelled. Cancellation is
// observed only between iterations: a job already leased always runs to
// completion, matching the no-early-relinquish shutdown contract.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("starting transcription worker", "worker_id", w.cfg.WorkerID, "poll_interval", w.cfg.PollInterval)

	emptyPolls := 0
	pollInterval := w.cfg.PollInterval

	for {
		if ctx.Err() != nil {
			break
		}

		w.maybeReleaseStaleLocks(ctx)

		job, err := w.jobs.LeaseNext(ctx, w.cfg.WorkerID, time.Now().UTC())
		if err != nil {
			w.logger.Error("lease_next failed", "error", err)
			if !w.sleep(ctx, pollInterval) {
				break
			}
			continue
		}

		if job != nil {
			emptyPolls = 0
			pollInterval = w.cfg.PollInterval
			w.lastJobTime = time.Now().UTC()

			w.processJob(context.WithoutCancel(ctx), job)

			if w.reachedMaxJobs() {
				break
			}
		} else {
			emptyPolls++
			pollInterval = nextPollInterval(pollInterval, w.cfg.MaxPollInterval)

			if w.shouldShutdownOnEmptyQueue() {
				break
			}

			w.logger.Debug("no jobs available", "poll_interval", pollInterval, "empty_polls", emptyPolls)
		}

		if !w.sleep(ctx, pollInterval) {
			break
		}
	}

	w.logger.Info("worker shutdown complete", "jobs_processed", w.jobsProcessed)
	return nil
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// nextPollInterval is the multiplicative poll back-off: 1.5x up to a cap.
func nextPollInterval(current, max time.Duration) time.Duration {
	next := time.Duration(float64(current) * 1.5)
	if next > max {
		return max
	}
	return next
}

func (w *Worker) reachedMaxJobs() bool {
	if w.cfg.MaxJobsPerRun <= 0 {
		return false
	}
	if w.jobsProcessed >= w.cfg.MaxJobsPerRun {
		w.logger.Info("reached max jobs per run, shutting down", "max_jobs_per_run", w.cfg.MaxJobsPerRun)
		return true
	}
	return false
}

func (w *Worker) shouldShutdownOnEmptyQueue() bool {
	if !w.cfg.ShutdownOnEmpty || w.lastJobTime.IsZero() {
		return false
	}
	idle := time.Since(w.lastJobTime)
	threshold := time.Duration(w.cfg.EmptyShutdownMinutes) * time.Minute
	if idle > threshold {
		w.logger.Info("queue empty past shutdown horizon, shutting down", "idle_minutes", int(idle.Minutes()))
		return true
	}
	return false
}

func (w *Worker) maybeReleaseStaleLocks(ctx context.Context) {
	now := time.Now().UTC()

	if w.lastStaleCheck.IsZero() {
		w.lastStaleCheck = now
		return
	}

	interval := time.Duration(w.cfg.StaleCheckMinutes) * time.Minute
	if now.Sub(w.lastStaleCheck) < interval {
		return
	}
	w.lastStaleCheck = now

	ttl := time.Duration(w.cfg.LockTTLMinutes) * time.Minute
	released, err := w.jobs.ReleaseStaleLocks(ctx, ttl)
	if err != nil {
		w.logger.Error("release_stale_locks failed", "error", err)
		return
	}
	if released > 0 {
		w.logger.Info("released stale locks", "count", released)
	}
}
