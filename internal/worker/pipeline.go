package worker

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/recipeai/transcribe-worker/internal/domain/apperrors"
	"github.com/recipeai/transcribe-worker/internal/domain/entity"
	"github.com/recipeai/transcribe-worker/internal/domain/repository"
	"github.com/recipeai/transcribe-worker/internal/domain/valueobject"
	"github.com/recipeai/transcribe-worker/internal/infrastructure/transcription"
)

const defaultEstimatedMinutes = 5
const bytesPerMB = 1024 * 1024

// processJob runs one lease through the fixed pipeline: validate, download,
// estimate, transcribe, finalize, mark_done, reconcile. Every exit path
// cleans up the temp file. Errors before mark_done go through failJob and
// the failure table; a mark_done error is only logged.
func (w *Worker) processJob(ctx context.Context, job *entity.Job) {
	w.logger.Info("processing job", "job_id", job.ID, "user_id", job.UserID, "attempt", job.AttemptCount, "max_attempts", job.MaxAttempts)

	var tempFilePath string
	defer func() {
		if tempFilePath != "" {
			if err := os.Remove(tempFilePath); err != nil && !os.IsNotExist(err) {
				w.logger.Warn("failed to clean up temp file", "path", tempFilePath, "error", err)
			}
		}
	}()

	estimatedMinutes := defaultEstimatedMinutes
	if job.EstimatedDurationSec > 0 {
		estimatedMinutes = estimateMinutesFromSeconds(job.EstimatedDurationSec)
	}

	if err := w.validateObjectKey(job); err != nil {
		w.failJob(ctx, job.ID, err)
		return
	}

	tempFilePath = w.tempFilePath(job)
	if err := w.store.Download(ctx, job.ObjectKey, tempFilePath, w.cfg.DownloadTimeout); err != nil {
		w.failJob(ctx, job.ID, err)
		return
	}

	if job.EstimatedDurationSec == 0 {
		estimatedMinutes = w.estimateMinutesFromMetadata(ctx, job.ObjectKey)
	}

	if err := w.jobs.UpdateProgress(ctx, job.ID, repository.ProgressUpdate{Stage: stagePtr(valueobject.JobStageTranscribing)}); err != nil {
		w.logger.Warn("failed to update stage to transcribing", "job_id", job.ID, "error", err)
	}

	result, err := w.transcribe(ctx, job, tempFilePath)
	if err != nil {
		w.failJob(ctx, job.ID, err)
		return
	}

	if err := w.jobs.UpdateProgress(ctx, job.ID, repository.ProgressUpdate{Stage: stagePtr(valueobject.JobStageFinalizing)}); err != nil {
		w.logger.Warn("failed to update stage to finalizing", "job_id", job.ID, "error", err)
	}

	ok, err := w.jobs.MarkDone(ctx, job.ID, repository.JobResult{
		TranscriptText: result.Text,
		Segments:       result.Segments,
		Language:       result.Language,
		DurationSec:    result.DurationSec,
		ModelVersion:   result.ModelVersion,
	})
	if err != nil {
		w.logger.Error("mark_done failed", "job_id", job.ID, "error", err)
		return
	}
	if !ok {
		w.logger.Warn("mark_done had no effect, job may have been reclaimed", "job_id", job.ID)
	}

	w.jobsProcessed++
	w.logger.Info("job completed", "job_id", job.ID, "duration_sec", result.DurationSec, "segments", len(result.Segments))

	actualMinutes := estimateMinutesFromSeconds(result.DurationSec)
	if err := w.quota.Reconcile(ctx, job.UserID, estimatedMinutes, actualMinutes); err != nil {
		w.logger.Warn("quota reconcile failed", "job_id", job.ID, "user_id", job.UserID, "error", err)
	}
}

// failJob classifies err and applies the matching mark_failed call. A
// KindStoreUnavailable error from a downstream collaborator is logged and
// left for the next lease attempt rather than burning a retry.
func (w *Worker) failJob(ctx context.Context, jobID uuid.UUID, err error) {
	if appErr, ok := apperrors.As(err); ok && appErr.Kind == apperrors.KindStoreUnavailable {
		w.logger.Error("store unavailable while processing job", "job_id", jobID, "error", err)
		return
	}

	permanent := apperrors.Classify(err)
	if permanent {
		w.logger.Error("job permanently failed", "job_id", jobID, "error", err)
	} else {
		w.logger.Warn("job failed, will retry", "job_id", jobID, "error", err)
	}

	if markErr := w.jobs.MarkFailed(ctx, jobID, err.Error(), permanent); markErr != nil {
		w.logger.Error("mark_failed failed", "job_id", jobID, "error", markErr)
	}
}

func stagePtr(s valueobject.JobStage) *string {
	str := s.String()
	return &str
}

func (w *Worker) tempFilePath(job *entity.Job) string {
	ext := filepath.Ext(job.ObjectKey)
	if ext == "" {
		ext = ".mp3"
	}
	return filepath.Join(w.cfg.TempDir, job.ID.String()+ext)
}

// validateObjectKey enforces the non-empty, no-dot-prefix, no-traversal,
// per-user-prefix rules; any violation is permanent with no retry.
func (w *Worker) validateObjectKey(job *entity.Job) error {
	key := job.ObjectKey
	if strings.TrimSpace(key) == "" {
		return apperrors.InvalidObjectKey(key, "object key cannot be empty")
	}

	base := filepath.Base(key)
	if base == "" || base == "." || base == string(filepath.Separator) {
		return apperrors.InvalidObjectKey(key, "object key has no valid filename")
	}
	if strings.HasPrefix(base, ".") {
		return apperrors.InvalidObjectKey(key, "object key cannot start with dot")
	}
	if strings.Contains(key, "..") {
		return apperrors.InvalidObjectKey(key, "object key cannot contain path traversal")
	}

	expectedPrefix := fmt.Sprintf("users/%s/", job.UserID)
	if !strings.HasPrefix(key, expectedPrefix) {
		return apperrors.InvalidObjectKey(key, "object key must begin with the owning user's prefix")
	}

	return nil
}

func (w *Worker) estimateMinutesFromMetadata(ctx context.Context, objectKey string) int {
	meta, err := w.store.Head(ctx, objectKey)
	if err != nil {
		return defaultEstimatedMinutes
	}
	if meta.ContentLength <= 0 {
		return defaultEstimatedMinutes
	}
	minutes := int(meta.ContentLength / bytesPerMB)
	if minutes < 1 {
		minutes = 1
	}
	return minutes
}

func estimateMinutesFromSeconds(sec int) int {
	if sec <= 0 {
		return 1
	}
	return int(math.Max(1, math.Ceil(float64(sec)/60)))
}

// transcribe runs the Engine with a rate-limited progress callback and an
// independent heartbeat timer that writes only last_heartbeat_at, so stale-
// lock recovery never reclaims a healthy long-running job.
func (w *Worker) transcribe(ctx context.Context, job *entity.Job, mediaPath string) (transcription.Result, error) {
	stopHeartbeat := w.startHeartbeat(ctx, job.ID)
	defer stopHeartbeat()

	limiter := rate.NewLimiter(rate.Every(w.cfg.ProgressWriteInterval), 1)
	var mu sync.Mutex

	onProgress := func(processedSec, totalSec float64) {
		if !limiter.Allow() {
			return
		}

		progress := 99.0
		if totalSec > 0 {
			progress = math.Min(99, processedSec/totalSec*100)
		}

		mu.Lock()
		defer mu.Unlock()
		if err := w.jobs.UpdateProgress(ctx, job.ID, repository.ProgressUpdate{Progress: &progress}); err != nil {
			w.logger.Warn("progress update failed", "job_id", job.ID, "error", err)
		}
	}

	return w.engine.Transcribe(ctx, mediaPath, onProgress)
}

// startHeartbeat launches the one permitted concurrent actor: a timer that
// touches only last_heartbeat_at at a fixed cadence, and stops
// deterministically once the returned function is called and has joined.
func (w *Worker) startHeartbeat(ctx context.Context, jobID uuid.UUID) func() {
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)

	go func() {
		defer wg.Done()
		ticker := time.NewTicker(w.cfg.HeartbeatInterval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				now := time.Now().UTC()
				if err := w.jobs.UpdateProgress(ctx, jobID, repository.ProgressUpdate{Heartbeat: &now}); err != nil {
					w.logger.Warn("heartbeat write failed", "job_id", jobID, "error", err)
				}
			}
		}
	}()

	return func() {
		close(stop)
		wg.Wait()
	}
}
