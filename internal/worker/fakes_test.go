package worker

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/recipeai/transcribe-worker/internal/domain/apperrors"
	"github.com/recipeai/transcribe-worker/internal/domain/entity"
	"github.com/recipeai/transcribe-worker/internal/domain/repository"
	"github.com/recipeai/transcribe-worker/internal/domain/service"
	"github.com/recipeai/transcribe-worker/internal/domain/valueobject"
	"github.com/recipeai/transcribe-worker/internal/infrastructure/objectstore"
)

// noopLogger discards everything; tests assert on fake collaborator state,
// not log lines.
type noopLogger struct{}

var _ service.Logger = noopLogger{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
func (l noopLogger) With(...any) service.Logger {
	return l
}
func (l noopLogger) WithContext(context.Context) service.Logger {
	return l
}

// fakeJobRepository reproduces just enough of the Postgres state machine
// (mark_failed's backoff-vs-exhaust branch) to let worker-level tests assert
// real transitions without a database.
type fakeJobRepository struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*entity.Job

	progressUpdates []repository.ProgressUpdate
	markDoneCalls   int
	markFailedCalls int
}

func newFakeJobRepository(job *entity.Job) *fakeJobRepository {
	return &fakeJobRepository{jobs: map[uuid.UUID]*entity.Job{job.ID: job}}
}

func (f *fakeJobRepository) Enqueue(context.Context, uuid.UUID, string, *uuid.UUID, int, int) (*entity.Job, error) {
	return nil, nil
}

func (f *fakeJobRepository) LeaseNext(context.Context, string, time.Time) (*entity.Job, error) {
	return nil, nil
}

func (f *fakeJobRepository) MarkDone(_ context.Context, jobID uuid.UUID, result repository.JobResult) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markDoneCalls++

	job, ok := f.jobs[jobID]
	if !ok {
		return false, nil
	}
	job.Status = valueobject.JobStatusDone
	job.Stage = valueobject.JobStageDone
	job.Progress = 100
	text := result.TranscriptText
	job.TranscriptText = &text
	job.SegmentsJSON = result.Segments
	lang := result.Language
	job.Language = &lang
	job.DurationSec = &result.DurationSec
	job.ErrorMessage = nil
	return true, nil
}

func (f *fakeJobRepository) MarkFailed(_ context.Context, jobID uuid.UUID, message string, permanent bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markFailedCalls++

	job, ok := f.jobs[jobID]
	if !ok {
		return apperrors.NotFound("job not found")
	}
	job.ErrorMessage = &message

	if permanent || job.AttemptCount >= job.MaxAttempts {
		job.Status = valueobject.JobStatusFailed
		job.Stage = valueobject.JobStageFailed
		job.LockedAt = nil
		job.LockedBy = nil
		return nil
	}

	job.Status = valueobject.JobStatusQueued
	job.Stage = valueobject.JobStageQueued
	job.Progress = 0
	job.LockedAt = nil
	job.LockedBy = nil
	next := time.Now().UTC().Add(time.Duration(1<<uint(job.AttemptCount)) * time.Minute)
	job.NextAttemptAt = &next
	return nil
}

func (f *fakeJobRepository) UpdateProgress(_ context.Context, jobID uuid.UUID, update repository.ProgressUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.progressUpdates = append(f.progressUpdates, update)

	job, ok := f.jobs[jobID]
	if !ok {
		return apperrors.NotFound("job not found")
	}
	if update.Stage != nil {
		stage, err := valueobject.ParseJobStage(*update.Stage)
		if err != nil {
			return err
		}
		job.Stage = stage
	}
	if update.Progress != nil {
		job.Progress = *update.Progress
	}
	if update.Heartbeat != nil {
		job.LastHeartbeatAt = update.Heartbeat
	}
	return nil
}

func (f *fakeJobRepository) Cancel(context.Context, uuid.UUID, uuid.UUID) (bool, error) {
	return false, nil
}

func (f *fakeJobRepository) ReleaseStaleLocks(context.Context, time.Duration) (int, error) {
	return 0, nil
}

func (f *fakeJobRepository) GetByID(_ context.Context, jobID, _ uuid.UUID) (*entity.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[jobID]
	if !ok {
		return nil, apperrors.NotFound("job not found")
	}
	return job, nil
}

func (f *fakeJobRepository) ListByUser(context.Context, uuid.UUID, entity.JobListOptions) ([]*entity.Job, error) {
	return nil, nil
}

func (f *fakeJobRepository) FetchSystemLists(context.Context) (*entity.SystemLists, error) {
	return &entity.SystemLists{}, nil
}

// fakeQuotaRepository records Reconcile calls; Reserve is unused by the
// pipeline directly (the Submitter calls it, not the worker).
type fakeQuotaRepository struct {
	mu             sync.Mutex
	reconcileCalls []int
}

func (f *fakeQuotaRepository) Reserve(context.Context, uuid.UUID, int, int) (repository.QuotaCheck, error) {
	return repository.QuotaCheck{Allowed: true}, nil
}

func (f *fakeQuotaRepository) Reconcile(_ context.Context, _ uuid.UUID, estimatedMinutes, actualMinutes int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reconcileCalls = append(f.reconcileCalls, actualMinutes-estimatedMinutes)
	return nil
}

func (f *fakeQuotaRepository) GetUsage(context.Context, uuid.UUID) (*entity.DailyUsage, error) {
	return &entity.DailyUsage{}, nil
}

func (f *fakeQuotaRepository) RemainingMinutes(context.Context, uuid.UUID, int) (int, error) {
	return 0, nil
}

// fakeObjectStore simulates a download that always "succeeds" by touching a
// local file, or fails with a configured error.
type fakeObjectStore struct {
	downloadErr   error
	contentLength int64
}

var _ objectstore.ObjectStore = (*fakeObjectStore)(nil)

func (f *fakeObjectStore) Download(_ context.Context, _, localPath string, _ time.Duration) error {
	if f.downloadErr != nil {
		return f.downloadErr
	}
	return writeEmptyFile(localPath)
}

func (f *fakeObjectStore) Head(context.Context, string) (objectstore.Metadata, error) {
	return objectstore.Metadata{ContentLength: f.contentLength}, nil
}

func (f *fakeObjectStore) GenerateUploadURL(context.Context, string, time.Duration) (string, error) {
	return "", nil
}

func writeEmptyFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte{}, 0o644)
}
