package worker

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recipeai/transcribe-worker/internal/domain/apperrors"
	"github.com/recipeai/transcribe-worker/internal/domain/entity"
	"github.com/recipeai/transcribe-worker/internal/domain/valueobject"
	"github.com/recipeai/transcribe-worker/internal/infrastructure/transcription"
)

func newTestJob(t *testing.T) *entity.Job {
	t.Helper()
	userID := uuid.New()
	return &entity.Job{
		ID:           uuid.New(),
		UserID:       userID,
		ObjectKey:    "users/" + userID.String() + "/clip.mp3",
		Status:       valueobject.JobStatusRunning,
		Stage:        valueobject.JobStageDownloading,
		AttemptCount: 1,
		MaxAttempts:  entity.DefaultMaxAttempts,
	}
}

func newTestWorker(job *entity.Job, engine transcription.Engine, store *fakeObjectStore) (*Worker, *fakeJobRepository, *fakeQuotaRepository) {
	jobs := newFakeJobRepository(job)
	quota := &fakeQuotaRepository{}

	w := &Worker{
		cfg: Config{
			TempDir:               "/tmp",
			DownloadTimeout:       time.Second,
			HeartbeatInterval:     time.Hour,
			ProgressWriteInterval: time.Millisecond,
		},
		jobs:   jobs,
		quota:  quota,
		store:  store,
		engine: engine,
		logger: noopLogger{},
	}
	return w, jobs, quota
}

func TestProcessJob_HappyPath(t *testing.T) {
	job := newTestJob(t)
	engine := &transcription.FakeEngine{
		Result: transcription.Result{
			Text:         "hello world",
			Segments:     []entity.Segment{{Start: 0, End: 2, Text: "hello world"}},
			Language:     "en",
			DurationSec:  120,
			ModelVersion: "gemini-test",
		},
	}
	w, jobs, quota := newTestWorker(job, engine, &fakeObjectStore{})

	w.processJob(context.Background(), job)

	assert.Equal(t, 1, jobs.markDoneCalls)
	assert.Equal(t, 0, jobs.markFailedCalls)
	assert.Equal(t, valueobject.JobStatusDone, job.Status)
	assert.Equal(t, valueobject.JobStageDone, job.Stage)
	assert.Equal(t, float64(100), job.Progress)
	assert.NotNil(t, job.TranscriptText)
	assert.Equal(t, "hello world", *job.TranscriptText)
	require.Len(t, quota.reconcileCalls, 1)
}

// TestProcessJob_RetryableThenSuccess exercises S2: a transient download
// failure on the first lease, then a clean run on a later lease of the same
// job, mirroring what two separate LeaseNext calls would drive in practice.
func TestProcessJob_RetryableThenSuccess(t *testing.T) {
	job := newTestJob(t)
	store := &fakeObjectStore{downloadErr: apperrors.Download(false, job.ObjectKey, "timeout")}
	w, jobs, _ := newTestWorker(job, &transcription.FakeEngine{}, store)

	w.processJob(context.Background(), job)

	require.Equal(t, 1, jobs.markFailedCalls)
	assert.Equal(t, valueobject.JobStatusQueued, job.Status)
	assert.Equal(t, float64(0), job.Progress)
	assert.Equal(t, 1, job.AttemptCount)
	assert.NotNil(t, job.NextAttemptAt)

	store.downloadErr = nil
	w.engine = &transcription.FakeEngine{Result: transcription.Result{
		Text:        "retried ok",
		DurationSec: 60,
	}}

	w.processJob(context.Background(), job)

	assert.Equal(t, 1, jobs.markDoneCalls)
	assert.Equal(t, valueobject.JobStatusDone, job.Status)
}

// TestProcessJob_ExhaustedRetries drives the same transient failure across
// MaxAttempts leases and asserts attempt_count never exceeds max_attempts
// (Invariant 4) and the final transition is a permanent FAILED.
func TestProcessJob_ExhaustedRetries(t *testing.T) {
	job := newTestJob(t)
	job.AttemptCount = 0
	store := &fakeObjectStore{downloadErr: apperrors.Download(false, job.ObjectKey, "timeout")}
	w, jobs, _ := newTestWorker(job, &transcription.FakeEngine{}, store)

	for i := 0; i < job.MaxAttempts; i++ {
		job.AttemptCount++ // LeaseNext's unconditional attempt_count += 1
		w.processJob(context.Background(), job)
		assert.LessOrEqual(t, job.AttemptCount, job.MaxAttempts)
	}

	assert.Equal(t, job.MaxAttempts, jobs.markFailedCalls)
	assert.Equal(t, valueobject.JobStatusFailed, job.Status)
	assert.Equal(t, valueobject.JobStageFailed, job.Stage)
	assert.Equal(t, job.MaxAttempts, job.AttemptCount)
}

func TestProcessJob_InvalidObjectKeyIsPermanent(t *testing.T) {
	job := newTestJob(t)
	job.ObjectKey = "../etc/passwd"
	w, jobs, _ := newTestWorker(job, &transcription.FakeEngine{}, &fakeObjectStore{})

	w.processJob(context.Background(), job)

	assert.Equal(t, 1, jobs.markFailedCalls)
	assert.Equal(t, valueobject.JobStatusFailed, job.Status)
}

func TestProcessJob_StoreUnavailableLeavesJobForRetry(t *testing.T) {
	job := newTestJob(t)
	store := &fakeObjectStore{downloadErr: apperrors.StoreUnavailable("connection refused")}
	w, jobs, _ := newTestWorker(job, &transcription.FakeEngine{}, store)

	w.processJob(context.Background(), job)

	assert.Equal(t, 0, jobs.markFailedCalls)
	assert.Equal(t, 0, jobs.markDoneCalls)
	assert.Equal(t, valueobject.JobStatusRunning, job.Status)
}
