package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/recipeai/transcribe-worker/internal/domain/entity"
)

// JobRepository is the Job Repository (E): CRUD plus the lock/lease protocol
// and the stale-lock sweep over the Store.
type JobRepository interface {
	// Enqueue creates a row in QUEUED with attempt_count = 0.
	Enqueue(ctx context.Context, userID uuid.UUID, objectKey string, recipeID *uuid.UUID, estimatedDurationSec, priority int) (*entity.Job, error)

	// LeaseNext atomically selects and claims the single highest-priority
	// eligible row using a skip-locking read, or returns (nil, nil) if none
	// is eligible. Never blocks.
	LeaseNext(ctx context.Context, workerID string, now time.Time) (*entity.Job, error)

	// MarkDone atomically writes the terminal success result. Succeeds
	// unconditionally on the job id (last-writer-wins), per §9's resolved
	// open question.
	MarkDone(ctx context.Context, jobID uuid.UUID, result JobResult) (bool, error)

	// MarkFailed reads the row's current attempt_count/max_attempts and
	// either requeues with backoff or sets FAILED, depending on permanent
	// and the retry budget.
	MarkFailed(ctx context.Context, jobID uuid.UUID, message string, permanent bool) error

	// UpdateProgress is a partial update for in-flight status; nil fields in
	// the update are not written.
	UpdateProgress(ctx context.Context, jobID uuid.UUID, update ProgressUpdate) error

	// Cancel transitions QUEUED -> CANCELLED only when owned by userID.
	// Returns whether the transition occurred.
	Cancel(ctx context.Context, jobID, userID uuid.UUID) (bool, error)

	// ReleaseStaleLocks finds every RUNNING row whose lease exceeds ttl and
	// applies mark_failed's policy to each. Returns the count released.
	ReleaseStaleLocks(ctx context.Context, ttl time.Duration) (int, error)

	// GetByID is a scoped read; userID enforces ownership.
	GetByID(ctx context.Context, jobID, userID uuid.UUID) (*entity.Job, error)

	// ListByUser is a scoped, filtered, paginated read.
	ListByUser(ctx context.Context, userID uuid.UUID, opts entity.JobListOptions) ([]*entity.Job, error)

	// FetchSystemLists returns small operational slices for diagnostics.
	FetchSystemLists(ctx context.Context) (*entity.SystemLists, error)
}

// JobResult is the terminal payload written by MarkDone.
type JobResult struct {
	TranscriptText string
	Segments       []entity.Segment
	Language       string
	DurationSec    int
	ModelVersion   string
}

// ProgressUpdate carries the optional fields update_progress may touch.
type ProgressUpdate struct {
	Stage     *string
	Progress  *float64
	Heartbeat *time.Time
}

// QuotaRepository is the Quota Service (D): atomic reserve/reconcile of the
// daily per-user minute budget.
type QuotaRepository interface {
	// Reserve atomically compares-and-increments today's minutes_used against
	// dailyLimit. On store failure it degrades open: allowed=true with a
	// Reason explaining the degradation, trading over-grant for availability.
	Reserve(ctx context.Context, userID uuid.UUID, minutes, dailyLimit int) (QuotaCheck, error)

	// Reconcile adds actual-estimated to today's minutes_used; a no-op when
	// the difference is zero.
	Reconcile(ctx context.Context, userID uuid.UUID, estimatedMinutes, actualMinutes int) error

	// GetUsage returns today's usage row (zero-valued if none exists yet).
	GetUsage(ctx context.Context, userID uuid.UUID) (*entity.DailyUsage, error)

	// RemainingMinutes is max(0, dailyLimit - minutes_used).
	RemainingMinutes(ctx context.Context, userID uuid.UUID, dailyLimit int) (int, error)
}

// QuotaCheck is the result of a Reserve call.
type QuotaCheck struct {
	Allowed          bool
	MinutesRemaining int
	DailyLimit       int
	Reason           string
}
