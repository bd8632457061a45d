package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/recipeai/transcribe-worker/internal/domain/valueobject"
)

// DefaultMaxAttempts is the retry budget assigned to every job at enqueue time.
const DefaultMaxAttempts = 3

// Segment is a single timed span of transcript text.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Job is the central queue record: one unit of transcription work owned by a user.
type Job struct {
	ID     uuid.UUID
	UserID uuid.UUID

	ObjectKey string
	RecipeID  *uuid.UUID

	Status   valueobject.JobStatus
	Priority int

	AttemptCount  int
	MaxAttempts   int
	NextAttemptAt *time.Time

	LockedAt *time.Time
	LockedBy *string

	Stage    valueobject.JobStage
	Progress float64

	LastHeartbeatAt *time.Time

	EstimatedDurationSec int
	DurationSec          *int

	TranscriptText *string
	SegmentsJSON   []Segment
	Language       *string
	ModelVersion   *string

	ErrorMessage *string

	CreatedAt  time.Time
	StartedAt  *time.Time
	FinishedAt *time.Time
}

// IsOwnedBy reports whether userID is this job's owner.
func (j *Job) IsOwnedBy(userID uuid.UUID) bool {
	return j.UserID == userID
}

// JobListOptions filters a per-user job listing.
type JobListOptions struct {
	Status *valueobject.JobStatus
	Limit  int
	Offset int
}

// SystemLists groups small operational slices used for diagnostics, never for
// cross-tenant scheduling decisions.
type SystemLists struct {
	Running        []*Job
	RecentlyFailed []*Job
}

// DailyUsage is the per-user, per-day minute counter backing quota enforcement.
type DailyUsage struct {
	UserID      uuid.UUID
	Date        string // YYYY-MM-DD, UTC
	MinutesUsed int
	JobsCount   int
	UpdatedAt   time.Time
}
