// Package submitter implements the Submitter API (F): the only contracts
// the core owns on the submission path. Authentication and HTTP framing are
// out of scope; this package assumes the caller has already authenticated
// userID.
package submitter

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/recipeai/transcribe-worker/internal/domain/apperrors"
	"github.com/recipeai/transcribe-worker/internal/domain/entity"
	"github.com/recipeai/transcribe-worker/internal/domain/repository"
)

// Submitter validates, reserves quota for, and enqueues a transcription job.
type Submitter struct {
	jobs  repository.JobRepository
	quota repository.QuotaRepository

	dailyLimitMinutes int
}

func New(jobs repository.JobRepository, quota repository.QuotaRepository, dailyLimitMinutes int) *Submitter {
	return &Submitter{jobs: jobs, quota: quota, dailyLimitMinutes: dailyLimitMinutes}
}

// Request is the validated shape of a submission.
type Request struct {
	UserID               uuid.UUID
	ObjectKey            string
	RecipeID             *uuid.UUID
	EstimatedDurationSec int
	Priority             int
}

// Submit authorizes the object key, reserves quota, and enqueues the job.
func (s *Submitter) Submit(ctx context.Context, req Request) (*entity.Job, error) {
	if req.EstimatedDurationSec < 1 || req.EstimatedDurationSec > 7200 {
		return nil, apperrors.Internal(fmt.Sprintf("estimated_duration_sec %d out of range [1,7200]", req.EstimatedDurationSec))
	}
	if req.Priority < 0 || req.Priority > 10 {
		return nil, apperrors.Internal(fmt.Sprintf("priority %d out of range [0,10]", req.Priority))
	}

	expectedPrefix := fmt.Sprintf("users/%s/", req.UserID)
	if len(req.ObjectKey) < len(expectedPrefix) || req.ObjectKey[:len(expectedPrefix)] != expectedPrefix {
		return nil, apperrors.InvalidObjectKey(req.ObjectKey, "object key does not belong to the authenticated user")
	}

	minutes := estimatedMinutes(req.EstimatedDurationSec)

	check, err := s.quota.Reserve(ctx, req.UserID, minutes, s.dailyLimitMinutes)
	if err != nil {
		return nil, err
	}
	if !check.Allowed {
		reason := check.Reason
		if reason == "" {
			reason = "daily quota exceeded"
		}
		return nil, apperrors.QuotaExceeded(reason, check.MinutesRemaining)
	}

	return s.jobs.Enqueue(ctx, req.UserID, req.ObjectKey, req.RecipeID, req.EstimatedDurationSec, req.Priority)
}

// estimatedMinutes translates seconds into minutes via max(1, s // 60).
func estimatedMinutes(sec int) int {
	minutes := sec / 60
	if minutes < 1 {
		return 1
	}
	return minutes
}
