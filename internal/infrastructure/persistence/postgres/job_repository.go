package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/recipeai/transcribe-worker/internal/domain/apperrors"
	"github.com/recipeai/transcribe-worker/internal/domain/entity"
	"github.com/recipeai/transcribe-worker/internal/domain/repository"
	"github.com/recipeai/transcribe-worker/internal/domain/valueobject"
)

const jobColumns = `
	id, user_id, object_key, recipe_id, status, priority, attempt_count, max_attempts,
	next_attempt_at, locked_at, locked_by, stage, progress, last_heartbeat_at,
	estimated_duration_sec, duration_sec, transcript_text, segments_json, language,
	model_version, error_message, created_at, started_at, finished_at`

// JobRepository is the Postgres-backed Job Repository (E). LeaseNext is the
// only place a row moves QUEUED -> RUNNING, via a SKIP LOCKED claim so
// concurrent workers never double-claim a row.
type JobRepository struct {
	db *sql.DB
}

var _ repository.JobRepository = (*JobRepository)(nil)

func NewJobRepository(db *sql.DB) *JobRepository {
	return &JobRepository{db: db}
}

func (r *JobRepository) Enqueue(ctx context.Context, userID uuid.UUID, objectKey string, recipeID *uuid.UUID, estimatedDurationSec, priority int) (*entity.Job, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO jobs (
			id, user_id, object_key, recipe_id, status, priority, attempt_count, max_attempts,
			stage, progress, estimated_duration_sec, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, 0, $7, $8, 0, $9, $10
		)
		RETURNING `+jobColumns,
		uuid.New(), userID, objectKey, recipeID, valueobject.JobStatusQueued, priority,
		entity.DefaultMaxAttempts, valueobject.JobStageQueued, estimatedDurationSec, time.Now().UTC(),
	)
	return scanJob(row)
}

func (r *JobRepository) LeaseNext(ctx context.Context, workerID string, now time.Time) (*entity.Job, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE jobs
		SET status = $1,
		    stage = $2,
		    progress = 0,
		    attempt_count = attempt_count + 1,
		    locked_at = $3,
		    locked_by = $4,
		    last_heartbeat_at = $3,
		    started_at = COALESCE(started_at, $3)
		WHERE id = (
			SELECT id FROM jobs
			WHERE status = $5
			  AND (next_attempt_at IS NULL OR next_attempt_at <= $3)
			ORDER BY priority DESC, created_at ASC, id ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+jobColumns,
		valueobject.JobStatusRunning, valueobject.JobStageDownloading, now, workerID, valueobject.JobStatusQueued,
	)

	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (r *JobRepository) MarkDone(ctx context.Context, jobID uuid.UUID, result repository.JobResult) (bool, error) {
	segmentsJSON, err := json.Marshal(result.Segments)
	if err != nil {
		return false, fmt.Errorf("marshal segments: %w", err)
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = $2,
		    stage = $3,
		    progress = 100,
		    transcript_text = $4,
		    segments_json = $5,
		    language = $6,
		    duration_sec = $7,
		    model_version = $8,
		    error_message = NULL,
		    locked_at = NULL,
		    locked_by = NULL,
		    finished_at = $9
		WHERE id = $1`,
		jobID, valueobject.JobStatusDone, valueobject.JobStageDone,
		result.TranscriptText, segmentsJSON, result.Language, result.DurationSec, result.ModelVersion,
		time.Now().UTC(),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkFailed requeues with exponential backoff when the retry budget is not
// exhausted and permanent is false; otherwise it writes the terminal FAILED
// state. Backoff is 2^attempt_count minutes.
func (r *JobRepository) MarkFailed(ctx context.Context, jobID uuid.UUID, message string, permanent bool) error {
	return WithTx(ctx, r.db, func(tx *sql.Tx) error {
		var attemptCount, maxAttempts int
		err := tx.QueryRowContext(ctx, `SELECT attempt_count, max_attempts FROM jobs WHERE id = $1 FOR UPDATE`, jobID).
			Scan(&attemptCount, &maxAttempts)
		if err == sql.ErrNoRows {
			return apperrors.NotFound(fmt.Sprintf("job %s not found", jobID))
		}
		if err != nil {
			return err
		}

		if permanent || attemptCount >= maxAttempts {
			_, err = tx.ExecContext(ctx, `
				UPDATE jobs
				SET status = $2, stage = $3, error_message = $4, finished_at = $5,
				    locked_at = NULL, locked_by = NULL
				WHERE id = $1`,
				jobID, valueobject.JobStatusFailed, valueobject.JobStageFailed, message, time.Now().UTC(),
			)
			return err
		}

		backoff := time.Duration(1<<uint(attemptCount)) * time.Minute
		nextAttemptAt := time.Now().UTC().Add(backoff)
		_, err = tx.ExecContext(ctx, `
			UPDATE jobs
			SET status = $2, stage = $3, progress = 0, error_message = $4, next_attempt_at = $5,
			    locked_at = NULL, locked_by = NULL
			WHERE id = $1`,
			jobID, valueobject.JobStatusQueued, valueobject.JobStageQueued, message, nextAttemptAt,
		)
		return err
	})
}

func (r *JobRepository) UpdateProgress(ctx context.Context, jobID uuid.UUID, update repository.ProgressUpdate) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE jobs
		SET stage = COALESCE($2, stage),
		    progress = COALESCE($3, progress),
		    last_heartbeat_at = COALESCE($4, last_heartbeat_at)
		WHERE id = $1`,
		jobID, update.Stage, update.Progress, update.Heartbeat,
	)
	return err
}

func (r *JobRepository) Cancel(ctx context.Context, jobID, userID uuid.UUID) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = $3, finished_at = $4
		WHERE id = $1 AND user_id = $2 AND status = $5`,
		jobID, userID, valueobject.JobStatusCancelled, time.Now().UTC(), valueobject.JobStatusQueued,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ReleaseStaleLocks reclaims RUNNING rows whose lease is older than ttl,
// applying the same policy as MarkFailed against the row's current
// attempt_count: exponential backoff if the retry budget remains, FAILED
// outright if it is exhausted. The caller only logs the number of rows
// released; a reclaim never surfaces to a user.
func (r *JobRepository) ReleaseStaleLocks(ctx context.Context, ttl time.Duration) (int, error) {
	return WithTxResult(ctx, r.db, func(tx *sql.Tx) (int, error) {
		cutoff := time.Now().UTC().Add(-ttl)
		rows, err := tx.QueryContext(ctx, `
			SELECT id, attempt_count, max_attempts FROM jobs
			WHERE status = $1 AND locked_at < $2
			FOR UPDATE SKIP LOCKED`,
			valueobject.JobStatusRunning, cutoff,
		)
		if err != nil {
			return 0, err
		}

		type staleRow struct {
			id                       uuid.UUID
			attemptCount, maxAttempts int
		}
		var stale []staleRow
		for rows.Next() {
			var s staleRow
			if err := rows.Scan(&s.id, &s.attemptCount, &s.maxAttempts); err != nil {
				rows.Close()
				return 0, err
			}
			stale = append(stale, s)
		}
		if err := rows.Err(); err != nil {
			return 0, err
		}
		rows.Close()

		for _, s := range stale {
			if s.attemptCount >= s.maxAttempts {
				if _, err := tx.ExecContext(ctx, `
					UPDATE jobs
					SET status = $2, stage = $3, error_message = $4, finished_at = $5,
					    locked_at = NULL, locked_by = NULL
					WHERE id = $1`,
					s.id, valueobject.JobStatusFailed, valueobject.JobStageFailed,
					"lock timed out", time.Now().UTC(),
				); err != nil {
					return 0, err
				}
				continue
			}

			backoff := time.Duration(1<<uint(s.attemptCount)) * time.Minute
			nextAttemptAt := time.Now().UTC().Add(backoff)
			if _, err := tx.ExecContext(ctx, `
				UPDATE jobs
				SET status = $2, stage = $3, progress = 0, error_message = $4,
				    next_attempt_at = $5, locked_at = NULL, locked_by = NULL
				WHERE id = $1`,
				s.id, valueobject.JobStatusQueued, valueobject.JobStageQueued,
				"lock timed out", nextAttemptAt,
			); err != nil {
				return 0, err
			}
		}

		return len(stale), nil
	})
}

func (r *JobRepository) GetByID(ctx context.Context, jobID, userID uuid.UUID) (*entity.Job, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1 AND user_id = $2`, jobID, userID)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, apperrors.NotFound(fmt.Sprintf("job %s not found", jobID))
	}
	return job, err
}

func (r *JobRepository) ListByUser(ctx context.Context, userID uuid.UUID, opts entity.JobListOptions) ([]*entity.Job, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}

	var rows *sql.Rows
	var err error
	if opts.Status != nil {
		rows, err = r.db.QueryContext(ctx, `
			SELECT `+jobColumns+` FROM jobs
			WHERE user_id = $1 AND status = $2
			ORDER BY created_at DESC
			LIMIT $3 OFFSET $4`,
			userID, *opts.Status, limit, opts.Offset,
		)
	} else {
		rows, err = r.db.QueryContext(ctx, `
			SELECT `+jobColumns+` FROM jobs
			WHERE user_id = $1
			ORDER BY created_at DESC
			LIMIT $2 OFFSET $3`,
			userID, limit, opts.Offset,
		)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanJobs(rows)
}

func (r *JobRepository) FetchSystemLists(ctx context.Context) (*entity.SystemLists, error) {
	running, err := r.queryJobs(ctx, `
		SELECT `+jobColumns+` FROM jobs WHERE status = $1 ORDER BY locked_at ASC LIMIT 50`,
		valueobject.JobStatusRunning,
	)
	if err != nil {
		return nil, err
	}

	failed, err := r.queryJobs(ctx, `
		SELECT `+jobColumns+` FROM jobs WHERE status = $1 ORDER BY finished_at DESC LIMIT 50`,
		valueobject.JobStatusFailed,
	)
	if err != nil {
		return nil, err
	}

	return &entity.SystemLists{Running: running, RecentlyFailed: failed}, nil
}

func (r *JobRepository) queryJobs(ctx context.Context, query string, args ...any) ([]*entity.Job, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanJobs(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*entity.Job, error) {
	var j entity.Job
	var status valueobject.JobStatus
	var stage valueobject.JobStage
	var recipeID uuid.NullUUID
	var nextAttemptAt, lockedAt, lastHeartbeatAt, startedAt, finishedAt sql.NullTime
	var lockedBy, transcriptText, language, modelVersion, errorMessage sql.NullString
	var durationSec sql.NullInt64
	var segmentsJSON []byte

	err := row.Scan(
		&j.ID, &j.UserID, &j.ObjectKey, &recipeID, &status, &j.Priority, &j.AttemptCount, &j.MaxAttempts,
		&nextAttemptAt, &lockedAt, &lockedBy, &stage, &j.Progress, &lastHeartbeatAt,
		&j.EstimatedDurationSec, &durationSec, &transcriptText, &segmentsJSON, &language,
		&modelVersion, &errorMessage, &j.CreatedAt, &startedAt, &finishedAt,
	)
	if err != nil {
		return nil, err
	}

	j.Status = status
	j.Stage = stage
	if recipeID.Valid {
		j.RecipeID = &recipeID.UUID
	}
	if nextAttemptAt.Valid {
		j.NextAttemptAt = &nextAttemptAt.Time
	}
	if lockedAt.Valid {
		j.LockedAt = &lockedAt.Time
	}
	if lockedBy.Valid {
		j.LockedBy = &lockedBy.String
	}
	if lastHeartbeatAt.Valid {
		j.LastHeartbeatAt = &lastHeartbeatAt.Time
	}
	if durationSec.Valid {
		d := int(durationSec.Int64)
		j.DurationSec = &d
	}
	if transcriptText.Valid {
		j.TranscriptText = &transcriptText.String
	}
	if language.Valid {
		j.Language = &language.String
	}
	if modelVersion.Valid {
		j.ModelVersion = &modelVersion.String
	}
	if errorMessage.Valid {
		j.ErrorMessage = &errorMessage.String
	}
	if startedAt.Valid {
		j.StartedAt = &startedAt.Time
	}
	if finishedAt.Valid {
		j.FinishedAt = &finishedAt.Time
	}
	if len(segmentsJSON) > 0 {
		if err := json.Unmarshal(segmentsJSON, &j.SegmentsJSON); err != nil {
			return nil, fmt.Errorf("unmarshal segments: %w", err)
		}
	}

	return &j, nil
}

func scanJobs(rows *sql.Rows) ([]*entity.Job, error) {
	jobs := make([]*entity.Job, 0)
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}
