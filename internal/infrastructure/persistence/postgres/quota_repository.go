package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/recipeai/transcribe-worker/internal/domain/entity"
	"github.com/recipeai/transcribe-worker/internal/domain/repository"
	"github.com/recipeai/transcribe-worker/internal/domain/service"
)

// QuotaRepository is the Postgres-backed Quota Service (D). Reserve and
// Reconcile call the reserve_quota/adjust_quota_usage server procedures so
// the compare-and-increment is atomic at the row level; on any Store error
// Reserve degrades open rather than blocking every job on a database blip.
type QuotaRepository struct {
	db     *sql.DB
	logger service.Logger
}

var _ repository.QuotaRepository = (*QuotaRepository)(nil)

func NewQuotaRepository(db *sql.DB, logger service.Logger) *QuotaRepository {
	return &QuotaRepository{db: db, logger: logger}
}

func (r *QuotaRepository) Reserve(ctx context.Context, userID uuid.UUID, minutes, dailyLimit int) (repository.QuotaCheck, error) {
	var allowed bool
	var minutesRemaining int
	var reason sql.NullString

	err := r.db.QueryRowContext(ctx,
		`SELECT allowed, minutes_remaining, reason FROM reserve_quota($1, $2, $3, $4)`,
		userID, today(), minutes, dailyLimit,
	).Scan(&allowed, &minutesRemaining, &reason)

	if err != nil {
		r.logger.Warn("quota check failed, allowing by default", "user_id", userID, "error", err)
		return repository.QuotaCheck{
			Allowed:          true,
			MinutesRemaining: dailyLimit,
			DailyLimit:       dailyLimit,
			Reason:           "quota check failed, allowing by default",
		}, nil
	}

	return repository.QuotaCheck{
		Allowed:          allowed,
		MinutesRemaining: minutesRemaining,
		DailyLimit:       dailyLimit,
		Reason:           reason.String,
	}, nil
}

func (r *QuotaRepository) Reconcile(ctx context.Context, userID uuid.UUID, estimatedMinutes, actualMinutes int) error {
	diff := actualMinutes - estimatedMinutes
	if diff == 0 {
		return nil
	}

	_, err := r.db.ExecContext(ctx,
		`SELECT adjust_quota_usage($1, $2, $3)`,
		userID, today(), diff,
	)
	if err != nil {
		r.logger.Warn("quota reconcile failed", "user_id", userID, "diff", diff, "error", err)
	}
	return nil
}

func (r *QuotaRepository) GetUsage(ctx context.Context, userID uuid.UUID) (*entity.DailyUsage, error) {
	date := today()
	row := r.db.QueryRowContext(ctx,
		`SELECT minutes_used, jobs_count, updated_at FROM usage_daily WHERE user_id = $1 AND date = $2`,
		userID, date,
	)

	var usage entity.DailyUsage
	usage.UserID = userID
	usage.Date = date

	err := row.Scan(&usage.MinutesUsed, &usage.JobsCount, &usage.UpdatedAt)
	if err == sql.ErrNoRows {
		return &usage, nil
	}
	if err != nil {
		r.logger.Warn("get usage failed", "user_id", userID, "error", err)
		return &usage, nil
	}

	return &usage, nil
}

func (r *QuotaRepository) RemainingMinutes(ctx context.Context, userID uuid.UUID, dailyLimit int) (int, error) {
	usage, err := r.GetUsage(ctx, userID)
	if err != nil {
		return 0, err
	}
	remaining := dailyLimit - usage.MinutesUsed
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

func today() string {
	return time.Now().UTC().Format("2006-01-02")
}
