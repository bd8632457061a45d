//go:build integration

package postgres

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recipeai/transcribe-worker/internal/domain/service"
)

type silentLogger struct{}

var _ service.Logger = silentLogger{}

func (silentLogger) Debug(string, ...any) {}
func (silentLogger) Info(string, ...any)  {}
func (silentLogger) Warn(string, ...any)  {}
func (silentLogger) Error(string, ...any) {}
func (l silentLogger) With(...any) service.Logger                 { return l }
func (l silentLogger) WithContext(context.Context) service.Logger { return l }

func newTestQuotaRepo(t *testing.T) *QuotaRepository {
	db := setupTestDB(t)
	return NewQuotaRepository(db, silentLogger{})
}

// S5: a reservation that would push minutes_used past dailyLimit is rejected
// outright, with minutes_remaining reported accurately.
func TestReserve_BoundaryRejectsOverLimit(t *testing.T) {
	repo := newTestQuotaRepo(t)
	ctx := context.Background()
	userID := uuid.New()

	check, err := repo.Reserve(ctx, userID, 60, 60)
	require.NoError(t, err)
	assert.True(t, check.Allowed)
	assert.Equal(t, 0, check.MinutesRemaining)

	check2, err := repo.Reserve(ctx, userID, 1, 60)
	require.NoError(t, err)
	assert.False(t, check2.Allowed, "reserving beyond the exhausted daily limit must be rejected")
}

// Property 3: under concurrent reservations, the sum ever admitted never
// exceeds dailyLimit; reserve_quota's row lock inside one transaction is what
// makes this true, which is exactly what a fake cannot demonstrate.
func TestReserve_ConcurrentNeverExceedsLimit(t *testing.T) {
	repo := newTestQuotaRepo(t)
	ctx := context.Background()
	userID := uuid.New()
	const dailyLimit = 100
	const reservationSize = 10
	const attempts = 30

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			check, err := repo.Reserve(ctx, userID, reservationSize, dailyLimit)
			require.NoError(t, err)
			if check.Allowed {
				mu.Lock()
				admitted += reservationSize
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, admitted, dailyLimit)

	usage, err := repo.GetUsage(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, admitted, usage.MinutesUsed)
}

func TestReconcile_AdjustsUsageByDelta(t *testing.T) {
	repo := newTestQuotaRepo(t)
	ctx := context.Background()
	userID := uuid.New()

	_, err := repo.Reserve(ctx, userID, 10, 100)
	require.NoError(t, err)

	require.NoError(t, repo.Reconcile(ctx, userID, 10, 4))

	usage, err := repo.GetUsage(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 4, usage.MinutesUsed)
}
