package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recipeai/transcribe-worker/internal/domain/entity"
	"github.com/recipeai/transcribe-worker/internal/infrastructure/transcription"
)

// TestTranscribe_ProgressNonDecreasing exercises Invariant 6: every progress
// value written during one lease is >= the one before it, even when the
// engine reports segments whose end timestamps only ever grow.
func TestTranscribe_ProgressNonDecreasing(t *testing.T) {
	job := newTestJob(t)
	engine := &transcription.FakeEngine{
		Result: transcription.Result{
			Segments: []entity.Segment{
				{Start: 0, End: 10, Text: "a"},
				{Start: 10, End: 40, Text: "b"},
				{Start: 40, End: 100, Text: "c"},
			},
			DurationSec: 100,
		},
	}
	w, jobs, _ := newTestWorker(job, engine, &fakeObjectStore{})
	w.cfg.ProgressWriteInterval = 0 // no rate limiting, observe every report

	_, err := w.transcribe(context.Background(), job, "/tmp/unused")
	require.NoError(t, err)

	var last float64 = -1
	sawAny := false
	for _, update := range jobs.progressUpdates {
		if update.Progress == nil {
			continue
		}
		sawAny = true
		assert.GreaterOrEqual(t, *update.Progress, last)
		last = *update.Progress
	}
	assert.True(t, sawAny, "expected at least one progress update")
}

// TestTranscribe_HeartbeatStopsDeterministically confirms the heartbeat
// goroutine started for a lease is joined before transcribe returns, so no
// write races with the next lease's pipeline.
func TestTranscribe_HeartbeatStopsDeterministically(t *testing.T) {
	job := newTestJob(t)
	engine := &transcription.FakeEngine{Result: transcription.Result{DurationSec: 1}}
	w, _, _ := newTestWorker(job, engine, &fakeObjectStore{})
	w.cfg.HeartbeatInterval = time.Millisecond

	done := make(chan struct{})
	go func() {
		_, _ = w.transcribe(context.Background(), job, "/tmp/unused")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("transcribe did not return; heartbeat goroutine may not have stopped")
	}
}
