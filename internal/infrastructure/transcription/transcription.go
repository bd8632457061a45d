// Package transcription implements the Transcription Engine (C): a pure
// function from a local media path to full text, timed segments, detected
// language, duration, and engine version.
package transcription

import (
	"context"

	"github.com/recipeai/transcribe-worker/internal/domain/entity"
)

// ProgressFunc is invoked as segments are produced. processedSec is the
// end-timestamp of the most recently emitted segment; totalSec is the known
// or estimated media duration, 0 if unknown.
type ProgressFunc func(processedSec, totalSec float64)

// Result is the terminal payload an Engine produces for one media file.
type Result struct {
	Text         string
	Segments     []entity.Segment
	Language     string
	DurationSec  int
	ModelVersion string
}

// Engine transcribes a local media file, reporting incremental progress
// through onProgress as segments become available.
type Engine interface {
	Transcribe(ctx context.Context, mediaPath string, onProgress ProgressFunc) (Result, error)
}
