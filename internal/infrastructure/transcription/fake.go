package transcription

import "context"

// FakeEngine is a deterministic in-memory Engine for tests: it returns a
// fixed Result (or Err) and replays Segments through onProgress as if they
// streamed in, with no network or model dependency.
type FakeEngine struct {
	Result Result
	Err    error
}

var _ Engine = (*FakeEngine)(nil)

func (f *FakeEngine) Transcribe(_ context.Context, _ string, onProgress ProgressFunc) (Result, error) {
	if f.Err != nil {
		return Result{}, f.Err
	}

	total := 0.0
	for _, seg := range f.Result.Segments {
		if seg.End > total {
			total = seg.End
		}
	}

	if onProgress != nil {
		for _, seg := range f.Result.Segments {
			onProgress(seg.End, total)
		}
	}

	return f.Result, nil
}
