// Package apperrors realizes the job pipeline's error taxonomy as a closed
// set of kinds, each carrying the disposition the worker must apply.
package apperrors

import (
	"errors"
	"fmt"
)

// Kind is a closed sum of the ways a job submission or a job attempt can fail.
type Kind string

const (
	// KindQuotaExceeded surfaces to the submitter as a 429-equivalent.
	KindQuotaExceeded Kind = "quota_exceeded"
	// KindInvalidObjectKey is always a permanent job failure.
	KindInvalidObjectKey Kind = "invalid_object_key"
	// KindInvalidMedia is always a permanent job failure.
	KindInvalidMedia Kind = "invalid_media"
	// KindDownloadTransient is a retryable job failure.
	KindDownloadTransient Kind = "download_transient"
	// KindDownloadPermanent is a permanent job failure (404-like).
	KindDownloadPermanent Kind = "download_permanent"
	// KindEngineRetryable is a retryable job failure.
	KindEngineRetryable Kind = "engine_retryable"
	// KindEnginePermanent is a permanent job failure.
	KindEnginePermanent Kind = "engine_permanent"
	// KindStoreUnavailable causes the worker to skip the iteration and the
	// submitter to return a 5xx.
	KindStoreUnavailable Kind = "store_unavailable"
	// KindStaleLockReclaimed is invisible to callers; only ever logged.
	KindStaleLockReclaimed Kind = "stale_lock_reclaimed"
	// KindNotFound is a scoped lookup miss (wrong id, wrong owner).
	KindNotFound Kind = "not_found"
	// KindInternal is any unexpected error that still needs a uniform shape.
	KindInternal Kind = "internal"
)

// Error is the single error type every component in this module returns.
type Error struct {
	Kind    Kind
	Message string
	Cause   error

	// MinutesRemaining is populated only for KindQuotaExceeded.
	MinutesRemaining int
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// WithCause attaches an underlying error and returns the receiver.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

func newError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func QuotaExceeded(message string, minutesRemaining int) *Error {
	e := newError(KindQuotaExceeded, message)
	e.MinutesRemaining = minutesRemaining
	return e
}

func InvalidObjectKey(objectKey, reason string) *Error {
	return newError(KindInvalidObjectKey, fmt.Sprintf("invalid object key %q: %s", objectKey, reason))
}

func InvalidMedia(reason string) *Error {
	return newError(KindInvalidMedia, reason)
}

func Download(permanent bool, objectKey, reason string) *Error {
	kind := KindDownloadTransient
	if permanent {
		kind = KindDownloadPermanent
	}
	return newError(kind, fmt.Sprintf("download failed for %q: %s", objectKey, reason))
}

func Engine(retryable bool, reason string) *Error {
	kind := KindEnginePermanent
	if retryable {
		kind = KindEngineRetryable
	}
	return newError(kind, reason)
}

func StoreUnavailable(message string) *Error {
	return newError(KindStoreUnavailable, message)
}

func NotFound(message string) *Error {
	return newError(KindNotFound, message)
}

func Internal(message string) *Error {
	return newError(KindInternal, message)
}

// As extracts an *Error from err, if present anywhere in its chain.
func As(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// Classify maps an error produced by the per-job pipeline to the worker's
// retry decision, per the failure-classification table: only InvalidObjectKey,
// InvalidMedia, DownloadPermanent and EnginePermanent are permanent; every
// other kind, and any error that is not an *Error, is retryable.
// StoreUnavailable and StaleLockReclaimed are
// never passed to mark_failed at all and must be handled by the caller before
// reaching Classify.
func Classify(err error) (permanent bool) {
	appErr, ok := As(err)
	if !ok {
		// Any other unexpected error is treated as retryable, per §4.3's
		// failure-classification table.
		return false
	}
	switch appErr.Kind {
	case KindInvalidObjectKey, KindInvalidMedia, KindDownloadPermanent, KindEnginePermanent:
		return true
	case KindDownloadTransient, KindEngineRetryable:
		return false
	default:
		return false
	}
}
