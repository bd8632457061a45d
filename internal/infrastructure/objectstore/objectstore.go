// Package objectstore implements the Media Object Service: presigned upload
// URLs, existence/metadata checks, and streaming download of raw media to a
// local path, against AWS S3 or any S3-compatible endpoint.
package objectstore

import (
	"context"
	"time"
)

// Metadata is what estimate_minutes needs when the Store carries no
// estimated_duration_sec: content length and, when S3 reports it, a
// content-type to sanity-check the media kind.
type Metadata struct {
	ContentLength int64
	ContentType   string
}

// ObjectStore is the Media Object Service (B).
type ObjectStore interface {
	// Download streams the object at key to localPath, creating parent
	// directories as needed. A bounded timeout applies; on failure the
	// returned error is always an *apperrors.Error classified not_found,
	// timeout, or other.
	Download(ctx context.Context, key, localPath string, timeout time.Duration) error

	// Head returns metadata without transferring the object body.
	Head(ctx context.Context, key string) (Metadata, error)

	// GenerateUploadURL issues a presigned PUT URL valid for expiry.
	GenerateUploadURL(ctx context.Context, key string, expiry time.Duration) (string, error)
}
