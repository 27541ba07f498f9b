// Package blob wraps the S3-compatible object store that receives raw
// uploads through presigned multipart URLs.
package blob

import (
	"context"
	"errors"
	"time"
)

// ErrNotConfigured is returned by every operation when no bucket is set.
var ErrNotConfigured = errors.New("blob storage bucket is not configured")

// Part identifies one uploaded part of a multipart session.
type Part struct {
	Number int32
	ETag   string
}

// Store is the subset of object-storage behaviour the publish flow needs.
type Store interface {
	// Ready returns ErrNotConfigured when the store cannot be used.
	Ready() error
	CreateMultipartUpload(ctx context.Context, key, contentType string) (string, error)
	PresignUploadPart(ctx context.Context, key, uploadID string, partNumber int32, expires time.Duration) (string, error)
	// CompleteMultipartUpload submits parts in the given order.
	CompleteMultipartUpload(ctx context.Context, key, uploadID string, parts []Part) error
	AbortMultipartUpload(ctx context.Context, key, uploadID string) error
	// Fetch reads a whole object into memory.
	Fetch(ctx context.Context, key string) ([]byte, error)
}
