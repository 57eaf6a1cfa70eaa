// Package storage persists run screenshots: to S3 when a bucket is
// configured, to local disk otherwise.
package storage

import (
	"context"
)

// Store persists one screenshot under a per-execution namespace and
// returns its location (an s3:// URL or a local path).
type Store interface {
	Save(ctx context.Context, executionID, filename string, data []byte) (string, error)
	Kind() string
}
