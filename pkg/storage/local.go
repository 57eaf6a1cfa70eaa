package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

const defaultScreenshotDir = "screenshots"

// LocalStore writes screenshots to disk under
// <base>/<execution_id>/<filename>. It is the automatic fallback when no
// bucket is configured.
type LocalStore struct {
	base string
}

var _ Store = (*LocalStore)(nil)

func NewLocalStore(base string) *LocalStore {
	if base == "" {
		base = defaultScreenshotDir
	}
	return &LocalStore{base: base}
}

func (s *LocalStore) Save(ctx context.Context, executionID, filename string, data []byte) (string, error) {
	dir := filepath.Join(s.base, executionID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating screenshot directory %q: %w", dir, err)
	}
	dest := filepath.Join(dir, filename)
	if err := os.WriteFile(dest, data, 0644); err != nil {
		return "", fmt.Errorf("writing screenshot %q: %w", dest, err)
	}
	return dest, nil
}

func (s *LocalStore) Kind() string { return "local" }
