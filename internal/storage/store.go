// Package storage defines the blob store contract used to persist the findings log.
// Implementations live in the local, memory, and gcs subpackages.
package storage

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned by Get when no object exists at the path.
var ErrNotFound = errors.New("object not found")

// Store reads and writes whole objects.
type Store interface {
	// Get returns the object's bytes or ErrNotFound.
	Get(ctx context.Context, path string) ([]byte, error)
	// PutObject replaces the object at path and returns its URI.
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}
