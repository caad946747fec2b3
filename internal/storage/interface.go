// Package storage persists finished archive bundles, either on local disk or
// in a Google Cloud Storage bucket.
package storage

import (
	"context"
	"errors"
	"io"
)

var ErrNotExist = errors.New("object does not exist")

// ArchiveStore holds named archive bundles. A bundle becomes visible under
// its name only when the pending write that produced it is committed.
type ArchiveStore interface {
	Exists(ctx context.Context, name string) (bool, error)

	// Create starts a write. The content is invisible until Commit succeeds.
	Create(ctx context.Context, name string) (PendingObject, error)

	// Open returns ErrNotExist if the bundle is absent.
	Open(ctx context.Context, name string) (*Object, error)
}

// PendingObject is an in-progress write. Abort after a successful Commit is a no-op.
type PendingObject interface {
	io.Writer
	Commit() error
	Abort() error
}

type Object struct {
	io.ReadCloser
	Size int64
}
