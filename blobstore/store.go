// Package blobstore abstracts the byte-addressable storage segment files
// are persisted to, so the segment layer is agnostic to whether bytes end
// up on local disk or in a remote object store. The WAL does not go
// through it; it writes its own files on local disk.
package blobstore

import (
	"context"
	"errors"
	"io"
)

// ErrNotExist is returned by Get and Stat when the requested key has no
// blob.
var ErrNotExist = errors.New("blobstore: blob does not exist")

// Store is the minimal contract the engine needs from a durable byte store:
// atomic whole-object writes, streamed reads, and directory-style listing.
type Store interface {
	// Put writes the full contents of r as key, replacing any existing
	// blob atomically from a reader's perspective (readers never observe
	// a partial write).
	Put(ctx context.Context, key string, r io.Reader) error

	// Get opens key for reading. The caller must Close the returned
	// ReadCloser.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// List returns every key with the given prefix, in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)

	// Stat returns the size in bytes of key, or ErrNotExist.
	Stat(ctx context.Context, key string) (int64, error)
}
