// Package blob defines the binary store used for original image bytes
// and derived thumbnails. Blobs are content-addressed: Put returns the
// hex sha256 of the data as an opaque reference, so storing the same
// bytes twice is a no-op and references never change once handed out.
//
// Implementations must be safe for concurrent use.
package blob

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
)

// Store is a minimal interface for content-addressed blob storage.
type Store interface {
	// Put stores data and returns its content-addressed reference.
	// Storing data that already exists returns the same reference
	// without rewriting it.
	Put(ctx context.Context, data []byte) (string, error)

	// Get returns the blob for ref. If the blob does not exist, an
	// error wrapping os.ErrNotExist is returned.
	Get(ctx context.Context, ref string) ([]byte, error)

	// Delete removes the blob for ref. Deleting a missing blob is a
	// no-op (idempotent).
	Delete(ctx context.Context, ref string) error

	// Exists reports whether a blob exists for ref.
	Exists(ctx context.Context, ref string) (bool, error)
}

// RefFor computes the content-addressed reference for data without
// storing it. All Store implementations use this same scheme so that a
// reference computed up front matches the one Put returns.
func RefFor(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
