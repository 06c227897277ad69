// Package meta defines the metadata store holding one ImageRecord per
// image, keyed by id. The metadata store is the source of truth for a
// record's lifecycle status; the blob store and the vector index are
// derived stores kept consistent by the gallery orchestration.
//
// Implementations must be safe for concurrent use. Status changes go
// through UpdateStatus, a conditional write keyed on the expected
// current status, so racing lifecycle operations are detected rather
// than silently interleaved.
package meta

import (
	"context"
	"time"

	"imagesearch/internal/models"
)

// ListFilter narrows and pages a listing. Zero values mean no filter,
// offset 0 and the implementation's default page size.
type ListFilter struct {
	// Status restricts the listing to records in the given state.
	// Empty means all stored records.
	Status models.Status

	Offset int
	Limit  int
}

// DefaultListLimit is the page size used when ListFilter.Limit is zero.
const DefaultListLimit = 50

// pageRecords applies the filter's offset and limit to an already
// sorted, status-filtered slice. Negative offsets are treated as zero.
func pageRecords(out []*models.ImageRecord, f ListFilter) []*models.ImageRecord {
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if offset >= len(out) {
		return nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Store persists ImageRecords.
type Store interface {
	// Insert stores a new record. Fails if the id already exists.
	Insert(ctx context.Context, rec *models.ImageRecord) error

	// Get returns the record for id, or models.ErrNotFound.
	Get(ctx context.Context, id string) (*models.ImageRecord, error)

	// FindByChecksum returns the record whose checksum matches, or
	// models.ErrNotFound. Used for duplicate detection at upload.
	FindByChecksum(ctx context.Context, checksum string) (*models.ImageRecord, error)

	// UpdateStatus is a compare-and-swap on the record's status: it
	// moves the record from expected `from` to `to` and sets trashedAt
	// (nil clears it). Returns models.ErrNotFound if the id is absent
	// and models.ErrConcurrentModification if the stored status no
	// longer equals from.
	UpdateStatus(ctx context.Context, id string, from, to models.Status, trashedAt *time.Time) error

	// Delete removes the record. Deleting a missing id is a no-op.
	Delete(ctx context.Context, id string) error

	// List returns records matching the filter, ordered by uploaded_at
	// descending (most recent first).
	List(ctx context.Context, f ListFilter) ([]*models.ImageRecord, error)

	// Close releases any resources held by the store.
	Close() error
}
