package models

import "time"

// Status is the lifecycle state of an image record.
type Status string

const (
	// StatusActive marks a record that is visible and searchable.
	StatusActive Status = "active"

	// StatusTrashed marks a soft-deleted record. Trashed records keep
	// their binaries and vector entry and can be restored or purged.
	StatusTrashed Status = "trashed"

	// StatusPurged is the terminal state. Purged records have no vector
	// entry and no binaries; the metadata record itself is removed.
	StatusPurged Status = "purged"
)

// ParseStatus validates a status string.
func ParseStatus(s string) (Status, bool) {
	switch Status(s) {
	case StatusActive, StatusTrashed, StatusPurged:
		return Status(s), true
	}
	return "", false
}

// ImageRecord is the canonical per-image metadata document. The metadata
// store is the source of truth for Status; the blob store and the vector
// index are kept consistent with it by the gallery orchestration, never
// mutated directly by callers.
type ImageRecord struct {
	// ID is assigned at ingestion and never reused, even after purge.
	// It is the join key across the metadata store, the blob store
	// references and the vector index.
	ID string `json:"id"`

	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`

	// Checksum is the hex sha256 of the original bytes, used for
	// duplicate detection at upload time.
	Checksum string `json:"checksum"`

	Status Status `json:"status"`

	UploadedAt time.Time  `json:"uploaded_at"`
	TrashedAt  *time.Time `json:"trashed_at,omitempty"`

	// OriginalRef and ThumbnailRef address the blob store. Both are
	// content-addressed and immutable once set.
	OriginalRef  string `json:"original_ref"`
	ThumbnailRef string `json:"thumbnail_ref"`
}

// Clone returns a deep copy of the record.
func (r *ImageRecord) Clone() *ImageRecord {
	cp := *r
	if r.TrashedAt != nil {
		t := *r.TrashedAt
		cp.TrashedAt = &t
	}
	return &cp
}
