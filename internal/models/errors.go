package models

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across the stores and the gallery. Callers
// classify outcomes with errors.Is; adapters wrap these with context.
var (
	// ErrUnsupportedFormat is returned when the upload content type is
	// not in the configured whitelist. Terminal, never retried.
	ErrUnsupportedFormat = errors.New("unsupported image format")

	// ErrCorruptImage is returned when the image bytes cannot be
	// decoded. Terminal, never retried.
	ErrCorruptImage = errors.New("corrupt image")

	// ErrDuplicateImage is returned when an upload's checksum matches
	// an existing record.
	ErrDuplicateImage = errors.New("image already exists")

	// ErrEmbeddingFailure is returned when the embedding model is
	// unreachable, times out, or returns an invalid vector. Transient.
	ErrEmbeddingFailure = errors.New("embedding failed")

	// ErrStoreUnavailable is returned when a store adapter fails
	// transiently after retries are exhausted.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrInvalidTransition is returned for an illegal lifecycle change,
	// e.g. purging an active record or trashing a trashed one.
	ErrInvalidTransition = errors.New("invalid lifecycle transition")

	// ErrConcurrentModification is returned when a lifecycle operation
	// loses a race: the record's status changed between the guard read
	// and the conditional write.
	ErrConcurrentModification = errors.New("concurrent modification")

	// ErrNotFound is returned when no record exists for an id.
	ErrNotFound = errors.New("image not found")
)

// IngestError wraps the underlying cause of a failed ingestion together
// with the filename it applied to, so batch results stay attributable.
type IngestError struct {
	Filename string
	Err      error
}

func (e *IngestError) Error() string {
	return fmt.Sprintf("ingest %s: %v", e.Filename, e.Err)
}

func (e *IngestError) Unwrap() error { return e.Err }

// Terminal reports whether err is a validation failure that must not be
// retried. Everything else is treated as transient by the retry policy.
func Terminal(err error) bool {
	return errors.Is(err, ErrUnsupportedFormat) ||
		errors.Is(err, ErrCorruptImage) ||
		errors.Is(err, ErrDuplicateImage) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrConcurrentModification) ||
		errors.Is(err, ErrNotFound)
}
