// Package vecindex defines the vector index holding one embedding per
// image id and answering top-k nearest-neighbor queries. Scores are
// cosine similarities (higher = more similar) so results from every
// backend rank the same way.
//
// Implementations must be safe for concurrent use.
package vecindex

import "context"

// Match is a single result from a similarity query.
type Match struct {
	// ID is the image id of the matched vector.
	ID string

	// Score is the cosine similarity between query and match.
	// Higher values indicate higher similarity.
	Score float32
}

// Index stores embeddings keyed by image id.
type Index interface {
	// Upsert adds or replaces the vector for id.
	Upsert(ctx context.Context, id string, vector []float32) error

	// Delete removes the vector for id. No error if id does not exist.
	Delete(ctx context.Context, id string) error

	// Has reports whether a vector exists for id.
	Has(ctx context.Context, id string) (bool, error)

	// Query returns the topK most similar entries to the query vector,
	// ordered by score descending.
	Query(ctx context.Context, vector []float32, topK int) ([]Match, error)

	// Count returns the number of vectors in the index.
	Count(ctx context.Context) (int, error)

	// Close releases resources held by the index.
	Close() error
}
