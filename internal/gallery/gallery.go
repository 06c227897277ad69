// Package gallery orchestrates the ingestion, retrieval and lifecycle
// of images across three independently-failing stores: the metadata
// store (source of truth for status), the blob store (original bytes
// and thumbnails) and the vector index (embeddings).
//
// There is no cross-store transaction. Consistency comes from write
// ordering: ingestion writes blobs and the vector entry first and
// commits by inserting metadata last, with best-effort compensating
// deletes on failure; purge removes dependents first and deletes
// metadata last. A crash therefore leaves either an invisible orphan
// (cleaned up by Reindex or ignored) or a record still visibly
// trashed, never a live record pointing at missing data.
package gallery

import (
	"log/slog"
	"sync"
	"time"

	"imagesearch/internal/blob"
	"imagesearch/internal/embed"
	"imagesearch/internal/meta"
	"imagesearch/internal/vecindex"
)

// Config is the tuning surface of the gallery.
type Config struct {
	// AllowedTypes is the content-type whitelist for uploads.
	AllowedTypes []string

	// ThumbnailMaxDim bounds the longer thumbnail edge in pixels.
	ThumbnailMaxDim int

	// OverfetchFactor is how many times k candidates to pull from the
	// vector index before metadata filtering (m = k * OverfetchFactor).
	OverfetchFactor int

	// OpTimeout bounds every single embedder or store adapter call.
	OpTimeout time.Duration

	// RetryAttempts is how many times a transient failure is retried
	// before surfacing. Terminal validation errors are never retried.
	RetryAttempts int

	// RetryBaseDelay is the initial backoff delay, doubled per retry.
	RetryBaseDelay time.Duration
}

// DefaultConfig returns the config used when fields are left zero.
func DefaultConfig() Config {
	return Config{
		AllowedTypes:    []string{"image/jpeg", "image/png", "image/webp"},
		ThumbnailMaxDim: 220,
		OverfetchFactor: 3,
		OpTimeout:       30 * time.Second,
		RetryAttempts:   2,
		RetryBaseDelay:  200 * time.Millisecond,
	}
}

// Gallery wires the embedding gateway and the three stores together.
// All state lives in the injected collaborators; Gallery itself only
// holds configuration and the per-id lifecycle locks, so it is safe
// for concurrent use.
type Gallery struct {
	embedder embed.Embedder
	blobs    blob.Store
	meta     meta.Store
	index    vecindex.Index
	cfg      Config
	log      *slog.Logger

	// idLocks serializes lifecycle transitions per image id so that a
	// concurrent restore and purge cannot interleave their multi-store
	// writes. The map only ever holds a few dozen entries for a
	// personal gallery; entries are not reclaimed.
	idLocksMu sync.Mutex
	idLocks   map[string]*sync.Mutex
}

// New creates a Gallery. Zero config fields fall back to DefaultConfig.
func New(embedder embed.Embedder, blobs blob.Store, metaStore meta.Store, index vecindex.Index, cfg Config, log *slog.Logger) *Gallery {
	def := DefaultConfig()
	if len(cfg.AllowedTypes) == 0 {
		cfg.AllowedTypes = def.AllowedTypes
	}
	if cfg.ThumbnailMaxDim <= 0 {
		cfg.ThumbnailMaxDim = def.ThumbnailMaxDim
	}
	if cfg.OverfetchFactor <= 0 {
		cfg.OverfetchFactor = def.OverfetchFactor
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = def.OpTimeout
	}
	if cfg.RetryAttempts < 0 {
		cfg.RetryAttempts = def.RetryAttempts
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = def.RetryBaseDelay
	}

	return &Gallery{
		embedder: embedder,
		blobs:    blobs,
		meta:     metaStore,
		index:    index,
		cfg:      cfg,
		log:      log,
		idLocks:  make(map[string]*sync.Mutex),
	}
}

// lockID returns the mutex serializing lifecycle operations for id.
func (g *Gallery) lockID(id string) *sync.Mutex {
	g.idLocksMu.Lock()
	defer g.idLocksMu.Unlock()
	mu, ok := g.idLocks[id]
	if !ok {
		mu = &sync.Mutex{}
		g.idLocks[id] = mu
	}
	return mu
}

func (g *Gallery) typeAllowed(contentType string) bool {
	for _, t := range g.cfg.AllowedTypes {
		if t == contentType {
			return true
		}
	}
	return false
}
