package gallery

import (
	"context"
	"errors"
	"sort"
	"strings"

	"imagesearch/internal/models"
	"imagesearch/internal/vecindex"
)

// DefaultTopK is the result count used when a search asks for k <= 0.
const DefaultTopK = 12

// Result is one search hit: the metadata record joined with its
// similarity score.
type Result struct {
	Record *models.ImageRecord `json:"record"`
	Score  float32             `json:"score"`
}

// SearchOptions tunes a text search.
type SearchOptions struct {
	// TopK is the maximum number of results. Defaults to DefaultTopK.
	TopK int

	// IncludeTrashed also surfaces trashed records. Active records are
	// always included.
	IncludeTrashed bool
}

// Search embeds the query text and returns the most similar images,
// ordered by score descending.
//
// The index is overfetched by OverfetchFactor so that hits filtered
// out afterwards (trashed records, entries whose metadata is gone mid
// purge) do not shrink the page below k when enough candidates exist.
func (g *Gallery) Search(ctx context.Context, query string, opts SearchOptions) ([]Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	k := opts.TopK
	if k <= 0 {
		k = DefaultTopK
	}

	var vector []float32
	err := g.withRetry(ctx, "embed query", func(ctx context.Context) error {
		var embedErr error
		vector, embedErr = g.embedder.EmbedText(ctx, query)
		return embedErr
	})
	if err != nil {
		return nil, err
	}

	var matches []vecindex.Match
	err = g.withRetry(ctx, "query index", func(ctx context.Context) error {
		var queryErr error
		matches, queryErr = g.index.Query(ctx, vector, k*g.cfg.OverfetchFactor)
		return asUnavailable(queryErr)
	})
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, k)
	for _, m := range matches {
		rec, getErr := g.Get(ctx, m.ID)
		if errors.Is(getErr, models.ErrNotFound) {
			// Vector outlived its record, e.g. a purge racing this
			// query. Skip rather than fail.
			continue
		}
		if getErr != nil {
			return nil, getErr
		}
		switch rec.Status {
		case models.StatusActive:
		case models.StatusTrashed:
			if !opts.IncludeTrashed {
				continue
			}
		default:
			continue
		}
		results = append(results, Result{Record: rec, Score: m.Score})
	}

	// Backends already rank by score, but the join can reorder ties.
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Record.UploadedAt.After(results[j].Record.UploadedAt)
	})
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}
