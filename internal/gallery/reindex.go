package gallery

import (
	"context"

	"imagesearch/internal/meta"
	"imagesearch/internal/models"
)

// ReindexReport summarizes a Reindex run.
type ReindexReport struct {
	Scanned  int `json:"scanned"`
	Indexed  int `json:"indexed"`
	Skipped  int `json:"skipped"`
	Failures int `json:"failures"`
}

// Reindex walks every metadata record and re-embeds those without a
// vector entry, repairing an index that was rebuilt, lost or switched
// to a different backend. Records that already have a vector are left
// alone, so the operation is idempotent and safe to run any time.
func (g *Gallery) Reindex(ctx context.Context) (*ReindexReport, error) {
	report := &ReindexReport{}

	for offset := 0; ; offset += meta.DefaultListLimit {
		var recs []*models.ImageRecord
		err := g.withRetry(ctx, "list for reindex", func(ctx context.Context) error {
			var listErr error
			recs, listErr = g.meta.List(ctx, meta.ListFilter{Offset: offset, Limit: meta.DefaultListLimit})
			return asUnavailable(listErr)
		})
		if err != nil {
			return report, err
		}
		if len(recs) == 0 {
			break
		}

		for _, rec := range recs {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			report.Scanned++

			has, err := g.index.Has(ctx, rec.ID)
			if err != nil {
				g.log.Warn("reindex check failed", "id", rec.ID, "error", err)
				report.Failures++
				continue
			}
			if has {
				report.Skipped++
				continue
			}

			if err := g.reindexOne(ctx, rec); err != nil {
				g.log.Warn("reindex failed", "id", rec.ID, "filename", rec.Filename, "error", err)
				report.Failures++
				continue
			}
			report.Indexed++
		}
	}

	g.log.Info("reindex finished",
		"scanned", report.Scanned, "indexed", report.Indexed,
		"skipped", report.Skipped, "failures", report.Failures)
	return report, nil
}

func (g *Gallery) reindexOne(ctx context.Context, rec *models.ImageRecord) error {
	var data []byte
	err := g.withRetry(ctx, "get original for reindex", func(ctx context.Context) error {
		var getErr error
		data, getErr = g.blobs.Get(ctx, rec.OriginalRef)
		return asUnavailable(getErr)
	})
	if err != nil {
		return err
	}

	var vector []float32
	err = g.withRetry(ctx, "embed for reindex", func(ctx context.Context) error {
		var embedErr error
		vector, embedErr = g.embedder.EmbedImage(ctx, data)
		return embedErr
	})
	if err != nil {
		return err
	}

	return g.withRetry(ctx, "upsert for reindex", func(ctx context.Context) error {
		return asUnavailable(g.index.Upsert(ctx, rec.ID, vector))
	})
}
