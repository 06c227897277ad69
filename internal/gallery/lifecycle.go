package gallery

import (
	"context"
	"fmt"
	"time"

	"imagesearch/internal/meta"
	"imagesearch/internal/models"
)

// Get returns the metadata record for id.
func (g *Gallery) Get(ctx context.Context, id string) (*models.ImageRecord, error) {
	var rec *models.ImageRecord
	err := g.withRetry(ctx, "get metadata", func(ctx context.Context) error {
		var getErr error
		rec, getErr = g.meta.Get(ctx, id)
		return asUnavailable(getErr)
	})
	return rec, err
}

// List pages metadata records, most recently uploaded first.
func (g *Gallery) List(ctx context.Context, f meta.ListFilter) ([]*models.ImageRecord, error) {
	var recs []*models.ImageRecord
	err := g.withRetry(ctx, "list metadata", func(ctx context.Context) error {
		var listErr error
		recs, listErr = g.meta.List(ctx, f)
		return asUnavailable(listErr)
	})
	return recs, err
}

// Trash soft-deletes an active record. Binaries and the vector entry
// are kept so the record can be restored; the record just stops
// appearing in default searches and listings.
func (g *Gallery) Trash(ctx context.Context, id string) (*models.ImageRecord, error) {
	mu := g.lockID(id)
	mu.Lock()
	defer mu.Unlock()

	rec, err := g.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Status != models.StatusActive {
		return nil, fmt.Errorf("%w: cannot trash %s record %s", models.ErrInvalidTransition, rec.Status, id)
	}

	now := time.Now().UTC()
	err = g.withRetry(ctx, "trash", func(ctx context.Context) error {
		return asUnavailable(g.meta.UpdateStatus(ctx, id, models.StatusActive, models.StatusTrashed, &now))
	})
	if err != nil {
		return nil, err
	}

	rec.Status = models.StatusTrashed
	rec.TrashedAt = &now
	g.log.Info("image trashed", "id", id)
	return rec, nil
}

// Restore moves a trashed record back to active.
func (g *Gallery) Restore(ctx context.Context, id string) (*models.ImageRecord, error) {
	mu := g.lockID(id)
	mu.Lock()
	defer mu.Unlock()

	rec, err := g.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Status != models.StatusTrashed {
		return nil, fmt.Errorf("%w: cannot restore %s record %s", models.ErrInvalidTransition, rec.Status, id)
	}

	err = g.withRetry(ctx, "restore", func(ctx context.Context) error {
		return asUnavailable(g.meta.UpdateStatus(ctx, id, models.StatusTrashed, models.StatusActive, nil))
	})
	if err != nil {
		return nil, err
	}

	rec.Status = models.StatusActive
	rec.TrashedAt = nil
	g.log.Info("image restored", "id", id)
	return rec, nil
}

// Purge permanently removes a trashed record: vector entry first, then
// binaries, then the metadata record itself. Ordering matters: the
// record stays visible as trashed until its dependents are gone, so a
// crash mid-purge can be finished by purging again, and no surviving
// record ever points at deleted data.
func (g *Gallery) Purge(ctx context.Context, id string) error {
	mu := g.lockID(id)
	mu.Lock()
	defer mu.Unlock()

	rec, err := g.Get(ctx, id)
	if err != nil {
		return err
	}
	if rec.Status != models.StatusTrashed {
		return fmt.Errorf("%w: cannot purge %s record %s", models.ErrInvalidTransition, rec.Status, id)
	}

	// Once deletion starts it runs to completion even if the caller
	// goes away, so the stores are not left mid-sequence.
	ctx = context.WithoutCancel(ctx)

	if err := g.withRetry(ctx, "purge vector", func(ctx context.Context) error {
		return asUnavailable(g.index.Delete(ctx, id))
	}); err != nil {
		return err
	}

	// Blobs are content-addressed, so identical bytes (e.g. thumbnails
	// of two same-pixel originals) share one ref across records. Only
	// delete a blob nothing else points at.
	refs := []string{rec.ThumbnailRef, rec.OriginalRef}
	for _, ref := range refs {
		if ref == "" {
			continue
		}
		shared, err := g.blobRefShared(ctx, ref, id)
		if err != nil {
			return err
		}
		if shared {
			g.log.Info("keeping blob shared with another record", "id", id, "ref", ref)
			continue
		}
		if err := g.withRetry(ctx, "purge blob", func(ctx context.Context) error {
			return asUnavailable(g.blobs.Delete(ctx, ref))
		}); err != nil {
			return err
		}
	}

	if err := g.withRetry(ctx, "purge metadata", func(ctx context.Context) error {
		return asUnavailable(g.meta.Delete(ctx, id))
	}); err != nil {
		return err
	}

	g.log.Info("image purged", "id", id)
	return nil
}

// blobRefShared reports whether any record other than excludeID still
// references ref as its original or thumbnail.
func (g *Gallery) blobRefShared(ctx context.Context, ref, excludeID string) (bool, error) {
	for offset := 0; ; offset += meta.DefaultListLimit {
		var recs []*models.ImageRecord
		err := g.withRetry(ctx, "scan blob referrers", func(ctx context.Context) error {
			var listErr error
			recs, listErr = g.meta.List(ctx, meta.ListFilter{Offset: offset, Limit: meta.DefaultListLimit})
			return asUnavailable(listErr)
		})
		if err != nil {
			return false, err
		}
		if len(recs) == 0 {
			return false, nil
		}
		for _, rec := range recs {
			if rec.ID == excludeID {
				continue
			}
			if rec.OriginalRef == ref || rec.ThumbnailRef == ref {
				return true, nil
			}
		}
	}
}
