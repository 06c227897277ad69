package gallery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/disintegration/imaging"

	"imagesearch/internal/models"
)

// Original returns the stored original bytes for id together with the
// record describing them.
func (g *Gallery) Original(ctx context.Context, id string) ([]byte, *models.ImageRecord, error) {
	rec, err := g.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	var data []byte
	err = g.withRetry(ctx, "get original", func(ctx context.Context) error {
		var getErr error
		data, getErr = g.blobs.Get(ctx, rec.OriginalRef)
		if errors.Is(getErr, os.ErrNotExist) {
			return fmt.Errorf("%w: original blob missing for %s", models.ErrNotFound, id)
		}
		return asUnavailable(getErr)
	})
	if err != nil {
		return nil, nil, err
	}
	return data, rec, nil
}

// Thumbnail returns the thumbnail bytes for id. If the thumbnail blob
// is missing it is regenerated from the original. The regenerated
// bytes are stored back best-effort; with unchanged encoder settings
// they content-address to the record's existing reference, repairing
// the missing blob in place.
func (g *Gallery) Thumbnail(ctx context.Context, id string) ([]byte, *models.ImageRecord, error) {
	rec, err := g.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	var data []byte
	err = g.withRetry(ctx, "get thumbnail", func(ctx context.Context) error {
		var getErr error
		data, getErr = g.blobs.Get(ctx, rec.ThumbnailRef)
		if errors.Is(getErr, os.ErrNotExist) {
			return nil
		}
		return asUnavailable(getErr)
	})
	if err != nil {
		return nil, nil, err
	}
	if data != nil {
		return data, rec, nil
	}

	g.log.Warn("thumbnail missing, regenerating", "id", id, "ref", rec.ThumbnailRef)
	original, _, err := g.Original(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	img, err := imaging.Decode(bytes.NewReader(original), imaging.AutoOrientation(true))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", models.ErrCorruptImage, err)
	}
	thumb := imaging.Fit(img, g.cfg.ThumbnailMaxDim, g.cfg.ThumbnailMaxDim, imaging.Lanczos)
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		return nil, nil, fmt.Errorf("encode thumbnail: %w", err)
	}

	if ref, putErr := g.blobs.Put(context.WithoutCancel(ctx), buf.Bytes()); putErr != nil {
		g.log.Warn("storing regenerated thumbnail failed", "id", id, "error", putErr)
	} else if ref != rec.ThumbnailRef {
		g.log.Warn("regenerated thumbnail does not match stored ref", "id", id, "ref", ref, "want", rec.ThumbnailRef)
	}
	return buf.Bytes(), rec, nil
}
