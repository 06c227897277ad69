package gallery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"

	"imagesearch/internal/blob"
	"imagesearch/internal/models"
)

// Upload is one image submitted for ingestion.
type Upload struct {
	Filename    string
	ContentType string
	Data        []byte
}

// BatchEvent reports progress of a batch ingestion. Exactly one event
// is emitted per item, in submission order.
type BatchEvent struct {
	Index    int                 `json:"index"`
	Total    int                 `json:"total"`
	Filename string              `json:"filename"`
	Record   *models.ImageRecord `json:"record,omitempty"`
	Err      error               `json:"-"`
	Error    string              `json:"error,omitempty"`
}

// Ingest validates, thumbnails, embeds and stores a single upload.
//
// Writes are ordered so that the metadata insert is the commit point:
// blobs first, then the vector entry, then metadata. If any later step
// fails, the earlier writes are compensated with best-effort deletes,
// so a failed ingestion leaves at worst unreferenced garbage that no
// search or listing can observe.
func (g *Gallery) Ingest(ctx context.Context, up Upload) (*models.ImageRecord, error) {
	rec, err := g.ingest(ctx, up)
	if err != nil {
		return nil, &models.IngestError{Filename: up.Filename, Err: err}
	}
	return rec, nil
}

func (g *Gallery) ingest(ctx context.Context, up Upload) (*models.ImageRecord, error) {
	if !g.typeAllowed(up.ContentType) {
		return nil, fmt.Errorf("%w: %s", models.ErrUnsupportedFormat, up.ContentType)
	}

	checksum := blob.RefFor(up.Data)
	err := g.withRetry(ctx, "find duplicate", func(ctx context.Context) error {
		_, err := g.meta.FindByChecksum(ctx, checksum)
		if errors.Is(err, models.ErrNotFound) {
			return nil
		}
		if err != nil {
			return asUnavailable(err)
		}
		return models.ErrDuplicateImage
	})
	if err != nil {
		return nil, err
	}

	// Decoding doubles as validation: undecodable bytes are rejected
	// before anything is written.
	img, err := imaging.Decode(bytes.NewReader(up.Data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrCorruptImage, err)
	}

	thumb := imaging.Fit(img, g.cfg.ThumbnailMaxDim, g.cfg.ThumbnailMaxDim, imaging.Lanczos)
	var thumbBuf bytes.Buffer
	if err := imaging.Encode(&thumbBuf, thumb, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		return nil, fmt.Errorf("encode thumbnail: %w", err)
	}
	thumbData := thumbBuf.Bytes()

	var vector []float32
	err = g.withRetry(ctx, "embed image", func(ctx context.Context) error {
		var embedErr error
		vector, embedErr = g.embedder.EmbedImage(ctx, up.Data)
		return embedErr
	})
	if err != nil {
		return nil, err
	}

	var originalRef, thumbnailRef string
	err = g.withRetry(ctx, "store original", func(ctx context.Context) error {
		var putErr error
		originalRef, putErr = g.blobs.Put(ctx, up.Data)
		return asUnavailable(putErr)
	})
	if err != nil {
		return nil, err
	}
	err = g.withRetry(ctx, "store thumbnail", func(ctx context.Context) error {
		var putErr error
		thumbnailRef, putErr = g.blobs.Put(ctx, thumbData)
		return asUnavailable(putErr)
	})
	if err != nil {
		g.compensate(ctx, "", originalRef, "")
		return nil, err
	}

	id := uuid.NewString()
	err = g.withRetry(ctx, "index vector", func(ctx context.Context) error {
		return asUnavailable(g.index.Upsert(ctx, id, vector))
	})
	if err != nil {
		g.compensate(ctx, "", originalRef, thumbnailRef)
		return nil, err
	}

	rec := &models.ImageRecord{
		ID:           id,
		Filename:     up.Filename,
		ContentType:  up.ContentType,
		Size:         int64(len(up.Data)),
		Checksum:     checksum,
		Status:       models.StatusActive,
		UploadedAt:   time.Now().UTC(),
		OriginalRef:  originalRef,
		ThumbnailRef: thumbnailRef,
	}
	err = g.withRetry(ctx, "insert metadata", func(ctx context.Context) error {
		return asUnavailable(g.meta.Insert(ctx, rec))
	})
	if err != nil {
		g.compensate(ctx, id, originalRef, thumbnailRef)
		return nil, err
	}

	g.log.Info("image ingested", "id", id, "filename", up.Filename, "size", rec.Size)
	return rec, nil
}

// compensate undoes partial ingestion writes. Failures are logged, not
// surfaced: the leftovers are unreferenced and invisible to queries.
func (g *Gallery) compensate(ctx context.Context, id, originalRef, thumbnailRef string) {
	ctx = context.WithoutCancel(ctx)
	if id != "" {
		if err := g.index.Delete(ctx, id); err != nil {
			g.log.Warn("compensating index delete failed", "id", id, "error", err)
		}
	}
	for _, ref := range []string{originalRef, thumbnailRef} {
		if ref == "" {
			continue
		}
		// Content-addressed blobs can be shared with committed records;
		// when in doubt, leak the blob rather than break a referrer.
		shared, err := g.blobRefShared(ctx, ref, "")
		if err != nil {
			g.log.Warn("compensating referrer scan failed, keeping blob", "ref", ref, "error", err)
			continue
		}
		if shared {
			continue
		}
		if err := g.blobs.Delete(ctx, ref); err != nil {
			g.log.Warn("compensating blob delete failed", "ref", ref, "error", err)
		}
	}
}

// IngestBatch ingests uploads one at a time. Items are isolated: one
// failure never aborts the rest, and the returned events attribute
// each outcome to its upload. The optional progress callback receives
// every event as it happens.
//
// Cancellation is checked between items only. An item whose writes
// have started always runs to completion or compensation, so the
// stores are never left mid-sequence.
func (g *Gallery) IngestBatch(ctx context.Context, ups []Upload, progress func(BatchEvent)) []BatchEvent {
	events := make([]BatchEvent, 0, len(ups))
	for i, up := range ups {
		ev := BatchEvent{Index: i, Total: len(ups), Filename: up.Filename}

		if err := ctx.Err(); err != nil {
			ev.Err = err
			ev.Error = err.Error()
		} else {
			rec, err := g.Ingest(context.WithoutCancel(ctx), up)
			if err != nil {
				ev.Err = err
				ev.Error = err.Error()
			} else {
				ev.Record = rec
			}
		}

		events = append(events, ev)
		if progress != nil {
			progress(ev)
		}
	}
	return events
}
