package gallery_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/color"
	"image/jpeg"
	"image/png"
	"math/rand"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"imagesearch/internal/blob"
	"imagesearch/internal/gallery"
	"imagesearch/internal/logger"
	"imagesearch/internal/meta"
	"imagesearch/internal/models"
	"imagesearch/internal/vecindex"
)

var _ = Describe("Gallery", func() {
	var (
		ctx      context.Context
		embedder *fakeEmbedder
		blobs    blob.Store
		metaSt   *flakyMeta
		index    *flakyIndex
		gal      *gallery.Gallery

		redPNG  []byte
		bluePNG []byte
	)

	BeforeEach(func() {
		ctx = context.Background()

		var err error
		blobs, err = blob.NewLocal(GinkgoT().TempDir())
		Expect(err).NotTo(HaveOccurred())

		embedder = newFakeEmbedder()
		metaSt = &flakyMeta{Store: meta.NewMemory()}
		index = &flakyIndex{Index: vecindex.NewMemory()}

		gal = gallery.New(embedder, blobs, metaSt, index, gallery.Config{
			RetryAttempts:  1,
			RetryBaseDelay: time.Millisecond,
		}, logger.Nop())

		redPNG = makePNG(color.RGBA{R: 255, A: 255})
		bluePNG = makePNG(color.RGBA{B: 255, A: 255})
		embedder.registerImage(redPNG, []float32{1, 0, 0})
		embedder.registerImage(bluePNG, []float32{0, 1, 0})
		embedder.texts["a red car"] = []float32{1, 0, 0}
		embedder.texts["blue ocean"] = []float32{0, 1, 0}
	})

	ingestRed := func() *models.ImageRecord {
		rec, err := gal.Ingest(ctx, gallery.Upload{
			Filename: "red.png", ContentType: "image/png", Data: redPNG,
		})
		Expect(err).NotTo(HaveOccurred())
		return rec
	}

	ingestBlue := func() *models.ImageRecord {
		rec, err := gal.Ingest(ctx, gallery.Upload{
			Filename: "blue.png", ContentType: "image/png", Data: bluePNG,
		})
		Expect(err).NotTo(HaveOccurred())
		return rec
	}

	Describe("Ingest", func() {
		It("stores blobs, vector and metadata for a valid upload", func() {
			rec := ingestRed()

			Expect(rec.ID).NotTo(BeEmpty())
			Expect(rec.Status).To(Equal(models.StatusActive))
			Expect(rec.Checksum).To(Equal(blob.RefFor(redPNG)))
			Expect(rec.Size).To(Equal(int64(len(redPNG))))
			Expect(rec.OriginalRef).NotTo(BeEmpty())
			Expect(rec.ThumbnailRef).NotTo(BeEmpty())
			Expect(rec.ThumbnailRef).NotTo(Equal(rec.OriginalRef))

			Expect(blobs.Exists(ctx, rec.OriginalRef)).To(BeTrue())
			Expect(blobs.Exists(ctx, rec.ThumbnailRef)).To(BeTrue())
			Expect(index.Has(ctx, rec.ID)).To(BeTrue())

			stored, err := gal.Get(ctx, rec.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.Filename).To(Equal("red.png"))
		})

		It("rejects a content type outside the whitelist", func() {
			_, err := gal.Ingest(ctx, gallery.Upload{
				Filename: "doc.pdf", ContentType: "application/pdf", Data: redPNG,
			})
			Expect(err).To(MatchError(models.ErrUnsupportedFormat))
			Expect(index.Count(ctx)).To(Equal(0))
		})

		It("rejects undecodable bytes without writing anything", func() {
			_, err := gal.Ingest(ctx, gallery.Upload{
				Filename: "junk.png", ContentType: "image/png", Data: []byte("not a png"),
			})
			Expect(err).To(MatchError(models.ErrCorruptImage))

			Expect(index.Count(ctx)).To(Equal(0))
			recs, err := gal.List(ctx, meta.ListFilter{})
			Expect(err).NotTo(HaveOccurred())
			Expect(recs).To(BeEmpty())
		})

		It("rejects a duplicate checksum", func() {
			ingestRed()
			_, err := gal.Ingest(ctx, gallery.Upload{
				Filename: "red-again.png", ContentType: "image/png", Data: redPNG,
			})
			Expect(err).To(MatchError(models.ErrDuplicateImage))

			var ingestErr *models.IngestError
			Expect(errors.As(err, &ingestErr)).To(BeTrue())
			Expect(ingestErr.Filename).To(Equal("red-again.png"))
		})

		It("compensates blobs when indexing fails", func() {
			index.failUpsert = errBackendDown
			_, err := gal.Ingest(ctx, gallery.Upload{
				Filename: "red.png", ContentType: "image/png", Data: redPNG,
			})
			Expect(err).To(MatchError(models.ErrStoreUnavailable))

			Expect(blobs.Exists(ctx, blob.RefFor(redPNG))).To(BeFalse())
			recs, err := gal.List(ctx, meta.ListFilter{})
			Expect(err).NotTo(HaveOccurred())
			Expect(recs).To(BeEmpty())
		})

		It("compensates blobs and vector when the metadata insert fails", func() {
			metaSt.failInsert = errBackendDown
			_, err := gal.Ingest(ctx, gallery.Upload{
				Filename: "red.png", ContentType: "image/png", Data: redPNG,
			})
			Expect(err).To(MatchError(models.ErrStoreUnavailable))

			Expect(blobs.Exists(ctx, blob.RefFor(redPNG))).To(BeFalse())
			Expect(index.Count(ctx)).To(Equal(0))
		})
	})

	Describe("Search", func() {
		It("ranks by similarity to the query text", func() {
			red := ingestRed()
			blue := ingestBlue()

			results, err := gal.Search(ctx, "a red car", gallery.SearchOptions{TopK: 10})
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(2))
			Expect(results[0].Record.ID).To(Equal(red.ID))
			Expect(results[0].Score).To(BeNumerically(">", results[1].Score))
			Expect(results[1].Record.ID).To(Equal(blue.ID))
		})

		It("truncates to top-k", func() {
			ingestRed()
			ingestBlue()

			results, err := gal.Search(ctx, "a red car", gallery.SearchOptions{TopK: 1})
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(1))
		})

		It("returns nothing for a blank query", func() {
			ingestRed()
			results, err := gal.Search(ctx, "   ", gallery.SearchOptions{})
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(BeEmpty())
		})

		It("retries a transient metadata read while joining results", func() {
			red := ingestRed()

			metaSt.getFails = 1
			metaSt.getErr = errBackendDown

			results, err := gal.Search(ctx, "a red car", gallery.SearchOptions{TopK: 10})
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(1))
			Expect(results[0].Record.ID).To(Equal(red.ID))
		})

		It("surfaces embedding failures", func() {
			embedder.failText = models.ErrEmbeddingFailure
			_, err := gal.Search(ctx, "anything", gallery.SearchOptions{})
			Expect(err).To(MatchError(models.ErrEmbeddingFailure))
		})
	})

	Describe("Lifecycle", func() {
		It("hides trashed records from default search and shows them on request", func() {
			red := ingestRed()
			ingestBlue()

			_, err := gal.Trash(ctx, red.ID)
			Expect(err).NotTo(HaveOccurred())

			results, err := gal.Search(ctx, "a red car", gallery.SearchOptions{TopK: 10})
			Expect(err).NotTo(HaveOccurred())
			for _, r := range results {
				Expect(r.Record.ID).NotTo(Equal(red.ID))
			}

			results, err = gal.Search(ctx, "a red car", gallery.SearchOptions{TopK: 10, IncludeTrashed: true})
			Expect(err).NotTo(HaveOccurred())
			Expect(results[0].Record.ID).To(Equal(red.ID))
			Expect(results[0].Record.Status).To(Equal(models.StatusTrashed))
			Expect(results[0].Record.TrashedAt).NotTo(BeNil())
		})

		It("restores a trashed record to searchability", func() {
			red := ingestRed()

			_, err := gal.Trash(ctx, red.ID)
			Expect(err).NotTo(HaveOccurred())
			restored, err := gal.Restore(ctx, red.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(restored.Status).To(Equal(models.StatusActive))
			Expect(restored.TrashedAt).To(BeNil())

			results, err := gal.Search(ctx, "a red car", gallery.SearchOptions{TopK: 10})
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(1))
			Expect(results[0].Record.ID).To(Equal(red.ID))
		})

		It("rejects illegal transitions", func() {
			red := ingestRed()

			_, err := gal.Restore(ctx, red.ID)
			Expect(err).To(MatchError(models.ErrInvalidTransition))

			Expect(gal.Purge(ctx, red.ID)).To(MatchError(models.ErrInvalidTransition))

			_, err = gal.Trash(ctx, red.ID)
			Expect(err).NotTo(HaveOccurred())
			_, err = gal.Trash(ctx, red.ID)
			Expect(err).To(MatchError(models.ErrInvalidTransition))
		})

		It("purge removes vector, blobs and the record", func() {
			red := ingestRed()

			_, err := gal.Trash(ctx, red.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(gal.Purge(ctx, red.ID)).To(Succeed())

			Expect(index.Has(ctx, red.ID)).To(BeFalse())
			Expect(blobs.Exists(ctx, red.OriginalRef)).To(BeFalse())
			Expect(blobs.Exists(ctx, red.ThumbnailRef)).To(BeFalse())

			_, err = gal.Get(ctx, red.ID)
			Expect(err).To(MatchError(models.ErrNotFound))

			results, err := gal.Search(ctx, "a red car", gallery.SearchOptions{TopK: 10, IncludeTrashed: true})
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(BeEmpty())
		})

		It("keeps a blob still referenced by another record at purge", func() {
			raw := makePNGLevel(color.RGBA{G: 200, A: 255}, png.NoCompression)
			packed := makePNGLevel(color.RGBA{G: 200, A: 255}, png.BestCompression)
			embedder.registerImage(raw, []float32{0, 1, 0})
			embedder.registerImage(packed, []float32{0, 1, 0})

			a, err := gal.Ingest(ctx, gallery.Upload{
				Filename: "raw.png", ContentType: "image/png", Data: raw,
			})
			Expect(err).NotTo(HaveOccurred())
			b, err := gal.Ingest(ctx, gallery.Upload{
				Filename: "packed.png", ContentType: "image/png", Data: packed,
			})
			Expect(err).NotTo(HaveOccurred())

			// Byte-distinct files with identical pixels: two checksums,
			// one content-addressed thumbnail.
			Expect(a.Checksum).NotTo(Equal(b.Checksum))
			Expect(a.ThumbnailRef).To(Equal(b.ThumbnailRef))

			_, err = gal.Trash(ctx, a.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(gal.Purge(ctx, a.ID)).To(Succeed())

			Expect(blobs.Exists(ctx, a.OriginalRef)).To(BeFalse())
			Expect(blobs.Exists(ctx, b.ThumbnailRef)).To(BeTrue())

			data, _, err := gal.Thumbnail(ctx, b.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(data).NotTo(BeEmpty())
		})

		It("retries a transient metadata read before trashing", func() {
			red := ingestRed()

			metaSt.getFails = 1
			metaSt.getErr = errBackendDown

			rec, err := gal.Trash(ctx, red.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.Status).To(Equal(models.StatusTrashed))
		})

		It("reports a second purge as not found", func() {
			red := ingestRed()
			_, err := gal.Trash(ctx, red.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(gal.Purge(ctx, red.ID)).To(Succeed())
			Expect(gal.Purge(ctx, red.ID)).To(MatchError(models.ErrNotFound))
		})

		It("frees the checksum for re-upload after purge", func() {
			red := ingestRed()
			_, err := gal.Trash(ctx, red.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(gal.Purge(ctx, red.ID)).To(Succeed())

			again := ingestRed()
			Expect(again.ID).NotTo(Equal(red.ID))
		})
	})

	Describe("IngestBatch", func() {
		It("isolates failures and reports per-item events in order", func() {
			uploads := []gallery.Upload{
				{Filename: "a.png", ContentType: "image/png", Data: makePNG(color.RGBA{R: 10, A: 255})},
				{Filename: "b.png", ContentType: "image/png", Data: makePNG(color.RGBA{R: 20, A: 255})},
				{Filename: "c.png", ContentType: "image/png", Data: []byte("broken")},
				{Filename: "d.png", ContentType: "image/png", Data: makePNG(color.RGBA{R: 40, A: 255})},
				{Filename: "e.png", ContentType: "image/png", Data: makePNG(color.RGBA{R: 50, A: 255})},
			}

			var seen []gallery.BatchEvent
			events := gal.IngestBatch(ctx, uploads, func(ev gallery.BatchEvent) {
				seen = append(seen, ev)
			})

			Expect(events).To(HaveLen(5))
			Expect(seen).To(HaveLen(5))
			for i, ev := range events {
				Expect(ev.Index).To(Equal(i))
				Expect(ev.Total).To(Equal(5))
				Expect(ev.Filename).To(Equal(uploads[i].Filename))
			}
			Expect(events[2].Err).To(MatchError(models.ErrCorruptImage))
			Expect(events[2].Record).To(BeNil())

			recs, err := gal.List(ctx, meta.ListFilter{})
			Expect(err).NotTo(HaveOccurred())
			Expect(recs).To(HaveLen(4))
		})

		It("skips remaining items once the context is cancelled", func() {
			cancelled, cancel := context.WithCancel(ctx)
			cancel()

			events := gal.IngestBatch(cancelled, []gallery.Upload{
				{Filename: "a.png", ContentType: "image/png", Data: redPNG},
			}, nil)
			Expect(events).To(HaveLen(1))
			Expect(events[0].Err).To(MatchError(context.Canceled))
		})
	})

	Describe("Media", func() {
		It("serves the original bytes", func() {
			red := ingestRed()
			data, rec, err := gal.Original(ctx, red.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(data).To(Equal(redPNG))
			Expect(rec.ID).To(Equal(red.ID))
		})

		It("serves a stored thumbnail as JPEG", func() {
			red := ingestRed()
			data, _, err := gal.Thumbnail(ctx, red.ID)
			Expect(err).NotTo(HaveOccurred())

			_, err = jpeg.Decode(bytes.NewReader(data))
			Expect(err).NotTo(HaveOccurred())
		})

		It("regenerates a missing thumbnail from the original", func() {
			red := ingestRed()
			Expect(blobs.Delete(ctx, red.ThumbnailRef)).To(Succeed())

			data, _, err := gal.Thumbnail(ctx, red.ID)
			Expect(err).NotTo(HaveOccurred())

			img, err := jpeg.Decode(bytes.NewReader(data))
			Expect(err).NotTo(HaveOccurred())
			Expect(img.Bounds().Dx()).To(BeNumerically("<=", gallery.DefaultConfig().ThumbnailMaxDim))
		})
	})

	Describe("Consistency", func() {
		It("keeps the three stores aligned through random lifecycle churn", func() {
			rng := rand.New(rand.NewSource(1))

			var ids []string
			for i := 0; i < 6; i++ {
				data := makePNG(color.RGBA{R: uint8(60 + i*20), G: uint8(i * 10), A: 255})
				embedder.registerImage(data, []float32{float32(i + 1), 1, 0})
				rec, err := gal.Ingest(ctx, gallery.Upload{
					Filename: fmt.Sprintf("img-%d.png", i), ContentType: "image/png", Data: data,
				})
				Expect(err).NotTo(HaveOccurred())
				ids = append(ids, rec.ID)
			}

			purged := map[string]bool{}
			for step := 0; step < 60; step++ {
				id := ids[rng.Intn(len(ids))]
				var err error
				switch rng.Intn(3) {
				case 0:
					_, err = gal.Trash(ctx, id)
				case 1:
					_, err = gal.Restore(ctx, id)
				case 2:
					if err = gal.Purge(ctx, id); err == nil {
						purged[id] = true
					}
				}
				if err != nil {
					Expect(err).To(Or(
						MatchError(models.ErrInvalidTransition),
						MatchError(models.ErrNotFound),
					))
				}

				recs, err := gal.List(ctx, meta.ListFilter{Limit: len(ids)})
				Expect(err).NotTo(HaveOccurred())
				Expect(recs).To(HaveLen(len(ids) - len(purged)))
				for _, rec := range recs {
					Expect(index.Has(ctx, rec.ID)).To(BeTrue())
					Expect(blobs.Exists(ctx, rec.OriginalRef)).To(BeTrue())
					Expect(blobs.Exists(ctx, rec.ThumbnailRef)).To(BeTrue())
				}
				for gone := range purged {
					_, err := gal.Get(ctx, gone)
					Expect(err).To(MatchError(models.ErrNotFound))
					Expect(index.Has(ctx, gone)).To(BeFalse())
				}
				Expect(index.Count(ctx)).To(Equal(len(ids) - len(purged)))
			}
		})
	})

	Describe("Reindex", func() {
		It("re-embeds records whose vector is missing", func() {
			red := ingestRed()
			blue := ingestBlue()
			Expect(index.Delete(ctx, red.ID)).To(Succeed())

			report, err := gal.Reindex(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Scanned).To(Equal(2))
			Expect(report.Indexed).To(Equal(1))
			Expect(report.Skipped).To(Equal(1))
			Expect(report.Failures).To(BeZero())

			results, err := gal.Search(ctx, "a red car", gallery.SearchOptions{TopK: 10})
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(2))
			Expect(results[0].Record.ID).To(Equal(red.ID))
			Expect(results[1].Record.ID).To(Equal(blue.ID))
		})

		It("is a no-op on a fully indexed gallery", func() {
			ingestRed()
			report, err := gal.Reindex(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Indexed).To(BeZero())
			Expect(report.Skipped).To(Equal(1))
		})
	})
})
