package handlers

import (
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"

	"imagesearch/internal/gallery"
	"imagesearch/internal/ws"
)

const maxUploadSize = 50 * 1024 * 1024 // 50 MB per request

// Upload ingests a single image from a multipart form field "image".
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, "invalid multipart form: "+err.Error(), http.StatusBadRequest)
		return
	}

	file, fh, err := r.FormFile("image")
	if err != nil {
		http.Error(w, "missing image field: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer file.Close()

	up, err := readUpload(file, fh)
	if err != nil {
		http.Error(w, "read file: "+err.Error(), http.StatusBadRequest)
		return
	}

	rec, err := h.gal.Ingest(r.Context(), up)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.hub.Broadcast(ws.Message{Type: ws.TypeImageIngested, ID: rec.ID, Payload: rec})
	writeJSON(w, http.StatusCreated, rec)
}

// UploadBatch ingests every file in the multipart field "images". Each
// file succeeds or fails on its own; per-item progress is pushed over
// the websocket hub and the full event list is returned at the end.
func (h *Handler) UploadBatch(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, "invalid multipart form: "+err.Error(), http.StatusBadRequest)
		return
	}
	if r.MultipartForm == nil || len(r.MultipartForm.File["images"]) == 0 {
		http.Error(w, "missing images field", http.StatusBadRequest)
		return
	}

	var ups []gallery.Upload
	for _, fh := range r.MultipartForm.File["images"] {
		file, err := fh.Open()
		if err != nil {
			http.Error(w, "open file: "+err.Error(), http.StatusBadRequest)
			return
		}
		up, err := readUpload(file, fh)
		file.Close()
		if err != nil {
			http.Error(w, "read file: "+err.Error(), http.StatusBadRequest)
			return
		}
		ups = append(ups, up)
	}

	events := h.gal.IngestBatch(r.Context(), ups, func(ev gallery.BatchEvent) {
		h.hub.Broadcast(ws.Message{Type: ws.TypeIngestProgress, Payload: ev})
	})

	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func readUpload(file multipart.File, fh *multipart.FileHeader) (gallery.Upload, error) {
	data, err := io.ReadAll(file)
	if err != nil {
		return gallery.Upload{}, err
	}
	contentType := fh.Header.Get("Content-Type")
	if contentType == "" {
		contentType = detectContentType(fh.Filename)
	}
	return gallery.Upload{
		Filename:    filepath.Base(fh.Filename),
		ContentType: contentType,
		Data:        data,
	}, nil
}

func detectContentType(filename string) string {
	switch filepath.Ext(filename) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	case ".gif":
		return "image/gif"
	default:
		return "application/octet-stream"
	}
}
