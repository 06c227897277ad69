package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Original answers GET /api/images/{id}/original with the stored bytes.
func (h *Handler) Original(w http.ResponseWriter, r *http.Request) {
	data, rec, err := h.gal.Original(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", rec.ContentType)
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.Write(data)
}

// Thumbnail answers GET /api/images/{id}/thumbnail. Thumbnails are
// always JPEG, regenerated on the fly if the stored one is missing.
func (h *Handler) Thumbnail(w http.ResponseWriter, r *http.Request) {
	data, _, err := h.gal.Thumbnail(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.Write(data)
}
