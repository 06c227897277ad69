package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"imagesearch/internal/meta"
	"imagesearch/internal/models"
	"imagesearch/internal/ws"
)

// List answers GET /api/images?status=...&offset=...&limit=...
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	f := meta.ListFilter{}

	if s := r.URL.Query().Get("status"); s != "" {
		status, ok := models.ParseStatus(s)
		if !ok {
			http.Error(w, "invalid status", http.StatusBadRequest)
			return
		}
		f.Status = status
	}
	if o := r.URL.Query().Get("offset"); o != "" {
		n, err := strconv.Atoi(o)
		if err != nil || n < 0 {
			http.Error(w, "invalid offset", http.StatusBadRequest)
			return
		}
		f.Offset = n
	}
	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		f.Limit = n
	}

	recs, err := h.gal.List(r.Context(), f)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if recs == nil {
		recs = []*models.ImageRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"images": recs, "count": len(recs)})
}

// Get answers GET /api/images/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	rec, err := h.gal.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// Trash answers POST /api/images/{id}/trash.
func (h *Handler) Trash(w http.ResponseWriter, r *http.Request) {
	rec, err := h.gal.Trash(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.hub.Broadcast(ws.Message{Type: ws.TypeImageTrashed, ID: rec.ID, Payload: rec})
	writeJSON(w, http.StatusOK, rec)
}

// Restore answers POST /api/images/{id}/restore.
func (h *Handler) Restore(w http.ResponseWriter, r *http.Request) {
	rec, err := h.gal.Restore(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.hub.Broadcast(ws.Message{Type: ws.TypeImageRestored, ID: rec.ID, Payload: rec})
	writeJSON(w, http.StatusOK, rec)
}

// Purge answers DELETE /api/images/{id}.
func (h *Handler) Purge(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.gal.Purge(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}
	h.hub.Broadcast(ws.Message{Type: ws.TypeImagePurged, ID: id})
	w.WriteHeader(http.StatusNoContent)
}
