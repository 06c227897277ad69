package handlers

import (
	"net/http"
	"strconv"

	"imagesearch/internal/gallery"
)

// Search answers GET /api/search?q=...&k=...&include_trashed=true.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")

	opts := gallery.SearchOptions{
		IncludeTrashed: r.URL.Query().Get("include_trashed") == "true",
	}
	if kStr := r.URL.Query().Get("k"); kStr != "" {
		k, err := strconv.Atoi(kStr)
		if err != nil || k < 0 {
			http.Error(w, "invalid k", http.StatusBadRequest)
			return
		}
		opts.TopK = k
	}

	results, err := h.gal.Search(r.Context(), query, opts)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if results == nil {
		results = []gallery.Result{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"query":   query,
		"count":   len(results),
		"results": results,
	})
}
