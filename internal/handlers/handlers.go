// Package handlers exposes the gallery over HTTP: uploads, text
// search, lifecycle transitions and media serving.
package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"imagesearch/internal/gallery"
	"imagesearch/internal/models"
	"imagesearch/internal/ws"
)

// Handler serves the HTTP API on top of a Gallery.
type Handler struct {
	gal *gallery.Gallery
	hub *ws.Hub
	log *slog.Logger
}

func New(gal *gallery.Gallery, hub *ws.Hub, log *slog.Logger) *Handler {
	return &Handler{gal: gal, hub: hub, log: log}
}

// Routes builds the API router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors)

	r.Route("/api", func(r chi.Router) {
		r.Post("/upload", h.Upload)
		r.Post("/upload/batch", h.UploadBatch)
		r.Get("/search", h.Search)

		r.Route("/images", func(r chi.Router) {
			r.Get("/", h.List)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.Get)
				r.Delete("/", h.Purge)
				r.Post("/trash", h.Trash)
				r.Post("/restore", h.Restore)
				r.Get("/original", h.Original)
				r.Get("/thumbnail", h.Thumbnail)
			})
		})
	})

	r.Get("/ws", h.hub.ServeHTTP)
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors onto HTTP statuses and a JSON body.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, models.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, models.ErrUnsupportedFormat),
		errors.Is(err, models.ErrCorruptImage):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrDuplicateImage),
		errors.Is(err, models.ErrInvalidTransition),
		errors.Is(err, models.ErrConcurrentModification):
		status = http.StatusConflict
	case errors.Is(err, models.ErrEmbeddingFailure),
		errors.Is(err, models.ErrStoreUnavailable):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError || status == http.StatusServiceUnavailable {
		h.log.Error("request failed", "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
