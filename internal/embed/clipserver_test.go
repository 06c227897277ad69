package embed

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"imagesearch/internal/models"
)

func TestClipServerEmbedText(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embed/text" {
			t.Errorf("path = %q, want /embed/text", r.URL.Path)
		}
		var req textRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatal(err)
		}
		if req.Text != "a red car" {
			t.Errorf("text = %q, want %q", req.Text, "a red car")
		}
		json.NewEncoder(w).Encode(embedResponse{Embedding: []float32{0.1, 0.2, 0.3}})
	}))
	defer server.Close()

	c := NewClipServer(ClipServerConfig{BaseURL: server.URL, Dimension: 3})
	vec, err := c.EmbedText(context.Background(), "a red car")
	if err != nil {
		t.Fatal(err)
	}
	if len(vec) != 3 {
		t.Fatalf("got %d dims, want 3", len(vec))
	}
}

func TestClipServerEmbedImage(t *testing.T) {
	raw := []byte{0xFF, 0xD8, 0xFF, 0xE0}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embed/image" {
			t.Errorf("path = %q, want /embed/image", r.URL.Path)
		}
		var req imageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatal(err)
		}
		decoded, err := base64.StdEncoding.DecodeString(req.Image)
		if err != nil {
			t.Fatal(err)
		}
		if len(decoded) != len(raw) {
			t.Errorf("got %d bytes, want %d", len(decoded), len(raw))
		}
		json.NewEncoder(w).Encode(embedResponse{Embedding: []float32{1, 0}})
	}))
	defer server.Close()

	c := NewClipServer(ClipServerConfig{BaseURL: server.URL, Dimension: 2})
	vec, err := c.EmbedImage(context.Background(), raw)
	if err != nil {
		t.Fatal(err)
	}
	if len(vec) != 2 {
		t.Fatalf("got %d dims, want 2", len(vec))
	}
}

func TestClipServerErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	c := NewClipServer(ClipServerConfig{BaseURL: server.URL})
	_, err := c.EmbedText(context.Background(), "anything")
	if !errors.Is(err, models.ErrEmbeddingFailure) {
		t.Fatalf("expected ErrEmbeddingFailure, got %v", err)
	}
}

func TestClipServerDimensionMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(embedResponse{Embedding: []float32{1, 2, 3}})
	}))
	defer server.Close()

	c := NewClipServer(ClipServerConfig{BaseURL: server.URL, Dimension: 512})
	_, err := c.EmbedText(context.Background(), "anything")
	if !errors.Is(err, models.ErrEmbeddingFailure) {
		t.Fatalf("expected ErrEmbeddingFailure, got %v", err)
	}
}

func TestClipServerUnreachable(t *testing.T) {
	c := NewClipServer(ClipServerConfig{BaseURL: "http://127.0.0.1:1"})
	_, err := c.EmbedText(context.Background(), "anything")
	if !errors.Is(err, models.ErrEmbeddingFailure) {
		t.Fatalf("expected ErrEmbeddingFailure, got %v", err)
	}
}
