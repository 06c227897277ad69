package embed

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"imagesearch/internal/models"
)

const (
	// DefaultClipServerURL is the default CLIP inference server URL.
	DefaultClipServerURL = "http://localhost:8765"
)

// ClipServer is an Embedder backed by a remote CLIP inference HTTP
// server exposing /embed/text and /embed/image endpoints.
type ClipServer struct {
	baseURL    string
	dim        int
	httpClient *http.Client
}

// ClipServerConfig holds configuration for the remote embedder.
type ClipServerConfig struct {
	// BaseURL is the inference server URL.
	// Defaults to DefaultClipServerURL if empty.
	BaseURL string

	// Dimension is the embedding size the server produces.
	// Defaults to DefaultDimension if zero.
	Dimension int

	// Timeout bounds each HTTP call. Defaults to 30s if zero.
	Timeout time.Duration
}

// textRequest is the request body for /embed/text.
type textRequest struct {
	Text string `json:"text"`
}

// imageRequest is the request body for /embed/image.
// Image holds the base64-encoded raw bytes.
type imageRequest struct {
	Image string `json:"image"`
}

// embedResponse is the response from both endpoints.
type embedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// NewClipServer creates a client for a remote CLIP inference server.
func NewClipServer(cfg ClipServerConfig) *ClipServer {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultClipServerURL
	}
	dim := cfg.Dimension
	if dim <= 0 {
		dim = DefaultDimension
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &ClipServer{
		baseURL:    baseURL,
		dim:        dim,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// EmbedText requests a text embedding from the server.
func (c *ClipServer) EmbedText(ctx context.Context, text string) ([]float32, error) {
	return c.embed(ctx, "/embed/text", textRequest{Text: text})
}

// EmbedImage requests an image embedding from the server.
func (c *ClipServer) EmbedImage(ctx context.Context, data []byte) ([]float32, error) {
	return c.embed(ctx, "/embed/image", imageRequest{
		Image: base64.StdEncoding.EncodeToString(data),
	})
}

func (c *ClipServer) embed(ctx context.Context, endpoint string, body any) ([]float32, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%w: marshaling request: %v", models.ErrEmbeddingFailure, err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+endpoint, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("%w: creating request: %v", models.ErrEmbeddingFailure, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: sending request: %v", models.ErrEmbeddingFailure, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: server returned status %d: %s",
			models.ErrEmbeddingFailure, resp.StatusCode, string(respBody))
	}

	var embedResp embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&embedResp); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %v", models.ErrEmbeddingFailure, err)
	}

	if len(embedResp.Embedding) != c.dim {
		return nil, fmt.Errorf("%w: server returned %d dimensions, expected %d",
			models.ErrEmbeddingFailure, len(embedResp.Embedding), c.dim)
	}
	return embedResp.Embedding, nil
}

// Dimension returns the embedding size.
func (c *ClipServer) Dimension() int { return c.dim }

// Close releases resources held by the embedder.
func (c *ClipServer) Close() error {
	// HTTP client doesn't require explicit cleanup
	return nil
}

var _ Embedder = (*ClipServer)(nil)
