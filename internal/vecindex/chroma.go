package vecindex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// DefaultCollectionName is the Chroma collection used for image vectors.
const DefaultCollectionName = "image_vecs"

const chromaAPIRoot = "/api/v2/tenants/default_tenant/databases/default_database"

// Chroma implements Index using Chroma's REST API. The collection is
// created with cosine space so distances convert directly to scores.
type Chroma struct {
	baseURL        string
	collectionName string
	collectionID   string
	httpClient     *http.Client
	logger         *slog.Logger
}

// ChromaConfig holds configuration for the Chroma driver.
type ChromaConfig struct {
	// URL is the Chroma server URL (e.g., "http://localhost:8000").
	URL string

	// CollectionName is the collection to use.
	// Defaults to DefaultCollectionName if empty.
	CollectionName string

	// Timeout bounds each HTTP call. Defaults to 60s if zero.
	Timeout time.Duration

	// MaxRetries is how many times to retry the initial collection
	// lookup while the Chroma server is still starting up. Defaults
	// to 3 if zero.
	MaxRetries int

	// RetryDelay is the initial delay between connection retries,
	// doubled each attempt up to MaxRetryDelay. Defaults to 1s.
	RetryDelay time.Duration

	// MaxRetryDelay caps the backoff. Defaults to 10s.
	MaxRetryDelay time.Duration
}

// NewChroma creates a Chroma-backed vector index, connecting to the
// server and creating the collection if it does not exist yet.
func NewChroma(c ChromaConfig, logger *slog.Logger) (*Chroma, error) {
	if c.URL == "" {
		return nil, fmt.Errorf("chroma URL is required")
	}

	collectionName := c.CollectionName
	if collectionName == "" {
		collectionName = DefaultCollectionName
	}
	timeout := c.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	maxRetries := c.MaxRetries
	if maxRetries == 0 {
		maxRetries = 3
	}
	retryDelay := c.RetryDelay
	if retryDelay == 0 {
		retryDelay = time.Second
	}
	maxRetryDelay := c.MaxRetryDelay
	if maxRetryDelay == 0 {
		maxRetryDelay = 10 * time.Second
	}

	d := &Chroma{
		baseURL:        c.URL,
		collectionName: collectionName,
		httpClient:     &http.Client{Timeout: timeout},
		logger:         logger,
	}

	var collectionID string
	var err error
	delay := retryDelay
	for attempt := 1; attempt <= maxRetries; attempt++ {
		collectionID, err = d.getOrCreateCollection(context.Background())
		if err == nil {
			break
		}
		if attempt == maxRetries {
			return nil, fmt.Errorf("connecting to chroma after %d attempts: %w", maxRetries, err)
		}
		logger.Warn("chroma not ready, retrying",
			"attempt", attempt, "delay", delay, "err", err)
		time.Sleep(delay)
		delay *= 2
		if delay > maxRetryDelay {
			delay = maxRetryDelay
		}
	}
	d.collectionID = collectionID

	logger.Info("connected to chroma",
		"url", c.URL,
		"collection", collectionName,
		"collection_id", collectionID,
	)
	return d, nil
}

// getOrCreateCollection gets an existing collection or creates a new
// one with cosine space.
func (d *Chroma) getOrCreateCollection(ctx context.Context) (string, error) {
	url := fmt.Sprintf("%s%s/collections/%s", d.baseURL, chromaAPIRoot, d.collectionName)

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return "", fmt.Errorf("creating get request: %w", err)
	}
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("sending get request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		var collection chromaCollection
		if err := json.NewDecoder(resp.Body).Decode(&collection); err != nil {
			return "", fmt.Errorf("decoding collection response: %w", err)
		}
		return collection.ID, nil
	}

	// Collection doesn't exist, create it.
	createURL := fmt.Sprintf("%s%s/collections", d.baseURL, chromaAPIRoot)
	createBody := map[string]any{
		"name":     d.collectionName,
		"metadata": map[string]any{"hnsw:space": "cosine"},
	}
	jsonBody, err := json.Marshal(createBody)
	if err != nil {
		return "", fmt.Errorf("marshaling create request: %w", err)
	}

	req, err = http.NewRequestWithContext(ctx, "POST", createURL, bytes.NewReader(jsonBody))
	if err != nil {
		return "", fmt.Errorf("creating create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err = d.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("sending create request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("failed to create collection: status %d: %s", resp.StatusCode, string(body))
	}

	var collection chromaCollection
	if err := json.NewDecoder(resp.Body).Decode(&collection); err != nil {
		return "", fmt.Errorf("decoding create response: %w", err)
	}
	return collection.ID, nil
}

// post sends a JSON body to a collection sub-endpoint and decodes the
// response into out (when out is non-nil).
func (d *Chroma) post(ctx context.Context, endpoint string, body, out any) error {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling %s request: %w", endpoint, err)
	}

	url := fmt.Sprintf("%s%s/collections/%s/%s", d.baseURL, chromaAPIRoot, d.collectionID, endpoint)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("creating %s request: %w", endpoint, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending %s request: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s failed: status %d: %s", endpoint, resp.StatusCode, string(respBody))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding %s response: %w", endpoint, err)
		}
	}
	return nil
}

// Upsert adds or replaces the vector for id.
func (d *Chroma) Upsert(ctx context.Context, id string, vector []float32) error {
	req := chromaUpsertRequest{
		IDs:        []string{id},
		Embeddings: [][]float32{vector},
	}
	if err := d.post(ctx, "upsert", req, nil); err != nil {
		return err
	}
	d.logger.Debug("upserted vector to chroma", "id", id)
	return nil
}

// Delete removes the vector for id. Chroma ignores unknown ids.
func (d *Chroma) Delete(ctx context.Context, id string) error {
	return d.post(ctx, "delete", chromaDeleteRequest{IDs: []string{id}}, nil)
}

// Has reports whether a vector exists for id.
func (d *Chroma) Has(ctx context.Context, id string) (bool, error) {
	req := chromaGetRequest{IDs: []string{id}, Include: []string{}}
	var resp chromaGetResponse
	if err := d.post(ctx, "get", req, &resp); err != nil {
		return false, err
	}
	return len(resp.IDs) > 0, nil
}

// Query returns the topK most similar entries, ordered by score
// descending. Chroma returns cosine distances; score = 1 - distance.
func (d *Chroma) Query(ctx context.Context, vector []float32, topK int) ([]Match, error) {
	if topK <= 0 {
		return nil, nil
	}

	req := chromaQueryRequest{
		QueryEmbeddings: [][]float32{vector},
		NResults:        topK,
		Include:         []string{"distances"},
	}
	var resp chromaQueryResponse
	if err := d.post(ctx, "query", req, &resp); err != nil {
		return nil, err
	}

	// Only the first group matters; we query with one embedding.
	if len(resp.IDs) == 0 || len(resp.IDs[0]) == 0 {
		return nil, nil
	}
	ids := resp.IDs[0]
	var distances []float32
	if len(resp.Distances) > 0 {
		distances = resp.Distances[0]
	}

	matches := make([]Match, 0, len(ids))
	for i, id := range ids {
		var score float32
		if i < len(distances) {
			score = 1 - distances[i]
		}
		matches = append(matches, Match{ID: id, Score: score})
	}
	return matches, nil
}

// Count returns the number of vectors in the collection.
func (d *Chroma) Count(ctx context.Context) (int, error) {
	url := fmt.Sprintf("%s%s/collections/%s/count", d.baseURL, chromaAPIRoot, d.collectionID)
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return 0, fmt.Errorf("creating count request: %w", err)
	}
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("sending count request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return 0, fmt.Errorf("count failed: status %d: %s", resp.StatusCode, string(body))
	}
	var count int
	if err := json.NewDecoder(resp.Body).Decode(&count); err != nil {
		return 0, fmt.Errorf("decoding count response: %w", err)
	}
	return count, nil
}

// Close releases resources held by the driver.
func (d *Chroma) Close() error {
	// HTTP client doesn't require explicit cleanup
	return nil
}

var _ Index = (*Chroma)(nil)
