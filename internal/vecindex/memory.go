package vecindex

import (
	"context"
	"math"
	"sort"
	"sync"
)

// Memory is an in-memory Index using brute-force cosine similarity.
// Intended for tests and small personal galleries (a few thousand
// vectors); swap in the Chroma or pgvector backend beyond that.
type Memory struct {
	mu      sync.RWMutex
	vectors map[string][]float32
}

// NewMemory creates a new in-memory vector index.
func NewMemory() *Memory {
	return &Memory{vectors: make(map[string][]float32)}
}

func (m *Memory) Upsert(_ context.Context, id string, vector []float32) error {
	cp := make([]float32, len(vector))
	copy(cp, vector)
	m.mu.Lock()
	m.vectors[id] = cp
	m.mu.Unlock()
	return nil
}

func (m *Memory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	delete(m.vectors, id)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Has(_ context.Context, id string) (bool, error) {
	m.mu.RLock()
	_, ok := m.vectors[id]
	m.mu.RUnlock()
	return ok, nil
}

func (m *Memory) Query(_ context.Context, vector []float32, topK int) ([]Match, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.vectors) == 0 || topK <= 0 {
		return nil, nil
	}

	results := make([]Match, 0, len(m.vectors))
	for id, vec := range m.vectors {
		results = append(results, Match{ID: id, Score: CosineSimilarity(vector, vec)})
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

func (m *Memory) Count(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.vectors), nil
}

func (m *Memory) Close() error { return nil }

// CosineSimilarity computes the cosine similarity between two vectors.
// Returns a value in [-1, 1] where 1 means identical direction.
// Returns -1 for mismatched dimensions or zero-norm vectors.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) {
		return -1
	}

	var dot, normA, normB float64
	for i := range a {
		ai, bi := float64(a[i]), float64(b[i])
		dot += ai * bi
		normA += ai * ai
		normB += bi * bi
	}

	if normA == 0 || normB == 0 {
		return -1 // zero vector has no direction
	}

	similarity := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	// Clamp to handle floating point errors.
	if similarity > 1 {
		similarity = 1
	}
	if similarity < -1 {
		similarity = -1
	}
	return float32(similarity)
}

var _ Index = (*Memory)(nil)
