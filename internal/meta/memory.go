package meta

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"imagesearch/internal/models"
)

// Memory is an in-memory Store implementation. Intended for tests and
// throwaway single-process setups.
type Memory struct {
	mu      sync.RWMutex
	records map[string]*models.ImageRecord
}

// NewMemory creates an empty in-memory metadata store.
func NewMemory() *Memory {
	return &Memory{records: make(map[string]*models.ImageRecord)}
}

func (m *Memory) Insert(_ context.Context, rec *models.ImageRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[rec.ID]; ok {
		return fmt.Errorf("insert %s: id already exists", rec.ID)
	}
	for _, existing := range m.records {
		if existing.Checksum == rec.Checksum {
			return fmt.Errorf("insert %s: checksum %s: %w", rec.ID, rec.Checksum, models.ErrDuplicateImage)
		}
	}
	m.records[rec.ID] = rec.Clone()
	return nil
}

func (m *Memory) Get(_ context.Context, id string) (*models.ImageRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", id, models.ErrNotFound)
	}
	return rec.Clone(), nil
}

func (m *Memory) FindByChecksum(_ context.Context, checksum string) (*models.ImageRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, rec := range m.records {
		if rec.Checksum == checksum {
			return rec.Clone(), nil
		}
	}
	return nil, fmt.Errorf("checksum %s: %w", checksum, models.ErrNotFound)
}

func (m *Memory) UpdateStatus(_ context.Context, id string, from, to models.Status, trashedAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return fmt.Errorf("update %s: %w", id, models.ErrNotFound)
	}
	if rec.Status != from {
		return fmt.Errorf("update %s: status is %s, expected %s: %w",
			id, rec.Status, from, models.ErrConcurrentModification)
	}
	rec.Status = to
	rec.TrashedAt = trashedAt
	return nil
}

func (m *Memory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	delete(m.records, id)
	m.mu.Unlock()
	return nil
}

func (m *Memory) List(_ context.Context, f ListFilter) ([]*models.ImageRecord, error) {
	m.mu.RLock()
	var out []*models.ImageRecord
	for _, rec := range m.records {
		if f.Status != "" && rec.Status != f.Status {
			continue
		}
		out = append(out, rec.Clone())
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].UploadedAt.After(out[j].UploadedAt)
	})

	return pageRecords(out, f), nil
}

func (m *Memory) Close() error { return nil }

var _ Store = (*Memory)(nil)
