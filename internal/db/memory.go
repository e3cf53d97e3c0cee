package db

import (
	"context"
	"sync"

	"github.com/NikhilOO7/llm-bias-analyzer/internal/models"
)

type MemoryStore struct {
	mu      sync.RWMutex
	records []models.AuditRecord
	ids     map[string]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{ids: make(map[string]struct{})}
}

func (m *MemoryStore) Insert(ctx context.Context, records ...models.AuditRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		if _, seen := m.ids[r.ID]; seen {
			continue
		}
		m.ids[r.ID] = struct{}{}
		m.records = append(m.records, r)
	}
	return nil
}

func (m *MemoryStore) Find(ctx context.Context, filter models.LogFilter) ([]models.AuditRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.AuditRecord, 0, len(m.records))
	for _, r := range m.records {
		if filter.Matches(r) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *MemoryStore) Latest(ctx context.Context, limit int) ([]models.AuditRecord, error) {
	m.mu.RLock()
	out := make([]models.AuditRecord, len(m.records))
	// reversed so equal timestamps keep newest-inserted first
	for i, r := range m.records {
		out[len(m.records)-1-i] = r
	}
	m.mu.RUnlock()

	sortNewestFirst(out)
	return truncate(out, limit), nil
}

func (m *MemoryStore) Close(ctx context.Context) error {
	return nil
}
