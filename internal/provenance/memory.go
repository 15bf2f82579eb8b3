package provenance

import (
	"context"
	"sync"

	"github.com/shaiso/Interflow/internal/domain"
)

// MemoryStore хранит provenance в памяти процесса.
type MemoryStore struct {
	mu       sync.RWMutex
	records  map[string][]Record
	statuses map[string]domain.RunStatus
}

// NewMemoryStore создаёт пустое хранилище.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:  make(map[string][]Record),
		statuses: make(map[string]domain.RunStatus),
	}
}

// SaveRecord реализует Store.
func (m *MemoryStore) SaveRecord(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.RunID] = append(m.records[rec.RunID], rec)
	return nil
}

// SaveStatus реализует Store.
func (m *MemoryStore) SaveStatus(_ context.Context, runID string, status domain.RunStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[runID] = status
	return nil
}

// ListRecords реализует Reader.
func (m *MemoryStore) ListRecords(_ context.Context, runID string) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Record, len(m.records[runID]))
	copy(out, m.records[runID])
	return out, nil
}

// GetStatus реализует Reader.
func (m *MemoryStore) GetStatus(_ context.Context, runID string) (domain.RunStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.statuses[runID], nil
}
