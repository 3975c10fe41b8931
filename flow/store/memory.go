package store

import (
	"context"
	"sync"
	"time"
)

// MemStore is an in-memory implementation of Store.
//
// Designed for tests and short-lived workflows where durability isn't
// required. Thread-safe; records are copied on the way in and out so callers
// can never alias the store's internal slices.
type MemStore struct {
	mu     sync.RWMutex
	graphs map[string]GraphRecord
	runs   map[string]RunRecord
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		graphs: make(map[string]GraphRecord),
		runs:   make(map[string]RunRecord),
	}
}

// PutGraph persists a graph definition (implements Store).
func (m *MemStore) PutGraph(_ context.Context, rec GraphRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.graphs[rec.GraphID]; exists {
		return ErrVersionConflict
	}
	m.graphs[rec.GraphID] = copyGraphRecord(rec)
	return nil
}

// GetGraph retrieves a graph by id (implements Store).
func (m *MemStore) GetGraph(_ context.Context, graphID string) (GraphRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.graphs[graphID]
	if !ok {
		return GraphRecord{}, ErrNotFound
	}
	return copyGraphRecord(rec), nil
}

// CreateRun persists the initial run record (implements Store).
func (m *MemStore) CreateRun(_ context.Context, rec RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.runs[rec.RunID]; exists {
		return ErrVersionConflict
	}
	rec.Version = 0
	m.runs[rec.RunID] = copyRunRecord(rec)
	return nil
}

// UpdateRun replaces the stored record under an optimistic version check
// (implements Store).
func (m *MemStore) UpdateRun(_ context.Context, rec RunRecord) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.runs[rec.RunID]
	if !ok {
		return 0, ErrNotFound
	}
	if stored.Version != rec.Version {
		return 0, ErrVersionConflict
	}

	rec.Version++
	rec.UpdatedAt = time.Now().UTC()
	m.runs[rec.RunID] = copyRunRecord(rec)
	return rec.Version, nil
}

// GetRun retrieves a run by id (implements Store).
func (m *MemStore) GetRun(_ context.Context, runID string) (RunRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.runs[runID]
	if !ok {
		return RunRecord{}, ErrNotFound
	}
	return copyRunRecord(rec), nil
}

func copyGraphRecord(rec GraphRecord) GraphRecord {
	out := rec
	out.Definition = append([]byte(nil), rec.Definition...)
	return out
}

func copyRunRecord(rec RunRecord) RunRecord {
	out := rec
	out.State = append([]byte(nil), rec.State...)
	out.Logs = append([]string(nil), rec.Logs...)
	return out
}
