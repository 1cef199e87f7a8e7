package session

import (
	"context"
	"sync"

	"github.com/raaihank/llm-anonymizer/internal/anonymizer"
)

// MemoryRepository keeps snapshots in process memory.
type MemoryRepository struct {
	mu        sync.RWMutex
	snapshots map[string]*Snapshot
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{snapshots: make(map[string]*Snapshot)}
}

func (r *MemoryRepository) Load(_ context.Context, id string) (*Snapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap, ok := r.snapshots[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return cloneSnapshot(snap), nil
}

func (r *MemoryRepository) Save(_ context.Context, snapshot *Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.snapshots[snapshot.ID] = cloneSnapshot(snapshot)
	return nil
}

func (r *MemoryRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.snapshots, id)
	return nil
}

func (r *MemoryRepository) DeleteAll(_ context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.snapshots)
	r.snapshots = make(map[string]*Snapshot)
	return n, nil
}

func (r *MemoryRepository) Close() error { return nil }

func cloneSnapshot(s *Snapshot) *Snapshot {
	c := *s
	c.Entries = append([]anonymizer.Entry(nil), s.Entries...)
	return &c
}
