package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/raaihank/llm-anonymizer/internal/anonymizer"
	"github.com/raaihank/llm-anonymizer/internal/logger"
	"github.com/raaihank/llm-anonymizer/internal/metrics"
)

// Manager serializes work on each session and keeps its repository copy
// current. Stores are loaded per operation so several processes can share a
// Redis repository.
type Manager struct {
	repo    Repository
	metrics *metrics.Metrics
	logger  *logger.Logger

	mu    sync.Mutex
	locks map[string]*sessionLock
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

// NewManager creates a manager over repo. A nil repo keeps sessions in memory.
func NewManager(repo Repository, m *metrics.Metrics, log *logger.Logger) *Manager {
	if repo == nil {
		repo = NewMemoryRepository()
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Manager{
		repo:    repo,
		metrics: m,
		logger:  log.WithComponent("sessions"),
		locks:   make(map[string]*sessionLock),
	}
}

// NewID returns a fresh session id.
func NewID() string {
	return uuid.NewString()
}

func (m *Manager) lock(id string) func() {
	m.mu.Lock()
	l, ok := m.locks[id]
	if !ok {
		l = &sessionLock{}
		m.locks[id] = l
	}
	l.refs++
	m.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		m.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(m.locks, id)
		}
		m.mu.Unlock()
	}
}

// With runs fn with exclusive access to the store of session id, creating
// the session on first use, and saves the store when fn succeeds.
func (m *Manager) With(ctx context.Context, id string, fn func(store *anonymizer.Store) error) error {
	if !ValidID(id) {
		return ErrInvalidSessionID
	}
	unlock := m.lock(id)
	defer unlock()

	now := time.Now().UTC()
	snap, err := m.repo.Load(ctx, id)
	switch {
	case errors.Is(err, ErrSessionNotFound):
		snap = &Snapshot{ID: id, CreatedAt: now}
		m.logger.WithSession(id).Debug("Session created")
	case err != nil:
		return fmt.Errorf("failed to load session: %w", err)
	}

	store := anonymizer.NewStore(snap.Entries)
	if err := fn(store); err != nil {
		return err
	}

	snap.Entries = store.Entries()
	snap.UpdatedAt = now
	if err := m.repo.Save(ctx, snap); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// Mapping returns the entries of session id.
func (m *Manager) Mapping(ctx context.Context, id string) ([]anonymizer.Entry, error) {
	if !ValidID(id) {
		return nil, ErrInvalidSessionID
	}
	unlock := m.lock(id)
	defer unlock()

	snap, err := m.repo.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	return snap.Entries, nil
}

// Burn destroys session id. Burning an unknown session is not an error.
func (m *Manager) Burn(ctx context.Context, id string) error {
	if !ValidID(id) {
		return ErrInvalidSessionID
	}
	unlock := m.lock(id)
	defer unlock()

	if err := m.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to burn session: %w", err)
	}
	m.metrics.ObserveSessionBurned()
	m.logger.WithSession(id).Info("Session burned")
	return nil
}

// BurnAll destroys every session in the repository.
func (m *Manager) BurnAll(ctx context.Context) (int, error) {
	n, err := m.repo.DeleteAll(ctx)
	for i := 0; i < n; i++ {
		m.metrics.ObserveSessionBurned()
	}
	if err != nil {
		return n, fmt.Errorf("failed to burn sessions: %w", err)
	}
	m.logger.Info("All sessions burned", zap.Int("count", n))
	return n, nil
}

// Close closes the repository.
func (m *Manager) Close() error {
	return m.repo.Close()
}
