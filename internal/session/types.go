// Package session owns the mapping stores of conversations and documents
// and persists them between requests.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/raaihank/llm-anonymizer/internal/anonymizer"
)

var (
	// ErrSessionNotFound is returned for unknown or burned sessions.
	ErrSessionNotFound = errors.New("session not found")
	// ErrInvalidSessionID is returned for ids outside [A-Za-z0-9_-]{1,128}.
	ErrInvalidSessionID = errors.New("invalid session id")
)

// Snapshot is the persisted form of a session.
type Snapshot struct {
	ID        string             `json:"id"`
	Entries   []anonymizer.Entry `json:"entries"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// Repository persists session snapshots.
type Repository interface {
	Load(ctx context.Context, id string) (*Snapshot, error)
	Save(ctx context.Context, snapshot *Snapshot) error
	Delete(ctx context.Context, id string) error
	DeleteAll(ctx context.Context) (int, error)
	Close() error
}

// Config contains session store configuration
type Config struct {
	RedisURL       string        `yaml:"redis_url" mapstructure:"redis_url"`
	MaxConnections int           `yaml:"max_connections" mapstructure:"max_connections"`
	MinIdleConns   int           `yaml:"min_idle_conns" mapstructure:"min_idle_conns"`
	TTL            time.Duration `yaml:"ttl" mapstructure:"ttl"`
	KeyPrefix      string        `yaml:"key_prefix" mapstructure:"key_prefix"`
}

// ValidID reports whether id can name a session.
func ValidID(id string) bool {
	if id == "" || len(id) > 128 {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return false
		}
	}
	return true
}
