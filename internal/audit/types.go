package audit

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Event kinds
const (
	KindText     = "text"
	KindDocument = "document"
	KindBurn     = "burn"
)

// Event is one audited operation. It carries counts only, never text or
// original values.
type Event struct {
	ID            string      `db:"id" json:"id"`
	SessionID     string      `db:"session_id" json:"session_id"`
	Kind          string      `db:"kind" json:"kind"`
	Context       string      `db:"context" json:"context"`
	EntitiesFound int         `db:"entities_found" json:"entities_found"`
	ByClass       ClassCounts `db:"by_class" json:"by_class"`
	CreatedAt     time.Time   `db:"created_at" json:"created_at"`
}

// ClassCounts is stored as a jsonb object.
type ClassCounts map[string]int

func (c ClassCounts) Value() (driver.Value, error) {
	if c == nil {
		return "{}", nil
	}
	b, err := json.Marshal(map[string]int(c))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (c *ClassCounts) Scan(src interface{}) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*c = ClassCounts{}
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported by_class type %T", src)
	}
	m := map[string]int{}
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("failed to parse by_class: %w", err)
	}
	*c = m
	return nil
}

// Stats summarizes the ledger
type Stats struct {
	TotalEvents   int64 `db:"total_events" json:"total_events"`
	TotalEntities int64 `db:"total_entities" json:"total_entities"`
	Sessions      int64 `db:"sessions" json:"sessions"`
}

// Config contains database configuration
type Config struct {
	DatabaseURL     string        `yaml:"database_url" mapstructure:"database_url"`
	MaxOpenConns    int           `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
}
