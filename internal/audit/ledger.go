// Package audit records anonymization events in PostgreSQL.
package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/raaihank/llm-anonymizer/internal/logger"
)

const schema = `
	CREATE TABLE IF NOT EXISTS anonymization_events (
		id             UUID PRIMARY KEY,
		session_id     TEXT NOT NULL DEFAULT '',
		kind           TEXT NOT NULL,
		context        TEXT NOT NULL,
		entities_found INTEGER NOT NULL DEFAULT 0,
		by_class       JSONB NOT NULL DEFAULT '{}',
		created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_anonymization_events_session
		ON anonymization_events (session_id, created_at DESC)`

// Ledger writes events to the anonymization_events table. A nil *Ledger
// discards events.
type Ledger struct {
	db     *sqlx.DB
	logger *logger.Logger
}

// NewLedger connects to PostgreSQL and verifies the connection.
func NewLedger(config *Config, log *logger.Logger) (*Ledger, error) {
	db, err := sqlx.Connect("postgres", config.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)

	ledger := NewLedgerFromDB(db, log)
	ledger.logger.Info("Audit ledger connected",
		zap.String("database_url", maskDatabaseURL(config.DatabaseURL)),
		zap.Int("max_open_conns", config.MaxOpenConns))
	return ledger, nil
}

// NewLedgerFromDB wraps an open database handle.
func NewLedgerFromDB(db *sqlx.DB, log *logger.Logger) *Ledger {
	if log == nil {
		log = logger.NewNop()
	}
	return &Ledger{db: db, logger: log.WithComponent("audit")}
}

// EnsureSchema creates the events table when missing.
func (l *Ledger) EnsureSchema(ctx context.Context) error {
	if l == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if _, err := l.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create audit schema: %w", err)
	}
	return nil
}

// Record inserts ev, assigning its id and creation time.
func (l *Ledger) Record(ctx context.Context, ev *Event) error {
	if l == nil {
		return nil
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}

	query := `
		INSERT INTO anonymization_events (id, session_id, kind, context, entities_found, by_class)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`

	err := l.db.QueryRowContext(ctx, query,
		ev.ID,
		ev.SessionID,
		ev.Kind,
		ev.Context,
		ev.EntitiesFound,
		ev.ByClass,
	).Scan(&ev.CreatedAt)
	if err != nil {
		l.logger.Error("Failed to record audit event",
			zap.Error(err),
			zap.String("kind", ev.Kind))
		return fmt.Errorf("failed to record audit event: %w", err)
	}

	l.logger.Debug("Audit event recorded",
		zap.String("id", ev.ID),
		zap.String("kind", ev.Kind),
		zap.Int("entities_found", ev.EntitiesFound))
	return nil
}

// Recent returns up to limit events, newest first, optionally restricted to
// one session.
func (l *Ledger) Recent(ctx context.Context, sessionID string, limit int) ([]Event, error) {
	if l == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}

	where := ""
	args := []interface{}{limit}
	if sessionID != "" {
		where = "WHERE session_id = $2"
		args = append(args, sessionID)
	}

	query := fmt.Sprintf(`
		SELECT id, session_id, kind, context, entities_found, by_class, created_at
		FROM anonymization_events
		%s
		ORDER BY created_at DESC
		LIMIT $1`, where)

	var events []Event
	if err := l.db.SelectContext(ctx, &events, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	return events, nil
}

// GetStats returns ledger totals
func (l *Ledger) GetStats(ctx context.Context) (*Stats, error) {
	if l == nil {
		return &Stats{}, nil
	}
	query := `
		SELECT
			COUNT(*) AS total_events,
			COALESCE(SUM(entities_found), 0) AS total_entities,
			COUNT(DISTINCT NULLIF(session_id, '')) AS sessions
		FROM anonymization_events`

	var stats Stats
	if err := l.db.GetContext(ctx, &stats, query); err != nil {
		return nil, fmt.Errorf("failed to get audit stats: %w", err)
	}
	return &stats, nil
}

// Close closes the database connection
func (l *Ledger) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

// maskDatabaseURL masks the password of a database URL for logging
func maskDatabaseURL(url string) string {
	at := strings.LastIndex(url, "@")
	if at < 0 {
		return url
	}
	userinfo := url[:at]
	colon := strings.LastIndex(userinfo, ":")
	if colon < 0 || colon < strings.Index(userinfo, "//") {
		return url
	}
	return userinfo[:colon+1] + "***" + url[at:]
}
