package audit

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockLedger(t *testing.T) (*Ledger, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewLedgerFromDB(sqlx.NewDb(db, "sqlmock"), nil), mock
}

func TestLedger_EnsureSchema(t *testing.T) {
	ledger, mock := newMockLedger(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS anonymization_events").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, ledger.EnsureSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedger_Record(t *testing.T) {
	created := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)

	t.Run("inserts counts only", func(t *testing.T) {
		ledger, mock := newMockLedger(t)
		mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO anonymization_events")).
			WithArgs(sqlmock.AnyArg(), "s1", KindText, "general", 3, `{"EMAIL_ADDRESS":1,"PERSON":2}`).
			WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(created))

		ev := &Event{
			SessionID:     "s1",
			Kind:          KindText,
			Context:       "general",
			EntitiesFound: 3,
			ByClass:       ClassCounts{"PERSON": 2, "EMAIL_ADDRESS": 1},
		}
		require.NoError(t, ledger.Record(context.Background(), ev))
		assert.NotEmpty(t, ev.ID)
		assert.Equal(t, created, ev.CreatedAt)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("database error", func(t *testing.T) {
		ledger, mock := newMockLedger(t)
		mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO anonymization_events")).
			WillReturnError(errors.New("connection reset"))

		err := ledger.Record(context.Background(), &Event{ID: "fixed", Kind: KindBurn})
		assert.ErrorContains(t, err, "connection reset")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestLedger_Recent(t *testing.T) {
	ledger, mock := newMockLedger(t)
	created := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	columns := []string{"id", "session_id", "kind", "context", "entities_found", "by_class", "created_at"}

	mock.ExpectQuery(regexp.QuoteMeta("WHERE session_id = $2")).
		WithArgs(10, "s1").
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("e2", "s1", KindDocument, "legal", 4, []byte(`{"ORGANIZATION":4}`), created).
			AddRow("e1", "s1", KindText, "general", 0, nil, created.Add(-time.Minute)))

	events, err := ledger.Recent(context.Background(), "s1", 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, ClassCounts{"ORGANIZATION": 4}, events[0].ByClass)
	assert.Equal(t, ClassCounts{}, events[1].ByClass)

	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY created_at DESC")).
		WithArgs(50).
		WillReturnRows(sqlmock.NewRows(columns))
	events, err = ledger.Recent(context.Background(), "", 0)
	require.NoError(t, err)
	assert.Empty(t, events)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedger_GetStats(t *testing.T) {
	ledger, mock := newMockLedger(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM anonymization_events")).
		WillReturnRows(sqlmock.NewRows([]string{"total_events", "total_entities", "sessions"}).AddRow(12, 40, 3))

	stats, err := ledger.GetStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &Stats{TotalEvents: 12, TotalEntities: 40, Sessions: 3}, stats)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedger_Nil(t *testing.T) {
	var ledger *Ledger
	ctx := context.Background()

	assert.NoError(t, ledger.EnsureSchema(ctx))
	assert.NoError(t, ledger.Record(ctx, &Event{Kind: KindText}))
	events, err := ledger.Recent(ctx, "", 5)
	assert.NoError(t, err)
	assert.Nil(t, events)
	stats, err := ledger.GetStats(ctx)
	assert.NoError(t, err)
	assert.Zero(t, stats.TotalEvents)
	assert.NoError(t, ledger.Close())
}

func TestMaskDatabaseURL(t *testing.T) {
	assert.Equal(t, "postgres://app:***@db:5432/x", maskDatabaseURL("postgres://app:pw@db:5432/x"))
	assert.Equal(t, "postgres://db/x", maskDatabaseURL("postgres://db/x"))
}
