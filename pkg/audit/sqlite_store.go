package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a durable Logger backed by an embedded SQLite
// database. Deployments that need the audit trail to survive process
// restarts use this instead of (or alongside) the JSONL writer.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates the store and runs its migration.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("audit: migrate: %w", err)
	}
	return s, nil
}

// OpenSQLiteStore opens (or creates) the database file at path and
// returns a store over it.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("audit: open %s: %w", path, err)
	}
	return NewSQLiteStore(db)
}

func (s *SQLiteStore) migrate() error {
	query := `
    CREATE TABLE IF NOT EXISTS force_create_audit (
        id TEXT PRIMARY KEY,
        timestamp DATETIME NOT NULL,
        action TEXT NOT NULL,
        outcome TEXT NOT NULL,
        reason TEXT,
        tercero TEXT,
        fecha TEXT,
        total_importe REAL,
        token_prefix TEXT
    );
    CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON force_create_audit (timestamp);
    CREATE INDEX IF NOT EXISTS idx_audit_tercero ON force_create_audit (tercero);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

// Record appends the event. Append-only: nothing in this package
// updates or deletes rows.
func (s *SQLiteStore) Record(ctx context.Context, e Event) error {
	fill(&e)

	query := `
        INSERT INTO force_create_audit
            (id, timestamp, action, outcome, reason, tercero, fecha, total_importe, token_prefix)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		e.ID, e.Timestamp.UTC().Format(time.RFC3339Nano), e.Action,
		string(e.Outcome), e.Reason, e.Subject, e.Date, e.TotalAmount,
		e.TokenPrefix)
	if err != nil {
		return fmt.Errorf("audit: insert: %w", err)
	}
	return nil
}

// List returns the most recent events, newest first.
func (s *SQLiteStore) List(ctx context.Context, limit int) ([]Event, error) {
	query := `
        SELECT id, timestamp, action, outcome, reason, tercero, fecha, total_importe, token_prefix
        FROM force_create_audit
        ORDER BY timestamp DESC
        LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("audit: list: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []Event
	for rows.Next() {
		var e Event
		var ts string
		var outcome string
		if err := rows.Scan(&e.ID, &ts, &e.Action, &outcome, &e.Reason,
			&e.Subject, &e.Date, &e.TotalAmount, &e.TokenPrefix); err != nil {
			return nil, fmt.Errorf("audit: scan: %w", err)
		}
		e.Outcome = Outcome(outcome)
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			e.Timestamp = t
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }
