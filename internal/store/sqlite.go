package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/safecoach/internal/safety"
	"github.com/ashureev/safecoach/internal/shared"
	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db    *sql.DB
	retry shared.RetryConfig
}

// NewSQLite opens (creating if needed) the database at dbPath.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL keeps readers (health pings) from blocking audit writes.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{db: db, retry: shared.DefaultRetry}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS safety_events (
		id TEXT PRIMARY KEY,
		category TEXT NOT NULL,
		matched_rules TEXT NOT NULL,
		session_id TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_safety_events_created ON safety_events(created_at);
	CREATE INDEX IF NOT EXISTS idx_safety_events_session ON safety_events(session_id, created_at);

	CREATE TABLE IF NOT EXISTS outbound_emails (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		to_email TEXT NOT NULL,
		subject TEXT NOT NULL,
		status TEXT NOT NULL,
		error TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_outbound_emails_session ON outbound_emails(session_id, created_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// RecordSafetyTrigger implements safety.AuditSink.
func (s *SQLiteStore) RecordSafetyTrigger(ctx context.Context, ev safety.TriggerEvent) error {
	rules := ev.MatchedRules
	if rules == nil {
		rules = []string{}
	}
	rulesJSON, err := json.Marshal(rules)
	if err != nil {
		return fmt.Errorf("marshal matched rules: %w", err)
	}
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	query := `INSERT INTO safety_events (id, category, matched_rules, session_id, created_at) VALUES (?, ?, ?, ?, ?)`
	id := ulid.Make().String()
	err = shared.RetryOnConflict(ctx, s.retry, "record_safety_trigger", func() error {
		_, err := s.db.ExecContext(ctx, query, id, string(ev.Category), string(rulesJSON), ev.SessionID, ts.UnixMilli())
		return err
	})
	if err != nil {
		return fmt.Errorf("insert safety event: %w", err)
	}
	return nil
}

// ListSafetyEvents returns up to limit events for sessionID, newest first.
func (s *SQLiteStore) ListSafetyEvents(ctx context.Context, sessionID string, limit int) ([]SafetyEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, category, matched_rules, session_id, created_at
		FROM safety_events WHERE session_id = ?
		ORDER BY created_at DESC, id DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query safety events: %w", err)
	}
	defer rows.Close()

	var events []SafetyEvent
	for rows.Next() {
		var (
			ev        SafetyEvent
			rulesJSON string
			createdAt int64
		)
		if err := rows.Scan(&ev.ID, &ev.Category, &rulesJSON, &ev.SessionID, &createdAt); err != nil {
			return nil, fmt.Errorf("scan safety event: %w", err)
		}
		if err := json.Unmarshal([]byte(rulesJSON), &ev.MatchedRules); err != nil {
			return nil, fmt.Errorf("decode matched rules: %w", err)
		}
		ev.CreatedAt = time.UnixMilli(createdAt)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// PruneAuditEvents deletes events created before cutoff.
func (s *SQLiteStore) PruneAuditEvents(ctx context.Context, cutoff time.Time) (int64, error) {
	var affected int64
	err := shared.RetryOnConflict(ctx, s.retry, "prune_audit_events", func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM safety_events WHERE created_at < ?`, cutoff.UnixMilli())
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("prune safety events: %w", err)
	}
	return affected, nil
}

// RecordEmailAttempt appends an outbox row.
func (s *SQLiteStore) RecordEmailAttempt(ctx context.Context, a EmailAttempt) error {
	if a.ID == "" {
		a.ID = ulid.Make().String()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	var errText any
	if a.Error != "" {
		errText = a.Error
	}

	query := `
	INSERT INTO outbound_emails (id, session_id, to_email, subject, status, error, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)`
	err := shared.RetryOnConflict(ctx, s.retry, "record_email_attempt", func() error {
		_, err := s.db.ExecContext(ctx, query, a.ID, a.SessionID, a.To, a.Subject, a.Status, errText, a.CreatedAt.UnixMilli())
		return err
	})
	if err != nil {
		return fmt.Errorf("insert email attempt: %w", err)
	}
	return nil
}

// CountEmailAttempts counts sent and failed attempts; blocked rows never
// count toward the quota.
func (s *SQLiteStore) CountEmailAttempts(ctx context.Context, sessionID string, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*) FROM outbound_emails
		WHERE session_id = ? AND created_at >= ? AND status IN (?, ?)`

	var n int
	err := s.db.QueryRowContext(ctx, query, sessionID, since.UnixMilli(), EmailStatusSent, EmailStatusFailed).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count email attempts: %w", err)
	}
	return n, nil
}
