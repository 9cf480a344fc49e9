package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/loqalabs/loqa-listen/internal/config"
	"github.com/loqalabs/loqa-listen/internal/stt"
	_ "modernc.org/sqlite"
)

// Attempt is one recognition attempt.
type Attempt struct {
	ID        string
	Language  string
	CreatedAt time.Time
}

// Event represents a recorded lifecycle entry of an attempt.
type Event struct {
	ID        int64
	AttemptID string
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// Store wraps a SQLite-backed timeline of recognition attempts.
type Store struct {
	db    *sql.DB
	cfg   config.HistoryConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the event store according to config.
func Open(ctx context.Context, cfg config.HistoryConfig, log *slog.Logger) (*Store, error) {
	if cfg.RetentionMode == "ephemeral" {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.RetentionMode == "session" {
		if err := s.clear(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("clear previous session: %w", err)
		}
	}

	if cfg.VacuumOnStart {
		if err := s.vacuum(ctx); err != nil {
			log.Warn("event store vacuum failed", slog.String("error", err.Error()))
		}
	}

	if err := s.Prune(ctx); err != nil {
		log.Warn("event store prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	ddl := `
CREATE TABLE IF NOT EXISTS attempts (
    attempt_id TEXT PRIMARY KEY,
    language TEXT,
    created_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    attempt_id TEXT NOT NULL,
    event_type TEXT,
    payload BLOB,
    created_at TIMESTAMP NOT NULL,
    FOREIGN KEY(attempt_id) REFERENCES attempts(attempt_id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_events_attempt_created ON events(attempt_id, created_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// clear drops the history of earlier runs. Session retention keeps attempts
// only for the lifetime of the process.
func (s *Store) clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM events; DELETE FROM attempts;`)
	return err
}

func (s *Store) vacuum(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) disabled() bool {
	return s.cfg.RetentionMode == "ephemeral" || s.db == nil
}

// BeginAttempt ensures an attempt row exists.
func (s *Store) BeginAttempt(ctx context.Context, attemptID, language string) error {
	if s.disabled() {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO attempts(attempt_id, language, created_at)
		 VALUES(?, ?, ?)
		 ON CONFLICT(attempt_id) DO UPDATE SET language=excluded.language`,
		attemptID, language, s.clock().UTC())
	return err
}

// RecordEvent stores a lifecycle event. Audio payloads are not persisted.
func (s *Store) RecordEvent(ctx context.Context, attemptID string, evt stt.Event) error {
	evt.PCM = nil
	payload, err := json.Marshal(stt.EventToWire(attemptID, evt))
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return s.AppendEvent(ctx, Event{AttemptID: attemptID, Type: string(evt.Kind), Payload: payload})
}

// AppendEvent writes an event into the store.
func (s *Store) AppendEvent(ctx context.Context, evt Event) error {
	if s.disabled() {
		return nil
	}
	if evt.CreatedAt.IsZero() {
		evt.CreatedAt = s.clock().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events(attempt_id, event_type, payload, created_at)
		 VALUES(?, ?, ?, ?)`,
		evt.AttemptID, evt.Type, evt.Payload, evt.CreatedAt)
	return err
}

// ListAttempts returns up to limit attempts, newest first.
func (s *Store) ListAttempts(ctx context.Context, limit int) ([]Attempt, error) {
	if s.disabled() {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT attempt_id, language, created_at FROM attempts ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attempts []Attempt
	for rows.Next() {
		var a Attempt
		var created string
		if err := rows.Scan(&a.ID, &a.Language, &created); err != nil {
			return nil, err
		}
		a.CreatedAt = parseTimestamp(created)
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

// ListAttemptEvents retrieves up to limit events for an attempt ordered ascending by time.
func (s *Store) ListAttemptEvents(ctx context.Context, attemptID string, limit int) ([]Event, error) {
	if s.disabled() {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, attempt_id, event_type, payload, created_at
		 FROM events WHERE attempt_id = ? ORDER BY created_at ASC, id ASC LIMIT ?`, attemptID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var created string
		if err := rows.Scan(&e.ID, &e.AttemptID, &e.Type, &e.Payload, &created); err != nil {
			return nil, err
		}
		e.CreatedAt = parseTimestamp(created)
		events = append(events, e)
	}
	return events, rows.Err()
}

func parseTimestamp(value string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999999-07:00"} {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts
		}
	}
	return time.Time{}
}

// Prune applies configured retention (called on startup and can be scheduled).
func (s *Store) Prune(ctx context.Context) (err error) {
	if s.disabled() {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)
		if _, err = tx.ExecContext(ctx, `DELETE FROM events WHERE created_at < ?`, cutoff.UTC()); err != nil {
			return err
		}
		if _, err = tx.ExecContext(ctx, `DELETE FROM attempts WHERE created_at < ?`, cutoff.UTC()); err != nil {
			return err
		}
	}
	if s.cfg.MaxAttempts > 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM attempts WHERE attempt_id IN (
			SELECT attempt_id FROM attempts ORDER BY created_at DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxAttempts)
		if err != nil {
			return err
		}
	}
	err = tx.Commit()
	return err
}
