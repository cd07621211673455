// Package store persists shipping events in SQLite so the calendar can be
// rendered without refetching every feed.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "modernc.org/sqlite"

	"shipcal/internal/model"
)

const (
	// SchemaVersion is stored in PRAGMA user_version.
	SchemaVersion = 1

	createEventsTableSQL = `
		CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			source TEXT NOT NULL DEFAULT '',
			title TEXT NOT NULL DEFAULT '',
			timestamp TEXT,
			timestamp_kind TEXT NOT NULL,
			carrier TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT '',
			tracking_number TEXT NOT NULL DEFAULT '',
			account_name TEXT,
			updated_at INTEGER NOT NULL
		);
	`

	createIndexesSQL = `
		CREATE INDEX IF NOT EXISTS idx_events_source ON events (source);
	`

	// The conflict branch leaves rowid alone so listing order stays the
	// order in which IDs were first seen.
	upsertEventSQL = `
		INSERT INTO events (id, source, title, timestamp, timestamp_kind, carrier, status, tracking_number, account_name, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			source = excluded.source,
			title = excluded.title,
			timestamp = excluded.timestamp,
			timestamp_kind = excluded.timestamp_kind,
			carrier = excluded.carrier,
			status = excluded.status,
			tracking_number = excluded.tracking_number,
			account_name = excluded.account_name,
			updated_at = excluded.updated_at
	`
)

// Timestamp kinds. A stored timestamp is read back as the same Go type it
// was written with, so malformed values still reach the validator.
const (
	kindNone    = "none"
	kindTime    = "time"
	kindText    = "text"
	kindEpochMs = "epoch-ms"
)

// ErrEmptyID is returned when an event without ID is persisted.
var ErrEmptyID = errors.New("store: event id is empty")

// PersistError ties a write failure to the event that caused it.
type PersistError struct {
	EventID string
	Err     error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("persist event %q: %v", e.EventID, e.Err)
}

func (e *PersistError) Unwrap() error {
	return e.Err
}

// Store wraps the SQLite connection.
type Store struct {
	conn *sql.DB
	path string
	now  func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithNow sets the clock used for updated_at.
func WithNow(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New opens (creating if needed) the database at dbPath and makes sure the
// schema exists.
func New(dbPath string, opts ...Option) (*Store, error) {
	if dbPath == "" {
		return nil, errors.New("store: database path is empty")
	}
	if dbPath[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("store: get user home directory: %w", err)
		}
		dbPath = filepath.Join(home, dbPath[1:])
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("store: create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}

	// Busy timeout first, before anything that may need a write lock.
	if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: set busy timeout: %w", err)
	}
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: enable WAL mode: %w", err)
	}

	s := &Store{conn: conn, path: dbPath, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.initSchema(); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// NewForTesting opens a store in a test directory.
func NewForTesting(dbPath string) (*Store, error) {
	return New(dbPath, WithNow(func() time.Time {
		return time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	}))
}

func (s *Store) initSchema() error {
	var version int
	if err := s.conn.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("store: check schema version: %w", err)
	}
	if version >= SchemaVersion {
		return nil
	}
	if _, err := s.conn.Exec(createEventsTableSQL); err != nil {
		return fmt.Errorf("store: create events table: %w", err)
	}
	if _, err := s.conn.Exec(createIndexesSQL); err != nil {
		return fmt.Errorf("store: create indexes: %w", err)
	}
	if _, err := s.conn.Exec(fmt.Sprintf("PRAGMA user_version = %d", SchemaVersion)); err != nil {
		return fmt.Errorf("store: set schema version: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// PersistEvent inserts ev or replaces the stored event with the same ID.
// Failures are returned as *PersistError.
func (s *Store) PersistEvent(ctx context.Context, ev model.ShippingEvent) error {
	if ev.ID == "" {
		return &PersistError{Err: ErrEmptyID}
	}

	ts, kind := encodeTimestamp(ev.Timestamp)
	var account sql.NullString
	if ev.AccountName != nil {
		account = sql.NullString{String: *ev.AccountName, Valid: true}
	}

	_, err := s.conn.ExecContext(ctx, upsertEventSQL,
		ev.ID, ev.Source, ev.Title, ts, kind,
		ev.Carrier, ev.Status, ev.TrackingNumber, account,
		s.now().Unix(),
	)
	if err != nil {
		return &PersistError{EventID: ev.ID, Err: err}
	}
	return nil
}

// PersistAll persists every event, continuing past failures. It returns
// the number of events written and the per-event errors.
func (s *Store) PersistAll(ctx context.Context, events []model.ShippingEvent) (int, []error) {
	var errs []error
	written := 0
	for _, ev := range events {
		if err := s.PersistEvent(ctx, ev); err != nil {
			errs = append(errs, err)
			continue
		}
		written++
	}
	return written, errs
}

// ListEvents returns every stored event in insertion order.
func (s *Store) ListEvents(ctx context.Context) ([]model.ShippingEvent, error) {
	return s.query(ctx, `
		SELECT id, source, title, timestamp, timestamp_kind, carrier, status, tracking_number, account_name
		FROM events ORDER BY rowid
	`)
}

// ListBySource returns the events imported from one feed, in insertion
// order.
func (s *Store) ListBySource(ctx context.Context, source string) ([]model.ShippingEvent, error) {
	return s.query(ctx, `
		SELECT id, source, title, timestamp, timestamp_kind, carrier, status, tracking_number, account_name
		FROM events WHERE source = ? ORDER BY rowid
	`, source)
}

// PruneSource deletes the events of source whose ID is not in keep, so
// shipments removed from a feed disappear from the calendar. It returns
// the number of deleted rows.
func (s *Store) PruneSource(ctx context.Context, source string, keep []string) (int64, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("store: begin prune: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `SELECT id FROM events WHERE source = ?`, source)
	if err != nil {
		return 0, fmt.Errorf("store: list source ids: %w", err)
	}
	keepSet := make(map[string]struct{}, len(keep))
	for _, id := range keep {
		keepSet[id] = struct{}{}
	}
	var stale []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, fmt.Errorf("store: scan id: %w", err)
		}
		if _, ok := keepSet[id]; !ok {
			stale = append(stale, id)
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, fmt.Errorf("store: iterate ids: %w", err)
	}
	rows.Close()

	var deleted int64
	for _, id := range stale {
		res, err := tx.ExecContext(ctx, `DELETE FROM events WHERE id = ?`, id)
		if err != nil {
			return 0, fmt.Errorf("store: delete %q: %w", id, err)
		}
		n, _ := res.RowsAffected()
		deleted += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("store: commit prune: %w", err)
	}
	return deleted, nil
}

// Count returns the number of stored events.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count events: %w", err)
	}
	return n, nil
}

func (s *Store) query(ctx context.Context, q string, args ...any) ([]model.ShippingEvent, error) {
	rows, err := s.conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query events: %w", err)
	}
	defer rows.Close()

	events := make([]model.ShippingEvent, 0)
	for rows.Next() {
		var (
			ev      model.ShippingEvent
			ts      sql.NullString
			kind    string
			account sql.NullString
		)
		if err := rows.Scan(&ev.ID, &ev.Source, &ev.Title, &ts, &kind,
			&ev.Carrier, &ev.Status, &ev.TrackingNumber, &account); err != nil {
			return nil, fmt.Errorf("store: scan event: %w", err)
		}
		ev.Timestamp = decodeTimestamp(ts, kind)
		if account.Valid {
			ev.AccountName = model.StringPtr(account.String)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate events: %w", err)
	}
	return events, nil
}

func encodeTimestamp(raw any) (sql.NullString, string) {
	text := func(s string) sql.NullString { return sql.NullString{String: s, Valid: true} }

	switch ts := raw.(type) {
	case nil:
		return sql.NullString{}, kindNone
	case time.Time:
		if ts.IsZero() {
			return sql.NullString{}, kindNone
		}
		return text(ts.Format(time.RFC3339Nano)), kindTime
	case *time.Time:
		if ts == nil || ts.IsZero() {
			return sql.NullString{}, kindNone
		}
		return text(ts.Format(time.RFC3339Nano)), kindTime
	case string:
		return text(ts), kindText
	case json.Number:
		return text(ts.String()), kindEpochMs
	case int:
		return text(strconv.FormatInt(int64(ts), 10)), kindEpochMs
	case int32:
		return text(strconv.FormatInt(int64(ts), 10)), kindEpochMs
	case int64:
		return text(strconv.FormatInt(ts, 10)), kindEpochMs
	case uint:
		return text(strconv.FormatUint(uint64(ts), 10)), kindEpochMs
	case uint32:
		return text(strconv.FormatUint(uint64(ts), 10)), kindEpochMs
	case uint64:
		return text(strconv.FormatUint(ts, 10)), kindEpochMs
	case float32:
		return text(strconv.FormatFloat(float64(ts), 'f', -1, 32)), kindEpochMs
	case float64:
		return text(strconv.FormatFloat(ts, 'f', -1, 64)), kindEpochMs
	default:
		// Kept as text; the validator will report it.
		return text(fmt.Sprint(raw)), kindText
	}
}

func decodeTimestamp(ts sql.NullString, kind string) any {
	if !ts.Valid {
		return nil
	}
	switch kind {
	case kindTime:
		t, err := time.Parse(time.RFC3339Nano, ts.String)
		if err != nil {
			return ts.String
		}
		return t
	case kindEpochMs:
		return json.Number(ts.String)
	default:
		return ts.String
	}
}
