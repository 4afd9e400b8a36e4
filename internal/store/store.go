// Package store persists the shared leader lock record and the stats rollup
// history in a local sqlite database that every daemon instance opens.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/shehryarbajwa/autoaccept/pkg/models"
)

// ErrNotFound is returned when a lock row does not exist
var ErrNotFound = errors.New("not found")

// Store wraps the sqlite database shared by daemon instances
type Store struct {
	db *sql.DB
}

// Open creates a new Store at path, creating the directory and applying
// pending migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close() //nolint:errcheck
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := ApplyMigrations(ctx, db); err != nil {
		db.Close() //nolint:errcheck
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the database
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// GetLock returns the named lock record or ErrNotFound
func (s *Store) GetLock(ctx context.Context, name string) (models.LockRecord, error) {
	var owner, heartbeat string
	err := s.db.QueryRowContext(ctx, `SELECT owner_id, last_heartbeat_at FROM locks WHERE name = ?`, name).Scan(&owner, &heartbeat)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.LockRecord{}, ErrNotFound
		}
		return models.LockRecord{}, fmt.Errorf("get lock %s: %w", name, err)
	}
	at, err := parseTS(heartbeat)
	if err != nil {
		return models.LockRecord{}, fmt.Errorf("parse heartbeat of lock %s: %w", name, err)
	}
	return models.LockRecord{OwnerID: owner, LastHeartbeatAt: at}, nil
}

// PutLock writes the named lock record. The last writer wins.
func (s *Store) PutLock(ctx context.Context, name string, rec models.LockRecord) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO locks(name, owner_id, last_heartbeat_at)
VALUES (?, ?, ?)
ON CONFLICT(name) DO UPDATE SET
	owner_id=excluded.owner_id,
	last_heartbeat_at=excluded.last_heartbeat_at
`, name, rec.OwnerID, ts(rec.LastHeartbeatAt))
	if err != nil {
		return fmt.Errorf("put lock %s: %w", name, err)
	}
	return nil
}

// DeleteLock removes the named lock if ownerID still holds it
func (s *Store) DeleteLock(ctx context.Context, name, ownerID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM locks WHERE name = ? AND owner_id = ?`, name, ownerID)
	if err != nil {
		return fmt.Errorf("delete lock %s: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete lock %s: %w", name, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Lock binds the lock table to one lock name
func (s *Store) Lock(name string) *Lock {
	return &Lock{store: s, name: name}
}

// Lock is a single named lock record
type Lock struct {
	store *Store
	name  string
}

// Load reads the lock record; ok is false when nobody holds it
func (l *Lock) Load(ctx context.Context) (models.LockRecord, bool, error) {
	rec, err := l.store.GetLock(ctx, l.name)
	if errors.Is(err, ErrNotFound) {
		return models.LockRecord{}, false, nil
	}
	if err != nil {
		return models.LockRecord{}, false, err
	}
	return rec, true, nil
}

// Save writes rec, replacing any previous owner
func (l *Lock) Save(ctx context.Context, rec models.LockRecord) error {
	return l.store.PutLock(ctx, l.name, rec)
}

// Clear deletes the record if ownerID still holds it
func (l *Lock) Clear(ctx context.Context, ownerID string) error {
	err := l.store.DeleteLock(ctx, l.name, ownerID)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

// InsertRollup appends a rollup and returns its id
func (s *Store) InsertRollup(ctx context.Context, r models.Rollup) (int64, error) {
	if r.CollectedAt.IsZero() {
		r.CollectedAt = time.Now().UTC()
	}
	var start any
	if !r.Stats.SessionStartTime.IsZero() {
		start = ts(r.Stats.SessionStartTime)
	}
	res, err := s.db.ExecContext(ctx, `
INSERT INTO rollups(owner_id, collected_at, pages, clicks, blocked, file_edits, terminal_commands, actions_while_away, unverified, session_start_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`, r.OwnerID, ts(r.CollectedAt), r.Pages, r.Stats.Clicks, r.Stats.Blocked, r.Stats.FileEdits, r.Stats.TerminalCommands, r.Stats.ActionsWhileAway, r.Stats.Unverified, start)
	if err != nil {
		return 0, fmt.Errorf("insert rollup: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert rollup: %w", err)
	}
	return id, nil
}

// ListRollups returns the most recent rollups, newest first
func (s *Store) ListRollups(ctx context.Context, limit int) ([]models.Rollup, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT rollup_id, owner_id, collected_at, pages, clicks, blocked, file_edits, terminal_commands, actions_while_away, unverified, session_start_at
FROM rollups
ORDER BY rollup_id DESC
LIMIT ?
`, limit)
	if err != nil {
		return nil, fmt.Errorf("list rollups: %w", err)
	}
	defer rows.Close()

	var out []models.Rollup
	for rows.Next() {
		var (
			r         models.Rollup
			collected string
			start     sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.OwnerID, &collected, &r.Pages, &r.Stats.Clicks, &r.Stats.Blocked, &r.Stats.FileEdits,
			&r.Stats.TerminalCommands, &r.Stats.ActionsWhileAway, &r.Stats.Unverified, &start); err != nil {
			return nil, fmt.Errorf("scan rollup: %w", err)
		}
		if r.CollectedAt, err = parseTS(collected); err != nil {
			return nil, fmt.Errorf("parse rollup time: %w", err)
		}
		if start.Valid {
			if r.Stats.SessionStartTime, err = parseTS(start.String); err != nil {
				return nil, fmt.Errorf("parse session start: %w", err)
			}
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rollups: %w", err)
	}
	return out, nil
}

// Totals sums every rollup in history
func (s *Store) Totals(ctx context.Context) (models.Stats, error) {
	var st models.Stats
	err := s.db.QueryRowContext(ctx, `
SELECT COALESCE(SUM(clicks), 0), COALESCE(SUM(blocked), 0), COALESCE(SUM(file_edits), 0),
	COALESCE(SUM(terminal_commands), 0), COALESCE(SUM(actions_while_away), 0), COALESCE(SUM(unverified), 0)
FROM rollups
`).Scan(&st.Clicks, &st.Blocked, &st.FileEdits, &st.TerminalCommands, &st.ActionsWhileAway, &st.Unverified)
	if err != nil {
		return models.Stats{}, fmt.Errorf("sum rollups: %w", err)
	}
	return st, nil
}

func ts(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTS(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
