package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const (
	sqliteBusyRetries = 5
	sqliteBusyBackoff = 100 * time.Millisecond
)

// SQLiteStore keeps state in a run_state table of a local SQLite database.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens or creates the database at path and applies the schema.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, storeErr("open sqlite", errors.New("path is empty"))
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, storeErr("create state dir", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, storeErr("open sqlite db", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
			_ = db.Close()
			return nil, storeErr(fmt.Sprintf("apply pragma %q", pragma), execErr)
		}
	}

	store := &SQLiteStore{db: db, path: path}
	if err := store.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS run_state (
        digest_id TEXT PRIMARY KEY,
        last_run TEXT NOT NULL,
        updated_at TEXT NOT NULL
    )`)
	if err != nil {
		return storeErr("migrate sqlite", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, digestID string) (time.Time, bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT last_run FROM run_state WHERE digest_id = ?`, digestID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, storeErr("get run state", err)
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false, storeErr(fmt.Sprintf("parse last_run of %s", digestID), err)
	}
	return t.UTC(), true, nil
}

func (s *SQLiteStore) Set(ctx context.Context, digestID string, t time.Time) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	return s.execWithRetry(ctx, "set run state",
		`INSERT INTO run_state (digest_id, last_run, updated_at) VALUES (?, ?, ?)
         ON CONFLICT(digest_id) DO UPDATE SET last_run = excluded.last_run, updated_at = excluded.updated_at`,
		digestID, t.UTC().Format(time.RFC3339Nano), now)
}

func (s *SQLiteStore) List(ctx context.Context) (map[string]time.Time, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT digest_id, last_run FROM run_state`)
	if err != nil {
		return nil, storeErr("list run state", err)
	}
	defer rows.Close()

	out := make(map[string]time.Time)
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, storeErr("scan run state", err)
		}
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, storeErr(fmt.Sprintf("parse last_run of %s", id), err)
		}
		out[id] = t.UTC()
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list run state", err)
	}
	return out, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, digestID string) error {
	return s.execWithRetry(ctx, "delete run state", `DELETE FROM run_state WHERE digest_id = ?`, digestID)
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// execWithRetry retries writes that hit a locked database after busy_timeout
// expired, which happens when several processes share one file.
func (s *SQLiteStore) execWithRetry(ctx context.Context, op, query string, args ...any) error {
	var err error
	for attempt := 0; attempt <= sqliteBusyRetries; attempt++ {
		_, err = s.db.ExecContext(ctx, query, args...)
		if err == nil || !isBusy(err) {
			break
		}
		select {
		case <-ctx.Done():
			return storeErr(op, ctx.Err())
		case <-time.After(sqliteBusyBackoff * time.Duration(attempt+1)):
		}
	}
	if err != nil {
		return storeErr(op, err)
	}
	return nil
}

func isBusy(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "sqlite_busy")
}
