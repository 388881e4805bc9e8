package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps state in a run_state table and locks digests with
// session-level advisory locks.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to dsn and applies the schema.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, storeErr("parse postgres dsn", err)
	}
	cfg.MaxConns = 5

	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(connectCtx, cfg)
	if err != nil {
		return nil, storeErr("connect postgres", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, storeErr("ping postgres", err)
	}

	store := &PostgresStore{pool: pool}
	if err := store.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS run_state (
        digest_id TEXT PRIMARY KEY,
        last_run TIMESTAMPTZ NOT NULL,
        updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
    )`)
	if err != nil {
		return storeErr("migrate postgres", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, digestID string) (time.Time, bool, error) {
	var t time.Time
	err := s.pool.QueryRow(ctx, `SELECT last_run FROM run_state WHERE digest_id = $1`, digestID).Scan(&t)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, storeErr("get run state", err)
	}
	return t.UTC(), true, nil
}

func (s *PostgresStore) Set(ctx context.Context, digestID string, t time.Time) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO run_state (digest_id, last_run, updated_at) VALUES ($1, $2, now())
        ON CONFLICT (digest_id) DO UPDATE SET last_run = EXCLUDED.last_run, updated_at = now()`,
		digestID, t.UTC())
	if err != nil {
		return storeErr("set run state", err)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context) (map[string]time.Time, error) {
	rows, err := s.pool.Query(ctx, `SELECT digest_id, last_run FROM run_state`)
	if err != nil {
		return nil, storeErr("list run state", err)
	}
	defer rows.Close()

	out := make(map[string]time.Time)
	for rows.Next() {
		var (
			id string
			t  time.Time
		)
		if err := rows.Scan(&id, &t); err != nil {
			return nil, storeErr("scan run state", err)
		}
		out[id] = t.UTC()
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list run state", err)
	}
	return out, nil
}

func (s *PostgresStore) Delete(ctx context.Context, digestID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM run_state WHERE digest_id = $1`, digestID); err != nil {
		return storeErr("delete run state", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// Locker returns a Locker backed by pg_try_advisory_lock.
func (s *PostgresStore) Locker() Locker {
	return &advisoryLocker{pool: s.pool}
}

type advisoryLocker struct {
	pool *pgxpool.Pool
}

// TryLock holds a pooled connection for as long as the lock is held, since
// advisory locks belong to the session that took them.
func (l *advisoryLocker) TryLock(ctx context.Context, digestID string) (func() error, error) {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return nil, storeErr("acquire connection", err)
	}

	var ok bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock(hashtext($1))`, digestID).Scan(&ok); err != nil {
		conn.Release()
		return nil, storeErr(fmt.Sprintf("lock %s", digestID), err)
	}
	if !ok {
		conn.Release()
		return nil, ErrLocked
	}

	return func() error {
		defer conn.Release()
		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := conn.Exec(unlockCtx, `SELECT pg_advisory_unlock(hashtext($1))`, digestID); err != nil {
			return storeErr(fmt.Sprintf("unlock %s", digestID), err)
		}
		return nil
	}, nil
}
