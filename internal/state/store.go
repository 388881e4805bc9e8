// Package state persists the last successful run time of each digest and
// serializes runs of the same digest.
package state

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/rollinrhu-cell/youtube-channel-digest/internal/config"
	"github.com/rollinrhu-cell/youtube-channel-digest/internal/digest"
)

// ErrLocked is returned by TryLock when another run holds the digest.
var ErrLocked = errors.New("state: digest is locked by another run")

// Store records the cutoff of the last successful run per digest.
type Store interface {
	Get(ctx context.Context, digestID string) (time.Time, bool, error)
	Set(ctx context.Context, digestID string, t time.Time) error
	List(ctx context.Context) (map[string]time.Time, error)
	Delete(ctx context.Context, digestID string) error
	Close() error
}

// Locker grants exclusive access to one digest id. TryLock never waits.
type Locker interface {
	TryLock(ctx context.Context, digestID string) (unlock func() error, err error)
}

// Open builds the store and locker for the configured backend.
func Open(ctx context.Context, cfg config.StateConfig) (Store, Locker, error) {
	switch cfg.Backend {
	case "memory":
		return NewMemoryStore(), NewMemoryLocker(), nil
	case "file":
		store, err := NewFileStore(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		locker, err := NewFlockLocker(lockDir(cfg))
		if err != nil {
			return nil, nil, err
		}
		return store, locker, nil
	case "sqlite":
		store, err := OpenSQLite(ctx, cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		locker, err := NewFlockLocker(lockDir(cfg))
		if err != nil {
			_ = store.Close()
			return nil, nil, err
		}
		return store, locker, nil
	case "postgres":
		store, err := OpenPostgres(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Locker(), nil
	case "redis":
		store, err := OpenRedis(ctx, cfg.RedisAddr)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Locker(), nil
	default:
		return nil, nil, fmt.Errorf("%w: unsupported state backend %q", digest.ErrConfiguration, cfg.Backend)
	}
}

func lockDir(cfg config.StateConfig) string {
	if cfg.LockDir != "" {
		return cfg.LockDir
	}
	dir := filepath.Dir(cfg.Path)
	if dir == "" {
		dir = "."
	}
	return dir
}

func storeErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", digest.ErrStateStore, op, err)
}

// safeName maps a digest id onto a string usable as a file name.
func safeName(id string) string {
	var b strings.Builder
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "_"
	}
	return b.String()
}
