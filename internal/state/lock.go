package state

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// FlockLocker holds one lock file per digest id in dir, so separate processes
// sharing a file or sqlite store never run the same digest at once.
type FlockLocker struct {
	dir string
}

func NewFlockLocker(dir string) (*FlockLocker, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, storeErr("create lock dir", err)
	}
	return &FlockLocker{dir: dir}, nil
}

func (l *FlockLocker) path(digestID string) string {
	return filepath.Join(l.dir, safeName(digestID)+".lock")
}

func (l *FlockLocker) TryLock(_ context.Context, digestID string) (func() error, error) {
	lock := flock.New(l.path(digestID))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, storeErr(fmt.Sprintf("lock %s", digestID), err)
	}
	if !ok {
		return nil, ErrLocked
	}
	return lock.Unlock, nil
}
