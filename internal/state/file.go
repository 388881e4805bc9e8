package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

const fileLockRetry = 50 * time.Millisecond

type fileEntry struct {
	LastRun string `json:"last_run"`
}

// Offset-less layouts found in state files written by earlier deployments.
// They are read as UTC.
var legacyLastRunLayouts = []string{
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
}

func parseLastRun(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	for _, layout := range legacyLastRunLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized last_run %q", s)
}

// FileStore keeps state in a JSON document of the form
// {"<digest id>": {"last_run": "<RFC3339>"}}. Writes go to a temp file that is
// renamed over the original, under a lock file shared with other processes.
// Other fields of an entry are ignored and dropped on the next write.
type FileStore struct {
	path string
	mu   sync.Mutex
	lock *flock.Flock
}

func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, storeErr("open", errors.New("file path is empty"))
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, storeErr("create state dir", err)
		}
	}
	return &FileStore{path: path, lock: flock.New(path + ".lock")}, nil
}

// Path returns the location of the state document.
func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Get(ctx context.Context, digestID string) (time.Time, bool, error) {
	var (
		t  time.Time
		ok bool
	)
	err := s.withLock(ctx, func() error {
		doc, err := s.read()
		if err != nil {
			return err
		}
		entry, found := doc[digestID]
		if !found || entry.LastRun == "" {
			return nil
		}
		parsed, err := parseLastRun(entry.LastRun)
		if err != nil {
			return storeErr(fmt.Sprintf("parse %s", s.path), err)
		}
		t, ok = parsed, true
		return nil
	})
	if err != nil {
		return time.Time{}, false, err
	}
	return t, ok, nil
}

func (s *FileStore) Set(ctx context.Context, digestID string, t time.Time) error {
	return s.withLock(ctx, func() error {
		doc, err := s.read()
		if err != nil {
			return err
		}
		doc[digestID] = fileEntry{LastRun: t.UTC().Format(time.RFC3339Nano)}
		return s.write(doc)
	})
}

func (s *FileStore) List(ctx context.Context) (map[string]time.Time, error) {
	out := make(map[string]time.Time)
	err := s.withLock(ctx, func() error {
		doc, err := s.read()
		if err != nil {
			return err
		}
		for id, entry := range doc {
			if entry.LastRun == "" {
				continue
			}
			t, err := parseLastRun(entry.LastRun)
			if err != nil {
				return storeErr(fmt.Sprintf("parse %s", s.path), err)
			}
			out[id] = t
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *FileStore) Delete(ctx context.Context, digestID string) error {
	return s.withLock(ctx, func() error {
		doc, err := s.read()
		if err != nil {
			return err
		}
		if _, ok := doc[digestID]; !ok {
			return nil
		}
		delete(doc, digestID)
		return s.write(doc)
	})
}

func (s *FileStore) Close() error { return nil }

func (s *FileStore) withLock(ctx context.Context, fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ok, err := s.lock.TryLockContext(ctx, fileLockRetry)
	if err != nil {
		return storeErr("lock state file", err)
	}
	if !ok {
		return storeErr("lock state file", errors.New("lock not acquired"))
	}
	defer s.lock.Unlock()

	return fn()
}

func (s *FileStore) read() (map[string]fileEntry, error) {
	doc := make(map[string]fileEntry)
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return doc, nil
	}
	if err != nil {
		return nil, storeErr("read state file", err)
	}
	if len(data) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, storeErr(fmt.Sprintf("parse %s", s.path), err)
	}
	return doc, nil
}

func (s *FileStore) write(doc map[string]fileEntry) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return storeErr("encode state", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return storeErr("create temp file", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return storeErr("write temp file", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return storeErr("sync temp file", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return storeErr("close temp file", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return storeErr("replace state file", err)
	}
	return nil
}
