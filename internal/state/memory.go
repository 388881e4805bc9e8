package state

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps state in process memory. It is used by tests and dry runs.
type MemoryStore struct {
	mu   sync.Mutex
	runs map[string]time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: make(map[string]time.Time)}
}

func (s *MemoryStore) Get(_ context.Context, digestID string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.runs[digestID]
	return t, ok, nil
}

func (s *MemoryStore) Set(_ context.Context, digestID string, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[digestID] = t.UTC()
	return nil
}

func (s *MemoryStore) List(_ context.Context) (map[string]time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]time.Time, len(s.runs))
	for id, t := range s.runs {
		out[id] = t
	}
	return out, nil
}

func (s *MemoryStore) Delete(_ context.Context, digestID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.runs, digestID)
	return nil
}

func (s *MemoryStore) Close() error { return nil }

// MemoryLocker is an in-process keyed lock.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]bool)}
}

func (l *MemoryLocker) TryLock(_ context.Context, digestID string) (func() error, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[digestID] {
		return nil, ErrLocked
	}
	l.held[digestID] = true

	var once sync.Once
	return func() error {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, digestID)
			l.mu.Unlock()
		})
		return nil
	}, nil
}
