package state

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rollinrhu-cell/youtube-channel-digest/internal/config"
	"github.com/rollinrhu-cell/youtube-channel-digest/internal/digest"
)

func testStoreContract(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	if _, ok, err := store.Get(ctx, "econ"); err != nil || ok {
		t.Fatalf("Get on empty store: ok=%v err=%v", ok, err)
	}

	cutoff := time.Date(2025, 2, 3, 9, 0, 0, 0, time.FixedZone("EST", -5*3600))
	if err := store.Set(ctx, "econ", cutoff); err != nil {
		t.Fatalf("Set returned error: %v", err)
	}
	got, ok, err := store.Get(ctx, "econ")
	if err != nil || !ok {
		t.Fatalf("Get after Set: ok=%v err=%v", ok, err)
	}
	if !got.Equal(cutoff) {
		t.Errorf("Expected %v, got %v", cutoff, got)
	}
	if got.Location() != time.UTC {
		t.Errorf("Expected UTC timestamp, got %v", got.Location())
	}

	later := cutoff.Add(7 * 24 * time.Hour)
	if err := store.Set(ctx, "econ", later); err != nil {
		t.Fatalf("Set overwrite returned error: %v", err)
	}
	if err := store.Set(ctx, "tech/daily", cutoff); err != nil {
		t.Fatalf("Set second digest returned error: %v", err)
	}

	all, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("Expected 2 entries, got %v", all)
	}
	if !all["econ"].Equal(later) {
		t.Errorf("Expected overwritten value %v, got %v", later, all["econ"])
	}

	if err := store.Delete(ctx, "econ"); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}
	if _, ok, _ := store.Get(ctx, "econ"); ok {
		t.Error("Expected digest to be gone after Delete")
	}
	if err := store.Delete(ctx, "never-existed"); err != nil {
		t.Errorf("Delete of missing id should succeed, got %v", err)
	}
}

func testLockerContract(t *testing.T, locker Locker) {
	t.Helper()
	ctx := context.Background()

	unlock, err := locker.TryLock(ctx, "econ")
	if err != nil {
		t.Fatalf("First TryLock returned error: %v", err)
	}
	if _, err := locker.TryLock(ctx, "econ"); !errors.Is(err, ErrLocked) {
		t.Fatalf("Expected ErrLocked for held digest, got %v", err)
	}

	other, err := locker.TryLock(ctx, "tech")
	if err != nil {
		t.Fatalf("Other digest should lock independently: %v", err)
	}
	defer other()

	if err := unlock(); err != nil {
		t.Fatalf("Unlock returned error: %v", err)
	}
	again, err := locker.TryLock(ctx, "econ")
	if err != nil {
		t.Fatalf("TryLock after unlock returned error: %v", err)
	}
	again()
}

func TestMemoryStore(t *testing.T) {
	testStoreContract(t, NewMemoryStore())
}

func TestMemoryLocker(t *testing.T) {
	testLockerContract(t, NewMemoryLocker())
}

func TestFileStore(t *testing.T) {
	store, err := NewFileStore(filepath.Join(t.TempDir(), "nested", "state.json"))
	if err != nil {
		t.Fatalf("NewFileStore returned error: %v", err)
	}
	testStoreContract(t, store)
}

func TestFileStoreDocumentFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	store, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore returned error: %v", err)
	}
	cutoff := time.Date(2025, 1, 27, 9, 0, 0, 0, time.UTC)
	if err := store.Set(context.Background(), "econ", cutoff); err != nil {
		t.Fatalf("Set returned error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile returned error: %v", err)
	}
	if !strings.Contains(string(data), `"last_run": "2025-01-27T09:00:00Z"`) {
		t.Errorf("Unexpected document: %s", data)
	}

	reopened, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore returned error: %v", err)
	}
	got, ok, err := reopened.Get(context.Background(), "econ")
	if err != nil || !ok || !got.Equal(cutoff) {
		t.Errorf("Expected persisted cutoff, got %v ok=%v err=%v", got, ok, err)
	}
}

func TestFileStoreReadsOffsetlessTimestamps(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	doc := `{
  "AI Podcasts": {"last_run": "2025-01-27T08:00:00.123456", "seen_ids": ["abc"]},
  "Econ Weekly": {"last_run": "2025-01-20T08:00:00"}
}`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("WriteFile returned error: %v", err)
	}
	store, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore returned error: %v", err)
	}
	ctx := context.Background()

	got, ok, err := store.Get(ctx, "AI Podcasts")
	want := time.Date(2025, 1, 27, 8, 0, 0, 123456000, time.UTC)
	if err != nil || !ok || !got.Equal(want) {
		t.Fatalf("Expected %v, got %v ok=%v err=%v", want, got, ok, err)
	}

	all, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if !all["Econ Weekly"].Equal(time.Date(2025, 1, 20, 8, 0, 0, 0, time.UTC)) {
		t.Errorf("Unexpected listing: %v", all)
	}

	next := time.Date(2025, 2, 3, 8, 0, 0, 0, time.UTC)
	if err := store.Set(ctx, "AI Podcasts", next); err != nil {
		t.Fatalf("Set returned error: %v", err)
	}
	if got, _, err := store.Get(ctx, "AI Podcasts"); err != nil || !got.Equal(next) {
		t.Errorf("Expected rewritten cutoff %v, got %v (%v)", next, got, err)
	}
	if got, _, err := store.Get(ctx, "Econ Weekly"); err != nil || !got.Equal(time.Date(2025, 1, 20, 8, 0, 0, 0, time.UTC)) {
		t.Errorf("Expected untouched legacy entry, got %v (%v)", got, err)
	}
}

func TestFileStoreUnparseableTimestamp(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte(`{"econ": {"last_run": "last tuesday"}}`), 0o644); err != nil {
		t.Fatalf("WriteFile returned error: %v", err)
	}
	store, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore returned error: %v", err)
	}
	if _, _, err := store.Get(context.Background(), "econ"); !errors.Is(err, digest.ErrStateStore) {
		t.Fatalf("Expected ErrStateStore, got %v", err)
	}
}

func TestFileStoreCorruptDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("WriteFile returned error: %v", err)
	}
	store, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore returned error: %v", err)
	}
	_, _, err = store.Get(context.Background(), "econ")
	if !errors.Is(err, digest.ErrStateStore) {
		t.Fatalf("Expected ErrStateStore, got %v", err)
	}
}

func TestSQLiteStore(t *testing.T) {
	store, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("OpenSQLite returned error: %v", err)
	}
	defer store.Close()
	testStoreContract(t, store)
}

func TestSQLiteStoreReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	ctx := context.Background()
	cutoff := time.Date(2025, 2, 3, 9, 0, 0, 0, time.UTC)

	store, err := OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("OpenSQLite returned error: %v", err)
	}
	if err := store.Set(ctx, "econ", cutoff); err != nil {
		t.Fatalf("Set returned error: %v", err)
	}
	store.Close()

	reopened, err := OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("OpenSQLite reopen returned error: %v", err)
	}
	defer reopened.Close()
	got, ok, err := reopened.Get(ctx, "econ")
	if err != nil || !ok || !got.Equal(cutoff) {
		t.Errorf("Expected persisted cutoff, got %v ok=%v err=%v", got, ok, err)
	}
}

func TestFlockLocker(t *testing.T) {
	locker, err := NewFlockLocker(t.TempDir())
	if err != nil {
		t.Fatalf("NewFlockLocker returned error: %v", err)
	}
	testLockerContract(t, locker)
}

func TestOpenBackends(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name string
		cfg  config.StateConfig
	}{
		{"memory", config.StateConfig{Backend: "memory"}},
		{"file", config.StateConfig{Backend: "file", Path: filepath.Join(dir, "state.json")}},
		{"sqlite", config.StateConfig{Backend: "sqlite", Path: filepath.Join(dir, "state.db"), LockDir: filepath.Join(dir, "locks")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, locker, err := Open(context.Background(), tt.cfg)
			if err != nil {
				t.Fatalf("Open returned error: %v", err)
			}
			defer store.Close()
			if locker == nil {
				t.Fatal("Expected a locker")
			}
		})
	}

	if _, _, err := Open(context.Background(), config.StateConfig{Backend: "etcd"}); !errors.Is(err, digest.ErrConfiguration) {
		t.Errorf("Expected ErrConfiguration for unknown backend, got %v", err)
	}
}

func TestSafeName(t *testing.T) {
	tests := map[string]string{
		"econ":         "econ",
		"tech/daily":   "tech_daily",
		"Named Only":   "Named_Only",
		"":             "_",
		"weekly-2.0_a": "weekly-2.0_a",
	}
	for in, want := range tests {
		if got := safeName(in); got != want {
			t.Errorf("safeName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("STATE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("STATE_TEST_POSTGRES_DSN not set")
	}
	store, err := OpenPostgres(context.Background(), dsn)
	if err != nil {
		t.Fatalf("OpenPostgres returned error: %v", err)
	}
	defer store.Close()
	for _, id := range []string{"econ", "tech/daily"} {
		_ = store.Delete(context.Background(), id)
	}
	testStoreContract(t, store)
	testLockerContract(t, store.Locker())
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("STATE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("STATE_TEST_REDIS_ADDR not set")
	}
	store, err := OpenRedis(context.Background(), addr)
	if err != nil {
		t.Fatalf("OpenRedis returned error: %v", err)
	}
	defer store.Close()
	for _, id := range []string{"econ", "tech/daily"} {
		_ = store.Delete(context.Background(), id)
	}
	testStoreContract(t, store)
	testLockerContract(t, store.Locker())
}
