package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	redisStateKey   = "channel-digest:state"
	redisLockPrefix = "channel-digest:lock:"
	redisLockTTL    = time.Hour
)

// releaseScript deletes the lock only when it still carries our token, so an
// expired lock taken over by another run is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisStore keeps state in a single hash keyed by digest id.
type RedisStore struct {
	client *redis.Client
}

// OpenRedis connects to addr and verifies the connection.
func OpenRedis(ctx context.Context, addr string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, storeErr("connect redis", err)
	}
	return &RedisStore{client: client}, nil
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Get(ctx context.Context, digestID string) (time.Time, bool, error) {
	raw, err := s.client.HGet(ctx, redisStateKey, digestID).Result()
	if errors.Is(err, redis.Nil) {
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

func (s *RedisStore) Set(ctx context.Context, digestID string, t time.Time) error {
	if err := s.client.HSet(ctx, redisStateKey, digestID, t.UTC().Format(time.RFC3339Nano)).Err(); err != nil {
		return storeErr("set run state", err)
	}
	return nil
}

func (s *RedisStore) List(ctx context.Context) (map[string]time.Time, error) {
	raw, err := s.client.HGetAll(ctx, redisStateKey).Result()
	if err != nil {
		return nil, storeErr("list run state", err)
	}
	out := make(map[string]time.Time, len(raw))
	for id, v := range raw {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return nil, storeErr(fmt.Sprintf("parse last_run of %s", id), err)
		}
		out[id] = t.UTC()
	}
	return out, nil
}

func (s *RedisStore) Delete(ctx context.Context, digestID string) error {
	if err := s.client.HDel(ctx, redisStateKey, digestID).Err(); err != nil {
		return storeErr("delete run state", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Locker returns a Locker backed by SET NX with a per-lock token.
func (s *RedisStore) Locker() Locker {
	return &redisLocker{client: s.client, ttl: redisLockTTL}
}

type redisLocker struct {
	client *redis.Client
	ttl    time.Duration
}

func (l *redisLocker) TryLock(ctx context.Context, digestID string) (func() error, error) {
	key := redisLockPrefix + digestID
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, storeErr(fmt.Sprintf("lock %s", digestID), err)
	}
	if !ok {
		return nil, ErrLocked
	}

	return func() error {
		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(unlockCtx, l.client, []string{key}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
			return storeErr(fmt.Sprintf("unlock %s", digestID), err)
		}
		return nil
	}, nil
}
