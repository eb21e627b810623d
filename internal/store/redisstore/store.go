package redisstore

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const presencePrefix = "presence:"

// Only delete or refresh the key while it still names this connection, so a
// superseded connection cannot clear its replacement.
var (
	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

	refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)
)

// Store mirrors the presence registry into redis so other processes can
// answer "is this user online". It satisfies chat.PresenceObserver.
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

func New(addr, password string, db int, ttl time.Duration) *Store {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return NewWithClient(rdb, ttl)
}

func NewWithClient(rdb *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Store{rdb: rdb, ttl: ttl}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *Store) Close() error {
	return s.rdb.Close()
}

func presenceKey(username string) string {
	return presencePrefix + username
}

func (s *Store) Online(ctx context.Context, username, connID string) error {
	return s.rdb.Set(ctx, presenceKey(username), connID, s.ttl).Err()
}

func (s *Store) Offline(ctx context.Context, username, connID string) error {
	return releaseScript.Run(ctx, s.rdb, []string{presenceKey(username)}, connID).Err()
}

// Refresh extends the entry's TTL while connID still owns it.
func (s *Store) Refresh(ctx context.Context, username, connID string) error {
	return refreshScript.Run(ctx, s.rdb, []string{presenceKey(username)}, connID, s.ttl.Milliseconds()).Err()
}

// Lookup returns the connection id recorded for username.
func (s *Store) Lookup(ctx context.Context, username string) (string, bool, error) {
	v, err := s.rdb.Get(ctx, presenceKey(username)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *Store) IsOnline(ctx context.Context, username string) (bool, error) {
	_, ok, err := s.Lookup(ctx, username)
	return ok, err
}
