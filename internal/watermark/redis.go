// Package watermark stores per-source sync watermarks in Redis so several
// daemons pointed at the same remote account share one view of what has
// been synced.
package watermark

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kalambet/chatmirror/internal/storage"
)

// DefaultKey is the hash holding one field per source key.
const DefaultKey = "chatmirror:watermarks"

// Fixed width so that string comparison in Lua orders instants.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// KEYS[1]=hash; ARGV[1]=field; ARGV[2]=value
// Never lets a stored value move backwards, even with several writers.
var luaAdvance = redis.NewScript(`
  local cur = redis.call('HGET', KEYS[1], ARGV[1])
  if cur and cur > ARGV[2] then
    return 0
  end
  redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
  return 1
`)

// Redis is a watermark store backed by a single Redis hash.
type Redis struct {
	client redis.UniversalClient
	key    string
}

// NewRedis wraps client. An empty key uses DefaultKey.
func NewRedis(client redis.UniversalClient, key string) *Redis {
	if key == "" {
		key = DefaultKey
	}
	return &Redis{client: client, key: key}
}

// Dial connects to addr and verifies the connection.
func Dial(ctx context.Context, addr string) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("pinging redis at %s: %w", addr, err)
	}
	return rdb, nil
}

// GetLastSyncTime returns the watermark for source. ok is false when none is stored.
func (r *Redis) GetLastSyncTime(ctx context.Context, source string) (time.Time, bool, error) {
	v, err := r.client.HGet(ctx, r.key, source).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("loading watermark for %s: %w", source, err)
	}
	t, err := time.Parse(timeLayout, v)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parsing watermark for %s: %w", source, err)
	}
	return t, true, nil
}

// SetLastSyncTime stores t for source unless a newer value is already stored.
func (r *Redis) SetLastSyncTime(ctx context.Context, source string, t time.Time) error {
	v := t.UTC().Format(timeLayout)
	if err := luaAdvance.Run(ctx, r.client, []string{r.key}, source, v).Err(); err != nil {
		return fmt.Errorf("saving watermark for %s: %w", source, err)
	}
	return nil
}

// ResetSyncState removes the watermark for source, returning
// storage.ErrNotFound when none was stored.
func (r *Redis) ResetSyncState(ctx context.Context, source string) error {
	n, err := r.client.HDel(ctx, r.key, source).Result()
	if err != nil {
		return fmt.Errorf("resetting watermark for %s: %w", source, err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}
