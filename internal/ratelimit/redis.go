package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// incrAndExpire performs the whole increment-and-maybe-expire step as one
// atomic unit, so two concurrent callers on the same key always observe
// counts exactly one apart. PTTL is read back so the caller gets the true
// remaining window, not one re-derived from the configured length.
var incrAndExpire = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
return {count, ttl}
`)

type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisStore(rdb *redis.Client, prefix string) *RedisStore {
	return &RedisStore{rdb: rdb, prefix: prefix}
}

func (s *RedisStore) Incr(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	res, err := incrAndExpire.Run(ctx, s.rdb, []string{s.prefix + ":" + key}, window.Milliseconds()).Slice()
	if err != nil {
		return 0, 0, err
	}
	if len(res) != 2 {
		return 0, 0, fmt.Errorf("unexpected script reply of length %d", len(res))
	}

	count, ok := res[0].(int64)
	if !ok {
		return 0, 0, fmt.Errorf("unexpected count type %T", res[0])
	}
	ttlMillis, ok := res[1].(int64)
	if !ok {
		return 0, 0, fmt.Errorf("unexpected ttl type %T", res[1])
	}

	remaining := time.Duration(ttlMillis) * time.Millisecond
	if ttlMillis < 0 {
		// No expiry on the key (should not happen with the script above).
		remaining = window
	}

	return count, remaining, nil
}
