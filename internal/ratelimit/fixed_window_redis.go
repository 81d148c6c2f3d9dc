package ratelimit

import (
	"context"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const fixedWindowScript = `
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {count, ttl}
`

// RedisFixedWindow implements Limiter on a shared redis instance so the
// window survives restarts and is consistent across replicas.
type RedisFixedWindow struct {
	client *redis.Client
	script *redis.Script
}

func NewRedisFixedWindow(client *redis.Client) *RedisFixedWindow {
	if client == nil {
		return nil
	}
	return &RedisFixedWindow{
		client: client,
		script: redis.NewScript(fixedWindowScript),
	}
}

func (f *RedisFixedWindow) Allow(ctx context.Context, key string, limit int, window time.Duration) (*Result, error) {
	if f == nil || f.client == nil {
		return &Result{Allowed: false}, errors.New("rate limiter not configured")
	}
	if key == "" {
		return &Result{Allowed: false}, errors.New("rate limiter key is empty")
	}
	if limit <= 0 || window <= 0 {
		return &Result{Allowed: false}, errors.New("rate limiter limit and window must be positive")
	}

	res, err := f.script.Run(
		ctx,
		f.client,
		[]string{key},
		int64(window/time.Millisecond),
	).Slice()
	if err != nil {
		return &Result{Allowed: false}, err
	}
	if len(res) < 2 {
		return &Result{Allowed: false}, errors.New("invalid rate limit script response")
	}

	count := castToInt(res[0])
	ttlMillis := castToInt(res[1])

	result := &Result{
		Allowed:   count <= int64(limit),
		Limit:     limit,
		Remaining: int(int64(limit) - count),
	}
	if result.Remaining < 0 {
		result.Remaining = 0
	}
	if !result.Allowed {
		result.RetryAfter = time.Duration(ttlMillis) * time.Millisecond
	}
	return result, nil
}

func castToInt(v interface{}) int64 {
	switch val := v.(type) {
	case int64:
		return val
	case int:
		return int64(val)
	case float64:
		return int64(val)
	default:
		return 0
	}
}
