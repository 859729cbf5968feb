package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// consumeScript mirrors counters.consume. Window starts are unix millis.
// Returns {allowed, denied_window, minute_count, day_count}.
var consumeScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local per_minute = tonumber(ARGV[2])
local per_day = tonumber(ARGV[3])
local minute_ms = tonumber(ARGV[4])
local day_ms = tonumber(ARGV[5])

local h = redis.call("HMGET", KEYS[1], "ms", "mc", "ds", "dc")
local ms = tonumber(h[1])
local mc = tonumber(h[2]) or 0
local ds = tonumber(h[3])
local dc = tonumber(h[4]) or 0

if ms == nil or now >= ms + minute_ms then
  ms = now
  mc = 0
end
if ds == nil or now >= ds + day_ms then
  ds = now
  dc = 0
end

local denied = 0
if per_minute > 0 and mc + 1 > per_minute then
  denied = 1
elseif per_day > 0 and dc + 1 > per_day then
  denied = 2
else
  mc = mc + 1
  dc = dc + 1
end

redis.call("HSET", KEYS[1],
  "ms", string.format("%d", ms), "mc", string.format("%d", mc),
  "ds", string.format("%d", ds), "dc", string.format("%d", dc))
redis.call("PEXPIRE", KEYS[1], day_ms + minute_ms)

if denied == 0 then
  return {1, 0, mc, dc}
end
return {0, denied, mc, dc}
`)

// RedisStore keeps counters in Redis so several service instances share one
// budget per key. The whole check-reset-increment runs as one Lua script.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore wraps an existing client. Keys are namespaced with prefix
// (default "agentid:ratelimit:"); a ':' separator is added when missing.
func NewRedisStore(client redis.UniversalClient, prefix string) (*RedisStore, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	switch {
	case prefix == "":
		prefix = "agentid:ratelimit:"
	case !strings.HasSuffix(prefix, ":"):
		prefix += ":"
	}
	return &RedisStore{client: client, prefix: prefix}, nil
}

// DialRedisStore connects to addr and verifies the connection.
func DialRedisStore(ctx context.Context, addr, password string, db int) (*RedisStore, error) {
	if addr == "" {
		return nil, errors.New("redis addr is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return NewRedisStore(client, "")
}

// Close closes the underlying client.
func (r *RedisStore) Close() error {
	return r.client.Close()
}

// Consume implements Store.
func (r *RedisStore) Consume(ctx context.Context, key string, limits Limits, now time.Time) (Decision, error) {
	res, err := consumeScript.Run(ctx, r.client, []string{r.prefix + key},
		now.UnixMilli(),
		limits.PerMinute,
		limits.PerDay,
		MinuteWindow.Milliseconds(),
		DayWindow.Milliseconds(),
	).Result()
	if err != nil {
		return Decision{}, err
	}

	values, ok := res.([]any)
	if !ok || len(values) != 4 {
		return Decision{}, errors.New("unexpected redis rate limit response")
	}
	nums := make([]int64, 4)
	for i, v := range values {
		n, ok := v.(int64)
		if !ok {
			return Decision{}, fmt.Errorf("invalid redis rate limit field %d", i)
		}
		nums[i] = n
	}

	denied := windowNone
	switch nums[1] {
	case 1:
		denied = windowMinute
	case 2:
		denied = windowDay
	}
	return decide(limits, int(nums[2]), int(nums[3]), denied), nil
}
