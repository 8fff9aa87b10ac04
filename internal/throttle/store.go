package throttle

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Store keeps per-key request history for a sliding window
type Store interface {
	// Hit records a request at now if the window still has room. When it
	// does not, it returns false and how long until the oldest hit expires.
	Hit(ctx context.Context, key string, rate Rate, now time.Time) (bool, time.Duration, error)
}

// MemoryStore keeps history in process memory
type MemoryStore struct {
	mu      sync.Mutex
	history map[string][]time.Time
}

// NewMemoryStore creates an empty in-process store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{history: make(map[string][]time.Time)}
}

// Hit implements Store
func (m *MemoryStore) Hit(_ context.Context, key string, rate Rate, now time.Time) (bool, time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := now.Add(-rate.Period)
	hist := m.history[key]
	i := 0
	for i < len(hist) && !hist[i].After(cutoff) {
		i++
	}
	hist = hist[i:]

	if len(hist) >= rate.Requests {
		m.history[key] = hist
		return false, hist[0].Sub(cutoff), nil
	}
	m.history[key] = append(hist, now)
	return true, 0, nil
}

// slidingWindow trims expired hits, then either admits the request or
// returns the score of the oldest hit still inside the window
var slidingWindow = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
if count >= limit then
  local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
  return {0, oldest[2]}
end
redis.call('ZADD', key, now, ARGV[4])
redis.call('PEXPIRE', key, window)
return {1, 0}
`)

// RedisStore keeps history in a sorted set per key so that every replica shares it
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore wraps a go-redis client
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: "throttle:"}
}

// Hit implements Store
func (r *RedisStore) Hit(ctx context.Context, key string, rate Rate, now time.Time) (bool, time.Duration, error) {
	nowMs := now.UnixMilli()
	windowMs := rate.Period.Milliseconds()
	res, err := slidingWindow.Run(ctx, r.client,
		[]string{r.prefix + key},
		nowMs, windowMs, rate.Requests, strconv.FormatInt(nowMs, 10)+"-"+uuid.NewString(),
	).Slice()
	if err != nil {
		return false, 0, fmt.Errorf("throttle store: %w", err)
	}
	if len(res) != 2 {
		return false, 0, fmt.Errorf("throttle store: unexpected reply %v", res)
	}
	if allowed, _ := res[0].(int64); allowed == 1 {
		return true, 0, nil
	}
	oldest, err := strconv.ParseFloat(fmt.Sprint(res[1]), 64)
	if err != nil {
		return false, 0, fmt.Errorf("throttle store: bad score %v", res[1])
	}
	wait := time.Duration(int64(oldest)+windowMs-nowMs) * time.Millisecond
	return false, wait, nil
}
