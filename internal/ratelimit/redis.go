package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// acquireScript performs the whole refill + check-and-decrement sequence as a
// single atomic script so concurrent acquisitions for the same key serialize
// inside the store instead of racing read-then-write from Go.
//
// KEYS[1] bucket hash
// ARGV[1] capacity, ARGV[2] refill rate (tokens/sec), ARGV[3] cost,
// ARGV[4] now (unix seconds, fractional), ARGV[5] idle TTL seconds
//
// Returns {allowed, tokens-after} with tokens encoded as a string to keep
// fractional precision across the Lua/RESP boundary.
var acquireScript = redis.NewScript(`
local capacity = tonumber(ARGV[1])
local refill = tonumber(ARGV[2])
local cost = tonumber(ARGV[3])
local now = tonumber(ARGV[4])
local ttl = tonumber(ARGV[5])

local state = redis.call('HMGET', KEYS[1], 'tokens', 'last_refill')
local tokens = tonumber(state[1])
local last = tonumber(state[2])

if tokens == nil or last == nil then
  tokens = capacity
  last = now
end

local elapsed = now - last
if elapsed > 0 then
  tokens = math.min(capacity, tokens + elapsed * refill)
end

local allowed = 0
if tokens >= cost then
  tokens = tokens - cost
  allowed = 1
end

redis.call('HSET', KEYS[1], 'tokens', tostring(tokens), 'last_refill', tostring(now))
redis.call('EXPIRE', KEYS[1], ttl)

return {allowed, tostring(tokens)}
`)

// RedisStore holds bucket state in a shared Redis so every gateway instance
// draws from the same buckets.
type RedisStore struct {
	client *redis.Client
}

// RedisConfig configures the shared store connection.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return &RedisStore{client: client}, nil
}

// Acquire runs the atomic token-bucket script for the key.
func (s *RedisStore) Acquire(ctx context.Context, key Key, cost float64, limit Limit, now time.Time) (*Decision, error) {
	if s == nil || s.client == nil {
		return nil, errors.New("redis store is not initialized")
	}
	if limit.Capacity <= 0 || limit.RefillRate <= 0 {
		return nil, fmt.Errorf("invalid limit for %s: capacity=%v refill=%v", key, limit.Capacity, limit.RefillRate)
	}

	nowSeconds := float64(now.UnixNano()) / float64(time.Second)

	result, err := acquireScript.Run(ctx, s.client, []string{key.String()},
		limit.Capacity,
		limit.RefillRate,
		cost,
		nowSeconds,
		idleTTLSeconds(limit),
	).Slice()
	if err != nil {
		return nil, fmt.Errorf("rate limit script: %w", err)
	}
	if len(result) != 2 {
		return nil, fmt.Errorf("rate limit script returned %d values", len(result))
	}

	allowed, ok := result[0].(int64)
	if !ok {
		return nil, fmt.Errorf("rate limit script returned non-integer verdict %T", result[0])
	}
	tokensStr, ok := result[1].(string)
	if !ok {
		return nil, fmt.Errorf("rate limit script returned non-string balance %T", result[1])
	}
	tokens, err := strconv.ParseFloat(tokensStr, 64)
	if err != nil {
		return nil, fmt.Errorf("parse bucket balance: %w", err)
	}

	decision := &Decision{
		Allowed:   allowed == 1,
		Limit:     limit.Capacity,
		Remaining: tokens,
		ResetAt:   resetAt(tokens, limit, now),
	}
	if !decision.Allowed {
		decision.RetryAfter = retryAfter(tokens, cost, limit)
	}

	return decision, nil
}

// Ping reports store health for readiness checks.
func (s *RedisStore) Ping(ctx context.Context) error {
	if s == nil || s.client == nil {
		return errors.New("redis store is not initialized")
	}
	return s.client.Ping(ctx).Err()
}

// Close releases the client connection pool.
func (s *RedisStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

// idleTTLSeconds expires buckets after they would have fully refilled twice
// over, so idle tenants do not accumulate state forever.
func idleTTLSeconds(limit Limit) int64 {
	ttl := int64(limit.Capacity / limit.RefillRate * 2)
	if ttl < 60 {
		ttl = 60
	}
	return ttl
}
