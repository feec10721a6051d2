package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"
)

type bucket struct {
	mu         sync.Mutex
	tokens     float64
	lastRefill time.Time
}

// MemoryStore is an in-process bucket store. It exists for single-instance
// deployments and tests; multi-instance deployments need the Redis store so
// all processes share one set of buckets. Buckets for different keys never
// contend on the same lock.
type MemoryStore struct {
	mu      sync.Mutex
	buckets map[string]*bucket
}

// NewMemoryStore builds an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{buckets: make(map[string]*bucket)}
}

// Acquire applies lazy refill then check-and-decrement under the bucket lock.
func (s *MemoryStore) Acquire(_ context.Context, key Key, cost float64, limit Limit, now time.Time) (*Decision, error) {
	b := s.bucketFor(key, limit, now)

	b.mu.Lock()
	defer b.mu.Unlock()

	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed > 0 {
		b.tokens = math.Min(limit.Capacity, b.tokens+elapsed*limit.RefillRate)
	}
	b.lastRefill = now

	decision := &Decision{
		Limit:   limit.Capacity,
		Allowed: b.tokens >= cost,
	}

	if decision.Allowed {
		b.tokens -= cost
	} else {
		decision.RetryAfter = retryAfter(b.tokens, cost, limit)
	}

	decision.Remaining = b.tokens
	decision.ResetAt = resetAt(b.tokens, limit, now)

	return decision, nil
}

// Ping always succeeds for the in-process store.
func (s *MemoryStore) Ping(context.Context) error { return nil }

// Close is a no-op for the in-process store.
func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) bucketFor(key Key, limit Limit, now time.Time) *bucket {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buckets[key.String()]
	if !ok {
		b = &bucket{tokens: limit.Capacity, lastRefill: now}
		s.buckets[key.String()] = b
	}
	return b
}
