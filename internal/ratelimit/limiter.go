// Package ratelimit implements the distributed token-bucket limiter keyed by
// (tenant, endpoint class). Buckets refill lazily: state is stored as
// (tokens, last_refill) and recomputed on each access, so no background
// scheduler is needed per key.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/modelgate/modelgate/internal/auth"
)

// EndpointClass selects which quota a request draws from. Chat and generation
// traffic refill at different rates.
type EndpointClass string

const (
	ClassChat       EndpointClass = "chat"
	ClassGeneration EndpointClass = "generation"
)

// Key identifies a single bucket.
type Key struct {
	TenantID string
	Class    EndpointClass
}

// String renders the shared-store key for the bucket.
func (k Key) String() string {
	return fmt.Sprintf("ratelimit:%s:%s", k.TenantID, k.Class)
}

// Limit holds the bucket parameters for one tier.
type Limit struct {
	Capacity   float64 `yaml:"capacity" mapstructure:"capacity"`
	RefillRate float64 `yaml:"refill_rate" mapstructure:"refill_rate"` // tokens per second
}

// Decision is the outcome of a single acquisition attempt.
type Decision struct {
	Allowed    bool
	Limit      float64
	Remaining  float64
	ResetAt    time.Time
	RetryAfter time.Duration
}

// Store executes the atomic check-and-decrement against shared bucket state.
// Implementations must guarantee that two concurrent acquisitions for the
// same key never both succeed when only one unit of capacity remains.
type Store interface {
	Acquire(ctx context.Context, key Key, cost float64, limit Limit, now time.Time) (*Decision, error)
	Ping(ctx context.Context) error
	Close() error
}

// Limiter resolves the caller's tier and consults the shared store.
type Limiter struct {
	store Store
	tiers Tiers
	cost  float64
	clock func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock injects a clock for tests.
func WithClock(clock func() time.Time) Option {
	return func(l *Limiter) { l.clock = clock }
}

// WithCost overrides the flat per-request cost.
func WithCost(cost float64) Option {
	return func(l *Limiter) {
		if cost > 0 {
			l.cost = cost
		}
	}
}

// NewLimiter builds a limiter over the given store and tier table.
func NewLimiter(store Store, tiers Tiers, opts ...Option) (*Limiter, error) {
	if store == nil {
		return nil, errors.New("rate limit store is required")
	}
	if tiers == nil {
		tiers = DefaultTiers()
	}

	l := &Limiter{
		store: store,
		tiers: tiers,
		cost:  1,
		clock: func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// TryAcquire attempts to take the configured cost from the caller's bucket.
// The tier is chosen from the principal's most permissive role.
func (l *Limiter) TryAcquire(ctx context.Context, principal *auth.Principal, class EndpointClass) (*Decision, error) {
	if l == nil || l.store == nil {
		return nil, errors.New("limiter is not initialized")
	}
	if principal == nil || principal.TenantID == "" {
		return nil, errors.New("principal is required")
	}

	limit := l.tiers.Lookup(principal.HighestRole(), class)
	key := Key{TenantID: principal.TenantID, Class: class}

	return l.store.Acquire(ctx, key, l.cost, limit, l.clock())
}

// Cost returns the flat per-request cost in bucket tokens.
func (l *Limiter) Cost() float64 {
	if l == nil {
		return 1
	}
	return l.cost
}

// retryAfter computes how long until enough tokens accrue for the cost.
func retryAfter(tokens, cost float64, limit Limit) time.Duration {
	if limit.RefillRate <= 0 {
		return 0
	}
	deficit := cost - tokens
	if deficit <= 0 {
		return 0
	}
	return time.Duration(deficit / limit.RefillRate * float64(time.Second))
}

// resetAt computes when the bucket refills back to capacity.
func resetAt(tokens float64, limit Limit, now time.Time) time.Time {
	if limit.RefillRate <= 0 {
		return now
	}
	deficit := limit.Capacity - tokens
	if deficit <= 0 {
		return now
	}
	return now.Add(time.Duration(deficit / limit.RefillRate * float64(time.Second)))
}
