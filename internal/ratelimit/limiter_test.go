package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/modelgate/modelgate/internal/auth"
)

func testPrincipal(roles ...auth.Role) *auth.Principal {
	if len(roles) == 0 {
		roles = []auth.Role{auth.RoleStandard}
	}
	return &auth.Principal{TenantID: "tenant-1", Roles: roles}
}

func newTestLimiter(t *testing.T, tiers Tiers, clock func() time.Time) *Limiter {
	t.Helper()

	limiter, err := NewLimiter(NewMemoryStore(), tiers, WithClock(clock))
	require.NoError(t, err)
	return limiter
}

func TestBurstThenDenied(t *testing.T) {
	// capacity=5, refill 1 token/s
	tiers := Tiers{
		auth.RoleStandard: {ClassChat: {Capacity: 5, RefillRate: 1}},
	}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter := newTestLimiter(t, tiers, func() time.Time { return now })

	for i := 0; i < 5; i++ {
		decision, err := limiter.TryAcquire(context.Background(), testPrincipal(), ClassChat)
		require.NoError(t, err)
		require.True(t, decision.Allowed, "request %d should be admitted", i+1)
	}

	decision, err := limiter.TryAcquire(context.Background(), testPrincipal(), ClassChat)
	require.NoError(t, err)
	require.False(t, decision.Allowed)
	require.InDelta(t, time.Second, decision.RetryAfter, float64(50*time.Millisecond))
}

func TestLazyRefillRestoresTokens(t *testing.T) {
	tiers := Tiers{
		auth.RoleStandard: {ClassChat: {Capacity: 2, RefillRate: 1}},
	}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter := newTestLimiter(t, tiers, func() time.Time { return now })

	for i := 0; i < 2; i++ {
		decision, err := limiter.TryAcquire(context.Background(), testPrincipal(), ClassChat)
		require.NoError(t, err)
		require.True(t, decision.Allowed)
	}

	decision, err := limiter.TryAcquire(context.Background(), testPrincipal(), ClassChat)
	require.NoError(t, err)
	require.False(t, decision.Allowed)

	// One second later exactly one token has accrued.
	now = now.Add(time.Second)
	decision, err = limiter.TryAcquire(context.Background(), testPrincipal(), ClassChat)
	require.NoError(t, err)
	require.True(t, decision.Allowed)

	decision, err = limiter.TryAcquire(context.Background(), testPrincipal(), ClassChat)
	require.NoError(t, err)
	require.False(t, decision.Allowed)
}

func TestRefillNeverExceedsCapacity(t *testing.T) {
	tiers := Tiers{
		auth.RoleStandard: {ClassChat: {Capacity: 3, RefillRate: 10}},
	}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter := newTestLimiter(t, tiers, func() time.Time { return now })

	decision, err := limiter.TryAcquire(context.Background(), testPrincipal(), ClassChat)
	require.NoError(t, err)
	require.True(t, decision.Allowed)

	// A long idle period refills to capacity, not beyond.
	now = now.Add(time.Hour)
	for i := 0; i < 3; i++ {
		decision, err = limiter.TryAcquire(context.Background(), testPrincipal(), ClassChat)
		require.NoError(t, err)
		require.True(t, decision.Allowed)
	}

	decision, err = limiter.TryAcquire(context.Background(), testPrincipal(), ClassChat)
	require.NoError(t, err)
	require.False(t, decision.Allowed)
}

func TestExactBoundaryAdmitted(t *testing.T) {
	tiers := Tiers{
		auth.RoleStandard: {ClassChat: {Capacity: 1, RefillRate: 1}},
	}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter := newTestLimiter(t, tiers, func() time.Time { return now })

	// tokens == cost exactly: admitted.
	decision, err := limiter.TryAcquire(context.Background(), testPrincipal(), ClassChat)
	require.NoError(t, err)
	require.True(t, decision.Allowed)
	require.Equal(t, 0.0, decision.Remaining)

	// tokens just below cost: denied.
	now = now.Add(999 * time.Millisecond)
	decision, err = limiter.TryAcquire(context.Background(), testPrincipal(), ClassChat)
	require.NoError(t, err)
	require.False(t, decision.Allowed)
}

func TestMostPermissiveRoleWins(t *testing.T) {
	tiers := Tiers{
		auth.RoleStandard: {ClassChat: {Capacity: 1, RefillRate: 0.1}},
		auth.RolePremium:  {ClassChat: {Capacity: 10, RefillRate: 1}},
	}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter := newTestLimiter(t, tiers, func() time.Time { return now })

	principal := testPrincipal(auth.RoleStandard, auth.RolePremium)

	for i := 0; i < 10; i++ {
		decision, err := limiter.TryAcquire(context.Background(), principal, ClassChat)
		require.NoError(t, err)
		require.True(t, decision.Allowed, "premium tier should admit request %d", i+1)
	}
}

func TestSeparateClassesDrawSeparateBuckets(t *testing.T) {
	tiers := Tiers{
		auth.RoleStandard: {
			ClassChat:       {Capacity: 1, RefillRate: 0.1},
			ClassGeneration: {Capacity: 1, RefillRate: 0.1},
		},
	}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter := newTestLimiter(t, tiers, func() time.Time { return now })

	decision, err := limiter.TryAcquire(context.Background(), testPrincipal(), ClassChat)
	require.NoError(t, err)
	require.True(t, decision.Allowed)

	// Chat bucket is drained; generation bucket is untouched.
	decision, err = limiter.TryAcquire(context.Background(), testPrincipal(), ClassChat)
	require.NoError(t, err)
	require.False(t, decision.Allowed)

	decision, err = limiter.TryAcquire(context.Background(), testPrincipal(), ClassGeneration)
	require.NoError(t, err)
	require.True(t, decision.Allowed)
}

func TestNoOverAdmissionUnderConcurrency(t *testing.T) {
	const capacity = 8
	const workers = 64

	tiers := Tiers{
		auth.RoleStandard: {ClassChat: {Capacity: capacity, RefillRate: 0.0001}},
	}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter := newTestLimiter(t, tiers, func() time.Time { return now })

	var wg sync.WaitGroup
	allowed := make(chan bool, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			decision, err := limiter.TryAcquire(context.Background(), testPrincipal(), ClassChat)
			allowed <- err == nil && decision.Allowed
		}()
	}
	wg.Wait()
	close(allowed)

	admitted := 0
	for ok := range allowed {
		if ok {
			admitted++
		}
	}
	require.Equal(t, capacity, admitted)
}

func TestCostOverride(t *testing.T) {
	tiers := Tiers{
		auth.RoleStandard: {ClassChat: {Capacity: 4, RefillRate: 1}},
	}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter, err := NewLimiter(NewMemoryStore(), tiers,
		WithClock(func() time.Time { return now }),
		WithCost(2))
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		decision, err := limiter.TryAcquire(context.Background(), testPrincipal(), ClassChat)
		require.NoError(t, err)
		require.True(t, decision.Allowed)
	}

	decision, err := limiter.TryAcquire(context.Background(), testPrincipal(), ClassChat)
	require.NoError(t, err)
	require.False(t, decision.Allowed)
}

func TestTryAcquireRequiresPrincipal(t *testing.T) {
	limiter := newTestLimiter(t, nil, time.Now)

	_, err := limiter.TryAcquire(context.Background(), nil, ClassChat)
	require.Error(t, err)
}
