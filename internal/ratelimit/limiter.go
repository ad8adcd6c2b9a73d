// Package ratelimit counts requests per identifier in fixed time buckets
// backed by a shared counter store. Counters must live outside process
// memory: limits only hold when every serving instance sees the same
// counts. The fixed-bucket scheme accepts the usual burst at window
// boundaries in exchange for a single atomic increment per request.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/tardis-create/revenueforge-sub000/internal/obs"
)

// CounterStore is the shared, atomically incrementable backing store.
// Increment adds one to the counter at key, creating it with the given
// TTL when absent, and returns the new count.
type CounterStore interface {
	Increment(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// Tier names a limit configuration: a request ceiling per window.
type Tier struct {
	Name   string
	Limit  int64
	Window time.Duration
}

// DefaultTiers is the production tier table.
var DefaultTiers = []Tier{
	{Name: "default", Limit: 100, Window: time.Minute},
	{Name: "auth", Limit: 5, Window: time.Minute},
	{Name: "catalog", Limit: 300, Window: time.Minute},
	{Name: "admin", Limit: 30, Window: time.Minute},
}

// Result carries everything a caller needs to emit standard rate-limit
// response headers.
type Result struct {
	Allowed    bool
	Limit      int64
	Remaining  int64
	ResetAt    time.Time
	RetryAfter time.Duration
}

// Limiter applies tiered fixed-window limits over a CounterStore.
type Limiter struct {
	store CounterStore
	tiers map[string]Tier
	now   func() time.Time
}

// NewLimiter builds a limiter over the given store and tiers. Unknown
// tier names fall back to "default" at check time; tiers with a
// non-positive window are coerced to one minute so window math stays
// defined.
func NewLimiter(store CounterStore, tiers []Tier) *Limiter {
	table := make(map[string]Tier, len(tiers))
	for _, t := range tiers {
		if t.Window <= 0 {
			t.Window = time.Minute
		}
		table[t.Name] = t
	}
	return &Limiter{store: store, tiers: table, now: time.Now}
}

// WithClock overrides the time source. Only intended for tests.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	if now != nil {
		l.now = now
	}
	return l
}

// Check attributes one request to identifier under the named tier.
//
// The counter increments before the comparison, so rejected requests
// keep counting: a client spamming past the ceiling holds the window
// saturated until it rolls over.
//
// If the store is unreachable the limiter fails open: the request is
// allowed, a warning is logged, and ratelimit_store_errors_total is
// incremented. Availability over strictness, deliberately.
func (l *Limiter) Check(ctx context.Context, identifier, tierName string) Result {
	if identifier == "" {
		identifier = "unknown"
	}
	tier, ok := l.tiers[tierName]
	if !ok {
		tier = l.tiers["default"]
		if tier.Window <= 0 {
			tier = Tier{Name: "default", Limit: 100, Window: time.Minute}
		}
	}

	now := l.now()
	windowSec := int64(tier.Window / time.Second)
	windowID := now.Unix() / windowSec
	resetAt := time.Unix((windowID+1)*windowSec, 0)
	key := fmt.Sprintf("rl:%s:%s:%d", tier.Name, identifier, windowID)

	count, err := l.store.Increment(ctx, key, tier.Window)
	if err != nil {
		obs.RateLimitStoreError()
		obs.Warn("rate limit store unreachable, failing open", map[string]any{
			"tier": tier.Name,
			"err":  err.Error(),
		})
		return Result{Allowed: true, Limit: tier.Limit, Remaining: tier.Limit, ResetAt: resetAt}
	}

	remaining := tier.Limit - count
	if remaining < 0 {
		remaining = 0
	}
	res := Result{
		Allowed:   count <= tier.Limit,
		Limit:     tier.Limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}
	if !res.Allowed {
		res.RetryAfter = resetAt.Sub(now)
		if res.RetryAfter < time.Second {
			res.RetryAfter = time.Second
		}
	}
	return res
}
