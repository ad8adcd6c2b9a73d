package ratelimit

import (
	"context"
	"sync"
	"time"
)

var _ CounterStore = (*MemoryStore)(nil)

// MemoryStore is an in-process CounterStore for tests and single-node
// development. It is not a valid production backend: counts are invisible
// to other instances, so limits would be bypassed by routing elsewhere.
type MemoryStore struct {
	mu       sync.Mutex
	counters map[string]*memCounter
	now      func() time.Time
}

type memCounter struct {
	count     int64
	expiresAt time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{counters: make(map[string]*memCounter), now: time.Now}
}

// WithClock overrides the time source used for TTL expiry. Only intended
// for tests.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	if now != nil {
		s.now = now
	}
	return s
}

func (s *MemoryStore) Increment(_ context.Context, key string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	c, ok := s.counters[key]
	if !ok || now.After(c.expiresAt) {
		c = &memCounter{expiresAt: now.Add(ttl)}
		s.counters[key] = c
	}
	c.count++

	// Opportunistic sweep so long-lived processes do not accumulate
	// expired buckets.
	if len(s.counters) > 4096 {
		for k, v := range s.counters {
			if now.After(v.expiresAt) {
				delete(s.counters, k)
			}
		}
	}
	return c.count, nil
}
