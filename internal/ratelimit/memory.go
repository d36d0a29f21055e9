package ratelimit

import (
	"context"
	"sync"
	"time"
)

type counter struct {
	mu          sync.Mutex
	windowStart time.Time
	count       int
}

// MemoryLimiter keeps fixed-window counters in process, one lock per tenant.
type MemoryLimiter struct {
	plans Plans
	now   func() time.Time

	mu       sync.Mutex
	counters map[string]*counter
}

func NewMemoryLimiter(plans Plans) (*MemoryLimiter, error) {
	if err := plans.Validate(); err != nil {
		return nil, err
	}
	return &MemoryLimiter{
		plans:    plans,
		now:      time.Now,
		counters: make(map[string]*counter),
	}, nil
}

func (l *MemoryLimiter) Allow(_ context.Context, tenantID, tier string) (Decision, error) {
	tier, limit := l.plans.Resolve(tier)
	now := l.now()
	start := l.plans.WindowStart(now)
	resetAt := start.Add(l.plans.Window)

	c := l.counterFor(tenantID)
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.windowStart.Equal(start) {
		c.windowStart = start
		c.count = 0
	}
	if c.count >= limit {
		return Denied(tier, limit, resetAt, now), nil
	}
	c.count++
	return Allowed(tier, limit, c.count, resetAt), nil
}

func (l *MemoryLimiter) counterFor(tenantID string) *counter {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.counters[tenantID]
	if !ok {
		c = &counter{}
		l.counters[tenantID] = c
	}
	return c
}
