package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Decision is the outcome of one admission attempt.
type Decision struct {
	Allowed    bool
	Tier       string
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// Limiter admits or rejects one request for a tenant. Check and increment
// happen as one indivisible step.
type Limiter interface {
	Allow(ctx context.Context, tenantID, tier string) (Decision, error)
}

// Plans maps plan tiers to per-window quotas. Unknown or empty tiers fall
// back to DefaultTier.
type Plans struct {
	Quotas      map[string]int
	DefaultTier string
	Window      time.Duration
}

func (p Plans) Validate() error {
	if p.Window <= 0 {
		return fmt.Errorf("rate limit window must be > 0")
	}
	if _, ok := p.Quotas[p.DefaultTier]; !ok {
		return fmt.Errorf("default tier %q has no quota", p.DefaultTier)
	}
	return nil
}

// Resolve returns the effective tier and its quota.
func (p Plans) Resolve(tier string) (string, int) {
	tier = strings.ToLower(strings.TrimSpace(tier))
	if limit, ok := p.Quotas[tier]; ok {
		return tier, limit
	}
	return p.DefaultTier, p.Quotas[p.DefaultTier]
}

// WindowStart returns the fixed bucket containing now.
func (p Plans) WindowStart(now time.Time) time.Time {
	return now.UTC().Truncate(p.Window)
}

// Denied builds a rejection whose retry-after runs to the end of the window.
func Denied(tier string, limit int, resetAt, now time.Time) Decision {
	retry := resetAt.Sub(now)
	if retry < time.Second {
		retry = time.Second
	}
	return Decision{
		Allowed:    false,
		Tier:       tier,
		Limit:      limit,
		Remaining:  0,
		ResetAt:    resetAt,
		RetryAfter: retry,
	}
}

func Allowed(tier string, limit, count int, resetAt time.Time) Decision {
	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   true,
		Tier:      tier,
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}
}
