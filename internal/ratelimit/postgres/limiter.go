package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/wooai/wooai/internal/ratelimit"
)

// admitQuery increments the tenant's counter for the window only while it is
// below the quota; a conflict that fails the WHERE returns no row.
const admitQuery = `
INSERT INTO rate_limit_counter (tenant_id, window_start, request_count)
VALUES ($1, $2, 1)
ON CONFLICT (tenant_id, window_start)
DO UPDATE SET request_count = rate_limit_counter.request_count + 1, updated_at = now()
WHERE rate_limit_counter.request_count < $3
RETURNING request_count`

// Limiter stores fixed-window counters in Postgres so every API replica
// shares one quota per tenant.
type Limiter struct {
	db    *sql.DB
	plans ratelimit.Plans
	now   func() time.Time
}

func NewLimiter(db *sql.DB, plans ratelimit.Plans) (*Limiter, error) {
	if err := plans.Validate(); err != nil {
		return nil, err
	}
	return &Limiter{db: db, plans: plans, now: time.Now}, nil
}

func (l *Limiter) Allow(ctx context.Context, tenantID, tier string) (ratelimit.Decision, error) {
	tier, limit := l.plans.Resolve(tier)
	now := l.now().UTC()
	start := l.plans.WindowStart(now)
	resetAt := start.Add(l.plans.Window)

	if limit <= 0 {
		return ratelimit.Denied(tier, limit, resetAt, now), nil
	}

	var count int
	err := l.db.QueryRowContext(ctx, admitQuery, tenantID, start, limit).Scan(&count)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ratelimit.Denied(tier, limit, resetAt, now), nil
		}
		return ratelimit.Decision{}, fmt.Errorf("admit rate limit counter: %w", err)
	}
	return ratelimit.Allowed(tier, limit, count, resetAt), nil
}

// Prune drops counters for windows that ended before cutoff.
func (l *Limiter) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := l.db.ExecContext(ctx, `
DELETE FROM rate_limit_counter
WHERE window_start < $1`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune rate limit counters: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune rate limit counters rows affected: %w", err)
	}
	return affected, nil
}

var _ ratelimit.Limiter = (*Limiter)(nil)
