package schema

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/wooai/wooai/internal/observability"
)

// StatsSource reads tenant-scoped aggregates for the given tables. Tables
// missing from the returned map are rendered without statistics.
type StatsSource interface {
	TableStats(ctx context.Context, tenantID string, tables []Table) (map[string]Stats, error)
}

type BuilderConfig struct {
	Tables       []Table
	TenantColumn string
	CacheTTL     time.Duration
	// StatsTimeout bounds one shared statistics read. Defaults to 5s.
	StatsTimeout time.Duration
}

const defaultStatsTimeout = 5 * time.Second

type Builder struct {
	tables       []Table
	tenantColumn string
	ttl          time.Duration
	statsTimeout time.Duration
	stats        StatsSource
	cache        Cache
	logger       *slog.Logger
	now          func() time.Time
	group        singleflight.Group
}

// NewBuilder wires a builder. A nil cache disables caching; a nil stats
// source always yields the static, degraded context.
func NewBuilder(cfg BuilderConfig, stats StatsSource, cache Cache, logger *slog.Logger) *Builder {
	tables := cfg.Tables
	if len(tables) == 0 {
		tables = DefaultTables()
	}
	column := cfg.TenantColumn
	if column == "" {
		column = "store_id"
	}
	statsTimeout := cfg.StatsTimeout
	if statsTimeout <= 0 {
		statsTimeout = defaultStatsTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{
		tables:       tables,
		tenantColumn: column,
		ttl:          cfg.CacheTTL,
		statsTimeout: statsTimeout,
		stats:        stats,
		cache:        cache,
		logger:       logger,
		now:          time.Now,
	}
}

// Build returns the tenant's schema context. Statistics failures degrade the
// context instead of failing the request; degraded contexts are not cached.
func (b *Builder) Build(ctx context.Context, tenantID string) (Context, error) {
	if strings.TrimSpace(tenantID) == "" {
		return Context{}, fmt.Errorf("tenant id is required")
	}

	if b.cache != nil && b.ttl > 0 {
		cached, ok, err := b.cache.Get(ctx, tenantID)
		if err != nil {
			b.logger.WarnContext(ctx, "schema cache read failed", slog.String("tenant_id", tenantID), slog.Any("error", err))
		} else if ok {
			return cached, nil
		}
	}

	// The shared build outlives any single caller so one cancelled request
	// does not degrade the context handed to every waiter.
	flight := b.group.DoChan(tenantID, func() (any, error) {
		buildCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.statsTimeout)
		defer cancel()
		return b.build(buildCtx, tenantID), nil
	})
	var result singleflight.Result
	select {
	case <-ctx.Done():
		return Context{}, ctx.Err()
	case result = <-flight:
	}
	built := result.Val.(Context)

	if b.cache != nil && b.ttl > 0 && !built.Degraded {
		if err := b.cache.Set(ctx, tenantID, built, b.ttl); err != nil {
			b.logger.WarnContext(ctx, "schema cache write failed", slog.String("tenant_id", tenantID), slog.Any("error", err))
		}
	}
	return built, nil
}

func (b *Builder) build(ctx context.Context, tenantID string) Context {
	built := Context{
		TenantID:     tenantID,
		TenantColumn: b.tenantColumn,
		Tables:       make([]Table, len(b.tables)),
		GeneratedAt:  b.now().UTC(),
	}
	copy(built.Tables, b.tables)

	if b.stats == nil {
		built.Degraded = true
		return built
	}

	stats, err := b.stats.TableStats(ctx, tenantID, b.tables)
	if err != nil {
		observability.IncrementSchemaDegraded()
		b.logger.WarnContext(ctx, "schema statistics unavailable, using static schema",
			slog.String("tenant_id", tenantID),
			slog.Any("error", err),
		)
		built.Degraded = true
		return built
	}
	for i := range built.Tables {
		if s, ok := stats[built.Tables[i].Name]; ok {
			built.Tables[i].Stats = &s
		}
	}
	return built
}
