package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/wooai/wooai/internal/schema"
)

// StatsSource reads per-tenant aggregates from the read-only store. Table
// and column names come from the static catalog, never from callers.
type StatsSource struct {
	db           *sql.DB
	tenantColumn string
}

func NewStatsSource(db *sql.DB, tenantColumn string) *StatsSource {
	if tenantColumn == "" {
		tenantColumn = "store_id"
	}
	return &StatsSource{db: db, tenantColumn: tenantColumn}
}

func (s *StatsSource) TableStats(ctx context.Context, tenantID string, tables []schema.Table) (map[string]schema.Stats, error) {
	out := make(map[string]schema.Stats, len(tables))
	for _, table := range tables {
		if !table.HasColumn(s.tenantColumn) {
			continue
		}
		stats, err := s.tableStats(ctx, tenantID, table)
		if err != nil {
			return nil, err
		}
		out[table.Name] = stats
	}
	return out, nil
}

func (s *StatsSource) tableStats(ctx context.Context, tenantID string, table schema.Table) (schema.Stats, error) {
	var stats schema.Stats
	name := pgx.Identifier{table.Name}.Sanitize()
	tenant := pgx.Identifier{s.tenantColumn}.Sanitize()

	if table.DateColumn != "" {
		date := pgx.Identifier{table.DateColumn}.Sanitize()
		query := fmt.Sprintf(`SELECT count(*), min(%s), max(%s) FROM %s WHERE %s = $1`, date, date, name, tenant)
		var minDate, maxDate sql.NullTime
		if err := s.db.QueryRowContext(ctx, query, tenantID).Scan(&stats.RowCount, &minDate, &maxDate); err != nil {
			return schema.Stats{}, fmt.Errorf("stats for %s: %w", table.Name, err)
		}
		if minDate.Valid {
			stats.MinDate = &minDate.Time
		}
		if maxDate.Valid {
			stats.MaxDate = &maxDate.Time
		}
	} else {
		query := fmt.Sprintf(`SELECT count(*) FROM %s WHERE %s = $1`, name, tenant)
		if err := s.db.QueryRowContext(ctx, query, tenantID).Scan(&stats.RowCount); err != nil {
			return schema.Stats{}, fmt.Errorf("stats for %s: %w", table.Name, err)
		}
	}

	if table.CurrencyColumn != "" && stats.RowCount > 0 {
		currency := pgx.Identifier{table.CurrencyColumn}.Sanitize()
		query := fmt.Sprintf(`SELECT %s FROM %s WHERE %s = $1 AND %s IS NOT NULL GROUP BY 1 ORDER BY count(*) DESC LIMIT 1`,
			currency, name, tenant, currency)
		if err := s.db.QueryRowContext(ctx, query, tenantID).Scan(&stats.Currency); err != nil && !errors.Is(err, sql.ErrNoRows) {
			return schema.Stats{}, fmt.Errorf("currency for %s: %w", table.Name, err)
		}
	}
	return stats, nil
}
