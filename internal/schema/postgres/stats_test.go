package postgres

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/wooai/wooai/internal/schema"
)

func TestTableStatsScopesEveryQueryByTenant(t *testing.T) {
	db, mock := newSQLMock(t)
	source := NewStatsSource(db, "store_id")
	minDate := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	maxDate := time.Date(2026, 2, 3, 0, 0, 0, 0, time.UTC)

	tables := []schema.Table{
		{
			Name:           "orders",
			DateColumn:     "created_at",
			CurrencyColumn: "currency",
			Columns:        []schema.Column{{Name: "store_id"}, {Name: "total"}, {Name: "currency"}, {Name: "created_at"}},
		},
		{
			Name:    "coupons",
			Columns: []schema.Column{{Name: "store_id"}, {Name: "code"}},
		},
		{
			Name:    "exchange_rates",
			Columns: []schema.Column{{Name: "currency"}, {Name: "rate"}},
		},
	}

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT count(*), min("created_at"), max("created_at") FROM "orders" WHERE "store_id" = $1`)).
		WithArgs("store-1").
		WillReturnRows(sqlmock.NewRows([]string{"count", "min", "max"}).AddRow(int64(120), minDate, maxDate))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT "currency" FROM "orders" WHERE "store_id" = $1 AND "currency" IS NOT NULL GROUP BY 1 ORDER BY count(*) DESC LIMIT 1`)).
		WithArgs("store-1").
		WillReturnRows(sqlmock.NewRows([]string{"currency"}).AddRow("EUR"))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT count(*) FROM "coupons" WHERE "store_id" = $1`)).
		WithArgs("store-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(0)))

	stats, err := source.TableStats(context.Background(), "store-1", tables)
	if err != nil {
		t.Fatalf("TableStats() error = %v", err)
	}
	orders := stats["orders"]
	if orders.RowCount != 120 || orders.Currency != "EUR" {
		t.Fatalf("orders stats = %+v", orders)
	}
	if orders.MinDate == nil || !orders.MinDate.Equal(minDate) || orders.MaxDate == nil || !orders.MaxDate.Equal(maxDate) {
		t.Fatalf("orders date range = %v..%v", orders.MinDate, orders.MaxDate)
	}
	if _, ok := stats["exchange_rates"]; ok {
		t.Fatal("tables without the tenant column must be skipped")
	}
	if stats["coupons"].RowCount != 0 {
		t.Fatalf("coupons stats = %+v", stats["coupons"])
	}
	assertSQLMock(t, mock)
}

func TestTableStatsEmptyTenantHasNoDates(t *testing.T) {
	db, mock := newSQLMock(t)
	source := NewStatsSource(db, "")

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT count(*), min("created_at"), max("created_at") FROM "orders" WHERE "store_id" = $1`)).
		WithArgs("store-empty").
		WillReturnRows(sqlmock.NewRows([]string{"count", "min", "max"}).AddRow(int64(0), nil, nil))

	stats, err := source.TableStats(context.Background(), "store-empty", schema.DefaultTables()[:1])
	if err != nil {
		t.Fatalf("TableStats() error = %v", err)
	}
	orders := stats["orders"]
	if orders.RowCount != 0 || orders.MinDate != nil || orders.Currency != "" {
		t.Fatalf("orders stats = %+v", orders)
	}
	assertSQLMock(t, mock)
}

func TestTableStatsWrapsErrors(t *testing.T) {
	db, mock := newSQLMock(t)
	source := NewStatsSource(db, "store_id")
	boom := errors.New("permission denied for table orders")

	mock.ExpectQuery(regexp.QuoteMeta(`FROM "orders"`)).WillReturnError(boom)

	_, err := source.TableStats(context.Background(), "store-1", schema.DefaultTables()[:1])
	if !errors.Is(err, boom) {
		t.Fatalf("error = %v", err)
	}
	assertSQLMock(t, mock)
}

func newSQLMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func assertSQLMock(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}
