package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/wooai/wooai/internal/observability"
	"github.com/wooai/wooai/internal/query"
)

const (
	sqlStateQueryCanceled    = "57014"
	sqlStateInsufficientPriv = "42501"
	sqlStateReadOnlySQLTxn   = "25006"
	defaultStatementTimeout  = 5 * time.Second
	defaultRowLimit          = 100

	// tenantSetting is read by the wooai_tenant_isolation row policies.
	tenantSetting = "wooai.tenant"
)

type Config struct {
	StatementTimeout time.Duration
}

// Engine executes sandboxed statements on the read-only pool. A connection
// is taken from the pool only for the duration of one statement.
type Engine struct {
	db      *sql.DB
	timeout time.Duration
	logger  *slog.Logger
}

func NewEngine(db *sql.DB, cfg Config, logger *slog.Logger) *Engine {
	timeout := cfg.StatementTimeout
	if timeout <= 0 {
		timeout = defaultStatementTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{db: db, timeout: timeout, logger: logger}
}

func (e *Engine) Execute(ctx context.Context, request query.Request) (query.Result, error) {
	if request.SQL == "" {
		return query.Result{}, fmt.Errorf("sql is required")
	}
	if request.TenantID == "" {
		return query.Result{}, fmt.Errorf("tenant id is required")
	}
	rowLimit := request.RowLimit
	if rowLimit <= 0 {
		rowLimit = defaultRowLimit
	}

	started := time.Now()
	execCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	result, err := e.execute(execCtx, request, rowLimit)
	if err != nil {
		return query.Result{}, e.classify(ctx, execCtx, request, err)
	}
	result.Duration = time.Since(started)
	return result, nil
}

func (e *Engine) execute(ctx context.Context, request query.Request, rowLimit int) (query.Result, error) {
	conn, err := e.db.Conn(ctx)
	if err != nil {
		return query.Result{}, fmt.Errorf("acquire read-only connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	tx, err := conn.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return query.Result{}, fmt.Errorf("begin read-only transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL statement_timeout = %d", e.timeout.Milliseconds())); err != nil {
		return query.Result{}, fmt.Errorf("set statement timeout: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `SELECT set_config('`+tenantSetting+`', $1, true)`, request.TenantID); err != nil {
		return query.Result{}, fmt.Errorf("bind session tenant: %w", err)
	}

	rows, err := tx.QueryContext(ctx, request.SQL, request.Params...)
	if err != nil {
		return query.Result{}, fmt.Errorf("execute query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return query.Result{}, fmt.Errorf("read result columns: %w", err)
	}
	columns = uniqueColumnNames(columns)
	dbTypes := make([]string, len(columns))
	if columnTypes, err := rows.ColumnTypes(); err == nil {
		for i, columnType := range columnTypes {
			dbTypes[i] = columnType.DatabaseTypeName()
		}
	}

	result := query.Result{Columns: columns, Rows: make([]query.Row, 0)}
	for rows.Next() {
		if len(result.Rows) >= rowLimit {
			result.Truncated = true
			break
		}
		raw := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return query.Result{}, fmt.Errorf("scan result row: %w", err)
		}
		values := make([]query.Value, len(columns))
		for i, cell := range raw {
			values[i] = query.FromDriver(cell, dbTypes[i])
		}
		result.Rows = append(result.Rows, query.NewRow(columns, values))
	}
	if err := rows.Err(); err != nil {
		return query.Result{}, fmt.Errorf("iterate result rows: %w", err)
	}
	return result, nil
}

// uniqueColumnNames suffixes repeated result columns (total, total_2) so
// rows keyed by name keep every value.
func uniqueColumnNames(columns []string) []string {
	taken := make(map[string]struct{}, len(columns))
	out := make([]string, len(columns))
	for i, name := range columns {
		candidate := name
		for n := 2; ; n++ {
			if _, dup := taken[candidate]; !dup {
				break
			}
			candidate = fmt.Sprintf("%s_%d", name, n)
		}
		taken[candidate] = struct{}{}
		out[i] = candidate
	}
	return out
}

// classify maps driver failures onto the query sentinels. parent is the
// caller's context, execCtx the one carrying the execution ceiling.
func (e *Engine) classify(parent, execCtx context.Context, request query.Request, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case sqlStateQueryCanceled:
			if parent.Err() == nil {
				return e.timedOut(parent, err)
			}
		case sqlStateInsufficientPriv, sqlStateReadOnlySQLTxn:
			e.logger.ErrorContext(parent, "database refused a validated query",
				slog.String("event", "sandbox_gap"),
				slog.String("trace_id", observability.TraceIDFromContext(parent)),
				slog.String("sqlstate", pgErr.Code),
				slog.String("db_message", pgErr.Message),
				slog.String("query", request.SQL),
			)
			return fmt.Errorf("%w: %s", query.ErrPermissionDenied, pgErr.Code)
		}
	}
	if parent.Err() == nil && (errors.Is(execCtx.Err(), context.DeadlineExceeded) || pgconn.Timeout(err)) {
		return e.timedOut(parent, err)
	}
	return err
}

func (e *Engine) timedOut(ctx context.Context, err error) error {
	observability.IncrementExecutorTimeout()
	e.logger.WarnContext(ctx, "query exceeded statement timeout",
		slog.Duration("timeout", e.timeout),
		slog.Any("error", err),
	)
	return fmt.Errorf("%w after %s", query.ErrQueryTimeout, e.timeout)
}

var _ query.Engine = (*Engine)(nil)
