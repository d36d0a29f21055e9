package query

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrQueryTimeout marks a statement cancelled by the execution ceiling.
	// It is never retried.
	ErrQueryTimeout = errors.New("query timed out")
	// ErrPermissionDenied means the database refused the statement even
	// though the sandbox accepted it.
	ErrPermissionDenied = errors.New("query permission denied")
)

// Request carries one statement. TenantID is bound to the session so the
// database row policies see the same tenant the sandbox checked.
type Request struct {
	SQL      string
	Params   []any
	RowLimit int
	TenantID string
}

type Result struct {
	Columns   []string
	Rows      []Row
	Truncated bool
	Duration  time.Duration
}

// Engine runs one validated, parameterised statement.
type Engine interface {
	Execute(ctx context.Context, request Request) (Result, error)
}
