package nl2sql

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/wooai/wooai/internal/chart"
	"github.com/wooai/wooai/internal/observability"
	"github.com/wooai/wooai/internal/schema"
)

const (
	maxAttempts           = 2
	defaultMaxQueryLength = 4000
)

var (
	// ErrUnavailable means no usable model response was obtained.
	ErrUnavailable = errors.New("translation unavailable")
	// ErrMalformedOutput means the model answered but the answer is unusable.
	ErrMalformedOutput = errors.New("malformed model output")
)

// Turn is one prior exchange of the conversation, oldest first.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Request struct {
	TenantID string
	Question string
	Schema   schema.Context
	History  []Turn
}

type Result struct {
	SQL         string        `json:"sql"`
	Params      []any         `json:"params"`
	Explanation string        `json:"explanation"`
	Chart       *chart.Intent `json:"chartSpec"`
	Provider    string        `json:"provider"`
	Model       string        `json:"model"`
	Attempts    int           `json:"attempts"`
}

type Translator interface {
	Translate(ctx context.Context, req Request) (Result, error)
}

type Config struct {
	MaxQueryLength int
}

// ModelTranslator asks a language model for a query. Transient provider
// failures are retried once with the identical prompt.
type ModelTranslator struct {
	client         Client
	maxQueryLength int
	logger         *slog.Logger
}

func NewModelTranslator(client Client, cfg Config, logger *slog.Logger) (*ModelTranslator, error) {
	if client == nil {
		return nil, fmt.Errorf("model client is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	maxLength := cfg.MaxQueryLength
	if maxLength <= 0 {
		maxLength = defaultMaxQueryLength
	}
	return &ModelTranslator{client: client, maxQueryLength: maxLength, logger: logger}, nil
}

func (t *ModelTranslator) Translate(ctx context.Context, req Request) (Result, error) {
	prompt := BuildPrompt(req)

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		started := time.Now()
		raw, err := t.client.Complete(ctx, prompt)
		if err == nil {
			observability.IncrementTranslationAttempt("ok")
			result, parseErr := parseModelOutput(raw, t.maxQueryLength)
			if parseErr != nil {
				t.logger.WarnContext(ctx, "model output rejected",
					slog.String("trace_id", observability.TraceIDFromContext(ctx)),
					slog.String("tenant_id", req.TenantID),
					slog.String("provider", t.client.Name()),
					slog.Any("error", parseErr),
				)
				return Result{}, fmt.Errorf("%w: %w", ErrMalformedOutput, parseErr)
			}
			result.Params = append([]any{req.TenantID}, result.Params...)
			result.Provider = t.client.Name()
			result.Model = t.client.Model()
			result.Attempts = attempt
			return result, nil
		}

		lastErr = err
		retry := attempt < maxAttempts && ctx.Err() == nil && IsTransient(err)
		if retry {
			observability.IncrementTranslationAttempt("retry")
		} else {
			observability.IncrementTranslationAttempt("error")
		}
		t.logger.WarnContext(ctx, "model call failed",
			slog.String("trace_id", observability.TraceIDFromContext(ctx)),
			slog.String("tenant_id", req.TenantID),
			slog.String("provider", t.client.Name()),
			slog.Int("attempt", attempt),
			slog.Bool("retry", retry),
			slog.Duration("duration", time.Since(started)),
			slog.Any("error", err),
		)
		if !retry {
			break
		}
	}
	return Result{}, fmt.Errorf("%w: %w", ErrUnavailable, lastErr)
}
