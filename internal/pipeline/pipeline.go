// Package pipeline answers one natural-language question: admission, schema
// context, translation, sandbox validation, execution, chart resolution and
// response assembly.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/wooai/wooai/internal/chart"
	"github.com/wooai/wooai/internal/conversation"
	"github.com/wooai/wooai/internal/nl2sql"
	"github.com/wooai/wooai/internal/observability"
	"github.com/wooai/wooai/internal/query"
	"github.com/wooai/wooai/internal/ratelimit"
	"github.com/wooai/wooai/internal/sandbox"
	"github.com/wooai/wooai/internal/schema"
)

const (
	StageRateLimit = "rate_limit"
	StageSchema    = "schema"
	StageTranslate = "translate"
	StageValidate  = "validate"
	StageExecute   = "execute"
	StageChart     = "chart"
	StageHistory   = "history"
)

type SchemaSource interface {
	Build(ctx context.Context, tenantID string) (schema.Context, error)
}

type Validator interface {
	Validate(ctx context.Context, tenantID, query string, params []any) sandbox.Verdict
	RowCap() int
}

type Dependencies struct {
	Limiter       ratelimit.Limiter
	Schemas       SchemaSource
	Translator    nl2sql.Translator
	Validator     Validator
	Engine        query.Engine
	Conversations conversation.Store
	Logger        *slog.Logger
}

type Config struct {
	// HistoryTurns is how many recent turns are passed to the translator.
	HistoryTurns int
	// ExposeSQL echoes the executed query in answers.
	ExposeSQL bool
}

type Question struct {
	TenantID       string
	Tier           string
	Text           string
	ConversationID string
}

type Pipeline struct {
	deps   Dependencies
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

func New(deps Dependencies, cfg Config) (*Pipeline, error) {
	switch {
	case deps.Limiter == nil:
		return nil, fmt.Errorf("rate limiter is required")
	case deps.Schemas == nil:
		return nil, fmt.Errorf("schema source is required")
	case deps.Translator == nil:
		return nil, fmt.Errorf("translator is required")
	case deps.Validator == nil:
		return nil, fmt.Errorf("validator is required")
	case deps.Engine == nil:
		return nil, fmt.Errorf("query engine is required")
	case deps.Conversations == nil:
		return nil, fmt.Errorf("conversation store is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{deps: deps, cfg: cfg, logger: logger, now: time.Now}, nil
}

// Ask runs one question end to end. Failures are returned as *Error; later
// stages never run after a failure.
func (p *Pipeline) Ask(ctx context.Context, q Question) (Answer, error) {
	answer, err := p.ask(ctx, q)
	if err != nil {
		var pipeErr *Error
		if !errors.As(err, &pipeErr) {
			pipeErr = fail("pipeline", KindInternalError, err)
		}
		observability.ObserveQuestion(string(pipeErr.Kind))
		p.logFailure(ctx, q, pipeErr)
		return Answer{}, pipeErr
	}
	observability.ObserveQuestion("ok")
	return answer, nil
}

func (p *Pipeline) ask(ctx context.Context, q Question) (Answer, error) {
	if q.TenantID == "" {
		return Answer{}, fail("pipeline", KindInternalError, errors.New("tenant id is required"))
	}

	if err := p.admit(ctx, q); err != nil {
		return Answer{}, err
	}

	conversationID, history, err := p.openConversation(ctx, q)
	if err != nil {
		return Answer{}, err
	}
	userTurn := conversation.Turn{Role: conversation.RoleUser, Content: q.Text, Timestamp: p.now().UTC()}

	answer, err := p.answer(ctx, q, history)
	if err != nil {
		var pipeErr *Error
		if !errors.As(err, &pipeErr) {
			pipeErr = fail("pipeline", KindInternalError, err)
		}
		p.record(ctx, q.TenantID, conversationID, userTurn, conversation.Turn{
			Role:      conversation.RoleError,
			Content:   pipeErr.Kind.Message(),
			Timestamp: p.now().UTC(),
		})
		return Answer{}, pipeErr
	}

	answer.ConversationID = conversationID
	p.record(ctx, q.TenantID, conversationID, userTurn, conversation.Turn{
		Role:         conversation.RoleAssistant,
		Content:      answer.Answer,
		Timestamp:    p.now().UTC(),
		AttachedData: answer.attachment(),
	})

	if ctx.Err() != nil {
		// The caller is gone; the answer is kept in the conversation.
		p.logger.WarnContext(ctx, "question completed after caller cancelled",
			slog.String("trace_id", observability.TraceIDFromContext(ctx)),
			slog.String("tenant_id", q.TenantID),
			slog.String("conversation_id", conversationID),
			slog.Int("rows", len(answer.Data)),
		)
		return Answer{}, fail(StageExecute, KindInternalError, ctx.Err())
	}
	return answer, nil
}

func (p *Pipeline) admit(ctx context.Context, q Question) error {
	started := time.Now()
	decision, err := p.deps.Limiter.Allow(ctx, q.TenantID, q.Tier)
	observability.ObserveStage(StageRateLimit, time.Since(started))
	if err != nil {
		return fail(StageRateLimit, KindInternalError, err)
	}
	if !decision.Allowed {
		observability.IncrementRateLimitDenial(decision.Tier)
		return &Error{
			Kind:       KindRateLimitExceeded,
			Stage:      StageRateLimit,
			RetryAfter: decision.RetryAfter,
			Err:        fmt.Errorf("tier %s limit %d reached until %s", decision.Tier, decision.Limit, decision.ResetAt.Format(time.RFC3339)),
		}
	}
	return nil
}

func (p *Pipeline) openConversation(ctx context.Context, q Question) (string, []nl2sql.Turn, error) {
	if q.ConversationID == "" {
		conv, err := p.deps.Conversations.Create(ctx, q.TenantID)
		if err != nil {
			return "", nil, fail(StageHistory, KindInternalError, err)
		}
		return conv.ID, nil, nil
	}

	turns, err := p.deps.Conversations.Recent(ctx, q.TenantID, q.ConversationID, p.cfg.HistoryTurns)
	if errors.Is(err, conversation.ErrNotFound) {
		return "", nil, fail(StageHistory, KindConversationNotFound, err)
	}
	if err != nil {
		return "", nil, fail(StageHistory, KindInternalError, err)
	}
	history := make([]nl2sql.Turn, 0, len(turns))
	for _, turn := range turns {
		history = append(history, nl2sql.Turn{Role: string(turn.Role), Content: turn.Content})
	}
	return q.ConversationID, history, nil
}

func (p *Pipeline) answer(ctx context.Context, q Question, history []nl2sql.Turn) (Answer, error) {
	started := time.Now()
	schemaCtx, err := p.deps.Schemas.Build(ctx, q.TenantID)
	observability.ObserveStage(StageSchema, time.Since(started))
	if err != nil {
		return Answer{}, fail(StageSchema, KindInternalError, err)
	}

	started = time.Now()
	translation, err := p.deps.Translator.Translate(ctx, nl2sql.Request{
		TenantID: q.TenantID,
		Question: q.Text,
		Schema:   schemaCtx,
		History:  history,
	})
	observability.ObserveStage(StageTranslate, time.Since(started))
	if err != nil {
		if errors.Is(err, nl2sql.ErrMalformedOutput) {
			return Answer{}, fail(StageTranslate, KindMalformedModelOutput, err)
		}
		return Answer{}, fail(StageTranslate, KindTranslationUnavailable, err)
	}

	started = time.Now()
	verdict := p.deps.Validator.Validate(ctx, q.TenantID, translation.SQL, translation.Params)
	observability.ObserveStage(StageValidate, time.Since(started))
	if !verdict.Accepted {
		return Answer{}, fail(StageValidate, kindForReason(verdict.Reason), fmt.Errorf("%s: %s", verdict.Reason, verdict.Detail))
	}

	started = time.Now()
	result, err := p.deps.Engine.Execute(ctx, query.Request{
		SQL:      verdict.NormalizedQuery,
		Params:   translation.Params,
		RowLimit: p.deps.Validator.RowCap(),
		TenantID: q.TenantID,
	})
	observability.ObserveStage(StageExecute, time.Since(started))
	if err != nil {
		switch {
		case errors.Is(err, query.ErrQueryTimeout):
			return Answer{}, fail(StageExecute, KindQueryTimeout, err)
		case errors.Is(err, query.ErrPermissionDenied):
			return Answer{}, fail(StageExecute, KindExecutionPermissionDenied, err)
		default:
			return Answer{}, fail(StageExecute, KindInternalError, err)
		}
	}

	started = time.Now()
	chartCfg := chart.Resolve(result, translation.Chart)
	observability.ObserveStage(StageChart, time.Since(started))

	sql := ""
	if p.cfg.ExposeSQL {
		sql = verdict.NormalizedQuery
	}
	return Assemble(translation, result, chartCfg, sql), nil
}

func (p *Pipeline) record(ctx context.Context, tenantID, conversationID string, turns ...conversation.Turn) {
	if err := p.deps.Conversations.Append(context.WithoutCancel(ctx), tenantID, conversationID, turns...); err != nil {
		p.logger.ErrorContext(ctx, "append conversation turns failed",
			slog.String("trace_id", observability.TraceIDFromContext(ctx)),
			slog.String("tenant_id", tenantID),
			slog.String("conversation_id", conversationID),
			slog.Any("error", err),
		)
	}
}

func (p *Pipeline) logFailure(ctx context.Context, q Question, err *Error) {
	level := slog.LevelWarn
	if err.Kind.HTTPStatus() >= 500 && err.Kind != KindQueryTimeout {
		level = slog.LevelError
	}
	p.logger.Log(ctx, level, "question failed",
		slog.String("trace_id", observability.TraceIDFromContext(ctx)),
		slog.String("tenant_id", q.TenantID),
		slog.String("stage", err.Stage),
		slog.String("kind", string(err.Kind)),
		slog.Any("error", err.Err),
	)
}

func kindForReason(reason sandbox.Reason) Kind {
	switch reason {
	case sandbox.ReasonMultipleStatements:
		return KindMultipleStatements
	case sandbox.ReasonMissingTenantScope:
		return KindMissingTenantScope
	default:
		return KindNotReadOnly
	}
}
