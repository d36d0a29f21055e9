package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/wooai/wooai/internal/chart"
	"github.com/wooai/wooai/internal/conversation"
	"github.com/wooai/wooai/internal/nl2sql"
	"github.com/wooai/wooai/internal/query"
	"github.com/wooai/wooai/internal/ratelimit"
	"github.com/wooai/wooai/internal/sandbox"
	"github.com/wooai/wooai/internal/schema"
)

type fakeTranslator struct {
	mu       sync.Mutex
	requests []nl2sql.Request
	respond  func(req nl2sql.Request) (nl2sql.Result, error)
}

func (f *fakeTranslator) Translate(_ context.Context, req nl2sql.Request) (nl2sql.Result, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	return f.respond(req)
}

func (f *fakeTranslator) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func translateTo(sql string, chartIntent *chart.Intent) *fakeTranslator {
	return &fakeTranslator{respond: func(req nl2sql.Request) (nl2sql.Result, error) {
		return nl2sql.Result{
			SQL:         sql,
			Params:      []any{req.TenantID},
			Explanation: "Generated answer.",
			Chart:       chartIntent,
		}, nil
	}}
}

type fakeEngine struct {
	mu       sync.Mutex
	requests []query.Request
	execute  func(ctx context.Context, req query.Request) (query.Result, error)
}

func (f *fakeEngine) Execute(ctx context.Context, req query.Request) (query.Result, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	return f.execute(ctx, req)
}

func returning(columns []string, rows ...[]query.Value) *fakeEngine {
	return &fakeEngine{execute: func(context.Context, query.Request) (query.Result, error) {
		result := query.Result{Columns: columns, Rows: []query.Row{}}
		for _, values := range rows {
			result.Rows = append(result.Rows, query.NewRow(columns, values))
		}
		return result, nil
	}}
}

type harness struct {
	pipeline      *Pipeline
	translator    *fakeTranslator
	engine        *fakeEngine
	conversations *conversation.MemoryStore
	logs          *bytes.Buffer
}

func newHarness(t *testing.T, translator *fakeTranslator, engine *fakeEngine, quota int) *harness {
	t.Helper()
	logs := &bytes.Buffer{}
	logger := slog.New(slog.NewJSONHandler(logs, nil))

	limiter, err := ratelimit.NewMemoryLimiter(ratelimit.Plans{
		Quotas:      map[string]int{"free": quota, "pro": quota * 10},
		DefaultTier: "free",
		Window:      time.Hour,
	})
	if err != nil {
		t.Fatalf("NewMemoryLimiter() error = %v", err)
	}
	validator, err := sandbox.NewValidator(sandbox.Config{RowCap: 100}, logger)
	if err != nil {
		t.Fatalf("NewValidator() error = %v", err)
	}
	conversations := conversation.NewMemoryStore()
	p, err := New(Dependencies{
		Limiter:       limiter,
		Schemas:       schema.NewBuilder(schema.BuilderConfig{}, nil, nil, logger),
		Translator:    translator,
		Validator:     validator,
		Engine:        engine,
		Conversations: conversations,
		Logger:        logger,
	}, Config{HistoryTurns: 4, ExposeSQL: true})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return &harness{pipeline: p, translator: translator, engine: engine, conversations: conversations, logs: logs}
}

func (h *harness) turns(t *testing.T, tenantID, conversationID string) []conversation.Turn {
	t.Helper()
	conv, err := h.conversations.Get(context.Background(), tenantID, conversationID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	return conv.Turns
}

func assertKind(t *testing.T, err error, want Kind) *Error {
	t.Helper()
	var pipeErr *Error
	if !errors.As(err, &pipeErr) {
		t.Fatalf("error = %v, want *Error of kind %s", err, want)
	}
	if pipeErr.Kind != want {
		t.Fatalf("Kind = %s, want %s (err %v)", pipeErr.Kind, want, pipeErr.Err)
	}
	return pipeErr
}

func TestTotalRevenueQuestion(t *testing.T) {
	h := newHarness(t,
		translateTo("SELECT SUM(total) AS revenue FROM orders WHERE store_id = $1 AND status = 'completed'", nil),
		returning([]string{"revenue"}, []query.Value{query.Number(1234.5)}),
		10,
	)

	answer, err := h.pipeline.Ask(context.Background(), Question{TenantID: "store-1", Text: "What is my total revenue?"})
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if len(answer.Data) != 1 {
		t.Fatalf("Data = %+v", answer.Data)
	}
	if v, _ := answer.Data[0].Get("revenue"); v != query.Number(1234.5) {
		t.Fatalf("revenue = %#v", v)
	}
	if answer.Chart == nil || !answer.Chart.Config.IsTable() {
		t.Fatalf("Chart = %+v, want table fallback", answer.Chart)
	}
	if answer.Answer != "Generated answer." {
		t.Fatalf("Answer = %q", answer.Answer)
	}

	executed := h.engine.requests[0]
	wantSQL := "SELECT SUM(total) AS revenue FROM orders WHERE store_id = $1 AND status = 'completed' LIMIT 100"
	if executed.SQL != wantSQL || executed.RowLimit != 100 || executed.TenantID != "store-1" {
		t.Fatalf("executed = %+v", executed)
	}
	if len(executed.Params) != 1 || executed.Params[0] != "store-1" {
		t.Fatalf("Params = %#v", executed.Params)
	}
	if answer.SQL != wantSQL {
		t.Fatalf("SQL = %q", answer.SQL)
	}

	turns := h.turns(t, "store-1", answer.ConversationID)
	if len(turns) != 2 || turns[0].Role != conversation.RoleUser || turns[1].Role != conversation.RoleAssistant {
		t.Fatalf("turns = %+v", turns)
	}
	if !strings.Contains(string(turns[1].AttachedData), `"rowCount":1`) {
		t.Fatalf("attached data = %s", turns[1].AttachedData)
	}
}

func TestStackedStatementsNeverExecute(t *testing.T) {
	h := newHarness(t, translateTo("SELECT 1; DROP TABLE orders;", nil), returning(nil), 10)

	_, err := h.pipeline.Ask(context.Background(), Question{TenantID: "store-1", Text: "drop everything"})
	pipeErr := assertKind(t, err, KindMultipleStatements)
	if pipeErr.Kind.HTTPStatus() != 422 {
		t.Fatalf("status = %d", pipeErr.Kind.HTTPStatus())
	}
	if len(h.engine.requests) != 0 {
		t.Fatal("executor must not run for a rejected query")
	}
	if !strings.Contains(h.logs.String(), `"event":"sandbox_rejection"`) {
		t.Fatalf("missing security log: %s", h.logs.String())
	}
}

func TestTopProductsForEmptyStore(t *testing.T) {
	intent := &chart.Intent{Type: chart.TypeBar, Title: "Top products", DataKey: "revenue", LabelKey: "product_name"}
	h := newHarness(t,
		translateTo("SELECT product_name, SUM(line_total) AS revenue FROM order_items WHERE store_id = $1 GROUP BY product_name ORDER BY revenue DESC LIMIT 5", intent),
		returning([]string{"product_name", "revenue"}),
		10,
	)

	answer, err := h.pipeline.Ask(context.Background(), Question{TenantID: "store-empty", Text: "Top products?"})
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if answer.Data == nil || len(answer.Data) != 0 {
		t.Fatalf("Data = %#v", answer.Data)
	}
	cfg := answer.Chart.Config
	if !cfg.IsTable() || len(cfg.Headers) != 0 {
		t.Fatalf("chart = %+v, want empty table", cfg)
	}
	if !strings.Contains(answer.Answer, "No matching data") {
		t.Fatalf("Answer = %q", answer.Answer)
	}
	if h.engine.requests[0].SQL != "SELECT product_name, SUM(line_total) AS revenue FROM order_items WHERE store_id = $1 GROUP BY product_name ORDER BY revenue DESC LIMIT 5" {
		t.Fatalf("existing LIMIT must be kept, got %q", h.engine.requests[0].SQL)
	}
}

func TestChartIntentProducesChart(t *testing.T) {
	intent := &chart.Intent{Type: chart.TypePie, DataKey: "orders", LabelKey: "status"}
	h := newHarness(t,
		translateTo("SELECT status, COUNT(*) AS orders FROM orders WHERE store_id = $1 GROUP BY status", intent),
		returning([]string{"status", "orders"},
			[]query.Value{query.String("completed"), query.Number(12)},
			[]query.Value{query.String("refunded"), query.Number(2)}),
		10,
	)
	answer, err := h.pipeline.Ask(context.Background(), Question{TenantID: "store-1", Text: "Orders by status"})
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if answer.Chart.Config.Type != chart.TypePie || len(answer.Chart.Config.Labels) != 2 {
		t.Fatalf("chart = %+v", answer.Chart.Config)
	}
	if answer.ChartIntent == nil || answer.ChartIntent.DataKey != "orders" {
		t.Fatalf("ChartIntent = %+v", answer.ChartIntent)
	}
}

func TestRateLimitShortCircuitsBeforeTranslation(t *testing.T) {
	h := newHarness(t,
		translateTo("SELECT COUNT(*) FROM orders WHERE store_id = $1", nil),
		returning([]string{"count"}, []query.Value{query.Number(3)}),
		1,
	)
	ctx := context.Background()
	if _, err := h.pipeline.Ask(ctx, Question{TenantID: "store-1", Text: "How many orders?"}); err != nil {
		t.Fatalf("first Ask() error = %v", err)
	}
	_, err := h.pipeline.Ask(ctx, Question{TenantID: "store-1", Text: "How many orders?"})
	pipeErr := assertKind(t, err, KindRateLimitExceeded)
	if pipeErr.RetryAfter <= 0 {
		t.Fatalf("RetryAfter = %s", pipeErr.RetryAfter)
	}
	if h.translator.calls() != 1 {
		t.Fatalf("translator calls = %d, want 1", h.translator.calls())
	}

	if _, err := h.pipeline.Ask(ctx, Question{TenantID: "store-2", Text: "How many orders?"}); err != nil {
		t.Fatalf("other tenant must not share the counter: %v", err)
	}
	if _, err := h.pipeline.Ask(ctx, Question{TenantID: "store-1", Tier: "pro", Text: "How many orders?"}); err != nil {
		t.Fatalf("pro tier has its own quota: %v", err)
	}
}

func TestTranslationFailuresMapToKinds(t *testing.T) {
	tests := []struct {
		err  error
		want Kind
	}{
		{fmt.Errorf("%w: boom", nl2sql.ErrUnavailable), KindTranslationUnavailable},
		{fmt.Errorf("%w: not json", nl2sql.ErrMalformedOutput), KindMalformedModelOutput},
		{context.DeadlineExceeded, KindTranslationUnavailable},
	}
	for _, tt := range tests {
		translator := &fakeTranslator{respond: func(nl2sql.Request) (nl2sql.Result, error) { return nl2sql.Result{}, tt.err }}
		h := newHarness(t, translator, returning(nil), 10)
		_, err := h.pipeline.Ask(context.Background(), Question{TenantID: "store-1", Text: "q"})
		assertKind(t, err, tt.want)
		if len(h.engine.requests) != 0 {
			t.Fatal("executor must not run after a translation failure")
		}
	}
}

func TestSandboxRejectionsMapToKinds(t *testing.T) {
	tests := []struct {
		sql  string
		want Kind
	}{
		{"SELECT SUM(total) FROM orders", KindMissingTenantScope},
		{"DELETE FROM orders WHERE store_id = $1", KindNotReadOnly},
		{"SELECT * FROM orders WHERE store_id = $1 FOR UPDATE", KindNotReadOnly},
		{"SELECT 1;", KindMultipleStatements},
	}
	for _, tt := range tests {
		h := newHarness(t, translateTo(tt.sql, nil), returning(nil), 10)
		_, err := h.pipeline.Ask(context.Background(), Question{TenantID: "store-1", Text: "q"})
		assertKind(t, err, tt.want)
		if len(h.engine.requests) != 0 {
			t.Fatalf("%q: executor must not run", tt.sql)
		}
	}
}

func TestExecutionFailuresMapToKinds(t *testing.T) {
	tests := []struct {
		err  error
		want Kind
	}{
		{fmt.Errorf("%w after 5s", query.ErrQueryTimeout), KindQueryTimeout},
		{fmt.Errorf("%w: 42501", query.ErrPermissionDenied), KindExecutionPermissionDenied},
		{errors.New("connection reset"), KindInternalError},
	}
	for _, tt := range tests {
		engine := &fakeEngine{execute: func(context.Context, query.Request) (query.Result, error) { return query.Result{}, tt.err }}
		h := newHarness(t, translateTo("SELECT 1 FROM orders WHERE store_id = $1", nil), engine, 10)
		_, err := h.pipeline.Ask(context.Background(), Question{TenantID: "store-1", Text: "q"})
		assertKind(t, err, tt.want)
		if len(engine.requests) != 1 {
			t.Fatalf("executor calls = %d, want exactly 1", len(engine.requests))
		}
	}
}

func TestFailuresAreRecordedAsErrorTurns(t *testing.T) {
	h := newHarness(t, translateTo("SELECT SUM(total) FROM orders", nil), returning(nil), 10)
	ctx := context.Background()
	conv, err := h.conversations.Create(ctx, "store-1")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	_, err = h.pipeline.Ask(ctx, Question{TenantID: "store-1", Text: "Revenue?", ConversationID: conv.ID})
	assertKind(t, err, KindMissingTenantScope)

	turns := h.turns(t, "store-1", conv.ID)
	if len(turns) != 2 || turns[1].Role != conversation.RoleError {
		t.Fatalf("turns = %+v", turns)
	}
	if strings.Contains(turns[1].Content, "SELECT") {
		t.Fatalf("error turn leaks the query: %q", turns[1].Content)
	}
}

func TestHistoryIsPassedToTranslator(t *testing.T) {
	h := newHarness(t,
		translateTo("SELECT COUNT(*) AS orders FROM orders WHERE store_id = $1", nil),
		returning([]string{"orders"}, []query.Value{query.Number(5)}),
		10,
	)
	ctx := context.Background()
	first, err := h.pipeline.Ask(ctx, Question{TenantID: "store-1", Text: "Orders today?"})
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if _, err := h.pipeline.Ask(ctx, Question{TenantID: "store-1", Text: "And yesterday?", ConversationID: first.ConversationID}); err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	history := h.translator.requests[1].History
	if len(history) != 2 || history[0].Role != "user" || history[0].Content != "Orders today?" {
		t.Fatalf("History = %+v", history)
	}
	if len(h.turns(t, "store-1", first.ConversationID)) != 4 {
		t.Fatal("second question must extend the same conversation")
	}
}

func TestForeignConversationIsNotFound(t *testing.T) {
	h := newHarness(t, translateTo("SELECT 1 FROM orders WHERE store_id = $1", nil), returning(nil), 10)
	ctx := context.Background()
	conv, err := h.conversations.Create(ctx, "store-1")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	_, err = h.pipeline.Ask(ctx, Question{TenantID: "store-2", Text: "q", ConversationID: conv.ID})
	assertKind(t, err, KindConversationNotFound)
	if h.translator.calls() != 0 {
		t.Fatal("translator must not run for an unknown conversation")
	}
}

func TestLateResultIsLoggedAndKept(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	engine := &fakeEngine{execute: func(context.Context, query.Request) (query.Result, error) {
		cancel()
		columns := []string{"orders"}
		return query.Result{Columns: columns, Rows: []query.Row{query.NewRow(columns, []query.Value{query.Number(9)})}}, nil
	}}
	h := newHarness(t, translateTo("SELECT COUNT(*) AS orders FROM orders WHERE store_id = $1", nil), engine, 10)
	conv, err := h.conversations.Create(context.Background(), "store-1")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	_, err = h.pipeline.Ask(ctx, Question{TenantID: "store-1", Text: "Orders?", ConversationID: conv.ID})
	if err == nil {
		t.Fatal("expected error for cancelled caller")
	}
	if !strings.Contains(h.logs.String(), "question completed after caller cancelled") {
		t.Fatalf("late result not logged: %s", h.logs.String())
	}
	turns := h.turns(t, "store-1", conv.ID)
	if len(turns) != 2 || turns[1].Role != conversation.RoleAssistant {
		t.Fatalf("turns = %+v", turns)
	}
}

func TestSQLHiddenUnlessExposed(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	limiter, err := ratelimit.NewMemoryLimiter(ratelimit.Plans{Quotas: map[string]int{"free": 5}, DefaultTier: "free", Window: time.Hour})
	if err != nil {
		t.Fatalf("NewMemoryLimiter() error = %v", err)
	}
	validator, err := sandbox.NewValidator(sandbox.Config{RowCap: 10}, logger)
	if err != nil {
		t.Fatalf("NewValidator() error = %v", err)
	}
	p, err := New(Dependencies{
		Limiter:       limiter,
		Schemas:       schema.NewBuilder(schema.BuilderConfig{}, nil, nil, logger),
		Translator:    translateTo("SELECT COUNT(*) AS orders FROM orders WHERE store_id = $1", nil),
		Validator:     validator,
		Engine:        returning([]string{"orders"}, []query.Value{query.Number(1)}),
		Conversations: conversation.NewMemoryStore(),
		Logger:        logger,
	}, Config{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	answer, err := p.Ask(context.Background(), Question{TenantID: "store-1", Text: "Orders?"})
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if answer.SQL != "" {
		t.Fatalf("SQL = %q, want hidden", answer.SQL)
	}
}

func TestNewRequiresDependencies(t *testing.T) {
	if _, err := New(Dependencies{}, Config{}); err == nil {
		t.Fatal("expected error for missing dependencies")
	}
}

func TestKindHTTPStatus(t *testing.T) {
	want := map[Kind]int{
		KindRateLimitExceeded:         429,
		KindTranslationUnavailable:    502,
		KindMalformedModelOutput:      502,
		KindNotReadOnly:               422,
		KindMultipleStatements:        422,
		KindMissingTenantScope:        422,
		KindQueryTimeout:              504,
		KindExecutionPermissionDenied: 500,
		KindInternalError:             500,
		KindConversationNotFound:      404,
	}
	for kind, status := range want {
		if got := kind.HTTPStatus(); got != status {
			t.Fatalf("%s.HTTPStatus() = %d, want %d", kind, got, status)
		}
		if kind.Message() == "" {
			t.Fatalf("%s has no message", kind)
		}
	}
}
