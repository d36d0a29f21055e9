package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/wooai/wooai/internal/observability"
)

// Reason names why a candidate query was rejected.
type Reason string

const (
	ReasonNotReadOnly        Reason = "NotReadOnly"
	ReasonMultipleStatements Reason = "MultipleStatements"
	ReasonMissingTenantScope Reason = "MissingTenantScope"
)

// Verdict is the outcome of validating one candidate query. Detail is meant
// for logs only and may quote the query.
type Verdict struct {
	Accepted        bool
	NormalizedQuery string
	Reason          Reason
	Detail          string
}

type Config struct {
	TenantColumn string
	RowCap       int
	Rules        Rules
}

type Validator struct {
	tenantColumn string
	rowCap       int
	keywords     map[string]struct{}
	functions    map[string]struct{}
	logger       *slog.Logger
}

func NewValidator(cfg Config, logger *slog.Logger) (*Validator, error) {
	column := strings.TrimSpace(cfg.TenantColumn)
	if column == "" {
		column = "store_id"
	}
	if cfg.RowCap <= 0 {
		return nil, fmt.Errorf("row cap must be > 0")
	}
	if logger == nil {
		logger = slog.Default()
	}
	rules := cfg.Rules
	if len(rules.DeniedKeywords) == 0 && len(rules.DeniedFunctions) == 0 {
		rules = DefaultRules()
	}
	return &Validator{
		tenantColumn: column,
		rowCap:       cfg.RowCap,
		keywords:     rules.keywordSet(),
		functions:    rules.functionSet(),
		logger:       logger,
	}, nil
}

func (v *Validator) RowCap() int {
	return v.rowCap
}

// Validate inspects query as untrusted text. Rejections are recorded as
// security events; the caller only sees the verdict.
func (v *Validator) Validate(ctx context.Context, tenantID, query string, params []any) Verdict {
	verdict := v.check(tenantID, query, params)
	if !verdict.Accepted {
		observability.IncrementSandboxRejection(string(verdict.Reason))
		v.logger.WarnContext(ctx, "sandbox rejected query",
			slog.String("event", "sandbox_rejection"),
			slog.String("trace_id", observability.TraceIDFromContext(ctx)),
			slog.String("tenant_id", tenantID),
			slog.String("reason", string(verdict.Reason)),
			slog.String("detail", verdict.Detail),
			slog.String("query", query),
		)
	}
	return verdict
}

func (v *Validator) check(tenantID, query string, params []any) Verdict {
	var (
		tokens            []Token
		lexErr            *Token
		endsInLineComment bool
	)
	for _, tok := range NewLexer(query).Tokenize() {
		switch tok.Type {
		case TokenEOF:
			continue
		case TokenError:
			failed := tok
			lexErr = &failed
			continue
		case TokenComment:
			endsInLineComment = strings.HasPrefix(tok.Literal, "--")
			continue
		}
		endsInLineComment = false
		tokens = append(tokens, tok)
	}

	if len(tokens) == 0 || tokens[0].Type != TokenIdent || tokens[0].Upper() != "SELECT" {
		return reject(ReasonNotReadOnly, "query must start with SELECT")
	}

	for _, tok := range tokens {
		if tok.Type == TokenSemicolon {
			return reject(ReasonMultipleStatements, fmt.Sprintf("statement separator at position %d", tok.Pos))
		}
	}
	if lexErr != nil {
		return reject(ReasonNotReadOnly, fmt.Sprintf("%s at position %d", lexErr.Literal, lexErr.Pos))
	}
	for _, tok := range tokens {
		switch tok.Type {
		case TokenIdent:
			if _, denied := v.keywords[tok.Upper()]; denied {
				return reject(ReasonNotReadOnly, fmt.Sprintf("denied keyword %s at position %d", tok.Upper(), tok.Pos))
			}
			if _, denied := v.functions[strings.ToLower(tok.Literal)]; denied {
				return reject(ReasonNotReadOnly, fmt.Sprintf("denied function %s at position %d", tok.Literal, tok.Pos))
			}
		case TokenQuotedIdent:
			if _, denied := v.functions[tok.Literal]; denied {
				return reject(ReasonNotReadOnly, fmt.Sprintf("denied function %q at position %d", tok.Literal, tok.Pos))
			}
		}
	}

	if verdict, ok := v.checkTenantScope(tokens, tenantID, params); !ok {
		return verdict
	}

	normalized := strings.TrimSpace(query)
	if !hasTopLevelLimit(tokens) {
		sep := " "
		if endsInLineComment {
			sep = "\n"
		}
		normalized += sep + "LIMIT " + strconv.Itoa(v.rowCap)
	}
	return Verdict{Accepted: true, NormalizedQuery: normalized}
}

// checkTenantScope requires every literal comparison against the tenant
// column to bind the caller's tenant, and every top-level SELECT to keep only
// the caller's rows through its outer WHERE clause. Column-to-column
// comparisons (joins) are neither counted nor rejected.
func (v *Validator) checkTenantScope(tokens []Token, tenantID string, params []any) (Verdict, bool) {
	if strings.TrimSpace(tenantID) == "" {
		return reject(ReasonMissingTenantScope, "no authenticated tenant"), false
	}

	questionIndex := make(map[int]int)
	next := 0
	for i, tok := range tokens {
		if tok.Type == TokenPlaceholder && tok.Literal == "?" {
			questionIndex[i] = next
			next++
		}
	}
	resolve := func(i int) (string, bool) {
		return resolveValue(tokens[i], questionIndex[i], params)
	}

	referenced := false
	for i, tok := range tokens {
		if !v.isTenantColumn(tok) {
			continue
		}
		referenced = true

		if i+2 < len(tokens) && tokens[i+1].Type == TokenOperator && isValueToken(tokens[i+2]) {
			if verdict, ok := v.compare(tokens[i+1].Literal, resolve, i+2, tenantID); !ok {
				return verdict, false
			}
			continue
		}

		start := i
		for start >= 2 && tokens[start-1].Type == TokenDot && isNameToken(tokens[start-2]) {
			start -= 2
		}
		if start >= 2 && tokens[start-1].Type == TokenOperator && isValueToken(tokens[start-2]) {
			if verdict, ok := v.compare(tokens[start-1].Literal, resolve, start-2, tenantID); !ok {
				return verdict, false
			}
			continue
		}

		if i+1 < len(tokens) && tokens[i+1].Type == TokenIdent {
			switch tokens[i+1].Upper() {
			case "NOT":
				return reject(ReasonMissingTenantScope, fmt.Sprintf("negated tenant predicate at position %d", tok.Pos)), false
			case "IN":
				values, ok := inListValues(tokens, i+2)
				if !ok {
					continue
				}
				for _, idx := range values {
					value, found := resolve(idx)
					if !found || value != tenantID {
						return reject(ReasonMissingTenantScope, fmt.Sprintf("tenant list at position %d includes another tenant", tok.Pos)), false
					}
				}
			}
		}
	}

	if !referenced {
		return reject(ReasonMissingTenantScope, fmt.Sprintf("query does not reference %s", v.tenantColumn)), false
	}
	return v.checkOuterScope(tokens, resolve, tenantID)
}

// checkOuterScope walks every top-level SELECT (branches of UNION, INTERSECT
// and EXCEPT included). Each needs an outer WHERE clause without a top-level
// OR and with one AND-ed conjunct that binds the tenant column. Predicates in
// the select list, a join condition or a subquery do not count.
func (v *Validator) checkOuterScope(tokens []Token, resolve func(int) (string, bool), tenantID string) (Verdict, bool) {
	depths := tokenDepths(tokens)
	start := 0
	for end := 0; end <= len(tokens); end++ {
		if end < len(tokens) && !(depths[end] == 0 && isSetOperator(tokens[end])) {
			continue
		}
		if verdict, ok := v.checkBranch(tokens, depths, start, end, resolve, tenantID); !ok {
			return verdict, false
		}
		start = end + 1
	}
	return Verdict{}, true
}

func (v *Validator) checkBranch(tokens []Token, depths []int, start, end int, resolve func(int) (string, bool), tenantID string) (Verdict, bool) {
	where := -1
	for i := start; i < end; i++ {
		if depths[i] == 0 && tokens[i].Type == TokenIdent && tokens[i].Upper() == "WHERE" {
			where = i
			break
		}
	}
	if where < 0 {
		return reject(ReasonMissingTenantScope, fmt.Sprintf("outer query has no WHERE clause restricting %s", v.tenantColumn)), false
	}

	clauseEnd := end
	for i := where + 1; i < end; i++ {
		if depths[i] == 0 && tokens[i].Type == TokenIdent && endsWhereClause(tokens[i].Upper()) {
			clauseEnd = i
			break
		}
	}

	var conjuncts [][2]int
	conjunctStart := where + 1
	pendingBetween := false
	for i := where + 1; i < clauseEnd; i++ {
		if depths[i] != 0 || tokens[i].Type != TokenIdent {
			continue
		}
		switch tokens[i].Upper() {
		case "OR":
			return reject(ReasonMissingTenantScope, fmt.Sprintf("OR at position %d widens the tenant predicate", tokens[i].Pos)), false
		case "BETWEEN":
			pendingBetween = true
		case "AND":
			if pendingBetween {
				pendingBetween = false
				continue
			}
			conjuncts = append(conjuncts, [2]int{conjunctStart, i})
			conjunctStart = i + 1
		}
	}
	conjuncts = append(conjuncts, [2]int{conjunctStart, clauseEnd})

	for _, c := range conjuncts {
		if v.bindsTenant(tokens, c[0], c[1], resolve, tenantID) {
			return Verdict{}, true
		}
	}
	return reject(ReasonMissingTenantScope, fmt.Sprintf("outer WHERE clause does not bind %s to the caller's tenant", v.tenantColumn)), false
}

// bindsTenant reports whether tokens[lo:hi] is exactly "col = v", "v = col"
// or "col IN (v, ...)", col possibly qualified and every v the tenant.
func (v *Validator) bindsTenant(tokens []Token, lo, hi int, resolve func(int) (string, bool), tenantID string) bool {
	matches := func(i int) bool {
		value, found := resolve(i)
		return found && value == tenantID
	}

	if n := v.columnRefLength(tokens[lo:hi]); n > 0 {
		k := lo + n
		if hi-k == 2 && tokens[k].Type == TokenOperator && tokens[k].Literal == "=" && isValueToken(tokens[k+1]) {
			return matches(k + 1)
		}
		if hi-k >= 3 && tokens[k].Type == TokenIdent && tokens[k].Upper() == "IN" {
			values, ok := inListValues(tokens, k+1)
			if !ok || values[len(values)-1] != hi-2 {
				return false
			}
			for _, idx := range values {
				if !matches(idx) {
					return false
				}
			}
			return true
		}
		return false
	}

	if hi-lo >= 3 && isValueToken(tokens[lo]) && tokens[lo+1].Type == TokenOperator && tokens[lo+1].Literal == "=" {
		return v.columnRefLength(tokens[lo+2:hi]) == hi-lo-2 && matches(lo)
	}
	return false
}

// columnRefLength returns how many leading tokens form a possibly qualified
// reference to the tenant column, or 0.
func (v *Validator) columnRefLength(tokens []Token) int {
	n := 0
	for n < len(tokens) && isNameToken(tokens[n]) {
		if v.isTenantColumn(tokens[n]) && (n+1 == len(tokens) || tokens[n+1].Type != TokenDot) {
			return n + 1
		}
		if n+1 >= len(tokens) || tokens[n+1].Type != TokenDot {
			return 0
		}
		n += 2
	}
	return 0
}

func tokenDepths(tokens []Token) []int {
	depths := make([]int, len(tokens))
	depth := 0
	for i, tok := range tokens {
		if tok.Type == TokenRParen {
			depth--
		}
		depths[i] = depth
		if tok.Type == TokenLParen {
			depth++
		}
	}
	return depths
}

func isSetOperator(tok Token) bool {
	if tok.Type != TokenIdent {
		return false
	}
	switch tok.Upper() {
	case "UNION", "INTERSECT", "EXCEPT":
		return true
	}
	return false
}

func endsWhereClause(word string) bool {
	switch word {
	case "GROUP", "HAVING", "WINDOW", "ORDER", "LIMIT", "OFFSET", "FETCH", "FOR":
		return true
	}
	return false
}

func (v *Validator) compare(op string, resolve func(int) (string, bool), valueIdx int, tenantID string) (Verdict, bool) {
	if op != "=" {
		return reject(ReasonMissingTenantScope, fmt.Sprintf("tenant column compared with %q", op)), false
	}
	value, ok := resolve(valueIdx)
	if !ok {
		return reject(ReasonMissingTenantScope, "tenant predicate has no bound value"), false
	}
	if value != tenantID {
		return reject(ReasonMissingTenantScope, "tenant predicate binds another tenant"), false
	}
	return Verdict{}, true
}

func (v *Validator) isTenantColumn(tok Token) bool {
	switch tok.Type {
	case TokenIdent:
		return strings.EqualFold(tok.Literal, v.tenantColumn)
	case TokenQuotedIdent:
		return tok.Literal == v.tenantColumn
	default:
		return false
	}
}

// inListValues returns the token indexes of a parenthesised list of plain
// values starting at open, or false when the list holds anything else.
func inListValues(tokens []Token, open int) ([]int, bool) {
	if open >= len(tokens) || tokens[open].Type != TokenLParen {
		return nil, false
	}
	var values []int
	expectValue := true
	for i := open + 1; i < len(tokens); i++ {
		tok := tokens[i]
		switch {
		case expectValue && isValueToken(tok):
			values = append(values, i)
			expectValue = false
		case !expectValue && tok.Type == TokenComma:
			expectValue = true
		case !expectValue && tok.Type == TokenRParen:
			return values, len(values) > 0
		default:
			return nil, false
		}
	}
	return nil, false
}

func hasTopLevelLimit(tokens []Token) bool {
	depth := 0
	for _, tok := range tokens {
		switch tok.Type {
		case TokenLParen:
			depth++
		case TokenRParen:
			depth--
		case TokenIdent:
			if depth == 0 {
				switch tok.Upper() {
				case "LIMIT", "FETCH":
					return true
				}
			}
		}
	}
	return false
}

func resolveValue(tok Token, questionIdx int, params []any) (string, bool) {
	switch tok.Type {
	case TokenString, TokenNumber:
		return tok.Literal, true
	case TokenPlaceholder:
		idx := questionIdx
		if tok.Literal != "?" {
			n, err := strconv.Atoi(strings.TrimPrefix(tok.Literal, "$"))
			if err != nil {
				return "", false
			}
			idx = n - 1
		}
		if idx < 0 || idx >= len(params) {
			return "", false
		}
		return paramString(params[idx])
	default:
		return "", false
	}
}

func paramString(value any) (string, bool) {
	switch typed := value.(type) {
	case nil:
		return "", false
	case string:
		return typed, true
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64), true
	case float32:
		return strconv.FormatFloat(float64(typed), 'f', -1, 32), true
	case fmt.Stringer:
		return typed.String(), true
	default:
		return fmt.Sprint(typed), true
	}
}

func isValueToken(tok Token) bool {
	return tok.Type == TokenPlaceholder || tok.Type == TokenString || tok.Type == TokenNumber
}

func isNameToken(tok Token) bool {
	return tok.Type == TokenIdent || tok.Type == TokenQuotedIdent
}

func reject(reason Reason, detail string) Verdict {
	return Verdict{Reason: reason, Detail: detail}
}
