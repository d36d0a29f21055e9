package nl2sql

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/wooai/wooai/internal/chart"
)

type modelOutput struct {
	SQL         string            `json:"sql"`
	Params      []json.RawMessage `json:"params"`
	Explanation string            `json:"explanation"`
	ChartSpec   *chart.Intent     `json:"chartSpec"`
}

// parseModelOutput turns raw model text into a Result. The returned params
// do not yet include the tenant binding for $1.
func parseModelOutput(raw string, maxQueryLength int) (Result, error) {
	body := extractJSON(raw)
	if body == "" {
		return Result{}, fmt.Errorf("no JSON object in model output")
	}
	var out modelOutput
	if err := json.Unmarshal([]byte(body), &out); err != nil {
		return Result{}, fmt.Errorf("decode model output: %w", err)
	}

	sql := strings.TrimSpace(out.SQL)
	if sql == "" {
		return Result{}, fmt.Errorf("model output has no sql")
	}
	if len(sql) > maxQueryLength {
		return Result{}, fmt.Errorf("sql length %d exceeds %d", len(sql), maxQueryLength)
	}

	params := make([]any, 0, len(out.Params))
	for i, rawParam := range out.Params {
		value, err := decodeParam(rawParam)
		if err != nil {
			return Result{}, fmt.Errorf("param %d: %w", i+2, err)
		}
		params = append(params, value)
	}

	return Result{
		SQL:         sql,
		Params:      params,
		Explanation: strings.TrimSpace(out.Explanation),
		Chart:       normalizeIntent(out.ChartSpec),
	}, nil
}

func decodeParam(raw json.RawMessage) (any, error) {
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, err
	}
	switch typed := value.(type) {
	case nil, string, bool:
		return typed, nil
	case json.Number:
		if n, err := typed.Int64(); err == nil {
			return n, nil
		}
		f, err := typed.Float64()
		if err != nil {
			return nil, err
		}
		return f, nil
	default:
		return nil, fmt.Errorf("parameters must be scalars")
	}
}

// normalizeIntent drops chart intents the resolver cannot use. An unknown
// type degrades to the table view rather than failing the question.
func normalizeIntent(intent *chart.Intent) *chart.Intent {
	if intent == nil {
		return nil
	}
	kind, err := chart.ParseType(string(intent.Type))
	if err != nil || kind == chart.TypeNone || kind == chart.TypeTable {
		return nil
	}
	normalized := *intent
	normalized.Type = kind
	return &normalized
}

// extractJSON finds the first JSON object in the text, looking inside
// markdown fences first.
func extractJSON(text string) string {
	if idx := strings.Index(text, "```json"); idx >= 0 {
		start := idx + len("```json")
		if end := strings.Index(text[start:], "```"); end >= 0 {
			return strings.TrimSpace(text[start : start+end])
		}
	}
	if idx := strings.Index(text, "```"); idx >= 0 {
		start := idx + len("```")
		if end := strings.Index(text[start:], "```"); end >= 0 {
			candidate := strings.TrimSpace(text[start : start+end])
			if strings.HasPrefix(candidate, "{") {
				return candidate
			}
		}
	}

	depth := 0
	start := -1
	inString := false
	escaped := false
	for i := 0; i < len(text); i++ {
		ch := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			if start >= 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}
