package nl2sql

import (
	"reflect"
	"testing"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare", `{"sql":"SELECT 1"}`, `{"sql":"SELECT 1"}`},
		{"json fence", "```json\n{\"sql\":\"SELECT 1\"}\n```", `{"sql":"SELECT 1"}`},
		{"plain fence", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"narrative", `Sure! {"sql":"SELECT '}' AS brace","params":[]} hope this helps`, `{"sql":"SELECT '}' AS brace","params":[]}`},
		{"nested", `x {"a":{"b":"{"}} y`, `{"a":{"b":"{"}}`},
		{"escaped quote", `{"sql":"SELECT \"}\""}`, `{"sql":"SELECT \"}\""}`},
		{"none", "SELECT 1", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractJSON(tt.in); got != tt.want {
				t.Fatalf("extractJSON() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseModelOutputParams(t *testing.T) {
	result, err := parseModelOutput(`{"sql":"SELECT 1","params":["a", 3, 2.5, true, null]}`, 100)
	if err != nil {
		t.Fatalf("parseModelOutput() error = %v", err)
	}
	want := []any{"a", int64(3), 2.5, true, nil}
	if !reflect.DeepEqual(result.Params, want) {
		t.Fatalf("Params = %#v, want %#v", result.Params, want)
	}
}

func TestParseModelOutputDropsUnusableChartIntent(t *testing.T) {
	for _, spec := range []string{`null`, `{"type":"none"}`, `{"type":"radar","dataKey":"x","labelKey":"y"}`} {
		result, err := parseModelOutput(`{"sql":"SELECT 1","chartSpec":`+spec+`}`, 100)
		if err != nil {
			t.Fatalf("parseModelOutput() error = %v", err)
		}
		if result.Chart != nil {
			t.Fatalf("chartSpec %s: Chart = %+v, want nil", spec, result.Chart)
		}
	}
}
