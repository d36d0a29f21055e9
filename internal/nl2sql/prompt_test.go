package nl2sql

import (
	"reflect"
	"strings"
	"testing"

	"github.com/wooai/wooai/internal/schema"
)

func TestBuildPromptIsDeterministic(t *testing.T) {
	req := Request{
		TenantID: "store-1",
		Question: "  Top customers?  ",
		Schema:   schema.Context{TenantID: "store-1", TenantColumn: "store_id", Tables: schema.DefaultTables()},
		History: []Turn{
			{Role: "user", Content: "Revenue last week?"},
			{Role: "assistant", Content: "You made 1200 EUR."},
		},
	}
	first := BuildPrompt(req)
	second := BuildPrompt(req)
	if !reflect.DeepEqual(first, second) {
		t.Fatal("BuildPrompt() is not deterministic")
	}
	if !strings.Contains(first.System, "store_id = $1") || !strings.Contains(first.System, "TABLE orders") {
		t.Fatalf("system prompt missing schema or tenant rule:\n%s", first.System)
	}
	if len(first.Messages) != len(examples)*2+1 {
		t.Fatalf("messages = %d", len(first.Messages))
	}
	last := first.Messages[len(first.Messages)-1]
	if last.Role != "user" || !strings.HasSuffix(last.Content, "Question: Top customers?") {
		t.Fatalf("last message = %+v", last)
	}
	if !strings.Contains(last.Content, "assistant: You made 1200 EUR.") {
		t.Fatalf("history missing from last message: %q", last.Content)
	}
}

func TestBuildPromptWithoutHistoryIsJustTheQuestion(t *testing.T) {
	prompt := BuildPrompt(Request{Question: "Orders today?", Schema: schema.Context{TenantColumn: "shop_id"}})
	last := prompt.Messages[len(prompt.Messages)-1]
	if last.Content != "Orders today?" {
		t.Fatalf("last message = %q", last.Content)
	}
	if !strings.Contains(prompt.System, "shop_id = $1") {
		t.Fatal("system prompt must name the configured tenant column")
	}
}

func TestExamplesParse(t *testing.T) {
	for _, ex := range examples {
		if _, err := parseModelOutput(ex.answer, defaultMaxQueryLength); err != nil {
			t.Fatalf("example %q does not parse: %v", ex.question, err)
		}
	}
}
