package sandbox

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadRulesDefaultsWhenPathEmptyOrMissing(t *testing.T) {
	for _, path := range []string{"", filepath.Join(t.TempDir(), "missing.yaml")} {
		rules, err := LoadRules(path)
		if err != nil {
			t.Fatalf("LoadRules(%q) error = %v", path, err)
		}
		if len(rules.DeniedKeywords) != len(DefaultRules().DeniedKeywords) {
			t.Fatalf("LoadRules(%q) keywords = %d", path, len(rules.DeniedKeywords))
		}
	}
}

func TestLoadRulesMergesExtraEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	content := "rules:\n  denied_keywords:\n    - returning\n  denied_functions:\n    - pg_stat_activity\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	rules, err := LoadRules(path)
	if err != nil {
		t.Fatalf("LoadRules() error = %v", err)
	}
	v, err := NewValidator(Config{RowCap: 10, Rules: rules}, nil)
	if err != nil {
		t.Fatalf("NewValidator() error = %v", err)
	}

	verdict := v.Validate(context.Background(), "s1", "SELECT * FROM pg_stat_activity WHERE store_id = $1", []any{"s1"})
	if verdict.Accepted || verdict.Reason != ReasonNotReadOnly {
		t.Fatalf("verdict = %+v", verdict)
	}
	verdict = v.Validate(context.Background(), "s1", "SELECT id FROM orders WHERE store_id = $1 AND status = 'x' ORDER BY id RETURNING", []any{"s1"})
	if verdict.Accepted || verdict.Reason != ReasonNotReadOnly {
		t.Fatalf("verdict = %+v", verdict)
	}
	verdict = v.Validate(context.Background(), "s1", "DELETE FROM orders", nil)
	if verdict.Accepted {
		t.Fatal("defaults must still apply when a rules file is loaded")
	}
}

func TestLoadRulesRejectsInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	if err := os.WriteFile(path, []byte("rules: [unterminated"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if _, err := LoadRules(path); err == nil {
		t.Fatal("expected parse error")
	}
}
