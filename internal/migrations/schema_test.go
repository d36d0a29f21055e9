package migrations

import (
	"strings"
	"testing"
)

func TestAppStateMigrationContainsRequiredTablesAndIndexes(t *testing.T) {
	body, err := embeddedFS.ReadFile("sql/000001_app_state.up.sql")
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}

	sql := string(body)
	requiredSnippets := []string{
		"CREATE TABLE conversation (",
		"CREATE TABLE conversation_turn",
		"turn_id BIGSERIAL PRIMARY KEY",
		"attached_data JSONB",
		"CREATE TABLE rate_limit_counter",
		"PRIMARY KEY (tenant_id, window_start)",
		"CREATE INDEX idx_conversation_turn_conversation_turn",
		"CREATE INDEX idx_rate_limit_counter_window_start",
	}

	for _, snippet := range requiredSnippets {
		if !strings.Contains(sql, snippet) {
			t.Fatalf("migration missing required snippet: %s", snippet)
		}
	}
}

func TestReaderRoleMigrationIsReadOnly(t *testing.T) {
	body, err := embeddedFS.ReadFile("sql/000002_store_reader_role.up.sql")
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}

	sql := string(body)
	for _, snippet := range []string{
		"default_transaction_read_only = on",
		"GRANT SELECT ON %I TO wooai_reader",
	} {
		if !strings.Contains(sql, snippet) {
			t.Fatalf("migration missing required snippet: %s", snippet)
		}
	}
	for _, forbidden := range []string{"GRANT INSERT", "GRANT UPDATE", "GRANT DELETE", "GRANT ALL"} {
		if strings.Contains(sql, forbidden) {
			t.Fatalf("reader role migration grants write access: %s", forbidden)
		}
	}
}

func TestReaderRoleMigrationScopesRowsToSessionTenant(t *testing.T) {
	up, err := embeddedFS.ReadFile("sql/000002_store_reader_role.up.sql")
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	for _, snippet := range []string{
		"ALTER TABLE %I ENABLE ROW LEVEL SECURITY",
		"CREATE POLICY wooai_tenant_isolation ON %I FOR SELECT TO wooai_reader",
		"USING (store_id::text = current_setting(''wooai.tenant'', true))",
	} {
		if !strings.Contains(string(up), snippet) {
			t.Fatalf("up migration missing required snippet: %s", snippet)
		}
	}

	down, err := embeddedFS.ReadFile("sql/000002_store_reader_role.down.sql")
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	for _, snippet := range []string{
		"DROP POLICY IF EXISTS wooai_tenant_isolation ON %I",
		"ALTER TABLE %I DISABLE ROW LEVEL SECURITY",
	} {
		if !strings.Contains(string(down), snippet) {
			t.Fatalf("down migration missing required snippet: %s", snippet)
		}
	}
}

func TestEmbeddedMigrationsLoad(t *testing.T) {
	items, err := loadMigrations(embeddedFS)
	if err != nil {
		t.Fatalf("loadMigrations() error = %v", err)
	}
	if len(items) != 2 || items[0].Version != 1 || items[1].Version != 2 {
		t.Fatalf("unexpected embedded migrations: %+v", items)
	}
}
