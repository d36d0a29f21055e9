package config

import (
	"log/slog"
	"testing"
	"time"
)

func TestLoadDefaultsForDevProfile(t *testing.T) {
	cfg, err := Load("wooai-api", mapLookup(map[string]string{}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Profile != ProfileDev {
		t.Fatalf("Profile = %q, want %q", cfg.Profile, ProfileDev)
	}
	if cfg.HTTP.Address != ":8080" {
		t.Fatalf("HTTP.Address = %q", cfg.HTTP.Address)
	}
	if cfg.Observability.LogLevel != slog.LevelDebug {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if cfg.Auth.Required {
		t.Fatal("Auth.Required should default to false in dev")
	}
	if !cfg.Debug() {
		t.Fatal("Debug() should be true outside prod")
	}
	if cfg.Sandbox.TenantColumn != "store_id" {
		t.Fatalf("Sandbox.TenantColumn = %q", cfg.Sandbox.TenantColumn)
	}
	if cfg.Sandbox.RowCap != 100 {
		t.Fatalf("Sandbox.RowCap = %d", cfg.Sandbox.RowCap)
	}
	if cfg.Executor.StatementTimeout != 5*time.Second {
		t.Fatalf("Executor.StatementTimeout = %s", cfg.Executor.StatementTimeout)
	}
	if cfg.RateLimit.Backend != "memory" {
		t.Fatalf("RateLimit.Backend = %q", cfg.RateLimit.Backend)
	}
	if cfg.RateLimit.Quotas["free"] != 20 || cfg.RateLimit.Quotas["pro"] != 200 {
		t.Fatalf("RateLimit.Quotas = %#v", cfg.RateLimit.Quotas)
	}
	if cfg.Schema.CacheTTL != 5*time.Minute {
		t.Fatalf("Schema.CacheTTL = %s", cfg.Schema.CacheTTL)
	}
	if cfg.Conversation.Backend != "memory" {
		t.Fatalf("Conversation.Backend = %q", cfg.Conversation.Backend)
	}
	if cfg.AI.Model != "gpt-5" {
		t.Fatalf("AI.Model = %q", cfg.AI.Model)
	}
}

func TestLoadProdProfileDefaults(t *testing.T) {
	cfg, err := Load("wooai-api", mapLookup(map[string]string{"WOOAI_PROFILE": "prod"}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Profile != ProfileProd {
		t.Fatalf("Profile = %q, want %q", cfg.Profile, ProfileProd)
	}
	if !cfg.Auth.Required {
		t.Fatal("Auth.Required should default to true in prod")
	}
	if cfg.Debug() {
		t.Fatal("Debug() should be false in prod")
	}
	if cfg.Observability.LogLevel != slog.LevelInfo {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if cfg.RateLimit.Backend != "postgres" {
		t.Fatalf("RateLimit.Backend = %q", cfg.RateLimit.Backend)
	}
	if cfg.Conversation.Backend != "postgres" {
		t.Fatalf("Conversation.Backend = %q", cfg.Conversation.Backend)
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	cfg, err := Load("wooai-api", mapLookup(map[string]string{
		"WOOAI_PROFILE":                    "test",
		"WOOAI_SERVICE_NAME":               "wooai-custom",
		"WOOAI_HTTP_ADDR":                  ":9999",
		"WOOAI_HTTP_READ_TIMEOUT":          "2s",
		"WOOAI_LOG_LEVEL":                  "error",
		"WOOAI_AUTH_REQUIRED":              "true",
		"WOOAI_AUTH_STATIC_KEYS":           "k1:store-1:query_reader",
		"WOOAI_STORE_DSN":                  "postgres://reader",
		"WOOAI_STORE_MAX_OPEN_CONNS":       "42",
		"WOOAI_APPDB_DSN":                  "postgres://app",
		"WOOAI_APPDB_MAX_IDLE_CONNS":       "17",
		"WOOAI_AI_PROVIDER":                "anthropic",
		"WOOAI_AI_BASE_URL":                "https://api.example.com",
		"WOOAI_AI_API_KEY":                 "secret-key",
		"WOOAI_AI_MODEL":                   "model-x",
		"WOOAI_AI_TEMPERATURE":             "0.3",
		"WOOAI_AI_TIMEOUT":                 "21s",
		"WOOAI_AI_MAX_QUERY_LENGTH":        "900",
		"WOOAI_SANDBOX_TENANT_COLUMN":      "shop_id",
		"WOOAI_SANDBOX_ROW_CAP":            "250",
		"WOOAI_SANDBOX_RULES_FILE":         "/etc/wooai/rules.yaml",
		"WOOAI_EXECUTOR_STATEMENT_TIMEOUT": "3s",
		"WOOAI_RATELIMIT_BACKEND":          "postgres",
		"WOOAI_RATELIMIT_WINDOW":           "24h",
		"WOOAI_RATELIMIT_DEFAULT_TIER":     "starter",
		"WOOAI_RATELIMIT_QUOTAS":           "starter=5, pro=500",
		"WOOAI_SCHEMA_CACHE_BACKEND":       "badger",
		"WOOAI_SCHEMA_CACHE_TTL":           "90s",
		"WOOAI_SCHEMA_BADGER_DIR":          "/var/lib/wooai/schema",
		"WOOAI_CONVERSATION_BACKEND":       "sqlite",
		"WOOAI_CONVERSATION_SQLITE_PATH":   "/tmp/conv.db",
		"WOOAI_CONVERSATION_HISTORY_TURNS": "4",
	}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Service.Name != "wooai-custom" {
		t.Fatalf("Service.Name = %q", cfg.Service.Name)
	}
	if cfg.HTTP.Address != ":9999" {
		t.Fatalf("HTTP.Address = %q", cfg.HTTP.Address)
	}
	if cfg.HTTP.ReadTimeout != 2*time.Second {
		t.Fatalf("HTTP.ReadTimeout = %s", cfg.HTTP.ReadTimeout)
	}
	if cfg.Observability.LogLevel != slog.LevelError {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if !cfg.Auth.Required {
		t.Fatal("Auth.Required = false, want true")
	}
	if cfg.Store.DSN != "postgres://reader" || cfg.Store.MaxOpenConns != 42 {
		t.Fatalf("Store = %+v", cfg.Store)
	}
	if cfg.AppDB.DSN != "postgres://app" || cfg.AppDB.MaxIdleConns != 17 {
		t.Fatalf("AppDB = %+v", cfg.AppDB)
	}
	if cfg.AI.Provider != "anthropic" || cfg.AI.Model != "model-x" || cfg.AI.APIKey != "secret-key" {
		t.Fatalf("AI = %+v", cfg.AI)
	}
	if cfg.AI.Temperature != 0.3 {
		t.Fatalf("AI.Temperature = %f", cfg.AI.Temperature)
	}
	if cfg.AI.Timeout != 21*time.Second {
		t.Fatalf("AI.Timeout = %s", cfg.AI.Timeout)
	}
	if cfg.AI.MaxQueryLength != 900 {
		t.Fatalf("AI.MaxQueryLength = %d", cfg.AI.MaxQueryLength)
	}
	if cfg.Sandbox.TenantColumn != "shop_id" || cfg.Sandbox.RowCap != 250 {
		t.Fatalf("Sandbox = %+v", cfg.Sandbox)
	}
	if cfg.Sandbox.RulesFile != "/etc/wooai/rules.yaml" {
		t.Fatalf("Sandbox.RulesFile = %q", cfg.Sandbox.RulesFile)
	}
	if cfg.Executor.StatementTimeout != 3*time.Second {
		t.Fatalf("Executor.StatementTimeout = %s", cfg.Executor.StatementTimeout)
	}
	if cfg.RateLimit.Backend != "postgres" || cfg.RateLimit.Window != 24*time.Hour {
		t.Fatalf("RateLimit = %+v", cfg.RateLimit)
	}
	if cfg.RateLimit.Quotas["starter"] != 5 || cfg.RateLimit.Quotas["pro"] != 500 || cfg.RateLimit.Quotas["free"] != 20 {
		t.Fatalf("RateLimit.Quotas = %#v", cfg.RateLimit.Quotas)
	}
	if cfg.Schema.CacheBackend != "badger" || cfg.Schema.CacheTTL != 90*time.Second {
		t.Fatalf("Schema = %+v", cfg.Schema)
	}
	if cfg.Conversation.Backend != "sqlite" || cfg.Conversation.SQLitePath != "/tmp/conv.db" || cfg.Conversation.HistoryTurns != 4 {
		t.Fatalf("Conversation = %+v", cfg.Conversation)
	}
}

func TestLoadErrorsOnInvalidValues(t *testing.T) {
	tests := []map[string]string{
		{"WOOAI_PROFILE": "oops"},
		{"WOOAI_HTTP_READ_TIMEOUT": "NaN"},
		{"WOOAI_STORE_MAX_OPEN_CONNS": "oops"},
		{"WOOAI_AI_TEMPERATURE": "bad"},
		{"WOOAI_AUTH_REQUIRED": "not-bool"},
		{"WOOAI_LOG_LEVEL": "verbose"},
		{"WOOAI_SANDBOX_ROW_CAP": "0"},
		{"WOOAI_EXECUTOR_STATEMENT_TIMEOUT": "0s"},
		{"WOOAI_RATELIMIT_QUOTAS": "free"},
		{"WOOAI_RATELIMIT_QUOTAS": "free=-1"},
		{"WOOAI_RATELIMIT_DEFAULT_TIER": "platinum"},
		{"WOOAI_RATELIMIT_BACKEND": "redis"},
		{"WOOAI_SCHEMA_CACHE_BACKEND": "memcached"},
		{"WOOAI_CONVERSATION_BACKEND": "files"},
	}
	for _, env := range tests {
		_, err := Load("wooai-api", mapLookup(env))
		if err == nil {
			t.Fatalf("Load() expected error for env %#v", env)
		}
	}
}

func mapLookup(values map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}
