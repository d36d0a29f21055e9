package sandbox

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Rules lists the whole-token denylists enforced on every candidate query.
type Rules struct {
	DeniedKeywords  []string `yaml:"denied_keywords"`
	DeniedFunctions []string `yaml:"denied_functions"`
}

// RulesFile is the YAML schema root.
type RulesFile struct {
	Rules Rules `yaml:"rules"`
}

// DefaultRules covers mutating, DDL, permission, session and locking verbs.
// REPLACE and COMMENT are left out: replace() is a read-only string function
// and "comment" is a common column name.
func DefaultRules() Rules {
	return Rules{
		DeniedKeywords: []string{
			"INSERT", "UPDATE", "DELETE", "MERGE", "UPSERT", "INTO",
			"DROP", "ALTER", "CREATE", "TRUNCATE", "RENAME",
			"GRANT", "REVOKE",
			"EXEC", "EXECUTE", "CALL", "DO", "PREPARE", "DEALLOCATE",
			"COPY", "LOAD", "IMPORT", "ATTACH", "DETACH", "PRAGMA",
			"LOCK", "VACUUM", "ANALYZE", "REINDEX", "CLUSTER", "REFRESH",
			"SET", "RESET", "DISCARD", "LISTEN", "NOTIFY", "UNLISTEN",
		},
		DeniedFunctions: []string{
			"pg_sleep", "pg_sleep_for", "pg_sleep_until",
			"pg_read_file", "pg_read_binary_file", "pg_ls_dir", "pg_stat_file",
			"lo_import", "lo_export", "lo_get", "lo_put",
			"dblink", "dblink_exec", "dblink_connect",
			"pg_terminate_backend", "pg_cancel_backend", "pg_reload_conf",
			"set_config", "current_setting",
			"sleep", "benchmark", "load_file",
			"table_to_xml", "table_to_xmlschema", "table_to_xml_and_xmlschema",
			"query_to_xml", "query_to_xmlschema", "query_to_xml_and_xmlschema",
			"cursor_to_xml", "cursor_to_xmlschema",
			"schema_to_xml", "schema_to_xmlschema", "schema_to_xml_and_xmlschema",
			"database_to_xml", "database_to_xmlschema", "database_to_xml_and_xmlschema",
		},
	}
}

// LoadRules returns the default rules merged with any extra entries from the
// YAML file at path. An empty path or a missing file yields the defaults.
func LoadRules(path string) (Rules, error) {
	rules := DefaultRules()
	if strings.TrimSpace(path) == "" {
		return rules, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return rules, nil
		}
		return Rules{}, fmt.Errorf("read sandbox rules %s: %w", path, err)
	}
	var file RulesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return Rules{}, fmt.Errorf("parse sandbox rules %s: %w", path, err)
	}
	rules.DeniedKeywords = append(rules.DeniedKeywords, file.Rules.DeniedKeywords...)
	rules.DeniedFunctions = append(rules.DeniedFunctions, file.Rules.DeniedFunctions...)
	return rules, nil
}

func (r Rules) keywordSet() map[string]struct{} {
	set := make(map[string]struct{}, len(r.DeniedKeywords))
	for _, keyword := range r.DeniedKeywords {
		if keyword = strings.TrimSpace(keyword); keyword != "" {
			set[strings.ToUpper(keyword)] = struct{}{}
		}
	}
	return set
}

func (r Rules) functionSet() map[string]struct{} {
	set := make(map[string]struct{}, len(r.DeniedFunctions))
	for _, fn := range r.DeniedFunctions {
		if fn = strings.TrimSpace(fn); fn != "" {
			set[strings.ToLower(fn)] = struct{}{}
		}
	}
	return set
}
