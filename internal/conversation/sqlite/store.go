// Package sqlite keeps conversations in an embedded SQLite file for
// single-node deployments.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/wooai/wooai/internal/conversation"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS conversation (
	conversation_id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS conversation_turn (
	turn_id INTEGER PRIMARY KEY AUTOINCREMENT,
	conversation_id TEXT NOT NULL REFERENCES conversation (conversation_id),
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	attached_data TEXT,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS conversation_turn_conversation_idx ON conversation_turn (conversation_id, turn_id);`

type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open creates the database file and its tables when missing.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite allows one writer; a single connection keeps appends serialised.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init sqlite schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Create(ctx context.Context, tenantID string) (conversation.Conversation, error) {
	if tenantID == "" {
		return conversation.Conversation{}, fmt.Errorf("tenant id is required")
	}
	conv := conversation.Conversation{
		ID:        conversation.NewID(),
		TenantID:  tenantID,
		CreatedAt: s.now().UTC(),
		Turns:     []conversation.Turn{},
	}
	stamp := formatTime(conv.CreatedAt)
	if _, err := s.db.ExecContext(ctx, `INSERT INTO conversation (conversation_id, tenant_id, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		conv.ID, tenantID, stamp, stamp); err != nil {
		return conversation.Conversation{}, fmt.Errorf("create conversation: %w", err)
	}
	return conv, nil
}

func (s *Store) Append(ctx context.Context, tenantID, conversationID string, turns ...conversation.Turn) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append turns: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err := owned(ctx, tx, tenantID, conversationID); err != nil {
		return err
	}
	for _, turn := range turns {
		stamp := turn.Timestamp
		if stamp.IsZero() {
			stamp = s.now()
		}
		var data any
		if len(turn.AttachedData) > 0 {
			data = string(turn.AttachedData)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO conversation_turn (conversation_id, role, content, attached_data, created_at) VALUES (?, ?, ?, ?, ?)`,
			conversationID, string(turn.Role), turn.Content, data, formatTime(stamp)); err != nil {
			return fmt.Errorf("insert conversation turn: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, `UPDATE conversation SET updated_at = ? WHERE conversation_id = ?`, formatTime(s.now()), conversationID); err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit append turns: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, tenantID, conversationID string) (conversation.Conversation, error) {
	var created string
	err := s.db.QueryRowContext(ctx, `SELECT created_at FROM conversation WHERE conversation_id = ? AND tenant_id = ?`,
		conversationID, tenantID).Scan(&created)
	if errors.Is(err, sql.ErrNoRows) {
		return conversation.Conversation{}, conversation.ErrNotFound
	}
	if err != nil {
		return conversation.Conversation{}, fmt.Errorf("get conversation: %w", err)
	}

	turns, err := s.queryTurns(ctx, `SELECT role, content, attached_data, created_at FROM conversation_turn WHERE conversation_id = ? ORDER BY turn_id ASC`, conversationID)
	if err != nil {
		return conversation.Conversation{}, err
	}
	return conversation.Conversation{
		ID:        conversationID,
		TenantID:  tenantID,
		CreatedAt: parseTime(created),
		Turns:     turns,
	}, nil
}

func (s *Store) Recent(ctx context.Context, tenantID, conversationID string, limit int) ([]conversation.Turn, error) {
	if err := owned(ctx, s.db, tenantID, conversationID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return []conversation.Turn{}, nil
	}
	return s.queryTurns(ctx, `
SELECT role, content, attached_data, created_at FROM (
	SELECT turn_id, role, content, attached_data, created_at
	FROM conversation_turn
	WHERE conversation_id = ?
	ORDER BY turn_id DESC
	LIMIT ?
) ORDER BY turn_id ASC`, conversationID, limit)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func owned(ctx context.Context, db queryRower, tenantID, conversationID string) error {
	var one int
	err := db.QueryRowContext(ctx, `SELECT 1 FROM conversation WHERE conversation_id = ? AND tenant_id = ?`, conversationID, tenantID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return conversation.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get conversation: %w", err)
	}
	return nil
}

func (s *Store) queryTurns(ctx context.Context, query string, args ...any) ([]conversation.Turn, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list conversation turns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	turns := make([]conversation.Turn, 0)
	for rows.Next() {
		var (
			turn    conversation.Turn
			role    string
			data    sql.NullString
			created string
		)
		if err := rows.Scan(&role, &turn.Content, &data, &created); err != nil {
			return nil, fmt.Errorf("scan conversation turn: %w", err)
		}
		turn.Role = conversation.Role(role)
		turn.Timestamp = parseTime(created)
		if data.Valid && data.String != "" {
			turn.AttachedData = []byte(data.String)
		}
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversation turns: %w", err)
	}
	return turns, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(raw string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}
