package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/wooai/wooai/internal/conversation"
)

type Repository struct {
	db  *sql.DB
	now func() time.Time
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db, now: time.Now}
}

func (r *Repository) Create(ctx context.Context, tenantID string) (conversation.Conversation, error) {
	if tenantID == "" {
		return conversation.Conversation{}, fmt.Errorf("tenant id is required")
	}
	query := `
INSERT INTO conversation (conversation_id, tenant_id)
VALUES ($1, $2)
RETURNING created_at`

	conv := conversation.Conversation{ID: conversation.NewID(), TenantID: tenantID, Turns: []conversation.Turn{}}
	if err := r.db.QueryRowContext(ctx, query, conv.ID, tenantID).Scan(&conv.CreatedAt); err != nil {
		return conversation.Conversation{}, fmt.Errorf("create conversation: %w", err)
	}
	return conv, nil
}

func (r *Repository) Append(ctx context.Context, tenantID, conversationID string, turns ...conversation.Turn) (err error) {
	if !conversation.ValidID(conversationID) {
		return conversation.ErrNotFound
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append turns: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var locked int
	if err := tx.QueryRowContext(ctx, `
SELECT 1
FROM conversation
WHERE conversation_id = $1 AND tenant_id = $2
FOR UPDATE`, conversationID, tenantID).Scan(&locked); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return conversation.ErrNotFound
		}
		return fmt.Errorf("lock conversation: %w", err)
	}

	insert := `
INSERT INTO conversation_turn (conversation_id, role, content, attached_data, created_at)
VALUES ($1, $2, $3, $4::jsonb, $5)`
	for _, turn := range turns {
		stamp := turn.Timestamp
		if stamp.IsZero() {
			stamp = r.now().UTC()
		}
		if _, err := tx.ExecContext(ctx, insert, conversationID, string(turn.Role), turn.Content, nullableJSON(turn.AttachedData), stamp); err != nil {
			return fmt.Errorf("insert conversation turn: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `UPDATE conversation SET updated_at = now() WHERE conversation_id = $1`, conversationID); err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit append turns: %w", err)
	}
	return nil
}

func (r *Repository) Get(ctx context.Context, tenantID, conversationID string) (conversation.Conversation, error) {
	if !conversation.ValidID(conversationID) {
		return conversation.Conversation{}, conversation.ErrNotFound
	}
	conv := conversation.Conversation{ID: conversationID}
	if err := r.db.QueryRowContext(ctx, `
SELECT tenant_id, created_at
FROM conversation
WHERE conversation_id = $1 AND tenant_id = $2`, conversationID, tenantID).Scan(&conv.TenantID, &conv.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return conversation.Conversation{}, conversation.ErrNotFound
		}
		return conversation.Conversation{}, fmt.Errorf("get conversation: %w", err)
	}

	turns, err := r.queryTurns(ctx, `
SELECT role, content, attached_data, created_at
FROM conversation_turn
WHERE conversation_id = $1
ORDER BY turn_id ASC`, conversationID)
	if err != nil {
		return conversation.Conversation{}, err
	}
	conv.Turns = turns
	return conv, nil
}

func (r *Repository) Recent(ctx context.Context, tenantID, conversationID string, limit int) ([]conversation.Turn, error) {
	if !conversation.ValidID(conversationID) {
		return nil, conversation.ErrNotFound
	}
	var exists int
	if err := r.db.QueryRowContext(ctx, `
SELECT 1
FROM conversation
WHERE conversation_id = $1 AND tenant_id = $2`, conversationID, tenantID).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, conversation.ErrNotFound
		}
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	if limit <= 0 {
		return []conversation.Turn{}, nil
	}

	return r.queryTurns(ctx, `
SELECT role, content, attached_data, created_at
FROM (
  SELECT turn_id, role, content, attached_data, created_at
  FROM conversation_turn
  WHERE conversation_id = $1
  ORDER BY turn_id DESC
  LIMIT $2
) recent
ORDER BY turn_id ASC`, conversationID, limit)
}

func (r *Repository) queryTurns(ctx context.Context, query string, args ...any) ([]conversation.Turn, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list conversation turns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	turns := make([]conversation.Turn, 0)
	for rows.Next() {
		var (
			turn conversation.Turn
			role string
			data []byte
		)
		if err := rows.Scan(&role, &turn.Content, &data, &turn.Timestamp); err != nil {
			return nil, fmt.Errorf("scan conversation turn: %w", err)
		}
		turn.Role = conversation.Role(role)
		if len(data) > 0 {
			turn.AttachedData = data
		}
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversation turns: %w", err)
	}
	return turns, nil
}

func nullableJSON(data []byte) any {
	if len(data) == 0 {
		return nil
	}
	return string(data)
}
