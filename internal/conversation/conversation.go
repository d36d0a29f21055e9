// Package conversation keeps the append-only question and answer history of
// each tenant.
package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned for unknown conversations and for conversations
// owned by another tenant.
var ErrNotFound = errors.New("conversation not found")

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleError     Role = "error"
)

type Turn struct {
	Role         Role            `json:"role"`
	Content      string          `json:"content"`
	Timestamp    time.Time       `json:"timestamp"`
	AttachedData json.RawMessage `json:"attachedData,omitempty"`
}

type Conversation struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	CreatedAt time.Time `json:"created_at"`
	Turns     []Turn    `json:"turns"`
}

// Store persists conversations. Every read and write is scoped by tenant.
type Store interface {
	Create(ctx context.Context, tenantID string) (Conversation, error)
	Append(ctx context.Context, tenantID, conversationID string, turns ...Turn) error
	Get(ctx context.Context, tenantID, conversationID string) (Conversation, error)
	// Recent returns up to limit of the latest turns, oldest first.
	Recent(ctx context.Context, tenantID, conversationID string, limit int) ([]Turn, error)
}

func NewID() string {
	return uuid.NewString()
}

// ValidID reports whether id could have been issued by NewID.
func ValidID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
