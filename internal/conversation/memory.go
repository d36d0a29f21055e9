package conversation

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"
)

type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]*Conversation
	now           func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[string]*Conversation),
		now:           time.Now,
	}
}

func (s *MemoryStore) Create(_ context.Context, tenantID string) (Conversation, error) {
	if tenantID == "" {
		return Conversation{}, fmt.Errorf("tenant id is required")
	}
	conv := &Conversation{ID: NewID(), TenantID: tenantID, CreatedAt: s.now().UTC(), Turns: []Turn{}}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[conv.ID] = conv
	return copyConversation(conv), nil
}

func (s *MemoryStore) Append(_ context.Context, tenantID, conversationID string, turns ...Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[conversationID]
	if !ok || conv.TenantID != tenantID {
		return ErrNotFound
	}
	for _, turn := range turns {
		if turn.Timestamp.IsZero() {
			turn.Timestamp = s.now().UTC()
		}
		turn.AttachedData = slices.Clone(turn.AttachedData)
		conv.Turns = append(conv.Turns, turn)
	}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, tenantID, conversationID string) (Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[conversationID]
	if !ok || conv.TenantID != tenantID {
		return Conversation{}, ErrNotFound
	}
	return copyConversation(conv), nil
}

func (s *MemoryStore) Recent(_ context.Context, tenantID, conversationID string, limit int) ([]Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[conversationID]
	if !ok || conv.TenantID != tenantID {
		return nil, ErrNotFound
	}
	turns := conv.Turns
	if limit >= 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	return slices.Clone(turns), nil
}

func copyConversation(conv *Conversation) Conversation {
	out := *conv
	out.Turns = slices.Clone(conv.Turns)
	return out
}
