package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/wooai/wooai/internal/conversation"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(context.Background(), filepath.Join(t.TempDir(), "nested", "conv.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStoreRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	asked := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)

	conv, err := store.Create(ctx, "store-1")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := store.Append(ctx, "store-1", conv.ID,
		conversation.Turn{Role: conversation.RoleUser, Content: "Revenue?", Timestamp: asked},
		conversation.Turn{Role: conversation.RoleAssistant, Content: "1200 EUR", AttachedData: []byte(`{"rows":[{"revenue":1200}]}`)},
	); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := store.Append(ctx, "store-1", conv.ID, conversation.Turn{Role: conversation.RoleError, Content: "timed out"}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	got, err := store.Get(ctx, "store-1", conv.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if len(got.Turns) != 3 {
		t.Fatalf("turns = %d", len(got.Turns))
	}
	if !got.Turns[0].Timestamp.Equal(asked) || got.Turns[0].AttachedData != nil {
		t.Fatalf("first turn = %+v", got.Turns[0])
	}
	if string(got.Turns[1].AttachedData) != `{"rows":[{"revenue":1200}]}` {
		t.Fatalf("attached data = %s", got.Turns[1].AttachedData)
	}

	recent, err := store.Recent(ctx, "store-1", conv.ID, 2)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(recent) != 2 || recent[0].Role != conversation.RoleAssistant || recent[1].Role != conversation.RoleError {
		t.Fatalf("Recent() = %+v", recent)
	}
}

func TestStoreScopesByTenant(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	conv, err := store.Create(ctx, "store-1")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := store.Get(ctx, "store-2", conv.ID); !errors.Is(err, conversation.ErrNotFound) {
		t.Fatalf("Get() error = %v, want ErrNotFound", err)
	}
	if err := store.Append(ctx, "store-2", conv.ID, conversation.Turn{Role: conversation.RoleUser}); !errors.Is(err, conversation.ErrNotFound) {
		t.Fatalf("Append() error = %v, want ErrNotFound", err)
	}
	if _, err := store.Recent(ctx, "store-1", "missing", 3); !errors.Is(err, conversation.ErrNotFound) {
		t.Fatalf("Recent() error = %v, want ErrNotFound", err)
	}
}
