package histsync

import (
	"context"
	"fmt"
	"testing"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/mkatche/chatflow/internal/history"
)

func openSyncStore(t *testing.T) *history.Store {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&history.Turn{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return history.NewStore(db, nil)
}

func TestApply_AddAssignsLocalID(t *testing.T) {
	store := openSyncStore(t)
	c := NewConsumer(store, nil)

	turn := history.NewTextTurn("peer1", history.RoleUser, "replicated ask", "openai")
	turn.ID = 4242 // remote id must not survive

	if err := c.Apply(context.Background(), Event{ID: "e1", Op: OpAdd, Turn: turn}); err != nil {
		t.Fatalf("apply: %v", err)
	}

	turns, err := store.BySession(context.Background(), "peer1")
	if err != nil {
		t.Fatalf("by session: %v", err)
	}
	if len(turns) != 1 {
		t.Fatalf("expected 1 turn, got %d", len(turns))
	}
	if turns[0].ID == 4242 {
		t.Fatalf("remote id leaked into local store")
	}
	if turns[0].Content != "replicated ask" {
		t.Fatalf("unexpected content %q", turns[0].Content)
	}
}

func TestApply_DeleteRemovesConversation(t *testing.T) {
	store := openSyncStore(t)
	c := NewConsumer(store, nil)

	seed := history.NewTextTurn("peer2", history.RoleUser, "doomed", "openai")
	if err := store.Restore(context.Background(), &seed); err != nil {
		t.Fatalf("seed: %v", err)
	}

	ev := Event{ID: "e2", Op: OpDelete, Turn: history.Turn{Session: "peer2"}}
	if err := c.Apply(context.Background(), ev); err != nil {
		t.Fatalf("apply: %v", err)
	}

	turns, err := store.BySession(context.Background(), "peer2")
	if err != nil {
		t.Fatalf("by session: %v", err)
	}
	if len(turns) != 0 {
		t.Fatalf("expected empty session, got %d turns", len(turns))
	}
}

func TestApply_UnknownOpRejected(t *testing.T) {
	c := NewConsumer(openSyncStore(t), nil)

	if err := c.Apply(context.Background(), Event{ID: "e3", Op: "compact"}); err == nil {
		t.Fatalf("expected error for unknown op")
	}
}
