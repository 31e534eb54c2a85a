package conversation

import (
	"context"
	"testing"

	"github.com/sweetpotato0/shopchat/message"
)

func TestAppendAndReadPreservesOrder(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	turns := []*message.Turn{
		message.NewTurn(message.RoleUser, "hello"),
		message.NewTurn(message.RoleAssistant, "hi, how can I help?"),
		message.NewTurn(message.RoleUser, "show me boots"),
	}
	for _, turn := range turns {
		if err := store.Append(ctx, "conv-1", turn); err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}

	got, err := store.Read(ctx, "conv-1")
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 turns, got %d", len(got))
	}
	for i := range turns {
		if got[i].Content != turns[i].Content || got[i].Role != turns[i].Role {
			t.Errorf("turn %d out of order: got %s/%q", i, got[i].Role, got[i].Content)
		}
	}
}

func TestReadUnknownConversation(t *testing.T) {
	store := NewInMemoryStore()

	got, err := store.Read(context.Background(), "nope")
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected empty log, got %d turns", len(got))
	}
}

func TestConversationsAreIndependent(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	_ = store.Append(ctx, "a", message.NewTurn(message.RoleUser, "a1"))
	_ = store.Append(ctx, "b", message.NewTurn(message.RoleUser, "b1"))

	a, _ := store.Read(ctx, "a")
	b, _ := store.Read(ctx, "b")
	if len(a) != 1 || len(b) != 1 || a[0].Content != "a1" || b[0].Content != "b1" {
		t.Errorf("conversation logs leaked across ids: a=%v b=%v", a, b)
	}
}

func TestReadReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	_ = store.Append(ctx, "conv", message.NewTurn(message.RoleUser, "original"))

	got, _ := store.Read(ctx, "conv")
	got[0].Content = "mutated"

	again, _ := store.Read(ctx, "conv")
	if again[0].Content != "original" {
		t.Error("store handed out a mutable reference to its internal log")
	}
}
