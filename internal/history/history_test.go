package history

import (
	"context"
	"testing"

	"github.com/agentcore/agentcore/internal/store"
)

func newTestHistory(t *testing.T) (*store.DB, *History) {
	t.Helper()
	db, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	sess, err := db.Create(ctx, "", "", nil)
	if err != nil {
		t.Fatalf("Create session: %v", err)
	}
	return db, New(db.Conn(), sess.ID)
}

func TestAddAndAll(t *testing.T) {
	_, h := newTestHistory(t)
	ctx := context.Background()

	if _, err := h.Add(ctx, RoleUser, "hello", 2, nil); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := h.Add(ctx, RoleAssistant, "hi there", 3, nil); err != nil {
		t.Fatalf("Add: %v", err)
	}

	all, err := h.All(ctx)
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("got %d messages, want 2", len(all))
	}
	if all[0].Role != RoleUser || all[1].Role != RoleAssistant {
		t.Fatalf("unexpected ordering: %v, %v", all[0].Role, all[1].Role)
	}
}

func TestByTokenBudgetAlwaysKeepsSystemMessages(t *testing.T) {
	_, h := newTestHistory(t)
	ctx := context.Background()

	if _, err := h.Add(ctx, RoleSystem, "be concise", 50, nil); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := h.Add(ctx, RoleUser, "q1", 10, nil); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := h.Add(ctx, RoleAssistant, "a1", 10, nil); err != nil {
		t.Fatalf("Add: %v", err)
	}

	// Budget too small for the system message's cost plus anything else,
	// but the system message must still be kept.
	kept, err := h.ByTokenBudget(ctx, 5)
	if err != nil {
		t.Fatalf("ByTokenBudget: %v", err)
	}
	if len(kept) != 1 || kept[0].Role != RoleSystem {
		t.Fatalf("got %+v, want only the system message", kept)
	}
}

func TestByTokenBudgetPreservesChronologicalOrder(t *testing.T) {
	_, h := newTestHistory(t)
	ctx := context.Background()

	if _, err := h.Add(ctx, RoleUser, "q1", 10, nil); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := h.Add(ctx, RoleSystem, "old directive", 10, nil); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := h.Add(ctx, RoleAssistant, "a1", 10, nil); err != nil {
		t.Fatalf("Add: %v", err)
	}

	kept, err := h.ByTokenBudget(ctx, 100)
	if err != nil {
		t.Fatalf("ByTokenBudget: %v", err)
	}
	if len(kept) != 3 {
		t.Fatalf("got %d messages, want 3", len(kept))
	}
	if kept[0].Role != RoleUser || kept[1].Role != RoleSystem || kept[2].Role != RoleAssistant {
		t.Fatalf("order not chronological: %v, %v, %v", kept[0].Role, kept[1].Role, kept[2].Role)
	}
}

func TestRecentReturnsChronologicalOrder(t *testing.T) {
	_, h := newTestHistory(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := h.Add(ctx, RoleUser, "msg", 1, nil); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}

	recent, err := h.Recent(ctx, 3)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 3 {
		t.Fatalf("got %d, want 3", len(recent))
	}
	for i := 0; i < len(recent)-1; i++ {
		if recent[i].ID >= recent[i+1].ID {
			t.Fatalf("Recent not in chronological order: %+v", recent)
		}
	}
}
