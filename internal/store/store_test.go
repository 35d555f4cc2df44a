package store

import (
	"context"
	"testing"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestCreateAndLoad(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	sess, err := db.Create(ctx, "", "/repo", map[string]any{"k": "v"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(sess.ID) != 8 {
		t.Fatalf("id = %q, want 8 chars", sess.ID)
	}

	loaded, err := db.Load(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.CodebasePath != "/repo" {
		t.Fatalf("codebase_path = %q, want /repo", loaded.CodebasePath)
	}
	if loaded.Metadata["k"] != "v" {
		t.Fatalf("metadata[k] = %v, want v", loaded.Metadata["k"])
	}
}

func TestLoadMissingSession(t *testing.T) {
	db := openTestDB(t)
	if _, err := db.Load(context.Background(), "missing"); err != ErrSessionNotFound {
		t.Fatalf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestDeleteCascadesMessages(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	sess, err := db.Create(ctx, "", "", nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := db.Conn().ExecContext(ctx,
		`INSERT INTO messages (session_id, role, content, created_at) VALUES (?, 'user', 'hi', datetime('now'))`,
		sess.ID); err != nil {
		t.Fatalf("insert message: %v", err)
	}

	if err := db.Delete(ctx, sess.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	var count int
	if err := db.Conn().QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE session_id = ?`, sess.ID).Scan(&count); err != nil {
		t.Fatalf("count messages: %v", err)
	}
	if count != 0 {
		t.Fatalf("messages survived session delete: %d rows", count)
	}
}

func TestDeleteMissingSession(t *testing.T) {
	db := openTestDB(t)
	if err := db.Delete(context.Background(), "missing"); err != ErrSessionNotFound {
		t.Fatalf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestRecentOrdersByLastAccessed(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	first, err := db.Create(ctx, "first", "", nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := db.Create(ctx, "second", "", nil); err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Touch "first" so it becomes most recently accessed.
	if _, err := db.Load(ctx, first.ID); err != nil {
		t.Fatalf("Load: %v", err)
	}

	recent, err := db.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("got %d sessions, want 2", len(recent))
	}
	if recent[0].ID != first.ID {
		t.Fatalf("recent[0] = %s, want %s", recent[0].ID, first.ID)
	}
}
