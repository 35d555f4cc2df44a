// Package history implements the append-only conversation log: one row per
// message, ordered by creation time, shared against the same SQLite handle
// as internal/store so a message inserted by one call is visible to any
// other reader of the same session without a second connection racing on
// commit visibility.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Role is the speaker of a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Message is one entry in a session's append-only log.
type Message struct {
	ID         int64
	SessionID  string
	Role       Role
	Content    string
	TokenCount int
	CreatedAt  time.Time
	Metadata   map[string]any
}

// History reads and appends messages for one session.
type History struct {
	conn      *sql.DB
	sessionID string
}

// New binds a History to conn (the shared store database) and sessionID.
func New(conn *sql.DB, sessionID string) *History {
	return &History{conn: conn, sessionID: sessionID}
}

// Add appends a message and returns it with its assigned id and timestamp.
func (h *History) Add(ctx context.Context, role Role, content string, tokenCount int, metadata map[string]any) (*Message, error) {
	now := time.Now().UTC()
	if metadata == nil {
		metadata = map[string]any{}
	}
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}

	res, err := h.conn.ExecContext(ctx, `
		INSERT INTO messages (session_id, role, content, token_count, created_at, metadata)
		VALUES (?, ?, ?, ?, ?, ?)`,
		h.sessionID, string(role), content, tokenCount, now.Format(time.RFC3339Nano), string(metaJSON))
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}

	return &Message{
		ID: id, SessionID: h.sessionID, Role: role, Content: content,
		TokenCount: tokenCount, CreatedAt: now, Metadata: metadata,
	}, nil
}

// All returns every message in the session, oldest first.
func (h *History) All(ctx context.Context) ([]*Message, error) {
	return h.query(ctx, `SELECT id, session_id, role, content, token_count, created_at, metadata
		FROM messages WHERE session_id = ? ORDER BY created_at ASC, id ASC`, h.sessionID)
}

// Recent returns up to limit of the most recent messages, in chronological
// (oldest-first) order.
func (h *History) Recent(ctx context.Context, limit int) ([]*Message, error) {
	rows, err := h.query(ctx, `SELECT id, session_id, role, content, token_count, created_at, metadata
		FROM messages WHERE session_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`, h.sessionID, limit)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
	return rows, nil
}

// ByTokenBudget returns the subset of messages that fits within maxTokens,
// scanning from newest to oldest and always keeping system messages
// regardless of budget. The result preserves chronological order: a system
// message found late in the newest-to-oldest scan is prepended ahead of
// messages kept after it was found, so the returned slice still reads in
// the order the messages actually occurred.
func (h *History) ByTokenBudget(ctx context.Context, maxTokens int) ([]*Message, error) {
	all, err := h.All(ctx)
	if err != nil {
		return nil, err
	}

	var result []*Message
	total := 0
	for i := len(all) - 1; i >= 0; i-- {
		msg := all[i]
		if total+msg.TokenCount <= maxTokens {
			result = append([]*Message{msg}, result...)
			total += msg.TokenCount
		} else if msg.Role == RoleSystem {
			result = append([]*Message{msg}, result...)
			total += msg.TokenCount
		}
	}
	return result, nil
}

// Count returns the number of messages recorded for the session.
func (h *History) Count(ctx context.Context) (int, error) {
	var n int
	err := h.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE session_id = ?`, h.sessionID).Scan(&n)
	return n, err
}

func (h *History) query(ctx context.Context, query string, args ...any) ([]*Message, error) {
	rows, err := h.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		var m Message
		var role, createdAt, metaJSON string
		if err := rows.Scan(&m.ID, &m.SessionID, &role, &m.Content, &m.TokenCount, &createdAt, &metaJSON); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Role = Role(role)
		if m.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}
		m.Metadata = map[string]any{}
		if metaJSON != "" {
			if err := json.Unmarshal([]byte(metaJSON), &m.Metadata); err != nil {
				return nil, fmt.Errorf("parse metadata: %w", err)
			}
		}
		messages = append(messages, &m)
	}
	return messages, rows.Err()
}
