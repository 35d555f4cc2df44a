// Package store implements the embedded relational store backing sessions,
// the append-only conversation log, and the token usage ledger. All three
// live in a single SQLite database file, opened once and shared by
// internal/history and internal/tokens so inserts from one are immediately
// visible to the others without a second connection racing on visibility.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/agentcore/agentcore/internal/rpc"
	"github.com/agentcore/agentcore/internal/rpcerr"
	"github.com/google/uuid"
	_ "modernc.org/sqlite" // pure-Go driver, no cgo
)

func init() {
	rpcerr.Register(ErrSessionNotFound, rpc.CodeSessionNotFound)
}

// ErrSessionNotFound is returned when a session id has no matching row.
var ErrSessionNotFound = errors.New("session not found")

// ErrSessionIDCollision is returned when id generation repeatedly collides;
// it must be raised rather than silently retried forever.
var ErrSessionIDCollision = errors.New("could not allocate a unique session id")

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	codebase_path TEXT,
	created_at TEXT NOT NULL,
	last_accessed TEXT NOT NULL,
	metadata TEXT NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	role TEXT NOT NULL CHECK (role IN ('user', 'assistant', 'system', 'tool')),
	content TEXT NOT NULL,
	token_count INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL,
	metadata TEXT NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id);
CREATE INDEX IF NOT EXISTS idx_messages_created ON messages(created_at);

CREATE TABLE IF NOT EXISTS token_usage (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	message_id INTEGER REFERENCES messages(id) ON DELETE SET NULL,
	input_tokens INTEGER NOT NULL,
	output_tokens INTEGER NOT NULL,
	model TEXT NOT NULL,
	cost_usd REAL NOT NULL,
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_token_usage_session ON token_usage(session_id);
`

// DB owns the shared *sql.DB handle for sessions, history, and token usage.
type DB struct {
	conn *sql.DB
}

// Open creates (if necessary) and opens the SQLite database at path,
// applying the schema and enabling foreign key enforcement. path may be
// ":memory:" for tests.
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	conn.SetMaxOpenConns(1) // modernc.org/sqlite: one writer at a time

	if _, err := conn.Exec("PRAGMA foreign_keys = ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Conn exposes the underlying handle for packages (history, tokens) that
// need to share it rather than opening a second connection.
func (d *DB) Conn() *sql.DB { return d.conn }

// Close releases the database handle.
func (d *DB) Close() error { return d.conn.Close() }

// Session is a named, resumable conversation, optionally scoped to a
// codebase path used for RAG retrieval.
type Session struct {
	ID           string
	Name         string
	CodebasePath string
	CreatedAt    time.Time
	LastAccessed time.Time
	Metadata     map[string]any
}

const maxIDAttempts = 5

// Create inserts a new session, generating an 8-character id from a UUID.
// Collisions are retried a bounded number of times; a run of collisions that
// exhausts the bound is reported rather than looped on forever.
func (d *DB) Create(ctx context.Context, name, codebasePath string, metadata map[string]any) (*Session, error) {
	now := time.Now().UTC()
	if name == "" {
		name = fmt.Sprintf("Session %s", now.Format("2006-01-02 15:04"))
	}
	if metadata == nil {
		metadata = map[string]any{}
	}
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}

	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		id := uuid.New().String()[:8]
		_, err := d.conn.ExecContext(ctx, `
			INSERT INTO sessions (id, name, codebase_path, created_at, last_accessed, metadata)
			VALUES (?, ?, ?, ?, ?, ?)`,
			id, name, nullableString(codebasePath), now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano), string(metaJSON))
		if err == nil {
			return &Session{
				ID: id, Name: name, CodebasePath: codebasePath,
				CreatedAt: now, LastAccessed: now, Metadata: metadata,
			}, nil
		}
		if !isUniqueConstraintErr(err) {
			return nil, fmt.Errorf("insert session: %w", err)
		}
	}
	return nil, ErrSessionIDCollision
}

// Load fetches a session by id and bumps its last-accessed timestamp.
func (d *DB) Load(ctx context.Context, id string) (*Session, error) {
	row := d.conn.QueryRowContext(ctx,
		`SELECT id, name, codebase_path, created_at, last_accessed, metadata FROM sessions WHERE id = ?`, id)

	sess, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}

	now := time.Now().UTC()
	if _, err := d.conn.ExecContext(ctx, `UPDATE sessions SET last_accessed = ? WHERE id = ?`, now.Format(time.RFC3339Nano), id); err != nil {
		return nil, fmt.Errorf("touch last_accessed: %w", err)
	}
	sess.LastAccessed = now
	return sess, nil
}

// List returns all sessions ordered by most recently accessed.
func (d *DB) List(ctx context.Context) ([]*Session, error) {
	return d.query(ctx, `SELECT id, name, codebase_path, created_at, last_accessed, metadata FROM sessions ORDER BY last_accessed DESC`)
}

// Recent returns the limit most recently accessed sessions.
func (d *DB) Recent(ctx context.Context, limit int) ([]*Session, error) {
	return d.query(ctx, `SELECT id, name, codebase_path, created_at, last_accessed, metadata FROM sessions ORDER BY last_accessed DESC LIMIT ?`, limit)
}

func (d *DB) query(ctx context.Context, query string, args ...any) ([]*Session, error) {
	rows, err := d.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// Delete removes a session and, via ON DELETE CASCADE, its messages and
// token usage rows. Returns ErrSessionNotFound if no row matched.
func (d *DB) Delete(ctx context.Context, id string) error {
	res, err := d.conn.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSession(row scannable) (*Session, error) {
	var s Session
	var codebasePath sql.NullString
	var createdAt, lastAccessed, metaJSON string

	if err := row.Scan(&s.ID, &s.Name, &codebasePath, &createdAt, &lastAccessed, &metaJSON); err != nil {
		return nil, err
	}
	s.CodebasePath = codebasePath.String

	var err error
	if s.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if s.LastAccessed, err = time.Parse(time.RFC3339Nano, lastAccessed); err != nil {
		return nil, fmt.Errorf("parse last_accessed: %w", err)
	}
	s.Metadata = map[string]any{}
	if metaJSON != "" {
		if err := json.Unmarshal([]byte(metaJSON), &s.Metadata); err != nil {
			return nil, fmt.Errorf("parse metadata: %w", err)
		}
	}
	return &s, nil
}

func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintErr(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
