// Package index implements the codebase Index Router: collection naming,
// switching between codebases, retrieval formatting, and a reference
// in-process Index backed by SQLite. The vector search engine itself is
// treated as a black box behind the Index interface — callers that want a
// real ANN index swap SQLiteIndex for one without touching the router or
// retrieval formatting.
package index

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
)

// ChunkMetadata describes a retrieved or stored Chunk.
type ChunkMetadata struct {
	Path      string
	Language  string
	ChunkType string // file, function, class, ...
	Concepts  []string
	Calls     []string
	CalledBy  []string
	Signature string
}

// Chunk is one unit of indexed content: a file, function, or class body.
type Chunk struct {
	ID        string
	Content   string
	Embedding []float32
	Metadata  ChunkMetadata
}

// SearchResult pairs a Chunk with its distance from the query embedding.
type SearchResult struct {
	Chunk    Chunk
	Distance float32
}

// Relevance converts an L2-style distance into a 0..1 relevance score,
// higher is more relevant.
func (r SearchResult) Relevance() float32 {
	return 1.0 / (1.0 + r.Distance)
}

// Index is the black-box boundary for vector storage and similarity search.
// SQLiteIndex below is the reference implementation this runtime ships with;
// a production deployment may substitute a real ANN backend behind the same
// interface.
type Index interface {
	Upsert(ctx context.Context, chunks []Chunk) error
	Query(ctx context.Context, queryEmbedding []float32, limit int, filter func(ChunkMetadata) bool) ([]SearchResult, error)
	DeleteByPath(ctx context.Context, path string) (int, error)
	Clear(ctx context.Context) error
	Count(ctx context.Context) (int, error)
	All(ctx context.Context) ([]Chunk, error)
}

// Embedder produces a vector embedding for arbitrary text. Like Index, this
// is a black box: the runtime doesn't embed a specific embedding model,
// only the interface an LLM provider or external service fulfills.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Router owns the single active Index handle and lets both ingestion and
// query call sites observe the same underlying collection, so Clear()
// through one path is immediately visible through the other. This mirrors
// the shared-handle pattern where a query interface holds a pointer into
// the store rather than copying its collection reference at construction
// time.
type Router struct {
	mu       sync.RWMutex
	handle   *Handle
	dbPath   string
	newIndex func(collection, dbPath string) (Index, error)
}

// Handle is the live collection a Router currently points at.
type Handle struct {
	Collection string
	Index      Index
}

// NewRouter creates a Router whose indices persist under dbPath. newIndex
// constructs an Index for a given collection name; production code passes
// NewSQLiteIndex, tests can substitute an in-memory fake.
func NewRouter(dbPath string, newIndex func(collection, dbPath string) (Index, error)) *Router {
	return &Router{dbPath: dbPath, newIndex: newIndex}
}

// CollectionNameForPath derives the collection name for a codebase path:
// "codebase_<slug(last path component)>_<first 12 hex chars of sha256(abs path)>".
func CollectionNameForPath(absPath string) string {
	hash := sha256.Sum256([]byte(absPath))
	hexHash := hex.EncodeToString(hash[:])[:12]

	dirName := strings.ToLower(filepath.Base(absPath))
	var b strings.Builder
	for _, r := range dirName {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	slug := b.String()
	if len(slug) > 20 {
		slug = slug[:20]
	}

	return fmt.Sprintf("codebase_%s_%s", slug, hexHash)
}

// SwitchTo points the Router at the collection for absPath, creating it if
// necessary. Switching is idempotent: calling it again with the same path
// reuses the existing handle.
func (r *Router) SwitchTo(absPath string) (*Handle, error) {
	collection := CollectionNameForPath(absPath)

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.handle != nil && r.handle.Collection == collection {
		return r.handle, nil
	}

	idx, err := r.newIndex(collection, r.dbPath)
	if err != nil {
		return nil, fmt.Errorf("switch to collection %s: %w", collection, err)
	}
	r.handle = &Handle{Collection: collection, Index: idx}
	return r.handle, nil
}

// Active returns the currently active handle, or nil if SwitchTo has never
// been called.
func (r *Router) Active() *Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handle
}
