package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"

	_ "modernc.org/sqlite" // pure-Go driver, no cgo
)

// SQLiteIndex is the reference Index implementation: chunks and their
// embeddings live in one SQLite table per collection, and similarity search
// is a Go-side cosine-distance scan rather than a native ANN index. This is
// adequate for the codebase sizes a single local RAG collection holds; it is
// not a general-purpose vector database.
type SQLiteIndex struct {
	db         *sql.DB
	collection string
}

// NewSQLiteIndex opens (or creates) the table backing collection in the
// SQLite database at dbPath. Matches the Router's newIndex signature.
func NewSQLiteIndex(collection, dbPath string) (Index, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open index database: %w", err)
	}
	db.SetMaxOpenConns(1)

	idx := &SQLiteIndex{db: db, collection: collection}
	if err := idx.init(); err != nil {
		db.Close()
		return nil, err
	}
	return idx, nil
}

func (idx *SQLiteIndex) table() string {
	return "chunks_" + idx.collection
}

func (idx *SQLiteIndex) init() error {
	_, err := idx.db.Exec(fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			content TEXT NOT NULL,
			embedding BLOB,
			path TEXT,
			language TEXT,
			chunk_type TEXT,
			concepts TEXT,
			calls TEXT,
			called_by TEXT,
			signature TEXT
		)`, idx.table()))
	if err != nil {
		return fmt.Errorf("create chunk table: %w", err)
	}
	_, err = idx.db.Exec(fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_path ON %s(path)`, idx.collection, idx.table()))
	return err
}

// Upsert inserts or replaces chunks inside a single transaction.
func (idx *SQLiteIndex) Upsert(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	tx, err := idx.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			_ = err
		}
	}()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`
		INSERT OR REPLACE INTO %s
		(id, content, embedding, path, language, chunk_type, concepts, calls, called_by, signature)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, idx.table()))
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		if _, err := stmt.ExecContext(ctx,
			c.ID, c.Content, encodeEmbedding(c.Embedding),
			c.Metadata.Path, c.Metadata.Language, c.Metadata.ChunkType,
			strings.Join(c.Metadata.Concepts, ","), strings.Join(c.Metadata.Calls, ","),
			strings.Join(c.Metadata.CalledBy, ","), c.Metadata.Signature,
		); err != nil {
			return fmt.Errorf("upsert chunk %s: %w", c.ID, err)
		}
	}

	return tx.Commit()
}

// Query scans every row in the collection, computes cosine distance against
// queryEmbedding, applies filter if non-nil, and returns the limit closest
// matches ordered by increasing distance.
func (idx *SQLiteIndex) Query(ctx context.Context, queryEmbedding []float32, limit int, filter func(ChunkMetadata) bool) ([]SearchResult, error) {
	all, err := idx.All(ctx)
	if err != nil {
		return nil, err
	}

	var results []SearchResult
	for _, c := range all {
		if filter != nil && !filter(c.Metadata) {
			continue
		}
		results = append(results, SearchResult{
			Chunk:    c,
			Distance: cosineDistance(queryEmbedding, c.Embedding),
		})
	}

	for i := 0; i < len(results)-1; i++ {
		for j := i + 1; j < len(results); j++ {
			if results[j].Distance < results[i].Distance {
				results[i], results[j] = results[j], results[i]
			}
		}
	}

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// All returns every chunk in the collection.
func (idx *SQLiteIndex) All(ctx context.Context) ([]Chunk, error) {
	rows, err := idx.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, content, embedding, path, language, chunk_type, concepts, calls, called_by, signature
		FROM %s`, idx.table()))
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		var c Chunk
		var embeddingBlob []byte
		var concepts, calls, calledBy string
		if err := rows.Scan(&c.ID, &c.Content, &embeddingBlob, &c.Metadata.Path, &c.Metadata.Language,
			&c.Metadata.ChunkType, &concepts, &calls, &calledBy, &c.Metadata.Signature); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		c.Embedding = decodeEmbedding(embeddingBlob)
		c.Metadata.Concepts = splitNonEmpty(concepts)
		c.Metadata.Calls = splitNonEmpty(calls)
		c.Metadata.CalledBy = splitNonEmpty(calledBy)
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// DeleteByPath removes every chunk whose metadata path equals path,
// returning the count deleted.
func (idx *SQLiteIndex) DeleteByPath(ctx context.Context, path string) (int, error) {
	res, err := idx.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE path = ?`, idx.table()), path)
	if err != nil {
		return 0, fmt.Errorf("delete by path: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// Clear removes every chunk in the collection.
func (idx *SQLiteIndex) Clear(ctx context.Context) error {
	_, err := idx.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s`, idx.table()))
	return err
}

// Count returns the number of chunks in the collection.
func (idx *SQLiteIndex) Count(ctx context.Context) (int, error) {
	var n int
	err := idx.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, idx.table())).Scan(&n)
	return n, err
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func encodeEmbedding(embedding []float32) []byte {
	if len(embedding) == 0 {
		return nil
	}
	data := make([]byte, len(embedding)*4)
	for i, f := range embedding {
		bits := math.Float32bits(f)
		data[i*4] = byte(bits)
		data[i*4+1] = byte(bits >> 8)
		data[i*4+2] = byte(bits >> 16)
		data[i*4+3] = byte(bits >> 24)
	}
	return data
}

func decodeEmbedding(data []byte) []float32 {
	if len(data) == 0 || len(data)%4 != 0 {
		return nil
	}
	embedding := make([]float32, len(data)/4)
	for i := range embedding {
		bits := uint32(data[i*4]) | uint32(data[i*4+1])<<8 | uint32(data[i*4+2])<<16 | uint32(data[i*4+3])<<24
		embedding[i] = math.Float32frombits(bits)
	}
	return embedding
}

// cosineDistance returns 1 - cosine similarity, so 0 means identical and
// larger values mean less similar, matching the L2-style "smaller is
// closer" convention SearchResult.Relevance expects.
func cosineDistance(a, b []float32) float32 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 1
	}
	var dot, normA, normB float32
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 1
	}
	return 1 - dot/(sqrt32(normA)*sqrt32(normB))
}

func sqrt32(x float32) float32 {
	if x <= 0 {
		return 0
	}
	z := x
	for i := 0; i < 12; i++ {
		z = (z + x/z) / 2
	}
	return z
}
