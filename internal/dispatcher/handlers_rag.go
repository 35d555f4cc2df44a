package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/agentcore/agentcore/internal/index"
	"github.com/agentcore/agentcore/internal/scanner"
)

// ErrRAGNotInitialized mirrors the original's "RAG not initialized"
// responses: no codebase has been switched to yet for this connection.
var errRAGNotInitialized = fmt.Errorf("rag: no active collection")

func (d *Dispatcher) activeHandle() (*index.Handle, error) {
	if d.router == nil {
		return nil, errRAGNotInitialized
	}
	handle := d.router.Active()
	if handle == nil {
		return nil, errRAGNotInitialized
	}
	return handle, nil
}

type ragSearchParams struct {
	Query     string `json:"query"`
	NResults  int    `json:"n_results"`
	ChunkType string `json:"type"`
}

func handleRAGSearch(ctx context.Context, d *Dispatcher, raw json.RawMessage) (any, error) {
	params := ragSearchParams{NResults: 5}
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	if params.Query == "" {
		return nil, invalidParams("no query provided")
	}

	handle, err := d.activeHandle()
	if err != nil {
		return map[string]any{"error": err.Error(), "results": []any{}}, nil
	}
	if d.embedder == nil {
		return map[string]any{"error": "no embedder configured", "results": []any{}}, nil
	}

	var results []index.SearchResult
	if params.ChunkType != "" {
		results, err = index.SearchByType(ctx, handle, d.embedder, params.Query, params.ChunkType, params.NResults)
	} else {
		queryEmbedding, embedErr := d.embedder.Embed(ctx, params.Query)
		if embedErr != nil {
			return nil, embedErr
		}
		results, err = handle.Index.Query(ctx, queryEmbedding, params.NResults, nil)
	}
	if err != nil {
		return map[string]any{"error": err.Error(), "results": []any{}}, nil
	}

	out := make([]map[string]any, len(results))
	for i, r := range results {
		out[i] = map[string]any{
			"id":        r.Chunk.ID,
			"content":   r.Chunk.Content,
			"score":     r.Distance,
			"relevance": r.Relevance(),
			"metadata": map[string]any{
				"path":      r.Chunk.Metadata.Path,
				"type":      r.Chunk.Metadata.ChunkType,
				"language":  r.Chunk.Metadata.Language,
				"signature": r.Chunk.Metadata.Signature,
				"concepts":  r.Chunk.Metadata.Concepts,
			},
		}
	}
	return map[string]any{"results": out, "count": len(out)}, nil
}

type ragChunkParam struct {
	ID       string `json:"id"`
	Content  string `json:"content"`
	Metadata struct {
		Path      string   `json:"path"`
		Language  string   `json:"language"`
		Type      string   `json:"type"`
		Concepts  []string `json:"concepts"`
		Calls     []string `json:"calls"`
		CalledBy  []string `json:"called_by"`
		Signature string   `json:"signature"`
	} `json:"metadata"`
}

type ragIngestParams struct {
	Chunks   []ragChunkParam `json:"chunks"`
	JSONPath string          `json:"json_path"`
}

func handleRAGIngest(ctx context.Context, d *Dispatcher, raw json.RawMessage) (any, error) {
	var params ragIngestParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}

	handle, err := d.activeHandle()
	if err != nil {
		return map[string]any{"error": err.Error(), "ingested": 0}, nil
	}
	if d.embedder == nil {
		return map[string]any{"error": "no embedder configured", "ingested": 0}, nil
	}

	if len(params.Chunks) == 0 {
		if params.JSONPath == "" {
			return map[string]any{"error": "no chunks or json_path provided", "ingested": 0}, nil
		}
		data, err := os.ReadFile(params.JSONPath)
		if err != nil {
			return map[string]any{"error": err.Error(), "ingested": 0}, nil
		}
		if err := json.Unmarshal(data, &params.Chunks); err != nil {
			return map[string]any{"error": err.Error(), "ingested": 0}, nil
		}
		n, err := d.ingestChunks(ctx, handle, params.Chunks)
		if err != nil {
			return map[string]any{"error": err.Error(), "ingested": 0}, nil
		}
		return map[string]any{"ingested": n, "source": "json_file"}, nil
	}

	n, err := d.ingestChunks(ctx, handle, params.Chunks)
	if err != nil {
		return map[string]any{"error": err.Error(), "ingested": 0}, nil
	}
	return map[string]any{"ingested": n, "source": "direct"}, nil
}

// ingestChunks embeds each chunk's content and upserts it. The original's
// ChromaDB backend embeds implicitly inside add_batch; this runtime's
// SQLite-backed Index has no implicit embedding function, so the dispatcher
// computes embeddings explicitly before Upsert.
func (d *Dispatcher) ingestChunks(ctx context.Context, handle *index.Handle, params []ragChunkParam) (int, error) {
	chunks := make([]index.Chunk, len(params))
	for i, c := range params {
		embedding, err := d.embedder.Embed(ctx, c.Content)
		if err != nil {
			return 0, fmt.Errorf("embed chunk %s: %w", c.ID, err)
		}
		chunks[i] = index.Chunk{
			ID:        c.ID,
			Content:   c.Content,
			Embedding: embedding,
			Metadata: index.ChunkMetadata{
				Path:      c.Metadata.Path,
				Language:  c.Metadata.Language,
				ChunkType: c.Metadata.Type,
				Concepts:  c.Metadata.Concepts,
				Calls:     c.Metadata.Calls,
				CalledBy:  c.Metadata.CalledBy,
				Signature: c.Metadata.Signature,
			},
		}
	}
	if err := handle.Index.Upsert(ctx, chunks); err != nil {
		return 0, err
	}
	return len(chunks), nil
}

func handleRAGStatus(ctx context.Context, d *Dispatcher, raw json.RawMessage) (any, error) {
	handle, err := d.activeHandle()
	if err != nil {
		return map[string]any{"initialized": false, "count": 0}, nil
	}

	count, err := handle.Index.Count(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"initialized": true,
		"count":       count,
		"collection":  handle.Collection,
	}, nil
}

func handleRAGEmbeddings(ctx context.Context, d *Dispatcher, raw json.RawMessage) (any, error) {
	handle, err := d.activeHandle()
	if err != nil {
		return map[string]any{"error": err.Error(), "points": []any{}}, nil
	}

	chunks, err := handle.Index.All(ctx)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return map[string]any{"points": []any{}, "count": 0}, nil
	}

	points := index.ProjectEmbeddings(chunks)
	out := make([]map[string]any, len(points))
	for i, p := range points {
		out[i] = map[string]any{"id": p.ID, "x": p.X, "y": p.Y, "path": p.Path, "type": p.Type}
	}
	return map[string]any{"points": out, "count": len(out)}, nil
}

type codebaseInitParams struct {
	Path  string `json:"path"`
	Clear bool   `json:"clear"`
}

func handleCodebaseInit(ctx context.Context, d *Dispatcher, raw json.RawMessage) (any, error) {
	var params codebaseInitParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}

	path := params.Path
	if path == "" {
		_, codebasePath := d.currentSession()
		path = codebasePath
	}
	if path == "" {
		return map[string]any{"error": "no codebase path provided", "chunks": 0}, nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return map[string]any{"error": err.Error(), "chunks": 0}, nil
	}
	if !info.IsDir() {
		return map[string]any{"error": fmt.Sprintf("not a directory: %s", path), "chunks": 0}, nil
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if d.router == nil {
		return map[string]any{"error": "no index router configured", "chunks": 0}, nil
	}
	handle, err := d.router.SwitchTo(absPath)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	d.codebasePath = absPath
	d.mu.Unlock()

	if params.Clear {
		if err := handle.Index.Clear(ctx); err != nil {
			return nil, err
		}
	}

	if d.embedder == nil {
		return map[string]any{"error": "no embedder configured", "chunks": 0}, nil
	}

	chunks, stats, err := scanner.ScanAndGenerateChunks(ctx, absPath)
	if err != nil {
		return map[string]any{"error": err.Error(), "chunks": 0}, nil
	}

	ragChunks := make([]ragChunkParam, len(chunks))
	for i, c := range chunks {
		rc := ragChunkParam{ID: c.ID, Content: c.Content}
		rc.Metadata.Path = c.Metadata.Path
		rc.Metadata.Language = c.Metadata.Language
		rc.Metadata.Type = c.Metadata.ChunkType
		rc.Metadata.Concepts = c.Metadata.Concepts
		rc.Metadata.Calls = c.Metadata.Calls
		rc.Metadata.CalledBy = c.Metadata.CalledBy
		rc.Metadata.Signature = c.Metadata.Signature
		ragChunks[i] = rc
	}
	ingested, err := d.ingestChunks(ctx, handle, ragChunks)
	if err != nil {
		return map[string]any{"error": err.Error(), "chunks": 0}, nil
	}

	return map[string]any{
		"chunks": ingested,
		"stats": map[string]any{
			"files_scanned":    stats.FilesScanned,
			"files_by_language": stats.FilesByLanguage,
			"units_extracted":  stats.UnitsExtracted,
			"warnings":         len(stats.Warnings),
		},
		"message": fmt.Sprintf("Scanned %d files, ingested %d chunks from %s", stats.FilesScanned, ingested, absPath),
	}, nil
}
