package index

import (
	"context"
	"fmt"
	"strings"

	"github.com/agentcore/agentcore/internal/promptctx"
)

// GetContextForQuery embeds query, searches handle's Index for the closest
// maxResults chunks, and formats as many of them as fit maxTokens into a
// single context string ready to inject into a prompt.
//
// Each chunk is rendered as:
//
//	[chunk_type] path - signature
//	content
//
// and sections are joined with "\n\n---\n\n".
func GetContextForQuery(ctx context.Context, handle *Handle, embedder Embedder, query string, maxTokens, maxResults int) (string, error) {
	queryEmbedding, err := embedder.Embed(ctx, query)
	if err != nil {
		return "", fmt.Errorf("embed query: %w", err)
	}

	results, err := handle.Index.Query(ctx, queryEmbedding, maxResults, nil)
	if err != nil {
		return "", fmt.Errorf("query index: %w", err)
	}

	var parts []string
	approxTokens := 0
	for _, r := range results {
		chunkTokens := promptctx.Estimate(r.Chunk.Content)
		if approxTokens+chunkTokens > maxTokens {
			break
		}

		header := fmt.Sprintf("[%s] %s", r.Chunk.Metadata.ChunkType, r.Chunk.Metadata.Path)
		if r.Chunk.Metadata.Signature != "" {
			header += " - " + r.Chunk.Metadata.Signature
		}
		parts = append(parts, header+"\n"+r.Chunk.Content)
		approxTokens += chunkTokens
	}

	return strings.Join(parts, "\n\n---\n\n"), nil
}

// SearchByType restricts Query to chunks whose ChunkType matches chunkType.
func SearchByType(ctx context.Context, handle *Handle, embedder Embedder, query, chunkType string, limit int) ([]SearchResult, error) {
	queryEmbedding, err := embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return handle.Index.Query(ctx, queryEmbedding, limit, func(m ChunkMetadata) bool {
		return m.ChunkType == chunkType
	})
}

// SearchByPath restricts Query to chunks whose metadata path contains
// pathSubstring.
func SearchByPath(ctx context.Context, handle *Handle, embedder Embedder, query, pathSubstring string, limit int) ([]SearchResult, error) {
	queryEmbedding, err := embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return handle.Index.Query(ctx, queryEmbedding, limit, func(m ChunkMetadata) bool {
		return strings.Contains(m.Path, pathSubstring)
	})
}

// GetRelated returns chunks similar to the chunk identified by chunkID,
// excluding the chunk itself.
func GetRelated(ctx context.Context, handle *Handle, chunkID string, limit int) ([]SearchResult, error) {
	all, err := handle.Index.All(ctx)
	if err != nil {
		return nil, err
	}

	var target *Chunk
	for i := range all {
		if all[i].ID == chunkID {
			target = &all[i]
			break
		}
	}
	if target == nil {
		return nil, nil
	}

	results, err := handle.Index.Query(ctx, target.Embedding, limit+1, nil)
	if err != nil {
		return nil, err
	}

	out := make([]SearchResult, 0, limit)
	for _, r := range results {
		if r.Chunk.ID == chunkID {
			continue
		}
		out = append(out, r)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}
