package config

// RAGConfig configures the codebase retrieval pipeline (internal/index).
// Trimmed from the teacher's RAGConfig, which targeted a pgvector-backed
// Postgres document store shared across every chat channel (separate
// Store/Chunking/Search/ContextInjection sections): this runtime indexes
// exactly one codebase at a time into internal/index's SQLite-backed Index,
// so the only remaining knobs are whether retrieval runs at all and how its
// embeddings are produced.
type RAGConfig struct {
	// Enabled gates rag.query and the turn engine's automatic retrieval
	// step. When false, dispatcher's rag.* handlers degrade to
	// "not initialized" responses.
	Enabled bool `yaml:"enabled"`

	// MaxResults caps how many chunks a single retrieval step returns,
	// mirrored into turn.Config.MaxRAGResults.
	MaxResults int `yaml:"max_results"`

	Embeddings RAGEmbeddingsConfig `yaml:"embeddings"`
}

// RAGEmbeddingsConfig selects and authenticates the embedding provider
// cmd/agentcore constructs an index.Embedder from.
type RAGEmbeddingsConfig struct {
	// Provider selects the embedding backend, e.g. "openai".
	Provider string `yaml:"provider"`
	APIKey   string `yaml:"api_key"`
	BaseURL  string `yaml:"base_url"`
	Model    string `yaml:"model"`
}

func applyRAGDefaults(cfg *RAGConfig) {
	if cfg.MaxResults == 0 {
		cfg.MaxResults = 5
	}
	if cfg.Embeddings.Provider == "" {
		cfg.Embeddings.Provider = "openai"
	}
}
