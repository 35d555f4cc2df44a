package config

// LLMConfig selects the default LLM provider/model and holds per-provider
// credentials. Trimmed from the teacher's LLMConfig: the local-discovery
// (Ollama probing) and rule-based routing sections existed to pick among
// many chat-platform-facing backends at message time; this runtime
// resolves a provider once per session (turn.Engine.Model) and exposes
// every configured provider through model.list instead, so those sections
// are dropped rather than carried unused. The teacher's FallbackChain is
// dropped too: that was provider-call failover, which nothing in
// turn.Engine implements, and the spec's own "fallback chain" (§4.4) names
// the token-cost estimator's model-price lookup, a different concept
// covered by internal/tokens instead.
type LLMConfig struct {
	DefaultProvider string                       `yaml:"default_provider"`
	DefaultModel    string                       `yaml:"default_model"`
	Providers       map[string]LLMProviderConfig `yaml:"providers"`
}

// LLMProviderConfig configures one provider entry. Fields map directly onto
// internal/llm's per-provider Config structs (AnthropicConfig, OpenAIConfig,
// BedrockConfig): cmd/agentcore translates one LLMProviderConfig into
// whichever of those the provider id selects.
type LLMProviderConfig struct {
	APIKey       string `yaml:"api_key"`
	DefaultModel string `yaml:"default_model"`
	BaseURL      string `yaml:"base_url"`

	// Region is consulted only by the "bedrock" provider id.
	Region string `yaml:"region"`
}

func applyLLMDefaults(cfg *LLMConfig) {
	if cfg.DefaultProvider == "" {
		cfg.DefaultProvider = "anthropic"
	}
}
