package config

// SessionConfig controls token-budget defaults. Trimmed from the teacher's
// SessionConfig, which bundled persona/workspace/channel-scoping settings
// (slack_scope, discord_scope, heartbeat, memory) that have no referent in
// a single-connection stdio runtime with one durable store.DB as its only
// session record.
type SessionConfig struct {
	// DefaultBudgetTokens seeds every new session's token budget (spec
	// §4.4) before tokens.set_budget overrides it. 0 means unbounded.
	DefaultBudgetTokens int `yaml:"default_budget_tokens"`
}

func applySessionDefaults(cfg *SessionConfig) {}
