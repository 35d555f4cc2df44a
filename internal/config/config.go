// Package config loads and validates the agent runtime's YAML/JSON5
// configuration file, grounded on haasonsaas-nexus's internal/config
// package (same load/defaults/validate shape, same $include+env-expand
// loader in loader.go) with the gateway/channel-specific sections the
// teacher carried for its multi-channel messaging bot dropped: this
// runtime serves one stdio connection, not a fleet of chat platforms.
// See DESIGN.md for the per-section grounding and the dropped sections.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Config is the root configuration structure for the agent runtime.
type Config struct {
	// Version selects the schema revision this file was written against.
	// Missing or zero defaults to CurrentVersion so existing files don't
	// need editing just to adopt versioning; an explicit mismatch is
	// caught by ValidateVersion during Load.
	Version       int                 `yaml:"version"`
	Server        ServerConfig        `yaml:"server"`
	Session       SessionConfig       `yaml:"session"`
	LLM           LLMConfig           `yaml:"llm"`
	Tools         ToolsConfig         `yaml:"tools"`
	RAG           RAGConfig           `yaml:"rag"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// Load reads path (YAML, JSON, or JSON5, selected by extension),
// resolves any $include directives and ${VAR} environment references via
// loader.go's LoadRaw, decodes the merged document with strict field
// checking, applies defaults, and validates the result.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}

	applyDefaults(cfg)

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// DefaultDataDir returns the agent runtime's default data directory:
// $XDG_DATA_HOME/agentcore, falling back to ~/.local/share/agentcore,
// ported from original_source's Path.home() / ".local/share/openagent"
// default (spec §6).
func DefaultDataDir() string {
	if xdg := strings.TrimSpace(os.Getenv("XDG_DATA_HOME")); xdg != "" {
		return filepath.Join(xdg, "agentcore")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".agentcore"
	}
	return filepath.Join(home, ".local", "share", "agentcore")
}

func applyDefaults(cfg *Config) {
	if cfg.Version == 0 {
		cfg.Version = CurrentVersion
	}
	applyServerDefaults(&cfg.Server)
	applySessionDefaults(&cfg.Session)
	applyLLMDefaults(&cfg.LLM)
	applyToolsDefaults(&cfg.Tools)
	applyRAGDefaults(&cfg.RAG)
	applyObservabilityDefaults(&cfg.Observability)
}

// ConfigValidationError collects every validation issue found in one pass,
// rather than stopping at the first, so a misconfigured file can be fixed
// in one edit-reload cycle instead of one issue at a time.
type ConfigValidationError struct {
	Issues []string
}

func (e *ConfigValidationError) Error() string {
	return "config validation failed:\n- " + strings.Join(e.Issues, "\n- ")
}

func validateConfig(cfg *Config) error {
	if cfg == nil {
		return nil
	}

	if err := ValidateVersion(cfg.Version); err != nil {
		return err
	}

	var issues []string

	defaultProvider := strings.ToLower(strings.TrimSpace(cfg.LLM.DefaultProvider))
	if defaultProvider != "" {
		if _, ok := cfg.LLM.Providers[cfg.LLM.DefaultProvider]; !ok {
			issues = append(issues, fmt.Sprintf("llm.providers missing entry for default_provider %q", cfg.LLM.DefaultProvider))
		}
	}

	for i, server := range cfg.Tools.Servers {
		if err := server.Validate(); err != nil {
			issues = append(issues, fmt.Sprintf("tools.servers[%d]: %v", i, err))
		}
	}
	if cfg.Tools.Execution.MaxIterations < 0 {
		issues = append(issues, "tools.execution.max_iterations must be >= 0")
	}
	if cfg.Tools.Execution.Timeout < 0 {
		issues = append(issues, "tools.execution.timeout must be >= 0")
	}

	if cfg.Session.DefaultBudgetTokens < 0 {
		issues = append(issues, "session.default_budget_tokens must be >= 0")
	}

	if level := strings.ToLower(strings.TrimSpace(cfg.Observability.Logging.Level)); level != "" {
		switch level {
		case "debug", "info", "warn", "error":
		default:
			issues = append(issues, "observability.logging.level must be \"debug\", \"info\", \"warn\", or \"error\"")
		}
	}
	if format := strings.ToLower(strings.TrimSpace(cfg.Observability.Logging.Format)); format != "" {
		switch format {
		case "json", "text":
		default:
			issues = append(issues, "observability.logging.format must be \"json\" or \"text\"")
		}
	}
	if cfg.Observability.Tracing.SamplingRate < 0 || cfg.Observability.Tracing.SamplingRate > 1 {
		issues = append(issues, "observability.tracing.sampling_rate must be between 0 and 1")
	}

	if len(issues) > 0 {
		return &ConfigValidationError{Issues: issues}
	}

	return nil
}
