package config

import (
	"time"

	"github.com/agentcore/agentcore/internal/toolhost"
)

// ToolsConfig lists the tool subprocesses toolhost.Host supervises and the
// limits internal/toolloop enforces on a tool-calling turn. Trimmed from the
// teacher's ToolsConfig: sandboxing, browser/computer-use/websearch/webfetch
// built-ins, fact extraction, approval policies, and elevated execution all
// belonged to the gateway's own first-party tool implementations, which this
// runtime doesn't carry — every tool here is an external MCP-style
// subprocess described by toolhost.ServerConfig instead.
type ToolsConfig struct {
	Servers   []toolhost.ServerConfig `yaml:"servers"`
	Execution ToolExecutionConfig     `yaml:"execution"`
}

// ToolExecutionConfig bounds internal/toolloop's run loop (spec §4.7).
type ToolExecutionConfig struct {
	// MaxIterations caps how many completion/tool-call round trips a single
	// turn may take before toolloop gives up and returns an error.
	MaxIterations int `yaml:"max_iterations"`

	// Timeout bounds a single tool call's execution time. 0 means no
	// per-call timeout beyond the request context's own deadline.
	Timeout time.Duration `yaml:"timeout"`
}

func applyToolsDefaults(cfg *ToolsConfig) {
	if cfg.Execution.MaxIterations == 0 {
		cfg.Execution.MaxIterations = 10
	}
	for i := range cfg.Servers {
		if cfg.Servers[i].Transport == "" {
			cfg.Servers[i].Transport = toolhost.TransportStdio
		}
	}
}
