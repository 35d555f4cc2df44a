package config

// ServerConfig configures the stdio JSON-RPC server process. Unlike the
// teacher's ServerConfig (gRPC/HTTP/metrics ports for a gateway serving
// many channel connections), this runtime serves exactly one client over
// stdin/stdout; the only network-facing knob left is where an optional
// Prometheus scrape endpoint listens.
type ServerConfig struct {
	// DataDir is where the session database and codebase indexes live.
	// Defaults to DefaultDataDir() ($XDG_DATA_HOME/agentcore or
	// ~/.local/share/agentcore).
	DataDir string `yaml:"data_dir"`

	// MetricsAddr is the host:port an optional /metrics HTTP listener binds
	// to, started alongside the stdio server per SPEC_FULL.md's ambient
	// stack. Empty disables the listener; the stdio protocol itself never
	// needs a TCP port.
	MetricsAddr string `yaml:"metrics_addr"`
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.DataDir == "" {
		cfg.DataDir = DefaultDataDir()
	}
}
