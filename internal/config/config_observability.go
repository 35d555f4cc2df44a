package config

// ObservabilityConfig configures the ambient logging/tracing/metrics stack.
// Trimmed from the teacher's ObservabilityConfig (which also carried
// security-posture auditing, artifact storage/retention, audio
// transcription, cron jobs, and a scheduled-tasks system — none of which
// this runtime has): only Logging, Tracing, and Metrics survive, each
// mapping directly onto an internal/observability constructor.
type ObservabilityConfig struct {
	Logging LoggingConfig `yaml:"logging"`
	Tracing TracingConfig `yaml:"tracing"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// LoggingConfig maps directly onto observability.LogConfig.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TracingConfig maps directly onto observability.TraceConfig. Enabled is
// implicit: an empty Endpoint disables tracing and observability.NewTracer
// falls back to its no-op implementation, same as the teacher's tracer.
type TracingConfig struct {
	Endpoint       string  `yaml:"endpoint"`
	ServiceVersion string  `yaml:"service_version"`
	Environment    string  `yaml:"environment"`
	SamplingRate   float64 `yaml:"sampling_rate"`
	Insecure       bool    `yaml:"insecure"`
}

// MetricsConfig controls the optional Prometheus scrape listener
// cmd/agentcore starts alongside the stdio server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

func applyObservabilityDefaults(cfg *ObservabilityConfig) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Tracing.SamplingRate == 0 {
		cfg.Tracing.SamplingRate = 1
	}
}
