// Package main provides the CLI entry point for the agent runtime.
//
// agentcore brokers a single terminal UI/CLI client over stdio JSON-RPC to a
// remote LLM provider, with retrieval-augmented context drawn from a local
// codebase index and tool execution delegated to supervised MCP-style
// subprocesses.
//
// # Basic Usage
//
// Start the server (reads requests from stdin, writes responses/
// notifications to stdout):
//
//	agentcore serve --config agentcore.yaml
//
// # Environment Variables
//
//   - AGENTCORE_CONFIG: path to the configuration file (default: agentcore.yaml)
//   - ANTHROPIC_API_KEY, OPENAI_API_KEY: LLM provider credentials, if not set in config
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/agentcore/agentcore/internal/config"
	"github.com/agentcore/agentcore/internal/dispatcher"
	"github.com/agentcore/agentcore/internal/index"
	"github.com/agentcore/agentcore/internal/intent"
	"github.com/agentcore/agentcore/internal/llm"
	"github.com/agentcore/agentcore/internal/observability"
	"github.com/agentcore/agentcore/internal/promptctx"
	"github.com/agentcore/agentcore/internal/rpc"
	"github.com/agentcore/agentcore/internal/store"
	"github.com/agentcore/agentcore/internal/toolhost"
	"github.com/agentcore/agentcore/internal/turn"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

// Build information - populated by ldflags during build.
//
// Example build command:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "agentcore",
		Short:        "agentcore - stdio JSON-RPC agent runtime",
		Long:         "agentcore brokers a terminal UI/CLI client to a remote LLM over stdio JSON-RPC, with codebase retrieval and supervised tool subprocesses.",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.AddCommand(buildServeCmd(), buildVersionCmd(), buildConfigSchemaCmd())
	return rootCmd
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the agentcore version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "agentcore %s (commit: %s, built: %s)\n", version, commit, date)
			return nil
		},
	}
}

func buildConfigSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config-schema",
		Short: "Print the JSON Schema for the configuration file",
		Long:  "Print the JSON Schema describing agentcore.yaml's fields, for editor autocompletion and external validation.",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, err := config.JSONSchema()
			if err != nil {
				return fmt.Errorf("generate config schema: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(append(schema, '\n'))
			return err
		},
	}
}

func buildServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the JSON-RPC dispatcher on stdio",
		Long: `Run the agent runtime's JSON-RPC dispatcher on stdin/stdout.

The server will:
1. Load configuration from the specified file.
2. Open the session store and codebase index.
3. Construct the configured LLM providers and tool servers.
4. Emit a server.ready notification and serve chat/session/tool requests
   until stdin closes or a shutdown signal arrives.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				configPath = os.Getenv("AGENTCORE_CONFIG")
			}
			if configPath == "" {
				configPath = "agentcore.yaml"
			}
			return runServe(cmd.Context(), configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML/JSON5 configuration file (default: $AGENTCORE_CONFIG or agentcore.yaml)")
	return cmd
}

func runServe(ctx context.Context, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Observability.Logging.Level,
		Format: cfg.Observability.Logging.Format,
	})
	slog.SetDefault(logger.Slog())

	serviceVersion := cfg.Observability.Tracing.ServiceVersion
	if serviceVersion == "" {
		serviceVersion = version
	}
	tracer, shutdownTracer := observability.NewTracer(observability.TraceConfig{
		ServiceName:    "agentcore",
		ServiceVersion: serviceVersion,
		Endpoint:       cfg.Observability.Tracing.Endpoint,
		Environment:    cfg.Observability.Tracing.Environment,
		SamplingRate:   cfg.Observability.Tracing.SamplingRate,
		EnableInsecure: cfg.Observability.Tracing.Insecure,
	})
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			slog.Error("tracer shutdown failed", "error", err)
		}
	}()

	var metrics *observability.Metrics
	if cfg.Observability.Metrics.Enabled {
		metrics = observability.NewMetrics()
		if cfg.Server.MetricsAddr != "" {
			startMetricsServer(cfg.Server.MetricsAddr)
		}
	}

	if err := os.MkdirAll(cfg.Server.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	db, err := store.Open(filepath.Join(cfg.Server.DataDir, "sessions.db"))
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	defer db.Close()

	router := index.NewRouter(filepath.Join(cfg.Server.DataDir, "index.db"), index.NewSQLiteIndex)

	providers, err := buildProviders(ctx, cfg.LLM)
	if err != nil {
		return err
	}

	var embedder index.Embedder
	if cfg.RAG.Enabled {
		embedder, err = llm.NewOpenAIEmbedder(llm.EmbeddingConfig{
			APIKey:  cfg.RAG.Embeddings.APIKey,
			BaseURL: cfg.RAG.Embeddings.BaseURL,
			Model:   cfg.RAG.Embeddings.Model,
		})
		if err != nil {
			slog.Warn("RAG embeddings not configured; retrieval disabled", "error", err)
			embedder = nil
		}
	}

	tools := toolhost.NewHost()
	serverCfgs := make([]*toolhost.ServerConfig, len(cfg.Tools.Servers))
	for i := range cfg.Tools.Servers {
		serverCfgs[i] = &cfg.Tools.Servers[i]
	}
	tools.Start(ctx, serverCfgs)
	defer tools.Shutdown()

	var extractor intent.Extractor
	if provider, ok := providers[cfg.LLM.DefaultProvider]; ok {
		extractor = intent.NewLLMExtractor(provider, cfg.LLM.DefaultModel)
	}

	builder := promptctx.NewBuilder(promptctx.DefaultConfig())

	engine := turn.New(db, turn.Config{
		Providers:       providers,
		DefaultProvider: cfg.LLM.DefaultProvider,
		DefaultModel:    cfg.LLM.DefaultModel,
		IntentExtractor: extractor,
		Router:          router,
		Embedder:        embedder,
		PromptBuilder:   builder,
		Tools:           tools,
		MaxRAGResults:   cfg.RAG.MaxResults,
		DefaultBudget:   cfg.Session.DefaultBudgetTokens,
		Tracer:          tracer,
		Metrics:         metrics,
	})

	codec := rpc.NewCodec(os.Stdin, os.Stdout)
	d := dispatcher.New(codec, db, engine, router, embedder, version, slog.Default())
	d.WithObservability(tracer, metrics)
	engine.SetNotifier(d)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	slog.Info("agentcore serving", "data_dir", cfg.Server.DataDir, "llm_provider", cfg.LLM.DefaultProvider)
	return d.Run(ctx)
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func buildProviders(ctx context.Context, cfg config.LLMConfig) (map[string]llm.Provider, error) {
	providers := map[string]llm.Provider{}
	for id, p := range cfg.Providers {
		switch id {
		case "anthropic":
			provider, err := llm.NewAnthropicProvider(llm.AnthropicConfig{
				APIKey:       p.APIKey,
				BaseURL:      p.BaseURL,
				DefaultModel: p.DefaultModel,
			})
			if err != nil {
				return nil, fmt.Errorf("configure anthropic provider: %w", err)
			}
			providers[id] = provider
		case "openai":
			providers[id] = llm.NewOpenAIProvider(p.APIKey)
		case "bedrock":
			provider, err := llm.NewBedrockProvider(ctx, llm.BedrockConfig{
				Region:       p.Region,
				DefaultModel: p.DefaultModel,
			})
			if err != nil {
				return nil, fmt.Errorf("configure bedrock provider: %w", err)
			}
			providers[id] = provider
		default:
			slog.Warn("unknown LLM provider id in config, skipping", "provider", id)
		}
	}
	return providers, nil
}

func startMetricsServer(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server failed", "error", err)
		}
	}()
}
