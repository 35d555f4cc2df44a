// Package observability provides structured logging, secret redaction, and
// distributed tracing for the agent runtime.
//
// # Overview
//
// Two pillars are implemented here:
//
//  1. Logging - Structured logs with sensitive data redaction
//  2. Tracing - Per-turn spans with OpenTelemetry, one root span per
//     chat.send with child spans for intent extraction, RAG retrieval,
//     the LLM call, and tool execution
//
// Prometheus metrics (metrics.go, also in this package) cover LLM request
// latency, tool execution, RAG query/ingestion counts, and token-budget
// consumption; see DESIGN.md for why the channel/webhook/queue metrics and
// the diagnostic event bus in the teacher package this was adapted from
// were dropped rather than kept.
//
// # Logging
//
// Logging is built on Go's slog package with enhancements for:
//   - Automatic request ID and session ID correlation from context
//   - Sensitive data redaction (API keys, passwords, tokens) before a raw
//     LLM SDK error or a subprocess's stderr ever reaches a log line
//   - JSON output for supervised runs, text for an interactive terminal
//   - Configurable log levels
//
// Output defaults to os.Stderr, not os.Stdout: stdout carries the
// newline-delimited JSON-RPC wire protocol and must never be polluted by a
// stray log line.
//
// Example usage:
//
//	logger := observability.NewLogger(observability.LogConfig{
//	    Level:     "info",
//	    Format:    "json",
//	    AddSource: true,
//	})
//
//	ctx := observability.AddRequestID(ctx, requestID)
//	ctx = observability.AddSessionID(ctx, sessionID)
//
//	logger.Info(ctx, "dispatching request", "method", method)
//
//	logger.Error(ctx, "llm request failed",
//	    "error", err,
//	    "provider", "anthropic",
//	    "api_key", apiKey, // automatically redacted
//	)
//
// # Tracing
//
// Distributed tracing uses OpenTelemetry to track one chat.send turn across
// its stages:
//
//	tracer, shutdown := observability.NewTracer(observability.TraceConfig{
//	    ServiceName:    "agentcore",
//	    ServiceVersion: version,
//	    Environment:    env,
//	    Endpoint:       os.Getenv("OTEL_ENDPOINT"), // empty disables tracing
//	    SamplingRate:   1.0,
//	})
//	defer shutdown(context.Background())
//
//	ctx, turnSpan := tracer.TraceTurn(ctx, sessionID)
//	defer turnSpan.End()
//
//	ctx, ragSpan := tracer.TraceRAGQuery(ctx, collection)
//	defer ragSpan.End()
//
//	ctx, llmSpan := tracer.TraceLLMRequest(ctx, "anthropic", "claude-3-opus")
//	defer llmSpan.End()
//	tracer.SetAttributes(llmSpan, "prompt_tokens", 100, "completion_tokens", 500)
//
//	ctx, toolSpan := tracer.TraceToolExecution(ctx, "web_search")
//	defer toolSpan.End()
//	if err != nil {
//	    tracer.RecordError(toolSpan, err)
//	}
//
// If Endpoint is empty, NewTracer returns a no-op tracer: spans are created
// but never exported, so running without a collector configured never
// blocks startup.
//
// # Context Propagation
//
// Both components integrate with Go's context for automatic correlation:
//
//	ctx = observability.AddRequestID(ctx, "req-123")
//	ctx = observability.AddSessionID(ctx, "sess-456")
//
//	logger.Info(ctx, "dispatching") // includes request_id, session_id
//
//	ctx, span := tracer.Start(ctx, "operation")
//	// trace context propagates to child spans
//
// # Security Considerations
//
// The logging component automatically redacts:
//   - API keys (Anthropic, OpenAI, generic)
//   - Passwords and secrets
//   - JWT tokens
//   - Bearer tokens
//   - Custom patterns via configuration
//
// Sensitive fields in maps are also redacted:
//   - password, passwd, pwd
//   - secret, api_key, apikey
//   - token, auth, authorization
//   - private_key, privatekey
//
// # Testing
//
//   - Logging can write to a bytes.Buffer for assertions
//   - Tracing works with the no-op tracer (Endpoint == "") in tests
package observability
