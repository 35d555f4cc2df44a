package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the agent runtime: LLM request
// latency and token usage, tool execution outcomes, RAG query/ingestion
// activity, and session/token-budget consumption. Grounded on
// haasonsaas-nexus's internal/observability/metrics.go, with the
// channel/webhook/HTTP/message-queue metrics dropped (no multi-channel
// gateway or HTTP surface in this runtime — see DESIGN.md) and RAG-specific
// gauges and counters added in their place.
type Metrics struct {
	// LLM metrics
	LLMRequestDuration *prometheus.HistogramVec
	LLMRequestCounter  *prometheus.CounterVec
	LLMTokensUsed      *prometheus.CounterVec
	LLMCostUSD         *prometheus.CounterVec

	// Tool execution metrics
	ToolExecutionCounter  *prometheus.CounterVec
	ToolExecutionDuration *prometheus.HistogramVec

	// RAG metrics
	RAGQueryCounter  *prometheus.CounterVec
	RAGQueryDuration *prometheus.HistogramVec
	RAGIngestCounter *prometheus.CounterVec
	RAGIndexChunks   *prometheus.GaugeVec

	// Session and token-budget metrics
	ActiveSessions    prometheus.Gauge
	SessionDuration   prometheus.Histogram
	ContextWindowUsed *prometheus.HistogramVec
	BudgetExhausted   *prometheus.CounterVec

	// Database metrics
	DatabaseQueryDuration *prometheus.HistogramVec
	DatabaseQueryCounter  *prometheus.CounterVec

	// Error metrics
	ErrorCounter *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics with the default Prometheus
// registry. Metric names use an agentcore_ prefix.
func NewMetrics() *Metrics {
	return &Metrics{
		LLMRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentcore_llm_request_duration_seconds",
				Help:    "Duration of LLM API requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 20, 30, 60, 120},
			},
			[]string{"provider", "model", "status"},
		),
		LLMRequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_llm_requests_total",
				Help: "Total number of LLM API requests",
			},
			[]string{"provider", "model", "status"},
		),
		LLMTokensUsed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_llm_tokens_total",
				Help: "Total LLM tokens consumed",
			},
			[]string{"provider", "model", "direction"},
		),
		LLMCostUSD: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_llm_cost_usd_total",
				Help: "Total estimated LLM cost in USD",
			},
			[]string{"provider", "model"},
		),

		ToolExecutionCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_tool_executions_total",
				Help: "Total number of tool executions",
			},
			[]string{"tool_name", "status"},
		),
		ToolExecutionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentcore_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name", "status"},
		),

		RAGQueryCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_rag_queries_total",
				Help: "Total number of RAG retrieval queries",
			},
			[]string{"collection", "status"},
		),
		RAGQueryDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentcore_rag_query_duration_seconds",
				Help:    "Duration of RAG retrieval queries in seconds",
				Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"collection"},
		),
		RAGIngestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_rag_chunks_ingested_total",
				Help: "Total number of chunks ingested into the codebase index",
			},
			[]string{"collection"},
		),
		RAGIndexChunks: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "agentcore_rag_index_chunks",
				Help: "Current number of chunks held in a codebase index collection",
			},
			[]string{"collection"},
		),

		ActiveSessions: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "agentcore_active_sessions",
				Help: "Current number of sessions loaded in memory",
			},
		),
		SessionDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "agentcore_session_duration_seconds",
				Help:    "Duration of sessions from creation to last access",
				Buckets: []float64{60, 300, 900, 1800, 3600, 7200, 14400},
			},
		),
		ContextWindowUsed: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentcore_context_window_used_ratio",
				Help:    "Fraction of the model's context window used when a turn's prompt was built",
				Buckets: []float64{0.1, 0.25, 0.5, 0.75, 0.9, 0.95, 1.0},
			},
			[]string{"model"},
		),
		BudgetExhausted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_budget_exhausted_total",
				Help: "Total number of turns where the session token budget was reached",
			},
			[]string{"session_id"},
		),

		DatabaseQueryDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentcore_db_query_duration_seconds",
				Help:    "Duration of database queries in seconds",
				Buckets: []float64{0.0001, 0.001, 0.01, 0.1, 0.5, 1, 5},
			},
			[]string{"operation", "table"},
		),
		DatabaseQueryCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_db_queries_total",
				Help: "Total number of database queries",
			},
			[]string{"operation", "table", "status"},
		),

		ErrorCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_errors_total",
				Help: "Total number of errors by component and type",
			},
			[]string{"component", "error_type"},
		),
	}
}

// RecordLLMRequest records a completed LLM API request.
func (m *Metrics) RecordLLMRequest(provider, model, status string, durationSeconds float64, inputTokens, outputTokens int) {
	m.LLMRequestCounter.WithLabelValues(provider, model, status).Inc()
	m.LLMRequestDuration.WithLabelValues(provider, model, status).Observe(durationSeconds)
	m.LLMTokensUsed.WithLabelValues(provider, model, "input").Add(float64(inputTokens))
	m.LLMTokensUsed.WithLabelValues(provider, model, "output").Add(float64(outputTokens))
}

// RecordLLMCost records the estimated USD cost of an LLM request.
func (m *Metrics) RecordLLMCost(provider, model string, costUSD float64) {
	m.LLMCostUSD.WithLabelValues(provider, model).Add(costUSD)
}

// RecordToolExecution records a completed tool subprocess invocation.
func (m *Metrics) RecordToolExecution(toolName, status string, durationSeconds float64) {
	m.ToolExecutionCounter.WithLabelValues(toolName, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName, status).Observe(durationSeconds)
}

// RecordRAGQuery records a retrieval query against a codebase index
// collection.
func (m *Metrics) RecordRAGQuery(collection, status string, durationSeconds float64) {
	m.RAGQueryCounter.WithLabelValues(collection, status).Inc()
	m.RAGQueryDuration.WithLabelValues(collection).Observe(durationSeconds)
}

// RecordRAGIngest records chunks ingested into a collection and updates the
// collection's current chunk-count gauge.
func (m *Metrics) RecordRAGIngest(collection string, chunkCount, totalChunks int) {
	m.RAGIngestCounter.WithLabelValues(collection).Add(float64(chunkCount))
	m.RAGIndexChunks.WithLabelValues(collection).Set(float64(totalChunks))
}

// SessionLoaded increments the active-session gauge.
func (m *Metrics) SessionLoaded() {
	m.ActiveSessions.Inc()
}

// SessionEvicted decrements the active-session gauge and records the
// session's lifetime duration.
func (m *Metrics) SessionEvicted(durationSeconds float64) {
	m.ActiveSessions.Dec()
	m.SessionDuration.Observe(durationSeconds)
}

// RecordContextWindow records what fraction of a model's context window a
// built prompt consumed.
func (m *Metrics) RecordContextWindow(model string, usedRatio float64) {
	m.ContextWindowUsed.WithLabelValues(model).Observe(usedRatio)
}

// RecordBudgetExhausted records that a session's token budget was reached.
func (m *Metrics) RecordBudgetExhausted(sessionID string) {
	m.BudgetExhausted.WithLabelValues(sessionID).Inc()
}

// RecordDatabaseQuery records a completed database query.
func (m *Metrics) RecordDatabaseQuery(operation, table, status string, durationSeconds float64) {
	m.DatabaseQueryCounter.WithLabelValues(operation, table, status).Inc()
	m.DatabaseQueryDuration.WithLabelValues(operation, table).Observe(durationSeconds)
}

// RecordError records an error by originating component and error type.
func (m *Metrics) RecordError(component, errorType string) {
	m.ErrorCounter.WithLabelValues(component, errorType).Inc()
}
