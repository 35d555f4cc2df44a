// Package turn implements the Turn Engine: the orchestration that serves one
// chat.send call by coordinating intent extraction, retrieval, context
// assembly, the LLM call (direct or through the tool loop), and persistence
// of the resulting conversation and token-usage rows. Grounded on
// original_source/openagent/core/agent.py's Agent class, adapted from a
// single in-process object into the concurrent, multi-session engine the
// RPC dispatcher drives.
package turn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/agentcore/agentcore/internal/history"
	"github.com/agentcore/agentcore/internal/index"
	"github.com/agentcore/agentcore/internal/intent"
	"github.com/agentcore/agentcore/internal/llm"
	"github.com/agentcore/agentcore/internal/observability"
	"github.com/agentcore/agentcore/internal/promptctx"
	"github.com/agentcore/agentcore/internal/store"
	"github.com/agentcore/agentcore/internal/tokens"
	"github.com/agentcore/agentcore/internal/toolhost"
	"github.com/agentcore/agentcore/internal/toolloop"
)

// DefaultSystemPrompt is used when a session has never been given one.
const DefaultSystemPrompt = "You are a helpful coding assistant with access to the user's codebase."

// DefaultMaxRAGResults bounds how many chunks get_context_for_query considers.
const DefaultMaxRAGResults = 20

// ErrNoProvider is returned when a session's selected provider name has no
// registered llm.Provider.
var ErrNoProvider = errors.New("turn: no provider configured")

// Notifier delivers a chat.stream (or similarly out-of-band) notification
// for a session. The RPC layer implements this against its codec, already
// serialized against other writes to the same output stream.
type Notifier interface {
	Notify(ctx context.Context, sessionID, method string, params any) error
}

// NopNotifier discards every notification; used when a turn runs without an
// attached client (e.g. a batch job or a test).
type NopNotifier struct{}

// Notify implements Notifier by doing nothing.
func (NopNotifier) Notify(context.Context, string, string, any) error { return nil }

// Config wires an Engine's dependencies. Providers, Router, Embedder,
// IntentExtractor, and Tools are all optional: their absence degrades
// gracefully per spec (no RAG context, no intent-refined query, no tool
// loop) rather than failing the turn.
type Config struct {
	Providers       map[string]llm.Provider
	DefaultProvider string
	DefaultModel    string
	IntentExtractor intent.Extractor
	Router          *index.Router
	Embedder        index.Embedder
	PromptBuilder   *promptctx.Builder
	Tools           *toolhost.Host
	Notifier        Notifier
	SystemPrompt    string
	MaxRAGResults   int

	// DefaultBudget seeds every session's token budget (internal/config's
	// session.default_budget_tokens) until tokens.set_budget overrides it
	// for that session. 0 means unbounded.
	DefaultBudget int

	// Tracer provides the per-turn OpenTelemetry span tree (spec §4.8). If
	// nil, New wires in a no-op tracer so Send never needs a nil check.
	Tracer *observability.Tracer

	// Metrics records LLM/tool/RAG counters and histograms. Optional; if
	// nil, Send simply skips recording.
	Metrics *observability.Metrics
}

// modelSelection is one session's active provider/model pair, held
// in-memory only: the store schema has no column for it, and a session
// resuming after a restart simply re-resolves the configured default.
type modelSelection struct {
	provider string
	model    string
}

// Engine serves chat.send turns across any number of concurrently active
// sessions.
type Engine struct {
	db  *store.DB
	cfg Config

	mu         sync.Mutex
	sessionMu  map[string]*sync.Mutex    // one mutex per session, per-session serialization (spec §5 Shared-resource policy)
	selections map[string]modelSelection
	budgets    map[string]int
	cancels    map[string]context.CancelFunc
}

// New builds an Engine bound to db and cfg. cfg.PromptBuilder must not be
// nil; every other field is optional.
func New(db *store.DB, cfg Config) *Engine {
	if cfg.MaxRAGResults <= 0 {
		cfg.MaxRAGResults = DefaultMaxRAGResults
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	if cfg.Tracer == nil {
		tracer, _ := observability.NewTracer(observability.TraceConfig{ServiceName: "agentcore"})
		cfg.Tracer = tracer
	}
	return &Engine{
		db:         db,
		cfg:        cfg,
		sessionMu:  map[string]*sync.Mutex{},
		selections: map[string]modelSelection{},
		budgets:    map[string]int{},
		cancels:    map[string]context.CancelFunc{},
	}
}

func (e *Engine) lockFor(sessionID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, ok := e.sessionMu[sessionID]
	if !ok {
		m = &sync.Mutex{}
		e.sessionMu[sessionID] = m
	}
	return m
}

// SetModel overrides the provider/model pair a session's turns use.
func (e *Engine) SetModel(sessionID, provider, model string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.selections[sessionID] = modelSelection{provider: provider, model: model}
}

// Model returns the provider/model pair a session is currently resolved to.
func (e *Engine) Model(sessionID string) (provider, model string) {
	e.mu.Lock()
	sel, ok := e.selections[sessionID]
	e.mu.Unlock()
	if ok {
		return sel.provider, sel.model
	}
	return e.cfg.DefaultProvider, e.cfg.DefaultModel
}

// SetBudget sets or clears (budget == 0) a session's token budget.
func (e *Engine) SetBudget(sessionID string, budget int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if budget <= 0 {
		delete(e.budgets, sessionID)
		return
	}
	e.budgets[sessionID] = budget
}

func (e *Engine) budgetFor(sessionID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if budget, ok := e.budgets[sessionID]; ok {
		return budget
	}
	return e.cfg.DefaultBudget
}

// BudgetFor returns the token budget currently set for sessionID, or 0 if
// none is set. Exported for the RPC dispatcher's tokens.get handler, which
// needs to know whether to report budget fields at all.
func (e *Engine) BudgetFor(sessionID string) int { return e.budgetFor(sessionID) }

// Request is the input to one Send call, matching chat.send's params.
type Request struct {
	SessionID string
	Message   string
	UseRAG    bool
	Stream    bool
}

// Response is the result of one Send call.
type Response struct {
	Text      string
	Tokens    tokens.Stats
	Cancelled bool
	Truncated bool
	Intent    *intent.Intent
	ToolCalls []toolloop.Call
}

// Send runs the full turn sequence described by spec §4.8 steps 1-9 for one
// chat.send call. It serializes against any other Send for the same
// session and supports cancellation via Cancel(sessionID).
func (e *Engine) Send(ctx context.Context, req Request) (*Response, error) {
	lock := e.lockFor(req.SessionID)
	lock.Lock()
	defer lock.Unlock()

	turnCtx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.cancels[req.SessionID] = cancel
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.cancels, req.SessionID)
		e.mu.Unlock()
		cancel()
	}()

	turnCtx, turnSpan := e.cfg.Tracer.TraceTurn(turnCtx, req.SessionID)
	defer turnSpan.End()

	sess, err := e.db.Load(turnCtx, req.SessionID)
	if err != nil {
		e.cfg.Tracer.RecordError(turnSpan, err)
		return nil, fmt.Errorf("turn: load session: %w", err)
	}

	provider, model, err := e.resolveProvider(req.SessionID)
	if err != nil {
		e.cfg.Tracer.RecordError(turnSpan, err)
		return &Response{Text: configErrorMessage(err)}, nil
	}
	e.cfg.Tracer.SetAttributes(turnSpan, "llm.provider", provider.Name(), "llm.model", model)

	h := history.New(e.db.Conn(), req.SessionID)

	// Step 1: retrieval query, refined by the Intent Extractor when present.
	query := req.Message
	var extracted *intent.Intent
	if e.cfg.IntentExtractor != nil {
		intentCtx, intentSpan := e.cfg.Tracer.TraceIntentExtraction(turnCtx)
		recentForIntent, err := h.Recent(intentCtx, 5)
		if err == nil {
			extracted, _ = e.cfg.IntentExtractor.Extract(intentCtx, req.Message, renderRecent(recentForIntent))
			if extracted != nil && extracted.Query != "" {
				query = extracted.Query
			}
		}
		intentSpan.End()
	}

	// Step 2: retrieval bundle, if an Index is active for this codebase.
	ragContext := ""
	if req.UseRAG && e.cfg.Router != nil && e.cfg.Embedder != nil {
		if handle := e.cfg.Router.Active(); handle != nil {
			ragCtx, ragSpan := e.cfg.Tracer.TraceRAGQuery(turnCtx, handle.Collection)
			var ragErr error
			ragContext, ragErr = index.GetContextForQuery(ragCtx, handle, e.cfg.Embedder, query, e.cfg.PromptBuilder.Config.MaxRAGTokens, e.cfg.MaxRAGResults)
			if e.cfg.Metrics != nil {
				status := "success"
				if ragErr != nil {
					status = "error"
				}
				e.cfg.Metrics.RecordRAGQuery(handle.Collection, status, 0)
			}
			if ragErr != nil {
				e.cfg.Tracer.RecordError(ragSpan, ragErr)
			}
			ragSpan.End()
		}
	}

	// Step 3: context window.
	recent, err := h.Recent(turnCtx, e.cfg.PromptBuilder.Config.RecentMessages)
	if err != nil {
		e.cfg.Tracer.RecordError(turnSpan, err)
		return nil, fmt.Errorf("turn: load recent history: %w", err)
	}
	totalCount, err := h.Count(turnCtx)
	if err != nil {
		e.cfg.Tracer.RecordError(turnSpan, err)
		return nil, fmt.Errorf("turn: count history: %w", err)
	}
	window := e.cfg.PromptBuilder.Build(req.SessionID, recent, totalCount, req.Message, e.cfg.SystemPrompt, ragContext)
	if e.cfg.Metrics != nil {
		if ctxSize := contextSizeFor(provider, model); ctxSize > 0 {
			e.cfg.Metrics.RecordContextWindow(model, float64(window.TotalTokens)/float64(ctxSize))
		}
	}

	// Step 4: persist the user message before the LLM call is issued.
	if _, err := h.Add(turnCtx, history.RoleUser, req.Message, promptctx.Estimate(req.Message), nil); err != nil {
		e.cfg.Tracer.RecordError(turnSpan, err)
		return nil, fmt.Errorf("turn: persist user message: %w", err)
	}

	// Steps 5-6: call the model, directly or through the bounded tool loop,
	// streaming chunk notifications when requested.
	var (
		text         string
		inputTokens  int
		outputTokens int
		toolCalls    []toolloop.Call
		cancelled    bool
	)
	if e.cfg.Tools != nil && len(e.cfg.Tools.Tools()) > 0 {
		result, err := e.runToolLoop(turnCtx, provider, model, window)
		if err != nil {
			if errors.Is(turnCtx.Err(), context.Canceled) {
				cancelled = true
			} else {
				e.cfg.Tracer.RecordError(turnSpan, err)
				return nil, err
			}
		} else {
			text, inputTokens, outputTokens, toolCalls = result.Text, result.InputTokens, result.OutputTokens, result.Calls
		}
	} else {
		text, inputTokens, outputTokens, cancelled, err = e.runDirect(turnCtx, provider, model, window, req, sess.ID)
		if err != nil {
			e.cfg.Tracer.RecordError(turnSpan, err)
			return nil, err
		}
	}

	stats := tokens.Stats{}
	if !cancelled {
		// Step 7: record usage.
		ledger := tokens.NewLedger(e.db.Conn(), req.SessionID, e.budgetFor(req.SessionID))
		if err := ledger.Record(ctx, tokens.Usage{InputTokens: inputTokens, OutputTokens: outputTokens, Model: model}); err != nil {
			e.cfg.Tracer.RecordError(turnSpan, err)
			return nil, fmt.Errorf("turn: record token usage: %w", err)
		}
		stats, err = ledger.Stats(ctx)
		if err != nil {
			return nil, fmt.Errorf("turn: load token stats: %w", err)
		}
		if e.cfg.Metrics != nil {
			if remaining, err := ledger.BudgetRemaining(ctx); err == nil && remaining != nil && *remaining == 0 {
				e.cfg.Metrics.RecordBudgetExhausted(req.SessionID)
			}
		}

		// Step 8: persist the assistant message.
		if _, err := h.Add(ctx, history.RoleAssistant, text, promptctx.Estimate(text), nil); err != nil {
			return nil, fmt.Errorf("turn: persist assistant message: %w", err)
		}
	}

	if req.Stream {
		done := map[string]any{"done": true}
		if !cancelled {
			done["tokens"] = stats
		}
		_ = e.notifier().Notify(ctx, req.SessionID, "chat.stream", done)
	}

	return &Response{
		Text:      text,
		Tokens:    stats,
		Cancelled: cancelled,
		Truncated: window.Truncated,
		Intent:    extracted,
		ToolCalls: toolCalls,
	}, nil
}

// Providers returns the configured provider registry, keyed by name, for
// callers (the RPC dispatcher's model.list) that need to enumerate models
// across every configured provider rather than just the active one.
func (e *Engine) Providers() map[string]llm.Provider { return e.cfg.Providers }

// Cancel aborts an in-flight Send for sessionID, if one is running. It
// returns whether a turn was actually found and cancelled.
func (e *Engine) Cancel(sessionID string) bool {
	e.mu.Lock()
	cancel, ok := e.cancels[sessionID]
	e.mu.Unlock()
	if !ok {
		return false
	}
	cancel()
	return true
}

// contextSizeFor looks up model's advertised context window from provider's
// model list, for the context-window-used ratio metric. Returns 0 (metric
// skipped) if the model isn't found.
func contextSizeFor(provider llm.Provider, model string) int {
	for _, m := range provider.Models() {
		if m.ID == model {
			return m.ContextSize
		}
	}
	return 0
}

func (e *Engine) resolveProvider(sessionID string) (llm.Provider, string, error) {
	providerName, model := e.Model(sessionID)
	if providerName == "" {
		return nil, "", ErrNoProvider
	}
	provider, ok := e.cfg.Providers[providerName]
	if !ok {
		return nil, "", fmt.Errorf("%w: %q", ErrNoProvider, providerName)
	}
	if model == "" {
		if models := provider.Models(); len(models) > 0 {
			model = models[0].ID
		}
	}
	return provider, model, nil
}

// runDirect calls the provider directly (no tool loop), streaming chunk
// notifications when req.Stream is set and returning the accumulated text
// and token counts. Cancellation mid-stream stops forwarding chunks and is
// reported via the cancelled return value rather than an error, so the
// caller can still emit a terminal done notification per spec §5.
func (e *Engine) runDirect(ctx context.Context, provider llm.Provider, model string, window promptctx.Window, req Request, sessionID string) (text string, inputTokens, outputTokens int, cancelled bool, err error) {
	ctx, span := e.cfg.Tracer.TraceLLMRequest(ctx, provider.Name(), model)
	start := time.Now()
	defer func() {
		if e.cfg.Metrics != nil {
			status := "success"
			if err != nil {
				status = "error"
			} else if cancelled {
				status = "cancelled"
			}
			e.cfg.Metrics.RecordLLMRequest(provider.Name(), model, status, time.Since(start).Seconds(), inputTokens, outputTokens)
		}
		if err != nil {
			e.cfg.Tracer.RecordError(span, err)
		}
		span.End()
	}()

	system, messages := splitSystem(window.Messages)
	llmReq := &llm.CompletionRequest{Model: model, System: system, Messages: messages}

	chunks, err := provider.Complete(ctx, llmReq)
	if err != nil {
		return "", 0, 0, false, fmt.Errorf("turn: completion: %w", err)
	}

	var sb strings.Builder
	for chunk := range chunks {
		if chunk.Error != nil {
			if errors.Is(ctx.Err(), context.Canceled) {
				return sb.String(), inputTokens, outputTokens, true, nil
			}
			err = fmt.Errorf("turn: stream: %w", chunk.Error)
			return "", 0, 0, false, err
		}
		if chunk.Text != "" {
			sb.WriteString(chunk.Text)
			if req.Stream {
				_ = e.notifier().Notify(ctx, sessionID, "chat.stream", map[string]any{"chunk": chunk.Text})
			}
		}
		inputTokens += chunk.InputTokens
		outputTokens += chunk.OutputTokens
	}
	return sb.String(), inputTokens, outputTokens, false, nil
}

type toolLoopResult struct {
	Text         string
	InputTokens  int
	OutputTokens int
	Calls        []toolloop.Call
}

// runToolLoop drives internal/toolloop, binding its CompletionFunc to
// provider.Complete and its ToolCaller to e.tracingCaller(), a thin span/
// metrics decorator around e.cfg.Tools.
func (e *Engine) runToolLoop(ctx context.Context, provider llm.Provider, model string, window promptctx.Window) (*toolLoopResult, error) {
	system, messages := splitSystem(window.Messages)
	userMessage := ""
	if len(messages) > 0 {
		userMessage = messages[len(messages)-1].Content
	}

	complete := func(ctx context.Context, systemPrompt, message string) (res toolloop.CompletionResult, err error) {
		ctx, span := e.cfg.Tracer.TraceLLMRequest(ctx, provider.Name(), model)
		start := time.Now()
		defer func() {
			if e.cfg.Metrics != nil {
				status := "success"
				if err != nil {
					status = "error"
				}
				e.cfg.Metrics.RecordLLMRequest(provider.Name(), model, status, time.Since(start).Seconds(), res.InputTokens, res.OutputTokens)
			}
			if err != nil {
				e.cfg.Tracer.RecordError(span, err)
			}
			span.End()
		}()

		req := &llm.CompletionRequest{
			Model:  model,
			System: systemPrompt,
			Messages: []llm.CompletionMessage{
				{Role: "user", Content: message},
			},
		}
		chunks, err := provider.Complete(ctx, req)
		if err != nil {
			return toolloop.CompletionResult{}, err
		}
		var sb strings.Builder
		var in, out int
		for chunk := range chunks {
			if chunk.Error != nil {
				err = chunk.Error
				return toolloop.CompletionResult{}, err
			}
			sb.WriteString(chunk.Text)
			in += chunk.InputTokens
			out += chunk.OutputTokens
		}
		res = toolloop.CompletionResult{Text: sb.String(), InputTokens: in, OutputTokens: out}
		return res, nil
	}

	result, err := toolloop.Run(ctx, toolloop.Options{
		SystemPrompt: system,
		Message:      userMessage,
		Tools:        e.cfg.Tools.Tools(),
		Caller:       e.tracingCaller(),
		Complete:     complete,
	})
	if err != nil {
		return nil, fmt.Errorf("turn: tool loop: %w", err)
	}
	return &toolLoopResult{Text: result.Text, InputTokens: result.InputTokens, OutputTokens: result.OutputTokens, Calls: result.Calls}, nil
}

// tracingCaller wraps e.cfg.Tools so every tool invocation the tool loop
// makes gets its own span and, when Metrics is configured, a duration/status
// recording — without internal/toolloop or internal/toolhost needing to
// know observability exists.
func (e *Engine) tracingCaller() toolloop.ToolCaller {
	return tracingToolCaller{engine: e, inner: e.cfg.Tools}
}

type tracingToolCaller struct {
	engine *Engine
	inner  toolloop.ToolCaller
}

func (c tracingToolCaller) CallTool(ctx context.Context, name string, args json.RawMessage) (res *toolhost.CallResult, err error) {
	ctx, span := c.engine.cfg.Tracer.TraceToolExecution(ctx, name)
	start := time.Now()
	defer func() {
		if c.engine.cfg.Metrics != nil {
			status := "success"
			if err != nil {
				status = "error"
			}
			c.engine.cfg.Metrics.RecordToolExecution(name, status, time.Since(start).Seconds())
		}
		if err != nil {
			c.engine.cfg.Tracer.RecordError(span, err)
		}
		span.End()
	}()
	return c.inner.CallTool(ctx, name, args)
}

// splitSystem pulls every leading system Turn out of window.Messages
// (promptctx always places system content first) into a single string for
// providers whose wire format takes system as a distinct field.
func splitSystem(turns []promptctx.Turn) (system string, messages []llm.CompletionMessage) {
	var sys []string
	for _, t := range turns {
		if t.Role == "system" {
			sys = append(sys, t.Content)
			continue
		}
		messages = append(messages, llm.CompletionMessage{Role: t.Role, Content: t.Content})
	}
	return strings.Join(sys, "\n\n"), messages
}

func renderRecent(messages []*history.Message) string {
	var sb strings.Builder
	for _, m := range messages {
		fmt.Fprintf(&sb, "%s: %s\n", m.Role, m.Content)
	}
	return strings.TrimRight(sb.String(), "\n")
}

// configErrorMessage produces the "well-known message" spec §4.8 requires
// for missing endpoint/credential errors, so the UI can prompt the user to
// configure a provider instead of surfacing a raw Go error string.
func configErrorMessage(err error) string {
	if errors.Is(err, ErrNoProvider) {
		return "No LLM provider is configured for this session. Set one with model.set before sending messages."
	}
	return fmt.Sprintf("Configuration error: %v", err)
}

func (e *Engine) notifier() Notifier {
	if e.cfg.Notifier != nil {
		return e.cfg.Notifier
	}
	return NopNotifier{}
}

// SetNotifier attaches n as the engine's chat.stream notifier. Exists
// because cmd/agentcore constructs dispatcher.Dispatcher (which implements
// Notifier) from an already-built Engine, so the two can't be wired through
// Config at construction time.
func (e *Engine) SetNotifier(n Notifier) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg.Notifier = n
}
