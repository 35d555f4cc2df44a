package turn

import (
	"context"
	"sync"
	"testing"

	"github.com/agentcore/agentcore/internal/history"
	"github.com/agentcore/agentcore/internal/llm"
	"github.com/agentcore/agentcore/internal/promptctx"
	"github.com/agentcore/agentcore/internal/store"
)

type stubProvider struct {
	chunks       []string
	inputTokens  int
	outputTokens int
	err          error
}

func (s *stubProvider) Complete(ctx context.Context, req *llm.CompletionRequest) (<-chan *llm.CompletionChunk, error) {
	if s.err != nil {
		return nil, s.err
	}
	ch := make(chan *llm.CompletionChunk, len(s.chunks)+1)
	for _, c := range s.chunks {
		ch <- &llm.CompletionChunk{Text: c}
	}
	ch <- &llm.CompletionChunk{Done: true, InputTokens: s.inputTokens, OutputTokens: s.outputTokens}
	close(ch)
	return ch, nil
}

func (s *stubProvider) Name() string        { return "stub" }
func (s *stubProvider) Models() []llm.Model { return []llm.Model{{ID: "stub-model"}} }
func (s *stubProvider) SupportsTools() bool { return false }

type blockingProvider struct {
	started chan struct{}
	once    sync.Once
}

func (p *blockingProvider) Complete(ctx context.Context, req *llm.CompletionRequest) (<-chan *llm.CompletionChunk, error) {
	p.once.Do(func() { close(p.started) })
	ch := make(chan *llm.CompletionChunk, 1)
	go func() {
		defer close(ch)
		<-ctx.Done()
		ch <- &llm.CompletionChunk{Error: ctx.Err()}
	}()
	return ch, nil
}

func (p *blockingProvider) Name() string        { return "stub" }
func (p *blockingProvider) Models() []llm.Model { return []llm.Model{{ID: "stub-model"}} }
func (p *blockingProvider) SupportsTools() bool { return false }

type captureNotifier struct {
	mu     sync.Mutex
	events []notifyEvent
}

type notifyEvent struct {
	sessionID string
	method    string
	params    any
}

func (c *captureNotifier) Notify(ctx context.Context, sessionID, method string, params any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, notifyEvent{sessionID, method, params})
	return nil
}

func newTestEngine(t *testing.T, provider llm.Provider, notifier Notifier) (*Engine, *store.DB, string) {
	t.Helper()
	db, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	sess, err := db.Create(context.Background(), "S", "", nil)
	if err != nil {
		t.Fatalf("Create session: %v", err)
	}

	cfg := Config{
		PromptBuilder: promptctx.NewBuilder(promptctx.DefaultConfig()),
		Notifier:      notifier,
	}
	if provider != nil {
		cfg.Providers = map[string]llm.Provider{"stub": provider}
		cfg.DefaultProvider = "stub"
		cfg.DefaultModel = "stub-model"
	}
	return New(db, cfg), db, sess.ID
}

func TestSendBasicTurn(t *testing.T) {
	provider := &stubProvider{chunks: []string{"hello"}, inputTokens: 3, outputTokens: 2}
	e, db, sid := newTestEngine(t, provider, nil)

	resp, err := e.Send(context.Background(), Request{SessionID: sid, Message: "hi"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if resp.Text != "hello" {
		t.Fatalf("expected response text 'hello', got %q", resp.Text)
	}
	if resp.Tokens.TotalInput != 3 || resp.Tokens.TotalOutput != 2 {
		t.Fatalf("unexpected token stats: %+v", resp.Tokens)
	}

	h := history.New(db.Conn(), sid)
	msgs, err := h.All(context.Background())
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Role != history.RoleUser || msgs[1].Role != history.RoleAssistant {
		t.Fatalf("unexpected persisted messages: %+v", msgs)
	}
	if msgs[0].Content != "hi" || msgs[1].Content != "hello" {
		t.Fatalf("unexpected message content: %+v", msgs)
	}
}

func TestSendStreamingOrdersChunksThenDone(t *testing.T) {
	provider := &stubProvider{chunks: []string{"Hel", "lo", "!"}, inputTokens: 3, outputTokens: 2}
	notifier := &captureNotifier{}
	e, db, sid := newTestEngine(t, provider, notifier)

	resp, err := e.Send(context.Background(), Request{SessionID: sid, Message: "hi", Stream: true})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if resp.Text != "Hello!" {
		t.Fatalf("expected accumulated text 'Hello!', got %q", resp.Text)
	}

	notifier.mu.Lock()
	events := append([]notifyEvent(nil), notifier.events...)
	notifier.mu.Unlock()

	if len(events) != 4 {
		t.Fatalf("expected 3 chunk notifications plus 1 done, got %d", len(events))
	}
	wantChunks := []string{"Hel", "lo", "!"}
	for i, want := range wantChunks {
		params, ok := events[i].params.(map[string]any)
		if !ok || params["chunk"] != want {
			t.Fatalf("event %d: expected chunk %q, got %+v", i, want, events[i].params)
		}
	}
	last, ok := events[3].params.(map[string]any)
	if !ok || last["done"] != true {
		t.Fatalf("expected terminal done notification, got %+v", events[3].params)
	}
	if _, ok := last["tokens"]; !ok {
		t.Fatal("expected terminal done notification to carry tokens")
	}

	h := history.New(db.Conn(), sid)
	msgs, err := h.All(context.Background())
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(msgs) != 2 || msgs[1].Content != "Hello!" {
		t.Fatalf("expected persisted assistant message 'Hello!', got %+v", msgs)
	}
}

func TestSendCancellationSkipsAssistantPersistence(t *testing.T) {
	provider := &blockingProvider{started: make(chan struct{})}
	e, db, sid := newTestEngine(t, provider, nil)

	type sendOutcome struct {
		resp *Response
		err  error
	}
	outcome := make(chan sendOutcome, 1)
	go func() {
		resp, err := e.Send(context.Background(), Request{SessionID: sid, Message: "hi"})
		outcome <- sendOutcome{resp, err}
	}()

	<-provider.started
	if !e.Cancel(sid) {
		t.Fatal("expected Cancel to find an in-flight turn")
	}

	got := <-outcome
	if got.err != nil {
		t.Fatalf("Send: %v", got.err)
	}
	if !got.resp.Cancelled {
		t.Fatal("expected Cancelled to be true")
	}

	h := history.New(db.Conn(), sid)
	msgs, err := h.All(context.Background())
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Role != history.RoleUser {
		t.Fatalf("expected only the user message to survive cancellation, got %+v", msgs)
	}
}

func TestSendMissingProviderReturnsConfigMessage(t *testing.T) {
	e, _, sid := newTestEngine(t, nil, nil)

	resp, err := e.Send(context.Background(), Request{SessionID: sid, Message: "hi"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if resp.Text == "" {
		t.Fatal("expected a non-empty config error message")
	}
}

func TestSetModelOverridesDefaultSelection(t *testing.T) {
	e, _, sid := newTestEngine(t, &stubProvider{}, nil)
	e.SetModel(sid, "stub", "other-model")

	provider, model := e.Model(sid)
	if provider != "stub" || model != "other-model" {
		t.Fatalf("expected overridden selection, got provider=%q model=%q", provider, model)
	}
}

func TestSetBudgetIsRespectedByLedger(t *testing.T) {
	provider := &stubProvider{chunks: []string{"ok"}, inputTokens: 10, outputTokens: 5}
	e, _, sid := newTestEngine(t, provider, nil)
	e.SetBudget(sid, 100)

	resp, err := e.Send(context.Background(), Request{SessionID: sid, Message: "hi"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if resp.Tokens.TotalTokens() != 15 {
		t.Fatalf("expected 15 total tokens, got %d", resp.Tokens.TotalTokens())
	}
}
