package dispatcher

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/agentcore/agentcore/internal/index"
	"github.com/agentcore/agentcore/internal/llm"
	"github.com/agentcore/agentcore/internal/promptctx"
	"github.com/agentcore/agentcore/internal/rpc"
	"github.com/agentcore/agentcore/internal/store"
	"github.com/agentcore/agentcore/internal/turn"
)

type stubProvider struct {
	text string
}

func (s *stubProvider) Complete(ctx context.Context, req *llm.CompletionRequest) (<-chan *llm.CompletionChunk, error) {
	ch := make(chan *llm.CompletionChunk, 1)
	ch <- &llm.CompletionChunk{Text: s.text, Done: true, InputTokens: 4, OutputTokens: 2}
	close(ch)
	return ch, nil
}

func (s *stubProvider) Name() string        { return "stub" }
func (s *stubProvider) Models() []llm.Model { return []llm.Model{{ID: "stub-model", Name: "Stub Model"}} }
func (s *stubProvider) SupportsTools() bool { return false }

type stubEmbedder struct{}

func (stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

// run feeds input (one JSON-RPC frame per line) to a fresh Dispatcher and
// returns the decoded frames it wrote, in order.
func run(t *testing.T, db *store.DB, engine *turn.Engine, router *index.Router, embedder index.Embedder, input string) []map[string]any {
	t.Helper()

	out := &bytes.Buffer{}
	codec := rpc.NewCodec(strings.NewReader(input), out)
	d := New(codec, db, engine, router, embedder, "test-version", nil)

	if err := d.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	var frames []map[string]any
	for _, line := range strings.Split(strings.TrimRight(out.String(), "\n"), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("unmarshal frame %q: %v", line, err)
		}
		frames = append(frames, m)
	}
	return frames
}

func newEngine(t *testing.T, text string) (*turn.Engine, *store.DB) {
	t.Helper()
	db, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	engine := turn.New(db, turn.Config{
		PromptBuilder:   promptctx.NewBuilder(promptctx.DefaultConfig()),
		Providers:       map[string]llm.Provider{"stub": &stubProvider{text: text}},
		DefaultProvider: "stub",
		DefaultModel:    "stub-model",
	})
	return engine, db
}

func TestDispatcherEmitsServerReadyOnStartup(t *testing.T) {
	engine, db := newEngine(t, "hi")
	frames := run(t, db, engine, nil, nil, "")

	if len(frames) != 1 {
		t.Fatalf("expected exactly one frame (server.ready), got %d: %+v", len(frames), frames)
	}
	if frames[0]["method"] != "server.ready" {
		t.Fatalf("expected server.ready, got %+v", frames[0])
	}
	params, _ := frames[0]["params"].(map[string]any)
	if params["version"] != "test-version" {
		t.Fatalf("expected version test-version, got %+v", params)
	}
}

func TestDispatcherUnknownMethodReturnsMethodNotFound(t *testing.T) {
	engine, db := newEngine(t, "hi")
	input := `{"jsonrpc":"2.0","id":1,"method":"bogus.method","params":{}}` + "\n"
	frames := run(t, db, engine, nil, nil, input)

	var resp map[string]any
	for _, f := range frames {
		if f["id"] != nil {
			resp = f
		}
	}
	if resp == nil {
		t.Fatal("expected a response frame")
	}
	errObj, ok := resp["error"].(map[string]any)
	if !ok {
		t.Fatalf("expected an error object, got %+v", resp)
	}
	if int(errObj["code"].(float64)) != rpc.CodeMethodNotFound {
		t.Fatalf("expected method-not-found code, got %+v", errObj)
	}
}

func TestDispatcherSessionCreateThenChatSend(t *testing.T) {
	engine, db := newEngine(t, "hello there")
	input := strings.Join([]string{
		`{"jsonrpc":"2.0","id":1,"method":"session.create","params":{"name":"s1"}}`,
		`{"jsonrpc":"2.0","id":2,"method":"chat.send","params":{"message":"hi","stream":false}}`,
	}, "\n") + "\n"

	frames := run(t, db, engine, nil, nil, input)

	var createResp, sendResp map[string]any
	for _, f := range frames {
		switch f["id"] {
		case float64(1):
			createResp = f
		case float64(2):
			sendResp = f
		}
	}
	if createResp == nil || createResp["result"] == nil {
		t.Fatalf("expected session.create result, got frames: %+v", frames)
	}
	result, _ := createResp["result"].(map[string]any)
	if result["id"] == "" || result["id"] == nil {
		t.Fatalf("expected a generated session id, got %+v", result)
	}

	if sendResp == nil || sendResp["result"] == nil {
		t.Fatalf("expected chat.send result, got frames: %+v", frames)
	}
	sendResult, _ := sendResp["result"].(map[string]any)
	if sendResult["response"] != "hello there" {
		t.Fatalf("expected response 'hello there', got %+v", sendResult)
	}
}

func TestDispatcherChatSendWithoutSessionIsInvalidParams(t *testing.T) {
	engine, db := newEngine(t, "hi")
	input := `{"jsonrpc":"2.0","id":1,"method":"chat.send","params":{"message":"hi"}}` + "\n"
	frames := run(t, db, engine, nil, nil, input)

	var resp map[string]any
	for _, f := range frames {
		if f["id"] != nil {
			resp = f
		}
	}
	errObj, ok := resp["error"].(map[string]any)
	if !ok {
		t.Fatalf("expected an error, got %+v", resp)
	}
	if int(errObj["code"].(float64)) != rpc.CodeInvalidParams {
		t.Fatalf("expected invalid-params code, got %+v", errObj)
	}
}

func TestDispatcherRAGSearchWithoutActiveCollectionDegradesGracefully(t *testing.T) {
	engine, db := newEngine(t, "hi")
	router := index.NewRouter(":memory:", func(collection, dbPath string) (index.Index, error) {
		return index.NewSQLiteIndex(collection, dbPath)
	})

	input := `{"jsonrpc":"2.0","id":1,"method":"rag.search","params":{"query":"foo"}}` + "\n"
	frames := run(t, db, engine, router, stubEmbedder{}, input)

	var resp map[string]any
	for _, f := range frames {
		if f["id"] != nil {
			resp = f
		}
	}
	result, ok := resp["result"].(map[string]any)
	if !ok {
		t.Fatalf("expected a result (not an RPC error) for graceful degradation, got %+v", resp)
	}
	if result["error"] == nil {
		t.Fatalf("expected an inline error field, got %+v", result)
	}
}

func TestDispatcherCodebaseInitThenRAGStatus(t *testing.T) {
	engine, db := newEngine(t, "hi")
	router := index.NewRouter(":memory:", func(collection, dbPath string) (index.Index, error) {
		return index.NewSQLiteIndex(collection, dbPath)
	})
	dir := t.TempDir()

	input := strings.Join([]string{
		`{"jsonrpc":"2.0","id":1,"method":"codebase.init","params":{"path":"` + dir + `"}}`,
		`{"jsonrpc":"2.0","id":2,"method":"rag.status","params":{}}`,
	}, "\n") + "\n"

	frames := run(t, db, engine, router, stubEmbedder{}, input)

	var statusResp map[string]any
	for _, f := range frames {
		if f["id"] == float64(2) {
			statusResp = f
		}
	}
	result, ok := statusResp["result"].(map[string]any)
	if !ok {
		t.Fatalf("expected rag.status result, got %+v", statusResp)
	}
	if result["initialized"] != true {
		t.Fatalf("expected initialized true after codebase.init, got %+v", result)
	}
}

func TestDispatcherTokensSetBudgetThenGet(t *testing.T) {
	engine, db := newEngine(t, "hi")
	input := strings.Join([]string{
		`{"jsonrpc":"2.0","id":1,"method":"session.create","params":{}}`,
		`{"jsonrpc":"2.0","id":2,"method":"tokens.set_budget","params":{"budget":1000}}`,
		`{"jsonrpc":"2.0","id":3,"method":"tokens.get","params":{}}`,
	}, "\n") + "\n"

	frames := run(t, db, engine, nil, nil, input)

	var getResp map[string]any
	for _, f := range frames {
		if f["id"] == float64(3) {
			getResp = f
		}
	}
	result, ok := getResp["result"].(map[string]any)
	if !ok {
		t.Fatalf("expected tokens.get result, got %+v", getResp)
	}
	if result["budget"] != float64(1000) {
		t.Fatalf("expected budget 1000 to be reported, got %+v", result)
	}
}

func TestDispatcherModelSetThenGet(t *testing.T) {
	engine, db := newEngine(t, "hi")
	input := strings.Join([]string{
		`{"jsonrpc":"2.0","id":1,"method":"session.create","params":{}}`,
		`{"jsonrpc":"2.0","id":2,"method":"model.set","params":{"model":"other-model"}}`,
		`{"jsonrpc":"2.0","id":3,"method":"model.get","params":{}}`,
	}, "\n") + "\n"

	frames := run(t, db, engine, nil, nil, input)

	var getResp map[string]any
	for _, f := range frames {
		if f["id"] == float64(3) {
			getResp = f
		}
	}
	result, ok := getResp["result"].(map[string]any)
	if !ok || result["model"] != "other-model" {
		t.Fatalf("expected model other-model, got %+v", getResp)
	}
}
