package toolloop

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/agentcore/agentcore/internal/toolhost"
)

func TestParseToolCallFindsBalancedRegion(t *testing.T) {
	text := `Sure, let me check that. {"tool": "search", "args": {"query": "braces {nested}"}} done.`
	name, args, ok := parseToolCall(text)
	if !ok {
		t.Fatal("expected a tool call to be found")
	}
	if name != "search" {
		t.Fatalf("expected tool name search, got %q", name)
	}
	var decoded map[string]string
	if err := json.Unmarshal(args, &decoded); err != nil {
		t.Fatalf("args not valid json: %v", err)
	}
	if decoded["query"] != "braces {nested}" {
		t.Fatalf("expected nested braces preserved, got %q", decoded["query"])
	}
}

func TestParseToolCallNoMatchIsFinalAnswer(t *testing.T) {
	_, _, ok := parseToolCall("The answer is 42, no tools needed.")
	if ok {
		t.Fatal("expected no tool call to be found in plain text")
	}
}

func TestParseToolCallSkipsBraceWithoutToolKey(t *testing.T) {
	text := `Here's some data: {"foo": "bar"} and then {"tool": "search", "args": {}}`
	name, _, ok := parseToolCall(text)
	if !ok || name != "search" {
		t.Fatalf("expected to skip the first brace and find search, got name=%q ok=%v", name, ok)
	}
}

func TestParseToolCallDefaultsEmptyArgs(t *testing.T) {
	name, args, ok := parseToolCall(`{"tool": "noop"}`)
	if !ok || name != "noop" {
		t.Fatal("expected noop tool call to be found")
	}
	if string(args) != "{}" {
		t.Fatalf("expected empty args to default to {}, got %s", args)
	}
}

type fakeCaller struct {
	results map[string]*toolhost.CallResult
	errs    map[string]error
	calls   []string
}

func (f *fakeCaller) CallTool(ctx context.Context, name string, args json.RawMessage) (*toolhost.CallResult, error) {
	f.calls = append(f.calls, name)
	if err, ok := f.errs[name]; ok {
		return nil, err
	}
	if r, ok := f.results[name]; ok {
		return r, nil
	}
	return &toolhost.CallResult{Text: "ok"}, nil
}

func TestRunReturnsFinalAnswerWithNoToolCall(t *testing.T) {
	complete := func(ctx context.Context, systemPrompt, message string) (CompletionResult, error) {
		return CompletionResult{Text: "hello there", InputTokens: 10, OutputTokens: 5}, nil
	}
	res, err := Run(context.Background(), Options{
		Message:  "hi",
		Complete: complete,
		Caller:   &fakeCaller{},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Text != "hello there" {
		t.Fatalf("expected final text, got %q", res.Text)
	}
	if res.Iterations != 1 {
		t.Fatalf("expected 1 iteration, got %d", res.Iterations)
	}
	if res.InputTokens != 10 || res.OutputTokens != 5 {
		t.Fatalf("expected token counts to propagate, got in=%d out=%d", res.InputTokens, res.OutputTokens)
	}
}

func TestRunExecutesToolThenReturnsFollowup(t *testing.T) {
	calls := 0
	complete := func(ctx context.Context, systemPrompt, message string) (CompletionResult, error) {
		calls++
		if calls == 1 {
			return CompletionResult{Text: `{"tool": "search", "args": {"q": "go"}}`}, nil
		}
		return CompletionResult{Text: "final answer using tool results"}, nil
	}
	caller := &fakeCaller{results: map[string]*toolhost.CallResult{"search": {Text: "found it"}}}

	res, err := Run(context.Background(), Options{
		Message:  "look something up",
		Complete: complete,
		Caller:   caller,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Text != "final answer using tool results" {
		t.Fatalf("unexpected final text: %q", res.Text)
	}
	if res.Iterations != 2 {
		t.Fatalf("expected 2 iterations, got %d", res.Iterations)
	}
	if len(res.Calls) != 1 || res.Calls[0].Name != "search" || res.Calls[0].Result != "found it" {
		t.Fatalf("unexpected call record: %+v", res.Calls)
	}
}

func TestRunHitsIterationCapAndSummarizes(t *testing.T) {
	complete := func(ctx context.Context, systemPrompt, message string) (CompletionResult, error) {
		return CompletionResult{Text: `{"tool": "noop", "args": {}}`}, nil
	}
	caller := &fakeCaller{results: map[string]*toolhost.CallResult{"noop": {Text: `{"ok":true}`}}}

	res, err := Run(context.Background(), Options{
		Message:       "loop forever",
		Complete:      complete,
		Caller:        caller,
		MaxIterations: 3,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.HitLimit {
		t.Fatal("expected HitLimit to be set")
	}
	if len(res.Calls) != 3 {
		t.Fatalf("expected exactly 3 executions, got %d", len(res.Calls))
	}
	if len(caller.calls) != 3 {
		t.Fatalf("expected exactly 3 dispatches to the tool host, got %d", len(caller.calls))
	}
}

func TestRunAccumulatesAllPriorResultsEachIteration(t *testing.T) {
	var seenMessages []string
	iteration := 0
	complete := func(ctx context.Context, systemPrompt, message string) (CompletionResult, error) {
		iteration++
		seenMessages = append(seenMessages, message)
		if iteration < 3 {
			return CompletionResult{Text: `{"tool": "search", "args": {}}`}, nil
		}
		return CompletionResult{Text: "done"}, nil
	}
	caller := &fakeCaller{results: map[string]*toolhost.CallResult{"search": {Text: "a result"}}}

	_, err := Run(context.Background(), Options{Message: "query", Complete: complete, Caller: caller})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	// The third call's context message must mention both prior tool
	// invocations, not just the most recent one.
	last := seenMessages[len(seenMessages)-1]
	if occurrences := strings.Count(last, "Tool search returned"); occurrences != 2 {
		t.Fatalf("expected both prior tool results accumulated in final prompt, found %d mentions", occurrences)
	}
}

func TestRunPropagatesCallerError(t *testing.T) {
	complete := func(ctx context.Context, systemPrompt, message string) (CompletionResult, error) {
		return CompletionResult{Text: `{"tool": "broken", "args": {}}`}, nil
	}
	caller := &fakeCaller{errs: map[string]error{"broken": errors.New("subprocess crashed")}}

	res, err := Run(context.Background(), Options{
		Message:       "try a broken tool",
		Complete:      complete,
		Caller:        caller,
		MaxIterations: 1,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Calls) != 1 || res.Calls[0].Error != "subprocess crashed" {
		t.Fatalf("expected recorded error, got %+v", res.Calls)
	}
}

func TestRenderCatalogIncludesToolGrammar(t *testing.T) {
	catalog := renderCatalog([]toolhost.ToolDescriptor{
		{Name: "search", Description: "search the web", InputSchema: json.RawMessage(`{"properties":{"query":{"type":"string"}}}`)},
	})
	if catalog == "" {
		t.Fatal("expected non-empty catalog")
	}
	if !strings.Contains(catalog, "search") || !strings.Contains(catalog, `"tool": "tool_name"`) {
		t.Fatalf("expected catalog to name the tool and show call grammar, got %q", catalog)
	}
}
