package llm

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestClassifyErrorFromMessageText(t *testing.T) {
	cases := []struct {
		msg  string
		want FailureReason
	}{
		{"request timeout after 30s", FailureTimeout},
		{"context deadline exceeded", FailureTimeout},
		{"rate limit exceeded, retry later", FailureRateLimit},
		{"received 429 from upstream", FailureRateLimit},
		{"unauthorized: invalid api key", FailureAuth},
		{"403 forbidden", FailureAuth},
		{"internal server error", FailureServerError},
		{"upstream returned 503", FailureServerError},
		{"400 invalid request: missing field", FailureInvalid},
		{"something went sideways", FailureUnknown},
	}
	for _, c := range cases {
		got := ClassifyError(errors.New(c.msg))
		if got != c.want {
			t.Errorf("ClassifyError(%q) = %s, want %s", c.msg, got, c.want)
		}
	}
}

func TestClassifyStatusCode(t *testing.T) {
	cases := []struct {
		status int
		want   FailureReason
	}{
		{401, FailureAuth},
		{403, FailureAuth},
		{429, FailureRateLimit},
		{400, FailureInvalid},
		{500, FailureServerError},
		{502, FailureServerError},
		{200, FailureUnknown},
	}
	for _, c := range cases {
		got := classifyStatusCode(c.status)
		if got != c.want {
			t.Errorf("classifyStatusCode(%d) = %s, want %s", c.status, got, c.want)
		}
	}
}

func TestFailureReasonIsRetryable(t *testing.T) {
	retryable := []FailureReason{FailureRateLimit, FailureTimeout, FailureServerError}
	for _, r := range retryable {
		if !r.IsRetryable() {
			t.Errorf("%s should be retryable", r)
		}
	}
	notRetryable := []FailureReason{FailureAuth, FailureInvalid, FailureUnknown}
	for _, r := range notRetryable {
		if r.IsRetryable() {
			t.Errorf("%s should not be retryable", r)
		}
	}
}

func TestIsRetryableUnwrapsProviderError(t *testing.T) {
	pe := NewProviderError("anthropic", "claude-sonnet-4-20250514", errors.New("rate limit exceeded"))
	if !IsRetryable(pe) {
		t.Fatal("expected rate-limited provider error to be retryable")
	}

	pe2 := NewProviderError("anthropic", "claude-sonnet-4-20250514", errors.New("unauthorized"))
	if IsRetryable(pe2) {
		t.Fatal("expected auth provider error to not be retryable")
	}
}

func TestProviderErrorWithStatusReclassifies(t *testing.T) {
	pe := NewProviderError("openai", "gpt-4o", errors.New("boom"))
	pe.WithStatus(429)
	if pe.Reason != FailureRateLimit {
		t.Fatalf("expected reason %s after WithStatus(429), got %s", FailureRateLimit, pe.Reason)
	}
	if pe.Status != 429 {
		t.Fatalf("expected status 429, got %d", pe.Status)
	}
}

func TestProviderErrorMessageFormat(t *testing.T) {
	pe := NewProviderError("anthropic", "claude-sonnet-4-20250514", errors.New("boom"))
	pe.WithStatus(500)
	msg := pe.Error()
	if msg == "" {
		t.Fatal("expected non-empty error message")
	}
	if !errors.Is(errors.Unwrap(pe), pe.Cause) {
		t.Fatalf("expected Unwrap to return cause")
	}
}

func TestAnthropicConvertToolsRejectsInvalidSchema(t *testing.T) {
	p := &AnthropicProvider{}
	_, err := p.convertTools([]ToolDefinition{{Name: "broken", InputSchema: json.RawMessage(`not json`)}})
	if err == nil {
		t.Fatal("expected error for invalid tool schema")
	}
}

func TestAnthropicConvertMessagesBuildsToolResultAndUseBlocks(t *testing.T) {
	p := &AnthropicProvider{}
	messages := []CompletionMessage{
		{Role: "user", Content: "hello"},
		{
			Role: "assistant",
			ToolCalls: []ToolCall{
				{ID: "call_1", Name: "search", Input: json.RawMessage(`{"query":"go"}`)},
			},
		},
		{
			Role: "user",
			ToolResults: []ToolResult{
				{ToolCallID: "call_1", Content: "result text"},
			},
		},
	}
	converted, err := p.convertMessages(messages)
	if err != nil {
		t.Fatalf("convertMessages returned error: %v", err)
	}
	if len(converted) != 3 {
		t.Fatalf("expected 3 converted messages, got %d", len(converted))
	}
}

func TestOpenAIConvertMessagesHandlesToolRoleAndSystem(t *testing.T) {
	p := &OpenAIProvider{}
	messages := []CompletionMessage{
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "", ToolCalls: []ToolCall{{ID: "t1", Name: "lookup", Input: json.RawMessage(`{}`)}}},
		{Role: "tool", ToolResults: []ToolResult{{ToolCallID: "t1", Content: "42"}}},
	}
	converted := p.convertMessages(messages, "you are a helpful agent")
	if len(converted) != 4 {
		t.Fatalf("expected 4 messages (system + 3), got %d", len(converted))
	}
	if converted[0].Role != "system" {
		t.Fatalf("expected first message to be system, got %s", converted[0].Role)
	}
}

func TestOpenAIConvertToolsFallsBackOnInvalidSchema(t *testing.T) {
	p := &OpenAIProvider{}
	tools := p.convertTools([]ToolDefinition{{Name: "bad", InputSchema: json.RawMessage(`not json`)}})
	if len(tools) != 1 {
		t.Fatalf("expected 1 tool, got %d", len(tools))
	}
	if tools[0].Function.Parameters == nil {
		t.Fatal("expected fallback schema to be set")
	}
}

func TestBedrockConvertMessagesSkipsSystemAndEmptyContent(t *testing.T) {
	p := &BedrockProvider{}
	messages := []CompletionMessage{
		{Role: "system", Content: "ignored"},
		{Role: "user", Content: "hello"},
		{Role: "assistant", Content: ""},
	}
	converted := p.convertMessages(messages)
	if len(converted) != 1 {
		t.Fatalf("expected 1 converted message (system skipped, empty-content assistant skipped), got %d", len(converted))
	}
}

func TestBedrockConvertToolsBuildsSpecs(t *testing.T) {
	p := &BedrockProvider{}
	cfg := p.convertTools([]ToolDefinition{
		{Name: "search", Description: "search the web", InputSchema: json.RawMessage(`{"type":"object"}`)},
	})
	if len(cfg.Tools) != 1 {
		t.Fatalf("expected 1 tool spec, got %d", len(cfg.Tools))
	}
}

func TestNewOpenAIProviderEmptyKeyFailsOnComplete(t *testing.T) {
	p := NewOpenAIProvider("")
	_, err := p.Complete(nil, &CompletionRequest{})
	if err == nil {
		t.Fatal("expected error when API key is empty")
	}
}

func TestNewAnthropicProviderRequiresAPIKey(t *testing.T) {
	_, err := NewAnthropicProvider(AnthropicConfig{})
	if err == nil {
		t.Fatal("expected error when API key is empty")
	}
}
