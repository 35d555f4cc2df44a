// Package llm defines the provider-agnostic boundary between the turn
// engine and a remote model backend, plus adapters for the concrete
// backends this runtime ships with.
package llm

import (
	"context"
	"encoding/json"
)

// Provider is implemented by each backend (Anthropic, OpenAI, Bedrock).
// Implementations must be safe for concurrent use: the turn engine may
// call Complete for different sessions from different goroutines.
type Provider interface {
	// Complete sends a prompt and streams the response back chunk by chunk.
	// The returned channel is always closed, exactly once, by the provider.
	Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error)

	// Name identifies the provider for logging and routing ("anthropic",
	// "openai", "bedrock").
	Name() string

	// Models lists the models this provider exposes.
	Models() []Model

	// SupportsTools reports whether this provider can receive ToolCall
	// requests and return ToolCall chunks.
	SupportsTools() bool
}

// CompletionRequest is a single turn's worth of context sent to a Provider.
type CompletionRequest struct {
	Model     string               `json:"model"`
	System    string               `json:"system,omitempty"`
	Messages  []CompletionMessage  `json:"messages"`
	Tools     []ToolDefinition     `json:"tools,omitempty"`
	MaxTokens int                  `json:"max_tokens,omitempty"`
}

// CompletionMessage is one turn of conversation sent to the provider.
// Role is "user", "assistant", or "tool".
type CompletionMessage struct {
	Role        string       `json:"role"`
	Content     string       `json:"content,omitempty"`
	ToolCalls   []ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []ToolResult `json:"tool_results,omitempty"`
}

// ToolDefinition describes one tool available to the model for this
// request, discovered from a running tool subprocess via the toolhost.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// ToolCall is a request from the model to execute a tool.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResult is the outcome of executing a ToolCall, sent back to the model
// in a subsequent CompletionRequest.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

// CompletionChunk is one increment of a streaming response. Exactly one of
// Text, ToolCall, Done, or Error is meaningful per chunk; the final chunk on
// a successful stream has Done set along with token counts.
type CompletionChunk struct {
	Text         string    `json:"text,omitempty"`
	ToolCall     *ToolCall `json:"tool_call,omitempty"`
	Done         bool      `json:"done,omitempty"`
	Error        error     `json:"-"`
	InputTokens  int       `json:"input_tokens,omitempty"`
	OutputTokens int       `json:"output_tokens,omitempty"`
}

// Model describes one model a Provider can serve.
type Model struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ContextSize int    `json:"context_size"`
}
