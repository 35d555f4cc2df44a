package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicProvider implements Provider against the Anthropic Messages API.
type AnthropicProvider struct {
	client       anthropic.Client
	maxRetries   int
	retryDelay   time.Duration
	defaultModel string
}

// AnthropicConfig configures an AnthropicProvider.
type AnthropicConfig struct {
	APIKey       string
	BaseURL      string
	MaxRetries   int
	RetryDelay   time.Duration
	DefaultModel string
}

// NewAnthropicProvider validates config and builds the underlying SDK client.
func NewAnthropicProvider(cfg AnthropicConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "claude-sonnet-4-20250514"
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &AnthropicProvider{
		client:       anthropic.NewClient(opts...),
		maxRetries:   cfg.MaxRetries,
		retryDelay:   cfg.RetryDelay,
		defaultModel: cfg.DefaultModel,
	}, nil
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

func (p *AnthropicProvider) Models() []Model {
	return []Model{
		{ID: "claude-sonnet-4-20250514", Name: "Claude Sonnet 4", ContextSize: 200000},
		{ID: "claude-opus-4-20250514", Name: "Claude Opus 4", ContextSize: 200000},
		{ID: "claude-3-5-sonnet-20241022", Name: "Claude 3.5 Sonnet", ContextSize: 200000},
		{ID: "claude-3-haiku-20240307", Name: "Claude 3 Haiku", ContextSize: 200000},
	}
}

func (p *AnthropicProvider) SupportsTools() bool { return true }

// Complete streams a completion, retrying transient failures (rate limits,
// 5xx, timeouts) with exponential backoff before giving up.
func (p *AnthropicProvider) Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error) {
	chunks := make(chan *CompletionChunk)

	go func() {
		defer close(chunks)

		messages, err := p.convertMessages(req.Messages)
		if err != nil {
			chunks <- &CompletionChunk{Error: fmt.Errorf("anthropic: convert messages: %w", err)}
			return
		}

		params := anthropic.MessageNewParams{
			Model:     anthropic.Model(p.model(req.Model)),
			Messages:  messages,
			MaxTokens: int64(p.maxTokens(req.MaxTokens)),
		}
		if req.System != "" {
			params.System = []anthropic.TextBlockParam{{Type: "text", Text: req.System}}
		}
		if len(req.Tools) > 0 {
			tools, err := p.convertTools(req.Tools)
			if err != nil {
				chunks <- &CompletionChunk{Error: fmt.Errorf("anthropic: convert tools: %w", err)}
				return
			}
			params.Tools = tools
		}

		var stream interface {
			Next() bool
			Current() anthropic.MessageStreamEventUnion
			Err() error
		}

		var lastErr error
		for attempt := 0; attempt <= p.maxRetries; attempt++ {
			s := p.client.Messages.NewStreaming(ctx, params)
			stream, lastErr = s, nil

			// The streaming call itself doesn't fail synchronously; errors
			// surface on the first Next()/Err() pass below, so probe once
			// before committing to this attempt.
			if !s.Next() {
				lastErr = s.Err()
			}
			if lastErr == nil {
				p.processStream(s, chunks, p.model(req.Model), true)
				return
			}

			wrapped := p.wrapError(lastErr, p.model(req.Model))
			if !IsRetryable(wrapped) || attempt == p.maxRetries {
				chunks <- &CompletionChunk{Error: wrapped}
				return
			}
			backoff := p.retryDelay * time.Duration(math.Pow(2, float64(attempt)))
			select {
			case <-ctx.Done():
				chunks <- &CompletionChunk{Error: ctx.Err()}
				return
			case <-time.After(backoff):
			}
		}
	}()

	return chunks, nil
}

// processStream drains stream, converting each SSE event to a CompletionChunk.
// primed indicates the caller already advanced the stream once via Next() to
// probe for a connection error.
func (p *AnthropicProvider) processStream(stream interface {
	Next() bool
	Current() anthropic.MessageStreamEventUnion
	Err() error
}, chunks chan<- *CompletionChunk, model string, primed bool) {
	var currentToolCall *ToolCall
	var currentToolInput strings.Builder
	var inputTokens, outputTokens int

	handle := func(event anthropic.MessageStreamEventUnion) bool {
		switch event.Type {
		case "message_start":
			if usage := event.AsMessageStart().Message.Usage; usage.InputTokens > 0 {
				inputTokens = int(usage.InputTokens)
			}
		case "content_block_start":
			block := event.AsContentBlockStart().ContentBlock
			if block.Type == "tool_use" {
				toolUse := block.AsToolUse()
				currentToolCall = &ToolCall{ID: toolUse.ID, Name: toolUse.Name}
				currentToolInput.Reset()
			}
		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					chunks <- &CompletionChunk{Text: delta.Text}
				}
			case "input_json_delta":
				currentToolInput.WriteString(delta.PartialJSON)
			}
		case "content_block_stop":
			if currentToolCall != nil {
				currentToolCall.Input = json.RawMessage(currentToolInput.String())
				chunks <- &CompletionChunk{ToolCall: currentToolCall}
				currentToolCall = nil
			}
		case "message_delta":
			if usage := event.AsMessageDelta().Usage; usage.OutputTokens > 0 {
				outputTokens = int(usage.OutputTokens)
			}
		case "message_stop":
			chunks <- &CompletionChunk{Done: true, InputTokens: inputTokens, OutputTokens: outputTokens}
			return false
		case "error":
			chunks <- &CompletionChunk{Error: p.wrapError(errors.New("anthropic stream error"), model)}
			return false
		}
		return true
	}

	if primed {
		if !handle(stream.Current()) {
			return
		}
	}
	for stream.Next() {
		if !handle(stream.Current()) {
			return
		}
	}
	if err := stream.Err(); err != nil {
		chunks <- &CompletionChunk{Error: p.wrapError(err, model)}
	}
}

func (p *AnthropicProvider) convertMessages(messages []CompletionMessage) ([]anthropic.MessageParam, error) {
	var result []anthropic.MessageParam
	for _, msg := range messages {
		if msg.Role == "system" {
			continue
		}

		var content []anthropic.ContentBlockParamUnion
		if msg.Content != "" {
			content = append(content, anthropic.NewTextBlock(msg.Content))
		}
		for _, tr := range msg.ToolResults {
			content = append(content, anthropic.NewToolResultBlock(tr.ToolCallID, tr.Content, tr.IsError))
		}
		for _, tc := range msg.ToolCalls {
			var input map[string]any
			if err := json.Unmarshal(tc.Input, &input); err != nil {
				return nil, fmt.Errorf("invalid tool call input: %w", err)
			}
			content = append(content, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
		}

		if msg.Role == "assistant" {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}
	return result, nil
}

func (p *AnthropicProvider) convertTools(tools []ToolDefinition) ([]anthropic.ToolUnionParam, error) {
	var result []anthropic.ToolUnionParam
	for _, t := range tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(t.InputSchema, &schema); err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", t.Name, err)
		}
		toolParam := anthropic.ToolUnionParamOfTool(schema, t.Name)
		if toolParam.OfTool == nil {
			return nil, fmt.Errorf("invalid tool schema for %s: missing tool definition", t.Name)
		}
		toolParam.OfTool.Description = anthropic.String(t.Description)
		result = append(result, toolParam)
	}
	return result, nil
}

func (p *AnthropicProvider) model(requested string) string {
	if requested == "" {
		return p.defaultModel
	}
	return requested
}

func (p *AnthropicProvider) maxTokens(requested int) int {
	if requested <= 0 {
		return 4096
	}
	return requested
}

func (p *AnthropicProvider) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		pe := NewProviderError("anthropic", model, err).WithStatus(apiErr.StatusCode)
		pe.RequestID = apiErr.RequestID
		return pe
	}
	return NewProviderError("anthropic", model, err)
}
