// Package toolloop drives the bounded re-prompt cycle that lets a turn use
// external tools: it advertises a tool catalog in the system prompt,
// watches model output for a structured call, executes it against a tool
// host, and feeds the result back for another round — up to a fixed number
// of iterations.
package toolloop

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/agentcore/agentcore/internal/toolhost"
)

// DefaultMaxIterations matches the original agent's max_tool_iterations.
const DefaultMaxIterations = 10

// CompletionFunc asks the model for one non-streaming response given the
// current system prompt and user-facing message. The tool loop calls this
// once per iteration; the Turn Engine supplies the binding to an llm.Provider.
type CompletionFunc func(ctx context.Context, systemPrompt, message string) (CompletionResult, error)

// CompletionResult is one model response plus the token counts it reported.
type CompletionResult struct {
	Text         string
	InputTokens  int
	OutputTokens int
}

// ToolCaller dispatches a named tool call, the surface internal/toolhost.Host
// satisfies. Declared narrowly here so toolloop can be tested without a real
// Host.
type ToolCaller interface {
	CallTool(ctx context.Context, name string, args json.RawMessage) (*toolhost.CallResult, error)
}

// Options configures one Run.
type Options struct {
	SystemPrompt  string
	Message       string
	Tools         []toolhost.ToolDescriptor
	Caller        ToolCaller
	Complete      CompletionFunc
	MaxIterations int // 0 means DefaultMaxIterations
}

// Call records one executed tool invocation, kept so a capped loop can
// summarize what it did and so the running context can replay prior results.
type Call struct {
	Name   string
	Args   json.RawMessage
	Result string
	Error  string
}

// Result is the outcome of Run: either the model's final natural-language
// answer, or (if the iteration cap was hit) a synthetic summary.
type Result struct {
	Text         string
	Iterations   int
	Calls        []Call
	InputTokens  int
	OutputTokens int
	HitLimit     bool
}

// Run executes the bounded tool loop described by opts. On every exit path
// (a final answer, the iteration cap, or an error) the caller's system
// prompt is never mutated in place — Run builds its own tool-augmented
// prompt locally and never touches opts.SystemPrompt itself.
func Run(ctx context.Context, opts Options) (*Result, error) {
	maxIter := opts.MaxIterations
	if maxIter <= 0 {
		maxIter = DefaultMaxIterations
	}

	systemPrompt := opts.SystemPrompt
	if catalog := renderCatalog(opts.Tools); catalog != "" {
		systemPrompt = strings.TrimRight(systemPrompt, "\n") + "\n" + catalog
	}

	res := &Result{}
	message := opts.Message

	for iteration := 1; iteration <= maxIter; iteration++ {
		res.Iterations = iteration

		contextMessage := message
		if len(res.Calls) > 0 {
			contextMessage = fmt.Sprintf("%s\n\nPrevious tool results:\n%s\n\nNow provide your response:",
				message, renderPriorResults(res.Calls))
		}

		completion, err := opts.Complete(ctx, systemPrompt, contextMessage)
		if err != nil {
			return nil, fmt.Errorf("toolloop: completion: %w", err)
		}
		res.InputTokens += completion.InputTokens
		res.OutputTokens += completion.OutputTokens

		call, args, ok := parseToolCall(completion.Text)
		if !ok {
			res.Text = completion.Text
			return res, nil
		}

		callResult, err := opts.Caller.CallTool(ctx, call, args)
		executed := Call{Name: call, Args: args}
		if err != nil {
			executed.Error = err.Error()
		} else if callResult.IsError {
			executed.Error = callResult.Text
		} else {
			executed.Result = callResult.Text
		}
		res.Calls = append(res.Calls, executed)
	}

	res.HitLimit = true
	res.Text = summarizeLimit(res.Calls)
	return res, nil
}

func summarizeLimit(calls []Call) string {
	var sb strings.Builder
	sb.WriteString("I've used the maximum number of tool calls. Here's what I found:\n")
	for _, c := range calls {
		outcome := c.Result
		if c.Error != "" {
			outcome = "error: " + c.Error
		}
		fmt.Fprintf(&sb, "- %s: %s\n", c.Name, outcome)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func renderPriorResults(calls []Call) string {
	var sb strings.Builder
	for i, c := range calls {
		if i > 0 {
			sb.WriteString("\n")
		}
		if c.Error != "" {
			fmt.Fprintf(&sb, "Tool %s failed with: %s", c.Name, c.Error)
		} else {
			fmt.Fprintf(&sb, "Tool %s returned: %s", c.Name, c.Result)
		}
	}
	return sb.String()
}

func renderCatalog(tools []toolhost.ToolDescriptor) string {
	if len(tools) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("\nYou have access to the following tools:\n\n")
	for _, t := range tools {
		fmt.Fprintf(&sb, "- %s(%s): %s\n", t.Name, paramSummary(t.InputSchema), t.Description)
	}
	sb.WriteString("\nTo use a tool, respond with a JSON object in this exact format:\n")
	sb.WriteString(`{"tool": "tool_name", "args": {"param1": "value1"}}`)
	sb.WriteString("\n\nOnly use tools when necessary to answer the user's question.\n")
	sb.WriteString("After receiving tool results, provide a natural language response.\n")
	return sb.String()
}

func paramSummary(schema json.RawMessage) string {
	if len(schema) == 0 {
		return ""
	}
	var parsed struct {
		Properties map[string]struct {
			Type string `json:"type"`
		} `json:"properties"`
	}
	if err := json.Unmarshal(schema, &parsed); err != nil {
		return ""
	}
	parts := make([]string, 0, len(parsed.Properties))
	for name, prop := range parsed.Properties {
		typ := prop.Type
		if typ == "" {
			typ = "any"
		}
		parts = append(parts, fmt.Sprintf("%s: %s", name, typ))
	}
	return strings.Join(parts, ", ")
}
