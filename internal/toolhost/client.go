package toolhost

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const protocolVersion = "2024-11-05"

// client supervises a single tool server connection: it owns the
// transport, the discovered tool catalog, and the compiled schema used to
// validate call arguments before they're sent over the wire.
type client struct {
	cfg       *ServerConfig
	transport clientTransport
	logger    *slog.Logger

	mu     sync.RWMutex
	tools  []ToolDescriptor
	schema map[string]*jsonschema.Schema // tool name -> compiled input schema
}

func newClient(cfg *ServerConfig) *client {
	return &client{
		cfg:       cfg,
		transport: newTransport(cfg),
		logger:    slog.Default().With("tool_server", cfg.ID),
		schema:    make(map[string]*jsonschema.Schema),
	}
}

// connect starts the transport, runs the initialize handshake, and
// discovers the server's tool catalog.
func (c *client) connect(ctx context.Context) error {
	if err := c.transport.Connect(ctx); err != nil {
		return fmt.Errorf("toolhost: transport connect: %w", err)
	}

	result, err := c.transport.Call(ctx, "initialize", map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo":      map[string]any{"name": "agentcore", "version": "1.0.0"},
	})
	if err != nil {
		c.transport.Close()
		return fmt.Errorf("toolhost: initialize: %w", err)
	}
	var initResult initializeResult
	if err := json.Unmarshal(result, &initResult); err != nil {
		c.transport.Close()
		return fmt.Errorf("toolhost: parse initialize result: %w", err)
	}
	c.logger.Info("connected to tool server",
		"name", initResult.ServerInfo.Name,
		"version", initResult.ServerInfo.Version,
		"protocol", initResult.ProtocolVersion)

	if err := c.transport.Notify(ctx, "notifications/initialized", nil); err != nil {
		c.logger.Warn("failed to send initialized notification", "error", err)
	}

	return c.refreshTools(ctx)
}

func (c *client) refreshTools(ctx context.Context) error {
	result, err := c.transport.Call(ctx, "tools/list", nil)
	if err != nil {
		return fmt.Errorf("toolhost: tools/list: %w", err)
	}
	var resp listToolsResult
	if err := json.Unmarshal(result, &resp); err != nil {
		return fmt.Errorf("toolhost: parse tools/list: %w", err)
	}

	tools := make([]ToolDescriptor, 0, len(resp.Tools))
	schemas := make(map[string]*jsonschema.Schema, len(resp.Tools))
	for _, t := range resp.Tools {
		desc := ToolDescriptor{Name: t.Name, Description: t.Description, InputSchema: t.InputSchema, ServerID: c.cfg.ID}
		if sch, err := compileSchema(t.Name, t.InputSchema); err != nil {
			c.logger.Warn("discarding tool with invalid input schema", "tool", t.Name, "error", err)
			continue
		} else {
			schemas[t.Name] = sch
		}
		tools = append(tools, desc)
	}

	c.mu.Lock()
	c.tools = tools
	c.schema = schemas
	c.mu.Unlock()
	return nil
}

func (c *client) toolDescriptors() []ToolDescriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]ToolDescriptor, len(c.tools))
	copy(out, c.tools)
	return out
}

// callTool validates args against the tool's compiled schema, then
// dispatches tools/call and flattens the reply's content array to text.
func (c *client) callTool(ctx context.Context, name string, args json.RawMessage) (*CallResult, error) {
	c.mu.RLock()
	sch := c.schema[name]
	c.mu.RUnlock()

	if sch != nil {
		if err := validateAgainstSchema(sch, args); err != nil {
			return nil, fmt.Errorf("toolhost: invalid arguments for %s: %w", name, err)
		}
	}

	params := callToolParams{Name: name, Arguments: args}
	result, err := c.transport.Call(ctx, "tools/call", params)
	if err != nil {
		return nil, err
	}

	var parsed callToolResult
	if err := json.Unmarshal(result, &parsed); err != nil {
		return nil, fmt.Errorf("toolhost: parse tools/call result: %w", err)
	}

	var sb strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return &CallResult{Text: sb.String(), IsError: parsed.IsError}, nil
}

func (c *client) close() error {
	return c.transport.Close()
}
