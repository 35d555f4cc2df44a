package toolhost

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
)

// Host supervises a set of tool servers and aggregates their discovered
// tools into a single namespace keyed by tool name. Two servers that
// advertise the same tool name: the later Connect wins, and a warning is
// logged, since the flat namespace has no room for disambiguation.
type Host struct {
	logger *slog.Logger

	mu      sync.RWMutex
	clients map[string]*client        // server id -> client
	owners  map[string]string         // tool name -> server id
	tools   map[string]ToolDescriptor // tool name -> descriptor
}

// NewHost creates an empty Host. Servers are added with Connect.
func NewHost() *Host {
	return &Host{
		logger:  slog.Default().With("component", "toolhost"),
		clients: make(map[string]*client),
		owners:  make(map[string]string),
		tools:   make(map[string]ToolDescriptor),
	}
}

// Start connects every server in cfgs flagged AutoStart, continuing past
// individual connection failures so one broken tool server doesn't prevent
// the others from coming up.
func (h *Host) Start(ctx context.Context, cfgs []*ServerConfig) {
	for _, cfg := range cfgs {
		if !cfg.AutoStart {
			continue
		}
		if err := h.Connect(ctx, cfg); err != nil {
			h.logger.Error("failed to connect tool server", "server", cfg.ID, "error", err)
		}
	}
}

// Connect starts cfg's subprocess (or HTTP session), discovers its tools,
// and merges them into the flat namespace.
func (h *Host) Connect(ctx context.Context, cfg *ServerConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	h.mu.RLock()
	_, exists := h.clients[cfg.ID]
	h.mu.RUnlock()
	if exists {
		return nil
	}

	c := newClient(cfg)
	if err := c.connect(ctx); err != nil {
		return err
	}

	h.mu.Lock()
	h.clients[cfg.ID] = c
	for _, t := range c.toolDescriptors() {
		if owner, ok := h.owners[t.Name]; ok && owner != cfg.ID {
			h.logger.Warn("tool name collision, overriding owner", "tool", t.Name, "previous_server", owner, "new_server", cfg.ID)
		}
		h.owners[t.Name] = cfg.ID
		h.tools[t.Name] = t
	}
	h.mu.Unlock()

	return nil
}

// Disconnect closes and forgets serverID's client, dropping its tools from
// the namespace.
func (h *Host) Disconnect(serverID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.clients[serverID]
	if !ok {
		return nil
	}
	err := c.close()
	delete(h.clients, serverID)
	for name, owner := range h.owners {
		if owner == serverID {
			delete(h.owners, name)
			delete(h.tools, name)
		}
	}
	return err
}

// Shutdown disconnects every server, terminating subprocesses and killing
// them after the grace period if they don't exit on their own.
func (h *Host) Shutdown() {
	h.mu.Lock()
	ids := make([]string, 0, len(h.clients))
	for id := range h.clients {
		ids = append(ids, id)
	}
	h.mu.Unlock()

	for _, id := range ids {
		if err := h.Disconnect(id); err != nil {
			h.logger.Error("failed to close tool server", "server", id, "error", err)
		}
	}
}

// Tools returns every discovered tool across all connected servers.
func (h *Host) Tools() []ToolDescriptor {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]ToolDescriptor, 0, len(h.tools))
	for _, t := range h.tools {
		out = append(out, t)
	}
	return out
}

// CallTool locates the server owning name and dispatches tools/call to it.
func (h *Host) CallTool(ctx context.Context, name string, args json.RawMessage) (*CallResult, error) {
	h.mu.RLock()
	serverID, ok := h.owners[name]
	var c *client
	if ok {
		c = h.clients[serverID]
	}
	h.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	if c == nil {
		return nil, fmt.Errorf("%w: %s", ErrServerNotFound, serverID)
	}
	return c.callTool(ctx, name, args)
}
