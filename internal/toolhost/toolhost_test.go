package toolhost

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

func TestServerConfigValidate(t *testing.T) {
	cases := []struct {
		name    string
		cfg     ServerConfig
		wantErr bool
	}{
		{"valid stdio", ServerConfig{ID: "a", Transport: TransportStdio, Command: "tool"}, false},
		{"stdio missing command", ServerConfig{ID: "a", Transport: TransportStdio}, true},
		{"valid http", ServerConfig{ID: "a", Transport: TransportHTTP, URL: "http://localhost:9000"}, false},
		{"http missing url", ServerConfig{ID: "a", Transport: TransportHTTP}, true},
		{"missing id", ServerConfig{Transport: TransportStdio, Command: "tool"}, true},
		{"unknown transport", ServerConfig{ID: "a", Transport: "carrier-pigeon"}, true},
	}
	for _, c := range cases {
		err := c.cfg.Validate()
		if (err != nil) != c.wantErr {
			t.Errorf("%s: Validate() error = %v, wantErr %v", c.name, err, c.wantErr)
		}
	}
}

func TestCompileSchemaEmptyAcceptsAnything(t *testing.T) {
	sch, err := compileSchema("noop", nil)
	if err != nil {
		t.Fatalf("compileSchema: %v", err)
	}
	if err := validateAgainstSchema(sch, json.RawMessage(`{"anything": true}`)); err != nil {
		t.Fatalf("expected empty schema to accept any object, got %v", err)
	}
}

func TestCompileSchemaRejectsInvalidArgs(t *testing.T) {
	schemaJSON := json.RawMessage(`{
		"type": "object",
		"properties": {"query": {"type": "string"}},
		"required": ["query"]
	}`)
	sch, err := compileSchema("search", schemaJSON)
	if err != nil {
		t.Fatalf("compileSchema: %v", err)
	}

	if err := validateAgainstSchema(sch, json.RawMessage(`{"query": "golang"}`)); err != nil {
		t.Errorf("expected valid args to pass, got %v", err)
	}
	if err := validateAgainstSchema(sch, json.RawMessage(`{}`)); err == nil {
		t.Error("expected missing required field to fail validation")
	}
	if err := validateAgainstSchema(sch, json.RawMessage(`{"query": 5}`)); err == nil {
		t.Error("expected wrong type to fail validation")
	}
}

func TestCompileSchemaRejectsMalformedSchema(t *testing.T) {
	if _, err := compileSchema("broken", json.RawMessage(`not json`)); err == nil {
		t.Fatal("expected error for malformed schema document")
	}
}

// fakeTransport is an in-process clientTransport stub, scripted per method,
// used to exercise client/Host logic without spawning real subprocesses.
type fakeTransport struct {
	responses map[string]json.RawMessage
	errs      map[string]error
	calls     []string
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{responses: make(map[string]json.RawMessage), errs: make(map[string]error)}
}

func (f *fakeTransport) Connect(ctx context.Context) error { return nil }
func (f *fakeTransport) Close() error                       { return nil }

func (f *fakeTransport) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	f.calls = append(f.calls, method)
	if err, ok := f.errs[method]; ok {
		return nil, err
	}
	if resp, ok := f.responses[method]; ok {
		return resp, nil
	}
	return json.RawMessage(`{}`), nil
}

func (f *fakeTransport) Notify(ctx context.Context, method string, params any) error {
	f.calls = append(f.calls, method)
	return nil
}

func TestClientConnectDiscoversTools(t *testing.T) {
	ft := newFakeTransport()
	ft.responses["initialize"] = json.RawMessage(`{"protocolVersion":"2024-11-05","serverInfo":{"name":"fake","version":"1.0"}}`)
	ft.responses["tools/list"] = json.RawMessage(`{"tools":[{"name":"search","description":"search things","inputSchema":{"type":"object","properties":{"query":{"type":"string"}},"required":["query"]}}]}`)

	c := newClient(&ServerConfig{ID: "srv1"})
	c.transport = ft

	if err := c.connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	tools := c.toolDescriptors()
	if len(tools) != 1 || tools[0].Name != "search" {
		t.Fatalf("expected one tool named search, got %+v", tools)
	}
	if tools[0].ServerID != "srv1" {
		t.Fatalf("expected tool to be annotated with owning server, got %q", tools[0].ServerID)
	}
}

func TestClientCallToolRejectsInvalidArgsBeforeDispatch(t *testing.T) {
	ft := newFakeTransport()
	ft.responses["initialize"] = json.RawMessage(`{"protocolVersion":"2024-11-05","serverInfo":{"name":"fake"}}`)
	ft.responses["tools/list"] = json.RawMessage(`{"tools":[{"name":"search","inputSchema":{"type":"object","properties":{"query":{"type":"string"}},"required":["query"]}}]}`)

	c := newClient(&ServerConfig{ID: "srv1"})
	c.transport = ft
	if err := c.connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	callsBefore := len(ft.calls)
	if _, err := c.callTool(context.Background(), "search", json.RawMessage(`{}`)); err == nil {
		t.Fatal("expected invalid arguments to be rejected")
	}
	if len(ft.calls) != callsBefore {
		t.Fatal("expected invalid arguments to never reach the transport")
	}
}

func TestClientCallToolFlattensTextContent(t *testing.T) {
	ft := newFakeTransport()
	ft.responses["initialize"] = json.RawMessage(`{"protocolVersion":"2024-11-05","serverInfo":{"name":"fake"}}`)
	ft.responses["tools/list"] = json.RawMessage(`{"tools":[{"name":"search"}]}`)
	ft.responses["tools/call"] = json.RawMessage(`{"content":[{"type":"text","text":"hello "},{"type":"text","text":"world"}],"isError":false}`)

	c := newClient(&ServerConfig{ID: "srv1"})
	c.transport = ft
	if err := c.connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	result, err := c.callTool(context.Background(), "search", json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("callTool: %v", err)
	}
	if result.Text != "hello world" {
		t.Fatalf("expected concatenated text content, got %q", result.Text)
	}
}

func TestHostConnectAggregatesToolsAndRoutesCalls(t *testing.T) {
	ft1 := newFakeTransport()
	ft1.responses["initialize"] = json.RawMessage(`{"protocolVersion":"2024-11-05","serverInfo":{"name":"fake1"}}`)
	ft1.responses["tools/list"] = json.RawMessage(`{"tools":[{"name":"search"}]}`)
	ft1.responses["tools/call"] = json.RawMessage(`{"content":[{"type":"text","text":"found it"}]}`)

	ft2 := newFakeTransport()
	ft2.responses["initialize"] = json.RawMessage(`{"protocolVersion":"2024-11-05","serverInfo":{"name":"fake2"}}`)
	ft2.responses["tools/list"] = json.RawMessage(`{"tools":[{"name":"write"}]}`)

	h := NewHost()

	c1 := newClient(&ServerConfig{ID: "srv1"})
	c1.transport = ft1
	if err := c1.connect(context.Background()); err != nil {
		t.Fatalf("connect srv1: %v", err)
	}
	h.clients["srv1"] = c1
	for _, tool := range c1.toolDescriptors() {
		h.owners[tool.Name] = "srv1"
		h.tools[tool.Name] = tool
	}

	c2 := newClient(&ServerConfig{ID: "srv2"})
	c2.transport = ft2
	if err := c2.connect(context.Background()); err != nil {
		t.Fatalf("connect srv2: %v", err)
	}
	h.clients["srv2"] = c2
	for _, tool := range c2.toolDescriptors() {
		h.owners[tool.Name] = "srv2"
		h.tools[tool.Name] = tool
	}

	tools := h.Tools()
	if len(tools) != 2 {
		t.Fatalf("expected 2 tools across both servers, got %d", len(tools))
	}

	result, err := h.CallTool(context.Background(), "search", json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if result.Text != "found it" {
		t.Fatalf("expected call routed to srv1, got %q", result.Text)
	}
}

func TestHostCallToolUnknownNameReturnsErrToolNotFound(t *testing.T) {
	h := NewHost()
	_, err := h.CallTool(context.Background(), "nonexistent", nil)
	if !errors.Is(err, ErrToolNotFound) {
		t.Fatalf("expected ErrToolNotFound, got %v", err)
	}
}

func TestHostDisconnectRemovesOwnedTools(t *testing.T) {
	ft := newFakeTransport()
	ft.responses["initialize"] = json.RawMessage(`{"protocolVersion":"2024-11-05","serverInfo":{"name":"fake"}}`)
	ft.responses["tools/list"] = json.RawMessage(`{"tools":[{"name":"search"}]}`)

	h := NewHost()
	c := newClient(&ServerConfig{ID: "srv1"})
	c.transport = ft
	if err := c.connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	h.clients["srv1"] = c
	for _, tool := range c.toolDescriptors() {
		h.owners[tool.Name] = "srv1"
		h.tools[tool.Name] = tool
	}

	if err := h.Disconnect("srv1"); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if len(h.Tools()) != 0 {
		t.Fatal("expected tools to be removed after disconnect")
	}
}
