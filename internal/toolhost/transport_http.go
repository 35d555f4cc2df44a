package toolhost

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// httpTransport speaks JSON-RPC request/response over plain HTTP POST. It
// does not support server-initiated notifications; tool servers that need
// those should use the stdio transport.
type httpTransport struct {
	cfg       *ServerConfig
	client    *http.Client
	connected atomic.Bool
}

func newHTTPTransport(cfg *ServerConfig) *httpTransport {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &httpTransport{cfg: cfg, client: &http.Client{Timeout: timeout}}
}

func (t *httpTransport) Connect(ctx context.Context) error {
	if t.cfg.URL == "" {
		return fmt.Errorf("toolhost: url is required for http transport")
	}
	t.connected.Store(true)
	return nil
}

func (t *httpTransport) Close() error {
	t.connected.Store(false)
	return nil
}

func (t *httpTransport) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if !t.connected.Load() {
		return nil, fmt.Errorf("toolhost: not connected")
	}

	req := jsonrpcRequest{JSONRPC: "2.0", Method: method}
	if params != nil {
		paramsJSON, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("toolhost: marshal params: %w", err)
		}
		req.Params = paramsJSON
	}
	envelope := struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      string          `json:"id"`
		Method  string          `json:"method"`
		Params  json.RawMessage `json:"params,omitempty"`
	}{JSONRPC: "2.0", ID: uuid.New().String(), Method: method, Params: req.Params}

	body, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("toolhost: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("toolhost: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range t.cfg.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("toolhost: http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("toolhost: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("toolhost: http %d: %s", resp.StatusCode, string(respBody))
	}

	var rpcResp jsonrpcResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return nil, fmt.Errorf("toolhost: decode response: %w", err)
	}
	if rpcResp.Error != nil {
		return nil, fmt.Errorf("toolhost: server error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)
	}
	return rpcResp.Result, nil
}

func (t *httpTransport) Notify(ctx context.Context, method string, params any) error {
	_, err := t.Call(ctx, method, params)
	return err
}
