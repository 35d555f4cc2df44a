package rpc

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// maxLineSize bounds a single inbound frame; generous enough for large tool
// results round-tripped through chat.send.
const maxLineSize = 16 * 1024 * 1024

// Codec frames JSON-RPC messages as newline-delimited UTF-8 JSON objects over
// an arbitrary stream. Reads happen on the caller's goroutine; writes are
// safe for concurrent use from multiple goroutines since every Response and
// Notification must serialize through a single writer (see the concurrency
// model notes on the dispatcher).
type Codec struct {
	scanner *bufio.Scanner
	w       io.Writer
	wmu     sync.Mutex
}

// NewCodec wraps r/w as the two halves of a bidirectional JSON-RPC stream.
func NewCodec(r io.Reader, w io.Writer) *Codec {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	return &Codec{scanner: scanner, w: w}
}

// inbound is the union of the two shapes a client may send: a Request (has
// an id) or a Notification (no id). ReadMessage distinguishes them after
// parsing.
type inbound struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// ReadMessage blocks until the next newline-delimited frame arrives, parsing
// it into either a Request or a Notification. It returns io.EOF when the
// underlying stream closes cleanly.
func (c *Codec) ReadMessage() (*Request, *Notification, error) {
	for c.scanner.Scan() {
		line := c.scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var msg inbound
		if err := json.Unmarshal(line, &msg); err != nil {
			return nil, nil, &Error{Code: CodeParseError, Message: fmt.Sprintf("parse error: %v", err)}
		}
		if msg.Method == "" {
			return nil, nil, &Error{Code: CodeInvalidRequest, Message: "missing method"}
		}

		if msg.ID == nil {
			return nil, &Notification{JSONRPC: msg.JSONRPC, Method: msg.Method, Params: msg.Params}, nil
		}

		var id any
		if err := json.Unmarshal(*msg.ID, &id); err != nil {
			return nil, nil, &Error{Code: CodeInvalidRequest, Message: "invalid id"}
		}
		return &Request{JSONRPC: msg.JSONRPC, ID: id, Method: msg.Method, Params: msg.Params}, nil, nil
	}
	if err := c.scanner.Err(); err != nil {
		return nil, nil, err
	}
	return nil, nil, io.EOF
}

// WriteResponse writes resp followed by a newline, atomically with respect
// to other writers on this Codec.
func (c *Codec) WriteResponse(resp *Response) error {
	return c.writeJSON(resp)
}

// WriteNotification writes n followed by a newline, atomically with respect
// to other writers on this Codec.
func (c *Codec) WriteNotification(n *Notification) error {
	return c.writeJSON(n)
}

func (c *Codec) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	data = append(data, '\n')

	c.wmu.Lock()
	defer c.wmu.Unlock()
	_, err = c.w.Write(data)
	return err
}
