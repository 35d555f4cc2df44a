package toolhost

import (
	"context"
	"encoding/json"
)

// clientTransport is the wire-level interface a tool server connection
// implements, independent of whether it's reached over stdio or HTTP.
type clientTransport interface {
	Connect(ctx context.Context) error
	Close() error
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)
	Notify(ctx context.Context, method string, params any) error
}

func newTransport(cfg *ServerConfig) clientTransport {
	if cfg.Transport == TransportHTTP {
		return newHTTPTransport(cfg)
	}
	return newStdioTransport(cfg)
}
