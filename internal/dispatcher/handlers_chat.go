package dispatcher

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/agentcore/agentcore/internal/turn"
)

type chatSendParams struct {
	Message string `json:"message"`
	UseRAG  *bool  `json:"use_rag"`
	Stream  *bool  `json:"stream"`
}

// handleChatSend implements chat.send, mirroring Handlers.chat_send: RAG and
// streaming both default to true when the field is omitted.
func handleChatSend(ctx context.Context, d *Dispatcher, raw json.RawMessage) (any, error) {
	var params chatSendParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	if params.Message == "" {
		return nil, invalidParams("no message provided")
	}

	id, _ := d.currentSession()
	if id == "" {
		return nil, invalidParams("no active session")
	}

	useRAG := params.UseRAG == nil || *params.UseRAG
	stream := params.Stream == nil || *params.Stream

	resp, err := d.engine.Send(ctx, turn.Request{
		SessionID: id,
		Message:   params.Message,
		UseRAG:    useRAG,
		Stream:    stream,
	})
	if err != nil {
		if isConfigError(err) {
			return map[string]any{"response": err.Error(), "tokens": nil}, nil
		}
		return nil, err
	}

	return map[string]any{
		"response": resp.Text,
		"tokens": map[string]any{
			"total_input":   resp.Tokens.TotalInput,
			"total_output":  resp.Tokens.TotalOutput,
			"total_tokens":  resp.Tokens.TotalTokens(),
			"total_cost":    resp.Tokens.TotalCostUSD,
			"request_count": resp.Tokens.RequestCount,
		},
		"cancelled": resp.Cancelled,
		"truncated": resp.Truncated,
	}, nil
}

// isConfigError matches spec §4.8's "missing endpoint/credentials" carve-out:
// those failures return a well-known message in the response body instead of
// a JSON-RPC error, so the UI can prompt for configuration.
func isConfigError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "PROJECT_ENDPOINT") || strings.Contains(strings.ToLower(msg), "credential")
}

func handleChatCancel(ctx context.Context, d *Dispatcher, raw json.RawMessage) (any, error) {
	id, _ := d.currentSession()
	if id == "" {
		return map[string]any{"cancelled": false}, nil
	}
	return map[string]any{"cancelled": d.engine.Cancel(id)}, nil
}
