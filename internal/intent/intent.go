// Package intent extracts a structured Intent (kind, entities, action,
// refined retrieval query) from a user message plus a short context tail,
// by asking the configured LLM to answer in a fixed JSON shape. Extraction
// is best-effort: a malformed or missing response degrades to no intent at
// all rather than failing the turn.
package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/agentcore/agentcore/internal/llm"
)

// Type classifies what kind of thing the user is asking for. An unrecognized
// value from the model decodes to Research, the original's documented default.
type Type string

const (
	Research Type = "research" // query the codebase index to learn something
	Organize Type = "organize" // structure ideas, notes, plans
	Control  Type = "control"  // take an action: write code, run a command
)

func normalizeType(s string) Type {
	switch Type(s) {
	case Research, Organize, Control:
		return Type(s)
	default:
		return Research
	}
}

// Intent is the structured result of one extraction.
type Intent struct {
	Type       Type     `json:"intent_type"`
	Entities   []string `json:"entities"`
	Action     string   `json:"action"`
	Query      string   `json:"query"`
	Reasoning  string   `json:"reasoning"`
	Confidence float64  `json:"confidence"`
}

// rawIntent mirrors the model's JSON response before normalization:
// Entities may arrive as a comma-joined string or a JSON array, and
// Confidence may be omitted entirely.
type rawIntent struct {
	IntentType string          `json:"intent_type"`
	Entities   json.RawMessage `json:"entities"`
	Action     string          `json:"action"`
	Query      string          `json:"query"`
	Reasoning  string          `json:"reasoning"`
	Confidence *float64        `json:"confidence"`
}

func (r rawIntent) toIntent() Intent {
	confidence := 1.0
	if r.Confidence != nil {
		confidence = *r.Confidence
	}
	return Intent{
		Type:       normalizeType(r.IntentType),
		Entities:   decodeEntities(r.Entities),
		Action:     defaultString(r.Action, "search"),
		Query:      r.Query,
		Reasoning:  r.Reasoning,
		Confidence: confidence,
	}
}

func defaultString(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

// decodeEntities accepts either a JSON array of strings or a single
// comma-separated string, matching the two shapes a model might return for
// a "comma-separated key terms" field.
func decodeEntities(raw json.RawMessage) []string {
	if strings.TrimSpace(string(raw)) == "" {
		return nil
	}

	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list
	}

	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return splitEntities(single)
	}

	return nil
}

func splitEntities(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

const extractionSystemPrompt = `You extract structured intent from a user's message. Respond with a single JSON object and nothing else, in this exact shape:
{"intent_type": "research|organize|control", "entities": ["..."], "action": "search|clarify|answer|execute", "query": "...", "reasoning": "..."}

intent_type: research means query the codebase to learn something; organize means structure ideas, notes, or plans; control means take an action such as writing code or running a command.
entities: key terms, function names, or file names mentioned in the message.
action: search to query the codebase, clarify to ask the user a question, answer to respond directly, execute to run an action.
query: a reformulated search query if action is search, otherwise an empty string.`

// Extractor produces an Intent from a message and a short rendered context
// tail (the most recent few turns, newest-first formatting left to the
// caller). Extract returning a nil Intent with a nil error means "no intent
// could be determined" — the Turn Engine falls back to the raw message.
type Extractor interface {
	Extract(ctx context.Context, message, recentContext string) (*Intent, error)
}

// LLMExtractor implements Extractor via a plain text-completion round trip
// against an llm.Provider; it does not use tool calling or streaming.
type LLMExtractor struct {
	Provider llm.Provider
	Model    string
}

// NewLLMExtractor builds an Extractor bound to provider and model.
func NewLLMExtractor(provider llm.Provider, model string) *LLMExtractor {
	return &LLMExtractor{Provider: provider, Model: model}
}

// Extract asks the model to classify message and decodes its JSON response.
// Any failure — a provider error, a non-JSON response, or a response with no
// balanced JSON object — is swallowed and reported as (nil, nil): intent
// extraction is advisory, never fatal to the turn that requested it.
func (e *LLMExtractor) Extract(ctx context.Context, message, recentContext string) (*Intent, error) {
	if e.Provider == nil {
		return nil, nil
	}

	userContent := fmt.Sprintf("Message: %s", message)
	if recentContext != "" {
		userContent = fmt.Sprintf("Previous conversation:\n%s\n\n%s", recentContext, userContent)
	}

	req := &llm.CompletionRequest{
		Model:  e.Model,
		System: extractionSystemPrompt,
		Messages: []llm.CompletionMessage{
			{Role: "user", Content: userContent},
		},
		MaxTokens: 512,
	}

	chunks, err := e.Provider.Complete(ctx, req)
	if err != nil {
		return nil, nil
	}

	var text strings.Builder
	for chunk := range chunks {
		if chunk.Error != nil {
			return nil, nil
		}
		text.WriteString(chunk.Text)
	}

	region, ok := firstJSONObject(text.String())
	if !ok {
		return nil, nil
	}

	var raw rawIntent
	if err := json.Unmarshal([]byte(region), &raw); err != nil {
		return nil, nil
	}

	parsed := raw.toIntent()
	return &parsed, nil
}

// firstJSONObject returns the first balanced {...} substring of s, the same
// tolerant-extraction strategy internal/toolloop uses for model output that
// is supposed to be pure JSON but occasionally isn't.
func firstJSONObject(s string) (string, bool) {
	depth := 0
	start := -1
	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}

		switch ch {
		case '"':
			inString = true
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
				if depth == 0 {
					return s[start : i+1], true
				}
			}
		}
	}
	return "", false
}
