// Package promptctx builds the message list sent to an LLM provider for a
// single turn: system prompt, RAG context, a cached summary of older
// history, as many recent messages as the budget allows, then the current
// user message. Named promptctx rather than context to avoid colliding with
// the standard library's context.Context in every import.
package promptctx

import (
	"strings"
	"sync"

	"github.com/agentcore/agentcore/internal/history"
)

// Config controls how a Window is assembled.
type Config struct {
	MaxTokens           int // total budget for the LLM call, including the response
	ReservedForResponse int // subtracted from MaxTokens before filling context
	RecentMessages      int // how many trailing messages to consider before budgeting
	SummarizeAfter      int // message count above which a cached summary is consulted
	MaxRAGTokens        int // cap on the RAG system message
}

// DefaultConfig mirrors the defaults used across the corpus this runtime was
// built against.
func DefaultConfig() Config {
	return Config{
		MaxTokens:           8000,
		ReservedForResponse: 1000,
		RecentMessages:      20,
		SummarizeAfter:      30,
		MaxRAGTokens:        2000,
	}
}

// AvailableForContext is MaxTokens minus the response reserve.
func (c Config) AvailableForContext() int {
	return c.MaxTokens - c.ReservedForResponse
}

// Turn is one prepared message to send to an LLM provider.
type Turn struct {
	Role    string
	Content string
}

// Window is the assembled result of Build.
type Window struct {
	Messages             []Turn
	TotalTokens          int
	IncludedMessageCount int
	Truncated            bool
	HasSummary           bool
	RAGChunksUsed        int
}

// Estimate is the coarse token estimator shared by every budget-aware
// component in this runtime: approximately four characters per token, with
// a floor of one token for any non-empty input. It must stay monotonic in
// input length since callers rely on it to decide what still fits.
func Estimate(text string) int {
	return len(text)/4 + 1
}

// SummaryCache holds one cached conversation summary per session. Building a
// Window never calls an LLM itself to produce a summary; a caller that has
// summarized a session asynchronously stores the result here with Set, and
// Build will pick it up on the next call.
type SummaryCache struct {
	mu    sync.RWMutex
	byID  map[string]string
}

// NewSummaryCache returns an empty cache.
func NewSummaryCache() *SummaryCache {
	return &SummaryCache{byID: map[string]string{}}
}

// Get returns the cached summary for sessionID, if any.
func (c *SummaryCache) Get(sessionID string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.byID[sessionID]
	return s, ok
}

// Set stores or replaces the cached summary for sessionID.
func (c *SummaryCache) Set(sessionID, summary string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byID[sessionID] = summary
}

// Invalidate drops the cached summary for sessionID, if any.
func (c *SummaryCache) Invalidate(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.byID, sessionID)
}

// Builder assembles Windows against a Config and a shared SummaryCache.
type Builder struct {
	Config  Config
	Summary *SummaryCache
}

// NewBuilder returns a Builder with cfg and a fresh SummaryCache.
func NewBuilder(cfg Config) *Builder {
	return &Builder{Config: cfg, Summary: NewSummaryCache()}
}

// Build assembles a Window in priority order:
//
//  1. System prompt, always first.
//  2. RAG context, injected as a system message capped at MaxRAGTokens.
//  3. A cached summary of older messages, if the session is long enough and
//     a summary has been cached for it.
//  4. As many of the most recent messages as fit the remaining budget,
//     oldest to newest, stopping (and setting Truncated) at the first one
//     that doesn't fit.
//  5. The current user message, always last.
func (b *Builder) Build(sessionID string, recent []*history.Message, totalMessageCount int, userMessage, systemPrompt, ragContext string) Window {
	var messages []Turn
	total := 0
	budget := b.Config.AvailableForContext()

	if systemPrompt != "" {
		messages = append(messages, Turn{Role: "system", Content: systemPrompt})
		total += Estimate(systemPrompt)
	}

	ragChunksUsed := 0
	if ragContext != "" {
		ragTokens := Estimate(ragContext)
		if ragTokens > b.Config.MaxRAGTokens {
			ragTokens = b.Config.MaxRAGTokens
		}
		if total+ragTokens < budget {
			messages = append(messages, Turn{Role: "system", Content: "Relevant context from codebase:\n\n" + ragContext})
			total += ragTokens
			ragChunksUsed = strings.Count(ragContext, "---") + 1
		}
	}

	hasSummary := false
	if totalMessageCount > b.Config.SummarizeAfter {
		if summary, ok := b.Summary.Get(sessionID); ok && summary != "" {
			summaryTokens := Estimate(summary)
			if total+summaryTokens < budget {
				messages = append(messages, Turn{Role: "system", Content: "Summary of earlier conversation:\n" + summary})
				total += summaryTokens
				hasSummary = true
			}
		}
	}

	userTokens := Estimate(userMessage)
	remaining := budget - total - userTokens

	included := 0
	truncated := false
	var recentTurns []Turn
	for _, msg := range recent {
		msgTokens := msg.TokenCount
		if msgTokens == 0 {
			msgTokens = Estimate(msg.Content)
		}
		if remaining >= msgTokens {
			recentTurns = append(recentTurns, Turn{Role: string(msg.Role), Content: msg.Content})
			remaining -= msgTokens
			total += msgTokens
			included++
		} else {
			truncated = true
			break
		}
	}
	messages = append(messages, recentTurns...)

	messages = append(messages, Turn{Role: "user", Content: userMessage})
	total += userTokens
	included++

	return Window{
		Messages:             messages,
		TotalTokens:          total,
		IncludedMessageCount: included,
		Truncated:            truncated,
		HasSummary:           hasSummary,
		RAGChunksUsed:        ragChunksUsed,
	}
}

// BuildSimple assembles a Window directly from a message slice with no RAG
// or summary stage, keeping as many of the most recent messages as fit
// maxTokens and always keeping system messages regardless of budget.
func (b *Builder) BuildSimple(messages []*history.Message, maxTokens int) Window {
	if maxTokens == 0 {
		maxTokens = b.Config.AvailableForContext()
	}

	var result []Turn
	total := 0
	for i := len(messages) - 1; i >= 0; i-- {
		msg := messages[i]
		msgTokens := msg.TokenCount
		if msgTokens == 0 {
			msgTokens = Estimate(msg.Content)
		}

		if total+msgTokens <= maxTokens {
			result = append([]Turn{{Role: string(msg.Role), Content: msg.Content}}, result...)
			total += msgTokens
		} else if msg.Role == history.RoleSystem {
			result = append([]Turn{{Role: string(msg.Role), Content: msg.Content}}, result...)
			total += msgTokens
		} else {
			break
		}
	}

	return Window{
		Messages:             result,
		TotalTokens:          total,
		IncludedMessageCount: len(result),
		Truncated:            len(result) < len(messages),
	}
}
