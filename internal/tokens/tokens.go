// Package tokens implements the token usage ledger: per-request recording,
// per-session aggregation, and a budget check, backed by the same SQLite
// database as internal/store.
package tokens

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Pricing is USD per 1,000,000 tokens.
type Pricing struct {
	Input  float64
	Output float64
}

// modelPricing is the known-model table. Extended from the original
// OpenAI/Azure-only table with the Anthropic and Bedrock model ids this
// runtime's domain stack actually calls.
var modelPricing = map[string]Pricing{
	"gpt-4":                    {Input: 30.0, Output: 60.0},
	"gpt-4-turbo":              {Input: 10.0, Output: 30.0},
	"gpt-4o":                   {Input: 2.50, Output: 10.0},
	"gpt-4o-mini":              {Input: 0.15, Output: 0.60},
	"gpt-3.5-turbo":            {Input: 0.50, Output: 1.50},
	"gpt-4o-mini-2024-07-18":   {Input: 0.15, Output: 0.60},
	"gpt-4-turbo-2024-04-09":   {Input: 10.0, Output: 30.0},
	"claude-3-opus":            {Input: 15.0, Output: 75.0},
	"claude-3-sonnet":          {Input: 3.0, Output: 15.0},
	"claude-3-haiku":           {Input: 0.25, Output: 1.25},
	"claude-sonnet-4-20250514": {Input: 3.0, Output: 15.0},
	"anthropic.claude-3-sonnet-20240229-v1:0": {Input: 3.0, Output: 15.0},
	"anthropic.claude-3-haiku-20240307-v1:0":  {Input: 0.25, Output: 1.25},
}

// defaultPricing applies to any model id not found by exact or substring
// match.
var defaultPricing = Pricing{Input: 10.0, Output: 30.0}

// priceFor resolves a model id to Pricing via exact match, then substring
// match in either direction, then the default.
func priceFor(model string) Pricing {
	if p, ok := modelPricing[model]; ok {
		return p
	}
	for name, p := range modelPricing {
		if strings.Contains(model, name) || strings.Contains(name, model) {
			return p
		}
	}
	return defaultPricing
}

// Usage is one recorded request's token consumption.
type Usage struct {
	SessionID    string
	MessageID    *int64
	InputTokens  int
	OutputTokens int
	Model        string
	CostUSD      float64
	CreatedAt    time.Time
}

// Total returns input + output tokens.
func (u Usage) Total() int { return u.InputTokens + u.OutputTokens }

// EstimatedCost prices u.InputTokens/OutputTokens against the model table.
func EstimatedCost(model string, inputTokens, outputTokens int) float64 {
	p := priceFor(model)
	return float64(inputTokens)/1_000_000*p.Input + float64(outputTokens)/1_000_000*p.Output
}

// Stats is the aggregate token usage for a session.
type Stats struct {
	TotalInput   int
	TotalOutput  int
	TotalCostUSD float64
	RequestCount int
}

// TotalTokens returns input + output across the session.
func (s Stats) TotalTokens() int { return s.TotalInput + s.TotalOutput }

// Subscriber is notified synchronously after each Record commits.
type Subscriber func(Usage)

// Ledger tracks token usage for one session against the shared database.
type Ledger struct {
	conn      *sql.DB
	sessionID string
	budget    int // 0 means unbounded

	mu          sync.Mutex
	cache       *Stats
	subscribers []Subscriber
}

// NewLedger binds a Ledger to conn (the shared store database) and
// sessionID. budget of 0 means no budget is enforced.
func NewLedger(conn *sql.DB, sessionID string, budget int) *Ledger {
	return &Ledger{conn: conn, sessionID: sessionID, budget: budget}
}

// Subscribe registers fn to be called after every successful Record. Panics
// inside fn are recovered and logged to avoid taking down the ledger.
func (l *Ledger) Subscribe(fn Subscriber) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.subscribers = append(l.subscribers, fn)
}

// Record inserts a usage row, invalidates the cached Stats before returning,
// and notifies subscribers. The cache invalidation happens synchronously
// inside this call so GetStats can never observe a stale total once Record
// has returned.
func (l *Ledger) Record(ctx context.Context, usage Usage) error {
	if usage.Model == "" {
		return fmt.Errorf("tokens: model is required")
	}
	if usage.CreatedAt.IsZero() {
		usage.CreatedAt = time.Now().UTC()
	}
	usage.CostUSD = EstimatedCost(usage.Model, usage.InputTokens, usage.OutputTokens)
	usage.SessionID = l.sessionID

	_, err := l.conn.ExecContext(ctx, `
		INSERT INTO token_usage (session_id, message_id, input_tokens, output_tokens, model, cost_usd, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		usage.SessionID, nullableInt64(usage.MessageID), usage.InputTokens, usage.OutputTokens,
		usage.Model, usage.CostUSD, usage.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert token usage: %w", err)
	}

	l.mu.Lock()
	l.cache = nil
	subs := append([]Subscriber(nil), l.subscribers...)
	l.mu.Unlock()

	for _, sub := range subs {
		notify(sub, usage)
	}
	return nil
}

func notify(sub Subscriber, usage Usage) {
	defer func() { recover() }()
	sub(usage)
}

// Stats returns the session's aggregate usage, using a cache invalidated by
// every Record call.
func (l *Ledger) Stats(ctx context.Context) (Stats, error) {
	l.mu.Lock()
	if l.cache != nil {
		s := *l.cache
		l.mu.Unlock()
		return s, nil
	}
	l.mu.Unlock()

	row := l.conn.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(input_tokens),0), COALESCE(SUM(output_tokens),0),
		       COALESCE(SUM(cost_usd),0), COUNT(*)
		FROM token_usage WHERE session_id = ?`, l.sessionID)

	var s Stats
	if err := row.Scan(&s.TotalInput, &s.TotalOutput, &s.TotalCostUSD, &s.RequestCount); err != nil {
		return Stats{}, fmt.Errorf("query token stats: %w", err)
	}

	l.mu.Lock()
	l.cache = &s
	l.mu.Unlock()
	return s, nil
}

// BudgetRemaining returns the tokens left in the session's budget, or nil if
// no budget was configured.
func (l *Ledger) BudgetRemaining(ctx context.Context) (*int, error) {
	if l.budget == 0 {
		return nil, nil
	}
	stats, err := l.Stats(ctx)
	if err != nil {
		return nil, err
	}
	remaining := l.budget - stats.TotalTokens()
	if remaining < 0 {
		remaining = 0
	}
	return &remaining, nil
}

// IsOverBudget reports whether the session has exhausted its budget. Always
// false when no budget is configured.
func (l *Ledger) IsOverBudget(ctx context.Context) (bool, error) {
	remaining, err := l.BudgetRemaining(ctx)
	if err != nil {
		return false, err
	}
	return remaining != nil && *remaining <= 0, nil
}

// History returns the most recent usage records, newest first.
func (l *Ledger) History(ctx context.Context, limit int) ([]Usage, error) {
	rows, err := l.conn.QueryContext(ctx, `
		SELECT input_tokens, output_tokens, model, cost_usd, created_at
		FROM token_usage WHERE session_id = ? ORDER BY created_at DESC LIMIT ?`, l.sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query token history: %w", err)
	}
	defer rows.Close()

	var out []Usage
	for rows.Next() {
		var u Usage
		var createdAt string
		if err := rows.Scan(&u.InputTokens, &u.OutputTokens, &u.Model, &u.CostUSD, &createdAt); err != nil {
			return nil, fmt.Errorf("scan token usage: %w", err)
		}
		if u.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}
		u.SessionID = l.sessionID
		out = append(out, u)
	}
	return out, rows.Err()
}

func nullableInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}
