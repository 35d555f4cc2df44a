package dispatcher

import (
	"context"
	"encoding/json"
	"path/filepath"
	"time"

	"github.com/agentcore/agentcore/internal/store"
	"github.com/agentcore/agentcore/internal/tokens"
)

// sessionDTO mirrors original_source memory/session.py's Session.to_dict().
type sessionDTO struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	CodebasePath *string        `json:"codebase_path"`
	CreatedAt    string         `json:"created_at"`
	LastAccessed string         `json:"last_accessed"`
	Metadata     map[string]any `json:"metadata"`
}

func toSessionDTO(s *store.Session) sessionDTO {
	dto := sessionDTO{
		ID:           s.ID,
		Name:         s.Name,
		CreatedAt:    s.CreatedAt.Format(time.RFC3339),
		LastAccessed: s.LastAccessed.Format(time.RFC3339),
		Metadata:     s.Metadata,
	}
	if s.CodebasePath != "" {
		dto.CodebasePath = &s.CodebasePath
	}
	return dto
}

type sessionCreateParams struct {
	Name         string `json:"name"`
	CodebasePath string `json:"codebase_path"`
}

func handleSessionCreate(ctx context.Context, d *Dispatcher, raw json.RawMessage) (any, error) {
	var params sessionCreateParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}

	sess, err := d.db.Create(ctx, params.Name, params.CodebasePath, nil)
	if err != nil {
		return nil, err
	}
	d.setCurrentSession(sess.ID, "")

	if params.CodebasePath != "" {
		absPath, err := filepath.Abs(params.CodebasePath)
		if err == nil {
			d.switchRAGCollection(absPath)
		}
	}

	return toSessionDTO(sess), nil
}

type sessionIDParams struct {
	ID string `json:"id"`
}

func handleSessionLoad(ctx context.Context, d *Dispatcher, raw json.RawMessage) (any, error) {
	var params sessionIDParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	if params.ID == "" {
		return nil, invalidParams("no session id provided")
	}

	sess, err := d.db.Load(ctx, params.ID)
	if err != nil {
		return nil, err
	}
	d.setCurrentSession(sess.ID, "")

	if sess.CodebasePath != "" {
		absPath, err := filepath.Abs(sess.CodebasePath)
		if err == nil {
			d.switchRAGCollection(absPath)
		}
	}

	return toSessionDTO(sess), nil
}

type sessionListParams struct {
	Limit int `json:"limit"`
}

func handleSessionList(ctx context.Context, d *Dispatcher, raw json.RawMessage) (any, error) {
	params := sessionListParams{Limit: 20}
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}

	sessions, err := d.db.Recent(ctx, params.Limit)
	if err != nil {
		return nil, err
	}

	dtos := make([]sessionDTO, len(sessions))
	for i, s := range sessions {
		dtos[i] = toSessionDTO(s)
	}
	return map[string]any{"sessions": dtos}, nil
}

func handleSessionDelete(ctx context.Context, d *Dispatcher, raw json.RawMessage) (any, error) {
	var params sessionIDParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	if params.ID == "" {
		return nil, invalidParams("no session id provided")
	}

	if err := d.db.Delete(ctx, params.ID); err != nil {
		return nil, err
	}
	return map[string]any{"deleted": true}, nil
}

func handleTokensGet(ctx context.Context, d *Dispatcher, raw json.RawMessage) (any, error) {
	id, _ := d.currentSession()
	if id == "" {
		return map[string]any{
			"total_input": 0, "total_output": 0, "total_tokens": 0,
			"total_cost": 0, "request_count": 0,
		}, nil
	}

	ledger := tokens.NewLedger(d.db.Conn(), id, d.engine.BudgetFor(id))
	stats, err := ledger.Stats(ctx)
	if err != nil {
		return nil, err
	}

	result := map[string]any{
		"total_input":   stats.TotalInput,
		"total_output":  stats.TotalOutput,
		"total_tokens":  stats.TotalTokens(),
		"total_cost":    stats.TotalCostUSD,
		"request_count": stats.RequestCount,
	}
	if budget := d.engine.BudgetFor(id); budget > 0 {
		remaining, err := ledger.BudgetRemaining(ctx)
		if err != nil {
			return nil, err
		}
		result["budget"] = budget
		result["budget_remaining"] = remaining
		pct := float64(stats.TotalTokens()) / float64(budget) * 100
		if pct > 100 {
			pct = 100
		}
		result["budget_percentage"] = pct
	}
	return result, nil
}

type tokensSetBudgetParams struct {
	Budget int `json:"budget"`
}

func handleTokensSetBudget(ctx context.Context, d *Dispatcher, raw json.RawMessage) (any, error) {
	var params tokensSetBudgetParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}

	id, _ := d.currentSession()
	if id == "" {
		return nil, invalidParams("no active session")
	}
	d.engine.SetBudget(id, params.Budget)
	return map[string]any{"budget": params.Budget}, nil
}

func handleModelGet(ctx context.Context, d *Dispatcher, raw json.RawMessage) (any, error) {
	id, _ := d.currentSession()
	_, model := d.engine.Model(id)
	return map[string]any{"model": model}, nil
}

type modelSetParams struct {
	Model    string `json:"model"`
	Provider string `json:"provider"`
}

func handleModelSet(ctx context.Context, d *Dispatcher, raw json.RawMessage) (any, error) {
	var params modelSetParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	if params.Model == "" {
		return nil, invalidParams("no model specified")
	}

	id, _ := d.currentSession()
	provider, previous := d.engine.Model(id)
	if params.Provider != "" {
		provider = params.Provider
	}
	d.engine.SetModel(id, provider, params.Model)

	return map[string]any{"model": params.Model, "previous": previous}, nil
}

func handleModelList(ctx context.Context, d *Dispatcher, raw json.RawMessage) (any, error) {
	var out []map[string]any
	for name, provider := range d.engine.Providers() {
		for _, m := range provider.Models() {
			out = append(out, map[string]any{
				"id":       m.ID,
				"name":     m.Name,
				"provider": name,
				"context":  m.ContextSize,
			})
		}
	}
	return map[string]any{"models": out}, nil
}
