package activities

import (
	"context"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/llm"
	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/metrics"
	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/prompts"
	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/state"
)

type AnalyzeInput struct {
	ThreadID string `json:"thread_id"`
	Question string `json:"question"`
}

type AnalyzeResult struct {
	// Datasources is de-duplicated and in canonical order. Empty means fallback.
	Datasources []state.DomainTag `json:"datasources"`
	Unknown     []string          `json:"unknown,omitempty"`
}

// AnalyzeQuestion asks the router which domains can answer the question.
func (a *Activities) AnalyzeQuestion(ctx context.Context, in AnalyzeInput) (*AnalyzeResult, error) {
	sys, usr, err := a.render(prompts.Route, map[string]any{"Question": in.Question})
	if err != nil {
		return nil, err
	}
	var sel state.ToolSelectors
	if err := llm.Structured(ctx, a.model, llm.Request{Purpose: llm.PurposeRoute, System: sys, Prompt: usr}, &sel); err != nil {
		return nil, err
	}
	set, unknown := state.DedupDomains(sel)
	if len(unknown) > 0 {
		a.logger.Warn("Router selected unknown tools",
			zap.String("thread_id", in.ThreadID),
			zap.Strings("tools", unknown))
	}
	for _, d := range set {
		metrics.RouterSelections.WithLabelValues(string(d)).Inc()
	}
	a.logger.Info("Question routed",
		zap.String("thread_id", in.ThreadID),
		zap.Int("selections", len(sel.Tools)),
		zap.Any("datasources", set))
	return &AnalyzeResult{Datasources: set, Unknown: unknown}, nil
}
