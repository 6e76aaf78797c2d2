// Package activities holds the model- and retrieval-backed steps of the legal QA
// graph. Each step takes an input struct and returns a result so the same methods
// run in-process under the engine and as Temporal activities.
package activities

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/llm"
	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/prompts"
	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/retrieval"
	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/state"
)

// Activities holds the collaborators shared by every step.
type Activities struct {
	model      llm.Client
	reviewer   llm.ToolCaller
	prompts    *prompts.Library
	retrievers map[state.DomainTag]retrieval.Retriever
	thresholds state.Thresholds
	toolTurns  int
	degrade    bool
	logger     *zap.Logger
}

// Options tunes the optional knobs. Zero values fall back to defaults.
type Options struct {
	Thresholds         state.Thresholds
	MaxReviewerTurns   int
	DegradeOnMalformed bool
}

// New wires the steps. If model also implements llm.ToolCaller the reviewer can
// call the search tools; otherwise it evaluates from the answer alone.
func New(model llm.Client, lib *prompts.Library, retrievers map[state.DomainTag]retrieval.Retriever, opts Options, logger *zap.Logger) (*Activities, error) {
	if model == nil || lib == nil {
		return nil, fmt.Errorf("activities: model and prompts are required")
	}
	for _, d := range state.AllDomains {
		if retrievers[d] == nil {
			return nil, fmt.Errorf("activities: no retriever for %s", d)
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	th := opts.Thresholds
	if th == (state.Thresholds{}) {
		th = state.DefaultThresholds
	}
	turns := opts.MaxReviewerTurns
	if turns <= 0 {
		turns = 4
	}
	a := &Activities{
		model:      model,
		prompts:    lib,
		retrievers: retrievers,
		thresholds: th,
		toolTurns:  turns,
		degrade:    opts.DegradeOnMalformed,
		logger:     logger,
	}
	if tc, ok := model.(llm.ToolCaller); ok {
		a.reviewer = tc
	}
	return a, nil
}

func (a *Activities) render(name string, data map[string]any) (string, string, error) {
	sys, usr, err := a.prompts.Render(name, data)
	if err != nil {
		return "", "", fmt.Errorf("prompt %s: %w", name, err)
	}
	return sys, usr, nil
}
