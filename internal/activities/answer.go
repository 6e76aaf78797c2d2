package activities

import (
	"context"
	"strings"

	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/llm"
	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/prompts"
)

// AnswerSeparator joins branch answers before aggregation.
const AnswerSeparator = "\n\n"

type AggregateInput struct {
	Question string   `json:"question"`
	Answers  []string `json:"answers"`
}

// AggregateAnswer composes the final answer from every branch answer. With no
// answers the prompt receives an empty document set and the model says so.
func (a *Activities) AggregateAnswer(ctx context.Context, in AggregateInput) (string, error) {
	sys, usr, err := a.render(prompts.Aggregate, map[string]any{
		"Question":  in.Question,
		"Documents": strings.Join(in.Answers, AnswerSeparator),
	})
	if err != nil {
		return "", err
	}
	resp, err := a.model.Complete(ctx, llm.Request{Purpose: llm.PurposeAggregate, System: sys, Prompt: usr})
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

type FallbackInput struct {
	Question string `json:"question"`
}

// FallbackAnswer answers from the question alone.
func (a *Activities) FallbackAnswer(ctx context.Context, in FallbackInput) (string, error) {
	sys, usr, err := a.render(prompts.Fallback, map[string]any{"Question": in.Question})
	if err != nil {
		return "", err
	}
	resp, err := a.model.Complete(ctx, llm.Request{Purpose: llm.PurposeFallback, System: sys, Prompt: usr})
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}
