package activities

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/llm"
	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/metrics"
	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/prompts"
	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/retrieval"
	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/state"
	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/util"
)

// maxToolResultRunes bounds what one reviewer search adds to the prompt.
const maxToolResultRunes = 8000

type EvaluateInput struct {
	ThreadID string `json:"thread_id"`
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

func (a *Activities) tools() []llm.Tool {
	out := make([]llm.Tool, 0, len(reviewerTools))
	for _, t := range reviewerTools {
		r := a.retrievers[t.domain]
		out = append(out, llm.Tool{
			Name:        t.name,
			Description: t.desc,
			Run: func(ctx context.Context, query string) (string, error) {
				docs, err := r.Search(ctx, query)
				if err != nil {
					return "", err
				}
				return util.TruncateString(retrieval.Render(docs), maxToolResultRunes, true), nil
			},
		})
	}
	return out
}

// EvaluateAnswer scores the final answer on six criteria. The reviewer may consult
// the search tools first. A reply that is not a report fails with
// *llm.MalformedOutputError unless degrading is enabled, in which case a zero
// report carries the reason.
func (a *Activities) EvaluateAnswer(ctx context.Context, in EvaluateInput) (*state.EvaluationReport, error) {
	tools := a.tools()
	names := make([]string, 0, len(tools))
	for _, t := range tools {
		names = append(names, t.Name)
	}
	sys, usr, err := a.render(prompts.Evaluate, map[string]any{
		"Question": in.Question,
		"Answer":   in.Answer,
		"Tools":    strings.Join(names, ", "),
	})
	if err != nil {
		return nil, err
	}

	req := llm.Request{Purpose: llm.PurposeEvaluate, System: sys, Prompt: usr, JSON: true}
	var resp *llm.Response
	if a.reviewer != nil {
		resp, err = a.reviewer.CompleteWithTools(ctx, req, tools, a.toolTurns)
	} else {
		resp, err = a.model.Complete(ctx, req)
	}
	if err != nil {
		return nil, err
	}

	report, perr := parseReport(resp.Text)
	if perr != nil {
		if !a.degrade {
			return nil, perr
		}
		a.logger.Warn("Evaluation reply malformed, degrading to zero report",
			zap.String("thread_id", in.ThreadID), zap.Error(perr))
		report = state.ZeroReport("evaluation unavailable: reviewer reply could not be parsed")
	}
	metrics.EvaluationScore.Observe(float64(report.TotalScore))
	return report, nil
}

func parseReport(text string) (*state.EvaluationReport, error) {
	raw, err := llm.ExtractJSON(text)
	if err != nil {
		return nil, &llm.MalformedOutputError{Purpose: llm.PurposeEvaluate, Raw: text, Err: err}
	}
	report, err := state.ParseEvaluationReport([]byte(raw))
	if err != nil {
		return nil, &llm.MalformedOutputError{Purpose: llm.PurposeEvaluate, Raw: text, Err: err}
	}
	return report, nil
}
