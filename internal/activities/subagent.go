package activities

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/llm"
	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/metrics"
	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/prompts"
	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/state"
)

const extractConcurrency = 4

type RetrieveInput struct {
	Domain state.DomainTag `json:"domain"`
	Query  string          `json:"query"`
}

// Retrieve searches the domain's backend. It never returns an empty slice when the
// retriever is wrapped in a placeholder.
func (a *Activities) Retrieve(ctx context.Context, in RetrieveInput) ([]state.Document, error) {
	r, ok := a.retrievers[in.Domain]
	if !ok {
		return nil, fmt.Errorf("no retriever for %s", in.Domain)
	}
	return r.Search(ctx, in.Query)
}

type ExtractInput struct {
	Domain    state.DomainTag  `json:"domain"`
	Question  string           `json:"question"`
	Documents []state.Document `json:"documents"`
}

type ExtractResult struct {
	Strips []state.InformationStrip `json:"strips"`
	// Dropped counts documents below the query relevance bar.
	Dropped int `json:"dropped"`
}

// ExtractAndEvaluate scores every document against the question and keeps the
// strips that pass the thresholds. A document whose extraction reply is malformed
// is skipped; any other model failure fails the step.
func (a *Activities) ExtractAndEvaluate(ctx context.Context, in ExtractInput) (*ExtractResult, error) {
	law := LawName(in.Domain)
	verdicts := make([]*state.ExtractedInformation, len(in.Documents))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(extractConcurrency)
	for i, doc := range in.Documents {
		i, doc := i, doc
		g.Go(func() error {
			sys, usr, err := a.render(prompts.Extract, map[string]any{
				"LawName":  law,
				"Question": in.Question,
				"Document": doc.Content,
			})
			if err != nil {
				return err
			}
			var ex state.ExtractedInformation
			err = llm.Structured(gctx, a.model, llm.Request{Purpose: llm.PurposeExtract, System: sys, Prompt: usr}, &ex)
			var malformed *llm.MalformedOutputError
			if errors.As(err, &malformed) {
				a.logger.Warn("Skipping document with malformed extraction",
					zap.String("domain", string(in.Domain)), zap.Error(err))
				return nil
			}
			if err != nil {
				return err
			}
			verdicts[i] = &ex
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := &ExtractResult{}
	for _, v := range verdicts {
		if v == nil {
			continue
		}
		if v.QueryRelevance < a.thresholds.QueryRelevance {
			res.Dropped++
			continue
		}
		res.Strips = append(res.Strips, a.thresholds.Keep(*v)...)
	}
	metrics.StripsKept.WithLabelValues(string(in.Domain)).Add(float64(len(res.Strips)))
	return res, nil
}

type RewriteInput struct {
	Domain   state.DomainTag          `json:"domain"`
	Question string                   `json:"question"`
	Strips   []state.InformationStrip `json:"strips"`
}

// RewriteQuery asks for a better search query. Errors propagate to the branch.
func (a *Activities) RewriteQuery(ctx context.Context, in RewriteInput) (*state.RefinedQuestion, error) {
	contents := make([]string, 0, len(in.Strips))
	for _, s := range in.Strips {
		contents = append(contents, s.Content)
	}
	sys, usr, err := a.render(prompts.Rewrite, map[string]any{
		"LawName":   LawName(in.Domain),
		"Question":  in.Question,
		"Extracted": strings.Join(contents, "\n"),
	})
	if err != nil {
		return nil, err
	}
	var rq state.RefinedQuestion
	if err := llm.Structured(ctx, a.model, llm.Request{Purpose: llm.PurposeRewrite, System: sys, Prompt: usr}, &rq); err != nil {
		return nil, err
	}
	if strings.TrimSpace(rq.QuestionRefined) == "" {
		return nil, &llm.MalformedOutputError{Purpose: llm.PurposeRewrite, Err: errors.New("empty question_refined")}
	}
	metrics.QueryRewrites.WithLabelValues(string(in.Domain)).Inc()
	return &rq, nil
}

type NodeAnswerInput struct {
	Domain   state.DomainTag          `json:"domain"`
	Question string                   `json:"question"`
	Strips   []state.InformationStrip `json:"strips"`
}

// FormatStrips renders strips the way the answer prompt expects them.
func FormatStrips(strips []state.InformationStrip) string {
	parts := make([]string, 0, len(strips))
	for _, s := range strips {
		parts = append(parts, fmt.Sprintf("내용: %s\n출처: %s", s.Content, s.Source))
	}
	return strings.Join(parts, "\n")
}

// GenerateNodeAnswer writes the domain answer from the kept strips.
func (a *Activities) GenerateNodeAnswer(ctx context.Context, in NodeAnswerInput) (string, error) {
	sys, usr, err := a.render(prompts.Answer, map[string]any{
		"LawName":       LawName(in.Domain),
		"SourceExample": SourceExample(in.Domain),
		"Question":      in.Question,
		"Extracted":     FormatStrips(in.Strips),
	})
	if err != nil {
		return "", err
	}
	resp, err := a.model.Complete(ctx, llm.Request{Purpose: llm.PurposeAnswer, System: sys, Prompt: usr})
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}
