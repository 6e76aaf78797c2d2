package workflows

import (
	"fmt"

	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/state"
)

// SubAgentSteps are the four operations of one domain's corrective loop. The
// engine binds them to in-process calls and the Temporal workflow to activities,
// so the loop itself stays free of I/O.
type SubAgentSteps struct {
	Retrieve func(query string) ([]state.Document, error)
	Extract  func(question string, docs []state.Document) ([]state.InformationStrip, error)
	Rewrite  func(question string, strips []state.InformationStrip) (string, error)
	Answer   func(question string, strips []state.InformationStrip) (string, error)
}

type subNode int

const (
	subRetrieve subNode = iota
	subExtract
	subRewrite
	subGenerate
)

// shouldContinue is the loop guard: stop once anything survived extraction or the
// generation budget is spent.
func shouldContinue(st *state.SubAgentState, maxGenerations int) bool {
	return st.NumGenerations < maxGenerations && len(st.ExtractedInfo) == 0
}

// RunSubAgent drives retrieve, extract, rewrite and generate until the guard ends
// the loop. maxSteps bounds the node count whatever the guard says.
func RunSubAgent(question string, maxGenerations, maxSteps int, s SubAgentSteps) (*state.SubAgentState, error) {
	if maxGenerations <= 0 {
		maxGenerations = 2
	}
	if maxSteps <= 0 {
		maxSteps = 4*maxGenerations + 4
	}
	st := &state.SubAgentState{Question: question}
	node := subRetrieve
	for step := 0; step < maxSteps; step++ {
		switch node {
		case subRetrieve:
			docs, err := s.Retrieve(st.Query())
			if err != nil {
				return st, err
			}
			st.Documents = docs
			node = subExtract

		case subExtract:
			kept, err := s.Extract(st.Question, st.Documents)
			if err != nil {
				return st, err
			}
			st.ExtractedInfo = append(st.ExtractedInfo, kept...)
			st.NumGenerations++
			if shouldContinue(st, maxGenerations) {
				node = subRewrite
			} else {
				node = subGenerate
			}

		case subRewrite:
			q, err := s.Rewrite(st.Question, st.ExtractedInfo)
			if err != nil {
				return st, err
			}
			st.RewrittenQuery = &q
			node = subRetrieve

		case subGenerate:
			answer, err := s.Answer(st.Question, st.ExtractedInfo)
			if err != nil {
				return st, err
			}
			st.NodeAnswer = &answer
			return st, nil
		}
	}
	return st, fmt.Errorf("%w (%d)", ErrStepLimit, maxSteps)
}
