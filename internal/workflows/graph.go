package workflows

import (
	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/state"
)

// TurnSteps are the top-level graph operations for one routing pass.
type TurnSteps struct {
	Analyze   func(question string) ([]state.DomainTag, error)
	Dispatch  func(question string, set []state.DomainTag) ([]string, error)
	Aggregate func(question string, answers []string) (string, error)
	Fallback  func(question string) (string, error)
	Evaluate  func(question, answer string) (*state.EvaluationReport, error)
	// Enter is told about every node the pass visits; may be nil.
	Enter func(node state.Node)
}

// RunTurn advances ws from the router to either the review gate or the end.
// On error the caller discards ws.
func RunTurn(ws *state.WorkflowState, s TurnSteps, reviewFallback bool) error {
	enter := func(n state.Node) {
		ws.Node = n
		if s.Enter != nil {
			s.Enter(n)
		}
	}
	ws.Passes++

	enter(state.NodeAnalyze)
	set, err := s.Analyze(ws.Question)
	if err != nil {
		return fail(state.NodeAnalyze, err)
	}
	ws.Datasources = set

	if len(set) == 0 {
		enter(state.NodeFallback)
		answer, err := s.Fallback(ws.Question)
		if err != nil {
			return fail(state.NodeFallback, err)
		}
		ws.Fallback = true
		ws.FinalAnswer = &answer
		if !reviewFallback {
			ws.Node = state.NodeEnd
			ws.Status = state.StatusCompleted
			return nil
		}
	} else {
		enter(state.NodeDispatch)
		answers, err := s.Dispatch(ws.Question, set)
		if err != nil {
			return fail(state.NodeDispatch, err)
		}
		// replaces, never appends to, the previous pass
		ws.Answers = answers

		enter(state.NodeGenerate)
		final, err := s.Aggregate(ws.Question, ws.Answers)
		if err != nil {
			return fail(state.NodeGenerate, err)
		}
		ws.FinalAnswer = &final
	}

	enter(state.NodeEvaluate)
	report, err := s.Evaluate(ws.Question, ws.Answer())
	if err != nil {
		return fail(state.NodeEvaluate, err)
	}
	ws.EvaluationReport = report

	enter(state.NodeReview)
	ws.Status = state.StatusAwaitingReview
	return nil
}
