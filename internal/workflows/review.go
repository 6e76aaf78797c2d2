package workflows

import (
	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/state"
)

// ReviewOutcome is what the gate does with a decision.
type ReviewOutcome int

const (
	// ReviewComplete ends the thread.
	ReviewComplete ReviewOutcome = iota
	// ReviewReroute sends the same question back to the router.
	ReviewReroute
)

// ApplyDecision moves a paused thread out of the gate.
func ApplyDecision(ws *state.WorkflowState, d state.Decision) (ReviewOutcome, error) {
	if !ws.AwaitingReview() {
		return 0, ErrNotAwaitingReview
	}
	switch d {
	case state.DecisionApproved:
		ws.UserDecision = &d
		ws.Node = state.NodeEnd
		ws.Status = state.StatusCompleted
		return ReviewComplete, nil
	case state.DecisionRejected:
		ws.ResetForReroute()
		return ReviewReroute, nil
	default:
		return 0, state.ErrInvalidDecision
	}
}
