package workflows

import (
	"errors"
	"fmt"

	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/state"
)

var (
	// ErrNotAwaitingReview is returned by Resume on a thread that is not paused at the gate.
	ErrNotAwaitingReview = errors.New("thread is not awaiting review")
	// ErrReviewPending is returned by Start on a thread still waiting for a decision.
	ErrReviewPending = errors.New("thread has an answer awaiting review")
	ErrThreadBusy    = errors.New("thread is being processed")
	ErrStepLimit     = errors.New("sub-agent exceeded its step limit")
	ErrEmptyQuestion = errors.New("question cannot be empty")
)

// ToolFailureError attributes a retrieval or model failure to the node it happened in.
type ToolFailureError struct {
	Node   state.Node
	Domain state.DomainTag
	Err    error
}

func (e *ToolFailureError) Error() string {
	if e.Domain != "" {
		return fmt.Sprintf("%s (%s): %v", e.Node, e.Domain, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Node, e.Err)
}

func (e *ToolFailureError) Unwrap() error { return e.Err }

func fail(node state.Node, err error) error {
	if err == nil {
		return nil
	}
	var tf *ToolFailureError
	if errors.As(err, &tf) {
		return err
	}
	return &ToolFailureError{Node: node, Err: err}
}
