package temporal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/checkpoint"
	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/config"
	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/state"
	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/workflows"
)

// Runner drives threads as LegalQAWorkflow executions. It offers the same
// Start/Resume/State contract as the in-process engine and blocks until the
// workflow reaches the review gate or finishes.
type Runner struct {
	client   client.Client
	queue    string
	wfCfg    config.WorkflowConfig
	review   config.ReviewConfig
	interval time.Duration
	logger   *zap.Logger
}

func NewRunner(c client.Client, cfg *config.Config, logger *zap.Logger) *Runner {
	return &Runner{
		client:   c,
		queue:    cfg.Temporal.TaskQueue,
		wfCfg:    cfg.Workflow,
		review:   cfg.Review,
		interval: 250 * time.Millisecond,
		logger:   logger,
	}
}

// ErrRerouteFailed means a rejection was accepted but the next pass failed. The
// previous answer is still awaiting review.
var ErrRerouteFailed = errors.New("reroute failed")

func workflowID(threadID string) string { return "legalqa-" + threadID }

func (r *Runner) Start(ctx context.Context, threadID, question string) (*state.WorkflowState, error) {
	if cur, err := r.State(ctx, threadID); err == nil && cur.AwaitingReview() {
		return nil, workflows.ErrReviewPending
	}
	_, err := r.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:                    workflowID(threadID),
		TaskQueue:             r.queue,
		WorkflowIDReusePolicy: enumspb.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE,
	}, workflows.LegalQAWorkflow, workflows.LegalQAInput{
		ThreadID:         threadID,
		Question:         question,
		MaxGenerations:   r.wfCfg.MaxGenerations,
		MaxSubAgentSteps: r.wfCfg.MaxSubAgentSteps,
		ReviewFallback:   r.review.ReviewFallback,
		ReviewTimeout:    r.review.Timeout,
	})
	var started *serviceerror.WorkflowExecutionAlreadyStarted
	if errors.As(err, &started) {
		return nil, workflows.ErrThreadBusy
	}
	if err != nil {
		return nil, fmt.Errorf("start workflow: %w", err)
	}
	return r.settle(ctx, threadID, 0, "")
}

func (r *Runner) Resume(ctx context.Context, threadID, decision string) (*state.WorkflowState, error) {
	d, err := state.ParseDecision(decision)
	if err != nil {
		return nil, err
	}
	cur, err := r.State(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if !cur.AwaitingReview() {
		return nil, workflows.ErrNotAwaitingReview
	}
	payload := workflows.ReviewSignalPayload{
		Decision:  string(d),
		Revision:  cur.Revision,
		RequestID: uuid.NewString(),
	}
	if err := r.client.SignalWorkflow(ctx, workflowID(threadID), "", workflows.ReviewSignal, payload); err != nil {
		return nil, fmt.Errorf("signal review: %w", err)
	}
	return r.settle(ctx, threadID, cur.Revision, payload.RequestID)
}

func (r *Runner) State(ctx context.Context, threadID string) (*state.WorkflowState, error) {
	v, err := r.client.QueryWorkflow(ctx, workflowID(threadID), "", workflows.StateQuery)
	if err != nil {
		var nf *serviceerror.NotFound
		if errors.As(err, &nf) {
			return nil, fmt.Errorf("thread %s: %w", threadID, checkpoint.ErrNotFound)
		}
		return nil, fmt.Errorf("query workflow: %w", err)
	}
	var ws state.WorkflowState
	if err := v.Get(&ws); err != nil {
		return nil, err
	}
	if ws.AwaitingReview() && !r.running(ctx, threadID) {
		// terminated or reset while paused; nothing will answer a signal
		ws.Expire(ws.UpdatedAt)
	}
	return &ws, nil
}

// settle polls until the thread has moved past revision and is paused or done.
// A non-empty requestID also ends the wait when the workflow reports that the
// reroute it triggered failed.
func (r *Runner) settle(ctx context.Context, threadID string, revision int64, requestID string) (*state.WorkflowState, error) {
	t := time.NewTicker(r.interval)
	defer t.Stop()
	for {
		ws, err := r.State(ctx, threadID)
		if err == nil && ws.Revision > revision && (ws.AwaitingReview() || ws.Done() || ws.Expired()) {
			return ws, nil
		}
		if requestID != "" {
			if f := r.failure(ctx, threadID); f != nil && f.RequestID == requestID {
				r.logger.Warn("Reroute failed", zap.String("thread_id", threadID), zap.String("error", f.Error))
				return nil, fmt.Errorf("%w: %s", ErrRerouteFailed, f.Error)
			}
		}
		if closedErr := r.closedWithError(ctx, threadID); closedErr != nil {
			return nil, closedErr
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.C:
		}
	}
}

func (r *Runner) failure(ctx context.Context, threadID string) *workflows.TurnFailure {
	v, err := r.client.QueryWorkflow(ctx, workflowID(threadID), "", workflows.FailureQuery)
	if err != nil || !v.HasValue() {
		return nil
	}
	var f *workflows.TurnFailure
	if err := v.Get(&f); err != nil {
		return nil
	}
	return f
}

func (r *Runner) running(ctx context.Context, threadID string) bool {
	desc, err := r.client.DescribeWorkflowExecution(ctx, workflowID(threadID), "")
	if err != nil {
		// unknown; keep the queried state as is
		return true
	}
	return desc.GetWorkflowExecutionInfo().GetStatus() == enumspb.WORKFLOW_EXECUTION_STATUS_RUNNING
}

func (r *Runner) closedWithError(ctx context.Context, threadID string) error {
	desc, err := r.client.DescribeWorkflowExecution(ctx, workflowID(threadID), "")
	if err != nil {
		return nil
	}
	switch desc.GetWorkflowExecutionInfo().GetStatus() {
	case enumspb.WORKFLOW_EXECUTION_STATUS_FAILED,
		enumspb.WORKFLOW_EXECUTION_STATUS_TERMINATED,
		enumspb.WORKFLOW_EXECUTION_STATUS_TIMED_OUT,
		enumspb.WORKFLOW_EXECUTION_STATUS_CANCELED:
		err := r.client.GetWorkflow(ctx, workflowID(threadID), "").Get(ctx, nil)
		if err == nil {
			err = fmt.Errorf("workflow for thread %s closed", threadID)
		}
		r.logger.Warn("Workflow closed before settling", zap.String("thread_id", threadID), zap.Error(err))
		return err
	}
	return nil
}
