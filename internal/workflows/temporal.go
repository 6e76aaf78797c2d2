package workflows

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/activities"
	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/state"
)

const (
	// ReviewSignal carries a ReviewSignalPayload to a paused LegalQAWorkflow.
	ReviewSignal = "human-review"
	// StateQuery returns the workflow's current WorkflowState.
	StateQuery = "state"
	// FailureQuery returns the last TurnFailure, or nil.
	FailureQuery = "last-failure"
)

type LegalQAInput struct {
	ThreadID         string        `json:"thread_id"`
	Question         string        `json:"question"`
	MaxGenerations   int           `json:"max_generations"`
	MaxSubAgentSteps int           `json:"max_subagent_steps"`
	ReviewFallback   bool          `json:"review_fallback"`
	ReviewTimeout    time.Duration `json:"review_timeout"`
}

// ReviewSignalPayload is a decision on the answer the reviewer saw at Revision.
// Decisions for any other revision are dropped.
type ReviewSignalPayload struct {
	Decision  string `json:"decision"`
	Revision  int64  `json:"revision"`
	RequestID string `json:"request_id,omitempty"`
}

// TurnFailure records a rejection whose reroute failed. The review stays open.
type TurnFailure struct {
	RequestID string `json:"request_id"`
	Revision  int64  `json:"revision"`
	Error     string `json:"error"`
}

type LegalQAResult struct {
	State    *state.WorkflowState `json:"state"`
	TimedOut bool                 `json:"timed_out"`
}

// LegalQAWorkflow is the durable rendition of the engine: the same graph, with
// the review gate implemented as a signal wait. Rejections loop back to the router
// inside the same execution.
func LegalQAWorkflow(ctx workflow.Context, in LegalQAInput) (*LegalQAResult, error) {
	logger := workflow.GetLogger(ctx)
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 3 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:        time.Second,
			BackoffCoefficient:     2,
			MaximumAttempts:        3,
			NonRetryableErrorTypes: []string{"MalformedOutputError"},
		},
	})

	ws := state.NewWorkflowState(in.ThreadID, in.Question, workflow.Now(ctx))
	var failure *TurnFailure
	if err := workflow.SetQueryHandler(ctx, StateQuery, func() (*state.WorkflowState, error) {
		return ws, nil
	}); err != nil {
		return nil, err
	}
	if err := workflow.SetQueryHandler(ctx, FailureQuery, func() (*TurnFailure, error) {
		return failure, nil
	}); err != nil {
		return nil, err
	}

	timeout := in.ReviewTimeout
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	reviews := workflow.GetSignalChannel(ctx, ReviewSignal)
	steps := temporalTurnSteps(ctx, in)

	work := ws.Clone()
	if err := RunTurn(work, steps, in.ReviewFallback); err != nil {
		logger.Error("Turn failed", "thread_id", in.ThreadID, "error", err)
		return nil, err
	}
	work.Revision++
	work.UpdatedAt = workflow.Now(ctx)
	ws = work

	for !ws.Done() {
		logger.Info("Waiting for review", "thread_id", in.ThreadID, "pass", ws.Passes, "revision", ws.Revision)
		sig, timedOut := awaitDecision(ctx, reviews, timeout, ws.Revision)
		if timedOut {
			logger.Warn("Review timed out", "thread_id", in.ThreadID)
			expired := ws.Clone()
			expired.Expire(workflow.Now(ctx))
			expired.Revision++
			ws = expired
			return &LegalQAResult{State: ws, TimedOut: true}, nil
		}

		next := ws.Clone()
		outcome, err := ApplyDecision(next, sig.decision)
		if err != nil {
			return nil, err
		}
		if outcome == ReviewReroute {
			if err := RunTurn(next, steps, in.ReviewFallback); err != nil {
				logger.Error("Reroute failed, review stays open", "thread_id", in.ThreadID, "error", err)
				failure = &TurnFailure{RequestID: sig.requestID, Revision: ws.Revision, Error: err.Error()}
				continue
			}
		}
		next.Revision++
		next.UpdatedAt = workflow.Now(ctx)
		ws = next
	}
	return &LegalQAResult{State: ws}, nil
}

type reviewSignal struct {
	decision  state.Decision
	requestID string
}

// awaitDecision blocks until a valid decision for revision arrives or the timer
// fires. Invalid and stale decisions are logged and ignored.
func awaitDecision(ctx workflow.Context, ch workflow.ReceiveChannel, timeout time.Duration, revision int64) (reviewSignal, bool) {
	logger := workflow.GetLogger(ctx)
	timerCtx, cancel := workflow.WithCancel(ctx)
	defer cancel()
	timer := workflow.NewTimer(timerCtx, timeout)

	for {
		var (
			payload  ReviewSignalPayload
			timedOut bool
		)
		sel := workflow.NewSelector(ctx)
		sel.AddReceive(ch, func(c workflow.ReceiveChannel, more bool) {
			c.Receive(ctx, &payload)
		})
		sel.AddFuture(timer, func(workflow.Future) { timedOut = true })
		sel.Select(ctx)

		if timedOut {
			return reviewSignal{}, true
		}
		if payload.Revision != revision {
			logger.Warn("Ignoring stale review decision", "decision", payload.Decision,
				"revision", payload.Revision, "current", revision)
			continue
		}
		d, err := state.ParseDecision(payload.Decision)
		if err != nil {
			logger.Warn("Ignoring invalid review decision", "decision", payload.Decision)
			continue
		}
		return reviewSignal{decision: d, requestID: payload.RequestID}, false
	}
}

func temporalTurnSteps(ctx workflow.Context, in LegalQAInput) TurnSteps {
	var a *activities.Activities
	return TurnSteps{
		Analyze: func(q string) ([]state.DomainTag, error) {
			var res activities.AnalyzeResult
			err := workflow.ExecuteActivity(ctx, a.AnalyzeQuestion, activities.AnalyzeInput{ThreadID: in.ThreadID, Question: q}).Get(ctx, &res)
			return res.Datasources, err
		},
		Dispatch: func(q string, set []state.DomainTag) ([]string, error) {
			return temporalDispatch(ctx, in, q, set)
		},
		Aggregate: func(q string, answers []string) (string, error) {
			var out string
			err := workflow.ExecuteActivity(ctx, a.AggregateAnswer, activities.AggregateInput{Question: q, Answers: answers}).Get(ctx, &out)
			return out, err
		},
		Fallback: func(q string) (string, error) {
			var out string
			err := workflow.ExecuteActivity(ctx, a.FallbackAnswer, activities.FallbackInput{Question: q}).Get(ctx, &out)
			return out, err
		},
		Evaluate: func(q, answer string) (*state.EvaluationReport, error) {
			var report state.EvaluationReport
			err := workflow.ExecuteActivity(ctx, a.EvaluateAnswer, activities.EvaluateInput{ThreadID: in.ThreadID, Question: q, Answer: answer}).Get(ctx, &report)
			if err != nil {
				return nil, err
			}
			return &report, nil
		},
	}
}

// temporalDispatch runs one coroutine per domain and joins in canonical order.
func temporalDispatch(ctx workflow.Context, in LegalQAInput, question string, set []state.DomainTag) ([]string, error) {
	type branch struct {
		domain state.DomainTag
		answer string
		err    error
	}
	done := workflow.NewChannel(ctx)
	for _, d := range set {
		d := d
		workflow.Go(ctx, func(gctx workflow.Context) {
			st, err := RunSubAgent(question, in.MaxGenerations, in.MaxSubAgentSteps, temporalSubAgentSteps(gctx, d))
			b := branch{domain: d, err: err}
			if err == nil {
				b.answer = *st.NodeAnswer
			}
			done.Send(gctx, b)
		})
	}

	byDomain := make(map[state.DomainTag]string, len(set))
	var firstErr error
	for range set {
		var b branch
		done.Receive(ctx, &b)
		if b.err != nil && firstErr == nil {
			firstErr = &ToolFailureError{Node: state.SearchNode(b.domain), Domain: b.domain, Err: b.err}
		}
		byDomain[b.domain] = b.answer
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return state.FoldAnswers(byDomain), nil
}

func temporalSubAgentSteps(ctx workflow.Context, d state.DomainTag) SubAgentSteps {
	var a *activities.Activities
	return SubAgentSteps{
		Retrieve: func(q string) ([]state.Document, error) {
			var docs []state.Document
			err := workflow.ExecuteActivity(ctx, a.Retrieve, activities.RetrieveInput{Domain: d, Query: q}).Get(ctx, &docs)
			return docs, err
		},
		Extract: func(q string, docs []state.Document) ([]state.InformationStrip, error) {
			var res activities.ExtractResult
			err := workflow.ExecuteActivity(ctx, a.ExtractAndEvaluate, activities.ExtractInput{Domain: d, Question: q, Documents: docs}).Get(ctx, &res)
			return res.Strips, err
		},
		Rewrite: func(q string, strips []state.InformationStrip) (string, error) {
			var rq state.RefinedQuestion
			err := workflow.ExecuteActivity(ctx, a.RewriteQuery, activities.RewriteInput{Domain: d, Question: q, Strips: strips}).Get(ctx, &rq)
			return rq.QuestionRefined, err
		},
		Answer: func(q string, strips []state.InformationStrip) (string, error) {
			var out string
			err := workflow.ExecuteActivity(ctx, a.GenerateNodeAnswer, activities.NodeAnswerInput{Domain: d, Question: q, Strips: strips}).Get(ctx, &out)
			return out, err
		},
	}
}
