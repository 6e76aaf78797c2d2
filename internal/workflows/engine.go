package workflows

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/activities"
	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/checkpoint"
	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/metrics"
	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/state"
	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/streaming"
	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/tracing"
)

// Steps is the set of activities the engine drives. *activities.Activities
// satisfies it.
type Steps interface {
	AnalyzeQuestion(ctx context.Context, in activities.AnalyzeInput) (*activities.AnalyzeResult, error)
	Retrieve(ctx context.Context, in activities.RetrieveInput) ([]state.Document, error)
	ExtractAndEvaluate(ctx context.Context, in activities.ExtractInput) (*activities.ExtractResult, error)
	RewriteQuery(ctx context.Context, in activities.RewriteInput) (*state.RefinedQuestion, error)
	GenerateNodeAnswer(ctx context.Context, in activities.NodeAnswerInput) (string, error)
	AggregateAnswer(ctx context.Context, in activities.AggregateInput) (string, error)
	FallbackAnswer(ctx context.Context, in activities.FallbackInput) (string, error)
	EvaluateAnswer(ctx context.Context, in activities.EvaluateInput) (*state.EvaluationReport, error)
}

// Publisher receives node transition events.
type Publisher interface {
	Publish(evt streaming.Event)
}

type nopPublisher struct{}

func (nopPublisher) Publish(streaming.Event) {}

type Options struct {
	MaxGenerations   int
	MaxSubAgentSteps int
	MaxParallel      int
	LockTTL          time.Duration
	// ReviewFallback sends fallback answers through evaluation and review.
	ReviewFallback bool
}

// Engine runs the legal QA graph in process. A turn (Start, or Resume with a
// rejection) is committed to the checkpoint store only when it reaches the review
// gate or the end, so a failed turn leaves the previous checkpoint as it was.
type Engine struct {
	store  checkpoint.Store
	steps  Steps
	events Publisher
	opts   Options
	logger *zap.Logger
	now    func() time.Time
}

func NewEngine(store checkpoint.Store, steps Steps, events Publisher, opts Options, logger *zap.Logger) *Engine {
	if events == nil {
		events = nopPublisher{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxGenerations <= 0 {
		opts.MaxGenerations = 2
	}
	if opts.MaxParallel <= 0 {
		opts.MaxParallel = len(state.AllDomains)
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 5 * time.Minute
	}
	return &Engine{store: store, steps: steps, events: events, opts: opts, logger: logger, now: time.Now}
}

func (e *Engine) lock(ctx context.Context, threadID string) (checkpoint.Release, error) {
	release, err := e.store.Lock(ctx, threadID, e.opts.LockTTL)
	if errors.Is(err, checkpoint.ErrLocked) {
		return nil, ErrThreadBusy
	}
	return release, err
}

func (e *Engine) unlock(threadID string, release checkpoint.Release) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := release(ctx); err != nil {
		e.logger.Warn("Failed to release thread", zap.String("thread_id", threadID), zap.Error(err))
	}
}

// Start runs a new question on threadID until the review gate or, for fallback
// answers, the end. A thread still waiting for review must be resumed instead.
func (e *Engine) Start(ctx context.Context, threadID, question string) (*state.WorkflowState, error) {
	if strings.TrimSpace(question) == "" {
		return nil, ErrEmptyQuestion
	}
	release, err := e.lock(ctx, threadID)
	if err != nil {
		return nil, err
	}
	defer e.unlock(threadID, release)

	prev, err := e.store.Get(ctx, threadID)
	switch {
	case err == nil && prev.AwaitingReview():
		return nil, ErrReviewPending
	case err != nil && !errors.Is(err, checkpoint.ErrNotFound):
		return nil, err
	}

	ws := state.NewWorkflowState(threadID, question, e.now())
	if prev != nil {
		ws.Revision = prev.Revision
	}
	return e.turn(ctx, "start", ws)
}

// Resume applies a reviewer decision to a paused thread. An invalid decision or a
// thread that is not paused leaves the checkpoint untouched.
func (e *Engine) Resume(ctx context.Context, threadID, decision string) (*state.WorkflowState, error) {
	d, err := state.ParseDecision(decision)
	if err != nil {
		return nil, err
	}
	release, err := e.lock(ctx, threadID)
	if err != nil {
		return nil, err
	}
	defer e.unlock(threadID, release)

	stored, err := e.store.Get(ctx, threadID)
	if err != nil {
		return nil, err
	}
	ws := stored.Clone()
	outcome, err := ApplyDecision(ws, d)
	if err != nil {
		return nil, err
	}
	metrics.ReviewDecisions.WithLabelValues(string(d)).Inc()
	e.publish(threadID, streaming.EventReviewDecision, state.NodeReview, string(d))

	if outcome == ReviewComplete {
		ws.Revision++
		ws.UpdatedAt = e.now()
		if err := e.commit(ctx, ws, stored.Revision); err != nil {
			return nil, err
		}
		metrics.ActiveThreads.Dec()
		e.publish(threadID, streaming.EventCompleted, state.NodeEnd, "approved")
		return ws, nil
	}
	out, err := e.turn(ctx, "reroute", ws)
	if err != nil {
		return nil, err
	}
	metrics.ActiveThreads.Dec()
	return out, nil
}

// State returns the last committed checkpoint of threadID.
func (e *Engine) State(ctx context.Context, threadID string) (*state.WorkflowState, error) {
	return e.store.Get(ctx, threadID)
}

func (e *Engine) turn(ctx context.Context, kind string, ws *state.WorkflowState) (out *state.WorkflowState, err error) {
	start := e.now()
	metrics.TurnsStarted.WithLabelValues(kind).Inc()
	ctx, span := tracing.StartSpan(ctx, "legalqa.turn."+kind)
	defer func() {
		tracing.End(span, err)
		metrics.TurnDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
		outcome := "error"
		if err == nil {
			outcome = string(out.Status)
		}
		metrics.TurnsCompleted.WithLabelValues(kind, outcome).Inc()
	}()

	threadID := ws.ThreadID
	var (
		mu        sync.Mutex
		node      state.Node
		nodeStart time.Time
	)
	finishNode := func() {
		if node != "" {
			metrics.NodeDuration.WithLabelValues(string(node)).Observe(time.Since(nodeStart).Seconds())
			e.publish(threadID, streaming.EventNodeCompleted, node, "")
		}
	}
	steps := e.turnSteps(ctx, threadID)
	steps.Enter = func(n state.Node) {
		mu.Lock()
		defer mu.Unlock()
		finishNode()
		node, nodeStart = n, time.Now()
		e.publish(threadID, streaming.EventNodeStarted, n, "")
	}

	if err := RunTurn(ws, steps, e.opts.ReviewFallback); err != nil {
		e.logger.Error("Turn failed",
			zap.String("thread_id", threadID),
			zap.String("node", string(ws.Node)),
			zap.Error(err))
		e.publish(threadID, streaming.EventFailed, ws.Node, err.Error())
		return nil, err
	}
	mu.Lock()
	finishNode()
	mu.Unlock()

	base := ws.Revision
	ws.Revision++
	ws.UpdatedAt = e.now()
	if err := e.commit(ctx, ws, base); err != nil {
		return nil, err
	}

	if ws.AwaitingReview() {
		metrics.ActiveThreads.Inc()
		e.publish(threadID, streaming.EventReviewRequested, state.NodeReview, ws.Answer())
	} else {
		e.publish(threadID, streaming.EventCompleted, state.NodeEnd, "fallback")
	}
	e.logger.Info("Turn committed",
		zap.String("thread_id", threadID),
		zap.String("status", string(ws.Status)),
		zap.Int("pass", ws.Passes),
		zap.Any("datasources", ws.Datasources))
	return ws, nil
}

// commit writes ws only while the stored revision is still base. Leases can
// lapse during a long turn.
func (e *Engine) commit(ctx context.Context, ws *state.WorkflowState, base int64) error {
	err := e.store.PutIf(ctx, ws.ThreadID, ws, ws.Node, base)
	if errors.Is(err, checkpoint.ErrConflict) {
		e.logger.Warn("Discarding turn, thread moved on",
			zap.String("thread_id", ws.ThreadID),
			zap.Int64("base_revision", base))
		return ErrThreadBusy
	}
	return err
}

func (e *Engine) publish(threadID, typ string, node state.Node, msg string) {
	e.events.Publish(streaming.Event{ThreadID: threadID, Type: typ, Node: string(node), Message: msg, Timestamp: e.now()})
}

func (e *Engine) turnSteps(ctx context.Context, threadID string) TurnSteps {
	return TurnSteps{
		Analyze: func(q string) ([]state.DomainTag, error) {
			res, err := e.steps.AnalyzeQuestion(ctx, activities.AnalyzeInput{ThreadID: threadID, Question: q})
			if err != nil {
				return nil, err
			}
			e.events.Publish(streaming.Event{
				ThreadID: threadID, Type: streaming.EventRouted, Node: string(state.NodeAnalyze),
				Data: map[string]interface{}{"datasources": res.Datasources}, Timestamp: e.now(),
			})
			return res.Datasources, nil
		},
		Dispatch: func(q string, set []state.DomainTag) ([]string, error) {
			return e.dispatch(ctx, threadID, q, set)
		},
		Aggregate: func(q string, answers []string) (string, error) {
			return e.steps.AggregateAnswer(ctx, activities.AggregateInput{Question: q, Answers: answers})
		},
		Fallback: func(q string) (string, error) {
			return e.steps.FallbackAnswer(ctx, activities.FallbackInput{Question: q})
		},
		Evaluate: func(q, a string) (*state.EvaluationReport, error) {
			return e.steps.EvaluateAnswer(ctx, activities.EvaluateInput{ThreadID: threadID, Question: q, Answer: a})
		},
	}
}

// dispatch runs one sub-agent per domain concurrently and folds their answers.
// The first failure cancels the rest.
func (e *Engine) dispatch(ctx context.Context, threadID, question string, set []state.DomainTag) ([]string, error) {
	var mu sync.Mutex
	byDomain := make(map[state.DomainTag]string, len(set))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.MaxParallel)
	for _, d := range set {
		d := d
		g.Go(func() error {
			node := state.SearchNode(d)
			sctx, span := tracing.StartNodeSpan(gctx, threadID, string(node))
			e.publish(threadID, streaming.EventNodeStarted, node, "")
			st, err := RunSubAgent(question, e.opts.MaxGenerations, e.opts.MaxSubAgentSteps, e.subAgentSteps(sctx, d))
			tracing.End(span, err)
			if err != nil {
				return &ToolFailureError{Node: node, Domain: d, Err: err}
			}
			metrics.SubAgentPasses.WithLabelValues(string(d)).Observe(float64(st.NumGenerations))
			e.publish(threadID, streaming.EventNodeCompleted, node, "")
			mu.Lock()
			byDomain[d] = *st.NodeAnswer
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return state.FoldAnswers(byDomain), nil
}

func (e *Engine) subAgentSteps(ctx context.Context, d state.DomainTag) SubAgentSteps {
	return SubAgentSteps{
		Retrieve: func(q string) ([]state.Document, error) {
			return e.steps.Retrieve(ctx, activities.RetrieveInput{Domain: d, Query: q})
		},
		Extract: func(q string, docs []state.Document) ([]state.InformationStrip, error) {
			res, err := e.steps.ExtractAndEvaluate(ctx, activities.ExtractInput{Domain: d, Question: q, Documents: docs})
			if err != nil {
				return nil, err
			}
			return res.Strips, nil
		},
		Rewrite: func(q string, strips []state.InformationStrip) (string, error) {
			rq, err := e.steps.RewriteQuery(ctx, activities.RewriteInput{Domain: d, Question: q, Strips: strips})
			if err != nil {
				return "", err
			}
			return rq.QuestionRefined, nil
		},
		Answer: func(q string, strips []state.InformationStrip) (string, error) {
			return e.steps.GenerateNodeAnswer(ctx, activities.NodeAnswerInput{Domain: d, Question: q, Strips: strips})
		},
	}
}
