package workflows

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/activities"
	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/checkpoint"
	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/llm"
	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/state"
	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/streaming"
)

var testNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// fakeSteps routes by a fixed table and answers deterministically.
type fakeSteps struct {
	mu         sync.Mutex
	routes     [][]state.DomainTag // one entry per routing pass
	routeCalls int
	strips     map[state.DomainTag][]state.InformationStrip
	aggregated [][]string
	evalErr    error
	failDomain state.DomainTag
	gate       chan struct{} // when set, the first AnalyzeQuestion signals entered and blocks on it
	entered    chan struct{}
	gateOnce   sync.Once
	inflight   int32
	maxInfl    int32
}

func (f *fakeSteps) AnalyzeQuestion(ctx context.Context, in activities.AnalyzeInput) (*activities.AnalyzeResult, error) {
	if f.gate != nil {
		first := false
		f.gateOnce.Do(func() { first = true; close(f.entered) })
		if first {
			<-f.gate
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.routeCalls
	f.routeCalls++
	if i >= len(f.routes) {
		i = len(f.routes) - 1
	}
	return &activities.AnalyzeResult{Datasources: f.routes[i]}, nil
}

func (f *fakeSteps) Retrieve(ctx context.Context, in activities.RetrieveInput) ([]state.Document, error) {
	n := atomic.AddInt32(&f.inflight, 1)
	defer atomic.AddInt32(&f.inflight, -1)
	for {
		m := atomic.LoadInt32(&f.maxInfl)
		if n <= m || atomic.CompareAndSwapInt32(&f.maxInfl, m, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	if in.Domain == f.failDomain {
		return nil, errors.New("backend down")
	}
	return []state.Document{{Content: string(in.Domain)}}, nil
}

func (f *fakeSteps) ExtractAndEvaluate(ctx context.Context, in activities.ExtractInput) (*activities.ExtractResult, error) {
	return &activities.ExtractResult{Strips: f.strips[in.Domain]}, nil
}

func (f *fakeSteps) RewriteQuery(ctx context.Context, in activities.RewriteInput) (*state.RefinedQuestion, error) {
	return &state.RefinedQuestion{QuestionRefined: in.Question + "?"}, nil
}

func (f *fakeSteps) GenerateNodeAnswer(ctx context.Context, in activities.NodeAnswerInput) (string, error) {
	f.mu.Lock()
	pass := f.routeCalls
	f.mu.Unlock()
	return string(in.Domain) + " answer #" + string(rune('0'+pass)), nil
}

func (f *fakeSteps) AggregateAnswer(ctx context.Context, in activities.AggregateInput) (string, error) {
	f.mu.Lock()
	f.aggregated = append(f.aggregated, in.Answers)
	f.mu.Unlock()
	return strings.Join(in.Answers, activities.AnswerSeparator), nil
}

func (f *fakeSteps) FallbackAnswer(ctx context.Context, in activities.FallbackInput) (string, error) {
	return "general: " + in.Question, nil
}

func (f *fakeSteps) EvaluateAnswer(ctx context.Context, in activities.EvaluateInput) (*state.EvaluationReport, error) {
	if f.evalErr != nil {
		return nil, f.evalErr
	}
	r := &state.EvaluationReport{
		Scores:          state.Scores{Accuracy: 8, Relevance: 8, Completeness: 8, CitationAccuracy: 8, ClarityConciseness: 8, Objectivity: 8},
		BriefEvaluation: "ok",
	}
	r.Normalize()
	return r, nil
}

type recorder struct {
	mu     sync.Mutex
	events []streaming.Event
}

func (r *recorder) Publish(e streaming.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

func newEngine(t *testing.T, steps *fakeSteps, opts Options) (*Engine, *checkpoint.MemoryStore, *recorder) {
	store := checkpoint.NewMemoryStore(time.Hour)
	rec := &recorder{}
	e := NewEngine(store, steps, rec, opts, zaptest.NewLogger(t))
	e.now = func() time.Time { return testNow }
	return e, store, rec
}

var someStrips = []state.InformationStrip{{Content: "fact", Source: "law"}}

func TestEngineSingleDomainApproved(t *testing.T) {
	steps := &fakeSteps{
		routes: [][]state.DomainTag{{state.DomainLabor}},
		strips: map[state.DomainTag][]state.InformationStrip{state.DomainLabor: someStrips},
	}
	e, _, rec := newEngine(t, steps, Options{})
	ctx := context.Background()

	ws, err := e.Start(ctx, "t-1", "연차휴가는 며칠인가요?")
	require.NoError(t, err)
	assert.True(t, ws.AwaitingReview())
	assert.Equal(t, state.NodeReview, ws.Node)
	assert.Equal(t, []string{"labor answer #1"}, ws.Answers)
	assert.EqualValues(t, 48, ws.EvaluationReport.TotalScore)
	assert.Contains(t, rec.types(), streaming.EventReviewRequested)

	stored, err := e.State(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, ws, stored)

	done, err := e.Resume(ctx, "t-1", "approved")
	require.NoError(t, err)
	assert.True(t, done.Done())
	assert.Equal(t, state.NodeEnd, done.Node)
	require.NotNil(t, done.UserDecision)
	assert.Equal(t, state.DecisionApproved, *done.UserDecision)

	_, err = e.Resume(ctx, "t-1", "approved")
	assert.ErrorIs(t, err, ErrNotAwaitingReview)
}

func TestEngineParallelDomainsFoldInOrder(t *testing.T) {
	steps := &fakeSteps{
		routes: [][]state.DomainTag{{state.DomainPersonal, state.DomainHousing, state.DomainWeb}},
		strips: map[state.DomainTag][]state.InformationStrip{
			state.DomainPersonal: someStrips, state.DomainHousing: someStrips, state.DomainWeb: someStrips,
		},
	}
	e, _, _ := newEngine(t, steps, Options{MaxParallel: 2})

	ws, err := e.Start(context.Background(), "t-2", "q")
	require.NoError(t, err)
	assert.Equal(t, []string{"personal answer #1", "housing answer #1", "web answer #1"}, ws.Answers)
	assert.Equal(t, "personal answer #1\n\nhousing answer #1\n\nweb answer #1", ws.Answer())
	assert.LessOrEqual(t, atomic.LoadInt32(&steps.maxInfl), int32(2))
}

func TestEngineRejectReplacesAnswers(t *testing.T) {
	steps := &fakeSteps{
		routes: [][]state.DomainTag{{state.DomainLabor}, {state.DomainHousing, state.DomainWeb}},
		strips: map[state.DomainTag][]state.InformationStrip{state.DomainLabor: someStrips},
	}
	e, _, _ := newEngine(t, steps, Options{})
	ctx := context.Background()

	first, err := e.Start(ctx, "t-3", "q")
	require.NoError(t, err)

	second, err := e.Resume(ctx, "t-3", "rejected")
	require.NoError(t, err)
	assert.True(t, second.AwaitingReview())
	assert.Equal(t, "q", second.Question)
	assert.Equal(t, 2, second.Passes)
	assert.Equal(t, []state.DomainTag{state.DomainHousing, state.DomainWeb}, second.Datasources)
	assert.Equal(t, []string{"housing answer #2", "web answer #2"}, second.Answers)
	assert.Nil(t, second.UserDecision)
	assert.Greater(t, second.Revision, first.Revision)
	assert.Equal(t, 2, steps.routeCalls)
}

func TestEngineFallbackSkipsReview(t *testing.T) {
	steps := &fakeSteps{routes: [][]state.DomainTag{nil}}
	e, _, rec := newEngine(t, steps, Options{})

	ws, err := e.Start(context.Background(), "t-4", "오늘 날씨 어때?")
	require.NoError(t, err)
	assert.True(t, ws.Done())
	assert.True(t, ws.Fallback)
	assert.Nil(t, ws.EvaluationReport)
	assert.Equal(t, "general: 오늘 날씨 어때?", ws.Answer())
	assert.NotContains(t, rec.types(), streaming.EventReviewRequested)

	_, err = e.Resume(context.Background(), "t-4", "approved")
	assert.ErrorIs(t, err, ErrNotAwaitingReview)
}

func TestEngineFallbackReviewedWhenConfigured(t *testing.T) {
	steps := &fakeSteps{routes: [][]state.DomainTag{nil}}
	e, _, _ := newEngine(t, steps, Options{ReviewFallback: true})

	ws, err := e.Start(context.Background(), "t-5", "q")
	require.NoError(t, err)
	assert.True(t, ws.AwaitingReview())
	assert.True(t, ws.Fallback)
	assert.NotNil(t, ws.EvaluationReport)
}

func TestEngineInvalidDecisionLeavesCheckpoint(t *testing.T) {
	steps := &fakeSteps{
		routes: [][]state.DomainTag{{state.DomainLabor}},
		strips: map[state.DomainTag][]state.InformationStrip{state.DomainLabor: someStrips},
	}
	e, _, _ := newEngine(t, steps, Options{})
	ctx := context.Background()
	before, err := e.Start(ctx, "t-6", "q")
	require.NoError(t, err)

	_, err = e.Resume(ctx, "t-6", "maybe")
	assert.ErrorIs(t, err, state.ErrInvalidDecision)

	after, err := e.State(ctx, "t-6")
	require.NoError(t, err)
	assert.Equal(t, before, after)

	_, err = e.Start(ctx, "t-6", "another question")
	assert.ErrorIs(t, err, ErrReviewPending)
}

func TestEngineFailedRerouteKeepsPendingCheckpoint(t *testing.T) {
	steps := &fakeSteps{
		routes: [][]state.DomainTag{{state.DomainLabor}, {state.DomainHousing}},
		strips: map[state.DomainTag][]state.InformationStrip{state.DomainLabor: someStrips},
	}
	e, _, rec := newEngine(t, steps, Options{})
	ctx := context.Background()
	before, err := e.Start(ctx, "t-7", "q")
	require.NoError(t, err)

	steps.failDomain = state.DomainHousing
	_, err = e.Resume(ctx, "t-7", "rejected")
	var tf *ToolFailureError
	require.ErrorAs(t, err, &tf)
	assert.Equal(t, state.DomainHousing, tf.Domain)
	assert.Equal(t, state.SearchNode(state.DomainHousing), tf.Node)
	assert.Contains(t, rec.types(), streaming.EventFailed)

	after, err := e.State(ctx, "t-7")
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.True(t, after.AwaitingReview())
}

func TestEngineMalformedEvaluationFailsTurn(t *testing.T) {
	steps := &fakeSteps{
		routes:  [][]state.DomainTag{{state.DomainLabor}},
		evalErr: &llm.MalformedOutputError{Purpose: llm.PurposeEvaluate, Err: errors.New("no scores")},
	}
	e, _, _ := newEngine(t, steps, Options{})

	_, err := e.Start(context.Background(), "t-8", "q")
	var mo *llm.MalformedOutputError
	require.ErrorAs(t, err, &mo)
	var tf *ToolFailureError
	require.ErrorAs(t, err, &tf)
	assert.Equal(t, state.NodeEvaluate, tf.Node)

	_, err = e.State(context.Background(), "t-8")
	assert.ErrorIs(t, err, checkpoint.ErrNotFound)
}

func TestEngineRejectsConcurrentTurns(t *testing.T) {
	steps := &fakeSteps{routes: [][]state.DomainTag{nil}, gate: make(chan struct{}), entered: make(chan struct{})}
	e, _, _ := newEngine(t, steps, Options{})

	errc := make(chan error, 1)
	go func() {
		_, err := e.Start(context.Background(), "t-9", "q")
		errc <- err
	}()
	<-steps.entered

	_, err := e.Start(context.Background(), "t-9", "q")
	assert.ErrorIs(t, err, ErrThreadBusy)
	_, err = e.Resume(context.Background(), "t-9", "approved")
	assert.ErrorIs(t, err, ErrThreadBusy)

	close(steps.gate)
	require.NoError(t, <-errc)
}

func TestEngineLapsedLeaseDoesNotOverwrite(t *testing.T) {
	steps := &fakeSteps{routes: [][]state.DomainTag{nil}, gate: make(chan struct{}), entered: make(chan struct{})}
	e, store, _ := newEngine(t, steps, Options{LockTTL: 20 * time.Millisecond})

	errc := make(chan error, 1)
	go func() {
		_, err := e.Start(context.Background(), "t-11", "slow question")
		errc <- err
	}()
	<-steps.entered
	time.Sleep(50 * time.Millisecond)

	// the first lease lapsed, so a second turn gets in and commits
	second, err := e.Start(context.Background(), "t-11", "fast question")
	require.NoError(t, err)
	assert.EqualValues(t, 1, second.Revision)

	close(steps.gate)
	assert.ErrorIs(t, <-errc, ErrThreadBusy)

	got, err := store.Get(context.Background(), "t-11")
	require.NoError(t, err)
	assert.Equal(t, "fast question", got.Question)
	assert.EqualValues(t, 1, got.Revision)
}

func TestEngineEmptyQuestion(t *testing.T) {
	e, _, _ := newEngine(t, &fakeSteps{}, Options{})
	_, err := e.Start(context.Background(), "t-10", "  ")
	assert.ErrorIs(t, err, ErrEmptyQuestion)
}
