package session

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/checkpoint"
	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/state"
	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/workflows"
)

var testNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// fakeRunner keeps one state per thread and mimics the engine's review gate.
type fakeRunner struct {
	threads  map[string]*state.WorkflowState
	fallback bool
	startErr error
	resumes  []string
	passes   int
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{threads: map[string]*state.WorkflowState{}}
}

func (f *fakeRunner) answer(ws *state.WorkflowState) {
	f.passes++
	a := fmt.Sprintf("answer %d to %s", f.passes, ws.Question)
	ws.FinalAnswer = &a
	ws.Revision++
	if f.fallback {
		ws.Node, ws.Status, ws.Fallback = state.NodeEnd, state.StatusCompleted, true
		return
	}
	ws.EvaluationReport = &state.EvaluationReport{TotalScore: 42, BriefEvaluation: "solid"}
	ws.Node, ws.Status = state.NodeReview, state.StatusAwaitingReview
}

func (f *fakeRunner) Start(_ context.Context, id, q string) (*state.WorkflowState, error) {
	if f.startErr != nil {
		return nil, f.startErr
	}
	ws := state.NewWorkflowState(id, q, testNow)
	f.answer(ws)
	f.threads[id] = ws
	return ws.Clone(), nil
}

func (f *fakeRunner) Resume(_ context.Context, id, decision string) (*state.WorkflowState, error) {
	f.resumes = append(f.resumes, decision)
	ws := f.threads[id]
	d, err := state.ParseDecision(decision)
	if err != nil {
		return nil, err
	}
	if d == state.DecisionApproved {
		ws.Node, ws.Status, ws.UserDecision = state.NodeEnd, state.StatusCompleted, &d
		return ws.Clone(), nil
	}
	ws.ResetForReroute()
	f.answer(ws)
	return ws.Clone(), nil
}

func (f *fakeRunner) State(_ context.Context, id string) (*state.WorkflowState, error) {
	ws, ok := f.threads[id]
	if !ok {
		return nil, checkpoint.ErrNotFound
	}
	return ws.Clone(), nil
}

func newTestManager(t *testing.T, r Runner) *Manager {
	m := NewManager(r, zaptest.NewLogger(t))
	n := 0
	m.newID = func() string {
		n++
		return fmt.Sprintf("thread-%d", n)
	}
	return m
}

func TestQuestionRendersGeneratedAnswer(t *testing.T) {
	r := newFakeRunner()
	m := newTestManager(t, r)

	reply, err := m.StartOrContinue(context.Background(), "", "연차휴가는 며칠인가요?")
	require.NoError(t, err)
	assert.Equal(t, "thread-1", reply.ThreadID)
	assert.True(t, reply.Pending)
	assert.Contains(t, reply.Text, GeneratedHeader)
	assert.Contains(t, reply.Text, "answer 1 to 연차휴가는 며칠인가요?")
	assert.Contains(t, reply.Text, "42/60")
	assert.Contains(t, reply.Text, "solid")
	assert.Contains(t, reply.Text, "(y/n)")
}

func TestRejectRendersRewrittenAnswer(t *testing.T) {
	r := newFakeRunner()
	m := newTestManager(t, r)
	ctx := context.Background()

	first, err := m.StartOrContinue(ctx, "t1", "q")
	require.NoError(t, err)
	require.True(t, first.Pending)

	reply, err := m.StartOrContinue(ctx, "t1", " N ")
	require.NoError(t, err)
	assert.Equal(t, []string{"rejected"}, r.resumes)
	assert.Equal(t, "t1", reply.ThreadID)
	assert.True(t, reply.Pending)
	assert.Contains(t, reply.Text, RewrittenHeader)
	assert.Contains(t, reply.Text, "answer 2 to q")
	assert.NotContains(t, reply.Text, "answer 1")
}

func TestApproveMintsNewThread(t *testing.T) {
	r := newFakeRunner()
	m := newTestManager(t, r)
	ctx := context.Background()

	_, err := m.StartOrContinue(ctx, "t1", "q")
	require.NoError(t, err)
	reply, err := m.StartOrContinue(ctx, "t1", "y")
	require.NoError(t, err)
	assert.Equal(t, ApprovedText, reply.Text)
	assert.False(t, reply.Pending)
	assert.Equal(t, "thread-1", reply.ThreadID)
	assert.True(t, r.threads["t1"].Done())
}

func TestInvalidDecisionRepromptsWithoutMutation(t *testing.T) {
	r := newFakeRunner()
	m := newTestManager(t, r)
	ctx := context.Background()

	_, err := m.StartOrContinue(ctx, "t1", "q")
	require.NoError(t, err)
	before := r.threads["t1"].Clone()

	reply, err := m.StartOrContinue(ctx, "t1", "maybe")
	require.NoError(t, err)
	assert.Equal(t, InvalidInput, reply.Text)
	assert.True(t, reply.Pending)
	assert.Empty(t, r.resumes)
	assert.Equal(t, before, r.threads["t1"])
}

func TestFallbackAnswerShownDirectly(t *testing.T) {
	r := newFakeRunner()
	r.fallback = true
	m := newTestManager(t, r)

	reply, err := m.StartOrContinue(context.Background(), "t1", "안녕하세요")
	require.NoError(t, err)
	assert.False(t, reply.Pending)
	assert.Equal(t, "answer 1 to 안녕하세요", reply.Text)

	// the next message is a new question, not a decision
	reply, err = m.StartOrContinue(context.Background(), "t1", "y")
	require.NoError(t, err)
	assert.Equal(t, "answer 2 to y", reply.Text)
	assert.Empty(t, r.resumes)
}

func TestFailedTurnApologizesAndKeepsPendingFromCheckpoint(t *testing.T) {
	r := newFakeRunner()
	r.startErr = errors.New("model down")
	m := newTestManager(t, r)

	reply, err := m.StartOrContinue(context.Background(), "t1", "q")
	require.NoError(t, err)
	assert.Equal(t, ApologyText, reply.Text)
	assert.True(t, reply.Failed)
	assert.False(t, reply.Pending)

	r.startErr = nil
	reply, err = m.StartOrContinue(context.Background(), "t1", "q")
	require.NoError(t, err)
	assert.True(t, reply.Pending)
}

func TestBusyThread(t *testing.T) {
	r := newFakeRunner()
	r.startErr = fmt.Errorf("start: %w", workflows.ErrThreadBusy)
	m := newTestManager(t, r)

	reply, err := m.StartOrContinue(context.Background(), "t1", "q")
	require.NoError(t, err)
	assert.Equal(t, BusyText, reply.Text)
}

func TestRenderReviewWithoutReport(t *testing.T) {
	text := RenderReview(GeneratedHeader, "a", nil)
	assert.Contains(t, text, "N/A/60")
}
