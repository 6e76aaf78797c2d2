package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/auth"
	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/checkpoint"
	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/session"
	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/state"
	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/streaming"
	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/workflows"
)

type stubRunner struct {
	mu      sync.Mutex
	threads map[string]*state.WorkflowState
}

func (s *stubRunner) Start(_ context.Context, id, q string) (*state.WorkflowState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ws := state.NewWorkflowState(id, q, time.Now())
	a := "답변: " + q
	ws.FinalAnswer = &a
	ws.EvaluationReport = &state.EvaluationReport{TotalScore: 50, BriefEvaluation: "good"}
	ws.Node, ws.Status, ws.Revision = state.NodeReview, state.StatusAwaitingReview, 1
	s.threads[id] = ws
	return ws.Clone(), nil
}

func (s *stubRunner) Resume(_ context.Context, id, decision string) (*state.WorkflowState, error) {
	d, err := state.ParseDecision(decision)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ws, ok := s.threads[id]
	if !ok {
		return nil, checkpoint.ErrNotFound
	}
	if !ws.AwaitingReview() {
		return nil, workflows.ErrNotAwaitingReview
	}
	ws.UserDecision = &d
	ws.Node, ws.Status = state.NodeEnd, state.StatusCompleted
	return ws.Clone(), nil
}

func (s *stubRunner) State(_ context.Context, id string) (*state.WorkflowState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ws, ok := s.threads[id]
	if !ok {
		return nil, checkpoint.ErrNotFound
	}
	return ws.Clone(), nil
}

type fixture struct {
	srv    *httptest.Server
	runner *stubRunner
	stream *streaming.Manager
}

func newFixture(t *testing.T) *fixture {
	logger := zaptest.NewLogger(t)
	runner := &stubRunner{threads: map[string]*state.WorkflowState{}}
	stream := streaming.NewManager(16)
	h := NewHandler(session.NewManager(runner, logger), runner, stream, logger)
	srv := httptest.NewServer(h.Router(auth.NewMiddleware(nil, true, logger)))
	t.Cleanup(srv.Close)
	return &fixture{srv: srv, runner: runner, stream: stream}
}

func (f *fixture) post(t *testing.T, path string, body any) (*http.Response, map[string]any) {
	b, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(f.srv.URL+path, "application/json", bytes.NewReader(b))
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func TestChatThenApprove(t *testing.T) {
	f := newFixture(t)

	resp, out := f.post(t, "/v1/chat", chatRequest{ThreadID: "t1", Message: "전세 계약 갱신"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, out["pending"])
	assert.Contains(t, out["text"], "50/60")

	resp, out = f.post(t, "/v1/chat", chatRequest{ThreadID: "t1", Message: "y"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, session.ApprovedText, out["text"])
	assert.NotEqual(t, "t1", out["thread_id"])
}

func TestChatRejectsEmptyMessage(t *testing.T) {
	f := newFixture(t)
	resp, _ := f.post(t, "/v1/chat", chatRequest{ThreadID: "t1", Message: "  "})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDecisionEndpoint(t *testing.T) {
	f := newFixture(t)

	resp, _ := f.post(t, "/approvals/decision", approvalDecisionRequest{ThreadID: "nope", Decision: "approved"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	_, err := f.runner.Start(context.Background(), "t1", "q")
	require.NoError(t, err)

	resp, _ = f.post(t, "/approvals/decision", approvalDecisionRequest{ThreadID: "t1", Decision: "maybe"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, out := f.post(t, "/approvals/decision", approvalDecisionRequest{ThreadID: "t1", Decision: "approved"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, string(state.StatusCompleted), out["status"])
	assert.Equal(t, "dev", out["decided_by"])

	resp, _ = f.post(t, "/approvals/decision", approvalDecisionRequest{ThreadID: "t1", Decision: "approved"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = f.post(t, "/approvals/decision", map[string]string{"thread_id": "t1", "decision": "approved", "extra": "x"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestThreadState(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Get(f.srv.URL + "/v1/threads/t1")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	_, err = f.runner.Start(context.Background(), "t1", "q")
	require.NoError(t, err)
	resp, err = http.Get(f.srv.URL + "/v1/threads/t1")
	require.NoError(t, err)
	defer resp.Body.Close()
	var ws state.WorkflowState
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ws))
	assert.True(t, ws.AwaitingReview())
	assert.Equal(t, "답변: q", ws.Answer())
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Get(f.srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestWebSocketReplayAndLive(t *testing.T) {
	f := newFixture(t)
	f.stream.Publish(streaming.Event{ThreadID: "t1", Type: streaming.EventNodeStarted, Node: "analyze_question"})
	f.stream.Publish(streaming.Event{ThreadID: "t1", Type: streaming.EventRouted, Message: "labor"})

	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/v1/stream/t1?last_event_id=1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var ev streaming.Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, uint64(2), ev.Seq)
	assert.Equal(t, streaming.EventRouted, ev.Type)

	// the subscription is registered before the replay is written
	f.stream.Publish(streaming.Event{ThreadID: "t1", Type: streaming.EventReviewRequested})
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, uint64(3), ev.Seq)
	assert.Equal(t, streaming.EventReviewRequested, ev.Type)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusLocked, statusFor(workflows.ErrThreadBusy))
	assert.Equal(t, http.StatusConflict, statusFor(workflows.ErrReviewPending))
	assert.Equal(t, http.StatusBadRequest, statusFor(workflows.ErrEmptyQuestion))
	assert.Equal(t, http.StatusInternalServerError, statusFor(assert.AnError))
}
