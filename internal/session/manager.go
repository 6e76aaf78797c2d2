// Package session turns chat messages into graph turns. Whether a thread waits
// for review is read from its checkpoint on every message, so a failed turn can
// never leave the conversation believing it is pending when it is not.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/checkpoint"
	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/state"
	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/workflows"
)

type Manager struct {
	runner Runner
	logger *zap.Logger
	newID  func() string
}

func NewManager(runner Runner, logger *zap.Logger) *Manager {
	return &Manager{
		runner: runner,
		logger: logger,
		newID:  func() string { return uuid.New().String() },
	}
}

// NewThreadID mints an id for a fresh conversation.
func (m *Manager) NewThreadID() string { return m.newID() }

// StartOrContinue handles one chat message. A paused thread reads the message as
// a y/n decision; any other thread treats it as a new question. Errors from the
// graph are rendered as an apology and logged, not returned.
func (m *Manager) StartOrContinue(ctx context.Context, threadID, message string) (*Reply, error) {
	if threadID == "" {
		threadID = m.newID()
	}
	logger := m.logger.With(zap.String("thread_id", threadID))

	pending, err := m.pending(ctx, threadID)
	if err != nil {
		logger.Error("Failed to read checkpoint", zap.Error(err))
		return m.apology(threadID, false), nil
	}
	if !pending {
		ws, err := m.runner.Start(ctx, threadID, message)
		if err != nil {
			return m.failure(ctx, logger, threadID, err), nil
		}
		return render(ws, GeneratedHeader), nil
	}

	switch strings.ToLower(strings.TrimSpace(message)) {
	case "y":
		if _, err := m.runner.Resume(ctx, threadID, string(state.DecisionApproved)); err != nil {
			return m.failure(ctx, logger, threadID, err), nil
		}
		next := m.newID()
		logger.Info("Answer approved", zap.String("next_thread_id", next))
		return &Reply{ThreadID: next, Text: ApprovedText}, nil
	case "n":
		ws, err := m.runner.Resume(ctx, threadID, string(state.DecisionRejected))
		if err != nil {
			return m.failure(ctx, logger, threadID, err), nil
		}
		return render(ws, RewrittenHeader), nil
	default:
		return &Reply{ThreadID: threadID, Text: InvalidInput, Pending: true}, nil
	}
}

func (m *Manager) pending(ctx context.Context, threadID string) (bool, error) {
	ws, err := m.runner.State(ctx, threadID)
	if errors.Is(err, checkpoint.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return ws.AwaitingReview(), nil
}

func (m *Manager) failure(ctx context.Context, logger *zap.Logger, threadID string, err error) *Reply {
	if errors.Is(err, workflows.ErrThreadBusy) {
		logger.Warn("Thread busy")
		return &Reply{ThreadID: threadID, Text: BusyText, Failed: true}
	}
	logger.Error("Turn failed", zap.Error(err))
	pending, perr := m.pending(ctx, threadID)
	if perr != nil {
		pending = false
	}
	return m.apology(threadID, pending)
}

func (m *Manager) apology(threadID string, pending bool) *Reply {
	return &Reply{ThreadID: threadID, Text: ApologyText, Pending: pending, Failed: true}
}

func render(ws *state.WorkflowState, header string) *Reply {
	r := &Reply{
		ThreadID: ws.ThreadID,
		Answer:   ws.Answer(),
		Report:   ws.EvaluationReport,
		Pending:  ws.AwaitingReview(),
	}
	if !r.Pending {
		// fallback answers finish without review
		r.Text = r.Answer
		return r
	}
	r.Text = RenderReview(header, ws.Answer(), ws.EvaluationReport)
	return r
}

// RenderReview formats an answer awaiting review with its self-evaluation.
func RenderReview(header, answer string, report *state.EvaluationReport) string {
	score, brief := "N/A", "N/A"
	if report != nil {
		score = fmt.Sprintf("%d", report.TotalScore)
		brief = report.BriefEvaluation
	}
	var b strings.Builder
	b.WriteString(header)
	b.WriteString("\n")
	b.WriteString(answer)
	b.WriteString("\n\n---\n**자체 평가:**\n")
	fmt.Fprintf(&b, "- **점수:** %s/%d\n", score, state.MaxTotalScore)
	fmt.Fprintf(&b, "- **평가:** %s\n\n", brief)
	b.WriteString(ReviewPrompt)
	return b.String()
}
