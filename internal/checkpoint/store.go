// Package checkpoint persists WorkflowState between turns so a thread can pause at
// the review gate and resume later, possibly on another replica.
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/metrics"
	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/state"
)

var (
	ErrNotFound = errors.New("checkpoint not found")
	// ErrLocked means another caller holds the thread's lease.
	ErrLocked = errors.New("thread is locked")
	// ErrConflict means the stored revision moved since the caller read it.
	ErrConflict = errors.New("checkpoint revision changed")
)

// Patch updates a subset of a stored checkpoint. Nil fields are left alone.
type Patch struct {
	Node         *state.Node
	Status       *state.Status
	UserDecision *state.Decision
}

func (p Patch) apply(ws *state.WorkflowState, now time.Time) {
	if p.Node != nil {
		ws.Node = *p.Node
	}
	if p.Status != nil {
		ws.Status = *p.Status
	}
	if p.UserDecision != nil {
		d := *p.UserDecision
		ws.UserDecision = &d
	}
	ws.Revision++
	ws.UpdatedAt = now
}

// Release gives up a lease taken with Lock.
type Release func(ctx context.Context) error

// Store is the persistence contract the engine depends on.
type Store interface {
	Get(ctx context.Context, threadID string) (*state.WorkflowState, error)
	// Put writes ws positioned at node.
	Put(ctx context.Context, threadID string, ws *state.WorkflowState, node state.Node) error
	// PutIf writes like Put only while the stored revision equals expected. A missing
	// or expired checkpoint counts as revision 0. Otherwise it fails with ErrConflict.
	PutIf(ctx context.Context, threadID string, ws *state.WorkflowState, node state.Node, expected int64) error
	UpdatePartial(ctx context.Context, threadID string, p Patch) error
	Delete(ctx context.Context, threadID string) error
	// Lock takes an exclusive lease on a thread for ttl or fails with ErrLocked.
	Lock(ctx context.Context, threadID string, ttl time.Duration) (Release, error)
	// Sweep removes checkpoints whose TTL elapsed and reports how many.
	Sweep(ctx context.Context) (int, error)
}

func encode(threadID string, ws *state.WorkflowState, node state.Node) ([]byte, error) {
	if ws == nil {
		return nil, fmt.Errorf("nil state for thread %s", threadID)
	}
	c := ws.Clone()
	c.ThreadID = threadID
	c.Node = node
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid checkpoint: %w", err)
	}
	return json.Marshal(c)
}

func decode(b []byte) (*state.WorkflowState, error) {
	var ws state.WorkflowState
	if err := json.Unmarshal(b, &ws); err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}
	return &ws, nil
}

func newToken() string { return uuid.NewString() }

func record(backend, op string, err error) {
	status := metrics.Status(err)
	if errors.Is(err, ErrNotFound) {
		status = "miss"
	} else if errors.Is(err, ErrLocked) {
		status = "busy"
	} else if errors.Is(err, ErrConflict) {
		status = "conflict"
	}
	metrics.CheckpointOps.WithLabelValues(backend, op, status).Inc()
}

// Pinger is implemented by stores backed by a remote server.
type Pinger interface {
	Ping(ctx context.Context) error
}
