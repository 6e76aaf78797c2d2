// Package streaming fans out per-thread workflow events to live subscribers and
// keeps a bounded history so late subscribers can replay what they missed.
package streaming

import (
	"encoding/json"
	"sync"
	"time"
)

// Event types emitted by the engine.
const (
	EventNodeStarted     = "node_started"
	EventNodeCompleted   = "node_completed"
	EventRouted          = "routed"
	EventReviewRequested = "review_requested"
	EventReviewDecision  = "review_decision"
	EventCompleted       = "completed"
	EventFailed          = "failed"
)

type Event struct {
	ThreadID  string                 `json:"thread_id"`
	Type      string                 `json:"type"`
	Node      string                 `json:"node,omitempty"`
	Message   string                 `json:"message,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Seq       uint64                 `json:"seq"`
}

func (e Event) Marshal() []byte {
	b, _ := json.Marshal(e)
	return b
}

// Manager is an in-memory pub/sub keyed by thread id.
type Manager struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan Event]struct{}
	history     map[string]*ring
	capacity    int
}

func NewManager(capacity int) *Manager {
	if capacity <= 0 {
		capacity = 256
	}
	return &Manager{
		subscribers: make(map[string]map[chan Event]struct{}),
		history:     make(map[string]*ring),
		capacity:    capacity,
	}
}

// Subscribe registers a channel for threadID. The caller drains it and calls Unsubscribe.
func (m *Manager) Subscribe(threadID string, buffer int) chan Event {
	ch := make(chan Event, buffer)
	m.mu.Lock()
	defer m.mu.Unlock()
	subs := m.subscribers[threadID]
	if subs == nil {
		subs = make(map[chan Event]struct{})
		m.subscribers[threadID] = subs
	}
	subs[ch] = struct{}{}
	return ch
}

// Unsubscribe removes and closes ch.
func (m *Manager) Unsubscribe(threadID string, ch chan Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if subs, ok := m.subscribers[threadID]; ok {
		if _, ok := subs[ch]; !ok {
			return
		}
		delete(subs, ch)
		close(ch)
		if len(subs) == 0 {
			delete(m.subscribers, threadID)
		}
	}
}

// Publish assigns the next sequence number and delivers without blocking. Slow
// subscribers miss events and can recover them with ReplaySince.
func (m *Manager) Publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	m.mu.Lock()
	rg := m.history[evt.ThreadID]
	if rg == nil {
		rg = newRing(m.capacity)
		m.history[evt.ThreadID] = rg
	}
	rg.nextSeq++
	evt.Seq = rg.nextSeq
	rg.push(evt)
	for ch := range m.subscribers[evt.ThreadID] {
		select {
		case ch <- evt:
		default:
		}
	}
	m.mu.Unlock()
}

// ReplaySince returns retained events with Seq > since.
func (m *Manager) ReplaySince(threadID string, since uint64) []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rg := m.history[threadID]
	if rg == nil {
		return nil
	}
	return rg.since(since)
}

// Forget drops the history of a finished thread.
func (m *Manager) Forget(threadID string) {
	m.mu.Lock()
	delete(m.history, threadID)
	m.mu.Unlock()
}

type ring struct {
	buf     []Event
	start   int
	count   int
	nextSeq uint64
}

func newRing(capacity int) *ring { return &ring{buf: make([]Event, capacity)} }

func (r *ring) push(e Event) {
	if r.count < len(r.buf) {
		r.buf[(r.start+r.count)%len(r.buf)] = e
		r.count++
		return
	}
	r.buf[r.start] = e
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) since(seq uint64) []Event {
	out := make([]Event, 0, r.count)
	for i := 0; i < r.count; i++ {
		ev := r.buf[(r.start+i)%len(r.buf)]
		if ev.Seq > seq {
			out = append(out, ev)
		}
	}
	return out
}
