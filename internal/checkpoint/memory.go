package checkpoint

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/metrics"
	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/state"
)

type memEntry struct {
	data    []byte
	expires time.Time
}

type lease struct {
	token   string
	expires time.Time
}

// MemoryStore keeps checkpoints in process. Entries are stored serialized so
// callers never share memory with the store.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memEntry
	leases  map[string]lease
	ttl     time.Duration
	now     func() time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memEntry),
		leases:  make(map[string]lease),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (m *MemoryStore) expiry() time.Time {
	if m.ttl <= 0 {
		return time.Time{}
	}
	return m.now().Add(m.ttl)
}

func (m *MemoryStore) live(e memEntry) bool {
	return e.expires.IsZero() || m.now().Before(e.expires)
}

func (m *MemoryStore) Get(_ context.Context, threadID string) (ws *state.WorkflowState, err error) {
	defer func() { record("memory", "get", err) }()
	m.mu.Lock()
	e, ok := m.entries[threadID]
	m.mu.Unlock()
	if !ok || !m.live(e) {
		return nil, ErrNotFound
	}
	return decode(e.data)
}

func (m *MemoryStore) Put(_ context.Context, threadID string, ws *state.WorkflowState, node state.Node) (err error) {
	defer func() { record("memory", "put", err) }()
	b, err := encode(threadID, ws, node)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.entries[threadID] = memEntry{data: b, expires: m.expiry()}
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) PutIf(_ context.Context, threadID string, ws *state.WorkflowState, node state.Node, expected int64) (err error) {
	defer func() { record("memory", "put_if", err) }()
	b, err := encode(threadID, ws, node)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var cur int64
	if e, ok := m.entries[threadID]; ok && m.live(e) {
		stored, err := decode(e.data)
		if err != nil {
			return err
		}
		cur = stored.Revision
	}
	if cur != expected {
		return fmt.Errorf("thread %s at revision %d, expected %d: %w", threadID, cur, expected, ErrConflict)
	}
	m.entries[threadID] = memEntry{data: b, expires: m.expiry()}
	return nil
}

func (m *MemoryStore) UpdatePartial(_ context.Context, threadID string, p Patch) (err error) {
	defer func() { record("memory", "update", err) }()
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[threadID]
	if !ok || !m.live(e) {
		return ErrNotFound
	}
	ws, err := decode(e.data)
	if err != nil {
		return err
	}
	p.apply(ws, m.now())
	b, err := encode(threadID, ws, ws.Node)
	if err != nil {
		return err
	}
	m.entries[threadID] = memEntry{data: b, expires: m.expiry()}
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, threadID string) error {
	m.mu.Lock()
	delete(m.entries, threadID)
	m.mu.Unlock()
	record("memory", "delete", nil)
	return nil
}

func (m *MemoryStore) Lock(_ context.Context, threadID string, ttl time.Duration) (Release, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if l, ok := m.leases[threadID]; ok && now.Before(l.expires) {
		record("memory", "lock", ErrLocked)
		return nil, ErrLocked
	}
	token := newToken()
	m.leases[threadID] = lease{token: token, expires: now.Add(ttl)}
	record("memory", "lock", nil)
	return func(context.Context) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		if l, ok := m.leases[threadID]; ok && l.token == token {
			delete(m.leases, threadID)
		}
		return nil
	}, nil
}

func (m *MemoryStore) Sweep(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, e := range m.entries {
		if !m.live(e) {
			delete(m.entries, id)
			n++
		}
	}
	now := m.now()
	for id, l := range m.leases {
		if !now.Before(l.expires) {
			delete(m.leases, id)
		}
	}
	metrics.CheckpointsEvicted.WithLabelValues("memory").Add(float64(n))
	return n, nil
}
