package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/metrics"
	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/state"
)

const schema = `
CREATE TABLE IF NOT EXISTS checkpoints (
	thread_id  TEXT PRIMARY KEY,
	node       TEXT NOT NULL,
	status     TEXT NOT NULL,
	revision   BIGINT NOT NULL,
	state      TEXT NOT NULL,
	expires_at BIGINT NOT NULL,
	updated_at BIGINT NOT NULL
);
CREATE TABLE IF NOT EXISTS checkpoint_leases (
	thread_id  TEXT PRIMARY KEY,
	token      TEXT NOT NULL,
	expires_at BIGINT NOT NULL
);`

type row struct {
	ThreadID  string `db:"thread_id"`
	Node      string `db:"node"`
	Status    string `db:"status"`
	Revision  int64  `db:"revision"`
	State     string `db:"state"`
	ExpiresAt int64  `db:"expires_at"`
	UpdatedAt int64  `db:"updated_at"`
}

// SQLStore persists checkpoints in postgres or sqlite. Times are unix milliseconds;
// expires_at 0 means no expiry.
type SQLStore struct {
	db  *sqlx.DB
	ttl time.Duration
	now func() time.Time
}

// OpenSQL connects with driver ("postgres" or "sqlite3") and creates the tables.
func OpenSQL(ctx context.Context, driver, dsn string, ttl time.Duration) (*SQLStore, error) {
	db, err := sqlx.ConnectContext(ctx, driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect checkpoint db: %w", err)
	}
	if driver == "sqlite3" {
		db.SetMaxOpenConns(1)
	}
	s := NewSQLStore(db, ttl)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func NewSQLStore(db *sqlx.DB, ttl time.Duration) *SQLStore {
	return &SQLStore{db: db, ttl: ttl, now: time.Now}
}

func (s *SQLStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate checkpoints: %w", err)
	}
	return nil
}

func (s *SQLStore) Close() error { return s.db.Close() }

func (s *SQLStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQLStore) expiry() int64 {
	if s.ttl <= 0 {
		return 0
	}
	return s.now().Add(s.ttl).UnixMilli()
}

func (s *SQLStore) Get(ctx context.Context, threadID string) (ws *state.WorkflowState, err error) {
	defer func() { record("sql", "get", err) }()
	var r row
	q := s.db.Rebind(`SELECT thread_id, node, status, revision, state, expires_at, updated_at
FROM checkpoints WHERE thread_id = ? AND (expires_at = 0 OR expires_at > ?)`)
	if err := s.db.GetContext(ctx, &r, q, threadID, s.now().UnixMilli()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	return decode([]byte(r.State))
}

func (s *SQLStore) Put(ctx context.Context, threadID string, ws *state.WorkflowState, node state.Node) (err error) {
	defer func() { record("sql", "put", err) }()
	b, err := encode(threadID, ws, node)
	if err != nil {
		return err
	}
	q := s.db.Rebind(`INSERT INTO checkpoints (thread_id, node, status, revision, state, expires_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (thread_id) DO UPDATE SET node = excluded.node, status = excluded.status,
	revision = excluded.revision, state = excluded.state, expires_at = excluded.expires_at,
	updated_at = excluded.updated_at`)
	_, err = s.db.ExecContext(ctx, q, threadID, string(node), string(ws.Status), ws.Revision, string(b), s.expiry(), s.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	return nil
}

// PutIf updates the row only at the expected revision. With expected 0 it may
// create the row or replace an expired one.
func (s *SQLStore) PutIf(ctx context.Context, threadID string, ws *state.WorkflowState, node state.Node, expected int64) (err error) {
	defer func() { record("sql", "put_if", err) }()
	b, err := encode(threadID, ws, node)
	if err != nil {
		return err
	}
	now := s.now().UnixMilli()
	var res sql.Result
	if expected == 0 {
		q := s.db.Rebind(`INSERT INTO checkpoints (thread_id, node, status, revision, state, expires_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (thread_id) DO UPDATE SET node = excluded.node, status = excluded.status,
	revision = excluded.revision, state = excluded.state, expires_at = excluded.expires_at,
	updated_at = excluded.updated_at
WHERE checkpoints.revision = 0 OR (checkpoints.expires_at <> 0 AND checkpoints.expires_at <= ?)`)
		res, err = s.db.ExecContext(ctx, q, threadID, string(node), string(ws.Status), ws.Revision, string(b), s.expiry(), now, now)
	} else {
		q := s.db.Rebind(`UPDATE checkpoints SET node = ?, status = ?, revision = ?, state = ?, expires_at = ?, updated_at = ?
WHERE thread_id = ? AND revision = ? AND (expires_at = 0 OR expires_at > ?)`)
		res, err = s.db.ExecContext(ctx, q, string(node), string(ws.Status), ws.Revision, string(b), s.expiry(), now, threadID, expected, now)
	}
	if err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("thread %s not at revision %d: %w", threadID, expected, ErrConflict)
	}
	return nil
}

// UpdatePartial is a read-modify-write. Callers hold the thread lease.
func (s *SQLStore) UpdatePartial(ctx context.Context, threadID string, p Patch) error {
	ws, err := s.Get(ctx, threadID)
	if err != nil {
		return err
	}
	p.apply(ws, s.now())
	return s.Put(ctx, threadID, ws, ws.Node)
}

func (s *SQLStore) Delete(ctx context.Context, threadID string) (err error) {
	defer func() { record("sql", "delete", err) }()
	_, err = s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM checkpoints WHERE thread_id = ?`), threadID)
	return err
}

// Lock claims a row in checkpoint_leases. An expired lease is replaced.
func (s *SQLStore) Lock(ctx context.Context, threadID string, ttl time.Duration) (rel Release, err error) {
	defer func() { record("sql", "lock", err) }()
	now := s.now()
	token := newToken()
	q := s.db.Rebind(`INSERT INTO checkpoint_leases (thread_id, token, expires_at) VALUES (?, ?, ?)
ON CONFLICT (thread_id) DO UPDATE SET token = excluded.token, expires_at = excluded.expires_at
WHERE checkpoint_leases.expires_at <= ?`)
	res, err := s.db.ExecContext(ctx, q, threadID, token, now.Add(ttl).UnixMilli(), now.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("acquire lease: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, ErrLocked
	}
	return func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM checkpoint_leases WHERE thread_id = ? AND token = ?`), threadID, token)
		return err
	}, nil
}

func (s *SQLStore) Sweep(ctx context.Context) (int, error) {
	now := s.now().UnixMilli()
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM checkpoints WHERE expires_at <> 0 AND expires_at <= ?`), now)
	if err != nil {
		return 0, fmt.Errorf("sweep checkpoints: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM checkpoint_leases WHERE expires_at <= ?`), now); err != nil {
		return 0, fmt.Errorf("sweep leases: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	metrics.CheckpointsEvicted.WithLabelValues("sql").Add(float64(n))
	return int(n), nil
}
