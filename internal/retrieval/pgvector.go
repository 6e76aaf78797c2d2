package retrieval

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/state"
)

// Rows is the subset of pgxpool.Pool that PGVector queries through.
type Rows interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PGVector searches a pgvector table holding chunks of every statute. Each row
// carries a domain column so one table serves all three laws.
type PGVector struct {
	Embedder Embedder
	DB       Rows
	Table    string
	Domain   state.DomainTag
	TopK     int
}

// OpenPool connects to postgres for PGVector.
func OpenPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect pgvector: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping pgvector: %w", err)
	}
	return pool, nil
}

func (p *PGVector) query() string {
	return fmt.Sprintf(`SELECT content, source, embedding <-> $1 AS distance
FROM %s WHERE domain = $2 ORDER BY embedding <-> $1 LIMIT $3`, pgx.Identifier{p.Table}.Sanitize())
}

func (p *PGVector) Search(ctx context.Context, query string) ([]state.Document, error) {
	vec, err := p.Embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	topK := p.TopK
	if topK <= 0 {
		topK = 5
	}
	rows, err := p.DB.Query(ctx, p.query(), pgvector.NewVector(vec), string(p.Domain), topK)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", p.Table, err)
	}
	defer rows.Close()

	var docs []state.Document
	for rows.Next() {
		var content, source string
		var distance float64
		if err := rows.Scan(&content, &source, &distance); err != nil {
			return nil, err
		}
		docs = append(docs, state.Document{
			Content:  content,
			Metadata: state.DocumentMetadata{Source: source, Score: 1 - distance},
		})
	}
	return docs, rows.Err()
}
