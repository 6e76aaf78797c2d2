package retrieval

import (
	"context"
	"fmt"

	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/state"
	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/vectordb"
)

// Embedder turns text into a query vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// PointSearcher is the part of the Qdrant client Qdrant needs.
type PointSearcher interface {
	Search(ctx context.Context, collection string, vec []float32, limit int, threshold float64) ([]vectordb.Point, error)
}

// Qdrant searches one statute collection.
type Qdrant struct {
	Embedder   Embedder
	Points     PointSearcher
	Collection string
	TopK       int
	Threshold  float64
}

func (q *Qdrant) Search(ctx context.Context, query string) ([]state.Document, error) {
	vec, err := q.Embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	topK := q.TopK
	if topK <= 0 {
		topK = 5
	}
	pts, err := q.Points.Search(ctx, q.Collection, vec, topK, q.Threshold)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", q.Collection, err)
	}
	docs := make([]state.Document, 0, len(pts))
	for _, p := range pts {
		content := p.String("content")
		if content == "" {
			content = p.String("page_content")
		}
		if content == "" {
			continue
		}
		docs = append(docs, state.Document{
			Content:  content,
			Metadata: state.DocumentMetadata{Source: p.String("source"), Score: p.Score},
		})
	}
	return docs, nil
}
