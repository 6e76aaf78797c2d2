// Package retrieval provides the search capabilities the sub-agents and the
// reviewer call: statute collections and open web search.
package retrieval

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/metrics"
	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/state"
)

// NoResults is the content of the document substituted for an empty or failed search.
const NoResults = "no relevant information found"

// Retriever returns documents for a query.
type Retriever interface {
	Search(ctx context.Context, query string) ([]state.Document, error)
}

// Func adapts a plain function to Retriever.
type Func func(ctx context.Context, query string) ([]state.Document, error)

func (f Func) Search(ctx context.Context, query string) ([]state.Document, error) { return f(ctx, query) }

// Placeholder never returns an empty result. Zero hits and backend failures both
// become a single NoResults document; failures are logged.
type Placeholder struct {
	inner   Retriever
	backend string
	logger  *zap.Logger
}

func WithPlaceholder(inner Retriever, backend string, logger *zap.Logger) *Placeholder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Placeholder{inner: inner, backend: backend, logger: logger}
}

func (p *Placeholder) Search(ctx context.Context, query string) ([]state.Document, error) {
	start := time.Now()
	docs, err := p.inner.Search(ctx, query)
	metrics.RetrievalLatency.WithLabelValues(p.backend).Observe(time.Since(start).Seconds())

	switch {
	case err != nil:
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		metrics.RetrievalRequests.WithLabelValues(p.backend, "error").Inc()
		p.logger.Warn("Retrieval failed, substituting placeholder",
			zap.String("backend", p.backend),
			zap.String("query", query),
			zap.Error(err))
	case len(docs) == 0:
		metrics.RetrievalRequests.WithLabelValues(p.backend, "empty").Inc()
	default:
		metrics.RetrievalRequests.WithLabelValues(p.backend, "hit").Inc()
		return docs, nil
	}
	return []state.Document{{Content: NoResults}}, nil
}

// Render flattens documents into the text handed to the reviewer's tools.
func Render(docs []state.Document) string {
	parts := make([]string, 0, len(docs))
	for _, d := range docs {
		if d.Metadata.Source != "" {
			parts = append(parts, d.Content+"\n출처: "+d.Metadata.Source)
			continue
		}
		parts = append(parts, d.Content)
	}
	return strings.Join(parts, "\n\n")
}
