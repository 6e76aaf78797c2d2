// Package vectordb is a small Qdrant HTTP client used by the statute retrievers.
package vectordb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/circuitbreaker"
	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/config"
	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/interceptors"
	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/tracing"
)

type Client struct {
	base  string
	httpw *circuitbreaker.HTTPWrapper
	log   *zap.Logger
}

func New(cfg config.QdrantConfig, timeout time.Duration, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	port := cfg.Port
	if port == 0 {
		port = 6333
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return NewWithBase(fmt.Sprintf("http://%s:%d", cfg.Host, port), timeout, logger)
}

// NewWithBase points the client at an explicit base URL.
func NewWithBase(base string, timeout time.Duration, logger *zap.Logger) *Client {
	hc := &http.Client{Timeout: timeout, Transport: interceptors.NewWorkflowHTTPRoundTripper(nil)}
	return &Client{
		base:  base,
		httpw: circuitbreaker.NewHTTPWrapper(hc, "qdrant", "retrieval", circuitbreaker.HTTPSettings(), logger),
		log:   logger,
	}
}

func (c *Client) post(ctx context.Context, url string, body interface{}) (*http.Response, error) {
	buf, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	tracing.InjectTraceparent(ctx, req)
	return c.httpw.Do(req)
}

// Search returns up to limit points nearest to vec. It prefers /points/query and
// falls back to the legacy /points/search endpoint on older servers.
func (c *Client) Search(ctx context.Context, collection string, vec []float32, limit int, threshold float64) ([]Point, error) {
	var thr *float64
	if threshold > 0 {
		thr = &threshold
	}
	url := fmt.Sprintf("%s/collections/%s/points/query", c.base, collection)
	ctx, span := tracing.StartHTTPSpan(ctx, http.MethodPost, url)
	var err error
	defer func() { tracing.End(span, err) }()

	resp, err := c.post(ctx, url, queryRequest{Query: vec, Limit: limit, ScoreThreshold: thr, WithPayload: true})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		var qr queryResponse
		if err = json.NewDecoder(resp.Body).Decode(&qr); err != nil {
			return nil, err
		}
		return qr.Result.Points, nil
	}

	c.log.Debug("Qdrant query endpoint unavailable, using search",
		zap.String("collection", collection), zap.Int("status", resp.StatusCode))
	legacy, err := c.post(ctx, fmt.Sprintf("%s/collections/%s/points/search", c.base, collection),
		searchRequest{Vector: vec, Limit: limit, ScoreThreshold: thr, WithPayload: true})
	if err != nil {
		return nil, fmt.Errorf("qdrant query/search failed: %w", err)
	}
	defer legacy.Body.Close()
	if legacy.StatusCode != http.StatusOK {
		err = fmt.Errorf("qdrant status %d", legacy.StatusCode)
		return nil, err
	}
	var sr searchResponse
	if err = json.NewDecoder(legacy.Body).Decode(&sr); err != nil {
		return nil, err
	}
	return sr.Result, nil
}
