// Package embeddings turns query text into vectors through the LLM service's
// /embeddings endpoint, with an in-process LRU in front of an optional Redis tier.
package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/circuitbreaker"
	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/config"
	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/interceptors"
	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/metrics"
	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/tracing"
)

var ErrEmpty = errors.New("no embeddings returned")

// Service generates embeddings with two cache tiers.
type Service struct {
	base   string
	model  string
	ttl    time.Duration
	http   *circuitbreaker.HTTPWrapper
	lru    *expirable.LRU[string, []float32]
	cache  Cache
	logger *zap.Logger
}

// New builds a Service. cache may be nil.
func New(cfg config.EmbeddingsConfig, timeout time.Duration, cache Cache, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	model := cfg.Model
	if model == "" {
		model = "bge-m3"
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	hc := &http.Client{Timeout: timeout, Transport: interceptors.NewWorkflowHTTPRoundTripper(nil)}
	return &Service{
		base:   strings.TrimRight(cfg.BaseURL, "/"),
		model:  model,
		ttl:    ttl,
		http:   circuitbreaker.NewHTTPWrapper(hc, "embeddings", "retrieval", circuitbreaker.HTTPSettings(), logger),
		lru:    newLocal(cfg.CacheSize, ttl),
		cache:  cache,
		logger: logger,
	}
}

func (s *Service) Model() string { return s.model }

type embedRequest struct {
	Texts []string `json:"texts"`
	Model string   `json:"model"`
}

type embedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
	Dimensions int         `json:"dimensions"`
	ModelUsed  string      `json:"model_used"`
}

// Embed returns the vector for text.
func (s *Service) Embed(ctx context.Context, text string) ([]float32, error) {
	if s == nil {
		return nil, fmt.Errorf("embedding service not initialized")
	}
	key := MakeKey(s.model, text)

	if v, ok := s.lru.Get(key); ok {
		metrics.EmbeddingCache.WithLabelValues("local", "hit").Inc()
		return v, nil
	}
	metrics.EmbeddingCache.WithLabelValues("local", "miss").Inc()
	if s.cache != nil {
		if v, ok := s.cache.Get(ctx, key); ok {
			metrics.EmbeddingCache.WithLabelValues("redis", "hit").Inc()
			s.lru.Add(key, v)
			return v, nil
		}
		metrics.EmbeddingCache.WithLabelValues("redis", "miss").Inc()
	}

	url := s.base + "/embeddings/"
	ctx, span := tracing.StartHTTPSpan(ctx, http.MethodPost, url)
	out, err := s.fetch(ctx, url, text)
	tracing.End(span, err)
	if err != nil {
		return nil, err
	}

	s.lru.Add(key, out)
	if s.cache != nil {
		s.cache.Set(ctx, key, out, s.ttl)
	}
	return out, nil
}

func (s *Service) fetch(ctx context.Context, url, text string) ([]float32, error) {
	buf, err := json.Marshal(embedRequest{Texts: []string{text}, Model: s.model})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	tracing.InjectTraceparent(ctx, req)

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding http status %d", resp.StatusCode)
	}
	var er embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return nil, fmt.Errorf("decode embeddings: %w", err)
	}
	if len(er.Embeddings) == 0 || len(er.Embeddings[0]) == 0 {
		return nil, ErrEmpty
	}
	out := make([]float32, len(er.Embeddings[0]))
	for i, f := range er.Embeddings[0] {
		out[i] = float32(f)
	}
	return out, nil
}
