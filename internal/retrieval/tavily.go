package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/circuitbreaker"
	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/config"
	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/interceptors"
	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/state"
	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/tracing"
)

const webSource = "web search"

// Tavily calls the Tavily search API and wraps each hit as a Document element.
type Tavily struct {
	apiKey     string
	endpoint   string
	depth      string
	maxResults int
	minBackoff time.Duration
	maxBackoff time.Duration
	http       *circuitbreaker.HTTPWrapper
	logger     *zap.Logger
}

func NewTavily(cfg config.WebSearchConfig, timeout time.Duration, logger *zap.Logger) *Tavily {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	t := &Tavily{
		apiKey:     cfg.APIKey,
		endpoint:   cfg.Endpoint,
		depth:      cfg.SearchDepth,
		maxResults: cfg.MaxResults,
		minBackoff: time.Second,
		maxBackoff: 30 * time.Second,
		http:       circuitbreaker.NewHTTPWrapper(&http.Client{Timeout: timeout, Transport: interceptors.NewWorkflowHTTPRoundTripper(nil)}, "tavily", "retrieval", circuitbreaker.HTTPSettings(), logger),
		logger:     logger,
	}
	if t.endpoint == "" {
		t.endpoint = "https://api.tavily.com/search"
	}
	if t.depth == "" {
		t.depth = "basic"
	}
	if t.maxResults <= 0 {
		t.maxResults = 10
	}
	return t
}

type tavilyResponse struct {
	Results []struct {
		Title   string  `json:"title"`
		URL     string  `json:"url"`
		Content string  `json:"content"`
		Score   float64 `json:"score"`
	} `json:"results"`
}

func (t *Tavily) Search(ctx context.Context, query string) ([]state.Document, error) {
	if strings.TrimSpace(t.apiKey) == "" {
		return nil, errors.New("tavily: API key is missing")
	}
	payload, err := json.Marshal(map[string]any{
		"query":        query,
		"api_key":      t.apiKey,
		"search_depth": t.depth,
		"max_results":  t.maxResults,
	})
	if err != nil {
		return nil, err
	}

	ctx, span := tracing.StartHTTPSpan(ctx, http.MethodPost, t.endpoint)
	resp, err := t.post(ctx, payload)
	tracing.End(span, err)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tavily http %d", resp.StatusCode)
	}

	var body tavilyResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode tavily: %w", err)
	}
	docs := make([]state.Document, 0, len(body.Results))
	for _, r := range body.Results {
		docs = append(docs, state.Document{
			Content:  fmt.Sprintf("<Document href=\"%s\"/>\n%s\n</Document>", r.URL, r.Content),
			Metadata: state.DocumentMetadata{Source: webSource, URL: r.URL, Score: r.Score},
		})
		if len(docs) >= t.maxResults {
			break
		}
	}
	return docs, nil
}

// post retries 429s, doubling the delay up to maxBackoff.
func (t *Tavily) post(ctx context.Context, payload []byte) (*http.Response, error) {
	delay := t.minBackoff
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := t.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("tavily request: %w", err)
		}
		if resp.StatusCode != http.StatusTooManyRequests {
			return resp, nil
		}
		resp.Body.Close()
		t.logger.Debug("Tavily rate limited", zap.Duration("retry_in", delay))

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		if delay < t.maxBackoff {
			delay *= 2
		}
	}
}
