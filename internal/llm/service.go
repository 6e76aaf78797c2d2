package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/circuitbreaker"
	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/config"
	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/interceptors"
	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/metrics"
	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/tracing"
)

// ServiceClient talks to the LLM service's /agent/query endpoint.
type ServiceClient struct {
	baseURL     string
	modelTier   string
	maxTokens   int
	temperature float64
	http        *circuitbreaker.HTTPWrapper
	limiter     *rate.Limiter
	logger      *zap.Logger
}

func NewServiceClient(cfg config.LLMConfig, logger *zap.Logger) *ServiceClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &ServiceClient{
		baseURL:     strings.TrimRight(cfg.ServiceURL, "/"),
		modelTier:   cfg.ModelTier,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		http: circuitbreaker.NewHTTPWrapper(&http.Client{Timeout: timeout, Transport: interceptors.NewWorkflowHTTPRoundTripper(nil)},
			"llm-service", "llm", circuitbreaker.LLMSettings(), logger),
		limiter: newLimiter(cfg),
		logger:  logger,
	}
}

func newLimiter(cfg config.LLMConfig) *rate.Limiter {
	if cfg.RequestsPerSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
}

type agentQueryRequest struct {
	Query       string         `json:"query"`
	AgentID     string         `json:"agent_id"`
	MaxTokens   int            `json:"max_tokens,omitempty"`
	Temperature float64        `json:"temperature"`
	ModelTier   string         `json:"model_tier,omitempty"`
	Context     map[string]any `json:"context"`
}

type agentQueryResponse struct {
	Success  bool   `json:"success"`
	Response string `json:"response"`
	Error    string `json:"error"`
	Metadata struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"metadata"`
	TokensUsed int    `json:"tokens_used"`
	ModelUsed  string `json:"model_used"`
	Provider   string `json:"provider"`
}

func (c *ServiceClient) Complete(ctx context.Context, req Request) (*Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	resp, err := c.do(ctx, req)
	metrics.LLMRequests.WithLabelValues(string(req.Purpose), metrics.Status(err)).Inc()
	if err == nil {
		metrics.LLMTokens.WithLabelValues("input").Add(float64(resp.InputTokens))
		metrics.LLMTokens.WithLabelValues("output").Add(float64(resp.OutputTokens))
	}
	return resp, err
}

func (c *ServiceClient) do(ctx context.Context, req Request) (*Response, error) {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.maxTokens
	}
	reqCtx := map[string]any{"system_prompt": req.System, "role": string(req.Purpose)}
	if req.JSON {
		reqCtx["response_format"] = map[string]any{"type": "json_object"}
	}
	body, err := json.Marshal(agentQueryRequest{
		Query:       req.Prompt,
		AgentID:     "legalqa-" + string(req.Purpose),
		MaxTokens:   maxTokens,
		Temperature: c.temperature,
		ModelTier:   c.modelTier,
		Context:     reqCtx,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := c.baseURL + "/agent/query"
	ctx, span := tracing.StartHTTPSpan(ctx, http.MethodPost, url)
	defer span.End()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	tracing.InjectTraceparent(ctx, httpReq)

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to call LLM service: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(httpResp.Body, 512))
		return nil, fmt.Errorf("LLM service returned status %d: %s", httpResp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var out agentQueryResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if !out.Success && out.Error != "" {
		return nil, fmt.Errorf("LLM service error: %s", out.Error)
	}
	in, outTok := out.Metadata.InputTokens, out.Metadata.OutputTokens
	if in == 0 && outTok == 0 {
		outTok = out.TokensUsed
	}
	return &Response{
		Text:         out.Response,
		InputTokens:  in,
		OutputTokens: outTok,
		Model:        out.ModelUsed,
		Provider:     out.Provider,
	}, nil
}

// CompleteWithTools drives tool use through a JSON reply protocol since the service
// endpoint has no native tool calling.
func (c *ServiceClient) CompleteWithTools(ctx context.Context, req Request, tools []Tool, maxTurns int) (*Response, error) {
	return textToolLoop(ctx, c, req, tools, maxTurns, c.logger)
}

type toolCall struct {
	Tool  string `json:"tool"`
	Query string `json:"query"`
}

func toolInstructions(tools []Tool) string {
	var b strings.Builder
	b.WriteString("\n\nYou may call a tool before answering. To call one, reply with only ")
	b.WriteString(`{"tool": "<name>", "query": "<search query>"}`)
	b.WriteString(". Available tools:\n")
	for _, t := range tools {
		fmt.Fprintf(&b, "- %s: %s\n", t.Name, t.Description)
	}
	b.WriteString("When you have enough information, reply with the final output instead.")
	return b.String()
}

func textToolLoop(ctx context.Context, c Client, req Request, tools []Tool, maxTurns int, logger *zap.Logger) (*Response, error) {
	byName := make(map[string]Tool, len(tools))
	for _, t := range tools {
		byName[t.Name] = t
	}
	base := req
	base.System = req.System + toolInstructions(tools)
	base.JSON = false

	var transcript strings.Builder
	var in, out int
	for turn := 0; ; turn++ {
		r := base
		if transcript.Len() > 0 {
			r.Prompt = req.Prompt + "\n\n[Tool results]\n" + transcript.String()
		}
		if turn >= maxTurns {
			r.System = req.System
			r.JSON = req.JSON
		}
		resp, err := c.Complete(ctx, r)
		if err != nil {
			return nil, err
		}
		in += resp.InputTokens
		out += resp.OutputTokens

		var call toolCall
		tool, ok := Tool{}, false
		if turn < maxTurns && Decode(req.Purpose, resp.Text, &call) == nil && call.Tool != "" {
			tool, ok = byName[call.Tool]
		}
		if !ok {
			resp.InputTokens, resp.OutputTokens = in, out
			return resp, nil
		}

		result, err := tool.Run(ctx, call.Query)
		if err != nil {
			logger.Warn("Reviewer tool failed", zap.String("tool", call.Tool), zap.Error(err))
			result = "error: " + err.Error()
		}
		fmt.Fprintf(&transcript, "<%s query=%q>\n%s\n</%s>\n", call.Tool, call.Query, result, call.Tool)
	}
}
