package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/circuitbreaker"
	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/config"
	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/metrics"
)

// AnthropicClient calls the Messages API directly. It supports native tool use,
// which the reviewer relies on.
type AnthropicClient struct {
	client    anthropic.Client
	model     string
	maxTokens int
	temp      float64
	cb        *circuitbreaker.CircuitBreaker
	limiter   *rate.Limiter
	logger    *zap.Logger
}

func NewAnthropicClient(cfg config.LLMConfig, logger *zap.Logger, opts ...option.RequestOption) *AnthropicClient {
	if cfg.APIKey != "" {
		opts = append([]option.RequestOption{option.WithAPIKey(cfg.APIKey)}, opts...)
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 2048
	}
	cb := circuitbreaker.NewCircuitBreaker("anthropic", circuitbreaker.LLMSettings().ToConfig(), logger)
	circuitbreaker.GlobalMetricsCollector.Register("llm", cb)
	return &AnthropicClient{
		client:    anthropic.NewClient(opts...),
		model:     cfg.Model,
		maxTokens: maxTokens,
		temp:      cfg.Temperature,
		cb:        cb,
		limiter:   newLimiter(cfg),
		logger:    logger,
	}
}

func (c *AnthropicClient) params(req Request, messages []anthropic.MessageParam) anthropic.MessageNewParams {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.maxTokens
	}
	system := req.System
	if req.JSON {
		system += "\n\nRespond with a single JSON object and nothing else."
	}
	p := anthropic.MessageNewParams{
		Model:       anthropic.Model(c.model),
		MaxTokens:   int64(maxTokens),
		Messages:    messages,
		Temperature: anthropic.Float(c.temp),
	}
	if strings.TrimSpace(system) != "" {
		p.System = []anthropic.TextBlockParam{{Text: system}}
	}
	return p
}

func (c *AnthropicClient) send(ctx context.Context, purpose Purpose, p anthropic.MessageNewParams) (*anthropic.Message, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	var msg *anthropic.Message
	err := c.cb.Execute(ctx, func() error {
		var err error
		msg, err = c.client.Messages.New(ctx, p)
		return err
	})
	circuitbreaker.GlobalMetricsCollector.Record(c.cb.Name(), "llm", c.cb.State(), err == nil)
	metrics.LLMRequests.WithLabelValues(string(purpose), metrics.Status(err)).Inc()
	if err != nil {
		return nil, fmt.Errorf("anthropic API call failed: %w", err)
	}
	metrics.LLMTokens.WithLabelValues("input").Add(float64(msg.Usage.InputTokens))
	metrics.LLMTokens.WithLabelValues("output").Add(float64(msg.Usage.OutputTokens))
	return msg, nil
}

func (c *AnthropicClient) Complete(ctx context.Context, req Request) (*Response, error) {
	msg, err := c.send(ctx, req.Purpose, c.params(req, []anthropic.MessageParam{
		anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
	}))
	if err != nil {
		return nil, err
	}
	return c.response(msg), nil
}

func (c *AnthropicClient) response(msg *anthropic.Message) *Response {
	var parts []string
	for i := range msg.Content {
		if msg.Content[i].Type == "text" {
			parts = append(parts, msg.Content[i].Text)
		}
	}
	return &Response{
		Text:         strings.Join(parts, ""),
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
		Model:        string(msg.Model),
		Provider:     "anthropic",
	}
}

func toolParams(tools []Tool) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		out = append(out, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        t.Name,
				Description: anthropic.String(t.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: map[string]any{
						"query": map[string]any{"type": "string", "description": "search query"},
					},
					Required: []string{"query"},
				},
			},
		})
	}
	return out
}

// CompleteWithTools lets the model call tools for up to maxTurns rounds. The last round
// is sent without tools so the model must produce its final reply.
func (c *AnthropicClient) CompleteWithTools(ctx context.Context, req Request, tools []Tool, maxTurns int) (*Response, error) {
	byName := make(map[string]Tool, len(tools))
	for _, t := range tools {
		byName[t.Name] = t
	}
	messages := []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt))}

	var in, out int
	for turn := 0; ; turn++ {
		p := c.params(req, messages)
		if turn < maxTurns {
			p.Tools = toolParams(tools)
		}
		msg, err := c.send(ctx, req.Purpose, p)
		if err != nil {
			return nil, err
		}
		in += int(msg.Usage.InputTokens)
		out += int(msg.Usage.OutputTokens)

		if msg.StopReason != anthropic.StopReasonToolUse || turn >= maxTurns {
			resp := c.response(msg)
			resp.InputTokens, resp.OutputTokens = in, out
			return resp, nil
		}

		var assistant, results []anthropic.ContentBlockParamUnion
		for i := range msg.Content {
			block := &msg.Content[i]
			switch block.Type {
			case "text":
				assistant = append(assistant, anthropic.NewTextBlock(block.Text))
			case "tool_use":
				assistant = append(assistant, anthropic.NewToolUseBlock(block.ID, block.Input, block.Name))
				results = append(results, c.runTool(ctx, byName, block.ID, block.Name, block.Input))
			}
		}
		messages = append(messages, anthropic.NewAssistantMessage(assistant...), anthropic.NewUserMessage(results...))
	}
}

func (c *AnthropicClient) runTool(ctx context.Context, tools map[string]Tool, id, name string, input json.RawMessage) anthropic.ContentBlockParamUnion {
	tool, ok := tools[name]
	if !ok {
		return anthropic.NewToolResultBlock(id, "unknown tool "+name, true)
	}
	var args struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal(input, &args); err != nil {
		return anthropic.NewToolResultBlock(id, "invalid input: "+err.Error(), true)
	}
	result, err := tool.Run(ctx, args.Query)
	if err != nil {
		c.logger.Warn("Reviewer tool failed", zap.String("tool", name), zap.Error(err))
		return anthropic.NewToolResultBlock(id, err.Error(), true)
	}
	return anthropic.NewToolResultBlock(id, result, false)
}
