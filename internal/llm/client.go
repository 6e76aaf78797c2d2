// Package llm wraps the language model behind a narrow text-in/text-out contract.
// Two backends exist: the shared LLM service (HTTP) and the Anthropic Messages API.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Purpose labels a call for metrics and logs.
type Purpose string

const (
	PurposeRoute     Purpose = "route"
	PurposeExtract   Purpose = "extract"
	PurposeRewrite   Purpose = "rewrite"
	PurposeAnswer    Purpose = "answer"
	PurposeAggregate Purpose = "aggregate"
	PurposeFallback  Purpose = "fallback"
	PurposeEvaluate  Purpose = "evaluate"
)

type Request struct {
	Purpose   Purpose
	System    string
	Prompt    string
	JSON      bool // ask for a bare JSON object
	MaxTokens int
}

type Response struct {
	Text         string
	InputTokens  int
	OutputTokens int
	Model        string
	Provider     string
}

// Client is the free-form generation call.
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// Tool is a capability the reviewer may invoke before answering.
type Tool struct {
	Name        string
	Description string
	Run         func(ctx context.Context, query string) (string, error)
}

// ToolCaller runs a bounded tool-use conversation and returns the model's final reply.
type ToolCaller interface {
	Client
	CompleteWithTools(ctx context.Context, req Request, tools []Tool, maxTurns int) (*Response, error)
}

// MalformedOutputError reports a reply that did not decode into the expected schema.
type MalformedOutputError struct {
	Purpose Purpose
	Raw     string
	Err     error
}

func (e *MalformedOutputError) Error() string {
	return fmt.Sprintf("malformed %s output: %v", e.Purpose, e.Err)
}

func (e *MalformedOutputError) Unwrap() error { return e.Err }

var ErrNoJSON = errors.New("no JSON object in reply")

// ExtractJSON returns the outermost JSON object in text, tolerating code fences and prose.
func ExtractJSON(text string) (string, error) {
	s := strings.TrimSpace(text)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return "", ErrNoJSON
	}
	return s[start : end+1], nil
}

// Structured completes req and decodes the reply into out.
func Structured(ctx context.Context, c Client, req Request, out any) error {
	req.JSON = true
	resp, err := c.Complete(ctx, req)
	if err != nil {
		return err
	}
	return Decode(req.Purpose, resp.Text, out)
}

// Decode parses a model reply into out, wrapping failures as MalformedOutputError.
func Decode(purpose Purpose, text string, out any) error {
	raw, err := ExtractJSON(text)
	if err != nil {
		return &MalformedOutputError{Purpose: purpose, Raw: text, Err: err}
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return &MalformedOutputError{Purpose: purpose, Raw: text, Err: err}
	}
	return nil
}
