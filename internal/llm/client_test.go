package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/config"
)

func TestExtractJSON(t *testing.T) {
	cases := map[string]string{
		`{"a":1}`:                          `{"a":1}`,
		"```json\n{\"a\":1}\n```":          `{"a":1}`,
		"Here you go: {\"a\":{\"b\":2}} ok": `{"a":{"b":2}}`,
	}
	for in, want := range cases {
		got, err := ExtractJSON(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := ExtractJSON("no object here")
	assert.ErrorIs(t, err, ErrNoJSON)
}

func TestDecodeWrapsMalformed(t *testing.T) {
	var out struct{ A int }
	err := Decode(PurposeEvaluate, `{"A": "x"}`, &out)
	var mo *MalformedOutputError
	require.True(t, errors.As(err, &mo))
	assert.Equal(t, PurposeEvaluate, mo.Purpose)
	assert.Equal(t, `{"A": "x"}`, mo.Raw)
}

func TestServiceClientComplete(t *testing.T) {
	var got agentQueryRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/agent/query", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success":    true,
			"response":   `{"question_refined":"근로기준법 연차휴가 산정","reason":"narrower"}`,
			"metadata":   map[string]any{"input_tokens": 12, "output_tokens": 7},
			"model_used": "small",
			"provider":   "test",
		})
	}))
	defer srv.Close()

	c := NewServiceClient(config.LLMConfig{ServiceURL: srv.URL + "/", MaxTokens: 256, ModelTier: "small"}, zaptest.NewLogger(t))
	var rq struct {
		QuestionRefined string `json:"question_refined"`
	}
	err := Structured(context.Background(), c, Request{Purpose: PurposeRewrite, System: "sys", Prompt: "q"}, &rq)
	require.NoError(t, err)
	assert.Equal(t, "근로기준법 연차휴가 산정", rq.QuestionRefined)

	assert.Equal(t, "q", got.Query)
	assert.Equal(t, 256, got.MaxTokens)
	assert.Equal(t, "sys", got.Context["system_prompt"])
	assert.NotNil(t, got.Context["response_format"])
}

func TestServiceClientErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewServiceClient(config.LLMConfig{ServiceURL: srv.URL}, zaptest.NewLogger(t))
	_, err := c.Complete(context.Background(), Request{Purpose: PurposeAnswer, Prompt: "q"})
	assert.ErrorContains(t, err, "429")
}

type scripted struct {
	replies []string
	prompts []Request
}

func (s *scripted) Complete(_ context.Context, req Request) (*Response, error) {
	s.prompts = append(s.prompts, req)
	r := s.replies[0]
	s.replies = s.replies[1:]
	return &Response{Text: r, InputTokens: 1, OutputTokens: 1}, nil
}

func TestTextToolLoop(t *testing.T) {
	s := &scripted{replies: []string{
		`{"tool":"labor_law_search","query":"연차"}`,
		`{"tool":"web_search","query":"broken"}`,
		`{"scores":{"accuracy":8},"total_score":8,"brief_evaluation":"ok"}`,
	}}
	tools := []Tool{
		{Name: "labor_law_search", Description: "labor", Run: func(_ context.Context, q string) (string, error) { return "제60조 " + q, nil }},
		{Name: "web_search", Description: "web", Run: func(context.Context, string) (string, error) { return "", errors.New("down") }},
	}

	resp, err := textToolLoop(context.Background(), s, Request{Purpose: PurposeEvaluate, Prompt: "P"}, tools, 3, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Contains(t, resp.Text, "scores")
	assert.Equal(t, 3, resp.InputTokens)

	require.Len(t, s.prompts, 3)
	last := s.prompts[2].Prompt
	assert.True(t, strings.HasPrefix(last, "P"))
	assert.Contains(t, last, "제60조 연차")
	assert.Contains(t, last, "error: down")
}

func TestTextToolLoopStopsAtMaxTurns(t *testing.T) {
	s := &scripted{replies: []string{
		`{"tool":"web_search","query":"a"}`,
		`{"tool":"web_search","query":"b"}`,
	}}
	tools := []Tool{{Name: "web_search", Run: func(context.Context, string) (string, error) { return "r", nil }}}

	resp, err := textToolLoop(context.Background(), s, Request{Purpose: PurposeEvaluate, Prompt: "P"}, tools, 1, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Contains(t, resp.Text, `"query":"b"`)
	assert.NotContains(t, s.prompts[1].System, "Available tools")
}
