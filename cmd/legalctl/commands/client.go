package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/session"
	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/state"
)

// Client calls the legal QA HTTP API.
type Client struct {
	base  string
	token string
	http  *http.Client
}

func NewClient(base, token string) *Client {
	// turns block until the answer is evaluated
	return &Client{base: strings.TrimRight(base, "/"), token: token, http: &http.Client{Timeout: 10 * time.Minute}}
}

// APIError is a non-2xx reply.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string { return fmt.Sprintf("server returned %d: %s", e.Status, e.Message) }

func (c *Client) Chat(ctx context.Context, threadID, message string) (*session.Reply, error) {
	var out session.Reply
	err := c.do(ctx, http.MethodPost, "/v1/chat", map[string]string{"thread_id": threadID, "message": message}, &out)
	return &out, err
}

func (c *Client) Decide(ctx context.Context, threadID, decision string) (*state.WorkflowState, error) {
	var out struct {
		State state.WorkflowState `json:"state"`
	}
	err := c.do(ctx, http.MethodPost, "/approvals/decision", map[string]string{"thread_id": threadID, "decision": decision}, &out)
	return &out.State, err
}

func (c *Client) Thread(ctx context.Context, threadID string) (*state.WorkflowState, error) {
	var out state.WorkflowState
	err := c.do(ctx, http.MethodGet, "/v1/threads/"+url.PathEscape(threadID), nil, &out)
	return &out, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(raw, &e) != nil || e.Error == "" {
			e.Error = strings.TrimSpace(string(raw))
		}
		return &APIError{Status: resp.StatusCode, Message: e.Error}
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
