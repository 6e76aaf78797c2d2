package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/session"
)

func TestChatLoopCarriesThread(t *testing.T) {
	plain = true
	t.Cleanup(func() { plain = false })

	var threads []string
	send := func(_ context.Context, thread, msg string) (*session.Reply, error) {
		threads = append(threads, thread)
		return &session.Reply{ThreadID: "t-1", Text: "echo " + msg}, nil
	}
	var out bytes.Buffer
	err := chatLoop(context.Background(), send, "first", strings.NewReader("n\n\n/thread\ny\n/quit\nignored\n"), &out)
	require.NoError(t, err)

	assert.Equal(t, []string{"", "t-1", "t-1"}, threads)
	assert.Contains(t, out.String(), "echo first")
	assert.Contains(t, out.String(), "echo n")
	assert.Contains(t, out.String(), "t-1\n")
	assert.NotContains(t, out.String(), "ignored")
}

func TestChatLoopReportsErrorsAndContinues(t *testing.T) {
	plain = true
	t.Cleanup(func() { plain = false })

	calls := 0
	send := func(context.Context, string, string) (*session.Reply, error) {
		calls++
		return nil, errors.New("refused")
	}
	var out bytes.Buffer
	require.NoError(t, chatLoop(context.Background(), send, "", strings.NewReader("a\nb\n"), &out))
	assert.Equal(t, 2, calls)
	assert.Contains(t, out.String(), "chat: refused")
}

func TestClientSendsBearerAndDecodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/v1/chat":
			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			_ = json.NewEncoder(w).Encode(map[string]any{"thread_id": "t-9", "text": "hi " + body["message"], "pending": true})
		case "/approvals/decision":
			w.WriteHeader(http.StatusConflict)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "thread is not awaiting review"})
		case "/v1/threads/t-9":
			_ = json.NewEncoder(w).Encode(map[string]any{"thread_id": "t-9", "status": "completed"})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", "tok")
	reply, err := c.Chat(context.Background(), "", "q")
	require.NoError(t, err)
	assert.Equal(t, "t-9", reply.ThreadID)
	assert.True(t, reply.Pending)
	assert.Equal(t, "hi q", reply.Text)

	_, err = c.Decide(context.Background(), "t-9", "approved")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.Status)
	assert.Equal(t, "thread is not awaiting review", apiErr.Message)

	ws, err := c.Thread(context.Background(), "t-9")
	require.NoError(t, err)
	assert.True(t, ws.Done())
}

func TestExamplesCommand(t *testing.T) {
	var out bytes.Buffer
	examplesCmd.SetOut(&out)
	examplesCmd.Run(examplesCmd, nil)
	assert.Equal(t, len(session.ExampleQuestions), strings.Count(out.String(), "\n"))
	assert.True(t, strings.HasPrefix(out.String(), "1. "))
}
