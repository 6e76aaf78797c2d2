package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/config"
	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/session"
	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/state"
)

// backend fakes the LLM service, the embeddings endpoint, Qdrant and Tavily on one server.
type backend struct {
	answers  int32
	vecSize  int
	searches int32
}

func (b *backend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reply := func(v any) { _ = json.NewEncoder(w).Encode(v) }
	switch {
	case r.URL.Path == "/agent/query":
		var req struct {
			AgentID string `json:"agent_id"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		reply(map[string]any{"success": true, "response": b.model(strings.TrimPrefix(req.AgentID, "legalqa-"))})
	case r.URL.Path == "/embeddings/":
		reply(map[string]any{"embeddings": [][]float64{make([]float64, b.vecSize)}, "dimensions": b.vecSize})
	case strings.HasSuffix(r.URL.Path, "/points/query"):
		atomic.AddInt32(&b.searches, 1)
		reply(map[string]any{"result": map[string]any{"points": []map[string]any{{
			"id": 1, "score": 0.9,
			"payload": map[string]any{"content": "연차 유급휴가 15일", "source": "근로기준법 제60조"},
		}}}})
	case strings.HasPrefix(r.URL.Path, "/collections/"):
		reply(map[string]any{"result": map[string]any{
			"points_count": 10,
			"config":       map[string]any{"params": map[string]any{"vectors": map[string]any{"size": 3}}},
		}})
	case r.URL.Path == "/tavily":
		reply(map[string]any{"results": []any{}})
	default:
		http.NotFound(w, r)
	}
}

func (b *backend) model(purpose string) string {
	switch purpose {
	case "route":
		return `{"tools":[{"tool":"search_labor"}]}`
	case "extract":
		return `{"strips":[{"content":"15일","source":"근로기준법 제60조","relevance_score":0.9,"faithfulness_score":0.9}],"query_relevance":0.95}`
	case "answer":
		return "연차휴가는 15일입니다 (근로기준법 제60조)"
	case "aggregate":
		n := atomic.AddInt32(&b.answers, 1)
		return fmt.Sprintf("최종 답변 %d", n)
	case "evaluate":
		return `{"scores":{"accuracy":9,"relevance":9,"completeness":8,"citation_accuracy":9,"clarity_conciseness":8,"objectivity":9},"total_score":52,"brief_evaluation":"정확함"}`
	}
	return "?"
}

func testConfig(t *testing.T, srvURL string, extra string) *config.Config {
	host, port, err := net.SplitHostPort(strings.TrimPrefix(srvURL, "http://"))
	require.NoError(t, err)
	body := fmt.Sprintf(`
llm:
  provider: service
  service_url: %[1]s
  requests_per_second: 0
retrieval:
  backend: qdrant
  qdrant:
    host: %[2]s
    port: %[3]s
  embeddings:
    base_url: %[1]s
  web:
    endpoint: %[1]s/tavily
checkpoint:
  backend: memory
%[4]s`, srvURL, host, port, extra)
	p := filepath.Join(t.TempDir(), "legalqa.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	l, err := config.NewLoader(p, false)
	require.NoError(t, err)
	return l.Config()
}

func TestBuildRunsConversation(t *testing.T) {
	b := &backend{vecSize: 3}
	srv := httptest.NewServer(b)
	defer srv.Close()

	app, err := Build(context.Background(), testConfig(t, srv.URL, ""), zaptest.NewLogger(t))
	require.NoError(t, err)
	defer app.Close()

	ctx := context.Background()
	reply, err := app.Sessions.StartOrContinue(ctx, "t1", "연차휴가는 며칠인가요?")
	require.NoError(t, err)
	require.False(t, reply.Failed, reply.Text)
	assert.True(t, reply.Pending)
	assert.Contains(t, reply.Text, "최종 답변 1")
	assert.Contains(t, reply.Text, "52/60")
	assert.Positive(t, atomic.LoadInt32(&b.searches))

	reply, err = app.Sessions.StartOrContinue(ctx, "t1", "n")
	require.NoError(t, err)
	assert.Contains(t, reply.Text, session.RewrittenHeader)
	assert.Contains(t, reply.Text, "최종 답변 2")

	ws, err := app.Runner.State(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, []state.DomainTag{state.DomainLabor}, ws.Datasources)
	assert.Len(t, ws.Answers, 1)

	reply, err = app.Sessions.StartOrContinue(ctx, "t1", "y")
	require.NoError(t, err)
	assert.Equal(t, session.ApprovedText, reply.Text)
	assert.NotEqual(t, "t1", reply.ThreadID)

	o := app.Health.Check(ctx)
	assert.True(t, o.Ready)
}

func TestBuildRejectsDimensionMismatch(t *testing.T) {
	srv := httptest.NewServer(&backend{vecSize: 5})
	defer srv.Close()

	_, err := Build(context.Background(), testConfig(t, srv.URL, ""), zaptest.NewLogger(t))
	assert.ErrorContains(t, err, "dimension")
}

func TestBuildUnknownRetrievalBackend(t *testing.T) {
	srv := httptest.NewServer(&backend{vecSize: 3})
	defer srv.Close()

	cfg := testConfig(t, srv.URL, "")
	cfg.Retrieval.Backend = "elastic"
	_, err := Build(context.Background(), cfg, zaptest.NewLogger(t))
	assert.ErrorContains(t, err, "unknown retrieval backend")
}
