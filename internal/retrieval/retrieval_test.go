package retrieval

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/config"
	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/state"
	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/vectordb"
)

func TestPlaceholderOnEmptyAndError(t *testing.T) {
	empty := WithPlaceholder(Func(func(context.Context, string) ([]state.Document, error) {
		return nil, nil
	}), "test", zaptest.NewLogger(t))
	docs, err := empty.Search(context.Background(), "q")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, NoResults, docs[0].Content)

	failing := WithPlaceholder(Func(func(context.Context, string) ([]state.Document, error) {
		return nil, errors.New("backend down")
	}), "test", zaptest.NewLogger(t))
	docs, err = failing.Search(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, []state.Document{{Content: NoResults}}, docs)
}

func TestPlaceholderPassesHitsAndCancellation(t *testing.T) {
	hit := []state.Document{{Content: "제60조"}}
	p := WithPlaceholder(Func(func(ctx context.Context, _ string) ([]state.Document, error) {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return hit, nil
	}), "test", nil)

	docs, err := p.Search(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, hit, docs)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.Search(ctx, "q")
	assert.ErrorIs(t, err, context.Canceled)
}

type fakeEmbedder struct{ err error }

func (f fakeEmbedder) Embed(context.Context, string) ([]float32, error) {
	return []float32{1, 0}, f.err
}

type fakePoints struct {
	collection string
	limit      int
	pts        []vectordb.Point
}

func (f *fakePoints) Search(_ context.Context, collection string, _ []float32, limit int, _ float64) ([]vectordb.Point, error) {
	f.collection, f.limit = collection, limit
	return f.pts, nil
}

func TestQdrantMapsPayload(t *testing.T) {
	fp := &fakePoints{pts: []vectordb.Point{
		{Score: 0.9, Payload: map[string]interface{}{"content": "임차인은 계약갱신을 요구할 수 있다", "source": "주택임대차보호법 제6조의3"}},
		{Score: 0.8, Payload: map[string]interface{}{"page_content": "보증금", "source": "주택임대차보호법 제3조"}},
		{Score: 0.7, Payload: map[string]interface{}{"source": "empty"}},
	}}
	q := &Qdrant{Embedder: fakeEmbedder{}, Points: fp, Collection: "housing_law"}

	docs, err := q.Search(context.Background(), "갱신요구권")
	require.NoError(t, err)
	assert.Equal(t, "housing_law", fp.collection)
	assert.Equal(t, 5, fp.limit)
	require.Len(t, docs, 2)
	assert.Equal(t, "주택임대차보호법 제6조의3", docs[0].Metadata.Source)
	assert.Equal(t, "보증금", docs[1].Content)
}

func TestQdrantEmbedError(t *testing.T) {
	q := &Qdrant{Embedder: fakeEmbedder{err: errors.New("boom")}, Points: &fakePoints{}}
	_, err := q.Search(context.Background(), "x")
	assert.ErrorContains(t, err, "embed query")
}

func TestPGVectorQuerySanitizesTable(t *testing.T) {
	p := &PGVector{Table: `law_chunks"; drop`}
	assert.Contains(t, p.query(), `"law_chunks""; drop"`)
}

func TestTavilyFormatsDocuments(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "key", body["api_key"])
		assert.Equal(t, "CCTV 설치 기준", body["query"])
		_, _ = w.Write([]byte(`{"results":[
			{"title":"a","url":"https://a.example","content":"first"},
			{"title":"b","url":"https://b.example","content":"second"}]}`))
	}))
	defer srv.Close()

	tv := NewTavily(config.WebSearchConfig{APIKey: "key", Endpoint: srv.URL, MaxResults: 1}, time.Second, zaptest.NewLogger(t))
	docs, err := tv.Search(context.Background(), "CCTV 설치 기준")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "<Document href=\"https://a.example\"/>\nfirst\n</Document>", docs[0].Content)
	assert.Equal(t, "web search", docs[0].Metadata.Source)
	assert.Equal(t, "https://a.example", docs[0].Metadata.URL)
}

func TestTavilyRetriesRateLimit(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"results":[]}`))
	}))
	defer srv.Close()

	tv := NewTavily(config.WebSearchConfig{APIKey: "key", Endpoint: srv.URL}, time.Second, zaptest.NewLogger(t))
	tv.minBackoff = time.Millisecond
	docs, err := tv.Search(context.Background(), "q")
	require.NoError(t, err)
	assert.Empty(t, docs)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestTavilyRequiresKey(t *testing.T) {
	_, err := NewTavily(config.WebSearchConfig{}, 0, nil).Search(context.Background(), "q")
	assert.ErrorContains(t, err, "API key")
}

func TestRender(t *testing.T) {
	out := Render([]state.Document{
		{Content: "a", Metadata: state.DocumentMetadata{Source: "근로기준법 제60조"}},
		{Content: "b"},
	})
	assert.Equal(t, "a\n출처: 근로기준법 제60조\n\nb", out)
}
