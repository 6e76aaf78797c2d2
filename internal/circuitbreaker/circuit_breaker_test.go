package circuitbreaker

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestCircuitBreakerTransitions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FailureThreshold = 2
	cfg.SuccessThreshold = 1
	cfg.Timeout = time.Minute

	cb := NewCircuitBreaker("test", cfg, zaptest.NewLogger(t))
	clock := time.Now()
	cb.now = func() time.Time { return clock }
	ctx := context.Background()

	require.NoError(t, cb.Execute(ctx, func() error { return nil }))
	assert.Equal(t, StateClosed, cb.State())

	boom := errors.New("boom")
	for i := 0; i < 2; i++ {
		assert.ErrorIs(t, cb.Execute(ctx, func() error { return boom }), boom)
	}
	assert.Equal(t, StateOpen, cb.State())
	assert.ErrorIs(t, cb.Execute(ctx, func() error { return nil }), ErrCircuitBreakerOpen)

	clock = clock.Add(2 * time.Minute)
	assert.Equal(t, StateHalfOpen, cb.State())
	require.NoError(t, cb.Execute(ctx, func() error { return nil }))
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FailureThreshold = 1
	cfg.Timeout = time.Second
	cb := NewCircuitBreaker("reopen", cfg, zaptest.NewLogger(t))
	clock := time.Now()
	cb.now = func() time.Time { return clock }

	_ = cb.Execute(context.Background(), func() error { return errors.New("x") })
	clock = clock.Add(2 * time.Second)
	require.Equal(t, StateHalfOpen, cb.State())

	_ = cb.Execute(context.Background(), func() error { return errors.New("y") })
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreakerIgnoresCancelledContext(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FailureThreshold = 1
	cb := NewCircuitBreaker("cancel", cfg, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := cb.Execute(ctx, func() error { t.Fatal("fn must not run"); return nil })
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateClosed, cb.State())
}

func TestHTTPWrapperCountsServerErrors(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	settings := Settings{MaxRequests: 1, Interval: time.Minute, Timeout: time.Minute, FailureThreshold: 2, SuccessThreshold: 1}
	hw := NewHTTPWrapper(srv.Client(), "search-test", "test", settings, zaptest.NewLogger(t))

	for i := 0; i < 2; i++ {
		req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
		resp, err := hw.Do(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
		resp.Body.Close()
	}
	assert.Equal(t, StateOpen, hw.State())

	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	_, err := hw.Do(req)
	assert.ErrorIs(t, err, ErrCircuitBreakerOpen)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestSettingsFromEnv(t *testing.T) {
	t.Setenv("CB_LLM_TIMEOUT", "42s")
	t.Setenv("CB_LLM_FAILURE_THRESHOLD", "9")
	s := LLMSettings()
	assert.Equal(t, 42*time.Second, s.Timeout)
	assert.Equal(t, uint32(9), s.FailureThreshold)
	assert.Equal(t, uint32(2), s.MaxRequests)
}
