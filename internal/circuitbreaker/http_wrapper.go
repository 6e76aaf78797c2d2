package circuitbreaker

import (
	"net/http"
	"time"

	"go.uber.org/zap"
)

// HTTPWrapper is an http.Client whose calls pass through a breaker.
// 5xx responses count as failures but are still handed back to the caller.
type HTTPWrapper struct {
	client  *http.Client
	cb      *CircuitBreaker
	service string
}

func NewHTTPWrapper(client *http.Client, name, service string, settings Settings, logger *zap.Logger) *HTTPWrapper {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	cb := NewCircuitBreaker(name, settings.ToConfig(), logger)
	GlobalMetricsCollector.Register(service, cb)
	return &HTTPWrapper{client: client, cb: cb, service: service}
}

func (hw *HTTPWrapper) Do(req *http.Request) (*http.Response, error) {
	var resp *http.Response
	err := hw.cb.Execute(req.Context(), func() error {
		var err error
		resp, err = hw.client.Do(req)
		if err != nil {
			return err
		}
		if resp.StatusCode >= 500 {
			return &statusError{code: resp.StatusCode}
		}
		return nil
	})
	GlobalMetricsCollector.Record(hw.cb.Name(), hw.service, hw.cb.State(), err == nil)

	if _, ok := err.(*statusError); ok {
		return resp, nil
	}
	return resp, err
}

func (hw *HTTPWrapper) State() State { return hw.cb.State() }

type statusError struct{ code int }

func (e *statusError) Error() string { return http.StatusText(e.code) }
