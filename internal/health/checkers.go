package health

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// PingChecker reports healthy when ping returns nil.
type PingChecker struct {
	name     string
	critical bool
	timeout  time.Duration
	ping     func(ctx context.Context) error
}

func NewPingChecker(name string, critical bool, timeout time.Duration, ping func(ctx context.Context) error) *PingChecker {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &PingChecker{name: name, critical: critical, timeout: timeout, ping: ping}
}

func (p *PingChecker) Name() string           { return p.name }
func (p *PingChecker) IsCritical() bool       { return p.critical }
func (p *PingChecker) Timeout() time.Duration { return p.timeout }

func (p *PingChecker) Check(ctx context.Context) CheckResult {
	if err := p.ping(ctx); err != nil {
		return CheckResult{Status: StatusUnhealthy, Message: "ping failed", Error: err.Error()}
	}
	return CheckResult{Status: StatusHealthy, Message: "ok"}
}

// HTTPChecker probes url with GET. Any 2xx is healthy.
type HTTPChecker struct {
	name     string
	url      string
	critical bool
	client   *http.Client
}

func NewHTTPChecker(name, url string, critical bool) *HTTPChecker {
	return &HTTPChecker{name: name, url: url, critical: critical, client: &http.Client{}}
}

func (h *HTTPChecker) Name() string           { return h.name }
func (h *HTTPChecker) IsCritical() bool       { return h.critical }
func (h *HTTPChecker) Timeout() time.Duration { return 5 * time.Second }

func (h *HTTPChecker) Check(ctx context.Context) CheckResult {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url, nil)
	if err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: err.Error()}
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return CheckResult{Status: StatusUnhealthy, Message: "unreachable", Error: err.Error(),
			Details: map[string]interface{}{"url": h.url}}
	}
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return CheckResult{Status: StatusDegraded, Message: fmt.Sprintf("status %d", resp.StatusCode),
			Details: map[string]interface{}{"url": h.url}}
	}
	return CheckResult{Status: StatusHealthy, Message: "ok", Details: map[string]interface{}{"url": h.url}}
}
