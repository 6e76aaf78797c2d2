// Package interceptors tags outgoing calls with the Temporal execution they
// serve so backend logs can be joined with workflow history.
package interceptors

import (
	"net/http"

	"go.temporal.io/sdk/activity"
)

const (
	HeaderWorkflowID = "X-Workflow-ID"
	HeaderRunID      = "X-Run-ID"
)

// WorkflowHTTPRoundTripper adds workflow headers to requests made from an
// activity. Requests made outside an activity pass through unchanged.
type WorkflowHTTPRoundTripper struct {
	base http.RoundTripper
}

func NewWorkflowHTTPRoundTripper(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &WorkflowHTTPRoundTripper{base: base}
}

func (w *WorkflowHTTPRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if wfID, runID, ok := executionOf(req); ok {
		req = req.Clone(req.Context())
		req.Header.Set(HeaderWorkflowID, wfID)
		req.Header.Set(HeaderRunID, runID)
	}
	return w.base.RoundTrip(req)
}

// executionOf reads the activity info. GetInfo panics outside an activity.
func executionOf(req *http.Request) (wfID, runID string, ok bool) {
	defer func() {
		if recover() != nil {
			wfID, runID, ok = "", "", false
		}
	}()
	info := activity.GetInfo(req.Context())
	if info.WorkflowExecution.ID == "" {
		return "", "", false
	}
	return info.WorkflowExecution.ID, info.WorkflowExecution.RunID, true
}
