// Package httpapi exposes the chat, review and streaming endpoints.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/auth"
	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/checkpoint"
	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/session"
	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/state"
	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/streaming"
	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/tracing"
	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/workflows"
)

type Handler struct {
	sessions *session.Manager
	runner   session.Runner
	stream   *streaming.Manager
	logger   *zap.Logger
}

func NewHandler(sessions *session.Manager, runner session.Runner, stream *streaming.Manager, logger *zap.Logger) *Handler {
	return &Handler{sessions: sessions, runner: runner, stream: stream, logger: logger}
}

// Router wires every route behind the auth middleware except /healthz.
func (h *Handler) Router(mw *auth.Middleware) *mux.Router {
	r := mux.NewRouter()
	r.Use(traceMiddleware)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)

	api := r.PathPrefix("/").Subrouter()
	api.Use(mw.HTTPMiddleware)
	api.Handle("/v1/chat", auth.RequireScope(auth.ScopeChat, http.HandlerFunc(h.handleChat))).Methods(http.MethodPost)
	api.Handle("/v1/examples", auth.RequireScope(auth.ScopeChat, http.HandlerFunc(h.handleExamples))).Methods(http.MethodGet)
	api.Handle("/approvals/decision", auth.RequireScope(auth.ScopeReview, http.HandlerFunc(h.handleDecision))).Methods(http.MethodPost)
	api.Handle("/v1/threads/{id}", auth.RequireScope(auth.ScopeThreadsRead, http.HandlerFunc(h.handleThread))).Methods(http.MethodGet)
	api.Handle("/v1/stream/{id}", auth.RequireScope(auth.ScopeThreadsRead, http.HandlerFunc(h.handleWS))).Methods(http.MethodGet)
	api.Handle("/v1/stream/{id}/sse", auth.RequireScope(auth.ScopeThreadsRead, http.HandlerFunc(h.handleSSE))).Methods(http.MethodGet)
	return r
}

func traceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		ctx, span := tracing.StartServerSpan(r.Context(), r.Method, route)
		defer span.End()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// statusFor maps graph errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, state.ErrInvalidDecision), errors.Is(err, workflows.ErrEmptyQuestion):
		return http.StatusBadRequest
	case errors.Is(err, checkpoint.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, workflows.ErrNotAwaitingReview), errors.Is(err, workflows.ErrReviewPending):
		return http.StatusConflict
	case errors.Is(err, workflows.ErrThreadBusy):
		return http.StatusLocked
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// sanitizeErr trims error messages for client output (UTF-8 safe).
func sanitizeErr(s string) string {
	runes := []rune(s)
	if len(runes) > 200 {
		return string(runes[:200])
	}
	return s
}
