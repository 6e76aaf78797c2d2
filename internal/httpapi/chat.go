package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/session"
)

type chatRequest struct {
	ThreadID string `json:"thread_id,omitempty"`
	Message  string `json:"message"`
}

// handleChat runs one chat message. The reply carries the thread id the client
// must send next; it changes once an answer is approved.
func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}
	reply, err := h.sessions.StartOrContinue(r.Context(), req.ThreadID, req.Message)
	if err != nil {
		h.logger.Error("Chat failed", zap.String("thread_id", req.ThreadID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, sanitizeErr(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func (h *Handler) handleExamples(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"examples": session.ExampleQuestions})
}

func (h *Handler) handleThread(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	ws, err := h.runner.State(r.Context(), id)
	if err != nil {
		writeError(w, statusFor(err), sanitizeErr(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, ws)
}
