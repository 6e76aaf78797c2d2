package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/auth"
)

// approvalDecisionRequest is the payload for POST /approvals/decision.
type approvalDecisionRequest struct {
	ThreadID string `json:"thread_id"`
	Decision string `json:"decision"`
}

// handleDecision applies a review decision out of band of the chat flow.
// A rejection blocks until the re-routed answer is back at the review gate.
func (h *Handler) handleDecision(w http.ResponseWriter, r *http.Request) {
	var req approvalDecisionRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		h.logger.Warn("approval decode error", zap.Error(err))
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.ThreadID == "" || req.Decision == "" {
		writeError(w, http.StatusBadRequest, "thread_id and decision are required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Minute)
	defer cancel()
	ws, err := h.runner.Resume(ctx, req.ThreadID, req.Decision)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			h.logger.Error("Failed to apply decision", zap.String("thread_id", req.ThreadID), zap.Error(err))
		}
		writeError(w, status, sanitizeErr(err.Error()))
		return
	}

	by := ""
	if p, ok := auth.FromContext(r.Context()); ok {
		by = p.Subject
	}
	h.logger.Info("Review decision applied",
		zap.String("thread_id", req.ThreadID),
		zap.String("decision", req.Decision),
		zap.String("decided_by", by))
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     ws.Status,
		"thread_id":  ws.ThreadID,
		"decided_by": by,
		"state":      ws,
	})
}
