package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/streaming"
)

type streamParams struct {
	threadID string
	types    map[string]struct{}
	lastID   uint64
}

func parseStreamParams(r *http.Request) streamParams {
	p := streamParams{threadID: mux.Vars(r)["id"], types: map[string]struct{}{}}
	if s := r.URL.Query().Get("types"); s != "" {
		for _, t := range strings.Split(s, ",") {
			if t = strings.TrimSpace(t); t != "" {
				p.types[t] = struct{}{}
			}
		}
	}
	if lei := r.Header.Get("Last-Event-ID"); lei != "" {
		if n, err := strconv.ParseUint(lei, 10, 64); err == nil {
			p.lastID = n
		}
	}
	if q := r.URL.Query().Get("last_event_id"); q != "" && p.lastID == 0 {
		if n, err := strconv.ParseUint(q, 10, 64); err == nil {
			p.lastID = n
		}
	}
	return p
}

func (p streamParams) wants(ev streaming.Event) bool {
	if len(p.types) == 0 {
		return true
	}
	_, ok := p.types[ev.Type]
	return ok
}

// handleSSE streams node events of a thread as Server-Sent Events.
func (h *Handler) handleSSE(w http.ResponseWriter, r *http.Request) {
	p := parseStreamParams(r)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	ch := h.stream.Subscribe(p.threadID, 256)
	defer h.stream.Unsubscribe(p.threadID, ch)

	fmt.Fprintf(w, ": connected to thread %s\n\n", p.threadID)
	write := func(ev streaming.Event) {
		if !p.wants(ev) {
			return
		}
		fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.Seq, ev.Type, ev.Marshal())
	}
	if p.lastID > 0 {
		for _, ev := range h.stream.ReplaySince(p.threadID, p.lastID) {
			write(ev)
		}
	}
	flusher.Flush()

	hb := time.NewTicker(15 * time.Second)
	defer hb.Stop()
	for {
		select {
		case <-r.Context().Done():
			h.logger.Debug("SSE client disconnected", zap.String("thread_id", p.threadID))
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			write(ev)
			flusher.Flush()
		case <-hb.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}
