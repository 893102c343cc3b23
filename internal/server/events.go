package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/datascout-ai/datascout/internal/model"
)

// sseKeepaliveInterval bounds how long a proxy sees no bytes on an idle
// event stream.
const sseKeepaliveInterval = 15 * time.Second

// HandleJobEvents handles GET /v1/jobs/{job_id}/events (SSE).
//
// The stream replays persisted events after the client's last seen sequence
// (Last-Event-ID header or ?from= query parameter), then switches to live
// events. Sequences are strictly increasing, so a reconnecting client that
// resumes from its last ID never sees a duplicate or a gap. The stream ends
// after the terminal event.
func (h *Handlers) HandleJobEvents(w http.ResponseWriter, r *http.Request) {
	id, err := parseJobID(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	if _, err := h.store.GetJob(r.Context(), id); err != nil {
		writeDomainError(w, r, err)
		return
	}

	after := queryInt64(r, "from", 0)
	if lastID := r.Header.Get("Last-Event-ID"); lastID != "" {
		if n, perr := strconv.ParseInt(lastID, 10, 64); perr == nil {
			after = n
		}
	}
	if after < 0 {
		after = 0
	}

	// Subscribe before replaying so an event persisted between the replay
	// query and the live phase is not lost; duplicates are filtered below.
	live := h.broker.Subscribe(id)
	defer h.broker.Unsubscribe(id, live)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	// The response controller unwraps the middleware's writer wrappers to
	// reach the connection's Flusher and deadline controls.
	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})
	if err := rc.Flush(); err != nil {
		h.logger.Error("event stream flush unsupported", "job_id", id, "error", err)
		return
	}

	replayed, err := h.store.ListEvents(r.Context(), id, after)
	if err != nil {
		h.logger.Error("event replay failed", "job_id", id, "error", err)
		return
	}

	lastSent := after
	for _, e := range replayed {
		if !writeSSEEvent(w, rc, e) {
			return
		}
		lastSent = e.Sequence
		if e.Terminal {
			return
		}
	}

	keepalive := time.NewTicker(sseKeepaliveInterval)
	defer keepalive.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-keepalive.C:
			if _, err := w.Write([]byte(":keepalive\n\n")); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		case e, ok := <-live:
			if !ok {
				return
			}
			// Already delivered during replay.
			if e.Sequence <= lastSent {
				continue
			}
			if !writeSSEEvent(w, rc, e) {
				return
			}
			lastSent = e.Sequence
			if e.Terminal {
				return
			}
		}
	}
}

// writeSSEEvent writes one event in SSE wire format. The event ID is the
// sequence number so Last-Event-ID reconnects resume precisely.
func writeSSEEvent(w http.ResponseWriter, rc *http.ResponseController, e model.ProgressEvent) bool {
	data, err := json.Marshal(e)
	if err != nil {
		return false
	}
	payload := "id: " + strconv.FormatInt(e.Sequence, 10) + "\nevent: progress\ndata: " + string(data) + "\n\n"
	if _, err := w.Write([]byte(payload)); err != nil {
		return false
	}
	return rc.Flush() == nil
}
