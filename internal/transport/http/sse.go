// SPDX-License-Identifier: Apache-2.0

package httptransport

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/adiadia/execstream/internal/domain"
	"github.com/go-chi/chi/v5"
)

var errInvalidSince = errors.New("invalid since")

type completeEvent struct {
	Status    domain.ExecutionStatus `json:"status,omitempty"`
	LastError string                 `json:"last_error,omitempty"`
	Result    json.RawMessage        `json:"result,omitempty"`
	LogLen    int                    `json:"log_len"`
}

// handleLogTail streams the ordered transcript as server-sent events. Each
// event id is the transcript length after that entry, so a reconnecting
// client resumes with Last-Event-ID.
func (s *server) handleLogTail(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	since := strings.TrimSpace(r.URL.Query().Get("since"))
	if since == "" {
		since = strings.TrimSpace(r.Header.Get("Last-Event-ID"))
	}
	offset, err := parseSince(since)
	if err != nil {
		http.Error(w, "invalid since", http.StatusBadRequest)
		return
	}

	if _, _, err := s.store.LogSince(id, offset); err != nil {
		s.writeStoreError(w, id, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// writeTail reports true once the stream is finished or gone.
	writeTail := func() (bool, error) {
		events, completed, err := s.store.LogSince(id, offset)
		if err != nil {
			if errors.Is(err, domain.ErrUnknownExecution) {
				_, werr := fmt.Fprint(w, "event: cleared\ndata: {}\n\n")
				flusher.Flush()
				return true, werr
			}
			return true, err
		}

		for _, ev := range events {
			payload, err := json.Marshal(ev)
			if err != nil {
				return true, err
			}
			offset++
			if _, err := fmt.Fprintf(w, "id: %d\nevent: log\ndata: %s\n\n", offset, payload); err != nil {
				return true, err
			}
		}
		if len(events) > 0 {
			flusher.Flush()
		}

		if !completed {
			return false, nil
		}

		final := completeEvent{LogLen: offset}
		if st, ok := s.store.Snapshot(id); ok {
			final.Status = st.Status
			final.LastError = st.LastError
			final.Result = st.Result
		}
		payload, err := json.Marshal(final)
		if err != nil {
			return true, err
		}
		if _, err := fmt.Fprintf(w, "event: complete\ndata: %s\n\n", payload); err != nil {
			return true, err
		}
		flusher.Flush()
		return true, nil
	}

	if done, err := writeTail(); done || err != nil {
		if err != nil {
			s.logger.Error("sse initial write failed", "execution_id", id, "error", err)
		}
		return
	}

	ticker := time.NewTicker(s.tailInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			done, err := writeTail()
			if err != nil {
				s.logger.Error("sse write failed", "execution_id", id, "error", err)
				return
			}
			if done {
				return
			}
		}
	}
}

func parseSince(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errInvalidSince
	}
	return n, nil
}
