// SPDX-License-Identifier: Apache-2.0

package httptransport

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/adiadia/execstream/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

const (
	socketReadLimit = 1 << 20
	socketPongWait  = 60 * time.Second
	socketWriteWait = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// socketFrame is one producer message: a batch of events, optionally
// followed by completion of the stream.
type socketFrame struct {
	Events   []domain.LogEvent `json:"events"`
	Status   string            `json:"status,omitempty"`
	Error    string            `json:"error,omitempty"`
	Complete *completeRequest  `json:"complete,omitempty"`
}

type socketAck struct {
	Accepted         int    `json:"accepted"`
	ExpectedSequence int64  `json:"expected_sequence,omitempty"`
	Completed        bool   `json:"completed,omitempty"`
	Error            string `json:"error,omitempty"`
}

// handleProducerSocket accepts pushed batches over a websocket. The stream is
// marked connected for the lifetime of the socket.
func (s *server) handleProducerSocket(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if _, ok := s.store.Snapshot(id); !ok {
		http.Error(w, "execution stream not found", http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "execution_id", id, "error", err)
		return
	}
	defer conn.Close()

	if err := s.store.SetConnection(id, true); err != nil {
		return
	}
	defer func() {
		_ = s.store.SetConnection(id, false)
	}()

	s.logger.Info("producer connected", "execution_id", id, "remote_addr", r.RemoteAddr)

	conn.SetReadLimit(socketReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(socketPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(socketPongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("producer socket closed", "execution_id", id, "error", err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(socketPongWait))

		ack, stop := s.applyFrame(id, data)
		_ = conn.SetWriteDeadline(time.Now().Add(socketWriteWait))
		if err := conn.WriteJSON(ack); err != nil {
			s.logger.Error("websocket write failed", "execution_id", id, "error", err)
			return
		}

		if stop {
			_ = conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ack.Error),
				time.Now().Add(socketWriteWait),
			)
			return
		}
	}
}

// applyFrame applies one producer frame and reports whether the socket should
// close afterwards.
func (s *server) applyFrame(id string, data []byte) (socketAck, bool) {
	var frame socketFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return socketAck{Error: "invalid frame"}, false
	}

	if err := s.store.Ingest(id, frame.Events); err != nil {
		return s.socketStoreError(id, err)
	}
	ack := socketAck{Accepted: len(frame.Events)}

	if frame.Status != "" {
		status, err := parseStatus(frame.Status, false)
		if err != nil {
			ack.Error = "invalid status"
			return ack, false
		}
		if err := s.store.UpdateStatus(id, status); err != nil {
			return s.socketStoreError(id, err)
		}
	}

	if frame.Error != "" {
		if err := s.store.SetError(id, frame.Error); err != nil {
			return s.socketStoreError(id, err)
		}
	}

	if frame.Complete != nil {
		opts, err := completeOptions(*frame.Complete)
		if err != nil {
			ack.Error = "invalid status"
			return ack, false
		}
		if err := s.store.Complete(id, opts...); err != nil {
			return s.socketStoreError(id, err)
		}
		ack.Completed = true
	}

	expected, err := s.store.Expected(id)
	if err != nil {
		return s.socketStoreError(id, err)
	}
	ack.ExpectedSequence = expected

	return ack, ack.Completed
}

func (s *server) socketStoreError(id string, err error) (socketAck, bool) {
	if errors.Is(err, domain.ErrUnknownExecution) {
		return socketAck{Error: "execution stream not found"}, true
	}
	s.logger.Error("socket stream operation failed", "execution_id", id, "error", err)
	return socketAck{Error: "stream operation failed"}, true
}
