package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/aristath/cowork/internal/events"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPongTimeout  = 60 * time.Second
	wsPingInterval = 25 * time.Second
	wsBuffer       = 256
)

// handleEvents streams a session's events as JSON envelopes
// ({"event": "cowork://...", "payload": {...}}) until the client goes away.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.sessions.Snapshot(id); err != nil {
		s.respondStoreError(w, r, err)
		return
	}

	// Subscribe before the handshake completes so nothing published after
	// the client sees the upgrade is missed.
	sub := s.bus.Subscribe(id, wsBuffer)
	defer s.bus.Unsubscribe(sub)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.logger.Debug("event stream connected", "session_id", id, "remote", r.RemoteAddr)

	// The reader only watches for close frames and keeps pongs flowing.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		conn.SetReadLimit(4096)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-gone:
			s.logger.Debug("event stream disconnected", "session_id", id)
			return
		case <-r.Context().Done():
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				return
			}
		case e, ok := <-sub:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
					time.Now().Add(wsWriteTimeout))
				return
			}
			data, err := events.Marshal(e)
			if err != nil {
				s.logger.Warn("failed to encode event", "session_id", id, "event", e.EventName(), "error", err)
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
	}
}
