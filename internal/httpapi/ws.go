package httpapi

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/nats-io/nats.go"
	"github.com/parlancelabs/parlance/internal/protocol"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The UI is served from the same origin in production; development
	// hosts vary, and the relay carries no sensitive state.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleNotifications upgrades to a websocket and relays bus notifications
// (generation lifecycle, notices) to the browser.
func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	if s.bus == nil || !s.bus.Healthy() {
		http.Error(w, "notification bus unavailable", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	var writeMu sync.Mutex
	sub, err := s.bus.Conn().Subscribe(protocol.SubjectAll, func(msg *nats.Msg) {
		writeMu.Lock()
		defer writeMu.Unlock()
		if err := conn.WriteMessage(websocket.TextMessage, msg.Data); err != nil {
			s.log.Debug("notification relay write failed", slog.String("error", err.Error()))
		}
	})
	if err != nil {
		s.log.Warn("notification subscription failed", slog.String("error", err.Error()))
		return
	}
	defer func() { _ = sub.Unsubscribe() }()

	// Drain client frames until the connection closes; the relay is
	// one-directional.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
