package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"tradecore/internal/status"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
)

// handleWS upgrades the connection and streams board events as JSON text
// frames. "?kinds=fill,order" restricts the event kinds.
func (s *StatusServer) handleWS(w http.ResponseWriter, r *http.Request) {
	kinds := map[string]bool{}
	for _, k := range strings.Split(r.URL.Query().Get("kinds"), ",") {
		if k = strings.TrimSpace(k); k != "" {
			kinds[k] = true
		}
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade", "error", err)
		return
	}
	defer conn.Close()

	subID, ch := s.board.Subscribe(1024)
	defer s.board.Unsubscribe(subID)
	s.log.Info("websocket client subscribed", "subID", subID, "remote", r.RemoteAddr)

	// Read pump: handles pongs and detects the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-gone:
			s.log.Info("websocket client disconnected", "subID", subID)
			return
		case <-r.Context().Done():
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case evt, ok := <-ch:
			if !ok {
				return
			}
			if len(kinds) > 0 && !kinds[string(evt.Kind)] {
				continue
			}
			if err := writeEvent(conn, evt); err != nil {
				s.log.Warn("websocket write", "subID", subID, "error", err)
				return
			}
		}
	}
}

func writeEvent(conn *websocket.Conn, evt status.Event) error {
	conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteJSON(evt.Wire())
}
