package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/grandb369/tradebot/internal/events"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// websocket streams every order lifecycle event to the client as JSON.
func (s *Server) websocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.Logger.Warnw("ws_upgrade_failed", "error", err)
		return
	}
	defer conn.Close()

	if s.Bus == nil {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"bus not ready"}`))
		return
	}

	// Client disconnects surface as read errors.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	stream := make(chan any, 100)
	for _, topic := range events.All {
		ch, unsub := s.Bus.Subscribe(topic, 100)
		defer unsub()
		go func() {
			for msg := range ch {
				select {
				case stream <- msg:
				case <-gone:
				}
			}
		}()
	}

	for {
		select {
		case <-gone:
			return
		case msg := <-stream:
			if err := conn.WriteJSON(msg); err != nil {
				s.Logger.Debugw("ws_write_failed", "error", err)
				return
			}
		}
	}
}
