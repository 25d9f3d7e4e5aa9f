package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/boristopalov/slicewise/pkg/core"
	"github.com/boristopalov/slicewise/pkg/messaging"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Same stance as the CORS middleware: any origin may connect.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handlePlayWatch streams a session's step events over a websocket. Events
// a slow client cannot keep up with are dropped by the broker, never queued
// against the stepping request.
func (s *Server) handlePlayWatch(c *gin.Context) {
	sessionID := c.Query("session_id")
	if _, err := s.store.Get(sessionID); errors.Is(err, core.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "invalid session"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	watcherID := uuid.NewString()
	events := make(chan messaging.StepEvent, 64)
	if err := s.broker.Subscribe(watcherID, sessionID, events); err != nil {
		s.logger.Warn("watch subscribe failed", "error", err)
		return
	}
	defer s.broker.Unsubscribe(watcherID)

	// Reader goroutine: we never expect client messages, but reading is how
	// we learn about a close.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case ev := <-events:
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		}
	}
}
