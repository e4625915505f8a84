package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum command size allowed from peer. Covers a full-length body plus
	// envelope overhead.
	maxMessageSize = 4096

	sendBuffer = 256
)

// Session binds a physical websocket connection to an optional user
// identity. Identity is set at handshake time or by the first heartbeat that
// carries a user id, and never changes afterwards.
type Session struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu     sync.RWMutex
	userID string
}

func newSession(hub *Hub, conn *websocket.Conn, userID string) *Session {
	return &Session{
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		userID: userID,
	}
}

func (s *Session) UserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID
}

func (s *Session) bind(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.userID == "" {
		s.userID = userID
	}
}

// deliver queues an event for the session, dropping it if the peer cannot
// keep up. Fanout must never block on one slow consumer.
func (s *Session) deliver(evt Event) {
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}
	select {
	case s.send <- data:
	default:
	}
}

// readPump pumps commands from the websocket connection into the hub's
// dispatcher. One goroutine per connection.
func (s *Session) readPump() {
	defer func() {
		s.hub.unregister <- s
		s.conn.Close()
	}()
	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error { s.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.hub.logger.Warn("session read error", zap.Error(err))
			}
			break
		}
		s.hub.dispatch(context.Background(), s, message)
	}
}

// writePump pumps queued events to the websocket connection, one frame per
// event, and keeps the connection alive with pings.
func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()
	for {
		select {
		case message, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the session.
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
