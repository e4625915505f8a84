// Package gateway maps physical websocket connections to user identities and
// channel rooms. Inbound commands are routed to the chat coordinator and the
// presence tracker; outcomes fan out to the originating session and, for
// messages, to every other session currently in the channel's room. Room
// membership is derived only from confirmed join/leave outcomes.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/mahaj/chatcore/pkg/auth"
	"github.com/mahaj/chatcore/pkg/chat"
	"github.com/mahaj/chatcore/pkg/metrics"
	"github.com/mahaj/chatcore/pkg/model"
	"github.com/mahaj/chatcore/pkg/storage"
)

type ChatService interface {
	CreateChannel(ctx context.Context, channelType model.ChannelType, memberIDs []string) (model.Channel, error)
	JoinChannel(ctx context.Context, channelID, userID string) error
	LeaveChannel(ctx context.Context, channelID, userID string) error
	SendMessage(ctx context.Context, channelID, senderID, body, clientMessageID string) (model.Message, error)
}

type PresenceService interface {
	Heartbeat(ctx context.Context, userID string, status model.PresenceStatus) error
	MarkOffline(ctx context.Context, userID string) error
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for now
	},
}

type Hub struct {
	chat     ChatService
	presence PresenceService
	secret   []byte
	logger   *zap.Logger

	register   chan *Session
	unregister chan *Session

	mu       sync.RWMutex
	sessions map[*Session]bool
	rooms    map[string]map[*Session]bool // channel_id -> sessions
}

func NewHub(chatService ChatService, presenceService PresenceService, secret []byte, logger *zap.Logger) *Hub {
	return &Hub{
		chat:       chatService,
		presence:   presenceService,
		secret:     secret,
		logger:     logger,
		register:   make(chan *Session),
		unregister: make(chan *Session),
		sessions:   make(map[*Session]bool),
		rooms:      make(map[string]map[*Session]bool),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case s := <-h.register:
			h.addSession(s)
		case s := <-h.unregister:
			h.removeSession(s)
		}
	}
}

func (h *Hub) addSession(s *Session) {
	h.mu.Lock()
	h.sessions[s] = true
	h.mu.Unlock()
	metrics.ConnectionsActive.Inc()
	h.logger.Info("session connected", zap.String("user_id", s.UserID()))
}

// removeSession releases the session's rooms and identity binding. A bound
// user goes offline immediately, independent of any armed presence timer.
func (h *Hub) removeSession(s *Session) {
	h.mu.Lock()
	if !h.sessions[s] {
		h.mu.Unlock()
		return
	}
	delete(h.sessions, s)
	for channelID, room := range h.rooms {
		if room[s] {
			delete(room, s)
			if len(room) == 0 {
				delete(h.rooms, channelID)
			}
		}
	}
	close(s.send)
	h.mu.Unlock()
	metrics.ConnectionsActive.Dec()

	userID := s.UserID()
	h.logger.Info("session disconnected", zap.String("user_id", userID))
	if userID != "" {
		if err := h.presence.MarkOffline(context.Background(), userID); err != nil {
			h.logger.Warn("offline on disconnect failed", zap.String("user_id", userID), zap.Error(err))
		}
	}
}

func (h *Hub) dispatch(ctx context.Context, s *Session, raw []byte) {
	var cmd Command
	if err := json.Unmarshal(raw, &cmd); err != nil {
		s.deliver(errorEvent(ReasonInvalidEnvelope))
		return
	}

	switch cmd.Type {
	case CmdCreateChannel:
		h.handleCreateChannel(ctx, s, cmd.Payload)
	case CmdSendMessage:
		h.handleSendMessage(ctx, s, cmd.Payload)
	case CmdJoinChannel:
		h.handleJoinChannel(ctx, s, cmd.Payload)
	case CmdLeaveChannel:
		h.handleLeaveChannel(ctx, s, cmd.Payload)
	case CmdHeartbeat:
		h.handleHeartbeat(ctx, s, cmd.Payload)
	default:
		s.deliver(errorEvent(ReasonUnknownCommand))
	}
}

func (h *Hub) handleCreateChannel(ctx context.Context, s *Session, raw json.RawMessage) {
	var p CreateChannelPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		s.deliver(errorEvent(ReasonInvalidPayload))
		return
	}
	ch, err := h.chat.CreateChannel(ctx, p.ChannelType, p.MemberIDs)
	if err != nil {
		h.deliverError(s, err)
		return
	}
	s.deliver(Event{Type: EvtChannelCreated, Payload: ChannelCreatedPayload{ChannelID: ch.ID, CreatedAt: ch.CreatedAt}})
}

func (h *Hub) handleSendMessage(ctx context.Context, s *Session, raw json.RawMessage) {
	senderID := s.UserID()
	if senderID == "" {
		s.deliver(errorEvent(ReasonMissingUser))
		return
	}
	var p SendMessagePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		s.deliver(errorEvent(ReasonInvalidPayload))
		return
	}
	msg, err := h.chat.SendMessage(ctx, p.ChannelID, senderID, p.Body, p.ClientMessageID)
	if err != nil {
		h.deliverError(s, err)
		return
	}
	// Sender and room both see the persisted record, not the submitted one,
	// so a deduplicated resend acks with the original seq.
	s.deliver(Event{Type: EvtMessageSent, Payload: msg})
	h.broadcastRoom(msg.ChannelID, s, Event{Type: EvtMessageReceived, Payload: msg})
}

func (h *Hub) handleJoinChannel(ctx context.Context, s *Session, raw json.RawMessage) {
	userID := s.UserID()
	if userID == "" {
		s.deliver(errorEvent(ReasonMissingUser))
		return
	}
	var p ChannelRefPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		s.deliver(errorEvent(ReasonInvalidPayload))
		return
	}
	if err := h.chat.JoinChannel(ctx, p.ChannelID, userID); err != nil {
		h.deliverError(s, err)
		return
	}
	h.joinRoom(p.ChannelID, s)
	s.deliver(Event{Type: EvtChannelJoined, Payload: ChannelRefPayload{ChannelID: p.ChannelID}})
}

func (h *Hub) handleLeaveChannel(ctx context.Context, s *Session, raw json.RawMessage) {
	userID := s.UserID()
	if userID == "" {
		s.deliver(errorEvent(ReasonMissingUser))
		return
	}
	var p ChannelRefPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		s.deliver(errorEvent(ReasonInvalidPayload))
		return
	}
	if err := h.chat.LeaveChannel(ctx, p.ChannelID, userID); err != nil {
		h.deliverError(s, err)
		return
	}
	h.leaveRoom(p.ChannelID, s)
	s.deliver(Event{Type: EvtChannelLeft, Payload: ChannelRefPayload{ChannelID: p.ChannelID}})
}

func (h *Hub) handleHeartbeat(ctx context.Context, s *Session, raw json.RawMessage) {
	var p HeartbeatPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		s.deliver(errorEvent(ReasonInvalidPayload))
		return
	}
	userID := p.UserID
	if userID == "" {
		userID = s.UserID()
	}
	if userID == "" {
		s.deliver(errorEvent(ReasonMissingUser))
		return
	}
	// An anonymous session adopts the first heartbeat identity it presents.
	s.bind(userID)

	if err := h.presence.Heartbeat(ctx, userID, p.Status); err != nil {
		h.deliverError(s, err)
		return
	}
	// Presence is global, not per-channel, so every connection hears it.
	h.broadcastAll(Event{Type: EvtPresenceUpdated, Payload: PresencePayload{
		UserID:      userID,
		Status:      p.Status,
		LastEventAt: time.Now().UTC(),
	}})
}

func (h *Hub) deliverError(s *Session, err error) {
	var verr *chat.ValidationError
	switch {
	case errors.As(err, &verr):
		s.deliver(errorEvent(verr.Reason))
	case errors.Is(err, storage.ErrNotFound):
		s.deliver(errorEvent(ReasonNotFound))
	default:
		h.logger.Error("command failed", zap.Error(err))
		s.deliver(errorEvent(ReasonInternalError))
	}
}

func (h *Hub) joinRoom(channelID string, s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[channelID] == nil {
		h.rooms[channelID] = make(map[*Session]bool)
	}
	h.rooms[channelID][s] = true
}

func (h *Hub) leaveRoom(channelID string, s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if room, ok := h.rooms[channelID]; ok {
		delete(room, s)
		if len(room) == 0 {
			delete(h.rooms, channelID)
		}
	}
}

func (h *Hub) broadcastRoom(channelID string, exclude *Session, evt Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for member := range h.rooms[channelID] {
		if member != exclude {
			member.deliver(evt)
		}
	}
}

func (h *Hub) broadcastAll(evt Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.sessions {
		s.deliver(evt)
	}
}

// ServeWS upgrades an HTTP request to a websocket session. Identity is
// optional handshake metadata: a bearer token (header or query param) wins,
// then a plain user_id query param; with neither the session starts
// anonymous.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	var userID string
	tokenString := r.Header.Get("Authorization")
	if tokenString == "" {
		tokenString = r.URL.Query().Get("token")
	}
	tokenString = strings.TrimPrefix(tokenString, "Bearer ")

	if tokenString != "" {
		claims, err := auth.ValidateToken(h.secret, tokenString)
		if err != nil {
			h.logger.Warn("handshake token rejected", zap.Error(err))
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		userID = claims.UserID
	} else {
		userID = r.URL.Query().Get("user_id")
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	s := newSession(h, conn, userID)
	h.register <- s

	go s.writePump()
	go s.readPump()
}
