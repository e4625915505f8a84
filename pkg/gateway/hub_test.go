package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mahaj/chatcore/pkg/chat"
	"github.com/mahaj/chatcore/pkg/model"
	"github.com/mahaj/chatcore/pkg/storage"
)

type fakeChat struct {
	channel   model.Channel
	createErr error
	joinErr   error
	leaveErr  error
	msg       model.Message
	sendErr   error

	joins  []string
	leaves []string
	sends  []string
}

func (f *fakeChat) CreateChannel(ctx context.Context, channelType model.ChannelType, memberIDs []string) (model.Channel, error) {
	return f.channel, f.createErr
}

func (f *fakeChat) JoinChannel(ctx context.Context, channelID, userID string) error {
	if f.joinErr != nil {
		return f.joinErr
	}
	f.joins = append(f.joins, channelID+"/"+userID)
	return nil
}

func (f *fakeChat) LeaveChannel(ctx context.Context, channelID, userID string) error {
	if f.leaveErr != nil {
		return f.leaveErr
	}
	f.leaves = append(f.leaves, channelID+"/"+userID)
	return nil
}

func (f *fakeChat) SendMessage(ctx context.Context, channelID, senderID, body, clientMessageID string) (model.Message, error) {
	if f.sendErr != nil {
		return model.Message{}, f.sendErr
	}
	f.sends = append(f.sends, channelID+"/"+senderID)
	return f.msg, nil
}

type fakePresence struct {
	heartbeats []string
	offline    []string
	err        error
}

func (f *fakePresence) Heartbeat(ctx context.Context, userID string, status model.PresenceStatus) error {
	if f.err != nil {
		return f.err
	}
	f.heartbeats = append(f.heartbeats, userID+"/"+string(status))
	return nil
}

func (f *fakePresence) MarkOffline(ctx context.Context, userID string) error {
	f.offline = append(f.offline, userID)
	return nil
}

func newTestHub(chatService ChatService, presenceService PresenceService) *Hub {
	return NewHub(chatService, presenceService, []byte("secret"), zap.NewNop())
}

func command(t *testing.T, cmdType string, payload any) []byte {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	data, err := json.Marshal(Command{Type: cmdType, Payload: raw})
	if err != nil {
		t.Fatalf("marshal command: %v", err)
	}
	return data
}

type receivedEvent struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func readEvent(t *testing.T, s *Session) receivedEvent {
	t.Helper()
	select {
	case data := <-s.send:
		var evt receivedEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			t.Fatalf("unmarshal event: %v", err)
		}
		return evt
	default:
		t.Fatal("no event queued")
		return receivedEvent{}
	}
}

func expectNoEvent(t *testing.T, s *Session) {
	t.Helper()
	select {
	case data := <-s.send:
		t.Fatalf("unexpected event: %s", data)
	default:
	}
}

func expectError(t *testing.T, s *Session, reason string) {
	t.Helper()
	evt := readEvent(t, s)
	if evt.Type != EvtError {
		t.Fatalf("expected error event, got %q", evt.Type)
	}
	var p ErrorPayload
	if err := json.Unmarshal(evt.Payload, &p); err != nil {
		t.Fatalf("unmarshal error payload: %v", err)
	}
	if p.Reason != reason {
		t.Fatalf("expected reason %q, got %q", reason, p.Reason)
	}
}

func TestDispatchUnknownCommand(t *testing.T) {
	h := newTestHub(&fakeChat{}, &fakePresence{})
	s := newSession(h, nil, "u1")
	h.addSession(s)

	h.dispatch(context.Background(), s, command(t, "typing", struct{}{}))
	expectError(t, s, ReasonUnknownCommand)
}

func TestDispatchInvalidEnvelope(t *testing.T) {
	h := newTestHub(&fakeChat{}, &fakePresence{})
	s := newSession(h, nil, "u1")
	h.addSession(s)

	h.dispatch(context.Background(), s, []byte("not json"))
	expectError(t, s, ReasonInvalidEnvelope)
}

func TestCommandsRequireIdentity(t *testing.T) {
	for _, cmdType := range []string{CmdSendMessage, CmdJoinChannel, CmdLeaveChannel} {
		t.Run(cmdType, func(t *testing.T) {
			h := newTestHub(&fakeChat{}, &fakePresence{})
			s := newSession(h, nil, "")
			h.addSession(s)

			h.dispatch(context.Background(), s, command(t, cmdType, ChannelRefPayload{ChannelID: "C"}))
			expectError(t, s, ReasonMissingUser)
		})
	}
}

func TestCreateChannelAck(t *testing.T) {
	created := model.Channel{ID: "C", Type: model.ChannelDirect, CreatedAt: time.Now().UTC()}
	h := newTestHub(&fakeChat{channel: created}, &fakePresence{})
	s := newSession(h, nil, "")
	h.addSession(s)

	h.dispatch(context.Background(), s, command(t, CmdCreateChannel, CreateChannelPayload{
		ChannelType: model.ChannelDirect,
		MemberIDs:   []string{"u1", "u2"},
	}))

	evt := readEvent(t, s)
	if evt.Type != EvtChannelCreated {
		t.Fatalf("expected channel_created, got %q", evt.Type)
	}
	var p ChannelCreatedPayload
	if err := json.Unmarshal(evt.Payload, &p); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if p.ChannelID != "C" {
		t.Fatalf("expected channel id C, got %q", p.ChannelID)
	}
}

func TestValidationErrorSurfacesReason(t *testing.T) {
	h := newTestHub(&fakeChat{createErr: &chat.ValidationError{Reason: "direct channel must have exactly 2 distinct members"}}, &fakePresence{})
	s := newSession(h, nil, "u1")
	h.addSession(s)

	h.dispatch(context.Background(), s, command(t, CmdCreateChannel, CreateChannelPayload{ChannelType: model.ChannelDirect}))
	expectError(t, s, "direct channel must have exactly 2 distinct members")
}

func TestJoinChannelEntersRoom(t *testing.T) {
	fc := &fakeChat{}
	h := newTestHub(fc, &fakePresence{})
	s := newSession(h, nil, "u1")
	h.addSession(s)

	h.dispatch(context.Background(), s, command(t, CmdJoinChannel, ChannelRefPayload{ChannelID: "C"}))

	evt := readEvent(t, s)
	if evt.Type != EvtChannelJoined {
		t.Fatalf("expected channel_joined, got %q", evt.Type)
	}
	if len(fc.joins) != 1 || fc.joins[0] != "C/u1" {
		t.Fatalf("expected join C/u1, got %v", fc.joins)
	}
	h.mu.RLock()
	inRoom := h.rooms["C"][s]
	h.mu.RUnlock()
	if !inRoom {
		t.Fatal("session must be in the channel room after join")
	}
}

func TestJoinFailureStaysOutOfRoom(t *testing.T) {
	h := newTestHub(&fakeChat{joinErr: storage.ErrNotFound}, &fakePresence{})
	s := newSession(h, nil, "u1")
	h.addSession(s)

	h.dispatch(context.Background(), s, command(t, CmdJoinChannel, ChannelRefPayload{ChannelID: "C"}))
	expectError(t, s, ReasonNotFound)

	h.mu.RLock()
	_, exists := h.rooms["C"]
	h.mu.RUnlock()
	if exists {
		t.Fatal("failed join must not mutate room membership")
	}
}

func TestLeaveChannelExitsRoom(t *testing.T) {
	h := newTestHub(&fakeChat{}, &fakePresence{})
	s := newSession(h, nil, "u1")
	h.addSession(s)
	h.joinRoom("C", s)

	h.dispatch(context.Background(), s, command(t, CmdLeaveChannel, ChannelRefPayload{ChannelID: "C"}))

	evt := readEvent(t, s)
	if evt.Type != EvtChannelLeft {
		t.Fatalf("expected channel_left, got %q", evt.Type)
	}
	h.mu.RLock()
	_, exists := h.rooms["C"]
	h.mu.RUnlock()
	if exists {
		t.Fatal("session must leave the room")
	}
}

func TestSendMessageFanout(t *testing.T) {
	stored := model.Message{
		ID:        "m1",
		ChannelID: "C",
		SenderID:  "u1",
		Body:      "hi",
		Seq:       1,
		CreatedAt: time.Now().UTC(),
	}
	h := newTestHub(&fakeChat{msg: stored}, &fakePresence{})

	sender := newSession(h, nil, "u1")
	member := newSession(h, nil, "u2")
	outsider := newSession(h, nil, "u3")
	for _, s := range []*Session{sender, member, outsider} {
		h.addSession(s)
	}
	h.joinRoom("C", sender)
	h.joinRoom("C", member)

	h.dispatch(context.Background(), sender, command(t, CmdSendMessage, SendMessagePayload{
		ChannelID:       "C",
		Body:            "hi",
		ClientMessageID: "cm1",
	}))

	ack := readEvent(t, sender)
	if ack.Type != EvtMessageSent {
		t.Fatalf("sender expects message_sent, got %q", ack.Type)
	}
	received := readEvent(t, member)
	if received.Type != EvtMessageReceived {
		t.Fatalf("room member expects message_received, got %q", received.Type)
	}

	// Both carry the identical persisted record.
	var ackMsg, recvMsg model.Message
	if err := json.Unmarshal(ack.Payload, &ackMsg); err != nil {
		t.Fatalf("unmarshal ack: %v", err)
	}
	if err := json.Unmarshal(received.Payload, &recvMsg); err != nil {
		t.Fatalf("unmarshal received: %v", err)
	}
	if ackMsg.ID != "m1" || recvMsg.ID != "m1" || ackMsg.Seq != recvMsg.Seq {
		t.Fatalf("fanout payloads diverge: %+v vs %+v", ackMsg, recvMsg)
	}

	expectNoEvent(t, outsider)
}

func TestSendMessageFailureNoFanout(t *testing.T) {
	h := newTestHub(&fakeChat{sendErr: errors.New("storage down")}, &fakePresence{})
	sender := newSession(h, nil, "u1")
	member := newSession(h, nil, "u2")
	h.addSession(sender)
	h.addSession(member)
	h.joinRoom("C", sender)
	h.joinRoom("C", member)

	h.dispatch(context.Background(), sender, command(t, CmdSendMessage, SendMessagePayload{ChannelID: "C", Body: "hi"}))

	expectError(t, sender, ReasonInternalError)
	expectNoEvent(t, member)
}

func TestHeartbeatBindsIdentityAndBroadcasts(t *testing.T) {
	fp := &fakePresence{}
	h := newTestHub(&fakeChat{}, fp)

	anon := newSession(h, nil, "")
	other := newSession(h, nil, "u2")
	h.addSession(anon)
	h.addSession(other)

	h.dispatch(context.Background(), anon, command(t, CmdHeartbeat, HeartbeatPayload{
		UserID: "u9",
		Status: model.StatusOnline,
	}))

	if anon.UserID() != "u9" {
		t.Fatalf("heartbeat must bind identity, got %q", anon.UserID())
	}
	if len(fp.heartbeats) != 1 || fp.heartbeats[0] != "u9/online" {
		t.Fatalf("expected heartbeat u9/online, got %v", fp.heartbeats)
	}

	// Presence is global: every connection hears it, room or not.
	for _, s := range []*Session{anon, other} {
		evt := readEvent(t, s)
		if evt.Type != EvtPresenceUpdated {
			t.Fatalf("expected presence_updated, got %q", evt.Type)
		}
	}
}

func TestAnonymousHeartbeatWithoutUserID(t *testing.T) {
	h := newTestHub(&fakeChat{}, &fakePresence{})
	s := newSession(h, nil, "")
	h.addSession(s)

	h.dispatch(context.Background(), s, command(t, CmdHeartbeat, HeartbeatPayload{Status: model.StatusOnline}))
	expectError(t, s, ReasonMissingUser)
}

func TestRemoveSessionMarksOfflineAndCleansRooms(t *testing.T) {
	fp := &fakePresence{}
	h := newTestHub(&fakeChat{}, fp)
	s := newSession(h, nil, "u1")
	h.addSession(s)
	h.joinRoom("C", s)

	h.removeSession(s)

	if len(fp.offline) != 1 || fp.offline[0] != "u1" {
		t.Fatalf("disconnect must mark bound user offline, got %v", fp.offline)
	}
	h.mu.RLock()
	_, roomExists := h.rooms["C"]
	sessionExists := h.sessions[s]
	h.mu.RUnlock()
	if roomExists || sessionExists {
		t.Fatal("disconnect must release rooms and session")
	}
}

func TestRemoveAnonymousSessionSkipsPresence(t *testing.T) {
	fp := &fakePresence{}
	h := newTestHub(&fakeChat{}, fp)
	s := newSession(h, nil, "")
	h.addSession(s)

	h.removeSession(s)

	if len(fp.offline) != 0 {
		t.Fatalf("anonymous disconnect must not touch presence, got %v", fp.offline)
	}
}
