package gateway

import (
	"encoding/json"
	"time"

	"github.com/mahaj/chatcore/pkg/model"
)

// Command is the inbound envelope. The command set is closed; anything else
// yields an error event with reason unknown_command.
type Command struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Event is the outbound envelope.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

const (
	CmdCreateChannel = "create_channel"
	CmdSendMessage   = "send_message"
	CmdJoinChannel   = "join_channel"
	CmdLeaveChannel  = "leave_channel"
	CmdHeartbeat     = "heartbeat"
)

const (
	EvtChannelCreated  = "channel_created"
	EvtMessageSent     = "message_sent"
	EvtMessageReceived = "message_received"
	EvtChannelJoined   = "channel_joined"
	EvtChannelLeft     = "channel_left"
	EvtPresenceUpdated = "presence_updated"
	EvtError           = "error"
)

const (
	ReasonUnknownCommand  = "unknown_command"
	ReasonMissingUser     = "missing_user"
	ReasonInvalidEnvelope = "invalid_envelope"
	ReasonInvalidPayload  = "invalid_payload"
	ReasonNotFound        = "not_found"
	ReasonInternalError   = "internal_error"
)

type CreateChannelPayload struct {
	ChannelType model.ChannelType `json:"channel_type"`
	MemberIDs   []string          `json:"member_ids"`
}

type SendMessagePayload struct {
	ChannelID       string `json:"channel_id"`
	Body            string `json:"body"`
	ClientMessageID string `json:"client_message_id"`
}

// ChannelRefPayload is shared by join_channel and leave_channel commands and
// their channel_joined / channel_left acknowledgments.
type ChannelRefPayload struct {
	ChannelID string `json:"channel_id"`
}

type HeartbeatPayload struct {
	UserID string               `json:"user_id"`
	Status model.PresenceStatus `json:"status"`
}

type ChannelCreatedPayload struct {
	ChannelID string    `json:"channel_id"`
	CreatedAt time.Time `json:"created_at"`
}

type PresencePayload struct {
	UserID      string               `json:"user_id"`
	Status      model.PresenceStatus `json:"status"`
	LastEventAt time.Time            `json:"last_event_at"`
}

type ErrorPayload struct {
	Reason string `json:"reason"`
}

func errorEvent(reason string) Event {
	return Event{Type: EvtError, Payload: ErrorPayload{Reason: reason}}
}
