package bus

import (
	"time"

	"github.com/mahaj/chatcore/pkg/model"
)

// Topics produced by the core. The bus is write-only from this service's
// point of view.
const (
	TopicChannelCreated  = "channel.created"
	TopicMemberJoined    = "channel.member.joined"
	TopicMemberLeft      = "channel.member.left"
	TopicMessageSent     = "message.sent"
	TopicPresenceUpdated = "presence.updated"
)

type ChannelCreated struct {
	ChannelID string    `json:"channel_id"`
	MemberIDs []string  `json:"member_ids"`
	CreatedAt time.Time `json:"created_at"`
}

type MemberJoined struct {
	ChannelID string `json:"channel_id"`
	UserID    string `json:"user_id"`
}

type MemberLeft struct {
	ChannelID string `json:"channel_id"`
	UserID    string `json:"user_id"`
}

type MessageSent struct {
	MessageID string    `json:"message_id"`
	ChannelID string    `json:"channel_id"`
	SenderID  string    `json:"sender_id"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
	Seq       int64     `json:"seq"`
}

type PresenceUpdated struct {
	UserID      string               `json:"user_id"`
	Status      model.PresenceStatus `json:"status"`
	LastEventAt time.Time            `json:"last_event_at"`
}
