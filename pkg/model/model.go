package model

import "time"

type ChannelType string

const (
	ChannelDirect ChannelType = "direct"
	ChannelGroup  ChannelType = "group"
)

type PresenceStatus string

const (
	StatusOnline  PresenceStatus = "online"
	StatusOffline PresenceStatus = "offline"
)

type MessageStatus string

const (
	MessageDraft  MessageStatus = "draft"
	MessageSent   MessageStatus = "sent"
	MessageFailed MessageStatus = "failed"
)

type User struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Channel struct {
	ID        string      `json:"id"`
	Type      ChannelType `json:"type"`
	CreatedAt time.Time   `json:"created_at"`
}

type Membership struct {
	ChannelID string    `json:"channel_id"`
	UserID    string    `json:"user_id"`
	JoinedAt  time.Time `json:"joined_at"`
}

// Message is the persisted record for a channel message. Seq is unique and
// monotonically increasing within a channel, starting at 1.
type Message struct {
	ID              string        `json:"id"`
	ChannelID       string        `json:"channel_id"`
	SenderID        string        `json:"sender_id"`
	Body            string        `json:"body"`
	CreatedAt       time.Time     `json:"created_at"`
	Seq             int64         `json:"seq"`
	ClientMessageID string        `json:"client_message_id,omitempty"`
	Status          MessageStatus `json:"status,omitempty"`
}

// Presence is last-write-wins: at most one record per user.
type Presence struct {
	UserID      string         `json:"user_id"`
	Status      PresenceStatus `json:"status"`
	LastEventAt time.Time      `json:"last_event_at"`
}
