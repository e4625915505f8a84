// Package storage defines the persistence contract shared by the chat
// coordinator, the presence tracker and the storage backends.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/mahaj/chatcore/pkg/model"
)

// ErrNotFound is returned when a channel, membership, presence record or user
// does not exist.
var ErrNotFound = errors.New("not found")

// SaveMessageInput carries everything a backend needs to assign a seq and
// persist a message. ClientMessageID is the idempotency key: resubmitting the
// same (ChannelID, ClientMessageID) pair must return the originally stored
// record without allocating a new seq.
type SaveMessageInput struct {
	ChannelID       string
	SenderID        string
	Body            string
	ClientMessageID string
}

type Store interface {
	CreateChannel(ctx context.Context, channelType model.ChannelType, memberIDs []string) (model.Channel, error)
	GetChannel(ctx context.Context, channelID string) (model.Channel, error)
	AddMembership(ctx context.Context, channelID, userID string) error
	RemoveMembership(ctx context.Context, channelID, userID string) error
	ListMembers(ctx context.Context, channelID string) ([]string, error)
	SaveMessage(ctx context.Context, in SaveMessageInput) (model.Message, error)
	ListMessages(ctx context.Context, channelID string, limit int) ([]model.Message, error)
	UpsertPresence(ctx context.Context, userID string, status model.PresenceStatus, at time.Time) error
	GetPresence(ctx context.Context, userID string) (model.Presence, error)
	GetUser(ctx context.Context, userID string) (model.User, error)
}
