// Package chat enforces the channel and message rules: membership counts per
// channel type, message size, and the ordering of storage writes against
// event publication. Storage always commits before the matching event goes
// out, so a storage failure publishes nothing.
package chat

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/mahaj/chatcore/pkg/bus"
	"github.com/mahaj/chatcore/pkg/metrics"
	"github.com/mahaj/chatcore/pkg/model"
	"github.com/mahaj/chatcore/pkg/storage"
)

const (
	// DirectMembers is the fixed membership of a direct channel.
	DirectMembers = 2
	// MaxGroupMembers caps group membership, at creation and on every join.
	MaxGroupMembers = 50
	// MaxBodyBytes is the longest accepted message body.
	MaxBodyBytes = 1000
)

type Coordinator struct {
	store  storage.Store
	bus    bus.Publisher
	logger *zap.Logger
}

func NewCoordinator(store storage.Store, publisher bus.Publisher, logger *zap.Logger) *Coordinator {
	return &Coordinator{store: store, bus: publisher, logger: logger}
}

func (c *Coordinator) CreateChannel(ctx context.Context, channelType model.ChannelType, memberIDs []string) (model.Channel, error) {
	switch channelType {
	case model.ChannelDirect:
		if len(memberIDs) != DirectMembers || !allDistinct(memberIDs) {
			return model.Channel{}, &ValidationError{Reason: "direct channel must have exactly 2 distinct members"}
		}
	case model.ChannelGroup:
		if len(memberIDs) > MaxGroupMembers {
			return model.Channel{}, &ValidationError{Reason: fmt.Sprintf("group channel max %d members", MaxGroupMembers)}
		}
	default:
		return model.Channel{}, &ValidationError{Reason: "unknown channel type"}
	}

	ch, err := c.store.CreateChannel(ctx, channelType, memberIDs)
	if err != nil {
		return model.Channel{}, err
	}

	c.bus.Publish(ctx, bus.TopicChannelCreated, bus.ChannelCreated{
		ChannelID: ch.ID,
		MemberIDs: memberIDs,
		CreatedAt: ch.CreatedAt,
	})
	c.logger.Info("channel created",
		zap.String("channel_id", ch.ID), zap.String("type", string(ch.Type)), zap.Int("members", len(memberIDs)))
	return ch, nil
}

// JoinChannel is idempotent: joining a channel the user already belongs to is
// not an error and does not duplicate the membership.
func (c *Coordinator) JoinChannel(ctx context.Context, channelID, userID string) error {
	ch, err := c.store.GetChannel(ctx, channelID)
	if err != nil {
		return err
	}
	members, err := c.store.ListMembers(ctx, channelID)
	if err != nil {
		return err
	}

	if !contains(members, userID) {
		switch ch.Type {
		case model.ChannelDirect:
			return &ValidationError{Reason: "direct channel membership is fixed"}
		case model.ChannelGroup:
			if len(members) >= MaxGroupMembers {
				return &ValidationError{Reason: "group channel is full"}
			}
		}
	}

	if err := c.store.AddMembership(ctx, channelID, userID); err != nil {
		return err
	}
	c.bus.Publish(ctx, bus.TopicMemberJoined, bus.MemberJoined{ChannelID: channelID, UserID: userID})
	return nil
}

// LeaveChannel removes a membership. Direct channels refuse leave: their
// membership is fixed at two for the channel's lifetime.
func (c *Coordinator) LeaveChannel(ctx context.Context, channelID, userID string) error {
	ch, err := c.store.GetChannel(ctx, channelID)
	if err != nil {
		return err
	}
	if ch.Type == model.ChannelDirect {
		return &ValidationError{Reason: "cannot leave a direct channel"}
	}

	if err := c.store.RemoveMembership(ctx, channelID, userID); err != nil {
		return err
	}
	c.bus.Publish(ctx, bus.TopicMemberLeft, bus.MemberLeft{ChannelID: channelID, UserID: userID})
	return nil
}

// SendMessage persists a message through the active storage strategy and
// returns the authoritative record, post-dedup. Callers fan out this return
// value rather than re-fetching, so fanout reflects exactly what was stored.
func (c *Coordinator) SendMessage(ctx context.Context, channelID, senderID, body, clientMessageID string) (model.Message, error) {
	if len(body) > MaxBodyBytes {
		return model.Message{}, &ValidationError{Reason: fmt.Sprintf("message body exceeds %d bytes", MaxBodyBytes)}
	}

	msg, err := c.store.SaveMessage(ctx, storage.SaveMessageInput{
		ChannelID:       channelID,
		SenderID:        senderID,
		Body:            body,
		ClientMessageID: clientMessageID,
	})
	if err != nil {
		return model.Message{}, err
	}
	metrics.MessagesAccepted.Inc()

	c.bus.Publish(ctx, bus.TopicMessageSent, bus.MessageSent{
		MessageID: msg.ID,
		ChannelID: msg.ChannelID,
		SenderID:  msg.SenderID,
		Body:      msg.Body,
		CreatedAt: msg.CreatedAt,
		Seq:       msg.Seq,
	})
	return msg, nil
}

func (c *Coordinator) ListMembers(ctx context.Context, channelID string) ([]string, error) {
	return c.store.ListMembers(ctx, channelID)
}

func (c *Coordinator) ListMessages(ctx context.Context, channelID string, limit int) ([]model.Message, error) {
	return c.store.ListMessages(ctx, channelID, limit)
}

func (c *Coordinator) GetUser(ctx context.Context, userID string) (model.User, error) {
	return c.store.GetUser(ctx, userID)
}

func allDistinct(ids []string) bool {
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			return false
		}
		seen[id] = struct{}{}
	}
	return true
}

func contains(ids []string, id string) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}
