// Package redisstore implements the storage contract on Redis.
//
// Seq assignment is a single INCR on a per-channel counter, race-free under
// concurrent writers. Idempotency is a dedup hash keyed by
// (channel_id, client_message_id), checked before the counter moves.
package redisstore

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mahaj/chatcore/pkg/metrics"
	"github.com/mahaj/chatcore/pkg/model"
	"github.com/mahaj/chatcore/pkg/storage"
)

type Store struct {
	rdb    *redis.Client
	logger *zap.Logger
}

func New(rdb *redis.Client, logger *zap.Logger) *Store {
	return &Store{rdb: rdb, logger: logger}
}

func channelKey(channelID string) string { return "channel:" + channelID }
func membersKey(channelID string) string { return "channel:" + channelID + ":members" }
func joinedKey(channelID string) string  { return "channel:" + channelID + ":joined" }
func seqKey(channelID string) string     { return "channel:" + channelID + ":seq" }
func messagesKey(channelID string) string {
	return "channel:" + channelID + ":messages"
}
func messageKey(channelID string, seq int64) string {
	return fmt.Sprintf("channel:%s:message:%d", channelID, seq)
}
func dedupKey(channelID, clientMessageID string) string {
	return "channel:" + channelID + ":client:" + clientMessageID
}
func userChannelsKey(userID string) string { return "user:" + userID + ":channels" }
func presenceKey(userID string) string     { return "presence:" + userID }
func userKey(userID string) string         { return "user:" + userID }

func (s *Store) CreateChannel(ctx context.Context, channelType model.ChannelType, memberIDs []string) (model.Channel, error) {
	ch := model.Channel{
		ID:        uuid.NewString(),
		Type:      channelType,
		CreatedAt: time.Now().UTC(),
	}

	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, channelKey(ch.ID), map[string]interface{}{
		"id":         ch.ID,
		"type":       string(ch.Type),
		"created_at": ch.CreatedAt.Format(time.RFC3339Nano),
	})
	for _, userID := range memberIDs {
		pipe.SAdd(ctx, membersKey(ch.ID), userID)
		pipe.HSetNX(ctx, joinedKey(ch.ID), userID, ch.CreatedAt.Format(time.RFC3339Nano))
		pipe.SAdd(ctx, userChannelsKey(userID), ch.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return model.Channel{}, fmt.Errorf("create channel: %w", err)
	}
	return ch, nil
}

func (s *Store) GetChannel(ctx context.Context, channelID string) (model.Channel, error) {
	data, err := s.rdb.HGetAll(ctx, channelKey(channelID)).Result()
	if err != nil {
		return model.Channel{}, fmt.Errorf("get channel: %w", err)
	}
	if len(data) == 0 {
		return model.Channel{}, storage.ErrNotFound
	}
	createdAt, err := time.Parse(time.RFC3339Nano, data["created_at"])
	if err != nil {
		return model.Channel{}, fmt.Errorf("get channel: parse created_at: %w", err)
	}
	return model.Channel{
		ID:        data["id"],
		Type:      model.ChannelType(data["type"]),
		CreatedAt: createdAt,
	}, nil
}

func (s *Store) AddMembership(ctx context.Context, channelID, userID string) error {
	pipe := s.rdb.TxPipeline()
	pipe.SAdd(ctx, membersKey(channelID), userID)
	pipe.HSetNX(ctx, joinedKey(channelID), userID, time.Now().UTC().Format(time.RFC3339Nano))
	pipe.SAdd(ctx, userChannelsKey(userID), channelID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("add membership: %w", err)
	}
	return nil
}

func (s *Store) RemoveMembership(ctx context.Context, channelID, userID string) error {
	removed, err := s.rdb.SRem(ctx, membersKey(channelID), userID).Result()
	if err != nil {
		return fmt.Errorf("remove membership: %w", err)
	}
	if removed == 0 {
		return storage.ErrNotFound
	}
	pipe := s.rdb.TxPipeline()
	pipe.HDel(ctx, joinedKey(channelID), userID)
	pipe.SRem(ctx, userChannelsKey(userID), channelID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("remove membership: %w", err)
	}
	return nil
}

func (s *Store) ListMembers(ctx context.Context, channelID string) ([]string, error) {
	members, err := s.rdb.SMembers(ctx, membersKey(channelID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	return members, nil
}

func (s *Store) SaveMessage(ctx context.Context, in storage.SaveMessageInput) (model.Message, error) {
	if in.ClientMessageID != "" {
		existing, err := s.rdb.HGetAll(ctx, dedupKey(in.ChannelID, in.ClientMessageID)).Result()
		if err != nil {
			return model.Message{}, fmt.Errorf("dedup lookup: %w", err)
		}
		if len(existing) > 0 {
			metrics.MessagesDeduplicated.Inc()
			return unmarshalMessage(existing)
		}
	}

	seq, err := s.rdb.Incr(ctx, seqKey(in.ChannelID)).Result()
	if err != nil {
		return model.Message{}, fmt.Errorf("increment seq: %w", err)
	}

	msg := model.Message{
		ID:              uuid.NewString(),
		ChannelID:       in.ChannelID,
		SenderID:        in.SenderID,
		Body:            in.Body,
		CreatedAt:       time.Now().UTC(),
		Seq:             seq,
		ClientMessageID: in.ClientMessageID,
		Status:          model.MessageSent,
	}
	fields := marshalMessage(msg)

	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, messageKey(msg.ChannelID, msg.Seq), fields)
	pipe.RPush(ctx, messagesKey(msg.ChannelID), messageKey(msg.ChannelID, msg.Seq))
	if in.ClientMessageID != "" {
		pipe.HSet(ctx, dedupKey(msg.ChannelID, in.ClientMessageID), fields)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return model.Message{}, fmt.Errorf("save message: %w", err)
	}
	return msg, nil
}

func (s *Store) ListMessages(ctx context.Context, channelID string, limit int) ([]model.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	// The message list is append-only, so the tail holds the newest entries.
	keys, err := s.rdb.LRange(ctx, messagesKey(channelID), int64(-limit), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	messages := make([]model.Message, 0, len(keys))
	for i := len(keys) - 1; i >= 0; i-- {
		fields, err := s.rdb.HGetAll(ctx, keys[i]).Result()
		if err != nil {
			return nil, fmt.Errorf("list messages: %w", err)
		}
		if len(fields) == 0 {
			continue
		}
		msg, err := unmarshalMessage(fields)
		if err != nil {
			s.logger.Warn("skipping malformed message record", zap.String("key", keys[i]), zap.Error(err))
			continue
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

func (s *Store) UpsertPresence(ctx context.Context, userID string, status model.PresenceStatus, at time.Time) error {
	err := s.rdb.HSet(ctx, presenceKey(userID), map[string]interface{}{
		"status":        string(status),
		"last_event_at": at.UTC().Format(time.RFC3339Nano),
	}).Err()
	if err != nil {
		return fmt.Errorf("upsert presence: %w", err)
	}
	return nil
}

func (s *Store) GetPresence(ctx context.Context, userID string) (model.Presence, error) {
	data, err := s.rdb.HGetAll(ctx, presenceKey(userID)).Result()
	if err != nil {
		return model.Presence{}, fmt.Errorf("get presence: %w", err)
	}
	if len(data) == 0 {
		return model.Presence{}, storage.ErrNotFound
	}
	lastEventAt, err := time.Parse(time.RFC3339Nano, data["last_event_at"])
	if err != nil {
		return model.Presence{}, fmt.Errorf("get presence: parse last_event_at: %w", err)
	}
	return model.Presence{
		UserID:      userID,
		Status:      model.PresenceStatus(data["status"]),
		LastEventAt: lastEventAt,
	}, nil
}

func (s *Store) GetUser(ctx context.Context, userID string) (model.User, error) {
	data, err := s.rdb.HGetAll(ctx, userKey(userID)).Result()
	if err != nil {
		return model.User{}, fmt.Errorf("get user: %w", err)
	}
	if len(data) == 0 {
		return model.User{}, storage.ErrNotFound
	}
	return model.User{ID: data["id"], Name: data["name"]}, nil
}

func marshalMessage(msg model.Message) map[string]interface{} {
	return map[string]interface{}{
		"id":                msg.ID,
		"channel_id":        msg.ChannelID,
		"sender_id":         msg.SenderID,
		"body":              msg.Body,
		"created_at":        msg.CreatedAt.Format(time.RFC3339Nano),
		"seq":               strconv.FormatInt(msg.Seq, 10),
		"client_message_id": msg.ClientMessageID,
		"status":            string(msg.Status),
	}
}

func unmarshalMessage(fields map[string]string) (model.Message, error) {
	seq, err := strconv.ParseInt(fields["seq"], 10, 64)
	if err != nil {
		return model.Message{}, fmt.Errorf("parse seq: %w", err)
	}
	createdAt, err := time.Parse(time.RFC3339Nano, fields["created_at"])
	if err != nil {
		return model.Message{}, fmt.Errorf("parse created_at: %w", err)
	}
	return model.Message{
		ID:              fields["id"],
		ChannelID:       fields["channel_id"],
		SenderID:        fields["sender_id"],
		Body:            fields["body"],
		CreatedAt:       createdAt,
		Seq:             seq,
		ClientMessageID: fields["client_message_id"],
		Status:          model.MessageStatus(fields["status"]),
	}, nil
}
