// Package scylla implements the storage contract on ScyllaDB.
//
// Seq assignment reads the current per-channel maximum and inserts with
// IF NOT EXISTS on the (channel_id, seq) primary key; a losing writer sees an
// unapplied insert and retries with a fresh read. Idempotency uses a dedup
// table keyed by (channel_id, client_message_id), written alongside the
// message and consulted before any seq is allocated.
package scylla

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mahaj/chatcore/pkg/metrics"
	"github.com/mahaj/chatcore/pkg/model"
	"github.com/mahaj/chatcore/pkg/snowflake"
	"github.com/mahaj/chatcore/pkg/storage"
)

// seqRetries bounds how often a writer re-reads the channel maximum after
// losing the (channel_id, seq) insert race.
const seqRetries = 5

type Store struct {
	session *gocql.Session
	ids     *snowflake.Node
	logger  *zap.Logger
}

func New(hosts []string, keyspace string, ids *snowflake.Node, logger *zap.Logger) (*Store, error) {
	session, err := NewSession(hosts, keyspace)
	if err != nil {
		return nil, fmt.Errorf("connect scylla: %w", err)
	}
	logger.Info("connected to scylla", zap.Strings("hosts", hosts), zap.String("keyspace", keyspace))
	return &Store{session: session, ids: ids, logger: logger}, nil
}

func (s *Store) Close() {
	s.session.Close()
}

func (s *Store) CreateChannel(ctx context.Context, channelType model.ChannelType, memberIDs []string) (model.Channel, error) {
	ch := model.Channel{
		ID:        uuid.NewString(),
		Type:      channelType,
		CreatedAt: time.Now().UTC(),
	}

	// Channel row and initial memberships land as one logged batch so the
	// caller never observes a channel without its members.
	batch := s.session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	batch.Query(`INSERT INTO channels (id, type, created_at) VALUES (?, ?, ?)`,
		ch.ID, string(ch.Type), ch.CreatedAt)
	for _, userID := range memberIDs {
		batch.Query(`INSERT INTO memberships (channel_id, user_id, joined_at) VALUES (?, ?, ?)`,
			ch.ID, userID, ch.CreatedAt)
	}
	if err := s.session.ExecuteBatch(batch); err != nil {
		return model.Channel{}, fmt.Errorf("create channel: %w", err)
	}
	return ch, nil
}

func (s *Store) GetChannel(ctx context.Context, channelID string) (model.Channel, error) {
	var ch model.Channel
	var channelType string
	err := s.session.Query(`SELECT id, type, created_at FROM channels WHERE id = ?`, channelID).
		WithContext(ctx).Scan(&ch.ID, &channelType, &ch.CreatedAt)
	if errors.Is(err, gocql.ErrNotFound) {
		return model.Channel{}, storage.ErrNotFound
	}
	if err != nil {
		return model.Channel{}, fmt.Errorf("get channel: %w", err)
	}
	ch.Type = model.ChannelType(channelType)
	return ch, nil
}

func (s *Store) AddMembership(ctx context.Context, channelID, userID string) error {
	// IF NOT EXISTS keeps joined_at stable when a user joins twice.
	_, err := s.session.Query(
		`INSERT INTO memberships (channel_id, user_id, joined_at) VALUES (?, ?, ?) IF NOT EXISTS`,
		channelID, userID, time.Now().UTC()).
		WithContext(ctx).MapScanCAS(map[string]interface{}{})
	if err != nil {
		return fmt.Errorf("add membership: %w", err)
	}
	return nil
}

func (s *Store) RemoveMembership(ctx context.Context, channelID, userID string) error {
	applied, err := s.session.Query(
		`DELETE FROM memberships WHERE channel_id = ? AND user_id = ? IF EXISTS`,
		channelID, userID).
		WithContext(ctx).MapScanCAS(map[string]interface{}{})
	if err != nil {
		return fmt.Errorf("remove membership: %w", err)
	}
	if !applied {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) ListMembers(ctx context.Context, channelID string) ([]string, error) {
	iter := s.session.Query(`SELECT user_id FROM memberships WHERE channel_id = ?`, channelID).
		WithContext(ctx).Iter()

	var members []string
	var userID string
	for iter.Scan(&userID) {
		members = append(members, userID)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	return members, nil
}

func (s *Store) SaveMessage(ctx context.Context, in storage.SaveMessageInput) (model.Message, error) {
	if stored, ok, err := s.dedupLookup(ctx, in.ChannelID, in.ClientMessageID); err != nil {
		return model.Message{}, err
	} else if ok {
		metrics.MessagesDeduplicated.Inc()
		return stored, nil
	}

	msg := model.Message{
		ID:              s.ids.GenerateString(),
		ChannelID:       in.ChannelID,
		SenderID:        in.SenderID,
		Body:            in.Body,
		ClientMessageID: in.ClientMessageID,
		Status:          model.MessageSent,
	}

	for attempt := 0; attempt < seqRetries; attempt++ {
		var maxSeq int64
		err := s.session.Query(`SELECT max(seq) FROM messages WHERE channel_id = ?`, in.ChannelID).
			WithContext(ctx).Scan(&maxSeq)
		if err != nil && !errors.Is(err, gocql.ErrNotFound) {
			return model.Message{}, fmt.Errorf("read max seq: %w", err)
		}

		msg.Seq = maxSeq + 1
		msg.CreatedAt = time.Now().UTC()

		applied, err := s.session.Query(
			`INSERT INTO messages (channel_id, seq, id, sender_id, body, client_message_id, status, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?) IF NOT EXISTS`,
			msg.ChannelID, msg.Seq, msg.ID, msg.SenderID, msg.Body, msg.ClientMessageID, string(msg.Status), msg.CreatedAt).
			WithContext(ctx).MapScanCAS(map[string]interface{}{})
		if err != nil {
			return model.Message{}, fmt.Errorf("insert message: %w", err)
		}
		if !applied {
			// Lost the seq race to a concurrent writer; re-read and retry.
			continue
		}

		if in.ClientMessageID != "" {
			if err := s.session.Query(
				`INSERT INTO message_dedup (channel_id, client_message_id, id, sender_id, body, seq, status, created_at)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				msg.ChannelID, in.ClientMessageID, msg.ID, msg.SenderID, msg.Body, msg.Seq, string(msg.Status), msg.CreatedAt).
				WithContext(ctx).Exec(); err != nil {
				return model.Message{}, fmt.Errorf("insert dedup record: %w", err)
			}
		}
		return msg, nil
	}
	return model.Message{}, fmt.Errorf("save message: seq contention on channel %s", in.ChannelID)
}

func (s *Store) dedupLookup(ctx context.Context, channelID, clientMessageID string) (model.Message, bool, error) {
	if clientMessageID == "" {
		return model.Message{}, false, nil
	}
	msg := model.Message{ChannelID: channelID, ClientMessageID: clientMessageID}
	var status string
	err := s.session.Query(
		`SELECT id, sender_id, body, seq, status, created_at FROM message_dedup
		 WHERE channel_id = ? AND client_message_id = ?`,
		channelID, clientMessageID).
		WithContext(ctx).Scan(&msg.ID, &msg.SenderID, &msg.Body, &msg.Seq, &status, &msg.CreatedAt)
	if errors.Is(err, gocql.ErrNotFound) {
		return model.Message{}, false, nil
	}
	if err != nil {
		return model.Message{}, false, fmt.Errorf("dedup lookup: %w", err)
	}
	msg.Status = model.MessageStatus(status)
	return msg, true, nil
}

func (s *Store) ListMessages(ctx context.Context, channelID string, limit int) ([]model.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	// Clustering order is seq DESC, so this reads newest first.
	iter := s.session.Query(
		`SELECT id, channel_id, seq, sender_id, body, client_message_id, status, created_at
		 FROM messages WHERE channel_id = ? LIMIT ?`, channelID, limit).
		WithContext(ctx).Iter()

	var messages []model.Message
	var msg model.Message
	var status string
	for iter.Scan(&msg.ID, &msg.ChannelID, &msg.Seq, &msg.SenderID, &msg.Body, &msg.ClientMessageID, &status, &msg.CreatedAt) {
		msg.Status = model.MessageStatus(status)
		messages = append(messages, msg)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return messages, nil
}

func (s *Store) UpsertPresence(ctx context.Context, userID string, status model.PresenceStatus, at time.Time) error {
	if err := s.session.Query(
		`INSERT INTO presence (user_id, status, last_event_at) VALUES (?, ?, ?)`,
		userID, string(status), at).
		WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("upsert presence: %w", err)
	}
	return nil
}

func (s *Store) GetPresence(ctx context.Context, userID string) (model.Presence, error) {
	p := model.Presence{UserID: userID}
	var status string
	err := s.session.Query(`SELECT status, last_event_at FROM presence WHERE user_id = ?`, userID).
		WithContext(ctx).Scan(&status, &p.LastEventAt)
	if errors.Is(err, gocql.ErrNotFound) {
		return model.Presence{}, storage.ErrNotFound
	}
	if err != nil {
		return model.Presence{}, fmt.Errorf("get presence: %w", err)
	}
	p.Status = model.PresenceStatus(status)
	return p, nil
}

func (s *Store) GetUser(ctx context.Context, userID string) (model.User, error) {
	var u model.User
	err := s.session.Query(`SELECT id, name FROM users WHERE id = ?`, userID).
		WithContext(ctx).Scan(&u.ID, &u.Name)
	if errors.Is(err, gocql.ErrNotFound) {
		return model.User{}, storage.ErrNotFound
	}
	if err != nil {
		return model.User{}, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}
