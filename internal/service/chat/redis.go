package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/companion-chat/internal/model/chat"
)

// RedisStore 将会话保存在 Redis 中：会话为 JSON 字符串，消息为 JSON 列表。
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger zerolog.Logger
}

// NewRedisStore 创建 Redis 存储；ttl<=0 表示不过期。
func NewRedisStore(client *redis.Client, prefix string, ttl time.Duration, logger zerolog.Logger) *RedisStore {
	if prefix == "" {
		prefix = "companion-chat"
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		logger: logger.With().Str("component", "redis_store").Logger(),
	}
}

func (s *RedisStore) sessionKey(id int) string {
	return s.prefix + ":session:" + strconv.Itoa(id)
}

func (s *RedisStore) messagesKey(id int) string {
	return s.prefix + ":messages:" + strconv.Itoa(id)
}

func (s *RedisStore) seqKey(name string) string {
	return s.prefix + ":seq:" + name
}

// Ping checks if Redis is accessible.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// CreateSession provisions a session bound to a companion.
func (s *RedisStore) CreateSession(ctx context.Context, companionID int, userID string) (chat.Session, error) {
	if companionID <= 0 {
		return chat.Session{}, ErrCompanionRequired
	}

	id, err := s.client.Incr(ctx, s.seqKey("sessions")).Result()
	if err != nil {
		return chat.Session{}, fmt.Errorf("allocate session id: %w", err)
	}

	session := chat.Session{
		ID:          int(id),
		CompanionID: companionID,
		UserID:      userID,
		CreatedAt:   time.Now().UTC(),
	}
	data, err := json.Marshal(session)
	if err != nil {
		return chat.Session{}, err
	}

	if err := s.client.Set(ctx, s.sessionKey(session.ID), data, s.ttl).Err(); err != nil {
		s.logger.Error().Err(err).Int("session_id", session.ID).Msg("redis SET session failed")
		return chat.Session{}, fmt.Errorf("store session: %w", err)
	}
	return session, nil
}

// GetSession retrieves a session by identifier.
func (s *RedisStore) GetSession(ctx context.Context, sessionID int) (chat.Session, error) {
	data, err := s.client.Get(ctx, s.sessionKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return chat.Session{}, ErrSessionNotFound
	}
	if err != nil {
		return chat.Session{}, fmt.Errorf("load session: %w", err)
	}

	var session chat.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return chat.Session{}, fmt.Errorf("decode session %d: %w", sessionID, err)
	}
	return session, nil
}

// SaveMessage appends a message to the session history and refreshes the expiry.
func (s *RedisStore) SaveMessage(ctx context.Context, message chat.Message) (chat.Message, error) {
	if err := s.ensureSession(ctx, message.SessionID); err != nil {
		return chat.Message{}, err
	}

	id, err := s.client.Incr(ctx, s.seqKey("messages")).Result()
	if err != nil {
		return chat.Message{}, fmt.Errorf("allocate message id: %w", err)
	}
	message.ID = id
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now().UTC()
	}

	data, err := json.Marshal(message)
	if err != nil {
		return chat.Message{}, err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		key := s.messagesKey(message.SessionID)
		pipe.RPush(ctx, key, data)
		if s.ttl > 0 {
			pipe.Expire(ctx, key, s.ttl)
			pipe.Expire(ctx, s.sessionKey(message.SessionID), s.ttl)
		}
		return nil
	})
	if err != nil {
		s.logger.Error().Err(err).Int("session_id", message.SessionID).Msg("redis RPUSH message failed")
		return chat.Message{}, fmt.Errorf("store message: %w", err)
	}
	return message, nil
}

// LoadTranscript returns stored messages for the provided session.
func (s *RedisStore) LoadTranscript(ctx context.Context, sessionID int, limit int) ([]chat.Message, error) {
	if err := s.ensureSession(ctx, sessionID); err != nil {
		return nil, err
	}

	start := int64(0)
	if limit > 0 {
		start = int64(-limit)
	}
	items, err := s.client.LRange(ctx, s.messagesKey(sessionID), start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("load transcript: %w", err)
	}

	messages := make([]chat.Message, 0, len(items))
	for _, item := range items {
		var msg chat.Message
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			s.logger.Warn().Err(err).Int("session_id", sessionID).Msg("skip undecodable message")
			continue
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

func (s *RedisStore) ensureSession(ctx context.Context, sessionID int) error {
	n, err := s.client.Exists(ctx, s.sessionKey(sessionID)).Result()
	if err != nil {
		return fmt.Errorf("check session: %w", err)
	}
	if n == 0 {
		return ErrSessionNotFound
	}
	return nil
}
