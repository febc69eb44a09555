package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"botflow/internal/core/domain"
	"botflow/internal/core/ports"
)

var _ ports.SessionStore = (*RedisSessionStore)(nil)

// RedisSessionStore keeps one JSON document per chat. Sessions never expire.
type RedisSessionStore struct {
	client redis.UniversalClient
}

// NewRedisSessionStore creates a Redis-backed session store
func NewRedisSessionStore(client redis.UniversalClient) *RedisSessionStore {
	return &RedisSessionStore{client: client}
}

// Get implements ports.SessionStore
func (s *RedisSessionStore) Get(ctx context.Context, botID, chatID string) (*domain.Session, error) {
	raw, err := s.client.Get(ctx, buildSessionKey(botID, chatID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}

	var session domain.Session
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, fmt.Errorf("decode session %s/%s: %w", botID, chatID, err)
	}
	session.EnsureDefaults()
	return &session, nil
}

// Put implements ports.SessionStore
func (s *RedisSessionStore) Put(ctx context.Context, session *domain.Session) error {
	raw, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := s.client.Set(ctx, buildSessionKey(session.BotID, session.ChatID), raw, 0).Err(); err != nil {
		return fmt.Errorf("put session: %w", err)
	}
	return nil
}

// Clear implements ports.SessionStore
func (s *RedisSessionStore) Clear(ctx context.Context, botID, chatID string) error {
	if err := s.client.Del(ctx, buildSessionKey(botID, chatID)).Err(); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

// buildSessionKey: session:{botId}:{chatId}
func buildSessionKey(botID, chatID string) string {
	return fmt.Sprintf("session:%s:%s", botID, chatID)
}
