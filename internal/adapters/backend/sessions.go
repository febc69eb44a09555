package backend

import (
	"context"
	"net/http"
	"net/url"

	"botflow/internal/core/domain"
)

// SessionSource keeps sessions in the backend (GET/PUT/DELETE /sessions/{chatId}?botId=)
type SessionSource struct {
	c *Client
}

// Sessions returns the session store view of the client
func (c *Client) Sessions() *SessionSource {
	return &SessionSource{c: c}
}

func sessionPath(chatID string) string {
	return "/sessions/" + url.PathEscape(chatID)
}

// Get implements ports.SessionStore
func (s *SessionSource) Get(ctx context.Context, botID, chatID string) (*domain.Session, error) {
	var session domain.Session
	err := s.c.do(ctx, http.MethodGet, sessionPath(chatID), url.Values{"botId": {botID}}, nil, &session)
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	session.EnsureDefaults()
	return &session, nil
}

// Put implements ports.SessionStore
func (s *SessionSource) Put(ctx context.Context, session *domain.Session) error {
	q := url.Values{"botId": {session.BotID}}
	return s.c.do(ctx, http.MethodPut, sessionPath(session.ChatID), q, session, nil)
}

// Clear implements ports.SessionStore
func (s *SessionSource) Clear(ctx context.Context, botID, chatID string) error {
	err := s.c.do(ctx, http.MethodDelete, sessionPath(chatID), url.Values{"botId": {botID}}, nil, nil)
	if isNotFound(err) {
		return nil
	}
	return err
}
