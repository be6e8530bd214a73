package token

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Session is the admin-controlled state behind one generated QR code:
// the current token plus the policy knobs the admin picked when starting it.
// Exactly one session is current at a time; starting a new one supersedes
// the previous.
type Session struct {
	TokenValue       string    `json:"token_value"`
	IssuedAt         time.Time `json:"issued_at"`
	Scope            string    `json:"scope"`
	LocationRequired bool      `json:"location_required"`
}

// ErrNoSession is returned when no QR session has been started.
var ErrNoSession = errors.New("no active qr session")

const sessionKey = "qattend:session:current"

// SessionStore keeps the current session in Redis so every API instance and
// the worker see the same one.
type SessionStore struct {
	client *redis.Client
}

// NewSessionStore wraps a redis client.
func NewSessionStore(client *redis.Client) *SessionStore {
	return &SessionStore{client: client}
}

// Start replaces the current session.
func (s *SessionStore) Start(ctx context.Context, sess Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, sessionKey, data, 0).Err()
}

// Current returns the current session, ErrNoSession when none was started.
func (s *SessionStore) Current(ctx context.Context) (Session, error) {
	data, err := s.client.Get(ctx, sessionKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Session{}, ErrNoSession
		}
		return Session{}, err
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return Session{}, err
	}
	return sess, nil
}

// Clear removes the current session.
func (s *SessionStore) Clear(ctx context.Context) error {
	return s.client.Del(ctx, sessionKey).Err()
}
