package dialogue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/google/uuid"

	apperrors "github.com/acme/outbound-survey/pkg/errors"
)

// SessionStore persists live sessions between turns.
type SessionStore interface {
	Save(ctx context.Context, s *Session) error
	Load(ctx context.Context, callID uuid.UUID) (*Session, error)
	Delete(ctx context.Context, callID uuid.UUID) error
}

// RedisSessionStore keeps sessions in Redis with a TTL covering the longest
// possible call plus webhook lag.
type RedisSessionStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisSessionStore constructs the store. The TTL is derived from the call
// timeout; sessions for calls that never terminate cleanly expire on their own.
func NewRedisSessionStore(client *redis.Client, callTimeout time.Duration) *RedisSessionStore {
	ttl := callTimeout * 4
	if ttl < time.Minute {
		ttl = time.Minute
	}
	return &RedisSessionStore{client: client, ttl: ttl}
}

func sessionKey(callID uuid.UUID) string {
	return "dialogue:session:" + callID.String()
}

func (s *RedisSessionStore) Save(ctx context.Context, sess *Session) error {
	buf, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("dialogue: marshal session: %w", err)
	}
	if err := s.client.Set(ctx, sessionKey(sess.CallID), buf, s.ttl).Err(); err != nil {
		return fmt.Errorf("%w: dialogue: save session: %v", apperrors.ErrUnavailable, err)
	}
	return nil
}

func (s *RedisSessionStore) Load(ctx context.Context, callID uuid.UUID) (*Session, error) {
	buf, err := s.client.Get(ctx, sessionKey(callID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: dialogue session %s", apperrors.ErrNotFound, callID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: dialogue: load session: %v", apperrors.ErrUnavailable, err)
	}

	sess := new(Session)
	if err := json.Unmarshal(buf, sess); err != nil {
		return nil, fmt.Errorf("dialogue: decode session %s: %w", callID, err)
	}
	return sess, nil
}

func (s *RedisSessionStore) Delete(ctx context.Context, callID uuid.UUID) error {
	if err := s.client.Del(ctx, sessionKey(callID)).Err(); err != nil {
		return fmt.Errorf("%w: dialogue: delete session: %v", apperrors.ErrUnavailable, err)
	}
	return nil
}
