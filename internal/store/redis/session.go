package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrSessionNotFound marks an expired or unknown session ID.
var ErrSessionNotFound = errors.New("session not found")

// SaveSession stores a session ID -> username mapping with a TTL.
func (s *Store) SaveSession(ctx context.Context, id, username string, ttl time.Duration) error {
	if err := s.client.Set(ctx, SessionKey(id), username, ttl).Err(); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// GetSession resolves a session ID to its username.
func (s *Store) GetSession(ctx context.Context, id string) (string, error) {
	username, err := s.client.Get(ctx, SessionKey(id)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrSessionNotFound
		}
		return "", fmt.Errorf("failed to get session: %w", err)
	}
	return username, nil
}

// DeleteSession removes a session (logout).
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, SessionKey(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}
