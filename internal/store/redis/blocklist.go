package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Store handles Redis operations for the blocklist and sessions.
type Store struct {
	client *redis.Client
}

// NewStore creates a new Redis store.
func NewStore(client *redis.Client) *Store {
	return &Store{
		client: client,
	}
}

// Append adds one blocked address to the end of the persisted list.
// The gateway only ever appends; the management layer rewrites the
// list wholesale when an operator unblocks someone.
func (s *Store) Append(ctx context.Context, addr string) error {
	if err := s.client.RPush(ctx, blocklistKey, addr).Err(); err != nil {
		return fmt.Errorf("failed to append to blocklist: %w", err)
	}
	return nil
}

// Blocklist returns every persisted blocked address, in insertion
// order. Called once at startup to seed the in-memory set.
func (s *Store) Blocklist(ctx context.Context) ([]string, error) {
	addrs, err := s.client.LRange(ctx, blocklistKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load blocklist: %w", err)
	}
	return addrs, nil
}
