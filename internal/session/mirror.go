package session

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const mirrorKeyPrefix = "session:"

// RedisMirror replicates session documents to Redis. It is a replica only:
// nothing is ever read back from it during normal operation, and a divergent
// copy is resolved by the next local write (last-write-wins via the embedded
// savedAt timestamp).
type RedisMirror struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisMirror connects to the Redis at url and verifies the connection.
func NewRedisMirror(ctx context.Context, url string, ttl time.Duration) (*RedisMirror, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return &RedisMirror{client: client, ttl: ttl}, nil
}

// Replicate stores the serialized document under session:<id> with the
// freshness window as TTL, so the replica ages out with the local copy.
func (m *RedisMirror) Replicate(ctx context.Context, sessionID string, doc []byte) error {
	if sessionID == "" {
		return nil
	}
	return m.client.Set(ctx, mirrorKeyPrefix+sessionID, doc, m.ttl).Err()
}

// Fetch reads a replicated document, used by the status command when the
// local file is gone.
func (m *RedisMirror) Fetch(ctx context.Context, sessionID string) ([]byte, error) {
	data, err := m.client.Get(ctx, mirrorKeyPrefix+sessionID).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("no replica for session %s", sessionID)
	}
	return data, err
}

func (m *RedisMirror) Close() error {
	return m.client.Close()
}
