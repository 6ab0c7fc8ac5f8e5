package transfer

import (
	"context"
	"time"

	"github.com/pkg/errors"
	backend "github.com/redis/go-redis/v9"
)

// DefaultRedisKey is the key used when none is configured.
const DefaultRedisKey = "nss:transfer:nodes"

// RedisStore keeps the node blob under a single Redis key, so instances on
// different machines can share a selection.
type RedisStore struct {
	client *backend.Client
	key    string
	ttl    time.Duration
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithTTL expires the blob after ttl. Zero keeps it forever.
func WithTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) {
		s.ttl = ttl
	}
}

// WithKey sets the Redis key.
func WithKey(key string) RedisOption {
	return func(s *RedisStore) {
		if key != "" {
			s.key = key
		}
	}
}

// NewRedisStore connects to the Redis server at addr.
func NewRedisStore(addr string, opts ...RedisOption) *RedisStore {
	return NewRedisStoreFromClient(backend.NewClient(&backend.Options{Addr: addr}), opts...)
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *backend.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{client: client, key: DefaultRedisKey}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Snapshot returns the stored blob. A missing key is an empty selection.
func (s *RedisStore) Snapshot(ctx context.Context) (string, error) {
	text, err := s.client.Get(ctx, s.key).Result()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return "", nil
		}
		return "", errors.Wrapf(err, "redis get %s", s.key)
	}
	return text, nil
}

// Apply stores text, replacing any previous blob.
func (s *RedisStore) Apply(ctx context.Context, text string) error {
	if err := s.client.Set(ctx, s.key, text, s.ttl).Err(); err != nil {
		return errors.Wrapf(err, "redis set %s", s.key)
	}
	return nil
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
