package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis"

	"github.com/zhouzirui/genx/backend/internal/model/user"
)

const redisKeyPrefix = "genx:session:"

// RedisStore keeps sessions in Redis. Expiry is delegated to Redis key TTLs,
// so it needs no pruning job.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore connects to addr and verifies the connection.
func NewRedisStore(addr string, ttl time.Duration) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	if _, err := client.Ping().Result(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to reach redis at %s: %w", addr, err)
	}

	return NewRedisStoreWithClient(client, ttl), nil
}

// NewRedisStoreWithClient wraps an existing client. The store owns it from
// then on and closes it in Close.
func NewRedisStoreWithClient(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

// Create issues a session for userID.
func (s *RedisStore) Create(ctx context.Context, userID string) (user.Session, error) {
	if userID == "" {
		return user.Session{}, ErrUserIDRequired
	}

	sess := user.Session{
		Token:     NewToken(),
		UserID:    userID,
		ExpiresAt: time.Now().UTC().Add(s.ttl),
	}
	if err := s.client.WithContext(ctx).Set(redisKeyPrefix+sess.Token, userID, s.ttl).Err(); err != nil {
		return user.Session{}, err
	}
	return sess, nil
}

// Lookup returns the live session for token.
func (s *RedisStore) Lookup(ctx context.Context, token string) (user.Session, error) {
	client := s.client.WithContext(ctx)
	key := redisKeyPrefix + token

	userID, err := client.Get(key).Result()
	if errors.Is(err, redis.Nil) {
		return user.Session{}, ErrNotFound
	}
	if err != nil {
		return user.Session{}, err
	}

	remaining, err := client.TTL(key).Result()
	if err != nil {
		return user.Session{}, err
	}
	if remaining <= 0 {
		remaining = s.ttl
	}

	return user.Session{
		Token:     token,
		UserID:    userID,
		ExpiresAt: time.Now().UTC().Add(remaining),
	}, nil
}

// Revoke deletes token.
func (s *RedisStore) Revoke(ctx context.Context, token string) error {
	return s.client.WithContext(ctx).Del(redisKeyPrefix + token).Err()
}

// Close releases the Redis connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
