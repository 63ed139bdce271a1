package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"signin/pkg/logging"
	"signin/pkg/oauth"
)

// RedisStore keeps the credential record under a single Redis key, so
// several processes on different hosts can share one session.
type RedisStore struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewRedisStore wraps an existing client. A zero ttl keeps the record
// until it is cleared.
func NewRedisStore(client *redis.Client, key string, ttl time.Duration) *RedisStore {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisStore{client: client, key: key, ttl: ttl}
}

// OpenRedis connects to cfg.RedisAddr and verifies the connection.
func OpenRedis(cfg Config) (*RedisStore, error) {
	if cfg.RedisAddr == "" {
		return nil, errors.New("redis token store requires an address")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.RedisAddr, err)
	}
	return NewRedisStore(client, cfg.RedisKey, cfg.TTL), nil
}

func (s *RedisStore) Save(ctx context.Context, cred *oauth.Credential) error {
	data, err := encodeRecord(cred)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store credential in redis: %w", err)
	}
	logging.Audit("TokenStore", "credential_stored",
		slog.String("backend", BackendRedis),
		slog.String("issuer", cred.Issuer))
	return nil
}

func (s *RedisStore) Load(ctx context.Context) (*oauth.Credential, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read credential from redis: %w", err)
	}
	return decodeRecord(data)
}

func (s *RedisStore) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("failed to delete credential from redis: %w", err)
	}
	logging.Audit("TokenStore", "credential_cleared", slog.String("backend", BackendRedis))
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
