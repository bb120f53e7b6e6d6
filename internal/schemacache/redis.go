package schemacache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// DefaultRedisKey is the key the shared entry is stored under.
const DefaultRedisKey = "crm-approvals:schema-map"

// RedisStore shares the entry between replicas as JSON.
type RedisStore struct {
	client redis.UniversalClient
	key    string
}

// RedisConfig configures NewRedisClient.
type RedisConfig struct {
	Address  string
	Password string
	Database int
	PoolSize int
	Key      string
}

// NewRedisClient connects and pings a single-node client.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (redis.UniversalClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.Database,
		PoolSize: cfg.PoolSize,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Address, err)
	}
	return client, nil
}

// NewRedisStore stores the entry under key, or DefaultRedisKey when empty.
func NewRedisStore(client redis.UniversalClient, key string) *RedisStore {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisStore{client: client, key: key}
}

func (s *RedisStore) Load(ctx context.Context) (*Entry, error) {
	raw, err := s.client.Get(ctx, s.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotCached
		}
		return nil, fmt.Errorf("redis get %s: %w", s.key, err)
	}
	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, fmt.Errorf("decode cached schema map: %w", err)
	}
	return &entry, nil
}

// Save writes entry with ttl as the key expiry; 0 means no expiry.
func (s *RedisStore) Save(ctx context.Context, entry *Entry, ttl time.Duration) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode schema map: %w", err)
	}
	if err := s.client.Set(ctx, s.key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", s.key, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", s.key, err)
	}
	return nil
}

func (s *RedisStore) Name() string { return "redis" }

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
