package sheets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/JonMunkholm/sheetchunk/internal/config"
)

// kv is the part of *redis.Client the mirror uses.
type kv interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisMirror keeps a JSON snapshot in Redis or Valkey under one key.
type RedisMirror struct {
	client kv
	key    string
	ttl    time.Duration
}

// NewRedisClient connects and pings. Valkey speaks the same protocol.
func NewRedisClient(ctx context.Context, cfg config.CacheConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", cfg.RedisAddr, err)
	}
	return client, nil
}

// NewRedisMirror stores snapshots under key, expiring after ttl.
func NewRedisMirror(client kv, key string, ttl time.Duration) *RedisMirror {
	return &RedisMirror{client: client, key: key, ttl: ttl}
}

// Load returns the stored snapshot; ok is false when none is stored.
func (m *RedisMirror) Load(ctx context.Context) (Snapshot, bool, error) {
	raw, err := m.client.Get(ctx, m.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, err
	}

	var s Snapshot
	if err := json.Unmarshal(raw, &s); err != nil {
		return Snapshot{}, false, fmt.Errorf("decode snapshot %s: %w", m.key, err)
	}
	return s, true, nil
}

// Store saves s with the configured TTL.
func (m *RedisMirror) Store(ctx context.Context, s Snapshot) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return m.client.Set(ctx, m.key, raw, m.ttl).Err()
}

// Clear deletes the stored snapshot.
func (m *RedisMirror) Clear(ctx context.Context) error {
	return m.client.Del(ctx, m.key).Err()
}
