package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	fieldAccessToken  = "auth_token"
	fieldRefreshToken = "refresh_token"
	fieldRefreshedAt  = "token_refreshed_at"
)

// RedisStore keeps the token pair in a Redis hash, letting multiple
// workers share one backend session. An optional TTL expires abandoned
// sessions server-side.
type RedisStore struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewRedisStore creates a store writing to the given key. A zero ttl
// means the session hash never expires.
func NewRedisStore(client *redis.Client, key string, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, key: key, ttl: ttl}
}

func (s *RedisStore) Save(ctx context.Context, p Pair) error {
	fields := map[string]any{
		fieldAccessToken:  p.AccessToken,
		fieldRefreshToken: p.RefreshToken,
		fieldRefreshedAt:  p.RefreshedAt.UTC().Format(time.RFC3339),
	}
	if err := s.client.HSet(ctx, s.key, fields).Err(); err != nil {
		return fmt.Errorf("save session to redis: %w", err)
	}
	if s.ttl > 0 {
		if err := s.client.Expire(ctx, s.key, s.ttl).Err(); err != nil {
			return fmt.Errorf("set session ttl: %w", err)
		}
	}
	return nil
}

func (s *RedisStore) Load(ctx context.Context) (Pair, error) {
	fields, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return Pair{}, fmt.Errorf("load session from redis: %w", err)
	}
	if len(fields) == 0 {
		return Pair{}, ErrNoTokens
	}

	p := Pair{
		AccessToken:  fields[fieldAccessToken],
		RefreshToken: fields[fieldRefreshToken],
	}
	if raw := fields[fieldRefreshedAt]; raw != "" {
		// Malformed timestamps are ignored; the field is diagnostic only.
		if ts, err := time.Parse(time.RFC3339, raw); err == nil {
			p.RefreshedAt = ts
		}
	}
	return p, nil
}

func (s *RedisStore) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("clear session in redis: %w", err)
	}
	return nil
}
