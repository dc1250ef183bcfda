package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStore(client, "workspace:session:user-001", time.Hour), mr
}

func TestRedisStore_SaveLoad(t *testing.T) {
	s, mr := setupTestRedis(t)

	_, err := s.Load(context.Background())
	assert.ErrorIs(t, err, ErrNoTokens)

	require.NoError(t, s.Save(context.Background(), samplePair()))

	got, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-abc", got.AccessToken)
	assert.Equal(t, "refresh-def", got.RefreshToken)
	assert.True(t, got.RefreshedAt.Equal(samplePair().RefreshedAt))

	// The hash carries the contract field names.
	v := mr.HGet("workspace:session:user-001", "auth_token")
	assert.Equal(t, "access-abc", v)
}

func TestRedisStore_TTL(t *testing.T) {
	s, mr := setupTestRedis(t)
	require.NoError(t, s.Save(context.Background(), samplePair()))

	mr.FastForward(2 * time.Hour)

	_, err := s.Load(context.Background())
	assert.ErrorIs(t, err, ErrNoTokens)
}

func TestRedisStore_Clear(t *testing.T) {
	s, _ := setupTestRedis(t)
	require.NoError(t, s.Save(context.Background(), samplePair()))
	require.NoError(t, s.Clear(context.Background()))

	_, err := s.Load(context.Background())
	assert.ErrorIs(t, err, ErrNoTokens)
}

func TestRedisStore_MalformedTimestamp(t *testing.T) {
	s, mr := setupTestRedis(t)
	require.NoError(t, s.Save(context.Background(), samplePair()))

	mr.HSet("workspace:session:user-001", "token_refreshed_at", "not-a-time")

	got, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.True(t, got.RefreshedAt.IsZero())
	assert.Equal(t, "access-abc", got.AccessToken)
}
