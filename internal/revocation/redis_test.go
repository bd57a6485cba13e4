package revocation

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return mr, client
}

func TestRedisRegistry_RevokeAndCheck(t *testing.T) {
	ctx := context.Background()
	_, client := newTestRedis(t)
	reg := NewRedisRegistry(client)

	revoked, err := reg.IsRevoked(ctx, "token-a")
	require.NoError(t, err)
	assert.False(t, revoked)

	require.NoError(t, reg.Revoke(ctx, "token-a", time.Hour))

	revoked, err = reg.IsRevoked(ctx, "token-a")
	require.NoError(t, err)
	assert.True(t, revoked)

	revoked, err = reg.IsRevoked(ctx, "token-b")
	require.NoError(t, err)
	assert.False(t, revoked)
}

func TestRedisRegistry_EntryExpires(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestRedis(t)
	reg := NewRedisRegistry(client)

	require.NoError(t, reg.Revoke(ctx, "short-lived", time.Minute))

	revoked, err := reg.IsRevoked(ctx, "short-lived")
	require.NoError(t, err)
	assert.True(t, revoked)

	mr.FastForward(2 * time.Minute)

	revoked, err = reg.IsRevoked(ctx, "short-lived")
	require.NoError(t, err)
	assert.False(t, revoked, "Redis should expire the marker key with the token")
}

func TestRedisRegistry_EmptyTokenIsNoop(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestRedis(t)
	reg := NewRedisRegistry(client)

	require.NoError(t, reg.Revoke(ctx, "", time.Hour))
	assert.Empty(t, mr.Keys())

	revoked, err := reg.IsRevoked(ctx, "")
	require.NoError(t, err)
	assert.False(t, revoked)
}

func TestRedisRegistry_NonPositiveTTLNotStored(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestRedis(t)
	reg := NewRedisRegistry(client)

	require.NoError(t, reg.Revoke(ctx, "already-expired", -time.Minute))
	assert.Empty(t, mr.Keys())
}
