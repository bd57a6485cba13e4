package revocation

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
)

var isRevokedDurationMs = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "pecha_auth_is_token_revoked_duration_ms",
	Help:    "Latency of token revocation checks in milliseconds",
	Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25},
})

// Redis key prefix for revoked session tokens.
const revokedTokenKeyPrefix = "revoked:token:"

// RedisRegistry is a Redis-backed Registry. Use it when multiple
// instances share session state; the key TTL makes Redis handle
// retention cleanup on its own.
type RedisRegistry struct {
	client *redis.Client
}

// NewRedisRegistry constructs a Redis-backed revocation registry.
func NewRedisRegistry(client *redis.Client) *RedisRegistry {
	return &RedisRegistry{client: client}
}

// Revoke records the token with a TTL matching its remaining lifetime.
// Uses SET with expiry for an atomic set-with-expiry.
func (r *RedisRegistry) Revoke(ctx context.Context, token string, ttl time.Duration) error {
	if token == "" {
		return nil
	}
	if ttl <= 0 {
		// Already past its natural expiry; nothing worth retaining.
		return nil
	}
	key := revokedTokenKeyPrefix + token
	// The value is a marker; key existence is what matters.
	return r.client.Set(ctx, key, "1", ttl).Err()
}

// IsRevoked reports whether the token is on the revocation list. A
// missing key means not revoked (or already expired).
func (r *RedisRegistry) IsRevoked(ctx context.Context, token string) (bool, error) {
	start := time.Now()
	defer func() {
		isRevokedDurationMs.Observe(float64(time.Since(start).Microseconds()) / 1000.0)
	}()

	if token == "" {
		return false, nil
	}
	key := revokedTokenKeyPrefix + token
	_, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
