// Package revocation tracks session tokens that have been logged out
// before their natural expiry.
package revocation

import (
	"context"
	"time"
)

// Registry records revoked session tokens until they would have expired
// anyway. Implementations must be safe for concurrent use.
type Registry interface {
	// Revoke marks a token as revoked. The ttl bounds how long the
	// entry must be retained; it is safe to drop the entry once the
	// token itself has expired.
	Revoke(ctx context.Context, token string, ttl time.Duration) error

	// IsRevoked reports whether the token has been revoked.
	IsRevoked(ctx context.Context, token string) (bool, error)
}
