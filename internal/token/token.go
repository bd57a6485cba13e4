// Package token issues and verifies the signed session tokens handed to
// clients after single sign-on completes.
package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/pecha-tools/pecha-auth/internal/revocation"
)

// Verification failures, ordered from most to least specific. Callers
// can map each to a distinct client-facing response.
var (
	// ErrRevoked means the token was explicitly logged out.
	ErrRevoked = errors.New("token has been revoked")
	// ErrExpired means the token was well-formed and signed by us but
	// is past its expiry.
	ErrExpired = errors.New("token has expired")
	// ErrMalformed means the token is not structurally a token we
	// issued: bad encoding, wrong algorithm, or bad signature.
	ErrMalformed = errors.New("token is malformed")
	// ErrInvalid means the token parsed and verified but its claims
	// are unusable, such as a missing subject.
	ErrInvalid = errors.New("token is invalid")
)

// DefaultTTL is the session lifetime applied when no explicit TTL is
// configured.
const DefaultTTL = 60 * time.Minute

// Claims is the claim set carried by session tokens.
type Claims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Service issues and verifies session tokens with a shared symmetric
// signing key. Verification consults the revocation registry before
// anything else, so a logged-out token is reported as revoked even if
// it has also expired.
type Service struct {
	signingKey []byte
	ttl        time.Duration
	registry   revocation.Registry
}

// NewService creates a token service. A non-positive ttl falls back to
// DefaultTTL.
func NewService(signingKey string, ttl time.Duration, registry revocation.Registry) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Service{
		signingKey: []byte(signingKey),
		ttl:        ttl,
		registry:   registry,
	}
}

// TTL returns the configured session lifetime.
func (s *Service) TTL() time.Duration {
	return s.ttl
}

// Issue creates a signed session token for the subject. The email claim
// is omitted when empty. Returns the token and its expiry time.
func (s *Service) Issue(subject, email string) (string, time.Time, error) {
	if subject == "" {
		return "", time.Time{}, fmt.Errorf("issue token: %w: empty subject", ErrInvalid)
	}

	now := time.Now()
	expiresAt := now.Add(s.ttl)

	newToken := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	})

	signed, err := newToken.SignedString(s.signingKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify checks the token and returns its claims. Checks run in a fixed
// order so the caller sees the most specific failure: revocation, then
// structure and signature, then subject, then expiry.
func (s *Service) Verify(ctx context.Context, tokenString string) (*Claims, error) {
	revoked, err := s.registry.IsRevoked(ctx, tokenString)
	if err != nil {
		return nil, fmt.Errorf("revocation check: %w", err)
	}
	if revoked {
		return nil, ErrRevoked
	}

	claims := &Claims{}
	// Claim validation is deferred so expiry can be reported after the
	// subject check rather than folded into the parse error.
	parsed, err := jwt.ParseWithClaims(tokenString, claims, s.keyFunc, jwt.WithoutClaimsValidation())
	if err != nil || !parsed.Valid {
		return nil, ErrMalformed
	}

	if claims.Subject == "" {
		return nil, ErrInvalid
	}

	if claims.ExpiresAt == nil || time.Now().After(claims.ExpiresAt.Time) {
		return nil, ErrExpired
	}

	return claims, nil
}

// Revoke puts the token on the revocation list for the remainder of its
// lifetime. Tokens whose expiry cannot be determined are retained for
// the full configured TTL; tokens already expired are still recorded
// briefly so a concurrent Verify cannot race past the revocation.
func (s *Service) Revoke(ctx context.Context, tokenString string) error {
	if tokenString == "" {
		return nil
	}

	ttl := s.ttl
	claims := &Claims{}
	if _, err := jwt.ParseWithClaims(tokenString, claims, s.keyFunc, jwt.WithoutClaimsValidation()); err == nil {
		if claims.ExpiresAt != nil {
			if remaining := time.Until(claims.ExpiresAt.Time); remaining < ttl {
				ttl = remaining
			}
		}
	}
	if ttl < time.Minute {
		ttl = time.Minute
	}

	return s.registry.Revoke(ctx, tokenString, ttl)
}

func (s *Service) keyFunc(t *jwt.Token) (interface{}, error) {
	if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, jwt.ErrTokenUnverifiable
	}
	return s.signingKey, nil
}
