package sso

import (
	"context"
	"errors"
	"log"
	"net/http"

	"github.com/pecha-tools/pecha-auth/internal/token"
	"github.com/pecha-tools/pecha-auth/internal/userstore"
)

// Identity is the authenticated caller as seen by downstream handlers.
type Identity struct {
	Subject string
	Email   string
}

type contextKeyIdentity struct{}

// IdentityFrom retrieves the authenticated identity from the context,
// or nil when the request carried no valid credential.
func IdentityFrom(ctx context.Context) *Identity {
	identity, ok := ctx.Value(contextKeyIdentity{}).(*Identity)
	if !ok {
		return nil
	}
	return identity
}

// RequireAuth rejects requests without a valid session token. When a
// user store is supplied, the token's subject must also resolve to an
// active account. On success the identity is attached to the request
// context; the reason for a failure is logged but never returned to
// the caller.
func RequireAuth(tokens *token.Service, users *userstore.Store) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			presented := bearerToken(r)
			if presented == "" {
				writeError(w, http.StatusUnauthorized, "Authentication required")
				return
			}

			claims, err := tokens.Verify(r.Context(), presented)
			if err != nil {
				log.Printf("auth middleware rejected token: %v", err)
				writeError(w, http.StatusUnauthorized, "Invalid or expired token")
				return
			}

			if users != nil {
				user, err := users.GetBySubject(r.Context(), claims.Subject)
				switch {
				case errors.Is(err, userstore.ErrNotFound):
					log.Printf("auth middleware rejected unknown subject %s", claims.Subject)
					writeError(w, http.StatusUnauthorized, "Invalid or expired token")
					return
				case err != nil:
					writeError(w, http.StatusInternalServerError, "Failed to resolve identity")
					return
				case !user.Active:
					log.Printf("auth middleware rejected deactivated subject %s", claims.Subject)
					writeError(w, http.StatusUnauthorized, "Invalid or expired token")
					return
				}
			}

			identity := &Identity{Subject: claims.Subject, Email: claims.Email}
			ctx := context.WithValue(r.Context(), contextKeyIdentity{}, identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
