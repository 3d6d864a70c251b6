package auth

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"
)

type ctxKey string

const userKey ctxKey = "user"

// Middleware rejects requests without a valid token. An empty secret
// disables the gate.
func Middleware(secret string, logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if secret == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t := TokenFromRequest(r)
			if t == "" {
				http.Error(w, "token required", http.StatusUnauthorized)
				return
			}

			claims, err := ParseToken(t, secret)
			if err != nil {
				logger.Debug().Err(err).Str("path", r.URL.Path).Msg("rejected token")
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), userKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// FromContext returns the claims stored by Middleware.
func FromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(userKey).(*Claims)
	return c, ok
}
