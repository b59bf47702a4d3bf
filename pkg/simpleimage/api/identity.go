package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/jwtauth"
	"github.com/go-chi/render"
)

type contextKey string

const identityKey contextKey = "identity"

// Anonymous is the identity of callers that present none.
const Anonymous = "anonymous"

// UserIDHeader carries the caller identity when no token is presented,
// typically set by a trusted gateway.
const UserIDHeader = "X-User-ID"

// WithIdentity returns ctx carrying the caller identity.
func WithIdentity(ctx context.Context, identity string) context.Context {
	return context.WithValue(ctx, identityKey, identity)
}

// IdentityFromContext returns the caller identity, or Anonymous.
func IdentityFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(identityKey).(string); ok && id != "" {
		return id
	}
	return Anonymous
}

// Identity resolves the caller: the "sub" claim of a verified bearer token,
// else the X-User-ID header, else Anonymous. A presented token that fails
// verification is rejected with 401. With a nil ja tokens are ignored.
func Identity(ja *jwtauth.JWTAuth) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		resolve := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := strings.TrimSpace(r.Header.Get(UserIDHeader))

			if ja != nil {
				_, claims, err := jwtauth.FromContext(r.Context())
				switch {
				case errors.Is(err, jwtauth.ErrNoTokenFound):
				case err != nil:
					slog.Warn("rejected bearer token", "err", err)
					render.Status(r, http.StatusUnauthorized)
					render.JSON(w, r, ErrorResponse{Error: ErrorBody{Code: "unauthorized", Message: "invalid token"}})
					return
				default:
					if sub, ok := claims["sub"].(string); ok && sub != "" {
						identity = sub
					}
				}
			}

			if identity == "" {
				identity = Anonymous
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})

		if ja == nil {
			return resolve
		}
		return jwtauth.Verifier(ja)(resolve)
	}
}
