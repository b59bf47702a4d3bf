package presigned

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
)

type contextKey string

// ObjectKeyContextKey is the context key for the validated object key
const ObjectKeyContextKey contextKey = "presigned:object_key"

// Middleware rejects requests whose signature or expiry does not validate
// and stores the object key from the URL path in the request context.
func Middleware(signer *Signer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := signer.ValidateRequest(r); err != nil {
				handleValidationError(w, err)
				return
			}

			objectKey, err := signer.ExtractObjectKey(r.URL.EscapedPath())
			if err != nil {
				slog.Warn("presigned: failed to extract object key", "path", r.URL.Path, "err", err)
				http.Error(w, "Invalid download URL", http.StatusBadRequest)
				return
			}

			ctx := context.WithValue(r.Context(), ObjectKeyContextKey, objectKey)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ObjectKeyFromContext returns the validated object key, or "" if none
func ObjectKeyFromContext(ctx context.Context) string {
	if key, ok := ctx.Value(ObjectKeyContextKey).(string); ok {
		return key
	}
	return ""
}

func handleValidationError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrMissingSignature):
		http.Error(w, "Missing signature parameter", http.StatusUnauthorized)
	case errors.Is(err, ErrMissingExpiration):
		http.Error(w, "Missing expires parameter", http.StatusUnauthorized)
	case errors.Is(err, ErrInvalidExpiration):
		http.Error(w, "Invalid expires parameter", http.StatusBadRequest)
	case errors.Is(err, ErrExpired):
		http.Error(w, "Presigned URL has expired", http.StatusForbidden)
	case errors.Is(err, ErrInvalidSignature):
		http.Error(w, "Invalid signature", http.StatusForbidden)
	default:
		slog.Error("presigned: validation error", "err", err)
		http.Error(w, "Authentication failed", http.StatusForbidden)
	}
}
