package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gatekeep-api/gatekeep/internal/platform/httpx"
	"github.com/gatekeep-api/gatekeep/internal/shared"
)

// Middleware resolves bearer tokens to identities.
type Middleware struct {
	Service *Service
	Logger  *slog.Logger
}

// RequireToken rejects requests without a valid bearer token and stores the
// resolved identity in the request context. A failed validation terminates
// the request before any handler side effects.
func (m Middleware) RequireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			httpx.Fail(w, http.StatusUnauthorized, "Unauthenticated.")
			return
		}
		identity, err := m.Service.ValidateToken(r.Context(), token)
		if err != nil {
			if m.Logger != nil && !isUnauthenticated(err) {
				m.Logger.Error("token validation", slog.Any("error", err))
			}
			httpx.Fail(w, http.StatusUnauthorized, "Unauthenticated.")
			return
		}
		ctx := shared.ContextWithIdentity(r.Context(), identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

func isUnauthenticated(err error) bool {
	return errors.Is(err, shared.ErrUnauthenticated)
}
