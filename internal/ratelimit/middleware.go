package ratelimit

import (
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gatekeep-api/gatekeep/internal/platform/httpx"
	"github.com/gatekeep-api/gatekeep/internal/shared"
)

// DefaultLimit is the default request budget per identifier and route.
const DefaultLimit = 60

// DefaultWindow is the default decay window.
const DefaultWindow = time.Minute

// Middleware throttles requests per identifier and route. The identifier is
// the authenticated user when present, the source IP otherwise. Callers may
// configure a stricter limit per route.
func (l *Limiter) Middleware(limit int, window time.Duration) func(http.Handler) http.Handler {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			decision := l.Allow(r.Context(), requestIdentifier(r), r.URL.Path, limit, window)

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt, 10))

			if !decision.Allowed {
				w.Header().Set("Retry-After", strconv.Itoa(decision.RetryAfter))
				httpx.FailWith(w, http.StatusTooManyRequests,
					"Too many requests. Please try again later.",
					map[string]any{"retry_after": decision.RetryAfter})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func requestIdentifier(r *http.Request) string {
	if identity := shared.IdentityFromContext(r.Context()); identity != nil {
		return "user:" + strconv.FormatInt(identity.UserID, 10)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}
