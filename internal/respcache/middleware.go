// Package respcache memoizes whole HTTP responses for idempotent reads.
//
// Only 200 responses to GET requests are stored. The key covers route path,
// sorted query parameters and the authenticated identity, so anonymous and
// per-user views never share entries. Like the other cache consumers it
// fails open when Redis is unreachable.
package respcache

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gatekeep-api/gatekeep/internal/shared"
)

const keyPrefix = "api_cache:"

// DefaultTTL bounds how long a cached response may be replayed.
const DefaultTTL = 5 * time.Minute

type cachedResponse struct {
	Status  int         `json:"status"`
	Headers http.Header `json:"headers"`
	Body    []byte      `json:"body"`
}

// Cache replays stored responses and captures fresh ones.
type Cache struct {
	client *redis.Client
	logger *slog.Logger
	ttl    time.Duration
}

// New constructs a Cache.
func New(client *redis.Client, logger *slog.Logger, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{client: client, logger: logger, ttl: ttl}
}

type captureWriter struct {
	http.ResponseWriter
	status int
	buf    bytes.Buffer
}

func (cw *captureWriter) WriteHeader(code int) {
	cw.status = code
	cw.ResponseWriter.WriteHeader(code)
}

func (cw *captureWriter) Write(b []byte) (int, error) {
	cw.buf.Write(b)
	return cw.ResponseWriter.Write(b)
}

// Middleware short-circuits cached GET responses and stores eligible fresh
// ones. Mutating verbs are never served from or written to the cache.
func (c *Cache) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || c == nil || c.client == nil {
			next.ServeHTTP(w, r)
			return
		}

		key := c.buildKey(r)
		if stored, ok := c.lookup(r, key); ok {
			// Headers already set by outer middleware (rate limit counters,
			// compression) stay authoritative; stored values only fill gaps.
			for name, values := range stored.Headers {
				if len(w.Header().Values(name)) > 0 {
					continue
				}
				for _, value := range values {
					w.Header().Add(name, value)
				}
			}
			w.Header().Set("X-Cache-Status", "HIT")
			w.Header().Set("X-Cache-Key", key)
			w.WriteHeader(stored.Status)
			_, _ = w.Write(stored.Body)
			return
		}

		w.Header().Set("X-Cache-Status", "MISS")
		w.Header().Set("X-Cache-Key", key)
		cw := &captureWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(cw, r)

		if cw.status == http.StatusOK {
			c.store(r, key, cw)
		}
	})
}

func (c *Cache) lookup(r *http.Request, key string) (cachedResponse, bool) {
	payload, err := c.client.Get(r.Context(), key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.warn("response cache read failed", key, err)
		}
		return cachedResponse{}, false
	}
	var stored cachedResponse
	if err := json.Unmarshal(payload, &stored); err != nil {
		return cachedResponse{}, false
	}
	return stored, true
}

func (c *Cache) store(r *http.Request, key string, cw *captureWriter) {
	headers := make(http.Header, len(cw.Header()))
	for name, values := range cw.Header() {
		if !storableHeader(name) {
			continue
		}
		headers[name] = append([]string(nil), values...)
	}
	payload, err := json.Marshal(cachedResponse{
		Status:  cw.status,
		Headers: headers,
		Body:    cw.buf.Bytes(),
	})
	if err != nil {
		return
	}
	if err := c.client.Set(r.Context(), key, payload, c.ttl).Err(); err != nil {
		c.warn("response cache write failed", key, err)
	}
}

// storableHeader filters out headers that describe the concrete wire encoding
// of the capturing response rather than the resource. The captured body is the
// uncompressed handler output, so negotiation headers like Content-Encoding
// would mislabel it on replay to a client with different capabilities.
func storableHeader(name string) bool {
	switch {
	case strings.EqualFold(name, "X-Cache-Status"),
		strings.EqualFold(name, "X-Cache-Key"),
		strings.EqualFold(name, "Content-Encoding"),
		strings.EqualFold(name, "Content-Length"),
		strings.EqualFold(name, "Vary"):
		return false
	}
	return true
}

func (c *Cache) buildKey(r *http.Request) string {
	var b strings.Builder
	b.WriteString(r.URL.Path)

	if len(r.URL.Query()) > 0 {
		params := make([]string, 0, len(r.URL.Query()))
		for name, values := range r.URL.Query() {
			sorted := append([]string(nil), values...)
			sort.Strings(sorted)
			params = append(params, name+"="+strings.Join(sorted, ","))
		}
		sort.Strings(params)
		b.WriteString("?")
		b.WriteString(strings.Join(params, "&"))
	}

	if identity := shared.IdentityFromContext(r.Context()); identity != nil {
		b.WriteString("|user:")
		b.WriteString(strconv.FormatInt(identity.UserID, 10))
	}

	sum := sha256.Sum256([]byte(b.String()))
	return keyPrefix + hex.EncodeToString(sum[:])
}

func (c *Cache) warn(msg, key string, err error) {
	if c.logger != nil {
		c.logger.Warn(msg, slog.String("key", key), slog.Any("error", err))
	}
}
