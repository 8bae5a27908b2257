package respcache_test

import (
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/gatekeep-api/gatekeep/internal/respcache"
	"github.com/gatekeep-api/gatekeep/internal/shared"
	_ "github.com/gatekeep-api/gatekeep/testing"
)

func newResponseCache(t *testing.T) (*respcache.Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return respcache.New(client, nil, time.Minute), mr
}

func countingHandler(hits *atomic.Int64, status int, body string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	})
}

func TestSecondGetIsServedFromCache(t *testing.T) {
	cache, _ := newResponseCache(t)
	var hits atomic.Int64
	handler := cache.Middleware(countingHandler(&hits, http.StatusOK, `{"success":true}`))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/api/roles", nil))
	if got := first.Header().Get("X-Cache-Status"); got != "MISS" {
		t.Fatalf("expected MISS, got %q", got)
	}
	if first.Header().Get("X-Cache-Key") == "" {
		t.Fatal("expected cache key header")
	}

	second := httptest.NewRecorder()
	handler.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/api/roles", nil))
	if got := second.Header().Get("X-Cache-Status"); got != "HIT" {
		t.Fatalf("expected HIT, got %q", got)
	}
	if second.Body.String() != `{"success":true}` {
		t.Fatalf("unexpected replayed body: %s", second.Body.String())
	}
	if second.Header().Get("Content-Type") != "application/json" {
		t.Fatal("expected stored headers to be replayed")
	}
	if hits.Load() != 1 {
		t.Fatalf("expected handler to run once, ran %d times", hits.Load())
	}
}

func TestMutatingVerbsBypassCache(t *testing.T) {
	cache, _ := newResponseCache(t)
	var hits atomic.Int64
	handler := cache.Middleware(countingHandler(&hits, http.StatusOK, `{}`))

	for i := 0; i < 2; i++ {
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, httptest.NewRequest(http.MethodPost, "/api/roles", nil))
		if res.Header().Get("X-Cache-Status") != "" {
			t.Fatal("mutating verbs must not carry cache headers")
		}
	}
	if hits.Load() != 2 {
		t.Fatalf("expected handler to run every time, ran %d times", hits.Load())
	}
}

func TestNon200ResponsesAreNotStored(t *testing.T) {
	cache, _ := newResponseCache(t)
	var hits atomic.Int64
	handler := cache.Middleware(countingHandler(&hits, http.StatusNotFound, `{"success":false}`))

	for i := 0; i < 2; i++ {
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/api/roles/99", nil))
		if got := res.Header().Get("X-Cache-Status"); got != "MISS" {
			t.Fatalf("expected MISS on attempt %d, got %q", i+1, got)
		}
	}
	if hits.Load() != 2 {
		t.Fatalf("expected handler to run every time, ran %d times", hits.Load())
	}
}

func TestEntriesAreKeyedPerUser(t *testing.T) {
	cache, _ := newResponseCache(t)
	var hits atomic.Int64
	handler := cache.Middleware(countingHandler(&hits, http.StatusOK, `{}`))

	sendAs := func(userID int64) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/users", nil)
		req = req.WithContext(shared.ContextWithIdentity(req.Context(), &shared.Identity{UserID: userID}))
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, req)
		return res
	}

	if got := sendAs(1).Header().Get("X-Cache-Status"); got != "MISS" {
		t.Fatalf("expected MISS for first user, got %q", got)
	}
	if got := sendAs(2).Header().Get("X-Cache-Status"); got != "MISS" {
		t.Fatalf("expected MISS for second user, got %q", got)
	}
	if got := sendAs(1).Header().Get("X-Cache-Status"); got != "HIT" {
		t.Fatalf("expected HIT for first user repeat, got %q", got)
	}
}

func TestQueryParameterOrderDoesNotSplitEntries(t *testing.T) {
	cache, _ := newResponseCache(t)
	var hits atomic.Int64
	handler := cache.Middleware(countingHandler(&hits, http.StatusOK, `{}`))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/api/users?page=2&sort=name", nil))
	second := httptest.NewRecorder()
	handler.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/api/users?sort=name&page=2", nil))

	if got := second.Header().Get("X-Cache-Status"); got != "HIT" {
		t.Fatalf("expected HIT for reordered query, got %q", got)
	}
	if first.Header().Get("X-Cache-Key") != second.Header().Get("X-Cache-Key") {
		t.Fatal("expected identical cache keys")
	}
}

func TestReplayAfterCompressedPopulateServesPlainBody(t *testing.T) {
	cache, _ := newResponseCache(t)
	var hits atomic.Int64
	handler := chimw.Compress(5)(cache.Middleware(countingHandler(&hits, http.StatusOK, `{"success":true}`)))

	// Populate the entry through a gzip-capable client.
	first := httptest.NewRequest(http.MethodGet, "/api/roles", nil)
	first.Header.Set("Accept-Encoding", "gzip")
	firstRes := httptest.NewRecorder()
	handler.ServeHTTP(firstRes, first)
	if got := firstRes.Header().Get("Content-Encoding"); got != "gzip" {
		t.Fatalf("expected compressed populate, got %q", got)
	}

	// A client without gzip support must get a plain, readable body.
	second := httptest.NewRecorder()
	handler.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/api/roles", nil))
	if got := second.Header().Get("X-Cache-Status"); got != "HIT" {
		t.Fatalf("expected HIT, got %q", got)
	}
	if enc := second.Header().Get("Content-Encoding"); enc != "" {
		t.Fatalf("plain client must not see Content-Encoding %q", enc)
	}
	if second.Body.String() != `{"success":true}` {
		t.Fatalf("unexpected replayed body: %s", second.Body.String())
	}

	// A gzip client replaying the entry gets a decodable compressed body.
	third := httptest.NewRequest(http.MethodGet, "/api/roles", nil)
	third.Header.Set("Accept-Encoding", "gzip")
	thirdRes := httptest.NewRecorder()
	handler.ServeHTTP(thirdRes, third)
	if got := thirdRes.Header().Get("Content-Encoding"); got != "gzip" {
		t.Fatalf("expected compressed replay, got %q", got)
	}
	gz, err := gzip.NewReader(thirdRes.Body)
	if err != nil {
		t.Fatalf("replayed body is not valid gzip: %v", err)
	}
	decoded, err := io.ReadAll(gz)
	if err != nil {
		t.Fatalf("decode replayed body: %v", err)
	}
	if string(decoded) != `{"success":true}` {
		t.Fatalf("unexpected decoded body: %s", decoded)
	}
	if hits.Load() != 1 {
		t.Fatalf("expected handler to run once, ran %d times", hits.Load())
	}
}

func TestReplayKeepsFreshUpstreamHeaders(t *testing.T) {
	cache, _ := newResponseCache(t)
	var hits atomic.Int64
	var requests atomic.Int64
	counting := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(60-requests.Add(1), 10))
			next.ServeHTTP(w, r)
		})
	}
	handler := counting(cache.Middleware(countingHandler(&hits, http.StatusOK, `{}`)))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/roles", nil))

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/api/roles", nil))
	if got := res.Header().Get("X-Cache-Status"); got != "HIT" {
		t.Fatalf("expected HIT, got %q", got)
	}
	// The stale value captured on the MISS never shadows or duplicates the
	// value the outer middleware set for this request.
	values := res.Header().Values("X-RateLimit-Remaining")
	if len(values) != 1 || values[0] != "58" {
		t.Fatalf("expected single fresh header value 58, got %v", values)
	}
}

func TestFailsOpenWhenRedisDown(t *testing.T) {
	cache, mr := newResponseCache(t)
	mr.Close()
	var hits atomic.Int64
	handler := cache.Middleware(countingHandler(&hits, http.StatusOK, `{}`))

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/api/roles", nil))
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if hits.Load() != 1 {
		t.Fatal("expected handler to serve the request directly")
	}
}
