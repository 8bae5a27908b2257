package auth_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gatekeep-api/gatekeep/internal/auth"
	"github.com/gatekeep-api/gatekeep/internal/shared"
	_ "github.com/gatekeep-api/gatekeep/testing"
)

func TestRequireTokenRejectsMissingHeader(t *testing.T) {
	f := newAuthService(t)
	mw := auth.Middleware{Service: f.service}

	handler := mw.RequireToken(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/api/auth/profile", nil))
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.Code)
	}
}

func TestRequireTokenRejectsInvalidToken(t *testing.T) {
	f := newAuthService(t)
	mw := auth.Middleware{Service: f.service}

	handler := mw.RequireToken(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/auth/profile", nil)
	req.Header.Set("Authorization", "Bearer bogus")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.Code)
	}
}

func TestRequireTokenStoresIdentityInContext(t *testing.T) {
	f := newAuthService(t)
	f.addAccount(t, 1, "user@test.local", "correct-horse")
	_, token, err := f.service.Login(context.Background(), "user@test.local", "correct-horse")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	mw := auth.Middleware{Service: f.service}
	var seen *shared.Identity
	handler := mw.RequireToken(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = shared.IdentityFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/auth/profile", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", res.Code)
	}
	if seen == nil || seen.UserID != 1 {
		t.Fatalf("expected identity for user 1, got %+v", seen)
	}
}
