package auth_test

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/gatekeep-api/gatekeep/internal/auth"
	"github.com/gatekeep-api/gatekeep/internal/shared"
	_ "github.com/gatekeep-api/gatekeep/testing"
)

func newTokenStore(t *testing.T) *auth.TokenStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return auth.NewTokenStore(client)
}

func TestIssueAndValidate(t *testing.T) {
	store := newTokenStore(t)
	ctx := context.Background()

	token, err := store.Issue(ctx, 7)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if token == "" {
		t.Fatal("expected non-empty token")
	}

	identity, err := store.Validate(ctx, token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if identity.UserID != 7 {
		t.Fatalf("expected user 7, got %d", identity.UserID)
	}
	if identity.TokenID == "" {
		t.Fatal("expected token id to be set")
	}
}

func TestValidateRejectsUnknownToken(t *testing.T) {
	store := newTokenStore(t)

	_, err := store.Validate(context.Background(), "never-issued")
	if !errors.Is(err, shared.ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
}

func TestRevokeRemovesSingleToken(t *testing.T) {
	store := newTokenStore(t)
	ctx := context.Background()

	first, err := store.Issue(ctx, 7)
	if err != nil {
		t.Fatalf("issue first: %v", err)
	}
	second, err := store.Issue(ctx, 7)
	if err != nil {
		t.Fatalf("issue second: %v", err)
	}

	identity, err := store.Validate(ctx, first)
	if err != nil {
		t.Fatalf("validate first: %v", err)
	}
	if err := store.Revoke(ctx, identity.UserID, identity.TokenID); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	if _, err := store.Validate(ctx, first); !errors.Is(err, shared.ErrUnauthenticated) {
		t.Fatalf("expected revoked token to be rejected, got %v", err)
	}
	if _, err := store.Validate(ctx, second); err != nil {
		t.Fatalf("expected other token to stay valid, got %v", err)
	}
}

func TestRevokeAllRemovesEveryToken(t *testing.T) {
	store := newTokenStore(t)
	ctx := context.Background()

	var tokens []string
	for i := 0; i < 3; i++ {
		token, err := store.Issue(ctx, 9)
		if err != nil {
			t.Fatalf("issue: %v", err)
		}
		tokens = append(tokens, token)
	}

	if err := store.RevokeAll(ctx, 9); err != nil {
		t.Fatalf("revoke all: %v", err)
	}
	for _, token := range tokens {
		if _, err := store.Validate(ctx, token); !errors.Is(err, shared.ErrUnauthenticated) {
			t.Fatalf("expected token to be rejected after revoke all, got %v", err)
		}
	}
}
