package auth_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"github.com/gatekeep-api/gatekeep/internal/auth"
	"github.com/gatekeep-api/gatekeep/internal/cache"
	"github.com/gatekeep-api/gatekeep/internal/rbac"
	"github.com/gatekeep-api/gatekeep/internal/rbac/rbactest"
	"github.com/gatekeep-api/gatekeep/internal/shared"
	_ "github.com/gatekeep-api/gatekeep/testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubRepo struct {
	users        map[string]*auth.User
	assignedRole string
	nextID       int64
}

func newStubRepo() *stubRepo {
	return &stubRepo{users: map[string]*auth.User{}}
}

func (s *stubRepo) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	user, ok := s.users[email]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return user, nil
}

func (s *stubRepo) CreateUser(ctx context.Context, name, email, passwordHash string) (*auth.User, error) {
	if _, ok := s.users[email]; ok {
		return nil, shared.ErrDuplicate
	}
	s.nextID++
	user := &auth.User{ID: s.nextID, Name: name, Email: email, PasswordHash: passwordHash}
	s.users[email] = user
	return user, nil
}

func (s *stubRepo) AssignRoleByName(ctx context.Context, userID int64, roleName string) error {
	s.assignedRole = roleName
	return nil
}

type authFixture struct {
	service  *auth.Service
	repo     *stubRepo
	access   *rbactest.Repo
	throttle *auth.Throttle
	redis    *miniredis.Miniredis
}

func newAuthService(t *testing.T) *authFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	store := cache.NewStore(client, nil)
	access := rbactest.New()
	resolver := rbac.NewService(access, store, nil)
	invalidator := rbac.NewInvalidator(store, access, nil)

	repo := newStubRepo()
	tokens := auth.NewTokenStore(client)
	throttle := auth.NewThrottle(client, nil, 5, 15*time.Minute)
	service := auth.NewService(repo, tokens, throttle, resolver, invalidator, discardLogger(), bcrypt.MinCost)

	return &authFixture{service: service, repo: repo, access: access, throttle: throttle, redis: mr}
}

func (f *authFixture) addAccount(t *testing.T, id int64, email, password string) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	f.repo.users[email] = &auth.User{ID: id, Name: "Account", Email: email, PasswordHash: string(hash)}
	f.access.AddUser(rbac.UserInfo{ID: id, Name: "Account", Email: email})
}

func TestRegisterAssignsDefaultRoleAndIssuesToken(t *testing.T) {
	f := newAuthService(t)
	f.access.AddUser(rbac.UserInfo{ID: 1, Name: "New User", Email: "new@test.local"})

	profile, token, err := f.service.Register(context.Background(), "New User", "new@test.local", "password123")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if token == "" {
		t.Fatal("expected a token")
	}
	if f.repo.assignedRole != auth.DefaultRole {
		t.Fatalf("expected default role %q, got %q", auth.DefaultRole, f.repo.assignedRole)
	}
	if profile.User.Email != "new@test.local" {
		t.Fatalf("unexpected profile: %+v", profile)
	}

	identity, err := f.service.ValidateToken(context.Background(), token)
	if err != nil {
		t.Fatalf("validate token: %v", err)
	}
	if identity.UserID != 1 {
		t.Fatalf("expected user 1, got %d", identity.UserID)
	}
}

func TestLoginSucceedsAndClearsThrottle(t *testing.T) {
	f := newAuthService(t)
	f.addAccount(t, 1, "user@test.local", "correct-horse")
	ctx := context.Background()

	f.throttle.RecordFailure(ctx, "user@test.local")

	profile, token, err := f.service.Login(ctx, "user@test.local", "correct-horse")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if token == "" || profile.User.ID != 1 {
		t.Fatalf("unexpected session: token=%q profile=%+v", token, profile)
	}
	if f.redis.Exists("failed_login_attempts:user@test.local") {
		t.Fatal("expected throttle counter to be cleared")
	}
}

func TestLoginWrongPasswordRecordsFailure(t *testing.T) {
	f := newAuthService(t)
	f.addAccount(t, 1, "user@test.local", "correct-horse")
	ctx := context.Background()

	_, _, err := f.service.Login(ctx, "user@test.local", "wrong")
	if !errors.Is(err, shared.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	count, err := f.redis.Get("failed_login_attempts:user@test.local")
	if err != nil || count != "1" {
		t.Fatalf("expected one recorded failure, got %q err=%v", count, err)
	}
}

func TestLoginBlockedBeforeVerificationEvenWithCorrectPassword(t *testing.T) {
	f := newAuthService(t)
	f.addAccount(t, 1, "user@test.local", "correct-horse")
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		f.throttle.RecordFailure(ctx, "user@test.local")
	}

	_, _, err := f.service.Login(ctx, "user@test.local", "correct-horse")
	if !errors.Is(err, shared.ErrTooManyRequests) {
		t.Fatalf("expected ErrTooManyRequests, got %v", err)
	}

	// Attempts while blocked do not feed the counter.
	count, err := f.redis.Get("failed_login_attempts:user@test.local")
	if err != nil || count != "5" {
		t.Fatalf("expected counter to stay at 5, got %q err=%v", count, err)
	}
}

func TestLoginUnknownEmailLooksLikeBadCredentials(t *testing.T) {
	f := newAuthService(t)

	_, _, err := f.service.Login(context.Background(), "ghost@test.local", "whatever")
	if !errors.Is(err, shared.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestLogoutRevokesPresentingTokenOnly(t *testing.T) {
	f := newAuthService(t)
	f.addAccount(t, 1, "user@test.local", "correct-horse")
	ctx := context.Background()

	_, first, err := f.service.Login(ctx, "user@test.local", "correct-horse")
	if err != nil {
		t.Fatalf("first login: %v", err)
	}
	_, second, err := f.service.Login(ctx, "user@test.local", "correct-horse")
	if err != nil {
		t.Fatalf("second login: %v", err)
	}

	identity, err := f.service.ValidateToken(ctx, first)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if err := f.service.Logout(ctx, identity); err != nil {
		t.Fatalf("logout: %v", err)
	}

	if _, err := f.service.ValidateToken(ctx, first); !errors.Is(err, shared.ErrUnauthenticated) {
		t.Fatalf("expected first token revoked, got %v", err)
	}
	if _, err := f.service.ValidateToken(ctx, second); err != nil {
		t.Fatalf("expected second token to stay valid, got %v", err)
	}
}

func TestLogoutAllRevokesEveryToken(t *testing.T) {
	f := newAuthService(t)
	f.addAccount(t, 1, "user@test.local", "correct-horse")
	ctx := context.Background()

	_, first, err := f.service.Login(ctx, "user@test.local", "correct-horse")
	if err != nil {
		t.Fatalf("first login: %v", err)
	}
	_, second, err := f.service.Login(ctx, "user@test.local", "correct-horse")
	if err != nil {
		t.Fatalf("second login: %v", err)
	}

	identity, err := f.service.ValidateToken(ctx, first)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if err := f.service.LogoutAll(ctx, identity); err != nil {
		t.Fatalf("logout all: %v", err)
	}

	for _, token := range []string{first, second} {
		if _, err := f.service.ValidateToken(ctx, token); !errors.Is(err, shared.ErrUnauthenticated) {
			t.Fatalf("expected token revoked, got %v", err)
		}
	}
}
