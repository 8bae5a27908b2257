package auth

import (
	"context"
	"errors"
	"log/slog"
	"strconv"

	"golang.org/x/crypto/bcrypt"

	"github.com/gatekeep-api/gatekeep/internal/rbac"
	"github.com/gatekeep-api/gatekeep/internal/shared"
)

// DefaultRole is granted to every newly registered account.
const DefaultRole = "user"

// Service wraps authentication business rules: credential verification,
// token lifecycle and the login throttle discipline.
type Service struct {
	repo        Repository
	tokens      *TokenStore
	throttle    *Throttle
	resolver    *rbac.Service
	invalidator *rbac.Invalidator
	logger      *slog.Logger
	bcryptCost  int
}

// NewService constructs a Service.
func NewService(repo Repository, tokens *TokenStore, throttle *Throttle, resolver *rbac.Service, invalidator *rbac.Invalidator, logger *slog.Logger, bcryptCost int) *Service {
	if bcryptCost == 0 {
		bcryptCost = bcrypt.DefaultCost
	}
	return &Service{
		repo:        repo,
		tokens:      tokens,
		throttle:    throttle,
		resolver:    resolver,
		invalidator: invalidator,
		logger:      logger,
		bcryptCost:  bcryptCost,
	}
}

// Authenticate validates email/password credentials. It is a pure check: the
// caller owns throttle bookkeeping. Plaintext passwords are never logged.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*User, error) {
	user, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	return user, nil
}

// Register creates an account with the default role, issues its first token
// and primes the profile cache.
func (s *Service) Register(ctx context.Context, name, email, password string) (rbac.Profile, string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return rbac.Profile{}, "", err
	}
	user, err := s.repo.CreateUser(ctx, name, email, string(hash))
	if err != nil {
		return rbac.Profile{}, "", err
	}
	if err := s.repo.AssignRoleByName(ctx, user.ID, DefaultRole); err != nil && !errors.Is(err, shared.ErrNotFound) {
		return rbac.Profile{}, "", err
	}

	token, err := s.tokens.Issue(ctx, user.ID)
	if err != nil {
		return rbac.Profile{}, "", err
	}
	profile, err := s.resolver.Profile(ctx, user.ID)
	if err != nil {
		return rbac.Profile{}, "", err
	}
	s.logger.Info("new user registered",
		slog.Int64("user_id", user.ID), slog.String("email", user.Email))
	return profile, token, nil
}

// Login verifies credentials behind the login throttle and issues a token.
// A blocked identifier is rejected before verification, even with correct
// credentials, and the failed attempt is not recorded.
func (s *Service) Login(ctx context.Context, email, password string) (rbac.Profile, string, error) {
	if s.throttle.IsBlocked(ctx, email) {
		return rbac.Profile{}, "", shared.ErrTooManyRequests
	}

	user, err := s.Authenticate(ctx, email, password)
	if err != nil {
		s.throttle.RecordFailure(ctx, email)
		return rbac.Profile{}, "", err
	}
	s.throttle.Clear(ctx, email)

	token, err := s.tokens.Issue(ctx, user.ID)
	if err != nil {
		return rbac.Profile{}, "", err
	}
	profile, err := s.resolver.Profile(ctx, user.ID)
	if err != nil {
		return rbac.Profile{}, "", err
	}
	s.logger.Info("user logged in",
		slog.Int64("user_id", user.ID), slog.String("email", user.Email))
	return profile, token, nil
}

// Profile returns the cached authorization view for the user.
func (s *Service) Profile(ctx context.Context, userID int64) (rbac.Profile, error) {
	return s.resolver.Profile(ctx, userID)
}

// Logout revokes the presenting token only and evicts the profile cache so
// the next authenticated read recomputes fresh state.
func (s *Service) Logout(ctx context.Context, identity *shared.Identity) error {
	if identity == nil {
		return shared.ErrUnauthenticated
	}
	if err := s.tokens.Revoke(ctx, identity.UserID, identity.TokenID); err != nil {
		return err
	}
	s.invalidator.LoggedOut(ctx, identity.UserID)
	s.logger.Info("user logged out", slog.Int64("user_id", identity.UserID))
	return nil
}

// LogoutAll revokes every token for the identity.
func (s *Service) LogoutAll(ctx context.Context, identity *shared.Identity) error {
	if identity == nil {
		return shared.ErrUnauthenticated
	}
	if err := s.tokens.RevokeAll(ctx, identity.UserID); err != nil {
		return err
	}
	s.invalidator.LoggedOut(ctx, identity.UserID)
	s.logger.Info("user logged out from all devices", slog.Int64("user_id", identity.UserID))
	return nil
}

// ValidateToken resolves a bearer token to an identity.
func (s *Service) ValidateToken(ctx context.Context, token string) (*shared.Identity, error) {
	return s.tokens.Validate(ctx, token)
}

func formatUserID(id int64) string {
	return strconv.FormatInt(id, 10)
}
