package users

import (
	"context"
	"log/slog"
	"sort"

	"github.com/gatekeep-api/gatekeep/internal/cache"
	"github.com/gatekeep-api/gatekeep/internal/rbac"
)

// Detail is the admin view of one user: the user row plus its full role and
// permission graph.
type Detail struct {
	User        rbac.UserInfo     `json:"user"`
	Roles       []rbac.Role       `json:"roles"`
	Direct      []rbac.Permission `json:"direct_permissions"`
	Permissions []string          `json:"permissions"`
}

// Service handles user access administration. Read views are cached; every
// assignment mutation evicts the affected user's views through the
// invalidator.
type Service struct {
	repo        Repository
	rbacRepo    rbac.Repository
	resolver    *rbac.Service
	cache       *cache.Store
	invalidator *rbac.Invalidator
	logger      *slog.Logger
}

// NewService builds a Service instance.
func NewService(repo Repository, rbacRepo rbac.Repository, resolver *rbac.Service, store *cache.Store, invalidator *rbac.Invalidator, logger *slog.Logger) *Service {
	return &Service{
		repo:        repo,
		rbacRepo:    rbacRepo,
		resolver:    resolver,
		cache:       store,
		invalidator: invalidator,
		logger:      logger,
	}
}

// ListUsers returns every user with roles and permissions, cached as one
// list entry.
func (s *Service) ListUsers(ctx context.Context) ([]Detail, error) {
	var details []Detail
	err := s.cache.Remember(ctx, cache.KeyUsersList, cache.ListTTL, &details, func(ctx context.Context) (any, error) {
		users, err := s.repo.ListUsers(ctx)
		if err != nil {
			return nil, err
		}
		out := make([]Detail, 0, len(users))
		for _, user := range users {
			detail, err := s.buildDetail(ctx, user)
			if err != nil {
				return nil, err
			}
			out = append(out, detail)
		}
		return out, nil
	})
	return details, err
}

// GetUser returns the cached detail view for one user.
func (s *Service) GetUser(ctx context.Context, userID int64) (Detail, error) {
	var detail Detail
	err := s.cache.Remember(ctx, cache.KeyUserDetail(userID), cache.ListTTL, &detail, func(ctx context.Context) (any, error) {
		user, err := s.rbacRepo.GetUser(ctx, userID)
		if err != nil {
			return nil, err
		}
		return s.buildDetail(ctx, user)
	})
	return detail, err
}

// EffectivePermissions returns the deduplicated permission names a user holds.
func (s *Service) EffectivePermissions(ctx context.Context, userID int64) ([]string, error) {
	if _, err := s.rbacRepo.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	return s.resolver.EffectivePermissions(ctx, userID)
}

// AssignRoles attaches roles to a user. Already-held roles are ignored.
func (s *Service) AssignRoles(ctx context.Context, userID int64, roleIDs []int64) (Detail, error) {
	return s.mutate(ctx, "roles assigned", userID, roleIDs, s.rbacRepo.AssignRoles)
}

// RemoveRoles detaches roles from a user.
func (s *Service) RemoveRoles(ctx context.Context, userID int64, roleIDs []int64) (Detail, error) {
	return s.mutate(ctx, "roles removed", userID, roleIDs, s.rbacRepo.RemoveRoles)
}

// AssignPermissions grants direct permissions to a user.
func (s *Service) AssignPermissions(ctx context.Context, userID int64, permissionIDs []int64) (Detail, error) {
	return s.mutate(ctx, "permissions assigned", userID, permissionIDs, s.rbacRepo.AssignPermissions)
}

// RemovePermissions revokes direct permissions from a user.
func (s *Service) RemovePermissions(ctx context.Context, userID int64, permissionIDs []int64) (Detail, error) {
	return s.mutate(ctx, "permissions removed", userID, permissionIDs, s.rbacRepo.RemovePermissions)
}

func (s *Service) mutate(ctx context.Context, action string, userID int64, ids []int64, op func(context.Context, int64, []int64) error) (Detail, error) {
	user, err := s.rbacRepo.GetUser(ctx, userID)
	if err != nil {
		return Detail{}, err
	}
	if err := op(ctx, userID, ids); err != nil {
		return Detail{}, err
	}
	s.invalidator.UserAccessMutated(ctx, userID)
	s.logger.Info("user access changed",
		slog.String("action", action),
		slog.Int64("user_id", userID),
		slog.Int("ids_count", len(ids)))
	return s.buildDetail(ctx, user)
}

func (s *Service) buildDetail(ctx context.Context, user rbac.UserInfo) (Detail, error) {
	roles, err := s.rbacRepo.UserRoles(ctx, user.ID)
	if err != nil {
		return Detail{}, err
	}
	direct, err := s.rbacRepo.UserDirectPermissions(ctx, user.ID)
	if err != nil {
		return Detail{}, err
	}

	set := make(map[string]struct{})
	for _, role := range roles {
		for _, perm := range role.Permissions {
			set[perm.Name] = struct{}{}
		}
	}
	for _, perm := range direct {
		set[perm.Name] = struct{}{}
	}
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)

	return Detail{User: user, Roles: roles, Direct: direct, Permissions: names}, nil
}
