package rbac

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"github.com/gatekeep-api/gatekeep/internal/cache"
)

// Service resolves effective roles and permissions for users.
//
// Resolution reads through the authorization cache: the per-user profile view
// is memoized under its user_profile key and every mutation boundary evicts
// it via the Invalidator. A super-admin holder's effective set is the entire
// permission registry, computed at resolution time and never stored, so the
// rule applies uniformly to every call site.
type Service struct {
	repo   Repository
	cache  *cache.Store
	logger *slog.Logger
}

// NewService constructs a Service.
func NewService(repo Repository, store *cache.Store, logger *slog.Logger) *Service {
	return &Service{repo: repo, cache: store, logger: logger}
}

// Profile returns the cached authorization view for a user.
func (s *Service) Profile(ctx context.Context, userID int64) (Profile, error) {
	var profile Profile
	err := s.cache.Remember(ctx, cache.KeyUserProfile(userID), cache.ProfileTTL, &profile, func(ctx context.Context) (any, error) {
		return s.buildProfile(ctx, userID)
	})
	return profile, err
}

// EffectivePermissions returns the deduplicated permission names a user holds:
// the union of its roles' permissions and its direct grants. A user with zero
// roles resolves to its direct grants only, never an error.
func (s *Service) EffectivePermissions(ctx context.Context, userID int64) ([]string, error) {
	profile, err := s.Profile(ctx, userID)
	if err != nil {
		return nil, err
	}
	if holdsRole(profile.Roles, SuperAdminRole) {
		return s.registryNames(ctx)
	}
	return profile.Permissions, nil
}

// HasAnyRole reports whether the user holds at least one of the named roles.
func (s *Service) HasAnyRole(ctx context.Context, userID int64, roleNames ...string) (bool, error) {
	profile, err := s.Profile(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, name := range roleNames {
		if holdsRole(profile.Roles, name) {
			return true, nil
		}
	}
	return false, nil
}

// HasAnyPermission reports whether the user holds at least one of the named
// permissions, role-granted or direct.
func (s *Service) HasAnyPermission(ctx context.Context, userID int64, permissionNames ...string) (bool, error) {
	granted, err := s.EffectivePermissions(ctx, userID)
	if err != nil {
		return false, err
	}
	set := make(map[string]struct{}, len(granted))
	for _, name := range granted {
		set[normalizeName(name)] = struct{}{}
	}
	for _, name := range permissionNames {
		if _, ok := set[normalizeName(name)]; ok {
			return true, nil
		}
	}
	return false, nil
}

// Registry returns the cached permission registry.
func (s *Service) Registry(ctx context.Context) ([]Permission, error) {
	var perms []Permission
	err := s.cache.Remember(ctx, cache.KeyPermissionsList, cache.ListTTL, &perms, func(ctx context.Context) (any, error) {
		return s.repo.ListPermissions(ctx)
	})
	return perms, err
}

func (s *Service) registryNames(ctx context.Context) ([]string, error) {
	perms, err := s.Registry(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(perms))
	for i, perm := range perms {
		names[i] = perm.Name
	}
	return names, nil
}

func (s *Service) buildProfile(ctx context.Context, userID int64) (Profile, error) {
	user, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		return Profile{}, err
	}
	roles, err := s.repo.UserRoles(ctx, userID)
	if err != nil {
		return Profile{}, err
	}
	direct, err := s.repo.UserDirectPermissions(ctx, userID)
	if err != nil {
		return Profile{}, err
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

	return Profile{User: user, Roles: roles, Direct: direct, Permissions: names}, nil
}

func holdsRole(roles []Role, name string) bool {
	for _, role := range roles {
		if strings.EqualFold(role.Name, name) {
			return true
		}
	}
	return false
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
