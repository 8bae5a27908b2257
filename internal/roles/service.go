package roles

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/gatekeep-api/gatekeep/internal/cache"
	"github.com/gatekeep-api/gatekeep/internal/rbac"
	"github.com/gatekeep-api/gatekeep/internal/shared"
)

// Service handles role management. Every mutation evicts the affected cache
// keys through the invalidator as part of the same logical operation.
type Service struct {
	repo        rbac.Repository
	cache       *cache.Store
	invalidator *rbac.Invalidator
	logger      *slog.Logger
}

// NewService builds a Service instance.
func NewService(repo rbac.Repository, store *cache.Store, invalidator *rbac.Invalidator, logger *slog.Logger) *Service {
	return &Service{repo: repo, cache: store, invalidator: invalidator, logger: logger}
}

// ListRoles returns all roles with permissions, cached.
func (s *Service) ListRoles(ctx context.Context) ([]rbac.Role, error) {
	var roles []rbac.Role
	err := s.cache.Remember(ctx, cache.KeyRolesList, cache.ListTTL, &roles, func(ctx context.Context) (any, error) {
		return s.repo.ListRoles(ctx)
	})
	return roles, err
}

// GetRole returns one role with permissions, cached.
func (s *Service) GetRole(ctx context.Context, id int64) (rbac.Role, error) {
	var role rbac.Role
	err := s.cache.Remember(ctx, cache.KeyRoleDetail(id), cache.ListTTL, &role, func(ctx context.Context) (any, error) {
		return s.repo.GetRole(ctx, id)
	})
	return role, err
}

// CreateRole inserts a role, optionally granting an initial permission set.
func (s *Service) CreateRole(ctx context.Context, name, description string, permissionIDs []int64) (rbac.Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return rbac.Role{}, errors.New("roles: role name required")
	}
	role, err := s.repo.CreateRole(ctx, name, strings.TrimSpace(description))
	if err != nil {
		return rbac.Role{}, err
	}
	if len(permissionIDs) > 0 {
		if err := s.repo.SetRolePermissions(ctx, role.ID, permissionIDs); err != nil {
			return rbac.Role{}, err
		}
	}
	s.invalidator.RoleMutated(ctx, role.ID)
	s.logger.Info("role created", slog.Int64("role_id", role.ID), slog.String("role_name", role.Name))
	return s.repo.GetRole(ctx, role.ID)
}

// UpdateRole renames a role and replaces its permission set when one is
// provided.
func (s *Service) UpdateRole(ctx context.Context, id int64, name, description string, permissionIDs []int64) (rbac.Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return rbac.Role{}, errors.New("roles: role name required")
	}
	role, err := s.repo.UpdateRole(ctx, id, name, strings.TrimSpace(description))
	if err != nil {
		return rbac.Role{}, err
	}
	if permissionIDs != nil {
		if err := s.repo.SetRolePermissions(ctx, role.ID, permissionIDs); err != nil {
			return rbac.Role{}, err
		}
	}
	s.invalidator.RoleMutated(ctx, role.ID)
	s.logger.Info("role updated", slog.Int64("role_id", role.ID), slog.String("role_name", role.Name))
	return s.repo.GetRole(ctx, role.ID)
}

// DeleteRole removes a role. The protected super-admin role can never be
// deleted, regardless of the caller's own role. Holder IDs are captured
// before the delete so their cached views can be evicted afterwards.
func (s *Service) DeleteRole(ctx context.Context, id int64) error {
	role, err := s.repo.GetRole(ctx, id)
	if err != nil {
		return err
	}
	if strings.EqualFold(role.Name, rbac.SuperAdminRole) {
		return shared.ErrProtectedRole
	}
	holders, err := s.repo.UserIDsWithRole(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteRole(ctx, id); err != nil {
		return err
	}
	s.invalidator.RoleDeleted(ctx, id, holders)
	s.logger.Info("role deleted", slog.Int64("role_id", id), slog.String("role_name", role.Name))
	return nil
}

// AssignPermissions replaces the permission set of a role.
func (s *Service) AssignPermissions(ctx context.Context, roleID int64, permissionIDs []int64) (rbac.Role, error) {
	if _, err := s.repo.GetRole(ctx, roleID); err != nil {
		return rbac.Role{}, err
	}
	if err := s.repo.SetRolePermissions(ctx, roleID, permissionIDs); err != nil {
		return rbac.Role{}, err
	}
	s.invalidator.RoleMutated(ctx, roleID)
	s.logger.Info("permissions assigned to role",
		slog.Int64("role_id", roleID), slog.Int("permissions_count", len(permissionIDs)))
	return s.repo.GetRole(ctx, roleID)
}
