// Package permissions manages the permission registry backing every
// authorization decision.
package permissions

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/gatekeep-api/gatekeep/internal/cache"
	"github.com/gatekeep-api/gatekeep/internal/rbac"
)

// Service handles permission registry CRUD. Creating or deleting a permission
// changes what a super-admin effectively holds, so every mutation evicts the
// registry cache.
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

// ListPermissions returns the full registry, cached under the same key the
// resolver reads for super-admin expansion.
func (s *Service) ListPermissions(ctx context.Context) ([]rbac.Permission, error) {
	var perms []rbac.Permission
	err := s.cache.Remember(ctx, cache.KeyPermissionsList, cache.ListTTL, &perms, func(ctx context.Context) (any, error) {
		return s.repo.ListPermissions(ctx)
	})
	return perms, err
}

// GetPermission returns one permission by id.
func (s *Service) GetPermission(ctx context.Context, id int64) (rbac.Permission, error) {
	return s.repo.GetPermission(ctx, id)
}

// CreatePermission inserts a registry entry.
func (s *Service) CreatePermission(ctx context.Context, name, description string) (rbac.Permission, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return rbac.Permission{}, errors.New("permissions: permission name required")
	}
	perm, err := s.repo.CreatePermission(ctx, name, strings.TrimSpace(description))
	if err != nil {
		return rbac.Permission{}, err
	}
	s.invalidator.PermissionsMutated(ctx)
	s.logger.Info("permission created", slog.Int64("permission_id", perm.ID), slog.String("permission_name", perm.Name))
	return perm, nil
}

// UpdatePermission renames a registry entry. Role grants reference the entry
// by id, so role and user views that embed the old name must be evicted too.
func (s *Service) UpdatePermission(ctx context.Context, id int64, name, description string) (rbac.Permission, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return rbac.Permission{}, errors.New("permissions: permission name required")
	}
	perm, err := s.repo.UpdatePermission(ctx, id, name, strings.TrimSpace(description))
	if err != nil {
		return rbac.Permission{}, err
	}
	s.invalidator.PermissionsMutated(ctx)
	s.logger.Info("permission updated", slog.Int64("permission_id", perm.ID), slog.String("permission_name", perm.Name))
	return perm, nil
}

// DeletePermission removes a registry entry. Grants referencing it cascade
// away in storage.
func (s *Service) DeletePermission(ctx context.Context, id int64) error {
	perm, err := s.repo.GetPermission(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.DeletePermission(ctx, id); err != nil {
		return err
	}
	s.invalidator.PermissionsMutated(ctx)
	s.logger.Info("permission deleted", slog.Int64("permission_id", id), slog.String("permission_name", perm.Name))
	return nil
}
