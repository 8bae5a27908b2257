package rbac

import (
	"context"
	"log/slog"

	"github.com/gatekeep-api/gatekeep/internal/cache"
)

// Invalidator centralizes the write-invalidate rules for authorization data.
// Every handler mutating role, permission or user relationships calls it as
// part of the same logical operation; writes evict rather than update cached
// entries in place.
type Invalidator struct {
	cache  *cache.Store
	repo   Repository
	logger *slog.Logger
}

// NewInvalidator constructs an Invalidator.
func NewInvalidator(store *cache.Store, repo Repository, logger *slog.Logger) *Invalidator {
	return &Invalidator{cache: store, repo: repo, logger: logger}
}

// RoleMutated evicts the role detail, the roles list, and the profile and
// detail view of every user holding the role. Called for permission-set
// changes and renames; holders race the lookup at worst into one TTL window.
func (i *Invalidator) RoleMutated(ctx context.Context, roleID int64) {
	holders, err := i.repo.UserIDsWithRole(ctx, roleID)
	if err != nil {
		if i.logger != nil {
			i.logger.Warn("resolve role holders for invalidation", slog.Int64("role_id", roleID), slog.Any("error", err))
		}
	}
	i.roleKeysOut(ctx, roleID, holders)
}

// RoleDeleted evicts the same key set as RoleMutated. Holder IDs must be
// captured before the delete commits, while the edges still exist.
func (i *Invalidator) RoleDeleted(ctx context.Context, roleID int64, holderIDs []int64) {
	i.roleKeysOut(ctx, roleID, holderIDs)
}

// UserAccessMutated evicts a user's profile, detail view and the users list
// after its roles or direct permissions changed.
func (i *Invalidator) UserAccessMutated(ctx context.Context, userID int64) {
	i.cache.Forget(ctx,
		cache.KeyUserProfile(userID),
		cache.KeyUserDetail(userID),
		cache.KeyUsersList,
	)
}

// PermissionsMutated evicts the global permission registry after a permission
// was created, updated or deleted.
func (i *Invalidator) PermissionsMutated(ctx context.Context) {
	i.cache.Forget(ctx, cache.KeyPermissionsList)
}

// LoggedOut evicts a user's profile so the next authenticated read recomputes
// fresh role and permission state instead of serving a stale view.
func (i *Invalidator) LoggedOut(ctx context.Context, userID int64) {
	i.cache.Forget(ctx, cache.KeyUserProfile(userID))
}

func (i *Invalidator) roleKeysOut(ctx context.Context, roleID int64, holderIDs []int64) {
	keys := []string{cache.KeyRoleDetail(roleID), cache.KeyRolesList}
	for _, userID := range holderIDs {
		keys = append(keys, cache.KeyUserProfile(userID), cache.KeyUserDetail(userID))
	}
	i.cache.Forget(ctx, keys...)
}
