package roles_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/gatekeep-api/gatekeep/internal/cache"
	"github.com/gatekeep-api/gatekeep/internal/rbac"
	"github.com/gatekeep-api/gatekeep/internal/rbac/rbactest"
	"github.com/gatekeep-api/gatekeep/internal/roles"
	"github.com/gatekeep-api/gatekeep/internal/shared"
	_ "github.com/gatekeep-api/gatekeep/testing"
)

type rolesFixture struct {
	service *roles.Service
	repo    *rbactest.Repo
	redis   *miniredis.Miniredis
}

func newRolesService(t *testing.T) *rolesFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	store := cache.NewStore(client, nil)
	repo := rbactest.New()
	invalidator := rbac.NewInvalidator(store, repo, nil)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	return &rolesFixture{
		service: roles.NewService(repo, store, invalidator, logger),
		repo:    repo,
		redis:   mr,
	}
}

func TestListRolesIsServedFromCache(t *testing.T) {
	f := newRolesService(t)
	f.repo.AddRole(rbac.Role{Name: "editor"})
	ctx := context.Background()

	if _, err := f.service.ListRoles(ctx); err != nil {
		t.Fatalf("first list: %v", err)
	}
	if _, err := f.service.ListRoles(ctx); err != nil {
		t.Fatalf("second list: %v", err)
	}
	if f.repo.ListRolesCalls != 1 {
		t.Fatalf("expected one repository hit, got %d", f.repo.ListRolesCalls)
	}
}

func TestCreateRoleGrantsInitialPermissionsAndEvictsList(t *testing.T) {
	f := newRolesService(t)
	perm := f.repo.AddPermission(rbac.Permission{Name: "view posts"})
	ctx := context.Background()

	f.redis.Set(cache.KeyRolesList, "stale")

	role, err := f.service.CreateRole(ctx, "editor", "Content editors", []int64{perm.ID})
	if err != nil {
		t.Fatalf("create role: %v", err)
	}
	if len(role.Permissions) != 1 || role.Permissions[0].Name != "view posts" {
		t.Fatalf("expected initial permission set, got %+v", role.Permissions)
	}
	if f.redis.Exists(cache.KeyRolesList) {
		t.Fatal("expected roles list to be evicted")
	}
}

func TestCreateRoleRejectsBlankName(t *testing.T) {
	f := newRolesService(t)
	if _, err := f.service.CreateRole(context.Background(), "   ", "", nil); err == nil {
		t.Fatal("expected an error for blank name")
	}
}

func TestUpdateRoleEvictsHolderViews(t *testing.T) {
	f := newRolesService(t)
	role := f.repo.AddRole(rbac.Role{Name: "editor"})
	f.repo.AddUser(rbac.UserInfo{ID: 7, Name: "Holder", Email: "holder@test.local"})
	f.repo.Grant(7, role.ID)
	ctx := context.Background()

	for _, key := range []string{
		cache.KeyRoleDetail(role.ID),
		cache.KeyRolesList,
		cache.KeyUserProfile(7),
		cache.KeyUserDetail(7),
	} {
		f.redis.Set(key, "stale")
	}

	if _, err := f.service.UpdateRole(ctx, role.ID, "senior-editor", "", nil); err != nil {
		t.Fatalf("update role: %v", err)
	}

	for _, key := range []string{
		cache.KeyRoleDetail(role.ID),
		cache.KeyRolesList,
		cache.KeyUserProfile(7),
		cache.KeyUserDetail(7),
	} {
		if f.redis.Exists(key) {
			t.Fatalf("expected %s to be evicted", key)
		}
	}
}

func TestDeleteRoleRefusesSuperAdmin(t *testing.T) {
	f := newRolesService(t)
	role := f.repo.AddRole(rbac.Role{Name: rbac.SuperAdminRole})

	err := f.service.DeleteRole(context.Background(), role.ID)
	if !errors.Is(err, shared.ErrProtectedRole) {
		t.Fatalf("expected ErrProtectedRole, got %v", err)
	}
	if _, ok := f.repo.Roles[role.ID]; !ok {
		t.Fatal("protected role must survive the delete attempt")
	}
}

func TestDeleteRoleEvictsViewsOfFormerHolders(t *testing.T) {
	f := newRolesService(t)
	role := f.repo.AddRole(rbac.Role{Name: "editor"})
	f.repo.AddUser(rbac.UserInfo{ID: 3, Name: "Holder", Email: "holder@test.local"})
	f.repo.Grant(3, role.ID)
	ctx := context.Background()

	f.redis.Set(cache.KeyUserProfile(3), "stale")
	f.redis.Set(cache.KeyUserDetail(3), "stale")

	if err := f.service.DeleteRole(ctx, role.ID); err != nil {
		t.Fatalf("delete role: %v", err)
	}
	if _, ok := f.repo.Roles[role.ID]; ok {
		t.Fatal("expected role to be removed")
	}
	// Holder IDs are captured before the delete, so their views still go out.
	if f.redis.Exists(cache.KeyUserProfile(3)) || f.redis.Exists(cache.KeyUserDetail(3)) {
		t.Fatal("expected former holder views to be evicted")
	}
}

func TestAssignPermissionsReplacesSet(t *testing.T) {
	f := newRolesService(t)
	role := f.repo.AddRole(rbac.Role{Name: "editor"})
	view := f.repo.AddPermission(rbac.Permission{Name: "view posts"})
	edit := f.repo.AddPermission(rbac.Permission{Name: "edit posts"})
	ctx := context.Background()

	if _, err := f.service.AssignPermissions(ctx, role.ID, []int64{view.ID, edit.ID}); err != nil {
		t.Fatalf("assign: %v", err)
	}
	updated, err := f.service.AssignPermissions(ctx, role.ID, []int64{edit.ID})
	if err != nil {
		t.Fatalf("reassign: %v", err)
	}
	if len(updated.Permissions) != 1 || updated.Permissions[0].ID != edit.ID {
		t.Fatalf("expected replacement semantics, got %+v", updated.Permissions)
	}
}

func TestAssignPermissionsUnknownRole(t *testing.T) {
	f := newRolesService(t)
	if _, err := f.service.AssignPermissions(context.Background(), 99, []int64{1}); !errors.Is(err, shared.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
