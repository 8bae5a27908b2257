// Package rbactest provides an in-memory Repository for tests.
package rbactest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/gatekeep-api/gatekeep/internal/rbac"
	"github.com/gatekeep-api/gatekeep/internal/shared"
)

// Repo is an in-memory rbac.Repository. Zero value is usable.
type Repo struct {
	mu sync.Mutex

	Users       map[int64]rbac.UserInfo
	Roles       map[int64]rbac.Role
	Permissions map[int64]rbac.Permission

	RolesByUser  map[int64][]int64
	DirectByUser map[int64][]int64

	ListPermissionsCalls int
	ListRolesCalls       int
	GetUserCalls         int

	nextRoleID int64
	nextPermID int64
}

var _ rbac.Repository = (*Repo)(nil)

// New returns an empty Repo.
func New() *Repo {
	return &Repo{
		Users:        map[int64]rbac.UserInfo{},
		Roles:        map[int64]rbac.Role{},
		Permissions:  map[int64]rbac.Permission{},
		RolesByUser:  map[int64][]int64{},
		DirectByUser: map[int64][]int64{},
	}
}

// AddUser registers a user.
func (r *Repo) AddUser(user rbac.UserInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Users[user.ID] = user
}

// AddRole registers a role, assigning an ID when missing.
func (r *Repo) AddRole(role rbac.Role) rbac.Role {
	r.mu.Lock()
	defer r.mu.Unlock()
	if role.ID == 0 {
		r.nextRoleID++
		role.ID = r.nextRoleID
	} else if role.ID > r.nextRoleID {
		r.nextRoleID = role.ID
	}
	r.Roles[role.ID] = role
	return role
}

// AddPermission registers a permission, assigning an ID when missing.
func (r *Repo) AddPermission(perm rbac.Permission) rbac.Permission {
	r.mu.Lock()
	defer r.mu.Unlock()
	if perm.ID == 0 {
		r.nextPermID++
		perm.ID = r.nextPermID
	} else if perm.ID > r.nextPermID {
		r.nextPermID = perm.ID
	}
	r.Permissions[perm.ID] = perm
	return perm
}

// Grant attaches a role to a user.
func (r *Repo) Grant(userID, roleID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.RolesByUser[userID] = appendUnique(r.RolesByUser[userID], roleID)
}

// GrantDirect attaches a direct permission to a user.
func (r *Repo) GrantDirect(userID, permissionID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.DirectByUser[userID] = appendUnique(r.DirectByUser[userID], permissionID)
}

func (r *Repo) GetUser(ctx context.Context, id int64) (rbac.UserInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.GetUserCalls++
	user, ok := r.Users[id]
	if !ok {
		return rbac.UserInfo{}, shared.ErrNotFound
	}
	return user, nil
}

func (r *Repo) UserRoles(ctx context.Context, userID int64) ([]rbac.Role, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var roles []rbac.Role
	for _, roleID := range r.RolesByUser[userID] {
		if role, ok := r.Roles[roleID]; ok {
			roles = append(roles, role)
		}
	}
	return roles, nil
}

func (r *Repo) UserDirectPermissions(ctx context.Context, userID int64) ([]rbac.Permission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var perms []rbac.Permission
	for _, permID := range r.DirectByUser[userID] {
		if perm, ok := r.Permissions[permID]; ok {
			perms = append(perms, perm)
		}
	}
	return perms, nil
}

func (r *Repo) UserIDsWithRole(ctx context.Context, roleID int64) ([]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []int64
	for userID, roleIDs := range r.RolesByUser {
		for _, id := range roleIDs {
			if id == roleID {
				ids = append(ids, userID)
				break
			}
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (r *Repo) ListRoles(ctx context.Context) ([]rbac.Role, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ListRolesCalls++
	var roles []rbac.Role
	for _, role := range r.Roles {
		roles = append(roles, role)
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i].ID < roles[j].ID })
	return roles, nil
}

func (r *Repo) GetRole(ctx context.Context, id int64) (rbac.Role, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	role, ok := r.Roles[id]
	if !ok {
		return rbac.Role{}, shared.ErrNotFound
	}
	return role, nil
}

func (r *Repo) CreateRole(ctx context.Context, name, description string) (rbac.Role, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, role := range r.Roles {
		if role.Name == name {
			return rbac.Role{}, shared.ErrDuplicate
		}
	}
	r.nextRoleID++
	role := rbac.Role{ID: r.nextRoleID, Name: name, Description: description, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	r.Roles[role.ID] = role
	return role, nil
}

func (r *Repo) UpdateRole(ctx context.Context, id int64, name, description string) (rbac.Role, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	role, ok := r.Roles[id]
	if !ok {
		return rbac.Role{}, shared.ErrNotFound
	}
	role.Name = name
	role.Description = description
	role.UpdatedAt = time.Now()
	r.Roles[id] = role
	return role, nil
}

func (r *Repo) DeleteRole(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.Roles[id]; !ok {
		return shared.ErrNotFound
	}
	delete(r.Roles, id)
	for userID, roleIDs := range r.RolesByUser {
		r.RolesByUser[userID] = removeID(roleIDs, id)
	}
	return nil
}

func (r *Repo) SetRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	role, ok := r.Roles[roleID]
	if !ok {
		return shared.ErrNotFound
	}
	role.Permissions = nil
	for _, permID := range permissionIDs {
		if perm, ok := r.Permissions[permID]; ok {
			role.Permissions = append(role.Permissions, perm)
		}
	}
	r.Roles[roleID] = role
	return nil
}

func (r *Repo) ListPermissions(ctx context.Context) ([]rbac.Permission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ListPermissionsCalls++
	var perms []rbac.Permission
	for _, perm := range r.Permissions {
		perms = append(perms, perm)
	}
	sort.Slice(perms, func(i, j int) bool { return perms[i].Name < perms[j].Name })
	return perms, nil
}

func (r *Repo) GetPermission(ctx context.Context, id int64) (rbac.Permission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	perm, ok := r.Permissions[id]
	if !ok {
		return rbac.Permission{}, shared.ErrNotFound
	}
	return perm, nil
}

func (r *Repo) CreatePermission(ctx context.Context, name, description string) (rbac.Permission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, perm := range r.Permissions {
		if perm.Name == name {
			return rbac.Permission{}, shared.ErrDuplicate
		}
	}
	r.nextPermID++
	perm := rbac.Permission{ID: r.nextPermID, Name: name, Description: description}
	r.Permissions[perm.ID] = perm
	return perm, nil
}

func (r *Repo) UpdatePermission(ctx context.Context, id int64, name, description string) (rbac.Permission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	perm, ok := r.Permissions[id]
	if !ok {
		return rbac.Permission{}, shared.ErrNotFound
	}
	perm.Name = name
	perm.Description = description
	r.Permissions[id] = perm
	return perm, nil
}

func (r *Repo) DeletePermission(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.Permissions[id]; !ok {
		return shared.ErrNotFound
	}
	delete(r.Permissions, id)
	for userID, permIDs := range r.DirectByUser {
		r.DirectByUser[userID] = removeID(permIDs, id)
	}
	return nil
}

func (r *Repo) AssignRoles(ctx context.Context, userID int64, roleIDs []int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, roleID := range roleIDs {
		r.RolesByUser[userID] = appendUnique(r.RolesByUser[userID], roleID)
	}
	return nil
}

func (r *Repo) RemoveRoles(ctx context.Context, userID int64, roleIDs []int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, roleID := range roleIDs {
		r.RolesByUser[userID] = removeID(r.RolesByUser[userID], roleID)
	}
	return nil
}

func (r *Repo) AssignPermissions(ctx context.Context, userID int64, permissionIDs []int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, permID := range permissionIDs {
		r.DirectByUser[userID] = appendUnique(r.DirectByUser[userID], permID)
	}
	return nil
}

func (r *Repo) RemovePermissions(ctx context.Context, userID int64, permissionIDs []int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, permID := range permissionIDs {
		r.DirectByUser[userID] = removeID(r.DirectByUser[userID], permID)
	}
	return nil
}

func appendUnique(ids []int64, id int64) []int64 {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}

func removeID(ids []int64, id int64) []int64 {
	out := ids[:0]
	for _, existing := range ids {
		if existing != id {
			out = append(out, existing)
		}
	}
	return out
}
