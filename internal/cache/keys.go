package cache

import (
	"strconv"
	"time"
)

// TTL ceilings for cached entity graphs.
const (
	ProfileTTL = time.Hour
	ListTTL    = 30 * time.Minute
)

// KeyUserProfile is the authenticated-profile view for one user.
func KeyUserProfile(userID int64) string {
	return "user_profile:" + strconv.FormatInt(userID, 10)
}

// KeyUserDetail is the admin detail view for one user.
func KeyUserDetail(userID int64) string {
	return "user_with_roles_permissions:" + strconv.FormatInt(userID, 10)
}

// KeyUsersList is the global users list.
const KeyUsersList = "users_with_roles_permissions"

// KeyRoleDetail is the detail view for one role.
func KeyRoleDetail(roleID int64) string {
	return "role_with_permissions:" + strconv.FormatInt(roleID, 10)
}

// KeyRolesList is the global roles list.
const KeyRolesList = "roles_with_permissions"

// KeyPermissionsList is the global permissions list.
const KeyPermissionsList = "all_permissions"
