package rbac

import "time"

// Role represents a named bundle of permissions assignable to users.
type Role struct {
	ID          int64        `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Permissions []Permission `json:"permissions,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// Permission represents an atomic named capability.
type Permission struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// UserInfo is the slice of the identity needed for authorization views.
type UserInfo struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// Profile is the cached authorization view for one user: the user row, the
// roles it holds (with role-granted permissions) and its direct grants.
type Profile struct {
	User        UserInfo     `json:"user"`
	Roles       []Role       `json:"roles"`
	Direct      []Permission `json:"direct_permissions"`
	Permissions []string     `json:"permissions"`
}

// SuperAdminRole is protected from deletion and implicitly holds the full
// permission registry.
const SuperAdminRole = "super-admin"
