package rbac

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gatekeep-api/gatekeep/internal/platform/db"
	"github.com/gatekeep-api/gatekeep/internal/shared"
)

// Repository defines persistence operations for roles, permissions and the
// user relationship edges.
type Repository interface {
	GetUser(ctx context.Context, id int64) (UserInfo, error)
	UserRoles(ctx context.Context, userID int64) ([]Role, error)
	UserDirectPermissions(ctx context.Context, userID int64) ([]Permission, error)
	UserIDsWithRole(ctx context.Context, roleID int64) ([]int64, error)

	ListRoles(ctx context.Context) ([]Role, error)
	GetRole(ctx context.Context, id int64) (Role, error)
	CreateRole(ctx context.Context, name, description string) (Role, error)
	UpdateRole(ctx context.Context, id int64, name, description string) (Role, error)
	DeleteRole(ctx context.Context, id int64) error
	SetRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error

	ListPermissions(ctx context.Context) ([]Permission, error)
	GetPermission(ctx context.Context, id int64) (Permission, error)
	CreatePermission(ctx context.Context, name, description string) (Permission, error)
	UpdatePermission(ctx context.Context, id int64, name, description string) (Permission, error)
	DeletePermission(ctx context.Context, id int64) error

	AssignRoles(ctx context.Context, userID int64, roleIDs []int64) error
	RemoveRoles(ctx context.Context, userID int64, roleIDs []int64) error
	AssignPermissions(ctx context.Context, userID int64, permissionIDs []int64) error
	RemovePermissions(ctx context.Context, userID int64, permissionIDs []int64) error
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

var _ Repository = (*PGRepository)(nil)

// GetUser fetches the identity slice used in authorization views.
func (r *PGRepository) GetUser(ctx context.Context, id int64) (UserInfo, error) {
	var user UserInfo
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, email, created_at FROM users WHERE id = $1`, id).
		Scan(&user.ID, &user.Name, &user.Email, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return UserInfo{}, shared.ErrNotFound
		}
		return UserInfo{}, err
	}
	return user, nil
}

// UserRoles returns the roles held by a user, permissions included.
func (r *PGRepository) UserRoles(ctx context.Context, userID int64) ([]Role, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT r.id, r.name, r.description, r.created_at, r.updated_at
		 FROM roles r JOIN user_roles ur ON ur.role_id = r.id
		 WHERE ur.user_id = $1 ORDER BY r.id`, userID)
	if err != nil {
		return nil, err
	}
	roles, err := scanRoles(rows)
	if err != nil {
		return nil, err
	}
	return r.attachPermissions(ctx, roles)
}

// UserDirectPermissions returns permissions granted to a user outside roles.
func (r *PGRepository) UserDirectPermissions(ctx context.Context, userID int64) ([]Permission, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT p.id, p.name, p.description
		 FROM permissions p JOIN user_permissions up ON up.permission_id = p.id
		 WHERE up.user_id = $1 ORDER BY p.id`, userID)
	if err != nil {
		return nil, err
	}
	return scanPermissions(rows)
}

// UserIDsWithRole returns every user holding the given role.
func (r *PGRepository) UserIDsWithRole(ctx context.Context, roleID int64) ([]int64, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT user_id FROM user_roles WHERE role_id = $1`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListRoles returns all roles with their permissions.
func (r *PGRepository) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, name, description, created_at, updated_at FROM roles ORDER BY id`)
	if err != nil {
		return nil, err
	}
	roles, err := scanRoles(rows)
	if err != nil {
		return nil, err
	}
	return r.attachPermissions(ctx, roles)
}

// GetRole fetches a role by ID with its permissions.
func (r *PGRepository) GetRole(ctx context.Context, id int64) (Role, error) {
	var role Role
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, description, created_at, updated_at FROM roles WHERE id = $1`, id).
		Scan(&role.ID, &role.Name, &role.Description, &role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Role{}, shared.ErrNotFound
		}
		return Role{}, err
	}
	attached, err := r.attachPermissions(ctx, []Role{role})
	if err != nil {
		return Role{}, err
	}
	return attached[0], nil
}

// CreateRole inserts a new role.
func (r *PGRepository) CreateRole(ctx context.Context, name, description string) (Role, error) {
	var role Role
	err := r.pool.QueryRow(ctx,
		`INSERT INTO roles (name, description, created_at, updated_at)
		 VALUES ($1, $2, now(), now())
		 RETURNING id, name, description, created_at, updated_at`, name, description).
		Scan(&role.ID, &role.Name, &role.Description, &role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		return Role{}, mapUniqueViolation(err)
	}
	return role, nil
}

// UpdateRole renames a role.
func (r *PGRepository) UpdateRole(ctx context.Context, id int64, name, description string) (Role, error) {
	var role Role
	err := r.pool.QueryRow(ctx,
		`UPDATE roles SET name = $2, description = $3, updated_at = now()
		 WHERE id = $1
		 RETURNING id, name, description, created_at, updated_at`, id, name, description).
		Scan(&role.ID, &role.Name, &role.Description, &role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Role{}, shared.ErrNotFound
		}
		return Role{}, mapUniqueViolation(err)
	}
	return role, nil
}

// DeleteRole removes a role and its relationship edges.
func (r *PGRepository) DeleteRole(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM roles WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// SetRolePermissions replaces the permission set of a role. Delete and
// re-insert run in one transaction so a failed replacement never leaves the
// role with a partial set.
func (r *PGRepository) SetRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, roleID); err != nil {
			return err
		}
		for _, permissionID := range permissionIDs {
			if _, err := tx.Exec(ctx,
				`INSERT INTO role_permissions (role_id, permission_id) VALUES ($1, $2)`,
				roleID, permissionID); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListPermissions returns all permissions ordered by name.
func (r *PGRepository) ListPermissions(ctx context.Context) ([]Permission, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, name, description FROM permissions ORDER BY name`)
	if err != nil {
		return nil, err
	}
	return scanPermissions(rows)
}

// GetPermission fetches a permission by ID.
func (r *PGRepository) GetPermission(ctx context.Context, id int64) (Permission, error) {
	var perm Permission
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, description FROM permissions WHERE id = $1`, id).
		Scan(&perm.ID, &perm.Name, &perm.Description)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Permission{}, shared.ErrNotFound
		}
		return Permission{}, err
	}
	return perm, nil
}

// CreatePermission inserts a new permission.
func (r *PGRepository) CreatePermission(ctx context.Context, name, description string) (Permission, error) {
	var perm Permission
	err := r.pool.QueryRow(ctx,
		`INSERT INTO permissions (name, description) VALUES ($1, $2)
		 RETURNING id, name, description`, name, description).
		Scan(&perm.ID, &perm.Name, &perm.Description)
	if err != nil {
		return Permission{}, mapUniqueViolation(err)
	}
	return perm, nil
}

// UpdatePermission updates an existing permission.
func (r *PGRepository) UpdatePermission(ctx context.Context, id int64, name, description string) (Permission, error) {
	var perm Permission
	err := r.pool.QueryRow(ctx,
		`UPDATE permissions SET name = $2, description = $3 WHERE id = $1
		 RETURNING id, name, description`, id, name, description).
		Scan(&perm.ID, &perm.Name, &perm.Description)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Permission{}, shared.ErrNotFound
		}
		return Permission{}, mapUniqueViolation(err)
	}
	return perm, nil
}

// DeletePermission removes a permission and its relationship edges.
func (r *PGRepository) DeletePermission(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM permissions WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// AssignRoles attaches roles to a user, ignoring edges that already exist.
func (r *PGRepository) AssignRoles(ctx context.Context, userID int64, roleIDs []int64) error {
	for _, roleID := range roleIDs {
		if _, err := r.pool.Exec(ctx,
			`INSERT INTO user_roles (user_id, role_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			userID, roleID); err != nil {
			return err
		}
	}
	return nil
}

// RemoveRoles detaches roles from a user.
func (r *PGRepository) RemoveRoles(ctx context.Context, userID int64, roleIDs []int64) error {
	for _, roleID := range roleIDs {
		if _, err := r.pool.Exec(ctx,
			`DELETE FROM user_roles WHERE user_id = $1 AND role_id = $2`,
			userID, roleID); err != nil {
			return err
		}
	}
	return nil
}

// AssignPermissions grants direct permissions to a user.
func (r *PGRepository) AssignPermissions(ctx context.Context, userID int64, permissionIDs []int64) error {
	for _, permissionID := range permissionIDs {
		if _, err := r.pool.Exec(ctx,
			`INSERT INTO user_permissions (user_id, permission_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			userID, permissionID); err != nil {
			return err
		}
	}
	return nil
}

// RemovePermissions revokes direct permissions from a user.
func (r *PGRepository) RemovePermissions(ctx context.Context, userID int64, permissionIDs []int64) error {
	for _, permissionID := range permissionIDs {
		if _, err := r.pool.Exec(ctx,
			`DELETE FROM user_permissions WHERE user_id = $1 AND permission_id = $2`,
			userID, permissionID); err != nil {
			return err
		}
	}
	return nil
}

func (r *PGRepository) attachPermissions(ctx context.Context, roles []Role) ([]Role, error) {
	if len(roles) == 0 {
		return roles, nil
	}
	ids := make([]int64, len(roles))
	for i, role := range roles {
		ids[i] = role.ID
	}
	rows, err := r.pool.Query(ctx,
		`SELECT rp.role_id, p.id, p.name, p.description
		 FROM role_permissions rp JOIN permissions p ON p.id = rp.permission_id
		 WHERE rp.role_id = ANY($1) ORDER BY p.id`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byRole := make(map[int64][]Permission, len(roles))
	for rows.Next() {
		var roleID int64
		var perm Permission
		if err := rows.Scan(&roleID, &perm.ID, &perm.Name, &perm.Description); err != nil {
			return nil, err
		}
		byRole[roleID] = append(byRole[roleID], perm)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range roles {
		roles[i].Permissions = byRole[roles[i].ID]
	}
	return roles, nil
}

func scanRoles(rows pgx.Rows) ([]Role, error) {
	defer rows.Close()
	var roles []Role
	for rows.Next() {
		var role Role
		if err := rows.Scan(&role.ID, &role.Name, &role.Description, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

func scanPermissions(rows pgx.Rows) ([]Permission, error) {
	defer rows.Close()
	var perms []Permission
	for rows.Next() {
		var perm Permission
		if err := rows.Scan(&perm.ID, &perm.Name, &perm.Description); err != nil {
			return nil, err
		}
		perms = append(perms, perm)
	}
	return perms, rows.Err()
}

func mapUniqueViolation(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return shared.ErrDuplicate
	}
	return err
}
