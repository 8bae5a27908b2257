// Package users exposes the admin surface for user access management:
// listing users with their role and permission graphs and mutating the
// assignment edges.
package users

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gatekeep-api/gatekeep/internal/rbac"
)

// Repository defines the user listing queries this module needs beyond what
// the shared rbac repository provides.
type Repository interface {
	ListUsers(ctx context.Context) ([]rbac.UserInfo, error)
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

// ListUsers returns every registered user ordered by id.
func (r *PGRepository) ListUsers(ctx context.Context) ([]rbac.UserInfo, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, name, email, created_at FROM users ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []rbac.UserInfo
	for rows.Next() {
		var user rbac.UserInfo
		if err := rows.Scan(&user.ID, &user.Name, &user.Email, &user.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}
