// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

package store

import (
	"context"
	"fmt"

	"forumcat/internal/models"
)

// PermissionStore handles role grants on permission junctions and the
// user-to-role assignments they are resolved through.
type PermissionStore struct {
	db DB
}

// NewPermissionStore returns a new PermissionStore.
func NewPermissionStore(db DB) *PermissionStore {
	return &PermissionStore{db: db}
}

// AddGrant attaches a permission to a role on a permission junction.
func (s *PermissionStore) AddGrant(ctx context.Context, g models.Grant) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO category_permission (role_id, category_id, permission)
		VALUES ($1, $2, $3)
		ON CONFLICT DO NOTHING`, g.RoleID, g.CategoryID, g.Permission)
	if err != nil {
		return fmt.Errorf("add grant: %w", err)
	}
	return nil
}

// AssignRole gives a user a role.
func (s *PermissionStore) AssignRole(ctx context.Context, userID, roleID int64) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO user_role (user_id, role_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		userID, roleID)
	if err != nil {
		return fmt.Errorf("assign role: %w", err)
	}
	return nil
}

// UserGrants returns, per permission name, the junction IDs on which the
// user holds it through any of their roles.
func (s *PermissionStore) UserGrants(ctx context.Context, userID int64) (map[string][]int64, error) {
	rows, err := s.db.Query(ctx, `
		SELECT DISTINCT p.permission, p.category_id
		FROM category_permission p
		JOIN user_role r ON r.role_id = p.role_id
		WHERE r.user_id = $1
		ORDER BY p.permission, p.category_id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list user grants: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]int64)
	for rows.Next() {
		var perm string
		var categoryID int64
		if err := rows.Scan(&perm, &categoryID); err != nil {
			return nil, fmt.Errorf("scan user grant: %w", err)
		}
		out[perm] = append(out[perm], categoryID)
	}
	return out, rows.Err()
}

// DeletePermissions removes every grant attached to the given categories.
func (s *PermissionStore) DeletePermissions(ctx context.Context, categoryIDs []int64) error {
	_, err := s.db.Exec(ctx, `DELETE FROM category_permission WHERE category_id = ANY($1)`, categoryIDs)
	if err != nil {
		return fmt.Errorf("delete permissions: %w", err)
	}
	return nil
}

// CountGrants returns how many grants are attached to a category.
func (s *PermissionStore) CountGrants(ctx context.Context, categoryID int64) (int, error) {
	var n int
	err := s.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM category_permission WHERE category_id = $1`, categoryID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count grants: %w", err)
	}
	return n, nil
}
