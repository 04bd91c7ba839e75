// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

package database

import (
	"context"
	"fmt"
	"log/slog"

	"forumcat/internal/models"
)

// Default roles created by Seed.
const (
	RoleMember int64 = 1
	RoleAdmin  int64 = 2
	RoleGuest  int64 = 3
)

// GuestUserID is the user ID requests without a session run as.
const GuestUserID int64 = 0

// GrantStore is the slice of the storage layer Seed writes through.
type GrantStore interface {
	CountGrants(ctx context.Context, categoryID int64) (int, error)
	AddGrant(ctx context.Context, g models.Grant) error
	AssignRole(ctx context.Context, userID, roleID int64) error
}

// Seed populates the default permission set on the root junction: guests
// may view, members may view and post, admins may also manage categories. adminUserID, when
// non-zero, is given the admin role. Seeding is skipped once the root
// junction carries any grant.
func Seed(ctx context.Context, store GrantStore, adminUserID int64) error {
	count, err := store.CountGrants(ctx, models.RootID)
	if err != nil {
		return fmt.Errorf("seed check grants: %w", err)
	}
	if count > 0 {
		slog.Info("database already seeded, skipping")
		return nil
	}

	grants := []models.Grant{
		{RoleID: RoleGuest, CategoryID: models.RootID, Permission: models.PermDiscussionsView},
		{RoleID: RoleMember, CategoryID: models.RootID, Permission: models.PermDiscussionsView},
		{RoleID: RoleMember, CategoryID: models.RootID, Permission: models.PermDiscussionsAdd},
		{RoleID: RoleAdmin, CategoryID: models.RootID, Permission: models.PermDiscussionsView},
		{RoleID: RoleAdmin, CategoryID: models.RootID, Permission: models.PermDiscussionsAdd},
		{RoleID: RoleAdmin, CategoryID: models.RootID, Permission: models.PermCategoriesManage},
	}
	for _, g := range grants {
		if err := store.AddGrant(ctx, g); err != nil {
			return fmt.Errorf("seed grant %s: %w", g.Permission, err)
		}
	}

	if err := store.AssignRole(ctx, GuestUserID, RoleGuest); err != nil {
		return fmt.Errorf("seed guest role: %w", err)
	}
	if adminUserID != 0 {
		if err := store.AssignRole(ctx, adminUserID, RoleAdmin); err != nil {
			return fmt.Errorf("seed admin role: %w", err)
		}
	}

	slog.Info("database seeded with default permissions",
		"grants", len(grants),
		"admin_user_id", adminUserID,
	)
	return nil
}
