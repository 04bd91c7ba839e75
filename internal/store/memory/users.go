// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

package memory

import (
	"cmp"
	"context"
	"slices"

	"forumcat/internal/models"
)

// GetUserCategory returns the overlay row for (userID, categoryID), or nil
// when the user never touched the category.
func (s *Store) GetUserCategory(_ context.Context, userID, categoryID int64) (*models.UserCategory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	uc, ok := s.userCategory[userCategoryKey{userID, categoryID}]
	if !ok {
		return nil, nil
	}
	cp := *uc
	return &cp, nil
}

// ListUserCategories returns every overlay row of a user.
func (s *Store) ListUserCategories(_ context.Context, userID int64) ([]models.UserCategory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.UserCategory
	for k, uc := range s.userCategory {
		if k.userID == userID {
			out = append(out, *uc)
		}
	}
	slices.SortFunc(out, func(a, b models.UserCategory) int {
		return cmp.Compare(a.CategoryID, b.CategoryID)
	})
	return out, nil
}

// SaveUserCategory inserts or replaces an overlay row.
func (s *Store) SaveUserCategory(_ context.Context, uc *models.UserCategory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *uc
	s.userCategory[userCategoryKey{uc.UserID, uc.CategoryID}] = &cp
	return nil
}

// SetDigest updates only the digest flag of an existing overlay row.
func (s *Store) SetDigest(_ context.Context, userID, categoryID int64, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if uc, ok := s.userCategory[userCategoryKey{userID, categoryID}]; ok {
		uc.DigestEnabled = enabled
	}
	return nil
}

// CountFollowers returns how many users follow a category and how many of
// them receive the digest.
func (s *Store) CountFollowers(_ context.Context, categoryID int64) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var followers, digest int
	for k, uc := range s.userCategory {
		if k.categoryID != categoryID || !uc.Followed {
			continue
		}
		followers++
		if uc.DigestEnabled {
			digest++
		}
	}
	return followers, digest, nil
}

// DeleteUserCategories removes every overlay row of the given categories
// and returns the distinct users that lost a row.
func (s *Store) DeleteUserCategories(_ context.Context, categoryIDs []int64) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	in := idSet(categoryIDs)
	var users []int64
	for k := range s.userCategory {
		if in[k.categoryID] {
			delete(s.userCategory, k)
			users = append(users, k.userID)
		}
	}
	slices.Sort(users)
	return slices.Compact(users), nil
}

// ---------------------------------------------------------------------------
// Permission grants
// ---------------------------------------------------------------------------

// AddGrant attaches a permission to a role on a permission junction.
func (s *Store) AddGrant(_ context.Context, g models.Grant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grants = append(s.grants, g)
	return nil
}

// AssignRole gives a user a role.
func (s *Store) AssignRole(_ context.Context, userID, roleID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !slices.Contains(s.userRoles[userID], roleID) {
		s.userRoles[userID] = append(s.userRoles[userID], roleID)
	}
	return nil
}

// UserGrants returns, per permission name, the junction IDs on which the
// user holds it through any of their roles.
func (s *Store) UserGrants(_ context.Context, userID int64) (map[string][]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	roles := s.userRoles[userID]
	out := make(map[string][]int64)
	for _, g := range s.grants {
		if slices.Contains(roles, g.RoleID) && !slices.Contains(out[g.Permission], g.CategoryID) {
			out[g.Permission] = append(out[g.Permission], g.CategoryID)
		}
	}
	return out, nil
}

// DeletePermissions removes every grant attached to the given categories.
func (s *Store) DeletePermissions(_ context.Context, categoryIDs []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	in := idSet(categoryIDs)
	s.grants = slices.DeleteFunc(s.grants, func(g models.Grant) bool {
		return in[g.CategoryID]
	})
	return nil
}

// CountGrants returns how many grants are attached to a category.
func (s *Store) CountGrants(_ context.Context, categoryID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, g := range s.grants {
		if g.CategoryID == categoryID {
			n++
		}
	}
	return n, nil
}
