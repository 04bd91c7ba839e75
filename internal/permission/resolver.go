// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

// Package permission resolves which category owns the effective permission
// set of every node. A category either holds custom permissions
// (PermissionCategoryID == CategoryID) or inherits them from the nearest
// such ancestor, with the root as the final owner.
package permission

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"forumcat/internal/apperr"
	"forumcat/internal/models"
)

// Storage is the persistence port the resolver needs.
type Storage interface {
	ListCategories(ctx context.Context) ([]*models.Category, error)
	SetPermissionCategory(ctx context.Context, ids []int64, ownerID int64) error
}

// Resolver maintains PermissionCategoryID pointers.
type Resolver struct {
	store  Storage
	logger *slog.Logger
}

// NewResolver returns a Resolver. A nil logger falls back to slog.Default().
func NewResolver(store Storage, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{store: store, logger: logger}
}

// ResolveOwner returns the nearest ancestor-or-self of id that owns an
// explicit permission set.
func (r *Resolver) ResolveOwner(ctx context.Context, id int64) (int64, error) {
	cats, err := r.store.ListCategories(ctx)
	if err != nil {
		return 0, fmt.Errorf("resolve permission owner: %w", err)
	}
	return ResolveOwnerIn(index(cats), id)
}

// ResolveOwnerIn walks parent pointers from id until it reaches a custom
// permission node or the root. The walk is bounded by the node's depth.
func ResolveOwnerIn(byID map[int64]*models.Category, id int64) (int64, error) {
	c, ok := byID[id]
	if !ok {
		return 0, apperr.NotFound("category", id)
	}
	limit := min(c.Depth, models.MaxTreeDepth) + 1
	for steps := 0; steps <= limit; steps++ {
		if c.IsRoot() || c.HasCustomPermissions() {
			return c.CategoryID, nil
		}
		parent, ok := byID[c.ParentCategoryID]
		if !ok {
			return models.RootID, nil
		}
		c = parent
	}
	return 0, apperr.Consistency("permission chain of category %d does not terminate", id)
}

// OnMove re-points a re-parented category, and every descendant that
// inherited through it, to the new parent's permission owner. Categories
// with custom permissions keep their own set. Must run after the tree
// coordinates were rebuilt, since descendants are found by range.
func (r *Resolver) OnMove(ctx context.Context, id int64) error {
	cats, err := r.store.ListCategories(ctx)
	if err != nil {
		return fmt.Errorf("permission on move: %w", err)
	}
	byID := index(cats)
	node, ok := byID[id]
	if !ok {
		return apperr.NotFound("category", id)
	}
	if node.HasCustomPermissions() {
		return nil
	}
	parent, ok := byID[node.ParentCategoryID]
	if !ok {
		return apperr.NotFound("parent category", node.ParentCategoryID)
	}

	oldOwner, newOwner := node.PermissionCategoryID, parent.PermissionCategoryID
	if oldOwner == newOwner {
		return nil
	}
	ids := inheritingSubtree(cats, node, oldOwner)
	if err := r.store.SetPermissionCategory(ctx, ids, newOwner); err != nil {
		return fmt.Errorf("permission on move: %w", err)
	}
	r.logger.Debug("permission owner re-pointed after move",
		"category_id", id,
		"old_owner", oldOwner,
		"new_owner", newOwner,
		"affected", len(ids),
	)
	return nil
}

// SetCustom switches a category between holding its own permission set and
// inheriting from its parent, carrying inheriting descendants along.
func (r *Resolver) SetCustom(ctx context.Context, id int64, custom bool) error {
	cats, err := r.store.ListCategories(ctx)
	if err != nil {
		return fmt.Errorf("set custom permissions: %w", err)
	}
	byID := index(cats)
	node, ok := byID[id]
	if !ok {
		return apperr.NotFound("category", id)
	}
	if node.HasCustomPermissions() == custom {
		return nil
	}
	if node.IsRoot() {
		return apperr.Invalid("the root category always owns its permissions")
	}

	var oldOwner, newOwner int64
	if custom {
		oldOwner, newOwner = node.PermissionCategoryID, node.CategoryID
	} else {
		parent, ok := byID[node.ParentCategoryID]
		if !ok {
			return apperr.NotFound("parent category", node.ParentCategoryID)
		}
		oldOwner, newOwner = node.CategoryID, parent.PermissionCategoryID
	}

	ids := inheritingSubtree(cats, node, oldOwner)
	if err := r.store.SetPermissionCategory(ctx, ids, newOwner); err != nil {
		return fmt.Errorf("set custom permissions: %w", err)
	}
	return nil
}

// OnDelete re-points the descendants of a custom-permission category that
// is about to be deleted to the owner of newParentID, the nearest ancestor
// that will remain. It returns the re-pointed IDs.
func (r *Resolver) OnDelete(ctx context.Context, id, newParentID int64) ([]int64, error) {
	cats, err := r.store.ListCategories(ctx)
	if err != nil {
		return nil, fmt.Errorf("permission on delete: %w", err)
	}
	byID := index(cats)
	node, ok := byID[id]
	if !ok {
		return nil, apperr.NotFound("category", id)
	}
	if !node.HasCustomPermissions() {
		return nil, nil
	}
	survivor, ok := byID[newParentID]
	if !ok {
		return nil, apperr.NotFound("category", newParentID)
	}

	var ids []int64
	for _, c := range cats {
		if node.Contains(c) && c.PermissionCategoryID == node.CategoryID {
			ids = append(ids, c.CategoryID)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}
	if err := r.store.SetPermissionCategory(ctx, ids, survivor.PermissionCategoryID); err != nil {
		return nil, fmt.Errorf("permission on delete: %w", err)
	}
	return ids, nil
}

// Junctions returns the IDs of every category that owns a permission set,
// including the root.
func Junctions(cats []*models.Category) []int64 {
	var ids []int64
	for _, c := range cats {
		if c.IsRoot() || c.HasCustomPermissions() {
			ids = append(ids, c.CategoryID)
		}
	}
	slices.Sort(ids)
	return ids
}

// JunctionAliases maps every category that inherits its permissions to
// the category that owns them.
func JunctionAliases(cats []*models.Category) map[int64]int64 {
	aliases := make(map[int64]int64)
	for _, c := range cats {
		if c.IsRoot() || c.HasCustomPermissions() {
			continue
		}
		aliases[c.CategoryID] = c.PermissionCategoryID
	}
	return aliases
}

// inheritingSubtree returns node and every descendant currently owned by
// owner, found by nested-set containment.
func inheritingSubtree(cats []*models.Category, node *models.Category, owner int64) []int64 {
	ids := []int64{node.CategoryID}
	for _, c := range cats {
		if node.Contains(c) && c.PermissionCategoryID == owner {
			ids = append(ids, c.CategoryID)
		}
	}
	return ids
}

func index(cats []*models.Category) map[int64]*models.Category {
	m := make(map[int64]*models.Category, len(cats))
	for _, c := range cats {
		m[c.CategoryID] = c
	}
	return m
}
