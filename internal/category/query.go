// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

package category

import (
	"context"
	"fmt"
	"strings"

	"forumcat/internal/apperr"
	"forumcat/internal/models"
)

// Search limits.
const (
	DefaultSearchLimit = 25
	MaxSearchLimit     = 100
)

// SearchScope restricts a name search. A zero ParentID searches the whole
// tree.
type SearchScope struct {
	ParentID int64 `json:"parent_id"`
	Limit    int   `json:"limit" validate:"gte=0"`
}

// VisibilityOptions selects the filters GetVisibleCategoryIDs applies on
// top of the view permission.
type VisibilityOptions struct {
	// ForAdd keeps only categories the user may start discussions in.
	ForAdd bool
	// FilterArchived drops archived categories.
	FilterArchived bool
	// FilterHideAllDiscussions drops categories excluded from the
	// all-discussions listing.
	FilterHideAllDiscussions bool
}

// Visibility is the result of GetVisibleCategoryIDs. Unfiltered is set
// when no rule removed anything, so callers can skip filtering downstream.
type Visibility struct {
	IDs        []int64 `json:"ids"`
	Unfiltered bool    `json:"unfiltered"`
}

// GetTree returns the top-level categories the user may view with their
// viewable descendants nested in Children, overlaid with the user's follow
// and read state.
func (m *Model) GetTree(ctx context.Context, userID int64) ([]*models.Category, error) {
	return m.GetChildTree(ctx, models.RootID, 0, userID)
}

// GetChildTree returns the children of parentID with their descendants
// nested up to maxDepth levels below the parent. A maxDepth below 1 means
// no limit. Categories the user may not view are left out along with
// their subtrees; a hidden parent is reported as not found.
func (m *Model) GetChildTree(ctx context.Context, parentID int64, maxDepth int, userID int64) ([]*models.Category, error) {
	ctx, span := tracer.Start(ctx, "Model.GetChildTree")
	defer span.End()

	cats, err := m.cache.List(ctx)
	if err != nil {
		return nil, err
	}
	parent := findCategory(cats, normalizeParent(parentID))
	if parent == nil || (!parent.IsRoot() && !m.CanView(ctx, userID, parent)) {
		return nil, apperr.NotFound("category", parentID)
	}
	cats = m.viewable(ctx, userID, cats)
	if err := m.overlay(ctx, userID, cats); err != nil {
		return nil, err
	}
	return nest(cats, parent, maxDepth), nil
}

// GetDescendantIDs returns the IDs of every strict descendant of id in
// tree order.
func (m *Model) GetDescendantIDs(ctx context.Context, id int64) ([]int64, error) {
	cats, err := m.cache.List(ctx)
	if err != nil {
		return nil, err
	}
	node := findCategory(cats, id)
	if node == nil {
		return nil, apperr.NotFound("category", id)
	}
	var ids []int64
	for _, c := range cats {
		if node.Contains(c) {
			ids = append(ids, c.CategoryID)
		}
	}
	return ids, nil
}

// GetAncestors returns the chain from the top-level ancestor down to id,
// inclusive, skipping ancestors the user may not view. The root is never
// part of the chain.
func (m *Model) GetAncestors(ctx context.Context, id, userID int64) ([]*models.Category, error) {
	cats, err := m.cache.List(ctx)
	if err != nil {
		return nil, err
	}
	node := findCategory(cats, id)
	if node == nil || !m.CanView(ctx, userID, node) {
		return nil, apperr.NotFound("category", id)
	}
	var chain []*models.Category
	for _, c := range cats {
		if c.IsRoot() {
			continue
		}
		if (c.CategoryID == id || c.Contains(node)) && m.CanView(ctx, userID, c) {
			chain = append(chain, c)
		}
	}
	return chain, nil
}

// View returns a category the user may view. Hidden categories are
// reported as not found so their existence does not leak.
func (m *Model) View(ctx context.Context, id, userID int64) (*models.Category, error) {
	cat, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if cat.IsRoot() || !m.CanView(ctx, userID, cat) {
		return nil, apperr.NotFound("category", id)
	}
	return cat, nil
}

// ViewByCode is View for a URL code.
func (m *Model) ViewByCode(ctx context.Context, code string, userID int64) (*models.Category, error) {
	cat, err := m.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if cat.IsRoot() || !m.CanView(ctx, userID, cat) {
		return nil, apperr.NotFound("category", code)
	}
	return cat, nil
}

// CanView reports whether userID holds the view permission on the
// junction of c.
func (m *Model) CanView(ctx context.Context, userID int64, c *models.Category) bool {
	return m.checker.CheckPermission(ctx, userID, models.PermDiscussionsView, c.PermissionCategoryID)
}

// viewable keeps the root and the categories userID may view.
func (m *Model) viewable(ctx context.Context, userID int64, cats []*models.Category) []*models.Category {
	out := make([]*models.Category, 0, len(cats))
	for _, c := range cats {
		if c.IsRoot() || m.CanView(ctx, userID, c) {
			out = append(out, c)
		}
	}
	return out
}

// GetVisibleCategoryIDs returns the categories userID may see, in tree
// order. A category is hidden when the user lacks the view permission on
// its permission junction or when one of the requested filters matches.
func (m *Model) GetVisibleCategoryIDs(ctx context.Context, userID int64, opts VisibilityOptions) (Visibility, error) {
	ctx, span := tracer.Start(ctx, "Model.GetVisibleCategoryIDs")
	defer span.End()

	cats, err := m.cache.List(ctx)
	if err != nil {
		return Visibility{}, err
	}

	vis := Visibility{Unfiltered: true}
	for _, c := range cats {
		if c.IsRoot() {
			continue
		}
		if !m.visible(ctx, userID, c, opts) {
			vis.Unfiltered = false
			continue
		}
		vis.IDs = append(vis.IDs, c.CategoryID)
	}
	return vis, nil
}

func (m *Model) visible(ctx context.Context, userID int64, c *models.Category, opts VisibilityOptions) bool {
	if !m.CanView(ctx, userID, c) {
		return false
	}
	if opts.FilterArchived && c.Archived {
		return false
	}
	if opts.FilterHideAllDiscussions && c.HideAllDiscussions {
		return false
	}
	if opts.ForAdd {
		if !c.AllowsPosting() || c.Archived {
			return false
		}
		if !m.checker.CheckPermission(ctx, userID, models.PermDiscussionsAdd, c.PermissionCategoryID) {
			return false
		}
	}
	return true
}

// Search finds categories userID may view whose name contains name,
// case-insensitively, in tree order. A scope parent restricts the search
// to its subtree.
func (m *Model) Search(ctx context.Context, userID int64, name string, scope SearchScope) ([]*models.Category, error) {
	ctx, span := tracer.Start(ctx, "Model.Search")
	defer span.End()

	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperr.Invalid("search query is required")
	}
	if err := validateStruct(scope); err != nil {
		return nil, err
	}
	limit := scope.Limit
	if limit == 0 {
		limit = DefaultSearchLimit
	}
	limit = min(limit, MaxSearchLimit)

	left, right := 0, 0
	if scope.ParentID != 0 {
		parent, err := m.cache.Get(ctx, normalizeParent(scope.ParentID))
		if err != nil {
			return nil, err
		}
		if !parent.IsRoot() && !m.CanView(ctx, userID, parent) {
			return nil, apperr.NotFound("category", scope.ParentID)
		}
		left, right = parent.TreeLeft, parent.TreeRight
	}

	// Hidden matches take up room in a storage page, so widen the page
	// until enough visible rows are found or storage runs out.
	for fetch := limit; ; fetch *= 4 {
		found, err := m.store.SearchCategories(ctx, name, left, right, fetch)
		if err != nil {
			return nil, fmt.Errorf("search categories: %w", err)
		}
		var visible []*models.Category
		for _, c := range found {
			if m.CanView(ctx, userID, c) {
				visible = append(visible, c)
			}
		}
		if len(visible) >= limit || len(found) < fetch {
			if len(visible) > limit {
				visible = visible[:limit]
			}
			return visible, nil
		}
	}
}

// overlay copies the user's follow flag and effective read marker into
// cats. Guests (userID 0) see the category-wide marker only.
func (m *Model) overlay(ctx context.Context, userID int64, cats []*models.Category) error {
	if userID == 0 {
		return nil
	}
	rows, err := m.cache.UserCategories(ctx, userID)
	if err != nil {
		return err
	}
	for _, c := range cats {
		uc, ok := rows[c.CategoryID]
		if !ok {
			continue
		}
		c.Followed = uc.Followed
		c.DateMarkedRead = models.EffectiveDateMarkedRead(uc.DateMarkedRead, c.DateMarkedRead)
	}
	return nil
}

// nest links the descendants of parent into Children and returns the
// direct children. cats must be ordered by TreeLeft.
func nest(cats []*models.Category, parent *models.Category, maxDepth int) []*models.Category {
	byID := make(map[int64]*models.Category)
	var top []*models.Category
	for _, c := range cats {
		if !parent.Contains(c) {
			continue
		}
		if maxDepth > 0 && c.Depth-parent.Depth > maxDepth {
			continue
		}
		byID[c.CategoryID] = c
		if c.ParentCategoryID == parent.CategoryID {
			top = append(top, c)
			continue
		}
		if p, ok := byID[c.ParentCategoryID]; ok {
			p.Children = append(p.Children, c)
		}
	}
	return top
}
