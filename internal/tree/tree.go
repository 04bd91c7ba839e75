// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

// Package tree maintains the nested-set coordinates (TreeLeft, TreeRight,
// Depth) of the category forest. Coordinates are derived data: they are
// always recomputed from parent pointers and sort order, never edited by
// hand.
package tree

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"time"

	"forumcat/internal/apperr"
	"forumcat/internal/models"
)

// Storage is the persistence port the builder needs.
type Storage interface {
	ListCategories(ctx context.Context) ([]*models.Category, error)
	InsertRoot(ctx context.Context, root *models.Category) error
	UpdateCoordinates(ctx context.Context, coords []models.Coordinates) error
	UpdateTreeItems(ctx context.Context, items []models.TreeItem) error
}

// Builder recomputes tree coordinates against a Storage.
type Builder struct {
	store  Storage
	logger *slog.Logger
	now    func() time.Time
}

// New returns a Builder. A nil logger falls back to slog.Default().
func New(store Storage, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{store: store, logger: logger, now: time.Now}
}

// RebuildTree recomputes coordinates for the whole forest and writes the
// rows whose position changed. The returned slice holds exactly those rows,
// so a second call with no structural change returns nothing.
func (b *Builder) RebuildTree(ctx context.Context, bySortOrder bool) ([]models.Coordinates, error) {
	cats, err := b.store.ListCategories(ctx)
	if err != nil {
		return nil, fmt.Errorf("rebuild tree: %w", err)
	}

	if !hasRoot(cats) {
		root := models.NewRoot(b.now())
		if err := b.store.InsertRoot(ctx, root); err != nil {
			return nil, fmt.Errorf("rebuild tree: insert root: %w", err)
		}
		b.logger.Warn("category root was missing, created it")
		cats = append(cats, root)
	}

	coords, err := Compute(cats, bySortOrder)
	if err != nil {
		return nil, err
	}

	current := indexByID(cats)
	var changed []models.Coordinates
	for _, co := range coords {
		c := current[co.CategoryID]
		if !c.IsRoot() && normalizeParent(c.ParentCategoryID) != co.ParentCategoryID {
			b.logger.Warn("orphaned category attached to root",
				"category_id", co.CategoryID,
				"missing_parent_id", c.ParentCategoryID,
			)
		}
		if sameCoordinates(c, co) {
			continue
		}
		changed = append(changed, co)
	}

	if len(changed) > 0 {
		if err := b.store.UpdateCoordinates(ctx, changed); err != nil {
			return nil, fmt.Errorf("rebuild tree: write coordinates: %w", err)
		}
	}

	b.logger.Debug("category tree rebuilt",
		"categories", len(cats),
		"changed", len(changed),
		"by_sort", bySortOrder,
	)
	return changed, nil
}

// Compute assigns nested-set coordinates to every category. Siblings are
// ordered by (Sort, Name) when bySortOrder is set, otherwise by their
// existing TreeLeft with Name as tie-break; rows that were never placed
// (TreeLeft 0) go last. Categories whose parent does not exist are attached
// to the root. A parent cycle is reported as a consistency error.
func Compute(cats []*models.Category, bySortOrder bool) ([]models.Coordinates, error) {
	byID := indexByID(cats)
	if _, ok := byID[models.RootID]; !ok {
		return nil, apperr.Consistency("category tree has no root")
	}

	parents := make(map[int64]int64, len(cats))
	children := make(map[int64][]*models.Category, len(cats))
	for _, c := range cats {
		if c.IsRoot() {
			continue
		}
		parentID := normalizeParent(c.ParentCategoryID)
		if parentID == c.CategoryID {
			return nil, apperr.Consistency("category %d is its own parent", c.CategoryID)
		}
		if _, ok := byID[parentID]; !ok {
			parentID = models.RootID
		}
		parents[c.CategoryID] = parentID
		children[parentID] = append(children[parentID], c)
	}

	for _, list := range children {
		sortSiblings(list, bySortOrder)
	}

	coords := make(map[int64]*models.Coordinates, len(cats))
	counter := 1
	var visit func(c *models.Category, depth int)
	visit = func(c *models.Category, depth int) {
		co := &models.Coordinates{
			CategoryID:       c.CategoryID,
			ParentCategoryID: parents[c.CategoryID],
			TreeLeft:         counter,
			Depth:            depth,
			CountCategories:  len(children[c.CategoryID]),
		}
		coords[c.CategoryID] = co
		counter++
		for _, child := range children[c.CategoryID] {
			visit(child, depth+1)
		}
		co.TreeRight = counter
		counter++
	}
	visit(byID[models.RootID], 0)

	if len(coords) != len(byID) {
		var stuck []int64
		for id := range byID {
			if _, ok := coords[id]; !ok {
				stuck = append(stuck, id)
			}
		}
		slices.Sort(stuck)
		return nil, apperr.Consistency("parent cycle between categories %v", stuck)
	}

	out := make([]models.Coordinates, 0, len(coords))
	for _, co := range coords {
		out = append(out, *co)
	}
	slices.SortFunc(out, func(a, b models.Coordinates) int {
		return cmp.Compare(a.TreeLeft, b.TreeLeft)
	})
	return out, nil
}

// RecalculateDepth recomputes only the Depth column for the subtrees rooted
// at scope (nil means the whole forest). Walks are bounded by
// models.MaxTreeDepth so corrupted parent pointers end in an error instead
// of a loop.
func (b *Builder) RecalculateDepth(ctx context.Context, scope []int64) error {
	cats, err := b.store.ListCategories(ctx)
	if err != nil {
		return fmt.Errorf("recalculate depth: %w", err)
	}
	byID := indexByID(cats)

	children := make(map[int64][]*models.Category, len(cats))
	for _, c := range cats {
		if c.IsRoot() {
			continue
		}
		parentID := normalizeParent(c.ParentCategoryID)
		if _, ok := byID[parentID]; !ok {
			parentID = models.RootID
		}
		children[parentID] = append(children[parentID], c)
	}

	depths := make(map[int64]int)
	var frontier []*models.Category
	if scope == nil {
		root, ok := byID[models.RootID]
		if !ok {
			return apperr.Consistency("category tree has no root")
		}
		depths[models.RootID] = 0
		frontier = []*models.Category{root}
	} else {
		for _, id := range scope {
			c, ok := byID[id]
			if !ok {
				return apperr.NotFound("category", id)
			}
			d, err := depthOf(c, byID)
			if err != nil {
				return err
			}
			depths[id] = d
			frontier = append(frontier, c)
		}
	}

	for len(frontier) > 0 {
		var next []*models.Category
		for _, c := range frontier {
			d := depths[c.CategoryID]
			for _, child := range children[c.CategoryID] {
				if d+1 > models.MaxTreeDepth {
					return apperr.Consistency("category %d is deeper than %d levels", child.CategoryID, models.MaxTreeDepth)
				}
				depths[child.CategoryID] = d + 1
				next = append(next, child)
			}
		}
		frontier = next
	}

	var changed []models.Coordinates
	for id, d := range depths {
		c := byID[id]
		if c.Depth == d {
			continue
		}
		changed = append(changed, models.Coordinates{
			CategoryID:       c.CategoryID,
			ParentCategoryID: c.ParentCategoryID,
			TreeLeft:         c.TreeLeft,
			TreeRight:        c.TreeRight,
			Depth:            d,
			CountCategories:  c.CountCategories,
		})
	}
	if len(changed) == 0 {
		return nil
	}
	if err := b.store.UpdateCoordinates(ctx, changed); err != nil {
		return fmt.Errorf("recalculate depth: %w", err)
	}
	b.logger.Info("category depth recalculated", "changed", len(changed))
	return nil
}

// SaveTree applies a pre-ordered list of (category, parent, sort) entries
// and rebuilds coordinates by sort order. A parent that appears in the list
// must appear before its children. It returns the IDs whose parent changed.
func (b *Builder) SaveTree(ctx context.Context, items []models.TreeItem) ([]int64, error) {
	cats, err := b.store.ListCategories(ctx)
	if err != nil {
		return nil, fmt.Errorf("save tree: %w", err)
	}
	byID := indexByID(cats)

	listed := make(map[int64]bool, len(items))
	for _, it := range items {
		listed[it.CategoryID] = true
	}

	parents := make(map[int64]int64, len(cats))
	for _, c := range cats {
		parents[c.CategoryID] = normalizeParent(c.ParentCategoryID)
	}

	touched := make(map[int64]bool, len(items))
	normalized := make([]models.TreeItem, 0, len(items))
	var moved []int64
	for _, it := range items {
		if it.CategoryID == models.RootID {
			return nil, apperr.Invalid("the root category cannot be moved")
		}
		c, ok := byID[it.CategoryID]
		if !ok {
			return nil, apperr.NotFound("category", it.CategoryID)
		}
		parentID := normalizeParent(it.ParentCategoryID)
		if _, ok := byID[parentID]; !ok {
			return nil, apperr.NotFound("parent category", parentID)
		}
		if listed[parentID] && !touched[parentID] {
			return nil, apperr.Consistency("category %d was saved before its parent %d", it.CategoryID, parentID)
		}
		touched[it.CategoryID] = true

		if normalizeParent(c.ParentCategoryID) != parentID {
			moved = append(moved, it.CategoryID)
		}
		parents[it.CategoryID] = parentID
		it.ParentCategoryID = parentID
		normalized = append(normalized, it)
	}

	for _, it := range normalized {
		if err := checkAcyclic(it.CategoryID, parents); err != nil {
			return nil, err
		}
	}

	if err := b.store.UpdateTreeItems(ctx, normalized); err != nil {
		return nil, fmt.Errorf("save tree: %w", err)
	}
	if _, err := b.RebuildTree(ctx, true); err != nil {
		return nil, err
	}
	return moved, nil
}

// ValidateParent reports whether id may be placed under parentID without
// creating a cycle.
func ValidateParent(cats []*models.Category, id, parentID int64) error {
	parentID = normalizeParent(parentID)
	parents := make(map[int64]int64, len(cats))
	found := false
	for _, c := range cats {
		parents[c.CategoryID] = normalizeParent(c.ParentCategoryID)
		if c.CategoryID == parentID {
			found = true
		}
	}
	if !found {
		return apperr.NotFound("parent category", parentID)
	}
	parents[id] = parentID
	return checkAcyclic(id, parents)
}

// checkAcyclic walks up from id and fails if it meets id again or exceeds
// the depth bound.
func checkAcyclic(id int64, parents map[int64]int64) error {
	cur := parents[id]
	for steps := 0; cur != models.RootID && cur != 0; steps++ {
		if cur == id {
			return apperr.Invalid("category %d cannot be moved into its own subtree", id)
		}
		if steps > models.MaxTreeDepth {
			return apperr.Consistency("parent chain of category %d does not reach the root", id)
		}
		next, ok := parents[cur]
		if !ok {
			return nil
		}
		cur = next
	}
	return nil
}

// depthOf counts the ancestors of c, bounded by models.MaxTreeDepth.
func depthOf(c *models.Category, byID map[int64]*models.Category) (int, error) {
	if c.IsRoot() {
		return 0, nil
	}
	depth := 1
	cur := normalizeParent(c.ParentCategoryID)
	for cur != models.RootID {
		if depth > models.MaxTreeDepth {
			return 0, apperr.Consistency("parent chain of category %d does not reach the root", c.CategoryID)
		}
		p, ok := byID[cur]
		if !ok {
			break
		}
		cur = normalizeParent(p.ParentCategoryID)
		depth++
	}
	return depth, nil
}

func sortSiblings(list []*models.Category, bySortOrder bool) {
	slices.SortStableFunc(list, func(a, b *models.Category) int {
		if bySortOrder {
			if c := cmp.Compare(a.Sort, b.Sort); c != 0 {
				return c
			}
		} else {
			if c := cmp.Compare(placement(a), placement(b)); c != 0 {
				return c
			}
		}
		if c := cmp.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return cmp.Compare(a.CategoryID, b.CategoryID)
	})
}

// placement orders rows by TreeLeft, putting never-placed rows last.
func placement(c *models.Category) int {
	if c.TreeLeft <= 0 {
		return math.MaxInt
	}
	return c.TreeLeft
}

func normalizeParent(id int64) int64 {
	if id == 0 {
		return models.RootID
	}
	return id
}

func hasRoot(cats []*models.Category) bool {
	for _, c := range cats {
		if c.IsRoot() {
			return true
		}
	}
	return false
}

func indexByID(cats []*models.Category) map[int64]*models.Category {
	m := make(map[int64]*models.Category, len(cats))
	for _, c := range cats {
		m[c.CategoryID] = c
	}
	return m
}

func sameCoordinates(c *models.Category, co models.Coordinates) bool {
	parent := c.ParentCategoryID
	if !c.IsRoot() {
		parent = normalizeParent(parent)
	}
	return parent == co.ParentCategoryID &&
		c.TreeLeft == co.TreeLeft &&
		c.TreeRight == co.TreeRight &&
		c.Depth == co.Depth &&
		c.CountCategories == co.CountCategories
}
