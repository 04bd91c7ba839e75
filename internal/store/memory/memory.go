// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

// Package memory is an in-process implementation of every storage port
// used by the category tree. It backs STORE_DRIVER=memory and the unit
// tests of the tree, count, permission, follow, and category packages.
package memory

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"sync"

	"forumcat/internal/apperr"
	"forumcat/internal/models"
)

// Store holds categories, content, permission grants, and per-user
// category rows in maps guarded by a single mutex.
type Store struct {
	mu sync.Mutex

	categories   map[int64]*models.Category
	nextID       int64
	discussions  map[int64]*models.Discussion
	nextDiscID   int64
	tags         map[int64]*models.Tag
	nextTagID    int64
	grants       []models.Grant
	userRoles    map[int64][]int64
	userCategory map[userCategoryKey]*models.UserCategory
}

type userCategoryKey struct {
	userID     int64
	categoryID int64
}

// New returns an empty Store. The root category is created by the first
// tree rebuild.
func New() *Store {
	return &Store{
		categories:   make(map[int64]*models.Category),
		nextID:       1,
		discussions:  make(map[int64]*models.Discussion),
		nextDiscID:   1,
		tags:         make(map[int64]*models.Tag),
		nextTagID:    1,
		userRoles:    make(map[int64][]int64),
		userCategory: make(map[userCategoryKey]*models.UserCategory),
	}
}

// ---------------------------------------------------------------------------
// Categories
// ---------------------------------------------------------------------------

// ListCategories returns copies of every category ordered by TreeLeft.
func (s *Store) ListCategories(_ context.Context) ([]*models.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedLocked(), nil
}

func (s *Store) sortedLocked() []*models.Category {
	out := make([]*models.Category, 0, len(s.categories))
	for _, c := range s.categories {
		out = append(out, c.Clone())
	}
	slices.SortFunc(out, func(a, b *models.Category) int {
		if c := cmp.Compare(a.TreeLeft, b.TreeLeft); c != 0 {
			return c
		}
		return cmp.Compare(a.CategoryID, b.CategoryID)
	})
	return out
}

// GetCategory returns a copy of a single category.
func (s *Store) GetCategory(_ context.Context, id int64) (*models.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.categories[id]
	if !ok {
		return nil, apperr.NotFound("category", id)
	}
	return c.Clone(), nil
}

// GetCategoryByURLCode finds a category by its URL code, case-insensitively.
func (s *Store) GetCategoryByURLCode(_ context.Context, code string) (*models.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.categories {
		if c.UrlCode != "" && strings.EqualFold(c.UrlCode, code) {
			return c.Clone(), nil
		}
	}
	return nil, apperr.NotFound("category", code)
}

// InsertCategory stores a new category and returns its ID.
func (s *Store) InsertCategory(_ context.Context, c *models.Category) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkURLCodeLocked(c.UrlCode, 0); err != nil {
		return 0, err
	}
	cp := c.Clone()
	cp.CategoryID = s.nextID
	s.nextID++
	s.categories[cp.CategoryID] = cp
	return cp.CategoryID, nil
}

// InsertRoot stores the virtual root row.
func (s *Store) InsertRoot(_ context.Context, root *models.Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.categories[models.RootID]; ok {
		return apperr.AlreadyExists("category", "id", "-1")
	}
	s.categories[models.RootID] = root.Clone()
	return nil
}

// UpdateCategory replaces the editable columns of an existing category.
// Coordinates and counts are left alone.
func (s *Store) UpdateCategory(_ context.Context, c *models.Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.categories[c.CategoryID]
	if !ok {
		return apperr.NotFound("category", c.CategoryID)
	}
	if err := s.checkURLCodeLocked(c.UrlCode, c.CategoryID); err != nil {
		return err
	}
	cur.ParentCategoryID = c.ParentCategoryID
	cur.Sort = c.Sort
	cur.Name = c.Name
	cur.UrlCode = c.UrlCode
	cur.Description = c.Description
	cur.PermissionCategoryID = c.PermissionCategoryID
	cur.DisplayAs = c.DisplayAs
	cur.Archived = c.Archived
	cur.HideAllDiscussions = c.HideAllDiscussions
	cur.DateUpdated = c.DateUpdated
	cur.UpdateUserID = c.UpdateUserID
	return nil
}

// PatchCategory applies a partial update. Followed is not a column and is
// dropped.
func (s *Store) PatchCategory(_ context.Context, id int64, p models.Patch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.categories[id]
	if !ok {
		return apperr.NotFound("category", id)
	}
	p.Followed = nil
	p.Apply(c)
	return nil
}

// DeleteCategories removes categories by ID. Missing IDs are ignored.
func (s *Store) DeleteCategories(_ context.Context, ids []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.categories, id)
	}
	return nil
}

// SearchCategories returns categories whose name contains query
// (case-insensitive) and whose TreeLeft lies within (left, right). A zero
// right bound disables the range restriction.
func (s *Store) SearchCategories(_ context.Context, query string, left, right, limit int) ([]*models.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := strings.ToLower(query)
	var out []*models.Category
	for _, c := range s.sortedLocked() {
		if c.IsRoot() || !strings.Contains(strings.ToLower(c.Name), q) {
			continue
		}
		if right > 0 && (c.TreeLeft <= left || c.TreeLeft >= right) {
			continue
		}
		out = append(out, c)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) checkURLCodeLocked(code string, selfID int64) error {
	if code == "" {
		return nil
	}
	for _, c := range s.categories {
		if c.CategoryID != selfID && strings.EqualFold(c.UrlCode, code) {
			return apperr.AlreadyExists("category", "url code", code)
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Tree coordinates and permission pointers
// ---------------------------------------------------------------------------

// UpdateCoordinates writes rebuilt tree positions.
func (s *Store) UpdateCoordinates(_ context.Context, coords []models.Coordinates) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, co := range coords {
		c, ok := s.categories[co.CategoryID]
		if !ok {
			continue
		}
		c.ParentCategoryID = co.ParentCategoryID
		c.TreeLeft = co.TreeLeft
		c.TreeRight = co.TreeRight
		c.Depth = co.Depth
		c.CountCategories = co.CountCategories
	}
	return nil
}

// UpdateTreeItems writes new parents and sort positions.
func (s *Store) UpdateTreeItems(_ context.Context, items []models.TreeItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, it := range items {
		c, ok := s.categories[it.CategoryID]
		if !ok {
			return apperr.NotFound("category", it.CategoryID)
		}
		c.ParentCategoryID = it.ParentCategoryID
		c.Sort = it.Sort
	}
	return nil
}

// SetPermissionCategory points every listed category at ownerID.
func (s *Store) SetPermissionCategory(_ context.Context, ids []int64, ownerID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if c, ok := s.categories[id]; ok {
			c.PermissionCategoryID = ownerID
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Aggregate counts
// ---------------------------------------------------------------------------

// AncestorIDs returns id and every ancestor, deepest first.
func (s *Store) AncestorIDs(_ context.Context, id int64) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	self, ok := s.categories[id]
	if !ok {
		return nil, apperr.NotFound("category", id)
	}
	var chain []*models.Category
	for _, c := range s.categories {
		if c.TreeLeft <= self.TreeLeft && c.TreeRight >= self.TreeRight {
			chain = append(chain, c)
		}
	}
	slices.SortFunc(chain, func(a, b *models.Category) int {
		return cmp.Compare(b.Depth, a.Depth)
	})
	ids := make([]int64, len(chain))
	for i, c := range chain {
		ids[i] = c.CategoryID
	}
	return ids, nil
}

// AdjustAggregateCounts adds the offsets to the aggregate columns of ids.
func (s *Store) AdjustAggregateCounts(_ context.Context, ids []int64, discussions, comments int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if c, ok := s.categories[id]; ok {
			c.CountAllDiscussions += discussions
			c.CountAllComments += comments
		}
	}
	return nil
}

// AdjustDirectCounts adds the offsets to the direct count columns of id.
func (s *Store) AdjustDirectCounts(_ context.Context, id int64, discussions, comments int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.categories[id]
	if !ok {
		return apperr.NotFound("category", id)
	}
	c.CountDiscussions += discussions
	c.CountComments += comments
	return nil
}

// ResetAggregateCounts copies direct counts into the aggregate columns of
// ids, or of every category when ids is nil.
func (s *Store) ResetAggregateCounts(_ context.Context, ids []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	reset := func(c *models.Category) {
		c.CountAllDiscussions = c.CountDiscussions
		c.CountAllComments = c.CountComments
	}
	if ids == nil {
		for _, c := range s.categories {
			reset(c)
		}
		return nil
	}
	for _, id := range ids {
		if c, ok := s.categories[id]; ok {
			reset(c)
		}
	}
	return nil
}

// RollUpAggregateCounts adds the aggregates of every category at depth into
// its parent. A non-nil parentIDs restricts which parents receive sums.
func (s *Store) RollUpAggregateCounts(_ context.Context, depth int, parentIDs []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var allowed map[int64]bool
	if parentIDs != nil {
		allowed = make(map[int64]bool, len(parentIDs))
		for _, id := range parentIDs {
			allowed[id] = true
		}
	}
	sums := make(map[int64][2]int)
	for _, c := range s.categories {
		if c.Depth != depth || c.IsRoot() {
			continue
		}
		sum := sums[c.ParentCategoryID]
		sum[0] += c.CountAllDiscussions
		sum[1] += c.CountAllComments
		sums[c.ParentCategoryID] = sum
	}
	for parentID, sum := range sums {
		if allowed != nil && !allowed[parentID] {
			continue
		}
		if p, ok := s.categories[parentID]; ok {
			p.CountAllDiscussions += sum[0]
			p.CountAllComments += sum[1]
		}
	}
	return nil
}
