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

// InsertDiscussion stores a discussion row and returns its ID.
func (s *Store) InsertDiscussion(_ context.Context, d *models.Discussion) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *d
	cp.DiscussionID = s.nextDiscID
	s.nextDiscID++
	s.discussions[cp.DiscussionID] = &cp
	return cp.DiscussionID, nil
}

// ListDiscussions returns the discussions of a category ordered by ID.
func (s *Store) ListDiscussions(_ context.Context, categoryID int64) ([]models.Discussion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Discussion
	for _, d := range s.discussions {
		if d.CategoryID == categoryID {
			out = append(out, *d)
		}
	}
	slices.SortFunc(out, func(a, b models.Discussion) int {
		return cmp.Compare(a.DiscussionID, b.DiscussionID)
	})
	return out, nil
}

// CountContent totals discussions and comments across categoryIDs.
func (s *Store) CountContent(_ context.Context, categoryIDs []int64) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	in := idSet(categoryIDs)
	var discussions, comments int
	for _, d := range s.discussions {
		if in[d.CategoryID] {
			discussions++
			comments += d.CountComments
		}
	}
	return discussions, comments, nil
}

// MoveDiscussions re-points up to limit discussions from the given
// categories to target. It returns how many moved.
func (s *Store) MoveDiscussions(_ context.Context, from []int64, target int64, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	in := idSet(from)
	moved := 0
	for _, id := range s.sortedDiscussionIDsLocked() {
		if limit > 0 && moved == limit {
			break
		}
		d := s.discussions[id]
		if in[d.CategoryID] {
			d.CategoryID = target
			moved++
		}
	}
	return moved, nil
}

// DeleteDiscussions removes up to limit discussions (and with them their
// comments) from the given categories. It returns how many were removed.
func (s *Store) DeleteDiscussions(_ context.Context, from []int64, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	in := idSet(from)
	deleted := 0
	for _, id := range s.sortedDiscussionIDsLocked() {
		if limit > 0 && deleted == limit {
			break
		}
		if in[s.discussions[id].CategoryID] {
			delete(s.discussions, id)
			deleted++
		}
	}
	return deleted, nil
}

// InsertTag stores a tag row and returns its ID.
func (s *Store) InsertTag(_ context.Context, t *models.Tag) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	cp.TagID = s.nextTagID
	s.nextTagID++
	s.tags[cp.TagID] = &cp
	return cp.TagID, nil
}

// ListTags returns the tags scoped to a category.
func (s *Store) ListTags(_ context.Context, categoryID int64) ([]models.Tag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Tag
	for _, t := range s.tags {
		if t.CategoryID == categoryID {
			out = append(out, *t)
		}
	}
	return out, nil
}

// MoveTags re-points category-scoped tags to target.
func (s *Store) MoveTags(_ context.Context, from []int64, target int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	in := idSet(from)
	for _, t := range s.tags {
		if in[t.CategoryID] {
			t.CategoryID = target
		}
	}
	return nil
}

// DeleteTags removes category-scoped tags.
func (s *Store) DeleteTags(_ context.Context, from []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	in := idSet(from)
	for id, t := range s.tags {
		if in[t.CategoryID] {
			delete(s.tags, id)
		}
	}
	return nil
}

func (s *Store) sortedDiscussionIDsLocked() []int64 {
	ids := make([]int64, 0, len(s.discussions))
	for id := range s.discussions {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func idSet(ids []int64) map[int64]bool {
	m := make(map[int64]bool, len(ids))
	for _, id := range ids {
		m[id] = true
	}
	return m
}
