// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

package category

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"forumcat/internal/apperr"
	"forumcat/internal/events"
	"forumcat/internal/models"
	"forumcat/internal/tree"
)

// MoveSubtree places id, with everything below it, under parentID at the
// given sibling position.
func (m *Model) MoveSubtree(ctx context.Context, id, parentID int64, sort int, userID int64) error {
	return m.SaveTree(ctx, []models.TreeItem{{
		CategoryID:       id,
		ParentCategoryID: parentID,
		Sort:             sort,
	}}, userID)
}

// SaveTree applies an ordered list of (category, parent, sort) entries in
// one pass. Parents listed in items must come before their children.
// Every re-parented category takes its new parent's permission owner
// unless it holds custom permissions, then aggregates are recomputed.
func (m *Model) SaveTree(ctx context.Context, items []models.TreeItem, userID int64) (err error) {
	ctx, span := tracer.Start(ctx, "Model.SaveTree")
	span.SetAttributes(attribute.Int("tree.items", len(items)))
	defer func() { finish(span, "save_tree", err) }()

	if len(items) == 0 {
		return nil
	}
	for _, it := range items {
		if err := validateStruct(it); err != nil {
			return err
		}
	}

	cats, err := m.store.ListCategories(ctx)
	if err != nil {
		return fmt.Errorf("save category tree: %w", err)
	}
	if err := checkTreeDepth(cats, items); err != nil {
		return err
	}

	moved, err := m.tree.SaveTree(ctx, items)
	if err != nil {
		return err
	}
	for _, id := range moved {
		if err := m.perms.OnMove(ctx, id); err != nil {
			return err
		}
	}
	if len(moved) > 0 {
		if err := m.counts.RecalculateAggregateCounts(ctx, nil); err != nil {
			return err
		}
	}
	m.invalidate(ctx)

	m.logger.Info("category tree saved", "items", len(items), "moved", len(moved))
	for _, id := range moved {
		cat, err := m.store.GetCategory(ctx, id)
		if err != nil {
			m.logger.Warn("moved category vanished before publish", "category_id", id, "error", err)
			continue
		}
		m.publish(ctx, events.TypeCategoryUpdated, id, categoryData(cat, userID))
	}
	return nil
}

// checkTreeDepth applies items to a copy of cats and rejects the save when
// any category would end up deeper than models.MaxTreeDepth. Cycles and
// ordering problems are left to the tree builder.
func checkTreeDepth(cats []*models.Category, items []models.TreeItem) error {
	planned := make([]*models.Category, len(cats))
	byID := make(map[int64]*models.Category, len(cats))
	for i, c := range cats {
		planned[i] = c.Clone()
		byID[c.CategoryID] = planned[i]
	}
	for _, it := range items {
		c, ok := byID[it.CategoryID]
		if !ok {
			return apperr.NotFound("category", it.CategoryID)
		}
		c.ParentCategoryID = normalizeParent(it.ParentCategoryID)
		c.Sort = it.Sort
	}
	coords, err := tree.Compute(planned, true)
	if err != nil {
		return nil
	}
	for _, co := range coords {
		if co.Depth > models.MaxTreeDepth {
			return apperr.Invalid("categories cannot be nested deeper than %d levels", models.MaxTreeDepth)
		}
	}
	return nil
}
