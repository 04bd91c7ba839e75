// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

package category

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"forumcat/internal/apperr"
	"forumcat/internal/events"
	"forumcat/internal/models"
)

// DeleteOptions selects between merging into a replacement and cascading.
type DeleteOptions struct {
	// ReplacementID receives the discussions and tags of every deleted
	// category. Zero deletes the content instead.
	ReplacementID int64 `json:"replacement_id"`
	// MoveSubcategories keeps the subcategories: they are re-parented
	// under the replacement, or under the deleted category's parent when
	// there is no replacement.
	MoveSubcategories bool `json:"move_subcategories"`
}

// StepResult reports the progress of one DeleteTask step.
type StepResult struct {
	Done      bool `json:"done"`
	Processed int  `json:"processed"`
	Remaining int  `json:"remaining"`
}

// DeleteTask deletes a category in bounded steps. Discussions are moved
// or removed a batch at a time; the category rows go in the final step.
// A task rebuilt with the same arguments after a crash picks up where the
// previous one stopped, since finished batches leave nothing behind.
type DeleteTask struct {
	m         *Model
	id        int64
	parentID  int64
	opts      DeleteOptions
	scope     []int64
	children  []*models.Category
	processed int
	done      bool
}

// Delete removes a category to completion. See DeleteTask.
func (m *Model) Delete(ctx context.Context, id int64, opts DeleteOptions) (err error) {
	ctx, span := tracer.Start(ctx, "Model.Delete", trace.WithAttributes(
		attribute.Int64("category.id", id),
		attribute.Int64("category.replacement_id", opts.ReplacementID),
	))
	defer func() { finish(span, "delete", err) }()

	task, err := m.NewDeleteTask(ctx, id, opts)
	if err != nil {
		return err
	}
	for {
		res, err := task.Step(ctx, m.opts.DeleteBatchSize)
		if err != nil {
			return err
		}
		if res.Done {
			return nil
		}
	}
}

// NewDeleteTask validates a delete request and captures the categories it
// will touch.
func (m *Model) NewDeleteTask(ctx context.Context, id int64, opts DeleteOptions) (*DeleteTask, error) {
	if id == models.RootID {
		return nil, apperr.Invalid("the root category cannot be deleted")
	}
	cats, err := m.store.ListCategories(ctx)
	if err != nil {
		return nil, fmt.Errorf("delete category: %w", err)
	}
	node := findCategory(cats, id)
	if node == nil {
		return nil, apperr.NotFound("category", id)
	}

	if r := opts.ReplacementID; r != 0 {
		repl := findCategory(cats, r)
		switch {
		case repl == nil:
			return nil, apperr.NotFound("replacement category", r)
		case r == id, node.Contains(repl):
			return nil, apperr.Invalid("category %d cannot replace itself or its ancestor %d", r, id)
		case repl.IsRoot():
			return nil, apperr.Invalid("the root category cannot be a replacement")
		}
	}

	t := &DeleteTask{m: m, id: id, parentID: node.ParentCategoryID, opts: opts}
	if opts.MoveSubcategories {
		t.scope = []int64{id}
		for _, c := range cats {
			if c.ParentCategoryID == id && !c.IsRoot() {
				t.children = append(t.children, c)
			}
		}
	} else {
		sub := []*models.Category{node}
		for _, c := range cats {
			if node.Contains(c) {
				sub = append(sub, c)
			}
		}
		slices.SortStableFunc(sub, func(a, b *models.Category) int {
			return cmp.Compare(b.Depth, a.Depth)
		})
		for _, c := range sub {
			t.scope = append(t.scope, c.CategoryID)
		}
	}
	return t, nil
}

// Total returns the number of discussions still to move or delete.
func (t *DeleteTask) Total(ctx context.Context) (int, error) {
	if t.done {
		return 0, nil
	}
	discussions, _, err := t.m.store.CountContent(ctx, t.scope)
	if err != nil {
		return 0, fmt.Errorf("count category content: %w", err)
	}
	return discussions, nil
}

// Step moves or deletes up to batchSize discussions. Once no content is
// left it finalizes the delete and reports Done.
func (t *DeleteTask) Step(ctx context.Context, batchSize int) (StepResult, error) {
	if t.done {
		return StepResult{Done: true, Processed: t.processed}, nil
	}
	if batchSize <= 0 {
		batchSize = DefaultDeleteBatchSize
	}

	n, err := t.content(ctx, batchSize)
	if err != nil {
		return StepResult{}, err
	}
	t.processed += n

	remaining, err := t.Total(ctx)
	if err != nil {
		return StepResult{}, err
	}
	if remaining > 0 {
		return StepResult{Processed: t.processed, Remaining: remaining}, nil
	}

	if err := t.finalize(ctx); err != nil {
		return StepResult{}, err
	}
	t.done = true
	return StepResult{Done: true, Processed: t.processed}, nil
}

// content handles one batch of discussions. Cascades drain the deepest
// category first.
func (t *DeleteTask) content(ctx context.Context, batchSize int) (int, error) {
	if r := t.opts.ReplacementID; r != 0 {
		n, err := t.m.store.MoveDiscussions(ctx, t.scope, r, batchSize)
		if err != nil {
			return 0, fmt.Errorf("move discussions: %w", err)
		}
		return n, nil
	}
	total := 0
	for _, id := range t.scope {
		n, err := t.m.store.DeleteDiscussions(ctx, []int64{id}, batchSize-total)
		if err != nil {
			return total, fmt.Errorf("delete discussions: %w", err)
		}
		total += n
		if total >= batchSize {
			break
		}
	}
	return total, nil
}

// finalize removes the category rows and everything hanging off them, then
// repairs coordinates, permissions and counts.
func (t *DeleteTask) finalize(ctx context.Context) error {
	m := t.m
	r := t.opts.ReplacementID

	if r != 0 {
		if err := m.store.MoveTags(ctx, t.scope, r); err != nil {
			return fmt.Errorf("move tags: %w", err)
		}
	} else if err := m.store.DeleteTags(ctx, t.scope); err != nil {
		return fmt.Errorf("delete tags: %w", err)
	}

	if len(t.children) > 0 {
		newParent := r
		if newParent == 0 {
			newParent = t.parentID
		}
		if _, err := m.perms.OnDelete(ctx, t.id, newParent); err != nil {
			return err
		}
		items := make([]models.TreeItem, len(t.children))
		for i, c := range t.children {
			items[i] = models.TreeItem{CategoryID: c.CategoryID, ParentCategoryID: newParent, Sort: c.Sort}
		}
		if err := m.store.UpdateTreeItems(ctx, items); err != nil {
			return fmt.Errorf("re-parent subcategories: %w", err)
		}
	}

	if err := m.store.DeletePermissions(ctx, t.scope); err != nil {
		return fmt.Errorf("delete category permissions: %w", err)
	}
	users, err := m.store.DeleteUserCategories(ctx, t.scope)
	if err != nil {
		return fmt.Errorf("delete user categories: %w", err)
	}
	for _, u := range users {
		if err := m.cache.ClearUser(ctx, u); err != nil {
			m.logger.Warn("user category cache clear failed", "user_id", u, "error", err)
		}
	}
	if err := m.store.DeleteCategories(ctx, t.scope); err != nil {
		return fmt.Errorf("delete categories: %w", err)
	}

	if _, err := m.tree.RebuildTree(ctx, true); err != nil {
		return err
	}
	for _, c := range t.children {
		if err := m.perms.OnMove(ctx, c.CategoryID); err != nil {
			return err
		}
	}

	scope := []int64{t.parentID}
	if r != 0 {
		if _, err := m.counts.RecountCategory(ctx, r); err != nil {
			return err
		}
		scope = append(scope, r)
	}
	if err := m.counts.RecalculateAggregateCounts(ctx, scope); err != nil {
		return err
	}
	m.invalidate(ctx)

	m.logger.Info("category deleted",
		"category_id", t.id,
		"replacement_id", r,
		"deleted", len(t.scope),
		"moved_subcategories", len(t.children),
		"content", t.processed,
	)
	m.publish(ctx, events.TypeCategoryDeleted, t.id, events.DeletedData{
		CategoryID:    t.id,
		ReplacementID: r,
		DeletedIDs:    t.scope,
		MovedItems:    t.processed,
	})
	return nil
}
