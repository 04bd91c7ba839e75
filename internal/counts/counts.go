// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

// Package counts maintains direct and aggregate discussion/comment counts.
// Aggregates include every descendant. Incremental adjustments are not
// atomic across an ancestor chain; RecalculateAggregateCounts is the
// recovery path for drift.
package counts

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"forumcat/internal/apperr"
	"forumcat/internal/models"
)

// Kind selects which counter an adjustment targets.
type Kind int

const (
	Discussions Kind = iota
	Comments
)

func (k Kind) String() string {
	switch k {
	case Discussions:
		return "discussions"
	case Comments:
		return "comments"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind maps a record type name to a Kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "discussion", "discussions":
		return Discussions, nil
	case "comment", "comments":
		return Comments, nil
	}
	return 0, apperr.NotFound("record type", s)
}

// Storage is the persistence port of the engine.
type Storage interface {
	ListCategories(ctx context.Context) ([]*models.Category, error)
	GetCategory(ctx context.Context, id int64) (*models.Category, error)
	AncestorIDs(ctx context.Context, id int64) ([]int64, error)
	AdjustAggregateCounts(ctx context.Context, ids []int64, discussions, comments int) error
	AdjustDirectCounts(ctx context.Context, id int64, discussions, comments int) error
	ResetAggregateCounts(ctx context.Context, ids []int64) error
	RollUpAggregateCounts(ctx context.Context, depth int, parentIDs []int64) error
	CountContent(ctx context.Context, categoryIDs []int64) (discussions, comments int, err error)
}

// Engine adjusts and recomputes counts through a Storage.
type Engine struct {
	store  Storage
	logger *slog.Logger
}

// New returns an Engine. A nil logger falls back to slog.Default().
func New(store Storage, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: store, logger: logger}
}

// IncrementAggregateCount adds offset to the aggregate column of id and of
// every ancestor. It returns the touched IDs, deepest first.
func (e *Engine) IncrementAggregateCount(ctx context.Context, id int64, kind Kind, offset int) ([]int64, error) {
	ids, err := e.store.AncestorIDs(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("increment aggregate count: %w", err)
	}
	d, c := split(kind, offset)
	if err := e.store.AdjustAggregateCounts(ctx, ids, d, c); err != nil {
		return nil, fmt.Errorf("increment aggregate count: %w", err)
	}
	return ids, nil
}

// DecrementAggregateCount subtracts offset along the ancestor chain.
func (e *Engine) DecrementAggregateCount(ctx context.Context, id int64, kind Kind, offset int) ([]int64, error) {
	return e.IncrementAggregateCount(ctx, id, kind, -offset)
}

// RecalculateAggregateCounts resets aggregates to the direct counts and
// rolls every depth level into its parents, deepest level first. A nil
// scope recomputes the whole forest. Otherwise only the subtrees rooted at
// scope and their ancestor chains are recomputed; other nodes are assumed
// correct and contribute their current aggregates.
func (e *Engine) RecalculateAggregateCounts(ctx context.Context, scope []int64) error {
	cats, err := e.store.ListCategories(ctx)
	if err != nil {
		return fmt.Errorf("recalculate aggregate counts: %w", err)
	}

	maxDepth := 0
	for _, c := range cats {
		maxDepth = max(maxDepth, c.Depth)
	}

	var affected []int64
	if scope != nil {
		affected = affectedIDs(cats, scope)
		if len(affected) == 0 {
			return nil
		}
	}

	if err := e.store.ResetAggregateCounts(ctx, affected); err != nil {
		return fmt.Errorf("recalculate aggregate counts: %w", err)
	}
	for depth := maxDepth; depth >= 1; depth-- {
		if err := e.store.RollUpAggregateCounts(ctx, depth, affected); err != nil {
			return fmt.Errorf("recalculate aggregate counts at depth %d: %w", depth, err)
		}
	}

	e.logger.Info("aggregate counts recalculated",
		"scoped", scope != nil,
		"affected", len(affected),
		"levels", maxDepth,
	)
	return nil
}

// Delta is the change applied by RecountCategory.
type Delta struct {
	Discussions int
	Comments    int
}

// RecountCategory recomputes the direct counts of id from its content rows
// and shifts every ancestor aggregate by the difference.
func (e *Engine) RecountCategory(ctx context.Context, id int64) (Delta, error) {
	cat, err := e.store.GetCategory(ctx, id)
	if err != nil {
		return Delta{}, fmt.Errorf("recount category: %w", err)
	}
	discussions, comments, err := e.store.CountContent(ctx, []int64{id})
	if err != nil {
		return Delta{}, fmt.Errorf("recount category: %w", err)
	}

	delta := Delta{
		Discussions: discussions - cat.CountDiscussions,
		Comments:    comments - cat.CountComments,
	}
	if delta == (Delta{}) {
		return delta, nil
	}
	if err := e.store.AdjustDirectCounts(ctx, id, delta.Discussions, delta.Comments); err != nil {
		return Delta{}, fmt.Errorf("recount category: %w", err)
	}
	ids, err := e.store.AncestorIDs(ctx, id)
	if err != nil {
		return Delta{}, fmt.Errorf("recount category: %w", err)
	}
	if err := e.store.AdjustAggregateCounts(ctx, ids, delta.Discussions, delta.Comments); err != nil {
		return Delta{}, fmt.Errorf("recount category: %w", err)
	}
	return delta, nil
}

// affectedIDs returns the scope nodes, their descendants and their
// ancestors.
func affectedIDs(cats []*models.Category, scope []int64) []int64 {
	byID := make(map[int64]*models.Category, len(cats))
	for _, c := range cats {
		byID[c.CategoryID] = c
	}
	seen := make(map[int64]bool)
	for _, id := range scope {
		s, ok := byID[id]
		if !ok {
			continue
		}
		for _, c := range cats {
			if c.CategoryID == s.CategoryID || s.Contains(c) || c.Contains(s) {
				seen[c.CategoryID] = true
			}
		}
	}
	ids := make([]int64, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func split(kind Kind, offset int) (discussions, comments int) {
	if kind == Comments {
		return 0, offset
	}
	return offset, 0
}
