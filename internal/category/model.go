// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

// Package category is the public face of the category tree. It validates
// and writes category rows, then drives the tree builder, the permission
// resolver, the count engine and the cache coordinator in that order.
// Reads are served from the cache.
package category

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"forumcat/internal/apperr"
	"forumcat/internal/counts"
	"forumcat/internal/events"
	"forumcat/internal/metrics"
	"forumcat/internal/models"
	"forumcat/internal/permission"
	"forumcat/internal/slug"
	"forumcat/internal/tree"
)

var tracer = otel.Tracer("forumcat/category")

// DefaultDeleteBatchSize is the number of discussions a delete step moves
// or removes when no batch size is configured.
const DefaultDeleteBatchSize = 500

// Storage is the persistence port of the model. It is a superset of the
// ports of the components the model drives.
type Storage interface {
	tree.Storage
	permission.Storage
	counts.Storage

	GetCategoryByURLCode(ctx context.Context, code string) (*models.Category, error)
	InsertCategory(ctx context.Context, c *models.Category) (int64, error)
	UpdateCategory(ctx context.Context, c *models.Category) error
	PatchCategory(ctx context.Context, id int64, p models.Patch) error
	DeleteCategories(ctx context.Context, ids []int64) error
	SearchCategories(ctx context.Context, query string, left, right, limit int) ([]*models.Category, error)

	MoveDiscussions(ctx context.Context, from []int64, target int64, limit int) (int, error)
	DeleteDiscussions(ctx context.Context, from []int64, limit int) (int, error)
	MoveTags(ctx context.Context, from []int64, target int64) error
	DeleteTags(ctx context.Context, from []int64) error
	DeletePermissions(ctx context.Context, categoryIDs []int64) error
	DeleteUserCategories(ctx context.Context, categoryIDs []int64) ([]int64, error)
}

// Cache is the read side of the model.
type Cache interface {
	Get(ctx context.Context, id int64) (*models.Category, error)
	List(ctx context.Context) ([]*models.Category, error)
	Invalidate(ctx context.Context) error
	InvalidateDeferred()
	SetDeferredCache(id int64, p models.Patch)
	UserCategories(ctx context.Context, userID int64) (map[int64]models.UserCategory, error)
	ClearUser(ctx context.Context, userID int64) error
	Junctions(ctx context.Context) ([]int64, error)
	JunctionAliases(ctx context.Context) (map[int64]int64, error)
}

// Options tunes the model.
type Options struct {
	DeleteBatchSize int
}

// Model orchestrates every category mutation and query.
type Model struct {
	store   Storage
	cache   Cache
	checker permission.Checker
	events  events.Publisher

	tree   *tree.Builder
	perms  *permission.Resolver
	counts *counts.Engine

	opts   Options
	now    func() time.Time
	logger *slog.Logger
}

// New wires a Model. The publisher may be nil.
func New(store Storage, cache Cache, checker permission.Checker, publisher events.Publisher, opts Options, logger *slog.Logger) *Model {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.DeleteBatchSize <= 0 {
		opts.DeleteBatchSize = DefaultDeleteBatchSize
	}
	return &Model{
		store:   store,
		cache:   cache,
		checker: checker,
		events:  publisher,
		tree:    tree.New(store, logger),
		perms:   permission.NewResolver(store, logger),
		counts:  counts.New(store, logger),
		opts:    opts,
		now:     time.Now,
		logger:  logger,
	}
}

// CategoryInput is the payload of Create.
type CategoryInput struct {
	ParentCategoryID   int64              `json:"parent_category_id"`
	Name               string             `json:"name" validate:"required,max=255"`
	UrlCode            string             `json:"url_code" validate:"max=255"`
	Description        string             `json:"description" validate:"max=2000"`
	DisplayAs          models.DisplayMode `json:"display_as" validate:"omitempty,oneof=Discussions Categories Flat Heading"`
	Sort               *int               `json:"sort" validate:"omitempty,gte=0"`
	Archived           bool               `json:"archived"`
	HideAllDiscussions bool               `json:"hide_all_discussions"`
	CustomPermissions  bool               `json:"custom_permissions"`
	UserID             int64              `json:"-"`
}

// UpdateInput is the payload of Update. Nil fields are left untouched.
type UpdateInput struct {
	ParentCategoryID   *int64              `json:"parent_category_id"`
	Name               *string             `json:"name" validate:"omitempty,max=255"`
	UrlCode            *string             `json:"url_code" validate:"omitempty,max=255"`
	Description        *string             `json:"description" validate:"omitempty,max=2000"`
	DisplayAs          *models.DisplayMode `json:"display_as" validate:"omitempty,oneof=Discussions Categories Flat Heading"`
	Sort               *int                `json:"sort" validate:"omitempty,gte=0"`
	Archived           *bool               `json:"archived"`
	HideAllDiscussions *bool               `json:"hide_all_discussions"`
	CustomPermissions  *bool               `json:"custom_permissions"`
	UserID             int64               `json:"-"`
}

// Init makes sure the root exists and coordinates are consistent.
func (m *Model) Init(ctx context.Context) error {
	if _, err := m.tree.RebuildTree(ctx, false); err != nil {
		return fmt.Errorf("init category tree: %w", err)
	}
	return nil
}

// Create inserts a category under its parent, places it last among its
// siblings unless a sort position is given, and returns the stored row.
func (m *Model) Create(ctx context.Context, in CategoryInput) (_ *models.Category, err error) {
	ctx, span := tracer.Start(ctx, "Model.Create")
	defer func() { finish(span, "create", err) }()

	if err := validateStruct(in); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, apperr.Invalid("category name is required")
	}
	display := in.DisplayAs
	if display == "" {
		display = models.DisplayDiscussions
	}

	cats, err := m.store.ListCategories(ctx)
	if err != nil {
		return nil, fmt.Errorf("create category: %w", err)
	}
	parentID := normalizeParent(in.ParentCategoryID)
	parent := findCategory(cats, parentID)
	if parent == nil {
		return nil, apperr.NotFound("parent category", parentID)
	}
	if parent.Depth+1 > models.MaxTreeDepth {
		return nil, apperr.Invalid("categories cannot be nested deeper than %d levels", models.MaxTreeDepth)
	}

	code, err := m.urlCode(ctx, in.UrlCode, name, 0)
	if err != nil {
		return nil, err
	}

	sort := 0
	if in.Sort != nil {
		sort = *in.Sort
	} else {
		for _, c := range cats {
			if !c.IsRoot() && c.ParentCategoryID == parentID {
				sort = max(sort, c.Sort)
			}
		}
		sort++
	}

	now := m.now().UTC()
	id, err := m.store.InsertCategory(ctx, &models.Category{
		ParentCategoryID:     parentID,
		Sort:                 sort,
		Name:                 name,
		UrlCode:              code,
		Description:          in.Description,
		PermissionCategoryID: parent.PermissionCategoryID,
		DisplayAs:            display,
		Archived:             in.Archived,
		HideAllDiscussions:   in.HideAllDiscussions,
		DateInserted:         now,
		DateUpdated:          now,
		InsertUserID:         in.UserID,
		UpdateUserID:         in.UserID,
	})
	if err != nil {
		return nil, fmt.Errorf("create category: %w", err)
	}
	span.SetAttributes(attribute.Int64("category.id", id))

	if _, err := m.tree.RebuildTree(ctx, true); err != nil {
		return nil, err
	}
	if in.CustomPermissions {
		if err := m.perms.SetCustom(ctx, id, true); err != nil {
			return nil, err
		}
	}
	m.invalidate(ctx)

	cat, err := m.store.GetCategory(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("create category: %w", err)
	}
	m.logger.Info("category created", "category_id", id, "parent_id", parentID, "url_code", code)
	m.publish(ctx, events.TypeCategoryCreated, id, categoryData(cat, in.UserID))
	return cat, nil
}

// Update changes the editable fields of a category. A parent change moves
// the whole subtree: coordinates are rebuilt, inherited permissions follow
// the new parent and the aggregates of both the old and the new ancestor
// chain are recomputed.
func (m *Model) Update(ctx context.Context, id int64, in UpdateInput) (_ *models.Category, err error) {
	ctx, span := tracer.Start(ctx, "Model.Update", trace.WithAttributes(attribute.Int64("category.id", id)))
	defer func() { finish(span, "update", err) }()

	if id == models.RootID {
		return nil, apperr.Invalid("the root category cannot be edited")
	}
	if err := validateStruct(in); err != nil {
		return nil, err
	}

	cats, err := m.store.ListCategories(ctx)
	if err != nil {
		return nil, fmt.Errorf("update category: %w", err)
	}
	cur := findCategory(cats, id)
	if cur == nil {
		return nil, apperr.NotFound("category", id)
	}
	oldParent, oldSort := cur.ParentCategoryID, cur.Sort

	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return nil, apperr.Invalid("category name is required")
		}
		cur.Name = name
	}
	if in.UrlCode != nil {
		code, err := m.urlCode(ctx, *in.UrlCode, cur.Name, id)
		if err != nil {
			return nil, err
		}
		cur.UrlCode = code
	}
	if in.Description != nil {
		cur.Description = *in.Description
	}
	if in.DisplayAs != nil {
		cur.DisplayAs = *in.DisplayAs
	}
	if in.Archived != nil {
		cur.Archived = *in.Archived
	}
	if in.HideAllDiscussions != nil {
		cur.HideAllDiscussions = *in.HideAllDiscussions
	}
	if in.Sort != nil {
		cur.Sort = *in.Sort
	}

	moved := false
	if in.ParentCategoryID != nil {
		parentID := normalizeParent(*in.ParentCategoryID)
		if parentID != oldParent {
			if err := tree.ValidateParent(cats, id, parentID); err != nil {
				return nil, err
			}
			if err := checkMoveDepth(cats, cur, parentID); err != nil {
				return nil, err
			}
			cur.ParentCategoryID = parentID
			moved = true
		}
	}
	cur.DateUpdated = m.now().UTC()
	cur.UpdateUserID = in.UserID

	if err := m.store.UpdateCategory(ctx, cur); err != nil {
		return nil, fmt.Errorf("update category: %w", err)
	}

	if moved || cur.Sort != oldSort {
		if _, err := m.tree.RebuildTree(ctx, true); err != nil {
			return nil, err
		}
	}
	if moved {
		if err := m.perms.OnMove(ctx, id); err != nil {
			return nil, err
		}
		if err := m.counts.RecalculateAggregateCounts(ctx, []int64{id, oldParent}); err != nil {
			return nil, err
		}
	}
	if in.CustomPermissions != nil {
		if err := m.perms.SetCustom(ctx, id, *in.CustomPermissions); err != nil {
			return nil, err
		}
	}
	m.invalidate(ctx)

	cat, err := m.store.GetCategory(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("update category: %w", err)
	}
	m.logger.Info("category updated", "category_id", id, "moved", moved)
	m.publish(ctx, events.TypeCategoryUpdated, id, categoryData(cat, in.UserID))
	return cat, nil
}

// Save writes a full category row: a zero CategoryID inserts, anything
// else updates. It returns the category ID.
func (m *Model) Save(ctx context.Context, c *models.Category, userID int64) (int64, error) {
	if c.CategoryID == 0 {
		var sort *int
		if c.Sort > 0 {
			sort = &c.Sort
		}
		cat, err := m.Create(ctx, CategoryInput{
			ParentCategoryID:   c.ParentCategoryID,
			Name:               c.Name,
			UrlCode:            c.UrlCode,
			Description:        c.Description,
			DisplayAs:          c.DisplayAs,
			Sort:               sort,
			Archived:           c.Archived,
			HideAllDiscussions: c.HideAllDiscussions,
			UserID:             userID,
		})
		if err != nil {
			return 0, err
		}
		return cat.CategoryID, nil
	}
	_, err := m.Update(ctx, c.CategoryID, UpdateInput{
		ParentCategoryID:   &c.ParentCategoryID,
		Name:               &c.Name,
		UrlCode:            &c.UrlCode,
		Description:        &c.Description,
		DisplayAs:          &c.DisplayAs,
		Sort:               &c.Sort,
		Archived:           &c.Archived,
		HideAllDiscussions: &c.HideAllDiscussions,
		UserID:             userID,
	})
	return c.CategoryID, err
}

// SetField writes a partial update to storage and queues the same patch
// for the cached snapshot. Use it for hot columns that must not force a
// full cache rebuild.
func (m *Model) SetField(ctx context.Context, id int64, p models.Patch) (err error) {
	ctx, span := tracer.Start(ctx, "Model.SetField", trace.WithAttributes(attribute.Int64("category.id", id)))
	defer func() { finish(span, "set_field", err) }()

	p.Followed = nil
	if p.IsEmpty() {
		return nil
	}
	if p.DisplayAs != nil && !p.DisplayAs.Valid() {
		return apperr.Invalid("unknown display mode %q", *p.DisplayAs)
	}
	if err := m.store.PatchCategory(ctx, id, p); err != nil {
		return fmt.Errorf("set category field: %w", err)
	}
	m.cache.SetDeferredCache(id, p)
	return nil
}

// Get returns one category from the cache.
func (m *Model) Get(ctx context.Context, id int64) (*models.Category, error) {
	return m.cache.Get(ctx, id)
}

// GetByCode returns the category with the given URL code. Codes compare
// case-insensitively.
func (m *Model) GetByCode(ctx context.Context, code string) (*models.Category, error) {
	cats, err := m.cache.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, c := range cats {
		if !c.IsRoot() && strings.EqualFold(c.UrlCode, code) {
			return c, nil
		}
	}
	return nil, apperr.NotFound("category", code)
}

// RecordPost books a new discussion or comment: the direct count of the
// category and the aggregate of every ancestor grow by one, and the
// last-post fields bubble up to every ancestor whose last post is older.
func (m *Model) RecordPost(ctx context.Context, post models.Post) (err error) {
	ctx, span := tracer.Start(ctx, "Model.RecordPost", trace.WithAttributes(
		attribute.Int64("category.id", post.CategoryID),
		attribute.Bool("post.comment", post.IsComment()),
	))
	defer func() { finish(span, "record_post", err) }()

	cat, err := m.cache.Get(ctx, post.CategoryID)
	if err != nil {
		return err
	}
	if !post.IsComment() && !cat.AllowsPosting() {
		return apperr.Forbidden("discussions cannot be posted in category %d", post.CategoryID)
	}

	kind, discussions, comments := counts.Discussions, 1, 0
	if post.IsComment() {
		kind, discussions, comments = counts.Comments, 0, 1
	}
	if err := m.store.AdjustDirectCounts(ctx, post.CategoryID, discussions, comments); err != nil {
		return fmt.Errorf("record post: %w", err)
	}
	touched, err := m.counts.IncrementAggregateCount(ctx, post.CategoryID, kind, 1)
	if err != nil {
		return err
	}

	at := post.DateInserted
	if at.IsZero() {
		at = m.now()
	}
	at = at.UTC()
	for _, id := range touched {
		row, err := m.store.GetCategory(ctx, id)
		if err != nil {
			return fmt.Errorf("record post: %w", err)
		}
		p := models.Patch{
			CountAllDiscussions: models.Ptr(row.CountAllDiscussions),
			CountAllComments:    models.Ptr(row.CountAllComments),
		}
		if id == post.CategoryID {
			p.CountDiscussions = models.Ptr(row.CountDiscussions)
			p.CountComments = models.Ptr(row.CountComments)
		}
		if row.LastDateInserted == nil || !row.LastDateInserted.After(at) {
			last := models.Patch{
				LastDiscussionID: models.Ptr(post.DiscussionID),
				LastCommentID:    models.Ptr(post.CommentID),
				LastDateInserted: models.Ptr(at),
				LastTitle:        models.Ptr(post.Title),
				LastUserID:       models.Ptr(post.UserID),
				LastUrl:          models.Ptr(post.Url),
			}
			if err := m.store.PatchCategory(ctx, id, last); err != nil {
				return fmt.Errorf("record post: %w", err)
			}
			p = p.Merge(last)
		}
		m.cache.SetDeferredCache(id, p)
	}
	return nil
}

// RebuildTree recomputes every coordinate and drops the cache when
// anything moved. It returns the number of rows rewritten.
func (m *Model) RebuildTree(ctx context.Context, bySortOrder bool) (int, error) {
	ctx, span := tracer.Start(ctx, "Model.RebuildTree")
	defer span.End()

	changed, err := m.tree.RebuildTree(ctx, bySortOrder)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}
	if len(changed) > 0 {
		m.invalidate(ctx)
	}
	return len(changed), nil
}

// RecalculateAggregateCounts recomputes aggregates for scope (nil means
// the whole tree) and invalidates the cache.
func (m *Model) RecalculateAggregateCounts(ctx context.Context, scope []int64) error {
	ctx, span := tracer.Start(ctx, "Model.RecalculateAggregateCounts")
	defer span.End()

	if err := m.counts.RecalculateAggregateCounts(ctx, scope); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	m.invalidate(ctx)
	return nil
}

// RecountCategory recomputes the direct counts of one category from its
// content rows.
func (m *Model) RecountCategory(ctx context.Context, id int64) (counts.Delta, error) {
	delta, err := m.counts.RecountCategory(ctx, id)
	if err != nil {
		return counts.Delta{}, err
	}
	if delta != (counts.Delta{}) {
		m.invalidate(ctx)
	}
	return delta, nil
}

// Junctions returns the IDs of every category that owns a permission set.
func (m *Model) Junctions(ctx context.Context) ([]int64, error) {
	return m.cache.Junctions(ctx)
}

// JunctionAliases maps inheriting categories to their permission owner.
func (m *Model) JunctionAliases(ctx context.Context) (map[int64]int64, error) {
	return m.cache.JunctionAliases(ctx)
}

// urlCode validates an explicit code or derives a unique one from name.
// selfID excludes the category being edited from the uniqueness check.
func (m *Model) urlCode(ctx context.Context, code, name string, selfID int64) (string, error) {
	code = strings.TrimSpace(code)
	if code != "" {
		if slug.IsNumeric(code) {
			return "", apperr.Invalid("url code %q cannot be numeric", code)
		}
		taken, err := m.codeTaken(ctx, code, selfID)
		if err != nil {
			return "", err
		}
		if taken {
			return "", apperr.AlreadyExists("category", "url code", code)
		}
		return code, nil
	}

	base := slug.Generate(name)
	if base == "" {
		base = "category"
	}
	var lookupErr error
	code = slug.Unique(base, func(candidate string) bool {
		if lookupErr != nil {
			return false
		}
		taken, err := m.codeTaken(ctx, candidate, selfID)
		if err != nil {
			lookupErr = err
		}
		return taken
	})
	if lookupErr != nil {
		return "", lookupErr
	}
	return code, nil
}

func (m *Model) codeTaken(ctx context.Context, code string, selfID int64) (bool, error) {
	existing, err := m.store.GetCategoryByURLCode(ctx, code)
	if errors.Is(err, apperr.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check url code: %w", err)
	}
	return existing.CategoryID != selfID, nil
}

// invalidate drops the cache now, falling back to a deferred clear when
// the cache store is unreachable.
func (m *Model) invalidate(ctx context.Context) {
	if err := m.cache.Invalidate(ctx); err != nil {
		m.logger.Warn("category cache invalidation failed, deferring", "error", err)
		m.cache.InvalidateDeferred()
	}
}

func (m *Model) publish(ctx context.Context, eventType string, id int64, data any) {
	if m.events == nil {
		return
	}
	e, err := events.NewCategoryEvent(eventType, id, data)
	if err != nil {
		m.logger.Warn("category event encode failed", "event_type", eventType, "category_id", id, "error", err)
		return
	}
	if err := m.events.Publish(ctx, e); err != nil {
		m.logger.Warn("category event publish failed", "event_type", eventType, "category_id", id, "error", err)
	}
}

func categoryData(c *models.Category, userID int64) events.CategoryData {
	return events.CategoryData{
		CategoryID:       c.CategoryID,
		ParentCategoryID: c.ParentCategoryID,
		Name:             c.Name,
		UrlCode:          c.UrlCode,
		DisplayAs:        string(c.DisplayAs),
		UserID:           userID,
	}
}

// finish closes a mutation span and counts the outcome.
func finish(span trace.Span, op string, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	metrics.Mutations.WithLabelValues(op, metrics.Result(err)).Inc()
	span.End()
}

// checkMoveDepth rejects a move that would push the deepest descendant of
// node past models.MaxTreeDepth.
func checkMoveDepth(cats []*models.Category, node *models.Category, parentID int64) error {
	parent := findCategory(cats, parentID)
	if parent == nil {
		return apperr.NotFound("parent category", parentID)
	}
	height := 0
	for _, c := range cats {
		if node.Contains(c) {
			height = max(height, c.Depth-node.Depth)
		}
	}
	if parent.Depth+1+height > models.MaxTreeDepth {
		return apperr.Invalid("categories cannot be nested deeper than %d levels", models.MaxTreeDepth)
	}
	return nil
}

func findCategory(cats []*models.Category, id int64) *models.Category {
	for _, c := range cats {
		if c.CategoryID == id {
			return c
		}
	}
	return nil
}

func normalizeParent(id int64) int64 {
	if id == 0 {
		return models.RootID
	}
	return id
}
