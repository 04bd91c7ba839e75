// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

// Package handlers contains the HTTP handlers of the category API. Every
// response is a JSON envelope carrying either data or an error.
package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"forumcat/internal/apperr"
	"forumcat/internal/category"
	"forumcat/internal/middleware"
	"forumcat/internal/models"
	"forumcat/internal/permission"
)

// Categories serves the category tree: reads, management and posting.
type Categories struct {
	model   *category.Model
	checker permission.Checker
	now     func() time.Time
}

// NewCategories creates the category handler group.
func NewCategories(model *category.Model, checker permission.Checker) *Categories {
	return &Categories{model: model, checker: checker, now: time.Now}
}

// Visible handles GET /categories. It returns the IDs the caller may see,
// narrowed by the for_add, filter_archived and filter_hidden flags.
func (h *Categories) Visible(w http.ResponseWriter, r *http.Request) {
	var opts category.VisibilityOptions
	var err error
	if opts.ForAdd, err = queryBool(r, "for_add"); err != nil {
		writeError(w, r, err)
		return
	}
	if opts.FilterArchived, err = queryBool(r, "filter_archived"); err != nil {
		writeError(w, r, err)
		return
	}
	if opts.FilterHideAllDiscussions, err = queryBool(r, "filter_hidden"); err != nil {
		writeError(w, r, err)
		return
	}

	vis, err := h.model.GetVisibleCategoryIDs(r.Context(), middleware.UserID(r.Context()), opts)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if vis.IDs == nil {
		vis.IDs = []int64{}
	}
	writeJSON(w, http.StatusOK, vis)
}

// Tree handles GET /categories/tree.
func (h *Categories) Tree(w http.ResponseWriter, r *http.Request) {
	tree, err := h.model.GetTree(r.Context(), middleware.UserID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(tree))
}

// Search handles GET /categories/search?q=&parent_id=&limit=.
func (h *Categories) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if err := validateSearchQuery(q); err != nil {
		writeError(w, r, err)
		return
	}
	parentID, err := queryInt64(r, "parent_id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, r, err)
		return
	}

	found, err := h.model.Search(r.Context(), middleware.UserID(r.Context()), q, category.SearchScope{ParentID: parentID, Limit: limit})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(found))
}

// Get handles GET /categories/{id}. Categories the caller may not view
// answer 404.
func (h *Categories) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	cat, err := h.model.View(r.Context(), id, middleware.UserID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cat)
}

// ByCode handles GET /categories/code/{code}.
func (h *Categories) ByCode(w http.ResponseWriter, r *http.Request) {
	cat, err := h.model.ViewByCode(r.Context(), chi.URLParam(r, "code"), middleware.UserID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cat)
}

// Children handles GET /categories/{id}/children?depth=. Depth 0 returns
// the whole subtree.
func (h *Categories) Children(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	depth, err := queryInt(r, "depth")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := validateDepth(depth); err != nil {
		writeError(w, r, err)
		return
	}

	tree, err := h.model.GetChildTree(r.Context(), id, depth, middleware.UserID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(tree))
}

// Ancestors handles GET /categories/{id}/ancestors.
func (h *Categories) Ancestors(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	chain, err := h.model.GetAncestors(r.Context(), id, middleware.UserID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(chain))
}

// Create handles POST /categories.
func (h *Categories) Create(w http.ResponseWriter, r *http.Request) {
	var in category.CategoryInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	in.UserID = middleware.UserID(r.Context())

	cat, err := h.model.Create(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, cat)
}

// Update handles PATCH /categories/{id}. Absent fields are left alone.
func (h *Categories) Update(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var in category.UpdateInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	in.UserID = middleware.UserID(r.Context())

	cat, err := h.model.Update(r.Context(), id, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cat)
}

// Delete handles DELETE /categories/{id}?replacement_id=&move_subcategories=.
func (h *Categories) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var opts category.DeleteOptions
	if opts.ReplacementID, err = queryInt64(r, "replacement_id"); err != nil {
		writeError(w, r, err)
		return
	}
	if opts.MoveSubcategories, err = queryBool(r, "move_subcategories"); err != nil {
		writeError(w, r, err)
		return
	}

	if err := h.model.Delete(r.Context(), id, opts); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type saveTreeRequest struct {
	Items []models.TreeItem `json:"items" validate:"required,min=1,dive"`
}

// SaveTree handles PUT /categories/tree. Parents must precede their
// children in items.
func (h *Categories) SaveTree(w http.ResponseWriter, r *http.Request) {
	var req saveTreeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if len(req.Items) > maxTreeItems {
		writeError(w, r, apperr.Invalid("a tree save takes at most %d items", maxTreeItems))
		return
	}
	if err := validateRequest(req); err != nil {
		writeError(w, r, err)
		return
	}

	if err := h.model.SaveTree(r.Context(), req.Items, middleware.UserID(r.Context())); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type postRequest struct {
	DiscussionID int64      `json:"discussion_id" validate:"required"`
	CommentID    int64      `json:"comment_id"`
	Title        string     `json:"title" validate:"max=300"`
	Url          string     `json:"url" validate:"omitempty,max=2000"`
	DateInserted *time.Time `json:"date_inserted"`
}

// RecordPost handles POST /categories/{id}/posts. The caller needs the
// add permission on the category's junction.
func (h *Categories) RecordPost(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req postRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := validateRequest(req); err != nil {
		writeError(w, r, err)
		return
	}

	userID := middleware.UserID(r.Context())
	cat, err := h.model.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !h.checker.CheckPermission(r.Context(), userID, models.PermDiscussionsAdd, cat.PermissionCategoryID) {
		writeError(w, r, apperr.Forbidden("you may not post in category %d", id))
		return
	}

	at := h.now().UTC()
	if req.DateInserted != nil {
		at = req.DateInserted.UTC()
	}
	post := models.Post{
		CategoryID:   id,
		DiscussionID: req.DiscussionID,
		CommentID:    req.CommentID,
		Title:        req.Title,
		UserID:       userID,
		Url:          req.Url,
		DateInserted: at,
	}
	if err := h.model.RecordPost(r.Context(), post); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// nonNil keeps empty lists encoded as [] rather than null.
func nonNil(cats []*models.Category) []*models.Category {
	if cats == nil {
		return []*models.Category{}
	}
	return cats
}
