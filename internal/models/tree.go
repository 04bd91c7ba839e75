// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

package models

// Coordinates is the derived tree position of a single category as written
// back by a tree rebuild.
type Coordinates struct {
	CategoryID       int64 `json:"category_id"`
	ParentCategoryID int64 `json:"parent_category_id"`
	TreeLeft         int   `json:"tree_left"`
	TreeRight        int   `json:"tree_right"`
	Depth            int   `json:"depth"`
	CountCategories  int   `json:"count_categories"`
}

// TreeItem is one entry of an ordered tree save: the category, its new
// parent, and its position among its siblings.
type TreeItem struct {
	CategoryID       int64 `json:"category_id" validate:"required"`
	ParentCategoryID int64 `json:"parent_category_id"`
	Sort             int   `json:"sort"`
}

// Grant is a single permission row attached to a permission junction.
type Grant struct {
	RoleID     int64  `json:"role_id"`
	CategoryID int64  `json:"category_id"`
	Permission string `json:"permission"`
}

// Permission names checked by the category tree.
const (
	PermDiscussionsView  = "discussions.view"
	PermDiscussionsAdd   = "discussions.add"
	PermCategoriesManage = "categories.manage"
)
