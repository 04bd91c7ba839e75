// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

package models

import (
	"time"
)

// RootID is the reserved ID of the virtual root category. Every other
// category descends from it.
const RootID int64 = -1

// MaxTreeDepth bounds every walk over parent pointers.
const MaxTreeDepth = 24

// DisplayMode controls how a category lists its content and whether new
// discussions may be posted into it.
type DisplayMode string

const (
	DisplayDiscussions DisplayMode = "Discussions"
	DisplayCategories  DisplayMode = "Categories"
	DisplayFlat        DisplayMode = "Flat"
	DisplayHeading     DisplayMode = "Heading"
)

// Valid reports whether m is one of the known display modes.
func (m DisplayMode) Valid() bool {
	switch m {
	case DisplayDiscussions, DisplayCategories, DisplayFlat, DisplayHeading:
		return true
	}
	return false
}

// Category is a node in the category forest. Tree coordinates and
// aggregate counts are derived data maintained by the tree and count
// components; the remaining columns are owned by the category model.
type Category struct {
	CategoryID       int64  `json:"category_id"`
	ParentCategoryID int64  `json:"parent_category_id"`
	TreeLeft         int    `json:"tree_left"`
	TreeRight        int    `json:"tree_right"`
	Depth            int    `json:"depth"`
	Sort             int    `json:"sort"`
	Name             string `json:"name"`
	UrlCode          string `json:"url_code"`
	Description      string `json:"description"`

	PermissionCategoryID int64       `json:"permission_category_id"`
	DisplayAs            DisplayMode `json:"display_as"`
	Archived             bool        `json:"archived"`
	HideAllDiscussions   bool        `json:"hide_all_discussions"`

	CountDiscussions    int `json:"count_discussions"`
	CountComments       int `json:"count_comments"`
	CountAllDiscussions int `json:"count_all_discussions"`
	CountAllComments    int `json:"count_all_comments"`
	CountCategories     int `json:"count_categories"`
	CountFollowers      int `json:"count_followers"`

	LastDiscussionID int64      `json:"last_discussion_id"`
	LastCommentID    int64      `json:"last_comment_id"`
	LastDateInserted *time.Time `json:"last_date_inserted"`
	LastTitle        string     `json:"last_title"`
	LastUserID       int64      `json:"last_user_id"`
	LastUrl          string     `json:"last_url"`

	DateMarkedRead *time.Time `json:"date_marked_read"`
	DateInserted   time.Time  `json:"date_inserted"`
	DateUpdated    time.Time  `json:"date_updated"`
	InsertUserID   int64      `json:"insert_user_id"`
	UpdateUserID   int64      `json:"update_user_id"`

	// Virtual fields populated by the model. Followed comes from the
	// requesting user's overlay.
	Followed bool        `json:"followed"`
	Children []*Category `json:"children,omitempty"`
}

// IsRoot reports whether c is the virtual root.
func (c *Category) IsRoot() bool {
	return c.CategoryID == RootID
}

// HasCustomPermissions reports whether c owns its permission set.
func (c *Category) HasCustomPermissions() bool {
	return c.PermissionCategoryID == c.CategoryID
}

// AllowsPosting reports whether discussions may be posted directly into c.
func (c *Category) AllowsPosting() bool {
	return c.IsRoot() || c.DisplayAs == DisplayDiscussions
}

// Contains reports whether d lies strictly inside c's nested-set range.
func (c *Category) Contains(d *Category) bool {
	return c.TreeLeft < d.TreeLeft && d.TreeRight < c.TreeRight
}

// Clone returns a shallow copy of c without its Children.
func (c *Category) Clone() *Category {
	cp := *c
	cp.Children = nil
	if c.LastDateInserted != nil {
		t := *c.LastDateInserted
		cp.LastDateInserted = &t
	}
	if c.DateMarkedRead != nil {
		t := *c.DateMarkedRead
		cp.DateMarkedRead = &t
	}
	return &cp
}

// NewRoot returns the virtual root row.
func NewRoot(now time.Time) *Category {
	return &Category{
		CategoryID:           RootID,
		ParentCategoryID:     0,
		TreeLeft:             1,
		TreeRight:            2,
		Depth:                0,
		Name:                 "Root",
		UrlCode:              "",
		PermissionCategoryID: RootID,
		DisplayAs:            DisplayCategories,
		DateInserted:         now,
		DateUpdated:          now,
	}
}
