// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

package models

import "time"

// Discussion is the slice of a discussion row the category tree cares
// about: where it lives and how many comments it carries.
type Discussion struct {
	DiscussionID  int64     `json:"discussion_id"`
	CategoryID    int64     `json:"category_id"`
	Name          string    `json:"name"`
	InsertUserID  int64     `json:"insert_user_id"`
	CountComments int       `json:"count_comments"`
	DateInserted  time.Time `json:"date_inserted"`
}

// Tag is a category-scoped tag row.
type Tag struct {
	TagID      int64  `json:"tag_id"`
	Name       string `json:"name"`
	CategoryID int64  `json:"category_id"`
}

// Post describes a new discussion or comment for count and last-post
// bookkeeping. CommentID is zero for a discussion.
type Post struct {
	CategoryID   int64     `json:"category_id"`
	DiscussionID int64     `json:"discussion_id"`
	CommentID    int64     `json:"comment_id"`
	Title        string    `json:"title"`
	UserID       int64     `json:"user_id"`
	Url          string    `json:"url"`
	DateInserted time.Time `json:"date_inserted"`
}

// IsComment reports whether p is a comment rather than a discussion.
func (p Post) IsComment() bool {
	return p.CommentID != 0
}
