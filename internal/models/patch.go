// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

package models

import "time"

// Patch is a partial category update. Nil fields are left untouched.
type Patch struct {
	Name               *string      `json:"name,omitempty"`
	Description        *string      `json:"description,omitempty"`
	DisplayAs          *DisplayMode `json:"display_as,omitempty"`
	Archived           *bool        `json:"archived,omitempty"`
	HideAllDiscussions *bool        `json:"hide_all_discussions,omitempty"`
	Sort               *int         `json:"sort,omitempty"`

	CountDiscussions    *int `json:"count_discussions,omitempty"`
	CountComments       *int `json:"count_comments,omitempty"`
	CountAllDiscussions *int `json:"count_all_discussions,omitempty"`
	CountAllComments    *int `json:"count_all_comments,omitempty"`
	CountFollowers      *int `json:"count_followers,omitempty"`

	LastDiscussionID *int64     `json:"last_discussion_id,omitempty"`
	LastCommentID    *int64     `json:"last_comment_id,omitempty"`
	LastDateInserted *time.Time `json:"last_date_inserted,omitempty"`
	LastTitle        *string    `json:"last_title,omitempty"`
	LastUserID       *int64     `json:"last_user_id,omitempty"`
	LastUrl          *string    `json:"last_url,omitempty"`

	DateMarkedRead *time.Time `json:"date_marked_read,omitempty"`

	// Followed targets the virtual Followed field. Storage never writes it.
	Followed *bool `json:"followed,omitempty"`
}

// IsEmpty reports whether the patch changes nothing.
func (p Patch) IsEmpty() bool {
	return p == Patch{}
}

// Merge returns p overlaid with every non-nil field of o.
func (p Patch) Merge(o Patch) Patch {
	if o.Name != nil {
		p.Name = o.Name
	}
	if o.Description != nil {
		p.Description = o.Description
	}
	if o.DisplayAs != nil {
		p.DisplayAs = o.DisplayAs
	}
	if o.Archived != nil {
		p.Archived = o.Archived
	}
	if o.HideAllDiscussions != nil {
		p.HideAllDiscussions = o.HideAllDiscussions
	}
	if o.Sort != nil {
		p.Sort = o.Sort
	}
	if o.CountDiscussions != nil {
		p.CountDiscussions = o.CountDiscussions
	}
	if o.CountComments != nil {
		p.CountComments = o.CountComments
	}
	if o.CountAllDiscussions != nil {
		p.CountAllDiscussions = o.CountAllDiscussions
	}
	if o.CountAllComments != nil {
		p.CountAllComments = o.CountAllComments
	}
	if o.CountFollowers != nil {
		p.CountFollowers = o.CountFollowers
	}
	if o.LastDiscussionID != nil {
		p.LastDiscussionID = o.LastDiscussionID
	}
	if o.LastCommentID != nil {
		p.LastCommentID = o.LastCommentID
	}
	if o.LastDateInserted != nil {
		p.LastDateInserted = o.LastDateInserted
	}
	if o.LastTitle != nil {
		p.LastTitle = o.LastTitle
	}
	if o.LastUserID != nil {
		p.LastUserID = o.LastUserID
	}
	if o.LastUrl != nil {
		p.LastUrl = o.LastUrl
	}
	if o.DateMarkedRead != nil {
		p.DateMarkedRead = o.DateMarkedRead
	}
	if o.Followed != nil {
		p.Followed = o.Followed
	}
	return p
}

// Apply writes every non-nil field of p into c.
func (p Patch) Apply(c *Category) {
	if p.Name != nil {
		c.Name = *p.Name
	}
	if p.Description != nil {
		c.Description = *p.Description
	}
	if p.DisplayAs != nil {
		c.DisplayAs = *p.DisplayAs
	}
	if p.Archived != nil {
		c.Archived = *p.Archived
	}
	if p.HideAllDiscussions != nil {
		c.HideAllDiscussions = *p.HideAllDiscussions
	}
	if p.Sort != nil {
		c.Sort = *p.Sort
	}
	if p.CountDiscussions != nil {
		c.CountDiscussions = *p.CountDiscussions
	}
	if p.CountComments != nil {
		c.CountComments = *p.CountComments
	}
	if p.CountAllDiscussions != nil {
		c.CountAllDiscussions = *p.CountAllDiscussions
	}
	if p.CountAllComments != nil {
		c.CountAllComments = *p.CountAllComments
	}
	if p.CountFollowers != nil {
		c.CountFollowers = *p.CountFollowers
	}
	if p.LastDiscussionID != nil {
		c.LastDiscussionID = *p.LastDiscussionID
	}
	if p.LastCommentID != nil {
		c.LastCommentID = *p.LastCommentID
	}
	if p.LastDateInserted != nil {
		t := *p.LastDateInserted
		c.LastDateInserted = &t
	}
	if p.LastTitle != nil {
		c.LastTitle = *p.LastTitle
	}
	if p.LastUserID != nil {
		c.LastUserID = *p.LastUserID
	}
	if p.LastUrl != nil {
		c.LastUrl = *p.LastUrl
	}
	if p.DateMarkedRead != nil {
		t := *p.DateMarkedRead
		c.DateMarkedRead = &t
	}
	if p.Followed != nil {
		c.Followed = *p.Followed
	}
}

// Ptr returns a pointer to v. Handy for building patches.
func Ptr[T any](v T) *T {
	return &v
}
