// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

package models

import "time"

// UserCategory is the per-user overlay for a category: follow state, read
// marker, and notification toggles.
type UserCategory struct {
	UserID         int64      `json:"user_id"`
	CategoryID     int64      `json:"category_id"`
	Followed       bool       `json:"followed"`
	Unfollow       bool       `json:"unfollow"`
	DigestEnabled  bool       `json:"digest_enabled"`
	DateMarkedRead *time.Time `json:"date_marked_read"`
	DateFollowed   *time.Time `json:"date_followed"`
	DateUnfollowed *time.Time `json:"date_unfollowed"`

	PopupDiscussions bool `json:"popup_discussions"`
	EmailDiscussions bool `json:"email_discussions"`
	PopupComments    bool `json:"popup_comments"`
	EmailComments    bool `json:"email_comments"`
}

// Preference keys accepted by the follow store.
const (
	PrefFollowed         = "preferences.followed"
	PrefEmailDigest      = "preferences.email.digest"
	PrefPopupDiscussions = "preferences.popup.posts"
	PrefEmailDiscussions = "preferences.email.posts"
	PrefPopupComments    = "preferences.popup.comments"
	PrefEmailComments    = "preferences.email.comments"
)

// PreferenceKeys lists every preference key in a stable order.
var PreferenceKeys = []string{
	PrefFollowed,
	PrefEmailDigest,
	PrefPopupDiscussions,
	PrefEmailDiscussions,
	PrefPopupComments,
	PrefEmailComments,
}

// Preferences returns the six notification toggles of uc keyed by
// preference name. A nil uc yields all false.
func (uc *UserCategory) Preferences() map[string]bool {
	prefs := make(map[string]bool, len(PreferenceKeys))
	for _, k := range PreferenceKeys {
		prefs[k] = false
	}
	if uc == nil {
		return prefs
	}
	prefs[PrefFollowed] = uc.Followed
	prefs[PrefEmailDigest] = uc.DigestEnabled
	prefs[PrefPopupDiscussions] = uc.PopupDiscussions
	prefs[PrefEmailDiscussions] = uc.EmailDiscussions
	prefs[PrefPopupComments] = uc.PopupComments
	prefs[PrefEmailComments] = uc.EmailComments
	return prefs
}

// SetPreference writes a single toggle by key. Unknown keys return false.
func (uc *UserCategory) SetPreference(key string, v bool) bool {
	switch key {
	case PrefFollowed:
		uc.Followed = v
	case PrefEmailDigest:
		uc.DigestEnabled = v
	case PrefPopupDiscussions:
		uc.PopupDiscussions = v
	case PrefEmailDiscussions:
		uc.EmailDiscussions = v
	case PrefPopupComments:
		uc.PopupComments = v
	case PrefEmailComments:
		uc.EmailComments = v
	default:
		return false
	}
	return true
}

// ClearNotifications switches off the digest and every notification toggle.
func (uc *UserCategory) ClearNotifications() {
	uc.DigestEnabled = false
	uc.PopupDiscussions = false
	uc.EmailDiscussions = false
	uc.PopupComments = false
	uc.EmailComments = false
}

// EffectiveDateMarkedRead returns the later of the user's and the
// category-wide read markers. Either may be nil.
func EffectiveDateMarkedRead(user, global *time.Time) *time.Time {
	switch {
	case user == nil:
		return global
	case global == nil:
		return user
	case global.After(*user):
		return global
	default:
		return user
	}
}
