// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

package handlers

import (
	"net/http"
	"time"

	"forumcat/internal/follow"
	"forumcat/internal/middleware"
)

// Follows serves the per-user follow state and notification preferences.
// Every route needs an authenticated user.
type Follows struct {
	store *follow.Store
	now   func() time.Time
}

// NewFollows creates the follow handler group.
func NewFollows(store *follow.Store) *Follows {
	return &Follows{store: store, now: time.Now}
}

type followRequest struct {
	Followed      *bool `json:"followed" validate:"required"`
	DigestEnabled bool  `json:"digest_enabled"`
}

// Follow handles PUT /categories/{id}/follow and answers with the
// resulting preferences.
func (h *Follows) Follow(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req followRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := validateRequest(req); err != nil {
		writeError(w, r, err)
		return
	}

	userID := middleware.UserID(r.Context())
	if err := h.store.Follow(r.Context(), userID, id, *req.Followed, req.DigestEnabled); err != nil {
		writeError(w, r, err)
		return
	}
	h.writePreferences(w, r, userID, id)
}

// Preferences handles GET /categories/{id}/preferences.
func (h *Follows) Preferences(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.writePreferences(w, r, middleware.UserID(r.Context()), id)
}

// SetPreferences handles PATCH /categories/{id}/preferences. The body maps
// preference keys to their new values; keys left out keep their value.
func (h *Follows) SetPreferences(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var prefs map[string]bool
	if err := decodeJSON(w, r, &prefs); err != nil {
		writeError(w, r, err)
		return
	}

	userID := middleware.UserID(r.Context())
	if err := h.store.SetPreferences(r.Context(), userID, id, prefs); err != nil {
		writeError(w, r, err)
		return
	}
	h.writePreferences(w, r, userID, id)
}

// Followed handles GET /categories/followed.
func (h *Follows) Followed(w http.ResponseWriter, r *http.Request) {
	cats, err := h.store.GetFollowed(r.Context(), middleware.UserID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(cats))
}

// MarkRead handles POST /categories/{id}/read.
func (h *Follows) MarkRead(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	userID := middleware.UserID(r.Context())
	if err := h.store.MarkRead(r.Context(), userID, id, h.now()); err != nil {
		writeError(w, r, err)
		return
	}
	at, err := h.store.EffectiveDateMarkedRead(r.Context(), userID, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]*time.Time{"date_marked_read": at})
}

func (h *Follows) writePreferences(w http.ResponseWriter, r *http.Request, userID, categoryID int64) {
	prefs, err := h.store.GetPreferencesByCategoryID(r.Context(), userID, categoryID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, prefs)
}
