// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

// Package follow tracks which categories a user follows and the
// notification toggles attached to each followed category.
package follow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"forumcat/internal/apperr"
	"forumcat/internal/events"
	"forumcat/internal/models"
)

// DefaultMaxFollowed caps the categories a single user may follow.
const DefaultMaxFollowed = 100

// Storage is the persistence port of the follow store.
type Storage interface {
	GetUserCategory(ctx context.Context, userID, categoryID int64) (*models.UserCategory, error)
	SaveUserCategory(ctx context.Context, uc *models.UserCategory) error
	SetDigest(ctx context.Context, userID, categoryID int64, enabled bool) error
	CountFollowers(ctx context.Context, categoryID int64) (followers, digest int, err error)
	PatchCategory(ctx context.Context, id int64, p models.Patch) error
}

// Cache is the slice of the category cache the follow store reads and
// invalidates.
type Cache interface {
	Get(ctx context.Context, id int64) (*models.Category, error)
	UserCategories(ctx context.Context, userID int64) (map[int64]models.UserCategory, error)
	FollowedIDs(ctx context.Context, userID int64) ([]int64, error)
	ClearUser(ctx context.Context, userID int64) error
	SetDeferredCache(id int64, p models.Patch)
}

// Store implements follow, unfollow and preference changes.
type Store struct {
	store       Storage
	cache       Cache
	events      events.Publisher
	maxFollowed int
	now         func() time.Time
	logger      *slog.Logger
}

// New returns a Store. A maxFollowed below 1 uses DefaultMaxFollowed.
func New(store Storage, cache Cache, publisher events.Publisher, maxFollowed int, logger *slog.Logger) *Store {
	if maxFollowed < 1 {
		maxFollowed = DefaultMaxFollowed
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		store:       store,
		cache:       cache,
		events:      publisher,
		maxFollowed: maxFollowed,
		now:         time.Now,
		logger:      logger,
	}
}

// Follow sets the follow flag of a category for a user. Following needs a
// Discussions category and a free slot under the cap; unfollowing is
// always allowed and switches every notification off. Changing only the
// digest of an already followed category is a single narrow update.
func (s *Store) Follow(ctx context.Context, userID, categoryID int64, followed, digestEnabled bool) error {
	cat, err := s.cache.Get(ctx, categoryID)
	if err != nil {
		return err
	}
	cur, err := s.store.GetUserCategory(ctx, userID, categoryID)
	if err != nil {
		return fmt.Errorf("follow category: %w", err)
	}
	wasFollowing := cur != nil && cur.Followed

	switch {
	case followed && wasFollowing:
		if cur.DigestEnabled == digestEnabled {
			return nil
		}
		if err := s.store.SetDigest(ctx, userID, categoryID, digestEnabled); err != nil {
			return fmt.Errorf("set category digest: %w", err)
		}
		s.logger.Debug("category digest toggled", "user_id", userID, "category_id", categoryID, "digest", digestEnabled)
		_, _, err := s.afterChange(ctx, userID, categoryID)
		return err

	case !followed && !wasFollowing:
		return nil

	case followed:
		if cat.DisplayAs != models.DisplayDiscussions {
			return apperr.Invalid("category %d cannot be followed", categoryID)
		}
		ids, err := s.cache.FollowedIDs(ctx, userID)
		if err != nil {
			return fmt.Errorf("follow category: %w", err)
		}
		if len(ids) >= s.maxFollowed {
			return apperr.Capacity("you can follow up to %d categories", s.maxFollowed)
		}
	}

	uc := cur
	if uc == nil {
		uc = &models.UserCategory{UserID: userID, CategoryID: categoryID}
	}
	now := s.now().UTC()
	if followed {
		uc.Followed = true
		uc.Unfollow = false
		uc.DigestEnabled = digestEnabled
		uc.DateFollowed = &now
	} else {
		uc.Followed = false
		uc.Unfollow = true
		uc.DateUnfollowed = &now
		uc.ClearNotifications()
	}
	if err := s.store.SaveUserCategory(ctx, uc); err != nil {
		return fmt.Errorf("follow category: %w", err)
	}

	s.logger.Info("category follow changed",
		"user_id", userID,
		"category_id", categoryID,
		"followed", followed,
	)
	_, _, err = s.afterChange(ctx, userID, categoryID)
	return err
}

// SetPreferences applies preference toggles keyed by preference name.
// Every key other than the follow flag needs the user to follow the
// category, or to follow it in the same call. Turning a notification on
// while ending the call unfollowed is forbidden and writes nothing. One subscription event is
// published per preference that changed.
func (s *Store) SetPreferences(ctx context.Context, userID, categoryID int64, prefs map[string]bool) error {
	for k := range prefs {
		if !slices.Contains(models.PreferenceKeys, k) {
			return apperr.Invalid("unknown preference %q", k)
		}
	}
	if len(prefs) == 0 {
		return nil
	}

	cur, err := s.store.GetUserCategory(ctx, userID, categoryID)
	if err != nil {
		return fmt.Errorf("set category preferences: %w", err)
	}
	before := cur.Preferences()
	wantFollow, setsFollow := prefs[models.PrefFollowed]
	if !before[models.PrefFollowed] && !setsFollow {
		return apperr.Forbidden("follow category %d before changing its notifications", categoryID)
	}
	following := before[models.PrefFollowed]
	if setsFollow {
		following = wantFollow
	}
	if !following {
		for k, v := range prefs {
			if k != models.PrefFollowed && v {
				return apperr.Forbidden("follow category %d before changing its notifications", categoryID)
			}
		}
	}

	switch {
	case setsFollow && wantFollow != before[models.PrefFollowed]:
		if err := s.Follow(ctx, userID, categoryID, wantFollow, prefs[models.PrefEmailDigest]); err != nil {
			return err
		}
	case before[models.PrefFollowed]:
		if d, ok := prefs[models.PrefEmailDigest]; ok && d != before[models.PrefEmailDigest] {
			if err := s.Follow(ctx, userID, categoryID, true, d); err != nil {
				return err
			}
		}
	}

	uc, err := s.store.GetUserCategory(ctx, userID, categoryID)
	if err != nil {
		return fmt.Errorf("set category preferences: %w", err)
	}
	if uc != nil && uc.Followed {
		current := uc.Preferences()
		changed := false
		for k, v := range prefs {
			if k == models.PrefFollowed || k == models.PrefEmailDigest || current[k] == v {
				continue
			}
			uc.SetPreference(k, v)
			changed = true
		}
		if changed {
			if err := s.store.SaveUserCategory(ctx, uc); err != nil {
				return fmt.Errorf("set category preferences: %w", err)
			}
			if err := s.cache.ClearUser(ctx, userID); err != nil {
				s.logger.Warn("user category cache clear failed", "user_id", userID, "error", err)
			}
		}
	}

	after := uc.Preferences()
	var diff []string
	for _, k := range models.PreferenceKeys {
		if before[k] != after[k] {
			diff = append(diff, k)
		}
	}
	if len(diff) == 0 {
		return nil
	}

	followers, digest, err := s.store.CountFollowers(ctx, categoryID)
	if err != nil {
		return fmt.Errorf("set category preferences: %w", err)
	}
	for _, k := range diff {
		s.publish(ctx, categoryID, events.SubscriptionData{
			UserID:        userID,
			CategoryID:    categoryID,
			Preference:    k,
			OldValue:      before[k],
			NewValue:      after[k],
			FollowerCount: followers,
			DigestCount:   digest,
		})
	}
	return nil
}

// GetPreferencesByCategoryID returns the six toggles of one category for a
// user. Categories the user never touched report all false.
func (s *Store) GetPreferencesByCategoryID(ctx context.Context, userID, categoryID int64) (map[string]bool, error) {
	rows, err := s.cache.UserCategories(ctx, userID)
	if err != nil {
		return nil, err
	}
	uc, ok := rows[categoryID]
	if !ok {
		return (*models.UserCategory)(nil).Preferences(), nil
	}
	return uc.Preferences(), nil
}

// GetFollowed returns the categories a user follows, skipping any that no
// longer exist.
func (s *Store) GetFollowed(ctx context.Context, userID int64) ([]*models.Category, error) {
	ids, err := s.cache.FollowedIDs(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]*models.Category, 0, len(ids))
	for _, id := range ids {
		cat, err := s.cache.Get(ctx, id)
		if errors.Is(err, apperr.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		cat.Followed = true
		out = append(out, cat)
	}
	return out, nil
}

// IsFollowing reports whether a user follows a category.
func (s *Store) IsFollowing(ctx context.Context, userID, categoryID int64) (bool, error) {
	ids, err := s.cache.FollowedIDs(ctx, userID)
	if err != nil {
		return false, err
	}
	_, found := slices.BinarySearch(ids, categoryID)
	return found, nil
}

// MarkRead records that a user has read a category up to at.
func (s *Store) MarkRead(ctx context.Context, userID, categoryID int64, at time.Time) error {
	if _, err := s.cache.Get(ctx, categoryID); err != nil {
		return err
	}
	uc, err := s.store.GetUserCategory(ctx, userID, categoryID)
	if err != nil {
		return fmt.Errorf("mark category read: %w", err)
	}
	if uc == nil {
		uc = &models.UserCategory{UserID: userID, CategoryID: categoryID}
	}
	at = at.UTC()
	uc.DateMarkedRead = &at
	if err := s.store.SaveUserCategory(ctx, uc); err != nil {
		return fmt.Errorf("mark category read: %w", err)
	}
	if err := s.cache.ClearUser(ctx, userID); err != nil {
		s.logger.Warn("user category cache clear failed", "user_id", userID, "error", err)
	}
	return nil
}

// EffectiveDateMarkedRead returns the later of the user's read marker and
// the category-wide one.
func (s *Store) EffectiveDateMarkedRead(ctx context.Context, userID, categoryID int64) (*time.Time, error) {
	cat, err := s.cache.Get(ctx, categoryID)
	if err != nil {
		return nil, err
	}
	rows, err := s.cache.UserCategories(ctx, userID)
	if err != nil {
		return nil, err
	}
	var user *time.Time
	if uc, ok := rows[categoryID]; ok {
		user = uc.DateMarkedRead
	}
	return models.EffectiveDateMarkedRead(user, cat.DateMarkedRead), nil
}

// afterChange recounts followers, persists the count, patches the cached
// category through the deferred batch and drops the user's cached rows.
func (s *Store) afterChange(ctx context.Context, userID, categoryID int64) (int, int, error) {
	followers, digest, err := s.store.CountFollowers(ctx, categoryID)
	if err != nil {
		return 0, 0, fmt.Errorf("count followers: %w", err)
	}
	patch := models.Patch{CountFollowers: models.Ptr(followers)}
	if err := s.store.PatchCategory(ctx, categoryID, patch); err != nil {
		return 0, 0, fmt.Errorf("update follower count: %w", err)
	}
	s.cache.SetDeferredCache(categoryID, patch)
	if err := s.cache.ClearUser(ctx, userID); err != nil {
		s.logger.Warn("user category cache clear failed", "user_id", userID, "error", err)
	}
	return followers, digest, nil
}

func (s *Store) publish(ctx context.Context, categoryID int64, data events.SubscriptionData) {
	e, err := events.NewCategoryEvent(events.TypeSubscriptionChanged, categoryID, data)
	if err != nil {
		s.logger.Warn("subscription event encode failed", "category_id", categoryID, "error", err)
		return
	}
	e.WithMetadata("preference", data.Preference)
	if err := s.events.Publish(ctx, e); err != nil {
		s.logger.Warn("subscription event publish failed",
			"category_id", categoryID,
			"preference", data.Preference,
			"error", err,
		)
	}
}
