// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"

	"github.com/redis/go-redis/v9"

	"forumcat/internal/models"
)

const (
	userCategoryPrefix = "UserCategory_"
	followPrefix       = "Follow_"
)

// UserCategoryKey returns the Valkey key of a user's category rows.
func UserCategoryKey(userID int64) string {
	return userCategoryPrefix + strconv.FormatInt(userID, 10)
}

// FollowKey returns the Valkey key of a user's followed category IDs.
func FollowKey(userID int64) string {
	return followPrefix + strconv.FormatInt(userID, 10)
}

// UserCategories returns a user's category rows keyed by category ID,
// reading through the UserCategory_ key.
func (c *Coordinator) UserCategories(ctx context.Context, userID int64) (map[int64]models.UserCategory, error) {
	key := UserCategoryKey(userID)
	var cached map[int64]models.UserCategory
	if c.readJSON(ctx, key, &cached) {
		return cached, nil
	}

	rows, err := c.users.ListUserCategories(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load user categories: %w", err)
	}
	out := make(map[int64]models.UserCategory, len(rows))
	for _, uc := range rows {
		out[uc.CategoryID] = uc
	}
	c.writeJSON(ctx, key, out)
	return out, nil
}

// FollowedIDs returns the IDs a user follows in ascending order, reading
// through the Follow_ key.
func (c *Coordinator) FollowedIDs(ctx context.Context, userID int64) ([]int64, error) {
	key := FollowKey(userID)
	var cached []int64
	if c.readJSON(ctx, key, &cached) {
		return cached, nil
	}

	rows, err := c.UserCategories(ctx, userID)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0)
	for id, uc := range rows {
		if uc.Followed {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	c.writeJSON(ctx, key, ids)
	return ids, nil
}

// ClearUser drops both per-user keys.
func (c *Coordinator) ClearUser(ctx context.Context, userID int64) error {
	if c.client == nil {
		return nil
	}
	if err := c.client.Del(ctx, UserCategoryKey(userID), FollowKey(userID)).Err(); err != nil {
		return fmt.Errorf("clear user category cache: %w", err)
	}
	return nil
}

func (c *Coordinator) readJSON(ctx context.Context, key string, dst any) bool {
	if c.client == nil {
		return false
	}
	raw, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false
	}
	if err != nil {
		c.logger.Warn("user cache read failed", "key", key, "error", err)
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		c.logger.Warn("user cache decode failed", "key", key, "error", err)
		return false
	}
	return true
}

func (c *Coordinator) writeJSON(ctx context.Context, key string, v any) {
	if c.client == nil {
		return
	}
	raw, err := json.Marshal(v)
	if err != nil {
		c.logger.Warn("user cache encode failed", "key", key, "error", err)
		return
	}
	if err := c.client.Set(ctx, key, raw, c.opts.TTL).Err(); err != nil {
		c.logger.Warn("user cache write failed", "key", key, "error", err)
	}
}
