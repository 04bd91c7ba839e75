// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

package permission

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Checker answers whether a user holds a permission on a permission
// junction (the PermissionCategoryID of the category being checked).
type Checker interface {
	CheckPermission(ctx context.Context, userID int64, permission string, permissionCategoryID int64) bool
}

// GrantStore loads the grants of a user: permission name to junction IDs.
type GrantStore interface {
	UserGrants(ctx context.Context, userID int64) (map[string][]int64, error)
}

// Grant cache defaults applied by NewGrantChecker for zero options.
const (
	DefaultGrantTTL      = time.Minute
	DefaultMaxGrantUsers = 10000
)

// CheckerOptions tunes the grant cache of a GrantChecker.
type CheckerOptions struct {
	// TTL bounds how long a user's grants are served from memory, and so
	// how long a role or grant change takes to be seen.
	TTL time.Duration
	// MaxUsers caps the number of cached users.
	MaxUsers int

	// Now is the clock. Defaults to time.Now.
	Now func() time.Time
}

// GrantChecker is a Checker over role grants with a per-user in-process
// cache whose entries expire after TTL. Forget drops a user at once.
type GrantChecker struct {
	store  GrantStore
	opts   CheckerOptions
	logger *slog.Logger

	mu    sync.RWMutex
	users map[int64]cachedGrants
}

type cachedGrants struct {
	set     map[string]map[int64]bool
	expires time.Time
}

// NewGrantChecker returns a GrantChecker backed by store.
func NewGrantChecker(store GrantStore, opts CheckerOptions, logger *slog.Logger) *GrantChecker {
	if opts.TTL <= 0 {
		opts.TTL = DefaultGrantTTL
	}
	if opts.MaxUsers <= 0 {
		opts.MaxUsers = DefaultMaxGrantUsers
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GrantChecker{
		store:  store,
		opts:   opts,
		logger: logger,
		users:  make(map[int64]cachedGrants),
	}
}

// CheckPermission reports whether userID holds permission on the junction.
// Load failures deny access and are logged.
func (g *GrantChecker) CheckPermission(ctx context.Context, userID int64, permission string, permissionCategoryID int64) bool {
	grants, err := g.grants(ctx, userID)
	if err != nil {
		g.logger.Warn("permission grants unavailable, denying",
			"user_id", userID,
			"permission", permission,
			"error", err,
		)
		return false
	}
	return grants[permission][permissionCategoryID]
}

// Forget drops the cached grants of a user.
func (g *GrantChecker) Forget(userID int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.users, userID)
}

// Cached returns the number of users whose grants are held in memory.
func (g *GrantChecker) Cached() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.users)
}

func (g *GrantChecker) grants(ctx context.Context, userID int64) (map[string]map[int64]bool, error) {
	now := g.opts.Now()
	g.mu.RLock()
	cached, ok := g.users[userID]
	g.mu.RUnlock()
	if ok && now.Before(cached.expires) {
		return cached.set, nil
	}

	raw, err := g.store.UserGrants(ctx, userID)
	if err != nil {
		return nil, err
	}
	set := make(map[string]map[int64]bool, len(raw))
	for perm, ids := range raw {
		set[perm] = make(map[int64]bool, len(ids))
		for _, id := range ids {
			set[perm][id] = true
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.users[userID]; !ok && len(g.users) >= g.opts.MaxUsers {
		g.evictLocked(now)
	}
	g.users[userID] = cachedGrants{set: set, expires: now.Add(g.opts.TTL)}
	return set, nil
}

// evictLocked drops expired entries, then the entries closest to expiry
// until there is room for one more user.
func (g *GrantChecker) evictLocked(now time.Time) {
	for id, c := range g.users {
		if !now.Before(c.expires) {
			delete(g.users, id)
		}
	}
	for len(g.users) >= g.opts.MaxUsers {
		var oldest int64
		var at time.Time
		first := true
		for id, c := range g.users {
			if first || c.expires.Before(at) {
				oldest, at, first = id, c.expires, false
			}
		}
		delete(g.users, oldest)
	}
}
