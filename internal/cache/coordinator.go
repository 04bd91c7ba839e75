// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

package cache

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"forumcat/internal/apperr"
	"forumcat/internal/jobs"
	"forumcat/internal/metrics"
	"forumcat/internal/models"
	"forumcat/internal/permission"
)

// Valkey keys.
const (
	KeyCategories  = "Categories"
	KeyRebuildVote = "Categories.Rebuild.Vote"
)

// Defaults applied by New for zero Options fields. A zero Grace disables
// stale serving.
const (
	DefaultTTL      = 10 * time.Minute
	DefaultLockTTL  = 5 * time.Second
	DefaultLocalTTL = 2 * time.Second
)

// maxFlushAttempts bounds the optimistic retries of one flush iteration
// when the shared snapshot changes underneath it.
const maxFlushAttempts = 3

// releaseScript deletes the rebuild vote only when this process still
// owns it, so an expired vote taken over by another process survives.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// State describes the category snapshot as seen by this process.
type State int

const (
	StateEmpty State = iota
	StateFresh
	StateStaleInGrace
	StateRebuilding
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateFresh:
		return "fresh"
	case StateStaleInGrace:
		return "stale"
	case StateRebuilding:
		return "rebuilding"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Loader reads the authoritative category rows.
type Loader interface {
	ListCategories(ctx context.Context) ([]*models.Category, error)
}

// UserLoader reads the per-user category rows.
type UserLoader interface {
	ListUserCategories(ctx context.Context, userID int64) ([]models.UserCategory, error)
}

// Options tunes the coordinator.
type Options struct {
	TTL     time.Duration
	Grace   time.Duration
	LockTTL time.Duration
	// LocalTTL is how long the local copy is trusted before the shared
	// copy is consulted again. Ignored in local-only mode.
	LocalTTL time.Duration

	// Now is the clock. Defaults to time.Now.
	Now func() time.Time
}

// Snapshot is an immutable view of every category. Callers must not
// modify the categories it holds; use Get or List for copies.
type Snapshot struct {
	Expiry     time.Time                  `json:"expiry"`
	Categories map[int64]*models.Category `json:"categories"`
}

// Fresh reports whether s has not expired at now.
func (s *Snapshot) Fresh(now time.Time) bool {
	return now.Before(s.Expiry)
}

// Servable reports whether s is fresh or within the grace window.
func (s *Snapshot) Servable(now time.Time, grace time.Duration) bool {
	return now.Before(s.Expiry.Add(grace))
}

// Get returns a copy of one category.
func (s *Snapshot) Get(id int64) (*models.Category, bool) {
	c, ok := s.Categories[id]
	if !ok {
		return nil, false
	}
	return c.Clone(), true
}

// List returns copies of every category ordered by TreeLeft.
func (s *Snapshot) List() []*models.Category {
	out := make([]*models.Category, 0, len(s.Categories))
	for _, c := range s.Categories {
		out = append(out, c.Clone())
	}
	slices.SortFunc(out, func(a, b *models.Category) int {
		if n := cmp.Compare(a.TreeLeft, b.TreeLeft); n != 0 {
			return n
		}
		return cmp.Compare(a.CategoryID, b.CategoryID)
	})
	return out
}

// Coordinator serves the category snapshot through a local copy and a
// shared Valkey copy, rebuilding from storage when both are stale. A nil
// Valkey client runs the coordinator in local-only mode.
type Coordinator struct {
	client *redis.Client
	loader Loader
	users  UserLoader
	sched  jobs.Scheduler
	opts   Options
	owner  string
	logger *slog.Logger

	group singleflight.Group

	mu      sync.RWMutex
	local   *Snapshot
	localAt time.Time

	batchMu        sync.Mutex
	batch          map[int64]models.Patch
	flushScheduled bool
	clearScheduled bool
}

// New returns a Coordinator.
func New(client *redis.Client, loader Loader, users UserLoader, sched jobs.Scheduler, opts Options, logger *slog.Logger) *Coordinator {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Grace < 0 {
		opts.Grace = 0
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = DefaultLockTTL
	}
	if opts.LocalTTL <= 0 {
		opts.LocalTTL = DefaultLocalTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		client: client,
		loader: loader,
		users:  users,
		sched:  sched,
		opts:   opts,
		owner:  uuid.NewString(),
		logger: logger,
	}
}

// Snapshot returns the current category snapshot, rebuilding it when
// neither the local nor the Valkey copy is fresh. When another process
// holds the rebuild vote a stale copy inside the grace window is served.
func (c *Coordinator) Snapshot(ctx context.Context) (*Snapshot, error) {
	now := c.opts.Now()

	if local := c.trustedLocal(now); local != nil {
		metrics.CacheReads.WithLabelValues("local", "hit").Inc()
		return local, nil
	}

	remote, err := c.loadRemote(ctx)
	if err != nil {
		c.logger.Warn("category cache read failed", "key", KeyCategories, "error", err)
		if local := c.getLocal(); local != nil && local.Fresh(now) {
			return local, nil
		}
	} else if remote == nil {
		// The shared copy was invalidated; the local one predates that.
		c.setLocal(nil)
	}
	if remote != nil && remote.Fresh(now) {
		metrics.CacheReads.WithLabelValues("valkey", "hit").Inc()
		c.setLocal(remote)
		return remote, nil
	}
	metrics.CacheReads.WithLabelValues("valkey", "miss").Inc()

	stale := c.servableStale(now, remote)

	won, err := c.vote(ctx)
	if err != nil {
		c.logger.Warn("category rebuild vote failed", "key", KeyRebuildVote, "error", err)
	}
	if !won {
		metrics.CacheLockLost.Inc()
		if stale != nil {
			metrics.CacheReads.WithLabelValues("valkey", "stale").Inc()
			return stale, nil
		}
		return c.rebuild(ctx, false)
	}
	defer c.release(ctx)
	return c.rebuild(ctx, true)
}

// Get returns one category from the snapshot.
func (c *Coordinator) Get(ctx context.Context, id int64) (*models.Category, error) {
	snap, err := c.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	cat, ok := snap.Get(id)
	if !ok {
		return nil, apperr.NotFound("category", id)
	}
	return cat, nil
}

// List returns every category ordered by TreeLeft.
func (c *Coordinator) List(ctx context.Context) ([]*models.Category, error) {
	snap, err := c.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return snap.List(), nil
}

// State reports how the snapshot looks right now without triggering a
// rebuild.
func (c *Coordinator) State(ctx context.Context) State {
	now := c.opts.Now()
	remote, _ := c.loadRemote(ctx)
	snap := newest(c.getLocal(), remote)

	if snap != nil && snap.Fresh(now) {
		return StateFresh
	}
	if c.client != nil {
		holder, err := c.client.Get(ctx, KeyRebuildVote).Result()
		if err == nil && holder != "" {
			return StateRebuilding
		}
	}
	if snap != nil && snap.Servable(now, c.opts.Grace) {
		return StateStaleInGrace
	}
	return StateEmpty
}

// Junctions returns the permission junctions of the cached tree.
func (c *Coordinator) Junctions(ctx context.Context) ([]int64, error) {
	snap, err := c.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return permission.Junctions(snap.List()), nil
}

// JunctionAliases returns the inheriting category to owner map of the
// cached tree.
func (c *Coordinator) JunctionAliases(ctx context.Context) (map[int64]int64, error) {
	snap, err := c.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return permission.JunctionAliases(snap.List()), nil
}

// Invalidate drops the shared and the local snapshot.
func (c *Coordinator) Invalidate(ctx context.Context) error {
	c.setLocal(nil)
	if c.client == nil {
		return nil
	}
	if err := c.client.Del(ctx, KeyCategories).Err(); err != nil {
		return fmt.Errorf("invalidate category cache: %w", err)
	}
	c.logger.Debug("category cache invalidated")
	return nil
}

// InvalidateDeferred schedules one invalidation job per dirty window.
func (c *Coordinator) InvalidateDeferred() {
	c.batchMu.Lock()
	defer c.batchMu.Unlock()
	if c.clearScheduled {
		return
	}
	c.clearScheduled = true
	c.sched.Schedule("category-cache-clear", func(ctx context.Context) error {
		c.batchMu.Lock()
		c.clearScheduled = false
		c.batchMu.Unlock()
		return c.Invalidate(ctx)
	})
}

// SetDeferredCache merges patch into the pending batch for id and makes
// sure exactly one flush job is scheduled.
func (c *Coordinator) SetDeferredCache(id int64, patch models.Patch) {
	if patch.IsEmpty() {
		return
	}
	c.batchMu.Lock()
	defer c.batchMu.Unlock()
	if c.batch == nil {
		c.batch = make(map[int64]models.Patch)
	}
	c.batch[id] = c.batch[id].Merge(patch)
	c.scheduleFlushLocked()
}

// Pending returns the number of categories with unflushed patches.
func (c *Coordinator) Pending() int {
	c.batchMu.Lock()
	defer c.batchMu.Unlock()
	return len(c.batch)
}

func (c *Coordinator) scheduleFlushLocked() {
	if c.flushScheduled {
		return
	}
	c.flushScheduled = true
	c.sched.Schedule("category-cache-flush", c.FlushDeferred)
}

// FlushDeferred drains the pending batch. Each iteration takes the whole
// batch, applies it to the current snapshot and stores the result with a
// single write, so readers see all of an iteration's patches or none. On
// failure the batch is discarded and the cache cleared. The scheduling
// flag is reset on every exit path.
func (c *Coordinator) FlushDeferred(ctx context.Context) (err error) {
	defer func() {
		c.batchMu.Lock()
		defer c.batchMu.Unlock()
		c.flushScheduled = false
		if err != nil {
			c.batch = nil
			return
		}
		if len(c.batch) > 0 {
			c.scheduleFlushLocked()
		}
	}()

	for iteration := 1; ; iteration++ {
		c.batchMu.Lock()
		batch := c.batch
		c.batch = nil
		c.batchMu.Unlock()
		if len(batch) == 0 {
			metrics.CacheFlushes.WithLabelValues("ok").Inc()
			return nil
		}

		if err := c.applyBatch(ctx, batch); err != nil {
			metrics.CacheFlushes.WithLabelValues("error").Inc()
			c.logger.Error("deferred category cache flush failed, clearing cache",
				"iteration", iteration,
				"categories", len(batch),
				"error", err,
			)
			if ierr := c.Invalidate(ctx); ierr != nil {
				c.logger.Error("category cache clear after failed flush", "error", ierr)
			}
			return fmt.Errorf("flush deferred category cache: %w", err)
		}
		c.logger.Debug("deferred category cache flushed",
			"iteration", iteration,
			"categories", len(batch),
		)
	}
}

// applyBatch patches the shared snapshot under WATCH so a concurrent
// invalidation or rebuild is never overwritten. A missing shared copy
// means there is nothing to patch: the next rebuild reads the patched
// rows. Local-only coordinators patch their own copy.
func (c *Coordinator) applyBatch(ctx context.Context, batch map[int64]models.Patch) error {
	if c.client == nil {
		if snap := c.getLocal(); snap != nil {
			c.setLocal(patched(snap, batch))
		}
		return nil
	}

	for attempt := 1; attempt <= maxFlushAttempts; attempt++ {
		var next *Snapshot
		err := c.client.Watch(ctx, func(tx *redis.Tx) error {
			snap, err := decodeSnapshot(tx.Get(ctx, KeyCategories).Bytes())
			if err != nil || snap == nil {
				return err
			}
			next = patched(snap, batch)
			raw, ttl, err := c.encode(next)
			if err != nil {
				return err
			}
			if ttl <= 0 {
				next = nil
				return nil
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, KeyCategories, raw, ttl)
				return nil
			})
			return err
		}, KeyCategories)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return err
		}
		if next == nil {
			c.setLocal(nil)
			return nil
		}
		c.setLocal(next)
		return nil
	}
	return fmt.Errorf("category cache kept changing during %d flush attempts", maxFlushAttempts)
}

// patched returns a copy of snap with batch applied. Categories missing
// from snap are skipped.
func patched(snap *Snapshot, batch map[int64]models.Patch) *Snapshot {
	next := &Snapshot{
		Expiry:     snap.Expiry,
		Categories: make(map[int64]*models.Category, len(snap.Categories)),
	}
	for id, cat := range snap.Categories {
		next.Categories[id] = cat
	}
	for id, p := range batch {
		cat, ok := next.Categories[id]
		if !ok {
			continue
		}
		cp := cat.Clone()
		p.Apply(cp)
		next.Categories[id] = cp
	}
	return next
}

func (c *Coordinator) rebuild(ctx context.Context, publish bool) (*Snapshot, error) {
	key := "local"
	if publish {
		key = "shared"
	}
	v, err, _ := c.group.Do(key, func() (any, error) {
		cats, err := c.loader.ListCategories(ctx)
		if err != nil {
			return nil, fmt.Errorf("rebuild category cache: %w", err)
		}
		snap := &Snapshot{
			Expiry:     c.opts.Now().Add(c.opts.TTL),
			Categories: make(map[int64]*models.Category, len(cats)),
		}
		for _, cat := range cats {
			snap.Categories[cat.CategoryID] = cat
		}
		metrics.CacheRebuilds.Inc()
		metrics.CacheReads.WithLabelValues("storage", "hit").Inc()

		if publish {
			if err := c.storeRemote(ctx, snap); err != nil {
				c.logger.Warn("category cache write failed", "key", KeyCategories, "error", err)
			}
		}
		c.setLocal(snap)
		c.logger.Debug("category cache rebuilt", "categories", len(cats), "shared", publish)
		return snap, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Snapshot), nil
}

func (c *Coordinator) vote(ctx context.Context) (bool, error) {
	if c.client == nil {
		return true, nil
	}
	return c.client.SetNX(ctx, KeyRebuildVote, c.owner, c.opts.LockTTL).Result()
}

func (c *Coordinator) release(ctx context.Context) {
	if c.client == nil {
		return
	}
	if err := releaseScript.Run(ctx, c.client, []string{KeyRebuildVote}, c.owner).Err(); err != nil {
		c.logger.Warn("category rebuild vote release failed", "error", err)
	}
}

func (c *Coordinator) loadRemote(ctx context.Context) (*Snapshot, error) {
	if c.client == nil {
		return nil, nil
	}
	return decodeSnapshot(c.client.Get(ctx, KeyCategories).Bytes())
}

func decodeSnapshot(raw []byte, err error) (*Snapshot, error) {
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read category cache: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("decode category cache: %w", err)
	}
	return &snap, nil
}

// storeRemote writes snap with a TTL covering its grace window. A
// snapshot already past its grace window is not written.
func (c *Coordinator) storeRemote(ctx context.Context, snap *Snapshot) error {
	if c.client == nil {
		return nil
	}
	raw, ttl, err := c.encode(snap)
	if err != nil || ttl <= 0 {
		return err
	}
	if err := c.client.Set(ctx, KeyCategories, raw, ttl).Err(); err != nil {
		return fmt.Errorf("write category cache: %w", err)
	}
	return nil
}

// encode marshals snap and returns the Valkey TTL covering its grace
// window. A non-positive TTL means the snapshot is past serving.
func (c *Coordinator) encode(snap *Snapshot) ([]byte, time.Duration, error) {
	ttl := snap.Expiry.Add(c.opts.Grace).Sub(c.opts.Now())
	if ttl <= 0 {
		return nil, 0, nil
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return nil, 0, fmt.Errorf("encode category cache: %w", err)
	}
	return raw, ttl, nil
}

func (c *Coordinator) servableStale(now time.Time, remote *Snapshot) *Snapshot {
	snap := newest(c.getLocal(), remote)
	if snap != nil && snap.Servable(now, c.opts.Grace) {
		return snap
	}
	return nil
}

func (c *Coordinator) getLocal() *Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.local
}

// trustedLocal returns the local copy when it may be served without
// consulting Valkey.
func (c *Coordinator) trustedLocal(now time.Time) *Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.local == nil || !c.local.Fresh(now) {
		return nil
	}
	if c.client != nil && now.Sub(c.localAt) >= c.opts.LocalTTL {
		return nil
	}
	return c.local
}

func (c *Coordinator) setLocal(snap *Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.local = snap
	c.localAt = c.opts.Now()
}

func newest(a, b *Snapshot) *Snapshot {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	case b.Expiry.After(a.Expiry):
		return b
	default:
		return a
	}
}
