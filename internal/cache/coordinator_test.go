package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forumcat/internal/apperr"
	"forumcat/internal/jobs"
	"forumcat/internal/models"
)

type fakeLoader struct {
	mu    sync.Mutex
	cats  []*models.Category
	calls int
	err   error
}

func (f *fakeLoader) ListCategories(context.Context) ([]*models.Category, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([]*models.Category, len(f.cats))
	for i, c := range f.cats {
		out[i] = c.Clone()
	}
	return out, nil
}

func (f *fakeLoader) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeLoader) rename(id int64, name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.cats {
		if c.CategoryID == id {
			c.Name = name
		}
	}
}

type fakeUsers struct {
	rows  []models.UserCategory
	calls int
}

func (f *fakeUsers) ListUserCategories(_ context.Context, userID int64) ([]models.UserCategory, error) {
	f.calls++
	var out []models.UserCategory
	for _, uc := range f.rows {
		if uc.UserID == userID {
			out = append(out, uc)
		}
	}
	return out, nil
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testTree() []*models.Category {
	root := models.NewRoot(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	root.TreeRight = 8
	return []*models.Category{
		root,
		{CategoryID: 1, ParentCategoryID: -1, TreeLeft: 2, TreeRight: 3, Depth: 1, Name: "A", PermissionCategoryID: -1, DisplayAs: models.DisplayDiscussions},
		{CategoryID: 2, ParentCategoryID: -1, TreeLeft: 4, TreeRight: 5, Depth: 1, Name: "B", PermissionCategoryID: 2, DisplayAs: models.DisplayDiscussions},
		{CategoryID: 3, ParentCategoryID: -1, TreeLeft: 6, TreeRight: 7, Depth: 1, Name: "C", PermissionCategoryID: -1, DisplayAs: models.DisplayDiscussions},
	}
}

type harness struct {
	mr     *miniredis.Miniredis
	client *redis.Client
	loader *fakeLoader
	users  *fakeUsers
	queue  *jobs.Queue
	clock  *clock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return &harness{
		mr:     mr,
		client: client,
		loader: &fakeLoader{cats: testTree()},
		users:  &fakeUsers{},
		queue:  jobs.NewQueue(nil),
		clock:  &clock{now: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)},
	}
}

// process returns a coordinator sharing the harness Valkey, loader and
// clock, as a separate process would.
func (h *harness) process() *Coordinator {
	return New(h.client, h.loader, h.users, h.queue, Options{
		TTL:     10 * time.Minute,
		Grace:   time.Minute,
		LockTTL: 5 * time.Second,
		Now:     h.clock.Now,
	}, nil)
}

func TestSnapshot_RebuildsThenServesCachedCopies(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	a := h.process()

	assert.Equal(t, StateEmpty, a.State(ctx))

	snap, err := a.Snapshot(ctx)
	require.NoError(t, err)
	assert.Len(t, snap.Categories, 4)
	assert.Equal(t, 1, h.loader.Calls())
	assert.True(t, h.mr.Exists(KeyCategories))
	assert.Equal(t, 11*time.Minute, h.mr.TTL(KeyCategories), "ttl covers the grace window")
	assert.False(t, h.mr.Exists(KeyRebuildVote), "vote released after rebuild")
	assert.Equal(t, StateFresh, a.State(ctx))

	_, err = a.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, h.loader.Calls(), "local hit")

	b := h.process()
	got, err := b.Get(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, "B", got.Name)
	assert.Equal(t, 1, h.loader.Calls(), "second process reads Valkey")

	_, err = b.Get(ctx, 42)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestSnapshot_LockLoserServesStale(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	_, err := h.process().Snapshot(ctx)
	require.NoError(t, err)

	h.clock.Advance(10*time.Minute + 30*time.Second)
	h.loader.rename(1, "A2")
	require.NoError(t, h.mr.Set(KeyRebuildVote, "another-process"))

	b := h.process()
	assert.Equal(t, StateRebuilding, b.State(ctx))

	got, err := b.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "A", got.Name, "stale copy served while another process rebuilds")
	assert.Equal(t, 1, h.loader.Calls())

	h.mr.Del(KeyRebuildVote)
	assert.Equal(t, StateStaleInGrace, b.State(ctx))
}

func TestSnapshot_LockLoserWithNothingCachedBuildsLocally(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	require.NoError(t, h.mr.Set(KeyRebuildVote, "another-process"))

	snap, err := h.process().Snapshot(ctx)
	require.NoError(t, err)
	assert.Len(t, snap.Categories, 4)
	assert.False(t, h.mr.Exists(KeyCategories), "local-only copy is not published")
	got, err := h.mr.Get(KeyRebuildVote)
	require.NoError(t, err)
	assert.Equal(t, "another-process", got, "foreign vote untouched")
}

func TestSnapshot_WinnerRebuildsExpiredCopy(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	a := h.process()
	_, err := a.Snapshot(ctx)
	require.NoError(t, err)

	h.clock.Advance(11 * time.Minute)
	h.loader.rename(3, "C2")

	got, err := a.Get(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, "C2", got.Name)
	assert.Equal(t, 2, h.loader.Calls())
	assert.False(t, h.mr.Exists(KeyRebuildVote))
}

func TestSnapshot_ConcurrentReads(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	a := h.process()

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			snap, err := a.Snapshot(ctx)
			if assert.NoError(t, err) {
				assert.Len(t, snap.Categories, 4)
			}
		}()
	}
	wg.Wait()
	assert.True(t, h.mr.Exists(KeyCategories))
	assert.False(t, h.mr.Exists(KeyRebuildVote))
}

func TestSnapshot_LoaderError(t *testing.T) {
	h := newHarness(t)
	h.loader.err = errors.New("connection refused")
	_, err := h.process().Snapshot(context.Background())
	require.Error(t, err)
	assert.False(t, h.mr.Exists(KeyRebuildVote), "vote released on failure")
}

func TestDeferredFlush_AllOrNothing(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	a := h.process()
	_, err := a.Snapshot(ctx)
	require.NoError(t, err)

	a.SetDeferredCache(1, models.Patch{CountDiscussions: models.Ptr(5)})
	a.SetDeferredCache(2, models.Patch{Name: models.Ptr("x")})
	a.SetDeferredCache(3, models.Patch{Followed: models.Ptr(true)})
	assert.Equal(t, 1, h.queue.Len(), "one flush job per dirty window")
	assert.Equal(t, 3, a.Pending())

	before, err := a.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, before.Categories[1].CountDiscussions, "patches are not visible before the flush")

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			snap, err := a.Snapshot(ctx)
			if !assert.NoError(t, err) {
				return
			}
			seen := 0
			if snap.Categories[1].CountDiscussions == 5 {
				seen++
			}
			if snap.Categories[2].Name == "x" {
				seen++
			}
			if snap.Categories[3].Followed {
				seen++
			}
			if seen != 0 && seen != 3 {
				assert.Failf(t, "partial batch observed", "saw %d of 3 updates", seen)
				return
			}
		}
	}()

	require.NoError(t, h.queue.RunPending(ctx))
	close(stop)
	wg.Wait()

	for _, c := range []*Coordinator{a, h.process()} {
		snap, err := c.Snapshot(ctx)
		require.NoError(t, err)
		assert.Equal(t, 5, snap.Categories[1].CountDiscussions)
		assert.Equal(t, "x", snap.Categories[2].Name)
		assert.True(t, snap.Categories[3].Followed)
	}
	assert.Equal(t, 1, h.loader.Calls(), "flush patches the snapshot without a rebuild")
	assert.Equal(t, 0, a.Pending())

	a.SetDeferredCache(1, models.Patch{CountDiscussions: models.Ptr(6)})
	assert.Equal(t, 1, h.queue.Len(), "flag reset after a successful flush")
}

func TestDeferredFlush_MergesPatchesForSameID(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	a := h.process()
	_, err := a.Snapshot(ctx)
	require.NoError(t, err)

	a.SetDeferredCache(1, models.Patch{Name: models.Ptr("first"), CountComments: models.Ptr(1)})
	a.SetDeferredCache(1, models.Patch{Name: models.Ptr("second")})
	a.SetDeferredCache(1, models.Patch{})
	assert.Equal(t, 1, a.Pending())
	require.NoError(t, h.queue.RunPending(ctx))

	got, err := a.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "second", got.Name)
	assert.Equal(t, 1, got.CountComments)
}

func TestDeferredFlush_FailureClearsCacheAndResetsFlag(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	a := h.process()
	_, err := a.Snapshot(ctx)
	require.NoError(t, err)

	a.SetDeferredCache(1, models.Patch{Name: models.Ptr("lost")})
	require.NoError(t, h.mr.Set(KeyCategories, "{not json"))

	err = h.queue.RunPending(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "flush deferred category cache")
	assert.False(t, h.mr.Exists(KeyCategories), "cache cleared after failed flush")
	assert.Nil(t, a.getLocal())
	assert.Equal(t, 0, a.Pending(), "batch discarded")

	a.SetDeferredCache(2, models.Patch{Name: models.Ptr("again")})
	assert.Equal(t, 1, h.queue.Len(), "flag reset after a failed flush")
}

func TestDeferredFlush_NothingCachedDropsBatch(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	a := h.process()

	a.SetDeferredCache(1, models.Patch{Name: models.Ptr("x")})
	require.NoError(t, h.queue.RunPending(ctx))
	assert.False(t, h.mr.Exists(KeyCategories))
	assert.Equal(t, 0, a.Pending())
}

func TestInvalidateDeferred(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	a := h.process()
	_, err := a.Snapshot(ctx)
	require.NoError(t, err)

	a.InvalidateDeferred()
	a.InvalidateDeferred()
	assert.Equal(t, 1, h.queue.Len())
	assert.True(t, h.mr.Exists(KeyCategories), "nothing cleared until the job runs")

	require.NoError(t, h.queue.RunPending(ctx))
	assert.False(t, h.mr.Exists(KeyCategories))

	a.InvalidateDeferred()
	assert.Equal(t, 1, h.queue.Len())
}

func TestJunctions(t *testing.T) {
	ctx := context.Background()
	a := newHarness(t).process()

	ids, err := a.Junctions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{-1, 2}, ids)

	aliases, err := a.JunctionAliases(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[int64]int64{1: -1, 3: -1}, aliases)
}

func TestUserOverlays(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.users.rows = []models.UserCategory{
		{UserID: 7, CategoryID: 3, Followed: true},
		{UserID: 7, CategoryID: 1, Followed: true, EmailComments: true},
		{UserID: 7, CategoryID: 2},
		{UserID: 8, CategoryID: 2, Followed: true},
	}
	a := h.process()

	rows, err := a.UserCategories(ctx, 7)
	require.NoError(t, err)
	assert.Len(t, rows, 3)
	assert.True(t, rows[1].EmailComments)

	ids, err := a.FollowedIDs(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3}, ids)
	assert.Equal(t, 1, h.users.calls)
	assert.True(t, h.mr.Exists("UserCategory_7"))
	assert.True(t, h.mr.Exists("Follow_7"))

	_, err = a.FollowedIDs(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 1, h.users.calls, "served from Valkey")

	require.NoError(t, a.ClearUser(ctx, 7))
	assert.False(t, h.mr.Exists("UserCategory_7"))
	assert.False(t, h.mr.Exists("Follow_7"))

	_, err = a.FollowedIDs(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 2, h.users.calls)
}

func TestLocalOnlyMode(t *testing.T) {
	ctx := context.Background()
	loader := &fakeLoader{cats: testTree()}
	q := jobs.NewQueue(nil)
	a := New(nil, loader, &fakeUsers{}, q, Options{}, nil)

	_, err := a.Snapshot(ctx)
	require.NoError(t, err)
	a.SetDeferredCache(2, models.Patch{Archived: models.Ptr(true)})
	require.NoError(t, q.RunPending(ctx))

	got, err := a.Get(ctx, 2)
	require.NoError(t, err)
	assert.True(t, got.Archived)
	assert.Equal(t, 1, loader.Calls())

	require.NoError(t, a.Invalidate(ctx))
	_, err = a.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, loader.Calls())
}

func TestDeferredFlush_DoesNotRepublishInvalidatedCopy(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	a, b := h.process(), h.process()

	_, err := b.Snapshot(ctx)
	require.NoError(t, err)

	// a changes storage and drops the shared copy.
	h.loader.rename(1, "Renamed")
	require.NoError(t, a.Invalidate(ctx))

	// b flushes an unrelated patch queued before it saw the invalidation.
	b.SetDeferredCache(2, models.Patch{CountFollowers: models.Ptr(4)})
	require.NoError(t, h.queue.RunPending(ctx))
	assert.False(t, h.mr.Exists(KeyCategories), "a dropped copy is not written back")

	got, err := h.process().Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Name)

	got, err = b.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Name, "the flushing process forgets its local copy too")
}

func TestSnapshot_LocalCopyFollowsSharedInvalidation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	a, b := h.process(), h.process()

	_, err := b.Snapshot(ctx)
	require.NoError(t, err)
	h.loader.rename(3, "C2")
	require.NoError(t, a.Invalidate(ctx))

	got, err := b.Get(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, "C", got.Name, "local copy trusted briefly")

	h.clock.Advance(DefaultLocalTTL)
	got, err = b.Get(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, "C2", got.Name)
}

func TestDeferredFlush_KeepsSnapshotExpiry(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	a := h.process()
	_, err := a.Snapshot(ctx)
	require.NoError(t, err)

	a.SetDeferredCache(1, models.Patch{CountDiscussions: models.Ptr(9)})
	require.NoError(t, h.queue.RunPending(ctx))

	snap, err := h.process().Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 9, snap.Categories[1].CountDiscussions)
	assert.Equal(t, 11*time.Minute, h.mr.TTL(KeyCategories), "flush keeps the snapshot expiry")
}
