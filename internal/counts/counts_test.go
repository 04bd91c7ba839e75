package counts

import (
	"context"
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forumcat/internal/apperr"
	"forumcat/internal/models"
	"forumcat/internal/store/memory"
	"forumcat/internal/tree"
)

// seed inserts categories with the given parents, lays out the tree and
// assigns each category the given direct discussion count.
func seed(t *testing.T, parents []int64, direct []int) *memory.Store {
	t.Helper()
	ctx := context.Background()
	st := memory.New()
	b := tree.New(st, nil)
	_, err := b.RebuildTree(ctx, true)
	require.NoError(t, err)

	for i, p := range parents {
		id, err := st.InsertCategory(ctx, &models.Category{
			ParentCategoryID: p,
			Name:             "c",
			Sort:             i,
		})
		require.NoError(t, err)
		require.NoError(t, st.AdjustDirectCounts(ctx, id, direct[i], 2*direct[i]))
	}
	_, err = b.RebuildTree(ctx, true)
	require.NoError(t, err)
	return st
}

func snapshot(t *testing.T, st *memory.Store) map[int64]*models.Category {
	t.Helper()
	cats, err := st.ListCategories(context.Background())
	require.NoError(t, err)
	m := make(map[int64]*models.Category, len(cats))
	for _, c := range cats {
		m[c.CategoryID] = c
	}
	return m
}

// assertRolledUp checks that every aggregate equals the direct count plus
// the aggregates of the direct children.
func assertRolledUp(t *testing.T, st *memory.Store) {
	t.Helper()
	m := snapshot(t, st)
	sumD := make(map[int64]int)
	sumC := make(map[int64]int)
	for _, c := range m {
		if c.IsRoot() {
			continue
		}
		sumD[c.ParentCategoryID] += c.CountAllDiscussions
		sumC[c.ParentCategoryID] += c.CountAllComments
	}
	for id, c := range m {
		assert.Equal(t, c.CountDiscussions+sumD[id], c.CountAllDiscussions, "discussions of %d", id)
		assert.Equal(t, c.CountComments+sumC[id], c.CountAllComments, "comments of %d", id)
	}
}

func TestRecalculateAggregateCounts_Example(t *testing.T) {
	// root ── 1 ── 2 ── 3
	//          └── 4
	st := seed(t, []int64{-1, 1, 2, 1}, []int{1, 2, 3, 4})
	e := New(st, nil)
	require.NoError(t, e.RecalculateAggregateCounts(context.Background(), nil))

	m := snapshot(t, st)
	assert.Equal(t, 3, m[3].CountAllDiscussions)
	assert.Equal(t, 5, m[2].CountAllDiscussions)
	assert.Equal(t, 10, m[1].CountAllDiscussions)
	assert.Equal(t, 10, m[models.RootID].CountAllDiscussions)
	assert.Equal(t, 20, m[models.RootID].CountAllComments)
	assertRolledUp(t, st)
}

func TestRecalculateAggregateCounts_RandomForests(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 5))
	for round := 0; round < 15; round++ {
		n := 2 + rng.IntN(30)
		parents := make([]int64, n)
		direct := make([]int, n)
		for i := range parents {
			if pick := rng.IntN(i + 1); pick == 0 {
				parents[i] = models.RootID
			} else {
				parents[i] = int64(pick)
			}
			direct[i] = rng.IntN(10)
		}
		st := seed(t, parents, direct)
		require.NoError(t, New(st, nil).RecalculateAggregateCounts(context.Background(), nil))
		assertRolledUp(t, st)
	}
}

func TestRecalculateAggregateCounts_HealsDrift(t *testing.T) {
	ctx := context.Background()
	st := seed(t, []int64{-1, 1, -1}, []int{1, 1, 1})
	e := New(st, nil)
	require.NoError(t, e.RecalculateAggregateCounts(ctx, nil))

	// Corrupt the chain 2 -> 1 -> root and an unrelated node 3.
	require.NoError(t, st.AdjustAggregateCounts(ctx, []int64{2, 1, models.RootID}, 40, 0))
	require.NoError(t, st.AdjustAggregateCounts(ctx, []int64{3}, 7, 0))

	require.NoError(t, e.RecalculateAggregateCounts(ctx, []int64{2}))
	m := snapshot(t, st)
	assert.Equal(t, 1, m[2].CountAllDiscussions)
	assert.Equal(t, 2, m[1].CountAllDiscussions)
	assert.Equal(t, 8, m[3].CountAllDiscussions, "nodes outside the scope are left alone")
	assert.Equal(t, 10, m[models.RootID].CountAllDiscussions)

	require.NoError(t, e.RecalculateAggregateCounts(ctx, nil))
	assertRolledUp(t, st)
}

func TestIncrementDecrementAggregateCount(t *testing.T) {
	ctx := context.Background()
	st := seed(t, []int64{-1, 1, 2, -1}, []int{0, 0, 0, 0})
	e := New(st, nil)

	ids, err := e.IncrementAggregateCount(ctx, 3, Discussions, 2)
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 2, 1, models.RootID}, ids)

	_, err = e.IncrementAggregateCount(ctx, 3, Comments, 5)
	require.NoError(t, err)
	_, err = e.DecrementAggregateCount(ctx, 2, Discussions, 1)
	require.NoError(t, err)

	m := snapshot(t, st)
	assert.Equal(t, 2, m[3].CountAllDiscussions)
	assert.Equal(t, 5, m[3].CountAllComments)
	assert.Equal(t, 1, m[2].CountAllDiscussions)
	assert.Equal(t, 1, m[1].CountAllDiscussions)
	assert.Equal(t, 0, m[4].CountAllDiscussions)

	_, err = e.IncrementAggregateCount(ctx, 99, Discussions, 1)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestRecountCategory(t *testing.T) {
	ctx := context.Background()
	st := seed(t, []int64{-1, 1}, []int{0, 0})
	e := New(st, nil)
	require.NoError(t, e.RecalculateAggregateCounts(ctx, nil))

	for range 3 {
		_, err := st.InsertDiscussion(ctx, &models.Discussion{CategoryID: 2, CountComments: 4})
		require.NoError(t, err)
	}

	delta, err := e.RecountCategory(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, Delta{Discussions: 3, Comments: 12}, delta)

	m := snapshot(t, st)
	assert.Equal(t, 3, m[2].CountDiscussions)
	assert.Equal(t, 3, m[1].CountAllDiscussions)
	assert.Equal(t, 12, m[models.RootID].CountAllComments)

	delta, err = e.RecountCategory(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, Delta{}, delta)
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("comment")
	require.NoError(t, err)
	assert.Equal(t, Comments, k)

	_, err = ParseKind("embed")
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}
