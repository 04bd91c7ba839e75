package tree

import (
	"context"
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forumcat/internal/apperr"
	"forumcat/internal/models"
	"forumcat/internal/store/memory"
)

// seed inserts one category per entry of parents; parents[i] is the parent
// of category i+1. The root is created by an initial rebuild.
func seed(t *testing.T, parents []int64) (*memory.Store, *Builder) {
	t.Helper()
	ctx := context.Background()
	st := memory.New()
	b := New(st, nil)
	_, err := b.RebuildTree(ctx, true)
	require.NoError(t, err)

	for i, p := range parents {
		id, err := st.InsertCategory(ctx, &models.Category{
			ParentCategoryID: p,
			Name:             fmt.Sprintf("cat-%02d", i+1),
			Sort:             len(parents) - i,
			DisplayAs:        models.DisplayDiscussions,
		})
		require.NoError(t, err)
		require.Equal(t, int64(i+1), id)
	}
	return st, b
}

func byID(t *testing.T, st *memory.Store) map[int64]*models.Category {
	t.Helper()
	cats, err := st.ListCategories(context.Background())
	require.NoError(t, err)
	m := make(map[int64]*models.Category, len(cats))
	for _, c := range cats {
		m[c.CategoryID] = c
	}
	return m
}

// assertNestedSet checks containment within parents, disjoint siblings,
// and depth = number of ancestors.
func assertNestedSet(t *testing.T, st *memory.Store) {
	t.Helper()
	m := byID(t, st)

	roots := 0
	for _, c := range m {
		if c.IsRoot() {
			roots++
			assert.Equal(t, 0, c.Depth)
			continue
		}
		parent, ok := m[c.ParentCategoryID]
		require.True(t, ok, "category %d has no parent", c.CategoryID)
		assert.Less(t, parent.TreeLeft, c.TreeLeft)
		assert.Less(t, c.TreeLeft, c.TreeRight)
		assert.Less(t, c.TreeRight, parent.TreeRight)
		assert.Equal(t, parent.Depth+1, c.Depth)
	}
	assert.Equal(t, 1, roots)

	for _, a := range m {
		for _, b := range m {
			if a.CategoryID >= b.CategoryID || a.ParentCategoryID != b.ParentCategoryID || a.IsRoot() || b.IsRoot() {
				continue
			}
			disjoint := a.TreeRight < b.TreeLeft || b.TreeRight < a.TreeLeft
			assert.True(t, disjoint, "siblings %d and %d overlap", a.CategoryID, b.CategoryID)
		}
	}
}

func TestRebuildTree_CreatesMissingRoot(t *testing.T) {
	st := memory.New()
	b := New(st, nil)

	changed, err := b.RebuildTree(context.Background(), false)
	require.NoError(t, err)
	assert.Empty(t, changed, "a fresh root already has the right coordinates")

	root, err := st.GetCategory(context.Background(), models.RootID)
	require.NoError(t, err)
	assert.Equal(t, 1, root.TreeLeft)
	assert.Equal(t, 2, root.TreeRight)
	assert.Equal(t, models.RootID, root.PermissionCategoryID)
}

func TestRebuildTree_RandomForestsHoldInvariant(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	for round := 0; round < 20; round++ {
		n := 1 + rng.IntN(40)
		parents := make([]int64, n)
		for i := range parents {
			// Parent is the root or any earlier category.
			pick := rng.IntN(i + 1)
			if pick == 0 {
				parents[i] = models.RootID
			} else {
				parents[i] = int64(pick)
			}
		}

		st, b := seed(t, parents)
		_, err := b.RebuildTree(context.Background(), round%2 == 0)
		require.NoError(t, err)
		assertNestedSet(t, st)

		root := byID(t, st)[models.RootID]
		assert.Equal(t, 2*(n+1), root.TreeRight, "round %d", round)
	}
}

func TestRebuildTree_Idempotent(t *testing.T) {
	st, b := seed(t, []int64{-1, -1, 1, 1, 3, 2, -1})
	ctx := context.Background()

	first, err := b.RebuildTree(ctx, true)
	require.NoError(t, err)
	assert.NotEmpty(t, first)
	before := byID(t, st)

	second, err := b.RebuildTree(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, second)

	third, err := b.RebuildTree(ctx, false)
	require.NoError(t, err)
	assert.Empty(t, third, "rebuilding by existing order must keep the sort-order layout")

	after := byID(t, st)
	for id, c := range before {
		assert.Equal(t, c.TreeLeft, after[id].TreeLeft)
		assert.Equal(t, c.TreeRight, after[id].TreeRight)
		assert.Equal(t, c.Depth, after[id].Depth)
	}
}

func TestRebuildTree_SiblingOrderBySortThenName(t *testing.T) {
	st, b := seed(t, []int64{-1, -1, -1})
	ctx := context.Background()
	require.NoError(t, st.UpdateTreeItems(ctx, []models.TreeItem{
		{CategoryID: 1, ParentCategoryID: -1, Sort: 2},
		{CategoryID: 2, ParentCategoryID: -1, Sort: 1},
		{CategoryID: 3, ParentCategoryID: -1, Sort: 1},
	}))
	require.NoError(t, st.PatchCategory(ctx, 2, models.Patch{Name: models.Ptr("zeta")}))
	require.NoError(t, st.PatchCategory(ctx, 3, models.Patch{Name: models.Ptr("alpha")}))

	_, err := b.RebuildTree(ctx, true)
	require.NoError(t, err)

	m := byID(t, st)
	assert.Less(t, m[3].TreeLeft, m[2].TreeLeft, "alpha before zeta on equal sort")
	assert.Less(t, m[2].TreeLeft, m[1].TreeLeft, "lower sort first")
}

func TestRebuildTree_CountsDirectChildren(t *testing.T) {
	st, b := seed(t, []int64{-1, 1, 1, 2})
	_, err := b.RebuildTree(context.Background(), true)
	require.NoError(t, err)

	m := byID(t, st)
	assert.Equal(t, 1, m[models.RootID].CountCategories)
	assert.Equal(t, 2, m[1].CountCategories)
	assert.Equal(t, 1, m[2].CountCategories)
	assert.Equal(t, 0, m[4].CountCategories)
}

func TestRebuildTree_OrphanAttachedToRoot(t *testing.T) {
	st, b := seed(t, []int64{-1, 99})
	_, err := b.RebuildTree(context.Background(), true)
	require.NoError(t, err)

	m := byID(t, st)
	assert.Equal(t, models.RootID, m[2].ParentCategoryID)
	assert.Equal(t, 1, m[2].Depth)
	assertNestedSet(t, st)
}

func TestRebuildTree_CycleIsConsistencyError(t *testing.T) {
	st, b := seed(t, []int64{-1, -1, -1})
	ctx := context.Background()
	require.NoError(t, st.UpdateTreeItems(ctx, []models.TreeItem{
		{CategoryID: 2, ParentCategoryID: 3},
		{CategoryID: 3, ParentCategoryID: 2},
	}))

	_, err := b.RebuildTree(ctx, true)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrConsistency)
}

func TestRebuildTree_SelfParentIsConsistencyError(t *testing.T) {
	st, b := seed(t, []int64{-1})
	ctx := context.Background()
	require.NoError(t, st.UpdateTreeItems(ctx, []models.TreeItem{{CategoryID: 1, ParentCategoryID: 1}}))

	_, err := b.RebuildTree(ctx, true)
	assert.ErrorIs(t, err, apperr.ErrConsistency)
}

func TestRecalculateDepth_Scoped(t *testing.T) {
	st, b := seed(t, []int64{-1, 1, 2, -1})
	ctx := context.Background()
	_, err := b.RebuildTree(ctx, true)
	require.NoError(t, err)

	// Corrupt depths below category 1, then repair only that subtree.
	require.NoError(t, st.UpdateCoordinates(ctx, []models.Coordinates{
		{CategoryID: 2, ParentCategoryID: 1, Depth: 9},
		{CategoryID: 3, ParentCategoryID: 2, Depth: 9},
		{CategoryID: 4, ParentCategoryID: -1, Depth: 9},
	}))
	require.NoError(t, b.RecalculateDepth(ctx, []int64{1}))

	m := byID(t, st)
	assert.Equal(t, 2, m[2].Depth)
	assert.Equal(t, 3, m[3].Depth)
	assert.Equal(t, 9, m[4].Depth, "outside the scope")

	require.NoError(t, b.RecalculateDepth(ctx, nil))
	assert.Equal(t, 1, byID(t, st)[4].Depth)
}

func TestRecalculateDepth_CycleTerminates(t *testing.T) {
	st, b := seed(t, []int64{-1, 1})
	ctx := context.Background()
	require.NoError(t, st.UpdateTreeItems(ctx, []models.TreeItem{{CategoryID: 1, ParentCategoryID: 2}}))

	err := b.RecalculateDepth(ctx, []int64{2})
	assert.ErrorIs(t, err, apperr.ErrConsistency)
}

func TestRecalculateDepth_TooDeep(t *testing.T) {
	parents := []int64{-1}
	for i := 1; i <= models.MaxTreeDepth+1; i++ {
		parents = append(parents, int64(i))
	}
	_, b := seed(t, parents)

	err := b.RecalculateDepth(context.Background(), nil)
	assert.ErrorIs(t, err, apperr.ErrConsistency)
}

func TestSaveTree_MovesAndReturnsMoved(t *testing.T) {
	st, b := seed(t, []int64{-1, -1, 1})
	ctx := context.Background()

	moved, err := b.SaveTree(ctx, []models.TreeItem{
		{CategoryID: 2, ParentCategoryID: -1, Sort: 0},
		{CategoryID: 1, ParentCategoryID: 2, Sort: 0},
		{CategoryID: 3, ParentCategoryID: 1, Sort: 0},
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, moved)

	m := byID(t, st)
	assert.Equal(t, int64(2), m[1].ParentCategoryID)
	assert.Equal(t, 3, m[3].Depth)
	assertNestedSet(t, st)
}

func TestSaveTree_ChildBeforeParentRejected(t *testing.T) {
	st, b := seed(t, []int64{-1, -1})
	ctx := context.Background()

	_, err := b.SaveTree(ctx, []models.TreeItem{
		{CategoryID: 2, ParentCategoryID: 1},
		{CategoryID: 1, ParentCategoryID: -1},
	})
	assert.ErrorIs(t, err, apperr.ErrConsistency)
	assert.Equal(t, models.RootID, byID(t, st)[2].ParentCategoryID, "nothing written")
}

func TestSaveTree_IntoOwnSubtreeRejected(t *testing.T) {
	_, b := seed(t, []int64{-1, 1})

	_, err := b.SaveTree(context.Background(), []models.TreeItem{
		{CategoryID: 1, ParentCategoryID: 2},
	})
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
}

func TestValidateParent(t *testing.T) {
	st, _ := seed(t, []int64{-1, 1, 2})
	cats, err := st.ListCategories(context.Background())
	require.NoError(t, err)

	assert.NoError(t, ValidateParent(cats, 3, -1))
	assert.NoError(t, ValidateParent(cats, 3, 1))
	assert.ErrorIs(t, ValidateParent(cats, 1, 3), apperr.ErrInvalidInput)
	assert.ErrorIs(t, ValidateParent(cats, 1, 1), apperr.ErrInvalidInput)
	assert.ErrorIs(t, ValidateParent(cats, 1, 42), apperr.ErrNotFound)
}
