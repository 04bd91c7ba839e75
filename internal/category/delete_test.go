package category

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forumcat/internal/apperr"
	"forumcat/internal/events"
	"forumcat/internal/follow"
	"forumcat/internal/models"
)

func TestDelete_ReplacementReceivesContent(t *testing.T) {
	ctx := context.Background()
	e := setup(t)

	ids := make(map[int]int64)
	for i := 1; i <= 20; i++ {
		parent := int64(0)
		if i == 11 {
			parent = ids[10]
		}
		ids[i] = e.create(t, fmt.Sprintf("Category %d", i), parent)
	}
	for i := 0; i < 3; i++ {
		e.post(t, ids[10], 1)
	}
	for i := 0; i < 2; i++ {
		e.post(t, ids[11], 0)
	}
	_, err := e.store.InsertTag(ctx, &models.Tag{Name: "faq", CategoryID: ids[11]})
	require.NoError(t, err)
	require.NoError(t, e.store.SaveUserCategory(ctx, &models.UserCategory{UserID: 3, CategoryID: ids[10], Followed: true}))

	before := e.row(t, ids[20])
	require.NoError(t, e.model.Delete(ctx, ids[10], DeleteOptions{ReplacementID: ids[20]}))

	after := e.row(t, ids[20])
	assert.Equal(t, before.CountDiscussions+5, after.CountDiscussions)
	assert.Equal(t, before.CountComments+3, after.CountComments)
	assert.Equal(t, 5, after.CountAllDiscussions)

	for _, id := range []int64{ids[10], ids[11]} {
		_, err := e.store.GetCategory(ctx, id)
		assert.True(t, errors.Is(err, apperr.ErrNotFound), "category %d removed", id)
		_, err = e.model.Get(ctx, id)
		assert.True(t, errors.Is(err, apperr.ErrNotFound), "category %d gone from cache", id)
	}

	moved, err := e.store.ListDiscussions(ctx, ids[20])
	require.NoError(t, err)
	assert.Len(t, moved, 5)
	tags, err := e.store.ListTags(ctx, ids[20])
	require.NoError(t, err)
	assert.Len(t, tags, 1)
	uc, err := e.store.GetUserCategory(ctx, 3, ids[10])
	require.NoError(t, err)
	assert.Nil(t, uc)

	root := e.row(t, models.RootID)
	assert.Equal(t, 18, root.CountCategories)
	assert.Equal(t, 5, root.CountAllDiscussions)

	deleted := e.bus.Events(events.TypeCategoryDeleted)
	require.Len(t, deleted, 1)
	var data events.DeletedData
	require.NoError(t, deleted[0].UnmarshalData(&data))
	assert.Equal(t, ids[20], data.ReplacementID)
	assert.ElementsMatch(t, []int64{ids[10], ids[11]}, data.DeletedIDs)
	assert.Equal(t, 5, data.MovedItems)
}

func TestDelete_ClearsFollowerCaches(t *testing.T) {
	ctx := context.Background()
	e := setup(t)
	a := e.create(t, "A", 0)
	b := e.create(t, "B", 0)
	c := e.create(t, "C", 0)
	follows := follow.New(e.store, e.cache, e.bus, 2, nil)

	require.NoError(t, follows.Follow(ctx, 3, a, true, false))
	require.NoError(t, follows.Follow(ctx, 3, b, true, false))
	err := follows.Follow(ctx, 3, c, true, false)
	require.True(t, errors.Is(err, apperr.ErrCapacity), "got %v", err)

	require.NoError(t, e.model.Delete(ctx, a, DeleteOptions{}))

	ids, err := e.cache.FollowedIDs(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, []int64{b}, ids, "deleted category no longer counts against the cap")
	rows, err := e.cache.UserCategories(ctx, 3)
	require.NoError(t, err)
	assert.NotContains(t, rows, a)

	require.NoError(t, follows.Follow(ctx, 3, c, true, false))
}

func TestDeleteTask_CascadeInSteps(t *testing.T) {
	ctx := context.Background()
	e := setup(t)
	top := e.create(t, "Top", 0, custom)
	mid := e.create(t, "Mid", top)
	deep := e.create(t, "Deep", mid)
	keep := e.create(t, "Keep", 0)
	for _, id := range []int64{top, mid, deep, deep} {
		e.post(t, id, 2)
	}
	e.post(t, keep, 0)
	require.NoError(t, e.store.AddGrant(ctx, models.Grant{RoleID: 1, CategoryID: top, Permission: models.PermDiscussionsView}))

	task, err := e.model.NewDeleteTask(ctx, top, DeleteOptions{})
	require.NoError(t, err)
	total, err := task.Total(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, total)

	res, err := task.Step(ctx, 3)
	require.NoError(t, err)
	assert.False(t, res.Done)
	assert.Equal(t, 3, res.Processed)
	assert.Equal(t, 1, res.Remaining)

	left, err := e.store.ListDiscussions(ctx, top)
	require.NoError(t, err)
	assert.Len(t, left, 1, "deepest categories drain first")

	// A fresh task after a crash resumes with what is left.
	resumed, err := e.model.NewDeleteTask(ctx, top, DeleteOptions{})
	require.NoError(t, err)
	total, err = resumed.Total(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, total)

	res, err = resumed.Step(ctx, 3)
	require.NoError(t, err)
	assert.True(t, res.Done)
	assert.Equal(t, 1, res.Processed)
	assert.Zero(t, res.Remaining)

	res, err = resumed.Step(ctx, 3)
	require.NoError(t, err)
	assert.True(t, res.Done, "finished task stays done")

	for _, id := range []int64{top, mid, deep} {
		_, err := e.store.GetCategory(ctx, id)
		assert.True(t, errors.Is(err, apperr.ErrNotFound))
	}
	grants, err := e.store.CountGrants(ctx, top)
	require.NoError(t, err)
	assert.Zero(t, grants)

	root := e.row(t, models.RootID)
	assert.Equal(t, 1, root.CountAllDiscussions)
	assert.Equal(t, 1, root.CountCategories)
	assert.Equal(t, 1, e.row(t, keep).CountAllDiscussions)

	_, err = e.model.NewDeleteTask(ctx, top, DeleteOptions{})
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestDelete_MoveSubcategories(t *testing.T) {
	ctx := context.Background()
	e := setup(t)
	parent := e.create(t, "Parent", 0)
	gone := e.create(t, "Gone", parent, custom)
	child := e.create(t, "Child", gone)
	grandchild := e.create(t, "Grandchild", child)
	target := e.create(t, "Target", 0, custom)
	e.post(t, gone, 0)
	e.post(t, grandchild, 0)

	require.Equal(t, gone, e.row(t, child).PermissionCategoryID)

	require.NoError(t, e.model.Delete(ctx, gone, DeleteOptions{ReplacementID: target, MoveSubcategories: true}))

	c := e.row(t, child)
	assert.Equal(t, target, c.ParentCategoryID)
	assert.Equal(t, 2, c.Depth)
	assert.Equal(t, target, c.PermissionCategoryID, "inherits from the new parent")
	assert.Equal(t, target, e.row(t, grandchild).PermissionCategoryID)

	tg := e.row(t, target)
	assert.Equal(t, 1, tg.CountDiscussions)
	assert.Equal(t, 2, tg.CountAllDiscussions)
	assert.Zero(t, e.row(t, parent).CountAllDiscussions)
	assert.Zero(t, e.row(t, parent).CountCategories)
}

func TestDelete_MoveSubcategoriesToParent(t *testing.T) {
	ctx := context.Background()
	e := setup(t)
	parent := e.create(t, "Parent", 0)
	gone := e.create(t, "Gone", parent)
	child := e.create(t, "Child", gone)
	e.post(t, gone, 0)
	e.post(t, child, 0)

	require.NoError(t, e.model.Delete(ctx, gone, DeleteOptions{MoveSubcategories: true}))

	assert.Equal(t, parent, e.row(t, child).ParentCategoryID)
	assert.Equal(t, 1, e.row(t, parent).CountAllDiscussions, "content of the deleted category is gone")
}

func TestDelete_Rejections(t *testing.T) {
	ctx := context.Background()
	e := setup(t)
	a := e.create(t, "A", 0)
	b := e.create(t, "B", a)

	err := e.model.Delete(ctx, models.RootID, DeleteOptions{})
	assert.True(t, errors.Is(err, apperr.ErrInvalidInput))

	err = e.model.Delete(ctx, a, DeleteOptions{ReplacementID: b})
	assert.True(t, errors.Is(err, apperr.ErrInvalidInput), "replacement inside the deleted subtree")

	err = e.model.Delete(ctx, a, DeleteOptions{ReplacementID: a})
	assert.True(t, errors.Is(err, apperr.ErrInvalidInput))

	err = e.model.Delete(ctx, a, DeleteOptions{ReplacementID: 404})
	assert.True(t, errors.Is(err, apperr.ErrNotFound))

	assert.Equal(t, a, e.row(t, b).ParentCategoryID)
}
