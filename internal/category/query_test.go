package category

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forumcat/internal/apperr"
	"forumcat/internal/models"
)

// tree builds:
//
//	General
//	  Help
//	    Help Archive
//	Staff (custom permissions)
//	  Staff Notes
//	Announcements (Heading)
func buildTree(t *testing.T, e *env) map[string]int64 {
	t.Helper()
	ids := make(map[string]int64)
	ids["General"] = e.create(t, "General", 0)
	ids["Help"] = e.create(t, "Help", ids["General"])
	ids["Help Archive"] = e.create(t, "Help Archive", ids["Help"], func(in *CategoryInput) { in.Archived = true })
	ids["Staff"] = e.create(t, "Staff", 0, custom)
	ids["Staff Notes"] = e.create(t, "Staff Notes", ids["Staff"])
	ids["Announcements"] = e.create(t, "Announcements", 0, display(models.DisplayHeading))
	return ids
}

func names(cats []*models.Category) []string {
	out := make([]string, len(cats))
	for i, c := range cats {
		out[i] = c.Name
	}
	return out
}

const (
	member  = int64(30)
	staffer = int64(40)
)

func TestGetTree_NestsChildren(t *testing.T) {
	ctx := context.Background()
	e := setup(t)
	ids := buildTree(t, e)
	e.viewer(t, staffer, models.RootID, ids["Staff"])

	top, err := e.model.GetTree(ctx, staffer)
	require.NoError(t, err)
	assert.Equal(t, []string{"General", "Staff", "Announcements"}, names(top))
	require.Len(t, top[0].Children, 1)
	assert.Equal(t, "Help", top[0].Children[0].Name)
	require.Len(t, top[0].Children[0].Children, 1)
	assert.Equal(t, ids["Help Archive"], top[0].Children[0].Children[0].CategoryID)
	require.Len(t, top[1].Children, 1)
	assert.Equal(t, "Staff Notes", top[1].Children[0].Name)

	shallow, err := e.model.GetChildTree(ctx, ids["General"], 1, staffer)
	require.NoError(t, err)
	require.Len(t, shallow, 1)
	assert.Empty(t, shallow[0].Children, "maxDepth 1 stops at direct children")

	_, err = e.model.GetChildTree(ctx, 404, 0, staffer)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestGetTree_HidesCategoriesWithoutView(t *testing.T) {
	ctx := context.Background()
	e := setup(t)
	ids := buildTree(t, e)
	e.viewer(t, member, models.RootID)

	top, err := e.model.GetTree(ctx, member)
	require.NoError(t, err)
	assert.Equal(t, []string{"General", "Announcements"}, names(top), "Staff and its subtree are left out")

	_, err = e.model.GetChildTree(ctx, ids["Staff"], 0, member)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))

	guest, err := e.model.GetTree(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, guest, "no grants, nothing to see")
}

func TestGetTree_UserOverlay(t *testing.T) {
	ctx := context.Background()
	e := setup(t)
	ids := buildTree(t, e)
	e.viewer(t, 5, models.RootID)
	require.NoError(t, e.store.AssignRole(ctx, 0, 5))

	global := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	mine := global.Add(24 * time.Hour)
	require.NoError(t, e.store.PatchCategory(ctx, ids["Help"], models.Patch{DateMarkedRead: &global}))
	require.NoError(t, e.store.SaveUserCategory(ctx, &models.UserCategory{
		UserID:         5,
		CategoryID:     ids["Help"],
		Followed:       true,
		DateMarkedRead: &mine,
	}))
	require.NoError(t, e.cache.Invalidate(ctx))

	top, err := e.model.GetTree(ctx, 5)
	require.NoError(t, err)
	help := top[0].Children[0]
	assert.True(t, help.Followed)
	require.NotNil(t, help.DateMarkedRead)
	assert.True(t, help.DateMarkedRead.Equal(mine))

	guest, err := e.model.GetTree(ctx, 0)
	require.NoError(t, err)
	assert.False(t, guest[0].Children[0].Followed)
	assert.True(t, guest[0].Children[0].DateMarkedRead.Equal(global))
}

func TestGetDescendantsAndAncestors(t *testing.T) {
	ctx := context.Background()
	e := setup(t)
	ids := buildTree(t, e)
	e.viewer(t, member, models.RootID)

	desc, err := e.model.GetDescendantIDs(ctx, ids["General"])
	require.NoError(t, err)
	assert.Equal(t, []int64{ids["Help"], ids["Help Archive"]}, desc)

	leaf, err := e.model.GetDescendantIDs(ctx, ids["Announcements"])
	require.NoError(t, err)
	assert.Empty(t, leaf)

	chain, err := e.model.GetAncestors(ctx, ids["Help Archive"], member)
	require.NoError(t, err)
	assert.Equal(t, []string{"General", "Help", "Help Archive"}, names(chain))

	_, err = e.model.GetAncestors(ctx, ids["Staff Notes"], member)
	assert.True(t, errors.Is(err, apperr.ErrNotFound), "hidden categories do not exist for the user")
}

func TestView(t *testing.T) {
	ctx := context.Background()
	e := setup(t)
	ids := buildTree(t, e)
	e.viewer(t, member, models.RootID)
	e.viewer(t, staffer, models.RootID, ids["Staff"])

	got, err := e.model.View(ctx, ids["Help"], member)
	require.NoError(t, err)
	assert.Equal(t, "Help", got.Name)

	_, err = e.model.View(ctx, ids["Staff Notes"], member)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
	_, err = e.model.ViewByCode(ctx, "staff-notes", member)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
	_, err = e.model.View(ctx, models.RootID, staffer)
	assert.True(t, errors.Is(err, apperr.ErrNotFound), "the root is not a category")

	notes, err := e.model.ViewByCode(ctx, "staff-notes", staffer)
	require.NoError(t, err)
	assert.Equal(t, ids["Staff Notes"], notes.CategoryID)
}

func TestGetVisibleCategoryIDs(t *testing.T) {
	ctx := context.Background()
	e := setup(t)
	ids := buildTree(t, e)

	// Role 1 sees the public tree, role 2 also sees staff.
	for _, g := range []models.Grant{
		{RoleID: 1, CategoryID: models.RootID, Permission: models.PermDiscussionsView},
		{RoleID: 1, CategoryID: models.RootID, Permission: models.PermDiscussionsAdd},
		{RoleID: 2, CategoryID: models.RootID, Permission: models.PermDiscussionsView},
		{RoleID: 2, CategoryID: ids["Staff"], Permission: models.PermDiscussionsView},
	} {
		require.NoError(t, e.store.AddGrant(ctx, g))
	}
	require.NoError(t, e.store.AssignRole(ctx, 10, 1))
	require.NoError(t, e.store.AssignRole(ctx, 20, 2))

	member, err := e.model.GetVisibleCategoryIDs(ctx, 10, VisibilityOptions{})
	require.NoError(t, err)
	assert.False(t, member.Unfiltered)
	assert.Equal(t, []int64{ids["General"], ids["Help"], ids["Help Archive"], ids["Announcements"]}, member.IDs)

	staff, err := e.model.GetVisibleCategoryIDs(ctx, 20, VisibilityOptions{})
	require.NoError(t, err)
	assert.True(t, staff.Unfiltered, "nothing removed")
	assert.Len(t, staff.IDs, 6)

	archived, err := e.model.GetVisibleCategoryIDs(ctx, 20, VisibilityOptions{FilterArchived: true})
	require.NoError(t, err)
	assert.False(t, archived.Unfiltered)
	assert.NotContains(t, archived.IDs, ids["Help Archive"])

	add, err := e.model.GetVisibleCategoryIDs(ctx, 10, VisibilityOptions{ForAdd: true})
	require.NoError(t, err)
	assert.Equal(t, []int64{ids["General"], ids["Help"]}, add.IDs, "no headings, no archived")

	noAdd, err := e.model.GetVisibleCategoryIDs(ctx, 20, VisibilityOptions{ForAdd: true})
	require.NoError(t, err)
	assert.Empty(t, noAdd.IDs)
}

func TestSearch(t *testing.T) {
	ctx := context.Background()
	e := setup(t)
	ids := buildTree(t, e)
	e.viewer(t, member, models.RootID)
	e.viewer(t, staffer, models.RootID, ids["Staff"])

	found, err := e.model.Search(ctx, member, "help", SearchScope{})
	require.NoError(t, err)
	assert.Equal(t, []string{"Help", "Help Archive"}, names(found))

	scoped, err := e.model.Search(ctx, staffer, "NOTES", SearchScope{ParentID: ids["Staff"]})
	require.NoError(t, err)
	assert.Equal(t, []string{"Staff Notes"}, names(scoped))

	outside, err := e.model.Search(ctx, staffer, "help", SearchScope{ParentID: ids["Staff"]})
	require.NoError(t, err)
	assert.Empty(t, outside)

	limited, err := e.model.Search(ctx, staffer, "e", SearchScope{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	_, err = e.model.Search(ctx, staffer, " ", SearchScope{})
	assert.True(t, errors.Is(err, apperr.ErrInvalidInput))
	_, err = e.model.Search(ctx, staffer, "x", SearchScope{Limit: -1})
	assert.True(t, errors.Is(err, apperr.ErrInvalidInput))
}

func TestSearch_SkipsHiddenMatches(t *testing.T) {
	ctx := context.Background()
	e := setup(t)
	ids := buildTree(t, e)
	e.viewer(t, member, models.RootID)

	hidden, err := e.model.Search(ctx, member, "staff", SearchScope{})
	require.NoError(t, err)
	assert.Empty(t, hidden)

	_, err = e.model.Search(ctx, member, "notes", SearchScope{ParentID: ids["Staff"]})
	assert.True(t, errors.Is(err, apperr.ErrNotFound))

	// Hidden matches ahead of a visible one do not starve the page.
	for i := 0; i < 3; i++ {
		e.create(t, "Staff Room", ids["Staff"])
	}
	e.create(t, "Staff Lounge", 0)
	page, err := e.model.Search(ctx, member, "staff", SearchScope{Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"Staff Lounge"}, names(page))
}
