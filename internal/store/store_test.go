package store

import (
	"testing"
	"time"

	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"forumcat/internal/models"
)

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

func setupStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return New(mock), mock
}

var testTime = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func sampleCategory() *models.Category {
	return &models.Category{
		CategoryID:           7,
		ParentCategoryID:     models.RootID,
		TreeLeft:             2,
		TreeRight:            5,
		Depth:                1,
		Sort:                 3,
		Name:                 "General",
		UrlCode:              "general",
		Description:          "Talk about anything",
		PermissionCategoryID: models.RootID,
		DisplayAs:            models.DisplayDiscussions,
		CountDiscussions:     4,
		CountComments:        9,
		CountAllDiscussions:  6,
		CountAllComments:     12,
		CountCategories:      1,
		LastDiscussionID:     31,
		LastDateInserted:     &testTime,
		LastTitle:            "Welcome",
		LastUserID:           2,
		LastUrl:              "/discussion/31",
		DateInserted:         testTime,
		DateUpdated:          testTime,
		InsertUserID:         1,
		UpdateUserID:         1,
	}
}

func categoryColumnNames() []string {
	return []string{
		"category_id", "parent_category_id", "tree_left", "tree_right", "depth", "sort",
		"name", "url_code", "description", "permission_category_id", "display_as", "archived",
		"hide_all_discussions", "count_discussions", "count_comments", "count_all_discussions",
		"count_all_comments", "count_categories", "count_followers", "last_discussion_id",
		"last_comment_id", "last_date_inserted", "last_title", "last_user_id", "last_url",
		"date_marked_read", "date_inserted", "date_updated", "insert_user_id", "update_user_id",
	}
}

func categoryRows(cats ...*models.Category) *pgxmock.Rows {
	rows := pgxmock.NewRows(categoryColumnNames())
	for _, c := range cats {
		rows.AddRow(
			c.CategoryID, c.ParentCategoryID, c.TreeLeft, c.TreeRight, c.Depth, c.Sort,
			c.Name, c.UrlCode, c.Description, c.PermissionCategoryID, string(c.DisplayAs), c.Archived,
			c.HideAllDiscussions, c.CountDiscussions, c.CountComments, c.CountAllDiscussions,
			c.CountAllComments, c.CountCategories, c.CountFollowers, c.LastDiscussionID,
			c.LastCommentID, c.LastDateInserted, c.LastTitle, c.LastUserID, c.LastUrl,
			c.DateMarkedRead, c.DateInserted, c.DateUpdated, c.InsertUserID, c.UpdateUserID,
		)
	}
	return rows
}
