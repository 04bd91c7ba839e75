// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"

	"forumcat/internal/apperr"
	"forumcat/internal/models"
)

// CategoryStore manages the category table: editable columns, tree
// coordinates, permission pointers, and count columns.
type CategoryStore struct {
	db DB
}

// NewCategoryStore returns a new CategoryStore.
func NewCategoryStore(db DB) *CategoryStore {
	return &CategoryStore{db: db}
}

const categoryColumns = `category_id, parent_category_id, tree_left, tree_right, depth, sort,
	name, url_code, description, permission_category_id, display_as, archived,
	hide_all_discussions, count_discussions, count_comments, count_all_discussions,
	count_all_comments, count_categories, count_followers, last_discussion_id,
	last_comment_id, last_date_inserted, last_title, last_user_id, last_url,
	date_marked_read, date_inserted, date_updated, insert_user_id, update_user_id`

// scanCategory scans a row selected with categoryColumns.
func scanCategory(row pgx.Row) (*models.Category, error) {
	var c models.Category
	var display string
	err := row.Scan(
		&c.CategoryID, &c.ParentCategoryID, &c.TreeLeft, &c.TreeRight, &c.Depth, &c.Sort,
		&c.Name, &c.UrlCode, &c.Description, &c.PermissionCategoryID, &display, &c.Archived,
		&c.HideAllDiscussions, &c.CountDiscussions, &c.CountComments, &c.CountAllDiscussions,
		&c.CountAllComments, &c.CountCategories, &c.CountFollowers, &c.LastDiscussionID,
		&c.LastCommentID, &c.LastDateInserted, &c.LastTitle, &c.LastUserID, &c.LastUrl,
		&c.DateMarkedRead, &c.DateInserted, &c.DateUpdated, &c.InsertUserID, &c.UpdateUserID,
	)
	if err != nil {
		return nil, err
	}
	c.DisplayAs = models.DisplayMode(display)
	return &c, nil
}

func (s *CategoryStore) queryCategories(ctx context.Context, query string, args ...any) ([]*models.Category, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*models.Category
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		items = append(items, c)
	}
	return items, rows.Err()
}

// ListCategories returns every category, root included, ordered by
// TreeLeft.
func (s *CategoryStore) ListCategories(ctx context.Context) ([]*models.Category, error) {
	items, err := s.queryCategories(ctx,
		`SELECT `+categoryColumns+` FROM category ORDER BY tree_left, category_id`)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	return items, nil
}

// GetCategory returns a single category.
func (s *CategoryStore) GetCategory(ctx context.Context, id int64) (*models.Category, error) {
	row := s.db.QueryRow(ctx, `SELECT `+categoryColumns+` FROM category WHERE category_id = $1`, id)
	c, err := scanCategory(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("category", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get category: %w", err)
	}
	return c, nil
}

// GetCategoryByURLCode finds a category by its URL code, case-insensitively.
func (s *CategoryStore) GetCategoryByURLCode(ctx context.Context, code string) (*models.Category, error) {
	row := s.db.QueryRow(ctx, `SELECT `+categoryColumns+` FROM category
		WHERE url_code <> '' AND LOWER(url_code) = LOWER($1)`, code)
	c, err := scanCategory(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("category", code)
	}
	if err != nil {
		return nil, fmt.Errorf("get category by url code: %w", err)
	}
	return c, nil
}

// InsertCategory stores a new category and returns its generated ID.
func (s *CategoryStore) InsertCategory(ctx context.Context, c *models.Category) (int64, error) {
	query := `
		INSERT INTO category (parent_category_id, tree_left, tree_right, depth, sort,
			name, url_code, description, permission_category_id, display_as, archived,
			hide_all_discussions, date_inserted, date_updated, insert_user_id, update_user_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING category_id`

	var id int64
	err := s.db.QueryRow(ctx, query,
		c.ParentCategoryID, c.TreeLeft, c.TreeRight, c.Depth, c.Sort,
		c.Name, c.UrlCode, c.Description, c.PermissionCategoryID, string(c.DisplayAs), c.Archived,
		c.HideAllDiscussions, c.DateInserted, c.DateUpdated, c.InsertUserID, c.UpdateUserID,
	).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, apperr.AlreadyExists("category", "url code", c.UrlCode)
		}
		return 0, fmt.Errorf("insert category: %w", err)
	}
	return id, nil
}

// InsertRoot stores the virtual root row under its reserved ID.
func (s *CategoryStore) InsertRoot(ctx context.Context, root *models.Category) error {
	query := `
		INSERT INTO category (category_id, parent_category_id, tree_left, tree_right, depth,
			name, url_code, permission_category_id, display_as, date_inserted, date_updated)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := s.db.Exec(ctx, query,
		root.CategoryID, root.ParentCategoryID, root.TreeLeft, root.TreeRight, root.Depth,
		root.Name, root.UrlCode, root.PermissionCategoryID, string(root.DisplayAs),
		root.DateInserted, root.DateUpdated,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperr.AlreadyExists("category", "id", strconv.FormatInt(root.CategoryID, 10))
		}
		return fmt.Errorf("insert root category: %w", err)
	}
	return nil
}

// UpdateCategory replaces the editable columns of an existing category.
// Coordinates and counts are left alone.
func (s *CategoryStore) UpdateCategory(ctx context.Context, c *models.Category) error {
	query := `
		UPDATE category SET parent_category_id = $1, sort = $2, name = $3, url_code = $4,
			description = $5, permission_category_id = $6, display_as = $7, archived = $8,
			hide_all_discussions = $9, date_updated = $10, update_user_id = $11
		WHERE category_id = $12`

	ct, err := s.db.Exec(ctx, query,
		c.ParentCategoryID, c.Sort, c.Name, c.UrlCode,
		c.Description, c.PermissionCategoryID, string(c.DisplayAs), c.Archived,
		c.HideAllDiscussions, c.DateUpdated, c.UpdateUserID,
		c.CategoryID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperr.AlreadyExists("category", "url code", c.UrlCode)
		}
		return fmt.Errorf("update category: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperr.NotFound("category", c.CategoryID)
	}
	return nil
}

// patchColumns lists the column each non-nil patch field writes, in a
// fixed order. Followed is virtual and never written.
func patchColumns(p models.Patch) ([]string, []any) {
	var cols []string
	var args []any
	add := func(col string, v any) {
		cols = append(cols, col)
		args = append(args, v)
	}
	if p.Name != nil {
		add("name", *p.Name)
	}
	if p.Description != nil {
		add("description", *p.Description)
	}
	if p.DisplayAs != nil {
		add("display_as", string(*p.DisplayAs))
	}
	if p.Archived != nil {
		add("archived", *p.Archived)
	}
	if p.HideAllDiscussions != nil {
		add("hide_all_discussions", *p.HideAllDiscussions)
	}
	if p.Sort != nil {
		add("sort", *p.Sort)
	}
	if p.CountDiscussions != nil {
		add("count_discussions", *p.CountDiscussions)
	}
	if p.CountComments != nil {
		add("count_comments", *p.CountComments)
	}
	if p.CountAllDiscussions != nil {
		add("count_all_discussions", *p.CountAllDiscussions)
	}
	if p.CountAllComments != nil {
		add("count_all_comments", *p.CountAllComments)
	}
	if p.CountFollowers != nil {
		add("count_followers", *p.CountFollowers)
	}
	if p.LastDiscussionID != nil {
		add("last_discussion_id", *p.LastDiscussionID)
	}
	if p.LastCommentID != nil {
		add("last_comment_id", *p.LastCommentID)
	}
	if p.LastDateInserted != nil {
		add("last_date_inserted", *p.LastDateInserted)
	}
	if p.LastTitle != nil {
		add("last_title", *p.LastTitle)
	}
	if p.LastUserID != nil {
		add("last_user_id", *p.LastUserID)
	}
	if p.LastUrl != nil {
		add("last_url", *p.LastUrl)
	}
	if p.DateMarkedRead != nil {
		add("date_marked_read", *p.DateMarkedRead)
	}
	return cols, args
}

// PatchCategory applies a partial update. A patch that only touches the
// virtual Followed field is a no-op.
func (s *CategoryStore) PatchCategory(ctx context.Context, id int64, p models.Patch) error {
	cols, args := patchColumns(p)
	if len(cols) == 0 {
		return nil
	}
	sets := make([]string, len(cols))
	for i, col := range cols {
		sets[i] = fmt.Sprintf("%s = $%d", col, i+1)
	}
	args = append(args, id)
	query := fmt.Sprintf("UPDATE category SET %s WHERE category_id = $%d",
		strings.Join(sets, ", "), len(args))

	ct, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("patch category: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperr.NotFound("category", id)
	}
	return nil
}

// DeleteCategories removes categories by ID. Missing IDs are ignored.
func (s *CategoryStore) DeleteCategories(ctx context.Context, ids []int64) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM category WHERE category_id = ANY($1)`, ids); err != nil {
		return fmt.Errorf("delete categories: %w", err)
	}
	return nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// SearchCategories returns categories whose name contains query
// (case-insensitive) and whose TreeLeft lies within (left, right). A zero
// right bound disables the range restriction.
func (s *CategoryStore) SearchCategories(ctx context.Context, query string, left, right, limit int) ([]*models.Category, error) {
	sql := `SELECT ` + categoryColumns + ` FROM category
		WHERE category_id <> -1 AND name ILIKE $1`
	args := []any{"%" + likeEscaper.Replace(query) + "%"}
	if right > 0 {
		sql += ` AND tree_left > $2 AND tree_left < $3`
		args = append(args, left, right)
	}
	sql += ` ORDER BY tree_left, category_id`
	if limit > 0 {
		args = append(args, limit)
		sql += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	items, err := s.queryCategories(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("search categories: %w", err)
	}
	return items, nil
}

// UpdateCoordinates writes rebuilt tree positions in one transaction.
func (s *CategoryStore) UpdateCoordinates(ctx context.Context, coords []models.Coordinates) error {
	query := `
		UPDATE category SET parent_category_id = $1, tree_left = $2, tree_right = $3,
			depth = $4, count_categories = $5
		WHERE category_id = $6`

	return inTx(ctx, s.db, func(tx pgx.Tx) error {
		for _, co := range coords {
			if _, err := tx.Exec(ctx, query,
				co.ParentCategoryID, co.TreeLeft, co.TreeRight, co.Depth, co.CountCategories,
				co.CategoryID,
			); err != nil {
				return fmt.Errorf("update coordinates of category %d: %w", co.CategoryID, err)
			}
		}
		return nil
	})
}

// UpdateTreeItems writes new parents and sort positions in one transaction.
func (s *CategoryStore) UpdateTreeItems(ctx context.Context, items []models.TreeItem) error {
	query := `UPDATE category SET parent_category_id = $1, sort = $2 WHERE category_id = $3`

	return inTx(ctx, s.db, func(tx pgx.Tx) error {
		for _, it := range items {
			ct, err := tx.Exec(ctx, query, it.ParentCategoryID, it.Sort, it.CategoryID)
			if err != nil {
				return fmt.Errorf("update tree item %d: %w", it.CategoryID, err)
			}
			if ct.RowsAffected() == 0 {
				return apperr.NotFound("category", it.CategoryID)
			}
		}
		return nil
	})
}

// SetPermissionCategory points every listed category at ownerID.
func (s *CategoryStore) SetPermissionCategory(ctx context.Context, ids []int64, ownerID int64) error {
	_, err := s.db.Exec(ctx,
		`UPDATE category SET permission_category_id = $1 WHERE category_id = ANY($2)`,
		ownerID, ids)
	if err != nil {
		return fmt.Errorf("set permission category: %w", err)
	}
	return nil
}

// AncestorIDs returns id and every ancestor, deepest first.
func (s *CategoryStore) AncestorIDs(ctx context.Context, id int64) ([]int64, error) {
	rows, err := s.db.Query(ctx, `
		SELECT a.category_id
		FROM category a
		JOIN category c ON a.tree_left <= c.tree_left AND a.tree_right >= c.tree_right
		WHERE c.category_id = $1
		ORDER BY a.depth DESC`, id)
	if err != nil {
		return nil, fmt.Errorf("list ancestors: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var a int64
		if err := rows.Scan(&a); err != nil {
			return nil, fmt.Errorf("scan ancestor: %w", err)
		}
		ids = append(ids, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list ancestors: %w", err)
	}
	if len(ids) == 0 {
		return nil, apperr.NotFound("category", id)
	}
	return ids, nil
}

// AdjustAggregateCounts adds the offsets to the aggregate columns of ids.
func (s *CategoryStore) AdjustAggregateCounts(ctx context.Context, ids []int64, discussions, comments int) error {
	_, err := s.db.Exec(ctx, `
		UPDATE category
		SET count_all_discussions = count_all_discussions + $1,
			count_all_comments = count_all_comments + $2
		WHERE category_id = ANY($3)`, discussions, comments, ids)
	if err != nil {
		return fmt.Errorf("adjust aggregate counts: %w", err)
	}
	return nil
}

// AdjustDirectCounts adds the offsets to the direct count columns of id.
func (s *CategoryStore) AdjustDirectCounts(ctx context.Context, id int64, discussions, comments int) error {
	ct, err := s.db.Exec(ctx, `
		UPDATE category
		SET count_discussions = count_discussions + $1,
			count_comments = count_comments + $2
		WHERE category_id = $3`, discussions, comments, id)
	if err != nil {
		return fmt.Errorf("adjust direct counts: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperr.NotFound("category", id)
	}
	return nil
}

// ResetAggregateCounts copies direct counts into the aggregate columns of
// ids, or of every category when ids is nil.
func (s *CategoryStore) ResetAggregateCounts(ctx context.Context, ids []int64) error {
	query := `UPDATE category SET count_all_discussions = count_discussions,
		count_all_comments = count_comments`
	var args []any
	if ids != nil {
		query += ` WHERE category_id = ANY($1)`
		args = append(args, ids)
	}
	if _, err := s.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("reset aggregate counts: %w", err)
	}
	return nil
}

// RollUpAggregateCounts adds the aggregates of every category at depth into
// its parent. A non-nil parentIDs restricts which parents receive sums.
func (s *CategoryStore) RollUpAggregateCounts(ctx context.Context, depth int, parentIDs []int64) error {
	query := `
		UPDATE category p
		SET count_all_discussions = p.count_all_discussions + s.discussions,
			count_all_comments = p.count_all_comments + s.comments
		FROM (
			SELECT parent_category_id,
				SUM(count_all_discussions) AS discussions,
				SUM(count_all_comments) AS comments
			FROM category
			WHERE depth = $1 AND category_id <> -1
			GROUP BY parent_category_id
		) s
		WHERE p.category_id = s.parent_category_id`
	args := []any{depth}
	if parentIDs != nil {
		query += ` AND p.category_id = ANY($2)`
		args = append(args, parentIDs)
	}
	if _, err := s.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("roll up aggregate counts at depth %d: %w", depth, err)
	}
	return nil
}
