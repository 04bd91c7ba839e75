// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

package store

import (
	"context"
	"fmt"

	"forumcat/internal/models"
)

// ContentStore handles the discussion and tag rows categories count, move,
// and delete.
type ContentStore struct {
	db DB
}

// NewContentStore creates a new ContentStore with the given database connection.
func NewContentStore(db DB) *ContentStore {
	return &ContentStore{db: db}
}

// InsertDiscussion stores a discussion row and returns its ID.
func (s *ContentStore) InsertDiscussion(ctx context.Context, d *models.Discussion) (int64, error) {
	query := `
		INSERT INTO discussion (category_id, name, insert_user_id, count_comments, date_inserted)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING discussion_id`

	var id int64
	err := s.db.QueryRow(ctx, query,
		d.CategoryID, d.Name, d.InsertUserID, d.CountComments, d.DateInserted,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert discussion: %w", err)
	}
	return id, nil
}

// ListDiscussions returns the discussions of a category ordered by ID.
func (s *ContentStore) ListDiscussions(ctx context.Context, categoryID int64) ([]models.Discussion, error) {
	rows, err := s.db.Query(ctx, `
		SELECT discussion_id, category_id, name, insert_user_id, count_comments, date_inserted
		FROM discussion
		WHERE category_id = $1
		ORDER BY discussion_id`, categoryID)
	if err != nil {
		return nil, fmt.Errorf("list discussions: %w", err)
	}
	defer rows.Close()

	var items []models.Discussion
	for rows.Next() {
		var d models.Discussion
		if err := rows.Scan(
			&d.DiscussionID, &d.CategoryID, &d.Name, &d.InsertUserID,
			&d.CountComments, &d.DateInserted,
		); err != nil {
			return nil, fmt.Errorf("scan discussion: %w", err)
		}
		items = append(items, d)
	}
	return items, rows.Err()
}

// CountContent totals discussions and comments across categoryIDs.
func (s *ContentStore) CountContent(ctx context.Context, categoryIDs []int64) (int, int, error) {
	var discussions, comments int
	err := s.db.QueryRow(ctx, `
		SELECT COUNT(*), COALESCE(SUM(count_comments), 0)
		FROM discussion
		WHERE category_id = ANY($1)`, categoryIDs,
	).Scan(&discussions, &comments)
	if err != nil {
		return 0, 0, fmt.Errorf("count content: %w", err)
	}
	return discussions, comments, nil
}

// MoveDiscussions re-points up to limit discussions from the given
// categories to target, oldest first. It returns how many moved.
func (s *ContentStore) MoveDiscussions(ctx context.Context, from []int64, target int64, limit int) (int, error) {
	ct, err := s.db.Exec(ctx, `
		UPDATE discussion SET category_id = $1
		WHERE discussion_id IN (
			SELECT discussion_id FROM discussion
			WHERE category_id = ANY($2)
			ORDER BY discussion_id
			LIMIT $3
		)`, target, from, batchLimit(limit))
	if err != nil {
		return 0, fmt.Errorf("move discussions: %w", err)
	}
	return int(ct.RowsAffected()), nil
}

// DeleteDiscussions removes up to limit discussions from the given
// categories, oldest first. It returns how many were removed.
func (s *ContentStore) DeleteDiscussions(ctx context.Context, from []int64, limit int) (int, error) {
	ct, err := s.db.Exec(ctx, `
		DELETE FROM discussion
		WHERE discussion_id IN (
			SELECT discussion_id FROM discussion
			WHERE category_id = ANY($1)
			ORDER BY discussion_id
			LIMIT $2
		)`, from, batchLimit(limit))
	if err != nil {
		return 0, fmt.Errorf("delete discussions: %w", err)
	}
	return int(ct.RowsAffected()), nil
}

// batchLimit maps a non-positive limit to NULL, which LIMIT treats as
// unbounded.
func batchLimit(limit int) any {
	if limit <= 0 {
		return nil
	}
	return limit
}

// InsertTag stores a tag row and returns its ID.
func (s *ContentStore) InsertTag(ctx context.Context, t *models.Tag) (int64, error) {
	var id int64
	err := s.db.QueryRow(ctx,
		`INSERT INTO tag (name, category_id) VALUES ($1, $2) RETURNING tag_id`,
		t.Name, t.CategoryID,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert tag: %w", err)
	}
	return id, nil
}

// ListTags returns the tags scoped to a category.
func (s *ContentStore) ListTags(ctx context.Context, categoryID int64) ([]models.Tag, error) {
	rows, err := s.db.Query(ctx,
		`SELECT tag_id, name, category_id FROM tag WHERE category_id = $1 ORDER BY tag_id`,
		categoryID)
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	defer rows.Close()

	var items []models.Tag
	for rows.Next() {
		var t models.Tag
		if err := rows.Scan(&t.TagID, &t.Name, &t.CategoryID); err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		items = append(items, t)
	}
	return items, rows.Err()
}

// MoveTags re-points category-scoped tags to target.
func (s *ContentStore) MoveTags(ctx context.Context, from []int64, target int64) error {
	_, err := s.db.Exec(ctx,
		`UPDATE tag SET category_id = $1 WHERE category_id = ANY($2)`, target, from)
	if err != nil {
		return fmt.Errorf("move tags: %w", err)
	}
	return nil
}

// DeleteTags removes category-scoped tags.
func (s *ContentStore) DeleteTags(ctx context.Context, from []int64) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM tag WHERE category_id = ANY($1)`, from); err != nil {
		return fmt.Errorf("delete tags: %w", err)
	}
	return nil
}
