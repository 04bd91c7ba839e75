// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

package store

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/jackc/pgx/v5"

	"forumcat/internal/models"
)

// UserCategoryStore handles the per-user category overlay rows.
type UserCategoryStore struct {
	db DB
}

// NewUserCategoryStore returns a new UserCategoryStore.
func NewUserCategoryStore(db DB) *UserCategoryStore {
	return &UserCategoryStore{db: db}
}

const userCategoryColumns = `user_id, category_id, followed, unfollow, digest_enabled,
	date_marked_read, date_followed, date_unfollowed,
	popup_discussions, email_discussions, popup_comments, email_comments`

func scanUserCategory(row pgx.Row) (*models.UserCategory, error) {
	var uc models.UserCategory
	err := row.Scan(
		&uc.UserID, &uc.CategoryID, &uc.Followed, &uc.Unfollow, &uc.DigestEnabled,
		&uc.DateMarkedRead, &uc.DateFollowed, &uc.DateUnfollowed,
		&uc.PopupDiscussions, &uc.EmailDiscussions, &uc.PopupComments, &uc.EmailComments,
	)
	if err != nil {
		return nil, err
	}
	return &uc, nil
}

// GetUserCategory returns the overlay row for (userID, categoryID), or nil
// when the user never touched the category.
func (s *UserCategoryStore) GetUserCategory(ctx context.Context, userID, categoryID int64) (*models.UserCategory, error) {
	row := s.db.QueryRow(ctx, `SELECT `+userCategoryColumns+` FROM user_category
		WHERE user_id = $1 AND category_id = $2`, userID, categoryID)
	uc, err := scanUserCategory(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user category: %w", err)
	}
	return uc, nil
}

// ListUserCategories returns every overlay row of a user.
func (s *UserCategoryStore) ListUserCategories(ctx context.Context, userID int64) ([]models.UserCategory, error) {
	rows, err := s.db.Query(ctx, `SELECT `+userCategoryColumns+` FROM user_category
		WHERE user_id = $1 ORDER BY category_id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list user categories: %w", err)
	}
	defer rows.Close()

	var items []models.UserCategory
	for rows.Next() {
		uc, err := scanUserCategory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user category: %w", err)
		}
		items = append(items, *uc)
	}
	return items, rows.Err()
}

// SaveUserCategory inserts or replaces an overlay row.
func (s *UserCategoryStore) SaveUserCategory(ctx context.Context, uc *models.UserCategory) error {
	query := `
		INSERT INTO user_category (` + userCategoryColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (user_id, category_id) DO UPDATE SET
			followed = EXCLUDED.followed,
			unfollow = EXCLUDED.unfollow,
			digest_enabled = EXCLUDED.digest_enabled,
			date_marked_read = EXCLUDED.date_marked_read,
			date_followed = EXCLUDED.date_followed,
			date_unfollowed = EXCLUDED.date_unfollowed,
			popup_discussions = EXCLUDED.popup_discussions,
			email_discussions = EXCLUDED.email_discussions,
			popup_comments = EXCLUDED.popup_comments,
			email_comments = EXCLUDED.email_comments`

	_, err := s.db.Exec(ctx, query,
		uc.UserID, uc.CategoryID, uc.Followed, uc.Unfollow, uc.DigestEnabled,
		uc.DateMarkedRead, uc.DateFollowed, uc.DateUnfollowed,
		uc.PopupDiscussions, uc.EmailDiscussions, uc.PopupComments, uc.EmailComments,
	)
	if err != nil {
		return fmt.Errorf("save user category: %w", err)
	}
	return nil
}

// SetDigest updates only the digest flag of an existing overlay row.
func (s *UserCategoryStore) SetDigest(ctx context.Context, userID, categoryID int64, enabled bool) error {
	_, err := s.db.Exec(ctx,
		`UPDATE user_category SET digest_enabled = $1 WHERE user_id = $2 AND category_id = $3`,
		enabled, userID, categoryID)
	if err != nil {
		return fmt.Errorf("set digest: %w", err)
	}
	return nil
}

// CountFollowers returns how many users follow a category and how many of
// them receive the digest.
func (s *UserCategoryStore) CountFollowers(ctx context.Context, categoryID int64) (int, int, error) {
	var followers, digest int
	err := s.db.QueryRow(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE digest_enabled)
		FROM user_category
		WHERE category_id = $1 AND followed`, categoryID,
	).Scan(&followers, &digest)
	if err != nil {
		return 0, 0, fmt.Errorf("count followers: %w", err)
	}
	return followers, digest, nil
}

// DeleteUserCategories removes every overlay row of the given categories
// and returns the distinct users that lost a row.
func (s *UserCategoryStore) DeleteUserCategories(ctx context.Context, categoryIDs []int64) ([]int64, error) {
	rows, err := s.db.Query(ctx, `DELETE FROM user_category WHERE category_id = ANY($1) RETURNING user_id`, categoryIDs)
	if err != nil {
		return nil, fmt.Errorf("delete user categories: %w", err)
	}
	defer rows.Close()

	var users []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user id: %w", err)
		}
		users = append(users, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("delete user categories: %w", err)
	}
	slices.Sort(users)
	return slices.Compact(users), nil
}
