// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

// Package store implements the category storage ports on PostgreSQL through
// pgx. Each table group has its own store; Store composes them so a single
// value satisfies every port the tree, permission, count, follow, and
// category packages declare.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of *pgxpool.Pool the stores use. pgxmock pools satisfy
// it as well, which is how the stores are tested.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store bundles every table store behind one value.
type Store struct {
	*CategoryStore
	*ContentStore
	*UserCategoryStore
	*PermissionStore
}

// New returns a Store backed by db.
func New(db DB) *Store {
	return &Store{
		CategoryStore:     NewCategoryStore(db),
		ContentStore:      NewContentStore(db),
		UserCategoryStore: NewUserCategoryStore(db),
		PermissionStore:   NewPermissionStore(db),
	}
}

// inTx runs fn inside a transaction. The transaction is rolled back when
// fn fails and committed otherwise.
func inTx(ctx context.Context, db DB, fn func(tx pgx.Tx) error) error {
	tx, err := db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// isUniqueViolation reports whether err is a PostgreSQL unique_violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
