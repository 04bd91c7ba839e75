// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"forumcat/internal/category"
	"forumcat/internal/config"
	"forumcat/internal/jobs"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.StoreDriver != config.DriverPostgres {
			return fmt.Errorf("migrate needs STORE_DRIVER=%s", config.DriverPostgres)
		}
		pool, err := openPool(commandContext(cmd))
		if err != nil {
			return err
		}
		pool.Close()
		logger.Info("migrations applied")
		return nil
	},
}

var rebuildBySort bool

var rebuildTreeCmd = &cobra.Command{
	Use:   "rebuild-tree",
	Short: "Recompute the nested set coordinates of every category",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			n, err := a.model.RebuildTree(ctx, rebuildBySort)
			if err != nil {
				return err
			}
			logger.Info("category tree rebuilt", "rows_changed", n, "by_sort", rebuildBySort)
			return nil
		})
	},
}

var recountCategoryID int64

var recountCmd = &cobra.Command{
	Use:   "recount",
	Short: "Recompute discussion and comment counts",
	Long: "Without --category every aggregate in the tree is recomputed. " +
		"With it, the direct counts of that category are rebuilt from its discussions " +
		"and the difference is carried to its ancestors.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			if recountCategoryID == 0 {
				if err := a.model.RecalculateAggregateCounts(ctx, nil); err != nil {
					return err
				}
				logger.Info("aggregate counts recalculated")
				return nil
			}
			delta, err := a.model.RecountCategory(ctx, recountCategoryID)
			if err != nil {
				return err
			}
			logger.Info("category recounted",
				"category_id", recountCategoryID,
				"discussions_delta", delta.Discussions,
				"comments_delta", delta.Comments,
			)
			return nil
		})
	},
}

var deleteOpts category.DeleteOptions

var deleteCategoryCmd = &cobra.Command{
	Use:   "delete-category <id>",
	Short: "Delete a category in batches, merging or cascading its content",
	Long: "Discussions are moved to --replacement, or deleted when it is not set. " +
		"An interrupted run can be started again with the same arguments.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid category id %q", args[0])
		}
		return withApp(cmd, func(ctx context.Context, a *app) error {
			task, err := a.model.NewDeleteTask(ctx, id, deleteOpts)
			if err != nil {
				return err
			}
			total, err := task.Total(ctx)
			if err != nil {
				return err
			}
			logger.Info("deleting category", "category_id", id, "discussions", total,
				"replacement_id", deleteOpts.ReplacementID, "move_subcategories", deleteOpts.MoveSubcategories)

			for {
				res, err := task.Step(ctx, cfg.DeleteBatchSize)
				if err != nil {
					return err
				}
				if res.Done {
					logger.Info("category deleted", "category_id", id, "discussions", res.Processed)
					return nil
				}
				logger.Info("delete progress", "processed", res.Processed, "remaining", res.Remaining)
				if err := ctx.Err(); err != nil {
					return fmt.Errorf("delete interrupted after %d discussions: %w", res.Processed, err)
				}
			}
		})
	},
}

func init() {
	rebuildTreeCmd.Flags().BoolVar(&rebuildBySort, "by-sort", false, "order siblings by their sort value instead of their current position")
	recountCmd.Flags().Int64Var(&recountCategoryID, "category", 0, "recount a single category")
	deleteCategoryCmd.Flags().Int64Var(&deleteOpts.ReplacementID, "replacement", 0, "category receiving the content")
	deleteCategoryCmd.Flags().BoolVar(&deleteOpts.MoveSubcategories, "move-subcategories", false, "keep subcategories under the replacement or the parent")
}

// withApp runs fn against a freshly wired app. Cache jobs queue up while
// fn runs and are drained before the command returns.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	ctx := commandContext(cmd)
	queue := jobs.NewQueue(logger)
	a, err := newApp(ctx, queue)
	if err != nil {
		return err
	}
	defer a.close()

	runErr := fn(ctx, a)
	// Drain with a fresh context so an interrupt still leaves a
	// consistent cache behind.
	if err := queue.RunPending(context.WithoutCancel(ctx)); err != nil {
		runErr = errors.Join(runErr, err)
	}
	return runErr
}

// commandContext returns the command's context, cancelled on SIGINT or
// SIGTERM.
func commandContext(cmd *cobra.Command) context.Context {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	cobra.OnFinalize(stop)
	return ctx
}
