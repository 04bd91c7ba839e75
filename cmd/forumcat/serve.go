// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"forumcat/internal/handlers"
	"forumcat/internal/jobs"
	"forumcat/internal/middleware"
	"forumcat/internal/router"
	"forumcat/internal/session"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the category API over HTTP",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

func serve(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	logger.Info("configuration loaded",
		"env", cfg.Env,
		"addr", cfg.Addr(),
		"store", cfg.StoreDriver,
	)

	// Background jobs outlive the requests that schedule them but stop
	// with the process.
	jobCtx, stopJobs := context.WithCancel(context.Background())
	defer stopJobs()
	runner := jobs.NewRunner(jobCtx, cfg.JobTimeout, logger)

	a, err := newApp(ctx, runner)
	if err != nil {
		return err
	}
	defer a.close()

	deps := router.Deps{
		Sessions:   session.NewStore(a.valkey, cfg.SessionTTL),
		Checker:    a.checker,
		Categories: handlers.NewCategories(a.model, a.checker),
		Follows:    handlers.NewFollows(a.follows),
	}
	if cfg.RateLimitRequests > 0 {
		deps.Limiter = middleware.NewRateLimiter(a.valkey, cfg.RateLimitRequests, cfg.RateLimitWindow)
	}

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router.New(deps),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", cfg.Addr())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		logger.Info("shutdown signal received", "signal", sig)
	case err := <-errc:
		return err
	}

	// Give active requests up to 30 seconds to complete.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		return err
	}

	runner.Wait()
	if a.cache.Pending() > 0 {
		if err := a.cache.FlushDeferred(shutdownCtx); err != nil {
			logger.Warn("flushing category cache patches", "error", err)
		}
	}
	logger.Info("server stopped gracefully")
	return nil
}
