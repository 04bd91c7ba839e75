// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"forumcat/internal/cache"
	"forumcat/internal/category"
	"forumcat/internal/config"
	"forumcat/internal/database"
	"forumcat/internal/events"
	"forumcat/internal/follow"
	"forumcat/internal/jobs"
	"forumcat/internal/permission"
	"forumcat/internal/store"
	"forumcat/internal/store/memory"
)

// backend is everything the services need from storage. Both the
// PostgreSQL store and the in-memory store satisfy it.
type backend interface {
	category.Storage
	follow.Storage
	cache.UserLoader
	permission.GrantStore
	database.GrantStore
}

var (
	_ backend = (*store.Store)(nil)
	_ backend = (*memory.Store)(nil)
)

// app holds the wired services of one process.
type app struct {
	store   backend
	valkey  *redis.Client
	cache   *cache.Coordinator
	checker *permission.GrantChecker
	model   *category.Model
	follows *follow.Store

	closers []func()
}

// newApp connects the storage, Valkey and event backends and wires the
// category services over them. Jobs go to sched.
func newApp(ctx context.Context, sched jobs.Scheduler) (_ *app, err error) {
	a := &app{}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	if a.store, err = openStore(ctx, a); err != nil {
		return nil, err
	}

	a.valkey, err = cache.ConnectValkey(ctx, cfg.ValkeyAddr(), cfg.ValkeyPassword, cfg.ValkeyDB)
	if err != nil {
		return nil, fmt.Errorf("connect valkey: %w", err)
	}
	a.closers = append(a.closers, func() { a.valkey.Close() })

	var publisher events.Publisher
	if len(cfg.KafkaBrokers) > 0 {
		kp := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		a.closers = append(a.closers, func() {
			if err := kp.Close(); err != nil {
				logger.Warn("closing kafka writer", "error", err)
			}
		})
		publisher = kp
		logger.Info("publishing category events to kafka", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	} else {
		publisher = events.NewBus(0, logger)
	}

	a.cache = cache.New(a.valkey, a.store, a.store, sched, cache.Options{
		TTL:      cfg.CacheTTL,
		Grace:    cfg.CacheGrace,
		LockTTL:  cfg.RebuildLockTTL,
		LocalTTL: cfg.CacheLocalTTL,
	}, logger)
	a.checker = permission.NewGrantChecker(a.store, permission.CheckerOptions{TTL: cfg.GrantCacheTTL}, logger)
	a.model = category.New(a.store, a.cache, a.checker, publisher, category.Options{
		DeleteBatchSize: cfg.DeleteBatchSize,
	}, logger)
	a.follows = follow.New(a.store, a.cache, publisher, cfg.MaxFollowedCategories, logger)

	if err := a.model.Init(ctx); err != nil {
		return nil, err
	}
	return a, nil
}

// openStore returns the configured storage backend, migrated and seeded.
func openStore(ctx context.Context, a *app) (backend, error) {
	switch cfg.StoreDriver {
	case config.DriverMemory:
		logger.Warn("using the in-memory store; data is lost on exit")
		st := memory.New()
		if err := database.Seed(ctx, st, cfg.AdminUserID); err != nil {
			return nil, err
		}
		return st, nil
	default:
		pool, err := openPool(ctx)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, pool.Close)
		if err := prometheus.Register(database.NewPoolStatsCollector(pool)); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				return nil, fmt.Errorf("register pool metrics: %w", err)
			}
		}
		st := store.New(pool)
		if err := database.Seed(ctx, st, cfg.AdminUserID); err != nil {
			return nil, err
		}
		return st, nil
	}
}

// openPool connects to PostgreSQL and applies pending migrations.
func openPool(ctx context.Context) (*pgxpool.Pool, error) {
	pool, err := database.Connect(ctx, cfg.DSN(), database.DefaultPoolOptions())
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// close releases every connection in reverse order of opening.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
