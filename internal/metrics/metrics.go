// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

// Package metrics declares the Prometheus collectors of the category
// service. They register with the default registry, which /metrics serves.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheReads counts category snapshot reads by layer (local, valkey,
	// storage) and result (hit, miss, stale).
	CacheReads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forumcat_cache_reads_total",
			Help: "Category cache reads by layer and result",
		},
		[]string{"layer", "result"},
	)

	// CacheRebuilds counts snapshot rebuilds from storage.
	CacheRebuilds = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "forumcat_cache_rebuilds_total",
			Help: "Category snapshot rebuilds from storage",
		},
	)

	// CacheLockLost counts reads that found the rebuild lock held elsewhere.
	CacheLockLost = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "forumcat_cache_rebuild_lock_lost_total",
			Help: "Rebuild lock votes lost to another process",
		},
	)

	// CacheFlushes counts deferred batch flushes by result.
	CacheFlushes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forumcat_cache_flushes_total",
			Help: "Deferred cache batch flushes by result",
		},
		[]string{"result"},
	)

	// JobsRun counts background jobs by name and result.
	JobsRun = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forumcat_jobs_total",
			Help: "Background jobs run by name and result",
		},
		[]string{"job", "result"},
	)

	// JobDuration observes background job duration.
	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "forumcat_job_duration_seconds",
			Help:    "Background job duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"job"},
	)

	// Mutations counts category model mutations by operation and result.
	Mutations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forumcat_mutations_total",
			Help: "Category mutations by operation and result",
		},
		[]string{"op", "result"},
	)

	// HTTPRequests counts HTTP requests by method, chi route pattern and
	// status code.
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forumcat_http_requests_total",
			Help: "HTTP requests by method, route and status",
		},
		[]string{"method", "route", "status"},
	)

	// HTTPDuration observes request latency by method and route.
	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "forumcat_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// RateLimited counts requests rejected by the rate limiter.
	RateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "forumcat_http_rate_limited_total",
			Help: "Requests rejected by the rate limiter",
		},
	)
)

// Result maps an error to the result label value.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
