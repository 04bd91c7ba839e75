// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

package database

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// PoolStats is the part of pgxpool.Stat the collector reports.
type PoolStats interface {
	AcquiredConns() int32
	IdleConns() int32
	TotalConns() int32
	MaxConns() int32
	AcquireCount() int64
	EmptyAcquireCount() int64
}

// PoolStatsCollector exports connection pool statistics.
type PoolStatsCollector struct {
	stat func() PoolStats

	acquiredConns *prometheus.Desc
	idleConns     *prometheus.Desc
	totalConns    *prometheus.Desc
	maxConns      *prometheus.Desc
	acquireCount  *prometheus.Desc
	emptyAcquires *prometheus.Desc
}

// NewPoolStatsCollector returns a collector reading from pool.
func NewPoolStatsCollector(pool *pgxpool.Pool) *PoolStatsCollector {
	return newPoolStatsCollector(func() PoolStats { return pool.Stat() })
}

func newPoolStatsCollector(stat func() PoolStats) *PoolStatsCollector {
	return &PoolStatsCollector{
		stat: stat,
		acquiredConns: prometheus.NewDesc("forumcat_db_pool_acquired_connections",
			"Number of currently acquired connections", nil, nil),
		idleConns: prometheus.NewDesc("forumcat_db_pool_idle_connections",
			"Number of currently idle connections", nil, nil),
		totalConns: prometheus.NewDesc("forumcat_db_pool_total_connections",
			"Total number of connections in the pool", nil, nil),
		maxConns: prometheus.NewDesc("forumcat_db_pool_max_connections",
			"Maximum number of connections allowed", nil, nil),
		acquireCount: prometheus.NewDesc("forumcat_db_pool_acquire_count_total",
			"Cumulative count of successful acquires", nil, nil),
		emptyAcquires: prometheus.NewDesc("forumcat_db_pool_empty_acquire_total",
			"Cumulative count of acquires that waited for a connection", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *PoolStatsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.acquiredConns
	ch <- c.idleConns
	ch <- c.totalConns
	ch <- c.maxConns
	ch <- c.acquireCount
	ch <- c.emptyAcquires
}

// Collect implements prometheus.Collector.
func (c *PoolStatsCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.stat()
	ch <- prometheus.MustNewConstMetric(c.acquiredConns, prometheus.GaugeValue, float64(s.AcquiredConns()))
	ch <- prometheus.MustNewConstMetric(c.idleConns, prometheus.GaugeValue, float64(s.IdleConns()))
	ch <- prometheus.MustNewConstMetric(c.totalConns, prometheus.GaugeValue, float64(s.TotalConns()))
	ch <- prometheus.MustNewConstMetric(c.maxConns, prometheus.GaugeValue, float64(s.MaxConns()))
	ch <- prometheus.MustNewConstMetric(c.acquireCount, prometheus.CounterValue, float64(s.AcquireCount()))
	ch <- prometheus.MustNewConstMetric(c.emptyAcquires, prometheus.CounterValue, float64(s.EmptyAcquireCount()))
}
