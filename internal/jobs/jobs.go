// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

// Package jobs runs fire-and-forget work outside the request that caused
// it, such as deferred cache flushes.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"forumcat/internal/metrics"
)

// Job is a unit of deferred work.
type Job func(ctx context.Context) error

// Scheduler accepts jobs. Schedule never blocks on the job itself.
type Scheduler interface {
	Schedule(name string, job Job)
}

// Runner executes every scheduled job on its own goroutine under a base
// context that outlives the scheduling request.
type Runner struct {
	ctx     context.Context
	timeout time.Duration
	logger  *slog.Logger
	wg      sync.WaitGroup
}

// NewRunner returns a Runner whose jobs derive their context from ctx and
// are cut off after timeout (zero means no limit).
func NewRunner(ctx context.Context, timeout time.Duration, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{ctx: ctx, timeout: timeout, logger: logger}
}

// Schedule starts job in the background.
func (r *Runner) Schedule(name string, job Job) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := r.ctx, context.CancelFunc(func() {})
		if r.timeout > 0 {
			ctx, cancel = context.WithTimeout(r.ctx, r.timeout)
		}
		defer cancel()
		_ = run(ctx, name, job, r.logger)
	}()
}

// Wait blocks until every scheduled job has returned.
func (r *Runner) Wait() {
	r.wg.Wait()
}

// Queue holds scheduled jobs until RunPending drains them. It is the
// scheduler used by CLI commands and tests, where work must finish before
// the caller continues.
type Queue struct {
	logger *slog.Logger

	mu      sync.Mutex
	pending []queued
}

type queued struct {
	name string
	job  Job
}

// NewQueue returns an empty Queue.
func NewQueue(logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{logger: logger}
}

// Schedule appends job to the queue.
func (q *Queue) Schedule(name string, job Job) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, queued{name: name, job: job})
}

// Len returns the number of jobs waiting.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// RunPending runs queued jobs in order, including jobs scheduled while
// draining, until the queue is empty. Every job runs even if an earlier
// one failed; the failures are joined.
func (q *Queue) RunPending(ctx context.Context) error {
	var errs []error
	for {
		q.mu.Lock()
		batch := q.pending
		q.pending = nil
		q.mu.Unlock()
		if len(batch) == 0 {
			return errors.Join(errs...)
		}
		for _, j := range batch {
			if err := run(ctx, j.name, j.job, q.logger); err != nil {
				errs = append(errs, fmt.Errorf("job %s: %w", j.name, err))
			}
		}
	}
}

func run(ctx context.Context, name string, job Job, logger *slog.Logger) (err error) {
	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
		metrics.JobsRun.WithLabelValues(name, metrics.Result(err)).Inc()
		metrics.JobDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
		if err != nil {
			logger.Error("background job failed", "job", name, "error", err)
			return
		}
		logger.Debug("background job done", "job", name, "duration", time.Since(start))
	}()
	return job(ctx)
}
