// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianForge/services/testgen/datatypes"
	"github.com/AleutianAI/AleutianForge/services/testgen/observability"
)

// ErrQueueFull is returned by Submit when the intake queue has no room.
// The job stays PENDING in the store and is picked up by a later recovery
// pass, so callers treat this as backpressure, not loss.
var ErrQueueFull = errors.New("job queue full")

// JobRunner is the slice of the executor the pool needs.
type JobRunner interface {
	Execute(ctx context.Context, jobID string) (Result, error)
}

// RecoverStore lists jobs that still need a worker after a restart.
type RecoverStore interface {
	ListActiveJobs(ctx context.Context) ([]datatypes.Job, error)
}

// Pool runs jobs on a fixed set of workers fed by a bounded queue.
//
// # Description
//
// Admission hands job IDs to Submit; workers pull them and invoke the
// runner. When a run parks with a retry delay, the pool re-enqueues the job
// after the delay elapses. Capacity never exceeds the configured worker
// count, so a burst of webhooks queues instead of spawning goroutines.
//
// # Thread Safety
//
// All methods are safe for concurrent use. Start must be called once
// before Submit.
type Pool struct {
	runner  JobRunner
	queue   chan string
	workers int
	cancel  context.CancelFunc
	group   *errgroup.Group
	metrics *observability.Metrics
}

// NewPool builds a pool with the given worker count and queue capacity.
func NewPool(runner JobRunner, workers, queueSize int) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < workers {
		queueSize = workers
	}
	return &Pool{
		runner:  runner,
		queue:   make(chan string, queueSize),
		workers: workers,
		metrics: observability.Default(),
	}
}

// Start launches the workers. They run until Stop is called or the parent
// context is canceled.
func (p *Pool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	p.group, ctx = errgroup.WithContext(ctx)
	for i := 0; i < p.workers; i++ {
		p.group.Go(func() error {
			p.work(ctx)
			return nil
		})
	}
	slog.Info("Worker pool started", "workers", p.workers, "queue_size", cap(p.queue))
}

// Stop cancels the workers and waits for in-flight jobs to park.
func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	if p.group != nil {
		_ = p.group.Wait()
	}
	slog.Info("Worker pool stopped")
}

// Submit queues a job for execution without blocking.
func (p *Pool) Submit(jobID string) error {
	select {
	case p.queue <- jobID:
		p.metrics.QueueDepth.Inc()
		return nil
	default:
		return ErrQueueFull
	}
}

// Recover re-enqueues every non-terminal job found in the store. Called
// once at startup so jobs orphaned by a crash resume from their last
// persisted stage.
func (p *Pool) Recover(ctx context.Context, store RecoverStore) error {
	jobs, err := store.ListActiveJobs(ctx)
	if err != nil {
		return err
	}
	for _, j := range jobs {
		if err := p.Submit(j.JobID); err != nil {
			slog.Warn("Recovery submit deferred", "job_id", j.JobID, "error", err)
		}
	}
	if len(jobs) > 0 {
		slog.Info("Recovered unfinished jobs", "count", len(jobs))
	}
	return nil
}

func (p *Pool) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case jobID := <-p.queue:
			p.metrics.QueueDepth.Dec()
			res, err := p.runner.Execute(ctx, jobID)
			if err != nil {
				// Store trouble or a lost claim race. The sweeper or the
				// next recovery pass will revisit the job.
				slog.Error("Job execution aborted", "job_id", jobID, "error", err)
				continue
			}
			if res.ResumeAfter > 0 {
				p.reschedule(ctx, jobID, res.ResumeAfter)
			}
		}
	}
}

func (p *Pool) reschedule(ctx context.Context, jobID string, delay time.Duration) {
	time.AfterFunc(delay, func() {
		if ctx.Err() != nil {
			return
		}
		if err := p.Submit(jobID); err != nil {
			slog.Warn("Retry submit deferred", "job_id", jobID, "error", err)
		}
	})
}
