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
	"log/slog"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianForge/services/testgen/datatypes"
	"github.com/AleutianAI/AleutianForge/services/testgen/observability"
)

// SweeperStore is the storage surface the sweeper needs.
type SweeperStore interface {
	ListActiveJobs(ctx context.Context) ([]datatypes.Job, error)
	UpdateJob(ctx context.Context, jobID string, expect datatypes.JobExpectation, mutate func(*datatypes.Job) error) (datatypes.Job, error)
}

// SweeperConfig tunes the periodic stuck-job sweep.
type SweeperConfig struct {
	// Interval between sweeps.
	Interval time.Duration
	// MaxJobClock is the wall-clock budget for a PROCESSING job. Jobs
	// stuck longer are force-failed.
	MaxJobClock time.Duration
	// RequeueAfter is how long a PENDING job may wait before the sweeper
	// resubmits it (covers queue-full admissions and timer loss).
	RequeueAfter time.Duration
}

// Sweeper periodically reaps jobs that stopped making progress.
//
// A worker crash between persist points leaves a PROCESSING job nobody
// owns; the sweeper is the backstop that turns those into FAILED records
// instead of letting them sit forever. Force-failure uses the same
// compare-and-swap path as normal updates, so a job that resumed in the
// meantime wins the race and is left alone.
type Sweeper struct {
	store   SweeperStore
	submit  func(jobID string) error
	cfg     SweeperConfig
	metrics *observability.Metrics

	mu      sync.Mutex
	done    chan struct{}
	running bool
}

// NewSweeper builds a sweeper. submit re-enqueues stale PENDING jobs and
// is usually Pool.Submit.
func NewSweeper(store SweeperStore, submit func(jobID string) error, cfg SweeperConfig) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.RequeueAfter <= 0 {
		cfg.RequeueAfter = cfg.Interval
	}
	return &Sweeper{
		store:   store,
		submit:  submit,
		cfg:     cfg,
		metrics: observability.Default(),
	}
}

// Start launches the sweep loop. Calling Start on a running sweeper is a
// no-op.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.done = make(chan struct{})
	go s.runLoop(ctx)
	slog.Info("Job sweeper started", "interval", s.cfg.Interval, "max_job_clock", s.cfg.MaxJobClock)
}

// Stop halts the loop. Safe to call multiple times.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	close(s.done)
	s.running = false
}

// RunNow performs one sweep immediately, outside the ticker cadence.
func (s *Sweeper) RunNow(ctx context.Context) {
	s.sweep(ctx)
}

func (s *Sweeper) runLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	jobs, err := s.store.ListActiveJobs(ctx)
	if err != nil {
		slog.Error("Sweep listing failed", "error", err)
		return
	}
	now := time.Now().UTC()

	for _, job := range jobs {
		switch job.Status {
		case datatypes.JobProcessing:
			if job.StartedAt == nil || now.Sub(*job.StartedAt) < s.cfg.MaxJobClock {
				continue
			}
			s.reap(ctx, job, now.Sub(*job.StartedAt))
		case datatypes.JobPending:
			if now.Sub(job.UpdatedAt) < s.cfg.RequeueAfter {
				continue
			}
			if err := s.submit(job.JobID); err != nil {
				slog.Warn("Sweeper resubmit deferred", "job_id", job.JobID, "error", err)
			}
		}
	}
}

func (s *Sweeper) reap(ctx context.Context, job datatypes.Job, age time.Duration) {
	_, err := s.store.UpdateJob(ctx, job.JobID,
		datatypes.JobExpectation{Status: job.Status, Stage: job.CurrentStage},
		func(j *datatypes.Job) error {
			j.Status = datatypes.JobFailed
			j.ErrorCode = CodeInfrastructure
			j.ErrorMessage = "exceeded processing wall-clock budget"
			now := time.Now().UTC()
			j.CompletedAt = &now
			return nil
		})
	if err != nil {
		// Lost the race to a live worker; that is the desired outcome.
		slog.Debug("Reap skipped, job moved on", "job_id", job.JobID, "error", err)
		return
	}
	s.metrics.SweeperReaped.Inc()
	s.metrics.JobsTotal.WithLabelValues(string(datatypes.JobFailed)).Inc()
	slog.Warn("Force-failed stuck job", "job_id", job.JobID, "stage", job.CurrentStage, "age", age)
}
