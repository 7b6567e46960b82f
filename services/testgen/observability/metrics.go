// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability exposes Prometheus metrics for the testgen
// pipeline. Metrics register once on a process-wide default; concurrent
// callers share the same collectors.
package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "aleutian"

// Metrics bundles every collector the service records.
type Metrics struct {
	WebhooksTotal *prometheus.CounterVec
	JobsTotal     *prometheus.CounterVec
	StageDuration *prometheus.HistogramVec
	RetriesTotal  *prometheus.CounterVec
	QueueDepth    prometheus.Gauge
	JobsInFlight  prometheus.Gauge
	SweeperReaped prometheus.Counter
}

var (
	defaultMetrics *Metrics
	initOnce       sync.Once
)

// Default returns the process-wide metrics, registering collectors on
// first use.
func Default() *Metrics {
	initOnce.Do(func() {
		defaultMetrics = &Metrics{
			WebhooksTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "testgen",
				Name:      "webhooks_total",
				Help:      "Webhook deliveries by admission result.",
			}, []string{"result"}),
			JobsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "testgen",
				Name:      "jobs_total",
				Help:      "Jobs reaching a terminal status.",
			}, []string{"status"}),
			StageDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "testgen",
				Name:      "stage_duration_seconds",
				Help:      "Wall-clock duration of pipeline stages.",
				Buckets:   []float64{.05, .25, 1, 5, 15, 60, 180},
			}, []string{"stage", "outcome"}),
			RetriesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "testgen",
				Name:      "retries_total",
				Help:      "Retries scheduled, by error code.",
			}, []string{"code"}),
			QueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "testgen",
				Name:      "queue_depth",
				Help:      "Jobs waiting for a worker.",
			}),
			JobsInFlight: promauto.NewGauge(prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "testgen",
				Name:      "jobs_in_flight",
				Help:      "Jobs currently held by a worker.",
			}),
			SweeperReaped: promauto.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "testgen",
				Name:      "sweeper_reaped_total",
				Help:      "Stuck jobs force-failed by the sweeper.",
			}),
		}
	})
	return defaultMetrics
}

// ObserveStage records one stage execution.
func (m *Metrics) ObserveStage(stage string, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage, outcome).Observe(d.Seconds())
}
