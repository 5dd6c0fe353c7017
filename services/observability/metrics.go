// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the trend
// pipeline.
//
// # Description
//
// Metrics cover pipeline runs (by mode, outcome, failed stage),
// upstream call latency, token refreshes, response-cache effectiveness,
// rate-governor rejections, and scheduler batches. Exposed on /metrics
// for Prometheus scraping.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal
// locking.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace for all metrics
const metricsNamespace = "trendavatar"

// PipelineMetrics holds the Prometheus instruments for pipeline and
// platform activity. Initialize once at startup via InitMetrics().
type PipelineMetrics struct {
	// RunsTotal counts pipeline runs.
	// Labels: mode (on_demand, scheduled, voice_clone), outcome
	// (posted, skipped, failed)
	RunsTotal *prometheus.CounterVec

	// StageFailuresTotal counts stage-attributed failures.
	// Labels: stage (trends, search, assess, composite, caption,
	// upload, publish, history, style), kind (unauthenticated,
	// rate_limited, upstream, invalid_response, other)
	StageFailuresTotal *prometheus.CounterVec

	// RunDurationSeconds measures end-to-end pipeline run time.
	// Labels: mode
	RunDurationSeconds *prometheus.HistogramVec

	// UpstreamDurationSeconds measures remote call latency.
	// Labels: service (platform, oracle)
	UpstreamDurationSeconds *prometheus.HistogramVec

	// TokenRefreshesTotal counts access-token refresh attempts.
	// Labels: result (ok, failed)
	TokenRefreshesTotal *prometheus.CounterVec

	// TrendScore observes assessment scores as a distribution.
	TrendScore prometheus.Histogram

	// CacheRequestsTotal counts response-cache lookups.
	// Labels: cache (trends, timeline, history), result (hit, miss)
	CacheRequestsTotal *prometheus.CounterVec

	// GovernorRejectionsTotal counts calls refused by a quota window.
	// Labels: scope (platform, gateway)
	GovernorRejectionsTotal *prometheus.CounterVec

	// ScheduledBatchesTotal counts scheduler sweeps.
	// Labels: outcome (completed, skipped_overlap)
	ScheduledBatchesTotal *prometheus.CounterVec

	// ActiveRuns tracks pipeline runs currently in flight.
	ActiveRuns prometheus.Gauge
}

// DefaultMetrics is the singleton instance. Initialized by
// InitMetrics().
var DefaultMetrics *PipelineMetrics

// InitMetrics creates and registers all metrics. Call once at startup;
// a second call panics on duplicate registration.
func InitMetrics() *PipelineMetrics {
	DefaultMetrics = &PipelineMetrics{
		RunsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "pipeline_runs_total",
				Help:      "Total pipeline runs by mode and outcome",
			},
			[]string{"mode", "outcome"},
		),

		StageFailuresTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "stage_failures_total",
				Help:      "Pipeline failures by stage and error kind",
			},
			[]string{"stage", "kind"},
		),

		RunDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "run_duration_seconds",
				Help:      "End-to-end pipeline run duration in seconds",
				Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"mode"},
		),

		UpstreamDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "upstream_duration_seconds",
				Help:      "Remote call latency by upstream service",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"service"},
		),

		TokenRefreshesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "token_refreshes_total",
				Help:      "Access-token refresh attempts by result",
			},
			[]string{"result"},
		),

		TrendScore: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "trend_score",
				Help:      "Distribution of trend suitability scores",
				Buckets:   []float64{0, 10, 25, 50, 70, 85, 100},
			},
		),

		CacheRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "cache_requests_total",
				Help:      "Response cache lookups by cache and result",
			},
			[]string{"cache", "result"},
		),

		GovernorRejectionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "governor_rejections_total",
				Help:      "Calls refused by a rate window",
			},
			[]string{"scope"},
		),

		ScheduledBatchesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "scheduled_batches_total",
				Help:      "Scheduler sweeps by outcome",
			},
			[]string{"outcome"},
		),

		ActiveRuns: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "active_runs",
				Help:      "Pipeline runs currently in flight",
			},
		),
	}
	return DefaultMetrics
}

// =============================================================================
// Helper Methods
// =============================================================================

// RecordRun records a finished pipeline run.
func (m *PipelineMetrics) RecordRun(mode, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(mode, outcome).Inc()
	m.RunDurationSeconds.WithLabelValues(mode).Observe(elapsed.Seconds())
}

// RecordStageFailure records a stage-attributed failure.
func (m *PipelineMetrics) RecordStageFailure(stage, kind string) {
	if m == nil {
		return
	}
	m.StageFailuresTotal.WithLabelValues(stage, kind).Inc()
}

// RecordUpstream observes one remote call's latency.
func (m *PipelineMetrics) RecordUpstream(service string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.UpstreamDurationSeconds.WithLabelValues(service).Observe(elapsed.Seconds())
}

// RecordTokenRefresh records one refresh attempt.
func (m *PipelineMetrics) RecordTokenRefresh(ok bool) {
	if m == nil {
		return
	}
	result := "failed"
	if ok {
		result = "ok"
	}
	m.TokenRefreshesTotal.WithLabelValues(result).Inc()
}

// RecordScore observes one assessment score.
func (m *PipelineMetrics) RecordScore(score int) {
	if m == nil {
		return
	}
	m.TrendScore.Observe(float64(score))
}

// RecordCache records a cache lookup result.
func (m *PipelineMetrics) RecordCache(cache string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheRequestsTotal.WithLabelValues(cache, result).Inc()
}

// RecordGovernorRejection records a quota refusal.
func (m *PipelineMetrics) RecordGovernorRejection(scope string) {
	if m == nil {
		return
	}
	m.GovernorRejectionsTotal.WithLabelValues(scope).Inc()
}

// RecordBatch records a scheduler sweep.
func (m *PipelineMetrics) RecordBatch(skippedOverlap bool) {
	if m == nil {
		return
	}
	outcome := "completed"
	if skippedOverlap {
		outcome = "skipped_overlap"
	}
	m.ScheduledBatchesTotal.WithLabelValues(outcome).Inc()
}

// RunStarted increments the in-flight gauge.
func (m *PipelineMetrics) RunStarted() {
	if m == nil {
		return
	}
	m.ActiveRuns.Inc()
}

// RunEnded decrements the in-flight gauge.
func (m *PipelineMetrics) RunEnded() {
	if m == nil {
		return
	}
	m.ActiveRuns.Dec()
}
