// Slipmetrics - Slippi Replay Statistics and Match Analytics
// Copyright 2026 Slipmetrics Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/slipmetrics/slipmetrics

// Package metrics instruments the pipeline with Prometheus collectors:
// decode outcomes, coordinator submissions, indexer sweeps, and scorer
// resolution failures. Exposed on /metrics by the HTTP server.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Decode metrics.
	DecodesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "replay_decodes_total",
			Help: "Total replay decode attempts by mode and outcome",
		},
		[]string{"mode", "outcome"}, // mode: full|lite, outcome: ok|error
	)

	DecodeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "replay_decode_duration_seconds",
			Help:    "Duration of replay decoding in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Coordinator metrics.
	SubmitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coordinator_submits_total",
			Help: "Total coordinator submissions by producer and outcome",
		},
		[]string{"producer", "outcome"},
	)

	SubmitDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "coordinator_submit_duration_seconds",
			Help:    "Duration of coordinator submissions in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"producer"},
	)

	SubmitRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "coordinator_submit_retries_total",
			Help: "Total transient store failures retried inside submissions",
		},
	)

	// Indexer metrics.
	SweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "indexer_sweep_duration_seconds",
			Help:    "Duration of full indexer sweeps in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120},
		},
	)

	SweepFilesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "indexer_files_total",
			Help: "Replay files seen by the indexer sweep by result",
		},
		[]string{"result"}, // indexed|skipped|decode_error|submit_error
	)

	PrunedRecordsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "indexer_pruned_records_total",
			Help: "Match records removed because their replay file disappeared",
		},
	)

	// Scorer metrics.
	ResolutionFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scorer_resolution_failures_total",
			Help: "Sessions whose replay file could not be located",
		},
	)

	SessionsScored = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scorer_sessions_scored_total",
			Help: "Sessions fully scored and submitted",
		},
	)
)

// ObserveDecode records one decode attempt.
func ObserveDecode(mode string, err error, duration time.Duration) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	DecodesTotal.WithLabelValues(mode, outcome).Inc()
	DecodeDuration.Observe(duration.Seconds())
}

// ObserveSubmit records one coordinator submission.
func ObserveSubmit(producer, outcome string, duration time.Duration) {
	SubmitsTotal.WithLabelValues(producer, outcome).Inc()
	SubmitDuration.WithLabelValues(producer).Observe(duration.Seconds())
}

// IncSubmitRetry counts one transient-failure retry.
func IncSubmitRetry() {
	SubmitRetries.Inc()
}

// ObserveSweep records one full indexer sweep.
func ObserveSweep(duration time.Duration) {
	SweepDuration.Observe(duration.Seconds())
}

// IncSweepFile counts one file handled by the sweep.
func IncSweepFile(result string) {
	SweepFilesTotal.WithLabelValues(result).Inc()
}
