// SPDX-License-Identifier: MIT

// Package metrics registers the daemon's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobsTotal counts jobs by terminal status.
	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vodub",
			Name:      "jobs_total",
			Help:      "Total jobs by terminal status",
		},
		[]string{"status"},
	)

	// JobsActive tracks jobs currently in the processing state.
	JobsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "vodub",
			Name:      "jobs_active",
			Help:      "Number of jobs currently processing",
		},
	)

	// StageDuration observes wall-clock time per pipeline stage.
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "vodub",
			Name:      "stage_duration_seconds",
			Help:      "Duration of pipeline stages",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12), // 0.5s to ~17min
		},
		[]string{"stage"},
	)

	// EngineCalls counts external engine invocations by engine id and outcome.
	EngineCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vodub",
			Name:      "engine_calls_total",
			Help:      "External engine calls by engine and outcome",
		},
		[]string{"engine", "outcome"}, // outcome: ok|error|quota|timeout
	)

	// GateWaitTime observes time spent waiting for the GPU resource gate.
	GateWaitTime = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "vodub",
			Name:      "gate_wait_seconds",
			Help:      "Time spent waiting for the GPU resource gate",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		},
	)

	// GateHoldTime observes how long the gate was held per acquisition.
	GateHoldTime = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "vodub",
			Name:      "gate_hold_seconds",
			Help:      "Duration the GPU resource gate was held",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
		},
		[]string{"label"},
	)

	// QualityScore observes overall translation quality scores.
	QualityScore = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "vodub",
			Name:      "quality_score",
			Help:      "Overall translation quality scores",
			Buckets:   prometheus.LinearBuckets(0, 10, 11),
		},
	)

	// CacheHits counts translation cache lookups by result.
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vodub",
			Name:      "translation_cache_total",
			Help:      "Translation cache lookups by result",
		},
		[]string{"result"}, // result: hit|miss|expired|rejected
	)
)
