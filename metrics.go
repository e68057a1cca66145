// Copyright 2025 Antfly, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package phimask

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace = "antfly"
	metricsSubsystem = "phimask"
)

func counterOpts(name, help string) prometheus.CounterOpts {
	return prometheus.CounterOpts{Namespace: metricsNamespace, Subsystem: metricsSubsystem, Name: name, Help: help}
}

func gaugeOpts(name, help string) prometheus.GaugeOpts {
	return prometheus.GaugeOpts{Namespace: metricsNamespace, Subsystem: metricsSubsystem, Name: name, Help: help}
}

func histogramOpts(name, help string, buckets []float64) prometheus.HistogramOpts {
	return prometheus.HistogramOpts{Namespace: metricsNamespace, Subsystem: metricsSubsystem, Name: name, Help: help, Buckets: buckets}
}

// Pipeline metrics. stage is one of preprocess, redact or filter.
var (
	recordsProcessed = promauto.NewCounterVec(
		counterOpts("records_processed_total", "Corpus records written by a pipeline stage."),
		[]string{"stage"})
	recordsSkipped = promauto.NewCounterVec(
		counterOpts("records_skipped_total", "Corpus records skipped after a failure."),
		[]string{"stage"})
	spansAligned = promauto.NewCounterVec(
		counterOpts("spans_aligned_total", "Entity spans aligned onto at least one token."),
		[]string{"entity"})
	spansDropped = promauto.NewCounter(
		counterOpts("spans_dropped_total", "Entity spans that overlapped no visible token."))
	replacements = promauto.NewCounterVec(
		counterOpts("replacements_total", "PHI spans replaced, by entity type and policy."),
		[]string{"entity", "policy"})
)

// HTTP and cache metrics.
var (
	requestDuration = promauto.NewHistogramVec(
		histogramOpts("request_duration_seconds", "Request latency by endpoint and status.",
			[]float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}),
		[]string{"endpoint", "status"})
	cacheLookups = promauto.NewCounterVec(
		counterOpts("cache_lookups_total", "Alignment cache lookups by result."),
		[]string{"type", "result"})
)

// Request queue metrics.
var (
	queueDepth = promauto.NewGauge(
		gaugeOpts("queue_depth", "Requests waiting for a slot."))
	queueActive = promauto.NewGauge(
		gaugeOpts("queue_active_requests", "Requests holding a slot."))
	queueRejected = promauto.NewCounter(
		counterOpts("queue_rejected_total", "Requests rejected because the queue was full."))
	queueTimedOut = promauto.NewCounter(
		counterOpts("queue_timed_out_total", "Requests that gave up waiting for a slot."))
	queueWait = promauto.NewHistogram(
		histogramOpts("queue_wait_duration_seconds", "Time spent waiting for a slot.",
			prometheus.ExponentialBuckets(0.001, 2.5, 12)))
)

// RecordStats adds a finished run's processed and skipped counts.
func RecordStats(stage string, processed, skipped int) {
	recordsProcessed.WithLabelValues(stage).Add(float64(processed))
	recordsSkipped.WithLabelValues(stage).Add(float64(skipped))
}

func RecordSpanAligned(entity string) { spansAligned.WithLabelValues(entity).Inc() }

func RecordSpansDropped(count int) { spansDropped.Add(float64(count)) }

func RecordReplacement(entity, policy string) { replacements.WithLabelValues(entity, policy).Inc() }

func RecordRequestDuration(endpoint, status string, seconds float64) {
	requestDuration.WithLabelValues(endpoint, status).Observe(seconds)
}

func RecordCacheHit(cacheType string) { cacheLookups.WithLabelValues(cacheType, "hit").Inc() }

func RecordCacheMiss(cacheType string) { cacheLookups.WithLabelValues(cacheType, "miss").Inc() }

// UpdateQueueMetrics publishes a queue snapshot.
func UpdateQueueMetrics(stats QueueStats) {
	queueDepth.Set(float64(stats.CurrentQueued))
	queueActive.Set(float64(stats.CurrentActive))
}

func RecordQueueRejection() { queueRejected.Inc() }

func RecordQueueTimeout() { queueTimedOut.Inc() }

func RecordQueueWaitTime(seconds float64) { queueWait.Observe(seconds) }
