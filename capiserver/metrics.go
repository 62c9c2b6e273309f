// Copyright 2025 Preventioid
// SPDX-License-Identifier: Apache-2.0

package capiserver

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	syncBatchesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "smartcapi",
		Subsystem: "sync",
		Name:      "batches_total",
		Help:      "Number of sync batches processed.",
	})
	syncRecordsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "smartcapi",
		Subsystem: "sync",
		Name:      "records_total",
		Help:      "Number of records resolved, by outcome.",
	}, []string{"status"})
	syncBatchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "smartcapi",
		Subsystem: "sync",
		Name:      "batch_duration_seconds",
		Help:      "Wall time spent resolving one sync batch.",
		Buckets:   prometheus.DefBuckets,
	})
)

func init() {
	prometheus.MustRegister(syncBatchesTotal, syncRecordsTotal, syncBatchDuration)
}

// observeBatch records one processed batch.
func observeBatch(d time.Duration) {
	syncBatchesTotal.Inc()
	syncBatchDuration.Observe(d.Seconds())
}

// recordResult counts one per-record outcome.
func recordResult(status string) {
	syncRecordsTotal.WithLabelValues(status).Inc()
}
