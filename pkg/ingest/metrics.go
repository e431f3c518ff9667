// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package ingest

import (
	"github.com/LeeDigitalWorks/zapdrop/pkg/debug"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// ReconcileTotal counts completion events by outcome
	ReconcileTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "zapdrop",
		Subsystem: "ingest",
		Name:      "reconcile_total",
		Help:      "Completed upload sessions processed, by outcome",
	}, []string{"outcome"})

	PublishedBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "zapdrop",
		Subsystem: "ingest",
		Name:      "published_bytes_total",
		Help:      "Bytes moved from staging into the storage root",
	})

	ConcatDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "zapdrop",
		Subsystem: "ingest",
		Name:      "concat_duration_seconds",
		Help:      "Time spent reassembling parted uploads",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
	})

	DataLossTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "zapdrop",
		Subsystem: "ingest",
		Name:      "data_loss_total",
		Help:      "Completed sessions whose staged bytes were missing",
	})

	// GuardTotal counts admission checks by decision: allow, reject, error
	GuardTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "zapdrop",
		Subsystem: "ingest",
		Name:      "guard_total",
		Help:      "Upload admission checks by decision",
	}, []string{"decision"})

	InFlightTasks = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "zapdrop",
		Subsystem: "ingest",
		Name:      "inflight_tasks",
		Help:      "Reconciliation tasks currently running",
	})

	PendingGroups = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "zapdrop",
		Subsystem: "ingest",
		Name:      "pending_groups",
		Help:      "Parted uploads waiting for more parts",
	})
)

func init() {
	debug.Registry().MustRegister(
		ReconcileTotal,
		PublishedBytes,
		ConcatDuration,
		DataLossTotal,
		GuardTotal,
		InFlightTasks,
		PendingGroups,
	)
}
