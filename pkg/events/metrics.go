// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"github.com/LeeDigitalWorks/zapdrop/pkg/debug"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	EventsEmittedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "zapdrop",
		Subsystem: "events",
		Name:      "emitted_total",
		Help:      "Total number of events delivered",
	}, []string{"event"})

	// EventsDroppedTotal tracks events dropped (emitter disabled)
	EventsDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "zapdrop",
		Subsystem: "events",
		Name:      "dropped_total",
		Help:      "Total number of events dropped (emitter disabled)",
	})

	EventsErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "zapdrop",
		Subsystem: "events",
		Name:      "errors_total",
		Help:      "Total number of event encoding errors",
	}, []string{"error_type"})

	EventsDeliveryErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "zapdrop",
		Subsystem: "events",
		Name:      "delivery_errors_total",
		Help:      "Total number of event delivery errors",
	}, []string{"publisher"})

	EventsDeliveryDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "zapdrop",
		Subsystem: "events",
		Name:      "delivery_duration_seconds",
		Help:      "Time spent delivering events to publishers",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"publisher"})
)

func init() {
	debug.Registry().MustRegister(
		EventsEmittedTotal,
		EventsDroppedTotal,
		EventsErrorsTotal,
		EventsDeliveryErrorsTotal,
		EventsDeliveryDuration,
	)
}
