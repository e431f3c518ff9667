// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/LeeDigitalWorks/zapdrop/pkg/logger"

	"github.com/google/uuid"
)

const defaultPublishTimeout = 5 * time.Second

// Emitter stamps and delivers events to a Publisher.
type Emitter struct {
	publisher Publisher
	enabled   bool
	timeout   time.Duration
}

// EmitterConfig configures the event emitter.
type EmitterConfig struct {
	// Publisher receives encoded events. If nil, events are dropped.
	Publisher Publisher

	// Timeout bounds a single delivery (default 5s).
	Timeout time.Duration
}

func NewEmitter(cfg EmitterConfig) *Emitter {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultPublishTimeout
	}
	return &Emitter{
		publisher: cfg.Publisher,
		enabled:   cfg.Publisher != nil,
		timeout:   cfg.Timeout,
	}
}

// NoopEmitter returns an emitter that drops all events.
func NoopEmitter() *Emitter {
	return &Emitter{enabled: false}
}

func (e *Emitter) IsEnabled() bool {
	return e != nil && e.enabled
}

// Emit fills in the id and timestamp if unset and delivers ev. Delivery
// errors are logged, never returned.
func (e *Emitter) Emit(ctx context.Context, ev *Event) {
	if !e.IsEnabled() {
		EventsDroppedTotal.Inc()
		return
	}

	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.Timestamp == 0 {
		ev.Timestamp = time.Now().UnixMilli()
	}

	data, err := json.Marshal(ev)
	if err != nil {
		EventsErrorsTotal.WithLabelValues("marshal").Inc()
		logger.Warn().Err(err).Str("event", ev.Name).Msg("failed to marshal event")
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.timeout)
	defer cancel()

	start := time.Now()
	if err := e.publisher.Publish(ctx, ev.Name, data); err != nil {
		EventsDeliveryErrorsTotal.WithLabelValues(e.publisher.Name()).Inc()
		logger.Warn().
			Err(err).
			Str("event", ev.Name).
			Str("path", ev.Path).
			Str("publisher", e.publisher.Name()).
			Msg("failed to publish event")
		return
	}

	EventsDeliveryDuration.WithLabelValues(e.publisher.Name()).Observe(time.Since(start).Seconds())
	EventsEmittedTotal.WithLabelValues(ev.Name).Inc()
	logger.Debug().
		Str("event", ev.Name).
		Str("event_id", ev.ID).
		Str("path", ev.Path).
		Msg("published event")
}

// Close releases the underlying publisher.
func (e *Emitter) Close() error {
	if !e.IsEnabled() {
		return nil
	}
	return e.publisher.Close()
}
