// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"context"
	"errors"
	"strings"
	"time"
)

// MultiPublisher fans each event out to several publishers. Every publisher
// is attempted; the returned error joins all failures.
type MultiPublisher struct {
	publishers []Publisher
}

func NewMultiPublisher(publishers ...Publisher) *MultiPublisher {
	return &MultiPublisher{publishers: publishers}
}

func (m *MultiPublisher) Name() string {
	names := make([]string, len(m.publishers))
	for i, p := range m.publishers {
		names[i] = p.Name()
	}
	return strings.Join(names, "+")
}

func (m *MultiPublisher) Publish(ctx context.Context, event string, data []byte) error {
	var errs []error
	for _, p := range m.publishers {
		start := time.Now()
		if err := p.Publish(ctx, event, data); err != nil {
			EventsDeliveryErrorsTotal.WithLabelValues(p.Name()).Inc()
			errs = append(errs, err)
			continue
		}
		EventsDeliveryDuration.WithLabelValues(p.Name()).Observe(time.Since(start).Seconds())
	}
	return errors.Join(errs...)
}

func (m *MultiPublisher) Close() error {
	var errs []error
	for _, p := range m.publishers {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
