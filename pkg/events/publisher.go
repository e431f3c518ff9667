// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package events

import "context"

// Publisher delivers encoded events to an external system.
type Publisher interface {
	Name() string
	// Publish sends data for the given event name.
	Publish(ctx context.Context, event string, data []byte) error
	Close() error
}

// NoopPublisher discards everything.
type NoopPublisher struct{}

func (NoopPublisher) Name() string { return "noop" }

func (NoopPublisher) Publish(context.Context, string, []byte) error { return nil }

func (NoopPublisher) Close() error { return nil }
