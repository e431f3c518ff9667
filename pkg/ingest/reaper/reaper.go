// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package reaper discards parted uploads that never received all of their
// parts.
package reaper

import (
	"context"
	"sync"
	"time"

	"github.com/LeeDigitalWorks/zapdrop/pkg/debug"
	"github.com/LeeDigitalWorks/zapdrop/pkg/ingest/tracker"
	"github.com/LeeDigitalWorks/zapdrop/pkg/logger"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	reaperRunsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "zapdrop",
		Subsystem: "reaper",
		Name:      "runs_total",
		Help:      "Total number of orphan sweeps",
	})

	reaperGroupsReaped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "zapdrop",
		Subsystem: "reaper",
		Name:      "groups_reaped_total",
		Help:      "Parted uploads discarded after the orphan timeout",
	})

	reaperPartsReaped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "zapdrop",
		Subsystem: "reaper",
		Name:      "parts_reaped_total",
		Help:      "Staged part sessions deleted by the reaper",
	})
)

func init() {
	debug.Registry().MustRegister(
		reaperRunsTotal,
		reaperGroupsReaped,
		reaperPartsReaped,
	)
}

const (
	DefaultInterval = 30 * time.Minute
	DefaultTimeout  = time.Hour
)

// Discarder deletes the staged sessions of a group.
type Discarder interface {
	DiscardGroup(ctx context.Context, g *tracker.Group)
}

// Config holds configuration for the Reaper
type Config struct {
	Tracker   *tracker.Tracker
	Discarder Discarder

	// Interval between sweeps. 0 means DefaultInterval.
	Interval time.Duration

	// Timeout is the age at which an incomplete group is discarded.
	// 0 means DefaultTimeout.
	Timeout time.Duration

	// Now defaults to the tracker's clock so group ages and sweep times agree.
	Now func() time.Time
}

// Reaper periodically expires incomplete part groups.
type Reaper struct {
	tracker   *tracker.Tracker
	discarder Discarder
	interval  time.Duration
	timeout   time.Duration
	now       func() time.Time

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func New(cfg Config) *Reaper {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Now == nil {
		cfg.Now = cfg.Tracker.Now
	}
	return &Reaper{
		tracker:   cfg.Tracker,
		discarder: cfg.Discarder,
		interval:  cfg.Interval,
		timeout:   cfg.Timeout,
		now:       cfg.Now,
	}
}

// Start runs the sweep loop until Stop is called or ctx is done.
func (r *Reaper) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return
	}
	r.running = true
	r.stopCh = make(chan struct{})
	r.doneCh = make(chan struct{})

	logger.Info().
		Dur("interval", r.interval).
		Dur("timeout", r.timeout).
		Msg("reaper: started")

	go r.loop(ctx, r.stopCh, r.doneCh)
}

func (r *Reaper) loop(ctx context.Context, stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.RunOnce(ctx)
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop signals the loop to exit and waits for it.
func (r *Reaper) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	close(r.stopCh)
	doneCh := r.doneCh
	r.mu.Unlock()

	<-doneCh
}

func (r *Reaper) RunOnce(ctx context.Context) []*tracker.Group {
	return r.RunAt(ctx, r.now())
}

// RunAt performs a single sweep as if the time were now: every group with
// age >= timeout is removed from the tracker and its parts are discarded.
func (r *Reaper) RunAt(ctx context.Context, now time.Time) []*tracker.Group {
	reaperRunsTotal.Inc()

	expired := r.tracker.Expire(now.Add(-r.timeout))
	for _, g := range expired {
		if r.discarder != nil {
			r.discarder.DiscardGroup(ctx, g)
		}
		reaperGroupsReaped.Inc()
		reaperPartsReaped.Add(float64(len(g.Parts)))

		logger.Warn().
			Str("original_filename", g.OriginalFilename).
			Ints("received", g.Received()).
			Int("total", g.TotalParts).
			Dur("age", now.Sub(g.CreatedAt)).
			Msg("reaper: discarded incomplete parted upload")
	}
	return expired
}
