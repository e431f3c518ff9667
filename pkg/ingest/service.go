// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package ingest reconciles completed upload sessions into the storage root.
//
// A session whose metadata asks for its original filename is either moved
// straight to its final path or, for parted uploads, recorded until every
// sibling part has arrived and then concatenated in part order.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	rtdebug "runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/LeeDigitalWorks/zapdrop/pkg/events"
	"github.com/LeeDigitalWorks/zapdrop/pkg/ingest/placement"
	"github.com/LeeDigitalWorks/zapdrop/pkg/ingest/tracker"
	"github.com/LeeDigitalWorks/zapdrop/pkg/logger"
	"github.com/LeeDigitalWorks/zapdrop/pkg/staging"
	"github.com/LeeDigitalWorks/zapdrop/pkg/utils"

	"github.com/google/uuid"
)

const (
	DefaultCopyChunkSize     = 32 << 20
	DefaultStabilityInterval = 250 * time.Millisecond
	DefaultStabilityChecks   = 2
	DefaultStabilityTimeout  = 10 * time.Second
)

var ErrClosed = errors.New("ingest service closed")

// Config configures the reconciliation service.
type Config struct {
	// StorageRoot is the directory final files are published under.
	StorageRoot string

	Staging staging.Store
	Tracker *tracker.Tracker

	// Emitter announces published files. Nil disables events.
	Emitter *events.Emitter

	// CopyChunkSize is the read size used when concatenating parts.
	CopyChunkSize int

	// StabilityInterval is the delay between size observations of a
	// staged file before it is published.
	StabilityInterval time.Duration

	// StabilityChecks is how many consecutive identical sizes count as stable.
	StabilityChecks int

	// StabilityTimeout caps the wait. A file still missing afterwards is
	// reported as data loss.
	StabilityTimeout time.Duration

	// OnDataLoss is called when a completed session's bytes are missing.
	OnDataLoss func(ctx context.Context, u CompletedUpload, err error)
}

func (c *Config) applyDefaults() {
	if c.CopyChunkSize <= 0 {
		c.CopyChunkSize = DefaultCopyChunkSize
	}
	if c.StabilityInterval <= 0 {
		c.StabilityInterval = DefaultStabilityInterval
	}
	if c.StabilityChecks <= 0 {
		c.StabilityChecks = DefaultStabilityChecks
	}
	if c.StabilityTimeout <= 0 {
		c.StabilityTimeout = DefaultStabilityTimeout
	}
	if c.Emitter == nil {
		c.Emitter = events.NoopEmitter()
	}
}

// Service runs reconciliation tasks. Each completion is handled on its own
// goroutine; a failure or panic in one task never reaches the caller.
type Service struct {
	cfg     Config
	root    string
	staging string
	buffers *utils.BufferPool

	mu     sync.Mutex
	tasks  map[string]*Task
	closed bool
	wg     sync.WaitGroup
}

func NewService(cfg Config) (*Service, error) {
	if cfg.StorageRoot == "" {
		return nil, fmt.Errorf("storage root is required")
	}
	if cfg.Staging == nil {
		return nil, fmt.Errorf("staging store is required")
	}
	if cfg.Tracker == nil {
		cfg.Tracker = tracker.New()
	}
	cfg.applyDefaults()

	root, err := filepath.Abs(cfg.StorageRoot)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root: %w", err)
	}
	stagingDir, err := filepath.Abs(cfg.Staging.Dir())
	if err != nil {
		return nil, fmt.Errorf("resolve staging dir: %w", err)
	}

	return &Service{
		cfg:     cfg,
		root:    filepath.Clean(root),
		staging: filepath.Clean(stagingDir),
		buffers: utils.NewBufferPool(cfg.CopyChunkSize),
		tasks:   make(map[string]*Task),
	}, nil
}

// Root is the absolute storage root.
func (s *Service) Root() string {
	return s.root
}

func (s *Service) Tracker() *tracker.Tracker {
	return s.cfg.Tracker
}

// Submit starts reconciling u in the background and returns the task id.
// The task outlives ctx cancellation but keeps its values.
func (s *Service) Submit(ctx context.Context, u CompletedUpload) (string, error) {
	task := &Task{
		ID:        uuid.New().String(),
		UploadID:  u.ID,
		Filename:  u.Metadata.Filename(),
		Parted:    u.Metadata.IsParted(),
		StartedAt: time.Now(),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", ErrClosed
	}
	s.tasks[task.ID] = task
	s.wg.Add(1)
	s.mu.Unlock()

	InFlightTasks.Inc()
	go s.run(context.WithoutCancel(ctx), task, u)
	return task.ID, nil
}

func (s *Service) run(ctx context.Context, task *Task, u CompletedUpload) {
	defer func() {
		if r := recover(); r != nil {
			ReconcileTotal.WithLabelValues("panic").Inc()
			logger.Error().
				Str("upload_id", u.ID).
				Interface("panic", r).
				Bytes("stack", rtdebug.Stack()).
				Msg("ingest: reconciliation panicked")
		}
		s.mu.Lock()
		delete(s.tasks, task.ID)
		s.mu.Unlock()
		InFlightTasks.Dec()
		s.wg.Done()
	}()

	start := time.Now()
	res, err := s.Reconcile(ctx, u)
	if err != nil {
		logger.Ctx(ctx).Warn().
			Err(err).
			Str("upload_id", u.ID).
			Str("outcome", string(res.Outcome)).
			Msg("ingest: reconciliation failed")
		return
	}
	if res.Outcome == OutcomeSkipped || res.Outcome == OutcomeTracked {
		return
	}
	logger.Ctx(ctx).Info().
		Str("upload_id", u.ID).
		Str("outcome", string(res.Outcome)).
		Str("path", res.Path).
		Int64("size", res.Size).
		Int("parts", res.Parts).
		Dur("duration", time.Since(start)).
		Msg("ingest: upload reconciled")
}

// Reconcile handles one completion synchronously. The returned Result is
// never nil.
func (s *Service) Reconcile(ctx context.Context, u CompletedUpload) (*Result, error) {
	var (
		res *Result
		err error
	)
	switch {
	case !u.Metadata.UseOriginalFilename():
		res = &Result{Outcome: OutcomeSkipped}
	case u.Metadata.IsParted():
		res, err = s.reconcilePart(ctx, u)
	default:
		res, err = s.publishSingle(ctx, u)
	}
	ReconcileTotal.WithLabelValues(string(res.Outcome)).Inc()
	return res, err
}

// InFlight lists running tasks, oldest first.
func (s *Service) InFlight() []Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// Close stops Submit from accepting new work. Running tasks continue.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

// Wait blocks until every submitted task has finished or ctx is done.
func (s *Service) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// targetDir resolves rel under the storage root and creates it. Targets
// inside the staging directory are refused, as is a final name that would
// replace the staging directory itself.
func (s *Service) targetDir(rel, name string) (string, error) {
	dir, err := placement.ResolveTargetDir(s.root, rel, s.staging)
	if errors.Is(err, placement.ErrReserved) {
		return "", newError(ErrCodeInvalidPath, "target is inside the staging directory", err)
	}
	if err != nil {
		return "", newError(ErrCodeInvalidPath, "resolve target directory", err)
	}
	if name != "" && placement.Within(s.staging, filepath.Join(dir, name)) {
		return "", newError(ErrCodeInvalidPath, "target is inside the staging directory",
			fmt.Errorf("%w: %q", placement.ErrReserved, name))
	}
	return dir, nil
}

func (s *Service) discard(ctx context.Context, id string) {
	if err := s.cfg.Staging.Discard(ctx, id); err != nil {
		logger.Warn().Err(err).Str("upload_id", id).Msg("ingest: failed to discard staged session")
	}
}

func (s *Service) reportDataLoss(ctx context.Context, u CompletedUpload, err error) {
	DataLossTotal.Inc()
	logger.Error().
		Err(err).
		Str("upload_id", u.ID).
		Str("filename", u.Metadata.Filename()).
		Msg("ingest: staged content missing for completed upload")
	if s.cfg.OnDataLoss != nil {
		s.cfg.OnDataLoss(ctx, u, err)
	}
}

// relPath is the slash-separated path of p relative to the storage root.
func (s *Service) relPath(p string) string {
	rel, err := filepath.Rel(s.root, p)
	if err != nil {
		return p
	}
	return filepath.ToSlash(rel)
}

func (s *Service) emit(ctx context.Context, name, finalPath string, res *Result, reason string) {
	ev := &events.Event{
		Name:     name,
		Path:     s.relPath(finalPath),
		FileName: filepath.Base(finalPath),
		Size:     res.Size,
		Parts:    res.Parts,
		Reason:   reason,
	}
	if res.XXHash != 0 {
		ev.XXHash = fmt.Sprintf("%016x", res.XXHash)
	}
	s.cfg.Emitter.Emit(ctx, ev)
}
