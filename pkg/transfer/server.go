// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package transfer wires the tus resumable upload engine to the ingest
// pipeline: it stages session bytes in the staging directory, runs the
// duplicate guard before a session is created, and hands every completed
// session to the reconciliation service.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/LeeDigitalWorks/zapdrop/pkg/ingest"
	"github.com/LeeDigitalWorks/zapdrop/pkg/logger"
	"github.com/LeeDigitalWorks/zapdrop/pkg/staging"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/tus/tusd/v2/pkg/filestore"
	tushandler "github.com/tus/tusd/v2/pkg/handler"
	"github.com/tus/tusd/v2/pkg/memorylocker"
	"github.com/tus/tusd/v2/pkg/prometheuscollector"
	"golang.org/x/exp/slog"
)

const DefaultBasePath = "/files/"

type Config struct {
	// BasePath is where the tus endpoint is mounted. Defaults to DefaultBasePath.
	BasePath string
	// MaxSize caps the declared length of a session. 0 means unlimited.
	MaxSize int64
	// RespectForwardedHeaders builds upload URLs from X-Forwarded-* headers.
	RespectForwardedHeaders bool

	Staging *staging.Local
	Service *ingest.Service
	// Guard runs before each session is created. Nil disables the check.
	Guard *ingest.Guard
}

// Server owns the tus handler and forwards its completion events.
type Server struct {
	cfg     Config
	handler *tushandler.Handler
}

func NewServer(cfg Config) (*Server, error) {
	if cfg.Staging == nil {
		return nil, errors.New("transfer: staging store is required")
	}
	if cfg.Service == nil {
		return nil, errors.New("transfer: ingest service is required")
	}
	cfg.BasePath = normalizeBasePath(cfg.BasePath)

	store := filestore.New(cfg.Staging.Dir())
	locker := memorylocker.New()

	composer := tushandler.NewStoreComposer()
	store.UseIn(composer)
	locker.UseIn(composer)

	s := &Server{cfg: cfg}

	h, err := tushandler.NewHandler(tushandler.Config{
		BasePath:                cfg.BasePath,
		StoreComposer:           composer,
		MaxSize:                 cfg.MaxSize,
		NotifyCompleteUploads:   true,
		RespectForwardedHeaders: cfg.RespectForwardedHeaders,
		PreUploadCreateCallback: s.preCreate,
		Logger:                  logger.Slog("tusd", slog.LevelWarn),
	})
	if err != nil {
		return nil, fmt.Errorf("transfer: create tus handler: %w", err)
	}
	s.handler = h
	return s, nil
}

func normalizeBasePath(p string) string {
	if p == "" {
		return DefaultBasePath
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return p
}

// BasePath is the normalized mount point, with leading and trailing slashes.
func (s *Server) BasePath() string {
	return s.cfg.BasePath
}

// Handler serves the tus protocol. Mount it at BasePath.
func (s *Server) Handler() http.Handler {
	return http.StripPrefix(s.cfg.BasePath, s.handler)
}

// Collector exposes the tus engine's request and upload counters.
func (s *Server) Collector() prometheus.Collector {
	return prometheuscollector.New(s.handler.Metrics)
}

func (s *Server) preCreate(hook tushandler.HookEvent) (tushandler.HTTPResponse, tushandler.FileInfoChanges, error) {
	if s.cfg.Guard == nil {
		return tushandler.HTTPResponse{}, tushandler.FileInfoChanges{}, nil
	}

	meta := staging.Metadata(hook.Upload.MetaData)
	err := s.cfg.Guard.Check(hook.Context, meta, hook.Upload.Size)
	if err == nil {
		return tushandler.HTTPResponse{}, tushandler.FileInfoChanges{}, nil
	}

	var ierr *ingest.Error
	if errors.As(err, &ierr) {
		logger.Ctx(hook.Context).Info().
			Str("filename", meta.Filename()).
			Str("code", ierr.CodeString()).
			Msg("transfer: upload refused")
		return tushandler.HTTPResponse{}, tushandler.FileInfoChanges{},
			tushandler.NewError(ierr.CodeString(), ierr.Message, ierr.HTTPStatus())
	}
	return tushandler.HTTPResponse{}, tushandler.FileInfoChanges{}, err
}

// Run forwards completed sessions to the ingest service until ctx is done.
func (s *Server) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-s.handler.CompleteUploads:
			if !ok {
				return
			}
			s.submit(ev.Context, ev.Upload)
		}
	}
}

func (s *Server) submit(ctx context.Context, info tushandler.FileInfo) {
	// Partial sessions of the concatenation extension are not files.
	if info.IsPartial {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	u := ingest.CompletedUpload{
		ID:       info.ID,
		Size:     info.Size,
		Metadata: staging.Metadata(info.MetaData).Clone(),
	}
	taskID, err := s.cfg.Service.Submit(ctx, u)
	if err != nil {
		logger.Error().Err(err).Str("upload_id", info.ID).Msg("transfer: completed upload not submitted")
		return
	}
	logger.Debug().
		Str("upload_id", info.ID).
		Str("task_id", taskID).
		Msg("transfer: completed upload submitted")
}

// Recover resubmits staged sessions that finished uploading but were never
// reconciled, typically because the process stopped in between. It returns
// the number of sessions resubmitted.
func (s *Server) Recover(ctx context.Context) (int, error) {
	infos, err := s.cfg.Staging.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("transfer: list staged sessions: %w", err)
	}

	n := 0
	for _, info := range infos {
		if !info.Complete() || info.IsPartial || !info.MetaData.UseOriginalFilename() {
			continue
		}
		u := ingest.CompletedUpload{
			ID:       info.ID,
			Size:     info.Size,
			Metadata: info.MetaData.Clone(),
		}
		if _, err := s.cfg.Service.Submit(ctx, u); err != nil {
			return n, fmt.Errorf("transfer: resubmit %s: %w", info.ID, err)
		}
		n++
	}
	if n > 0 {
		logger.Info().Int("sessions", n).Msg("transfer: resubmitted staged uploads")
	}
	return n, nil
}
