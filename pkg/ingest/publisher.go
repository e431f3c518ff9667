// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/LeeDigitalWorks/zapdrop/pkg/events"
	"github.com/LeeDigitalWorks/zapdrop/pkg/ingest/placement"
	"github.com/LeeDigitalWorks/zapdrop/pkg/logger"
	"github.com/LeeDigitalWorks/zapdrop/pkg/staging"
)

// publishSingle moves a non-parted session to its final path.
func (s *Service) publishSingle(ctx context.Context, u CompletedUpload) (*Result, error) {
	name := placement.Sanitize(u.Metadata.Filename())
	if err := placement.ValidName(name); err != nil {
		s.discard(ctx, u.ID)
		return &Result{Outcome: OutcomeDiscarded}, newError(ErrCodeInvalidName, "unusable filename", err)
	}

	dir, err := s.targetDir(u.Metadata.Path(), name)
	if errors.Is(err, placement.ErrReserved) {
		s.discard(ctx, u.ID)
		return &Result{Outcome: OutcomeDiscarded}, err
	}
	if err != nil {
		return &Result{Outcome: OutcomeFailed}, err
	}

	size, err := s.waitStable(ctx, u.ID, u.Size)
	if errors.Is(err, staging.ErrNotFound) {
		s.reportDataLoss(ctx, u, err)
		return &Result{Outcome: OutcomeDataLoss}, newError(ErrCodeMissingStaged, "staged content missing", err)
	}
	if err != nil {
		return &Result{Outcome: OutcomeFailed}, newError(ErrCodeInternal, "wait for staged content", err)
	}

	policy := placement.ParsePolicy(u.Metadata.OnDuplicateFiles())
	reservation, err := placement.Reserve(dir, name, policy)
	if errors.Is(err, placement.ErrDuplicate) {
		// The admission guard lost a race with another upload of the same name.
		s.discard(ctx, u.ID)
		res := &Result{Outcome: OutcomeRejected, Size: size, Parts: 1}
		s.emit(ctx, events.EventDiscarded, filepath.Join(dir, name), res, "duplicate")
		return res, newError(ErrCodeDuplicate, fmt.Sprintf("File %s already exists", name), err)
	}
	if err != nil {
		return &Result{Outcome: OutcomeFailed}, newError(ErrCodeInternal, "reserve final name", err)
	}

	src, err := s.cfg.Staging.Path(u.ID)
	if err != nil {
		reservation.Release()
		return &Result{Outcome: OutcomeFailed}, newError(ErrCodeInternal, "locate staged content", err)
	}

	if err := moveFile(src, reservation.Path(), s.buffers); err != nil {
		if rerr := reservation.Release(); rerr != nil {
			logger.Warn().Err(rerr).Str("path", reservation.Path()).Msg("ingest: failed to release reservation")
		}
		if errors.Is(err, fs.ErrNotExist) {
			s.reportDataLoss(ctx, u, err)
			return &Result{Outcome: OutcomeDataLoss}, newError(ErrCodeMissingStaged, "staged content vanished", err)
		}
		return &Result{Outcome: OutcomeFailed}, newError(ErrCodeInternal, "move staged content", err)
	}
	reservation.Commit()

	if err := s.cfg.Staging.DiscardInfo(ctx, u.ID); err != nil {
		logger.Warn().Err(err).Str("upload_id", u.ID).Msg("ingest: failed to remove session sidecar")
	}

	PublishedBytes.Add(float64(size))
	res := &Result{Outcome: OutcomePublished, Path: reservation.Path(), Size: size, Parts: 1}
	s.emit(ctx, events.EventPublished, res.Path, res, "")
	return res, nil
}
