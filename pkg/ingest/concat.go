// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/LeeDigitalWorks/zapdrop/pkg/events"
	"github.com/LeeDigitalWorks/zapdrop/pkg/ingest/placement"
	"github.com/LeeDigitalWorks/zapdrop/pkg/ingest/tracker"
	"github.com/LeeDigitalWorks/zapdrop/pkg/logger"
	"github.com/LeeDigitalWorks/zapdrop/pkg/staging"
	"github.com/LeeDigitalWorks/zapdrop/pkg/utils"

	"github.com/cespare/xxhash/v2"
)

// reconcilePart records a completed part and concatenates its group once
// the last part is in.
func (s *Service) reconcilePart(ctx context.Context, u CompletedUpload) (*Result, error) {
	part, err := u.Metadata.Part()
	if err != nil {
		s.discard(ctx, u.ID)
		return &Result{Outcome: OutcomeDiscarded}, newError(ErrCodeInvalidMetadata, "parted upload metadata", err)
	}

	dir, err := s.targetDir(u.Metadata.Path(), "")
	if errors.Is(err, placement.ErrReserved) {
		s.discard(ctx, u.ID)
		return &Result{Outcome: OutcomeDiscarded}, err
	}
	if err != nil {
		return &Result{Outcome: OutcomeFailed}, err
	}

	if _, err := s.waitStable(ctx, u.ID, u.Size); err != nil {
		if errors.Is(err, staging.ErrNotFound) {
			s.reportDataLoss(ctx, u, err)
			return &Result{Outcome: OutcomeDataLoss}, newError(ErrCodeMissingStaged, "staged part missing", err)
		}
		return &Result{Outcome: OutcomeFailed}, newError(ErrCodeInternal, "wait for staged part", err)
	}

	group, done, err := s.cfg.Tracker.Add(tracker.Arrival{
		SessionID: u.ID,
		Part:      part,
		TargetDir: dir,
		Metadata:  u.Metadata,
	})
	PendingGroups.Set(float64(s.cfg.Tracker.Len()))
	if err != nil {
		s.discard(ctx, u.ID)
		return &Result{Outcome: OutcomeDiscarded}, newError(ErrCodeInvalidMetadata, "part does not fit its group", err)
	}
	if !done {
		logger.Debug().
			Str("upload_id", u.ID).
			Str("original_filename", part.OriginalFilename).
			Int("received", len(group.Parts)).
			Int("total", group.TotalParts).
			Msg("ingest: part recorded")
		return &Result{Outcome: OutcomeTracked, Parts: group.TotalParts}, nil
	}

	return s.concatenate(ctx, group)
}

// concatenate writes parts 1..N of a complete group, in that order, to a
// temp file beside the final path and renames it into place. On any
// failure the temp file and our placeholder are removed and every part of
// the group is discarded.
func (s *Service) concatenate(ctx context.Context, g *tracker.Group) (*Result, error) {
	start := time.Now()

	name := placement.Sanitize(g.OriginalFilename)
	if err := placement.ValidName(name); err != nil {
		s.discardGroup(ctx, g)
		return &Result{Outcome: OutcomeDiscarded}, newError(ErrCodeInvalidName, "unusable filename", err)
	}
	if placement.Within(s.staging, filepath.Join(g.TargetDir, name)) {
		s.discardGroup(ctx, g)
		return &Result{Outcome: OutcomeDiscarded}, newError(ErrCodeInvalidPath, "target is inside the staging directory",
			fmt.Errorf("%w: %q", placement.ErrReserved, name))
	}

	var total int64
	for n := 1; n <= g.TotalParts; n++ {
		fi, err := s.cfg.Staging.Stat(ctx, g.Parts[n])
		if err != nil {
			if errors.Is(err, staging.ErrNotFound) {
				s.reportDataLoss(ctx, partUpload(g, n), err)
			}
			s.discardGroup(ctx, g)
			return &Result{Outcome: OutcomeFailed, Parts: g.TotalParts},
				newError(ErrCodeReconstruction, fmt.Sprintf("part %d of %s", n, name), err)
		}
		total += fi.Size()
	}

	policy := placement.ParsePolicy(g.Metadata.OnDuplicateFiles())
	reservation, err := placement.Reserve(g.TargetDir, name, policy)
	if errors.Is(err, placement.ErrDuplicate) {
		s.discardGroup(ctx, g)
		res := &Result{Outcome: OutcomeRejected, Size: total, Parts: g.TotalParts}
		s.emit(ctx, events.EventDiscarded, filepath.Join(g.TargetDir, name), res, "duplicate")
		return res, newError(ErrCodeDuplicate, fmt.Sprintf("File %s already exists", name), err)
	}
	if err != nil {
		s.discardGroup(ctx, g)
		return &Result{Outcome: OutcomeFailed, Parts: g.TotalParts}, newError(ErrCodeReconstruction, "reserve final name", err)
	}

	final := reservation.Path()
	tmp := tempPath(final)

	digest, written, err := s.assemble(ctx, tmp, g, total)
	if err == nil {
		err = os.Rename(tmp, final)
	}
	if err != nil {
		if rerr := os.Remove(tmp); rerr != nil && !errors.Is(rerr, os.ErrNotExist) {
			logger.Warn().Err(rerr).Str("path", tmp).Msg("ingest: failed to remove temp file")
		}
		if rerr := reservation.Release(); rerr != nil {
			logger.Warn().Err(rerr).Str("path", final).Msg("ingest: failed to release reservation")
		}
		s.discardGroup(ctx, g)
		return &Result{Outcome: OutcomeFailed, Parts: g.TotalParts},
			newError(ErrCodeReconstruction, fmt.Sprintf("concatenate %s", name), err)
	}
	reservation.Commit()
	s.discardGroup(ctx, g)

	ConcatDuration.Observe(time.Since(start).Seconds())
	PublishedBytes.Add(float64(written))

	res := &Result{
		Outcome: OutcomeAssembled,
		Path:    final,
		Size:    written,
		Parts:   g.TotalParts,
		XXHash:  digest,
	}
	s.emit(ctx, events.EventPublished, final, res, "")
	return res, nil
}

// assemble streams every part into tmp through a running xxhash. Memory
// use is one copy buffer regardless of part sizes.
func (s *Service) assemble(ctx context.Context, tmp string, g *tracker.Group, total int64) (uint64, int64, error) {
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, 0, err
	}
	closed := false
	defer func() {
		if !closed {
			f.Close()
		}
	}()

	if err := utils.Fallocate(f, total); err != nil {
		logger.Debug().Err(err).Str("path", tmp).Msg("ingest: preallocation unsupported")
	}

	h := xxhash.New()
	w := io.MultiWriter(f, h)
	buf := s.buffers.Get()
	defer s.buffers.Put(buf)

	var written int64
	for n := 1; n <= g.TotalParts; n++ {
		nw, err := s.appendPart(ctx, w, buf, g.Parts[n])
		written += nw
		if errors.Is(err, staging.ErrNotFound) {
			s.reportDataLoss(ctx, partUpload(g, n), err)
		}
		if err != nil {
			return 0, written, fmt.Errorf("append part %d: %w", n, err)
		}
	}
	if written != total {
		return 0, written, fmt.Errorf("assembled %d bytes, parts totalled %d", written, total)
	}

	if err := utils.Fdatasync(f); err != nil {
		return 0, written, fmt.Errorf("sync: %w", err)
	}
	_ = utils.FadviseDontNeed(f)

	closed = true
	if err := f.Close(); err != nil {
		return 0, written, err
	}
	return h.Sum64(), written, nil
}

func (s *Service) appendPart(ctx context.Context, w io.Writer, buf []byte, id string) (int64, error) {
	rc, err := s.cfg.Staging.Open(ctx, id)
	if err != nil {
		return 0, err
	}
	defer rc.Close()
	return copyChunked(w, rc, buf)
}

// partUpload describes part n of g for data-loss reporting.
func partUpload(g *tracker.Group, n int) CompletedUpload {
	return CompletedUpload{ID: g.Parts[n], Metadata: g.Metadata}
}

// discardGroup removes every staged part of g with its sidecar.
func (s *Service) discardGroup(ctx context.Context, g *tracker.Group) {
	for _, id := range g.SessionIDs() {
		s.discard(ctx, id)
	}
}

// DiscardGroup is used by the reaper for groups that never completed.
func (s *Service) DiscardGroup(ctx context.Context, g *tracker.Group) {
	s.discardGroup(ctx, g)
	PendingGroups.Set(float64(s.cfg.Tracker.Len()))
}
