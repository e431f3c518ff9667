// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package ingest

import (
	"context"
	"errors"
	"time"

	"github.com/LeeDigitalWorks/zapdrop/pkg/staging"
)

// waitStable polls the staged bytes of id until they are safe to move:
// either the on-disk size equals the declared size, or the size stayed the
// same for StabilityChecks consecutive observations. A file that never
// shows up within StabilityTimeout yields staging.ErrNotFound.
func (s *Service) waitStable(ctx context.Context, id string, declared int64) (int64, error) {
	deadline := time.Now().Add(s.cfg.StabilityTimeout)

	var (
		last    int64 = -1
		same    int
		missing error
	)
	for {
		fi, err := s.cfg.Staging.Stat(ctx, id)
		switch {
		case err == nil:
			missing = nil
			size := fi.Size()
			if declared > 0 && size == declared {
				return size, nil
			}
			if size == last {
				same++
			} else {
				last, same = size, 1
			}
			if same >= s.cfg.StabilityChecks {
				return size, nil
			}
		case errors.Is(err, staging.ErrNotFound):
			missing = err
			last, same = -1, 0
		default:
			return 0, err
		}

		if !time.Now().Before(deadline) {
			if missing != nil {
				return 0, missing
			}
			return last, nil
		}

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(s.cfg.StabilityInterval):
		}
	}
}
