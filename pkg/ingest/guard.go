// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/LeeDigitalWorks/zapdrop/pkg/ingest/placement"
	"github.com/LeeDigitalWorks/zapdrop/pkg/logger"
	"github.com/LeeDigitalWorks/zapdrop/pkg/staging"
	"github.com/LeeDigitalWorks/zapdrop/pkg/utils"
)

// Guard decides whether a new upload session may be created. It refuses
// sessions that would collide with an existing file under the prevent
// policy, and sessions that would push the storage volume below its free
// space threshold. Lookup failures let the upload through; the publish
// step re-checks.
type Guard struct {
	root      string
	staging   string
	minFree   *utils.FreeSpace
	diskUsage func(path string) (utils.DiskUsage, error)
}

type GuardOption func(*Guard)

// WithMinFreeSpace rejects uploads that would leave less than fs free.
func WithMinFreeSpace(fs *utils.FreeSpace) GuardOption {
	return func(g *Guard) {
		g.minFree = fs
	}
}

// WithStagingDir refuses sessions whose target falls inside dir.
func WithStagingDir(dir string) GuardOption {
	return func(g *Guard) {
		if abs, err := filepath.Abs(dir); err == nil {
			dir = abs
		}
		g.staging = filepath.Clean(dir)
	}
}

// WithDiskUsage overrides how volume usage is read.
func WithDiskUsage(fn func(path string) (utils.DiskUsage, error)) GuardOption {
	return func(g *Guard) {
		g.diskUsage = fn
	}
}

func NewGuard(root string, opts ...GuardOption) *Guard {
	g := &Guard{
		root:      filepath.Clean(root),
		diskUsage: utils.GetDiskUsage,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Check validates a session about to be created with the given metadata
// and declared size (0 when deferred).
func (g *Guard) Check(ctx context.Context, meta staging.Metadata, size int64) error {
	if err := g.checkSpace(size); err != nil {
		GuardTotal.WithLabelValues("reject").Inc()
		return err
	}

	if !meta.UseOriginalFilename() {
		GuardTotal.WithLabelValues("allow").Inc()
		return nil
	}

	raw := meta.Filename()
	if meta.IsParted() {
		if _, err := meta.Part(); err != nil {
			GuardTotal.WithLabelValues("reject").Inc()
			return newError(ErrCodeInvalidMetadata, "Invalid parted upload metadata", err)
		}
		raw = meta.OriginalFilename()
	}
	name := placement.Sanitize(raw)
	if err := placement.ValidName(name); err != nil {
		GuardTotal.WithLabelValues("reject").Inc()
		return newError(ErrCodeInvalidName, fmt.Sprintf("Invalid file name %q", raw), err)
	}

	dir, err := placement.TargetDir(g.root, meta.Path())
	if err != nil {
		GuardTotal.WithLabelValues("error").Inc()
		logger.Ctx(ctx).Warn().Err(err).Str("path", meta.Path()).Msg("ingest: duplicate check skipped")
		return nil
	}
	if g.staging != "" && placement.Within(g.staging, filepath.Join(dir, name)) {
		GuardTotal.WithLabelValues("reject").Inc()
		return newError(ErrCodeInvalidPath, fmt.Sprintf("Invalid upload path %q", meta.Path()),
			placement.ErrReserved)
	}

	if placement.ParsePolicy(meta.OnDuplicateFiles()) != placement.PolicyPrevent {
		GuardTotal.WithLabelValues("allow").Inc()
		return nil
	}

	_, err = os.Lstat(filepath.Join(dir, name))
	switch {
	case err == nil:
		GuardTotal.WithLabelValues("reject").Inc()
		return newError(ErrCodeDuplicate, fmt.Sprintf("File %s already exists", name), nil)
	case errors.Is(err, fs.ErrNotExist):
		GuardTotal.WithLabelValues("allow").Inc()
		return nil
	default:
		GuardTotal.WithLabelValues("error").Inc()
		logger.Ctx(ctx).Warn().Err(err).Str("name", name).Msg("ingest: duplicate check failed, allowing upload")
		return nil
	}
}

// CheckRequest runs Check against a creation request's Upload-Metadata
// and Upload-Length headers.
func (g *Guard) CheckRequest(r *http.Request) error {
	meta := staging.ParseMetadataHeader(r.Header.Get("Upload-Metadata"))
	size, _ := strconv.ParseInt(r.Header.Get("Upload-Length"), 10, 64)
	return g.Check(r.Context(), meta, size)
}

func (g *Guard) checkSpace(size int64) error {
	if g.minFree == nil {
		return nil
	}
	usage, err := g.diskUsage(g.root)
	if err != nil {
		logger.Debug().Err(err).Msg("ingest: disk usage unavailable, skipping free space check")
		return nil
	}
	if size < 0 {
		size = 0
	}
	if !g.minFree.Fits(usage, uint64(size)) {
		_, detail := g.minFree.IsLow(usage)
		return newError(ErrCodeInsufficientStorage, "Not enough free space for upload", errors.New(detail))
	}
	return nil
}

// Ready reports whether the storage volume is above its free space threshold.
func (g *Guard) Ready() error {
	if g.minFree == nil {
		return nil
	}
	usage, err := g.diskUsage(g.root)
	if err != nil {
		return nil
	}
	if low, detail := g.minFree.IsLow(usage); low {
		return errors.New(detail)
	}
	return nil
}
