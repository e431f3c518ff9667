// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/LeeDigitalWorks/zapdrop/pkg/ingest/tracker"
	"github.com/LeeDigitalWorks/zapdrop/pkg/staging"

	"github.com/stretchr/testify/require"
)

type testEnv struct {
	svc     *Service
	staging *staging.Local
	root    string
}

func newTestService(t *testing.T, opts ...func(*Config)) *testEnv {
	t.Helper()

	root := t.TempDir()
	st, err := staging.NewLocal(filepath.Join(root, ".staging"))
	require.NoError(t, err)

	cfg := Config{
		StorageRoot:       root,
		Staging:           st,
		Tracker:           tracker.New(),
		CopyChunkSize:     4096,
		StabilityInterval: time.Millisecond,
		StabilityChecks:   2,
		StabilityTimeout:  20 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	svc, err := NewService(cfg)
	require.NoError(t, err)
	return &testEnv{svc: svc, staging: st, root: root}
}

// stage writes a session's bytes and sidecar the way the transfer engine does.
func (e *testEnv) stage(t *testing.T, id string, data []byte, meta staging.Metadata) CompletedUpload {
	t.Helper()

	require.NoError(t, os.WriteFile(filepath.Join(e.staging.Dir(), id), data, 0o644))
	info, err := json.Marshal(staging.Info{
		ID:       id,
		Size:     int64(len(data)),
		Offset:   int64(len(data)),
		MetaData: meta,
	})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(e.staging.Dir(), id+".info"), info, 0o644))

	return CompletedUpload{ID: id, Size: int64(len(data)), Metadata: meta}
}

func (e *testEnv) stagingEntries(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(e.staging.Dir())
	require.NoError(t, err)
	names := make([]string, len(entries))
	for i, de := range entries {
		names[i] = de.Name()
	}
	return names
}

func singleMeta(filename, path, policy string) staging.Metadata {
	return staging.Metadata{
		staging.KeyFilename:            filename,
		staging.KeyPath:                path,
		staging.KeyUseOriginalFilename: "true",
		staging.KeyOnDuplicateFiles:    policy,
	}
}

func partMeta(original, path, policy string, number, total int) staging.Metadata {
	return staging.Metadata{
		staging.KeyFilename:            fmt.Sprintf("%s.part%d", original, number),
		staging.KeyPath:                path,
		staging.KeyUseOriginalFilename: "true",
		staging.KeyOnDuplicateFiles:    policy,
		staging.KeyIsPartedUpload:      "true",
		staging.KeyOriginalFilename:    original,
		staging.KeyPartNumber:          strconv.Itoa(number),
		staging.KeyTotalParts:          strconv.Itoa(total),
	}
}

// pattern returns n deterministic bytes distinct per seed.
func pattern(seed byte, n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = seed + byte(i%251)
	}
	return b
}

// reconcileParts stages parts[i] under part number order[k] and reconciles
// them in that order, returning the last result.
func (e *testEnv) reconcileParts(t *testing.T, original, path string, parts [][]byte, order []int) (*Result, error) {
	t.Helper()

	var (
		res *Result
		err error
	)
	for _, n := range order {
		u := e.stage(t, fmt.Sprintf("%s-part-%d", original, n), parts[n-1], partMeta(original, path, "", n, len(parts)))
		res, err = e.svc.Reconcile(context.Background(), u)
	}
	return res, err
}

func readFile(t *testing.T, path string) []byte {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return data
}

