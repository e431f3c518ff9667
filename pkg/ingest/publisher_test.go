// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/LeeDigitalWorks/zapdrop/pkg/ingest/placement"
	"github.com/LeeDigitalWorks/zapdrop/pkg/staging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconcileSkipsWithoutOriginalFilename(t *testing.T) {
	t.Parallel()

	env := newTestService(t)
	meta := singleMeta("report.pdf", "", "")
	meta[staging.KeyUseOriginalFilename] = "TRUE"
	u := env.stage(t, "s1", []byte("data"), meta)

	res, err := env.svc.Reconcile(context.Background(), u)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, res.Outcome)
	assert.ElementsMatch(t, []string{"s1", "s1.info"}, env.stagingEntries(t))
	assert.NoFileExists(t, filepath.Join(env.root, "report.pdf"))
}

func TestPublishSingle(t *testing.T) {
	t.Parallel()

	env := newTestService(t)
	u := env.stage(t, "s1", []byte("%PDF-1.7"), singleMeta("report.pdf", "docs", ""))

	res, err := env.svc.Reconcile(context.Background(), u)
	require.NoError(t, err)

	final := filepath.Join(env.root, "docs", "report.pdf")
	assert.Equal(t, OutcomePublished, res.Outcome)
	assert.Equal(t, final, res.Path)
	assert.Equal(t, int64(8), res.Size)
	assert.Equal(t, "%PDF-1.7", string(readFile(t, final)))
	assert.Empty(t, env.stagingEntries(t), "bytes moved and sidecar removed")
}

func TestPublishSingleSanitizesName(t *testing.T) {
	t.Parallel()

	env := newTestService(t)
	u := env.stage(t, "s1", []byte("x"), singleMeta("my report (v2).pdf", "", ""))

	res, err := env.svc.Reconcile(context.Background(), u)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(env.root, "my_report__v2_.pdf"), res.Path)
}

func TestPublishSingleDuplicatePolicies(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		policy      string
		wantOutcome Outcome
		wantPath    string
		wantErr     error
		wantFinal   string
	}{
		{
			name:        "number",
			policy:      "number",
			wantOutcome: OutcomePublished,
			wantPath:    "report(1).pdf",
			wantFinal:   "new",
		},
		{
			name:        "overwrite",
			policy:      "overwrite",
			wantOutcome: OutcomePublished,
			wantPath:    "report.pdf",
			wantFinal:   "new",
		},
		{
			name:        "unknown policy overwrites",
			policy:      "keep-both",
			wantOutcome: OutcomePublished,
			wantPath:    "report.pdf",
			wantFinal:   "new",
		},
		{
			name:        "prevent",
			policy:      "prevent",
			wantOutcome: OutcomeRejected,
			wantErr:     ErrDuplicate,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			env := newTestService(t)
			existing := filepath.Join(env.root, "report.pdf")
			require.NoError(t, os.WriteFile(existing, []byte("old"), 0o644))

			u := env.stage(t, "s1", []byte("new"), singleMeta("report.pdf", "", tt.policy))
			res, err := env.svc.Reconcile(context.Background(), u)
			assert.Equal(t, tt.wantOutcome, res.Outcome)

			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, "old", string(readFile(t, existing)), "existing file untouched")
				assert.Empty(t, env.stagingEntries(t), "rejected upload is discarded")
				return
			}

			require.NoError(t, err)
			assert.Equal(t, filepath.Join(env.root, tt.wantPath), res.Path)
			assert.Equal(t, tt.wantFinal, string(readFile(t, res.Path)))
			if tt.wantPath != "report.pdf" {
				assert.Equal(t, "old", string(readFile(t, existing)))
			}
		})
	}
}

func TestPublishSingleStaysInsideRoot(t *testing.T) {
	t.Parallel()

	env := newTestService(t)
	u := env.stage(t, "s1", []byte("x"), singleMeta("passwd", "../../etc", ""))

	res, err := env.svc.Reconcile(context.Background(), u)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(env.root, "etc", "passwd"), res.Path)
}

func TestPublishSingleRefusesStagingTarget(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		filename string
		path     string
	}{
		{name: "session bytes", filename: "victimsession", path: ".staging"},
		{name: "session sidecar", filename: "victimsession.info", path: "/.staging/"},
		{name: "traversal", filename: "victimsession", path: "../.staging"},
		{name: "staging dir itself", filename: ".staging", path: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			env := newTestService(t)
			victim := env.stage(t, "victimsession", []byte("original"), singleMeta("keep.bin", "", ""))
			u := env.stage(t, "attacker", []byte("EVIL"), singleMeta(tt.filename, tt.path, "overwrite"))

			res, err := env.svc.Reconcile(context.Background(), u)
			assert.Equal(t, OutcomeDiscarded, res.Outcome)
			assert.ErrorIs(t, err, ErrInvalidPath)
			assert.ErrorIs(t, err, placement.ErrReserved)

			assert.Equal(t, "original", string(readFile(t, filepath.Join(env.staging.Dir(), victim.ID))))
			info, err := env.staging.Info(context.Background(), victim.ID)
			require.NoError(t, err)
			assert.Equal(t, "keep.bin", info.MetaData.Filename())
			assert.ElementsMatch(t, []string{"victimsession", "victimsession.info"}, env.stagingEntries(t),
				"attacker session discarded, victim untouched")
		})
	}
}

func TestPublishSingleMissingStaged(t *testing.T) {
	t.Parallel()

	var lost []string
	env := newTestService(t, func(c *Config) {
		c.OnDataLoss = func(ctx context.Context, u CompletedUpload, err error) {
			lost = append(lost, u.ID)
		}
	})

	u := CompletedUpload{ID: "ghost", Size: 10, Metadata: singleMeta("ghost.bin", "", "")}
	res, err := env.svc.Reconcile(context.Background(), u)

	assert.Equal(t, OutcomeDataLoss, res.Outcome)
	assert.ErrorIs(t, err, ErrMissingStaged)
	assert.ErrorIs(t, err, staging.ErrNotFound)
	assert.Equal(t, []string{"ghost"}, lost)
	assert.NoFileExists(t, filepath.Join(env.root, "ghost.bin"))
}

func TestPublishSingleInvalidName(t *testing.T) {
	t.Parallel()

	env := newTestService(t)
	u := env.stage(t, "s1", []byte("x"), singleMeta("..", "", ""))

	res, err := env.svc.Reconcile(context.Background(), u)
	assert.Equal(t, OutcomeDiscarded, res.Outcome)
	assert.ErrorIs(t, err, ErrInvalidName)
	assert.Empty(t, env.stagingEntries(t))
}
