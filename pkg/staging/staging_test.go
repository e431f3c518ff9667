// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package staging

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Metadata
// ============================================================================

func TestMetadataFlags(t *testing.T) {
	t.Parallel()

	m := Metadata{
		KeyFilename:            "report.pdf",
		KeyUseOriginalFilename: "true",
		KeyOnDuplicateFiles:    "number",
	}
	assert.True(t, m.UseOriginalFilename())
	assert.False(t, m.IsParted())
	assert.Equal(t, "number", m.OnDuplicateFiles())
	assert.Equal(t, "report.pdf", m.OriginalFilename())

	for _, v := range []string{"", "TRUE", "1", "yes", "false"} {
		assert.False(t, Metadata{KeyUseOriginalFilename: v}.UseOriginalFilename(), v)
	}
}

func TestMetadataPart(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		meta    Metadata
		want    Part
		wantErr bool
	}{
		{
			name: "valid",
			meta: Metadata{KeyOriginalFilename: "video.mp4", KeyPartNumber: "3", KeyTotalParts: "4", KeyPartID: "abc"},
			want: Part{OriginalFilename: "video.mp4", Number: 3, Total: 4, ID: "abc"},
		},
		{
			name: "falls back to filename",
			meta: Metadata{KeyFilename: "video.mp4", KeyPartNumber: "1", KeyTotalParts: "1"},
			want: Part{OriginalFilename: "video.mp4", Number: 1, Total: 1},
		},
		{name: "missing name", meta: Metadata{KeyPartNumber: "1", KeyTotalParts: "2"}, wantErr: true},
		{name: "non numeric part", meta: Metadata{KeyOriginalFilename: "a", KeyPartNumber: "x", KeyTotalParts: "2"}, wantErr: true},
		{name: "zero total", meta: Metadata{KeyOriginalFilename: "a", KeyPartNumber: "1", KeyTotalParts: "0"}, wantErr: true},
		{name: "part above total", meta: Metadata{KeyOriginalFilename: "a", KeyPartNumber: "3", KeyTotalParts: "2"}, wantErr: true},
		{name: "part zero", meta: Metadata{KeyOriginalFilename: "a", KeyPartNumber: "0", KeyTotalParts: "2"}, wantErr: true},
		{
			name: "max total",
			meta: Metadata{KeyOriginalFilename: "a", KeyPartNumber: "1", KeyTotalParts: "10000"},
			want: Part{OriginalFilename: "a", Number: 1, Total: MaxTotalParts},
		},
		{name: "total above max", meta: Metadata{KeyOriginalFilename: "a", KeyPartNumber: "1", KeyTotalParts: "2000000000"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := tt.meta.Part()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidMetadata)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMetadataHeaderRoundTrip(t *testing.T) {
	t.Parallel()

	// "report.pdf" and "docs/2024"
	header := "filename cmVwb3J0LnBkZg==, path ZG9jcy8yMDI0,isPartedUpload,broken !!!"
	m := ParseMetadataHeader(header)
	assert.Equal(t, Metadata{
		"filename":       "report.pdf",
		"path":           "docs/2024",
		"isPartedUpload": "",
	}, m)

	assert.Equal(t, m, ParseMetadataHeader(SerializeMetadataHeader(m)))
	assert.Empty(t, ParseMetadataHeader(""))
}

// ============================================================================
// Part sizing
// ============================================================================

func TestPartCount(t *testing.T) {
	t.Parallel()

	tests := []struct {
		size int64
		want int
	}{
		{0, 1},
		{32*mib - 1, 1},
		{32 * mib, 2},
		{512*mib - 1, 2},
		{512 * mib, 4},
		{1024*mib - 1, 4},
		{1024 * mib, 6},
		{10 << 30, 6},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, PartCount(tt.size), "size %d", tt.size)
	}
}

func TestPartSizes(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []int64{3, 3, 4}, PartSizes(10, 3))
	assert.Equal(t, []int64{7}, PartSizes(7, 0))

	var sum int64
	for _, s := range PartSizes(1<<30+17, 6) {
		sum += s
	}
	assert.Equal(t, int64(1<<30+17), sum)
}

// ============================================================================
// Local store
// ============================================================================

func writeSession(t *testing.T, dir string, info Info, data []byte) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, info.ID), data, 0o644))
	raw, err := json.Marshal(info)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, info.ID+".info"), raw, 0o644))
}

func TestLocalStore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, err := NewLocal(filepath.Join(t.TempDir(), ".staging"))
	require.NoError(t, err)

	writeSession(t, store.Dir(), Info{
		ID:       "b1",
		Size:     5,
		Offset:   5,
		MetaData: Metadata{KeyFilename: "hello.txt"},
	}, []byte("hello"))
	writeSession(t, store.Dir(), Info{ID: "a1", Size: 10, Offset: 3}, []byte("abc"))

	fi, err := store.Stat(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), fi.Size())

	rc, err := store.Open(ctx, "b1")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, rc.Close())
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	info, err := store.Info(ctx, "b1")
	require.NoError(t, err)
	assert.True(t, info.Complete())
	assert.Equal(t, "hello.txt", info.MetaData.Filename())

	infos, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, "a1", infos[0].ID)
	assert.False(t, infos[0].Complete())

	require.NoError(t, store.DiscardInfo(ctx, "b1"))
	_, err = store.Info(ctx, "b1")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.Stat(ctx, "b1")
	assert.NoError(t, err, "bytes survive DiscardInfo")

	require.NoError(t, store.Discard(ctx, "b1"))
	require.NoError(t, store.Discard(ctx, "b1"), "discard is idempotent")
	_, err = store.Stat(ctx, "b1")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.Open(ctx, "b1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLocalStoreRejectsTraversal(t *testing.T) {
	t.Parallel()

	store, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	for _, id := range []string{"", ".", "..", "../etc/passwd", `a\b`, "x.info"} {
		_, err := store.Path(id)
		assert.ErrorIs(t, err, ErrInvalidID, id)
		assert.ErrorIs(t, store.Discard(context.Background(), id), ErrInvalidID, id)
	}
}
