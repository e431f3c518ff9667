// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package browse

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	root string
	mux  *http.ServeMux
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".staging"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".staging", "abc"), []byte("x"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "docs", "old"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "docs", "report.pdf"), []byte("pdf"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "Zeta.txt"), []byte("zz"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "alpha.txt"), []byte("a"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "Music"), 0o755))

	h, err := NewHandler(root, filepath.Join(root, ".staging"))
	require.NoError(t, err)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	return &fixture{root: root, mux: mux}
}

func (f *fixture) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func names(items []Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.Name
	}
	return out
}

// =============================================================================
// List
// =============================================================================

func TestListRootHidesStaging(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/list", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[listResponse](t, rec)
	assert.Equal(t, "/", resp.Path)
	assert.Equal(t, []string{"docs", "Music", "alpha.txt", "Zeta.txt"}, names(resp.Items))
	assert.Equal(t, "/docs", resp.Items[0].Path)
	assert.True(t, resp.Items[0].IsDir)
	assert.Equal(t, int64(2), resp.Items[3].Size)
	assert.Equal(t, "2 B", resp.Items[3].SizeHuman)
}

func TestListSubdirectory(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/list?path=/docs", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[listResponse](t, rec)
	assert.Equal(t, "/docs", resp.Path)
	assert.Equal(t, []string{"old", "report.pdf"}, names(resp.Items))
	assert.Equal(t, "/docs/report.pdf", resp.Items[1].Path)
}

func TestListCannotEscapeRoot(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/list?path=../../..", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "/", decode[listResponse](t, rec).Path)
}

func TestListStagingForbidden(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/list?path=/.staging", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestListMissing(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/list?path=/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// Mkdir
// =============================================================================

func TestMkdir(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		req    mkdirRequest
		status int
	}{
		{name: "create", req: mkdirRequest{Path: "/docs", Name: "New Folder_1"}, status: http.StatusCreated},
		{name: "exists", req: mkdirRequest{Path: "/docs", Name: "old"}, status: http.StatusConflict},
		{name: "invalid chars", req: mkdirRequest{Path: "/", Name: "a/b"}, status: http.StatusBadRequest},
		{name: "dot dot", req: mkdirRequest{Path: "/", Name: ".."}, status: http.StatusBadRequest},
		{name: "empty", req: mkdirRequest{Path: "/", Name: ""}, status: http.StatusBadRequest},
		{name: "missing parent", req: mkdirRequest{Path: "/nope", Name: "x"}, status: http.StatusNotFound},
		{name: "inside staging", req: mkdirRequest{Path: "/.staging", Name: "x"}, status: http.StatusForbidden},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)

			rec := f.do(t, http.MethodPost, "/api/mkdir", tc.req)
			assert.Equal(t, tc.status, rec.Code, rec.Body.String())
			if tc.status == http.StatusCreated {
				info, err := os.Stat(filepath.Join(f.root, "docs", tc.req.Name))
				require.NoError(t, err)
				assert.True(t, info.IsDir())
			}
		})
	}
}

func TestValidFolderName(t *testing.T) {
	t.Parallel()

	for _, ok := range []string{"a", "My Files", "v1.2", "x_y-z", ".hidden"} {
		assert.True(t, ValidFolderName(ok), ok)
	}
	for _, bad := range []string{"", ".", "..", "a/b", `a\b`, "naïve", "what?"} {
		assert.False(t, ValidFolderName(bad), bad)
	}
}

// =============================================================================
// Move
// =============================================================================

func TestMoveRenamesFile(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/move", moveRequest{From: "/docs/report.pdf", To: "/docs/old/final.pdf"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	data, err := os.ReadFile(filepath.Join(f.root, "docs", "old", "final.pdf"))
	require.NoError(t, err)
	assert.Equal(t, []byte("pdf"), data)
	assert.NoFileExists(t, filepath.Join(f.root, "docs", "report.pdf"))
}

func TestMoveConflicts(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		req    moveRequest
		status int
	}{
		{name: "target exists", req: moveRequest{From: "/alpha.txt", To: "/Zeta.txt"}, status: http.StatusConflict},
		{name: "source missing", req: moveRequest{From: "/nope.txt", To: "/new.txt"}, status: http.StatusNotFound},
		{name: "into itself", req: moveRequest{From: "/docs", To: "/docs/old/docs"}, status: http.StatusBadRequest},
		{name: "root", req: moveRequest{From: "/", To: "/x"}, status: http.StatusForbidden},
		{name: "into staging", req: moveRequest{From: "/alpha.txt", To: "/.staging/alpha.txt"}, status: http.StatusForbidden},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)

			rec := f.do(t, http.MethodPost, "/api/move", tc.req)
			assert.Equal(t, tc.status, rec.Code, rec.Body.String())
		})
	}
}

// =============================================================================
// Delete
// =============================================================================

func TestDeleteTree(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/delete", deleteRequest{Path: "/docs"})
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.NoDirExists(t, filepath.Join(f.root, "docs"))
}

func TestDeleteRefusesRootAndStaging(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	for _, p := range []string{"/", "", "/..", "/.staging", "/.staging/abc"} {
		rec := f.do(t, http.MethodPost, "/api/delete", deleteRequest{Path: p})
		assert.Equal(t, http.StatusForbidden, rec.Code, p)
	}
	assert.FileExists(t, filepath.Join(f.root, ".staging", "abc"))
}

func TestDeleteMissing(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/delete", deleteRequest{Path: "/nope"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRejectsBadMethodsAndBodies(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	assert.Equal(t, http.StatusMethodNotAllowed, f.do(t, http.MethodGet, "/api/delete", nil).Code)
	assert.Equal(t, http.StatusMethodNotAllowed, f.do(t, http.MethodPost, "/api/list", nil).Code)

	req := httptest.NewRequest(http.MethodPost, "/api/mkdir", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "ERR_INVALID_REQUEST", decode[map[string]string](t, rec)["code"])
}

// =============================================================================
// Upload policy
// =============================================================================

func TestUploadPolicy(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	tests := []struct {
		size  string
		parts int
	}{
		{"0", 1},
		{"33554431", 1},
		{"33554432", 2},
		{"536870912", 4},
		{"1073741824", 6},
	}
	for _, tc := range tests {
		rec := f.do(t, http.MethodGet, "/api/upload-policy?size="+tc.size, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		resp := decode[policyResponse](t, rec)
		assert.Equal(t, tc.parts, resp.Parts, tc.size)
		assert.Len(t, resp.PartSizes, tc.parts)

		var sum int64
		for _, s := range resp.PartSizes {
			sum += s
		}
		assert.Equal(t, resp.Size, sum)
	}

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/api/upload-policy?size=-1", nil).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/api/upload-policy", nil).Code)
}
