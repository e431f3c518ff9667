// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionInfo(t *testing.T) {
	t.Parallel()

	info := VersionInfo()
	assert.Equal(t, Version, info["version"])
	assert.Equal(t, runtime.Version(), info["go_version"])
	assert.Equal(t, TusProtocolVersion, info["tus_protocol"])
	assert.NotEmpty(t, info["tusd"])
}

func TestPrintVersion(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	printVersion(&buf)
	out := buf.String()
	assert.Contains(t, out, "ZapDrop "+Version)
	assert.Contains(t, out, "tus protocol: "+TusProtocolVersion)
	assert.Contains(t, out, "tusd:")
}

func TestHandleVersion(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	handleVersion(rec, httptest.NewRequest(http.MethodGet, "/admin/version", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var got map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, VersionInfo(), got)

	rec = httptest.NewRecorder()
	handleVersion(rec, httptest.NewRequest(http.MethodPost, "/admin/version", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
