// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package ingest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdminGroups(t *testing.T) {
	t.Parallel()
	env := newTestService(t)
	ctx := context.Background()

	u := env.stage(t, "p2", pattern('b', 100), partMeta("movie.mkv", "films", "number", 2, 3))
	res, err := env.svc.Reconcile(ctx, u)
	require.NoError(t, err)
	require.Equal(t, OutcomeTracked, res.Outcome)

	rec := httptest.NewRecorder()
	env.svc.handleGroups(rec, httptest.NewRequest(http.MethodGet, "/admin/uploads/groups", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var groups []groupView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &groups))
	require.Len(t, groups, 1)
	assert.Equal(t, "movie.mkv", groups[0].OriginalFilename)
	assert.Equal(t, 3, groups[0].TotalParts)
	assert.Equal(t, []int{2}, groups[0].Received)
	assert.Equal(t, "films", groups[0].TargetDir)
}

func TestAdminInFlightEmpty(t *testing.T) {
	t.Parallel()
	env := newTestService(t)

	rec := httptest.NewRecorder()
	env.svc.handleInFlight(rec, httptest.NewRequest(http.MethodGet, "/admin/uploads/inflight", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())

	rec = httptest.NewRecorder()
	env.svc.handleInFlight(rec, httptest.NewRequest(http.MethodPost, "/admin/uploads/inflight", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
