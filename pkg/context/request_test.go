// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package context

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithUUIDKeepsExisting(t *testing.T) {
	t.Parallel()

	ctx, id := WithUUID(context.Background())
	_, err := uuid.Parse(id)
	require.NoError(t, err)

	ctx2, id2 := WithUUID(ctx)
	assert.Equal(t, id, id2)
	assert.Equal(t, id, ID(ctx2))
	assert.Empty(t, ID(context.Background()))
}

func TestMiddleware(t *testing.T) {
	t.Parallel()

	var seen string
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = ID(r.Context())
	}))

	t.Run("generated", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		require.NotEmpty(t, seen)
		assert.Equal(t, seen, rec.Header().Get(RequestHeader))
	})

	t.Run("propagated", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(RequestHeader, "edge-42")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, "edge-42", seen)
		assert.Equal(t, "edge-42", rec.Header().Get(RequestHeader))
	})
}
