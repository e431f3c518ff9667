// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package context

import (
	"context"
	"net/http"

	"github.com/LeeDigitalWorks/zapdrop/pkg/logger"

	"github.com/google/uuid"
)

const (
	RequestHeader = "X-Request-Id"
)

type RequestID struct{}

// WithUUID returns ctx carrying a request id, generating one if absent.
func WithUUID(c context.Context) (context.Context, string) {
	if id, ok := c.Value(RequestID{}).(string); ok && id != "" {
		return c, id
	}
	newID := uuid.New().String()
	c = context.WithValue(c, RequestID{}, newID)
	return c, newID
}

func FromUUID(c context.Context, reqID string) context.Context {
	return context.WithValue(c, RequestID{}, reqID)
}

// ID returns the request id stored in ctx, or "".
func ID(c context.Context) string {
	id, _ := c.Value(RequestID{}).(string)
	return id
}

// Middleware tags every request with an id, taken from X-Request-Id when
// the client or a proxy supplied one, echoes it in the response, and stores
// a logger carrying it in the request context for logger.Ctx.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if id := r.Header.Get(RequestHeader); id != "" && len(id) <= 128 {
			ctx = FromUUID(ctx, id)
		}
		ctx, id := WithUUID(ctx)

		l := logger.Ctx(ctx).With().Str("request_id", id).Logger()
		ctx = logger.WithLogger(ctx, &l)

		w.Header().Set(RequestHeader, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
