// Copyright 2026 Quillworks
// SPDX-License-Identifier: BUSL-1.1

package server

import (
	"context"
	"net/http"
	"time"

	"quillworks/platform/billing/archive"
)

// usageRecorder is the slice of the archive the middleware needs.
type usageRecorder interface {
	RecordAPICall(ctx context.Context, event archive.APICallEvent) error
}

// statusRecorder captures the response status for the usage event.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// usageMiddleware records one usage event per authenticated API request,
// off the request path. Public endpoints and unauthenticated requests are
// not metered.
func usageMiddleware(recorder usageRecorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isPublicPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			workspaceID := WorkspaceFromContext(r.Context())
			if workspaceID == "" {
				return
			}

			event := archive.APICallEvent{
				WorkspaceID:    workspaceID,
				HTTPMethod:     r.Method,
				HTTPPath:       r.URL.Path,
				HTTPStatusCode: rec.status,
				LatencyMs:      time.Since(start).Milliseconds(),
				OccurredAt:     time.Now().UTC(),
			}
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = recorder.RecordAPICall(ctx, event)
			}()
		})
	}
}
