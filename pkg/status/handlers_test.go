// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package status

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/canonical/license-service/internal/logging"
	"github.com/canonical/license-service/internal/monitoring"
	"github.com/canonical/license-service/internal/tracing"
)

type pinger struct {
	err error
}

func (p pinger) Ping(context.Context) error {
	return p.err
}

func TestAPI(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		err      error
		expected int
	}{
		{name: "alive", path: "/api/v0/status", expected: http.StatusOK},
		{name: "alive without database", path: "/api/v0/status", err: errors.New("down"), expected: http.StatusOK},
		{name: "ready", path: "/api/v0/ready", expected: http.StatusOK},
		{name: "not ready", path: "/api/v0/ready", err: errors.New("down"), expected: http.StatusServiceUnavailable},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			logger := logging.NewNoopLogger()

			mux := chi.NewMux()
			NewAPI(pinger{err: test.err}, tracing.NewNoopTracer(), monitoring.NewNoopMonitor("license-service", logger), logger).RegisterEndpoints(mux)

			w := httptest.NewRecorder()
			mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, test.path, nil))

			if w.Code != test.expected {
				t.Fatalf("expected status %d, got %d", test.expected, w.Code)
			}
		})
	}
}
