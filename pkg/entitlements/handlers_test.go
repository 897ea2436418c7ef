// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package entitlements

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/canonical/license-service/internal/logging"
	"github.com/canonical/license-service/internal/monitoring"
	"github.com/canonical/license-service/internal/tracing"
	"github.com/canonical/license-service/internal/types"
)

func TestAPI_HasFeature(t *testing.T) {
	s, store := newTestService()
	sub := seedSubscription(t, store, types.StatusActive)
	if _, err := s.Grant(context.Background(), "user-1", sub.ID, []string{"analytics"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	logger := logging.NewNoopLogger()
	mux := chi.NewMux()
	NewAPI(s, tracing.NewNoopTracer(), monitoring.NewNoopMonitor("license-service", logger), logger).RegisterEndpoints(mux)

	tests := []struct {
		name     string
		path     string
		expected bool
	}{
		{name: "granted", path: "/api/v0/users/user-1/features/analytics", expected: true},
		{name: "not granted", path: "/api/v0/users/user-1/features/sso", expected: false},
		{name: "other user", path: "/api/v0/users/user-2/features/analytics", expected: false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, test.path, nil)
			w := httptest.NewRecorder()

			mux.ServeHTTP(w, req)

			if w.Code != http.StatusOK {
				t.Fatalf("expected status 200, got %d", w.Code)
			}

			var resp struct {
				Data FeatureAccess `json:"data"`
			}
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if resp.Data.HasAccess != test.expected {
				t.Errorf("expected has_access %v, got %v", test.expected, resp.Data.HasAccess)
			}
		})
	}
}
