// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package kratos

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/canonical/license-service/internal/logging"
	"github.com/canonical/license-service/internal/monitoring"
	"github.com/canonical/license-service/internal/tracing"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		switch r.URL.Path {
		case "/admin/identities/known":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"id":         "known",
				"schema_id":  "default",
				"schema_url": "http://kratos/schemas/default",
				"traits":     map[string]any{"email": "teacher@test.com"},
			})
		case "/admin/identities/broken":
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"code": 500, "message": "boom"}})
		default:
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"code": 404, "message": "not found"}})
		}
	}))
	t.Cleanup(srv.Close)

	logger := logging.NewNoopLogger()
	return NewClient(srv.URL, tracing.NewNoopTracer(), monitoring.NewNoopMonitor("license-service", logger), logger)
}

func TestClient_IdentityExists(t *testing.T) {
	c := newTestClient(t)

	tests := []struct {
		name        string
		id          string
		expected    bool
		expectedErr bool
	}{
		{name: "known identity", id: "known", expected: true},
		{name: "unknown identity", id: "unknown", expected: false},
		{name: "kratos failure", id: "broken", expectedErr: true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			ok, err := c.IdentityExists(context.Background(), test.id)

			if test.expectedErr != (err != nil) {
				t.Fatalf("expected error %v, got %v", test.expectedErr, err)
			}
			if ok != test.expected {
				t.Errorf("expected %v, got %v", test.expected, ok)
			}
		})
	}
}

func TestClient_GetIdentityEmail(t *testing.T) {
	c := newTestClient(t)

	email, err := c.GetIdentityEmail(context.Background(), "known")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if email != "teacher@test.com" {
		t.Errorf("expected teacher@test.com, got %s", email)
	}
}
