// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package organizations

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/canonical/license-service/internal/kratos"
	"github.com/canonical/license-service/internal/logging"
	"github.com/canonical/license-service/internal/monitoring"
	"github.com/canonical/license-service/internal/tracing"
	"github.com/canonical/license-service/pkg/authentication"
)

func TestAPI_Admins(t *testing.T) {
	tests := []struct {
		name     string
		method   string
		path     string
		body     string
		userID   string
		expected int
	}{
		{name: "list", method: http.MethodGet, path: "/api/v0/organizations/org-1/admins", userID: "alice", expected: http.StatusOK},
		{name: "list forbidden", method: http.MethodGet, path: "/api/v0/organizations/org-1/admins", userID: "mallory", expected: http.StatusForbidden},
		{name: "add", method: http.MethodPost, path: "/api/v0/organizations/org-1/admins", body: `{"user_id":"bob"}`, userID: "alice", expected: http.StatusCreated},
		{name: "add without user", method: http.MethodPost, path: "/api/v0/organizations/org-1/admins", body: `{}`, userID: "alice", expected: http.StatusUnprocessableEntity},
		{name: "add forbidden", method: http.MethodPost, path: "/api/v0/organizations/org-1/admins", body: `{"user_id":"mallory"}`, userID: "mallory", expected: http.StatusForbidden},
		{name: "remove last", method: http.MethodDelete, path: "/api/v0/organizations/org-1/admins/alice", userID: "alice", expected: http.StatusConflict},
		{name: "mine", method: http.MethodGet, path: "/api/v0/me/organizations", userID: "alice", expected: http.StatusOK},
		{name: "mine anonymous", method: http.MethodGet, path: "/api/v0/me/organizations", expected: http.StatusUnauthorized},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			logger := logging.NewNoopLogger()
			authz := &fakeAuthorizer{admins: map[string][]string{"org-1": {"alice"}}}

			mux := chi.NewMux()
			NewAPI(
				newTestService(authz, kratos.NewNoopClient()),
				authz,
				tracing.NewNoopTracer(),
				monitoring.NewNoopMonitor("license-service", logger),
				logger,
			).RegisterEndpoints(mux)

			r := httptest.NewRequest(test.method, test.path, strings.NewReader(test.body))
			if test.userID != "" {
				r = r.WithContext(authentication.WithUserID(r.Context(), test.userID))
			}

			w := httptest.NewRecorder()
			mux.ServeHTTP(w, r)

			if w.Code != test.expected {
				t.Fatalf("expected status %d, got %d: %s", test.expected, w.Code, w.Body.String())
			}
		})
	}
}
