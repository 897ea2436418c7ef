// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package invitations

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/canonical/license-service/internal/logging"
	"github.com/canonical/license-service/internal/monitoring"
	"github.com/canonical/license-service/internal/tracing"
	"github.com/canonical/license-service/pkg/authentication"
)

type organizationAuthorizer map[string]bool

func (o organizationAuthorizer) CanManageOrganization(_ context.Context, organizationID string) (bool, error) {
	return o[organizationID], nil
}

func newTestRouter(f *fixture, authz AuthorizerInterface) *chi.Mux {
	logger := logging.NewNoopLogger()

	mux := chi.NewMux()
	NewAPI(f.service, authz, tracing.NewNoopTracer(), monitoring.NewNoopMonitor("license-service", logger), logger).RegisterEndpoints(mux)

	return mux
}

func TestAPI_SendAndAccept(t *testing.T) {
	f := newFixture(t, 5)
	mux := newTestRouter(f, organizationAuthorizer{"org-1": true})

	body := `{"email":"Alice@example.com","member_type":"student","auto_assign_subscription":true,"target_license_pool_id":"` + f.pool.ID + `"}`

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v0/organizations/org-1/invitations", strings.NewReader(body)))
	if w.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", w.Code, w.Body.String())
	}

	var sent struct {
		Data struct {
			Email string `json:"email"`
			Token string `json:"invitation_token"`
		} `json:"data"`
	}
	if err := json.NewDecoder(w.Body).Decode(&sent); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if sent.Data.Email != "alice@example.com" || sent.Data.Token == "" {
		t.Fatalf("unexpected invitation %+v", sent.Data)
	}

	accept := `{"token":"` + sent.Data.Token + `"}`

	w = httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v0/invitations/accept", strings.NewReader(accept)))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401 without a user, got %d", w.Code)
	}

	r := httptest.NewRequest(http.MethodPost, "/api/v0/invitations/accept", strings.NewReader(accept))
	r = r.WithContext(authentication.WithUserID(r.Context(), "user-alice"))

	w = httptest.NewRecorder()
	mux.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var accepted struct {
		Data struct {
			Assignment struct {
				UserID string `json:"user_id"`
			} `json:"assigned_license"`
		} `json:"data"`
	}
	if err := json.NewDecoder(w.Body).Decode(&accepted); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if accepted.Data.Assignment.UserID != "user-alice" {
		t.Errorf("expected license assigned to user-alice, got %+v", accepted.Data)
	}
}

func TestAPI_Authorization(t *testing.T) {
	f := newFixture(t, 5)
	inv := f.send(t, "alice@example.com", false)

	tests := []struct {
		name           string
		method         string
		path           string
		body           string
		expectedStatus int
	}{
		{"send", http.MethodPost, "/api/v0/organizations/org-1/invitations", `{"email":"bob@example.com","member_type":"student"}`, http.StatusForbidden},
		{"list", http.MethodGet, "/api/v0/organizations/org-1/invitations", "", http.StatusForbidden},
		{"stats", http.MethodGet, "/api/v0/organizations/org-1/invitations/stats", "", http.StatusForbidden},
		{"resend", http.MethodPost, "/api/v0/invitations/" + inv.ID + "/resend", "", http.StatusForbidden},
		{"cancel", http.MethodPost, "/api/v0/invitations/" + inv.ID + "/cancel", "", http.StatusForbidden},
		{"unknown invitation", http.MethodPost, "/api/v0/invitations/missing/cancel", "", http.StatusNotFound},
	}

	mux := newTestRouter(f, organizationAuthorizer{"org-2": true})

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, httptest.NewRequest(test.method, test.path, strings.NewReader(test.body)))

			if w.Code != test.expectedStatus {
				t.Errorf("expected status %d, got %d: %s", test.expectedStatus, w.Code, w.Body.String())
			}
		})
	}
}

func TestAPI_BulkSendTooLarge(t *testing.T) {
	f := newFixture(t, 5)
	mux := newTestRouter(f, organizationAuthorizer{"org-1": true})

	emails := make([]string, 51)
	for i := range emails {
		emails[i] = "user" + strings.Repeat("x", i) + "@example.com"
	}
	payload, _ := json.Marshal(BulkSendRequest{Emails: emails, MemberType: "student"})

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v0/organizations/org-1/invitations/bulk", strings.NewReader(string(payload))))

	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected status 422, got %d: %s", w.Code, w.Body.String())
	}
}
