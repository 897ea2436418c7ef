// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package authorization

import (
	"context"
	"errors"
	"slices"
	"testing"

	fga "github.com/openfga/go-sdk"
	"github.com/openfga/go-sdk/client"
	"go.uber.org/mock/gomock"

	"github.com/canonical/license-service/internal/logging"
	"github.com/canonical/license-service/internal/monitoring"
	"github.com/canonical/license-service/internal/openfga"
	"github.com/canonical/license-service/internal/tracing"
	"github.com/canonical/license-service/pkg/authentication"
)

//go:generate mockgen -build_flags=--mod=mod -package authorization -destination ./mock_interfaces.go . AuthzClientInterface

func newTestAuthorizer(c AuthzClientInterface) *Authorizer {
	logger := logging.NewNoopLogger()
	return NewAuthorizer(c, tracing.NewNoopTracer(), monitoring.NewNoopMonitor("license-service", logger), logger)
}

func TestAuthorizer_Check(t *testing.T) {
	contextualTuples := []openfga.Tuple{*openfga.NewTuple("user:789", "admin", "organization:456")}

	testCases := []struct {
		name           string
		result         bool
		err            error
		expectedResult bool
	}{
		{name: "success - allowed", result: true, expectedResult: true},
		{name: "success - not allowed", result: false, expectedResult: false},
		{name: "error - client error", err: errors.New("client error")},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)

			mockClient := NewMockAuthzClientInterface(ctrl)
			mockClient.EXPECT().Check(gomock.Any(), "user:123", "can_manage", "organization:456", contextualTuples[0]).Return(tc.result, tc.err)

			result, err := newTestAuthorizer(mockClient).Check(context.Background(), "user:123", "can_manage", "organization:456", contextualTuples...)

			if !errors.Is(err, tc.err) {
				t.Errorf("expected error %v, got %v", tc.err, err)
			}
			if result != tc.expectedResult {
				t.Errorf("expected result %v, got %v", tc.expectedResult, result)
			}
		})
	}
}

func TestAuthorizer_CanManageOrganization(t *testing.T) {
	testCases := []struct {
		name       string
		userID     string
		setupMocks func(*MockAuthzClientInterface)
		expected   bool
		expectErr  bool
	}{
		{
			name:       "anonymous caller",
			userID:     "",
			setupMocks: func(*MockAuthzClientInterface) {},
			expected:   false,
		},
		{
			name:   "administrator",
			userID: "alice",
			setupMocks: func(m *MockAuthzClientInterface) {
				m.EXPECT().Check(gomock.Any(), "user:alice", CAN_MANAGE_PERMISSION, "organization:org-1").Return(true, nil)
			},
			expected: true,
		},
		{
			name:   "other user",
			userID: "mallory",
			setupMocks: func(m *MockAuthzClientInterface) {
				m.EXPECT().Check(gomock.Any(), "user:mallory", CAN_MANAGE_PERMISSION, "organization:org-1").Return(false, nil)
			},
			expected: false,
		},
		{
			name:   "check failure",
			userID: "alice",
			setupMocks: func(m *MockAuthzClientInterface) {
				m.EXPECT().Check(gomock.Any(), "user:alice", CAN_MANAGE_PERMISSION, "organization:org-1").Return(false, errors.New("unavailable"))
			},
			expectErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)

			mockClient := NewMockAuthzClientInterface(ctrl)
			tc.setupMocks(mockClient)

			ctx := context.Background()
			if tc.userID != "" {
				ctx = authentication.WithUserID(ctx, tc.userID)
			}

			ok, err := newTestAuthorizer(mockClient).CanManageOrganization(ctx, "org-1")

			if (err != nil) != tc.expectErr {
				t.Fatalf("unexpected error: %v", err)
			}
			if ok != tc.expected {
				t.Fatalf("expected %v, got %v", tc.expected, ok)
			}
		})
	}
}

func TestAuthorizer_AdminTuples(t *testing.T) {
	ctrl := gomock.NewController(t)

	mockClient := NewMockAuthzClientInterface(ctrl)
	mockClient.EXPECT().WriteTuple(gomock.Any(), "user:alice", ADMIN_RELATION, "organization:org-1").Return(nil)
	mockClient.EXPECT().DeleteTuple(gomock.Any(), "user:alice", ADMIN_RELATION, "organization:org-1").Return(nil)

	a := newTestAuthorizer(mockClient)

	if err := a.AssignOrganizationAdmin(context.Background(), "org-1", "alice"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := a.RemoveOrganizationAdmin(context.Background(), "org-1", "alice"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestAuthorizer_ListOrganizationAdmins(t *testing.T) {
	ctrl := gomock.NewController(t)

	page := func(token string, users ...string) *client.ClientReadResponse {
		r := new(client.ClientReadResponse)
		r.ContinuationToken = token
		for _, u := range users {
			r.Tuples = append(r.Tuples, fga.Tuple{Key: fga.TupleKey{User: u, Relation: ADMIN_RELATION, Object: "organization:org-1"}})
		}
		return r
	}

	mockClient := NewMockAuthzClientInterface(ctrl)
	gomock.InOrder(
		mockClient.EXPECT().ReadTuples(gomock.Any(), "", ADMIN_RELATION, "organization:org-1", "").Return(page("next", "user:alice"), nil),
		mockClient.EXPECT().ReadTuples(gomock.Any(), "", ADMIN_RELATION, "organization:org-1", "next").Return(page("", "user:bob"), nil),
	)

	admins, err := newTestAuthorizer(mockClient).ListOrganizationAdmins(context.Background(), "org-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !slices.Equal(admins, []string{"alice", "bob"}) {
		t.Fatalf("unexpected admins %v", admins)
	}
}

func TestAuthorizer_ListManagedOrganizations(t *testing.T) {
	ctrl := gomock.NewController(t)

	mockClient := NewMockAuthzClientInterface(ctrl)
	mockClient.EXPECT().ListObjects(gomock.Any(), "user:alice", CAN_MANAGE_PERMISSION, "organization").Return([]string{"organization:org-1", "organization:org-2"}, nil)

	orgs, err := newTestAuthorizer(mockClient).ListManagedOrganizations(context.Background(), "alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !slices.Equal(orgs, []string{"org-1", "org-2"}) {
		t.Fatalf("unexpected organizations %v", orgs)
	}
}

func TestAuthorizer_ValidateModel(t *testing.T) {
	testCases := []struct {
		name     string
		equal    bool
		err      error
		expected error
	}{
		{name: "matching model", equal: true},
		{name: "outdated model", equal: false, expected: ErrInvalidAuthModel},
		{name: "read failure", err: errors.New("unavailable")},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)

			mockClient := NewMockAuthzClientInterface(ctrl)
			mockClient.EXPECT().CompareModel(gomock.Any(), gomock.Any()).Return(tc.equal, tc.err)

			err := newTestAuthorizer(mockClient).ValidateModel(context.Background())

			expected := tc.expected
			if tc.err != nil {
				expected = tc.err
			}
			if !errors.Is(err, expected) {
				t.Fatalf("expected %v, got %v", expected, err)
			}
		})
	}
}

func TestAuthorizationModelProvider(t *testing.T) {
	model := NewAuthorizationModelProvider("v0").GetModel()

	if model.SchemaVersion != "1.1" {
		t.Fatalf("expected schema 1.1, got %s", model.SchemaVersion)
	}

	var types []string
	for _, td := range model.TypeDefinitions {
		types = append(types, td.Type)
	}
	if !slices.Equal(types, []string{"user", "organization"}) {
		t.Fatalf("unexpected types %v", types)
	}

	if _, err := NewAuthorizationModelProvider("v9").parse(); err == nil {
		t.Fatal("expected an unknown version to fail")
	}
}
