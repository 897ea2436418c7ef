// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package organizations

import "context"

type ServiceInterface interface {
	ListAdmins(ctx context.Context, organizationID string) ([]string, error)
	AddAdmin(ctx context.Context, organizationID, userID string) error
	RemoveAdmin(ctx context.Context, organizationID, userID string) error
	ListManaged(ctx context.Context, userID string) ([]string, error)
}

// AuthorizerInterface is the organization relation store.
type AuthorizerInterface interface {
	CanManageOrganization(ctx context.Context, organizationID string) (bool, error)
	AssignOrganizationAdmin(ctx context.Context, organizationID, userID string) error
	RemoveOrganizationAdmin(ctx context.Context, organizationID, userID string) error
	ListOrganizationAdmins(ctx context.Context, organizationID string) ([]string, error)
	ListManagedOrganizations(ctx context.Context, userID string) ([]string, error)
}

// IdentityVerifierInterface checks that a user id belongs to a known identity.
type IdentityVerifierInterface interface {
	IdentityExists(ctx context.Context, userID string) (bool, error)
}
