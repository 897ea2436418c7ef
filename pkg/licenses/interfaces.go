// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package licenses

import (
	"context"

	"github.com/canonical/license-service/internal/types"
	"github.com/canonical/license-service/pkg/bulk"
)

type ServiceInterface interface {
	Assign(ctx context.Context, poolID, userID, assignedBy string) (*types.LicenseAssignment, error)
	BulkAssign(ctx context.Context, poolID string, userIDs []string, assignedBy string) (*bulk.Result[*types.LicenseAssignment], error)
	Unassign(ctx context.Context, assignmentID, reason string) (*types.LicenseAssignment, error)
	BulkUnassign(ctx context.Context, assignmentIDs []string, reason string) (*BulkUnassignResult, error)
	Transfer(ctx context.Context, subscriptionID, fromUserID, toUserID, transferredBy string) (*TransferResult, error)
	AllocatePool(ctx context.Context, subscriptionID, memberType string, seats int) (*types.LicensePool, error)
	GetPool(ctx context.Context, poolID string) (*types.LicensePool, error)
	ListPools(ctx context.Context, subscriptionID string) ([]*types.LicensePool, error)
	ListAssignments(ctx context.Context, subscriptionID string, status types.AssignmentStatus) ([]*types.LicenseAssignment, error)
	GetSubscription(ctx context.Context, subscriptionID string) (*types.OrganizationSubscription, error)
	GetAssignment(ctx context.Context, assignmentID string) (*types.LicenseAssignment, error)
}

// StorageInterface is the subset of internal/storage used by the licenses package.
type StorageInterface interface {
	WithTx(ctx context.Context, fn func(context.Context) error) error

	GetPlan(ctx context.Context, id string) (*types.Plan, error)

	GetSubscription(ctx context.Context, id string) (*types.OrganizationSubscription, error)
	GetSubscriptionForUpdate(ctx context.Context, id string) (*types.OrganizationSubscription, error)
	AdjustAssignedSeats(ctx context.Context, subscriptionID string, delta int) error

	CreatePool(ctx context.Context, pool *types.LicensePool) (*types.LicensePool, error)
	GetPool(ctx context.Context, id string) (*types.LicensePool, error)
	ListPools(ctx context.Context, subscriptionID string) ([]*types.LicensePool, error)
	ResizePool(ctx context.Context, poolID string, allocated int) error
	AdjustPoolSeats(ctx context.Context, poolID string, delta int) error

	CreateAssignment(ctx context.Context, a *types.LicenseAssignment) (*types.LicenseAssignment, error)
	GetAssignment(ctx context.Context, id string) (*types.LicenseAssignment, error)
	GetActiveAssignment(ctx context.Context, subscriptionID, userID string) (*types.LicenseAssignment, error)
	ListAssignments(ctx context.Context, subscriptionID string, status types.AssignmentStatus) ([]*types.LicenseAssignment, error)
	CloseAssignment(ctx context.Context, a *types.LicenseAssignment) error
}

type EntitlementsInterface interface {
	Grant(ctx context.Context, userID, subscriptionID string, featureKeys []string) (int, error)
	RevokeAll(ctx context.Context, userID, subscriptionID, reason string) (int, error)
}

// IdentityVerifierInterface reports whether a user id is known to the identity provider.
type IdentityVerifierInterface interface {
	IdentityExists(ctx context.Context, userID string) (bool, error)
}

// AuthorizerInterface decides whether the caller of a request may manage an organization.
type AuthorizerInterface interface {
	CanManageOrganization(ctx context.Context, organizationID string) (bool, error)
}
