// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package subscriptions

import (
	"context"
	"time"

	"github.com/canonical/license-service/internal/types"
)

type ServiceInterface interface {
	Create(ctx context.Context, req CreateRequest) (*types.OrganizationSubscription, error)
	Activate(ctx context.Context, subscriptionID, paymentID string) (*types.OrganizationSubscription, error)
	RecordPaymentFailure(ctx context.Context, subscriptionID, reason string) (*types.OrganizationSubscription, error)
	FlagPaymentPending(ctx context.Context, subscriptionID, reason string) (*types.OrganizationSubscription, error)
	Renew(ctx context.Context, subscriptionID, paymentID string) (*types.OrganizationSubscription, error)
	Cancel(ctx context.Context, subscriptionID string, immediate bool, reason string) (*types.OrganizationSubscription, error)
	ProcessFullRefund(ctx context.Context, subscriptionID string) (*types.OrganizationSubscription, error)
	Sweep(ctx context.Context, now time.Time) (*SweepResult, error)
	HasAccess(ctx context.Context, subscriptionID string) (bool, error)
	Get(ctx context.Context, subscriptionID string) (*types.OrganizationSubscription, error)
	FindByGatewayRef(ctx context.Context, ref string) (*types.OrganizationSubscription, error)
	ListByOrganization(ctx context.Context, organizationID string) ([]*types.OrganizationSubscription, error)
}

// StorageInterface is the subset of internal/storage used by the subscriptions package.
type StorageInterface interface {
	WithTx(ctx context.Context, fn func(context.Context) error) error

	GetPlan(ctx context.Context, id string) (*types.Plan, error)

	CreateSubscription(ctx context.Context, sub *types.OrganizationSubscription) (*types.OrganizationSubscription, error)
	GetSubscription(ctx context.Context, id string) (*types.OrganizationSubscription, error)
	GetSubscriptionForUpdate(ctx context.Context, id string) (*types.OrganizationSubscription, error)
	FindSubscriptionByGatewayRef(ctx context.Context, ref string) (*types.OrganizationSubscription, error)
	ListSubscriptionsByOrganization(ctx context.Context, organizationID string) ([]*types.OrganizationSubscription, error)
	ListSweepCandidates(ctx context.Context, now time.Time) ([]*types.OrganizationSubscription, error)
	UpdateSubscription(ctx context.Context, sub *types.OrganizationSubscription) error
	AdjustAssignedSeats(ctx context.Context, subscriptionID string, delta int) error

	CreatePool(ctx context.Context, pool *types.LicensePool) (*types.LicensePool, error)
	ListPools(ctx context.Context, subscriptionID string) ([]*types.LicensePool, error)
	AdjustPoolSeats(ctx context.Context, poolID string, delta int) error

	ExpireAssignments(ctx context.Context, subscriptionID string, at time.Time) ([]*types.LicenseAssignment, error)
}

type EntitlementsInterface interface {
	RevokeAll(ctx context.Context, userID, subscriptionID, reason string) (int, error)
}

// DowngradeProcessorInterface applies a due pending plan change.
type DowngradeProcessorInterface interface {
	ProcessPendingDowngrade(ctx context.Context, subscriptionID string, now time.Time) (bool, error)
}

// InvitationExpirerInterface flips overdue pending invitations to expired.
type InvitationExpirerInterface interface {
	ExpireStale(ctx context.Context, now time.Time) (int, error)
}

// AuthorizerInterface decides whether the caller of a request may manage an organization
// and records new organization administrators.
type AuthorizerInterface interface {
	CanManageOrganization(ctx context.Context, organizationID string) (bool, error)
	AssignOrganizationAdmin(ctx context.Context, organizationID, userID string) error
}
