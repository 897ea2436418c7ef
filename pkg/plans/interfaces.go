// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package plans

import (
	"context"
	"time"

	"github.com/canonical/license-service/internal/types"
	"github.com/canonical/license-service/pkg/entitlements"
)

type ServiceInterface interface {
	Upgrade(ctx context.Context, subscriptionID, newPlanID string) (*UpgradeResult, error)
	Downgrade(ctx context.Context, subscriptionID, newPlanID string) (*types.OrganizationSubscription, error)
	ProcessPendingDowngrade(ctx context.Context, subscriptionID string, now time.Time) (bool, error)
	CancelPendingChange(ctx context.Context, subscriptionID string) (*types.OrganizationSubscription, error)
	ChangeSeatCount(ctx context.Context, subscriptionID string, newCount int) (*SeatChangeResult, error)
	ListPlans(ctx context.Context) ([]*types.Plan, error)
	GetPlan(ctx context.Context, planID string) (*types.Plan, error)
	GetSubscription(ctx context.Context, subscriptionID string) (*types.OrganizationSubscription, error)
}

// StorageInterface is the subset of internal/storage used by the plans package.
type StorageInterface interface {
	WithTx(ctx context.Context, fn func(context.Context) error) error

	GetPlan(ctx context.Context, id string) (*types.Plan, error)
	ListPlans(ctx context.Context) ([]*types.Plan, error)

	GetSubscription(ctx context.Context, id string) (*types.OrganizationSubscription, error)
	GetSubscriptionForUpdate(ctx context.Context, id string) (*types.OrganizationSubscription, error)
	UpdateSubscription(ctx context.Context, sub *types.OrganizationSubscription) error

	ListPools(ctx context.Context, subscriptionID string) ([]*types.LicensePool, error)
	ListAssignments(ctx context.Context, subscriptionID string, status types.AssignmentStatus) ([]*types.LicenseAssignment, error)
}

type EntitlementsInterface interface {
	DiffAndApply(ctx context.Context, userID, subscriptionID string, oldFeatures, newFeatures []string) (*entitlements.Diff, error)
}

// AuthorizerInterface decides whether the caller of a request may manage an organization.
type AuthorizerInterface interface {
	CanManageOrganization(ctx context.Context, organizationID string) (bool, error)
}
