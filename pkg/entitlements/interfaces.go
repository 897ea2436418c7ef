// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package entitlements

import (
	"context"
	"time"

	"github.com/canonical/license-service/internal/types"
)

type ServiceInterface interface {
	Grant(ctx context.Context, userID, subscriptionID string, featureKeys []string) (int, error)
	Revoke(ctx context.Context, userID, subscriptionID string, featureKeys []string, reason string) (int, error)
	RevokeAll(ctx context.Context, userID, subscriptionID, reason string) (int, error)
	DiffAndApply(ctx context.Context, userID, subscriptionID string, oldFeatures, newFeatures []string) (*Diff, error)
	HasFeature(ctx context.Context, userID, featureKey string) (bool, error)
	ListActive(ctx context.Context, userID string) ([]*types.Entitlement, error)
}

// StorageInterface is the subset of internal/storage used by the entitlements package.
type StorageInterface interface {
	GrantEntitlement(ctx context.Context, userID, subscriptionID, featureKey string) (bool, error)
	RevokeEntitlements(ctx context.Context, userID, subscriptionID string, featureKeys []string, reason string, at time.Time) (int, error)
	ListActiveEntitlementsByUser(ctx context.Context, userID string) ([]*types.Entitlement, error)

	GetSubscription(ctx context.Context, id string) (*types.OrganizationSubscription, error)
}
