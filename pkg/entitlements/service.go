// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package entitlements

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/canonical/license-service/internal/logging"
	"github.com/canonical/license-service/internal/monitoring"
	"github.com/canonical/license-service/internal/storage"
	"github.com/canonical/license-service/internal/tracing"
	"github.com/canonical/license-service/internal/types"
)

// Diff is the outcome of moving a user from one feature set to another.
type Diff struct {
	Added   []string `json:"added"`
	Removed []string `json:"removed"`
	// Granted and Revoked count rows that actually changed.
	Granted int `json:"granted"`
	Revoked int `json:"revoked"`
}

// Compare returns the features only present in newFeatures and the ones only present in oldFeatures.
func Compare(oldFeatures, newFeatures []string) (added, removed []string) {
	for _, f := range newFeatures {
		if !slices.Contains(oldFeatures, f) && !slices.Contains(added, f) {
			added = append(added, f)
		}
	}
	for _, f := range oldFeatures {
		if !slices.Contains(newFeatures, f) && !slices.Contains(removed, f) {
			removed = append(removed, f)
		}
	}
	return added, removed
}

type Service struct {
	storage StorageInterface

	now func() time.Time

	tracer  tracing.TracingInterface
	monitor monitoring.MonitorInterface
	logger  logging.LoggerInterface
}

// Grant activates one entitlement per feature. Already active features are left untouched.
func (s *Service) Grant(ctx context.Context, userID, subscriptionID string, featureKeys []string) (int, error) {
	ctx, span := s.tracer.Start(ctx, "entitlements.Service.Grant")
	defer span.End()

	granted := 0
	for _, feature := range featureKeys {
		changed, err := s.storage.GrantEntitlement(ctx, userID, subscriptionID, feature)
		if err != nil {
			return granted, fmt.Errorf("failed to grant %s to %s: %w", feature, userID, err)
		}
		if changed {
			granted++
		}
	}

	return granted, nil
}

// Revoke deactivates the given features for the user on the subscription.
func (s *Service) Revoke(ctx context.Context, userID, subscriptionID string, featureKeys []string, reason string) (int, error) {
	ctx, span := s.tracer.Start(ctx, "entitlements.Service.Revoke")
	defer span.End()

	if len(featureKeys) == 0 {
		return 0, nil
	}

	n, err := s.storage.RevokeEntitlements(ctx, userID, subscriptionID, featureKeys, reason, s.now())
	if err != nil {
		return 0, fmt.Errorf("failed to revoke entitlements of %s: %w", userID, err)
	}
	return n, nil
}

func (s *Service) RevokeAll(ctx context.Context, userID, subscriptionID, reason string) (int, error) {
	ctx, span := s.tracer.Start(ctx, "entitlements.Service.RevokeAll")
	defer span.End()

	n, err := s.storage.RevokeEntitlements(ctx, userID, subscriptionID, nil, reason, s.now())
	if err != nil {
		return 0, fmt.Errorf("failed to revoke entitlements of %s: %w", userID, err)
	}

	s.logger.Debugf("revoked %d entitlements of user %s on subscription %s", n, userID, subscriptionID)

	return n, nil
}

// DiffAndApply grants newFeatures - oldFeatures and revokes oldFeatures - newFeatures.
// Applying the same sets twice changes nothing the second time.
func (s *Service) DiffAndApply(ctx context.Context, userID, subscriptionID string, oldFeatures, newFeatures []string) (*Diff, error) {
	ctx, span := s.tracer.Start(ctx, "entitlements.Service.DiffAndApply")
	defer span.End()

	d := new(Diff)
	d.Added, d.Removed = Compare(oldFeatures, newFeatures)

	granted, err := s.Grant(ctx, userID, subscriptionID, d.Added)
	if err != nil {
		return nil, err
	}
	d.Granted = granted

	revoked, err := s.Revoke(ctx, userID, subscriptionID, d.Removed, "plan changed")
	if err != nil {
		return nil, err
	}
	d.Revoked = revoked

	return d, nil
}

// HasFeature reports whether one of the user's active entitlements for featureKey
// comes from a subscription that currently grants access.
func (s *Service) HasFeature(ctx context.Context, userID, featureKey string) (bool, error) {
	ctx, span := s.tracer.Start(ctx, "entitlements.Service.HasFeature")
	defer span.End()

	active, err := s.ListActive(ctx, userID)
	if err != nil {
		return false, err
	}

	for _, e := range active {
		if e.FeatureKey == featureKey {
			return true, nil
		}
	}
	return false, nil
}

// ListActive returns the active entitlements of the user whose subscription grants access.
// Rows of suspended, lapsed or cancelled subscriptions stay active in storage so that a
// recovered subscription restores them, but they are not usable.
func (s *Service) ListActive(ctx context.Context, userID string) ([]*types.Entitlement, error) {
	ctx, span := s.tracer.Start(ctx, "entitlements.Service.ListActive")
	defer span.End()

	rows, err := s.storage.ListActiveEntitlementsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list entitlements of %s: %w", userID, err)
	}

	now := s.now()
	access := make(map[string]bool)

	var usable []*types.Entitlement
	for _, e := range rows {
		ok, seen := access[e.OrganizationSubscriptionID]
		if !seen {
			if ok, err = s.subscriptionGrantsAccess(ctx, e.OrganizationSubscriptionID, now); err != nil {
				return nil, err
			}
			access[e.OrganizationSubscriptionID] = ok
		}

		if ok {
			usable = append(usable, e)
		}
	}

	return usable, nil
}

func (s *Service) subscriptionGrantsAccess(ctx context.Context, subscriptionID string, now time.Time) (bool, error) {
	sub, err := s.storage.GetSubscription(ctx, subscriptionID)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get subscription %s: %w", subscriptionID, err)
	}

	return types.HasAccess(sub, now), nil
}

func NewService(storage StorageInterface, tracer tracing.TracingInterface, monitor monitoring.MonitorInterface, logger logging.LoggerInterface) *Service {
	s := new(Service)

	s.storage = storage
	s.now = time.Now

	s.tracer = tracer
	s.monitor = monitor
	s.logger = logger

	return s
}
