// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package storage

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/canonical/license-service/internal/types"
)

var entitlementColumns = []string{
	"id",
	"user_id",
	"feature_key",
	"granted_by_organization",
	"organization_subscription_id",
	"is_active",
	"revoked_at",
	"revocation_reason",
}

func scanEntitlement(row rowScanner) (*types.Entitlement, error) {
	var e types.Entitlement
	if err := row.Scan(
		&e.ID,
		&e.UserID,
		&e.FeatureKey,
		&e.GrantedByOrganization,
		&e.OrganizationSubscriptionID,
		&e.IsActive,
		&e.RevokedAt,
		&e.RevocationReason,
	); err != nil {
		return nil, err
	}
	return &e, nil
}

// GrantEntitlement is a no-op for a row that is already active.
func (s *Storage) GrantEntitlement(ctx context.Context, userID, subscriptionID, featureKey string) (bool, error) {
	ctx, span := s.tracer.Start(ctx, "storage.GrantEntitlement")
	defer span.End()

	id, err := newID()
	if err != nil {
		return false, err
	}

	res, err := s.db.Statement(ctx).
		Insert("entitlements").
		Columns("id", "user_id", "feature_key", "granted_by_organization", "organization_subscription_id", "is_active").
		Values(id, userID, featureKey, true, subscriptionID, true).
		Suffix(`ON CONFLICT (user_id, organization_subscription_id, feature_key) DO UPDATE SET
			is_active = TRUE,
			revoked_at = NULL,
			revocation_reason = ''
			WHERE entitlements.is_active = FALSE`).
		ExecContext(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to grant entitlement: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check rows affected: %w", err)
	}

	return n > 0, nil
}

func (s *Storage) RevokeEntitlements(ctx context.Context, userID, subscriptionID string, featureKeys []string, reason string, at time.Time) (int, error) {
	ctx, span := s.tracer.Start(ctx, "storage.RevokeEntitlements")
	defer span.End()

	if featureKeys != nil && len(featureKeys) == 0 {
		return 0, nil
	}

	where := sq.Eq{
		"user_id":                      userID,
		"organization_subscription_id": subscriptionID,
		"is_active":                    true,
	}
	if featureKeys != nil {
		where["feature_key"] = featureKeys
	}

	return s.revokeEntitlements(ctx, where, reason, at)
}

func (s *Storage) RevokeSubscriptionEntitlements(ctx context.Context, subscriptionID, reason string, at time.Time) (int, error) {
	ctx, span := s.tracer.Start(ctx, "storage.RevokeSubscriptionEntitlements")
	defer span.End()

	return s.revokeEntitlements(ctx, sq.Eq{"organization_subscription_id": subscriptionID, "is_active": true}, reason, at)
}

func (s *Storage) revokeEntitlements(ctx context.Context, where sq.Eq, reason string, at time.Time) (int, error) {
	res, err := s.db.Statement(ctx).
		Update("entitlements").
		Set("is_active", false).
		Set("revoked_at", at).
		Set("revocation_reason", reason).
		Where(where).
		ExecContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to revoke entitlements: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to check rows affected: %w", err)
	}

	return int(n), nil
}

func (s *Storage) ListEntitlements(ctx context.Context, userID, subscriptionID string) ([]*types.Entitlement, error) {
	ctx, span := s.tracer.Start(ctx, "storage.ListEntitlements")
	defer span.End()

	return s.listEntitlements(ctx, sq.Eq{"user_id": userID, "organization_subscription_id": subscriptionID})
}

func (s *Storage) ListActiveEntitlementsByUser(ctx context.Context, userID string) ([]*types.Entitlement, error) {
	ctx, span := s.tracer.Start(ctx, "storage.ListActiveEntitlementsByUser")
	defer span.End()

	return s.listEntitlements(ctx, sq.Eq{"user_id": userID, "is_active": true})
}

func (s *Storage) listEntitlements(ctx context.Context, where sq.Eq) ([]*types.Entitlement, error) {
	rows, err := s.db.Statement(ctx).
		Select(entitlementColumns...).
		From("entitlements").
		Where(where).
		OrderBy("feature_key ASC").
		QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list entitlements: %w", err)
	}
	defer rows.Close()

	var entitlements []*types.Entitlement
	for rows.Next() {
		e, err := scanEntitlement(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entitlement: %w", err)
		}
		entitlements = append(entitlements, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating entitlement rows: %w", err)
	}

	return entitlements, nil
}
