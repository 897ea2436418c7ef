// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package storage

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/canonical/license-service/internal/types"
)

var poolColumns = []string{
	"id",
	"organization_subscription_id",
	"organization_id",
	"member_type",
	"allocated_seats",
	"assigned_seats",
	"available_seats",
	"created_at",
}

func scanPool(row rowScanner) (*types.LicensePool, error) {
	var p types.LicensePool
	if err := row.Scan(
		&p.ID,
		&p.OrganizationSubscriptionID,
		&p.OrganizationID,
		&p.MemberType,
		&p.AllocatedSeats,
		&p.AssignedSeats,
		&p.AvailableSeats,
		&p.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Storage) CreatePool(ctx context.Context, pool *types.LicensePool) (*types.LicensePool, error) {
	ctx, span := s.tracer.Start(ctx, "storage.CreatePool")
	defer span.End()

	id, err := newID()
	if err != nil {
		return nil, err
	}

	created, err := scanPool(
		s.db.Statement(ctx).
			Insert("license_pools").
			Columns("id", "organization_subscription_id", "organization_id", "member_type", "allocated_seats", "assigned_seats", "available_seats").
			Values(id, pool.OrganizationSubscriptionID, pool.OrganizationID, pool.MemberType, pool.AllocatedSeats, 0, pool.AllocatedSeats).
			Suffix("RETURNING "+joinColumns(poolColumns)).
			QueryRowContext(ctx),
	)
	if err != nil {
		if IsDuplicateKeyError(err) {
			return nil, WrapDuplicateKeyError(err, "pool for member type exists")
		}
		return nil, fmt.Errorf("failed to insert pool: %w", err)
	}

	return created, nil
}

func (s *Storage) GetPool(ctx context.Context, id string) (*types.LicensePool, error) {
	ctx, span := s.tracer.Start(ctx, "storage.GetPool")
	defer span.End()

	if !isUUID(id) {
		return nil, ErrNotFound
	}

	p, err := scanPool(
		s.db.Statement(ctx).
			Select(poolColumns...).
			From("license_pools").
			Where(sq.Eq{"id": id}).
			QueryRowContext(ctx),
	)
	if err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get pool: %w", err)
	}

	return p, nil
}

func (s *Storage) ListPools(ctx context.Context, subscriptionID string) ([]*types.LicensePool, error) {
	ctx, span := s.tracer.Start(ctx, "storage.ListPools")
	defer span.End()

	if !isUUID(subscriptionID) {
		return nil, nil
	}

	rows, err := s.db.Statement(ctx).
		Select(poolColumns...).
		From("license_pools").
		Where(sq.Eq{"organization_subscription_id": subscriptionID}).
		OrderBy("created_at ASC").
		QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list pools: %w", err)
	}
	defer rows.Close()

	var pools []*types.LicensePool
	for rows.Next() {
		p, err := scanPool(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pool: %w", err)
		}
		pools = append(pools, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pool rows: %w", err)
	}

	return pools, nil
}

func (s *Storage) ResizePool(ctx context.Context, poolID string, allocated int) error {
	ctx, span := s.tracer.Start(ctx, "storage.ResizePool")
	defer span.End()

	res, err := s.db.Statement(ctx).
		Update("license_pools").
		Set("allocated_seats", allocated).
		Set("available_seats", sq.Expr("? - assigned_seats", allocated)).
		Where(sq.Eq{"id": poolID}).
		Where(sq.LtOrEq{"assigned_seats": allocated}).
		ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to resize pool: %w", err)
	}

	return expectOne(res, "resize pool")
}

func (s *Storage) AdjustPoolSeats(ctx context.Context, poolID string, delta int) error {
	ctx, span := s.tracer.Start(ctx, "storage.AdjustPoolSeats")
	defer span.End()

	res, err := s.db.Statement(ctx).
		Update("license_pools").
		Set("assigned_seats", sq.Expr("assigned_seats + ?", delta)).
		Set("available_seats", sq.Expr("available_seats - ?", delta)).
		Where(sq.Eq{"id": poolID}).
		Where(sq.Expr("available_seats - ? >= 0", delta)).
		Where(sq.Expr("assigned_seats + ? >= 0", delta)).
		ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to adjust pool seats: %w", err)
	}

	return expectOne(res, "adjust pool seats")
}
