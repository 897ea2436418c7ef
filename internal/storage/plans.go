// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package storage

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/canonical/license-service/internal/types"
)

var planColumns = []string{"id", "name", "tier", "monthly_price_per_seat", "annual_price_per_seat", "features"}

// scanPlan decodes the features array through m. A pgtype.Map caches codec
// plans without locking, so each query brings its own.
func scanPlan(row rowScanner, m *pgtype.Map) (*types.Plan, error) {
	var p types.Plan
	if err := row.Scan(
		&p.ID,
		&p.Name,
		&p.Tier,
		&p.MonthlyPricePerSeat,
		&p.AnnualPricePerSeat,
		m.SQLScanner(&p.Features),
	); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Storage) GetPlan(ctx context.Context, id string) (*types.Plan, error) {
	ctx, span := s.tracer.Start(ctx, "storage.GetPlan")
	defer span.End()

	p, err := scanPlan(
		s.db.Statement(ctx).
			Select(planColumns...).
			From("plans").
			Where(sq.Eq{"id": id}).
			QueryRowContext(ctx),
		pgtype.NewMap(),
	)
	if err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get plan: %w", err)
	}

	return p, nil
}

func (s *Storage) ListPlans(ctx context.Context) ([]*types.Plan, error) {
	ctx, span := s.tracer.Start(ctx, "storage.ListPlans")
	defer span.End()

	rows, err := s.db.Statement(ctx).
		Select(planColumns...).
		From("plans").
		OrderBy("tier ASC").
		QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}
	defer rows.Close()

	m := pgtype.NewMap()

	var plans []*types.Plan
	for rows.Next() {
		p, err := scanPlan(rows, m)
		if err != nil {
			return nil, fmt.Errorf("failed to scan plan: %w", err)
		}
		plans = append(plans, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating plan rows: %w", err)
	}

	return plans, nil
}

func (s *Storage) UpsertPlan(ctx context.Context, p *types.Plan) error {
	ctx, span := s.tracer.Start(ctx, "storage.UpsertPlan")
	defer span.End()

	_, err := s.db.Statement(ctx).
		Insert("plans").
		Columns(planColumns...).
		Values(p.ID, p.Name, p.Tier, p.MonthlyPricePerSeat, p.AnnualPricePerSeat, p.Features).
		Suffix(`ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			tier = EXCLUDED.tier,
			monthly_price_per_seat = EXCLUDED.monthly_price_per_seat,
			annual_price_per_seat = EXCLUDED.annual_price_per_seat,
			features = EXCLUDED.features`).
		ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to upsert plan: %w", err)
	}

	return nil
}
