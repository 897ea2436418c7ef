// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/canonical/license-service/internal/types"
)

var subscriptionColumns = []string{
	"id",
	"organization_id",
	"plan_id",
	"total_seats",
	"assigned_seats",
	"status",
	"billing_cycle",
	"start_date",
	"end_date",
	"auto_renew",
	"price_per_seat",
	"discount_percentage",
	"final_amount",
	"pending_plan_id",
	"pending_plan_effective_at",
	"payment_attempts",
	"grace_period_end",
	"gateway_order_id",
	"gateway_subscription_id",
	"payment_id",
	"activated_at",
	"last_payment_error",
	"suspended_at",
	"suspension_reason",
	"cancelled_at",
	"cancellation_reason",
	"created_at",
	"updated_at",
}

func scanSubscription(row rowScanner) (*types.OrganizationSubscription, error) {
	var (
		sub           types.OrganizationSubscription
		pendingPlanID sql.NullString
		pendingAt     sql.NullTime
	)

	if err := row.Scan(
		&sub.ID,
		&sub.OrganizationID,
		&sub.PlanID,
		&sub.TotalSeats,
		&sub.AssignedSeats,
		&sub.Status,
		&sub.BillingCycle,
		&sub.StartDate,
		&sub.EndDate,
		&sub.AutoRenew,
		&sub.PricePerSeat,
		&sub.DiscountPercentage,
		&sub.FinalAmount,
		&pendingPlanID,
		&pendingAt,
		&sub.PaymentAttempts,
		&sub.GracePeriodEnd,
		&sub.GatewayOrderID,
		&sub.GatewaySubscriptionID,
		&sub.PaymentID,
		&sub.ActivatedAt,
		&sub.LastPaymentError,
		&sub.SuspendedAt,
		&sub.SuspensionReason,
		&sub.CancelledAt,
		&sub.CancellationReason,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if pendingPlanID.Valid && pendingAt.Valid {
		sub.PendingPlanChange = &types.PendingPlanChange{
			NewPlanID:     pendingPlanID.String,
			EffectiveDate: pendingAt.Time,
		}
	}

	return &sub, nil
}

func pendingColumns(sub *types.OrganizationSubscription) (any, any) {
	if sub.PendingPlanChange == nil {
		return nil, nil
	}
	return sub.PendingPlanChange.NewPlanID, sub.PendingPlanChange.EffectiveDate
}

func (s *Storage) CreateSubscription(ctx context.Context, sub *types.OrganizationSubscription) (*types.OrganizationSubscription, error) {
	ctx, span := s.tracer.Start(ctx, "storage.CreateSubscription")
	defer span.End()

	id, err := newID()
	if err != nil {
		return nil, err
	}

	pendingPlan, pendingAt := pendingColumns(sub)

	created, err := scanSubscription(
		s.db.Statement(ctx).
			Insert("organization_subscriptions").
			Columns(
				"id", "organization_id", "plan_id", "total_seats", "assigned_seats", "status",
				"billing_cycle", "start_date", "end_date", "auto_renew", "price_per_seat",
				"discount_percentage", "final_amount", "pending_plan_id", "pending_plan_effective_at",
				"gateway_order_id", "gateway_subscription_id",
			).
			Values(
				id, sub.OrganizationID, sub.PlanID, sub.TotalSeats, sub.AssignedSeats, sub.Status,
				sub.BillingCycle, sub.StartDate, sub.EndDate, sub.AutoRenew, sub.PricePerSeat,
				sub.DiscountPercentage, sub.FinalAmount, pendingPlan, pendingAt,
				sub.GatewayOrderID, sub.GatewaySubscriptionID,
			).
			Suffix("RETURNING "+joinColumns(subscriptionColumns)).
			QueryRowContext(ctx),
	)
	if err != nil {
		if IsForeignKeyViolation(err) {
			return nil, WrapForeignKeyError(err, "unknown plan")
		}
		return nil, fmt.Errorf("failed to insert subscription: %w", err)
	}

	return created, nil
}

func (s *Storage) GetSubscription(ctx context.Context, id string) (*types.OrganizationSubscription, error) {
	ctx, span := s.tracer.Start(ctx, "storage.GetSubscription")
	defer span.End()

	if !isUUID(id) {
		return nil, ErrNotFound
	}

	return s.getSubscription(ctx, sq.Eq{"id": id}, "")
}

func (s *Storage) GetSubscriptionForUpdate(ctx context.Context, id string) (*types.OrganizationSubscription, error) {
	ctx, span := s.tracer.Start(ctx, "storage.GetSubscriptionForUpdate")
	defer span.End()

	if !isUUID(id) {
		return nil, ErrNotFound
	}

	return s.getSubscription(ctx, sq.Eq{"id": id}, "FOR UPDATE")
}

// FindSubscriptionByGatewayRef resolves a gateway order or subscription id.
func (s *Storage) FindSubscriptionByGatewayRef(ctx context.Context, ref string) (*types.OrganizationSubscription, error) {
	ctx, span := s.tracer.Start(ctx, "storage.FindSubscriptionByGatewayRef")
	defer span.End()

	if ref == "" {
		return nil, ErrNotFound
	}

	return s.getSubscription(ctx, sq.Or{sq.Eq{"gateway_order_id": ref}, sq.Eq{"gateway_subscription_id": ref}}, "FOR UPDATE")
}

func (s *Storage) getSubscription(ctx context.Context, where sq.Sqlizer, suffix string) (*types.OrganizationSubscription, error) {
	query := s.db.Statement(ctx).
		Select(subscriptionColumns...).
		From("organization_subscriptions").
		Where(where).
		Limit(1)

	if suffix != "" {
		query = query.Suffix(suffix)
	}

	sub, err := scanSubscription(query.QueryRowContext(ctx))
	if err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}

	return sub, nil
}

func (s *Storage) ListSubscriptionsByOrganization(ctx context.Context, organizationID string) ([]*types.OrganizationSubscription, error) {
	ctx, span := s.tracer.Start(ctx, "storage.ListSubscriptionsByOrganization")
	defer span.End()

	return s.listSubscriptions(ctx, sq.Eq{"organization_id": organizationID})
}

func (s *Storage) ListSweepCandidates(ctx context.Context, now time.Time) ([]*types.OrganizationSubscription, error) {
	ctx, span := s.tracer.Start(ctx, "storage.ListSweepCandidates")
	defer span.End()

	return s.listSubscriptions(ctx, sq.Or{
		sq.And{sq.Eq{"status": types.StatusActive}, sq.Lt{"end_date": now}, sq.Eq{"auto_renew": false}},
		sq.And{sq.Eq{"status": types.StatusGracePeriod}, sq.Lt{"grace_period_end": now}},
		sq.And{sq.Eq{"status": types.StatusCancelled}, sq.Lt{"end_date": now}},
		sq.And{sq.NotEq{"pending_plan_id": nil}, sq.LtOrEq{"pending_plan_effective_at": now}},
	})
}

func (s *Storage) listSubscriptions(ctx context.Context, where sq.Sqlizer) ([]*types.OrganizationSubscription, error) {
	rows, err := s.db.Statement(ctx).
		Select(subscriptionColumns...).
		From("organization_subscriptions").
		Where(where).
		OrderBy("created_at ASC").
		QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []*types.OrganizationSubscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		subs = append(subs, sub)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating subscription rows: %w", err)
	}

	return subs, nil
}

func (s *Storage) UpdateSubscription(ctx context.Context, sub *types.OrganizationSubscription) error {
	ctx, span := s.tracer.Start(ctx, "storage.UpdateSubscription")
	defer span.End()

	pendingPlan, pendingAt := pendingColumns(sub)

	res, err := s.db.Statement(ctx).
		Update("organization_subscriptions").
		SetMap(map[string]any{
			"plan_id":                   sub.PlanID,
			"total_seats":               sub.TotalSeats,
			"status":                    sub.Status,
			"billing_cycle":             sub.BillingCycle,
			"start_date":                sub.StartDate,
			"end_date":                  sub.EndDate,
			"auto_renew":                sub.AutoRenew,
			"price_per_seat":            sub.PricePerSeat,
			"discount_percentage":       sub.DiscountPercentage,
			"final_amount":              sub.FinalAmount,
			"pending_plan_id":           pendingPlan,
			"pending_plan_effective_at": pendingAt,
			"payment_attempts":          sub.PaymentAttempts,
			"grace_period_end":          nullTime(sub.GracePeriodEnd),
			"gateway_order_id":          sub.GatewayOrderID,
			"gateway_subscription_id":   sub.GatewaySubscriptionID,
			"payment_id":                sub.PaymentID,
			"activated_at":              nullTime(sub.ActivatedAt),
			"last_payment_error":        sub.LastPaymentError,
			"suspended_at":              nullTime(sub.SuspendedAt),
			"suspension_reason":         sub.SuspensionReason,
			"cancelled_at":              nullTime(sub.CancelledAt),
			"cancellation_reason":       sub.CancellationReason,
			"updated_at":                sq.Expr("NOW()"),
		}).
		Where(sq.Eq{"id": sub.ID}).
		ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}

	if err := expectOne(res, "update subscription"); err != nil {
		if errors.Is(err, ErrConditionFailed) {
			return ErrNotFound
		}
		return err
	}

	return nil
}

func (s *Storage) AdjustAssignedSeats(ctx context.Context, subscriptionID string, delta int) error {
	ctx, span := s.tracer.Start(ctx, "storage.AdjustAssignedSeats")
	defer span.End()

	res, err := s.db.Statement(ctx).
		Update("organization_subscriptions").
		Set("assigned_seats", sq.Expr("assigned_seats + ?", delta)).
		Set("updated_at", sq.Expr("NOW()")).
		Where(sq.Eq{"id": subscriptionID}).
		Where(sq.Expr("assigned_seats + ? BETWEEN 0 AND total_seats", delta)).
		ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to adjust assigned seats: %w", err)
	}

	return expectOne(res, "adjust assigned seats")
}
