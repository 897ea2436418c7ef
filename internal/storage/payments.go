// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package storage

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/shopspring/decimal"

	"github.com/canonical/license-service/internal/types"
)

var paymentColumns = []string{
	"id",
	"subscription_id",
	"gateway_payment_id",
	"gateway_order_id",
	"amount",
	"status",
	"type",
	"refund_amount",
	"refund_status",
	"captured_at",
	"refunded_at",
}

func scanPayment(row rowScanner) (*types.Payment, error) {
	var p types.Payment
	if err := row.Scan(
		&p.ID,
		&p.SubscriptionID,
		&p.GatewayPaymentID,
		&p.GatewayOrderID,
		&p.Amount,
		&p.Status,
		&p.Type,
		&p.RefundAmount,
		&p.RefundStatus,
		&p.CapturedAt,
		&p.RefundedAt,
	); err != nil {
		return nil, err
	}
	return &p, nil
}

// CreatePayment returns ErrDuplicateKey when the gateway payment was already recorded for the same type.
func (s *Storage) CreatePayment(ctx context.Context, p *types.Payment) (*types.Payment, error) {
	ctx, span := s.tracer.Start(ctx, "storage.CreatePayment")
	defer span.End()

	id, err := newID()
	if err != nil {
		return nil, err
	}

	refundStatus := p.RefundStatus
	if refundStatus == "" {
		refundStatus = types.RefundNone
	}

	created, err := scanPayment(
		s.db.Statement(ctx).
			Insert("payments").
			Columns("id", "subscription_id", "gateway_payment_id", "gateway_order_id", "amount", "status", "type", "refund_amount", "refund_status", "captured_at").
			Values(id, p.SubscriptionID, p.GatewayPaymentID, p.GatewayOrderID, p.Amount, p.Status, p.Type, p.RefundAmount, refundStatus, nullTime(p.CapturedAt)).
			Suffix("RETURNING "+joinColumns(paymentColumns)).
			QueryRowContext(ctx),
	)
	if err != nil {
		if IsDuplicateKeyError(err) {
			return nil, WrapDuplicateKeyError(err, "payment already recorded")
		}
		return nil, fmt.Errorf("failed to insert payment: %w", err)
	}

	return created, nil
}

// GetPaymentByGatewayID returns the most recent payment row for the gateway id.
func (s *Storage) GetPaymentByGatewayID(ctx context.Context, gatewayPaymentID string) (*types.Payment, error) {
	ctx, span := s.tracer.Start(ctx, "storage.GetPaymentByGatewayID")
	defer span.End()

	p, err := scanPayment(
		s.db.Statement(ctx).
			Select(paymentColumns...).
			From("payments").
			Where(sq.Eq{"gateway_payment_id": gatewayPaymentID}).
			OrderBy("id DESC").
			Limit(1).
			Suffix("FOR UPDATE").
			QueryRowContext(ctx),
	)
	if err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}

	return p, nil
}

func (s *Storage) UpdatePaymentRefund(ctx context.Context, id string, amount decimal.Decimal, status types.RefundStatus, at time.Time) error {
	ctx, span := s.tracer.Start(ctx, "storage.UpdatePaymentRefund")
	defer span.End()

	res, err := s.db.Statement(ctx).
		Update("payments").
		Set("refund_amount", amount).
		Set("refund_status", status).
		Set("refunded_at", at).
		Where(sq.Eq{"id": id}).
		ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to update payment refund: %w", err)
	}

	return expectOne(res, "update payment refund")
}
