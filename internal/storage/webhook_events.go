// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package storage

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/canonical/license-service/internal/types"
)

var webhookEventColumns = []string{
	"id",
	"COALESCE(gateway_event_id, '')",
	"event_type",
	"subscription_id",
	"outcome",
	"error_message",
	"processing_ms",
	"received_at",
}

func scanWebhookEvent(row rowScanner) (*types.WebhookEvent, error) {
	var e types.WebhookEvent
	if err := row.Scan(
		&e.ID,
		&e.GatewayEventID,
		&e.EventType,
		&e.SubscriptionID,
		&e.Outcome,
		&e.ErrorMessage,
		&e.ProcessingMS,
		&e.ReceivedAt,
	); err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *Storage) CreateWebhookEvent(ctx context.Context, e *types.WebhookEvent) (*types.WebhookEvent, error) {
	ctx, span := s.tracer.Start(ctx, "storage.CreateWebhookEvent")
	defer span.End()

	id, err := newID()
	if err != nil {
		return nil, err
	}

	created, err := scanWebhookEvent(
		s.db.Statement(ctx).
			Insert("webhook_events").
			Columns("id", "gateway_event_id", "event_type", "subscription_id", "outcome", "error_message", "processing_ms", "received_at").
			Values(id, nullString(e.GatewayEventID), e.EventType, e.SubscriptionID, e.Outcome, e.ErrorMessage, e.ProcessingMS, e.ReceivedAt).
			Suffix("RETURNING "+joinColumns(webhookEventColumns)).
			QueryRowContext(ctx),
	)
	if err != nil {
		if IsDuplicateKeyError(err) {
			return nil, WrapDuplicateKeyError(err, "webhook event already recorded")
		}
		return nil, fmt.Errorf("failed to insert webhook event: %w", err)
	}

	return created, nil
}

// ListWebhookEvents returns the newest events first, optionally filtered by subscription.
func (s *Storage) ListWebhookEvents(ctx context.Context, subscriptionID string, limit uint64) ([]*types.WebhookEvent, error) {
	ctx, span := s.tracer.Start(ctx, "storage.ListWebhookEvents")
	defer span.End()

	query := s.db.Statement(ctx).
		Select(webhookEventColumns...).
		From("webhook_events").
		OrderBy("received_at DESC").
		Limit(limit)

	if subscriptionID != "" {
		query = query.Where(sq.Eq{"subscription_id": subscriptionID})
	}

	rows, err := query.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list webhook events: %w", err)
	}
	defer rows.Close()

	var events []*types.WebhookEvent
	for rows.Next() {
		e, err := scanWebhookEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan webhook event: %w", err)
		}
		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating webhook event rows: %w", err)
	}

	return events, nil
}
