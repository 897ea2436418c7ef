// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package webhooks

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/canonical/license-service/internal/types"
)

type ServiceInterface interface {
	Process(ctx context.Context, eventID string, payload []byte) (*Result, error)
	ListEvents(ctx context.Context, subscriptionID string, limit uint64) ([]*types.WebhookEvent, error)
}

// StorageInterface is the subset of internal/storage used by the webhooks package.
type StorageInterface interface {
	WithTx(ctx context.Context, fn func(context.Context) error) error

	CreatePayment(ctx context.Context, p *types.Payment) (*types.Payment, error)
	GetPaymentByGatewayID(ctx context.Context, gatewayPaymentID string) (*types.Payment, error)
	UpdatePaymentRefund(ctx context.Context, id string, amount decimal.Decimal, status types.RefundStatus, at time.Time) error

	CreateWebhookEvent(ctx context.Context, e *types.WebhookEvent) (*types.WebhookEvent, error)
	ListWebhookEvents(ctx context.Context, subscriptionID string, limit uint64) ([]*types.WebhookEvent, error)
}

// SubscriptionsInterface is the lifecycle the payment events drive.
type SubscriptionsInterface interface {
	Get(ctx context.Context, subscriptionID string) (*types.OrganizationSubscription, error)
	FindByGatewayRef(ctx context.Context, ref string) (*types.OrganizationSubscription, error)
	Activate(ctx context.Context, subscriptionID, paymentID string) (*types.OrganizationSubscription, error)
	RecordPaymentFailure(ctx context.Context, subscriptionID, reason string) (*types.OrganizationSubscription, error)
	FlagPaymentPending(ctx context.Context, subscriptionID, reason string) (*types.OrganizationSubscription, error)
	Renew(ctx context.Context, subscriptionID, paymentID string) (*types.OrganizationSubscription, error)
	Cancel(ctx context.Context, subscriptionID string, immediate bool, reason string) (*types.OrganizationSubscription, error)
	ProcessFullRefund(ctx context.Context, subscriptionID string) (*types.OrganizationSubscription, error)
}

// AuthorizerInterface decides whether the caller of a request may manage an organization.
type AuthorizerInterface interface {
	CanManageOrganization(ctx context.Context, organizationID string) (bool, error)
}
