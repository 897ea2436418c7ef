// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package storage

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/canonical/license-service/internal/types"
)

// TxManagerInterface runs fn in a single transaction. Nested calls join the outer one.
type TxManagerInterface interface {
	WithTx(ctx context.Context, fn func(context.Context) error) error
}

type PlanStorageInterface interface {
	GetPlan(ctx context.Context, id string) (*types.Plan, error)
	ListPlans(ctx context.Context) ([]*types.Plan, error)
	UpsertPlan(ctx context.Context, p *types.Plan) error
}

type SubscriptionStorageInterface interface {
	CreateSubscription(ctx context.Context, sub *types.OrganizationSubscription) (*types.OrganizationSubscription, error)
	GetSubscription(ctx context.Context, id string) (*types.OrganizationSubscription, error)
	// GetSubscriptionForUpdate locks the row until the surrounding transaction ends.
	GetSubscriptionForUpdate(ctx context.Context, id string) (*types.OrganizationSubscription, error)
	FindSubscriptionByGatewayRef(ctx context.Context, ref string) (*types.OrganizationSubscription, error)
	ListSubscriptionsByOrganization(ctx context.Context, organizationID string) ([]*types.OrganizationSubscription, error)
	// ListSweepCandidates returns subscriptions with a time based transition or a pending plan change due at now.
	ListSweepCandidates(ctx context.Context, now time.Time) ([]*types.OrganizationSubscription, error)
	// UpdateSubscription writes every mutable column except assigned_seats.
	UpdateSubscription(ctx context.Context, sub *types.OrganizationSubscription) error
	// AdjustAssignedSeats adds delta to assigned_seats if the result stays within [0, total_seats].
	AdjustAssignedSeats(ctx context.Context, subscriptionID string, delta int) error
}

type PoolStorageInterface interface {
	CreatePool(ctx context.Context, pool *types.LicensePool) (*types.LicensePool, error)
	GetPool(ctx context.Context, id string) (*types.LicensePool, error)
	ListPools(ctx context.Context, subscriptionID string) ([]*types.LicensePool, error)
	// ResizePool sets allocated_seats if it does not drop below assigned_seats.
	ResizePool(ctx context.Context, poolID string, allocated int) error
	// AdjustPoolSeats moves delta seats from available to assigned if neither goes negative.
	AdjustPoolSeats(ctx context.Context, poolID string, delta int) error
}

type AssignmentStorageInterface interface {
	CreateAssignment(ctx context.Context, a *types.LicenseAssignment) (*types.LicenseAssignment, error)
	GetAssignment(ctx context.Context, id string) (*types.LicenseAssignment, error)
	GetActiveAssignment(ctx context.Context, subscriptionID, userID string) (*types.LicenseAssignment, error)
	ListAssignments(ctx context.Context, subscriptionID string, status types.AssignmentStatus) ([]*types.LicenseAssignment, error)
	// CloseAssignment moves an active assignment to a.Status, recording the revocation fields.
	CloseAssignment(ctx context.Context, a *types.LicenseAssignment) error
	// ExpireAssignments closes every active assignment of the subscription and returns them.
	ExpireAssignments(ctx context.Context, subscriptionID string, at time.Time) ([]*types.LicenseAssignment, error)
}

type EntitlementStorageInterface interface {
	// GrantEntitlement inserts or reactivates a row and reports whether anything changed.
	GrantEntitlement(ctx context.Context, userID, subscriptionID, featureKey string) (bool, error)
	// RevokeEntitlements deactivates the given features, or every feature when featureKeys is nil.
	RevokeEntitlements(ctx context.Context, userID, subscriptionID string, featureKeys []string, reason string, at time.Time) (int, error)
	RevokeSubscriptionEntitlements(ctx context.Context, subscriptionID, reason string, at time.Time) (int, error)
	ListEntitlements(ctx context.Context, userID, subscriptionID string) ([]*types.Entitlement, error)
	ListActiveEntitlementsByUser(ctx context.Context, userID string) ([]*types.Entitlement, error)
}

type InvitationStorageInterface interface {
	CreateInvitation(ctx context.Context, inv *types.Invitation) (*types.Invitation, error)
	GetInvitation(ctx context.Context, id string) (*types.Invitation, error)
	GetInvitationByToken(ctx context.Context, token string) (*types.Invitation, error)
	ListInvitations(ctx context.Context, organizationID string) ([]*types.Invitation, error)
	// UpdateInvitationStatus moves a pending invitation to inv.Status.
	UpdateInvitationStatus(ctx context.Context, inv *types.Invitation) error
	// RotateInvitationToken replaces token and expiry of a pending invitation in one statement.
	RotateInvitationToken(ctx context.Context, id, token string, expiresAt time.Time) error
	CountInvitationsByStatus(ctx context.Context, organizationID string) (map[types.InvitationStatus]int, error)
	ExpireStaleInvitations(ctx context.Context, now time.Time) (int, error)
}

type PaymentStorageInterface interface {
	CreatePayment(ctx context.Context, p *types.Payment) (*types.Payment, error)
	GetPaymentByGatewayID(ctx context.Context, gatewayPaymentID string) (*types.Payment, error)
	UpdatePaymentRefund(ctx context.Context, id string, amount decimal.Decimal, status types.RefundStatus, at time.Time) error
}

type WebhookEventStorageInterface interface {
	// CreateWebhookEvent returns ErrDuplicateKey when the gateway event id was already recorded.
	CreateWebhookEvent(ctx context.Context, e *types.WebhookEvent) (*types.WebhookEvent, error)
	ListWebhookEvents(ctx context.Context, subscriptionID string, limit uint64) ([]*types.WebhookEvent, error)
}

type StorageInterface interface {
	TxManagerInterface
	PlanStorageInterface
	SubscriptionStorageInterface
	PoolStorageInterface
	AssignmentStorageInterface
	EntitlementStorageInterface
	InvitationStorageInterface
	PaymentStorageInterface
	WebhookEventStorageInterface
}
