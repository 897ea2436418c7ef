// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package invitations

import (
	"context"
	"time"

	"github.com/canonical/license-service/internal/types"
	"github.com/canonical/license-service/pkg/bulk"
)

type ServiceInterface interface {
	Send(ctx context.Context, req SendRequest) (*types.Invitation, error)
	BulkSend(ctx context.Context, req BulkSendRequest) (*bulk.Result[*types.Invitation], error)
	Accept(ctx context.Context, token, userID string) (*AcceptResult, error)
	Resend(ctx context.Context, invitationID string) (*types.Invitation, error)
	Cancel(ctx context.Context, invitationID string) (*types.Invitation, error)
	Get(ctx context.Context, invitationID string) (*types.Invitation, error)
	List(ctx context.Context, organizationID string) ([]*types.Invitation, error)
	Stats(ctx context.Context, organizationID string) (*types.InvitationStats, error)
	ExpireStale(ctx context.Context, now time.Time) (int, error)
}

// StorageInterface is the subset of internal/storage used by the invitations package.
type StorageInterface interface {
	WithTx(ctx context.Context, fn func(context.Context) error) error

	GetPool(ctx context.Context, id string) (*types.LicensePool, error)

	CreateInvitation(ctx context.Context, inv *types.Invitation) (*types.Invitation, error)
	GetInvitation(ctx context.Context, id string) (*types.Invitation, error)
	GetInvitationByToken(ctx context.Context, token string) (*types.Invitation, error)
	ListInvitations(ctx context.Context, organizationID string) ([]*types.Invitation, error)
	UpdateInvitationStatus(ctx context.Context, inv *types.Invitation) error
	RotateInvitationToken(ctx context.Context, id, token string, expiresAt time.Time) error
	CountInvitationsByStatus(ctx context.Context, organizationID string) (map[types.InvitationStatus]int, error)
	ExpireStaleInvitations(ctx context.Context, now time.Time) (int, error)
}

type LicensesInterface interface {
	Assign(ctx context.Context, poolID, userID, assignedBy string) (*types.LicenseAssignment, error)
}

// AuthorizerInterface decides whether the caller of a request may manage an organization.
type AuthorizerInterface interface {
	CanManageOrganization(ctx context.Context, organizationID string) (bool, error)
}
