// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package invitations

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/canonical/license-service/internal/logging"
	"github.com/canonical/license-service/internal/monitoring"
	"github.com/canonical/license-service/internal/storage"
	"github.com/canonical/license-service/internal/tracing"
	"github.com/canonical/license-service/internal/types"
	"github.com/canonical/license-service/pkg/bulk"
)

type SendRequest struct {
	OrganizationID string `json:"-"`
	Email          string `json:"email" validate:"required"`
	MemberType     string `json:"member_type" validate:"required"`
	AutoAssign     bool   `json:"auto_assign_subscription"`
	PoolID         string `json:"target_license_pool_id"`
	InvitedBy      string `json:"-"`
}

type BulkSendRequest struct {
	OrganizationID string   `json:"-"`
	Emails         []string `json:"emails" validate:"required,min=1"`
	MemberType     string   `json:"member_type" validate:"required"`
	AutoAssign     bool     `json:"auto_assign_subscription"`
	PoolID         string   `json:"target_license_pool_id"`
	InvitedBy      string   `json:"-"`
}

type AcceptResult struct {
	Invitation *types.Invitation        `json:"invitation"`
	Assignment *types.LicenseAssignment `json:"assigned_license"`
}

type Service struct {
	storage  StorageInterface
	licenses LicensesInterface

	runner      *bulk.Runner
	maxBulkSize int
	expiry      time.Duration

	validate *validator.Validate
	now      func() time.Time

	tracer  tracing.TracingInterface
	monitor monitoring.MonitorInterface
	logger  logging.LoggerInterface
}

// Send issues a pending invitation with a fresh token.
// Only one pending invitation may exist per normalized email within an organization.
func (s *Service) Send(ctx context.Context, req SendRequest) (*types.Invitation, error) {
	ctx, span := s.tracer.Start(ctx, "invitations.Service.Send")
	defer span.End()

	email := NormalizeEmail(req.Email)
	if err := s.validate.Var(email, "required,email"); err != nil {
		return nil, fmt.Errorf("%w: invalid email %q", types.ErrValidation, req.Email)
	}

	if req.OrganizationID == "" || req.MemberType == "" {
		return nil, fmt.Errorf("%w: organization and member type are required", types.ErrValidation)
	}

	if req.AutoAssign && req.PoolID == "" {
		return nil, fmt.Errorf("%w: auto assignment needs a target license pool", types.ErrValidation)
	}

	if req.PoolID != "" {
		pool, err := s.storage.GetPool(ctx, req.PoolID)
		if errors.Is(err, storage.ErrNotFound) || (err == nil && pool.OrganizationID != req.OrganizationID) {
			return nil, fmt.Errorf("%w: %s", types.ErrPoolNotFound, req.PoolID)
		}
		if err != nil {
			return nil, err
		}
	}

	token, err := NewToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate invitation token: %w", err)
	}

	inv, err := s.storage.CreateInvitation(
		ctx,
		&types.Invitation{
			OrganizationID:         req.OrganizationID,
			Email:                  email,
			MemberType:             req.MemberType,
			Token:                  token,
			Status:                 types.InvitationPending,
			AutoAssignSubscription: req.AutoAssign,
			TargetLicensePoolID:    req.PoolID,
			InvitedBy:              req.InvitedBy,
			ExpiresAt:              s.now().Add(s.expiry),
		},
	)
	if errors.Is(err, storage.ErrDuplicateKey) {
		return nil, fmt.Errorf("%w: %s", types.ErrDuplicatePending, email)
	}
	if errors.Is(err, storage.ErrForeignKeyViolation) {
		return nil, fmt.Errorf("%w: %s", types.ErrPoolNotFound, req.PoolID)
	}
	if err != nil {
		return nil, err
	}

	return inv, nil
}

// BulkSend sends one invitation per email. Invalid or duplicate emails land in Failed.
func (s *Service) BulkSend(ctx context.Context, req BulkSendRequest) (*bulk.Result[*types.Invitation], error) {
	ctx, span := s.tracer.Start(ctx, "invitations.Service.BulkSend")
	defer span.End()

	if len(req.Emails) > s.maxBulkSize {
		return nil, fmt.Errorf("%w: %d emails, at most %d", types.ErrBatchTooLarge, len(req.Emails), s.maxBulkSize)
	}

	result := bulk.Run(
		ctx,
		s.runner,
		req.Emails,
		func(email string) string { return email },
		func(ctx context.Context, email string) (*types.Invitation, error) {
			return s.Send(
				ctx,
				SendRequest{
					OrganizationID: req.OrganizationID,
					Email:          email,
					MemberType:     req.MemberType,
					AutoAssign:     req.AutoAssign,
					PoolID:         req.PoolID,
					InvitedBy:      req.InvitedBy,
				},
			)
		},
	)

	return result, nil
}

// Accept marks the invitation accepted by userID and, when requested, assigns a license
// from the target pool in the same transaction. An overdue invitation is flipped to
// expired and that change is kept even though the call fails.
func (s *Service) Accept(ctx context.Context, token, userID string) (*AcceptResult, error) {
	ctx, span := s.tracer.Start(ctx, "invitations.Service.Accept")
	defer span.End()

	if token == "" {
		return nil, types.ErrInvalidToken
	}
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", types.ErrValidation)
	}

	result := new(AcceptResult)
	expired := false

	err := s.storage.WithTx(ctx, func(ctx context.Context) error {
		inv, err := s.storage.GetInvitationByToken(ctx, token)
		if errors.Is(err, storage.ErrNotFound) {
			return types.ErrInvalidToken
		}
		if err != nil {
			return err
		}

		switch inv.Status {
		case types.InvitationPending:
		case types.InvitationExpired:
			return fmt.Errorf("%w: %s", types.ErrInvitationExpired, inv.ID)
		default:
			return fmt.Errorf("%w: %s is %s", types.ErrNotPending, inv.ID, inv.Status)
		}

		now := s.now()

		// valid strictly before expires_at
		if !now.Before(inv.ExpiresAt) {
			inv.Status = types.InvitationExpired
			if err := s.updateStatus(ctx, inv); err != nil {
				return err
			}
			expired = true
			result.Invitation = inv
			return nil
		}

		inv.Status = types.InvitationAccepted
		inv.AcceptedAt = &now
		inv.AcceptedBy = userID
		if err := s.updateStatus(ctx, inv); err != nil {
			return err
		}
		result.Invitation = inv

		if !inv.AutoAssignSubscription || inv.TargetLicensePoolID == "" {
			return nil
		}

		result.Assignment, err = s.licenses.Assign(ctx, inv.TargetLicensePoolID, userID, inv.InvitedBy)
		return err
	})
	if err != nil {
		return nil, err
	}

	if expired {
		return nil, fmt.Errorf("%w: %s", types.ErrInvitationExpired, result.Invitation.ID)
	}

	return result, nil
}

// Resend rotates the token and pushes the expiry back. The old token stops working
// in the same statement that activates the new one.
func (s *Service) Resend(ctx context.Context, invitationID string) (*types.Invitation, error) {
	ctx, span := s.tracer.Start(ctx, "invitations.Service.Resend")
	defer span.End()

	token, err := NewToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate invitation token: %w", err)
	}

	var inv *types.Invitation
	err = s.storage.WithTx(ctx, func(ctx context.Context) error {
		current, err := s.get(ctx, invitationID)
		if err != nil {
			return err
		}

		if current.Status != types.InvitationPending {
			return fmt.Errorf("%w: %s is %s", types.ErrNotPending, current.ID, current.Status)
		}

		if err := s.storage.RotateInvitationToken(ctx, current.ID, token, s.now().Add(s.expiry)); err != nil {
			if errors.Is(err, storage.ErrConditionFailed) {
				return fmt.Errorf("%w: %s", types.ErrNotPending, current.ID)
			}
			return err
		}

		inv, err = s.get(ctx, current.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	return inv, nil
}

func (s *Service) Cancel(ctx context.Context, invitationID string) (*types.Invitation, error) {
	ctx, span := s.tracer.Start(ctx, "invitations.Service.Cancel")
	defer span.End()

	inv, err := s.get(ctx, invitationID)
	if err != nil {
		return nil, err
	}

	if inv.Status != types.InvitationPending {
		return nil, fmt.Errorf("%w: %s is %s", types.ErrNotPending, inv.ID, inv.Status)
	}

	inv.Status = types.InvitationCancelled
	if err := s.updateStatus(ctx, inv); err != nil {
		return nil, err
	}

	return inv, nil
}

func (s *Service) Get(ctx context.Context, invitationID string) (*types.Invitation, error) {
	ctx, span := s.tracer.Start(ctx, "invitations.Service.Get")
	defer span.End()

	return s.get(ctx, invitationID)
}

func (s *Service) List(ctx context.Context, organizationID string) ([]*types.Invitation, error) {
	ctx, span := s.tracer.Start(ctx, "invitations.Service.List")
	defer span.End()

	return s.storage.ListInvitations(ctx, organizationID)
}

// Stats counts the invitations of an organization by status.
// The acceptance rate only considers resolved invitations.
func (s *Service) Stats(ctx context.Context, organizationID string) (*types.InvitationStats, error) {
	ctx, span := s.tracer.Start(ctx, "invitations.Service.Stats")
	defer span.End()

	counts, err := s.storage.CountInvitationsByStatus(ctx, organizationID)
	if err != nil {
		return nil, err
	}

	stats := &types.InvitationStats{
		Pending:   counts[types.InvitationPending],
		Accepted:  counts[types.InvitationAccepted],
		Expired:   counts[types.InvitationExpired],
		Cancelled: counts[types.InvitationCancelled],
	}
	stats.Total = stats.Pending + stats.Accepted + stats.Expired + stats.Cancelled

	if resolved := stats.Accepted + stats.Expired + stats.Cancelled; resolved > 0 {
		stats.AcceptanceRate = int(math.Round(float64(stats.Accepted) / float64(resolved) * 100))
	}

	return stats, nil
}

// ExpireStale flips every pending invitation whose expiry is not after now.
func (s *Service) ExpireStale(ctx context.Context, now time.Time) (int, error) {
	ctx, span := s.tracer.Start(ctx, "invitations.Service.ExpireStale")
	defer span.End()

	n, err := s.storage.ExpireStaleInvitations(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("failed to expire invitations: %w", err)
	}

	if n > 0 {
		s.logger.Infof("expired %d stale invitations", n)
	}

	return n, nil
}

func (s *Service) get(ctx context.Context, invitationID string) (*types.Invitation, error) {
	inv, err := s.storage.GetInvitation(ctx, invitationID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", types.ErrInvitationNotFound, invitationID)
	}
	return inv, err
}

func (s *Service) updateStatus(ctx context.Context, inv *types.Invitation) error {
	err := s.storage.UpdateInvitationStatus(ctx, inv)
	if errors.Is(err, storage.ErrConditionFailed) {
		return fmt.Errorf("%w: %s", types.ErrNotPending, inv.ID)
	}
	return err
}

func NewService(
	storage StorageInterface,
	licenses LicensesInterface,
	runner *bulk.Runner,
	maxBulkSize int,
	expiryDays int,
	tracer tracing.TracingInterface,
	monitor monitoring.MonitorInterface,
	logger logging.LoggerInterface,
) *Service {
	s := new(Service)

	s.storage = storage
	s.licenses = licenses
	s.runner = runner
	s.maxBulkSize = maxBulkSize
	s.expiry = time.Duration(expiryDays) * 24 * time.Hour

	s.validate = validator.New()
	s.now = time.Now

	s.tracer = tracer
	s.monitor = monitor
	s.logger = logger

	return s
}
