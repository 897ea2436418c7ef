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

var invitationColumns = []string{
	"id",
	"organization_id",
	"email",
	"member_type",
	"invitation_token",
	"status",
	"auto_assign_subscription",
	"COALESCE(target_license_pool_id::text, '')",
	"invited_by",
	"expires_at",
	"accepted_at",
	"accepted_by",
	"created_at",
}

func scanInvitation(row rowScanner) (*types.Invitation, error) {
	var inv types.Invitation
	if err := row.Scan(
		&inv.ID,
		&inv.OrganizationID,
		&inv.Email,
		&inv.MemberType,
		&inv.Token,
		&inv.Status,
		&inv.AutoAssignSubscription,
		&inv.TargetLicensePoolID,
		&inv.InvitedBy,
		&inv.ExpiresAt,
		&inv.AcceptedAt,
		&inv.AcceptedBy,
		&inv.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &inv, nil
}

func (s *Storage) CreateInvitation(ctx context.Context, inv *types.Invitation) (*types.Invitation, error) {
	ctx, span := s.tracer.Start(ctx, "storage.CreateInvitation")
	defer span.End()

	id, err := newID()
	if err != nil {
		return nil, err
	}

	created, err := scanInvitation(
		s.db.Statement(ctx).
			Insert("invitations").
			Columns("id", "organization_id", "email", "member_type", "invitation_token", "status", "auto_assign_subscription", "target_license_pool_id", "invited_by", "expires_at").
			Values(id, inv.OrganizationID, inv.Email, inv.MemberType, inv.Token, inv.Status, inv.AutoAssignSubscription, nullString(inv.TargetLicensePoolID), inv.InvitedBy, inv.ExpiresAt).
			Suffix("RETURNING "+joinColumns(invitationColumns)).
			QueryRowContext(ctx),
	)
	if err != nil {
		if IsDuplicateKeyError(err) {
			return nil, WrapDuplicateKeyError(err, "pending invitation exists")
		}
		if IsForeignKeyViolation(err) {
			return nil, WrapForeignKeyError(err, "unknown license pool")
		}
		return nil, fmt.Errorf("failed to insert invitation: %w", err)
	}

	return created, nil
}

func (s *Storage) GetInvitation(ctx context.Context, id string) (*types.Invitation, error) {
	ctx, span := s.tracer.Start(ctx, "storage.GetInvitation")
	defer span.End()

	if !isUUID(id) {
		return nil, ErrNotFound
	}

	return s.getInvitation(ctx, sq.Eq{"id": id})
}

// GetInvitationByToken locks the row so concurrent acceptances serialize.
func (s *Storage) GetInvitationByToken(ctx context.Context, token string) (*types.Invitation, error) {
	ctx, span := s.tracer.Start(ctx, "storage.GetInvitationByToken")
	defer span.End()

	return s.getInvitation(ctx, sq.Eq{"invitation_token": token}, "FOR UPDATE")
}

func (s *Storage) getInvitation(ctx context.Context, where sq.Eq, suffix ...string) (*types.Invitation, error) {
	query := s.db.Statement(ctx).
		Select(invitationColumns...).
		From("invitations").
		Where(where)

	for _, sfx := range suffix {
		query = query.Suffix(sfx)
	}

	inv, err := scanInvitation(query.QueryRowContext(ctx))
	if err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get invitation: %w", err)
	}

	return inv, nil
}

func (s *Storage) ListInvitations(ctx context.Context, organizationID string) ([]*types.Invitation, error) {
	ctx, span := s.tracer.Start(ctx, "storage.ListInvitations")
	defer span.End()

	rows, err := s.db.Statement(ctx).
		Select(invitationColumns...).
		From("invitations").
		Where(sq.Eq{"organization_id": organizationID}).
		OrderBy("created_at DESC").
		QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list invitations: %w", err)
	}
	defer rows.Close()

	var invitations []*types.Invitation
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invitation: %w", err)
		}
		invitations = append(invitations, inv)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating invitation rows: %w", err)
	}

	return invitations, nil
}

func (s *Storage) UpdateInvitationStatus(ctx context.Context, inv *types.Invitation) error {
	ctx, span := s.tracer.Start(ctx, "storage.UpdateInvitationStatus")
	defer span.End()

	res, err := s.db.Statement(ctx).
		Update("invitations").
		Set("status", inv.Status).
		Set("accepted_at", nullTime(inv.AcceptedAt)).
		Set("accepted_by", inv.AcceptedBy).
		Where(sq.Eq{"id": inv.ID, "status": types.InvitationPending}).
		ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to update invitation: %w", err)
	}

	return expectOne(res, "update invitation")
}

func (s *Storage) RotateInvitationToken(ctx context.Context, id, token string, expiresAt time.Time) error {
	ctx, span := s.tracer.Start(ctx, "storage.RotateInvitationToken")
	defer span.End()

	res, err := s.db.Statement(ctx).
		Update("invitations").
		Set("invitation_token", token).
		Set("expires_at", expiresAt).
		Where(sq.Eq{"id": id, "status": types.InvitationPending}).
		ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to rotate invitation token: %w", err)
	}

	return expectOne(res, "rotate invitation token")
}

func (s *Storage) CountInvitationsByStatus(ctx context.Context, organizationID string) (map[types.InvitationStatus]int, error) {
	ctx, span := s.tracer.Start(ctx, "storage.CountInvitationsByStatus")
	defer span.End()

	rows, err := s.db.Statement(ctx).
		Select("status", "COUNT(*)").
		From("invitations").
		Where(sq.Eq{"organization_id": organizationID}).
		GroupBy("status").
		QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count invitations: %w", err)
	}
	defer rows.Close()

	counts := make(map[types.InvitationStatus]int)
	for rows.Next() {
		var (
			status types.InvitationStatus
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan invitation count: %w", err)
		}
		counts[status] = count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating invitation counts: %w", err)
	}

	return counts, nil
}

func (s *Storage) ExpireStaleInvitations(ctx context.Context, now time.Time) (int, error) {
	ctx, span := s.tracer.Start(ctx, "storage.ExpireStaleInvitations")
	defer span.End()

	res, err := s.db.Statement(ctx).
		Update("invitations").
		Set("status", types.InvitationExpired).
		Where(sq.Eq{"status": types.InvitationPending}).
		Where(sq.LtOrEq{"expires_at": now}).
		ExecContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to expire invitations: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to check rows affected: %w", err)
	}

	return int(n), nil
}
