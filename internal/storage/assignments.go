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

var assignmentColumns = []string{
	"id",
	"license_pool_id",
	"organization_subscription_id",
	"user_id",
	"member_type",
	"status",
	"assigned_at",
	"assigned_by",
	"revoked_at",
	"revocation_reason",
	"transferred_from",
	"transferred_to",
}

func scanAssignment(row rowScanner) (*types.LicenseAssignment, error) {
	var a types.LicenseAssignment
	if err := row.Scan(
		&a.ID,
		&a.LicensePoolID,
		&a.OrganizationSubscriptionID,
		&a.UserID,
		&a.MemberType,
		&a.Status,
		&a.AssignedAt,
		&a.AssignedBy,
		&a.RevokedAt,
		&a.RevocationReason,
		&a.TransferredFrom,
		&a.TransferredTo,
	); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Storage) CreateAssignment(ctx context.Context, a *types.LicenseAssignment) (*types.LicenseAssignment, error) {
	ctx, span := s.tracer.Start(ctx, "storage.CreateAssignment")
	defer span.End()

	id, err := newID()
	if err != nil {
		return nil, err
	}

	created, err := scanAssignment(
		s.db.Statement(ctx).
			Insert("license_assignments").
			Columns("id", "license_pool_id", "organization_subscription_id", "user_id", "member_type", "status", "assigned_at", "assigned_by", "transferred_from").
			Values(id, a.LicensePoolID, a.OrganizationSubscriptionID, a.UserID, a.MemberType, a.Status, a.AssignedAt, a.AssignedBy, a.TransferredFrom).
			Suffix("RETURNING "+joinColumns(assignmentColumns)).
			QueryRowContext(ctx),
	)
	if err != nil {
		if IsDuplicateKeyError(err) {
			return nil, WrapDuplicateKeyError(err, "active assignment exists")
		}
		return nil, fmt.Errorf("failed to insert assignment: %w", err)
	}

	return created, nil
}

func (s *Storage) GetAssignment(ctx context.Context, id string) (*types.LicenseAssignment, error) {
	ctx, span := s.tracer.Start(ctx, "storage.GetAssignment")
	defer span.End()

	if !isUUID(id) {
		return nil, ErrNotFound
	}

	return s.getAssignment(ctx, sq.Eq{"id": id})
}

func (s *Storage) GetActiveAssignment(ctx context.Context, subscriptionID, userID string) (*types.LicenseAssignment, error) {
	ctx, span := s.tracer.Start(ctx, "storage.GetActiveAssignment")
	defer span.End()

	if !isUUID(subscriptionID) {
		return nil, ErrNotFound
	}

	return s.getAssignment(ctx, sq.Eq{
		"organization_subscription_id": subscriptionID,
		"user_id":                      userID,
		"status":                       types.AssignmentActive,
	})
}

func (s *Storage) getAssignment(ctx context.Context, where sq.Eq) (*types.LicenseAssignment, error) {
	a, err := scanAssignment(
		s.db.Statement(ctx).
			Select(assignmentColumns...).
			From("license_assignments").
			Where(where).
			QueryRowContext(ctx),
	)
	if err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get assignment: %w", err)
	}

	return a, nil
}

// ListAssignments filters by status unless it is empty.
func (s *Storage) ListAssignments(ctx context.Context, subscriptionID string, status types.AssignmentStatus) ([]*types.LicenseAssignment, error) {
	ctx, span := s.tracer.Start(ctx, "storage.ListAssignments")
	defer span.End()

	if !isUUID(subscriptionID) {
		return nil, nil
	}

	where := sq.Eq{"organization_subscription_id": subscriptionID}
	if status != "" {
		where["status"] = status
	}

	rows, err := s.db.Statement(ctx).
		Select(assignmentColumns...).
		From("license_assignments").
		Where(where).
		OrderBy("assigned_at ASC").
		QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list assignments: %w", err)
	}
	defer rows.Close()

	return collectAssignments(rows)
}

func collectAssignments(rows interface {
	rowScanner
	Next() bool
	Err() error
}) ([]*types.LicenseAssignment, error) {
	var assignments []*types.LicenseAssignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan assignment: %w", err)
		}
		assignments = append(assignments, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating assignment rows: %w", err)
	}

	return assignments, nil
}

func (s *Storage) CloseAssignment(ctx context.Context, a *types.LicenseAssignment) error {
	ctx, span := s.tracer.Start(ctx, "storage.CloseAssignment")
	defer span.End()

	res, err := s.db.Statement(ctx).
		Update("license_assignments").
		Set("status", a.Status).
		Set("revoked_at", nullTime(a.RevokedAt)).
		Set("revocation_reason", a.RevocationReason).
		Set("transferred_to", a.TransferredTo).
		Where(sq.Eq{"id": a.ID, "status": types.AssignmentActive}).
		ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to close assignment: %w", err)
	}

	return expectOne(res, "close assignment")
}

func (s *Storage) ExpireAssignments(ctx context.Context, subscriptionID string, at time.Time) ([]*types.LicenseAssignment, error) {
	ctx, span := s.tracer.Start(ctx, "storage.ExpireAssignments")
	defer span.End()

	rows, err := s.db.Statement(ctx).
		Update("license_assignments").
		Set("status", types.AssignmentExpired).
		Set("revoked_at", at).
		Set("revocation_reason", "subscription expired").
		Where(sq.Eq{"organization_subscription_id": subscriptionID, "status": types.AssignmentActive}).
		Suffix("RETURNING "+joinColumns(assignmentColumns)).
		QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to expire assignments: %w", err)
	}
	defer rows.Close()

	return collectAssignments(rows)
}
