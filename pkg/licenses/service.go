// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package licenses

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/canonical/license-service/internal/logging"
	"github.com/canonical/license-service/internal/monitoring"
	"github.com/canonical/license-service/internal/storage"
	"github.com/canonical/license-service/internal/tracing"
	"github.com/canonical/license-service/internal/types"
	"github.com/canonical/license-service/pkg/bulk"
)

const (
	ReasonTransferred = "transferred"
	ReasonUnassigned  = "unassigned"
)

type BulkUnassignResult struct {
	RevokedCount int            `json:"revoked_count"`
	SkippedCount int            `json:"skipped_count"`
	Failed       []bulk.Failure `json:"failed"`
	Cancelled    bool           `json:"cancelled,omitempty"`
}

type TransferResult struct {
	OldAssignment *types.LicenseAssignment `json:"old_assignment"`
	NewAssignment *types.LicenseAssignment `json:"new_assignment"`
}

type Service struct {
	storage      StorageInterface
	entitlements EntitlementsInterface
	identities   IdentityVerifierInterface

	runner      *bulk.Runner
	maxBulkSize int

	now func() time.Time

	tracer  tracing.TracingInterface
	monitor monitoring.MonitorInterface
	logger  logging.LoggerInterface
}

// Assign binds userID to a seat of the pool and grants the plan features.
// Seat counters, the assignment row and the grants commit together.
func (s *Service) Assign(ctx context.Context, poolID, userID, assignedBy string) (*types.LicenseAssignment, error) {
	ctx, span := s.tracer.Start(ctx, "licenses.Service.Assign")
	defer span.End()

	if err := s.verifyUser(ctx, userID); err != nil {
		return nil, err
	}

	var assignment *types.LicenseAssignment
	err := s.storage.WithTx(ctx, func(ctx context.Context) error {
		pool, err := s.getPool(ctx, poolID)
		if err != nil {
			return err
		}

		assignment, err = s.assign(ctx, pool, userID, assignedBy, "")
		return err
	})
	if err != nil {
		return nil, err
	}

	return assignment, nil
}

func (s *Service) assign(ctx context.Context, pool *types.LicensePool, userID, assignedBy, transferredFrom string) (*types.LicenseAssignment, error) {
	sub, err := s.getSubscription(ctx, pool.OrganizationSubscriptionID)
	if err != nil {
		return nil, err
	}

	if !types.HasAccess(sub, s.now()) {
		return nil, fmt.Errorf("%w: %s is %s", types.ErrSubscriptionInactive, sub.ID, sub.Status)
	}

	// transfers reuse the seat freed by the source
	if transferredFrom == "" {
		if pool.AvailableSeats <= 0 {
			return nil, fmt.Errorf("%w: pool %s", types.ErrNoSeatsAvailable, pool.ID)
		}
	}

	if _, err := s.storage.GetActiveAssignment(ctx, sub.ID, userID); err == nil {
		return nil, fmt.Errorf("%w: %s", types.ErrDuplicateAssignment, userID)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	if transferredFrom == "" {
		if err := s.storage.AdjustPoolSeats(ctx, pool.ID, 1); err != nil {
			return nil, seatError(err, pool.ID)
		}
		if err := s.storage.AdjustAssignedSeats(ctx, sub.ID, 1); err != nil {
			return nil, seatError(err, pool.ID)
		}
	}

	assignment, err := s.storage.CreateAssignment(
		ctx,
		&types.LicenseAssignment{
			LicensePoolID:              pool.ID,
			OrganizationSubscriptionID: sub.ID,
			UserID:                     userID,
			MemberType:                 pool.MemberType,
			Status:                     types.AssignmentActive,
			AssignedAt:                 s.now(),
			AssignedBy:                 assignedBy,
			TransferredFrom:            transferredFrom,
		},
	)
	if errors.Is(err, storage.ErrDuplicateKey) {
		return nil, fmt.Errorf("%w: %s", types.ErrDuplicateAssignment, userID)
	}
	if err != nil {
		return nil, err
	}

	plan, err := s.storage.GetPlan(ctx, sub.PlanID)
	if err != nil {
		return nil, fmt.Errorf("failed to load plan %s: %w", sub.PlanID, err)
	}

	if _, err := s.entitlements.Grant(ctx, userID, sub.ID, plan.Features); err != nil {
		return nil, err
	}

	return assignment, nil
}

func seatError(err error, poolID string) error {
	if errors.Is(err, storage.ErrConditionFailed) {
		return fmt.Errorf("%w: pool %s", types.ErrNoSeatsAvailable, poolID)
	}
	return err
}

// BulkAssign assigns every user of the batch, one transaction per user.
// The whole batch is rejected up front when it exceeds the cap or the free seats.
func (s *Service) BulkAssign(ctx context.Context, poolID string, userIDs []string, assignedBy string) (*bulk.Result[*types.LicenseAssignment], error) {
	ctx, span := s.tracer.Start(ctx, "licenses.Service.BulkAssign")
	defer span.End()

	if len(userIDs) > s.maxBulkSize {
		return nil, fmt.Errorf("%w: %d users, at most %d", types.ErrBatchTooLarge, len(userIDs), s.maxBulkSize)
	}

	pool, err := s.getPool(ctx, poolID)
	if err != nil {
		return nil, err
	}

	if len(userIDs) > pool.AvailableSeats {
		return nil, fmt.Errorf("%w: %d users, %d seats available", types.ErrInsufficientSeats, len(userIDs), pool.AvailableSeats)
	}

	result := bulk.Run(
		ctx,
		s.runner,
		userIDs,
		func(userID string) string { return userID },
		func(ctx context.Context, userID string) (*types.LicenseAssignment, error) {
			return s.Assign(ctx, poolID, userID, assignedBy)
		},
	)

	s.logger.Infof(
		"bulk assignment on pool %s: %d assigned, %d failed, %d batches",
		poolID, len(result.Successful), len(result.Failed), result.Stats.TotalBatches,
	)

	return result, nil
}

// Unassign revokes an active assignment, frees its seat and revokes the user's entitlements.
func (s *Service) Unassign(ctx context.Context, assignmentID, reason string) (*types.LicenseAssignment, error) {
	ctx, span := s.tracer.Start(ctx, "licenses.Service.Unassign")
	defer span.End()

	var assignment *types.LicenseAssignment
	err := s.storage.WithTx(ctx, func(ctx context.Context) error {
		a, err := s.getAssignment(ctx, assignmentID)
		if err != nil {
			return err
		}

		if reason == "" {
			reason = ReasonUnassigned
		}

		assignment, err = s.revoke(ctx, a, reason, "")
		return err
	})
	if err != nil {
		return nil, err
	}

	return assignment, nil
}

func (s *Service) revoke(ctx context.Context, a *types.LicenseAssignment, reason, transferredTo string) (*types.LicenseAssignment, error) {
	if a.Status != types.AssignmentActive {
		return nil, fmt.Errorf("%w: %s is %s", types.ErrNotActive, a.ID, a.Status)
	}

	now := s.now()
	a.Status = types.AssignmentRevoked
	a.RevokedAt = &now
	a.RevocationReason = reason
	a.TransferredTo = transferredTo

	if err := s.storage.CloseAssignment(ctx, a); err != nil {
		if errors.Is(err, storage.ErrConditionFailed) {
			return nil, fmt.Errorf("%w: %s", types.ErrNotActive, a.ID)
		}
		return nil, err
	}

	// transfers keep the seat for the target
	if transferredTo == "" {
		if err := s.storage.AdjustPoolSeats(ctx, a.LicensePoolID, -1); err != nil {
			return nil, fmt.Errorf("failed to release seat of pool %s: %w", a.LicensePoolID, err)
		}
		if err := s.storage.AdjustAssignedSeats(ctx, a.OrganizationSubscriptionID, -1); err != nil {
			return nil, fmt.Errorf("failed to release seat of subscription %s: %w", a.OrganizationSubscriptionID, err)
		}
	}

	if _, err := s.entitlements.RevokeAll(ctx, a.UserID, a.OrganizationSubscriptionID, reason); err != nil {
		return nil, err
	}

	return a, nil
}

// BulkUnassign revokes every active assignment of the batch.
// Missing or inactive assignments are skipped, not reported as failures.
func (s *Service) BulkUnassign(ctx context.Context, assignmentIDs []string, reason string) (*BulkUnassignResult, error) {
	ctx, span := s.tracer.Start(ctx, "licenses.Service.BulkUnassign")
	defer span.End()

	if len(assignmentIDs) > s.maxBulkSize {
		return nil, fmt.Errorf("%w: %d assignments, at most %d", types.ErrBatchTooLarge, len(assignmentIDs), s.maxBulkSize)
	}

	result := bulk.Run(
		ctx,
		s.runner,
		assignmentIDs,
		func(id string) string { return id },
		func(ctx context.Context, id string) (*types.LicenseAssignment, error) {
			return s.Unassign(ctx, id, reason)
		},
	)

	out := new(BulkUnassignResult)
	out.RevokedCount = len(result.Successful)
	out.Failed = make([]bulk.Failure, 0)
	out.Cancelled = result.Cancelled

	for _, f := range result.Failed {
		if errors.Is(f.Err(), types.ErrNotActive) || errors.Is(f.Err(), types.ErrAssignmentNotFound) {
			out.SkippedCount++
			continue
		}
		out.Failed = append(out.Failed, f)
	}

	return out, nil
}

// Transfer moves the seat of fromUserID to toUserID. The subscription keeps the same assigned count.
func (s *Service) Transfer(ctx context.Context, subscriptionID, fromUserID, toUserID, transferredBy string) (*TransferResult, error) {
	ctx, span := s.tracer.Start(ctx, "licenses.Service.Transfer")
	defer span.End()

	if fromUserID == toUserID {
		return nil, fmt.Errorf("%w: cannot transfer a license to its holder", types.ErrValidation)
	}

	result := new(TransferResult)
	err := s.storage.WithTx(ctx, func(ctx context.Context) error {
		source, err := s.storage.GetActiveAssignment(ctx, subscriptionID, fromUserID)
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%w: %s", types.ErrNoActiveSource, fromUserID)
		}
		if err != nil {
			return err
		}

		if _, err := s.storage.GetActiveAssignment(ctx, subscriptionID, toUserID); err == nil {
			return fmt.Errorf("%w: %s", types.ErrTargetAlreadyAssigned, toUserID)
		} else if !errors.Is(err, storage.ErrNotFound) {
			return err
		}

		pool, err := s.getPool(ctx, source.LicensePoolID)
		if err != nil {
			return err
		}

		if result.OldAssignment, err = s.revoke(ctx, source, ReasonTransferred, toUserID); err != nil {
			return err
		}

		result.NewAssignment, err = s.assign(ctx, pool, toUserID, transferredBy, fromUserID)
		if errors.Is(err, types.ErrDuplicateAssignment) {
			return fmt.Errorf("%w: %s", types.ErrTargetAlreadyAssigned, toUserID)
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// AllocatePool creates the pool of memberType or resizes it.
// The pools of a subscription never allocate more than its total seats.
func (s *Service) AllocatePool(ctx context.Context, subscriptionID, memberType string, seats int) (*types.LicensePool, error) {
	ctx, span := s.tracer.Start(ctx, "licenses.Service.AllocatePool")
	defer span.End()

	if memberType == "" || seats < 0 {
		return nil, fmt.Errorf("%w: member type and a non negative seat count are required", types.ErrValidation)
	}

	var pool *types.LicensePool
	err := s.storage.WithTx(ctx, func(ctx context.Context) error {
		sub, err := s.storage.GetSubscriptionForUpdate(ctx, subscriptionID)
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%w: %s", types.ErrSubscriptionNotFound, subscriptionID)
		}
		if err != nil {
			return err
		}

		pools, err := s.storage.ListPools(ctx, sub.ID)
		if err != nil {
			return err
		}

		allocated := 0
		var existing *types.LicensePool
		for _, p := range pools {
			if p.MemberType == memberType {
				existing = p
				continue
			}
			allocated += p.AllocatedSeats
		}

		if allocated+seats > sub.TotalSeats {
			return fmt.Errorf("%w: %d seats requested, %d unallocated", types.ErrInsufficientSeats, seats, sub.TotalSeats-allocated)
		}

		if existing == nil {
			pool, err = s.storage.CreatePool(
				ctx,
				&types.LicensePool{
					OrganizationSubscriptionID: sub.ID,
					OrganizationID:             sub.OrganizationID,
					MemberType:                 memberType,
					AllocatedSeats:             seats,
				},
			)
			return err
		}

		if err := s.storage.ResizePool(ctx, existing.ID, seats); err != nil {
			if errors.Is(err, storage.ErrConditionFailed) {
				return fmt.Errorf("%w: pool %s has %d assigned seats", types.ErrBelowAssignedCount, existing.ID, existing.AssignedSeats)
			}
			return err
		}

		pool, err = s.storage.GetPool(ctx, existing.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	return pool, nil
}

func (s *Service) GetPool(ctx context.Context, poolID string) (*types.LicensePool, error) {
	ctx, span := s.tracer.Start(ctx, "licenses.Service.GetPool")
	defer span.End()

	return s.getPool(ctx, poolID)
}

func (s *Service) ListPools(ctx context.Context, subscriptionID string) ([]*types.LicensePool, error) {
	ctx, span := s.tracer.Start(ctx, "licenses.Service.ListPools")
	defer span.End()

	return s.storage.ListPools(ctx, subscriptionID)
}

func (s *Service) ListAssignments(ctx context.Context, subscriptionID string, status types.AssignmentStatus) ([]*types.LicenseAssignment, error) {
	ctx, span := s.tracer.Start(ctx, "licenses.Service.ListAssignments")
	defer span.End()

	return s.storage.ListAssignments(ctx, subscriptionID, status)
}

func (s *Service) GetSubscription(ctx context.Context, subscriptionID string) (*types.OrganizationSubscription, error) {
	ctx, span := s.tracer.Start(ctx, "licenses.Service.GetSubscription")
	defer span.End()

	return s.getSubscription(ctx, subscriptionID)
}

func (s *Service) GetAssignment(ctx context.Context, assignmentID string) (*types.LicenseAssignment, error) {
	ctx, span := s.tracer.Start(ctx, "licenses.Service.GetAssignment")
	defer span.End()

	return s.getAssignment(ctx, assignmentID)
}

func (s *Service) verifyUser(ctx context.Context, userID string) error {
	if userID == "" {
		return fmt.Errorf("%w: user id is required", types.ErrValidation)
	}

	ok, err := s.identities.IdentityExists(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to look up user %s: %w", userID, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", types.ErrUserNotFound, userID)
	}
	return nil
}

func (s *Service) getPool(ctx context.Context, poolID string) (*types.LicensePool, error) {
	pool, err := s.storage.GetPool(ctx, poolID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", types.ErrPoolNotFound, poolID)
	}
	return pool, err
}

func (s *Service) getSubscription(ctx context.Context, subscriptionID string) (*types.OrganizationSubscription, error) {
	sub, err := s.storage.GetSubscription(ctx, subscriptionID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", types.ErrSubscriptionNotFound, subscriptionID)
	}
	return sub, err
}

func (s *Service) getAssignment(ctx context.Context, assignmentID string) (*types.LicenseAssignment, error) {
	a, err := s.storage.GetAssignment(ctx, assignmentID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", types.ErrAssignmentNotFound, assignmentID)
	}
	return a, err
}

func NewService(
	storage StorageInterface,
	entitlements EntitlementsInterface,
	identities IdentityVerifierInterface,
	runner *bulk.Runner,
	maxBulkSize int,
	tracer tracing.TracingInterface,
	monitor monitoring.MonitorInterface,
	logger logging.LoggerInterface,
) *Service {
	s := new(Service)

	s.storage = storage
	s.entitlements = entitlements
	s.identities = identities
	s.runner = runner
	s.maxBulkSize = maxBulkSize
	s.now = time.Now

	s.tracer = tracer
	s.monitor = monitor
	s.logger = logger

	return s
}
