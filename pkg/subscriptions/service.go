// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package subscriptions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/canonical/license-service/internal/logging"
	"github.com/canonical/license-service/internal/monitoring"
	"github.com/canonical/license-service/internal/storage"
	"github.com/canonical/license-service/internal/tracing"
	"github.com/canonical/license-service/internal/types"
)

const (
	DefaultPoolMemberType = "member"

	ReasonExpired    = "subscription expired"
	ReasonFullRefund = "Full refund processed"
	ReasonSuspended  = "payment failure threshold reached"
)

type CreateRequest struct {
	OrganizationID        string             `json:"-"`
	PlanID                string             `json:"subscription_plan_id" validate:"required"`
	TotalSeats            int                `json:"total_seats" validate:"min=1"`
	BillingCycle          types.BillingCycle `json:"billing_cycle" validate:"required,oneof=monthly annual"`
	AutoRenew             bool               `json:"auto_renew"`
	DiscountPercentage    decimal.Decimal    `json:"discount_percentage"`
	GatewayOrderID        string             `json:"gateway_order_id"`
	GatewaySubscriptionID string             `json:"gateway_subscription_id"`
}

type SweepResult struct {
	GracePeriod        int `json:"grace_period"`
	Expired            int `json:"expired"`
	RevokedAssignments int `json:"revoked_assignments"`
	Downgrades         int `json:"downgrades"`
	ExpiredInvitations int `json:"expired_invitations"`
}

type Service struct {
	storage      StorageInterface
	entitlements EntitlementsInterface
	downgrades   DowngradeProcessorInterface
	invitations  InvitationExpirerInterface

	gracePeriod      time.Duration
	failureThreshold int

	now func() time.Time

	tracer  tracing.TracingInterface
	monitor monitoring.MonitorInterface
	logger  logging.LoggerInterface
}

// Create registers a subscription awaiting its first payment. Prices come from the plan.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*types.OrganizationSubscription, error) {
	ctx, span := s.tracer.Start(ctx, "subscriptions.Service.Create")
	defer span.End()

	if req.OrganizationID == "" || req.TotalSeats < 1 {
		return nil, fmt.Errorf("%w: organization and a positive seat count are required", types.ErrValidation)
	}
	if req.BillingCycle != types.BillingCycleMonthly && req.BillingCycle != types.BillingCycleAnnual {
		return nil, fmt.Errorf("%w: unknown billing cycle %q", types.ErrValidation, req.BillingCycle)
	}
	if req.DiscountPercentage.IsNegative() || req.DiscountPercentage.GreaterThan(decimal.NewFromInt(100)) {
		return nil, fmt.Errorf("%w: discount must be within 0 and 100", types.ErrValidation)
	}

	plan, err := s.storage.GetPlan(ctx, req.PlanID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", types.ErrPlanNotFound, req.PlanID)
	}
	if err != nil {
		return nil, err
	}

	now := s.now()

	sub := &types.OrganizationSubscription{
		OrganizationID:        req.OrganizationID,
		PlanID:                plan.ID,
		TotalSeats:            req.TotalSeats,
		Status:                types.StatusPendingPayment,
		BillingCycle:          req.BillingCycle,
		StartDate:             now,
		EndDate:               req.BillingCycle.Period(now),
		AutoRenew:             req.AutoRenew,
		PricePerSeat:          plan.PriceFor(req.BillingCycle),
		DiscountPercentage:    req.DiscountPercentage,
		GatewayOrderID:        req.GatewayOrderID,
		GatewaySubscriptionID: req.GatewaySubscriptionID,
	}
	sub.FinalAmount = sub.ComputeFinalAmount()

	created, err := s.storage.CreateSubscription(ctx, sub)
	if errors.Is(err, storage.ErrForeignKeyViolation) {
		return nil, fmt.Errorf("%w: %s", types.ErrPlanNotFound, req.PlanID)
	}
	if err != nil {
		return nil, err
	}

	s.logger.Infof("subscription %s created for organization %s on %s", created.ID, created.OrganizationID, created.PlanID)

	return created, nil
}

// Activate moves a subscription to active after a captured payment, starting a new
// billing period. The first activation creates the default pool holding every seat.
func (s *Service) Activate(ctx context.Context, subscriptionID, paymentID string) (*types.OrganizationSubscription, error) {
	ctx, span := s.tracer.Start(ctx, "subscriptions.Service.Activate")
	defer span.End()

	return s.mutate(ctx, subscriptionID, func(ctx context.Context, sub *types.OrganizationSubscription) error {
		if err := types.ValidateTransition(sub.Status, types.StatusActive); err != nil {
			return err
		}

		now := s.now()
		first := sub.ActivatedAt == nil

		sub.Status = types.StatusActive
		sub.PaymentID = paymentID
		sub.PaymentAttempts = 0
		sub.LastPaymentError = ""
		sub.SuspendedAt = nil
		sub.SuspensionReason = ""
		sub.GracePeriodEnd = nil
		if first {
			sub.ActivatedAt = &now
			sub.StartDate = now
			sub.EndDate = sub.BillingCycle.Period(now)
		}

		if err := s.storage.UpdateSubscription(ctx, sub); err != nil {
			return err
		}

		if !first {
			return nil
		}

		pools, err := s.storage.ListPools(ctx, sub.ID)
		if err != nil {
			return err
		}
		if len(pools) > 0 {
			return nil
		}

		_, err = s.storage.CreatePool(
			ctx,
			&types.LicensePool{
				OrganizationSubscriptionID: sub.ID,
				OrganizationID:             sub.OrganizationID,
				MemberType:                 DefaultPoolMemberType,
				AllocatedSeats:             sub.TotalSeats,
			},
		)
		return err
	})
}

// RecordPaymentFailure counts a failed charge. Reaching the failure threshold suspends
// an active subscription; earlier attempts leave it usable for a retry.
func (s *Service) RecordPaymentFailure(ctx context.Context, subscriptionID, reason string) (*types.OrganizationSubscription, error) {
	ctx, span := s.tracer.Start(ctx, "subscriptions.Service.RecordPaymentFailure")
	defer span.End()

	return s.mutate(ctx, subscriptionID, func(ctx context.Context, sub *types.OrganizationSubscription) error {
		switch sub.Status {
		case types.StatusActive, types.StatusPendingPayment:
		default:
			return fmt.Errorf("%w: payment failure on a %s subscription", types.ErrInvalidTransition, sub.Status)
		}

		sub.PaymentAttempts++
		sub.LastPaymentError = reason

		if sub.Status == types.StatusActive && sub.PaymentAttempts >= s.failureThreshold {
			if err := types.ValidateTransition(sub.Status, types.StatusPaymentFailed); err != nil {
				return err
			}
			now := s.now()
			sub.Status = types.StatusPaymentFailed
			sub.SuspendedAt = &now
			sub.SuspensionReason = ReasonSuspended

			s.logger.Warnf("subscription %s suspended after %d failed payments", sub.ID, sub.PaymentAttempts)
		}

		return s.storage.UpdateSubscription(ctx, sub)
	})
}

// FlagPaymentPending records that the gateway is retrying a charge. Attempts are
// counted by the payment failures themselves.
func (s *Service) FlagPaymentPending(ctx context.Context, subscriptionID, reason string) (*types.OrganizationSubscription, error) {
	ctx, span := s.tracer.Start(ctx, "subscriptions.Service.FlagPaymentPending")
	defer span.End()

	return s.mutate(ctx, subscriptionID, func(ctx context.Context, sub *types.OrganizationSubscription) error {
		if sub.Status.Terminal() {
			return fmt.Errorf("%w: subscription is %s", types.ErrInvalidTransition, sub.Status)
		}

		sub.LastPaymentError = reason

		return s.storage.UpdateSubscription(ctx, sub)
	})
}

// Renew extends the subscription by one billing period after a recurring charge.
func (s *Service) Renew(ctx context.Context, subscriptionID, paymentID string) (*types.OrganizationSubscription, error) {
	ctx, span := s.tracer.Start(ctx, "subscriptions.Service.Renew")
	defer span.End()

	return s.mutate(ctx, subscriptionID, func(ctx context.Context, sub *types.OrganizationSubscription) error {
		if err := types.ValidateTransition(sub.Status, types.StatusActive); err != nil {
			return err
		}

		if sub.ActivatedAt == nil {
			now := s.now()
			sub.ActivatedAt = &now
		}

		sub.Status = types.StatusActive
		sub.EndDate = sub.BillingCycle.Period(sub.EndDate)
		sub.PaymentID = paymentID
		sub.PaymentAttempts = 0
		sub.LastPaymentError = ""
		sub.GracePeriodEnd = nil
		sub.SuspendedAt = nil
		sub.SuspensionReason = ""

		return s.storage.UpdateSubscription(ctx, sub)
	})
}

// Cancel ends the subscription. An immediate cancellation closes access now, otherwise
// members keep access until the current end date.
func (s *Service) Cancel(ctx context.Context, subscriptionID string, immediate bool, reason string) (*types.OrganizationSubscription, error) {
	ctx, span := s.tracer.Start(ctx, "subscriptions.Service.Cancel")
	defer span.End()

	return s.mutate(ctx, subscriptionID, func(ctx context.Context, sub *types.OrganizationSubscription) error {
		if err := types.ValidateTransition(sub.Status, types.StatusCancelled); err != nil {
			return err
		}
		if !immediate && sub.Status != types.StatusActive {
			return fmt.Errorf("%w: only active subscriptions can be cancelled at period end", types.ErrInvalidTransition)
		}

		s.cancel(sub, immediate, reason)

		return s.storage.UpdateSubscription(ctx, sub)
	})
}

// ProcessFullRefund cancels the subscription immediately whatever its state.
// Subscriptions already cancelled or expired are returned unchanged.
func (s *Service) ProcessFullRefund(ctx context.Context, subscriptionID string) (*types.OrganizationSubscription, error) {
	ctx, span := s.tracer.Start(ctx, "subscriptions.Service.ProcessFullRefund")
	defer span.End()

	return s.mutate(ctx, subscriptionID, func(ctx context.Context, sub *types.OrganizationSubscription) error {
		if sub.Status == types.StatusCancelled || sub.Status.Terminal() {
			return nil
		}

		if err := types.ValidateTransition(sub.Status, types.StatusCancelled); err != nil {
			return err
		}

		s.cancel(sub, true, ReasonFullRefund)

		return s.storage.UpdateSubscription(ctx, sub)
	})
}

func (s *Service) cancel(sub *types.OrganizationSubscription, immediate bool, reason string) {
	now := s.now()

	sub.Status = types.StatusCancelled
	sub.CancelledAt = &now
	sub.CancellationReason = reason
	sub.AutoRenew = false
	sub.PendingPlanChange = nil
	if immediate {
		sub.EndDate = now
	}
}

// Sweep applies every time based transition due at now. Each subscription is handled in
// its own transaction so one failure does not hold back the others.
func (s *Service) Sweep(ctx context.Context, now time.Time) (*SweepResult, error) {
	ctx, span := s.tracer.Start(ctx, "subscriptions.Service.Sweep")
	defer span.End()

	result := new(SweepResult)

	candidates, err := s.storage.ListSweepCandidates(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list sweep candidates: %w", err)
	}

	var errs []error

	for _, candidate := range candidates {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}

		if candidate.PendingPlanChange != nil && !now.Before(candidate.PendingPlanChange.EffectiveDate) && s.downgrades != nil {
			applied, err := s.downgrades.ProcessPendingDowngrade(ctx, candidate.ID, now)
			if err != nil {
				s.logger.Errorf("failed to apply pending plan change of %s: %v", candidate.ID, err)
				errs = append(errs, err)
			} else if applied {
				result.Downgrades++
			}
		}

		if err := s.sweepOne(ctx, candidate.ID, now, result); err != nil {
			s.logger.Errorf("failed to sweep subscription %s: %v", candidate.ID, err)
			errs = append(errs, err)
		}
	}

	if s.invitations != nil {
		n, err := s.invitations.ExpireStale(ctx, now)
		if err != nil {
			errs = append(errs, err)
		}
		result.ExpiredInvitations = n
	}

	if result.GracePeriod+result.Expired+result.Downgrades+result.ExpiredInvitations > 0 {
		s.logger.Infof(
			"sweep moved %d subscriptions to grace period, expired %d (%d assignments), applied %d plan changes, expired %d invitations",
			result.GracePeriod, result.Expired, result.RevokedAssignments, result.Downgrades, result.ExpiredInvitations,
		)
	}

	return result, errors.Join(errs...)
}

func (s *Service) sweepOne(ctx context.Context, subscriptionID string, now time.Time, result *SweepResult) error {
	return s.storage.WithTx(ctx, func(ctx context.Context) error {
		sub, err := s.storage.GetSubscriptionForUpdate(ctx, subscriptionID)
		if err != nil {
			return err
		}

		switch {
		case sub.Status == types.StatusActive && now.After(sub.EndDate) && !sub.AutoRenew:
			end := now.Add(s.gracePeriod)
			sub.Status = types.StatusGracePeriod
			sub.GracePeriodEnd = &end

			if err := s.storage.UpdateSubscription(ctx, sub); err != nil {
				return err
			}
			result.GracePeriod++

		case sub.Status == types.StatusGracePeriod && sub.GracePeriodEnd != nil && now.After(*sub.GracePeriodEnd),
			sub.Status == types.StatusCancelled && now.After(sub.EndDate):
			revoked, err := s.expire(ctx, sub, now)
			if err != nil {
				return err
			}
			result.Expired++
			result.RevokedAssignments += revoked
		}

		return nil
	})
}

// expire closes the subscription and every active assignment on it, releasing their
// seats and entitlements.
func (s *Service) expire(ctx context.Context, sub *types.OrganizationSubscription, now time.Time) (int, error) {
	if err := types.ValidateTransition(sub.Status, types.StatusExpired); err != nil {
		return 0, err
	}

	sub.Status = types.StatusExpired
	if err := s.storage.UpdateSubscription(ctx, sub); err != nil {
		return 0, err
	}

	assignments, err := s.storage.ExpireAssignments(ctx, sub.ID, now)
	if err != nil {
		return 0, err
	}

	for _, a := range assignments {
		if err := s.storage.AdjustPoolSeats(ctx, a.LicensePoolID, -1); err != nil {
			return 0, fmt.Errorf("failed to release seat of %s: %w", a.ID, err)
		}
		if err := s.storage.AdjustAssignedSeats(ctx, sub.ID, -1); err != nil {
			return 0, fmt.Errorf("failed to release seat of %s: %w", a.ID, err)
		}
		if _, err := s.entitlements.RevokeAll(ctx, a.UserID, sub.ID, ReasonExpired); err != nil {
			return 0, err
		}
	}

	return len(assignments), nil
}

// HasAccess reports whether members of the subscription can currently use its features.
func (s *Service) HasAccess(ctx context.Context, subscriptionID string) (bool, error) {
	ctx, span := s.tracer.Start(ctx, "subscriptions.Service.HasAccess")
	defer span.End()

	sub, err := s.get(ctx, subscriptionID)
	if err != nil {
		return false, err
	}

	return types.HasAccess(sub, s.now()), nil
}

func (s *Service) Get(ctx context.Context, subscriptionID string) (*types.OrganizationSubscription, error) {
	ctx, span := s.tracer.Start(ctx, "subscriptions.Service.Get")
	defer span.End()

	return s.get(ctx, subscriptionID)
}

// FindByGatewayRef resolves a gateway order or subscription id.
func (s *Service) FindByGatewayRef(ctx context.Context, ref string) (*types.OrganizationSubscription, error) {
	ctx, span := s.tracer.Start(ctx, "subscriptions.Service.FindByGatewayRef")
	defer span.End()

	sub, err := s.storage.FindSubscriptionByGatewayRef(ctx, ref)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: gateway reference %q", types.ErrSubscriptionNotFound, ref)
	}
	return sub, err
}

func (s *Service) ListByOrganization(ctx context.Context, organizationID string) ([]*types.OrganizationSubscription, error) {
	ctx, span := s.tracer.Start(ctx, "subscriptions.Service.ListByOrganization")
	defer span.End()

	return s.storage.ListSubscriptionsByOrganization(ctx, organizationID)
}

// mutate runs fn on a locked copy of the subscription and returns the stored result.
func (s *Service) mutate(ctx context.Context, subscriptionID string, fn func(context.Context, *types.OrganizationSubscription) error) (*types.OrganizationSubscription, error) {
	var sub *types.OrganizationSubscription

	err := s.storage.WithTx(ctx, func(ctx context.Context) error {
		current, err := s.storage.GetSubscriptionForUpdate(ctx, subscriptionID)
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%w: %s", types.ErrSubscriptionNotFound, subscriptionID)
		}
		if err != nil {
			return err
		}

		if err := fn(ctx, current); err != nil {
			return err
		}

		sub, err = s.storage.GetSubscription(ctx, subscriptionID)
		return err
	})
	if err != nil {
		return nil, err
	}

	return sub, nil
}

func (s *Service) get(ctx context.Context, subscriptionID string) (*types.OrganizationSubscription, error) {
	sub, err := s.storage.GetSubscription(ctx, subscriptionID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", types.ErrSubscriptionNotFound, subscriptionID)
	}
	return sub, err
}

func NewService(
	storage StorageInterface,
	entitlements EntitlementsInterface,
	downgrades DowngradeProcessorInterface,
	invitations InvitationExpirerInterface,
	gracePeriodDays int,
	failureThreshold int,
	tracer tracing.TracingInterface,
	monitor monitoring.MonitorInterface,
	logger logging.LoggerInterface,
) *Service {
	s := new(Service)

	s.storage = storage
	s.entitlements = entitlements
	s.downgrades = downgrades
	s.invitations = invitations

	s.gracePeriod = time.Duration(gracePeriodDays) * 24 * time.Hour
	s.failureThreshold = failureThreshold

	s.now = time.Now

	s.tracer = tracer
	s.monitor = monitor
	s.logger = logger

	return s
}
