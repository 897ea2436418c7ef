// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package plans

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
	"github.com/canonical/license-service/pkg/entitlements"
)

type UpgradeResult struct {
	Subscription   *types.OrganizationSubscription `json:"subscription"`
	ProratedAmount decimal.Decimal                 `json:"prorated_amount"`
	AddedFeatures  []string                        `json:"added_features"`
	// Granted counts entitlement rows activated across every assigned user.
	Granted int `json:"granted"`
}

type SeatChangeResult struct {
	Subscription   *types.OrganizationSubscription `json:"subscription"`
	ProratedCharge decimal.Decimal                 `json:"prorated_charge"`
	Credit         decimal.Decimal                 `json:"credit"`
}

type Service struct {
	storage      StorageInterface
	entitlements EntitlementsInterface

	now func() time.Time

	tracer  tracing.TracingInterface
	monitor monitoring.MonitorInterface
	logger  logging.LoggerInterface
}

// Upgrade moves the subscription to a higher tier plan straight away, charging the price
// difference for the rest of the period and granting the new features to every assigned user.
// A pending downgrade is dropped.
func (s *Service) Upgrade(ctx context.Context, subscriptionID, newPlanID string) (*UpgradeResult, error) {
	ctx, span := s.tracer.Start(ctx, "plans.Service.Upgrade")
	defer span.End()

	result := new(UpgradeResult)

	err := s.storage.WithTx(ctx, func(ctx context.Context) error {
		sub, current, next, err := s.load(ctx, subscriptionID, newPlanID)
		if err != nil {
			return err
		}

		if sub.Status != types.StatusActive {
			return fmt.Errorf("%w: %s is %s", types.ErrSubscriptionInactive, sub.ID, sub.Status)
		}
		if next.Tier <= current.Tier {
			return fmt.Errorf("%w: %s (tier %d) is not above %s (tier %d)", types.ErrInvalidDirection, next.ID, next.Tier, current.ID, current.Tier)
		}

		newPrice := next.PriceFor(sub.BillingCycle)
		result.ProratedAmount = Prorate(newPrice.Sub(sub.PricePerSeat), sub.BillingCycle, DaysRemaining(s.now(), sub.EndDate), sub.TotalSeats)

		sub.PlanID = next.ID
		sub.PricePerSeat = newPrice
		sub.FinalAmount = sub.ComputeFinalAmount()
		sub.PendingPlanChange = nil

		if err := s.storage.UpdateSubscription(ctx, sub); err != nil {
			return err
		}

		result.AddedFeatures, _ = entitlements.Compare(current.Features, next.Features)

		result.Granted, err = s.applyFeatures(ctx, sub.ID, current.Features, next.Features)
		if err != nil {
			return err
		}

		result.Subscription, err = s.storage.GetSubscription(ctx, sub.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Infof("subscription %s upgraded to %s, prorated amount %s", subscriptionID, newPlanID, result.ProratedAmount)

	return result, nil
}

// Downgrade schedules a move to a lower tier plan at the end of the current period.
// Members keep the current features until then.
func (s *Service) Downgrade(ctx context.Context, subscriptionID, newPlanID string) (*types.OrganizationSubscription, error) {
	ctx, span := s.tracer.Start(ctx, "plans.Service.Downgrade")
	defer span.End()

	var out *types.OrganizationSubscription

	err := s.storage.WithTx(ctx, func(ctx context.Context) error {
		sub, current, next, err := s.load(ctx, subscriptionID, newPlanID)
		if err != nil {
			return err
		}

		if sub.Status != types.StatusActive {
			return fmt.Errorf("%w: %s is %s", types.ErrSubscriptionInactive, sub.ID, sub.Status)
		}
		if next.Tier >= current.Tier {
			return fmt.Errorf("%w: %s (tier %d) is not below %s (tier %d)", types.ErrInvalidDirection, next.ID, next.Tier, current.ID, current.Tier)
		}

		sub.PendingPlanChange = &types.PendingPlanChange{NewPlanID: next.ID, EffectiveDate: sub.EndDate}

		if err := s.storage.UpdateSubscription(ctx, sub); err != nil {
			return err
		}

		out, err = s.storage.GetSubscription(ctx, sub.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}

// ProcessPendingDowngrade applies the scheduled plan change once now reaches its
// effective date. It reports false when there is nothing to apply yet, so repeated
// calls are safe.
func (s *Service) ProcessPendingDowngrade(ctx context.Context, subscriptionID string, now time.Time) (bool, error) {
	ctx, span := s.tracer.Start(ctx, "plans.Service.ProcessPendingDowngrade")
	defer span.End()

	applied := false

	err := s.storage.WithTx(ctx, func(ctx context.Context) error {
		sub, err := s.lockSubscription(ctx, subscriptionID)
		if err != nil {
			return err
		}

		change := sub.PendingPlanChange
		if change == nil || now.Before(change.EffectiveDate) {
			return nil
		}

		current, err := s.getPlan(ctx, sub.PlanID)
		if err != nil {
			return err
		}
		next, err := s.getPlan(ctx, change.NewPlanID)
		if err != nil {
			return err
		}

		sub.PlanID = next.ID
		sub.PricePerSeat = next.PriceFor(sub.BillingCycle)
		sub.FinalAmount = sub.ComputeFinalAmount()
		sub.PendingPlanChange = nil

		if err := s.storage.UpdateSubscription(ctx, sub); err != nil {
			return err
		}

		if _, err := s.applyFeatures(ctx, sub.ID, current.Features, next.Features); err != nil {
			return err
		}

		applied = true
		return nil
	})
	if err != nil {
		return false, err
	}

	if applied {
		s.logger.Infof("pending plan change applied to subscription %s", subscriptionID)
	}

	return applied, nil
}

func (s *Service) CancelPendingChange(ctx context.Context, subscriptionID string) (*types.OrganizationSubscription, error) {
	ctx, span := s.tracer.Start(ctx, "plans.Service.CancelPendingChange")
	defer span.End()

	var out *types.OrganizationSubscription

	err := s.storage.WithTx(ctx, func(ctx context.Context) error {
		sub, err := s.lockSubscription(ctx, subscriptionID)
		if err != nil {
			return err
		}

		if sub.PendingPlanChange == nil {
			return fmt.Errorf("%w: %s", types.ErrNoPendingChange, sub.ID)
		}

		sub.PendingPlanChange = nil
		if err := s.storage.UpdateSubscription(ctx, sub); err != nil {
			return err
		}

		out = sub
		return nil
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}

// ChangeSeatCount resizes the subscription immediately. Added seats are charged pro rata
// for the rest of the period, removed seats produce a matching credit.
func (s *Service) ChangeSeatCount(ctx context.Context, subscriptionID string, newCount int) (*SeatChangeResult, error) {
	ctx, span := s.tracer.Start(ctx, "plans.Service.ChangeSeatCount")
	defer span.End()

	if newCount < 1 {
		return nil, fmt.Errorf("%w: seat count must be positive", types.ErrValidation)
	}

	result := &SeatChangeResult{ProratedCharge: decimal.Zero, Credit: decimal.Zero}

	err := s.storage.WithTx(ctx, func(ctx context.Context) error {
		sub, err := s.lockSubscription(ctx, subscriptionID)
		if err != nil {
			return err
		}

		if sub.Status != types.StatusActive {
			return fmt.Errorf("%w: %s is %s", types.ErrSubscriptionInactive, sub.ID, sub.Status)
		}

		if newCount < sub.AssignedSeats {
			return fmt.Errorf("%w: %d seats requested, %d assigned", types.ErrBelowAssignedCount, newCount, sub.AssignedSeats)
		}

		pools, err := s.storage.ListPools(ctx, sub.ID)
		if err != nil {
			return err
		}
		allocated := 0
		for _, p := range pools {
			allocated += p.AllocatedSeats
		}
		if newCount < allocated {
			return fmt.Errorf("%w: %d seats requested, %d allocated to pools", types.ErrBelowAllocatedCount, newCount, allocated)
		}

		days := DaysRemaining(s.now(), sub.EndDate)
		delta := newCount - sub.TotalSeats

		switch {
		case delta > 0:
			result.ProratedCharge = Prorate(sub.PricePerSeat, sub.BillingCycle, days, delta)
		case delta < 0:
			result.Credit = Prorate(sub.PricePerSeat, sub.BillingCycle, days, -delta)
		}

		sub.TotalSeats = newCount
		sub.FinalAmount = sub.ComputeFinalAmount()

		if err := s.storage.UpdateSubscription(ctx, sub); err != nil {
			return err
		}

		result.Subscription, err = s.storage.GetSubscription(ctx, sub.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

func (s *Service) ListPlans(ctx context.Context) ([]*types.Plan, error) {
	ctx, span := s.tracer.Start(ctx, "plans.Service.ListPlans")
	defer span.End()

	return s.storage.ListPlans(ctx)
}

func (s *Service) GetPlan(ctx context.Context, planID string) (*types.Plan, error) {
	ctx, span := s.tracer.Start(ctx, "plans.Service.GetPlan")
	defer span.End()

	return s.getPlan(ctx, planID)
}

func (s *Service) GetSubscription(ctx context.Context, subscriptionID string) (*types.OrganizationSubscription, error) {
	ctx, span := s.tracer.Start(ctx, "plans.Service.GetSubscription")
	defer span.End()

	sub, err := s.storage.GetSubscription(ctx, subscriptionID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", types.ErrSubscriptionNotFound, subscriptionID)
	}
	return sub, err
}

// applyFeatures moves every actively assigned user of the subscription from one feature
// set to the other.
func (s *Service) applyFeatures(ctx context.Context, subscriptionID string, oldFeatures, newFeatures []string) (int, error) {
	assignments, err := s.storage.ListAssignments(ctx, subscriptionID, types.AssignmentActive)
	if err != nil {
		return 0, err
	}

	granted := 0
	for _, a := range assignments {
		diff, err := s.entitlements.DiffAndApply(ctx, a.UserID, subscriptionID, oldFeatures, newFeatures)
		if err != nil {
			return 0, fmt.Errorf("failed to update entitlements of %s: %w", a.UserID, err)
		}
		granted += diff.Granted
	}

	return granted, nil
}

func (s *Service) load(ctx context.Context, subscriptionID, newPlanID string) (*types.OrganizationSubscription, *types.Plan, *types.Plan, error) {
	sub, err := s.lockSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, nil, nil, err
	}

	current, err := s.getPlan(ctx, sub.PlanID)
	if err != nil {
		return nil, nil, nil, err
	}

	next, err := s.getPlan(ctx, newPlanID)
	if err != nil {
		return nil, nil, nil, err
	}

	return sub, current, next, nil
}

func (s *Service) lockSubscription(ctx context.Context, subscriptionID string) (*types.OrganizationSubscription, error) {
	sub, err := s.storage.GetSubscriptionForUpdate(ctx, subscriptionID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", types.ErrSubscriptionNotFound, subscriptionID)
	}
	return sub, err
}

func (s *Service) getPlan(ctx context.Context, planID string) (*types.Plan, error) {
	plan, err := s.storage.GetPlan(ctx, planID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", types.ErrPlanNotFound, planID)
	}
	return plan, err
}

func NewService(storage StorageInterface, entitlements EntitlementsInterface, tracer tracing.TracingInterface, monitor monitoring.MonitorInterface, logger logging.LoggerInterface) *Service {
	s := new(Service)

	s.storage = storage
	s.entitlements = entitlements

	s.now = time.Now

	s.tracer = tracer
	s.monitor = monitor
	s.logger = logger

	return s
}
