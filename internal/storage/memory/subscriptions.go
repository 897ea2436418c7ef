// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package memory

import (
	"context"
	"slices"
	"sort"
	"time"

	"github.com/canonical/license-service/internal/storage"
	"github.com/canonical/license-service/internal/types"
)

func (s *Store) GetPlan(ctx context.Context, id string) (*types.Plan, error) {
	defer s.lock(ctx)()

	p, ok := s.state.plans[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	p.Features = slices.Clone(p.Features)
	return &p, nil
}

func (s *Store) ListPlans(ctx context.Context) ([]*types.Plan, error) {
	defer s.lock(ctx)()

	plans := make([]*types.Plan, 0, len(s.state.plans))
	for _, p := range s.state.plans {
		p.Features = slices.Clone(p.Features)
		plans = append(plans, &p)
	}
	sort.Slice(plans, func(i, j int) bool { return plans[i].Tier < plans[j].Tier })
	return plans, nil
}

func (s *Store) UpsertPlan(ctx context.Context, p *types.Plan) error {
	defer s.lock(ctx)()

	c := *p
	c.Features = slices.Clone(p.Features)
	s.state.plans[p.ID] = c
	return nil
}

func (s *Store) CreateSubscription(ctx context.Context, sub *types.OrganizationSubscription) (*types.OrganizationSubscription, error) {
	defer s.lock(ctx)()

	if _, ok := s.state.plans[sub.PlanID]; !ok {
		return nil, storage.ErrForeignKeyViolation
	}

	c := *sub
	c.ID = s.nextID("sub")
	c.CreatedAt = time.Now()
	c.UpdatedAt = c.CreatedAt
	s.state.subscriptions[c.ID] = c

	out := c
	return &out, nil
}

func (s *Store) GetSubscription(ctx context.Context, id string) (*types.OrganizationSubscription, error) {
	defer s.lock(ctx)()

	sub, ok := s.state.subscriptions[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &sub, nil
}

func (s *Store) GetSubscriptionForUpdate(ctx context.Context, id string) (*types.OrganizationSubscription, error) {
	return s.GetSubscription(ctx, id)
}

func (s *Store) FindSubscriptionByGatewayRef(ctx context.Context, ref string) (*types.OrganizationSubscription, error) {
	defer s.lock(ctx)()

	if ref == "" {
		return nil, storage.ErrNotFound
	}

	for _, sub := range s.sortedSubscriptions() {
		if sub.GatewayOrderID == ref || sub.GatewaySubscriptionID == ref {
			return sub, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *Store) ListSubscriptionsByOrganization(ctx context.Context, organizationID string) ([]*types.OrganizationSubscription, error) {
	defer s.lock(ctx)()

	var subs []*types.OrganizationSubscription
	for _, sub := range s.sortedSubscriptions() {
		if sub.OrganizationID == organizationID {
			subs = append(subs, sub)
		}
	}
	return subs, nil
}

func (s *Store) ListSweepCandidates(ctx context.Context, now time.Time) ([]*types.OrganizationSubscription, error) {
	defer s.lock(ctx)()

	var subs []*types.OrganizationSubscription
	for _, sub := range s.sortedSubscriptions() {
		due := false
		switch sub.Status {
		case types.StatusActive:
			due = now.After(sub.EndDate) && !sub.AutoRenew
		case types.StatusGracePeriod:
			due = sub.GracePeriodEnd != nil && now.After(*sub.GracePeriodEnd)
		case types.StatusCancelled:
			due = now.After(sub.EndDate)
		}
		if sub.PendingPlanChange != nil && !now.Before(sub.PendingPlanChange.EffectiveDate) {
			due = true
		}
		if due {
			subs = append(subs, sub)
		}
	}
	return subs, nil
}

func (s *Store) sortedSubscriptions() []*types.OrganizationSubscription {
	subs := make([]*types.OrganizationSubscription, 0, len(s.state.subscriptions))
	for _, sub := range s.state.subscriptions {
		subs = append(subs, &sub)
	}
	sort.Slice(subs, func(i, j int) bool {
		return s.position("sub", subs[i].ID) < s.position("sub", subs[j].ID)
	})
	return subs
}

func (s *Store) UpdateSubscription(ctx context.Context, sub *types.OrganizationSubscription) error {
	defer s.lock(ctx)()

	current, ok := s.state.subscriptions[sub.ID]
	if !ok {
		return storage.ErrNotFound
	}
	if sub.TotalSeats < current.AssignedSeats {
		return conditionFailed("update subscription")
	}

	c := *sub
	c.AssignedSeats = current.AssignedSeats
	c.CreatedAt = current.CreatedAt
	c.UpdatedAt = time.Now()
	s.state.subscriptions[sub.ID] = c
	return nil
}

func (s *Store) AdjustAssignedSeats(ctx context.Context, subscriptionID string, delta int) error {
	defer s.lock(ctx)()

	sub, ok := s.state.subscriptions[subscriptionID]
	if !ok {
		return conditionFailed("adjust assigned seats")
	}
	next := sub.AssignedSeats + delta
	if next < 0 || next > sub.TotalSeats {
		return conditionFailed("adjust assigned seats")
	}
	sub.AssignedSeats = next
	sub.UpdatedAt = time.Now()
	s.state.subscriptions[subscriptionID] = sub
	return nil
}

func (s *Store) CreatePool(ctx context.Context, pool *types.LicensePool) (*types.LicensePool, error) {
	defer s.lock(ctx)()

	for _, p := range s.state.pools {
		if p.OrganizationSubscriptionID == pool.OrganizationSubscriptionID && p.MemberType == pool.MemberType {
			return nil, storage.ErrDuplicateKey
		}
	}

	c := *pool
	c.ID = s.nextID("pool")
	c.AssignedSeats = 0
	c.AvailableSeats = c.AllocatedSeats
	c.CreatedAt = time.Now()
	s.state.pools[c.ID] = c

	out := c
	return &out, nil
}

func (s *Store) GetPool(ctx context.Context, id string) (*types.LicensePool, error) {
	defer s.lock(ctx)()

	p, ok := s.state.pools[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &p, nil
}

func (s *Store) ListPools(ctx context.Context, subscriptionID string) ([]*types.LicensePool, error) {
	defer s.lock(ctx)()

	var pools []*types.LicensePool
	for _, p := range s.state.pools {
		if p.OrganizationSubscriptionID == subscriptionID {
			pools = append(pools, &p)
		}
	}
	sort.Slice(pools, func(i, j int) bool {
		return s.position("pool", pools[i].ID) < s.position("pool", pools[j].ID)
	})
	return pools, nil
}

func (s *Store) ResizePool(ctx context.Context, poolID string, allocated int) error {
	defer s.lock(ctx)()

	p, ok := s.state.pools[poolID]
	if !ok || p.AssignedSeats > allocated {
		return conditionFailed("resize pool")
	}
	p.AllocatedSeats = allocated
	p.AvailableSeats = allocated - p.AssignedSeats
	s.state.pools[poolID] = p
	return nil
}

func (s *Store) AdjustPoolSeats(ctx context.Context, poolID string, delta int) error {
	defer s.lock(ctx)()

	p, ok := s.state.pools[poolID]
	if !ok || p.AvailableSeats-delta < 0 || p.AssignedSeats+delta < 0 {
		return conditionFailed("adjust pool seats")
	}
	p.AssignedSeats += delta
	p.AvailableSeats -= delta
	s.state.pools[poolID] = p
	return nil
}
