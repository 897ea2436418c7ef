// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/canonical/license-service/internal/storage"
	"github.com/canonical/license-service/internal/types"
)

func seedPool(t *testing.T, s *Store, seats int) (*types.OrganizationSubscription, *types.LicensePool) {
	t.Helper()
	ctx := context.Background()

	if err := s.UpsertPlan(ctx, &types.Plan{ID: "pro", Name: "Pro", Tier: 2, Features: []string{"analytics"}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sub, err := s.CreateSubscription(ctx, &types.OrganizationSubscription{
		OrganizationID: "org-1",
		PlanID:         "pro",
		TotalSeats:     seats,
		Status:         types.StatusActive,
		BillingCycle:   types.BillingCycleMonthly,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	pool, err := s.CreatePool(ctx, &types.LicensePool{
		OrganizationSubscriptionID: sub.ID,
		OrganizationID:             "org-1",
		MemberType:                 "member",
		AllocatedSeats:             seats,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	return sub, pool
}

func TestWithTxRollsBackOnError(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	sub, pool := seedPool(t, s, 2)

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(ctx context.Context) error {
		if err := s.AdjustPoolSeats(ctx, pool.ID, 1); err != nil {
			return err
		}
		if err := s.AdjustAssignedSeats(ctx, sub.ID, 1); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	p, _ := s.GetPool(ctx, pool.ID)
	if p.AssignedSeats != 0 || p.AvailableSeats != 2 {
		t.Errorf("expected pool untouched after rollback, got %+v", p)
	}
	got, _ := s.GetSubscription(ctx, sub.ID)
	if got.AssignedSeats != 0 {
		t.Errorf("expected subscription untouched after rollback, got %d", got.AssignedSeats)
	}
}

func TestAdjustPoolSeatsGuards(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	_, pool := seedPool(t, s, 1)

	if err := s.AdjustPoolSeats(ctx, pool.ID, 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.AdjustPoolSeats(ctx, pool.ID, 1); !errors.Is(err, storage.ErrConditionFailed) {
		t.Errorf("expected ErrConditionFailed on exhausted pool, got %v", err)
	}
	if err := s.AdjustPoolSeats(ctx, pool.ID, -2); !errors.Is(err, storage.ErrConditionFailed) {
		t.Errorf("expected ErrConditionFailed on negative assigned, got %v", err)
	}
}

func TestParallelTransactionsKeepCounters(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	sub, pool := seedPool(t, s, 10)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
	)

	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.WithTx(ctx, func(ctx context.Context) error {
				if err := s.AdjustPoolSeats(ctx, pool.ID, 1); err != nil {
					return err
				}
				return s.AdjustAssignedSeats(ctx, sub.ID, 1)
			})
			if err == nil {
				mu.Lock()
				success++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if success != 10 {
		t.Errorf("expected 10 successful claims, got %d", success)
	}

	p, _ := s.GetPool(ctx, pool.ID)
	if p.AssignedSeats+p.AvailableSeats != p.AllocatedSeats || p.AvailableSeats != 0 {
		t.Errorf("pool counters out of balance: %+v", p)
	}
}

func TestUniqueActiveAssignment(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	sub, pool := seedPool(t, s, 2)

	a := &types.LicenseAssignment{
		LicensePoolID:              pool.ID,
		OrganizationSubscriptionID: sub.ID,
		UserID:                     "user-1",
		Status:                     types.AssignmentActive,
		AssignedAt:                 time.Now(),
	}

	created, err := s.CreateAssignment(ctx, a)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := s.CreateAssignment(ctx, a); !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("expected ErrDuplicateKey, got %v", err)
	}

	now := time.Now()
	created.Status = types.AssignmentRevoked
	created.RevokedAt = &now
	if err := s.CloseAssignment(ctx, created); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := s.CreateAssignment(ctx, a); err != nil {
		t.Errorf("expected reassignment after revoke to succeed, got %v", err)
	}
}

func TestGrantEntitlementIdempotent(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	changed, _ := s.GrantEntitlement(ctx, "user-1", "sub-1", "analytics")
	if !changed {
		t.Error("expected first grant to change state")
	}
	changed, _ = s.GrantEntitlement(ctx, "user-1", "sub-1", "analytics")
	if changed {
		t.Error("expected second grant to be a no-op")
	}

	n, _ := s.RevokeEntitlements(ctx, "user-1", "sub-1", nil, "test", time.Now())
	if n != 1 {
		t.Errorf("expected 1 revoked entitlement, got %d", n)
	}
	changed, _ = s.GrantEntitlement(ctx, "user-1", "sub-1", "analytics")
	if !changed {
		t.Error("expected grant to reactivate revoked row")
	}
}

func TestSweepCandidates(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	now := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)

	_ = s.UpsertPlan(ctx, &types.Plan{ID: "pro", Tier: 2})

	mk := func(status types.SubscriptionStatus, end time.Time, autoRenew bool) {
		if _, err := s.CreateSubscription(ctx, &types.OrganizationSubscription{
			OrganizationID: "org",
			PlanID:         "pro",
			Status:         status,
			EndDate:        end,
			AutoRenew:      autoRenew,
		}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	mk(types.StatusActive, now.Add(-time.Hour), false)
	mk(types.StatusActive, now.Add(-time.Hour), true)
	mk(types.StatusActive, now, false)
	mk(types.StatusCancelled, now.Add(-time.Hour), false)

	subs, err := s.ListSweepCandidates(ctx, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(subs) != 2 {
		t.Errorf("expected 2 candidates, got %d", len(subs))
	}
}
