// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package licenses

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/mock/gomock"

	"github.com/canonical/license-service/internal/kratos"
	"github.com/canonical/license-service/internal/logging"
	"github.com/canonical/license-service/internal/monitoring"
	"github.com/canonical/license-service/internal/storage"
	"github.com/canonical/license-service/internal/storage/memory"
	"github.com/canonical/license-service/internal/tracing"
	"github.com/canonical/license-service/internal/types"
	"github.com/canonical/license-service/pkg/bulk"
	"github.com/canonical/license-service/pkg/entitlements"
)

//go:generate mockgen -build_flags=--mod=mod -package licenses -destination ./mock_identity.go . IdentityVerifierInterface

type fixture struct {
	service *Service
	store   *memory.Store
	sub     *types.OrganizationSubscription
	pool    *types.LicensePool
}

func newFixture(t *testing.T, totalSeats, poolSeats int, identities IdentityVerifierInterface) *fixture {
	t.Helper()
	ctx := context.Background()

	logger := logging.NewNoopLogger()
	tracer := tracing.NewNoopTracer()
	monitor := monitoring.NewNoopMonitor("license-service", logger)

	store := memory.NewStore()

	if err := store.UpsertPlan(ctx, &types.Plan{ID: "plan-basic", Name: "Basic", Tier: 1, Features: []string{"a", "b"}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sub, err := store.CreateSubscription(ctx, &types.OrganizationSubscription{
		OrganizationID: "org-1",
		PlanID:         "plan-basic",
		TotalSeats:     totalSeats,
		Status:         types.StatusActive,
		BillingCycle:   types.BillingCycleMonthly,
		StartDate:      time.Now().Add(-24 * time.Hour),
		EndDate:        time.Now().Add(29 * 24 * time.Hour),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	pool, err := store.CreatePool(ctx, &types.LicensePool{
		OrganizationSubscriptionID: sub.ID,
		OrganizationID:             sub.OrganizationID,
		MemberType:                 "student",
		AllocatedSeats:             poolSeats,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if identities == nil {
		identities = kratos.NewNoopClient()
	}

	ent := entitlements.NewService(store, tracer, monitor, logger)
	s := NewService(store, ent, identities, bulk.NewRunner(50, 1), 150, tracer, monitor, logger)

	return &fixture{service: s, store: store, sub: sub, pool: pool}
}

func (f *fixture) counters(t *testing.T) (*types.LicensePool, *types.OrganizationSubscription) {
	t.Helper()
	ctx := context.Background()

	pool, err := f.store.GetPool(ctx, f.pool.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sub, err := f.store.GetSubscription(ctx, f.sub.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if pool.AssignedSeats+pool.AvailableSeats != pool.AllocatedSeats {
		t.Errorf("pool counters out of balance: %+v", pool)
	}
	if sub.AssignedSeats > sub.TotalSeats {
		t.Errorf("subscription over-assigned: %d > %d", sub.AssignedSeats, sub.TotalSeats)
	}

	return pool, sub
}

func userIDs(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("user-%03d", i)
	}
	return ids
}

func TestService_Assign(t *testing.T) {
	tests := []struct {
		name        string
		poolSeats   int
		setup       func(*testing.T, *fixture)
		poolID      func(*fixture) string
		expectedErr error
	}{
		{
			name:      "success",
			poolSeats: 2,
		},
		{
			name:        "unknown pool",
			poolSeats:   2,
			poolID:      func(*fixture) string { return "missing" },
			expectedErr: types.ErrPoolNotFound,
		},
		{
			name:        "empty pool",
			poolSeats:   0,
			expectedErr: types.ErrNoSeatsAvailable,
		},
		{
			name:      "already assigned",
			poolSeats: 2,
			setup: func(t *testing.T, f *fixture) {
				if _, err := f.service.Assign(context.Background(), f.pool.ID, "user-1", "admin"); err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
			},
			expectedErr: types.ErrDuplicateAssignment,
		},
		{
			name:      "expired subscription",
			poolSeats: 2,
			setup: func(t *testing.T, f *fixture) {
				f.sub.Status = types.StatusExpired
				if err := f.store.UpdateSubscription(context.Background(), f.sub); err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
			},
			expectedErr: types.ErrSubscriptionInactive,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			f := newFixture(t, 10, test.poolSeats, nil)
			if test.setup != nil {
				test.setup(t, f)
			}

			poolID := f.pool.ID
			if test.poolID != nil {
				poolID = test.poolID(f)
			}

			before, _ := f.counters(t)

			a, err := f.service.Assign(context.Background(), poolID, "user-1", "admin")

			if test.expectedErr != nil {
				if !errors.Is(err, test.expectedErr) {
					t.Fatalf("expected %v, got %v", test.expectedErr, err)
				}
				after, _ := f.counters(t)
				if after.AssignedSeats != before.AssignedSeats {
					t.Errorf("expected counters unchanged on failure, got %+v", after)
				}
				return
			}

			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if a.Status != types.AssignmentActive || a.MemberType != "student" || a.AssignedBy != "admin" {
				t.Errorf("unexpected assignment %+v", a)
			}

			pool, sub := f.counters(t)
			if pool.AssignedSeats != 1 || pool.AvailableSeats != test.poolSeats-1 || sub.AssignedSeats != 1 {
				t.Errorf("unexpected counters pool=%+v sub=%d", pool, sub.AssignedSeats)
			}

			if ok, _ := f.store.HasActiveEntitlement(context.Background(), "user-1", "b"); !ok {
				t.Error("expected plan features to be granted")
			}
		})
	}
}

func TestService_AssignThenUnassignRestoresCounters(t *testing.T) {
	f := newFixture(t, 10, 5, nil)
	ctx := context.Background()

	before, beforeSub := f.counters(t)

	a, err := f.service.Assign(ctx, f.pool.ID, "user-1", "admin")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	revoked, err := f.service.Unassign(ctx, a.ID, "left the school")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if revoked.Status != types.AssignmentRevoked || revoked.RevokedAt == nil || revoked.RevocationReason != "left the school" {
		t.Errorf("unexpected revoked assignment %+v", revoked)
	}

	after, afterSub := f.counters(t)
	if *after != *before || afterSub.AssignedSeats != beforeSub.AssignedSeats {
		t.Errorf("expected counters %+v, got %+v", before, after)
	}

	if ok, _ := f.store.HasActiveEntitlement(ctx, "user-1", "a"); ok {
		t.Error("expected entitlements to be revoked")
	}

	if _, err := f.service.Unassign(ctx, a.ID, ""); !errors.Is(err, types.ErrNotActive) {
		t.Errorf("expected ErrNotActive, got %v", err)
	}
	if _, err := f.service.Unassign(ctx, "missing", ""); !errors.Is(err, types.ErrAssignmentNotFound) {
		t.Errorf("expected ErrAssignmentNotFound, got %v", err)
	}
}

func TestService_ConcurrentAssignForLastSeats(t *testing.T) {
	f := newFixture(t, 10, 10, nil)
	ctx := context.Background()

	users := userIDs(50)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		noSeats   int
	)

	for _, u := range users {
		wg.Add(1)
		go func() {
			defer wg.Done()

			_, err := f.service.Assign(ctx, f.pool.ID, u, "admin")

			mu.Lock()
			defer mu.Unlock()

			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, types.ErrNoSeatsAvailable):
				noSeats++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if succeeded != 10 || noSeats != 40 {
		t.Errorf("expected 10 successes and 40 rejections, got %d and %d", succeeded, noSeats)
	}

	pool, sub := f.counters(t)
	if pool.AvailableSeats != 0 || sub.AssignedSeats != 10 {
		t.Errorf("unexpected counters pool=%+v sub=%d", pool, sub.AssignedSeats)
	}
}

func TestService_ConcurrentAssignSameUser(t *testing.T) {
	f := newFixture(t, 10, 10, nil)
	ctx := context.Background()

	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		succeeded  int
		duplicates int
	)

	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()

			_, err := f.service.Assign(ctx, f.pool.ID, "user-1", "admin")

			mu.Lock()
			defer mu.Unlock()

			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, types.ErrDuplicateAssignment):
				duplicates++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if succeeded != 1 || duplicates != 19 {
		t.Errorf("expected exactly one active assignment, got %d successes", succeeded)
	}

	active, _ := f.store.ListAssignments(ctx, f.sub.ID, types.AssignmentActive)
	if len(active) != 1 {
		t.Errorf("expected 1 active assignment, got %d", len(active))
	}

	pool, _ := f.counters(t)
	if pool.AssignedSeats != 1 {
		t.Errorf("expected 1 assigned seat, got %d", pool.AssignedSeats)
	}
}

// raceLostStore fails the guarded writes the way a concurrent writer
// that committed first makes PostgreSQL fail them.
type raceLostStore struct {
	*memory.Store

	adjustErr error
	createErr error
}

func (s *raceLostStore) AdjustPoolSeats(ctx context.Context, poolID string, delta int) error {
	if s.adjustErr != nil {
		return s.adjustErr
	}
	return s.Store.AdjustPoolSeats(ctx, poolID, delta)
}

func (s *raceLostStore) CreateAssignment(ctx context.Context, a *types.LicenseAssignment) (*types.LicenseAssignment, error) {
	if s.createErr != nil {
		return nil, s.createErr
	}
	return s.Store.CreateAssignment(ctx, a)
}

func TestService_AssignLosesGuardedWriteRace(t *testing.T) {
	tests := []struct {
		name        string
		adjustErr   error
		createErr   error
		expectedErr error
	}{
		{
			name:        "seat taken after the read",
			adjustErr:   fmt.Errorf("adjust pool seats: %w", storage.ErrConditionFailed),
			expectedErr: types.ErrNoSeatsAvailable,
		},
		{
			name:        "user assigned after the read",
			createErr:   fmt.Errorf("active assignment exists: %w", storage.ErrDuplicateKey),
			expectedErr: types.ErrDuplicateAssignment,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			f := newFixture(t, 5, 5, nil)

			logger := logging.NewNoopLogger()
			tracer := tracing.NewNoopTracer()
			monitor := monitoring.NewNoopMonitor("license-service", logger)

			store := &raceLostStore{Store: f.store, adjustErr: test.adjustErr, createErr: test.createErr}
			ent := entitlements.NewService(f.store, tracer, monitor, logger)
			s := NewService(store, ent, kratos.NewNoopClient(), bulk.NewRunner(50, 1), 150, tracer, monitor, logger)

			_, err := s.Assign(context.Background(), f.pool.ID, "user-1", "admin")
			if !errors.Is(err, test.expectedErr) {
				t.Fatalf("expected %v, got %v", test.expectedErr, err)
			}

			pool, sub := f.counters(t)
			if pool.AssignedSeats != 0 || sub.AssignedSeats != 0 {
				t.Errorf("expected the failed assignment to roll back, got pool %d subscription %d", pool.AssignedSeats, sub.AssignedSeats)
			}
			if ok, _ := f.store.HasActiveEntitlement(context.Background(), "user-1", "a"); ok {
				t.Error("expected no entitlement for the rejected user")
			}
		})
	}
}

func TestService_BulkAssignBoundaries(t *testing.T) {
	tests := []struct {
		name        string
		poolSeats   int
		users       int
		expectedErr error
	}{
		{name: "exactly the available seats", poolSeats: 20, users: 20},
		{name: "one more than available", poolSeats: 20, users: 21, expectedErr: types.ErrInsufficientSeats},
		{name: "above the batch cap", poolSeats: 200, users: 151, expectedErr: types.ErrBatchTooLarge},
		{name: "at the batch cap", poolSeats: 200, users: 150},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			f := newFixture(t, 200, test.poolSeats, nil)

			result, err := f.service.BulkAssign(context.Background(), f.pool.ID, userIDs(test.users), "admin")

			pool, _ := f.counters(t)

			if test.expectedErr != nil {
				if !errors.Is(err, test.expectedErr) {
					t.Fatalf("expected %v, got %v", test.expectedErr, err)
				}
				if pool.AssignedSeats != 0 {
					t.Errorf("expected no assignment, got %d", pool.AssignedSeats)
				}
				return
			}

			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(result.Successful) != test.users || len(result.Failed) != 0 {
				t.Errorf("expected %d successes, got %d (%d failed)", test.users, len(result.Successful), len(result.Failed))
			}
			if pool.AssignedSeats != test.users {
				t.Errorf("expected %d assigned seats, got %d", test.users, pool.AssignedSeats)
			}
		})
	}
}

func TestService_BulkAssignScenarios(t *testing.T) {
	ctx := context.Background()

	t.Run("150 users on 50 seats", func(t *testing.T) {
		f := newFixture(t, 50, 50, nil)

		_, err := f.service.BulkAssign(ctx, f.pool.ID, userIDs(150), "admin")
		if !errors.Is(err, types.ErrInsufficientSeats) {
			t.Fatalf("expected ErrInsufficientSeats, got %v", err)
		}

		assignments, _ := f.store.ListAssignments(ctx, f.sub.ID, "")
		if len(assignments) != 0 {
			t.Errorf("expected no assignment, got %d", len(assignments))
		}

		pool, _ := f.counters(t)
		if pool.AssignedSeats != 0 || pool.AvailableSeats != 50 {
			t.Errorf("expected pool unchanged, got %+v", pool)
		}
	})

	t.Run("150 users on 200 seats", func(t *testing.T) {
		f := newFixture(t, 200, 200, nil)

		result, err := f.service.BulkAssign(ctx, f.pool.ID, userIDs(150), "admin")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if len(result.Successful) != 150 || len(result.Failed) != 0 {
			t.Errorf("expected 150 successes, got %d (%d failed)", len(result.Successful), len(result.Failed))
		}
		if result.Stats.TotalBatches != 3 || result.Stats.ItemsPerBatch != 50 {
			t.Errorf("unexpected stats %+v", result.Stats)
		}

		pool, _ := f.counters(t)
		if pool.AssignedSeats != 150 {
			t.Errorf("expected 150 assigned seats, got %d", pool.AssignedSeats)
		}
	})
}

func TestService_BulkAssignCollectsItemFailures(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	identities := NewMockIdentityVerifierInterface(ctrl)
	identities.EXPECT().IdentityExists(gomock.Any(), "ghost").Return(false, nil)
	identities.EXPECT().IdentityExists(gomock.Any(), gomock.Not("ghost")).Return(true, nil).AnyTimes()

	f := newFixture(t, 10, 10, identities)
	ctx := context.Background()

	if _, err := f.service.Assign(ctx, f.pool.ID, "user-2", "admin"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	result, err := f.service.BulkAssign(ctx, f.pool.ID, []string{"user-1", "user-2", "ghost", "user-3", "user-1"}, "admin")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(result.Successful) != 2 {
		t.Fatalf("expected 2 successes, got %d", len(result.Successful))
	}
	if result.Successful[0].UserID != "user-1" || result.Successful[1].UserID != "user-3" {
		t.Errorf("expected input order to be kept, got %s, %s", result.Successful[0].UserID, result.Successful[1].UserID)
	}

	expected := []struct {
		id  string
		err error
	}{
		{"user-2", types.ErrDuplicateAssignment},
		{"ghost", types.ErrUserNotFound},
		{"user-1", types.ErrDuplicateAssignment},
	}
	if len(result.Failed) != len(expected) {
		t.Fatalf("expected %d failures, got %+v", len(expected), result.Failed)
	}
	for i, e := range expected {
		if result.Failed[i].ID != e.id || !errors.Is(result.Failed[i].Err(), e.err) {
			t.Errorf("failure %d: expected %s/%v, got %+v", i, e.id, e.err, result.Failed[i])
		}
	}
	if result.Processed != 5 {
		t.Errorf("expected 5 processed items, got %d", result.Processed)
	}

	pool, _ := f.counters(t)
	if pool.AssignedSeats != 3 {
		t.Errorf("expected 3 assigned seats, got %d", pool.AssignedSeats)
	}
}

func TestService_BulkUnassign(t *testing.T) {
	f := newFixture(t, 10, 10, nil)
	ctx := context.Background()

	result, err := f.service.BulkAssign(ctx, f.pool.ID, userIDs(4), "admin")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := f.service.Unassign(ctx, result.Successful[0].ID, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ids := []string{
		result.Successful[0].ID,
		result.Successful[1].ID,
		result.Successful[2].ID,
		"missing",
	}

	out, err := f.service.BulkUnassign(ctx, ids, "cleanup")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if out.RevokedCount != 2 || out.SkippedCount != 2 || len(out.Failed) != 0 {
		t.Errorf("unexpected result %+v", out)
	}

	pool, sub := f.counters(t)
	if pool.AssignedSeats != 1 || sub.AssignedSeats != 1 {
		t.Errorf("expected one remaining seat, got pool=%d sub=%d", pool.AssignedSeats, sub.AssignedSeats)
	}
}

func TestService_Transfer(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name        string
		from        string
		to          string
		expectedErr error
	}{
		{name: "success", from: "user-1", to: "user-9"},
		{name: "no active source", from: "user-8", to: "user-9", expectedErr: types.ErrNoActiveSource},
		{name: "target already assigned", from: "user-1", to: "user-2", expectedErr: types.ErrTargetAlreadyAssigned},
		{name: "same user", from: "user-1", to: "user-1", expectedErr: types.ErrValidation},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			f := newFixture(t, 10, 10, nil)

			if _, err := f.service.BulkAssign(ctx, f.pool.ID, []string{"user-1", "user-2"}, "admin"); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			before, beforeSub := f.counters(t)

			result, err := f.service.Transfer(ctx, f.sub.ID, test.from, test.to, "admin")

			after, afterSub := f.counters(t)
			if *after != *before || afterSub.AssignedSeats != beforeSub.AssignedSeats {
				t.Errorf("expected transfer to keep counters, got %+v", after)
			}

			if test.expectedErr != nil {
				if !errors.Is(err, test.expectedErr) {
					t.Fatalf("expected %v, got %v", test.expectedErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if result.OldAssignment.Status != types.AssignmentRevoked || result.OldAssignment.TransferredTo != test.to {
				t.Errorf("unexpected old assignment %+v", result.OldAssignment)
			}
			if result.NewAssignment.Status != types.AssignmentActive || result.NewAssignment.TransferredFrom != test.from {
				t.Errorf("unexpected new assignment %+v", result.NewAssignment)
			}

			if ok, _ := f.store.HasActiveEntitlement(ctx, test.from, "a"); ok {
				t.Error("expected source entitlements to be revoked")
			}
			if ok, _ := f.store.HasActiveEntitlement(ctx, test.to, "a"); !ok {
				t.Error("expected target entitlements to be granted")
			}
		})
	}
}

func TestService_AllocatePool(t *testing.T) {
	f := newFixture(t, 10, 6, nil)
	ctx := context.Background()

	pool, err := f.service.AllocatePool(ctx, f.sub.ID, "educator", 4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pool.AllocatedSeats != 4 || pool.AvailableSeats != 4 || pool.OrganizationID != "org-1" {
		t.Errorf("unexpected pool %+v", pool)
	}

	if _, err := f.service.AllocatePool(ctx, f.sub.ID, "educator", 5); !errors.Is(err, types.ErrInsufficientSeats) {
		t.Errorf("expected ErrInsufficientSeats, got %v", err)
	}

	if _, err := f.service.BulkAssign(ctx, f.pool.ID, userIDs(3), "admin"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := f.service.AllocatePool(ctx, f.sub.ID, "student", 2); !errors.Is(err, types.ErrBelowAssignedCount) {
		t.Errorf("expected ErrBelowAssignedCount, got %v", err)
	}

	resized, err := f.service.AllocatePool(ctx, f.sub.ID, "student", 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resized.ID != f.pool.ID || resized.AvailableSeats != 0 {
		t.Errorf("expected existing pool to be resized, got %+v", resized)
	}

	if _, err := f.service.AllocatePool(ctx, "missing", "student", 1); !errors.Is(err, types.ErrSubscriptionNotFound) {
		t.Errorf("expected ErrSubscriptionNotFound, got %v", err)
	}
}
