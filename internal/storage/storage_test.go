// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package storage

import (
	"context"
	"errors"
	"os"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/shopspring/decimal"

	"github.com/canonical/license-service/internal/db"
	"github.com/canonical/license-service/internal/logging"
	"github.com/canonical/license-service/internal/monitoring"
	"github.com/canonical/license-service/internal/tracing"
	"github.com/canonical/license-service/internal/types"
	"github.com/canonical/license-service/migrations"
)

// testDSNEnv points the PostgreSQL tests at a disposable database.
const testDSNEnv = "LICENSE_SERVICE_TEST_DSN"

var migrateOnce sync.Once

func newTestStorage(t *testing.T) *Storage {
	t.Helper()

	dsn := os.Getenv(testDSNEnv)
	if dsn == "" {
		t.Skipf("%s not set, skipping PostgreSQL tests", testDSNEnv)
	}

	migrateOnce.Do(func() {
		config, err := pgx.ParseConfig(dsn)
		if err != nil {
			t.Fatalf("invalid DSN: %v", err)
		}

		conn := stdlib.OpenDB(*config)
		defer conn.Close()

		provider, err := goose.NewProvider(goose.DialectPostgres, conn, migrations.EmbedMigrations, goose.WithLogger(goose.NopLogger()))
		if err != nil {
			t.Fatalf("failed to create goose provider: %v", err)
		}
		if _, err := provider.Up(context.Background()); err != nil {
			t.Fatalf("failed to migrate: %v", err)
		}
	})

	logger := logging.NewNoopLogger()
	tracer := tracing.NewNoopTracer()
	monitor := monitoring.NewNoopMonitor("license-service", logger)

	client, err := db.NewDBClient(
		db.Config{DSN: dsn, MaxConns: 8, MinConns: 1, MaxConnLifetime: time.Minute, MaxConnIdleTime: time.Minute},
		tracer, monitor, logger,
	)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	t.Cleanup(client.Close)

	return NewStorage(client, tracer, monitor, logger)
}

// createSubscription registers a subscription under a fresh organization so
// tests sharing a database never see each other's rows.
func createSubscription(t *testing.T, s *Storage, seats int, mutate func(*types.OrganizationSubscription)) *types.OrganizationSubscription {
	t.Helper()

	now := time.Now().UTC()
	sub := &types.OrganizationSubscription{
		OrganizationID:     "org-" + uuid.NewString(),
		PlanID:             "pro",
		TotalSeats:         seats,
		Status:             types.StatusActive,
		BillingCycle:       types.BillingCycleMonthly,
		StartDate:          now.Add(-24 * time.Hour),
		EndDate:            now.Add(29 * 24 * time.Hour),
		AutoRenew:          true,
		PricePerSeat:       decimal.RequireFromString("20.00"),
		DiscountPercentage: decimal.Zero,
		FinalAmount:        decimal.RequireFromString("20.00").Mul(decimal.NewFromInt(int64(seats))),
	}
	if mutate != nil {
		mutate(sub)
	}

	created, err := s.CreateSubscription(context.Background(), sub)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return created
}

func createPool(t *testing.T, s *Storage, sub *types.OrganizationSubscription, seats int) *types.LicensePool {
	t.Helper()

	pool, err := s.CreatePool(context.Background(), &types.LicensePool{
		OrganizationSubscriptionID: sub.ID,
		OrganizationID:             sub.OrganizationID,
		MemberType:                 "student",
		AllocatedSeats:             seats,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return pool
}

// race runs fn twice at once and returns both errors.
func race(fn func() error) []error {
	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
		errs  = make([]error, 2)
	)

	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			errs[i] = fn()
		}()
	}

	close(start)
	wg.Wait()

	return errs
}

func TestStorage_LastSeatRace(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	sub := createSubscription(t, s, 1, nil)
	pool := createPool(t, s, sub, 1)

	errs := race(func() error {
		return s.WithTx(ctx, func(ctx context.Context) error {
			if err := s.AdjustPoolSeats(ctx, pool.ID, 1); err != nil {
				return err
			}
			return s.AdjustAssignedSeats(ctx, sub.ID, 1)
		})
	})

	var succeeded, rejected int
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ErrConditionFailed):
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 || rejected != 1 {
		t.Fatalf("expected one winner and one rejection, got %d and %d", succeeded, rejected)
	}

	after, err := s.GetPool(ctx, pool.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if after.AssignedSeats != 1 || after.AvailableSeats != 0 {
		t.Errorf("unexpected pool counters %+v", after)
	}

	subAfter, err := s.GetSubscription(ctx, sub.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if subAfter.AssignedSeats != 1 {
		t.Errorf("expected 1 assigned seat, got %d", subAfter.AssignedSeats)
	}
}

func TestStorage_AdjustPoolSeatsBounds(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	sub := createSubscription(t, s, 2, nil)
	pool := createPool(t, s, sub, 2)

	tests := []struct {
		name  string
		delta int
		err   error
	}{
		{name: "release from empty pool", delta: -1, err: ErrConditionFailed},
		{name: "take both seats", delta: 2},
		{name: "take a third seat", delta: 1, err: ErrConditionFailed},
		{name: "release one", delta: -1},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			err := s.AdjustPoolSeats(ctx, pool.ID, test.delta)
			if !errors.Is(err, test.err) {
				t.Fatalf("expected %v, got %v", test.err, err)
			}
		})
	}

	after, err := s.GetPool(ctx, pool.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if after.AssignedSeats != 1 || after.AvailableSeats != 1 {
		t.Errorf("unexpected pool counters %+v", after)
	}
}

func TestStorage_SameUserAssignmentRace(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	sub := createSubscription(t, s, 5, nil)
	pool := createPool(t, s, sub, 5)

	errs := race(func() error {
		return s.WithTx(ctx, func(ctx context.Context) error {
			_, err := s.CreateAssignment(ctx, &types.LicenseAssignment{
				LicensePoolID:              pool.ID,
				OrganizationSubscriptionID: sub.ID,
				UserID:                     "user-1",
				MemberType:                 pool.MemberType,
				Status:                     types.AssignmentActive,
				AssignedAt:                 time.Now(),
				AssignedBy:                 "admin",
			})
			return err
		})
	})

	var succeeded, duplicates int
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ErrDuplicateKey):
			duplicates++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 || duplicates != 1 {
		t.Fatalf("expected one assignment and one duplicate, got %d and %d", succeeded, duplicates)
	}

	active, err := s.ListAssignments(ctx, sub.ID, types.AssignmentActive)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(active) != 1 {
		t.Errorf("expected a single active assignment, got %d", len(active))
	}
}

func TestStorage_GrantEntitlement(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	sub := createSubscription(t, s, 1, nil)
	userID := "user-" + uuid.NewString()

	steps := []struct {
		name     string
		run      func() (bool, error)
		expected bool
	}{
		{
			name:     "first grant",
			run:      func() (bool, error) { return s.GrantEntitlement(ctx, userID, sub.ID, "analytics") },
			expected: true,
		},
		{
			name:     "repeated grant",
			run:      func() (bool, error) { return s.GrantEntitlement(ctx, userID, sub.ID, "analytics") },
			expected: false,
		},
		{
			name: "revoke",
			run: func() (bool, error) {
				n, err := s.RevokeEntitlements(ctx, userID, sub.ID, nil, "unassigned", time.Now())
				return n == 1, err
			},
			expected: true,
		},
		{
			name:     "regrant reactivates",
			run:      func() (bool, error) { return s.GrantEntitlement(ctx, userID, sub.ID, "analytics") },
			expected: true,
		},
	}

	for _, step := range steps {
		got, err := step.run()
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", step.name, err)
		}
		if got != step.expected {
			t.Fatalf("%s: expected %v, got %v", step.name, step.expected, got)
		}
	}

	rows, err := s.ListEntitlements(ctx, userID, sub.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 1 || !rows[0].IsActive || rows[0].RevocationReason != "" {
		t.Errorf("expected one reactivated row, got %+v", rows)
	}
}

func TestStorage_ListSweepCandidates(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	now := time.Now().UTC()

	expired := createSubscription(t, s, 1, func(sub *types.OrganizationSubscription) {
		sub.EndDate = now.Add(-time.Hour)
		sub.AutoRenew = false
	})
	renewing := createSubscription(t, s, 1, func(sub *types.OrganizationSubscription) {
		sub.EndDate = now.Add(-time.Hour)
	})
	graceElapsed := createSubscription(t, s, 1, nil)
	cancelledLater := createSubscription(t, s, 1, func(sub *types.OrganizationSubscription) {
		sub.Status = types.StatusCancelled
	})

	graceEnd := now.Add(-time.Minute)
	graceElapsed.Status = types.StatusGracePeriod
	graceElapsed.GracePeriodEnd = &graceEnd
	if err := s.UpdateSubscription(ctx, graceElapsed); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	candidates, err := s.ListSweepCandidates(ctx, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ids := make([]string, 0, len(candidates))
	for _, c := range candidates {
		ids = append(ids, c.ID)
	}

	tests := []struct {
		name     string
		id       string
		expected bool
	}{
		{name: "ended without renewal", id: expired.ID, expected: true},
		{name: "ended with renewal", id: renewing.ID, expected: false},
		{name: "grace period elapsed", id: graceElapsed.ID, expected: true},
		{name: "cancelled before end", id: cancelledLater.ID, expected: false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := slices.Contains(ids, test.id); got != test.expected {
				t.Errorf("expected candidate %v, got %v", test.expected, got)
			}
		})
	}
}

func TestStorage_ConcurrentPlanScans(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 16)

	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()

			plan, err := s.GetPlan(ctx, "enterprise")
			if err != nil {
				errs <- err
				return
			}
			if !slices.Contains(plan.Features, "sso") {
				errs <- errors.New("enterprise plan lost its features")
				return
			}

			plans, err := s.ListPlans(ctx)
			if err != nil {
				errs <- err
				return
			}
			if len(plans) < 3 {
				errs <- errors.New("expected the seeded plans")
			}
		}()
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
}
