// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

// Package memory is an in-process implementation of storage.StorageInterface.
// Transactions are serialized by a single mutex and rolled back from a snapshot,
// which keeps the same invariants as the PostgreSQL store under parallel callers.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/canonical/license-service/internal/storage"
	"github.com/canonical/license-service/internal/types"
)

var _ storage.StorageInterface = (*Store)(nil)

type txKey struct{}

type state struct {
	plans         map[string]types.Plan
	subscriptions map[string]types.OrganizationSubscription
	pools         map[string]types.LicensePool
	assignments   map[string]types.LicenseAssignment
	entitlements  map[string]types.Entitlement
	invitations   map[string]types.Invitation
	payments      map[string]types.Payment
	webhookEvents map[string]types.WebhookEvent

	// insertion order for deterministic listings
	order map[string]int
	seq   int
}

func newState() *state {
	return &state{
		plans:         make(map[string]types.Plan),
		subscriptions: make(map[string]types.OrganizationSubscription),
		pools:         make(map[string]types.LicensePool),
		assignments:   make(map[string]types.LicenseAssignment),
		entitlements:  make(map[string]types.Entitlement),
		invitations:   make(map[string]types.Invitation),
		payments:      make(map[string]types.Payment),
		webhookEvents: make(map[string]types.WebhookEvent),
		order:         make(map[string]int),
	}
}

func (s *state) clone() *state {
	c := &state{
		plans:         cloneMap(s.plans),
		subscriptions: cloneMap(s.subscriptions),
		pools:         cloneMap(s.pools),
		assignments:   cloneMap(s.assignments),
		entitlements:  cloneMap(s.entitlements),
		invitations:   cloneMap(s.invitations),
		payments:      cloneMap(s.payments),
		webhookEvents: cloneMap(s.webhookEvents),
		order:         cloneMap(s.order),
		seq:           s.seq,
	}
	return c
}

func cloneMap[V any](m map[string]V) map[string]V {
	c := make(map[string]V, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}

type Store struct {
	mu    sync.Mutex
	state *state
}

func NewStore() *Store {
	s := new(Store)
	s.state = newState()
	return s
}

// WithTx holds the store lock for the duration of fn and restores the snapshot taken
// on entry if fn fails.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context) error) error {
	if inTx(ctx) {
		return fn(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.state.clone()

	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		s.state = snapshot
		return err
	}

	return nil
}

func inTx(ctx context.Context) bool {
	v, _ := ctx.Value(txKey{}).(bool)
	return v
}

// lock acquires the store lock unless ctx already runs inside WithTx.
func (s *Store) lock(ctx context.Context) func() {
	if inTx(ctx) {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *Store) nextID(key string) string {
	id := uuid.Must(uuid.NewV7()).String()
	s.state.seq++
	s.state.order[key+id] = s.state.seq
	return id
}

func (s *Store) position(key, id string) int {
	return s.state.order[key+id]
}

func conditionFailed(op string) error {
	return fmt.Errorf("%s: %w", op, storage.ErrConditionFailed)
}
