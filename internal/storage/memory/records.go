// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package memory

import (
	"context"
	"slices"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/canonical/license-service/internal/storage"
	"github.com/canonical/license-service/internal/types"
)

func (s *Store) CreateAssignment(ctx context.Context, a *types.LicenseAssignment) (*types.LicenseAssignment, error) {
	defer s.lock(ctx)()

	if a.Status == types.AssignmentActive {
		for _, existing := range s.state.assignments {
			if existing.Status == types.AssignmentActive &&
				existing.UserID == a.UserID &&
				existing.OrganizationSubscriptionID == a.OrganizationSubscriptionID {
				return nil, storage.ErrDuplicateKey
			}
		}
	}

	c := *a
	c.ID = s.nextID("assignment")
	s.state.assignments[c.ID] = c

	out := c
	return &out, nil
}

func (s *Store) GetAssignment(ctx context.Context, id string) (*types.LicenseAssignment, error) {
	defer s.lock(ctx)()

	a, ok := s.state.assignments[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &a, nil
}

func (s *Store) GetActiveAssignment(ctx context.Context, subscriptionID, userID string) (*types.LicenseAssignment, error) {
	defer s.lock(ctx)()

	for _, a := range s.state.assignments {
		if a.Status == types.AssignmentActive && a.OrganizationSubscriptionID == subscriptionID && a.UserID == userID {
			return &a, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *Store) ListAssignments(ctx context.Context, subscriptionID string, status types.AssignmentStatus) ([]*types.LicenseAssignment, error) {
	defer s.lock(ctx)()

	return s.filterAssignments(func(a *types.LicenseAssignment) bool {
		return a.OrganizationSubscriptionID == subscriptionID && (status == "" || a.Status == status)
	}), nil
}

func (s *Store) filterAssignments(keep func(*types.LicenseAssignment) bool) []*types.LicenseAssignment {
	var out []*types.LicenseAssignment
	for _, a := range s.state.assignments {
		if keep(&a) {
			out = append(out, &a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return s.position("assignment", out[i].ID) < s.position("assignment", out[j].ID)
	})
	return out
}

func (s *Store) CloseAssignment(ctx context.Context, a *types.LicenseAssignment) error {
	defer s.lock(ctx)()

	current, ok := s.state.assignments[a.ID]
	if !ok || current.Status != types.AssignmentActive {
		return conditionFailed("close assignment")
	}
	current.Status = a.Status
	current.RevokedAt = a.RevokedAt
	current.RevocationReason = a.RevocationReason
	current.TransferredTo = a.TransferredTo
	s.state.assignments[a.ID] = current
	return nil
}

func (s *Store) ExpireAssignments(ctx context.Context, subscriptionID string, at time.Time) ([]*types.LicenseAssignment, error) {
	defer s.lock(ctx)()

	expired := s.filterAssignments(func(a *types.LicenseAssignment) bool {
		return a.OrganizationSubscriptionID == subscriptionID && a.Status == types.AssignmentActive
	})
	for _, a := range expired {
		a.Status = types.AssignmentExpired
		a.RevokedAt = &at
		a.RevocationReason = "subscription expired"
		s.state.assignments[a.ID] = *a
	}
	return expired, nil
}

func entitlementKey(userID, subscriptionID, featureKey string) string {
	return userID + "\x00" + subscriptionID + "\x00" + featureKey
}

func (s *Store) GrantEntitlement(ctx context.Context, userID, subscriptionID, featureKey string) (bool, error) {
	defer s.lock(ctx)()

	key := entitlementKey(userID, subscriptionID, featureKey)
	e, ok := s.state.entitlements[key]
	if ok && e.IsActive {
		return false, nil
	}
	if !ok {
		e = types.Entitlement{
			ID:                         s.nextID("entitlement"),
			UserID:                     userID,
			FeatureKey:                 featureKey,
			GrantedByOrganization:      true,
			OrganizationSubscriptionID: subscriptionID,
		}
	}
	e.IsActive = true
	e.RevokedAt = nil
	e.RevocationReason = ""
	s.state.entitlements[key] = e
	return true, nil
}

func (s *Store) RevokeEntitlements(ctx context.Context, userID, subscriptionID string, featureKeys []string, reason string, at time.Time) (int, error) {
	defer s.lock(ctx)()

	return s.revokeEntitlements(func(e *types.Entitlement) bool {
		return e.UserID == userID &&
			e.OrganizationSubscriptionID == subscriptionID &&
			(featureKeys == nil || slices.Contains(featureKeys, e.FeatureKey))
	}, reason, at), nil
}

func (s *Store) RevokeSubscriptionEntitlements(ctx context.Context, subscriptionID, reason string, at time.Time) (int, error) {
	defer s.lock(ctx)()

	return s.revokeEntitlements(func(e *types.Entitlement) bool {
		return e.OrganizationSubscriptionID == subscriptionID
	}, reason, at), nil
}

func (s *Store) revokeEntitlements(match func(*types.Entitlement) bool, reason string, at time.Time) int {
	n := 0
	for key, e := range s.state.entitlements {
		if !e.IsActive || !match(&e) {
			continue
		}
		e.IsActive = false
		e.RevokedAt = &at
		e.RevocationReason = reason
		s.state.entitlements[key] = e
		n++
	}
	return n
}

func (s *Store) ListEntitlements(ctx context.Context, userID, subscriptionID string) ([]*types.Entitlement, error) {
	defer s.lock(ctx)()

	return s.filterEntitlements(func(e *types.Entitlement) bool {
		return e.UserID == userID && e.OrganizationSubscriptionID == subscriptionID
	}), nil
}

func (s *Store) ListActiveEntitlementsByUser(ctx context.Context, userID string) ([]*types.Entitlement, error) {
	defer s.lock(ctx)()

	return s.filterEntitlements(func(e *types.Entitlement) bool {
		return e.UserID == userID && e.IsActive
	}), nil
}

func (s *Store) filterEntitlements(keep func(*types.Entitlement) bool) []*types.Entitlement {
	var out []*types.Entitlement
	for _, e := range s.state.entitlements {
		if keep(&e) {
			out = append(out, &e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FeatureKey < out[j].FeatureKey })
	return out
}

// HasActiveEntitlement checks the raw entitlement rows, ignoring subscription access.
func (s *Store) HasActiveEntitlement(ctx context.Context, userID, featureKey string) (bool, error) {
	defer s.lock(ctx)()

	for _, e := range s.state.entitlements {
		if e.IsActive && e.UserID == userID && e.FeatureKey == featureKey {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) CreateInvitation(ctx context.Context, inv *types.Invitation) (*types.Invitation, error) {
	defer s.lock(ctx)()

	for _, existing := range s.state.invitations {
		if existing.Token == inv.Token {
			return nil, storage.ErrDuplicateKey
		}
		if inv.Status == types.InvitationPending &&
			existing.Status == types.InvitationPending &&
			existing.OrganizationID == inv.OrganizationID &&
			existing.Email == inv.Email {
			return nil, storage.ErrDuplicateKey
		}
	}
	if inv.TargetLicensePoolID != "" {
		if _, ok := s.state.pools[inv.TargetLicensePoolID]; !ok {
			return nil, storage.ErrForeignKeyViolation
		}
	}

	c := *inv
	c.ID = s.nextID("invitation")
	c.CreatedAt = time.Now()
	s.state.invitations[c.ID] = c

	out := c
	return &out, nil
}

func (s *Store) GetInvitation(ctx context.Context, id string) (*types.Invitation, error) {
	defer s.lock(ctx)()

	inv, ok := s.state.invitations[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &inv, nil
}

func (s *Store) GetInvitationByToken(ctx context.Context, token string) (*types.Invitation, error) {
	defer s.lock(ctx)()

	for _, inv := range s.state.invitations {
		if inv.Token == token {
			return &inv, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *Store) ListInvitations(ctx context.Context, organizationID string) ([]*types.Invitation, error) {
	defer s.lock(ctx)()

	var out []*types.Invitation
	for _, inv := range s.state.invitations {
		if inv.OrganizationID == organizationID {
			out = append(out, &inv)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return s.position("invitation", out[i].ID) > s.position("invitation", out[j].ID)
	})
	return out, nil
}

func (s *Store) UpdateInvitationStatus(ctx context.Context, inv *types.Invitation) error {
	defer s.lock(ctx)()

	current, ok := s.state.invitations[inv.ID]
	if !ok || current.Status != types.InvitationPending {
		return conditionFailed("update invitation")
	}
	current.Status = inv.Status
	current.AcceptedAt = inv.AcceptedAt
	current.AcceptedBy = inv.AcceptedBy
	s.state.invitations[inv.ID] = current
	return nil
}

func (s *Store) RotateInvitationToken(ctx context.Context, id, token string, expiresAt time.Time) error {
	defer s.lock(ctx)()

	current, ok := s.state.invitations[id]
	if !ok || current.Status != types.InvitationPending {
		return conditionFailed("rotate invitation token")
	}
	current.Token = token
	current.ExpiresAt = expiresAt
	s.state.invitations[id] = current
	return nil
}

func (s *Store) CountInvitationsByStatus(ctx context.Context, organizationID string) (map[types.InvitationStatus]int, error) {
	defer s.lock(ctx)()

	counts := make(map[types.InvitationStatus]int)
	for _, inv := range s.state.invitations {
		if inv.OrganizationID == organizationID {
			counts[inv.Status]++
		}
	}
	return counts, nil
}

func (s *Store) ExpireStaleInvitations(ctx context.Context, now time.Time) (int, error) {
	defer s.lock(ctx)()

	n := 0
	for id, inv := range s.state.invitations {
		if inv.Status == types.InvitationPending && !now.Before(inv.ExpiresAt) {
			inv.Status = types.InvitationExpired
			s.state.invitations[id] = inv
			n++
		}
	}
	return n, nil
}

func (s *Store) CreatePayment(ctx context.Context, p *types.Payment) (*types.Payment, error) {
	defer s.lock(ctx)()

	for _, existing := range s.state.payments {
		if existing.GatewayPaymentID == p.GatewayPaymentID && existing.Type == p.Type {
			return nil, storage.ErrDuplicateKey
		}
	}

	c := *p
	c.ID = s.nextID("payment")
	if c.RefundStatus == "" {
		c.RefundStatus = types.RefundNone
	}
	s.state.payments[c.ID] = c

	out := c
	return &out, nil
}

func (s *Store) GetPaymentByGatewayID(ctx context.Context, gatewayPaymentID string) (*types.Payment, error) {
	defer s.lock(ctx)()

	var latest *types.Payment
	for _, p := range s.state.payments {
		if p.GatewayPaymentID != gatewayPaymentID {
			continue
		}
		if latest == nil || s.position("payment", p.ID) > s.position("payment", latest.ID) {
			latest = &p
		}
	}
	if latest == nil {
		return nil, storage.ErrNotFound
	}
	return latest, nil
}

func (s *Store) UpdatePaymentRefund(ctx context.Context, id string, amount decimal.Decimal, status types.RefundStatus, at time.Time) error {
	defer s.lock(ctx)()

	p, ok := s.state.payments[id]
	if !ok {
		return conditionFailed("update payment refund")
	}
	p.RefundAmount = amount
	p.RefundStatus = status
	p.RefundedAt = &at
	s.state.payments[id] = p
	return nil
}

func (s *Store) CreateWebhookEvent(ctx context.Context, e *types.WebhookEvent) (*types.WebhookEvent, error) {
	defer s.lock(ctx)()

	if e.GatewayEventID != "" {
		for _, existing := range s.state.webhookEvents {
			if existing.GatewayEventID == e.GatewayEventID {
				return nil, storage.ErrDuplicateKey
			}
		}
	}

	c := *e
	c.ID = s.nextID("event")
	s.state.webhookEvents[c.ID] = c

	out := c
	return &out, nil
}

func (s *Store) ListWebhookEvents(ctx context.Context, subscriptionID string, limit uint64) ([]*types.WebhookEvent, error) {
	defer s.lock(ctx)()

	var out []*types.WebhookEvent
	for _, e := range s.state.webhookEvents {
		if subscriptionID == "" || e.SubscriptionID == subscriptionID {
			out = append(out, &e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return s.position("event", out[i].ID) > s.position("event", out[j].ID)
	})
	if limit > 0 && uint64(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}
