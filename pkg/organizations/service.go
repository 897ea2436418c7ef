// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package organizations

import (
	"context"
	"fmt"
	"slices"

	"github.com/canonical/license-service/internal/logging"
	"github.com/canonical/license-service/internal/monitoring"
	"github.com/canonical/license-service/internal/tracing"
	"github.com/canonical/license-service/internal/types"
)

// Service manages who administers an organization. Administrators hold every
// organization level permission on subscriptions, pools and invitations.
type Service struct {
	authz      AuthorizerInterface
	identities IdentityVerifierInterface

	tracer  tracing.TracingInterface
	monitor monitoring.MonitorInterface
	logger  logging.LoggerInterface
}

func (s *Service) ListAdmins(ctx context.Context, organizationID string) ([]string, error) {
	ctx, span := s.tracer.Start(ctx, "organizations.Service.ListAdmins")
	defer span.End()

	return s.authz.ListOrganizationAdmins(ctx, organizationID)
}

// AddAdmin grants userID the administrator relation. Adding an existing
// administrator is a no-op.
func (s *Service) AddAdmin(ctx context.Context, organizationID, userID string) error {
	ctx, span := s.tracer.Start(ctx, "organizations.Service.AddAdmin")
	defer span.End()

	exists, err := s.identities.IdentityExists(ctx, userID)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s", types.ErrUserNotFound, userID)
	}

	admins, err := s.authz.ListOrganizationAdmins(ctx, organizationID)
	if err != nil {
		return err
	}
	if slices.Contains(admins, userID) {
		return nil
	}

	if err := s.authz.AssignOrganizationAdmin(ctx, organizationID, userID); err != nil {
		return err
	}

	s.logger.Infof("user %s now administers organization %s", userID, organizationID)
	return nil
}

// RemoveAdmin revokes the administrator relation, refusing to leave the organization
// without administrators.
func (s *Service) RemoveAdmin(ctx context.Context, organizationID, userID string) error {
	ctx, span := s.tracer.Start(ctx, "organizations.Service.RemoveAdmin")
	defer span.End()

	admins, err := s.authz.ListOrganizationAdmins(ctx, organizationID)
	if err != nil {
		return err
	}
	if !slices.Contains(admins, userID) {
		return fmt.Errorf("%w: %s does not administer %s", types.ErrUserNotFound, userID, organizationID)
	}
	if len(admins) == 1 {
		return types.ErrLastAdmin
	}

	return s.authz.RemoveOrganizationAdmin(ctx, organizationID, userID)
}

func (s *Service) ListManaged(ctx context.Context, userID string) ([]string, error) {
	ctx, span := s.tracer.Start(ctx, "organizations.Service.ListManaged")
	defer span.End()

	return s.authz.ListManagedOrganizations(ctx, userID)
}

func NewService(authz AuthorizerInterface, identities IdentityVerifierInterface, tracer tracing.TracingInterface, monitor monitoring.MonitorInterface, logger logging.LoggerInterface) *Service {
	s := new(Service)

	s.authz = authz
	s.identities = identities

	s.tracer = tracer
	s.monitor = monitor
	s.logger = logger

	return s
}
