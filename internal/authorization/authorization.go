// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package authorization

import (
	"context"
	"fmt"

	"github.com/canonical/license-service/internal/logging"
	"github.com/canonical/license-service/internal/monitoring"
	"github.com/canonical/license-service/internal/openfga"
	"github.com/canonical/license-service/internal/tracing"
	"github.com/canonical/license-service/pkg/authentication"
)

var ErrInvalidAuthModel = fmt.Errorf("invalid authorization model schema")

type Authorizer struct {
	client AuthzClientInterface

	tracer  tracing.TracingInterface
	monitor monitoring.MonitorInterface
	logger  logging.LoggerInterface
}

func (a *Authorizer) Check(ctx context.Context, user string, relation string, object string, contextualTuples ...openfga.Tuple) (bool, error) {
	ctx, span := a.tracer.Start(ctx, "authorization.Authorizer.Check")
	defer span.End()

	return a.client.Check(ctx, user, relation, object, contextualTuples...)
}

func (a *Authorizer) ValidateModel(ctx context.Context) error {
	ctx, span := a.tracer.Start(ctx, "authorization.Authorizer.ValidateModel")
	defer span.End()

	model := *NewAuthorizationModelProvider("v0").GetModel()

	eq, err := a.client.CompareModel(ctx, model)
	if err != nil {
		return err
	}
	if !eq {
		return ErrInvalidAuthModel
	}
	return nil
}

// CanManageOrganization checks the caller stored in ctx. Anonymous callers manage nothing.
func (a *Authorizer) CanManageOrganization(ctx context.Context, organizationId string) (bool, error) {
	ctx, span := a.tracer.Start(ctx, "authorization.Authorizer.CanManageOrganization")
	defer span.End()

	userId, ok := authentication.GetUserID(ctx)
	if !ok || userId == "" {
		return false, nil
	}

	allowed, err := a.client.Check(ctx, UserTuple(userId), CAN_MANAGE_PERMISSION, OrganizationTuple(organizationId))
	if err != nil {
		return false, err
	}

	if !allowed {
		a.logger.Security().AuthzFailure(userId, OrganizationTuple(organizationId))
	}

	return allowed, nil
}

func (a *Authorizer) AssignOrganizationAdmin(ctx context.Context, organizationId, userId string) error {
	ctx, span := a.tracer.Start(ctx, "authorization.Authorizer.AssignOrganizationAdmin")
	defer span.End()

	return a.client.WriteTuple(ctx, UserTuple(userId), ADMIN_RELATION, OrganizationTuple(organizationId))
}

func (a *Authorizer) RemoveOrganizationAdmin(ctx context.Context, organizationId, userId string) error {
	ctx, span := a.tracer.Start(ctx, "authorization.Authorizer.RemoveOrganizationAdmin")
	defer span.End()

	return a.client.DeleteTuple(ctx, UserTuple(userId), ADMIN_RELATION, OrganizationTuple(organizationId))
}

// ListOrganizationAdmins returns the user ids holding the admin relation, following
// continuation tokens until the store is exhausted.
func (a *Authorizer) ListOrganizationAdmins(ctx context.Context, organizationId string) ([]string, error) {
	ctx, span := a.tracer.Start(ctx, "authorization.Authorizer.ListOrganizationAdmins")
	defer span.End()

	admins := []string{}

	cToken := ""
	for {
		r, err := a.client.ReadTuples(ctx, "", ADMIN_RELATION, OrganizationTuple(organizationId), cToken)
		if err != nil {
			a.logger.Errorf("error when retrieving tuples: %s", err)
			return nil, err
		}

		for _, t := range r.Tuples {
			admins = append(admins, stripType(t.Key.User))
		}

		if r.ContinuationToken == "" || len(r.Tuples) == 0 {
			break
		}
		cToken = r.ContinuationToken
	}

	return admins, nil
}

func (a *Authorizer) ListManagedOrganizations(ctx context.Context, userId string) ([]string, error) {
	ctx, span := a.tracer.Start(ctx, "authorization.Authorizer.ListManagedOrganizations")
	defer span.End()

	objects, err := a.client.ListObjects(ctx, UserTuple(userId), CAN_MANAGE_PERMISSION, "organization")
	if err != nil {
		return nil, err
	}

	organizations := make([]string, 0, len(objects))
	for _, o := range objects {
		organizations = append(organizations, stripType(o))
	}
	return organizations, nil
}

func NewAuthorizer(client AuthzClientInterface, tracer tracing.TracingInterface, monitor monitoring.MonitorInterface, logger logging.LoggerInterface) *Authorizer {
	authorizer := new(Authorizer)
	authorizer.client = client
	authorizer.tracer = tracer
	authorizer.monitor = monitor
	authorizer.logger = logger

	return authorizer
}
