// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package cmd

import (
	"context"
	"fmt"

	"github.com/canonical/license-service/internal/authorization"
	"github.com/canonical/license-service/internal/config"
	"github.com/canonical/license-service/internal/db"
	"github.com/canonical/license-service/internal/kratos"
	"github.com/canonical/license-service/internal/logging"
	"github.com/canonical/license-service/internal/monitoring"
	"github.com/canonical/license-service/internal/openfga"
	"github.com/canonical/license-service/internal/storage"
	"github.com/canonical/license-service/internal/tracing"
	"github.com/canonical/license-service/pkg/bulk"
	"github.com/canonical/license-service/pkg/entitlements"
	"github.com/canonical/license-service/pkg/invitations"
	"github.com/canonical/license-service/pkg/licenses"
	"github.com/canonical/license-service/pkg/organizations"
	"github.com/canonical/license-service/pkg/plans"
	"github.com/canonical/license-service/pkg/subscriptions"
	"github.com/canonical/license-service/pkg/web"
	"github.com/canonical/license-service/pkg/webhooks"
)

// application holds every service of the license domain, wired to one storage.
type application struct {
	authorizer *authorization.Authorizer

	entitlements  *entitlements.Service
	licenses      *licenses.Service
	invitations   *invitations.Service
	plans         *plans.Service
	subscriptions *subscriptions.Service
	webhooks      *webhooks.Service
	organizations *organizations.Service
}

// identityClient is the part of kratos both the licenses and organizations packages rely on.
type identityClient interface {
	IdentityExists(ctx context.Context, id string) (bool, error)
}

func newAuthorizer(specs *config.EnvSpec, tracer tracing.TracingInterface, monitor monitoring.MonitorInterface, logger logging.LoggerInterface) (*authorization.Authorizer, error) {
	if !specs.AuthorizationEnabled {
		logger.Info("Using noop authorizer")
		return authorization.NewAuthorizer(
			openfga.NewNoopClient(tracer, monitor, logger),
			tracer,
			monitor,
			logger,
		), nil
	}

	ofga, err := openfga.NewClient(
		openfga.NewConfig(
			specs.OpenfgaApiScheme,
			specs.OpenfgaApiHost,
			specs.OpenfgaStoreId,
			specs.OpenfgaApiToken,
			specs.OpenfgaModelId,
			specs.Debug,
			tracer,
			monitor,
			logger,
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create openfga client: %w", err)
	}

	authorizer := authorization.NewAuthorizer(ofga, tracer, monitor, logger)
	logger.Info("Authorization is enabled")

	if err := authorizer.ValidateModel(context.Background()); err != nil {
		return nil, fmt.Errorf("invalid authorization model provided: %w", err)
	}

	return authorizer, nil
}

func newIdentityClient(specs *config.EnvSpec, tracer tracing.TracingInterface, monitor monitoring.MonitorInterface, logger logging.LoggerInterface) identityClient {
	if specs.KratosAdminURL == "" {
		logger.Info("Kratos admin URL not set, identities are not verified")
		return kratos.NewNoopClient()
	}

	return kratos.NewClient(specs.KratosAdminURL, tracer, monitor, logger)
}

func newApplication(specs *config.EnvSpec, dbClient db.DBClientInterface, tracer tracing.TracingInterface, monitor monitoring.MonitorInterface, logger logging.LoggerInterface) (*application, error) {
	s := storage.NewStorage(dbClient, tracer, monitor, logger)

	authorizer, err := newAuthorizer(specs, tracer, monitor, logger)
	if err != nil {
		return nil, err
	}

	identities := newIdentityClient(specs, tracer, monitor, logger)
	runner := bulk.NewRunner(specs.BulkChunkSize, specs.BulkConcurrency)

	app := new(application)
	app.authorizer = authorizer

	app.entitlements = entitlements.NewService(s, tracer, monitor, logger)
	app.licenses = licenses.NewService(s, app.entitlements, identities, runner, specs.MaxBulkAssignSize, tracer, monitor, logger)
	app.invitations = invitations.NewService(s, app.licenses, runner, specs.MaxBulkInviteSize, specs.InvitationExpiryDays, tracer, monitor, logger)
	app.plans = plans.NewService(s, app.entitlements, tracer, monitor, logger)
	app.subscriptions = subscriptions.NewService(
		s,
		app.entitlements,
		app.plans,
		app.invitations,
		specs.GracePeriodDays,
		specs.PaymentFailureThreshold,
		tracer,
		monitor,
		logger,
	)
	app.webhooks = webhooks.NewService(s, app.subscriptions, tracer, monitor, logger)
	app.organizations = organizations.NewService(authorizer, identities, tracer, monitor, logger)

	return app, nil
}

// apis exposes every service over HTTP.
func (a *application) apis(specs *config.EnvSpec, tracer tracing.TracingInterface, monitor monitoring.MonitorInterface, logger logging.LoggerInterface) []web.APIInterface {
	return []web.APIInterface{
		entitlements.NewAPI(a.entitlements, tracer, monitor, logger),
		licenses.NewAPI(a.licenses, a.authorizer, tracer, monitor, logger),
		invitations.NewAPI(a.invitations, a.authorizer, tracer, monitor, logger),
		plans.NewAPI(a.plans, a.authorizer, tracer, monitor, logger),
		subscriptions.NewAPI(a.subscriptions, a.authorizer, tracer, monitor, logger),
		organizations.NewAPI(a.organizations, a.authorizer, tracer, monitor, logger),
		webhooks.NewAPI(a.webhooks, a.subscriptions, a.authorizer, specs.WebhookSecret, tracer, monitor, logger),
	}
}
