// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package kratos

import (
	"context"
	"fmt"
	"net/http"

	ory "github.com/ory/client-go"

	"github.com/canonical/license-service/internal/logging"
	"github.com/canonical/license-service/internal/monitoring"
	"github.com/canonical/license-service/internal/tracing"
)

type ClientInterface interface {
	IdentityExists(ctx context.Context, id string) (bool, error)
	GetIdentityEmail(ctx context.Context, id string) (string, error)
}

// Client looks up identities through the Kratos admin API.
type Client struct {
	client *ory.APIClient

	tracer  tracing.TracingInterface
	monitor monitoring.MonitorInterface
	logger  logging.LoggerInterface
}

// IdentityExists reports whether Kratos knows the identity. Unknown ids are not an error.
func (c *Client) IdentityExists(ctx context.Context, id string) (bool, error) {
	ctx, span := c.tracer.Start(ctx, "kratos.Client.IdentityExists")
	defer span.End()

	_, r, err := c.client.IdentityAPI.GetIdentity(ctx, id).Execute()
	if r != nil && r.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if err != nil {
		c.setAvailability(r)
		return false, fmt.Errorf("failed to get identity: %w", err)
	}

	return true, nil
}

// GetIdentityEmail returns the email trait of the identity, empty when the schema has none.
func (c *Client) GetIdentityEmail(ctx context.Context, id string) (string, error) {
	ctx, span := c.tracer.Start(ctx, "kratos.Client.GetIdentityEmail")
	defer span.End()

	identity, r, err := c.client.IdentityAPI.GetIdentity(ctx, id).Execute()
	if err != nil {
		c.setAvailability(r)
		return "", fmt.Errorf("failed to get identity: %w", err)
	}

	traits, ok := identity.Traits.(map[string]interface{})
	if !ok {
		return "", nil
	}

	email, _ := traits["email"].(string)
	return email, nil
}

// setAvailability flags kratos as unavailable when the request never got a response.
func (c *Client) setAvailability(r *http.Response) {
	if r != nil && r.StatusCode < http.StatusInternalServerError {
		return
	}

	if err := c.monitor.SetDependencyAvailability(map[string]string{"component": "kratos"}, 0); err != nil {
		c.logger.Debugf("failed to set kratos availability: %v", err)
	}
}

func NewClient(kratosAdminURL string, tracer tracing.TracingInterface, monitor monitoring.MonitorInterface, logger logging.LoggerInterface) *Client {
	c := new(Client)

	conf := ory.NewConfiguration()
	conf.Servers = ory.ServerConfigurations{{URL: kratosAdminURL}}
	c.client = ory.NewAPIClient(conf)

	c.tracer = tracer
	c.monitor = monitor
	c.logger = logger

	return c
}
