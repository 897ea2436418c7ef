// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package subscriptions

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	httptypes "github.com/canonical/license-service/internal/http/types"
	"github.com/canonical/license-service/internal/logging"
	"github.com/canonical/license-service/internal/monitoring"
	"github.com/canonical/license-service/internal/tracing"
	"github.com/canonical/license-service/internal/types"
	"github.com/canonical/license-service/pkg/authentication"
)

type CancelRequest struct {
	Immediate bool   `json:"immediate"`
	Reason    string `json:"reason"`
}

type Access struct {
	SubscriptionID string                   `json:"subscription_id"`
	Status         types.SubscriptionStatus `json:"status"`
	HasAccess      bool                     `json:"has_access"`
}

type API struct {
	service ServiceInterface
	authz   AuthorizerInterface

	tracer  tracing.TracingInterface
	monitor monitoring.MonitorInterface
	logger  logging.LoggerInterface
}

func (a *API) RegisterEndpoints(mux *chi.Mux) {
	mux.Post("/api/v0/organizations/{orgID}/subscriptions", a.handleCreate)
	mux.Get("/api/v0/organizations/{orgID}/subscriptions", a.handleList)
	mux.Get("/api/v0/subscriptions/{subscriptionID}", a.handleGet)
	mux.Get("/api/v0/subscriptions/{subscriptionID}/access", a.handleAccess)
	mux.Post("/api/v0/subscriptions/{subscriptionID}/cancel", a.handleCancel)
}

// handleCreate lets the first subscriber of an organization bootstrap it: when the
// organization has no subscription yet the caller becomes its administrator.
func (a *API) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx, span := a.tracer.Start(r.Context(), "subscriptions.API.handleCreate")
	defer span.End()

	r = r.WithContext(ctx)
	orgID := chi.URLParam(r, "orgID")

	var req CreateRequest
	if err := httptypes.ParseBody(r, &req); err != nil {
		httptypes.WriteError(w, err)
		return
	}

	existing, err := a.service.ListByOrganization(ctx, orgID)
	if err != nil {
		a.logger.Errorf("failed to list subscriptions of %s: %v", orgID, err)
		httptypes.WriteError(w, err)
		return
	}

	bootstrap := len(existing) == 0
	if !bootstrap && !httptypes.Authorize(w, r, a.authz, orgID, a.logger) {
		return
	}

	// the administrator is recorded first so a failure leaves the organization
	// without a subscription and the caller can retry the bootstrap
	if userID, ok := authentication.GetUserID(ctx); bootstrap && ok && userID != "" {
		if err := a.authz.AssignOrganizationAdmin(ctx, orgID, userID); err != nil {
			a.logger.Errorf("failed to make %s administrator of %s: %v", userID, orgID, err)
			httptypes.WriteError(w, fmt.Errorf("failed to bootstrap organization %s: %w", orgID, err))
			return
		}
	}

	req.OrganizationID = orgID

	sub, err := a.service.Create(ctx, req)
	if err != nil {
		a.logger.Errorf("failed to create subscription for %s: %v", orgID, err)
		httptypes.WriteError(w, err)
		return
	}

	httptypes.WriteJSON(w, http.StatusCreated, "Subscription created", sub)
}

func (a *API) handleList(w http.ResponseWriter, r *http.Request) {
	ctx, span := a.tracer.Start(r.Context(), "subscriptions.API.handleList")
	defer span.End()

	r = r.WithContext(ctx)
	orgID := chi.URLParam(r, "orgID")

	if !httptypes.Authorize(w, r, a.authz, orgID, a.logger) {
		return
	}

	subs, err := a.service.ListByOrganization(ctx, orgID)
	if err != nil {
		a.logger.Errorf("failed to list subscriptions of %s: %v", orgID, err)
		httptypes.WriteError(w, err)
		return
	}

	httptypes.WriteJSON(w, http.StatusOK, "List of subscriptions", subs)
}

func (a *API) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx, span := a.tracer.Start(r.Context(), "subscriptions.API.handleGet")
	defer span.End()

	sub, ok := a.authorizedSubscription(w, r.WithContext(ctx))
	if !ok {
		return
	}

	httptypes.WriteJSON(w, http.StatusOK, "Subscription details", sub)
}

func (a *API) handleAccess(w http.ResponseWriter, r *http.Request) {
	ctx, span := a.tracer.Start(r.Context(), "subscriptions.API.handleAccess")
	defer span.End()

	sub, ok := a.authorizedSubscription(w, r.WithContext(ctx))
	if !ok {
		return
	}

	access, err := a.service.HasAccess(ctx, sub.ID)
	if err != nil {
		httptypes.WriteError(w, err)
		return
	}

	httptypes.WriteJSON(w, http.StatusOK, "Subscription access", Access{SubscriptionID: sub.ID, Status: sub.Status, HasAccess: access})
}

func (a *API) handleCancel(w http.ResponseWriter, r *http.Request) {
	ctx, span := a.tracer.Start(r.Context(), "subscriptions.API.handleCancel")
	defer span.End()

	r = r.WithContext(ctx)

	var req CancelRequest
	if err := httptypes.ParseBody(r, &req); err != nil {
		httptypes.WriteError(w, err)
		return
	}

	sub, ok := a.authorizedSubscription(w, r)
	if !ok {
		return
	}

	sub, err := a.service.Cancel(ctx, sub.ID, req.Immediate, req.Reason)
	if err != nil {
		a.logger.Errorf("failed to cancel subscription %s: %v", chi.URLParam(r, "subscriptionID"), err)
		httptypes.WriteError(w, err)
		return
	}

	httptypes.WriteJSON(w, http.StatusOK, "Subscription cancelled", sub)
}

func (a *API) authorizedSubscription(w http.ResponseWriter, r *http.Request) (*types.OrganizationSubscription, bool) {
	sub, err := a.service.Get(r.Context(), chi.URLParam(r, "subscriptionID"))
	if err != nil {
		httptypes.WriteError(w, err)
		return nil, false
	}

	return sub, httptypes.Authorize(w, r, a.authz, sub.OrganizationID, a.logger)
}

func NewAPI(service ServiceInterface, authz AuthorizerInterface, tracer tracing.TracingInterface, monitor monitoring.MonitorInterface, logger logging.LoggerInterface) *API {
	a := new(API)

	a.service = service
	a.authz = authz

	a.tracer = tracer
	a.monitor = monitor
	a.logger = logger

	return a
}
