// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package plans

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	httptypes "github.com/canonical/license-service/internal/http/types"
	"github.com/canonical/license-service/internal/logging"
	"github.com/canonical/license-service/internal/monitoring"
	"github.com/canonical/license-service/internal/tracing"
	"github.com/canonical/license-service/internal/types"
)

type PlanChangeRequest struct {
	PlanID string `json:"plan_id" validate:"required"`
}

type SeatChangeRequest struct {
	TotalSeats int `json:"total_seats" validate:"min=1"`
}

type API struct {
	service ServiceInterface
	authz   AuthorizerInterface

	tracer  tracing.TracingInterface
	monitor monitoring.MonitorInterface
	logger  logging.LoggerInterface
}

func (a *API) RegisterEndpoints(mux *chi.Mux) {
	mux.Get("/api/v0/plans", a.handleListPlans)
	mux.Get("/api/v0/plans/{planID}", a.handleGetPlan)
	mux.Post("/api/v0/subscriptions/{subscriptionID}/upgrade", a.handleUpgrade)
	mux.Post("/api/v0/subscriptions/{subscriptionID}/downgrade", a.handleDowngrade)
	mux.Delete("/api/v0/subscriptions/{subscriptionID}/pending-change", a.handleCancelPendingChange)
	mux.Put("/api/v0/subscriptions/{subscriptionID}/seats", a.handleChangeSeatCount)
}

func (a *API) handleListPlans(w http.ResponseWriter, r *http.Request) {
	ctx, span := a.tracer.Start(r.Context(), "plans.API.handleListPlans")
	defer span.End()

	plans, err := a.service.ListPlans(ctx)
	if err != nil {
		a.logger.Errorf("failed to list plans: %v", err)
		httptypes.WriteError(w, err)
		return
	}

	httptypes.WriteJSON(w, http.StatusOK, "List of plans", plans)
}

func (a *API) handleGetPlan(w http.ResponseWriter, r *http.Request) {
	ctx, span := a.tracer.Start(r.Context(), "plans.API.handleGetPlan")
	defer span.End()

	plan, err := a.service.GetPlan(ctx, chi.URLParam(r, "planID"))
	if err != nil {
		httptypes.WriteError(w, err)
		return
	}

	httptypes.WriteJSON(w, http.StatusOK, "Plan details", plan)
}

func (a *API) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	ctx, span := a.tracer.Start(r.Context(), "plans.API.handleUpgrade")
	defer span.End()

	r = r.WithContext(ctx)

	var req PlanChangeRequest
	if err := httptypes.ParseBody(r, &req); err != nil {
		httptypes.WriteError(w, err)
		return
	}

	sub, ok := a.authorizedSubscription(w, r)
	if !ok {
		return
	}

	result, err := a.service.Upgrade(ctx, sub.ID, req.PlanID)
	if err != nil {
		a.logger.Errorf("failed to upgrade subscription %s to %s: %v", sub.ID, req.PlanID, err)
		httptypes.WriteError(w, err)
		return
	}

	httptypes.WriteJSON(w, http.StatusOK, "Subscription upgraded", result)
}

func (a *API) handleDowngrade(w http.ResponseWriter, r *http.Request) {
	ctx, span := a.tracer.Start(r.Context(), "plans.API.handleDowngrade")
	defer span.End()

	r = r.WithContext(ctx)

	var req PlanChangeRequest
	if err := httptypes.ParseBody(r, &req); err != nil {
		httptypes.WriteError(w, err)
		return
	}

	sub, ok := a.authorizedSubscription(w, r)
	if !ok {
		return
	}

	sub, err := a.service.Downgrade(ctx, sub.ID, req.PlanID)
	if err != nil {
		a.logger.Errorf("failed to schedule downgrade of %s to %s: %v", chi.URLParam(r, "subscriptionID"), req.PlanID, err)
		httptypes.WriteError(w, err)
		return
	}

	httptypes.WriteJSON(w, http.StatusOK, "Downgrade scheduled", sub)
}

func (a *API) handleCancelPendingChange(w http.ResponseWriter, r *http.Request) {
	ctx, span := a.tracer.Start(r.Context(), "plans.API.handleCancelPendingChange")
	defer span.End()

	r = r.WithContext(ctx)

	sub, ok := a.authorizedSubscription(w, r)
	if !ok {
		return
	}

	sub, err := a.service.CancelPendingChange(ctx, sub.ID)
	if err != nil {
		httptypes.WriteError(w, err)
		return
	}

	httptypes.WriteJSON(w, http.StatusOK, "Pending plan change cancelled", sub)
}

func (a *API) handleChangeSeatCount(w http.ResponseWriter, r *http.Request) {
	ctx, span := a.tracer.Start(r.Context(), "plans.API.handleChangeSeatCount")
	defer span.End()

	r = r.WithContext(ctx)

	var req SeatChangeRequest
	if err := httptypes.ParseBody(r, &req); err != nil {
		httptypes.WriteError(w, err)
		return
	}

	sub, ok := a.authorizedSubscription(w, r)
	if !ok {
		return
	}

	result, err := a.service.ChangeSeatCount(ctx, sub.ID, req.TotalSeats)
	if err != nil {
		a.logger.Errorf("failed to change seats of %s to %d: %v", sub.ID, req.TotalSeats, err)
		httptypes.WriteError(w, err)
		return
	}

	httptypes.WriteJSON(w, http.StatusOK, "Seat count changed", result)
}

func (a *API) authorizedSubscription(w http.ResponseWriter, r *http.Request) (*types.OrganizationSubscription, bool) {
	sub, err := a.service.GetSubscription(r.Context(), chi.URLParam(r, "subscriptionID"))
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
