// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package licenses

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	httptypes "github.com/canonical/license-service/internal/http/types"
	"github.com/canonical/license-service/internal/logging"
	"github.com/canonical/license-service/internal/monitoring"
	"github.com/canonical/license-service/internal/tracing"
	"github.com/canonical/license-service/internal/types"
	"github.com/canonical/license-service/pkg/authentication"
)

type AssignRequest struct {
	UserID string `json:"user_id" validate:"required"`
}

type BulkAssignRequest struct {
	UserIDs []string `json:"user_ids" validate:"required,min=1,dive,required"`
}

type UnassignRequest struct {
	Reason string `json:"reason"`
}

type BulkUnassignRequest struct {
	AssignmentIDs []string `json:"assignment_ids" validate:"required,min=1,dive,required"`
	Reason        string   `json:"reason"`
}

type TransferRequest struct {
	FromUserID string `json:"from_user_id" validate:"required"`
	ToUserID   string `json:"to_user_id" validate:"required"`
}

type AllocatePoolRequest struct {
	Seats int `json:"seats" validate:"gte=0"`
}

type API struct {
	service ServiceInterface
	authz   AuthorizerInterface

	tracer  tracing.TracingInterface
	monitor monitoring.MonitorInterface
	logger  logging.LoggerInterface
}

func (a *API) RegisterEndpoints(mux *chi.Mux) {
	mux.Get("/api/v0/pools/{poolID}", a.handleGetPool)
	mux.Post("/api/v0/pools/{poolID}/assignments", a.handleAssign)
	mux.Post("/api/v0/pools/{poolID}/assignments/bulk", a.handleBulkAssign)
	mux.Delete("/api/v0/assignments/{assignmentID}", a.handleUnassign)
	mux.Post("/api/v0/subscriptions/{subscriptionID}/assignments/bulk-unassign", a.handleBulkUnassign)
	mux.Get("/api/v0/subscriptions/{subscriptionID}/assignments", a.handleListAssignments)
	mux.Post("/api/v0/subscriptions/{subscriptionID}/transfers", a.handleTransfer)
	mux.Get("/api/v0/subscriptions/{subscriptionID}/pools", a.handleListPools)
	mux.Put("/api/v0/subscriptions/{subscriptionID}/pools/{memberType}", a.handleAllocatePool)
}

func (a *API) handleGetPool(w http.ResponseWriter, r *http.Request) {
	ctx, span := a.tracer.Start(r.Context(), "licenses.API.handleGetPool")
	defer span.End()

	pool, ok := a.authorizedPool(w, r.WithContext(ctx), chi.URLParam(r, "poolID"))
	if !ok {
		return
	}

	httptypes.WriteJSON(w, http.StatusOK, "License pool", pool)
}

func (a *API) handleAssign(w http.ResponseWriter, r *http.Request) {
	ctx, span := a.tracer.Start(r.Context(), "licenses.API.handleAssign")
	defer span.End()

	r = r.WithContext(ctx)

	var req AssignRequest
	if err := httptypes.ParseBody(r, &req); err != nil {
		httptypes.WriteError(w, err)
		return
	}

	pool, ok := a.authorizedPool(w, r, chi.URLParam(r, "poolID"))
	if !ok {
		return
	}

	assignment, err := a.service.Assign(ctx, pool.ID, req.UserID, caller(r))
	if err != nil {
		a.logger.Errorf("failed to assign pool %s to %s: %v", pool.ID, req.UserID, err)
		httptypes.WriteError(w, err)
		return
	}

	httptypes.WriteJSON(w, http.StatusCreated, "License assigned", assignment)
}

func (a *API) handleBulkAssign(w http.ResponseWriter, r *http.Request) {
	ctx, span := a.tracer.Start(r.Context(), "licenses.API.handleBulkAssign")
	defer span.End()

	r = r.WithContext(ctx)

	var req BulkAssignRequest
	if err := httptypes.ParseBody(r, &req); err != nil {
		httptypes.WriteError(w, err)
		return
	}

	pool, ok := a.authorizedPool(w, r, chi.URLParam(r, "poolID"))
	if !ok {
		return
	}

	result, err := a.service.BulkAssign(ctx, pool.ID, req.UserIDs, caller(r))
	if err != nil {
		a.logger.Errorf("failed to bulk assign pool %s: %v", pool.ID, err)
		httptypes.WriteError(w, err)
		return
	}

	httptypes.WriteJSON(w, http.StatusOK, "Bulk assignment processed", result)
}

func (a *API) handleUnassign(w http.ResponseWriter, r *http.Request) {
	ctx, span := a.tracer.Start(r.Context(), "licenses.API.handleUnassign")
	defer span.End()

	r = r.WithContext(ctx)

	var req UnassignRequest
	if r.ContentLength > 0 {
		if err := httptypes.ParseBody(r, &req); err != nil {
			httptypes.WriteError(w, err)
			return
		}
	}

	assignment, err := a.service.GetAssignment(ctx, chi.URLParam(r, "assignmentID"))
	if err != nil {
		httptypes.WriteError(w, err)
		return
	}

	if _, ok := a.authorizedSubscription(w, r, assignment.OrganizationSubscriptionID); !ok {
		return
	}

	assignment, err = a.service.Unassign(ctx, assignment.ID, req.Reason)
	if err != nil {
		a.logger.Errorf("failed to unassign %s: %v", chi.URLParam(r, "assignmentID"), err)
		httptypes.WriteError(w, err)
		return
	}

	httptypes.WriteJSON(w, http.StatusOK, "License unassigned", assignment)
}

func (a *API) handleBulkUnassign(w http.ResponseWriter, r *http.Request) {
	ctx, span := a.tracer.Start(r.Context(), "licenses.API.handleBulkUnassign")
	defer span.End()

	r = r.WithContext(ctx)

	var req BulkUnassignRequest
	if err := httptypes.ParseBody(r, &req); err != nil {
		httptypes.WriteError(w, err)
		return
	}

	sub, ok := a.authorizedSubscription(w, r, chi.URLParam(r, "subscriptionID"))
	if !ok {
		return
	}

	// only assignments of this subscription are touched, the rest count as skipped
	ids := make([]string, 0, len(req.AssignmentIDs))
	foreign := 0
	for _, id := range req.AssignmentIDs {
		assignment, err := a.service.GetAssignment(ctx, id)
		if err == nil && assignment.OrganizationSubscriptionID != sub.ID {
			foreign++
			continue
		}
		ids = append(ids, id)
	}

	result, err := a.service.BulkUnassign(ctx, ids, req.Reason)
	if err != nil {
		a.logger.Errorf("failed to bulk unassign on subscription %s: %v", sub.ID, err)
		httptypes.WriteError(w, err)
		return
	}
	result.SkippedCount += foreign

	httptypes.WriteJSON(w, http.StatusOK, "Bulk unassignment processed", result)
}

func (a *API) handleListAssignments(w http.ResponseWriter, r *http.Request) {
	ctx, span := a.tracer.Start(r.Context(), "licenses.API.handleListAssignments")
	defer span.End()

	r = r.WithContext(ctx)

	sub, ok := a.authorizedSubscription(w, r, chi.URLParam(r, "subscriptionID"))
	if !ok {
		return
	}

	status := types.AssignmentStatus(r.URL.Query().Get("status"))

	assignments, err := a.service.ListAssignments(ctx, sub.ID, status)
	if err != nil {
		a.logger.Errorf("failed to list assignments of %s: %v", sub.ID, err)
		httptypes.WriteError(w, err)
		return
	}

	httptypes.WriteJSON(w, http.StatusOK, "List of assignments", assignments)
}

func (a *API) handleTransfer(w http.ResponseWriter, r *http.Request) {
	ctx, span := a.tracer.Start(r.Context(), "licenses.API.handleTransfer")
	defer span.End()

	r = r.WithContext(ctx)

	var req TransferRequest
	if err := httptypes.ParseBody(r, &req); err != nil {
		httptypes.WriteError(w, err)
		return
	}

	sub, ok := a.authorizedSubscription(w, r, chi.URLParam(r, "subscriptionID"))
	if !ok {
		return
	}

	result, err := a.service.Transfer(ctx, sub.ID, req.FromUserID, req.ToUserID, caller(r))
	if err != nil {
		a.logger.Errorf("failed to transfer license from %s to %s: %v", req.FromUserID, req.ToUserID, err)
		httptypes.WriteError(w, err)
		return
	}

	httptypes.WriteJSON(w, http.StatusOK, "License transferred", result)
}

func (a *API) handleListPools(w http.ResponseWriter, r *http.Request) {
	ctx, span := a.tracer.Start(r.Context(), "licenses.API.handleListPools")
	defer span.End()

	r = r.WithContext(ctx)

	sub, ok := a.authorizedSubscription(w, r, chi.URLParam(r, "subscriptionID"))
	if !ok {
		return
	}

	pools, err := a.service.ListPools(ctx, sub.ID)
	if err != nil {
		a.logger.Errorf("failed to list pools of %s: %v", sub.ID, err)
		httptypes.WriteError(w, err)
		return
	}

	httptypes.WriteJSON(w, http.StatusOK, "List of license pools", pools)
}

func (a *API) handleAllocatePool(w http.ResponseWriter, r *http.Request) {
	ctx, span := a.tracer.Start(r.Context(), "licenses.API.handleAllocatePool")
	defer span.End()

	r = r.WithContext(ctx)

	var req AllocatePoolRequest
	if err := httptypes.ParseBody(r, &req); err != nil {
		httptypes.WriteError(w, err)
		return
	}

	sub, ok := a.authorizedSubscription(w, r, chi.URLParam(r, "subscriptionID"))
	if !ok {
		return
	}

	pool, err := a.service.AllocatePool(ctx, sub.ID, chi.URLParam(r, "memberType"), req.Seats)
	if err != nil {
		a.logger.Errorf("failed to allocate pool on %s: %v", sub.ID, err)
		httptypes.WriteError(w, err)
		return
	}

	httptypes.WriteJSON(w, http.StatusOK, "License pool allocated", pool)
}

func (a *API) authorizedPool(w http.ResponseWriter, r *http.Request, poolID string) (*types.LicensePool, bool) {
	pool, err := a.service.GetPool(r.Context(), poolID)
	if err != nil {
		httptypes.WriteError(w, err)
		return nil, false
	}

	return pool, httptypes.Authorize(w, r, a.authz, pool.OrganizationID, a.logger)
}

func (a *API) authorizedSubscription(w http.ResponseWriter, r *http.Request, subscriptionID string) (*types.OrganizationSubscription, bool) {
	sub, err := a.service.GetSubscription(r.Context(), subscriptionID)
	if err != nil {
		httptypes.WriteError(w, err)
		return nil, false
	}

	return sub, httptypes.Authorize(w, r, a.authz, sub.OrganizationID, a.logger)
}

func caller(r *http.Request) string {
	userID, _ := authentication.GetUserID(r.Context())
	return userID
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
