// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package organizations

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	httptypes "github.com/canonical/license-service/internal/http/types"
	"github.com/canonical/license-service/internal/logging"
	"github.com/canonical/license-service/internal/monitoring"
	"github.com/canonical/license-service/internal/tracing"
	"github.com/canonical/license-service/pkg/authentication"
)

type AdminRequest struct {
	UserID string `json:"user_id" validate:"required"`
}

type API struct {
	service ServiceInterface
	authz   AuthorizerInterface

	tracer  tracing.TracingInterface
	monitor monitoring.MonitorInterface
	logger  logging.LoggerInterface
}

func (a *API) RegisterEndpoints(mux *chi.Mux) {
	mux.Get("/api/v0/organizations/{orgID}/admins", a.handleListAdmins)
	mux.Post("/api/v0/organizations/{orgID}/admins", a.handleAddAdmin)
	mux.Delete("/api/v0/organizations/{orgID}/admins/{userID}", a.handleRemoveAdmin)
	mux.Get("/api/v0/me/organizations", a.handleListMine)
}

func (a *API) handleListAdmins(w http.ResponseWriter, r *http.Request) {
	ctx, span := a.tracer.Start(r.Context(), "organizations.API.handleListAdmins")
	defer span.End()

	r = r.WithContext(ctx)
	orgID := chi.URLParam(r, "orgID")

	if !httptypes.Authorize(w, r, a.authz, orgID, a.logger) {
		return
	}

	admins, err := a.service.ListAdmins(ctx, orgID)
	if err != nil {
		a.logger.Errorf("failed to list administrators of %s: %v", orgID, err)
		httptypes.WriteError(w, err)
		return
	}

	httptypes.WriteJSON(w, http.StatusOK, "List of administrators", admins)
}

func (a *API) handleAddAdmin(w http.ResponseWriter, r *http.Request) {
	ctx, span := a.tracer.Start(r.Context(), "organizations.API.handleAddAdmin")
	defer span.End()

	r = r.WithContext(ctx)
	orgID := chi.URLParam(r, "orgID")

	var req AdminRequest
	if err := httptypes.ParseBody(r, &req); err != nil {
		httptypes.WriteError(w, err)
		return
	}

	if !httptypes.Authorize(w, r, a.authz, orgID, a.logger) {
		return
	}

	if err := a.service.AddAdmin(ctx, orgID, req.UserID); err != nil {
		a.logger.Errorf("failed to add administrator %s to %s: %v", req.UserID, orgID, err)
		httptypes.WriteError(w, err)
		return
	}

	httptypes.WriteJSON(w, http.StatusCreated, "Administrator added", req)
}

func (a *API) handleRemoveAdmin(w http.ResponseWriter, r *http.Request) {
	ctx, span := a.tracer.Start(r.Context(), "organizations.API.handleRemoveAdmin")
	defer span.End()

	r = r.WithContext(ctx)
	orgID := chi.URLParam(r, "orgID")
	userID := chi.URLParam(r, "userID")

	if !httptypes.Authorize(w, r, a.authz, orgID, a.logger) {
		return
	}

	if err := a.service.RemoveAdmin(ctx, orgID, userID); err != nil {
		httptypes.WriteError(w, err)
		return
	}

	httptypes.WriteJSON(w, http.StatusOK, "Administrator removed", AdminRequest{UserID: userID})
}

func (a *API) handleListMine(w http.ResponseWriter, r *http.Request) {
	ctx, span := a.tracer.Start(r.Context(), "organizations.API.handleListMine")
	defer span.End()

	userID, ok := authentication.GetUserID(ctx)
	if !ok || userID == "" {
		httptypes.WriteErrorMessage(w, http.StatusUnauthorized, "Unauthorized", "caller identity required")
		return
	}

	orgs, err := a.service.ListManaged(ctx, userID)
	if err != nil {
		a.logger.Errorf("failed to list organizations of %s: %v", userID, err)
		httptypes.WriteError(w, err)
		return
	}

	httptypes.WriteJSON(w, http.StatusOK, "List of organizations", orgs)
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
