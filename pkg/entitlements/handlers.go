// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package entitlements

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/canonical/license-service/internal/http/types"
	"github.com/canonical/license-service/internal/logging"
	"github.com/canonical/license-service/internal/monitoring"
	"github.com/canonical/license-service/internal/tracing"
)

type FeatureAccess struct {
	UserID    string `json:"user_id"`
	Feature   string `json:"feature"`
	HasAccess bool   `json:"has_access"`
}

type API struct {
	service ServiceInterface

	tracer  tracing.TracingInterface
	monitor monitoring.MonitorInterface
	logger  logging.LoggerInterface
}

func (a *API) RegisterEndpoints(mux *chi.Mux) {
	mux.Get("/api/v0/users/{userID}/entitlements", a.handleList)
	mux.Get("/api/v0/users/{userID}/features/{feature}", a.handleHasFeature)
}

func (a *API) handleList(w http.ResponseWriter, r *http.Request) {
	ctx, span := a.tracer.Start(r.Context(), "entitlements.API.handleList")
	defer span.End()

	userID := chi.URLParam(r, "userID")

	entitlements, err := a.service.ListActive(ctx, userID)
	if err != nil {
		a.logger.Errorf("failed to list entitlements of %s: %v", userID, err)
		types.WriteError(w, err)
		return
	}

	types.WriteJSON(w, http.StatusOK, "List of active entitlements", entitlements)
}

func (a *API) handleHasFeature(w http.ResponseWriter, r *http.Request) {
	ctx, span := a.tracer.Start(r.Context(), "entitlements.API.handleHasFeature")
	defer span.End()

	userID := chi.URLParam(r, "userID")
	feature := chi.URLParam(r, "feature")

	ok, err := a.service.HasFeature(ctx, userID, feature)
	if err != nil {
		a.logger.Errorf("failed to check feature %s for %s: %v", feature, userID, err)
		types.WriteError(w, err)
		return
	}

	types.WriteJSON(w, http.StatusOK, "Feature access", FeatureAccess{UserID: userID, Feature: feature, HasAccess: ok})
}

func NewAPI(service ServiceInterface, tracer tracing.TracingInterface, monitor monitoring.MonitorInterface, logger logging.LoggerInterface) *API {
	a := new(API)

	a.service = service

	a.tracer = tracer
	a.monitor = monitor
	a.logger = logger

	return a
}
