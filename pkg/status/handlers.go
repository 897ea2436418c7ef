// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package status

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	httptypes "github.com/canonical/license-service/internal/http/types"
	"github.com/canonical/license-service/internal/logging"
	"github.com/canonical/license-service/internal/monitoring"
	"github.com/canonical/license-service/internal/tracing"
	"github.com/canonical/license-service/internal/version"
)

const readinessTimeout = 2 * time.Second

// PingerInterface is a dependency the service cannot serve without.
type PingerInterface interface {
	Ping(context.Context) error
}

type Status struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

type API struct {
	database PingerInterface

	tracer  tracing.TracingInterface
	monitor monitoring.MonitorInterface
	logger  logging.LoggerInterface
}

func (a *API) RegisterEndpoints(mux *chi.Mux) {
	mux.Get("/api/v0/status", a.alive)
	mux.Get("/api/v0/ready", a.ready)
}

func (a *API) alive(w http.ResponseWriter, r *http.Request) {
	_, span := a.tracer.Start(r.Context(), "status.API.alive")
	defer span.End()

	httptypes.WriteJSON(w, http.StatusOK, "alive", Status{Status: "ok", Version: version.Version})
}

// ready reports 503 while the database is unreachable.
func (a *API) ready(w http.ResponseWriter, r *http.Request) {
	ctx, span := a.tracer.Start(r.Context(), "status.API.ready")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, readinessTimeout)
	defer cancel()

	tags := map[string]string{"component": "database"}

	if err := a.database.Ping(ctx); err != nil {
		a.logger.Errorf("database is not reachable: %v", err)
		_ = a.monitor.SetDependencyAvailability(tags, 0)
		httptypes.WriteErrorMessage(w, http.StatusServiceUnavailable, "Unavailable", "database is not reachable")
		return
	}

	_ = a.monitor.SetDependencyAvailability(tags, 1)
	httptypes.WriteJSON(w, http.StatusOK, "ready", Status{Status: "ok", Version: version.Version})
}

func NewAPI(database PingerInterface, tracer tracing.TracingInterface, monitor monitoring.MonitorInterface, logger logging.LoggerInterface) *API {
	a := new(API)

	a.database = database

	a.tracer = tracer
	a.monitor = monitor
	a.logger = logger

	return a
}
