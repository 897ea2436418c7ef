// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package web

import (
	"net/http"
	"strings"

	chi "github.com/go-chi/chi/v5"
	middleware "github.com/go-chi/chi/v5/middleware"

	"github.com/canonical/license-service/internal/logging"
	"github.com/canonical/license-service/internal/monitoring"
	"github.com/canonical/license-service/internal/tracing"
	"github.com/canonical/license-service/pkg/metrics"
	"github.com/canonical/license-service/pkg/status"
)

// publicPaths are served without a caller identity.
var publicPaths = []string{
	"/api/v0/status",
	"/api/v0/ready",
	"/api/v0/metrics",
	"/api/v0/webhooks/",
}

// APIInterface is implemented by every package exposing HTTP endpoints.
type APIInterface interface {
	RegisterEndpoints(mux *chi.Mux)
}

type Middlewares struct {
	// Authentication validates bearer tokens, nil when authentication is disabled.
	Authentication func(http.Handler) http.Handler
	// Identity trusts the identity header of an upstream proxy.
	Identity func(http.Handler) http.Handler
}

func NewRouter(
	apis []APIInterface,
	database status.PingerInterface,
	mw Middlewares,
	tracer tracing.TracingInterface,
	monitor monitoring.MonitorInterface,
	logger logging.LoggerInterface,
) http.Handler {
	router := chi.NewMux()

	middlewares := make(chi.Middlewares, 0)
	middlewares = append(
		middlewares,
		middleware.RequestID,
		monitoring.NewMiddleware(monitor, logger).ResponseTime(),
		middlewareCORS([]string{"*"}),
	)

	if mw.Authentication != nil {
		middlewares = append(middlewares, skipPublic(mw.Authentication))
	}

	if mw.Identity != nil {
		middlewares = append(middlewares, mw.Identity)
	}

	router.Use(middlewares...)

	metrics.NewAPI(logger).RegisterEndpoints(router)
	status.NewAPI(database, tracer, monitor, logger).RegisterEndpoints(router)

	for _, api := range apis {
		api.RegisterEndpoints(router)
	}

	return tracing.NewMiddleware(monitor, logger).OpenTelemetry(router)
}

// skipPublic applies auth to every request outside publicPaths.
func skipPublic(auth func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		protected := auth(next)

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isPublic(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			protected.ServeHTTP(w, r)
		})
	}
}

func isPublic(path string) bool {
	for _, p := range publicPaths {
		if path == p || (strings.HasSuffix(p, "/") && strings.HasPrefix(path, p)) {
			return true
		}
	}
	return false
}
