// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

// Package identity trusts the identity header set by an authenticating proxy in
// front of the service.
package identity

import (
	"net/http"

	"github.com/canonical/license-service/internal/logging"
	"github.com/canonical/license-service/internal/monitoring"
	"github.com/canonical/license-service/internal/tracing"
	"github.com/canonical/license-service/pkg/authentication"
)

// HeaderName carries the Kratos identity id of the caller.
const HeaderName = "X-Kratos-Authenticated-Identity-Id"

type Middleware struct {
	tracer  tracing.TracingInterface
	monitor monitoring.MonitorInterface
	logger  logging.LoggerInterface
}

// HTTPMiddleware records the header identity as the caller unless an earlier
// middleware already authenticated one.
func (m *Middleware) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if userID, ok := authentication.GetUserID(ctx); ok && userID != "" {
			next.ServeHTTP(w, r)
			return
		}

		userID := r.Header.Get(HeaderName)
		if userID == "" {
			next.ServeHTTP(w, r)
			return
		}

		ctx, span := m.tracer.Start(ctx, "identity.Middleware.HTTPMiddleware")
		defer span.End()

		next.ServeHTTP(w, r.WithContext(authentication.WithUserID(ctx, userID)))
	})
}

func NewMiddleware(tracer tracing.TracingInterface, monitor monitoring.MonitorInterface, logger logging.LoggerInterface) *Middleware {
	m := new(Middleware)

	m.tracer = tracer
	m.monitor = monitor
	m.logger = logger

	return m
}
