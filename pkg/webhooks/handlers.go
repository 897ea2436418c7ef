// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package webhooks

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	httptypes "github.com/canonical/license-service/internal/http/types"
	"github.com/canonical/license-service/internal/logging"
	"github.com/canonical/license-service/internal/monitoring"
	"github.com/canonical/license-service/internal/tracing"
	"github.com/canonical/license-service/internal/types"
)

const (
	maxPayloadBytes = 1 << 20

	defaultEventsLimit = 50
)

type API struct {
	service       ServiceInterface
	subscriptions SubscriptionsInterface
	authz         AuthorizerInterface

	secret string

	tracer  tracing.TracingInterface
	monitor monitoring.MonitorInterface
	logger  logging.LoggerInterface
}

func (a *API) RegisterEndpoints(mux *chi.Mux) {
	mux.Post("/api/v0/webhooks/razorpay", a.handleRazorpay)
	mux.Get("/api/v0/subscriptions/{subscriptionID}/webhook-events", a.handleListEvents)
}

// handleRazorpay acknowledges with 200 anything it has durably recorded, so the
// gateway only retries deliveries that failed to process.
func (a *API) handleRazorpay(w http.ResponseWriter, r *http.Request) {
	ctx, span := a.tracer.Start(r.Context(), "webhooks.API.handleRazorpay")
	defer span.End()

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPayloadBytes))
	if err != nil {
		httptypes.WriteError(w, errors.Join(httptypes.ErrMalformedBody, err))
		return
	}

	if !VerifySignature(payload, r.Header.Get(SignatureHeader), a.secret) {
		signatureFailures.Inc()
		a.logger.Security().WebhookSignatureFailure(peekEventType(payload), r.RemoteAddr)
		httptypes.WriteError(w, types.ErrInvalidSignature)
		return
	}

	result, err := a.service.Process(ctx, r.Header.Get(EventIDHeader), payload)
	if errors.Is(err, types.ErrValidation) {
		httptypes.WriteErrorMessage(w, http.StatusBadRequest, "BadRequest", err.Error())
		return
	}
	if err != nil {
		httptypes.WriteErrorMessage(w, http.StatusInternalServerError, "Internal", "webhook processing failed")
		return
	}

	httptypes.WriteJSON(w, http.StatusOK, "Webhook received", result)
}

func (a *API) handleListEvents(w http.ResponseWriter, r *http.Request) {
	ctx, span := a.tracer.Start(r.Context(), "webhooks.API.handleListEvents")
	defer span.End()

	r = r.WithContext(ctx)

	sub, err := a.subscriptions.Get(ctx, chi.URLParam(r, "subscriptionID"))
	if err != nil {
		httptypes.WriteError(w, err)
		return
	}

	if !httptypes.Authorize(w, r, a.authz, sub.OrganizationID, a.logger) {
		return
	}

	limit := uint64(defaultEventsLimit)
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.ParseUint(raw, 10, 64)
		if err != nil || n == 0 {
			httptypes.WriteErrorMessage(w, http.StatusBadRequest, "BadRequest", "limit must be a positive integer")
			return
		}
		limit = n
	}

	events, err := a.service.ListEvents(ctx, sub.ID, limit)
	if err != nil {
		a.logger.Errorf("failed to list webhook events of %s: %v", sub.ID, err)
		httptypes.WriteError(w, err)
		return
	}

	httptypes.WriteJSON(w, http.StatusOK, "List of webhook events", events)
}

// peekEventType reads the event name of an unverified payload for logging only.
func peekEventType(payload []byte) string {
	var envelope struct {
		Event string `json:"event"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil || envelope.Event == "" {
		return "unknown"
	}
	return envelope.Event
}

func NewAPI(
	service ServiceInterface,
	subscriptions SubscriptionsInterface,
	authz AuthorizerInterface,
	secret string,
	tracer tracing.TracingInterface,
	monitor monitoring.MonitorInterface,
	logger logging.LoggerInterface,
) *API {
	a := new(API)

	a.service = service
	a.subscriptions = subscriptions
	a.authz = authz
	a.secret = secret

	a.tracer = tracer
	a.monitor = monitor
	a.logger = logger

	return a
}
