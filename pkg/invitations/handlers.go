// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package invitations

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

type AcceptRequest struct {
	Token string `json:"token" validate:"required"`
}

// IssuedInvitation exposes the token to the inviter, who is in charge of delivering it.
type IssuedInvitation struct {
	*types.Invitation
	Token string `json:"invitation_token"`
}

type API struct {
	service ServiceInterface
	authz   AuthorizerInterface

	tracer  tracing.TracingInterface
	monitor monitoring.MonitorInterface
	logger  logging.LoggerInterface
}

func (a *API) RegisterEndpoints(mux *chi.Mux) {
	mux.Post("/api/v0/organizations/{orgID}/invitations", a.handleSend)
	mux.Post("/api/v0/organizations/{orgID}/invitations/bulk", a.handleBulkSend)
	mux.Get("/api/v0/organizations/{orgID}/invitations", a.handleList)
	mux.Get("/api/v0/organizations/{orgID}/invitations/stats", a.handleStats)
	mux.Post("/api/v0/invitations/accept", a.handleAccept)
	mux.Post("/api/v0/invitations/{invitationID}/resend", a.handleResend)
	mux.Post("/api/v0/invitations/{invitationID}/cancel", a.handleCancel)
}

func (a *API) handleSend(w http.ResponseWriter, r *http.Request) {
	ctx, span := a.tracer.Start(r.Context(), "invitations.API.handleSend")
	defer span.End()

	r = r.WithContext(ctx)
	orgID := chi.URLParam(r, "orgID")

	var req SendRequest
	if err := httptypes.ParseBody(r, &req); err != nil {
		httptypes.WriteError(w, err)
		return
	}

	if !httptypes.Authorize(w, r, a.authz, orgID, a.logger) {
		return
	}

	req.OrganizationID = orgID
	req.InvitedBy, _ = authentication.GetUserID(ctx)

	inv, err := a.service.Send(ctx, req)
	if err != nil {
		a.logger.Errorf("failed to invite %s to %s: %v", req.Email, orgID, err)
		httptypes.WriteError(w, err)
		return
	}

	httptypes.WriteJSON(w, http.StatusCreated, "Invitation sent", IssuedInvitation{Invitation: inv, Token: inv.Token})
}

func (a *API) handleBulkSend(w http.ResponseWriter, r *http.Request) {
	ctx, span := a.tracer.Start(r.Context(), "invitations.API.handleBulkSend")
	defer span.End()

	r = r.WithContext(ctx)
	orgID := chi.URLParam(r, "orgID")

	var req BulkSendRequest
	if err := httptypes.ParseBody(r, &req); err != nil {
		httptypes.WriteError(w, err)
		return
	}

	if !httptypes.Authorize(w, r, a.authz, orgID, a.logger) {
		return
	}

	req.OrganizationID = orgID
	req.InvitedBy, _ = authentication.GetUserID(ctx)

	result, err := a.service.BulkSend(ctx, req)
	if err != nil {
		a.logger.Errorf("failed to bulk invite to %s: %v", orgID, err)
		httptypes.WriteError(w, err)
		return
	}

	issued := make([]IssuedInvitation, len(result.Successful))
	for i, inv := range result.Successful {
		issued[i] = IssuedInvitation{Invitation: inv, Token: inv.Token}
	}

	httptypes.WriteJSON(
		w,
		http.StatusOK,
		"Bulk invitation processed",
		map[string]any{
			"successful": issued,
			"failed":     result.Failed,
			"stats":      result.Stats,
		},
	)
}

func (a *API) handleList(w http.ResponseWriter, r *http.Request) {
	ctx, span := a.tracer.Start(r.Context(), "invitations.API.handleList")
	defer span.End()

	r = r.WithContext(ctx)
	orgID := chi.URLParam(r, "orgID")

	if !httptypes.Authorize(w, r, a.authz, orgID, a.logger) {
		return
	}

	invitations, err := a.service.List(ctx, orgID)
	if err != nil {
		a.logger.Errorf("failed to list invitations of %s: %v", orgID, err)
		httptypes.WriteError(w, err)
		return
	}

	httptypes.WriteJSON(w, http.StatusOK, "List of invitations", invitations)
}

func (a *API) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx, span := a.tracer.Start(r.Context(), "invitations.API.handleStats")
	defer span.End()

	r = r.WithContext(ctx)
	orgID := chi.URLParam(r, "orgID")

	if !httptypes.Authorize(w, r, a.authz, orgID, a.logger) {
		return
	}

	stats, err := a.service.Stats(ctx, orgID)
	if err != nil {
		a.logger.Errorf("failed to compute invitation stats of %s: %v", orgID, err)
		httptypes.WriteError(w, err)
		return
	}

	httptypes.WriteJSON(w, http.StatusOK, "Invitation stats", stats)
}

func (a *API) handleAccept(w http.ResponseWriter, r *http.Request) {
	ctx, span := a.tracer.Start(r.Context(), "invitations.API.handleAccept")
	defer span.End()

	var req AcceptRequest
	if err := httptypes.ParseBody(r, &req); err != nil {
		httptypes.WriteError(w, err)
		return
	}

	userID, ok := authentication.GetUserID(ctx)
	if !ok || userID == "" {
		httptypes.WriteErrorMessage(w, http.StatusUnauthorized, "Unauthorized", "an authenticated user is required")
		return
	}

	result, err := a.service.Accept(ctx, req.Token, userID)
	if err != nil {
		a.logger.Errorf("failed to accept invitation for %s: %v", userID, err)
		httptypes.WriteError(w, err)
		return
	}

	httptypes.WriteJSON(w, http.StatusOK, "Invitation accepted", result)
}

func (a *API) handleResend(w http.ResponseWriter, r *http.Request) {
	ctx, span := a.tracer.Start(r.Context(), "invitations.API.handleResend")
	defer span.End()

	r = r.WithContext(ctx)

	if _, ok := a.authorizedInvitation(w, r, chi.URLParam(r, "invitationID")); !ok {
		return
	}

	inv, err := a.service.Resend(ctx, chi.URLParam(r, "invitationID"))
	if err != nil {
		a.logger.Errorf("failed to resend invitation %s: %v", chi.URLParam(r, "invitationID"), err)
		httptypes.WriteError(w, err)
		return
	}

	httptypes.WriteJSON(w, http.StatusOK, "Invitation resent", IssuedInvitation{Invitation: inv, Token: inv.Token})
}

func (a *API) handleCancel(w http.ResponseWriter, r *http.Request) {
	ctx, span := a.tracer.Start(r.Context(), "invitations.API.handleCancel")
	defer span.End()

	r = r.WithContext(ctx)

	if _, ok := a.authorizedInvitation(w, r, chi.URLParam(r, "invitationID")); !ok {
		return
	}

	inv, err := a.service.Cancel(ctx, chi.URLParam(r, "invitationID"))
	if err != nil {
		a.logger.Errorf("failed to cancel invitation %s: %v", chi.URLParam(r, "invitationID"), err)
		httptypes.WriteError(w, err)
		return
	}

	httptypes.WriteJSON(w, http.StatusOK, "Invitation cancelled", inv)
}

func (a *API) authorizedInvitation(w http.ResponseWriter, r *http.Request, invitationID string) (*types.Invitation, bool) {
	inv, err := a.service.Get(r.Context(), invitationID)
	if err != nil {
		httptypes.WriteError(w, err)
		return nil, false
	}

	return inv, httptypes.Authorize(w, r, a.authz, inv.OrganizationID, a.logger)
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
