// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package types

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/canonical/license-service/internal/logging"
	"github.com/canonical/license-service/internal/types"
)

var ErrMalformedBody = errors.New("malformed request body")

var validate = validator.New(validator.WithRequiredStructEnabled())

// Response is the envelope of every successful API payload.
type Response struct {
	Data    any    `json:"data"`
	Message string `json:"message"`
	Status  int    `json:"status"`
}

type ErrorResponse struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
	Kind    string `json:"kind,omitempty"`
}

type errorKind struct {
	err    error
	kind   string
	status int
}

// kinds is ordered: the first sentinel matched by errors.Is wins.
var kinds = []errorKind{
	{types.ErrSubscriptionNotFound, "SubscriptionNotFound", http.StatusNotFound},
	{types.ErrPoolNotFound, "PoolNotFound", http.StatusNotFound},
	{types.ErrPlanNotFound, "PlanNotFound", http.StatusNotFound},
	{types.ErrAssignmentNotFound, "AssignmentNotFound", http.StatusNotFound},
	{types.ErrInvitationNotFound, "InvitationNotFound", http.StatusNotFound},
	{types.ErrPaymentNotFound, "PaymentNotFound", http.StatusNotFound},
	{types.ErrUserNotFound, "UserNotFound", http.StatusNotFound},
	{types.ErrInvalidToken, "InvalidToken", http.StatusNotFound},

	{types.ErrNoSeatsAvailable, "NoSeatsAvailable", http.StatusConflict},
	{types.ErrInsufficientSeats, "InsufficientSeats", http.StatusConflict},
	{types.ErrDuplicateAssignment, "DuplicateAssignment", http.StatusConflict},
	{types.ErrDuplicatePending, "DuplicatePending", http.StatusConflict},
	{types.ErrNotActive, "NotActive", http.StatusConflict},
	{types.ErrNotPending, "NotPending", http.StatusConflict},
	{types.ErrNoActiveSource, "NoActiveSource", http.StatusConflict},
	{types.ErrTargetAlreadyAssigned, "TargetAlreadyAssigned", http.StatusConflict},
	{types.ErrInvitationExpired, "Expired", http.StatusConflict},
	{types.ErrBelowAssignedCount, "BelowAssignedCount", http.StatusConflict},
	{types.ErrBelowAllocatedCount, "BelowAllocatedCount", http.StatusConflict},
	{types.ErrInvalidDirection, "InvalidDirection", http.StatusConflict},
	{types.ErrNoPendingChange, "NoPendingChange", http.StatusConflict},
	{types.ErrInvalidTransition, "InvalidTransition", http.StatusConflict},
	{types.ErrSubscriptionInactive, "SubscriptionInactive", http.StatusConflict},
	{types.ErrLastAdmin, "LastAdmin", http.StatusConflict},

	{types.ErrBatchTooLarge, "BatchTooLarge", http.StatusUnprocessableEntity},
	{types.ErrValidation, "Validation", http.StatusUnprocessableEntity},

	{types.ErrInvalidSignature, "InvalidSignature", http.StatusBadRequest},
	{ErrMalformedBody, "BadRequest", http.StatusBadRequest},
}

// StatusFromError maps a domain error to its HTTP status and kind.
// Unknown errors are internal.
func StatusFromError(err error) (int, string) {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.status, k.kind
		}
	}
	return http.StatusInternalServerError, "Internal"
}

// WriteJSON writes data wrapped in a Response envelope.
func WriteJSON(w http.ResponseWriter, status int, message string, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(
		Response{
			Data:    data,
			Message: message,
			Status:  status,
		},
	)
}

// WriteError writes the ErrorResponse matching err. Internal errors hide their message.
func WriteError(w http.ResponseWriter, err error) {
	status, kind := StatusFromError(err)

	message := err.Error()
	if status == http.StatusInternalServerError {
		message = http.StatusText(status)
	}

	WriteErrorMessage(w, status, kind, message)
}

func WriteErrorMessage(w http.ResponseWriter, status int, kind, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(
		ErrorResponse{
			Status:  status,
			Message: message,
			Kind:    kind,
		},
	)
}

// ParseBody decodes the JSON body of r into v and validates its `validate` tags.
func ParseBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedBody, err)
	}

	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %v", types.ErrValidation, err)
	}

	return nil
}

// OrganizationAuthorizerInterface decides whether the caller in ctx may manage an organization.
type OrganizationAuthorizerInterface interface {
	CanManageOrganization(ctx context.Context, organizationID string) (bool, error)
}

// Authorize writes a 403 response and returns false unless the caller may manage organizationID.
func Authorize(w http.ResponseWriter, r *http.Request, authz OrganizationAuthorizerInterface, organizationID string, logger logging.LoggerInterface) bool {
	ok, err := authz.CanManageOrganization(r.Context(), organizationID)
	if err != nil {
		logger.Errorf("failed to check access to organization %s: %v", organizationID, err)
		WriteErrorMessage(w, http.StatusInternalServerError, "Internal", http.StatusText(http.StatusInternalServerError))
		return false
	}

	if !ok {
		WriteErrorMessage(w, http.StatusForbidden, "Forbidden", "not allowed to manage organization "+organizationID)
		return false
	}

	return true
}
