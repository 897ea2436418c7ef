// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package types

import "errors"

// Capacity errors.
var (
	ErrNoSeatsAvailable    = errors.New("no seats available")
	ErrInsufficientSeats   = errors.New("insufficient seats")
	ErrBelowAssignedCount  = errors.New("seat count below assigned seats")
	ErrBelowAllocatedCount = errors.New("seat count below allocated pool seats")
)

// Uniqueness errors.
var (
	ErrDuplicateAssignment = errors.New("user already holds an active license for this subscription")
	ErrDuplicatePending    = errors.New("a pending invitation already exists for this email")
)

// Precondition errors.
var (
	ErrNotActive             = errors.New("assignment is not active")
	ErrNotPending            = errors.New("invitation is not pending")
	ErrNoActiveSource        = errors.New("source user has no active assignment")
	ErrTargetAlreadyAssigned = errors.New("target user already has an active assignment")
	ErrInvalidDirection      = errors.New("invalid plan change direction")
	ErrNoPendingChange       = errors.New("no pending plan change")
	ErrInvalidTransition     = errors.New("invalid subscription status transition")
	ErrSubscriptionInactive  = errors.New("subscription does not grant access")
	ErrLastAdmin             = errors.New("organization must keep at least one administrator")
)

// Invitation token errors.
var (
	ErrInvalidToken      = errors.New("invalid invitation token")
	ErrInvitationExpired = errors.New("invitation expired")
)

var ErrBatchTooLarge = errors.New("batch too large")

// Lookup errors.
var (
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrPoolNotFound         = errors.New("license pool not found")
	ErrPlanNotFound         = errors.New("plan not found")
	ErrAssignmentNotFound   = errors.New("assignment not found")
	ErrInvitationNotFound   = errors.New("invitation not found")
	ErrUserNotFound         = errors.New("user not found")
	ErrPaymentNotFound      = errors.New("payment not found")
)

var (
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrValidation       = errors.New("validation failed")
)
