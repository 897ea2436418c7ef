// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package types

import (
	"fmt"
	"time"
)

type SubscriptionStatus string

const (
	StatusPendingPayment SubscriptionStatus = "pending_payment"
	StatusActive         SubscriptionStatus = "active"
	StatusGracePeriod    SubscriptionStatus = "grace_period"
	StatusPaymentFailed  SubscriptionStatus = "payment_failed"
	StatusCancelled      SubscriptionStatus = "cancelled"
	StatusExpired        SubscriptionStatus = "expired"
)

// transitions lists every status change a subscription may go through.
// Self transitions are listed where an event updates a subscription without
// changing its status (renewal, failed retry).
var transitions = map[SubscriptionStatus][]SubscriptionStatus{
	StatusPendingPayment: {StatusActive, StatusCancelled},
	StatusActive:         {StatusActive, StatusGracePeriod, StatusPaymentFailed, StatusCancelled},
	StatusGracePeriod:    {StatusActive, StatusExpired, StatusCancelled},
	StatusPaymentFailed:  {StatusActive, StatusCancelled},
	StatusCancelled:      {StatusExpired},
	StatusExpired:        {},
}

func (s SubscriptionStatus) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Terminal reports whether no further transition leaves the status.
func (s SubscriptionStatus) Terminal() bool {
	return len(transitions[s]) == 0
}

// CanTransition reports whether from -> to is part of the lifecycle.
func CanTransition(from, to SubscriptionStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ValidateTransition returns ErrInvalidTransition wrapped with the offending pair.
func ValidateTransition(from, to SubscriptionStatus) error {
	if CanTransition(from, to) {
		return nil
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// HasAccess reports whether members of the subscription can use its features at now.
// A subscription cancelled at period end stays usable until its end date.
func HasAccess(sub *OrganizationSubscription, now time.Time) bool {
	switch sub.Status {
	case StatusActive:
		return true
	case StatusGracePeriod:
		return sub.GracePeriodEnd != nil && now.Before(*sub.GracePeriodEnd)
	case StatusCancelled:
		return now.Before(sub.EndDate)
	default:
		return false
	}
}
