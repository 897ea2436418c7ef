// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package types

import (
	"time"

	"github.com/shopspring/decimal"
)

type BillingCycle string

const (
	BillingCycleMonthly BillingCycle = "monthly"
	BillingCycleAnnual  BillingCycle = "annual"
)

// Days is the number of days used to prorate charges within one billing period.
func (b BillingCycle) Days() int {
	if b == BillingCycleAnnual {
		return 365
	}
	return 30
}

// Period returns the end of the billing period starting at from.
func (b BillingCycle) Period(from time.Time) time.Time {
	if b == BillingCycleAnnual {
		return from.AddDate(1, 0, 0)
	}
	return from.AddDate(0, 1, 0)
}

type Plan struct {
	ID                  string          `db:"id" json:"id"`
	Name                string          `db:"name" json:"name"`
	Tier                int             `db:"tier" json:"tier"`
	MonthlyPricePerSeat decimal.Decimal `db:"monthly_price_per_seat" json:"monthly_price_per_seat"`
	AnnualPricePerSeat  decimal.Decimal `db:"annual_price_per_seat" json:"annual_price_per_seat"`
	Features            []string        `db:"features" json:"features"`
}

// PriceFor returns the per-seat price charged for one period of the given cycle.
func (p *Plan) PriceFor(cycle BillingCycle) decimal.Decimal {
	if cycle == BillingCycleAnnual {
		return p.AnnualPricePerSeat
	}
	return p.MonthlyPricePerSeat
}

type PendingPlanChange struct {
	NewPlanID     string    `json:"new_plan_id"`
	EffectiveDate time.Time `json:"effective_date"`
}

type OrganizationSubscription struct {
	ID                    string             `db:"id" json:"id"`
	OrganizationID        string             `db:"organization_id" json:"organization_id"`
	PlanID                string             `db:"plan_id" json:"subscription_plan_id"`
	TotalSeats            int                `db:"total_seats" json:"total_seats"`
	AssignedSeats         int                `db:"assigned_seats" json:"assigned_seats"`
	Status                SubscriptionStatus `db:"status" json:"status"`
	BillingCycle          BillingCycle       `db:"billing_cycle" json:"billing_cycle"`
	StartDate             time.Time          `db:"start_date" json:"start_date"`
	EndDate               time.Time          `db:"end_date" json:"end_date"`
	AutoRenew             bool               `db:"auto_renew" json:"auto_renew"`
	PricePerSeat          decimal.Decimal    `db:"price_per_seat" json:"price_per_seat"`
	DiscountPercentage    decimal.Decimal    `db:"discount_percentage" json:"discount_percentage"`
	FinalAmount           decimal.Decimal    `db:"final_amount" json:"final_amount"`
	PendingPlanChange     *PendingPlanChange `json:"pending_plan_change,omitempty"`
	PaymentAttempts       int                `db:"payment_attempts" json:"payment_attempts"`
	GracePeriodEnd        *time.Time         `db:"grace_period_end" json:"grace_period_end,omitempty"`
	GatewayOrderID        string             `db:"gateway_order_id" json:"gateway_order_id,omitempty"`
	GatewaySubscriptionID string             `db:"gateway_subscription_id" json:"gateway_subscription_id,omitempty"`
	PaymentID             string             `db:"payment_id" json:"payment_id,omitempty"`
	ActivatedAt           *time.Time         `db:"activated_at" json:"activated_at,omitempty"`
	LastPaymentError      string             `db:"last_payment_error" json:"last_payment_error,omitempty"`
	SuspendedAt           *time.Time         `db:"suspended_at" json:"suspended_at,omitempty"`
	SuspensionReason      string             `db:"suspension_reason" json:"suspension_reason,omitempty"`
	CancelledAt           *time.Time         `db:"cancelled_at" json:"cancelled_at,omitempty"`
	CancellationReason    string             `db:"cancellation_reason" json:"cancellation_reason,omitempty"`
	CreatedAt             time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt             time.Time          `db:"updated_at" json:"updated_at"`
}

// AvailableSeats is the number of seats not yet bound to a user.
func (s *OrganizationSubscription) AvailableSeats() int {
	return s.TotalSeats - s.AssignedSeats
}

// ComputeFinalAmount returns price_per_seat * total_seats less the discount.
func (s *OrganizationSubscription) ComputeFinalAmount() decimal.Decimal {
	gross := s.PricePerSeat.Mul(decimal.NewFromInt(int64(s.TotalSeats)))
	discount := gross.Mul(s.DiscountPercentage).Div(decimal.NewFromInt(100))
	return gross.Sub(discount).Round(2)
}

type LicensePool struct {
	ID                         string    `db:"id" json:"id"`
	OrganizationSubscriptionID string    `db:"organization_subscription_id" json:"organization_subscription_id"`
	OrganizationID             string    `db:"organization_id" json:"organization_id"`
	MemberType                 string    `db:"member_type" json:"member_type"`
	AllocatedSeats             int       `db:"allocated_seats" json:"allocated_seats"`
	AssignedSeats              int       `db:"assigned_seats" json:"assigned_seats"`
	AvailableSeats             int       `db:"available_seats" json:"available_seats"`
	CreatedAt                  time.Time `db:"created_at" json:"created_at"`
}

type AssignmentStatus string

const (
	AssignmentActive  AssignmentStatus = "active"
	AssignmentRevoked AssignmentStatus = "revoked"
	AssignmentExpired AssignmentStatus = "expired"
)

type LicenseAssignment struct {
	ID                         string           `db:"id" json:"id"`
	LicensePoolID              string           `db:"license_pool_id" json:"license_pool_id"`
	OrganizationSubscriptionID string           `db:"organization_subscription_id" json:"organization_subscription_id"`
	UserID                     string           `db:"user_id" json:"user_id"`
	MemberType                 string           `db:"member_type" json:"member_type"`
	Status                     AssignmentStatus `db:"status" json:"status"`
	AssignedAt                 time.Time        `db:"assigned_at" json:"assigned_at"`
	AssignedBy                 string           `db:"assigned_by" json:"assigned_by"`
	RevokedAt                  *time.Time       `db:"revoked_at" json:"revoked_at,omitempty"`
	RevocationReason           string           `db:"revocation_reason" json:"revocation_reason,omitempty"`
	TransferredFrom            string           `db:"transferred_from" json:"transferred_from,omitempty"`
	TransferredTo              string           `db:"transferred_to" json:"transferred_to,omitempty"`
}

type Entitlement struct {
	ID                         string     `db:"id" json:"id"`
	UserID                     string     `db:"user_id" json:"user_id"`
	FeatureKey                 string     `db:"feature_key" json:"feature_key"`
	GrantedByOrganization      bool       `db:"granted_by_organization" json:"granted_by_organization"`
	OrganizationSubscriptionID string     `db:"organization_subscription_id" json:"organization_subscription_id"`
	IsActive                   bool       `db:"is_active" json:"is_active"`
	RevokedAt                  *time.Time `db:"revoked_at" json:"revoked_at,omitempty"`
	RevocationReason           string     `db:"revocation_reason" json:"revocation_reason,omitempty"`
}

type InvitationStatus string

const (
	InvitationPending   InvitationStatus = "pending"
	InvitationAccepted  InvitationStatus = "accepted"
	InvitationExpired   InvitationStatus = "expired"
	InvitationCancelled InvitationStatus = "cancelled"
)

type Invitation struct {
	ID                     string           `db:"id" json:"id"`
	OrganizationID         string           `db:"organization_id" json:"organization_id"`
	Email                  string           `db:"email" json:"email"`
	MemberType             string           `db:"member_type" json:"member_type"`
	Token                  string           `db:"invitation_token" json:"-"`
	Status                 InvitationStatus `db:"status" json:"status"`
	AutoAssignSubscription bool             `db:"auto_assign_subscription" json:"auto_assign_subscription"`
	TargetLicensePoolID    string           `db:"target_license_pool_id" json:"target_license_pool_id,omitempty"`
	InvitedBy              string           `db:"invited_by" json:"invited_by,omitempty"`
	ExpiresAt              time.Time        `db:"expires_at" json:"expires_at"`
	AcceptedAt             *time.Time       `db:"accepted_at" json:"accepted_at,omitempty"`
	AcceptedBy             string           `db:"accepted_by" json:"accepted_by,omitempty"`
	CreatedAt              time.Time        `db:"created_at" json:"created_at"`
}

type InvitationStats struct {
	Total          int `json:"total"`
	Pending        int `json:"pending"`
	Accepted       int `json:"accepted"`
	Expired        int `json:"expired"`
	Cancelled      int `json:"cancelled"`
	AcceptanceRate int `json:"acceptance_rate"`
}

type PaymentStatus string

const (
	PaymentCaptured PaymentStatus = "captured"
	PaymentFailed   PaymentStatus = "failed"
)

type PaymentType string

const (
	PaymentInitial          PaymentType = "initial"
	PaymentRenewal          PaymentType = "renewal"
	PaymentUpgradeProration PaymentType = "upgrade_proration"
)

type RefundStatus string

const (
	RefundNone    RefundStatus = "none"
	RefundPartial RefundStatus = "partial"
	RefundFull    RefundStatus = "full"
)

type Payment struct {
	ID               string          `db:"id" json:"id"`
	SubscriptionID   string          `db:"subscription_id" json:"subscription_id"`
	GatewayPaymentID string          `db:"gateway_payment_id" json:"gateway_payment_id"`
	GatewayOrderID   string          `db:"gateway_order_id" json:"gateway_order_id"`
	Amount           decimal.Decimal `db:"amount" json:"amount"`
	Status           PaymentStatus   `db:"status" json:"status"`
	Type             PaymentType     `db:"type" json:"type"`
	RefundAmount     decimal.Decimal `db:"refund_amount" json:"refund_amount"`
	RefundStatus     RefundStatus    `db:"refund_status" json:"refund_status"`
	CapturedAt       *time.Time      `db:"captured_at" json:"captured_at,omitempty"`
	RefundedAt       *time.Time      `db:"refunded_at" json:"refunded_at,omitempty"`
}

type WebhookOutcome string

const (
	WebhookProcessed WebhookOutcome = "processed"
	WebhookIgnored   WebhookOutcome = "ignored"
	WebhookDuplicate WebhookOutcome = "duplicate"
	WebhookError     WebhookOutcome = "error"
)

type WebhookEvent struct {
	ID             string         `db:"id" json:"id"`
	GatewayEventID string         `db:"gateway_event_id" json:"gateway_event_id,omitempty"`
	EventType      string         `db:"event_type" json:"event_type"`
	SubscriptionID string         `db:"subscription_id" json:"subscription_id,omitempty"`
	Outcome        WebhookOutcome `db:"outcome" json:"outcome"`
	ErrorMessage   string         `db:"error_message" json:"error_message,omitempty"`
	ProcessingMS   int64          `db:"processing_ms" json:"processing_ms"`
	ReceivedAt     time.Time      `db:"received_at" json:"received_at"`
}
