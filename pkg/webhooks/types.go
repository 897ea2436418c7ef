// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package webhooks

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/canonical/license-service/internal/types"
)

// Razorpay event names handled by the processor.
const (
	EventPaymentCaptured       = "payment.captured"
	EventPaymentFailed         = "payment.failed"
	EventRefundProcessed       = "refund.processed"
	EventSubscriptionCharged   = "subscription.charged"
	EventSubscriptionCancelled = "subscription.cancelled"
	EventSubscriptionPending   = "subscription.pending"
)

const (
	SignatureHeader = "X-Razorpay-Signature"
	EventIDHeader   = "X-Razorpay-Event-Id"
)

// Event is the envelope of every Razorpay webhook delivery.
type Event struct {
	Entity    string   `json:"entity"`
	AccountID string   `json:"account_id"`
	Event     string   `json:"event"`
	Contains  []string `json:"contains"`
	Payload   Payload  `json:"payload"`
	CreatedAt int64    `json:"created_at"`
}

type Payload struct {
	Payment      *PaymentWrapper      `json:"payment,omitempty"`
	Refund       *RefundWrapper       `json:"refund,omitempty"`
	Subscription *SubscriptionWrapper `json:"subscription,omitempty"`
}

type PaymentWrapper struct {
	Entity PaymentEntity `json:"entity"`
}

type RefundWrapper struct {
	Entity RefundEntity `json:"entity"`
}

type SubscriptionWrapper struct {
	Entity SubscriptionEntity `json:"entity"`
}

// PaymentEntity amounts are in the smallest currency unit.
type PaymentEntity struct {
	ID               string `json:"id"`
	OrderID          string `json:"order_id"`
	InvoiceID        string `json:"invoice_id"`
	Amount           int64  `json:"amount"`
	Currency         string `json:"currency"`
	Status           string `json:"status"`
	ErrorCode        string `json:"error_code"`
	ErrorDescription string `json:"error_description"`
	Notes            Notes  `json:"notes"`
}

// Notes are the merchant key/value pairs attached to a payment.
// Razorpay sends an empty array instead of an object when there are none.
type Notes map[string]string

func (n *Notes) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("null")) {
		*n = nil
		return nil
	}

	if len(trimmed) > 0 && trimmed[0] == '[' {
		var list []json.RawMessage
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return err
		}
		if len(list) != 0 {
			return fmt.Errorf("notes must be an object, got a list of %d items", len(list))
		}
		*n = Notes{}
		return nil
	}

	var raw map[string]any
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return err
	}

	out := make(Notes, len(raw))
	for k, v := range raw {
		switch value := v.(type) {
		case string:
			out[k] = value
		case nil:
			out[k] = ""
		default:
			out[k] = fmt.Sprint(value)
		}
	}
	*n = out
	return nil
}

type RefundEntity struct {
	ID        string `json:"id"`
	PaymentID string `json:"payment_id"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Status    string `json:"status"`
}

type SubscriptionEntity struct {
	ID        string `json:"id"`
	PlanID    string `json:"plan_id"`
	Status    string `json:"status"`
	PaidCount int    `json:"paid_count"`
}

// Result is what the ingress acknowledges to the gateway.
type Result struct {
	EventType      string               `json:"event_type"`
	SubscriptionID string               `json:"subscription_id,omitempty"`
	Outcome        types.WebhookOutcome `json:"outcome"`
	Processed      bool                 `json:"processed"`
}

// toAmount converts a minor unit amount into the decimal stored on payments.
func toAmount(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}
