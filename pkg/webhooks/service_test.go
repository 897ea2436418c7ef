// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package webhooks

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/canonical/license-service/internal/logging"
	"github.com/canonical/license-service/internal/monitoring"
	"github.com/canonical/license-service/internal/storage/memory"
	"github.com/canonical/license-service/internal/tracing"
	"github.com/canonical/license-service/internal/types"
	"github.com/canonical/license-service/pkg/entitlements"
	"github.com/canonical/license-service/pkg/subscriptions"
)

type fixture struct {
	service       *Service
	subscriptions *subscriptions.Service
	entitlements  *entitlements.Service
	store         *memory.Store
	sub           *types.OrganizationSubscription
}

// newFixture registers a pending 10 seat subscription billed 175.00 per month
// reachable through order_1 and sub_1.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	logger := logging.NewNoopLogger()
	tracer := tracing.NewNoopTracer()
	monitor := monitoring.NewNoopMonitor("license-service", logger)

	store := memory.NewStore()

	err := store.UpsertPlan(context.Background(), &types.Plan{
		ID:                  "plan-basic",
		Name:                "Basic",
		Tier:                1,
		MonthlyPricePerSeat: decimal.RequireFromString("20.00"),
		AnnualPricePerSeat:  decimal.RequireFromString("200.00"),
		Features:            []string{"a", "b"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ent := entitlements.NewService(store, tracer, monitor, logger)

	f := &fixture{store: store, entitlements: ent}
	f.subscriptions = subscriptions.NewService(store, ent, nil, nil, 7, 3, tracer, monitor, logger)
	f.service = NewService(store, f.subscriptions, tracer, monitor, logger)

	f.sub, err = f.subscriptions.Create(context.Background(), subscriptions.CreateRequest{
		OrganizationID:        "org-1",
		PlanID:                "plan-basic",
		TotalSeats:            10,
		BillingCycle:          types.BillingCycleMonthly,
		AutoRenew:             true,
		DiscountPercentage:    decimal.RequireFromString("12.5"),
		GatewayOrderID:        "order_1",
		GatewaySubscriptionID: "sub_1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	return f
}

func (f *fixture) deliver(t *testing.T, eventID string, event *Event) *Result {
	t.Helper()

	result, err := f.service.Process(context.Background(), eventID, marshal(t, event))
	if err != nil {
		t.Fatalf("unexpected error processing %s: %v", eventID, err)
	}
	return result
}

func (f *fixture) subscription(t *testing.T) *types.OrganizationSubscription {
	t.Helper()

	sub, err := f.subscriptions.Get(context.Background(), f.sub.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return sub
}

func marshal(t *testing.T, event *Event) []byte {
	t.Helper()

	payload, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return payload
}

func paymentEvent(name, paymentID string, amount int64) *Event {
	return &Event{
		Entity: "event",
		Event:  name,
		Payload: Payload{
			Payment: &PaymentWrapper{Entity: PaymentEntity{
				ID:               paymentID,
				OrderID:          "order_1",
				Amount:           amount,
				Currency:         "INR",
				ErrorCode:        "BAD_REQUEST_ERROR",
				ErrorDescription: "card declined",
			}},
		},
	}
}

func refundEvent(refundID, paymentID string, amount int64) *Event {
	return &Event{
		Event: EventRefundProcessed,
		Payload: Payload{
			Refund: &RefundWrapper{Entity: RefundEntity{ID: refundID, PaymentID: paymentID, Amount: amount}},
		},
	}
}

func subscriptionEvent(name string, payment *PaymentEntity) *Event {
	e := &Event{
		Event: name,
		Payload: Payload{
			Subscription: &SubscriptionWrapper{Entity: SubscriptionEntity{ID: "sub_1"}},
		},
	}
	if payment != nil {
		e.Payload.Payment = &PaymentWrapper{Entity: *payment}
	}
	return e
}

func TestVerifySignature(t *testing.T) {
	payload := []byte(`{"event":"payment.captured"}`)
	valid := hex.EncodeToString(Sign(payload, "secret"))

	tests := []struct {
		name      string
		signature string
		secret    string
		expected  bool
	}{
		{name: "valid", signature: valid, secret: "secret", expected: true},
		{name: "wrong secret", signature: valid, secret: "other", expected: false},
		{name: "tampered", signature: hex.EncodeToString(Sign([]byte(`{}`), "secret")), secret: "secret", expected: false},
		{name: "not hex", signature: "zz", secret: "secret", expected: false},
		{name: "missing signature", signature: "", secret: "secret", expected: false},
		{name: "no secret configured", signature: hex.EncodeToString(Sign(payload, "")), secret: "", expected: false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := VerifySignature(payload, test.signature, test.secret); got != test.expected {
				t.Fatalf("expected %v, got %v", test.expected, got)
			}
		})
	}
}

func TestService_PaymentCapturedActivatesOnce(t *testing.T) {
	f := newFixture(t)

	result := f.deliver(t, "evt_1", paymentEvent(EventPaymentCaptured, "pay_1", 17500))
	if !result.Processed || result.Outcome != types.WebhookProcessed || result.SubscriptionID != f.sub.ID {
		t.Fatalf("unexpected result %+v", result)
	}

	sub := f.subscription(t)
	if sub.Status != types.StatusActive || sub.PaymentID != "pay_1" {
		t.Fatalf("expected active subscription paid by pay_1, got %s %q", sub.Status, sub.PaymentID)
	}

	payment, err := f.store.GetPaymentByGatewayID(context.Background(), "pay_1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if payment.Type != types.PaymentInitial || !payment.Amount.Equal(decimal.RequireFromString("175.00")) {
		t.Fatalf("unexpected payment %+v", payment)
	}

	// replayed event id, then the same payment under a new event id
	for _, eventID := range []string{"evt_1", "evt_2"} {
		result = f.deliver(t, eventID, paymentEvent(EventPaymentCaptured, "pay_1", 17500))
		if result.Processed || result.Outcome != types.WebhookDuplicate {
			t.Fatalf("expected %s to be a duplicate, got %+v", eventID, result)
		}
	}

	if after := f.subscription(t); !after.EndDate.Equal(sub.EndDate) {
		t.Fatalf("duplicate delivery moved the end date from %s to %s", sub.EndDate, after.EndDate)
	}

	events, err := f.service.ListEvents(context.Background(), f.sub.ID, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected every delivery to be audited, got %d rows", len(events))
	}
}

func TestService_RepeatedFailuresSuspend(t *testing.T) {
	f := newFixture(t)

	f.deliver(t, "evt_paid", paymentEvent(EventPaymentCaptured, "pay_1", 17500))

	for i, paymentID := range []string{"pay_f1", "pay_f2", "pay_f3"} {
		f.deliver(t, "evt_f"+paymentID, paymentEvent(EventPaymentFailed, paymentID, 17500))

		sub := f.subscription(t)
		if sub.PaymentAttempts != i+1 {
			t.Fatalf("expected %d attempts, got %d", i+1, sub.PaymentAttempts)
		}
		if sub.LastPaymentError != "card declined" {
			t.Fatalf("expected the gateway error to be kept, got %q", sub.LastPaymentError)
		}
	}

	sub := f.subscription(t)
	if sub.Status != types.StatusPaymentFailed || sub.SuspendedAt == nil {
		t.Fatalf("expected a suspended subscription, got %s", sub.Status)
	}

	// a replayed failure does not count twice
	result := f.deliver(t, "evt_replay", paymentEvent(EventPaymentFailed, "pay_f3", 17500))
	if result.Outcome != types.WebhookDuplicate {
		t.Fatalf("expected duplicate, got %+v", result)
	}
	if got := f.subscription(t).PaymentAttempts; got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}

	f.deliver(t, "evt_recovered", paymentEvent(EventPaymentCaptured, "pay_2", 17500))

	sub = f.subscription(t)
	if sub.Status != types.StatusActive || sub.PaymentAttempts != 0 || sub.SuspendedAt != nil {
		t.Fatalf("expected the subscription to recover, got %s with %d attempts", sub.Status, sub.PaymentAttempts)
	}
}

func TestService_SuspensionWithdrawsFeatureAccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.deliver(t, "evt_paid", paymentEvent(EventPaymentCaptured, "pay_1", 17500))
	if _, err := f.entitlements.Grant(ctx, "user-1", f.sub.ID, []string{"a", "b"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	hasFeature := func() bool {
		t.Helper()

		ok, err := f.entitlements.HasFeature(ctx, "user-1", "a")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		return ok
	}

	if !hasFeature() {
		t.Fatal("expected access on an active subscription")
	}

	for _, paymentID := range []string{"pay_f1", "pay_f2", "pay_f3"} {
		f.deliver(t, "evt_f"+paymentID, paymentEvent(EventPaymentFailed, paymentID, 17500))
	}

	if sub := f.subscription(t); sub.Status != types.StatusPaymentFailed {
		t.Fatalf("expected a suspended subscription, got %s", sub.Status)
	}
	if hasFeature() {
		t.Fatal("expected a suspended subscription to withdraw access")
	}

	f.deliver(t, "evt_recovered", paymentEvent(EventPaymentCaptured, "pay_2", 17500))
	if !hasFeature() {
		t.Fatal("expected a recovered subscription to restore access")
	}
}

func TestService_PaymentNotesShapes(t *testing.T) {
	tests := []struct {
		name  string
		notes string
	}{
		{name: "empty list", notes: `[]`},
		{name: "null", notes: `null`},
		{name: "object", notes: `{"source":"checkout","attempt":2}`},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			f := newFixture(t)

			payload := `{"entity":"event","event":"payment.captured","contains":["payment"],"payload":{"payment":{"entity":` +
				`{"id":"pay_1","order_id":"order_1","amount":17500,"currency":"INR","status":"captured","notes":` + test.notes + `}}}}`

			result, err := f.service.Process(context.Background(), "evt_1", []byte(payload))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !result.Processed || result.Outcome != types.WebhookProcessed {
				t.Fatalf("unexpected result %+v", result)
			}
			if sub := f.subscription(t); sub.Status != types.StatusActive {
				t.Fatalf("expected active subscription, got %s", sub.Status)
			}
		})
	}
}

func TestNotesUnmarshal(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected Notes
		fails    bool
	}{
		{name: "empty list", input: `[]`, expected: Notes{}},
		{name: "null", input: `null`},
		{name: "strings", input: `{"payment_type":"upgrade_proration"}`, expected: Notes{"payment_type": "upgrade_proration"}},
		{name: "scalars", input: `{"seats":5,"renew":true,"x":null}`, expected: Notes{"seats": "5", "renew": "true", "x": ""}},
		{name: "non empty list", input: `["a"]`, fails: true},
		{name: "number", input: `5`, fails: true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			var n Notes
			err := json.Unmarshal([]byte(test.input), &n)
			if test.fails {
				if err == nil {
					t.Fatalf("expected an error, got %v", n)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(n) != len(test.expected) {
				t.Fatalf("expected %v, got %v", test.expected, n)
			}
			for k, v := range test.expected {
				if n[k] != v {
					t.Errorf("expected %s=%q, got %q", k, v, n[k])
				}
			}
		})
	}
}

func TestService_Refunds(t *testing.T) {
	f := newFixture(t)

	f.deliver(t, "evt_paid", paymentEvent(EventPaymentCaptured, "pay_1", 17500))

	f.deliver(t, "evt_r1", refundEvent("rfnd_1", "pay_1", 5000))

	payment, err := f.store.GetPaymentByGatewayID(context.Background(), "pay_1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if payment.RefundStatus != types.RefundPartial || !payment.RefundAmount.Equal(decimal.RequireFromString("50")) {
		t.Fatalf("unexpected refund state %s %s", payment.RefundStatus, payment.RefundAmount)
	}
	if sub := f.subscription(t); sub.Status != types.StatusActive {
		t.Fatalf("expected a partial refund to keep the subscription active, got %s", sub.Status)
	}

	f.deliver(t, "evt_r2", refundEvent("rfnd_2", "pay_1", 12500))

	sub := f.subscription(t)
	if sub.Status != types.StatusCancelled || sub.CancellationReason != subscriptions.ReasonFullRefund {
		t.Fatalf("expected a cancelled subscription, got %s %q", sub.Status, sub.CancellationReason)
	}

	result := f.deliver(t, "evt_r3", refundEvent("rfnd_3", "pay_1", 100))
	if result.Outcome != types.WebhookDuplicate {
		t.Fatalf("expected a refund on a fully refunded payment to be a duplicate, got %+v", result)
	}
}

func TestService_RefundUnknownPayment(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.Process(context.Background(), "evt_r1", marshal(t, refundEvent("rfnd_1", "pay_missing", 100)))
	if !errors.Is(err, types.ErrPaymentNotFound) {
		t.Fatalf("expected ErrPaymentNotFound, got %v", err)
	}
}

func TestService_SubscriptionEvents(t *testing.T) {
	f := newFixture(t)

	charge := &PaymentEntity{ID: "pay_1", Amount: 17500}
	f.deliver(t, "evt_c1", subscriptionEvent(EventSubscriptionCharged, charge))

	sub := f.subscription(t)
	if sub.Status != types.StatusActive {
		t.Fatalf("expected the first charge to activate, got %s", sub.Status)
	}
	firstEnd := sub.EndDate

	renewal := &PaymentEntity{ID: "pay_2", Amount: 17500}
	f.deliver(t, "evt_c2", subscriptionEvent(EventSubscriptionCharged, renewal))

	sub = f.subscription(t)
	if expected := types.BillingCycleMonthly.Period(firstEnd); !sub.EndDate.Equal(expected) {
		t.Fatalf("expected renewal to end at %s, got %s", expected, sub.EndDate)
	}

	payment, err := f.store.GetPaymentByGatewayID(context.Background(), "pay_2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if payment.Type != types.PaymentRenewal {
		t.Fatalf("expected a renewal payment, got %s", payment.Type)
	}

	f.deliver(t, "evt_p1", subscriptionEvent(EventSubscriptionPending, nil))

	sub = f.subscription(t)
	if sub.LastPaymentError == "" || sub.PaymentAttempts != 0 || sub.Status != types.StatusActive {
		t.Fatalf("expected a flagged active subscription, got %+v", sub)
	}

	f.deliver(t, "evt_x1", subscriptionEvent(EventSubscriptionCancelled, nil))

	sub = f.subscription(t)
	if sub.Status != types.StatusCancelled || !sub.EndDate.Equal(types.BillingCycleMonthly.Period(firstEnd)) {
		t.Fatalf("expected a cancellation at period end, got %s ending %s", sub.Status, sub.EndDate)
	}
	if !types.HasAccess(sub, time.Now()) {
		t.Fatal("expected access until the period ends")
	}

	result := f.deliver(t, "evt_x2", subscriptionEvent(EventSubscriptionCancelled, nil))
	if result.Outcome != types.WebhookDuplicate {
		t.Fatalf("expected a second cancellation to be a duplicate, got %+v", result)
	}
}

func TestService_UnhandledEventIgnored(t *testing.T) {
	f := newFixture(t)

	result := f.deliver(t, "evt_1", &Event{Event: "order.paid"})
	if result.Processed || result.Outcome != types.WebhookIgnored {
		t.Fatalf("unexpected result %+v", result)
	}

	result = f.deliver(t, "evt_1", &Event{Event: "order.paid"})
	if result.Outcome != types.WebhookDuplicate {
		t.Fatalf("expected a replay to be a duplicate, got %+v", result)
	}

	if sub := f.subscription(t); sub.Status != types.StatusPendingPayment {
		t.Fatalf("expected no state change, got %s", sub.Status)
	}
}

func TestService_FailedDeliveryStaysRetryable(t *testing.T) {
	f := newFixture(t)

	event := paymentEvent(EventPaymentCaptured, "pay_1", 17500)
	event.Payload.Payment.Entity.OrderID = "order_unknown"

	for i := 0; i < 2; i++ {
		result, err := f.service.Process(context.Background(), "evt_1", marshal(t, event))
		if !errors.Is(err, types.ErrSubscriptionNotFound) {
			t.Fatalf("expected ErrSubscriptionNotFound on attempt %d, got %v", i+1, err)
		}
		if result.Outcome != types.WebhookError {
			t.Fatalf("expected an error outcome, got %s", result.Outcome)
		}
	}

	if _, err := f.store.GetPaymentByGatewayID(context.Background(), "pay_1"); err == nil {
		t.Fatal("expected the failed delivery to leave no payment behind")
	}

	events, err := f.service.ListEvents(context.Background(), "", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 2 || events[0].ErrorMessage == "" {
		t.Fatalf("expected two error rows, got %+v", events)
	}
}

func TestService_MalformedPayload(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name    string
		payload string
	}{
		{name: "not json", payload: "payment"},
		{name: "no event type", payload: `{"payload":{}}`},
		{name: "captured without payment", payload: `{"event":"payment.captured","payload":{}}`},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := f.service.Process(context.Background(), "", []byte(test.payload))
			if !errors.Is(err, types.ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
		})
	}
}
