// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/canonical/license-service/internal/logging"
	"github.com/canonical/license-service/internal/monitoring"
	"github.com/canonical/license-service/internal/storage"
	"github.com/canonical/license-service/internal/tracing"
	"github.com/canonical/license-service/internal/types"
)

const (
	// NotePaymentType lets a checkout flag a payment as an upgrade proration charge.
	NotePaymentType = "payment_type"

	ReasonGatewayCancelled = "cancelled at payment gateway"
)

// handlerFunc applies one event. It returns the subscription touched and false when
// the event had already been applied.
type handlerFunc func(ctx context.Context, event *Event) (string, bool, error)

type Service struct {
	storage       StorageInterface
	subscriptions SubscriptionsInterface

	handlers map[string]handlerFunc

	now func() time.Time

	tracer  tracing.TracingInterface
	monitor monitoring.MonitorInterface
	logger  logging.LoggerInterface
}

// Process applies a verified webhook payload. Every delivery leaves one audit row;
// a replayed event id or an already applied payment is acknowledged as a duplicate.
func (s *Service) Process(ctx context.Context, eventID string, payload []byte) (*Result, error) {
	ctx, span := s.tracer.Start(ctx, "webhooks.Service.Process")
	defer span.End()

	start := s.now()

	event := new(Event)
	if err := json.Unmarshal(payload, event); err != nil {
		return nil, fmt.Errorf("%w: malformed webhook payload: %v", types.ErrValidation, err)
	}
	if event.Event == "" {
		return nil, fmt.Errorf("%w: webhook payload has no event type", types.ErrValidation)
	}

	result := &Result{EventType: event.Event}

	handler, ok := s.handlers[event.Event]
	if !ok {
		result.Outcome = types.WebhookIgnored
		s.logger.Debugf("ignoring webhook event %s of type %s", eventID, event.Event)

		err := s.audit(ctx, eventID, result, "", start)
		if errors.Is(err, storage.ErrDuplicateKey) {
			result.Outcome = types.WebhookDuplicate
			err = s.audit(ctx, "", result, "", start)
		}
		s.observe(result, start)
		return result, err
	}

	err := s.storage.WithTx(ctx, func(ctx context.Context) error {
		subscriptionID, applied, err := handler(ctx, event)
		if err != nil {
			return err
		}

		result.SubscriptionID = subscriptionID
		result.Processed = applied
		result.Outcome = types.WebhookProcessed
		if !applied {
			result.Outcome = types.WebhookDuplicate
		}

		return s.audit(ctx, eventID, result, "", start)
	})

	switch {
	case err == nil:
	case errors.Is(err, storage.ErrDuplicateKey):
		s.logger.Infof("webhook event %s already processed", eventID)

		result.Processed = false
		result.Outcome = types.WebhookDuplicate
		err = s.audit(ctx, "", result, "", start)
	default:
		s.logger.Errorf("failed to process webhook event %s of type %s: %v", eventID, event.Event, err)

		result.Processed = false
		result.Outcome = types.WebhookError
		if auditErr := s.audit(ctx, "", result, err.Error(), start); auditErr != nil {
			s.logger.Errorf("failed to record webhook event %s: %v", eventID, auditErr)
		}
	}

	s.observe(result, start)

	if err != nil {
		return result, err
	}
	return result, nil
}

// ListEvents returns the most recent audit rows of a subscription.
func (s *Service) ListEvents(ctx context.Context, subscriptionID string, limit uint64) ([]*types.WebhookEvent, error) {
	ctx, span := s.tracer.Start(ctx, "webhooks.Service.ListEvents")
	defer span.End()

	return s.storage.ListWebhookEvents(ctx, subscriptionID, limit)
}

// audit records the delivery. Only rows carrying eventID take part in replay
// detection, so failed deliveries stay retryable.
func (s *Service) audit(ctx context.Context, eventID string, result *Result, message string, start time.Time) error {
	_, err := s.storage.CreateWebhookEvent(
		ctx,
		&types.WebhookEvent{
			GatewayEventID: eventID,
			EventType:      result.EventType,
			SubscriptionID: result.SubscriptionID,
			Outcome:        result.Outcome,
			ErrorMessage:   message,
			ProcessingMS:   s.now().Sub(start).Milliseconds(),
			ReceivedAt:     start,
		},
	)
	return err
}

func (s *Service) observe(result *Result, start time.Time) {
	eventsTotal.WithLabelValues(result.EventType, string(result.Outcome)).Inc()
	eventDuration.WithLabelValues(result.EventType).Observe(s.now().Sub(start).Seconds())
}

func (s *Service) handlePaymentCaptured(ctx context.Context, event *Event) (string, bool, error) {
	if event.Payload.Payment == nil {
		return "", false, fmt.Errorf("%w: %s without payment entity", types.ErrValidation, event.Event)
	}
	p := event.Payload.Payment.Entity

	existing, err := s.storage.GetPaymentByGatewayID(ctx, p.ID)
	if err == nil && existing.Status == types.PaymentCaptured {
		return existing.SubscriptionID, false, nil
	}
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return "", false, err
	}

	sub, err := s.subscriptions.FindByGatewayRef(ctx, p.OrderID)
	if err != nil {
		return "", false, err
	}

	paymentType := types.PaymentInitial
	switch {
	case p.Notes[NotePaymentType] == string(types.PaymentUpgradeProration):
		paymentType = types.PaymentUpgradeProration
	case sub.ActivatedAt != nil:
		paymentType = types.PaymentRenewal
	}

	applied, err := s.recordPayment(ctx, sub, &p, types.PaymentCaptured, paymentType)
	if err != nil || !applied {
		return sub.ID, false, err
	}

	switch sub.Status {
	case types.StatusPendingPayment, types.StatusPaymentFailed:
		if _, err := s.subscriptions.Activate(ctx, sub.ID, p.ID); err != nil {
			return sub.ID, false, err
		}
		s.logger.Infof("subscription %s activated by payment %s", sub.ID, p.ID)
	}

	return sub.ID, true, nil
}

func (s *Service) handlePaymentFailed(ctx context.Context, event *Event) (string, bool, error) {
	if event.Payload.Payment == nil {
		return "", false, fmt.Errorf("%w: %s without payment entity", types.ErrValidation, event.Event)
	}
	p := event.Payload.Payment.Entity

	sub, err := s.subscriptions.FindByGatewayRef(ctx, p.OrderID)
	if err != nil {
		return "", false, err
	}

	paymentType := types.PaymentInitial
	if sub.ActivatedAt != nil {
		paymentType = types.PaymentRenewal
	}

	applied, err := s.recordPayment(ctx, sub, &p, types.PaymentFailed, paymentType)
	if err != nil || !applied {
		return sub.ID, false, err
	}

	switch sub.Status {
	case types.StatusActive, types.StatusPendingPayment:
	default:
		s.logger.Infof("payment %s failed on %s subscription %s", p.ID, sub.Status, sub.ID)
		return sub.ID, true, nil
	}

	reason := p.ErrorDescription
	if reason == "" {
		reason = p.ErrorCode
	}

	if _, err := s.subscriptions.RecordPaymentFailure(ctx, sub.ID, reason); err != nil {
		return sub.ID, false, err
	}
	return sub.ID, true, nil
}

// handleRefundProcessed accumulates refunds on the payment. A refund covering the
// whole amount cancels the subscription.
func (s *Service) handleRefundProcessed(ctx context.Context, event *Event) (string, bool, error) {
	if event.Payload.Refund == nil {
		return "", false, fmt.Errorf("%w: %s without refund entity", types.ErrValidation, event.Event)
	}
	r := event.Payload.Refund.Entity

	payment, err := s.storage.GetPaymentByGatewayID(ctx, r.PaymentID)
	if errors.Is(err, storage.ErrNotFound) {
		return "", false, fmt.Errorf("%w: %s", types.ErrPaymentNotFound, r.PaymentID)
	}
	if err != nil {
		return "", false, err
	}

	if payment.RefundStatus == types.RefundFull {
		return payment.SubscriptionID, false, nil
	}

	total := payment.RefundAmount.Add(toAmount(r.Amount))
	status := types.RefundPartial
	if total.GreaterThanOrEqual(payment.Amount) {
		status = types.RefundFull
	}

	if err := s.storage.UpdatePaymentRefund(ctx, payment.ID, total, status, s.now()); err != nil {
		return payment.SubscriptionID, false, err
	}

	if status == types.RefundFull {
		if _, err := s.subscriptions.ProcessFullRefund(ctx, payment.SubscriptionID); err != nil {
			return payment.SubscriptionID, false, err
		}
		s.logger.Infof("subscription %s cancelled after full refund of payment %s", payment.SubscriptionID, payment.GatewayPaymentID)
	}

	return payment.SubscriptionID, true, nil
}

func (s *Service) handleSubscriptionCharged(ctx context.Context, event *Event) (string, bool, error) {
	if event.Payload.Subscription == nil || event.Payload.Payment == nil {
		return "", false, fmt.Errorf("%w: %s without subscription and payment entities", types.ErrValidation, event.Event)
	}
	p := event.Payload.Payment.Entity

	sub, err := s.subscriptions.FindByGatewayRef(ctx, event.Payload.Subscription.Entity.ID)
	if err != nil {
		return "", false, err
	}

	paymentType := types.PaymentRenewal
	if sub.ActivatedAt == nil {
		paymentType = types.PaymentInitial
	}

	applied, err := s.recordPayment(ctx, sub, &p, types.PaymentCaptured, paymentType)
	if err != nil || !applied {
		return sub.ID, false, err
	}

	if sub.Status == types.StatusPendingPayment {
		_, err = s.subscriptions.Activate(ctx, sub.ID, p.ID)
	} else {
		_, err = s.subscriptions.Renew(ctx, sub.ID, p.ID)
	}
	if err != nil {
		return sub.ID, false, err
	}

	return sub.ID, true, nil
}

func (s *Service) handleSubscriptionCancelled(ctx context.Context, event *Event) (string, bool, error) {
	if event.Payload.Subscription == nil {
		return "", false, fmt.Errorf("%w: %s without subscription entity", types.ErrValidation, event.Event)
	}

	sub, err := s.subscriptions.FindByGatewayRef(ctx, event.Payload.Subscription.Entity.ID)
	if err != nil {
		return "", false, err
	}

	if sub.Status == types.StatusCancelled || sub.Status.Terminal() {
		return sub.ID, false, nil
	}

	// only an active subscription keeps access until its period ends
	immediate := sub.Status != types.StatusActive
	if _, err := s.subscriptions.Cancel(ctx, sub.ID, immediate, ReasonGatewayCancelled); err != nil {
		return sub.ID, false, err
	}

	return sub.ID, true, nil
}

func (s *Service) handleSubscriptionPending(ctx context.Context, event *Event) (string, bool, error) {
	if event.Payload.Subscription == nil {
		return "", false, fmt.Errorf("%w: %s without subscription entity", types.ErrValidation, event.Event)
	}

	sub, err := s.subscriptions.FindByGatewayRef(ctx, event.Payload.Subscription.Entity.ID)
	if err != nil {
		return "", false, err
	}

	if sub.Status.Terminal() {
		return sub.ID, false, nil
	}

	if _, err := s.subscriptions.FlagPaymentPending(ctx, sub.ID, "recurring charge pending at payment gateway"); err != nil {
		return sub.ID, false, err
	}

	return sub.ID, true, nil
}

// recordPayment stores the gateway payment, returning false when it is already known.
func (s *Service) recordPayment(ctx context.Context, sub *types.OrganizationSubscription, p *PaymentEntity, status types.PaymentStatus, paymentType types.PaymentType) (bool, error) {
	payment := &types.Payment{
		SubscriptionID:   sub.ID,
		GatewayPaymentID: p.ID,
		GatewayOrderID:   p.OrderID,
		Amount:           toAmount(p.Amount),
		Status:           status,
		Type:             paymentType,
	}
	if status == types.PaymentCaptured {
		now := s.now()
		payment.CapturedAt = &now
	}

	_, err := s.storage.CreatePayment(ctx, payment)
	if errors.Is(err, storage.ErrDuplicateKey) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	return true, nil
}

func NewService(storage StorageInterface, subscriptions SubscriptionsInterface, tracer tracing.TracingInterface, monitor monitoring.MonitorInterface, logger logging.LoggerInterface) *Service {
	s := new(Service)

	s.storage = storage
	s.subscriptions = subscriptions

	s.handlers = map[string]handlerFunc{
		EventPaymentCaptured:       s.handlePaymentCaptured,
		EventPaymentFailed:         s.handlePaymentFailed,
		EventRefundProcessed:       s.handleRefundProcessed,
		EventSubscriptionCharged:   s.handleSubscriptionCharged,
		EventSubscriptionCancelled: s.handleSubscriptionCancelled,
		EventSubscriptionPending:   s.handleSubscriptionPending,
	}

	s.now = time.Now

	s.tracer = tracer
	s.monitor = monitor
	s.logger = logger

	return s
}
