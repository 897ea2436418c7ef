// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package webhooks

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "license_service",
		Subsystem: "webhooks",
		Name:      "events_total",
		Help:      "Payment gateway webhook events by event type and outcome.",
	}, []string{"event_type", "outcome"})

	eventDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "license_service",
		Subsystem: "webhooks",
		Name:      "processing_duration_seconds",
		Help:      "Payment gateway webhook processing duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"event_type"})

	signatureFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "license_service",
		Subsystem: "webhooks",
		Name:      "signature_failures_total",
		Help:      "Payment gateway webhook deliveries rejected for a bad signature.",
	})
)
