// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package tracing

import (
	"context"
	"testing"

	"github.com/canonical/license-service/internal/logging"
)

func TestNewTracerDisabled(t *testing.T) {
	tracer := NewTracer(NewConfig(false, "", "", logging.NewNoopLogger()))

	ctx, span := tracer.Start(context.Background(), "test.Span")
	defer span.End()

	if ctx == nil {
		t.Fatal("expected context")
	}
	if span.IsRecording() {
		t.Error("expected noop span when tracing is disabled")
	}
}

func TestNewNoopTracer(t *testing.T) {
	_, span := NewNoopTracer().Start(context.Background(), "noop")
	defer span.End()

	if span.SpanContext().IsValid() {
		t.Error("expected invalid span context from noop tracer")
	}
}
