// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package logging

import (
	"testing"
)

func TestDebugLogger(t *testing.T) {
	l := NewLogger("DEBUG")
	if l == nil || l.Security() == nil {
		t.Fatal("expected logger with security logger")
	}
	if !l.Desugar().Core().Enabled(-1) {
		t.Error("expected debug level to be enabled")
	}
}

func TestInvalidLevel(t *testing.T) {
	l := NewLogger("invalid")
	if l.Desugar().Core().Enabled(1) {
		t.Error("expected warn level to be disabled on error fallback")
	}
}

func TestNoopLogger(t *testing.T) {
	l := NewNoopLogger()
	l.Infof("nothing %s", "happens")
	l.Security().SystemStartup()
	l.Security().WebhookSignatureFailure("payment.captured", "127.0.0.1")
}
