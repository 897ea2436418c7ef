// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package openfga

import (
	"context"
	"testing"

	"github.com/canonical/license-service/internal/logging"
	"github.com/canonical/license-service/internal/monitoring"
	"github.com/canonical/license-service/internal/tracing"
)

func TestNoopClient(t *testing.T) {
	logger := logging.NewNoopLogger()
	c := NewNoopClient(tracing.NewNoopTracer(), monitoring.NewNoopMonitor("license-service", logger), logger)

	ok, err := c.Check(context.Background(), "user:alice", "can_manage", "organization:org-1", *NewTuple("user:bob", "admin", "organization:org-1"))
	if err != nil || !ok {
		t.Fatalf("expected noop check to allow, got %v %v", ok, err)
	}

	r, err := c.ReadTuples(context.Background(), "", "", "organization:org-1", "")
	if err != nil || len(r.Tuples) != 0 {
		t.Fatalf("expected no tuples, got %v %v", r, err)
	}
}

func TestConfig_ApiURL(t *testing.T) {
	tests := []struct {
		scheme   string
		host     string
		expected string
	}{
		{scheme: "http", host: "openfga:8080", expected: "http://openfga:8080"},
		{scheme: "", host: "fga.example.com", expected: "https://fga.example.com"},
	}

	for _, test := range tests {
		t.Run(test.expected, func(t *testing.T) {
			cfg := Config{ApiScheme: test.scheme, ApiHost: test.host}
			if got := cfg.ApiURL(); got != test.expected {
				t.Fatalf("expected %s, got %s", test.expected, got)
			}
		})
	}
}
