// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package prometheus

import (
	"testing"

	"github.com/canonical/license-service/internal/logging"
)

func TestMonitorMetrics(t *testing.T) {
	m := NewMonitor("license-service-test", logging.NewNoopLogger())

	if m.GetService() != "license-service-test" {
		t.Errorf("unexpected service %q", m.GetService())
	}

	if err := m.SetResponseTimeMetric(map[string]string{"route": "GET/api/v0/status", "status": "200"}, 0.1); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	if err := m.SetDependencyAvailability(map[string]string{"component": "database"}, 1); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestMonitorUninstantiated(t *testing.T) {
	m := &Monitor{service: "x", logger: logging.NewNoopLogger()}

	if err := m.SetResponseTimeMetric(nil, 1); err == nil {
		t.Error("expected error for missing histogram")
	}
	if err := m.SetDependencyAvailability(nil, 1); err == nil {
		t.Error("expected error for missing gauge")
	}
}
