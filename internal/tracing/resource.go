// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package tracing

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
)

func newResource(service string) *resource.Resource {
	return resource.NewWithAttributes(
		"",
		attribute.String("service.name", service),
	)
}
