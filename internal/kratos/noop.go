// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package kratos

import "context"

// NoopClient accepts every identity. Used when no Kratos admin URL is configured.
type NoopClient struct{}

func (n *NoopClient) IdentityExists(context.Context, string) (bool, error) {
	return true, nil
}

func (n *NoopClient) GetIdentityEmail(context.Context, string) (string, error) {
	return "", nil
}

func NewNoopClient() *NoopClient {
	return new(NoopClient)
}
