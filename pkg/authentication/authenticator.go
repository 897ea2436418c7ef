// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package authentication

import (
	"context"
	"fmt"

	"github.com/canonical/license-service/internal/logging"
	"github.com/canonical/license-service/internal/monitoring"
	"github.com/canonical/license-service/internal/tracing"
)

// NewJWTAuthenticator builds the token verifier for issuer. Keys come from jwksURL
// when set, otherwise from OIDC discovery.
func NewJWTAuthenticator(
	ctx context.Context,
	issuer string,
	jwksURL string,
	allowedSubjects []string,
	requiredScope string,
	tracer tracing.TracingInterface,
	monitor monitoring.MonitorInterface,
	logger logging.LoggerInterface,
) (TokenVerifierInterface, error) {
	if issuer == "" {
		return nil, fmt.Errorf("issuer is required for JWT authentication")
	}

	if jwksURL != "" {
		logger.Infof("using JWKS URL %s for issuer %s", jwksURL, issuer)
		return NewJWTVerifierDirect(NewVerifierWithJWKS(ctx, issuer, jwksURL), allowedSubjects, requiredScope, tracer, monitor, logger), nil
	}

	logger.Infof("using OIDC discovery for issuer %s", issuer)

	provider, err := NewProvider(ctx, issuer)
	if err != nil {
		return nil, err
	}

	return NewJWTVerifier(provider, allowedSubjects, requiredScope, tracer, monitor, logger), nil
}
