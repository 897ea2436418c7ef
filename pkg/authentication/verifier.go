// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package authentication

import (
	"context"
	"errors"
	"slices"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"

	"github.com/canonical/license-service/internal/logging"
	"github.com/canonical/license-service/internal/monitoring"
	"github.com/canonical/license-service/internal/tracing"
)

var (
	ErrNoAccessPolicy = errors.New("unauthorized: no access policy configured")
	ErrNotAllowed     = errors.New("unauthorized: missing required scope or subject not allowed")
)

// claims carries both the space separated `scope` claim and the `scp` list some
// issuers emit instead.
type claims struct {
	Subject string   `json:"sub"`
	Scope   string   `json:"scope"`
	Scopes  []string `json:"scp"`
}

func (c *claims) hasScope(scope string) bool {
	return slices.Contains(strings.Fields(c.Scope), scope) || slices.Contains(c.Scopes, scope)
}

type JWTVerifier struct {
	verifier        *oidc.IDTokenVerifier
	allowedSubjects []string
	requiredScope   string

	tracer  tracing.TracingInterface
	monitor monitoring.MonitorInterface
	logger  logging.LoggerInterface
}

// VerifyToken returns the token subject when the subject is allow-listed or the
// token carries the required scope.
func (v *JWTVerifier) VerifyToken(ctx context.Context, rawToken string) (string, error) {
	ctx, span := v.tracer.Start(ctx, "authentication.JWTVerifier.VerifyToken")
	defer span.End()

	token, err := v.verifier.Verify(ctx, rawToken)
	if err != nil {
		return "", err
	}

	var c claims
	if err := token.Claims(&c); err != nil {
		v.logger.Debugf("failed to extract claims: %v", err)
		return "", err
	}

	if err := v.authorize(&c); err != nil {
		v.logger.Security().AuthzFailure(c.Subject, "jwt_api_access")
		return "", err
	}

	return c.Subject, nil
}

func (v *JWTVerifier) authorize(c *claims) error {
	if len(v.allowedSubjects) == 0 && v.requiredScope == "" {
		return ErrNoAccessPolicy
	}

	if slices.Contains(v.allowedSubjects, c.Subject) {
		return nil
	}

	if v.requiredScope != "" && c.hasScope(v.requiredScope) {
		return nil
	}

	return ErrNotAllowed
}

func NewJWTVerifier(
	provider ProviderInterface,
	allowedSubjects []string,
	requiredScope string,
	tracer tracing.TracingInterface,
	monitor monitoring.MonitorInterface,
	logger logging.LoggerInterface,
) *JWTVerifier {
	verifier := provider.Verifier(
		&oidc.Config{
			SkipClientIDCheck: true,
			SkipIssuerCheck:   false,
		},
	)

	return NewJWTVerifierDirect(verifier, allowedSubjects, requiredScope, tracer, monitor, logger)
}

func NewJWTVerifierDirect(
	verifier *oidc.IDTokenVerifier,
	allowedSubjects []string,
	requiredScope string,
	tracer tracing.TracingInterface,
	monitor monitoring.MonitorInterface,
	logger logging.LoggerInterface,
) *JWTVerifier {
	v := new(JWTVerifier)

	v.verifier = verifier
	v.allowedSubjects = allowedSubjects
	v.requiredScope = requiredScope

	v.tracer = tracer
	v.monitor = monitor
	v.logger = logger

	return v
}
