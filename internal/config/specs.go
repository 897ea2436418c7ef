// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package config

import (
	"time"
)

// EnvSpec is the basic environment configuration setup needed for the app to start
type EnvSpec struct {
	OtelGRPCEndpoint string `envconfig:"otel_grpc_endpoint"`
	OtelHTTPEndpoint string `envconfig:"otel_http_endpoint"`
	TracingEnabled   bool   `envconfig:"tracing_enabled" default:"true"`

	LogLevel string `envconfig:"log_level" default:"error"`
	Debug    bool   `envconfig:"debug" default:"false"`

	Port     int `envconfig:"port" default:"8080"`
	GRPCPort int `envconfig:"grpc_port" default:"50051"`

	DSN string `envconfig:"DSN" required:"true"`

	DBMaxConns        int32         `envconfig:"db_max_conns" default:"25"`
	DBMinConns        int32         `envconfig:"db_min_conns" default:"2"`
	DBMaxConnLifetime time.Duration `envconfig:"db_max_conn_lifetime" default:"1h"`
	DBMaxConnIdleTime time.Duration `envconfig:"db_max_conn_idle_time" default:"30m"`

	// KratosAdminURL enables identity checks on bulk assignment when set.
	KratosAdminURL string `envconfig:"kratos_admin_url"`

	AuthenticationEnabled bool     `envconfig:"authentication_enabled" default:"false"`
	OIDCIssuer            string   `envconfig:"oidc_issuer"`
	OIDCJWKSURL           string   `envconfig:"oidc_jwks_url"`
	OIDCAllowedSubjects   []string `envconfig:"oidc_allowed_subjects"`
	OIDCRequiredScope     string   `envconfig:"oidc_required_scope"`

	AuthorizationEnabled bool   `envconfig:"authorization_enabled" default:"false"`
	OpenfgaApiScheme     string `envconfig:"openfga_api_scheme" default:""`
	OpenfgaApiHost       string `envconfig:"openfga_api_host"`
	OpenfgaApiToken      string `envconfig:"openfga_api_token"`
	OpenfgaStoreId       string `envconfig:"openfga_store_id"`
	OpenfgaModelId       string `envconfig:"openfga_authorization_model_id" default:""`

	WebhookSecret string `envconfig:"webhook_secret" required:"true"`

	MaxBulkAssignSize    int `envconfig:"max_bulk_assign_size" default:"150"`
	MaxBulkInviteSize    int `envconfig:"max_bulk_invite_size" default:"50"`
	BulkChunkSize        int `envconfig:"bulk_chunk_size" default:"50"`
	BulkConcurrency      int `envconfig:"bulk_concurrency" default:"1"`
	InvitationExpiryDays int `envconfig:"invitation_expiry_days" default:"7"`

	GracePeriodDays         int           `envconfig:"grace_period_days" default:"7"`
	PaymentFailureThreshold int           `envconfig:"payment_failure_threshold" default:"3"`
	SweepInterval           time.Duration `envconfig:"sweep_interval" default:"1h"`
}
