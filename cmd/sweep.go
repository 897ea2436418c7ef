// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package cmd

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/canonical/license-service/internal/logging"
	"github.com/canonical/license-service/internal/monitoring/prometheus"
	"github.com/canonical/license-service/internal/tracing"
	"github.com/canonical/license-service/pkg/subscriptions"
)

// sweepCmd runs the lifecycle sweep once, for cron style deployments.
var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Apply due grace period, expiry and downgrade transitions once",
	Long:  `Connects to the database configured in the environment and applies every time based subscription transition due now`,
	RunE: func(cmd *cobra.Command, args []string) error {
		specs := loadSpecs()

		logger := logging.NewLogger(specs.LogLevel)
		defer logger.Sync()

		monitor := prometheus.NewMonitor("license-service", logger)
		tracer := tracing.NewNoopTracer()

		dbClient, err := newDBClient(specs, tracer, monitor, logger)
		if err != nil {
			return err
		}
		defer dbClient.Close()

		app, err := newApplication(specs, dbClient, tracer, monitor, logger)
		if err != nil {
			return err
		}

		result := subscriptions.NewSweeper(app.subscriptions, specs.SweepInterval, logger).SweepOnce(cmd.Context())

		return json.NewEncoder(cmd.OutOrStdout()).Encode(result)
	},
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}
