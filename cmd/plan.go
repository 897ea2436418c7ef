// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package cmd

import (
	"net/http"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/canonical/license-service/pkg/plans"
)

var upgradeSubscriptionCmd = &cobra.Command{
	Use:   "upgrade [subscription-id] [plan-id]",
	Short: "Move a subscription to a higher tier plan now",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return call(
			cmd.Context(),
			cmd.OutOrStdout(),
			http.MethodPost,
			"/api/v0/subscriptions/"+url.PathEscape(args[0])+"/upgrade",
			plans.PlanChangeRequest{PlanID: args[1]},
		)
	},
}

var downgradeSubscriptionCmd = &cobra.Command{
	Use:   "downgrade [subscription-id] [plan-id]",
	Short: "Schedule a lower tier plan for the end of the period",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return call(
			cmd.Context(),
			cmd.OutOrStdout(),
			http.MethodPost,
			"/api/v0/subscriptions/"+url.PathEscape(args[0])+"/downgrade",
			plans.PlanChangeRequest{PlanID: args[1]},
		)
	},
}

var seatsSubscriptionCmd = &cobra.Command{
	Use:   "seats [subscription-id] [total-seats]",
	Short: "Change the number of seats of a subscription",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		seats, err := strconv.Atoi(args[1])
		if err != nil {
			return err
		}

		return call(
			cmd.Context(),
			cmd.OutOrStdout(),
			http.MethodPut,
			"/api/v0/subscriptions/"+url.PathEscape(args[0])+"/seats",
			plans.SeatChangeRequest{TotalSeats: seats},
		)
	},
}

func init() {
	subscriptionCmd.AddCommand(upgradeSubscriptionCmd, downgradeSubscriptionCmd, seatsSubscriptionCmd)
}
