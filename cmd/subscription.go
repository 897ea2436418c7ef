// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package cmd

import (
	"net/http"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/canonical/license-service/pkg/subscriptions"
)

var subscriptionCmd = &cobra.Command{
	Use:   "subscription",
	Short: "Inspect and cancel organization subscriptions",
}

var getSubscriptionCmd = &cobra.Command{
	Use:   "get [subscription-id]",
	Short: "Show a subscription",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return call(cmd.Context(), cmd.OutOrStdout(), http.MethodGet, "/api/v0/subscriptions/"+url.PathEscape(args[0]), nil)
	},
}

var listSubscriptionsCmd = &cobra.Command{
	Use:   "list [org-id]",
	Short: "List the subscriptions of an organization",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return call(cmd.Context(), cmd.OutOrStdout(), http.MethodGet, "/api/v0/organizations/"+url.PathEscape(args[0])+"/subscriptions", nil)
	},
}

var cancelSubscriptionCmd = &cobra.Command{
	Use:   "cancel [subscription-id]",
	Short: "Cancel a subscription at period end, or now with --immediate",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		immediate, _ := cmd.Flags().GetBool("immediate")
		reason, _ := cmd.Flags().GetString("reason")

		return call(
			cmd.Context(),
			cmd.OutOrStdout(),
			http.MethodPost,
			"/api/v0/subscriptions/"+url.PathEscape(args[0])+"/cancel",
			subscriptions.CancelRequest{Immediate: immediate, Reason: reason},
		)
	},
}

var webhookEventsCmd = &cobra.Command{
	Use:   "events [subscription-id]",
	Short: "List the payment gateway events received for a subscription",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return call(cmd.Context(), cmd.OutOrStdout(), http.MethodGet, "/api/v0/subscriptions/"+url.PathEscape(args[0])+"/webhook-events", nil)
	},
}

func init() {
	cancelSubscriptionCmd.Flags().Bool("immediate", false, "Cancel now instead of at the end of the period")
	cancelSubscriptionCmd.Flags().String("reason", "", "Cancellation reason")

	subscriptionCmd.AddCommand(getSubscriptionCmd, listSubscriptionsCmd, cancelSubscriptionCmd, webhookEventsCmd)
	rootCmd.AddCommand(subscriptionCmd)
}
