// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package cmd

import (
	"net/http"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/canonical/license-service/pkg/licenses"
)

var licenseCmd = &cobra.Command{
	Use:   "license",
	Short: "Manage seat assignments",
}

var assignLicenseCmd = &cobra.Command{
	Use:   "assign [pool-id] [user-id...]",
	Short: "Assign seats of a pool to one or more users",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "/api/v0/pools/" + url.PathEscape(args[0]) + "/assignments"

		if len(args) == 2 {
			return call(cmd.Context(), cmd.OutOrStdout(), http.MethodPost, path, licenses.AssignRequest{UserID: args[1]})
		}

		return call(cmd.Context(), cmd.OutOrStdout(), http.MethodPost, path+"/bulk", licenses.BulkAssignRequest{UserIDs: args[1:]})
	},
}

var unassignLicenseCmd = &cobra.Command{
	Use:   "unassign [assignment-id]",
	Short: "Revoke a seat assignment",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reason, _ := cmd.Flags().GetString("reason")

		return call(
			cmd.Context(),
			cmd.OutOrStdout(),
			http.MethodDelete,
			"/api/v0/assignments/"+url.PathEscape(args[0]),
			licenses.UnassignRequest{Reason: reason},
		)
	},
}

var transferLicenseCmd = &cobra.Command{
	Use:   "transfer [subscription-id] [from-user-id] [to-user-id]",
	Short: "Move a seat from one user to another",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return call(
			cmd.Context(),
			cmd.OutOrStdout(),
			http.MethodPost,
			"/api/v0/subscriptions/"+url.PathEscape(args[0])+"/transfers",
			licenses.TransferRequest{FromUserID: args[1], ToUserID: args[2]},
		)
	},
}

var listLicensesCmd = &cobra.Command{
	Use:   "list [subscription-id]",
	Short: "List the assignments of a subscription",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return call(cmd.Context(), cmd.OutOrStdout(), http.MethodGet, "/api/v0/subscriptions/"+url.PathEscape(args[0])+"/assignments", nil)
	},
}

func init() {
	unassignLicenseCmd.Flags().String("reason", "", "Revocation reason")

	licenseCmd.AddCommand(assignLicenseCmd, unassignLicenseCmd, transferLicenseCmd, listLicensesCmd)
	rootCmd.AddCommand(licenseCmd)
}
