// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package cmd

import (
	"net/http"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/canonical/license-service/pkg/invitations"
)

var invitationCmd = &cobra.Command{
	Use:   "invitation",
	Short: "Manage organization invitations",
}

var sendInvitationCmd = &cobra.Command{
	Use:   "send [org-id] [email...]",
	Short: "Invite one or more emails to an organization",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		memberType, _ := cmd.Flags().GetString("member-type")
		poolID, _ := cmd.Flags().GetString("pool-id")

		path := "/api/v0/organizations/" + url.PathEscape(args[0]) + "/invitations"

		if len(args) == 2 {
			return call(cmd.Context(), cmd.OutOrStdout(), http.MethodPost, path, invitations.SendRequest{
				Email:      args[1],
				MemberType: memberType,
				AutoAssign: poolID != "",
				PoolID:     poolID,
			})
		}

		return call(cmd.Context(), cmd.OutOrStdout(), http.MethodPost, path+"/bulk", invitations.BulkSendRequest{
			Emails:     args[1:],
			MemberType: memberType,
			AutoAssign: poolID != "",
			PoolID:     poolID,
		})
	},
}

var acceptInvitationCmd = &cobra.Command{
	Use:   "accept [token]",
	Short: "Accept an invitation as the --user-id user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return call(cmd.Context(), cmd.OutOrStdout(), http.MethodPost, "/api/v0/invitations/accept", invitations.AcceptRequest{Token: args[0]})
	},
}

var cancelInvitationCmd = &cobra.Command{
	Use:   "cancel [invitation-id]",
	Short: "Cancel a pending invitation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return call(cmd.Context(), cmd.OutOrStdout(), http.MethodPost, "/api/v0/invitations/"+url.PathEscape(args[0])+"/cancel", nil)
	},
}

var listInvitationsCmd = &cobra.Command{
	Use:   "list [org-id]",
	Short: "List the invitations of an organization",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return call(cmd.Context(), cmd.OutOrStdout(), http.MethodGet, "/api/v0/organizations/"+url.PathEscape(args[0])+"/invitations", nil)
	},
}

func init() {
	sendInvitationCmd.Flags().String("member-type", "member", "Member type of the invitees")
	sendInvitationCmd.Flags().String("pool-id", "", "License pool to assign a seat from on acceptance")

	invitationCmd.AddCommand(sendInvitationCmd, acceptInvitationCmd, cancelInvitationCmd, listInvitationsCmd)
	rootCmd.AddCommand(invitationCmd)
}
