// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package authorization

import "strings"

const (
	ADMIN_RELATION = "admin"

	CAN_MANAGE_PERMISSION = "can_manage"
)

const (
	userPrefix         = "user:"
	organizationPrefix = "organization:"
)

func UserTuple(userId string) string {
	return userPrefix + userId
}

func OrganizationTuple(organizationId string) string {
	return organizationPrefix + organizationId
}

// stripType returns the id of an `type:id` object.
func stripType(object string) string {
	if _, id, found := strings.Cut(object, ":"); found {
		return id
	}
	return object
}
