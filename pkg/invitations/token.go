// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package invitations

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
)

const tokenBytes = 32

// NewToken returns 64 hex characters read from the system CSPRNG.
func NewToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// NormalizeEmail trims and lower-cases an address so that one inbox maps to one key.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
