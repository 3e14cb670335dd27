// SPDX-FileCopyrightText: Copyright 2025 Loopwork, Inc.
// SPDX-License-Identifier: Apache-2.0

package connector

// ProjectStatus derives the reported readiness of a (user, provider) pair
// from token state. The projection prefers availability: an expired token
// with a refresh token still reports connected because auto-refresh will
// recover it on next use.
func ProjectStatus(token *UserOAuthToken) Status {
	switch {
	case token == nil || token.AccessToken == "" && token.RefreshToken == "":
		return StatusNotConfigured
	case token.RefreshInvalid():
		// Terminal refresh failure. The UI gets an error plus a
		// reconnect hint from StatusHint.
		return StatusError
	case !token.IsExpired():
		return StatusConnected
	case token.RefreshToken != "":
		return StatusConnected
	default:
		return StatusError
	}
}

// StatusHint supplies the next-step text accompanying an error status.
func StatusHint(token *UserOAuthToken) string {
	if token == nil {
		return ""
	}
	if token.RefreshInvalid() {
		return "authorization expired; reconnect the provider"
	}
	if token.IsExpired() && token.RefreshToken == "" {
		return "token expired and cannot be renewed; reconnect the provider"
	}
	return ""
}

// Usable reports whether tools may be materialized against this token right
// now: the session is not terminally broken and the access token is either
// live or recoverable.
func Usable(token *UserOAuthToken) bool {
	if token == nil || token.AccessToken == "" {
		return false
	}
	if token.RefreshInvalid() {
		return false
	}
	if token.IsExpired() && token.RefreshToken == "" {
		return false
	}
	return true
}
