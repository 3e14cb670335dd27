// SPDX-FileCopyrightText: Copyright 2025 Loopwork, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package auth carries the authenticated user identity through request
// contexts. Credential validation happens in the fronting gateway; the
// runtime trusts the user header the gateway injects after stripping any
// client-supplied value.
package auth

import (
	"context"
	"net/http"
)

// UserHeader is the request header carrying the authenticated user id.
const UserHeader = "X-Tether-User"

// maxUserIDLength bounds header-supplied ids before they become store keys.
const maxUserIDLength = 256

// ValidUserID reports whether a header-supplied user id is acceptable. Ids
// become store key segments and scan patterns, so characters with meaning
// there (':', '*', '?', '[') are rejected, as is '@', which marks reserved
// tenants like the shared machine-token tenant.
func ValidUserID(userID string) bool {
	if userID == "" || len(userID) > maxUserIDLength {
		return false
	}
	for i := 0; i < len(userID); i++ {
		c := userID[i]
		if c <= 0x20 || c >= 0x7f {
			return false
		}
		switch c {
		case ':', '@', '*', '?', '[':
			return false
		}
	}
	return true
}

// UserContextKey is the key used to store the user id in the request context.
//
// Using an empty struct as the key prevents collisions with other context
// keys, as each empty struct type is distinct even when the names coincide.
type UserContextKey struct{}

// WithUser stores a user id in the context. Empty ids leave the context
// unchanged.
func WithUser(ctx context.Context, userID string) context.Context {
	if userID == "" {
		return ctx
	}
	return context.WithValue(ctx, UserContextKey{}, userID)
}

// UserFromContext retrieves the authenticated user id from the context.
// Returns the id and true if present, "" and false otherwise.
func UserFromContext(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(UserContextKey{}).(string)
	return userID, ok && userID != ""
}

// RequireUser is an HTTP middleware that copies the user id from UserHeader
// into the request context. Requests without the header are rejected with
// 401, requests with a malformed id with 400, before reaching the handler.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get(UserHeader)
		if userID == "" {
			http.Error(w, "missing "+UserHeader+" header", http.StatusUnauthorized)
			return
		}
		if !ValidUserID(userID) {
			http.Error(w, "invalid "+UserHeader+" header", http.StatusBadRequest)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), userID)))
	})
}
