// SPDX-FileCopyrightText: Copyright 2025 Loopwork, Inc.
// SPDX-License-Identifier: Apache-2.0

package connector

import (
	"encoding/json"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/loopwork/tether/pkg/logger"
)

// Hash field names for the token record at user:{u}:connector:{p}:token.
const (
	fieldAccessToken    = "access_token"
	fieldTokenType      = "token_type"
	fieldRefreshToken   = "refresh_token"
	fieldExpiresAt      = "expires_at"
	fieldScope          = "scope"
	fieldIDToken        = "id_token"
	fieldAdditionalData = "additional_data"
	fieldLastRefreshed  = "last_refreshed"
	fieldCreatedAt      = "created_at"
)

// parseTolerated counts token records that loaded with damaged optional
// fields but a usable access token. Exposed on the health endpoint so
// operators can spot silent store corruption.
var parseTolerated atomic.Int64

// TokenParseTolerated returns the number of tolerated token parse failures
// since process start.
func TokenParseTolerated() int64 {
	return parseTolerated.Load()
}

// toFields flattens the token into the complete hash field map. Every field
// is always written so a refresh fully replaces the previous record,
// including a rotated-away refresh token.
func (t *UserOAuthToken) toFields() map[string]string {
	fields := map[string]string{
		fieldAccessToken:    t.AccessToken,
		fieldTokenType:      t.TokenType,
		fieldRefreshToken:   t.RefreshToken,
		fieldExpiresAt:      formatUnix(t.ExpiresAt),
		fieldScope:          t.Scope,
		fieldIDToken:        t.IDToken,
		fieldAdditionalData: "",
		fieldLastRefreshed:  formatUnix(t.LastRefreshed),
		fieldCreatedAt:      formatUnix(t.CreatedAt),
	}
	if len(t.AdditionalData) > 0 {
		if data, err := json.Marshal(t.AdditionalData); err == nil {
			fields[fieldAdditionalData] = string(data)
		}
	}
	return fields
}

// tokenFromFields rebuilds a token from its hash record. Damage to optional
// fields (bad timestamps, unparseable additional data) is tolerated: the
// field is zeroed, a warning is logged and the tolerance counter bumped.
// Availability wins over strictness as long as the access token is present.
func tokenFromFields(userID, providerID string, fields map[string]string) *UserOAuthToken {
	token := &UserOAuthToken{
		UserID:       userID,
		ProviderID:   providerID,
		AccessToken:  fields[fieldAccessToken],
		TokenType:    fields[fieldTokenType],
		RefreshToken: fields[fieldRefreshToken],
		Scope:        fields[fieldScope],
		IDToken:      fields[fieldIDToken],
	}
	if token.TokenType == "" {
		token.TokenType = "Bearer"
	}

	damaged := false

	var ok bool
	if token.ExpiresAt, ok = parseUnix(fields[fieldExpiresAt]); !ok {
		damaged = true
	}
	if token.LastRefreshed, ok = parseUnix(fields[fieldLastRefreshed]); !ok {
		damaged = true
	}
	if token.CreatedAt, ok = parseUnix(fields[fieldCreatedAt]); !ok {
		damaged = true
	}

	if raw := fields[fieldAdditionalData]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &token.AdditionalData); err != nil {
			token.AdditionalData = nil
			damaged = true
		}
	}

	if damaged {
		parseTolerated.Add(1)
		logger.Warnw("tolerated damaged token record",
			"user_id", userID,
			"provider_id", providerID,
			"has_access_token", token.AccessToken != "",
		)
	}

	return token
}

func formatUnix(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return strconv.FormatInt(t.Unix(), 10)
}

// parseUnix converts a stored unix timestamp. Empty means the field was
// never set; a malformed value reports damage.
func parseUnix(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, true
	}
	unix, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(unix, 0), true
}
