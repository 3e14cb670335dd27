// SPDX-FileCopyrightText: Copyright 2025 Loopwork, Inc.
// SPDX-License-Identifier: Apache-2.0

package connector

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestProjectStatus(t *testing.T) {
	t.Parallel()

	live := time.Now().Add(time.Hour)
	dead := time.Now().Add(-time.Hour)

	tests := []struct {
		name  string
		token *UserOAuthToken
		want  Status
	}{
		{
			name:  "nil token",
			token: nil,
			want:  StatusNotConfigured,
		},
		{
			name:  "empty record",
			token: &UserOAuthToken{},
			want:  StatusNotConfigured,
		},
		{
			name: "refresh marked invalid",
			token: &UserOAuthToken{
				AccessToken:    "A",
				RefreshToken:   "R",
				ExpiresAt:      live,
				AdditionalData: map[string]any{"refresh_invalid": true},
			},
			want: StatusError,
		},
		{
			name:  "live token",
			token: &UserOAuthToken{AccessToken: "A", ExpiresAt: live},
			want:  StatusConnected,
		},
		{
			name:  "no expiry",
			token: &UserOAuthToken{AccessToken: "A"},
			want:  StatusConnected,
		},
		{
			name:  "expired but refreshable",
			token: &UserOAuthToken{AccessToken: "A", RefreshToken: "R", ExpiresAt: dead},
			want:  StatusConnected,
		},
		{
			name:  "expired with no way back",
			token: &UserOAuthToken{AccessToken: "A", ExpiresAt: dead},
			want:  StatusError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, ProjectStatus(tt.token))
		})
	}
}

func TestStatusHint(t *testing.T) {
	t.Parallel()

	assert.Empty(t, StatusHint(nil))
	assert.Empty(t, StatusHint(&UserOAuthToken{AccessToken: "A"}))

	invalid := &UserOAuthToken{AccessToken: "A"}
	invalid.MarkRefreshInvalid()
	assert.Contains(t, StatusHint(invalid), "reconnect")

	expired := &UserOAuthToken{AccessToken: "A", ExpiresAt: time.Now().Add(-time.Hour)}
	assert.Contains(t, StatusHint(expired), "cannot be renewed")
}

func TestUsable(t *testing.T) {
	t.Parallel()

	live := time.Now().Add(time.Hour)
	dead := time.Now().Add(-time.Hour)

	assert.False(t, Usable(nil))
	assert.False(t, Usable(&UserOAuthToken{RefreshToken: "R"}), "no access token")
	assert.True(t, Usable(&UserOAuthToken{AccessToken: "A", ExpiresAt: live}))
	assert.True(t, Usable(&UserOAuthToken{AccessToken: "A", RefreshToken: "R", ExpiresAt: dead}),
		"recoverable via refresh")
	assert.False(t, Usable(&UserOAuthToken{AccessToken: "A", ExpiresAt: dead}))

	marked := &UserOAuthToken{AccessToken: "A", ExpiresAt: live}
	marked.MarkRefreshInvalid()
	assert.False(t, Usable(marked))
}
