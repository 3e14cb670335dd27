// SPDX-FileCopyrightText: Copyright 2025 Loopwork, Inc.
// SPDX-License-Identifier: Apache-2.0

package connector

import (
	"time"
)

// OAuth grant types supported by provider configurations.
const (
	GrantAuthorizationCode = "authorization_code"
	GrantClientCredentials = "client_credentials"
	GrantRefreshToken      = "refresh_token"
)

// Client authentication methods for the token endpoint.
const (
	// AuthMethodBody sends client_id and client_secret as form fields.
	AuthMethodBody = "body"
	// AuthMethodBasic sends client credentials as an HTTP Basic header.
	// Some providers (Notion among them) reject body credentials.
	AuthMethodBasic = "basic"
)

// StateTTL bounds the lifetime of a pending authorization flow.
const StateTTL = 600 * time.Second

// systemTenant is the store tenant for machine tokens minted through the
// client_credentials grant. Those tokens are provider-level, so every user
// shares the one record. The auth middleware rejects '@' in user ids, which
// keeps this tenant out of the user id space.
const systemTenant = "@system"

// expiryBuffer absorbs clock skew and in-flight latency when deciding
// whether an access token is still usable.
const expiryBuffer = 60 * time.Second

// OAuthConfig is the static, per-provider OAuth client configuration.
// Immutable after registration.
type OAuthConfig struct {
	ProviderID   string            `json:"provider_id"`
	ClientID     string            `json:"client_id"`
	ClientSecret string            `json:"client_secret,omitempty"`
	AuthorizeURL string            `json:"authorize_url,omitempty"`
	TokenURL     string            `json:"token_url,omitempty"`
	RedirectURI  string            `json:"redirect_uri,omitempty"`
	Scopes       []string          `json:"scopes,omitempty"`
	OAuthVersion string            `json:"oauth_version,omitempty"`
	UsePKCE      bool              `json:"use_pkce"`
	GrantType    string            `json:"grant_type,omitempty"`
	// AdditionalParams are appended verbatim to the authorize URL
	// (for example access_type=offline or prompt=consent).
	AdditionalParams map[string]string `json:"additional_params,omitempty"`
	RevokeURL        string            `json:"revoke_url,omitempty"`
	UserInfoURL      string            `json:"userinfo_url,omitempty"`
	// AuthMethod selects how client credentials reach the token endpoint.
	// Defaults to AuthMethodBody.
	AuthMethod string `json:"auth_method,omitempty"`
	// RotatingRefresh declares that the provider rotates refresh tokens:
	// every refresh response must carry a replacement refresh token.
	RotatingRefresh bool `json:"rotating_refresh,omitempty"`
	// TokenExtraFields names non-standard token response fields (for
	// example Notion's workspace_id) copied into the token's
	// additional-data on exchange.
	TokenExtraFields []string `json:"token_extra_fields,omitempty"`
}

// expectsRefreshToken reports whether the authorize request asked for an
// offline grant, meaning the exchange response should include a refresh
// token.
func (c *OAuthConfig) expectsRefreshToken() bool {
	for _, s := range c.Scopes {
		if s == "offline_access" {
			return true
		}
	}
	return c.AdditionalParams["access_type"] == "offline"
}

// Keys used in UserOAuthToken.AdditionalData.
const (
	// dataRefreshInvalid marks a refresh token the provider rejected.
	// Terminal for the session: auto-refresh is suppressed until re-auth.
	dataRefreshInvalid = "refresh_invalid"
	// dataNeedsReauth accompanies dataRefreshInvalid as the UI-facing flag.
	dataNeedsReauth = "needs_reauth"
	// dataRotatingRefresh records the provider's rotation policy on the token.
	dataRotatingRefresh = "rotating_refresh"
)

// UserOAuthToken is one user's credential for one provider.
type UserOAuthToken struct {
	UserID       string
	ProviderID   string
	AccessToken  string
	TokenType    string
	RefreshToken string
	// ExpiresAt is the access token expiry. Zero means the provider did not
	// report one and the token is treated as non-expiring.
	ExpiresAt time.Time
	Scope     string
	IDToken   string
	// AdditionalData carries provider-specific state such as cloud_id,
	// workspace_id, rotating_refresh and the refresh_invalid marker.
	AdditionalData map[string]any
	LastRefreshed  time.Time
	CreatedAt      time.Time
}

// IsExpired reports whether the access token is past (or within the safety
// buffer of) its expiry. Tokens without an expiry never expire.
func (t *UserOAuthToken) IsExpired() bool {
	if t.ExpiresAt.IsZero() {
		return false
	}
	return !time.Now().Before(t.ExpiresAt.Add(-expiryBuffer))
}

// NeedsRefresh reports whether the token should be refreshed before use:
// either it is expired, or more than 80% of the interval between the last
// refresh and the expiry has elapsed. Requires a refresh token.
func (t *UserOAuthToken) NeedsRefresh() bool {
	if t.RefreshToken == "" {
		return false
	}
	if t.IsExpired() {
		return true
	}
	if t.ExpiresAt.IsZero() || t.LastRefreshed.IsZero() {
		return false
	}
	window := t.ExpiresAt.Sub(t.LastRefreshed)
	if window <= 0 {
		return false
	}
	elapsed := time.Since(t.LastRefreshed)
	return float64(elapsed) > 0.8*float64(window)
}

// RefreshInvalid reports whether a previous refresh attempt was terminally
// rejected. Auto-refresh is suppressed until the user re-authenticates.
func (t *UserOAuthToken) RefreshInvalid() bool {
	return boolData(t.AdditionalData, dataRefreshInvalid)
}

// MarkRefreshInvalid records a terminal refresh failure on the token.
func (t *UserOAuthToken) MarkRefreshInvalid() {
	if t.AdditionalData == nil {
		t.AdditionalData = make(map[string]any)
	}
	t.AdditionalData[dataRefreshInvalid] = true
	t.AdditionalData[dataNeedsReauth] = true
}

// RotatingRefresh reports whether the provider rotates refresh tokens.
func (t *UserOAuthToken) RotatingRefresh() bool {
	return boolData(t.AdditionalData, dataRotatingRefresh)
}

func boolData(data map[string]any, key string) bool {
	if data == nil {
		return false
	}
	switch v := data[key].(type) {
	case bool:
		return v
	case string:
		return v == "true"
	default:
		return false
	}
}

// Status is the derived readiness of a (user, provider) pair. It is a
// projection of token state, never the source of truth.
type Status string

// Connector status values.
const (
	StatusNotConfigured Status = "not_configured"
	StatusConnected     Status = "connected"
	StatusDisconnected  Status = "disconnected"
	StatusError         Status = "error"
	StatusExpired       Status = "expired"
	StatusRefreshing    Status = "refreshing"
)

// UserConnectorConfig is one user's settings for one provider.
type UserConnectorConfig struct {
	UserID     string `json:"user_id"`
	ProviderID string `json:"provider_id"`
	// Enabled means authenticated and active.
	Enabled bool `json:"enabled"`
	// EnabledInChat gates visibility to the agent. Defaults to true.
	EnabledInChat bool `json:"enabled_in_chat"`
	// EnabledTools is the user's selected subset of the provider's tools.
	// nil means the user never curated the set and every tool is enabled;
	// an empty, non-nil set disables all of them. The distinction survives
	// JSON round-trips (null vs []), so no omitempty here.
	EnabledTools   []string       `json:"enabled_tools"`
	CustomSettings map[string]any `json:"custom_settings,omitempty"`
	ConnectedAt    time.Time      `json:"connected_at,omitempty"`
	LastUsed       time.Time      `json:"last_used,omitempty"`
	Status         Status         `json:"status,omitempty"`
}

// RateLimit caps tool invocations for a provider or a single tool.
type RateLimit struct {
	RequestsPerSecond float64 `json:"requests_per_second"`
	Burst             int     `json:"burst"`
}

// ConnectorTool describes one invocable operation a provider exposes.
type ConnectorTool struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	// ParametersSchema is a JSON Schema object with properties and required.
	ParametersSchema map[string]any `json:"parameters_schema,omitempty"`
	RequiresAuth     bool           `json:"requires_auth"`
	RateLimit        *RateLimit     `json:"rate_limit,omitempty"`
}

// ConnectorMetadata describes a provider to the UI and the agent.
type ConnectorMetadata struct {
	ProviderID     string          `json:"provider_id"`
	DisplayName    string          `json:"display_name"`
	Description    string          `json:"description"`
	IconURL        string          `json:"icon_url,omitempty"`
	OAuthVersion   string          `json:"oauth_version,omitempty"`
	AvailableTools []ConnectorTool `json:"available_tools,omitempty"`
	RequiredScopes []string        `json:"required_scopes,omitempty"`
	OptionalScopes []string        `json:"optional_scopes,omitempty"`
	RateLimits     *RateLimit      `json:"rate_limits,omitempty"`
}

// PendingOAuth is the transient record binding one authorize→callback cycle
// to one user. Stored as plain JSON under oauth:state:{state} with StateTTL;
// consumed exactly once.
type PendingOAuth struct {
	UserID       string `json:"user_id"`
	ProviderID   string `json:"provider_id"`
	CodeVerifier string `json:"code_verifier"`
	CreatedAt    int64  `json:"created_at"`
}

// AuthRequest is the result of starting an authorization flow.
type AuthRequest struct {
	AuthorizationURL string `json:"authorization_url"`
	State            string `json:"state"`
	ProviderID       string `json:"provider_id"`
}
