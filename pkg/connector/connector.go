// SPDX-FileCopyrightText: Copyright 2025 Loopwork, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package connector implements the per-provider OAuth state machine shared
// by all back-end adapters: authorize-URL construction with PKCE, callback
// validation and code exchange, token storage with proactive refresh and
// rotating-refresh-token handling, revocation, and per-user tool enablement.
package connector

//go:generate mockgen -destination=mocks/mock_connector.go -package=mocks -source=connector.go Connector

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	terrors "github.com/loopwork/tether/pkg/errors"
	"github.com/loopwork/tether/pkg/logger"
	"github.com/loopwork/tether/pkg/networking"
	"github.com/loopwork/tether/pkg/store"
)

// Connector is one external provider's adapter. It owns that provider's
// OAuth flow and its tool catalog. Implementations: the REST adapter for
// direct-API providers and the MCP adapter for remote MCP servers.
type Connector interface {
	// Metadata describes the provider to the UI and the agent.
	Metadata() ConnectorMetadata

	// Config returns the provider's static OAuth configuration.
	Config() OAuthConfig

	// BuildAuthURL starts an authorization flow: it stores transient state
	// and returns the provider authorize URL the user must visit.
	BuildAuthURL(ctx context.Context, userID string) (*AuthRequest, error)

	// HandleCallback consumes the transient state, exchanges the code for a
	// token, persists it and activates the user's connector config.
	HandleCallback(ctx context.Context, userID, code, state string) (*UserOAuthToken, error)

	// GetToken loads the user's token. A missing token returns (nil, nil).
	// With autoRefresh, a token that needs refreshing is refreshed first;
	// if the refresh fails but the stored token is still usable it is
	// returned as-is, otherwise the result is nil.
	GetToken(ctx context.Context, userID string, autoRefresh bool) (*UserOAuthToken, error)

	// RefreshToken exchanges the refresh token for a new access token.
	// Concurrent refreshes for the same user are deduplicated.
	RefreshToken(ctx context.Context, userID string) (*UserOAuthToken, error)

	// Revoke tells the provider to invalidate the token (best effort) and
	// always deletes the stored record.
	Revoke(ctx context.Context, userID string) error

	// UserInfo fetches the provider's userinfo document for the user.
	UserInfo(ctx context.Context, userID string) (map[string]any, error)

	// AvailableTools lists every tool the provider advertises, in the
	// provider's declared order.
	AvailableTools(ctx context.Context, userID string) ([]ConnectorTool, error)

	// EnabledTools lists the subset of available tools the user has
	// enabled, in the provider's declared order.
	EnabledTools(ctx context.Context, userID string) ([]ConnectorTool, error)

	// BuildTools materializes the given tools as executable handles bound
	// to the user's credentials.
	BuildTools(ctx context.Context, userID string, toolIDs []string) ([]*Tool, error)

	// ExecuteTool invokes one tool. Upstream failures are returned in-band
	// as strings where the protocol calls for it (MCP), or as errors.
	ExecuteTool(ctx context.Context, userID, toolName string, args map[string]any) (string, error)
}

// Base carries the OAuth state machine shared by the concrete adapters.
// Adapters embed it and supply the tool catalog and invocation behavior.
type Base struct {
	cfg    OAuthConfig
	meta   ConnectorMetadata
	store  store.Store
	client networking.HTTPClient

	// limiter is the provider-wide invocation budget from the metadata
	// rate limits, shared by every tool built from this connector.
	limiter *rate.Limiter

	// refresh deduplicates concurrent refreshes per user. Rotating-refresh
	// providers invalidate the losing request otherwise.
	refresh singleflight.Group
}

// Option configures a Base connector.
type Option func(*Base)

// WithHTTPClient substitutes the outbound HTTP client. Tests use this to
// point at local servers.
func WithHTTPClient(client networking.HTTPClient) Option {
	return func(b *Base) {
		b.client = client
	}
}

// NewBase validates the provider configuration and returns the shared
// connector core.
func NewBase(cfg OAuthConfig, meta ConnectorMetadata, st store.Store, opts ...Option) (*Base, error) {
	if cfg.ProviderID == "" {
		return nil, terrors.NewConfigError("provider id is required", nil)
	}
	if st == nil {
		return nil, terrors.NewConfigError("store is required", nil)
	}
	for name, u := range map[string]string{
		"authorize_url": cfg.AuthorizeURL,
		"token_url":     cfg.TokenURL,
		"revoke_url":    cfg.RevokeURL,
		"userinfo_url":  cfg.UserInfoURL,
	} {
		if u == "" {
			continue
		}
		if err := networking.ValidateEndpointURL(u); err != nil {
			return nil, terrors.NewConfigError(fmt.Sprintf("invalid %s for provider %s", name, cfg.ProviderID), err)
		}
	}
	if cfg.OAuthVersion == "" {
		cfg.OAuthVersion = "v2"
	}
	if cfg.GrantType == "" {
		cfg.GrantType = GrantAuthorizationCode
	}
	if cfg.AuthMethod == "" {
		cfg.AuthMethod = AuthMethodBody
	}
	if meta.ProviderID == "" {
		meta.ProviderID = cfg.ProviderID
	}
	if meta.OAuthVersion == "" {
		meta.OAuthVersion = cfg.OAuthVersion
	}

	b := &Base{
		cfg:   cfg,
		meta:  meta,
		store: st,
	}
	if rl := meta.RateLimits; rl != nil && rl.RequestsPerSecond > 0 {
		burst := rl.Burst
		if burst <= 0 {
			burst = 1
		}
		b.limiter = rate.NewLimiter(rate.Limit(rl.RequestsPerSecond), burst)
	}
	for _, opt := range opts {
		opt(b)
	}

	if b.client == nil {
		client, err := networking.NewHttpClientBuilder().Build()
		if err != nil {
			return nil, terrors.NewConfigError("failed to build http client", err)
		}
		b.client = client
	}
	return b, nil
}

// Metadata implements Connector.
func (b *Base) Metadata() ConnectorMetadata {
	return b.meta
}

// Config implements Connector.
func (b *Base) Config() OAuthConfig {
	return b.cfg
}

// Store exposes the credential store to embedding adapters.
func (b *Base) Store() store.Store {
	return b.store
}

// HTTPClient exposes the outbound client to embedding adapters.
func (b *Base) HTTPClient() networking.HTTPClient {
	return b.client
}

// Limiter returns the provider-wide rate limiter, or nil when the provider
// declares no limits.
func (b *Base) Limiter() *rate.Limiter {
	return b.limiter
}

// LoadUserConfig reads a user's connector config from the store. Missing
// records return a not-found error.
func LoadUserConfig(ctx context.Context, st store.Store, userID, providerID string) (*UserConnectorConfig, error) {
	data, err := st.Get(ctx, store.ConfigKey(userID, providerID), userID)
	if err != nil {
		return nil, err
	}
	var cfg UserConnectorConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, terrors.NewConfigError(
			fmt.Sprintf("damaged connector config for %s/%s", userID, providerID), err)
	}
	return &cfg, nil
}

// SaveUserConfig persists a user's connector config.
func SaveUserConfig(ctx context.Context, st store.Store, cfg *UserConnectorConfig) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal connector config: %w", err)
	}
	return st.Set(ctx, store.ConfigKey(cfg.UserID, cfg.ProviderID), data, cfg.UserID)
}

// tokenTenant maps a caller to the store tenant their token lives under.
// Tokens from the client_credentials grant are machine-level and shared, so
// they live under the reserved system tenant instead of per user.
func (b *Base) tokenTenant(userID string) string {
	if b.cfg.GrantType == GrantClientCredentials {
		return systemTenant
	}
	return userID
}

// loadToken reads the user's token record. Absence returns (nil, nil).
func (b *Base) loadToken(ctx context.Context, userID string) (*UserOAuthToken, error) {
	tenant := b.tokenTenant(userID)
	fields, err := b.store.HGetAll(ctx, store.TokenKey(tenant, b.cfg.ProviderID), tenant)
	if err != nil {
		if terrors.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	token := tokenFromFields(userID, b.cfg.ProviderID, fields)
	if token.AccessToken == "" && token.RefreshToken == "" {
		// Record exists but carries nothing usable.
		return nil, nil
	}
	return token, nil
}

// saveToken writes the complete token record.
func (b *Base) saveToken(ctx context.Context, token *UserOAuthToken) error {
	tenant := b.tokenTenant(token.UserID)
	return b.store.HSet(ctx, store.TokenKey(tenant, b.cfg.ProviderID), token.toFields(), tenant)
}

// activateConfig transitions the user's connector config to enabled after a
// successful code exchange, creating it on first connect.
func (b *Base) activateConfig(ctx context.Context, userID string) error {
	cfg, err := LoadUserConfig(ctx, b.store, userID, b.cfg.ProviderID)
	if err != nil {
		if !terrors.IsNotFound(err) && !terrors.IsConfig(err) {
			return err
		}
		cfg = &UserConnectorConfig{
			UserID:        userID,
			ProviderID:    b.cfg.ProviderID,
			EnabledInChat: true,
		}
	}
	cfg.Enabled = true
	cfg.Status = StatusConnected
	cfg.ConnectedAt = time.Now()
	return SaveUserConfig(ctx, b.store, cfg)
}

// StashTokenData merges kv into the user's token additional-data and
// persists the record. Adapters cache identifiers discovered after auth
// (Atlassian cloud ids, Notion workspace ids) here so they survive
// restarts alongside the token.
func (b *Base) StashTokenData(ctx context.Context, userID string, kv map[string]any) (*UserOAuthToken, error) {
	token, err := b.loadToken(ctx, userID)
	if err != nil {
		return nil, err
	}
	if token == nil {
		return nil, terrors.NewNotAuthenticatedError(
			fmt.Sprintf("no token stored for provider %s", b.cfg.ProviderID), nil)
	}

	merged := make(map[string]any, len(token.AdditionalData)+len(kv))
	for k, v := range token.AdditionalData {
		merged[k] = v
	}
	for k, v := range kv {
		merged[k] = v
	}
	token.AdditionalData = merged

	if err := b.saveToken(ctx, token); err != nil {
		return nil, err
	}
	return token, nil
}

// TouchLastUsed records tool activity on the user's config. Best effort:
// failures are logged, not returned.
func (b *Base) TouchLastUsed(ctx context.Context, userID string) {
	cfg, err := LoadUserConfig(ctx, b.store, userID, b.cfg.ProviderID)
	if err != nil {
		return
	}
	cfg.LastUsed = time.Now()
	if err := SaveUserConfig(ctx, b.store, cfg); err != nil {
		logger.Debugw("failed to record last-used", "provider_id", b.cfg.ProviderID, "error", err)
	}
}

// FilterEnabled intersects the available tools with the user's enabled set,
// preserving the provider's declared order. A nil enabled set means the user
// never curated tools and everything is enabled.
func FilterEnabled(available []ConnectorTool, enabled []string) []ConnectorTool {
	if enabled == nil {
		return slices.Clone(available)
	}
	allowed := make(map[string]struct{}, len(enabled))
	for _, id := range enabled {
		allowed[id] = struct{}{}
	}
	var out []ConnectorTool
	for _, tool := range available {
		if _, ok := allowed[tool.ID]; ok {
			out = append(out, tool)
		}
	}
	return out
}
