// SPDX-FileCopyrightText: Copyright 2025 Loopwork, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package manager orchestrates connectors per user: status projection for
// the UI, enable/disable/disconnect lifecycle, tool curation, OAuth flow
// entry points and the cached materialization of executable toolsets the
// agent runtime consumes.
package manager

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/loopwork/tether/pkg/connector"
	"github.com/loopwork/tether/pkg/connector/mcp"
	terrors "github.com/loopwork/tether/pkg/errors"
	"github.com/loopwork/tether/pkg/logger"
	"github.com/loopwork/tether/pkg/store"
)

// refreshConcurrency bounds the fan-out of RefreshAllUserTokens.
const refreshConcurrency = 4

// ToolStatus is one tool row in the per-provider projection.
type ToolStatus struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Enabled     bool   `json:"enabled"`
}

// ConnectorStatus is the UI projection of one (user, provider) pair. Status
// is derived from token state on every call, never stored.
type ConnectorStatus struct {
	ProviderID    string           `json:"provider_id"`
	DisplayName   string           `json:"display_name"`
	Description   string           `json:"description,omitempty"`
	IconURL       string           `json:"icon_url,omitempty"`
	Status        connector.Status `json:"status"`
	StatusHint    string           `json:"status_hint,omitempty"`
	Enabled       bool             `json:"enabled"`
	EnabledInChat bool             `json:"enabled_in_chat"`
	ConnectedAt   time.Time        `json:"connected_at,omitempty"`
	LastUsed      time.Time        `json:"last_used,omitempty"`
	// UserDefined marks connectors the user registered themselves.
	UserDefined bool         `json:"user_defined"`
	Tools       []ToolStatus `json:"tools,omitempty"`
	ToolsTotal  int          `json:"tools_total"`
	ToolsOn     int          `json:"tools_enabled"`
}

// Manager is the per-user orchestration facade over the registry and the
// credential store. All mutating operations invalidate the user's tool
// cache before returning, so a follow-up read never sees the old toolset.
type Manager struct {
	registry *connector.Registry
	store    store.Store
	cache    *toolCache

	// flight collapses concurrent materializations for the same user.
	flight singleflight.Group

	callbackBase string
	connOpts     []connector.Option
}

// Option configures a Manager.
type Option func(*Manager)

// WithCallbackBase sets the public base URL used to derive redirect URIs
// for user-registered MCP connectors.
func WithCallbackBase(base string) Option {
	return func(m *Manager) {
		m.callbackBase = strings.TrimRight(base, "/")
	}
}

// WithConnectorOptions passes options through to connectors rebuilt from
// stored MCP registrations. Tests use this to substitute the HTTP client.
func WithConnectorOptions(opts ...connector.Option) Option {
	return func(m *Manager) {
		m.connOpts = opts
	}
}

// WithCacheTTL overrides the toolset cache TTL.
func WithCacheTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		m.cache.stop()
		m.cache = newToolCache(ttl)
	}
}

// NewManager builds the orchestration facade.
func NewManager(reg *connector.Registry, st store.Store, opts ...Option) (*Manager, error) {
	if reg == nil {
		return nil, terrors.NewConfigError("registry is required", nil)
	}
	if st == nil {
		return nil, terrors.NewConfigError("store is required", nil)
	}

	m := &Manager{
		registry: reg,
		store:    st,
		cache:    newToolCache(cacheTTL),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Stop terminates background work. Safe to call multiple times.
func (m *Manager) Stop() {
	m.cache.stop()
}

// Available lists the system provider catalog in registration order.
func (m *Manager) Available() []connector.ConnectorMetadata {
	conns := m.registry.System()
	out := make([]connector.ConnectorMetadata, 0, len(conns))
	for _, c := range conns {
		out = append(out, c.Metadata())
	}
	return out
}

// UserConnectors projects every connector visible to the user, system ones
// first, then the user's own MCP registrations, each in registration order.
func (m *Manager) UserConnectors(ctx context.Context, userID string) ([]ConnectorStatus, error) {
	if userID == "" {
		return nil, terrors.NewInvalidInputError("user id is required", nil)
	}
	m.loadUserMCP(ctx, userID)

	conns := m.registry.VisibleTo(userID)
	out := make([]ConnectorStatus, 0, len(conns))
	for _, c := range conns {
		out = append(out, m.projectConnector(ctx, userID, c))
	}
	return out, nil
}

func (m *Manager) projectConnector(ctx context.Context, userID string, c connector.Connector) ConnectorStatus {
	meta := c.Metadata()

	token, err := c.GetToken(ctx, userID, false)
	if err != nil {
		logger.Warnw("token peek failed; reporting connector as not configured",
			"user_id", userID, "provider_id", meta.ProviderID, "error", err)
		token = nil
	}

	cs := ConnectorStatus{
		ProviderID:    meta.ProviderID,
		DisplayName:   meta.DisplayName,
		Description:   meta.Description,
		IconURL:       meta.IconURL,
		Status:        connector.ProjectStatus(token),
		StatusHint:    connector.StatusHint(token),
		EnabledInChat: true,
		UserDefined:   m.registry.HasUser(userID, meta.ProviderID),
	}

	cfg, err := connector.LoadUserConfig(ctx, m.store, userID, meta.ProviderID)
	if err != nil && !terrors.IsNotFound(err) {
		logger.Warnw("connector config unreadable",
			"user_id", userID, "provider_id", meta.ProviderID, "error", err)
	}
	var enabledIDs []string
	if cfg != nil {
		cs.Enabled = cfg.Enabled
		cs.EnabledInChat = cfg.EnabledInChat
		cs.ConnectedAt = cfg.ConnectedAt
		cs.LastUsed = cfg.LastUsed
		enabledIDs = cfg.EnabledTools
	}

	cs.Tools = projectTools(m.catalogFor(ctx, userID, c), enabledIDs)
	cs.ToolsTotal = len(cs.Tools)
	for _, t := range cs.Tools {
		if t.Enabled {
			cs.ToolsOn++
		}
	}
	return cs
}

// catalogFor returns the provider's advertised tools, falling back to the
// static metadata catalog when the live listing needs credentials the user
// does not have yet.
func (m *Manager) catalogFor(ctx context.Context, userID string, c connector.Connector) []connector.ConnectorTool {
	tools, err := c.AvailableTools(ctx, userID)
	if err != nil {
		return c.Metadata().AvailableTools
	}
	return tools
}

// projectTools flags each advertised tool with the user's selection. A nil
// selection means the user never curated the set and every tool is enabled.
func projectTools(catalog []connector.ConnectorTool, enabledIDs []string) []ToolStatus {
	var selected map[string]bool
	if enabledIDs != nil {
		selected = make(map[string]bool, len(enabledIDs))
		for _, id := range enabledIDs {
			selected[id] = true
		}
	}

	out := make([]ToolStatus, 0, len(catalog))
	for _, t := range catalog {
		out = append(out, ToolStatus{
			ID:          t.ID,
			Name:        t.Name,
			Description: t.Description,
			Enabled:     selected == nil || selected[t.ID],
		})
	}
	return out
}

// UserProviderTools lists one provider's tools with the user's enablement
// flags.
func (m *Manager) UserProviderTools(ctx context.Context, userID, providerID string) ([]ToolStatus, error) {
	c := m.connectorFor(ctx, userID, providerID)
	if c == nil {
		return nil, terrors.NewUnknownProviderError(providerID)
	}

	cfg, err := connector.LoadUserConfig(ctx, m.store, userID, providerID)
	if err != nil && !terrors.IsNotFound(err) {
		return nil, err
	}
	var enabledIDs []string
	if cfg != nil {
		enabledIDs = cfg.EnabledTools
	}
	return projectTools(m.catalogFor(ctx, userID, c), enabledIDs), nil
}

// EnableForUser marks the provider active for the user. The user must hold
// usable credentials: connected, or expired with a refresh token that
// auto-refresh can redeem.
func (m *Manager) EnableForUser(ctx context.Context, userID, providerID string) error {
	c := m.connectorFor(ctx, userID, providerID)
	if c == nil {
		return terrors.NewUnknownProviderError(providerID)
	}

	token, err := c.GetToken(ctx, userID, false)
	if err != nil {
		return err
	}
	if token == nil {
		return terrors.NewNotAuthenticatedError(
			fmt.Sprintf("no credentials for provider %s; connect it first", providerID), nil)
	}
	if connector.ProjectStatus(token) != connector.StatusConnected {
		return terrors.NewNotAuthenticatedError(
			fmt.Sprintf("credentials for provider %s are no longer usable; reconnect it", providerID), nil)
	}

	cfg, err := m.loadOrInitConfig(ctx, userID, providerID)
	if err != nil {
		return err
	}
	cfg.Enabled = true
	if err := connector.SaveUserConfig(ctx, m.store, cfg); err != nil {
		return err
	}
	m.cache.invalidate(userID, providerID)
	return nil
}

// DisableForUser deactivates the provider for the user. Credentials are
// retained; re-enabling does not require a new authorization.
func (m *Manager) DisableForUser(ctx context.Context, userID, providerID string) error {
	cfg, err := connector.LoadUserConfig(ctx, m.store, userID, providerID)
	if err != nil {
		if terrors.IsNotFound(err) {
			m.cache.invalidate(userID, providerID)
			return nil
		}
		return err
	}
	cfg.Enabled = false
	if err := connector.SaveUserConfig(ctx, m.store, cfg); err != nil {
		return err
	}
	m.cache.invalidate(userID, providerID)
	return nil
}

// DisconnectForUser revokes the user's credentials (best effort), deletes
// the connector config and, for user-registered MCP connectors, removes the
// registration itself.
func (m *Manager) DisconnectForUser(ctx context.Context, userID, providerID string) error {
	c := m.connectorFor(ctx, userID, providerID)
	if c == nil {
		return terrors.NewUnknownProviderError(providerID)
	}

	if err := c.Revoke(ctx, userID); err != nil {
		logger.Warnw("revoke failed; continuing disconnect",
			"user_id", userID, "provider_id", providerID, "error", err)
	}
	if err := m.store.Delete(ctx, store.ConfigKey(userID, providerID)); err != nil {
		return err
	}

	if m.registry.HasUser(userID, providerID) {
		if err := mcp.DeleteRecord(ctx, m.store, userID, providerID); err != nil && !terrors.IsNotFound(err) {
			logger.Warnw("failed to delete MCP registration",
				"user_id", userID, "provider_id", providerID, "error", err)
		}
		m.registry.UnregisterUser(userID, providerID)
	}

	m.cache.invalidate(userID, providerID)
	return nil
}

// UpdateUserTools replaces the user's enabled-tool selection. Every id must
// name an advertised tool; an unknown id rejects the whole update with
// nothing written.
func (m *Manager) UpdateUserTools(ctx context.Context, userID, providerID string, toolIDs []string) error {
	c := m.connectorFor(ctx, userID, providerID)
	if c == nil {
		return terrors.NewUnknownProviderError(providerID)
	}

	available, err := c.AvailableTools(ctx, userID)
	if err != nil {
		return err
	}
	known := make(map[string]bool, len(available))
	for _, t := range available {
		known[t.ID] = true
	}
	for _, id := range toolIDs {
		if !known[id] {
			return terrors.NewInvalidToolError(
				fmt.Sprintf("unknown tool %q for provider %s", id, providerID), nil)
		}
	}

	cfg, err := m.loadOrInitConfig(ctx, userID, providerID)
	if err != nil {
		return err
	}
	// Stored verbatim: nil keeps every tool enabled, an empty non-nil set
	// disables all of them.
	if toolIDs != nil {
		cfg.EnabledTools = append([]string{}, toolIDs...)
	} else {
		cfg.EnabledTools = nil
	}
	if err := connector.SaveUserConfig(ctx, m.store, cfg); err != nil {
		return err
	}
	m.cache.invalidate(userID, providerID)
	return nil
}

// ToggleChat gates the provider's visibility to the agent without touching
// credentials or the enabled state.
func (m *Manager) ToggleChat(ctx context.Context, userID, providerID string, enabled bool) error {
	c := m.connectorFor(ctx, userID, providerID)
	if c == nil {
		return terrors.NewUnknownProviderError(providerID)
	}

	cfg, err := m.loadOrInitConfig(ctx, userID, providerID)
	if err != nil {
		return err
	}
	cfg.EnabledInChat = enabled
	if err := connector.SaveUserConfig(ctx, m.store, cfg); err != nil {
		return err
	}
	m.cache.invalidate(userID, providerID)
	return nil
}

// InitOAuth starts the authorization flow for the provider and returns the
// URL the user must visit.
func (m *Manager) InitOAuth(ctx context.Context, userID, providerID string) (*connector.AuthRequest, error) {
	c := m.connectorFor(ctx, userID, providerID)
	if c == nil {
		return nil, terrors.NewUnknownProviderError(providerID)
	}
	return c.BuildAuthURL(ctx, userID)
}

// CompleteOAuth finishes the authorization flow from the provider callback.
func (m *Manager) CompleteOAuth(ctx context.Context, userID, providerID, code, state string) (*connector.UserOAuthToken, error) {
	c := m.connectorFor(ctx, userID, providerID)
	if c == nil {
		return nil, terrors.NewUnknownProviderError(providerID)
	}
	token, err := c.HandleCallback(ctx, userID, code, state)
	if err != nil {
		return nil, err
	}
	m.cache.invalidate(userID, providerID)
	return token, nil
}

// RefreshToken forces a token refresh for the provider and returns the new
// token so callers can report the fresh expiry.
func (m *Manager) RefreshToken(ctx context.Context, userID, providerID string) (*connector.UserOAuthToken, error) {
	c := m.connectorFor(ctx, userID, providerID)
	if c == nil {
		return nil, terrors.NewUnknownProviderError(providerID)
	}
	token, err := c.RefreshToken(ctx, userID)
	if err != nil {
		return nil, err
	}
	m.cache.invalidate(userID, providerID)
	return token, nil
}

// RefreshAllUserTokens proactively refreshes every connector token that
// needs it. Best effort: the result maps provider id to whether a refresh
// actually happened and succeeded.
func (m *Manager) RefreshAllUserTokens(ctx context.Context, userID string) map[string]bool {
	m.loadUserMCP(ctx, userID)
	conns := m.registry.VisibleTo(userID)

	var mu sync.Mutex
	results := make(map[string]bool, len(conns))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(refreshConcurrency)
	for _, c := range conns {
		g.Go(func() error {
			providerID := c.Metadata().ProviderID
			refreshed := m.refreshIfNeeded(ctx, userID, providerID, c)
			mu.Lock()
			results[providerID] = refreshed
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (m *Manager) refreshIfNeeded(ctx context.Context, userID, providerID string, c connector.Connector) bool {
	token, err := c.GetToken(ctx, userID, false)
	if err != nil || token == nil {
		return false
	}
	if !token.NeedsRefresh() || token.RefreshInvalid() {
		return false
	}
	if _, err := c.RefreshToken(ctx, userID); err != nil {
		logger.Warnw("proactive refresh failed",
			"user_id", userID, "provider_id", providerID, "error", err)
		return false
	}
	m.cache.invalidate(userID, providerID)
	return true
}

// RegisterUserMCP registers a user-scoped MCP endpoint: the record is
// persisted encrypted and a live connector enters the user's namespace.
// Provider ids held by built-in connectors are rejected so a registration
// can never shadow them.
func (m *Manager) RegisterUserMCP(ctx context.Context, userID string, rec *mcp.Record) error {
	if userID == "" {
		return terrors.NewInvalidInputError("user id is required", nil)
	}
	if rec == nil {
		return terrors.NewInvalidInputError("registration is required", nil)
	}
	if err := rec.Validate(); err != nil {
		return err
	}
	if m.registry.ForUser(userID, rec.ProviderID) != nil && !m.registry.HasUser(userID, rec.ProviderID) {
		return terrors.NewInvalidInputError(
			fmt.Sprintf("provider id %s is reserved by a built-in connector", rec.ProviderID), nil)
	}

	if rec.RedirectURI == "" && m.callbackBase != "" {
		rec.RedirectURI = fmt.Sprintf("%s/api/v1/connectors/%s/callback", m.callbackBase, rec.ProviderID)
	}

	c, err := mcp.FromRecord(rec, m.store, m.connOpts...)
	if err != nil {
		return err
	}
	if err := mcp.SaveRecord(ctx, m.store, userID, rec); err != nil {
		return err
	}
	if err := m.registry.RegisterUser(userID, rec.ProviderID, c); err != nil {
		return err
	}
	m.cache.invalidate(userID, rec.ProviderID)
	return nil
}

// ToolsFor materializes the user's executable toolset: every enabled,
// chat-visible, authenticated connector contributes its enabled tools, in
// registration order. Results are cached; forceRefresh bypasses the cache.
func (m *Manager) ToolsFor(ctx context.Context, userID string, forceRefresh bool) ([]*connector.Tool, error) {
	if userID == "" {
		return nil, terrors.NewInvalidInputError("user id is required", nil)
	}

	if !forceRefresh {
		if tools, ok := m.cache.get(userID, allProviders); ok {
			return tools, nil
		}
	}

	// Concurrent materializations for the same user collapse into one.
	v, err, _ := m.flight.Do(userID, func() (any, error) {
		if !forceRefresh {
			// Another request may have filled the cache while we waited.
			if tools, ok := m.cache.get(userID, allProviders); ok {
				return tools, nil
			}
		}

		tools, err := m.materializeTools(ctx, userID)
		if err != nil {
			return nil, err
		}
		m.cache.put(userID, allProviders, tools)
		return tools, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]*connector.Tool), nil
}

func (m *Manager) materializeTools(ctx context.Context, userID string) ([]*connector.Tool, error) {
	m.loadUserMCP(ctx, userID)

	out := []*connector.Tool{}
	for _, c := range m.registry.VisibleTo(userID) {
		providerID := c.Metadata().ProviderID

		cfg, err := connector.LoadUserConfig(ctx, m.store, userID, providerID)
		if err != nil {
			if terrors.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		if !cfg.Enabled || !cfg.EnabledInChat {
			continue
		}

		token, err := c.GetToken(ctx, userID, true)
		if err != nil {
			logger.Warnw("skipping connector: token unavailable",
				"user_id", userID, "provider_id", providerID, "error", err)
			continue
		}
		if !connector.Usable(token) {
			continue
		}

		enabled, err := c.EnabledTools(ctx, userID)
		if err != nil {
			logger.Warnw("skipping connector: tool catalog unavailable",
				"user_id", userID, "provider_id", providerID, "error", err)
			continue
		}
		if len(enabled) == 0 {
			continue
		}
		ids := make([]string, len(enabled))
		for i, t := range enabled {
			ids[i] = t.ID
		}

		built, err := c.BuildTools(ctx, userID, ids)
		if err != nil {
			logger.Warnw("batch tool build failed; building per tool",
				"user_id", userID, "provider_id", providerID, "error", err)
			built = buildEach(ctx, c, userID, ids)
		}
		if len(built) == 0 {
			continue
		}
		out = append(out, built...)

		m.touchLastUsed(ctx, cfg)
	}
	return out, nil
}

// buildEach is the per-tool fallback after a failed batch build. A tool
// that still fails is logged and omitted without aborting the rest.
func buildEach(ctx context.Context, c connector.Connector, userID string, ids []string) []*connector.Tool {
	var out []*connector.Tool
	for _, id := range ids {
		built, err := c.BuildTools(ctx, userID, []string{id})
		if err != nil {
			logger.Warnw("tool build failed; omitting tool",
				"user_id", userID, "provider_id", c.Metadata().ProviderID,
				"tool_id", id, "error", err)
			continue
		}
		out = append(out, built...)
	}
	return out
}

// touchLastUsed records that the provider's tools were handed to a session.
func (m *Manager) touchLastUsed(ctx context.Context, cfg *connector.UserConnectorConfig) {
	cfg.LastUsed = time.Now()
	if err := connector.SaveUserConfig(ctx, m.store, cfg); err != nil {
		logger.Debugw("failed to record tool usage",
			"user_id", cfg.UserID, "provider_id", cfg.ProviderID, "error", err)
	}
}

// loadUserMCP hydrates the user's stored MCP registrations into the
// registry. Idempotent; already-registered connectors are left alone so
// discovered endpoints survive. Failures skip the one registration.
func (m *Manager) loadUserMCP(ctx context.Context, userID string) {
	recs, err := mcp.ListRecords(ctx, m.store, userID)
	if err != nil {
		logger.Warnw("failed to list MCP registrations", "user_id", userID, "error", err)
		return
	}
	for _, rec := range recs {
		if m.registry.HasUser(userID, rec.ProviderID) {
			continue
		}
		c, err := mcp.FromRecord(rec, m.store, m.connOpts...)
		if err != nil {
			logger.Warnw("skipping unbuildable MCP registration",
				"user_id", userID, "provider_id", rec.ProviderID, "error", err)
			continue
		}
		if err := m.registry.RegisterUser(userID, rec.ProviderID, c); err != nil {
			logger.Warnw("failed to register MCP connector",
				"user_id", userID, "provider_id", rec.ProviderID, "error", err)
		}
	}
}

// connectorFor resolves a provider for the user, hydrating stored MCP
// registrations first so a user's connector is reachable right after a
// restart.
func (m *Manager) connectorFor(ctx context.Context, userID, providerID string) connector.Connector {
	if c := m.registry.ForUser(userID, providerID); c != nil {
		return c
	}
	m.loadUserMCP(ctx, userID)
	return m.registry.ForUser(userID, providerID)
}

func (m *Manager) loadOrInitConfig(ctx context.Context, userID, providerID string) (*connector.UserConnectorConfig, error) {
	cfg, err := connector.LoadUserConfig(ctx, m.store, userID, providerID)
	if err != nil {
		if !terrors.IsNotFound(err) {
			return nil, err
		}
		cfg = &connector.UserConnectorConfig{
			UserID:        userID,
			ProviderID:    providerID,
			EnabledInChat: true,
		}
	}
	return cfg, nil
}
