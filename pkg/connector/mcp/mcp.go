// SPDX-FileCopyrightText: Copyright 2025 Loopwork, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package mcp adapts remote MCP servers to the connector interface. Unlike
// the REST adapter's static catalogs, MCP tool listings come from the
// server at request time, OAuth endpoints come from the server's published
// metadata when none are configured, and invocation speaks JSON-RPC
// tools/call over HTTP or SSE.
package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loopwork/tether/pkg/connector"
	terrors "github.com/loopwork/tether/pkg/errors"
	"github.com/loopwork/tether/pkg/logger"
	"github.com/loopwork/tether/pkg/networking"
	"github.com/loopwork/tether/pkg/store"
)

// invokeTimeout bounds one tools/call round trip.
const invokeTimeout = 30 * time.Second

// catalogPath is the server's tool listing endpoint.
const catalogPath = "/mcp/v1/tools"

// Connector is the MCP adapter. The OAuth core sits behind an atomic
// pointer because endpoint discovery rebuilds it: a connector may start
// with an empty authorize/token configuration and fill it from the
// server's metadata on first use.
type Connector struct {
	serverURL string
	transport TransportType

	store  store.Store
	client networking.HTTPClient
	meta   connector.ConnectorMetadata

	// discover serializes the metadata walk; base is swapped when it lands.
	discover sync.Mutex
	base     atomic.Pointer[connector.Base]
}

var _ connector.Connector = (*Connector)(nil)

// New builds an MCP connector for the server at serverURL. Empty authorize
// and token URLs in cfg are filled by metadata discovery on first use. The
// authorize URL always carries resource={serverURL} and PKCE is always on.
func New(cfg connector.OAuthConfig, meta connector.ConnectorMetadata, st store.Store, serverURL, transport string, opts ...connector.Option) (*Connector, error) {
	tt, err := ParseTransportType(transport)
	if err != nil {
		return nil, err
	}
	if serverURL == "" {
		return nil, terrors.NewConfigError(
			fmt.Sprintf("provider %s declares no MCP server URL", cfg.ProviderID), nil)
	}
	if err := networking.ValidateEndpointURL(serverURL); err != nil {
		return nil, terrors.NewConfigError(
			fmt.Sprintf("invalid MCP server URL for provider %s", cfg.ProviderID), err)
	}
	serverURL = strings.TrimSuffix(serverURL, "/")

	// RFC 8707: the authorize request names the resource the token is for.
	params := make(map[string]string, len(cfg.AdditionalParams)+1)
	for k, v := range cfg.AdditionalParams {
		params[k] = v
	}
	params["resource"] = serverURL
	cfg.AdditionalParams = params
	cfg.UsePKCE = true

	base, err := connector.NewBase(cfg, meta, st, opts...)
	if err != nil {
		return nil, err
	}

	c := &Connector{
		serverURL: serverURL,
		transport: tt,
		store:     st,
		client:    base.HTTPClient(),
		meta:      base.Metadata(),
	}
	c.base.Store(base)
	return c, nil
}

// ServerURL returns the MCP server base URL.
func (c *Connector) ServerURL() string {
	return c.serverURL
}

// Transport returns the negotiated transport.
func (c *Connector) Transport() TransportType {
	return c.transport
}

// Metadata implements connector.Connector.
func (c *Connector) Metadata() connector.ConnectorMetadata {
	return c.base.Load().Metadata()
}

// Config implements connector.Connector. Before discovery it reports the
// configured, possibly endpoint-less, OAuth config.
func (c *Connector) Config() connector.OAuthConfig {
	return c.base.Load().Config()
}

// BuildAuthURL implements connector.Connector, walking the server's
// metadata chain first when the OAuth endpoints are not yet known.
func (c *Connector) BuildAuthURL(ctx context.Context, userID string) (*connector.AuthRequest, error) {
	if err := c.ensureEndpoints(ctx); err != nil {
		return nil, err
	}
	return c.base.Load().BuildAuthURL(ctx, userID)
}

// HandleCallback implements connector.Connector.
func (c *Connector) HandleCallback(ctx context.Context, userID, code, state string) (*connector.UserOAuthToken, error) {
	if err := c.ensureEndpoints(ctx); err != nil {
		return nil, err
	}
	return c.base.Load().HandleCallback(ctx, userID, code, state)
}

// GetToken implements connector.Connector. A refresh needs the token
// endpoint, which after a restart may not be rediscovered yet; discovery
// failure then degrades exactly like a failed refresh, serving the stored
// token while it remains usable.
func (c *Connector) GetToken(ctx context.Context, userID string, autoRefresh bool) (*connector.UserOAuthToken, error) {
	base := c.base.Load()
	if !autoRefresh {
		return base.GetToken(ctx, userID, false)
	}

	token, err := base.GetToken(ctx, userID, false)
	if err != nil || token == nil {
		return token, err
	}
	if token.NeedsRefresh() && !token.RefreshInvalid() {
		if err := c.ensureEndpoints(ctx); err != nil {
			logger.Warnw("endpoint discovery before refresh failed",
				"provider_id", c.meta.ProviderID, "error", err)
			if token.IsExpired() {
				return nil, nil
			}
			return token, nil
		}
	}
	return c.base.Load().GetToken(ctx, userID, true)
}

// RefreshToken implements connector.Connector.
func (c *Connector) RefreshToken(ctx context.Context, userID string) (*connector.UserOAuthToken, error) {
	if err := c.ensureEndpoints(ctx); err != nil {
		return nil, err
	}
	return c.base.Load().RefreshToken(ctx, userID)
}

// Revoke implements connector.Connector. Local cleanup happens even when
// the revocation endpoint cannot be discovered.
func (c *Connector) Revoke(ctx context.Context, userID string) error {
	if err := c.ensureEndpoints(ctx); err != nil {
		logger.Debugw("skipping upstream revocation, endpoint discovery failed",
			"provider_id", c.meta.ProviderID, "error", err)
	}
	return c.base.Load().Revoke(ctx, userID)
}

// UserInfo implements connector.Connector.
func (c *Connector) UserInfo(ctx context.Context, userID string) (map[string]any, error) {
	if err := c.ensureEndpoints(ctx); err != nil {
		return nil, err
	}
	return c.base.Load().UserInfo(ctx, userID)
}

func hasEndpoints(cfg connector.OAuthConfig) bool {
	return cfg.AuthorizeURL != "" && cfg.TokenURL != ""
}

// ensureEndpoints makes the OAuth endpoints available, walking the
// server's discovery chain when the configuration does not carry them.
func (c *Connector) ensureEndpoints(ctx context.Context) error {
	if hasEndpoints(c.base.Load().Config()) {
		return nil
	}

	c.discover.Lock()
	defer c.discover.Unlock()

	base := c.base.Load()
	cfg := base.Config()
	if hasEndpoints(cfg) {
		return nil
	}

	meta, resource, err := discoverEndpoints(ctx, c.client, c.serverURL)
	if err != nil {
		return err
	}
	if resource.Resource != "" && resource.Resource != c.serverURL {
		logger.Warnw("protected resource metadata names a different resource",
			"provider_id", c.meta.ProviderID, "expected", c.serverURL, "actual", resource.Resource)
	}
	if !meta.supportsS256() {
		logger.Debugw("authorization server does not advertise S256, keeping PKCE on",
			"provider_id", c.meta.ProviderID)
	}

	cfg.AuthorizeURL = meta.AuthorizationEndpoint
	cfg.TokenURL = meta.TokenEndpoint
	if cfg.RevokeURL == "" {
		cfg.RevokeURL = meta.RevocationEndpoint
	}
	if cfg.UserInfoURL == "" {
		cfg.UserInfoURL = meta.UserinfoEndpoint
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = resource.ScopesSupported
	}

	rebuilt, err := connector.NewBase(cfg, base.Metadata(), c.store, connector.WithHTTPClient(c.client))
	if err != nil {
		return err
	}
	c.base.Store(rebuilt)
	logger.Infow("discovered OAuth endpoints",
		"provider_id", c.meta.ProviderID,
		"authorize_url", cfg.AuthorizeURL,
		"token_url", cfg.TokenURL)
	return nil
}

// session resolves a usable token for userID.
func (c *Connector) session(ctx context.Context, userID string) (*connector.UserOAuthToken, error) {
	token, err := c.GetToken(ctx, userID, true)
	if err != nil {
		return nil, err
	}
	if !connector.Usable(token) {
		return nil, terrors.NewNotAuthenticatedError(
			fmt.Sprintf("not authenticated with provider %s", c.meta.ProviderID), nil)
	}
	return token, nil
}

// catalogTool is one entry in the server's tool listing.
type catalogTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// fetchCatalog lists the server's tools with the user's credentials. Both
// the bare-array and the {"tools": [...]} response shapes occur in the
// wild, so both parse.
func (c *Connector) fetchCatalog(ctx context.Context, bearer string) ([]connector.ConnectorTool, error) {
	res, err := networking.FetchJSON[json.RawMessage](ctx, c.client, joinPath(c.serverURL, catalogPath),
		networking.WithBearerToken(bearer))
	if err != nil {
		return nil, terrors.NewUpstreamError(
			fmt.Sprintf("failed to list tools from MCP server for provider %s", c.meta.ProviderID), err)
	}

	var listed []catalogTool
	if err := json.Unmarshal(res.Data, &listed); err != nil {
		var wrapped struct {
			Tools []catalogTool `json:"tools"`
		}
		if err := json.Unmarshal(res.Data, &wrapped); err != nil {
			return nil, terrors.NewUpstreamError(
				fmt.Sprintf("MCP server for provider %s returned an unreadable tool listing", c.meta.ProviderID), err)
		}
		listed = wrapped.Tools
	}

	tools := make([]connector.ConnectorTool, 0, len(listed))
	for _, t := range listed {
		if t.Name == "" {
			continue
		}
		tools = append(tools, connector.ConnectorTool{
			ID:               t.Name,
			Name:             t.Name,
			Description:      t.Description,
			ParametersSchema: t.InputSchema,
			RequiresAuth:     true,
		})
	}
	return tools, nil
}

// AvailableTools implements connector.Connector. The catalog lives on the
// remote server and reading it takes the user's credentials.
func (c *Connector) AvailableTools(ctx context.Context, userID string) ([]connector.ConnectorTool, error) {
	token, err := c.session(ctx, userID)
	if err != nil {
		return nil, err
	}
	return c.fetchCatalog(ctx, token.AccessToken)
}

// EnabledTools implements connector.Connector.
func (c *Connector) EnabledTools(ctx context.Context, userID string) ([]connector.ConnectorTool, error) {
	available, err := c.AvailableTools(ctx, userID)
	if err != nil {
		return nil, err
	}
	cfg, err := connector.LoadUserConfig(ctx, c.store, userID, c.meta.ProviderID)
	if err != nil {
		if terrors.IsNotFound(err) {
			return available, nil
		}
		return nil, err
	}
	return connector.FilterEnabled(available, cfg.EnabledTools), nil
}

// BuildTools implements connector.Connector. The token is captured once
// for the batch; each materialized tool invokes tools/call with it. Ids
// the server no longer lists are skipped so a stale selection cannot sink
// the whole batch.
func (c *Connector) BuildTools(ctx context.Context, userID string, toolIDs []string) ([]*connector.Tool, error) {
	token, err := c.session(ctx, userID)
	if err != nil {
		return nil, err
	}
	catalog, err := c.fetchCatalog(ctx, token.AccessToken)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]connector.ConnectorTool, len(catalog))
	for _, t := range catalog {
		byID[t.ID] = t
	}

	bearer := token.AccessToken
	limiter := c.base.Load().Limiter()
	tools := make([]*connector.Tool, 0, len(toolIDs))
	for _, id := range toolIDs {
		ct, ok := byID[id]
		if !ok {
			logger.Warnw("skipping tool the MCP server no longer lists",
				"provider_id", c.meta.ProviderID, "tool_id", id)
			continue
		}
		tools = append(tools, connector.NewTool(ct, c.meta.ProviderID, limiter,
			func(ctx context.Context, args map[string]any) (string, error) {
				c.base.Load().TouchLastUsed(ctx, userID)
				return c.invoke(ctx, bearer, ct, args)
			}))
	}
	return tools, nil
}

// ExecuteTool implements connector.Connector for one-off invocations
// outside a built tool set.
func (c *Connector) ExecuteTool(ctx context.Context, userID, toolName string, args map[string]any) (string, error) {
	token, err := c.session(ctx, userID)
	if err != nil {
		return "", err
	}
	catalog, err := c.fetchCatalog(ctx, token.AccessToken)
	if err != nil {
		return "", err
	}

	var tool *connector.ConnectorTool
	for i := range catalog {
		if catalog[i].ID == toolName {
			tool = &catalog[i]
			break
		}
	}
	if tool == nil {
		return "", terrors.NewInvalidToolError(
			fmt.Sprintf("MCP server for provider %s lists no tool %s", c.meta.ProviderID, toolName), nil)
	}

	c.base.Load().TouchLastUsed(ctx, userID)
	return c.invoke(ctx, token.AccessToken, *tool, args)
}

// prepareArgs shapes the caller's arguments for the wire. Whole-string
// input runs the coercion ladder; the outcome is validated against the
// tool's declared schema when one loads.
func (c *Connector) prepareArgs(tool connector.ConnectorTool, args map[string]any) (map[string]any, error) {
	schema := tool.ParametersSchema
	if raw, ok := rawInputString(args, schema); ok {
		coerced, err := coerceInput(raw, schema)
		if err != nil {
			return nil, err
		}
		if err := validateArgs(coerced, schema); err != nil {
			return nil, terrors.NewCoercionError(
				fmt.Sprintf("coerced input does not satisfy the tool's schema; %s", schemaSummary(schema)), err)
		}
		return coerced, nil
	}
	if err := validateArgs(args, schema); err != nil {
		return nil, terrors.NewInvalidInputError(
			fmt.Sprintf("arguments for tool %s do not match its schema", tool.ID), err)
	}
	return args, nil
}

// invoke performs one JSON-RPC tools/call. Upstream failures come back as
// in-band {success:false} strings: the agent reasons about tool failures
// as data, it does not handle exceptions.
func (c *Connector) invoke(ctx context.Context, bearer string, tool connector.ConnectorTool, args map[string]any) (string, error) {
	prepared, err := c.prepareArgs(tool, args)
	if err != nil {
		return "", err
	}

	body, err := json.Marshal(newToolCall(tool.ID, prepared))
	if err != nil {
		return "", fmt.Errorf("failed to marshal tools/call request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, invokeTimeout)
	defer cancel()

	res, err := networking.FetchJSON[json.RawMessage](ctx, c.client, joinPath(c.serverURL, c.transport.invokePath()),
		networking.WithMethod(http.MethodPost),
		networking.WithBearerToken(bearer),
		networking.WithHeader("Content-Type", networking.ContentTypeJSON),
		networking.WithBody(bytes.NewReader(body)),
	)
	if err != nil {
		var httpErr *networking.HTTPError
		if errors.As(err, &httpErr) {
			return inBandError(fmt.Sprintf("HTTP %d: %s", httpErr.StatusCode, httpErr.Body)), nil
		}
		if errors.Is(err, context.Canceled) {
			return "", err
		}
		return inBandError(fmt.Sprintf("MCP server unreachable: %v", err)), nil
	}
	return interpretResponse(res.Data), nil
}
