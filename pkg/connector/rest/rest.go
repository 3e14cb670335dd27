// SPDX-FileCopyrightText: Copyright 2025 Loopwork, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package rest adapts direct-API providers (Google, Notion, Atlassian) to
// the connector interface. Each provider ships a static tool catalog whose
// operations call the provider's REST endpoints with the user's bearer
// token. Provider quirks stay inside this package: forced consent,
// Basic-auth token exchange, post-auth resource discovery, rotating
// refresh policy.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/loopwork/tether/pkg/connector"
	terrors "github.com/loopwork/tether/pkg/errors"
	"github.com/loopwork/tether/pkg/logger"
	"github.com/loopwork/tether/pkg/networking"
	"github.com/loopwork/tether/pkg/store"
)

// ExecuteFunc performs one provider call with the user's session.
type ExecuteFunc func(ctx context.Context, sess *Session, args map[string]any) (string, error)

// Operation binds a catalog tool to its REST invocation.
type Operation struct {
	Tool    connector.ConnectorTool
	Execute ExecuteFunc
}

// Connector is the REST adapter: the shared OAuth core plus a static
// tool-id to operation map in the provider's declared order.
type Connector struct {
	*connector.Base

	ops   map[string]Operation
	order []string
}

var _ connector.Connector = (*Connector)(nil)

// New builds a REST connector from a provider config and its operations.
func New(cfg connector.OAuthConfig, meta connector.ConnectorMetadata, st store.Store, ops []Operation, opts ...connector.Option) (*Connector, error) {
	if len(meta.AvailableTools) == 0 {
		tools := make([]connector.ConnectorTool, 0, len(ops))
		for _, op := range ops {
			tools = append(tools, op.Tool)
		}
		meta.AvailableTools = tools
	}

	base, err := connector.NewBase(cfg, meta, st, opts...)
	if err != nil {
		return nil, err
	}

	c := &Connector{Base: base, ops: make(map[string]Operation, len(ops))}
	for _, op := range ops {
		id := op.Tool.ID
		if id == "" || op.Execute == nil {
			return nil, terrors.NewConfigError(
				fmt.Sprintf("provider %s declares an operation without an id or executor", cfg.ProviderID), nil)
		}
		if _, dup := c.ops[id]; dup {
			return nil, terrors.NewConfigError(
				fmt.Sprintf("provider %s declares tool %s twice", cfg.ProviderID, id), nil)
		}
		c.ops[id] = op
		c.order = append(c.order, id)
	}
	return c, nil
}

// Session is the per-invocation auth context. The access token is captured
// when tools are built and lives for the tool object's lifetime; the tool
// cache TTL bounds how stale it can get.
type Session struct {
	UserID string
	Token  *connector.UserOAuthToken

	conn *Connector
}

// Bearer returns the captured access token.
func (s *Session) Bearer() string {
	return s.Token.AccessToken
}

// HTTP returns the adapter's outbound client.
func (s *Session) HTTP() networking.HTTPClient {
	return s.conn.HTTPClient()
}

// StashTokenData persists discovered identifiers on the token record and
// refreshes the captured copy.
func (s *Session) StashTokenData(ctx context.Context, kv map[string]any) error {
	token, err := s.conn.StashTokenData(ctx, s.UserID, kv)
	if err != nil {
		return err
	}
	s.Token = token
	return nil
}

func (c *Connector) session(ctx context.Context, userID string) (*Session, error) {
	token, err := c.GetToken(ctx, userID, true)
	if err != nil {
		return nil, err
	}
	if !connector.Usable(token) {
		return nil, terrors.NewNotAuthenticatedError(
			fmt.Sprintf("not authenticated with provider %s", c.Metadata().ProviderID), nil)
	}
	return &Session{UserID: userID, Token: token, conn: c}, nil
}

// AvailableTools implements connector.Connector. The catalog is static, in
// the provider's declared order.
func (c *Connector) AvailableTools(_ context.Context, _ string) ([]connector.ConnectorTool, error) {
	out := make([]connector.ConnectorTool, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.ops[id].Tool)
	}
	return out, nil
}

// EnabledTools implements connector.Connector. A user with no stored config
// never curated tools, so everything is enabled.
func (c *Connector) EnabledTools(ctx context.Context, userID string) ([]connector.ConnectorTool, error) {
	available, err := c.AvailableTools(ctx, userID)
	if err != nil {
		return nil, err
	}
	cfg, err := connector.LoadUserConfig(ctx, c.Store(), userID, c.Metadata().ProviderID)
	if err != nil {
		if terrors.IsNotFound(err) {
			return available, nil
		}
		return nil, err
	}
	return connector.FilterEnabled(available, cfg.EnabledTools), nil
}

// BuildTools implements connector.Connector. The session (and its access
// token) is captured once and shared by every returned tool. Unknown tool
// ids are skipped with a warning so one stale id cannot sink the batch.
func (c *Connector) BuildTools(ctx context.Context, userID string, toolIDs []string) ([]*connector.Tool, error) {
	sess, err := c.session(ctx, userID)
	if err != nil {
		return nil, err
	}

	providerID := c.Metadata().ProviderID
	tools := make([]*connector.Tool, 0, len(toolIDs))
	for _, id := range toolIDs {
		op, ok := c.ops[id]
		if !ok {
			logger.Warnw("skipping unknown tool", "provider_id", providerID, "tool_id", id)
			continue
		}
		tools = append(tools, connector.NewTool(op.Tool, providerID, c.Limiter(),
			func(ctx context.Context, args map[string]any) (string, error) {
				c.TouchLastUsed(ctx, userID)
				return op.Execute(ctx, sess, args)
			}))
	}
	return tools, nil
}

// ExecuteTool implements connector.Connector for one-off invocations
// outside a built tool set.
func (c *Connector) ExecuteTool(ctx context.Context, userID, toolName string, args map[string]any) (string, error) {
	op, ok := c.ops[toolName]
	if !ok {
		return "", terrors.NewInvalidToolError(
			fmt.Sprintf("provider %s has no tool %s", c.Metadata().ProviderID, toolName), nil)
	}
	sess, err := c.session(ctx, userID)
	if err != nil {
		return "", err
	}
	c.TouchLastUsed(ctx, userID)
	return op.Execute(ctx, sess, args)
}

// stringArg extracts a string argument. Required arguments error when
// missing or mistyped.
func stringArg(args map[string]any, key string, required bool) (string, error) {
	v, ok := args[key]
	if !ok || v == nil {
		if required {
			return "", terrors.NewInvalidInputError(fmt.Sprintf("missing required argument %q", key), nil)
		}
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", terrors.NewInvalidInputError(fmt.Sprintf("argument %q must be a string", key), nil)
	}
	return s, nil
}

// intArg extracts an optional integer argument, tolerating the float64 and
// string forms JSON decoding produces.
func intArg(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// getJSON performs a bearer-authenticated GET against the provider.
func getJSON[T any](ctx context.Context, s *Session, requestURL string, opts ...networking.FetchOption) (T, error) {
	var zero T
	allOpts := append([]networking.FetchOption{networking.WithBearerToken(s.Bearer())}, opts...)
	res, err := networking.FetchJSON[T](ctx, s.HTTP(), requestURL, allOpts...)
	if err != nil {
		return zero, upstreamToolError(err)
	}
	return res.Data, nil
}

// postJSON performs a bearer-authenticated JSON POST against the provider.
func postJSON[T any](ctx context.Context, s *Session, requestURL string, payload any, opts ...networking.FetchOption) (T, error) {
	var zero T
	body, err := json.Marshal(payload)
	if err != nil {
		return zero, fmt.Errorf("failed to marshal request body: %w", err)
	}
	allOpts := append([]networking.FetchOption{
		networking.WithMethod(http.MethodPost),
		networking.WithBearerToken(s.Bearer()),
		networking.WithHeader("Content-Type", networking.ContentTypeJSON),
		networking.WithBody(bytes.NewReader(body)),
	}, opts...)
	res, err := networking.FetchJSON[T](ctx, s.HTTP(), requestURL, allOpts...)
	if err != nil {
		return zero, upstreamToolError(err)
	}
	return res.Data, nil
}

// upstreamToolError shapes provider REST failures, preserving the HTTP
// status and body preview for the caller.
func upstreamToolError(err error) error {
	if terrors.IsUpstream(err) {
		return err
	}
	var httpErr *networking.HTTPError
	if errors.As(err, &httpErr) {
		return terrors.NewUpstreamError(
			fmt.Sprintf("provider returned HTTP %d: %s", httpErr.StatusCode, httpErr.Body), err)
	}
	return terrors.NewUpstreamError("provider request failed", err)
}

// ProviderOption tweaks a built-in provider. Tests use these to point at
// local servers.
type ProviderOption func(*providerSettings)

type providerSettings struct {
	apiBase      string
	authorizeURL string
	tokenURL     string
	revokeURL    string
	userInfoURL  string
	scopes       []string
	client       networking.HTTPClient
}

// WithAPIBase redirects the provider's REST calls.
func WithAPIBase(base string) ProviderOption {
	return func(s *providerSettings) {
		s.apiBase = base
	}
}

// WithOAuthEndpoints overrides the provider's authorize and token URLs.
func WithOAuthEndpoints(authorizeURL, tokenURL string) ProviderOption {
	return func(s *providerSettings) {
		s.authorizeURL = authorizeURL
		s.tokenURL = tokenURL
	}
}

// WithScopes replaces the provider's default scopes.
func WithScopes(scopes ...string) ProviderOption {
	return func(s *providerSettings) {
		s.scopes = scopes
	}
}

// WithHTTPClient substitutes the outbound HTTP client.
func WithHTTPClient(client networking.HTTPClient) ProviderOption {
	return func(s *providerSettings) {
		s.client = client
	}
}

func (s *providerSettings) baseOptions() []connector.Option {
	if s.client == nil {
		return nil
	}
	return []connector.Option{connector.WithHTTPClient(s.client)}
}
