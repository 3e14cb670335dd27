// SPDX-FileCopyrightText: Copyright 2025 Loopwork, Inc.
// SPDX-License-Identifier: Apache-2.0

package mcp

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	terrors "github.com/loopwork/tether/pkg/errors"
	"github.com/loopwork/tether/pkg/logger"
	"github.com/loopwork/tether/pkg/networking"
)

// Discovery budget and retry policy. The whole chain shares one deadline.
const (
	discoveryTimeout       = 10 * time.Second
	discoveryRetryInterval = 250 * time.Millisecond
	discoveryMaxTries      = 3
)

// resourceMetadata is the RFC 9728 protected-resource document an MCP
// server publishes under its well-known path.
type resourceMetadata struct {
	Resource               string   `json:"resource"`
	AuthorizationServers   []string `json:"authorization_servers"`
	BearerMethodsSupported []string `json:"bearer_methods_supported,omitempty"`
	ScopesSupported        []string `json:"scopes_supported,omitempty"`
	ResourceName           string   `json:"resource_name,omitempty"`
}

// authServerMetadata is the RFC 8414 authorization-server document. The
// OIDC discovery document carries the same fields, so the openid
// configuration fallback parses into the same type.
type authServerMetadata struct {
	Issuer                        string   `json:"issuer"`
	AuthorizationEndpoint         string   `json:"authorization_endpoint"`
	TokenEndpoint                 string   `json:"token_endpoint"`
	RevocationEndpoint            string   `json:"revocation_endpoint,omitempty"`
	UserinfoEndpoint              string   `json:"userinfo_endpoint,omitempty"`
	ScopesSupported               []string `json:"scopes_supported,omitempty"`
	CodeChallengeMethodsSupported []string `json:"code_challenge_methods_supported,omitempty"`
}

// supportsS256 reports whether the advertised PKCE methods include S256.
func (m *authServerMetadata) supportsS256() bool {
	for _, method := range m.CodeChallengeMethodsSupported {
		if method == "S256" {
			return true
		}
	}
	return false
}

// discoverEndpoints walks the discovery chain for serverURL: the protected
// resource metadata names the authorization server, and that server's own
// metadata names the endpoints. The authorization-server document is tried
// first, then the openid configuration.
func discoverEndpoints(ctx context.Context, client networking.HTTPClient, serverURL string) (*authServerMetadata, *resourceMetadata, error) {
	ctx, cancel := context.WithTimeout(ctx, discoveryTimeout)
	defer cancel()

	prURL, err := protectedResourceURL(serverURL)
	if err != nil {
		return nil, nil, err
	}

	resource, err := fetchMetadata[resourceMetadata](ctx, client, prURL)
	if err != nil {
		return nil, nil, terrors.NewUpstreamError(
			fmt.Sprintf("failed to fetch protected resource metadata from %s", prURL), err)
	}
	if len(resource.AuthorizationServers) == 0 {
		return nil, nil, terrors.NewUpstreamError(
			fmt.Sprintf("protected resource metadata at %s names no authorization servers", prURL), nil)
	}

	issuer := resource.AuthorizationServers[0]
	oauthURL, oidcURL, err := authServerWellKnownURLs(issuer)
	if err != nil {
		return nil, nil, err
	}

	meta, oauthErr := fetchMetadata[authServerMetadata](ctx, client, oauthURL)
	if oauthErr != nil {
		var oidcErr error
		meta, oidcErr = fetchMetadata[authServerMetadata](ctx, client, oidcURL)
		if oidcErr != nil {
			return nil, nil, terrors.NewUpstreamError(fmt.Sprintf(
				"no authorization server metadata at %q (%v) or %q (%v)",
				oauthURL, oauthErr, oidcURL, oidcErr), nil)
		}
	}

	if err := validateAuthServerMetadata(meta); err != nil {
		return nil, nil, err
	}
	return meta, resource, nil
}

// fetchMetadata GETs one well-known document, retrying transient failures.
// Definitive answers (4xx) are not retried so the openid-configuration
// fallback stays fast.
func fetchMetadata[T any](ctx context.Context, client networking.HTTPClient, metadataURL string) (*T, error) {
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = discoveryRetryInterval

	return backoff.Retry(ctx, func() (*T, error) {
		res, err := networking.FetchJSON[T](ctx, client, metadataURL)
		if err != nil {
			var httpErr *networking.HTTPError
			if errors.As(err, &httpErr) && httpErr.StatusCode >= 400 && httpErr.StatusCode < 500 {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		return &res.Data, nil
	},
		backoff.WithBackOff(expBackoff),
		backoff.WithMaxTries(discoveryMaxTries),
		backoff.WithNotify(func(err error, wait time.Duration) {
			logger.Debugw("retrying metadata fetch", "url", metadataURL, "wait", wait, "error", err)
		}),
	)
}

// protectedResourceURL builds the RFC 9728 well-known URL for an MCP
// server. Path-scoped servers keep their path after the well-known segment:
// https://mcp.example/x maps to
// https://mcp.example/.well-known/oauth-protected-resource/x.
func protectedResourceURL(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", terrors.NewConfigError(fmt.Sprintf("invalid MCP server URL %q", serverURL), err)
	}
	wellKnown := url.URL{
		Scheme: u.Scheme,
		Host:   u.Host,
		Path:   path.Join("/.well-known/oauth-protected-resource", strings.Trim(u.EscapedPath(), "/")),
	}
	return wellKnown.String(), nil
}

// authServerWellKnownURLs builds both candidate metadata URLs for an
// issuer. RFC 8414 inserts the well-known segment before any tenant path;
// OIDC discovery appends it after.
func authServerWellKnownURLs(issuer string) (oauthURL, oidcURL string, err error) {
	u, err := url.Parse(issuer)
	if err != nil {
		return "", "", terrors.NewUpstreamError(fmt.Sprintf("invalid authorization server URL %q", issuer), err)
	}
	if err := networking.ValidateEndpointURL(issuer); err != nil {
		return "", "", terrors.NewUpstreamError(fmt.Sprintf("authorization server %q failed validation", issuer), err)
	}

	tenant := strings.Trim(u.EscapedPath(), "/")
	base := url.URL{Scheme: u.Scheme, Host: u.Host}

	oauth := base
	oauth.Path = path.Join("/.well-known/oauth-authorization-server", tenant)
	oidc := base
	oidc.Path = path.Join("/", tenant, ".well-known/openid-configuration")
	return oauth.String(), oidc.String(), nil
}

// validateAuthServerMetadata requires the two endpoints the OAuth flow
// cannot run without and holds every advertised URL to the usual rules.
func validateAuthServerMetadata(meta *authServerMetadata) error {
	if meta.AuthorizationEndpoint == "" || meta.TokenEndpoint == "" {
		return terrors.NewUpstreamError(
			"authorization server metadata is missing authorization_endpoint or token_endpoint", nil)
	}
	for name, endpoint := range map[string]string{
		"authorization_endpoint": meta.AuthorizationEndpoint,
		"token_endpoint":         meta.TokenEndpoint,
		"revocation_endpoint":    meta.RevocationEndpoint,
		"userinfo_endpoint":      meta.UserinfoEndpoint,
	} {
		if endpoint == "" {
			continue
		}
		if err := networking.ValidateEndpointURL(endpoint); err != nil {
			return terrors.NewUpstreamError(
				fmt.Sprintf("authorization server metadata carries invalid %s", name), err)
		}
	}
	return nil
}
