// SPDX-FileCopyrightText: Copyright 2025 Loopwork, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"os"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"github.com/loopwork/tether/pkg/connector"
	"github.com/loopwork/tether/pkg/errors"
)

// Provider kinds accepted by the catalog.
const (
	KindREST = "rest"
	KindMCP  = "mcp"
)

// Catalog is the provider catalog: the system connectors this deployment
// offers to every user.
type Catalog struct {
	Providers []Provider `yaml:"providers"`
}

// Provider is one catalog entry. REST entries name a shipped provider
// (google, notion, atlassian) and supply its credentials plus optional
// endpoint and scope overrides; MCP entries describe a remote MCP server
// in full.
type Provider struct {
	ID       string `yaml:"id"`
	Kind     string `yaml:"kind"`
	Disabled bool   `yaml:"disabled,omitempty"`

	DisplayName string `yaml:"display_name,omitempty"`
	Description string `yaml:"description,omitempty"`
	IconURL     string `yaml:"icon_url,omitempty"`

	// Credentials may be inline or named by environment variable. The env
	// form keeps secrets out of the catalog file.
	ClientID        string `yaml:"client_id,omitempty"`
	ClientIDEnv     string `yaml:"client_id_env,omitempty"`
	ClientSecret    string `yaml:"client_secret,omitempty"`
	ClientSecretEnv string `yaml:"client_secret_env,omitempty"`

	Scopes       []string `yaml:"scopes,omitempty"`
	AuthorizeURL string   `yaml:"authorize_url,omitempty"`
	TokenURL     string   `yaml:"token_url,omitempty"`
	RevokeURL    string   `yaml:"revoke_url,omitempty"`
	UserInfoURL  string   `yaml:"userinfo_url,omitempty"`

	GrantType        string            `yaml:"grant_type,omitempty"`
	AuthMethod       string            `yaml:"auth_method,omitempty"`
	AdditionalParams map[string]string `yaml:"additional_params,omitempty"`
	RotatingRefresh  bool              `yaml:"rotating_refresh,omitempty"`
	TokenExtraFields []string          `yaml:"token_extra_fields,omitempty"`

	// APIBase overrides the REST provider's API root, for proxies and tests.
	APIBase string `yaml:"api_base,omitempty"`

	// ServerURL and Transport apply to MCP entries only.
	ServerURL string `yaml:"server_url,omitempty"`
	Transport string `yaml:"transport,omitempty"`

	RateLimits *RateLimit `yaml:"rate_limits,omitempty"`

	// Tools declares the advertised tool set for MCP entries. REST entries
	// carry compiled-in catalogs and ignore this list.
	Tools []Tool `yaml:"tools,omitempty"`
}

// RateLimit carries per-provider invocation limits.
type RateLimit struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// Tool declares one tool a provider advertises.
type Tool struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name,omitempty"`
	Description string `yaml:"description,omitempty"`
	// Parameters is a JSON Schema object; it is compiled at load time so a
	// broken schema fails startup instead of every invocation.
	Parameters   map[string]any `yaml:"parameters,omitempty"`
	RequiresAuth bool           `yaml:"requires_auth,omitempty"`
}

// LoadCatalog reads and validates the provider catalog at path.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read provider catalog %s: %w", path, err)
	}

	var cat Catalog
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return nil, errors.NewConfigError(fmt.Sprintf("failed to parse provider catalog %s", path), err)
	}

	if err := cat.Validate(); err != nil {
		return nil, err
	}
	return &cat, nil
}

// Validate checks the structural rules every entry must satisfy. Rules
// specific to one provider kind (known REST provider ids, reachable MCP
// server URLs) are enforced when the connector is constructed.
func (c *Catalog) Validate() error {
	seen := make(map[string]bool, len(c.Providers))
	for i, p := range c.Providers {
		if p.ID == "" {
			return errors.NewConfigError(fmt.Sprintf("provider entry %d has no id", i), nil)
		}
		if seen[p.ID] {
			return errors.NewConfigError(fmt.Sprintf("duplicate provider id %s", p.ID), nil)
		}
		seen[p.ID] = true

		if err := p.validate(); err != nil {
			return err
		}
	}
	return nil
}

func (p *Provider) validate() error {
	switch p.Kind {
	case KindREST:
	case KindMCP:
		if p.ServerURL == "" {
			return errors.NewConfigError(fmt.Sprintf("provider %s declares no MCP server URL", p.ID), nil)
		}
	default:
		return errors.NewConfigError(
			fmt.Sprintf("provider %s has unknown kind %q (want %s or %s)", p.ID, p.Kind, KindREST, KindMCP), nil)
	}

	switch p.GrantType {
	case "", connector.GrantAuthorizationCode, connector.GrantClientCredentials:
	default:
		return errors.NewConfigError(fmt.Sprintf("provider %s has unknown grant_type %q", p.ID, p.GrantType), nil)
	}
	switch p.AuthMethod {
	case "", connector.AuthMethodBody, connector.AuthMethodBasic:
	default:
		return errors.NewConfigError(fmt.Sprintf("provider %s has unknown auth_method %q", p.ID, p.AuthMethod), nil)
	}

	toolIDs := make(map[string]bool, len(p.Tools))
	for _, t := range p.Tools {
		if t.ID == "" {
			return errors.NewConfigError(fmt.Sprintf("provider %s declares a tool with no id", p.ID), nil)
		}
		if toolIDs[t.ID] {
			return errors.NewConfigError(fmt.Sprintf("provider %s declares duplicate tool id %s", p.ID, t.ID), nil)
		}
		toolIDs[t.ID] = true

		if t.Parameters == nil {
			continue
		}
		if _, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(t.Parameters)); err != nil {
			return errors.NewConfigError(
				fmt.Sprintf("provider %s tool %s has an invalid parameters schema", p.ID, t.ID), err)
		}
	}
	return nil
}

// ResolveClientID returns the OAuth client id, preferring the inline value
// over the named environment variable.
func (p *Provider) ResolveClientID() (string, error) {
	return p.resolveCredential("client_id", p.ClientID, p.ClientIDEnv)
}

// ResolveClientSecret returns the OAuth client secret. Empty is allowed:
// public clients and PKCE-only providers have none.
func (p *Provider) ResolveClientSecret() (string, error) {
	if p.ClientSecret == "" && p.ClientSecretEnv == "" {
		return "", nil
	}
	return p.resolveCredential("client_secret", p.ClientSecret, p.ClientSecretEnv)
}

func (p *Provider) resolveCredential(name, inline, envVar string) (string, error) {
	if inline != "" {
		return inline, nil
	}
	if envVar == "" {
		return "", errors.NewConfigError(fmt.Sprintf("provider %s has no %s", p.ID, name), nil)
	}
	v := os.Getenv(envVar)
	if v == "" {
		return "", errors.NewConfigError(
			fmt.Sprintf("provider %s reads %s from %s which is not set", p.ID, name, envVar), nil)
	}
	return v, nil
}

// OAuthConfig maps the entry onto the connector OAuth configuration.
// redirectURI is derived by the caller from the service's external URL.
func (p *Provider) OAuthConfig(redirectURI string) (connector.OAuthConfig, error) {
	clientID, err := p.ResolveClientID()
	if err != nil {
		return connector.OAuthConfig{}, err
	}
	clientSecret, err := p.ResolveClientSecret()
	if err != nil {
		return connector.OAuthConfig{}, err
	}
	return connector.OAuthConfig{
		ProviderID:       p.ID,
		ClientID:         clientID,
		ClientSecret:     clientSecret,
		AuthorizeURL:     p.AuthorizeURL,
		TokenURL:         p.TokenURL,
		RevokeURL:        p.RevokeURL,
		UserInfoURL:      p.UserInfoURL,
		RedirectURI:      redirectURI,
		Scopes:           p.Scopes,
		UsePKCE:          true,
		GrantType:        p.GrantType,
		AuthMethod:       p.AuthMethod,
		AdditionalParams: p.AdditionalParams,
		RotatingRefresh:  p.RotatingRefresh,
		TokenExtraFields: p.TokenExtraFields,
	}, nil
}

// Metadata maps the entry onto connector metadata for registration.
func (p *Provider) Metadata() connector.ConnectorMetadata {
	meta := connector.ConnectorMetadata{
		ProviderID:     p.ID,
		DisplayName:    p.DisplayName,
		Description:    p.Description,
		IconURL:        p.IconURL,
		RequiredScopes: p.Scopes,
	}
	if meta.DisplayName == "" {
		meta.DisplayName = p.ID
	}
	if p.RateLimits != nil {
		meta.RateLimits = &connector.RateLimit{
			RequestsPerSecond: p.RateLimits.RequestsPerSecond,
			Burst:             p.RateLimits.Burst,
		}
	}
	for _, t := range p.Tools {
		tool := connector.ConnectorTool{
			ID:               t.ID,
			Name:             t.Name,
			Description:      t.Description,
			ParametersSchema: t.Parameters,
			RequiresAuth:     t.RequiresAuth,
		}
		if tool.Name == "" {
			tool.Name = t.ID
		}
		meta.AvailableTools = append(meta.AvailableTools, tool)
	}
	return meta
}
