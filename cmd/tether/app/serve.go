// SPDX-FileCopyrightText: Copyright 2025 Loopwork, Inc.
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/loopwork/tether/pkg/api"
	"github.com/loopwork/tether/pkg/config"
	"github.com/loopwork/tether/pkg/connector"
	"github.com/loopwork/tether/pkg/connector/mcp"
	"github.com/loopwork/tether/pkg/connector/rest"
	terrors "github.com/loopwork/tether/pkg/errors"
	"github.com/loopwork/tether/pkg/logger"
	"github.com/loopwork/tether/pkg/manager"
	"github.com/loopwork/tether/pkg/networking"
	"github.com/loopwork/tether/pkg/store"
)

// newServeCmd creates the serve command for starting the connector runtime
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the connector runtime",
		Long: `Start the connector runtime API server.

The server reads the configuration file given by --config (or the default
location), connects to Redis, registers the providers declared in the
catalog and serves the connector API until interrupted.`,
		RunE: runServe,
	}
}

// runServe implements the serve command logic
func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	cfg, err := config.Load(viper.GetString("config"))
	if err != nil {
		return err
	}

	passphrase, err := cfg.Passphrase()
	if err != nil {
		return err
	}
	cipher, err := store.NewCipher(passphrase)
	if err != nil {
		return err
	}

	st, err := store.NewRedisStore(ctx, store.RedisConfig{
		Addrs:      cfg.Redis.Addrs,
		MasterName: cfg.Redis.MasterName,
		DB:         cfg.Redis.DB,
		Username:   cfg.Redis.Username,
		Password:   cfg.Redis.Password,
		KeyPrefix:  cfg.Redis.KeyPrefix,
	}, cipher)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Errorf("Failed to close store: %v", err)
		}
	}()
	logger.Infof("Connected to redis at %s", strings.Join(cfg.Redis.Addrs, ", "))

	// One shared HTTP client configuration for every connector. The insecure
	// variant exists for development against local providers only.
	var connOpts []connector.Option
	var restOpts []rest.ProviderOption
	if cfg.AllowInsecureHTTP {
		logger.Warn("allow_insecure_http is set; plain-HTTP provider endpoints are accepted")
		client, err := networking.NewHttpClientBuilder().
			WithInsecureHTTP(true).
			WithPrivateIPs(true).
			Build()
		if err != nil {
			return fmt.Errorf("failed to build HTTP client: %w", err)
		}
		connOpts = append(connOpts, connector.WithHTTPClient(client))
		restOpts = append(restOpts, rest.WithHTTPClient(client))
	}

	registry := connector.NewRegistry()
	if cfg.ProvidersPath != "" {
		cat, err := config.LoadCatalog(cfg.ProvidersPath)
		if err != nil {
			return err
		}
		if err := registerProviders(registry, cat, cfg, st, connOpts, restOpts); err != nil {
			return err
		}
	} else {
		logger.Info("No provider catalog configured; serving user-registered MCP connectors only")
	}

	mgrOpts := []manager.Option{manager.WithConnectorOptions(connOpts...)}
	if cfg.ExternalURL != "" {
		mgrOpts = append(mgrOpts, manager.WithCallbackBase(cfg.ExternalURL))
	}
	mgr, err := manager.NewManager(registry, st, mgrOpts...)
	if err != nil {
		return err
	}
	defer mgr.Stop()

	logger.Infof("Starting tether API server at %s", cfg.Server.Address())
	return api.Serve(ctx, cfg.Server.Address(), mgr, st, cfg.UICallbackURL)
}

// registerProviders constructs a connector per enabled catalog entry and
// registers them in catalog order, which fixes the listing order every
// user sees.
func registerProviders(
	reg *connector.Registry,
	cat *config.Catalog,
	cfg *config.Config,
	st store.Store,
	connOpts []connector.Option,
	restOpts []rest.ProviderOption,
) error {
	for i := range cat.Providers {
		p := &cat.Providers[i]
		if p.Disabled {
			logger.Infof("Provider %s is disabled, skipping", p.ID)
			continue
		}

		var (
			conn connector.Connector
			err  error
		)
		switch p.Kind {
		case config.KindREST:
			conn, err = buildRESTConnector(p, cfg, st, restOpts)
		case config.KindMCP:
			conn, err = buildMCPConnector(p, cfg, st, connOpts)
		}
		if err != nil {
			return err
		}

		if err := reg.Register(p.ID, conn); err != nil {
			return err
		}
		logger.Infof("Registered %s connector %s", p.Kind, p.ID)
	}
	return nil
}

// buildRESTConnector maps a catalog entry onto one of the shipped REST
// providers. The entry supplies credentials plus optional endpoint, scope
// and API-base overrides; the tool catalogs are compiled in.
func buildRESTConnector(p *config.Provider, cfg *config.Config, st store.Store, shared []rest.ProviderOption) (connector.Connector, error) {
	clientID, err := p.ResolveClientID()
	if err != nil {
		return nil, err
	}
	clientSecret, err := p.ResolveClientSecret()
	if err != nil {
		return nil, err
	}

	opts := append([]rest.ProviderOption{}, shared...)
	if len(p.Scopes) > 0 {
		opts = append(opts, rest.WithScopes(p.Scopes...))
	}
	if p.AuthorizeURL != "" && p.TokenURL != "" {
		opts = append(opts, rest.WithOAuthEndpoints(p.AuthorizeURL, p.TokenURL))
	}
	if p.APIBase != "" {
		opts = append(opts, rest.WithAPIBase(p.APIBase))
	}

	redirect := callbackURL(cfg.ExternalURL, p.ID)
	switch p.ID {
	case "google":
		return rest.NewGoogle(clientID, clientSecret, redirect, st, opts...)
	case "notion":
		return rest.NewNotion(clientID, clientSecret, redirect, st, opts...)
	case "atlassian":
		return rest.NewAtlassian(clientID, clientSecret, redirect, st, opts...)
	default:
		return nil, terrors.NewConfigError(
			fmt.Sprintf("unknown REST provider %s (shipped providers: google, notion, atlassian)", p.ID), nil)
	}
}

// buildMCPConnector maps a catalog entry onto the MCP adapter.
func buildMCPConnector(p *config.Provider, cfg *config.Config, st store.Store, connOpts []connector.Option) (connector.Connector, error) {
	oauthCfg, err := p.OAuthConfig(callbackURL(cfg.ExternalURL, p.ID))
	if err != nil {
		return nil, err
	}
	return mcp.New(oauthCfg, p.Metadata(), st, p.ServerURL, p.Transport, connOpts...)
}

// callbackURL derives the provider redirect URI from the service's external
// base URL. Empty when no external URL is configured; connectors registered
// through the API get theirs defaulted by the manager instead.
func callbackURL(externalURL, providerID string) string {
	if externalURL == "" {
		return ""
	}
	return fmt.Sprintf("%s/api/v1/connectors/%s/callback", strings.TrimRight(externalURL, "/"), providerID)
}
