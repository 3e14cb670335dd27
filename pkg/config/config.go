// SPDX-FileCopyrightText: Copyright 2025 Loopwork, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package config contains the definition of the runtime config structure
// and the logic required to load it and the provider catalog.
package config

import (
	"fmt"
	"net/url"
	"os"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"

	"github.com/loopwork/tether/pkg/errors"
)

// Config represents the configuration of the service.
type Config struct {
	Server Server `yaml:"server"`
	Redis  Redis  `yaml:"redis"`

	// ExternalURL is the externally reachable base URL of this service.
	// Provider redirect URIs are derived from it as
	// {external_url}/api/v1/connectors/{providerId}/callback.
	ExternalURL string `yaml:"external_url"`

	// UICallbackURL is where OAuth callbacks send the browser once a flow
	// completes. Empty means the callback writes the outcome directly.
	UICallbackURL string `yaml:"ui_callback_url"`

	// PassphraseEnv names the environment variable holding the token
	// encryption passphrase. The passphrase itself never lives on disk.
	PassphraseEnv string `yaml:"passphrase_env"`

	// ProvidersPath points at the provider catalog file. Empty means no
	// system connectors are offered.
	ProvidersPath string `yaml:"providers_path,omitempty"`

	// AllowInsecureHTTP permits plain-HTTP provider endpoints beyond
	// localhost. Development only.
	AllowInsecureHTTP bool `yaml:"allow_insecure_http,omitempty"`
}

// Server holds the listen address of the API server.
type Server struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Address renders the host:port listen address.
func (s Server) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Redis holds the credential store connection settings.
type Redis struct {
	// Addrs is one address for a standalone server, or the sentinel
	// addresses when MasterName is set.
	Addrs      []string `yaml:"addrs"`
	MasterName string   `yaml:"master_name,omitempty"`
	Username   string   `yaml:"username,omitempty"`
	Password   string   `yaml:"password,omitempty"`
	DB         int      `yaml:"db,omitempty"`
	KeyPrefix  string   `yaml:"key_prefix,omitempty"`
}

// defaultPathGenerator generates the default config path using xdg.
var defaultPathGenerator = func() (string, error) {
	return xdg.ConfigFile("tether/config.yaml")
}

// getConfigPath is the current path generator, can be replaced in tests.
var getConfigPath = defaultPathGenerator

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Server: Server{
			Host: "127.0.0.1",
			Port: 8090,
		},
		Redis: Redis{
			Addrs:     []string{"127.0.0.1:6379"},
			KeyPrefix: "tether:",
		},
		PassphraseEnv: "TETHER_PASSPHRASE",
	}
}

// Load reads the configuration from path, or from the default location
// when path is empty. A missing file yields the defaults: the service
// never writes configuration.
func Load(path string) (*Config, error) {
	if path == "" {
		var err error
		path, err = getConfigPath()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve config path: %w", err)
		}
	}

	cfg := Default()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.NewConfigError(fmt.Sprintf("failed to parse config file %s", path), err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the service could not run with.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return errors.NewConfigError(fmt.Sprintf("server port %d is out of range", c.Server.Port), nil)
	}
	if len(c.Redis.Addrs) == 0 {
		return errors.NewConfigError("at least one redis address is required", nil)
	}
	if c.PassphraseEnv == "" {
		return errors.NewConfigError("passphrase_env is required", nil)
	}
	for name, raw := range map[string]string{
		"external_url":    c.ExternalURL,
		"ui_callback_url": c.UICallbackURL,
	} {
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return errors.NewConfigError(fmt.Sprintf("%s %q is not an absolute URL", name, raw), err)
		}
	}
	return nil
}

// Passphrase resolves the token encryption passphrase from the configured
// environment variable.
func (c *Config) Passphrase() (string, error) {
	passphrase := os.Getenv(c.PassphraseEnv)
	if passphrase == "" {
		return "", errors.NewConfigError(
			fmt.Sprintf("token encryption passphrase not set; export %s", c.PassphraseEnv), nil)
	}
	return passphrase, nil
}
