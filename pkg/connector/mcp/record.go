// SPDX-FileCopyrightText: Copyright 2025 Loopwork, Inc.
// SPDX-License-Identifier: Apache-2.0

package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/loopwork/tether/pkg/connector"
	terrors "github.com/loopwork/tether/pkg/errors"
	"github.com/loopwork/tether/pkg/logger"
	"github.com/loopwork/tether/pkg/store"
)

// Record is a user-registered MCP endpoint. It carries everything needed
// to rebuild the connector after a restart, including the OAuth client the
// user supplied, so it is stored encrypted under the owner's namespace.
type Record struct {
	ProviderID   string   `json:"provider_id"`
	DisplayName  string   `json:"display_name,omitempty"`
	Description  string   `json:"description,omitempty"`
	ServerURL    string   `json:"server_url"`
	Transport    string   `json:"transport,omitempty"`
	ClientID     string   `json:"client_id,omitempty"`
	ClientSecret string   `json:"client_secret,omitempty"`
	RedirectURI  string   `json:"redirect_uri,omitempty"`
	Scopes       []string `json:"scopes,omitempty"`
	// AuthorizeURL and TokenURL override metadata discovery when the user
	// already knows the endpoints.
	AuthorizeURL string `json:"authorize_url,omitempty"`
	TokenURL     string `json:"token_url,omitempty"`
	RegisteredAt int64  `json:"registered_at,omitempty"`
}

var providerIDRe = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// Validate rejects records that could never build a working connector.
func (r *Record) Validate() error {
	if r.ProviderID == "" {
		return terrors.NewInvalidInputError("provider id is required", nil)
	}
	if !providerIDRe.MatchString(r.ProviderID) {
		return terrors.NewInvalidInputError(
			fmt.Sprintf("provider id %q must be lowercase alphanumeric with _ or -", r.ProviderID), nil)
	}
	if r.ServerURL == "" {
		return terrors.NewInvalidInputError("server url is required", nil)
	}
	if _, err := ParseTransportType(r.Transport); err != nil {
		return err
	}
	return nil
}

// FromRecord materializes the connector a registration describes.
func FromRecord(rec *Record, st store.Store, opts ...connector.Option) (*Connector, error) {
	if err := rec.Validate(); err != nil {
		return nil, err
	}

	cfg := connector.OAuthConfig{
		ProviderID:   rec.ProviderID,
		ClientID:     rec.ClientID,
		ClientSecret: rec.ClientSecret,
		AuthorizeURL: rec.AuthorizeURL,
		TokenURL:     rec.TokenURL,
		RedirectURI:  rec.RedirectURI,
		Scopes:       rec.Scopes,
	}
	meta := connector.ConnectorMetadata{
		ProviderID:  rec.ProviderID,
		DisplayName: rec.DisplayName,
		Description: rec.Description,
	}
	if meta.DisplayName == "" {
		meta.DisplayName = rec.ProviderID
	}
	if meta.Description == "" {
		meta.Description = fmt.Sprintf("User-registered MCP server at %s", rec.ServerURL)
	}
	return New(cfg, meta, st, rec.ServerURL, rec.Transport, opts...)
}

// SaveRecord persists a user's MCP endpoint registration.
func SaveRecord(ctx context.Context, st store.Store, userID string, rec *Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	if rec.RegisteredAt == 0 {
		rec.RegisteredAt = time.Now().Unix()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal MCP record: %w", err)
	}
	return st.Set(ctx, store.UserMCPKey(userID, rec.ProviderID), data, userID)
}

// LoadRecord reads one registration. Missing records return not-found.
func LoadRecord(ctx context.Context, st store.Store, userID, providerID string) (*Record, error) {
	data, err := st.Get(ctx, store.UserMCPKey(userID, providerID), userID)
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, terrors.NewConfigError(
			fmt.Sprintf("damaged MCP record for %s/%s", userID, providerID), err)
	}
	return &rec, nil
}

// ListRecords returns every registration a user owns, ordered by provider
// id so repeated loads register connectors deterministically. Unreadable
// records are skipped, not fatal: one damaged registration must not hide
// the rest.
func ListRecords(ctx context.Context, st store.Store, userID string) ([]*Record, error) {
	keys, err := st.Scan(ctx, store.UserMCPPattern(userID))
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)

	records := make([]*Record, 0, len(keys))
	for _, key := range keys {
		data, err := st.Get(ctx, key, userID)
		if err != nil {
			logger.Warnw("skipping unreadable MCP record", "key", key, "error", err)
			continue
		}
		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			logger.Warnw("skipping damaged MCP record", "key", key, "error", err)
			continue
		}
		records = append(records, &rec)
	}
	return records, nil
}

// DeleteRecord removes a registration. Deleting a missing one is a no-op.
func DeleteRecord(ctx context.Context, st store.Store, userID, providerID string) error {
	return st.Delete(ctx, store.UserMCPKey(userID, providerID))
}
