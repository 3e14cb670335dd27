// SPDX-FileCopyrightText: Copyright 2025 Loopwork, Inc.
// SPDX-License-Identifier: Apache-2.0

package v1

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/loopwork/tether/pkg/api/errors"
	"github.com/loopwork/tether/pkg/auth"
	"github.com/loopwork/tether/pkg/connector"
	"github.com/loopwork/tether/pkg/connector/mcp"
	terrors "github.com/loopwork/tether/pkg/errors"
	"github.com/loopwork/tether/pkg/logger"
	"github.com/loopwork/tether/pkg/manager"
)

// Manager is the subset of the connector manager the API consumes.
type Manager interface {
	Available() []connector.ConnectorMetadata
	UserConnectors(ctx context.Context, userID string) ([]manager.ConnectorStatus, error)
	UserProviderTools(ctx context.Context, userID, providerID string) ([]manager.ToolStatus, error)
	EnableForUser(ctx context.Context, userID, providerID string) error
	DisableForUser(ctx context.Context, userID, providerID string) error
	DisconnectForUser(ctx context.Context, userID, providerID string) error
	UpdateUserTools(ctx context.Context, userID, providerID string, toolIDs []string) error
	ToggleChat(ctx context.Context, userID, providerID string, enabled bool) error
	InitOAuth(ctx context.Context, userID, providerID string) (*connector.AuthRequest, error)
	CompleteOAuth(ctx context.Context, userID, providerID, code, state string) (*connector.UserOAuthToken, error)
	RefreshToken(ctx context.Context, userID, providerID string) (*connector.UserOAuthToken, error)
	RegisterUserMCP(ctx context.Context, userID string, rec *mcp.Record) error
}

var _ Manager = (*manager.Manager)(nil)

// ConnectorRoutes defines the routes for connector management.
type ConnectorRoutes struct {
	manager       Manager
	uiCallbackURL string
}

// ConnectorRouter creates a new router for connector management endpoints.
// Every route requires the authenticated user header; uiCallbackURL is where
// the OAuth callback sends the browser after the flow completes.
func ConnectorRouter(m Manager, uiCallbackURL string) http.Handler {
	routes := ConnectorRoutes{
		manager:       m,
		uiCallbackURL: uiCallbackURL,
	}

	r := chi.NewRouter()
	r.Use(auth.RequireUser)

	r.Get("/available", apierrors.ErrorHandler(routes.listAvailable))
	r.Get("/user", apierrors.ErrorHandler(routes.listUserConnectors))
	r.Post("/custom-mcp", apierrors.ErrorHandler(routes.registerCustomMCP))

	r.Route("/{providerId}", func(r chi.Router) {
		r.Post("/auth/init", apierrors.ErrorHandler(routes.initAuth))
		r.Get("/callback", routes.handleCallback)
		r.Post("/refresh", apierrors.ErrorHandler(routes.refreshToken))
		r.Delete("/disconnect", apierrors.ErrorHandler(routes.disconnect))
		r.Post("/enable", apierrors.ErrorHandler(routes.enable))
		r.Post("/disable", apierrors.ErrorHandler(routes.disable))
		r.Get("/tools", apierrors.ErrorHandler(routes.listTools))
		r.Post("/tools/update", apierrors.ErrorHandler(routes.updateTools))
		r.Post("/toggle-chat", apierrors.ErrorHandler(routes.toggleChat))
	})

	return r
}

// requestUser returns the user id placed in the context by auth.RequireUser.
func requestUser(r *http.Request) string {
	userID, _ := auth.UserFromContext(r.Context())
	return userID
}

// writeJSON encodes v as the JSON response body.
func writeJSON(w http.ResponseWriter, v any) error {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		return fmt.Errorf("failed to encode response: %w", err)
	}
	return nil
}

// listAvailable
//
//	@Summary		List available connectors
//	@Description	Get the system connector catalog with static metadata
//	@Tags			connectors
//	@Produce		json
//	@Success		200	{object}	availableConnectorsResponse
//	@Router			/api/v1/connectors/available [get]
func (s *ConnectorRoutes) listAvailable(w http.ResponseWriter, _ *http.Request) error {
	return writeJSON(w, availableConnectorsResponse{Connectors: s.manager.Available()})
}

// listUserConnectors
//
//	@Summary		List the user's connectors
//	@Description	Get per-user connector status including connection state and tool counts
//	@Tags			connectors
//	@Produce		json
//	@Success		200	{object}	userConnectorsResponse
//	@Failure		401	{string}	string	"Unauthorized"
//	@Router			/api/v1/connectors/user [get]
func (s *ConnectorRoutes) listUserConnectors(w http.ResponseWriter, r *http.Request) error {
	statuses, err := s.manager.UserConnectors(r.Context(), requestUser(r))
	if err != nil {
		return err
	}
	return writeJSON(w, userConnectorsResponse{Connectors: statuses})
}

// initAuth
//
//	@Summary		Start an OAuth flow
//	@Description	Build the provider authorization URL and persist the transient flow state
//	@Tags			connectors
//	@Produce		json
//	@Param			providerId	path		string	true	"Provider id"
//	@Success		200			{object}	connector.AuthRequest
//	@Failure		404			{string}	string	"Provider not found"
//	@Failure		502			{string}	string	"Provider discovery failed"
//	@Router			/api/v1/connectors/{providerId}/auth/init [post]
func (s *ConnectorRoutes) initAuth(w http.ResponseWriter, r *http.Request) error {
	req, err := s.manager.InitOAuth(r.Context(), requestUser(r), chi.URLParam(r, "providerId"))
	if err != nil {
		return err
	}
	return writeJSON(w, req)
}

// handleCallback completes the OAuth flow and sends the browser back to the
// UI. Outcomes travel as query parameters on the redirect rather than HTTP
// status codes because the user is looking at a browser, not an API client.
//
//	@Summary		OAuth callback
//	@Description	Exchange the authorization code and redirect to the UI with the outcome
//	@Tags			connectors
//	@Param			providerId	path	string	true	"Provider id"
//	@Param			code		query	string	false	"Authorization code"
//	@Param			state		query	string	false	"Opaque flow state"
//	@Param			error		query	string	false	"Provider error code"
//	@Success		302	{string}	string	"Redirect to the UI callback URL"
//	@Router			/api/v1/connectors/{providerId}/callback [get]
func (s *ConnectorRoutes) handleCallback(w http.ResponseWriter, r *http.Request) {
	providerID := chi.URLParam(r, "providerId")

	q := r.URL.Query()
	if errParam := q.Get("error"); errParam != "" {
		if desc := q.Get("error_description"); desc != "" {
			errParam = fmt.Sprintf("%s: %s", errParam, desc)
		}
		logger.Warnf("OAuth flow for %s denied: %s", providerID, errParam)
		s.redirectToUI(w, r, providerID, errParam)
		return
	}

	code, state := q.Get("code"), q.Get("state")
	if code == "" || state == "" {
		s.redirectToUI(w, r, providerID, "missing code or state parameter")
		return
	}

	if _, err := s.manager.CompleteOAuth(r.Context(), requestUser(r), providerID, code, state); err != nil {
		logger.Errorf("OAuth callback for %s failed: %v", providerID, err)
		s.redirectToUI(w, r, providerID, err.Error())
		return
	}
	s.redirectToUI(w, r, providerID, "")
}

// redirectToUI sends the browser to the UI callback URL with the flow
// outcome. An empty errMsg signals success. Without a configured UI the
// outcome is written directly.
func (s *ConnectorRoutes) redirectToUI(w http.ResponseWriter, r *http.Request, providerID, errMsg string) {
	target, err := url.Parse(s.uiCallbackURL)
	if s.uiCallbackURL == "" || err != nil {
		if errMsg != "" {
			http.Error(w, errMsg, http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}

	q := target.Query()
	q.Set("provider_id", providerID)
	if errMsg != "" {
		q.Set("connector_error", errMsg)
	} else {
		q.Set("connector_success", "true")
	}
	target.RawQuery = q.Encode()
	http.Redirect(w, r, target.String(), http.StatusFound)
}

// refreshToken
//
//	@Summary		Force a token refresh
//	@Description	Refresh the provider access token regardless of expiry
//	@Tags			connectors
//	@Produce		json
//	@Param			providerId	path		string	true	"Provider id"
//	@Success		200			{object}	refreshResponse
//	@Failure		401			{string}	string	"Not connected or needs re-authentication"
//	@Failure		404			{string}	string	"Provider not found"
//	@Failure		502			{string}	string	"Provider refresh failed"
//	@Router			/api/v1/connectors/{providerId}/refresh [post]
func (s *ConnectorRoutes) refreshToken(w http.ResponseWriter, r *http.Request) error {
	tok, err := s.manager.RefreshToken(r.Context(), requestUser(r), chi.URLParam(r, "providerId"))
	if err != nil {
		return err
	}

	var resp refreshResponse
	if !tok.ExpiresAt.IsZero() {
		resp.ExpiresInSeconds = int64(time.Until(tok.ExpiresAt).Seconds())
	}
	return writeJSON(w, resp)
}

// disconnect
//
//	@Summary		Disconnect a provider
//	@Description	Revoke the token best-effort and delete stored credentials and configuration
//	@Tags			connectors
//	@Param			providerId	path		string	true	"Provider id"
//	@Success		204			{string}	string	"No Content"
//	@Failure		404			{string}	string	"Provider not found"
//	@Router			/api/v1/connectors/{providerId}/disconnect [delete]
func (s *ConnectorRoutes) disconnect(w http.ResponseWriter, r *http.Request) error {
	if err := s.manager.DisconnectForUser(r.Context(), requestUser(r), chi.URLParam(r, "providerId")); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// enable
//
//	@Summary		Enable a connector
//	@Description	Enable a connected provider for the user
//	@Tags			connectors
//	@Param			providerId	path		string	true	"Provider id"
//	@Success		204			{string}	string	"No Content"
//	@Failure		401			{string}	string	"Provider not connected"
//	@Failure		404			{string}	string	"Provider not found"
//	@Router			/api/v1/connectors/{providerId}/enable [post]
func (s *ConnectorRoutes) enable(w http.ResponseWriter, r *http.Request) error {
	if err := s.manager.EnableForUser(r.Context(), requestUser(r), chi.URLParam(r, "providerId")); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// disable
//
//	@Summary		Disable a connector
//	@Description	Disable the connector while keeping stored credentials
//	@Tags			connectors
//	@Param			providerId	path		string	true	"Provider id"
//	@Success		204			{string}	string	"No Content"
//	@Failure		404			{string}	string	"Provider not found"
//	@Router			/api/v1/connectors/{providerId}/disable [post]
func (s *ConnectorRoutes) disable(w http.ResponseWriter, r *http.Request) error {
	if err := s.manager.DisableForUser(r.Context(), requestUser(r), chi.URLParam(r, "providerId")); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// listTools
//
//	@Summary		List connector tools
//	@Description	Get the provider's tool catalog with the user's enabled flags
//	@Tags			connectors
//	@Produce		json
//	@Param			providerId	path		string	true	"Provider id"
//	@Success		200			{object}	providerToolsResponse
//	@Failure		404			{string}	string	"Provider not found"
//	@Router			/api/v1/connectors/{providerId}/tools [get]
func (s *ConnectorRoutes) listTools(w http.ResponseWriter, r *http.Request) error {
	tools, err := s.manager.UserProviderTools(r.Context(), requestUser(r), chi.URLParam(r, "providerId"))
	if err != nil {
		return err
	}
	return writeJSON(w, providerToolsResponse{Tools: tools})
}

// updateTools
//
//	@Summary		Update the enabled tool selection
//	@Description	Replace the user's enabled tool set for the provider
//	@Tags			connectors
//	@Accept			json
//	@Param			providerId	path		string				true	"Provider id"
//	@Param			request		body		updateToolsRequest	true	"Tool selection"
//	@Success		204			{string}	string				"No Content"
//	@Failure		400			{string}	string				"Unknown tool id"
//	@Failure		404			{string}	string				"Provider not found"
//	@Router			/api/v1/connectors/{providerId}/tools/update [post]
func (s *ConnectorRoutes) updateTools(w http.ResponseWriter, r *http.Request) error {
	var req updateToolsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return terrors.NewInvalidInputError("invalid request body", err)
	}

	err := s.manager.UpdateUserTools(r.Context(), requestUser(r), chi.URLParam(r, "providerId"), req.EnabledToolIDs)
	if err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// toggleChat
//
//	@Summary		Toggle chat visibility
//	@Description	Show or hide the connector's tools in agent chat without touching credentials
//	@Tags			connectors
//	@Accept			json
//	@Param			providerId	path		string				true	"Provider id"
//	@Param			request		body		toggleChatRequest	true	"Visibility flag"
//	@Success		204			{string}	string				"No Content"
//	@Failure		404			{string}	string				"Provider not found"
//	@Router			/api/v1/connectors/{providerId}/toggle-chat [post]
func (s *ConnectorRoutes) toggleChat(w http.ResponseWriter, r *http.Request) error {
	var req toggleChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return terrors.NewInvalidInputError("invalid request body", err)
	}

	err := s.manager.ToggleChat(r.Context(), requestUser(r), chi.URLParam(r, "providerId"), req.Enabled)
	if err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// registerCustomMCP
//
//	@Summary		Register a custom MCP connector
//	@Description	Register a user-scoped MCP server endpoint as a connector
//	@Tags			connectors
//	@Accept			json
//	@Produce		json
//	@Param			request	body		mcp.Record	true	"MCP server registration"
//	@Success		201		{object}	registerMCPResponse
//	@Failure		400		{string}	string	"Invalid registration"
//	@Router			/api/v1/connectors/custom-mcp [post]
func (s *ConnectorRoutes) registerCustomMCP(w http.ResponseWriter, r *http.Request) error {
	var rec mcp.Record
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		return terrors.NewInvalidInputError("invalid request body", err)
	}

	if err := s.manager.RegisterUserMCP(r.Context(), requestUser(r), &rec); err != nil {
		return err
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	resp := registerMCPResponse{ProviderID: rec.ProviderID, RedirectURI: rec.RedirectURI}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		return fmt.Errorf("failed to encode response: %w", err)
	}
	return nil
}

// Request and response types

type availableConnectorsResponse struct {
	// Static metadata for every registered system connector
	Connectors []connector.ConnectorMetadata `json:"connectors"`
}

type userConnectorsResponse struct {
	// Per-user connector projections in registration order
	Connectors []manager.ConnectorStatus `json:"connectors"`
}

type providerToolsResponse struct {
	// The provider's tool catalog with the user's enabled flags
	Tools []manager.ToolStatus `json:"tools"`
}

type refreshResponse struct {
	// Seconds until the refreshed access token expires. Zero when the
	// provider does not expire tokens.
	ExpiresInSeconds int64 `json:"expires_in_seconds"`
}

type updateToolsRequest struct {
	// Tool ids to enable. null restores the all-enabled default; an empty
	// list disables every tool.
	EnabledToolIDs []string `json:"enabled_tool_ids"`
}

type toggleChatRequest struct {
	Enabled bool `json:"enabled"`
}

type registerMCPResponse struct {
	ProviderID string `json:"provider_id"`
	// RedirectURI to register with the OAuth provider, including the
	// derived default when the registration left it empty.
	RedirectURI string `json:"redirect_uri,omitempty"`
}
