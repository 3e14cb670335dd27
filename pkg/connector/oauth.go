// SPDX-FileCopyrightText: Copyright 2025 Loopwork, Inc.
// SPDX-License-Identifier: Apache-2.0

package connector

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	terrors "github.com/loopwork/tether/pkg/errors"
	"github.com/loopwork/tether/pkg/logger"
	"github.com/loopwork/tether/pkg/networking"
	"github.com/loopwork/tether/pkg/store"
)

const (
	// verifierBytes is the entropy of the PKCE code verifier (RFC 7636
	// allows 43-128 chars; 48 bytes encode to 64).
	verifierBytes = 48
	// stateBytes is the entropy of the transient state key (≥256 bits).
	stateBytes = 32
)

// tokenResponse is the provider's token endpoint reply for both the code
// exchange and the refresh grant.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	Scope        string `json:"scope"`
	IDToken      string `json:"id_token"`
}

// oauthErrorBody is the RFC 6749 error shape providers return on 4xx.
type oauthErrorBody struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func randomURLSafe(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func challengeS256(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// BuildAuthURL implements Connector. It generates PKCE material, stores the
// transient state record and composes the provider authorize URL.
func (b *Base) BuildAuthURL(ctx context.Context, userID string) (*AuthRequest, error) {
	if userID == "" {
		return nil, terrors.NewInvalidInputError("user id is required", nil)
	}
	if b.cfg.GrantType == GrantClientCredentials {
		return nil, terrors.NewInvalidInputError(
			fmt.Sprintf("provider %s uses the client_credentials grant and has no authorization flow", b.cfg.ProviderID), nil)
	}
	if b.cfg.AuthorizeURL == "" || b.cfg.TokenURL == "" {
		return nil, terrors.NewConfigError(
			fmt.Sprintf("provider %s has no OAuth endpoints configured", b.cfg.ProviderID), nil)
	}

	state, err := randomURLSafe(stateBytes)
	if err != nil {
		return nil, err
	}

	pending := PendingOAuth{
		UserID:     userID,
		ProviderID: b.cfg.ProviderID,
		CreatedAt:  time.Now().Unix(),
	}

	var challenge string
	if b.cfg.UsePKCE {
		verifier, err := randomURLSafe(verifierBytes)
		if err != nil {
			return nil, err
		}
		pending.CodeVerifier = verifier
		challenge = challengeS256(verifier)
	}

	data, err := json.Marshal(pending)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal transient state: %w", err)
	}
	if err := b.store.SetEx(ctx, store.StateKey(state), StateTTL, data); err != nil {
		return nil, err
	}

	u, err := url.Parse(b.cfg.AuthorizeURL)
	if err != nil {
		return nil, terrors.NewConfigError("invalid authorize url", err)
	}
	q := u.Query()
	q.Set("client_id", b.cfg.ClientID)
	q.Set("redirect_uri", b.cfg.RedirectURI)
	q.Set("response_type", "code")
	if len(b.cfg.Scopes) > 0 {
		q.Set("scope", strings.Join(b.cfg.Scopes, " "))
	}
	q.Set("state", state)
	if b.cfg.UsePKCE {
		q.Set("code_challenge", challenge)
		q.Set("code_challenge_method", "S256")
	}
	for k, v := range b.cfg.AdditionalParams {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()

	logger.Debugw("authorization flow started",
		"provider_id", b.cfg.ProviderID, "user_id", userID)

	return &AuthRequest{
		AuthorizationURL: u.String(),
		State:            state,
		ProviderID:       b.cfg.ProviderID,
	}, nil
}

// HandleCallback implements Connector. The transient state is consumed
// exactly once: a replayed callback fails with an invalid-state error. A
// user mismatch leaves the state in place so the legitimate owner can still
// complete the flow.
func (b *Base) HandleCallback(ctx context.Context, userID, code, state string) (*UserOAuthToken, error) {
	if code == "" || state == "" {
		return nil, terrors.NewInvalidInputError("code and state are required", nil)
	}

	data, err := b.store.Get(ctx, store.StateKey(state), "")
	if err != nil {
		if terrors.IsNotFound(err) {
			return nil, terrors.NewInvalidStateError("authorization state not found or expired", err)
		}
		return nil, err
	}

	var pending PendingOAuth
	if err := json.Unmarshal(data, &pending); err != nil {
		return nil, terrors.NewInvalidStateError("damaged authorization state", err)
	}
	if pending.UserID != userID {
		return nil, terrors.NewStateUserMismatchError("authorization state belongs to a different user")
	}
	if pending.ProviderID != b.cfg.ProviderID {
		return nil, terrors.NewInvalidStateError("authorization state belongs to a different provider", nil)
	}

	// One-shot: consume before the exchange. GETDEL picks exactly one winner
	// when callbacks race, so a replay fails here.
	if _, err := b.store.GetDel(ctx, store.StateKey(state)); err != nil {
		if terrors.IsNotFound(err) {
			return nil, terrors.NewInvalidStateError("authorization state already consumed", err)
		}
		return nil, err
	}

	resp, extra, err := b.exchangeCode(ctx, code, pending.CodeVerifier)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	token := &UserOAuthToken{
		UserID:       userID,
		ProviderID:   b.cfg.ProviderID,
		AccessToken:  resp.AccessToken,
		TokenType:    resp.TokenType,
		RefreshToken: resp.RefreshToken,
		Scope:        resp.Scope,
		IDToken:      resp.IDToken,
		CreatedAt:    now,
	}
	if token.TokenType == "" {
		token.TokenType = "Bearer"
	}
	if resp.ExpiresIn > 0 {
		token.ExpiresAt = now.Add(time.Duration(resp.ExpiresIn) * time.Second)
	}
	if b.cfg.RotatingRefresh {
		token.AdditionalData = map[string]any{dataRotatingRefresh: true}
	}
	for _, field := range b.cfg.TokenExtraFields {
		v, ok := extra[field]
		if !ok {
			continue
		}
		if token.AdditionalData == nil {
			token.AdditionalData = map[string]any{}
		}
		token.AdditionalData[field] = v
	}

	if token.RefreshToken == "" && b.cfg.expectsRefreshToken() {
		logger.Warnw("token exchange returned no refresh token despite offline scope",
			"provider_id", b.cfg.ProviderID, "user_id", userID)
	}

	if err := b.saveToken(ctx, token); err != nil {
		return nil, err
	}
	if err := b.activateConfig(ctx, userID); err != nil {
		return nil, err
	}

	logger.Infow("connector authorized",
		"provider_id", b.cfg.ProviderID, "user_id", userID,
		"has_refresh_token", token.RefreshToken != "")

	return token, nil
}

// exchangeCode swaps the authorization code for a token. The raw response
// map is returned alongside the typed view so providers that piggyback
// extra fields on the exchange (TokenExtraFields) can be harvested.
func (b *Base) exchangeCode(ctx context.Context, code, verifier string) (*tokenResponse, map[string]any, error) {
	form := url.Values{}
	form.Set("grant_type", GrantAuthorizationCode)
	form.Set("code", code)
	form.Set("redirect_uri", b.cfg.RedirectURI)
	if b.cfg.UsePKCE && verifier != "" {
		form.Set("code_verifier", verifier)
	}

	opts := b.clientAuthOptions(form)
	opts = append(opts, networking.WithErrorHandler(func(resp *http.Response, body []byte) error {
		return upstreamOAuthError("token exchange", resp.StatusCode, body)
	}))

	result, err := networking.FetchJSONWithForm[map[string]any](ctx, b.client, b.cfg.TokenURL, form, opts...)
	if err != nil {
		if terrors.IsUpstream(err) {
			return nil, nil, err
		}
		return nil, nil, terrors.NewUpstreamError("token exchange failed", err)
	}

	raw := result.Data
	resp := &tokenResponse{
		AccessToken:  jsonString(raw, "access_token"),
		TokenType:    jsonString(raw, "token_type"),
		RefreshToken: jsonString(raw, "refresh_token"),
		ExpiresIn:    jsonInt64(raw, "expires_in"),
		Scope:        jsonString(raw, "scope"),
		IDToken:      jsonString(raw, "id_token"),
	}
	if resp.AccessToken == "" {
		return nil, nil, terrors.NewUpstreamError("token exchange returned no access token", nil)
	}
	return resp, raw, nil
}

func jsonString(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

// jsonInt64 tolerates the string-typed expires_in some providers return.
func jsonInt64(m map[string]any, key string) int64 {
	switch v := m[key].(type) {
	case float64:
		return int64(v)
	case string:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	}
	return 0
}

// clientAuthOptions places the client credentials where the provider wants
// them: form fields by default, an HTTP Basic header for providers that
// reject body credentials.
func (b *Base) clientAuthOptions(form url.Values) []networking.FetchOption {
	if b.cfg.AuthMethod == AuthMethodBasic {
		cred := base64.StdEncoding.EncodeToString([]byte(b.cfg.ClientID + ":" + b.cfg.ClientSecret))
		return []networking.FetchOption{networking.WithHeader("Authorization", "Basic "+cred)}
	}
	form.Set("client_id", b.cfg.ClientID)
	if b.cfg.ClientSecret != "" {
		form.Set("client_secret", b.cfg.ClientSecret)
	}
	return nil
}

// upstreamOAuthError shapes a non-2xx token endpoint reply into a typed
// error. RFC 6749 error codes that mean "this refresh token is dead" are
// classified as needs-reauth; everything else stays a retryable upstream
// error.
func upstreamOAuthError(op string, status int, body []byte) error {
	var oe oauthErrorBody
	_ = json.Unmarshal(body, &oe)

	detail := oe.Error
	if oe.ErrorDescription != "" {
		detail = fmt.Sprintf("%s: %s", oe.Error, oe.ErrorDescription)
	}
	if detail == "" {
		detail = string(body)
	}

	switch oe.Error {
	case "invalid_grant", "unauthorized_client", "invalid_token":
		return terrors.NewNeedsReauthError(
			fmt.Sprintf("%s rejected (HTTP %d): %s", op, status, detail), nil)
	}
	return terrors.NewUpstreamError(
		fmt.Sprintf("%s failed (HTTP %d): %s", op, status, detail), nil)
}

// GetToken implements Connector. See the interface doc for the autoRefresh
// contract.
func (b *Base) GetToken(ctx context.Context, userID string, autoRefresh bool) (*UserOAuthToken, error) {
	token, err := b.loadToken(ctx, userID)
	if err != nil {
		return nil, err
	}

	if b.cfg.GrantType == GrantClientCredentials {
		if token == nil || token.IsExpired() {
			return b.mintClientCredentials(ctx, userID)
		}
		return token, nil
	}

	if token == nil {
		return nil, nil
	}
	if !autoRefresh || !token.NeedsRefresh() || token.RefreshInvalid() {
		return token, nil
	}

	refreshed, err := b.RefreshToken(ctx, userID)
	if err != nil {
		logger.Warnw("auto-refresh failed",
			"provider_id", b.cfg.ProviderID, "user_id", userID, "error", err)
		// The prior token keeps serving until it actually expires.
		if !token.IsExpired() {
			return token, nil
		}
		return nil, nil
	}
	return refreshed, nil
}

// RefreshToken implements Connector. Concurrent refreshes for the same user
// share one upstream call; rotating providers would otherwise invalidate the
// loser.
func (b *Base) RefreshToken(ctx context.Context, userID string) (*UserOAuthToken, error) {
	result, err, _ := b.refresh.Do(b.tokenTenant(userID), func() (any, error) {
		return b.doRefresh(ctx, userID)
	})
	if err != nil {
		return nil, err
	}
	return result.(*UserOAuthToken), nil
}

func (b *Base) doRefresh(ctx context.Context, userID string) (*UserOAuthToken, error) {
	// Never recurse into the auto-refresh path.
	token, err := b.GetToken(ctx, userID, false)
	if err != nil {
		return nil, err
	}
	if token == nil {
		return nil, terrors.NewNotAuthenticatedError(
			fmt.Sprintf("no token stored for provider %s", b.cfg.ProviderID), nil)
	}
	if b.cfg.GrantType == GrantClientCredentials {
		return b.mintClientCredentials(ctx, userID)
	}
	if token.RefreshInvalid() {
		return nil, terrors.NewNeedsReauthError(
			"refresh token was rejected previously; user must re-authenticate", nil)
	}
	if token.RefreshToken == "" {
		return nil, terrors.NewNeedsReauthError("token has no refresh token", nil)
	}

	form := url.Values{}
	form.Set("grant_type", GrantRefreshToken)
	form.Set("refresh_token", token.RefreshToken)

	opts := b.clientAuthOptions(form)
	opts = append(opts, networking.WithErrorHandler(func(resp *http.Response, body []byte) error {
		return upstreamOAuthError("token refresh", resp.StatusCode, body)
	}))

	result, err := networking.FetchJSONWithForm[tokenResponse](ctx, b.client, b.cfg.TokenURL, form, opts...)
	if err != nil {
		if terrors.IsNeedsReauth(err) {
			// Terminal: keep the record for UI metadata, suppress further
			// auto-refresh until the user re-authenticates.
			token.MarkRefreshInvalid()
			if saveErr := b.saveToken(ctx, token); saveErr != nil {
				logger.Errorw("failed to persist refresh-invalid marker",
					"provider_id", b.cfg.ProviderID, "user_id", userID, "error", saveErr)
			}
			return nil, err
		}
		if terrors.IsUpstream(err) {
			return nil, err
		}
		return nil, terrors.NewUpstreamError("token refresh failed", err)
	}

	resp := result.Data
	if resp.AccessToken == "" {
		return nil, terrors.NewUpstreamError("token refresh returned no access token", nil)
	}

	now := time.Now()
	updated := *token
	updated.AccessToken = resp.AccessToken
	updated.LastRefreshed = now
	updated.ExpiresAt = time.Time{}
	if resp.ExpiresIn > 0 {
		updated.ExpiresAt = now.Add(time.Duration(resp.ExpiresIn) * time.Second)
	}
	if resp.TokenType != "" {
		updated.TokenType = resp.TokenType
	}
	if resp.Scope != "" {
		updated.Scope = resp.Scope
	}
	if resp.IDToken != "" {
		updated.IDToken = resp.IDToken
	}

	rotating := b.cfg.RotatingRefresh || token.RotatingRefresh()
	switch {
	case resp.RefreshToken != "":
		// Rotation: the old refresh token must never be used again. The
		// full-record write below discards it atomically with the new
		// access token.
		updated.RefreshToken = resp.RefreshToken
	case rotating:
		token.MarkRefreshInvalid()
		if saveErr := b.saveToken(ctx, token); saveErr != nil {
			logger.Errorw("failed to persist refresh-invalid marker",
				"provider_id", b.cfg.ProviderID, "user_id", userID, "error", saveErr)
		}
		return nil, terrors.NewNeedsReauthError(
			"rotating-refresh provider returned no new refresh token", nil)
	}

	// A successful refresh clears any stale terminal markers.
	if updated.AdditionalData != nil {
		cloned := make(map[string]any, len(updated.AdditionalData))
		for k, v := range updated.AdditionalData {
			cloned[k] = v
		}
		delete(cloned, dataRefreshInvalid)
		delete(cloned, dataNeedsReauth)
		updated.AdditionalData = cloned
	}

	if err := b.saveToken(ctx, &updated); err != nil {
		return nil, err
	}

	logger.Infow("token refreshed",
		"provider_id", b.cfg.ProviderID, "user_id", userID,
		"rotated", resp.RefreshToken != "")

	return &updated, nil
}

// mintClientCredentials obtains a fresh machine token for providers on the
// client_credentials grant. These tokens carry no refresh token; expiry is
// handled by minting again.
func (b *Base) mintClientCredentials(ctx context.Context, userID string) (*UserOAuthToken, error) {
	cc := &clientcredentials.Config{
		ClientID:     b.cfg.ClientID,
		ClientSecret: b.cfg.ClientSecret,
		TokenURL:     b.cfg.TokenURL,
		Scopes:       b.cfg.Scopes,
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	if b.cfg.AuthMethod == AuthMethodBasic {
		cc.AuthStyle = oauth2.AuthStyleInHeader
	}
	if len(b.cfg.AdditionalParams) > 0 {
		cc.EndpointParams = url.Values{}
		for k, v := range b.cfg.AdditionalParams {
			cc.EndpointParams.Set(k, v)
		}
	}
	if hc, ok := b.client.(*http.Client); ok {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, hc)
	}

	tok, err := cc.Token(ctx)
	if err != nil {
		return nil, terrors.NewUpstreamError(
			fmt.Sprintf("client credentials grant failed for provider %s", b.cfg.ProviderID), err)
	}

	now := time.Now()
	token := &UserOAuthToken{
		UserID:      userID,
		ProviderID:  b.cfg.ProviderID,
		AccessToken: tok.AccessToken,
		TokenType:   tok.TokenType,
		ExpiresAt:   tok.Expiry,
		CreatedAt:   now,
	}
	if token.TokenType == "" {
		token.TokenType = "Bearer"
	}
	if err := b.saveToken(ctx, token); err != nil {
		return nil, err
	}
	return token, nil
}

// Revoke implements Connector. The provider call is best effort; the stored
// record is always deleted afterwards.
func (b *Base) Revoke(ctx context.Context, userID string) error {
	token, err := b.loadToken(ctx, userID)
	if err != nil {
		logger.Warnw("failed to load token for revocation",
			"provider_id", b.cfg.ProviderID, "user_id", userID, "error", err)
	}

	if token != nil && b.cfg.RevokeURL != "" {
		b.revokeUpstream(ctx, token)
	}

	return b.store.Delete(ctx, store.TokenKey(b.tokenTenant(userID), b.cfg.ProviderID))
}

func (b *Base) revokeUpstream(ctx context.Context, token *UserOAuthToken) {
	form := url.Values{}
	form.Set("token", token.AccessToken)
	form.Set("token_type_hint", "access_token")
	form.Set("client_id", b.cfg.ClientID)
	if b.cfg.ClientSecret != "" {
		form.Set("client_secret", b.cfg.ClientSecret)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.cfg.RevokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		logger.Warnw("failed to build revocation request",
			"provider_id", b.cfg.ProviderID, "error", err)
		return
	}
	req.Header.Set("Content-Type", networking.ContentTypeFormURLEncoded)

	resp, err := b.client.Do(req)
	if err != nil {
		logger.Warnw("token revocation failed",
			"provider_id", b.cfg.ProviderID, "error", err)
		return
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		logger.Warnw("provider rejected token revocation",
			"provider_id", b.cfg.ProviderID, "status", resp.StatusCode)
	}
}

// UserInfo implements Connector.
func (b *Base) UserInfo(ctx context.Context, userID string) (map[string]any, error) {
	if b.cfg.UserInfoURL == "" {
		return nil, terrors.NewConfigError(
			fmt.Sprintf("provider %s has no userinfo endpoint", b.cfg.ProviderID), nil)
	}
	token, err := b.GetToken(ctx, userID, true)
	if err != nil {
		return nil, err
	}
	if token == nil {
		return nil, terrors.NewNotAuthenticatedError(
			fmt.Sprintf("not authenticated with provider %s", b.cfg.ProviderID), nil)
	}

	result, err := networking.FetchJSON[map[string]any](ctx, b.client, b.cfg.UserInfoURL,
		networking.WithBearerToken(token.AccessToken))
	if err != nil {
		if terrors.IsUpstream(err) {
			return nil, err
		}
		return nil, terrors.NewUpstreamError("userinfo request failed", err)
	}
	return result.Data, nil
}
