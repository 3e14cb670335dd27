// SPDX-FileCopyrightText: Copyright 2025 Loopwork, Inc.
// SPDX-License-Identifier: Apache-2.0

package mcp

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/oauth2-proxy/mockoidc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	terrors "github.com/loopwork/tether/pkg/errors"
)

func TestProtectedResourceURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		server string
		want   string
	}{
		{"https://mcp.example", "https://mcp.example/.well-known/oauth-protected-resource"},
		{"https://mcp.example/", "https://mcp.example/.well-known/oauth-protected-resource"},
		{"https://mcp.example/x", "https://mcp.example/.well-known/oauth-protected-resource/x"},
		{"https://mcp.example/a/b", "https://mcp.example/.well-known/oauth-protected-resource/a/b"},
	}
	for _, tc := range tests {
		got, err := protectedResourceURL(tc.server)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got)
	}
}

func TestAuthServerWellKnownURLs(t *testing.T) {
	t.Parallel()

	oauthURL, oidcURL, err := authServerWellKnownURLs("https://auth.example")
	require.NoError(t, err)
	assert.Equal(t, "https://auth.example/.well-known/oauth-authorization-server", oauthURL)
	assert.Equal(t, "https://auth.example/.well-known/openid-configuration", oidcURL)

	// A tenant path sits after the well-known segment in one scheme and
	// before it in the other.
	oauthURL, oidcURL, err = authServerWellKnownURLs("https://auth.example/tenant1")
	require.NoError(t, err)
	assert.Equal(t, "https://auth.example/.well-known/oauth-authorization-server/tenant1", oauthURL)
	assert.Equal(t, "https://auth.example/tenant1/.well-known/openid-configuration", oidcURL)

	_, _, err = authServerWellKnownURLs("ftp://auth.example")
	require.Error(t, err)
	assert.True(t, terrors.IsUpstream(err))
}

func TestDiscoverEndpoints(t *testing.T) {
	t.Parallel()

	var prHits, asHits atomic.Int32
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	serverURL := srv.URL + "/x"
	issuer := srv.URL + "/auth"

	mux.HandleFunc("/.well-known/oauth-protected-resource/x", func(w http.ResponseWriter, _ *http.Request) {
		prHits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"resource":%q,"authorization_servers":[%q],"scopes_supported":["tools.read"]}`, serverURL, issuer)
	})
	mux.HandleFunc("/.well-known/oauth-authorization-server/auth", func(w http.ResponseWriter, _ *http.Request) {
		asHits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"issuer":%q,"authorization_endpoint":"%s/authorize","token_endpoint":"%s/token","code_challenge_methods_supported":["S256"]}`,
			issuer, srv.URL, srv.URL)
	})

	meta, resource, err := discoverEndpoints(context.Background(), srv.Client(), serverURL)
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/authorize", meta.AuthorizationEndpoint)
	assert.Equal(t, srv.URL+"/token", meta.TokenEndpoint)
	assert.True(t, meta.supportsS256())
	assert.Equal(t, serverURL, resource.Resource)
	assert.Equal(t, []string{"tools.read"}, resource.ScopesSupported)
	assert.Equal(t, int32(1), prHits.Load())
	assert.Equal(t, int32(1), asHits.Load())
}

func TestDiscoverEndpointsFallsBackToOpenIDConfiguration(t *testing.T) {
	t.Parallel()

	// mockoidc publishes openid-configuration but not the RFC 8414
	// document, which is exactly the fallback case.
	m, err := mockoidc.Run()
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Shutdown() })

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	mux.HandleFunc("/.well-known/oauth-protected-resource", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"resource":%q,"authorization_servers":[%q]}`, srv.URL, m.Issuer())
	})

	meta, _, err := discoverEndpoints(context.Background(), srv.Client(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, m.AuthorizationEndpoint(), meta.AuthorizationEndpoint)
	assert.Equal(t, m.TokenEndpoint(), meta.TokenEndpoint)
}

func TestDiscoverEndpointsRetriesTransientFailures(t *testing.T) {
	t.Parallel()

	var prHits atomic.Int32
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	issuer := srv.URL + "/auth"
	mux.HandleFunc("/.well-known/oauth-protected-resource", func(w http.ResponseWriter, _ *http.Request) {
		if prHits.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"resource":%q,"authorization_servers":[%q]}`, srv.URL, issuer)
	})
	mux.HandleFunc("/.well-known/oauth-authorization-server/auth", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"issuer":%q,"authorization_endpoint":"%s/authorize","token_endpoint":"%s/token"}`,
			issuer, srv.URL, srv.URL)
	})

	meta, _, err := discoverEndpoints(context.Background(), srv.Client(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/token", meta.TokenEndpoint)
	assert.Equal(t, int32(2), prHits.Load())
}

func TestDiscoverEndpointsDoesNotRetryDefinitiveAnswers(t *testing.T) {
	t.Parallel()

	var prHits atomic.Int32
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	mux.HandleFunc("/.well-known/oauth-protected-resource", func(w http.ResponseWriter, _ *http.Request) {
		prHits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	})

	_, _, err := discoverEndpoints(context.Background(), srv.Client(), srv.URL)
	require.Error(t, err)
	assert.True(t, terrors.IsUpstream(err))
	assert.Equal(t, int32(1), prHits.Load())
}

func TestDiscoverEndpointsNoAuthorizationServers(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	mux.HandleFunc("/.well-known/oauth-protected-resource", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"resource":%q,"authorization_servers":[]}`, srv.URL)
	})

	_, _, err := discoverEndpoints(context.Background(), srv.Client(), srv.URL)
	require.Error(t, err)
	assert.True(t, terrors.IsUpstream(err))
	assert.Contains(t, err.Error(), "names no authorization servers")
}

func TestDiscoverEndpointsBothMetadataRoutesMissing(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	issuer := srv.URL + "/auth"
	mux.HandleFunc("/.well-known/oauth-protected-resource", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"resource":%q,"authorization_servers":[%q]}`, srv.URL, issuer)
	})

	_, _, err := discoverEndpoints(context.Background(), srv.Client(), srv.URL)
	require.Error(t, err)
	assert.True(t, terrors.IsUpstream(err))
	assert.Contains(t, err.Error(), "no authorization server metadata")
}

func TestDiscoverEndpointsRejectsIncompleteMetadata(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	issuer := srv.URL + "/auth"
	mux.HandleFunc("/.well-known/oauth-protected-resource", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"resource":%q,"authorization_servers":[%q]}`, srv.URL, issuer)
	})
	mux.HandleFunc("/.well-known/oauth-authorization-server/auth", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"issuer":%q,"authorization_endpoint":"%s/authorize"}`, issuer, srv.URL)
	})

	_, _, err := discoverEndpoints(context.Background(), srv.Client(), srv.URL)
	require.Error(t, err)
	assert.True(t, terrors.IsUpstream(err))
	assert.Contains(t, err.Error(), "token_endpoint")
}
