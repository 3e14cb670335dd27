// SPDX-FileCopyrightText: Copyright 2025 Loopwork, Inc.
// SPDX-License-Identifier: Apache-2.0

package rest

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testNotion(t *testing.T, srv *httptest.Server) *Connector {
	t.Helper()

	c, err := NewNotion("client-123", "secret-456", "https://app.example.com/connectors/notion/callback",
		newRestStore(t),
		WithOAuthEndpoints("https://api.notion.example.com/authorize", srv.URL+"/token"),
		WithAPIBase(srv.URL),
		WithHTTPClient(srv.Client()),
	)
	require.NoError(t, err)
	return c
}

func TestNotionExchangeUsesBasicAuth(t *testing.T) {
	t.Parallel()

	var gotAuth string
	var gotForm url.Values
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotAuth = r.Header.Get("Authorization")
		gotForm = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"access_token": "secret-bearer",
			"workspace_id": "ws-1",
			"workspace_name": "Acme Docs",
			"bot_id": "bot-7"
		}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c := testNotion(t, srv)
	connect(t, c, "u1")

	want := "Basic " + base64.StdEncoding.EncodeToString([]byte("client-123:secret-456"))
	assert.Equal(t, want, gotAuth)
	assert.Empty(t, gotForm.Get("client_id"), "credentials must not leak into the body")
	assert.Empty(t, gotForm.Get("client_secret"))

	// The workspace granted during auth rides along on the token record.
	token, err := c.GetToken(context.Background(), "u1", false)
	require.NoError(t, err)
	require.NotNil(t, token)
	assert.Equal(t, "ws-1", token.AdditionalData["workspace_id"])
	assert.Equal(t, "Acme Docs", token.AdditionalData["workspace_name"])
}

func TestNotionAuthorizeURLOwnerParam(t *testing.T) {
	t.Parallel()

	c, err := NewNotion("id", "secret", "https://app.example.com/cb", newRestStore(t))
	require.NoError(t, err)

	req, err := c.BuildAuthURL(context.Background(), "u1")
	require.NoError(t, err)

	u, err := url.Parse(req.AuthorizationURL)
	require.NoError(t, err)
	assert.Equal(t, "user", u.Query().Get("owner"))
	assert.Empty(t, u.Query().Get("code_challenge"), "Notion does not support PKCE")
}

func TestNotionSearch(t *testing.T) {
	t.Parallel()

	srv := newProviderServer(t,
		`{"access_token":"tok-n","workspace_id":"ws-1"}`,
		func(mux *http.ServeMux) {
			mux.HandleFunc("/v1/search", func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, notionVersion, r.Header.Get("Notion-Version"))
				assert.Equal(t, "Bearer tok-n", r.Header.Get("Authorization"))

				var payload map[string]any
				require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
				assert.Equal(t, "roadmap", payload["query"])

				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`{"results": [
					{
						"object": "page",
						"id": "page-1",
						"properties": {
							"Name": {"type": "title", "title": [{"plain_text": "2026 Roadmap"}]}
						}
					},
					{
						"object": "database",
						"id": "db-1",
						"title": [{"plain_text": "Projects"}]
					},
					{
						"object": "page",
						"id": "page-2",
						"properties": {}
					}
				]}`))
			})
		})
	c := testNotion(t, srv)
	connect(t, c, "u1")

	out, err := c.ExecuteTool(context.Background(), "u1", "notion_search", map[string]any{"query": "roadmap"})
	require.NoError(t, err)
	assert.Contains(t, out, `page "2026 Roadmap" (id page-1)`)
	assert.Contains(t, out, `database "Projects" (id db-1)`)
	assert.Contains(t, out, `page "(untitled)" (id page-2)`)
}

func TestNotionCreatePage(t *testing.T) {
	t.Parallel()

	srv := newProviderServer(t,
		`{"access_token":"tok-n"}`,
		func(mux *http.ServeMux) {
			mux.HandleFunc("/v1/pages", func(w http.ResponseWriter, r *http.Request) {
				var payload map[string]any
				require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))

				parent, _ := payload["parent"].(map[string]any)
				assert.Equal(t, "parent-9", parent["page_id"])
				assert.Contains(t, payload, "children", "content paragraph expected")

				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`{"id":"new-page","url":"https://notion.so/new-page"}`))
			})
		})
	c := testNotion(t, srv)
	connect(t, c, "u1")

	out, err := c.ExecuteTool(context.Background(), "u1", "notion_create_page", map[string]any{
		"parent_page_id": "parent-9",
		"title":          "Retro notes",
		"content":        "What went well.",
	})
	require.NoError(t, err)
	assert.Equal(t, "created page new-page: https://notion.so/new-page", out)
}
