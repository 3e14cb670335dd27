// SPDX-FileCopyrightText: Copyright 2025 Loopwork, Inc.
// SPDX-License-Identifier: Apache-2.0

package rest

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loopwork/tether/pkg/logger"
)

func TestGoogleAuthorizeURLQuirks(t *testing.T) {
	t.Parallel()

	c, err := NewGoogle("client-123", "secret-456", "https://app.example.com/cb", newRestStore(t))
	require.NoError(t, err)

	req, err := c.BuildAuthURL(context.Background(), "u1")
	require.NoError(t, err)

	u, err := url.Parse(req.AuthorizationURL)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "offline", q.Get("access_type"), "refresh token requires the offline grant")
	assert.Equal(t, "consent", q.Get("prompt"), "silent re-auth drops the refresh token")
	assert.NotEmpty(t, q.Get("code_challenge"))
}

func TestGmailSearch(t *testing.T) {
	t.Parallel()

	srv := newProviderServer(t,
		`{"access_token":"tok-1","refresh_token":"R","expires_in":3600}`,
		func(mux *http.ServeMux) {
			mux.HandleFunc("/gmail/v1/users/me/messages", func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
				assert.Equal(t, "is:unread", r.URL.Query().Get("q"))
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`{"messages":[{"id":"m1","threadId":"t1"}],"resultSizeEstimate":1}`))
			})
			mux.HandleFunc("/gmail/v1/users/me/messages/m1", func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "metadata", r.URL.Query().Get("format"))
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`{
					"id": "m1",
					"snippet": "Agenda attached for tomorrow.",
					"payload": {"headers": [
						{"name": "From", "value": "alice@example.com"},
						{"name": "Subject", "value": "Weekly sync"},
						{"name": "Date", "value": "Mon, 24 Aug 2026 09:00:00 +0000"}
					]}
				}`))
			})
		})
	c := testGoogle(t, srv)
	connect(t, c, "u1")

	out, err := c.ExecuteTool(context.Background(), "u1", "gmail_search", map[string]any{"query": "is:unread"})
	require.NoError(t, err)
	assert.Contains(t, out, "From: alice@example.com")
	assert.Contains(t, out, "Subject: Weekly sync")
	assert.Contains(t, out, "Agenda attached")
}

func TestGmailSendEncodesMessage(t *testing.T) {
	t.Parallel()

	var raw string
	srv := newProviderServer(t,
		`{"access_token":"tok-1","refresh_token":"R","expires_in":3600}`,
		func(mux *http.ServeMux) {
			mux.HandleFunc("/gmail/v1/users/me/messages/send", func(w http.ResponseWriter, r *http.Request) {
				var payload map[string]string
				require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
				raw = payload["raw"]
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`{"id":"sent-1","threadId":"t9"}`))
			})
		})
	c := testGoogle(t, srv)
	connect(t, c, "u1")

	out, err := c.ExecuteTool(context.Background(), "u1", "gmail_send", map[string]any{
		"to":      "bob@example.com",
		"subject": "Deploy window",
		"body":    "Shipping at 14:00 UTC.",
	})
	require.NoError(t, err)
	assert.Equal(t, "message sent (id sent-1)", out)

	decoded, err := base64.URLEncoding.DecodeString(raw)
	require.NoError(t, err)
	assert.Contains(t, string(decoded), "To: bob@example.com")
	assert.Contains(t, string(decoded), "Subject: Deploy window")
	assert.Contains(t, string(decoded), "Shipping at 14:00 UTC.")
}

func TestDriveSearchQuotesQuery(t *testing.T) {
	t.Parallel()

	srv := newProviderServer(t,
		`{"access_token":"tok-1","refresh_token":"R","expires_in":3600}`,
		func(mux *http.ServeMux) {
			mux.HandleFunc("/drive/v3/files", func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, `name contains 'q3 \'draft\'' and trashed = false`, r.URL.Query().Get("q"))
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`{"files":[{"id":"f1","name":"q3 'draft' plan","mimeType":"application/vnd.google-apps.document","modifiedTime":"2026-08-20T10:00:00Z","webViewLink":"https://docs.google.com/d/f1"}]}`))
			})
		})
	c := testGoogle(t, srv)
	connect(t, c, "u1")

	out, err := c.ExecuteTool(context.Background(), "u1", "drive_search", map[string]any{"query": "q3 'draft'"})
	require.NoError(t, err)
	assert.Contains(t, out, "q3 'draft' plan")
	assert.Contains(t, out, "https://docs.google.com/d/f1")
}

// syncBuffer makes a bytes.Buffer safe for the concurrent writes parallel
// tests produce through the singleton logger.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestGoogleCallbackWithoutRefreshTokenWarns(t *testing.T) {
	buf := &syncBuffer{}
	prev := logger.Get()
	logger.Set(slog.New(slog.NewTextHandler(buf, nil)))
	t.Cleanup(func() { logger.Set(prev) })

	srv := newProviderServer(t, `{"access_token":"tok-1","expires_in":3600}`, nil)
	c := testGoogle(t, srv)
	connect(t, c, "u1")

	assert.Contains(t, buf.String(), "no refresh token despite offline scope")

	token, err := c.GetToken(context.Background(), "u1", false)
	require.NoError(t, err)
	require.NotNil(t, token)
	assert.Empty(t, token.RefreshToken)
	assert.Equal(t, "tok-1", token.AccessToken)
}
