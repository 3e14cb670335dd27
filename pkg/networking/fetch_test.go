// SPDX-FileCopyrightText: Copyright 2025 Loopwork, Inc.
// SPDX-License-Identifier: Apache-2.0

package networking

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestFetchJSON(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		handler     http.HandlerFunc
		opts        []FetchOption
		wantData    *payload
		wantErr     string
		wantHTTPErr int
	}{
		{
			name: "happy path",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				fmt.Fprint(w, `{"name":"gmail_search","count":2}`)
			},
			wantData: &payload{Name: "gmail_search", Count: 2},
		},
		{
			name: "accepts 201",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusCreated)
				fmt.Fprint(w, `{"name":"created"}`)
			},
			wantData: &payload{Name: "created"},
		},
		{
			name: "non-2xx becomes HTTPError",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "nope", http.StatusBadGateway)
			},
			wantHTTPErr: http.StatusBadGateway,
		},
		{
			name: "wrong content type rejected",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "text/html")
				fmt.Fprint(w, `{"name":"sneaky"}`)
			},
			wantErr: "unexpected content type",
		},
		{
			name: "content type validation can be disabled",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "text/plain")
				fmt.Fprint(w, `{"name":"plain"}`)
			},
			opts:     []FetchOption{WithoutContentTypeValidation()},
			wantData: &payload{Name: "plain"},
		},
		{
			name: "malformed JSON rejected",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				fmt.Fprint(w, `{"name":`)
			},
			wantErr: "failed to parse JSON response",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			result, err := FetchJSON[payload](context.Background(), srv.Client(), srv.URL, tt.opts...)

			switch {
			case tt.wantHTTPErr != 0:
				require.Error(t, err)
				assert.True(t, IsHTTPError(err, tt.wantHTTPErr))
			case tt.wantErr != "":
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			default:
				require.NoError(t, err)
				assert.Equal(t, *tt.wantData, result.Data)
			}
		})
	}
}

func TestFetchJSONHeaders(t *testing.T) {
	t.Parallel()

	var gotAuth, gotAccept string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotAccept = r.Header.Get("Accept")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{}`)
	}))
	defer srv.Close()

	_, err := FetchJSON[payload](context.Background(), srv.Client(), srv.URL,
		WithBearerToken("tok-123"))
	require.NoError(t, err)

	assert.Equal(t, "Bearer tok-123", gotAuth)
	assert.Equal(t, "application/json", gotAccept)
}

func TestFetchJSONErrorHandler(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":"invalid_grant"}`)
	}))
	defer srv.Close()

	custom := errors.New("classified upstream failure")
	_, err := FetchJSON[payload](context.Background(), srv.Client(), srv.URL,
		WithErrorHandler(func(resp *http.Response, body []byte) error {
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Contains(t, string(body), "invalid_grant")
			return custom
		}))

	assert.ErrorIs(t, err, custom)
}

func TestFetchJSONWithForm(t *testing.T) {
	t.Parallel()

	var gotContentType, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotContentType = r.Header.Get("Content-Type")
		gotBody = r.PostForm.Encode()
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"name":"exchanged"}`)
	}))
	defer srv.Close()

	form := map[string][]string{
		"grant_type": {"authorization_code"},
		"code":       {"abc"},
	}
	result, err := FetchJSONWithForm[payload](context.Background(), srv.Client(), srv.URL, form)
	require.NoError(t, err)

	assert.Equal(t, ContentTypeFormURLEncoded, gotContentType)
	assert.Contains(t, gotBody, "grant_type=authorization_code")
	assert.Contains(t, gotBody, "code=abc")
	assert.Equal(t, "exchanged", result.Data.Name)
}

func TestHTTPErrorBodyPreviewTruncated(t *testing.T) {
	t.Parallel()

	big := make([]byte, DefaultErrorPreviewSize*2)
	for i := range big {
		big[i] = 'x'
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write(big)
	}))
	defer srv.Close()

	_, err := FetchJSON[payload](context.Background(), srv.Client(), srv.URL)
	require.Error(t, err)

	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Len(t, httpErr.Body, DefaultErrorPreviewSize)
	assert.Equal(t, http.StatusInternalServerError, httpErr.StatusCode)
}
