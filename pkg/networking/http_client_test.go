// SPDX-FileCopyrightText: Copyright 2025 Loopwork, Inc.
// SPDX-License-Identifier: Apache-2.0

package networking

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHttpClientBuilderDefaults(t *testing.T) {
	t.Parallel()

	client, err := NewHttpClientBuilder().Build()
	require.NoError(t, err)

	assert.Equal(t, HttpTimeout, client.Timeout)

	transport, ok := client.Transport.(*ValidatingTransport)
	require.True(t, ok, "transport should validate request URLs")
	assert.False(t, transport.AllowHTTP)
}

func TestHttpClientBuilderWithTimeout(t *testing.T) {
	t.Parallel()

	client, err := NewHttpClientBuilder().WithTimeout(3 * time.Second).Build()
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, client.Timeout)
}

func TestValidatingTransportRejectsPlainHTTP(t *testing.T) {
	t.Parallel()

	client, err := NewHttpClientBuilder().WithPrivateIPs(true).Build()
	require.NoError(t, err)

	// Non-localhost plain HTTP must be refused before any dial happens.
	//nolint:noctx // transport-level rejection is what we are testing
	resp, err := client.Get("http://198.51.100.7/token")
	if resp != nil {
		resp.Body.Close()
	}
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must use HTTPS")
}

func TestValidatingTransportAllowsLoopbackHTTP(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "ok")
	}))
	defer srv.Close()

	client, err := NewHttpClientBuilder().WithPrivateIPs(true).Build()
	require.NoError(t, err)

	//nolint:noctx // exercising the full client path
	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestProtectedDialerBlocksPrivateAddresses(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "ok")
	}))
	defer srv.Close()

	client, err := NewHttpClientBuilder().WithInsecureHTTP(true).Build()
	require.NoError(t, err)

	//nolint:noctx // exercising the dialer guard
	resp, err := client.Get(srv.URL)
	if resp != nil {
		resp.Body.Close()
	}
	require.Error(t, err)
	assert.Contains(t, err.Error(), "references a private IP")
}
