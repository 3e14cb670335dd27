// SPDX-FileCopyrightText: Copyright 2025 Loopwork, Inc.
// SPDX-License-Identifier: Apache-2.0

package networking

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateEndpointURLWithInsecure(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		endpoint string
		insecure bool
		wantErr  bool
	}{
		{name: "https accepted", endpoint: "https://api.example.com/mcp", wantErr: false},
		{name: "http to localhost accepted", endpoint: "http://localhost:8080/mcp", wantErr: false},
		{name: "http to 127.0.0.1 accepted", endpoint: "http://127.0.0.1:9000", wantErr: false},
		{name: "http to remote rejected", endpoint: "http://api.example.com/mcp", wantErr: true},
		{name: "http to remote with insecure accepted", endpoint: "http://api.example.com/mcp", insecure: true, wantErr: false},
		{name: "unsupported scheme rejected", endpoint: "ftp://example.com", wantErr: true},
		{name: "garbage rejected", endpoint: "://not-a-url", wantErr: true},
		{name: "empty rejected", endpoint: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := ValidateEndpointURLWithInsecure(tt.endpoint, tt.insecure)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestAddressReferencesPrivateIp(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		address string
		wantErr bool
	}{
		{name: "loopback", address: "127.0.0.1:443", wantErr: true},
		{name: "rfc1918 ten block", address: "10.1.2.3:8080", wantErr: true},
		{name: "rfc1918 192 block", address: "192.168.0.10:443", wantErr: true},
		{name: "link local", address: "169.254.10.10:80", wantErr: true},
		{name: "ipv6 loopback", address: "[::1]:443", wantErr: true},
		{name: "public address", address: "93.184.216.34:443", wantErr: false},
		{name: "missing port", address: "10.1.2.3", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := AddressReferencesPrivateIp(tt.address)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
