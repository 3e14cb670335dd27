// SPDX-FileCopyrightText: Copyright 2025 Loopwork, Inc.
// SPDX-License-Identifier: Apache-2.0

package mcp

import (
	"fmt"
	"strings"

	terrors "github.com/loopwork/tether/pkg/errors"
)

// TransportType selects how the adapter reaches a remote MCP server.
type TransportType string

const (
	// TransportSSE routes invocations through the server's /execute endpoint.
	TransportSSE TransportType = "sse"

	// TransportStreamableHTTP routes invocations through /mcp/v1/invoke.
	// It is the internal name for http and its spelling variants.
	TransportStreamableHTTP TransportType = "streamable_http"
)

// String returns the string representation of the transport type.
func (t TransportType) String() string {
	return string(t)
}

// ParseTransportType normalizes the accepted transport spellings: http,
// streamable-http and streamable_http all route as streamable_http, and an
// empty value defaults to it. stdio is a local process transport with no
// remote endpoint to connect to, so it is rejected here, as is anything
// unrecognized.
func ParseTransportType(s string) (TransportType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "http", "streamable-http", "streamable_http":
		return TransportStreamableHTTP, nil
	case "sse":
		return TransportSSE, nil
	case "stdio":
		return "", terrors.NewError(terrors.ErrUnsupportedTransport,
			"transport \"stdio\" is local-only and cannot reach a remote server", nil)
	default:
		return "", terrors.NewUnsupportedTransportError(s)
	}
}

// invokePath returns the invocation endpoint path for the transport.
func (t TransportType) invokePath() string {
	if t == TransportSSE {
		return "/execute"
	}
	return "/mcp/v1/invoke"
}

// joinPath appends an endpoint path to the server base URL.
func joinPath(base, endpoint string) string {
	return fmt.Sprintf("%s%s", strings.TrimSuffix(base, "/"), endpoint)
}
