// SPDX-FileCopyrightText: Copyright 2025 Loopwork, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package store provides the encrypted, per-tenant credential store backing
// the connector runtime. Persistent records (tokens, connector configs,
// user-registered MCP endpoints) are encrypted at rest with AES-256-GCM and
// bound to the owning user; transient OAuth state is stored as plain JSON
// with a short TTL.
package store

import (
	"context"
	"fmt"
	"time"
)

// Default timeouts for Redis operations.
const (
	DefaultDialTimeout  = 5 * time.Second
	DefaultReadTimeout  = 3 * time.Second
	DefaultWriteTimeout = 3 * time.Second
)

// Store is the per-tenant key-value interface consumed by connectors and the
// manager. Values written with a non-empty userID are encrypted and bound to
// that user: reading them back under a different userID fails
// authentication. An empty userID bypasses encryption entirely and is
// reserved for the transient, lower-sensitivity OAuth state namespace.
type Store interface {
	// Get returns the value at key, decrypted for userID.
	// Missing keys return a not-found error.
	Get(ctx context.Context, key, userID string) ([]byte, error)

	// Set writes value at key, encrypted for userID. No expiry.
	Set(ctx context.Context, key string, value []byte, userID string) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// HSet writes a hash of field/value pairs at key, each value encrypted
	// for userID.
	HSet(ctx context.Context, key string, fields map[string]string, userID string) error

	// HGetAll returns all hash fields at key, values decrypted for userID.
	// Missing keys return a not-found error.
	HGetAll(ctx context.Context, key, userID string) (map[string]string, error)

	// SetEx writes a plaintext value at key with the given TTL. Used for
	// transient OAuth state only.
	SetEx(ctx context.Context, key string, ttl time.Duration, value []byte) error

	// GetDel atomically returns and removes the plaintext value at key.
	// Missing keys return a not-found error; concurrent callers see exactly
	// one winner. Used to consume transient OAuth state.
	GetDel(ctx context.Context, key string) ([]byte, error)

	// Scan returns all keys matching the glob pattern.
	Scan(ctx context.Context, pattern string) ([]string, error)

	// Ping checks backend connectivity (health check).
	Ping(ctx context.Context) error

	// Close releases the underlying connection.
	Close() error
}

// Key conventions. Every persistent record lives under the owning user's
// namespace; transient OAuth state lives under oauth:state:.

// TokenKey is the hash holding a user's OAuth token for a provider.
func TokenKey(userID, providerID string) string {
	return fmt.Sprintf("user:%s:connector:%s:token", userID, providerID)
}

// ConfigKey is the JSON record holding a user's connector configuration.
func ConfigKey(userID, providerID string) string {
	return fmt.Sprintf("user:%s:connector:%s:config", userID, providerID)
}

// UserMCPKey is the JSON record holding a user-registered MCP endpoint.
func UserMCPKey(userID, providerID string) string {
	return fmt.Sprintf("user:%s:custom_mcp:%s", userID, providerID)
}

// UserMCPPattern matches all MCP endpoints registered by a user.
func UserMCPPattern(userID string) string {
	return fmt.Sprintf("user:%s:custom_mcp:*", userID)
}

// StateKey is the transient OAuth state record for an authorization flow.
func StateKey(state string) string {
	return fmt.Sprintf("oauth:state:%s", state)
}
