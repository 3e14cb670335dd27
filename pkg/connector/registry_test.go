// SPDX-FileCopyrightText: Copyright 2025 Loopwork, Inc.
// SPDX-License-Identifier: Apache-2.0

package connector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	terrors "github.com/loopwork/tether/pkg/errors"
)

// stubConnector satisfies Connector for registry tests; only Metadata is
// ever called.
type stubConnector struct {
	Connector
	id string
}

func (s *stubConnector) Metadata() ConnectorMetadata {
	return ConnectorMetadata{ProviderID: s.id}
}

func ids(cs []Connector) []string {
	out := make([]string, 0, len(cs))
	for _, c := range cs {
		out = append(out, c.Metadata().ProviderID)
	}
	return out
}

func TestRegistryRegistrationOrder(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	require.NoError(t, r.Register("gamma", &stubConnector{id: "gamma"}))
	require.NoError(t, r.Register("alpha", &stubConnector{id: "alpha"}))
	require.NoError(t, r.Register("beta", &stubConnector{id: "beta"}))

	assert.Equal(t, []string{"gamma", "alpha", "beta"}, ids(r.System()))

	// Re-registering replaces the connector but keeps its position.
	replacement := &stubConnector{id: "alpha"}
	require.NoError(t, r.Register("alpha", replacement))
	assert.Equal(t, []string{"gamma", "alpha", "beta"}, ids(r.System()))
	assert.Same(t, replacement, r.ForUser("u1", "alpha"))
}

func TestRegistryValidation(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	assert.True(t, terrors.IsInvalidInput(r.Register("", &stubConnector{id: "x"})))
	assert.True(t, terrors.IsInvalidInput(r.Register("x", nil)))
	assert.True(t, terrors.IsInvalidInput(r.RegisterUser("", "x", &stubConnector{id: "x"})))
	assert.True(t, terrors.IsInvalidInput(r.RegisterUser("u1", "", &stubConnector{id: "x"})))
}

func TestRegistryUserPrecedence(t *testing.T) {
	t.Parallel()

	system := &stubConnector{id: "github"}
	private := &stubConnector{id: "github"}

	r := NewRegistry()
	require.NoError(t, r.Register("github", system))
	require.NoError(t, r.RegisterUser("u1", "github", private))

	assert.Same(t, private, r.ForUser("u1", "github"))
	assert.Same(t, system, r.ForUser("u2", "github"))
	assert.Nil(t, r.ForUser("u1", "unknown"))
}

func TestRegistryVisibleTo(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	require.NoError(t, r.Register("github", &stubConnector{id: "github"}))
	require.NoError(t, r.Register("slack", &stubConnector{id: "slack"}))
	require.NoError(t, r.RegisterUser("u1", "internal-crm", &stubConnector{id: "internal-crm"}))

	assert.Equal(t, []string{"github", "slack", "internal-crm"}, ids(r.VisibleTo("u1")))
	assert.Equal(t, []string{"github", "slack"}, ids(r.VisibleTo("u2")))
	assert.Nil(t, r.User("u2"))
}

func TestRegistryUnregisterUser(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	require.NoError(t, r.RegisterUser("u1", "crm", &stubConnector{id: "crm"}))
	require.NoError(t, r.RegisterUser("u1", "wiki", &stubConnector{id: "wiki"}))
	require.True(t, r.HasUser("u1", "crm"))

	r.UnregisterUser("u1", "crm")
	assert.False(t, r.HasUser("u1", "crm"))
	assert.Equal(t, []string{"wiki"}, ids(r.User("u1")))

	// Removing the last connector prunes the user entry.
	r.UnregisterUser("u1", "wiki")
	assert.Nil(t, r.User("u1"))

	// Unknown pairs are a no-op.
	r.UnregisterUser("u1", "wiki")
	r.UnregisterUser("ghost", "crm")
}
