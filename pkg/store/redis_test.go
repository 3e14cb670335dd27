// SPDX-FileCopyrightText: Copyright 2025 Loopwork, Inc.
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	terrors "github.com/loopwork/tether/pkg/errors"
)

// newTestStore returns a RedisStore backed by miniredis, plus the miniredis
// handle for TTL manipulation and raw reads.
func newTestStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cipher, err := NewCipher("test-passphrase")
	require.NoError(t, err)

	return NewRedisStoreWithClient(client, cipher, ""), mr
}

func TestSetGetRoundTrip(t *testing.T) {
	t.Parallel()

	s, mr := newTestStore(t)
	ctx := context.Background()
	key := ConfigKey("u1", "google")

	require.NoError(t, s.Set(ctx, key, []byte(`{"enabled":true}`), "u1"))

	// Ciphertext on the wire, not plaintext.
	raw, err := mr.Get(key)
	require.NoError(t, err)
	assert.NotContains(t, raw, "enabled")

	got, err := s.Get(ctx, key, "u1")
	require.NoError(t, err)
	assert.Equal(t, `{"enabled":true}`, string(got))
}

func TestGetMissingKey(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)

	_, err := s.Get(context.Background(), ConfigKey("u1", "google"), "u1")
	require.Error(t, err)
	assert.True(t, terrors.IsNotFound(err))
}

func TestTenantIsolation(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	ctx := context.Background()
	key := ConfigKey("u1", "google")

	require.NoError(t, s.Set(ctx, key, []byte("secret"), "u1"))

	// Reading another tenant's record fails even with the right key name.
	_, err := s.Get(ctx, key, "u2")
	assert.Error(t, err)
	assert.False(t, terrors.IsNotFound(err))
}

func TestHashRoundTrip(t *testing.T) {
	t.Parallel()

	s, mr := newTestStore(t)
	ctx := context.Background()
	key := TokenKey("u1", "google")

	fields := map[string]string{
		"access_token":  "A",
		"refresh_token": "R",
		"expires_at":    "1756100000",
	}
	require.NoError(t, s.HSet(ctx, key, fields, "u1"))

	// Field values are sealed on the wire.
	rawAccess := mr.HGet(key, "access_token")
	assert.NotEqual(t, "A", rawAccess)

	got, err := s.HGetAll(ctx, key, "u1")
	require.NoError(t, err)
	assert.Equal(t, fields, got)

	// Wrong tenant cannot open the hash.
	_, err = s.HGetAll(ctx, key, "u2")
	assert.Error(t, err)
}

func TestHGetAllMissingKey(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)

	_, err := s.HGetAll(context.Background(), TokenKey("u1", "google"), "u1")
	require.Error(t, err)
	assert.True(t, terrors.IsNotFound(err))
}

func TestHSetPartialUpdate(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	ctx := context.Background()
	key := TokenKey("u1", "google")

	require.NoError(t, s.HSet(ctx, key, map[string]string{
		"access_token":  "A1",
		"refresh_token": "R1",
	}, "u1"))

	// Updating a subset leaves other fields intact.
	require.NoError(t, s.HSet(ctx, key, map[string]string{
		"access_token": "A2",
	}, "u1"))

	got, err := s.HGetAll(ctx, key, "u1")
	require.NoError(t, err)
	assert.Equal(t, "A2", got["access_token"])
	assert.Equal(t, "R1", got["refresh_token"])
}

func TestSetExTransientState(t *testing.T) {
	t.Parallel()

	s, mr := newTestStore(t)
	ctx := context.Background()
	key := StateKey("S1")
	value := []byte(`{"user_id":"u1","provider_id":"google"}`)

	require.NoError(t, s.SetEx(ctx, key, 600*time.Second, value))

	// Transient state is plain JSON on the wire.
	raw, err := mr.Get(key)
	require.NoError(t, err)
	assert.Equal(t, string(value), raw)

	// Empty userID reads it back without decryption.
	got, err := s.Get(ctx, key, "")
	require.NoError(t, err)
	assert.Equal(t, value, got)

	ttl := mr.TTL(key)
	assert.Equal(t, 600*time.Second, ttl)

	// Past the TTL the state is gone.
	mr.FastForward(601 * time.Second)
	_, err = s.Get(ctx, key, "")
	require.Error(t, err)
	assert.True(t, terrors.IsNotFound(err))
}

func TestSetExRejectsNonPositiveTTL(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)

	err := s.SetEx(context.Background(), StateKey("S1"), 0, []byte("{}"))
	require.Error(t, err)
	assert.True(t, terrors.IsInvalidInput(err))
}

func TestGetDelConsumesOnce(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	ctx := context.Background()
	key := StateKey("S1")
	value := []byte(`{"user_id":"u1"}`)

	require.NoError(t, s.SetEx(ctx, key, 600*time.Second, value))

	got, err := s.GetDel(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, value, got)

	// The read removed the key; a second consume loses.
	_, err = s.GetDel(ctx, key)
	require.Error(t, err)
	assert.True(t, terrors.IsNotFound(err))
}

func TestDeleteIsIdempotent(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	ctx := context.Background()
	key := ConfigKey("u1", "google")

	require.NoError(t, s.Set(ctx, key, []byte("x"), "u1"))
	require.NoError(t, s.Delete(ctx, key))
	require.NoError(t, s.Delete(ctx, key))

	_, err := s.Get(ctx, key, "u1")
	assert.True(t, terrors.IsNotFound(err))
}

func TestScanUserMCPKeys(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, UserMCPKey("u1", "internal-crm"), []byte("{}"), "u1"))
	require.NoError(t, s.Set(ctx, UserMCPKey("u1", "wiki"), []byte("{}"), "u1"))
	require.NoError(t, s.Set(ctx, UserMCPKey("u2", "other"), []byte("{}"), "u2"))
	require.NoError(t, s.Set(ctx, ConfigKey("u1", "google"), []byte("{}"), "u1"))

	keys, err := s.Scan(ctx, UserMCPPattern("u1"))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		UserMCPKey("u1", "internal-crm"),
		UserMCPKey("u1", "wiki"),
	}, keys)
}

func TestKeyPrefixApplied(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cipher, err := NewCipher("test-passphrase")
	require.NoError(t, err)
	s := NewRedisStoreWithClient(client, cipher, "tether:dev:")
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, ConfigKey("u1", "google"), []byte("x"), "u1"))
	assert.True(t, mr.Exists("tether:dev:"+ConfigKey("u1", "google")))

	// Scan strips the prefix on the way out.
	require.NoError(t, s.Set(ctx, UserMCPKey("u1", "crm"), []byte("{}"), "u1"))
	keys, err := s.Scan(ctx, UserMCPPattern("u1"))
	require.NoError(t, err)
	assert.Equal(t, []string{UserMCPKey("u1", "crm")}, keys)
}

func TestNewRedisStoreValidation(t *testing.T) {
	t.Parallel()

	cipher, err := NewCipher("test-passphrase")
	require.NoError(t, err)

	_, err = NewRedisStore(context.Background(), RedisConfig{}, cipher)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one redis address")

	mr := miniredis.RunT(t)
	_, err = NewRedisStore(context.Background(), RedisConfig{Addrs: []string{mr.Addr()}}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cipher is required")
}

func TestNewRedisStoreConnects(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	cipher, err := NewCipher("test-passphrase")
	require.NoError(t, err)

	s, err := NewRedisStore(context.Background(), RedisConfig{Addrs: []string{mr.Addr()}}, cipher)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	assert.NoError(t, s.Ping(context.Background()))
}
