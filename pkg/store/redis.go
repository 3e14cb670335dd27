// SPDX-FileCopyrightText: Copyright 2025 Loopwork, Inc.
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	terrors "github.com/loopwork/tether/pkg/errors"
)

// RedisConfig holds Redis connection configuration for runtime use.
type RedisConfig struct {
	// Addrs is one address for a standalone server, or the sentinel
	// addresses when MasterName is set.
	Addrs []string

	// MasterName enables Sentinel failover mode when non-empty.
	MasterName string

	// DB selects the logical database.
	DB int

	// Username and Password authenticate as a Redis ACL user.
	Username string
	Password string

	// KeyPrefix namespaces every key, e.g. "tether:{env}:". Optional.
	KeyPrefix string

	// Timeouts (defaults: Dial=5s, Read=3s, Write=3s).
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// RedisStore implements Store on a Redis backend. Persistent values are
// sealed with the configured Cipher before they reach the wire; the owning
// user's ID is the AEAD additional data, which is what enforces tenant
// isolation at rest.
type RedisStore struct {
	client    redis.UniversalClient
	cipher    *Cipher
	keyPrefix string
}

// NewRedisStore connects to Redis (standalone or Sentinel) and returns a
// ready store. Returns an error if the configuration is invalid or the
// backend is unreachable.
func NewRedisStore(ctx context.Context, cfg RedisConfig, cipher *Cipher) (*RedisStore, error) {
	if err := validateRedisConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid redis configuration: %w", err)
	}
	if cipher == nil {
		return nil, errors.New("cipher is required")
	}

	// Apply defaults
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        cfg.Addrs,
		MasterName:   cfg.MasterName,
		DB:           cfg.DB,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	// Test connection
	if err := client.Ping(ctx).Err(); err != nil {
		// Close the client to prevent resource leak
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStore{
		client:    client,
		cipher:    cipher,
		keyPrefix: cfg.KeyPrefix,
	}, nil
}

// NewRedisStoreWithClient creates a RedisStore with a pre-configured client.
// This is useful for testing with miniredis.
func NewRedisStoreWithClient(client redis.UniversalClient, cipher *Cipher, keyPrefix string) *RedisStore {
	return &RedisStore{
		client:    client,
		cipher:    cipher,
		keyPrefix: keyPrefix,
	}
}

func validateRedisConfig(cfg *RedisConfig) error {
	if len(cfg.Addrs) == 0 {
		return errors.New("at least one redis address is required")
	}
	return nil
}

// Close closes the Redis client connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks Redis connectivity (health check).
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) prefixed(key string) string {
	return s.keyPrefix + key
}

// Get returns the value at key. A non-empty userID decrypts the value for
// that tenant; an empty userID reads the raw bytes (transient namespace).
func (s *RedisStore) Get(ctx context.Context, key, userID string) ([]byte, error) {
	data, err := s.client.Get(ctx, s.prefixed(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, terrors.NewNotFoundError(fmt.Sprintf("key not found: %s", key), err)
		}
		return nil, fmt.Errorf("failed to get %s: %w", key, err)
	}

	if userID == "" {
		return data, nil
	}

	plaintext, err := s.cipher.Open(data, []byte(userID))
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", key, err)
	}
	return plaintext, nil
}

// Set writes value at key with no expiry. A non-empty userID seals the value
// for that tenant.
func (s *RedisStore) Set(ctx context.Context, key string, value []byte, userID string) error {
	data := value
	if userID != "" {
		sealed, err := s.cipher.Seal(value, []byte(userID))
		if err != nil {
			return fmt.Errorf("failed to seal %s: %w", key, err)
		}
		data = sealed
	}

	if err := s.client.Set(ctx, s.prefixed(key), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

// Delete removes key. Missing keys are ignored.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefixed(key)).Err(); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// HSet writes a hash at key, each field value sealed for userID.
func (s *RedisStore) HSet(ctx context.Context, key string, fields map[string]string, userID string) error {
	if len(fields) == 0 {
		return nil
	}

	sealed := make(map[string]string, len(fields))
	for field, value := range fields {
		if userID == "" {
			sealed[field] = value
			continue
		}
		sv, err := s.cipher.SealString(value, []byte(userID))
		if err != nil {
			return fmt.Errorf("failed to seal %s/%s: %w", key, field, err)
		}
		sealed[field] = sv
	}

	if err := s.client.HSet(ctx, s.prefixed(key), sealed).Err(); err != nil {
		return fmt.Errorf("failed to hset %s: %w", key, err)
	}
	return nil
}

// HGetAll returns the hash at key with field values opened for userID.
func (s *RedisStore) HGetAll(ctx context.Context, key, userID string) (map[string]string, error) {
	result, err := s.client.HGetAll(ctx, s.prefixed(key)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to hgetall %s: %w", key, err)
	}
	// HGETALL returns an empty map, not redis.Nil, for missing keys.
	if len(result) == 0 {
		return nil, terrors.NewNotFoundError(fmt.Sprintf("key not found: %s", key), nil)
	}

	if userID == "" {
		return result, nil
	}

	opened := make(map[string]string, len(result))
	for field, value := range result {
		pv, err := s.cipher.OpenString(value, []byte(userID))
		if err != nil {
			return nil, fmt.Errorf("failed to open %s/%s: %w", key, field, err)
		}
		opened[field] = pv
	}
	return opened, nil
}

// SetEx writes a plaintext value with a TTL. Transient OAuth state only.
func (s *RedisStore) SetEx(ctx context.Context, key string, ttl time.Duration, value []byte) error {
	if ttl <= 0 {
		return terrors.NewInvalidInputError("ttl must be positive", nil)
	}
	if err := s.client.Set(ctx, s.prefixed(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("failed to setex %s: %w", key, err)
	}
	return nil
}

// GetDel atomically reads and removes the plaintext value at key.
func (s *RedisStore) GetDel(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.GetDel(ctx, s.prefixed(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, terrors.NewNotFoundError(fmt.Sprintf("key not found: %s", key), err)
		}
		return nil, fmt.Errorf("failed to getdel %s: %w", key, err)
	}
	return data, nil
}

// Scan returns all keys matching pattern, with the store prefix stripped.
func (s *RedisStore) Scan(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, s.prefixed(pattern), 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val()[len(s.keyPrefix):])
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", pattern, err)
	}
	return keys, nil
}

// Compile-time interface compliance check
var _ Store = (*RedisStore)(nil)
