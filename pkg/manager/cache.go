// SPDX-FileCopyrightText: Copyright 2025 Loopwork, Inc.
// SPDX-License-Identifier: Apache-2.0

package manager

import (
	"hash/fnv"
	"sync"
	"time"

	"github.com/loopwork/tether/pkg/connector"
)

const (
	// cacheTTL bounds how stale a materialized toolset may be.
	cacheTTL = 5 * time.Minute
	// cacheShards spreads users across locks. A user's per-provider and
	// merged entries always hash to the same shard.
	cacheShards = 16
	// cleanupInterval is how often expired cache entries are removed.
	cleanupInterval = 1 * time.Minute

	// allProviders is the pseudo provider id under which a user's merged
	// toolset is cached.
	allProviders = "all"
)

type cacheKey struct {
	userID     string
	providerID string
}

type cacheEntry struct {
	tools     []*connector.Tool
	expiresAt time.Time
}

type cacheShard struct {
	mu      sync.RWMutex
	entries map[cacheKey]cacheEntry
}

// toolCache holds materialized toolsets per (user, provider) plus the
// merged (user, "all") entry. It shards by user so both entries for a user
// live under one lock; invalidate drops the pair atomically and no reader
// can observe one without the other.
type toolCache struct {
	shards   [cacheShards]*cacheShard
	ttl      time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func newToolCache(ttl time.Duration) *toolCache {
	c := &toolCache{
		ttl:    ttl,
		stopCh: make(chan struct{}),
	}
	for i := range c.shards {
		c.shards[i] = &cacheShard{entries: make(map[cacheKey]cacheEntry)}
	}

	c.wg.Add(1)
	go c.cleanupExpiredEntries()

	return c
}

func (c *toolCache) shard(userID string) *cacheShard {
	h := fnv.New32a()
	h.Write([]byte(userID))
	return c.shards[h.Sum32()%cacheShards]
}

// get returns the cached toolset for (userID, providerID) if present and
// not expired.
func (c *toolCache) get(userID, providerID string) ([]*connector.Tool, bool) {
	s := c.shard(userID)
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[cacheKey{userID: userID, providerID: providerID}]
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.tools, true
}

func (c *toolCache) put(userID, providerID string, tools []*connector.Tool) {
	s := c.shard(userID)
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[cacheKey{userID: userID, providerID: providerID}] = cacheEntry{
		tools:     tools,
		expiresAt: time.Now().Add(c.ttl),
	}
}

// invalidate drops the user's entry for providerID together with the
// user's merged entry, under one shard lock.
func (c *toolCache) invalidate(userID, providerID string) {
	s := c.shard(userID)
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, cacheKey{userID: userID, providerID: providerID})
	delete(s.entries, cacheKey{userID: userID, providerID: allProviders})
}

// cleanupExpiredEntries periodically removes expired cache entries.
func (c *toolCache) cleanupExpiredEntries() {
	defer c.wg.Done()

	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			now := time.Now()
			for _, s := range c.shards {
				s.mu.Lock()
				for k, entry := range s.entries {
					if now.After(entry.expiresAt) {
						delete(s.entries, k)
					}
				}
				s.mu.Unlock()
			}
		}
	}
}

// stop terminates the cleanup goroutine. Safe to call multiple times.
func (c *toolCache) stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})
	c.wg.Wait()
}
