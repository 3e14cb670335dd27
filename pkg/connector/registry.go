// SPDX-FileCopyrightText: Copyright 2025 Loopwork, Inc.
// SPDX-License-Identifier: Apache-2.0

package connector

import (
	"sync"
	"sync/atomic"

	terrors "github.com/loopwork/tether/pkg/errors"
)

// snapshot is the immutable view readers dereference. order preserves
// registration order, which fixes the output order of tool materialization.
type snapshot struct {
	byID  map[string]Connector
	order []string
}

func (s *snapshot) list() []Connector {
	out := make([]Connector, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id])
	}
	return out
}

// Registry holds the process-wide provider-id → Connector mapping plus the
// per-user mapping for user-registered MCP endpoints. Lookups are lock-free
// reads of an immutable snapshot; registration is copy-on-write under a
// mutex because writes are rare.
type Registry struct {
	mu     sync.Mutex
	system atomic.Pointer[snapshot]
	users  atomic.Pointer[map[string]*snapshot]
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	r := &Registry{}
	r.system.Store(&snapshot{byID: map[string]Connector{}})
	empty := map[string]*snapshot{}
	r.users.Store(&empty)
	return r
}

// Register adds or replaces a system connector. Registration order is
// preserved for deterministic iteration; re-registering keeps the original
// position.
func (r *Registry) Register(providerID string, c Connector) error {
	if providerID == "" || c == nil {
		return terrors.NewInvalidInputError("provider id and connector are required", nil)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.system.Load()
	next := &snapshot{
		byID:  make(map[string]Connector, len(cur.byID)+1),
		order: cur.order,
	}
	for k, v := range cur.byID {
		next.byID[k] = v
	}
	if _, exists := next.byID[providerID]; !exists {
		next.order = append(append([]string{}, cur.order...), providerID)
	}
	next.byID[providerID] = c
	r.system.Store(next)
	return nil
}

// RegisterUser adds or replaces a connector in one user's namespace.
func (r *Registry) RegisterUser(userID, providerID string, c Connector) error {
	if userID == "" || providerID == "" || c == nil {
		return terrors.NewInvalidInputError("user id, provider id and connector are required", nil)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cur := *r.users.Load()
	nextUsers := make(map[string]*snapshot, len(cur)+1)
	for k, v := range cur {
		nextUsers[k] = v
	}

	prev := nextUsers[userID]
	next := &snapshot{byID: map[string]Connector{}}
	if prev != nil {
		for k, v := range prev.byID {
			next.byID[k] = v
		}
		next.order = prev.order
	}
	if _, exists := next.byID[providerID]; !exists {
		next.order = append(append([]string{}, next.order...), providerID)
	}
	next.byID[providerID] = c

	nextUsers[userID] = next
	r.users.Store(&nextUsers)
	return nil
}

// UnregisterUser removes a connector from one user's namespace. Removing an
// unknown pair is a no-op.
func (r *Registry) UnregisterUser(userID, providerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := *r.users.Load()
	prev, ok := cur[userID]
	if !ok {
		return
	}
	if _, ok := prev.byID[providerID]; !ok {
		return
	}

	nextUsers := make(map[string]*snapshot, len(cur))
	for k, v := range cur {
		nextUsers[k] = v
	}

	next := &snapshot{byID: make(map[string]Connector, len(prev.byID)-1)}
	for k, v := range prev.byID {
		if k != providerID {
			next.byID[k] = v
		}
	}
	for _, id := range prev.order {
		if id != providerID {
			next.order = append(next.order, id)
		}
	}

	if len(next.byID) == 0 {
		delete(nextUsers, userID)
	} else {
		nextUsers[userID] = next
	}
	r.users.Store(&nextUsers)
}

// ForUser resolves a connector visible to userID: the user's own namespace
// first, then the system map. Returns nil when neither has it.
func (r *Registry) ForUser(userID, providerID string) Connector {
	if users := *r.users.Load(); users != nil {
		if snap, ok := users[userID]; ok {
			if c, ok := snap.byID[providerID]; ok {
				return c
			}
		}
	}
	return r.system.Load().byID[providerID]
}

// System returns the system connectors in registration order.
func (r *Registry) System() []Connector {
	return r.system.Load().list()
}

// User returns userID's own connectors in registration order.
func (r *Registry) User(userID string) []Connector {
	users := *r.users.Load()
	snap, ok := users[userID]
	if !ok {
		return nil
	}
	return snap.list()
}

// VisibleTo returns every connector userID can use: system connectors in
// registration order, then the user's own in their registration order.
func (r *Registry) VisibleTo(userID string) []Connector {
	return append(r.System(), r.User(userID)...)
}

// HasUser reports whether userID has a connector registered under
// providerID in their own namespace.
func (r *Registry) HasUser(userID, providerID string) bool {
	users := *r.users.Load()
	snap, ok := users[userID]
	if !ok {
		return false
	}
	_, ok = snap.byID[providerID]
	return ok
}
