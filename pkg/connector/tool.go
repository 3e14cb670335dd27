// SPDX-FileCopyrightText: Copyright 2025 Loopwork, Inc.
// SPDX-License-Identifier: Apache-2.0

package connector

import (
	"context"

	"golang.org/x/time/rate"

	terrors "github.com/loopwork/tether/pkg/errors"
)

// InvokeFunc is the bound invocation behind an executable tool. The auth
// context is captured at build time, not per call.
type InvokeFunc func(ctx context.Context, args map[string]any) (string, error)

// Tool is the uniform executable handle handed to the agent: a stable name,
// a natural-language description, a JSON-Schema argument contract and an
// invoker bound to one user's credentials. The agent treats it as opaque.
type Tool struct {
	Name        string
	Description string
	// Parameters is the JSON Schema for the tool's arguments.
	Parameters map[string]any
	ProviderID string

	// provider is the bucket shared across the provider's tools; limiter
	// is this tool's own declared budget. Either may be nil.
	provider *rate.Limiter
	limiter  *rate.Limiter
	invoke   InvokeFunc
}

// NewTool binds an invocation to a tool descriptor. The provider limiter is
// shared by every tool built from the same connector; a per-tool rate limit
// adds its own token bucket on top.
func NewTool(ct ConnectorTool, providerID string, provider *rate.Limiter, invoke InvokeFunc) *Tool {
	t := &Tool{
		Name:        ct.Name,
		Description: ct.Description,
		Parameters:  ct.ParametersSchema,
		ProviderID:  providerID,
		provider:    provider,
		invoke:      invoke,
	}
	if t.Name == "" {
		t.Name = ct.ID
	}
	if rl := ct.RateLimit; rl != nil && rl.RequestsPerSecond > 0 {
		burst := rl.Burst
		if burst <= 0 {
			burst = 1
		}
		t.limiter = rate.NewLimiter(rate.Limit(rl.RequestsPerSecond), burst)
	}
	return t
}

// Invoke runs the tool. It blocks on the provider and per-tool rate limiters
// if declared and honors context cancellation throughout.
func (t *Tool) Invoke(ctx context.Context, args map[string]any) (string, error) {
	if t.invoke == nil {
		return "", terrors.NewInvalidToolError("tool has no invoker bound", nil)
	}
	if t.provider != nil {
		if err := t.provider.Wait(ctx); err != nil {
			return "", err
		}
	}
	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return "", err
		}
	}
	return t.invoke(ctx, args)
}
