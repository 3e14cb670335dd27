// SPDX-FileCopyrightText: Copyright 2025 Loopwork, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package main is the entry point for the tether connector runtime.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/loopwork/tether/cmd/tether/app"
)

func main() {
	// Create a context that will be canceled on signal
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := app.NewRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
