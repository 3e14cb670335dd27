// SPDX-FileCopyrightText: Copyright 2025 Loopwork, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package api contains the REST API for the connector runtime.
package api

// The OpenAPI spec is generated using "github.com/swaggo/swag/v2/cmd/swag@v2.0.0-rc4"
// To update the OpenAPI spec, run:
// install swag:
//	go install github.com/swaggo/swag/v2/cmd/swag@v2.0.0-rc4
// generate the spec:
//	swag init -g pkg/api/server.go --v3.1 -o docs/server

// @title           Tether API
// @version         1.0
// @description     This is the Tether connector runtime API server.

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	v1 "github.com/loopwork/tether/pkg/api/v1"
	"github.com/loopwork/tether/pkg/logger"
	"github.com/loopwork/tether/pkg/store"
)

const (
	middlewareTimeout = 60 * time.Second
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 10 * time.Second
)

func headersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") {
			w.Header().Set("Content-Type", "application/json")
		}
		next.ServeHTTP(w, r)
	})
}

// Serve starts the server on the given address and serves the API until ctx
// is canceled, then drains in-flight requests. It is assumed that the caller
// sets up appropriate signal handling. uiCallbackURL is where OAuth callbacks
// send the browser once a flow completes.
func Serve(
	ctx context.Context,
	address string,
	mgr v1.Manager,
	st store.Store,
	uiCallbackURL string,
) error {
	r := Router(mgr, st, uiCallbackURL)

	srv := &http.Server{
		BaseContext:       func(net.Listener) context.Context { return ctx },
		Addr:              address,
		Handler:           r,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	listener, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", address, err)
	}

	logger.Infof("starting API server on %s", address)

	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("server stopped with error: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	logger.Infof("API server stopped")
	return nil
}

// Router assembles the full API handler. Split from Serve so tests can hit
// the routing table without binding a port.
func Router(mgr v1.Manager, st store.Store, uiCallbackURL string) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Timeout(middlewareTimeout),
		headersMiddleware,
	)

	routers := map[string]http.Handler{
		"/health":            v1.HealthRouter(st),
		"/api/v1/version":    v1.VersionRouter(),
		"/api/v1/connectors": v1.ConnectorRouter(mgr, uiCallbackURL),
	}

	for prefix, router := range routers {
		r.Mount(prefix, router)
	}

	return r
}
