// SPDX-FileCopyrightText: Copyright 2025 Loopwork, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package errors provides HTTP error handling utilities for the API.
package errors

import (
	"net/http"

	"github.com/loopwork/tether/pkg/errors"
	"github.com/loopwork/tether/pkg/logger"
)

// HandlerWithError is an HTTP handler that can return an error.
// This signature allows handlers to return errors instead of manually
// writing error responses, enabling centralized error handling.
type HandlerWithError func(http.ResponseWriter, *http.Request) error

// Code maps an error from the runtime's taxonomy to an HTTP status code.
// Unclassified errors map to 500.
func Code(err error) int {
	switch {
	case errors.IsInvalidInput(err), errors.IsInvalidTool(err), errors.IsInvalidState(err),
		errors.IsCoercion(err), errors.IsUnsupportedTransport(err):
		return http.StatusBadRequest
	case errors.IsNotAuthenticated(err), errors.IsNeedsReauth(err):
		return http.StatusUnauthorized
	case errors.IsStateUserMismatch(err):
		return http.StatusForbidden
	case errors.IsUnknownProvider(err), errors.IsNotFound(err):
		return http.StatusNotFound
	case errors.IsUpstream(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// ErrorHandler wraps a HandlerWithError and converts returned errors
// into appropriate HTTP responses.
//
// The decorator:
//   - Returns early if no error is returned (handler already wrote response)
//   - Extracts the HTTP status code from the error using Code()
//   - For 5xx errors: logs full error details, returns generic message to client
//   - For 4xx errors: returns error message to client
//
// Usage:
//
//	r.Post("/{providerId}/enable", apierrors.ErrorHandler(routes.enable))
func ErrorHandler(fn HandlerWithError) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := fn(w, r)
		if err == nil {
			// No error returned, handler already wrote the response
			return
		}

		code := Code(err)

		// For 5xx errors, log the full error but return a generic message
		if code >= http.StatusInternalServerError {
			logger.Errorf("Internal server error: %v", err)
			http.Error(w, http.StatusText(code), code)
			return
		}

		// For 4xx errors, return the error message to the client
		http.Error(w, err.Error(), code)
	}
}
