// Package errors defines the error taxonomy shared across the connector
// runtime. Errors carry a stable type string so HTTP handlers and callers can
// classify failures without matching on message text.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Error types
const (
	// ErrInvalidInput is returned when a caller supplies malformed input
	ErrInvalidInput = "invalid_input"

	// ErrUnknownProvider is returned when no connector is registered for a provider id
	ErrUnknownProvider = "unknown_provider"

	// ErrInvalidTool is returned when a tool id is not among a connector's advertised tools
	ErrInvalidTool = "invalid_tool"

	// ErrInvalidState is returned when a transient OAuth state record is missing,
	// expired, or has already been consumed
	ErrInvalidState = "invalid_state"

	// ErrStateUserMismatch is returned when a callback's state record belongs to a different user
	ErrStateUserMismatch = "state_user_mismatch"

	// ErrNotAuthenticated is returned when an operation requires a stored token and none exists
	ErrNotAuthenticated = "not_authenticated"

	// ErrUpstream is returned when an OAuth endpoint, provider API, or MCP server
	// fails or returns a non-2xx response
	ErrUpstream = "upstream"

	// ErrNeedsReauth is returned when a refresh token is no longer usable and the
	// user must repeat the OAuth flow
	ErrNeedsReauth = "needs_reauth"

	// ErrCoercion is returned when a raw tool input cannot be coerced into the
	// tool's declared argument schema
	ErrCoercion = "coercion"

	// ErrNotFound is returned when a store record does not exist
	ErrNotFound = "not_found"

	// ErrUnsupportedTransport is returned when an MCP connector declares an unknown transport
	ErrUnsupportedTransport = "unsupported_transport"

	// ErrConfig is returned when configuration is missing or inconsistent
	ErrConfig = "config"
)

// Error represents an error in the application
type Error struct {
	// Type is the error type
	Type string

	// Message is the error message
	Message string

	// Cause is the underlying error
	Cause error
}

// Error returns the error message
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new error
func NewError(errorType, message string, cause error) *Error {
	return &Error{
		Type:    errorType,
		Message: message,
		Cause:   cause,
	}
}

// NewInvalidInputError creates a new invalid input error
func NewInvalidInputError(message string, cause error) *Error {
	return NewError(ErrInvalidInput, message, cause)
}

// NewUnknownProviderError creates a new unknown provider error
func NewUnknownProviderError(providerID string) *Error {
	return NewError(ErrUnknownProvider, fmt.Sprintf("no connector registered for provider %q", providerID), nil)
}

// NewInvalidToolError creates a new invalid tool error
func NewInvalidToolError(message string, cause error) *Error {
	return NewError(ErrInvalidTool, message, cause)
}

// NewInvalidStateError creates a new invalid state error
func NewInvalidStateError(message string, cause error) *Error {
	return NewError(ErrInvalidState, message, cause)
}

// NewStateUserMismatchError creates a new state user mismatch error
func NewStateUserMismatchError(message string) *Error {
	return NewError(ErrStateUserMismatch, message, nil)
}

// NewNotAuthenticatedError creates a new not authenticated error
func NewNotAuthenticatedError(message string, cause error) *Error {
	return NewError(ErrNotAuthenticated, message, cause)
}

// NewUpstreamError creates a new upstream error
func NewUpstreamError(message string, cause error) *Error {
	return NewError(ErrUpstream, message, cause)
}

// NewNeedsReauthError creates a new needs reauth error
func NewNeedsReauthError(message string, cause error) *Error {
	return NewError(ErrNeedsReauth, message, cause)
}

// NewCoercionError creates a new coercion error
func NewCoercionError(message string, cause error) *Error {
	return NewError(ErrCoercion, message, cause)
}

// NewNotFoundError creates a new not found error
func NewNotFoundError(message string, cause error) *Error {
	return NewError(ErrNotFound, message, cause)
}

// NewUnsupportedTransportError creates a new unsupported transport error
func NewUnsupportedTransportError(transport string) *Error {
	return NewError(ErrUnsupportedTransport, fmt.Sprintf("unsupported transport %q", transport), nil)
}

// NewConfigError creates a new config error
func NewConfigError(message string, cause error) *Error {
	return NewError(ErrConfig, message, cause)
}

// isType reports whether err, or any error in its chain, is an *Error of the
// given type.
func isType(err error, errorType string) bool {
	var e *Error
	return stderrors.As(err, &e) && e.Type == errorType
}

// IsInvalidInput checks if the error is an invalid input error
func IsInvalidInput(err error) bool {
	return isType(err, ErrInvalidInput)
}

// IsUnknownProvider checks if the error is an unknown provider error
func IsUnknownProvider(err error) bool {
	return isType(err, ErrUnknownProvider)
}

// IsInvalidTool checks if the error is an invalid tool error
func IsInvalidTool(err error) bool {
	return isType(err, ErrInvalidTool)
}

// IsInvalidState checks if the error is an invalid state error
func IsInvalidState(err error) bool {
	return isType(err, ErrInvalidState)
}

// IsStateUserMismatch checks if the error is a state user mismatch error
func IsStateUserMismatch(err error) bool {
	return isType(err, ErrStateUserMismatch)
}

// IsNotAuthenticated checks if the error is a not authenticated error
func IsNotAuthenticated(err error) bool {
	return isType(err, ErrNotAuthenticated)
}

// IsUpstream checks if the error is an upstream error
func IsUpstream(err error) bool {
	return isType(err, ErrUpstream)
}

// IsNeedsReauth checks if the error is a needs reauth error
func IsNeedsReauth(err error) bool {
	return isType(err, ErrNeedsReauth)
}

// IsCoercion checks if the error is a coercion error
func IsCoercion(err error) bool {
	return isType(err, ErrCoercion)
}

// IsNotFound checks if the error is a not found error
func IsNotFound(err error) bool {
	return isType(err, ErrNotFound)
}

// IsUnsupportedTransport checks if the error is an unsupported transport error
func IsUnsupportedTransport(err error) bool {
	return isType(err, ErrUnsupportedTransport)
}

// IsConfig checks if the error is a config error
func IsConfig(err error) bool {
	return isType(err, ErrConfig)
}
