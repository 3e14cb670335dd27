package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "error with cause",
			err: &Error{
				Type:    ErrUpstream,
				Message: "token endpoint failed",
				Cause:   errors.New("connection refused"),
			},
			want: "upstream: token endpoint failed: connection refused",
		},
		{
			name: "error without cause",
			err: &Error{
				Type:    ErrNotAuthenticated,
				Message: "no token for user",
				Cause:   nil,
			},
			want: "not_authenticated: no token for user",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.err.Error()
			if got != tt.want {
				t.Errorf("Error.Error() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("underlying error")
	err := &Error{
		Type:    ErrUpstream,
		Message: "test message",
		Cause:   cause,
	}

	if got := err.Unwrap(); got != cause {
		t.Errorf("Error.Unwrap() = %v, want %v", got, cause)
	}

	errNoCause := &Error{
		Type:    ErrUpstream,
		Message: "test message",
		Cause:   nil,
	}

	if got := errNoCause.Unwrap(); got != nil {
		t.Errorf("Error.Unwrap() = %v, want nil", got)
	}
}

func TestNewError(t *testing.T) {
	cause := errors.New("underlying error")
	err := NewError(ErrInvalidInput, "test message", cause)

	if err.Type != ErrInvalidInput {
		t.Errorf("NewError().Type = %v, want %v", err.Type, ErrInvalidInput)
	}
	if err.Message != "test message" {
		t.Errorf("NewError().Message = %v, want %v", err.Message, "test message")
	}
	if err.Cause != cause {
		t.Errorf("NewError().Cause = %v, want %v", err.Cause, cause)
	}
}

func TestPredicates(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
		want  bool
	}{
		{"invalid state direct", NewInvalidStateError("state expired", nil), IsInvalidState, true},
		{"invalid state wrapped", fmt.Errorf("callback: %w", NewInvalidStateError("state expired", nil)), IsInvalidState, true},
		{"wrong type", NewInvalidStateError("state expired", nil), IsNotAuthenticated, false},
		{"plain error", errors.New("plain"), IsInvalidState, false},
		{"nil error", nil, IsInvalidState, false},
		{"needs reauth", NewNeedsReauthError("refresh token rejected", nil), IsNeedsReauth, true},
		{"coercion", NewCoercionError("cannot parse input", nil), IsCoercion, true},
		{"not found wrapped twice", fmt.Errorf("outer: %w", fmt.Errorf("inner: %w", NewNotFoundError("missing", nil))), IsNotFound, true},
		{"unknown provider", NewUnknownProviderError("ghost"), IsUnknownProvider, true},
		{"unsupported transport", NewUnsupportedTransportError("carrier-pigeon"), IsUnsupportedTransport, true},
		{"state user mismatch", NewStateUserMismatchError("state belongs to another user"), IsStateUserMismatch, true},
		{"invalid tool", NewInvalidToolError("tool not advertised", nil), IsInvalidTool, true},
		{"upstream", NewUpstreamError("HTTP 502", nil), IsUpstream, true},
		{"config", NewConfigError("missing redirect URI", nil), IsConfig, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.check(tt.err); got != tt.want {
				t.Errorf("predicate = %v, want %v", got, tt.want)
			}
		})
	}
}
