package errors

import (
	stderrors "errors"
	"fmt"
	"testing"
)

func TestIsErrorType(t *testing.T) {
	cases := []struct {
		name    string
		err     error
		errType ErrorType
		want    bool
	}{
		{"credential error", NewCredentialError("no token", nil), ErrorTypeCredential, true},
		{"transport error", NewTransportError(stderrors.New("refused")), ErrorTypeTransport, true},
		{"application error", NewApplicationError(502, "Chat failed"), ErrorTypeApplication, true},
		{"protocol violation", NewProtocolViolation("unknown status"), ErrorTypeProtocol, true},
		{"wrong type", NewTransportError(nil), ErrorTypeApplication, false},
		{"wrapped with fmt", fmt.Errorf("send: %w", NewTransportError(nil)), ErrorTypeTransport, true},
		{"plain error", stderrors.New("boom"), ErrorTypeTransport, false},
		{"nil", nil, ErrorTypeTransport, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsErrorType(tc.err, tc.errType); got != tc.want {
				t.Errorf("IsErrorType(%v, %s) = %v, want %v", tc.err, tc.errType, got, tc.want)
			}
		})
	}
}

func TestApplicationErrorDetailFallback(t *testing.T) {
	err := NewApplicationError(503, "")
	if err.Detail != "request failed with status 503" {
		t.Errorf("Unexpected fallback detail: %q", err.Detail)
	}

	err = NewApplicationError(502, "Chat failed: upstream exploded")
	if err.Detail != "Chat failed: upstream exploded" {
		t.Errorf("Detail not preserved: %q", err.Detail)
	}
}

func TestErrorAsFindsConcreteType(t *testing.T) {
	wrapped := fmt.Errorf("send: %w", NewApplicationError(400, "message is required"))

	var appErr *ApplicationError
	if !stderrors.As(wrapped, &appErr) {
		t.Fatal("errors.As failed to find ApplicationError")
	}
	if appErr.StatusCode != 400 {
		t.Errorf("StatusCode = %d, want 400", appErr.StatusCode)
	}
}

func TestErrorMessageIncludesWrapped(t *testing.T) {
	err := NewTransportError(stderrors.New("connection refused"))
	if got := err.Error(); got != "[transport] request failed: connection refused" {
		t.Errorf("Unexpected message: %q", got)
	}
}
