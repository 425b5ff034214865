package errors

import (
	"fmt"
	"time"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrorTypeCredential represents bearer-credential acquisition errors
	ErrorTypeCredential ErrorType = "credential"
	// ErrorTypeTransport represents network-level errors reaching the gateway
	ErrorTypeTransport ErrorType = "transport"
	// ErrorTypeApplication represents well-formed error responses from the gateway
	ErrorTypeApplication ErrorType = "application"
	// ErrorTypeProtocol represents responses or actions outside the known protocol
	ErrorTypeProtocol ErrorType = "protocol"
	// ErrorTypeConfig represents configuration errors
	ErrorTypeConfig ErrorType = "config"
)

// BaseError is the base error type with common fields
type BaseError struct {
	Type      ErrorType
	Message   string
	Timestamp time.Time
	Err       error // Wrapped error
}

// ErrType reports the category; promoted through every embedding error type
func (e *BaseError) ErrType() ErrorType {
	return e.Type
}

// Error implements the error interface
func (e *BaseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the wrapped error for error unwrapping
func (e *BaseError) Unwrap() error {
	return e.Err
}

// NewBaseError creates a new base error
func NewBaseError(errType ErrorType, message string, err error) *BaseError {
	return &BaseError{
		Type:      errType,
		Message:   message,
		Timestamp: time.Now(),
		Err:       err,
	}
}

// Credential Errors

// CredentialError is returned when no usable bearer credential could be
// obtained. The conversation mode is left unchanged by callers so the same
// action can be retried once a credential is available.
type CredentialError struct {
	*BaseError
}

func NewCredentialError(reason string, err error) *CredentialError {
	return &CredentialError{
		BaseError: NewBaseError(ErrorTypeCredential, reason, err),
	}
}

// Transport Errors

// TransportError is returned on network-level failure reaching the gateway.
// Never retried automatically; recovery is user-initiated.
type TransportError struct {
	*BaseError
}

func NewTransportError(err error) *TransportError {
	return &TransportError{
		BaseError: NewBaseError(ErrorTypeTransport, "request failed", err),
	}
}

// Application Errors

// ApplicationError is a well-formed error response from the gateway or the
// agent runtime behind it. Detail holds the server-provided message when the
// body carried one, otherwise a status-code fallback.
type ApplicationError struct {
	*BaseError
	StatusCode int
	Detail     string
}

func NewApplicationError(statusCode int, detail string) *ApplicationError {
	if detail == "" {
		detail = fmt.Sprintf("request failed with status %d", statusCode)
	}
	return &ApplicationError{
		BaseError:  NewBaseError(ErrorTypeApplication, detail, nil),
		StatusCode: statusCode,
		Detail:     detail,
	}
}

// Protocol Errors

// ProtocolViolation is returned when a response matches none of the known
// shapes, or an action is attempted from an illegal conversation mode.
// These fail loudly and are never coerced into another branch.
type ProtocolViolation struct {
	*BaseError
	Reason string
}

func NewProtocolViolation(reason string) *ProtocolViolation {
	return &ProtocolViolation{
		BaseError: NewBaseError(ErrorTypeProtocol, reason, nil),
		Reason:    reason,
	}
}

// Config Errors

// ErrConfigMissingRequired is returned when a required config value is missing
type ErrConfigMissingRequired struct {
	*BaseError
	Field string
}

func NewConfigMissingRequired(field string) *ErrConfigMissingRequired {
	return &ErrConfigMissingRequired{
		BaseError: NewBaseError(ErrorTypeConfig, fmt.Sprintf("missing required config: %s", field), nil),
		Field:     field,
	}
}

// Helper functions

// IsErrorType checks if an error is of a specific type
func IsErrorType(err error, errType ErrorType) bool {
	if err == nil {
		return false
	}
	if typed, ok := err.(interface{ ErrType() ErrorType }); ok {
		return typed.ErrType() == errType
	}
	if wrapped, ok := err.(interface{ Unwrap() error }); ok {
		inner := wrapped.Unwrap()
		if inner != nil {
			return IsErrorType(inner, errType)
		}
	}
	return false
}
