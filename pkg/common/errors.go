//
//  Copyright © Manetu Inc. All rights reserved.
//

// Package common provides shared types and utilities used across the
// authorization service packages.
//
// # Error Handling
//
// The [ServiceError] type provides structured error information for request
// failures. Each error carries a [Kind] which determines the HTTP status the
// surface layer reports, so component code never reasons about HTTP codes
// directly.
package common

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a ServiceError for transport mapping and audit records.
type Kind int

// Error kinds recognized by the service.
const (
	// KindValidation indicates a malformed body, unknown permission, or a
	// pattern schema violation.
	KindValidation Kind = iota
	// KindAuthentication indicates a present-but-invalid bearer token.
	// An absent token is not an error; it resolves to the anonymous subject.
	KindAuthentication
	// KindAuthorization indicates the caller lacks the permission needed for
	// an admin action. Recorded as a deny decision.
	KindAuthorization
	// KindNotFound indicates a missing grant or group id.
	KindNotFound
	// KindConflict indicates a uniqueness or referential-integrity violation.
	KindConflict
	// KindUnavailable indicates a transient upstream failure (store or
	// issuer unreachable) after internal retries are exhausted.
	KindUnavailable
	// KindInternal is everything else.
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthentication:
		return "authentication"
	case KindAuthorization:
		return "authorization"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindUnavailable:
		return "unavailable"
	default:
		return "internal"
	}
}

// HTTPStatus returns the HTTP status code the surface layer should report
// for this kind.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindAuthorization:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ServiceError represents a classified failure raised by any component.
//
// ServiceError is returned instead of ad-hoc errors wherever the failure
// class matters to the caller: the HTTP surface maps kinds onto status codes
// and the decision logger records authorization failures as denies.
type ServiceError struct {
	// Kind is the machine-readable error classification.
	Kind Kind
	// Message is a human-readable description safe to return to clients.
	Message string
	// cause is the wrapped underlying error, if any. It is included in logs
	// but only surfaced to clients in debug mode.
	cause error
}

// Error implements the error interface.
func (e *ServiceError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s(%s): %v", e.Message, e.Kind, e.cause)
	}
	return fmt.Sprintf("%s(%s)", e.Message, e.Kind)
}

// Unwrap exposes the underlying cause for errors.Is/As chains.
func (e *ServiceError) Unwrap() error {
	return e.cause
}

// NewError creates a new [ServiceError] with the specified kind and message.
func NewError(kind Kind, msg string) *ServiceError {
	return &ServiceError{Kind: kind, Message: msg}
}

// NewErrorf creates a new [ServiceError] with a formatted message.
func NewErrorf(kind Kind, format string, args ...interface{}) *ServiceError {
	return &ServiceError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError creates a new [ServiceError] wrapping an underlying cause.
func WrapError(kind Kind, err error, msg string) *ServiceError {
	return &ServiceError{Kind: kind, Message: msg, cause: err}
}

// KindOf extracts the kind from an error chain, defaulting to KindInternal
// for unclassified errors.
func KindOf(err error) Kind {
	var se *ServiceError
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindInternal
}
