// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package job

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a processing failure for the retry policy.
type ErrorKind string

const (
	// ErrKindPermissionDenied means the signer or ledger refused the
	// operation outright. Permanent; never retried.
	ErrKindPermissionDenied ErrorKind = "permission_denied"

	// ErrKindInvalidPayload means the payload is malformed or was rejected
	// by validation. Permanent; never retried.
	ErrKindInvalidPayload ErrorKind = "invalid_payload"

	// ErrKindNetwork covers connection failures and timeouts. Transient.
	ErrKindNetwork ErrorKind = "network"

	// ErrKindResourceExhausted covers quota and rate-limit failures.
	// Transient, but retried with a longer backoff.
	ErrKindResourceExhausted ErrorKind = "resource_exhausted"

	// ErrKindSignerNotReady means no usable signer context is available yet.
	// Transient; retried once the signer comes up or on the next timer.
	ErrKindSignerNotReady ErrorKind = "signer_not_ready"
)

// Sentinel errors, one per kind, for errors.Is checks.
var (
	ErrPermissionDenied  = errors.New("permission denied")
	ErrInvalidPayload    = errors.New("invalid payload")
	ErrNetwork           = errors.New("network failure")
	ErrResourceExhausted = errors.New("resource exhausted")
	ErrSignerNotReady    = errors.New("signer not ready")
)

var sentinelByKind = map[ErrorKind]error{
	ErrKindPermissionDenied:  ErrPermissionDenied,
	ErrKindInvalidPayload:    ErrInvalidPayload,
	ErrKindNetwork:           ErrNetwork,
	ErrKindResourceExhausted: ErrResourceExhausted,
	ErrKindSignerNotReady:    ErrSignerNotReady,
}

// ClassifiedError is what processors return: the underlying failure plus the
// kind the retry policy decides on.
type ClassifiedError struct {
	Kind ErrorKind
	Op   string // operation that failed, e.g. "blob.upload"
	Err  error
}

// Error implements the error interface.
func (e *ClassifiedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

// Unwrap returns the underlying error.
func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for the error's kind.
func (e *ClassifiedError) Is(target error) bool {
	return sentinelByKind[e.Kind] == target
}

// NewClassifiedError wraps err with a kind and operation name.
func NewClassifiedError(kind ErrorKind, op string, err error) error {
	return &ClassifiedError{Kind: kind, Op: op, Err: err}
}

// Classify extracts the kind from an error chain. Unknown errors classify as
// network failures: retrying something we should not is recoverable, dropping
// something we should have retried is not.
func Classify(err error) ErrorKind {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	for kind, sentinel := range sentinelByKind {
		if errors.Is(err, sentinel) {
			return kind
		}
	}
	return ErrKindNetwork
}

// IsPermanent reports whether a kind is never worth retrying.
func IsPermanent(kind ErrorKind) bool {
	return kind == ErrKindPermissionDenied || kind == ErrKindInvalidPayload
}

// IsTransient reports whether a kind may succeed on retry.
func IsTransient(kind ErrorKind) bool {
	return !IsPermanent(kind)
}
