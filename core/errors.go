// Package core holds the error taxonomy and small shared primitives used by
// every other package in the SDK.
package core

import (
	"errors"
	"fmt"
)

// ErrNotFound reports an unknown session or memory identifier.
var ErrNotFound = errors.New("not found")

// ErrExpired reports a session whose TTL has elapsed. It is distinct from
// ErrNotFound so callers can message users appropriately; the caller is
// expected to create a new session.
var ErrExpired = errors.New("session expired")

// ValidationError reports malformed caller input, such as an empty user
// identifier. It is always surfaced to the caller and never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// TransientError wraps a temporary failure of a storage or model backend.
// Background operations retry it with bounded backoff; hot-path reads
// degrade to a partial result instead of failing the turn.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err is, or wraps, a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// ConsistencyError reports a violated serialization discipline, such as two
// concurrent writers observed on the same record. It is a programming or
// configuration defect: the operation fails and is reported, but the serving
// process keeps running.
type ConsistencyError struct {
	Detail string
}

func (e *ConsistencyError) Error() string { return "consistency violation: " + e.Detail }
