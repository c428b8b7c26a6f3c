/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package consolesdk

import (
	"errors"
	"fmt"
)

// Kind classifies console errors by how the caller should react.
type Kind string

const (
	// KindTransient covers network, registration and reconnect failures.
	// They are logged and retried by polling, never shown to the user.
	KindTransient Kind = "transient"
	// KindPermission covers denied media or device access.
	KindPermission Kind = "permission"
	// KindProtocol covers signaling rejections of a call attempt.
	KindProtocol Kind = "protocol"
	// KindPrecondition covers operations skipped because a gate was unmet.
	KindPrecondition Kind = "precondition"
)

var (
	// ErrNoActiveSession is returned by call actions when no session is active.
	ErrNoActiveSession = errors.New("no active call session")
	// ErrNotConnected is returned when a signaling session is not open.
	ErrNotConnected = errors.New("signaling session not connected")
	// ErrPermissionDenied is returned when microphone access was refused.
	ErrPermissionDenied = errors.New("media permission denied")
	// ErrAuthRejected is returned when the call server refused the agent's
	// SIP credentials.
	ErrAuthRejected = errors.New("sip credentials rejected")
)

// Error is the base error type for console failures. Consumers can use
// errors.As(err, &consoleErr) to inspect the kind and failing operation.
type Error struct {
	// Kind is the error class.
	Kind Kind

	// Op names the failing operation, e.g. "register" or "call".
	Op string

	// Err is the wrapped cause.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s error", e.Kind)
	if e.Op != "" {
		msg += " during " + e.Op
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the wrapped error, if any.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps err with a kind and operation. A nil err yields nil.
func NewError(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Transient wraps err as a transient failure.
func Transient(op string, err error) error { return NewError(KindTransient, op, err) }

// Permission wraps err as a permission failure.
func Permission(op string, err error) error { return NewError(KindPermission, op, err) }

// Protocol wraps err as a signaling protocol failure.
func Protocol(op string, err error) error { return NewError(KindProtocol, op, err) }

// Precondition wraps err as an unmet precondition.
func Precondition(op string, err error) error { return NewError(KindPrecondition, op, err) }

// KindOf returns the kind of the outermost console error in err's chain.
// Unclassified errors are treated as transient; ErrPermissionDenied anywhere
// in the chain is a permission error.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	if errors.Is(err, ErrPermissionDenied) {
		return KindPermission
	}
	return KindTransient
}

// IsKind reports whether err is of the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
