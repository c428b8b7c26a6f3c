/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package consolesdk

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorMessage(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{"kind only", &Error{Kind: KindTransient}, "transient error"},
		{"with op", &Error{Kind: KindProtocol, Op: "call"}, "protocol error during call"},
		{"with cause", &Error{Kind: KindPermission, Op: "call", Err: ErrPermissionDenied},
			"permission error during call: media permission denied"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestNewErrorNil(t *testing.T) {
	if err := Transient("register", nil); err != nil {
		t.Errorf("Expected nil error, got %v", err)
	}
}

func TestKindOf(t *testing.T) {
	base := errors.New("boom")

	if k := KindOf(nil); k != "" {
		t.Errorf("Expected empty kind for nil, got %q", k)
	}
	if k := KindOf(base); k != KindTransient {
		t.Errorf("Expected unclassified errors to be transient, got %q", k)
	}
	if k := KindOf(fmt.Errorf("wrapped: %w", Protocol("call", base))); k != KindProtocol {
		t.Errorf("Expected protocol, got %q", k)
	}
	if k := KindOf(fmt.Errorf("getUserMedia: %w", ErrPermissionDenied)); k != KindPermission {
		t.Errorf("Expected permission, got %q", k)
	}
	if !IsKind(Precondition("register", base), KindPrecondition) {
		t.Error("Expected IsKind to match precondition")
	}
	if IsKind(nil, KindTransient) {
		t.Error("Expected IsKind(nil) to be false")
	}
}

func TestErrorUnwrap(t *testing.T) {
	err := Protocol("call", ErrNotConnected)
	if !errors.Is(err, ErrNotConnected) {
		t.Error("Expected errors.Is to find the wrapped sentinel")
	}
	var ce *Error
	if !errors.As(err, &ce) {
		t.Fatal("Expected errors.As to find *Error")
	}
	if ce.Op != "call" {
		t.Errorf("Expected Op 'call', got %q", ce.Op)
	}
}
