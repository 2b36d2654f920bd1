// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package overseer defines the orchestrator's error taxonomy, shared by
// every internal package and surfaced verbatim across both RPC
// transports: a typed Kind enum and a Cause chain callers can
// errors.As/errors.Is against.
package overseer

import "fmt"

// Kind classifies an Error for programmatic handling by callers and for
// picking an HTTP status code / stdio error code in the RPC transports.
type Kind string

const (
	NotFound          Kind = "not_found"
	SpawnFailed       Kind = "spawn_failed"
	PaneGone          Kind = "pane_gone"
	SendFailed        Kind = "send_failed"
	Timeout           Kind = "timeout"
	QueueFull         Kind = "queue_full"
	CapacityExceeded  Kind = "capacity_exceeded"
	InvalidArgument   Kind = "invalid_argument"
	Internal          Kind = "internal"
)

// Error is the orchestrator's single error type. Every operation in
// internal/rpc returns either nil or an *Error, never a bare error from
// a lower layer, so both transports can render a consistent envelope.
type Error struct {
	Kind    Kind
	Message string
	Hint    string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New creates an Error of the given kind with no cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates an Error of the given kind that chains cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// WithHint returns a copy of e with Hint set, for chaining off New.
func (e *Error) WithHint(hint string) *Error {
	cp := *e
	cp.Hint = hint
	return &cp
}

// Is reports whether target is an *Error with the same Kind, so callers
// can write errors.Is(err, overseer.New(overseer.NotFound, "")).
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == other.Kind
}
