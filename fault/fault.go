// Package fault defines the error taxonomy shared by the op table, the
// completion router and the bootstrap controller.
//
// Errors are classified by the [Phase] in which they occur and a [Kind]
// describing what went wrong. Two errors match under [errors.Is] when both
// their phase and kind are equal, so callers can test against the exported
// sentinels:
//
//	if errors.Is(err, fault.ErrDoubleBootstrap) {
//	    ...
//	}
package fault

import (
	"errors"
	"strings"
)

// Phase indicates where in the lifecycle the error occurred.
type Phase string

const (
	PhaseStartup Phase = "startup" // op enumeration, handshake, bootstrap
	PhaseRouting Phase = "routing" // completion delivery
	PhaseDecode  Phase = "decode"  // completion payload decoding
	PhaseHost    Phase = "host"    // calls the host does not support
)

// Kind categorizes the error.
type Kind string

const (
	KindEmptyOpTable     Kind = "empty_op_table"
	KindMalformedOpTable Kind = "malformed_op_table"
	KindDoubleBootstrap  Kind = "double_bootstrap"
	KindHandshake        Kind = "handshake"
	KindUnknownOp        Kind = "unknown_op"
	KindDuplicateBinding Kind = "duplicate_binding"
	KindMalformedPayload Kind = "malformed_payload"
	KindUnknownPromise   Kind = "unknown_promise"
	KindNotBootstrapped  Kind = "not_bootstrapped"
	KindNotAdvertised    Kind = "not_advertised"
)

// Error is the structured error type used throughout opcore.
type Error struct {
	Cause  error
	Phase  Phase
	Kind   Kind
	Op     string
	Detail string
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Op != "" {
		b.WriteString(" (")
		b.WriteString(e.Op)
		b.WriteByte(')')
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target has the same phase and kind.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Sentinels for errors.Is.
var (
	ErrEmptyOpTable     = &Error{Phase: PhaseStartup, Kind: KindEmptyOpTable}
	ErrMalformedOpTable = &Error{Phase: PhaseStartup, Kind: KindMalformedOpTable}
	ErrDoubleBootstrap  = &Error{Phase: PhaseStartup, Kind: KindDoubleBootstrap}
	ErrHandshake        = &Error{Phase: PhaseStartup, Kind: KindHandshake}
	ErrNotBootstrapped  = &Error{Phase: PhaseStartup, Kind: KindNotBootstrapped}
	ErrUnknownOp        = &Error{Phase: PhaseRouting, Kind: KindUnknownOp}
	ErrDuplicateBinding = &Error{Phase: PhaseRouting, Kind: KindDuplicateBinding}
	ErrDecode           = &Error{Phase: PhaseDecode, Kind: KindMalformedPayload}
	ErrUnknownPromise   = &Error{Phase: PhaseDecode, Kind: KindUnknownPromise}
	ErrNotAdvertised    = &Error{Phase: PhaseHost, Kind: KindNotAdvertised}
)

// New creates an error with the given phase, kind and detail.
func New(phase Phase, kind Kind, detail string) *Error {
	return &Error{Phase: phase, Kind: kind, Detail: detail}
}

// Wrap creates an error with the given phase and kind around cause.
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{Phase: phase, Kind: kind, Cause: cause, Detail: detail}
}

// Startup creates a fatal startup error.
func Startup(kind Kind, detail string) *Error {
	return New(PhaseStartup, kind, detail)
}

// UnknownOp creates a routing fault for an op id that was never advertised.
func UnknownOp(op string) *Error {
	return &Error{Phase: PhaseRouting, Kind: KindUnknownOp, Op: op, Detail: "no handler bound"}
}

// NotAdvertised creates the error for a script call to an op the host did
// not advertise. It fails only that call.
func NotAdvertised(op string) *Error {
	return &Error{Phase: PhaseHost, Kind: KindNotAdvertised, Op: op, Detail: "not advertised by host"}
}

// Decode creates a decode error for a single completion.
func Decode(op string, cause error) *Error {
	return &Error{Phase: PhaseDecode, Kind: KindMalformedPayload, Op: op, Cause: cause}
}

// IsFatal reports whether err halts an execution context: startup faults
// and routing faults are fatal, decode errors are scoped to one call.
func IsFatal(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Phase == PhaseStartup || e.Phase == PhaseRouting
}
