// SPDX-License-Identifier: BSD-2-Clause
// Copyright (C) 2024 Emir Aganovic

package airplay2

import "fmt"

// ErrorKind classifies a failure so callers (and the sequence engine's
// terminators) can decide how to react without string matching.
type ErrorKind int

const (
	ErrTransport ErrorKind = iota
	ErrProtocol
	ErrAuthRequired
	ErrAuthBad
	ErrEncryption
	ErrTimeout
	ErrFatalBug
)

func (k ErrorKind) String() string {
	switch k {
	case ErrTransport:
		return "transport"
	case ErrProtocol:
		return "protocol"
	case ErrAuthRequired:
		return "auth_required"
	case ErrAuthBad:
		return "auth_bad"
	case ErrEncryption:
		return "encryption"
	case ErrTimeout:
		return "timeout"
	case ErrFatalBug:
		return "fatal_bug"
	default:
		return "unknown"
	}
}

// Error wraps a failure with the kind and, where available, the device and
// sequence that produced it. It is the Go analogue of the ErrorKind enum in
// the design: the session/sequence engine never inspects error strings, only
// Kind, the same way RegisterResponseError carries a StatusCode for its
// caller to branch on.
type Error struct {
	Kind     ErrorKind
	Sequence string
	Device   uint64
	Err      error
}

func (e *Error) Error() string {
	if e.Sequence != "" {
		return fmt.Sprintf("airplay2: %s: device=%x sequence=%s: %v", e.Kind, e.Device, e.Sequence, e.Err)
	}
	return fmt.Sprintf("airplay2: %s: device=%x: %v", e.Kind, e.Device, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind ErrorKind, deviceID uint64, sequence string, err error) *Error {
	return &Error{Kind: kind, Sequence: sequence, Device: deviceID, Err: err}
}
