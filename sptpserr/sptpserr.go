// Package sptpserr gives SPTPS errors a small, stable, programmatic shape.
//
// Every error the protocol core raises falls into one of five kinds (see Kind).
// Callers are expected to switch on Kind, not on error strings.
package sptpserr

import "fmt"

// Kind is a stable, programmatic error category.
type Kind string

const (
	// ProtocolViolation covers malformed wire data: wrong record length, an
	// unexpected handshake state, an unknown version byte, no common cipher
	// suite, or an unknown record type.
	ProtocolViolation Kind = "protocol_violation"
	// CryptoFailure covers AEAD verification failure, signature verification
	// failure, ECDH computation failure, or PRF failure.
	CryptoFailure Kind = "crypto_failure"
	// ReplayDrop covers a record dropped by the replay window: a sequence
	// number outside the window, or one already observed.
	ReplayDrop Kind = "replay_drop"
	// ResourceFailure covers allocation or entropy-source failure, and an
	// error returned by a caller-supplied SendData or ReceiveRecord callback.
	ResourceFailure Kind = "resource_failure"
	// MisuseError covers API misuse: send_record before the handshake
	// completes, an application record type >= 128, or force_kex called
	// from the wrong state.
	MisuseError Kind = "misuse_error"
)

// Stage identifies which component of the session raised the error.
type Stage string

const (
	StageHandshake Stage = "handshake"
	StageRecord    Stage = "record"
	StageReplay    Stage = "replay"
	StageCipher    Stage = "cipher"
	StageSession   Stage = "session"
)

// Error is a structured, programmatically identifiable SPTPS error.
type Error struct {
	Kind  Kind
	Stage Stage
	Err   error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("sptps: %s (%s): %v", e.Stage, e.Kind, e.Err)
	}
	return fmt.Sprintf("sptps: %s (%s)", e.Stage, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap builds a structured Error. err may be nil for a pure sentinel failure.
func Wrap(stage Stage, kind Kind, err error) error {
	return &Error{Stage: stage, Kind: kind, Err: err}
}

// KindOf extracts the Kind from err if it (or something it wraps) is a *Error.
// It returns "" if no Kind can be determined.
func KindOf(err error) Kind {
	var e *Error
	if asError(err, &e) {
		return e.Kind
	}
	return ""
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
