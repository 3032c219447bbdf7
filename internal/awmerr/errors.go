// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package awmerr defines the error taxonomy shared by every awmkit
// component, so that callers can distinguish failure modes with errors.Is
// instead of string matching on messages.
package awmerr

import (
	"errors"
	"fmt"
)

// Kind identifies one of the failure modes in the awmkit error taxonomy.
// Kind values are comparable and usable directly with errors.Is.
type Kind string

const (
	// Input errors
	InvalidCharset    Kind = "invalid_charset"
	ChecksumMismatch  Kind = "checksum_mismatch"
	UnsupportedVersion Kind = "unsupported_version"
	TimestampOverflow Kind = "timestamp_overflow"
	InvalidKeyLength  Kind = "invalid_key_length"
	SlotOutOfRange    Kind = "slot_out_of_range"

	// Authentication errors
	MacMismatch Kind = "mac_mismatch"
	KeyMissing  Kind = "key_missing"

	// Conflict errors
	SlotOccupied        Kind = "slot_occupied"
	FingerprintConflict Kind = "fingerprint_conflict"
	SlotHasEvidence     Kind = "slot_has_evidence"

	// Engine errors
	EngineNotFound     Kind = "engine_not_found"
	EngineExecFailure  Kind = "engine_exec_failure"
	EngineTimeout      Kind = "engine_timeout"
	NoWatermarkFound   Kind = "no_watermark_found"
	UnsupportedMetadata Kind = "unsupported_metadata"

	// Persistence errors
	DatabaseError Kind = "database_error"
	BackendError  Kind = "backend_error"

	// Cancellation
	Cancelled Kind = "cancelled"
)

// Error is the concrete error type returned by awmkit components. It carries
// a Kind so the caller can branch on failure category without parsing
// messages, an operation label for logging, and an optional wrapped cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, awmerr.SomeKind) work: Kind implements error (see
// below) so it can stand in as the target, and Error.Is compares kinds
// rather than requiring the wrapped cause to match too.
func (e *Error) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && e.Kind == k
}

// Error lets a bare Kind be used as an errors.Is target:
// errors.Is(err, awmerr.MacMismatch).
func (k Kind) Error() string { return string(k) }

// New builds an *Error for the given operation and kind, optionally wrapping
// a lower-level cause. A non-nil cause is kept as Err and printed by Error,
// so callers pass nil instead of a cause that might carry key bytes or SQL
// payloads containing user data.
func New(op string, kind Kind, cause error) *Error {
	return &Error{Op: op, Kind: kind, Err: cause}
}

// Of reports the Kind of err if err is (or wraps) an *Error, and ok=false
// otherwise.
func Of(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// Is reports whether err carries the given Kind. It is a thin convenience
// wrapper over errors.Is(err, kind).
func Is(err error, kind Kind) bool {
	return errors.Is(err, kind)
}
