// Package errors provides error handling for cronhook.
//
// It re-exports github.com/cockroachdb/errors so call sites get stack traces
// and wrapping from a single import, and it defines the sentinel errors the
// service classifies on:
//
//	if errors.Is(err, errors.ErrNotFound) {
//	    // 404
//	}
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
)

// User-facing details
var (
	WithHint      = crdb.WithHint
	WithHintf     = crdb.WithHintf
	WithDetail    = crdb.WithDetail
	WithDetailf   = crdb.WithDetailf
	GetAllHints   = crdb.GetAllHints
	FlattenHints  = crdb.FlattenHints
	GetAllDetails = crdb.GetAllDetails
)

// Error inspection
var (
	Is        = crdb.Is
	IsAny     = crdb.IsAny
	As        = crdb.As
	Unwrap    = crdb.Unwrap
	UnwrapAll = crdb.UnwrapAll
	Mark      = crdb.Mark
)

// Sentinel errors. Wrap them with Wrap/Wrapf to add context; callers match
// with Is.
var (
	// ErrInvalidInput is a malformed create request (missing name, bad url).
	ErrInvalidInput = New("invalid input")

	// ErrInvalidSchedule is a recurrence expression the parser rejected.
	ErrInvalidSchedule = New("invalid schedule")

	// ErrNotFound is an unknown job id.
	ErrNotFound = New("not found")

	// ErrStoreCorrupt means the job file could not be fully decoded.
	ErrStoreCorrupt = New("store corrupt")

	// ErrStoreWriteFailure means a snapshot could not be written.
	ErrStoreWriteFailure = New("store write failed")

	// ErrDispatchFailure is an outbound call that did not return 2xx.
	ErrDispatchFailure = New("dispatch failed")

	// ErrShuttingDown is returned for mutations after shutdown began.
	ErrShuttingDown = New("shutting down")
)

// IsNotFound reports whether err is or wraps ErrNotFound.
func IsNotFound(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}

// IsClientError reports whether err should be surfaced to an API caller as a
// 4xx rejection of their input.
func IsClientError(err error) bool {
	return err != nil && IsAny(err, ErrInvalidInput, ErrInvalidSchedule)
}
