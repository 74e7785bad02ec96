// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package driver

import (
	"fmt"

	"github.com/lattixdb/mongogo/bson/bsoncore"
)

// TransientTransactionError and friends are the error labels spec.md §7
// requires a driver to attach so that applications retrying a transaction
// or a write can tell which failure mode they hit.
const (
	TransientTransactionError      = "TransientTransactionError"
	UnknownTransactionCommitResult = "UnknownTransactionCommitResult"
	NetworkError                   = "NetworkError"
	RetryableWriteError            = "RetryableWriteError"
)

// stepdownCodes are server error codes that mean "I was primary a moment
// ago but am not anymore" -- spec.md §7 requires these be treated as
// retryable regardless of whether the server happened to set an
// errorLabels array, since a stepping-down primary may not get the chance.
var stepdownCodes = map[int32]bool{
	11600: true, // InterruptedAtShutdown
	11602: true, // InterruptedDueToReplStateChange
	10107: true, // NotWritablePrimary
	13435: true, // NotPrimaryNoSecondaryOk
	13436: true, // NotPrimaryOrSecondary
	189:   true, // PrimarySteppedDown
	91:    true, // ShutdownInProgress
	7:     true, // HostNotFound
	6:     true, // HostUnreachable
	89:    true, // NetworkTimeout
	9001:  true, // SocketException
}

// Error is the command-level error constructed from a server reply's
// "ok": 0 fields (spec.md §7). It satisfies session's duck-typed Labeled
// and codedError interfaces (HasErrorLabel, ErrorCode) without session
// needing to import this package.
type Error struct {
	Code    int32
	Name    string
	Message string
	Labels  []string
	Wrapped error
}

// Error implements the error interface.
func (e Error) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("(%s) %s", e.Name, e.Message)
	}
	return e.Message
}

// Unwrap supports errors.Is/errors.As against the underlying transport
// error, when this Error wraps one (e.g. a network error from roundTrip).
func (e Error) Unwrap() error { return e.Wrapped }

// ErrorCode satisfies session's codedError interface.
func (e Error) ErrorCode() int32 { return e.Code }

// HasErrorLabel reports whether label is present among e.Labels.
func (e Error) HasErrorLabel(label string) bool {
	for _, l := range e.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// Retryable reports whether this command error is one spec.md §7 allows a
// retryable operation to retry on: a recognized stepdown/network code, or
// an explicit errorLabels entry naming it.
func (e Error) Retryable() bool {
	if stepdownCodes[e.Code] {
		return true
	}
	return e.HasErrorLabel(RetryableWriteError) || e.HasErrorLabel(NetworkError)
}

// WriteError is a single per-document failure from a bulk write's
// writeErrors array (spec.md §4.12).
type WriteError struct {
	Index   int64
	Code    int64
	Message string
}

func (we WriteError) Error() string {
	return fmt.Sprintf("write error (index %d, code %d): %s", we.Index, we.Code, we.Message)
}

// WriteConcernError decodes a writeConcernError subdocument (spec.md §4.12).
type WriteConcernError struct {
	Code    int64
	Message string
	Details bsoncore.Document
}

func (wce WriteConcernError) Error() string {
	return fmt.Sprintf("write concern error (code %d): %s", wce.Code, wce.Message)
}

// WriteCommandError aggregates every failure a single write command's
// reply can report at once: per-document writeErrors plus one optional
// writeConcernError (spec.md §4.12: "partial failure is normal -- a batch
// of 500 inserts can have 3 duplicate-key failures and 497 successes").
type WriteCommandError struct {
	WriteErrors       []WriteError
	WriteConcernError *WriteConcernError
	ErrorLabels       []string
}

func (wce WriteCommandError) Error() string {
	if wce.WriteConcernError != nil {
		return wce.WriteConcernError.Error()
	}
	if len(wce.WriteErrors) > 0 {
		return wce.WriteErrors[0].Error()
	}
	return "write command error"
}

// HasErrorLabel satisfies session's duck-typed Labeled interface.
func (wce WriteCommandError) HasErrorLabel(label string) bool {
	for _, l := range wce.ErrorLabels {
		if l == label {
			return true
		}
	}
	return false
}
