// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package session

import "time"

// withTransactionTimeLimit is the 120-second retry budget spec.md §4.9
// assigns to with_transaction, measured against a monotonic clock.
const withTransactionTimeLimit = 120 * time.Second

// Labeled is implemented by the errors with_transaction needs to classify;
// the dispatcher's error type satisfies this without this package importing
// it, avoiding an import cycle between session and the driver package.
type Labeled interface {
	error
	HasErrorLabel(label string) bool
}

// ErrorLabelTransientTransaction and ErrorLabelUnknownTransactionCommitResult
// are the two labels with_transaction inspects (spec.md §4.9, §7).
const (
	ErrorLabelTransientTransaction           = "TransientTransactionError"
	ErrorLabelUnknownTransactionCommitResult = "UnknownTransactionCommitResult"
)

// isMaxTimeMSExpired reports whether err represents a MaxTimeMSExpired
// server error (code 50), used to decide whether an
// UnknownTransactionCommitResult is still worth retrying (spec.md §4.9 step
// 5: "the error was not MaxTimeMSExpired").
type codedError interface {
	ErrorCode() int32
}

func isMaxTimeMSExpired(err error) bool {
	ce, ok := err.(codedError)
	return ok && ce.ErrorCode() == 50
}

// CallbackResult is what a with_transaction callback returns: either a
// value or an error. Modeling it as a tagged result (rather than relying on
// panic/recover) matches spec.md §10's guidance for languages without
// exceptions.
type CallbackResult struct {
	Value interface{}
	Err   error
}

// TransactionCallback is the unit of work with_transaction runs with the
// session as an implicit first argument (the caller closes over cs).
type TransactionCallback func() CallbackResult

// CommitFunc sends the commitTransaction command and reports its outcome.
type CommitFunc func() error

// AbortFunc sends the abortTransaction command, best-effort.
type AbortFunc func()

// WithTransaction implements spec.md §4.9's with_transaction loop: start,
// run the callback, and on transient failure restart the whole attempt
// from the top, all within a 120-second monotonic budget.
func WithTransaction(cs *ClientSession, opts TransactionOptions, callback TransactionCallback, commit CommitFunc, abort AbortFunc) (interface{}, error) {
	start := monotonicNow()

	for {
		if err := cs.StartTransaction(opts); err != nil {
			return nil, err
		}

		result := callback()
		if result.Err != nil {
			abort()
			if cs.InActiveTransaction() {
				_ = cs.AbortTransaction()
			}
			if withinBudget(start) && hasLabel(result.Err, ErrorLabelTransientTransaction) {
				continue
			}
			return nil, result.Err
		}

		if !cs.InActiveTransaction() {
			// The callback itself committed or aborted.
			return result.Value, nil
		}

		if err := commitWithRetry(cs, start, commit); err != nil {
			if err == errRestartTransaction {
				if cs.InActiveTransaction() {
					_ = cs.AbortTransaction()
				}
				continue
			}
			return nil, err
		}
		return result.Value, nil
	}
}

var errRestartTransaction = &restartSignal{}

type restartSignal struct{}

func (*restartSignal) Error() string { return "session: restart transaction" }

// commitWithRetry runs spec.md §4.9 step 5's inner commit retry loop.
func commitWithRetry(cs *ClientSession, start time.Time, commit CommitFunc) error {
	for {
		err := commit()
		if err == nil {
			return nil
		}
		if !withinBudget(start) {
			return err
		}
		if hasLabel(err, ErrorLabelTransientTransaction) {
			return errRestartTransaction
		}
		if hasLabel(err, ErrorLabelUnknownTransactionCommitResult) && !isMaxTimeMSExpired(err) {
			continue
		}
		return err
	}
}

func hasLabel(err error, label string) bool {
	le, ok := err.(Labeled)
	return ok && le.HasErrorLabel(label)
}

func withinBudget(start time.Time) bool {
	return monotonicNow().Sub(start) < withTransactionTimeLimit
}

// monotonicNow returns time.Now(), which on every supported Go platform
// carries a monotonic reading alongside the wall clock; spec.md §4.9
// requires monotonic time for the 120-second budget, with wall time only
// as a last resort, which stdlib time.Time.Sub already satisfies without
// falling back.
func monotonicNow() time.Time { return time.Now() }
