// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package session

import (
	"testing"
)

func newTestSession(t *testing.T) *ClientSession {
	t.Helper()
	pool := NewPool()
	client := &Client{ClusterClock: &ClusterClock{}}
	cs, err := NewClientSession(pool, client, false, 30)
	if err != nil {
		t.Fatalf("NewClientSession() = %v, want nil", err)
	}
	return cs
}

func TestTransactionStateMachineHappyPath(t *testing.T) {
	t.Parallel()

	cs := newTestSession(t)
	if cs.TransactionState != TransactionNone {
		t.Fatalf("initial state = %v, want none", cs.TransactionState)
	}

	if err := cs.StartTransaction(TransactionOptions{}); err != nil {
		t.Fatalf("StartTransaction() = %v, want nil", err)
	}
	if cs.TransactionState != TransactionStarting {
		t.Fatalf("state after StartTransaction = %v, want starting", cs.TransactionState)
	}
	if !cs.InActiveTransaction() {
		t.Error("InActiveTransaction() = false immediately after StartTransaction, want true")
	}

	cs.MarkSentOperation()
	if cs.TransactionState != TransactionInProgress {
		t.Fatalf("state after MarkSentOperation = %v, want inProgress", cs.TransactionState)
	}
	if !cs.SentOperation() {
		t.Error("SentOperation() = false, want true")
	}

	if err := cs.CommitTransaction(); err != nil {
		t.Fatalf("CommitTransaction() = %v, want nil", err)
	}
	if cs.TransactionState != TransactionCommitted {
		t.Fatalf("state after CommitTransaction = %v, want committed", cs.TransactionState)
	}
	if cs.InActiveTransaction() {
		t.Error("InActiveTransaction() = true after commit, want false")
	}

	// A retried commit on an already-committed transaction is allowed and
	// idempotent on the driver side.
	if err := cs.CommitTransaction(); err != nil {
		t.Errorf("retried CommitTransaction() = %v, want nil (idempotent)", err)
	}
}

func TestTransactionStateMachineInvalidTransitions(t *testing.T) {
	t.Parallel()

	t.Run("starting a transaction while one is already in progress is rejected", func(t *testing.T) {
		t.Parallel()
		cs := newTestSession(t)
		if err := cs.StartTransaction(TransactionOptions{}); err != nil {
			t.Fatalf("StartTransaction() = %v, want nil", err)
		}
		if err := cs.StartTransaction(TransactionOptions{}); err == nil {
			t.Error("second StartTransaction() = nil, want ErrInvalidTransition")
		}
	})

	t.Run("committing with no transaction started is rejected", func(t *testing.T) {
		t.Parallel()
		cs := newTestSession(t)
		if err := cs.CommitTransaction(); err != ErrNoTransactionStarted {
			t.Errorf("CommitTransaction() = %v, want ErrNoTransactionStarted", err)
		}
	})

	t.Run("aborting with no transaction started is rejected", func(t *testing.T) {
		t.Parallel()
		cs := newTestSession(t)
		if err := cs.AbortTransaction(); err != ErrNoTransactionStarted {
			t.Errorf("AbortTransaction() = %v, want ErrNoTransactionStarted", err)
		}
	})

	t.Run("committing after abort is rejected", func(t *testing.T) {
		t.Parallel()
		cs := newTestSession(t)
		if err := cs.StartTransaction(TransactionOptions{}); err != nil {
			t.Fatalf("StartTransaction() = %v, want nil", err)
		}
		if err := cs.AbortTransaction(); err != nil {
			t.Fatalf("AbortTransaction() = %v, want nil", err)
		}
		if err := cs.CommitTransaction(); err == nil {
			t.Error("CommitTransaction() after abort = nil, want ErrInvalidTransition")
		}
	})

	t.Run("double abort is rejected", func(t *testing.T) {
		t.Parallel()
		cs := newTestSession(t)
		if err := cs.StartTransaction(TransactionOptions{}); err != nil {
			t.Fatalf("StartTransaction() = %v, want nil", err)
		}
		if err := cs.AbortTransaction(); err != nil {
			t.Fatalf("AbortTransaction() = %v, want nil", err)
		}
		if err := cs.AbortTransaction(); err == nil {
			t.Error("second AbortTransaction() = nil, want ErrInvalidTransition")
		}
	})
}

func TestStartTransactionIncrementsTxnNumberAndUnpins(t *testing.T) {
	t.Parallel()

	cs := newTestSession(t)
	cs.PinServer("shard1:27017")

	before := cs.Server.TxnNumber
	if err := cs.StartTransaction(TransactionOptions{}); err != nil {
		t.Fatalf("StartTransaction() = %v, want nil", err)
	}
	if cs.Server.TxnNumber != before+1 {
		t.Errorf("TxnNumber = %d, want %d", cs.Server.TxnNumber, before+1)
	}
	if _, pinned := cs.PinnedServer(); pinned {
		t.Error("PinnedServer() still pinned after StartTransaction, want unpinned")
	}
}

func TestServerSessionIncrementTxnNumberOutsideTransaction(t *testing.T) {
	t.Parallel()

	// Regression test: a retryable write outside a transaction must carry
	// a txnNumber incremented once per write, not only within an active
	// transaction.
	ss := &ServerSession{}
	first := ss.IncrementTxnNumber()
	if first != 1 {
		t.Fatalf("first IncrementTxnNumber() = %d, want 1", first)
	}

	// A retry of the same write must not bump txnNumber again -- both
	// attempts carry the identical value, matching spec.md's stepdown
	// retry scenario.
	retryValue := ss.TxnNumber
	if retryValue != 1 {
		t.Errorf("txnNumber before retry = %d, want 1 (unchanged across the retry)", retryValue)
	}

	second := ss.IncrementTxnNumber()
	if second != 2 {
		t.Fatalf("next write's IncrementTxnNumber() = %d, want 2", second)
	}
}

func TestPoolCheckoutCheckinRecyclesSessions(t *testing.T) {
	t.Parallel()

	pool := NewPool()
	ss, err := pool.Checkout(30)
	if err != nil {
		t.Fatalf("Checkout() = %v, want nil", err)
	}
	id := ss.SessionID

	pool.Checkin(ss, 30)

	ss2, err := pool.Checkout(30)
	if err != nil {
		t.Fatalf("second Checkout() = %v, want nil", err)
	}
	if string(ss2.SessionID) != string(id) {
		t.Error("Checkout() after Checkin() minted a new session instead of recycling the checked-in one")
	}
}

func TestPoolCheckinDiscardsDirtySessions(t *testing.T) {
	t.Parallel()

	pool := NewPool()
	ss, _ := pool.Checkout(30)
	id := ss.SessionID
	ss.MarkDirty()
	pool.Checkin(ss, 30)

	ss2, _ := pool.Checkout(30)
	if string(ss2.SessionID) == string(id) {
		t.Error("Checkin() recycled a dirty session, want it discarded")
	}
}

func TestPoolResetBumpsEpochAndDropsQueuedSessions(t *testing.T) {
	t.Parallel()

	pool := NewPool()
	ss, _ := pool.Checkout(30)
	pool.Checkin(ss, 30)

	pool.Reset()

	// ss was minted under the pre-reset epoch; checking it back in after
	// Reset must not be accepted into the new epoch's queue.
	pool.Checkin(ss, 30)
	ss2, err := pool.Checkout(30)
	if err != nil {
		t.Fatalf("Checkout() after Reset() = %v, want nil", err)
	}
	if string(ss2.SessionID) == string(ss.SessionID) {
		t.Error("Checkout() after Reset() returned a session from the pre-reset epoch")
	}
}

// labeledError implements the Labeled interface with_transaction uses to
// classify transient-transaction and unknown-commit-result errors.
type labeledError struct {
	msg    string
	labels map[string]bool
}

func (e *labeledError) Error() string { return e.msg }
func (e *labeledError) HasErrorLabel(label string) bool { return e.labels[label] }

func TestWithTransactionRetriesOnTransientTransactionError(t *testing.T) {
	t.Parallel()

	cs := newTestSession(t)

	var lsids [][]byte
	var txnNumbers []int64
	attempt := 0

	callback := func() CallbackResult {
		attempt++
		lsids = append(lsids, cs.Server.SessionID)
		txnNumbers = append(txnNumbers, cs.Server.TxnNumber)
		if attempt == 1 {
			return CallbackResult{Err: &labeledError{msg: "network error", labels: map[string]bool{ErrorLabelTransientTransaction: true}}}
		}
		return CallbackResult{Value: "done"}
	}

	commit := func() error { return nil }
	abort := func() {}

	value, err := WithTransaction(cs, TransactionOptions{}, callback, commit, abort)
	if err != nil {
		t.Fatalf("WithTransaction() = %v, want nil", err)
	}
	if value != "done" {
		t.Errorf("WithTransaction() = %v, want %q", value, "done")
	}
	if attempt != 2 {
		t.Fatalf("callback ran %d times, want 2", attempt)
	}

	if string(lsids[0]) != string(lsids[1]) {
		t.Error("the two attempts did not carry the same lsid")
	}
	if txnNumbers[1] != txnNumbers[0]+1 {
		t.Errorf("txnNumber across the two attempts = %v, want the second exactly one greater than the first", txnNumbers)
	}
}

func TestWithTransactionDoesNotRetryNonTransientError(t *testing.T) {
	t.Parallel()

	cs := newTestSession(t)
	attempt := 0
	callback := func() CallbackResult {
		attempt++
		return CallbackResult{Err: &labeledError{msg: "permanent failure"}}
	}

	_, err := WithTransaction(cs, TransactionOptions{}, callback, func() error { return nil }, func() {})
	if err == nil {
		t.Fatal("WithTransaction() = nil error, want the callback's error")
	}
	if attempt != 1 {
		t.Errorf("callback ran %d times, want 1 (no retry for a non-transient error)", attempt)
	}
}

func TestWithTransactionRetriesCommitOnUnknownCommitResult(t *testing.T) {
	t.Parallel()

	cs := newTestSession(t)
	callback := func() CallbackResult { return CallbackResult{Value: 42} }

	commitAttempts := 0
	commit := func() error {
		commitAttempts++
		if commitAttempts == 1 {
			return &labeledError{msg: "commit unknown", labels: map[string]bool{ErrorLabelUnknownTransactionCommitResult: true}}
		}
		return nil
	}

	value, err := WithTransaction(cs, TransactionOptions{}, callback, commit, func() {})
	if err != nil {
		t.Fatalf("WithTransaction() = %v, want nil", err)
	}
	if value != 42 {
		t.Errorf("WithTransaction() = %v, want 42", value)
	}
	if commitAttempts != 2 {
		t.Errorf("commit ran %d times, want 2 (retried after UnknownTransactionCommitResult)", commitAttempts)
	}
}
