// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/lattixdb/mongogo/bson/bsoncore"
	"github.com/lattixdb/mongogo/bson/primitive"
	"github.com/lattixdb/mongogo/mongo/readconcern"
	"github.com/lattixdb/mongogo/mongo/readpref"
	"github.com/lattixdb/mongogo/mongo/writeconcern"
	"github.com/lattixdb/mongogo/x/mongo/driver/address"
)

// TransactionState is the transaction state machine described by
// spec.md §4.9.
type TransactionState int

const (
	TransactionNone TransactionState = iota
	TransactionStarting
	TransactionInProgress
	TransactionCommitted
	TransactionAborted
)

func (s TransactionState) String() string {
	switch s {
	case TransactionStarting:
		return "starting"
	case TransactionInProgress:
		return "inProgress"
	case TransactionCommitted:
		return "committed"
	case TransactionAborted:
		return "aborted"
	default:
		return "none"
	}
}

// ErrInvalidTransition reports an illegal transaction state transition
// (spec.md §4.9: "Invalid transitions... raise usage errors").
type ErrInvalidTransition struct {
	From TransactionState
	To   string
}

func (e ErrInvalidTransition) Error() string {
	return fmt.Sprintf("session: cannot %s transaction in state %s", e.To, e.From)
}

// TransactionOptions captures the effective options for one transaction,
// resolved with priority explicit-argument > session-default >
// client-default (spec.md §4.9).
type TransactionOptions struct {
	ReadConcern    *readconcern.ReadConcern
	WriteConcern   *writeconcern.WriteConcern
	ReadPreference *readpref.ReadPref
	MaxCommitTime  *time.Duration
}

// Merge layers override on top of o, taking override's fields whenever
// they're set, implementing the explicit > session-default > client-default
// resolution order one layer at a time.
func (o TransactionOptions) Merge(override TransactionOptions) TransactionOptions {
	out := o
	if override.ReadConcern != nil {
		out.ReadConcern = override.ReadConcern
	}
	if override.WriteConcern != nil {
		out.WriteConcern = override.WriteConcern
	}
	if override.ReadPreference != nil {
		out.ReadPreference = override.ReadPreference
	}
	if override.MaxCommitTime != nil {
		out.MaxCommitTime = override.MaxCommitTime
	}
	return out
}

// Client describes the subset of client-wide state a ClientSession needs:
// the cluster clock to gossip against and the default transaction options
// to fall back to.
type Client struct {
	ClusterClock              *ClusterClock
	DefaultTransactionOptions TransactionOptions
}

// ClientSession wraps one ServerSession plus its causal-consistency state
// and transaction state machine (spec.md §4.9).
type ClientSession struct {
	Server *ServerSession
	Client *Client
	pool   *Pool

	CausalConsistency bool
	SessionOptions    TransactionOptions // session-level transaction defaults

	operationTime    *primitive.Timestamp
	clusterTime      bsoncore.Document

	TransactionState   TransactionState
	transactionOptions TransactionOptions
	sentOperation      bool
	pinnedServer       address.Address
	hasPinnedServer    bool

	terminated bool
}

// NewClientSession checks out a ServerSession and wraps it.
func NewClientSession(pool *Pool, client *Client, causalConsistency bool, timeoutMinutes int64) (*ClientSession, error) {
	ss, err := pool.Checkout(timeoutMinutes)
	if err != nil {
		return nil, err
	}
	return &ClientSession{
		Server:            ss,
		Client:            client,
		pool:              pool,
		CausalConsistency: causalConsistency,
	}, nil
}

// EndSession returns the underlying ServerSession to the pool. It is a
// no-op if called more than once.
func (cs *ClientSession) EndSession(timeoutMinutes int64) {
	if cs.terminated {
		return
	}
	cs.terminated = true
	cs.pool.Checkin(cs.Server, timeoutMinutes)
}

// AdvanceOperationTime advances the session's operationTime iff candidate
// is strictly greater (spec.md §4.9 causal consistency).
func (cs *ClientSession) AdvanceOperationTime(candidate *primitive.Timestamp) {
	if candidate == nil {
		return
	}
	if cs.operationTime == nil || candidate.After(*cs.operationTime) {
		t := *candidate
		cs.operationTime = &t
	}
}

// OperationTime returns the session's last-known operationTime, if any.
func (cs *ClientSession) OperationTime() (primitive.Timestamp, bool) {
	if cs.operationTime == nil {
		return primitive.Timestamp{}, false
	}
	return *cs.operationTime, true
}

// AdvanceClusterTime gossips a $clusterTime into both this session and the
// shared client clock (spec.md §4.9).
func (cs *ClientSession) AdvanceClusterTime(candidate bsoncore.Document) {
	if candidate == nil {
		return
	}
	if clusterTimeGreater(candidate, cs.clusterTime) {
		cs.clusterTime = candidate
	}
	if cs.Client != nil {
		cs.Client.ClusterClock.AdvanceClusterTime(candidate)
	}
}

// ClusterTime returns the larger of the session's and the client's cluster
// time, the value every command issued on this session attaches (spec.md
// §4.9: "every command issued attaches the larger of the two").
func (cs *ClientSession) ClusterTime() bsoncore.Document {
	shared := cs.clusterTime
	if cs.Client != nil {
		clientTime := cs.Client.ClusterClock.GetClusterTime()
		if clusterTimeGreater(clientTime, shared) {
			shared = clientTime
		}
	}
	return shared
}

// InActiveTransaction reports whether the session currently has an active
// (starting or inProgress) transaction.
func (cs *ClientSession) InActiveTransaction() bool {
	return cs.TransactionState == TransactionStarting || cs.TransactionState == TransactionInProgress
}

// PinnedServer returns the address pinned for a sharded transaction, if
// any (spec.md §4.10).
func (cs *ClientSession) PinnedServer() (address.Address, bool) {
	return cs.pinnedServer, cs.hasPinnedServer
}

// PinServer records addr as the mandatory server for the remainder of the
// current transaction (spec.md §4.10, invoked after the first operation of
// a transaction against a Mongos topology completes).
func (cs *ClientSession) PinServer(addr address.Address) {
	cs.pinnedServer = addr
	cs.hasPinnedServer = true
}

// UnpinServer clears any sharded-transaction pin.
func (cs *ClientSession) UnpinServer() {
	cs.pinnedServer = ""
	cs.hasPinnedServer = false
}

// ErrNoTransactionStarted is returned by CommitTransaction/AbortTransaction
// when no transaction is or ever was active.
var ErrNoTransactionStarted = errors.New("session: no transaction started")

// StartTransaction transitions none/committed/aborted -> starting (spec.md
// §4.9). It is invalid while a transaction is already starting or in
// progress.
func (cs *ClientSession) StartTransaction(opts TransactionOptions) error {
	if cs.TransactionState == TransactionStarting || cs.TransactionState == TransactionInProgress {
		return ErrInvalidTransition{From: cs.TransactionState, To: "start_transaction"}
	}
	cs.Server.IncrementTxnNumber()
	cs.UnpinServer()
	cs.sentOperation = false
	cs.TransactionState = TransactionStarting

	merged := cs.Client.DefaultTransactionOptions
	merged = merged.Merge(cs.SessionOptions)
	merged = merged.Merge(opts)
	cs.transactionOptions = merged
	return nil
}

// CurrentTransactionOptions returns the effective options captured by the most
// recent StartTransaction call.
func (cs *ClientSession) CurrentTransactionOptions() TransactionOptions {
	return cs.transactionOptions
}

// MarkSentOperation records that an operation has been sent within the
// current transaction, transitioning starting -> inProgress (spec.md §4.9:
// "starting -- first op sent --> inProgress").
func (cs *ClientSession) MarkSentOperation() {
	if cs.TransactionState == TransactionStarting {
		cs.TransactionState = TransactionInProgress
	}
	cs.sentOperation = true
}

// SentOperation reports whether any operation has been sent in the current
// transaction, which gates whether commit_transaction sends a command at
// all (spec.md §4.9).
func (cs *ClientSession) SentOperation() bool { return cs.sentOperation }

// CommitTransaction transitions starting/inProgress/committed -> committed.
// Retried commits on an already-committed transaction are allowed (spec.md
// §4.9: "committed -- commit (retry) --> committed (allowed; idempotent on
// the driver side)").
func (cs *ClientSession) CommitTransaction() error {
	switch cs.TransactionState {
	case TransactionStarting, TransactionInProgress, TransactionCommitted:
		cs.TransactionState = TransactionCommitted
		return nil
	case TransactionNone:
		return ErrNoTransactionStarted
	default: // aborted
		return ErrInvalidTransition{From: cs.TransactionState, To: "commit_transaction"}
	}
}

// AbortTransaction transitions starting/inProgress -> aborted. Aborting
// after commit, or double-abort, is a usage error (spec.md §4.9).
func (cs *ClientSession) AbortTransaction() error {
	switch cs.TransactionState {
	case TransactionStarting, TransactionInProgress:
		cs.TransactionState = TransactionAborted
		return nil
	case TransactionNone:
		return ErrNoTransactionStarted
	default:
		return ErrInvalidTransition{From: cs.TransactionState, To: "abort_transaction"}
	}
}
