// Copyright (C) MongoDB, Inc. 2019-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package operation

import (
	"context"
	"errors"

	"github.com/lattixdb/mongogo/bson/bsoncore"
	"github.com/lattixdb/mongogo/mongo/writeconcern"
	"github.com/lattixdb/mongogo/x/mongo/driver"
	"github.com/lattixdb/mongogo/x/mongo/driver/description"
	"github.com/lattixdb/mongogo/x/mongo/driver/session"
)

// CommitTransaction runs commitTransaction against the session's pinned
// server, or the current primary if no server is pinned yet (spec.md
// §4.9: a read-only transaction that never issued a command has no
// server to commit against and commitTransaction becomes a no-op at the
// caller level, handled above this package).
type CommitTransaction struct {
	maxTimeMS    *int64
	recoveryToken bsoncore.Document
	session      *session.ClientSession
	clock        *session.ClusterClock
	writeConcern *writeconcern.WriteConcern
	deployment   driver.Deployment
	retry        driver.RetryMode

	result bsoncore.Document
}

// NewCommitTransaction constructs a CommitTransaction.
func NewCommitTransaction() *CommitTransaction { return &CommitTransaction{} }

// Result returns the raw reply of the last successful Execute.
func (ct *CommitTransaction) Result() bsoncore.Document { return ct.result }

// MaxTimeMS bounds how long the server waits to satisfy the write concern.
func (ct *CommitTransaction) MaxTimeMS(ms int64) *CommitTransaction { ct.maxTimeMS = &ms; return ct }

// RecoveryToken attaches the recoveryToken from a prior commit attempt
// against a sharded cluster (spec.md §4.9).
func (ct *CommitTransaction) RecoveryToken(rt bsoncore.Document) *CommitTransaction {
	ct.recoveryToken = rt
	return ct
}

// Session sets the session whose transaction is being committed.
func (ct *CommitTransaction) Session(sess *session.ClientSession) *CommitTransaction {
	ct.session = sess
	return ct
}

// ClusterClock sets the cluster clock used absent a session.
func (ct *CommitTransaction) ClusterClock(clock *session.ClusterClock) *CommitTransaction {
	ct.clock = clock
	return ct
}

// WriteConcern sets the write concern for the commit.
func (ct *CommitTransaction) WriteConcern(wc *writeconcern.WriteConcern) *CommitTransaction {
	ct.writeConcern = wc
	return ct
}

// Deployment sets the topology this commit selects a server from.
func (ct *CommitTransaction) Deployment(d driver.Deployment) *CommitTransaction {
	ct.deployment = d
	return ct
}

// Retry sets the retry mode. mongo.Session sends commitTransaction with
// RetryOnce regardless of the client's retryWrites setting; the retry
// carries the same write concern as the first attempt.
func (ct *CommitTransaction) Retry(rm driver.RetryMode) *CommitTransaction { ct.retry = rm; return ct }

func (ct *CommitTransaction) command(description.SelectedServer) (bsoncore.Document, error) {
	b := bsoncore.NewDocumentBuilder()
	b.AppendInt32("commitTransaction", 1)
	if ct.maxTimeMS != nil {
		b.AppendInt64("maxTimeMS", *ct.maxTimeMS)
	}
	if ct.recoveryToken != nil {
		b.AppendDocument("recoveryToken", ct.recoveryToken)
	}
	return b.Build(), nil
}

// Execute runs commitTransaction and stores its reply for Result.
func (ct *CommitTransaction) Execute(ctx context.Context) error {
	if ct.deployment == nil {
		return errors.New("operation: CommitTransaction must have a Deployment set before Execute can be called")
	}
	res, err := driver.Operation{
		CommandName:  "commitTransaction",
		Database:     "admin",
		Command:      ct.command,
		Deployment:   ct.deployment,
		WriteConcern: ct.writeConcern,
		Session:      ct.session,
		Clock:        ct.clock,
		Retry:        ct.retry,
	}.Execute(ctx)
	ct.result = res
	return err
}

// AbortTransaction runs abortTransaction against the session's pinned
// server (spec.md §4.9). Unlike commit, a failed abort is not surfaced to
// the caller by the higher-level session API -- it's fired on a best-
// effort basis -- but Execute still reports the error so callers that do
// care (retry logic, logging) can observe it.
type AbortTransaction struct {
	recoveryToken bsoncore.Document
	session       *session.ClientSession
	clock         *session.ClusterClock
	writeConcern  *writeconcern.WriteConcern
	deployment    driver.Deployment
	retry         driver.RetryMode

	result bsoncore.Document
}

// NewAbortTransaction constructs an AbortTransaction.
func NewAbortTransaction() *AbortTransaction { return &AbortTransaction{} }

// Result returns the raw reply of the last successful Execute.
func (at *AbortTransaction) Result() bsoncore.Document { return at.result }

// RecoveryToken attaches the recoveryToken from a prior commit attempt.
func (at *AbortTransaction) RecoveryToken(rt bsoncore.Document) *AbortTransaction {
	at.recoveryToken = rt
	return at
}

// Session sets the session whose transaction is being aborted.
func (at *AbortTransaction) Session(sess *session.ClientSession) *AbortTransaction {
	at.session = sess
	return at
}

// ClusterClock sets the cluster clock used absent a session.
func (at *AbortTransaction) ClusterClock(clock *session.ClusterClock) *AbortTransaction {
	at.clock = clock
	return at
}

// WriteConcern sets the write concern for the abort.
func (at *AbortTransaction) WriteConcern(wc *writeconcern.WriteConcern) *AbortTransaction {
	at.writeConcern = wc
	return at
}

// Deployment sets the topology this abort selects a server from.
func (at *AbortTransaction) Deployment(d driver.Deployment) *AbortTransaction {
	at.deployment = d
	return at
}

// Retry sets the retry mode.
func (at *AbortTransaction) Retry(rm driver.RetryMode) *AbortTransaction { at.retry = rm; return at }

func (at *AbortTransaction) command(description.SelectedServer) (bsoncore.Document, error) {
	b := bsoncore.NewDocumentBuilder()
	b.AppendInt32("abortTransaction", 1)
	if at.recoveryToken != nil {
		b.AppendDocument("recoveryToken", at.recoveryToken)
	}
	return b.Build(), nil
}

// Execute runs abortTransaction and stores its reply for Result.
func (at *AbortTransaction) Execute(ctx context.Context) error {
	if at.deployment == nil {
		return errors.New("operation: AbortTransaction must have a Deployment set before Execute can be called")
	}
	res, err := driver.Operation{
		CommandName:  "abortTransaction",
		Database:     "admin",
		Command:      at.command,
		Deployment:   at.deployment,
		WriteConcern: at.writeConcern,
		Session:      at.session,
		Clock:        at.clock,
		Retry:        at.retry,
	}.Execute(ctx)
	at.result = res
	return err
}

// EndSessions notifies the server that the given session ids are no
// longer in use so it can release their resources early rather than
// waiting out the idle timeout (spec.md §4.9 glossary: "a driver SHOULD
// send endSessions when a client disconnects").
type EndSessions struct {
	sessionIDs []bsoncore.Document
	deployment driver.Deployment

	result bsoncore.Document
}

// NewEndSessions constructs an EndSessions for the given lsid documents.
func NewEndSessions(sessionIDs ...bsoncore.Document) *EndSessions {
	return &EndSessions{sessionIDs: sessionIDs}
}

// Deployment sets the topology this command selects a server from.
func (es *EndSessions) Deployment(d driver.Deployment) *EndSessions { es.deployment = d; return es }

func (es *EndSessions) command(description.SelectedServer) (bsoncore.Document, error) {
	b := bsoncore.NewDocumentBuilder()
	b.AppendArray("endSessions", bsoncore.DocumentsToArray(es.sessionIDs))
	return b.Build(), nil
}

// Execute runs endSessions. A failure here
// is not actionable by the caller -- the server will reclaim the session
// anyway once its idle timeout elapses -- so callers commonly ignore the
// returned error.
func (es *EndSessions) Execute(ctx context.Context) error {
	if es.deployment == nil {
		return errors.New("operation: EndSessions must have a Deployment set before Execute can be called")
	}
	res, err := driver.Operation{
		CommandName: "endSessions",
		Database:    "admin",
		Command:     es.command,
		Deployment:  es.deployment,
	}.Execute(ctx)
	es.result = res
	return err
}
