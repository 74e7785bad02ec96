// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package mongo

import (
	"context"

	"github.com/lattixdb/mongogo/mongo/options"
	"github.com/lattixdb/mongogo/x/mongo/driver"
	"github.com/lattixdb/mongogo/x/mongo/driver/operation"
	"github.com/lattixdb/mongogo/x/mongo/driver/session"
)

// Session wraps a checked-out server session, carrying causal-consistency
// state and the transaction state machine described by spec.md §4.9.
type Session struct {
	client *Client
	cs     *session.ClientSession
}

// ClientSession exposes the underlying session state, attached by
// operation builders to every command dispatched on this session.
func (s *Session) ClientSession() *session.ClientSession { return s.cs }

// EndSession returns the checked-out server session to the pool.
func (s *Session) EndSession(ctx context.Context) {
	s.cs.EndSession(30)
}

func transactionArgsToOptions(opts ...*options.TransactionOptions) (session.TransactionOptions, error) {
	args := options.TransactionArgs{}
	for _, o := range opts {
		for _, setter := range o.ArgsSetters() {
			if err := setter(&args); err != nil {
				return session.TransactionOptions{}, err
			}
		}
	}
	return session.TransactionOptions{
		ReadConcern:    args.ReadConcern,
		WriteConcern:   args.WriteConcern,
		ReadPreference: args.ReadPreference,
		MaxCommitTime:  args.MaxCommitTime,
	}, nil
}

// StartTransaction transitions the session into an active transaction
// (spec.md §4.9).
func (s *Session) StartTransaction(opts ...*options.TransactionOptions) error {
	txnOpts, err := transactionArgsToOptions(opts...)
	if err != nil {
		return err
	}
	return s.cs.StartTransaction(txnOpts)
}

// CommitTransaction commits the active transaction. Per spec.md §4.9, a
// transaction that never issued an operation has nothing to commit
// against and commitTransaction is skipped entirely.
func (s *Session) CommitTransaction(ctx context.Context) error {
	if err := s.cs.CommitTransaction(); err != nil {
		return err
	}
	if !s.cs.SentOperation() {
		return nil
	}
	return s.sendCommit(ctx)
}

func (s *Session) sendCommit(ctx context.Context) error {
	txnOpts := s.cs.CurrentTransactionOptions()
	op := operation.NewCommitTransaction().
		Session(s.cs).
		ClusterClock(s.client.clusterClock).
		WriteConcern(txnOpts.WriteConcern).
		Deployment(s.client.deployment).
		Retry(driver.RetryOnce)
	if txnOpts.MaxCommitTime != nil {
		op.MaxTimeMS(txnOpts.MaxCommitTime.Milliseconds())
	}
	return op.Execute(ctx)
}

// AbortTransaction aborts the active transaction. The abort command, if
// any is sent, is fired on a best-effort basis: a failure to reach the
// server does not surface as an error here (spec.md §4.9).
func (s *Session) AbortTransaction(ctx context.Context) error {
	if err := s.cs.AbortTransaction(); err != nil {
		return err
	}
	if !s.cs.SentOperation() {
		return nil
	}
	op := operation.NewAbortTransaction().
		Session(s.cs).
		ClusterClock(s.client.clusterClock).
		Deployment(s.client.deployment)
	_ = op.Execute(ctx)
	return nil
}

// WithTransaction runs fn within a transaction, retrying the entire
// attempt on a transient failure and retrying a stalled commit on an
// unknown outcome, within the 120-second budget spec.md §4.9 assigns to
// with_transaction.
func (s *Session) WithTransaction(ctx context.Context, fn func(sessCtx context.Context) (interface{}, error), opts ...*options.TransactionOptions) (interface{}, error) {
	txnOpts, err := transactionArgsToOptions(opts...)
	if err != nil {
		return nil, err
	}

	callback := func() session.CallbackResult {
		val, err := fn(ctx)
		return session.CallbackResult{Value: val, Err: err}
	}
	commit := func() error {
		if !s.cs.SentOperation() {
			return s.cs.CommitTransaction()
		}
		if err := s.sendCommit(ctx); err != nil {
			return err
		}
		return s.cs.CommitTransaction()
	}
	abort := func() {
		if s.cs.SentOperation() {
			op := operation.NewAbortTransaction().
				Session(s.cs).
				ClusterClock(s.client.clusterClock).
				Deployment(s.client.deployment)
			_ = op.Execute(ctx)
		}
		_ = s.cs.AbortTransaction()
	}

	return session.WithTransaction(s.cs, txnOpts, callback, commit, abort)
}
