// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package options

import (
	"time"

	"github.com/lattixdb/mongogo/mongo/readconcern"
	"github.com/lattixdb/mongogo/mongo/readpref"
	"github.com/lattixdb/mongogo/mongo/writeconcern"
)

// SessionArgs represents arguments that can be used to configure a
// ClientSession (spec.md §4.9).
type SessionArgs struct {
	CausalConsistency         *bool
	DefaultReadConcern        *readconcern.ReadConcern
	DefaultWriteConcern       *writeconcern.WriteConcern
	DefaultReadPreference     *readpref.ReadPref
	DefaultMaxCommitTime      *time.Duration
	Snapshot                  *bool
}

// SessionOptions contains options to configure a ClientSession. Each
// option can be set through setter functions.
type SessionOptions struct {
	Opts []func(*SessionArgs) error
}

// Session creates a new SessionOptions instance.
func Session() *SessionOptions { return &SessionOptions{} }

// ArgsSetters returns a list of SessionArgs setter functions.
func (s *SessionOptions) ArgsSetters() []func(*SessionArgs) error { return s.Opts }

// SetCausalConsistency sets the value for the CausalConsistency field. The
// default is true unless Snapshot is also set, per spec.md §4.9.
func (s *SessionOptions) SetCausalConsistency(b bool) *SessionOptions {
	s.Opts = append(s.Opts, func(args *SessionArgs) error { args.CausalConsistency = &b; return nil })
	return s
}

// SetSnapshot sets the value for the Snapshot field. Client.StartSession
// uses it only to turn causal consistency off; the session does not record
// it, and transactions are not refused on a snapshot session.
func (s *SessionOptions) SetSnapshot(b bool) *SessionOptions {
	s.Opts = append(s.Opts, func(args *SessionArgs) error { args.Snapshot = &b; return nil })
	return s
}

// SetDefaultReadConcern sets the value for the DefaultReadConcern field.
func (s *SessionOptions) SetDefaultReadConcern(rc *readconcern.ReadConcern) *SessionOptions {
	s.Opts = append(s.Opts, func(args *SessionArgs) error { args.DefaultReadConcern = rc; return nil })
	return s
}

// SetDefaultWriteConcern sets the value for the DefaultWriteConcern field.
func (s *SessionOptions) SetDefaultWriteConcern(wc *writeconcern.WriteConcern) *SessionOptions {
	s.Opts = append(s.Opts, func(args *SessionArgs) error { args.DefaultWriteConcern = wc; return nil })
	return s
}

// SetDefaultReadPreference sets the value for the DefaultReadPreference field.
func (s *SessionOptions) SetDefaultReadPreference(rp *readpref.ReadPref) *SessionOptions {
	s.Opts = append(s.Opts, func(args *SessionArgs) error { args.DefaultReadPreference = rp; return nil })
	return s
}

// SetDefaultMaxCommitTime sets the value for the DefaultMaxCommitTime field.
func (s *SessionOptions) SetDefaultMaxCommitTime(d time.Duration) *SessionOptions {
	s.Opts = append(s.Opts, func(args *SessionArgs) error { args.DefaultMaxCommitTime = &d; return nil })
	return s
}

// TransactionArgs represents arguments that can be used to configure a
// single transaction, overriding the session's defaults (spec.md §4.9:
// "explicit-argument > session-default > client-default").
type TransactionArgs struct {
	ReadConcern    *readconcern.ReadConcern
	WriteConcern   *writeconcern.WriteConcern
	ReadPreference *readpref.ReadPref
	MaxCommitTime  *time.Duration
}

// TransactionOptions contains options to configure a transaction. Each
// option can be set through setter functions.
type TransactionOptions struct {
	Opts []func(*TransactionArgs) error
}

// Transaction creates a new TransactionOptions instance.
func Transaction() *TransactionOptions { return &TransactionOptions{} }

// ArgsSetters returns a list of TransactionArgs setter functions.
func (t *TransactionOptions) ArgsSetters() []func(*TransactionArgs) error { return t.Opts }

// SetReadConcern sets the value for the ReadConcern field.
func (t *TransactionOptions) SetReadConcern(rc *readconcern.ReadConcern) *TransactionOptions {
	t.Opts = append(t.Opts, func(args *TransactionArgs) error { args.ReadConcern = rc; return nil })
	return t
}

// SetWriteConcern sets the value for the WriteConcern field.
func (t *TransactionOptions) SetWriteConcern(wc *writeconcern.WriteConcern) *TransactionOptions {
	t.Opts = append(t.Opts, func(args *TransactionArgs) error { args.WriteConcern = wc; return nil })
	return t
}

// SetReadPreference sets the value for the ReadPreference field.
func (t *TransactionOptions) SetReadPreference(rp *readpref.ReadPref) *TransactionOptions {
	t.Opts = append(t.Opts, func(args *TransactionArgs) error { args.ReadPreference = rp; return nil })
	return t
}

// SetMaxCommitTime sets the value for the MaxCommitTime field.
func (t *TransactionOptions) SetMaxCommitTime(d time.Duration) *TransactionOptions {
	t.Opts = append(t.Opts, func(args *TransactionArgs) error { args.MaxCommitTime = &d; return nil })
	return t
}
