// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package session

import (
	"time"

	"github.com/lattixdb/mongogo/bson/bsoncore"
	"github.com/lattixdb/mongogo/bson/primitive"
	"github.com/lattixdb/mongogo/internal/uuid"
)

// ServerSession is the server-visible half of a logical session: its id
// (lsid) and the monotonically increasing transaction number the server
// uses to detect retried writes (spec.md §4.8, §4.9).
type ServerSession struct {
	SessionID  []byte // a BSON document {id: <UUID binary subtype 4>}
	LastUsed   time.Time
	TxnNumber  int64
	Dirty      bool
	epoch      uint64
}

// newServerSession mints a fresh session tagged with the pool's current
// epoch (spec.md §4.8: "mint a new session tagged with the pool's current
// epoch").
func newServerSession(epoch uint64) (*ServerSession, error) {
	id, err := uuid.New()
	if err != nil {
		return nil, err
	}
	return &ServerSession{
		SessionID: sessionIDDocument(id),
		LastUsed:  time.Now(),
		epoch:     epoch,
	}, nil
}

func sessionIDDocument(id uuid.UUID) []byte {
	// {id: Binary(subtype=4, id)} -- built by hand to avoid importing the
	// bson package's reflective encoder for a one-field leaf document.
	return bsoncore.NewDocumentBuilder().
		AppendBinary("id", byte(primitive.SubtypeUUID), id[:]).
		Build()
}

// IncrementTxnNumber bumps the transaction number, used both for a fresh
// retryable write attempt and for entering a new transaction (spec.md
// §4.9: "increments the ServerSession's transaction id").
func (ss *ServerSession) IncrementTxnNumber() int64 {
	ss.TxnNumber++
	return ss.TxnNumber
}

// MarkDirty flags the session as having seen a network error, so the pool
// discards rather than recycles it on checkin (spec.md §4.8 checkin rule).
func (ss *ServerSession) MarkDirty() { ss.Dirty = true }

// expired reports whether ss is within one minute of the deployment's
// logicalSessionTimeoutMinutes (spec.md §4.8: "discarding sessions that
// are within one minute of the topology's logicalSessionTimeoutMinutes").
func (ss *ServerSession) expired(timeoutMinutes int64) bool {
	if timeoutMinutes <= 0 {
		return false
	}
	cutoff := time.Duration(timeoutMinutes)*time.Minute - time.Minute
	return time.Since(ss.LastUsed) > cutoff
}
