// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package session implements logical sessions: the process-wide
// ServerSession pool (spec.md §4.8), ClientSession with causal consistency
// and the transaction state machine (spec.md §4.9), and sharded
// transaction pinning (spec.md §4.10).
package session

import (
	"sync"

	"github.com/lattixdb/mongogo/bson/bsoncore"
)

// ClusterClock tracks the highest $clusterTime seen across every command
// result a client has observed (spec.md §4.9: "every command-result that
// carries a $clusterTime updates... the client's cluster time if strictly
// greater").
type ClusterClock struct {
	mu          sync.Mutex
	clusterTime bsoncore.Document
}

// GetClusterTime returns the current cluster time document, or nil if none
// has been observed yet.
func (cc *ClusterClock) GetClusterTime() bsoncore.Document {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return cc.clusterTime
}

// AdvanceClusterTime updates the clock if candidate is strictly greater
// than the current value.
func (cc *ClusterClock) AdvanceClusterTime(candidate bsoncore.Document) {
	if candidate == nil {
		return
	}
	cc.mu.Lock()
	defer cc.mu.Unlock()
	if clusterTimeGreater(candidate, cc.clusterTime) {
		cc.clusterTime = candidate
	}
}

// clusterTimeGreater compares two $clusterTime documents by their nested
// clusterTime.{t,i} BSON timestamp, per the cluster time gossip protocol.
func clusterTimeGreater(a, b bsoncore.Document) bool {
	if b == nil {
		return true
	}
	if a == nil {
		return false
	}
	at, ai, aok := extractTimestamp(a)
	bt, bi, bok := extractTimestamp(b)
	if !aok {
		return false
	}
	if !bok {
		return true
	}
	if at != bt {
		return at > bt
	}
	return ai > bi
}

func extractTimestamp(doc bsoncore.Document) (t, i uint32, ok bool) {
	ct, found := doc.Lookup("clusterTime")
	if !found {
		return 0, 0, false
	}
	return ct.TimestampOK()
}
