// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package description

import (
	"github.com/lattixdb/mongogo/bson"
	"github.com/lattixdb/mongogo/x/mongo/driver/address"
)

// TopologyKind enumerates the deployment shapes the topology manager can
// model (spec.md §3).
type TopologyKind int

const (
	TopologyUnknown TopologyKind = iota
	Single
	ReplicaSetNoPrimary
	ReplicaSetWithPrimary
	Sharded
	LoadBalanced
)

func (k TopologyKind) String() string {
	switch k {
	case Single:
		return "Single"
	case ReplicaSetNoPrimary:
		return "ReplicaSetNoPrimary"
	case ReplicaSetWithPrimary:
		return "ReplicaSetWithPrimary"
	case Sharded:
		return "Sharded"
	case LoadBalanced:
		return "LoadBalanced"
	default:
		return "Unknown"
	}
}

// Topology is the aggregate snapshot the topology manager publishes on
// every SDAM transition (spec.md §3, TopologyDescription). It is immutable;
// a new value is produced by applying one ServerDescription update via a
// copy-on-write scheme (spec.md §5 shared-resource policy).
type Topology struct {
	Kind    TopologyKind
	Servers map[address.Address]Server

	SetName string

	MaxSetVersion uint32
	MaxElectionID bson.Raw

	LogicalSessionTimeoutMinutes *int64
	Compatible                   bool
	CompatibilityErr             error

	ClusterTime bson.Raw

	// Stale forces the next server selection attempt to wait for a fresh
	// publication rather than trusting this snapshot (spec.md §4.6 step 6).
	Stale bool
}

// Clone returns a deep-enough copy of t suitable for copy-on-write mutation:
// the Servers map is copied so the original snapshot stays untouched while a
// new one is built (spec.md §5: "A copy-on-write scheme is the expected
// implementation").
func (t Topology) Clone() Topology {
	servers := make(map[address.Address]Server, len(t.Servers))
	for k, v := range t.Servers {
		servers[k] = v
	}
	t.Servers = servers
	return t
}

// HasWritableServer reports whether any server in the topology can
// currently accept writes.
func (t Topology) HasWritableServer() bool {
	for _, s := range t.Servers {
		if s.Writable() {
			return true
		}
	}
	return false
}

// SessionsSupported reports whether the deployment advertises logical
// session support at all (spec.md §4.8: implicit sessions are only started
// "if the deployment supports sessions").
func (t Topology) SessionsSupported() bool {
	return t.LogicalSessionTimeoutMinutes != nil
}

// SupportsTransactions reports whether the deployment can run a
// multi-document transaction (spec.md §4.9: "verifies topology supports
// transactions").
func (t Topology) SupportsTransactions() bool {
	if t.Kind == Sharded || t.Kind == LoadBalanced {
		return t.SessionsSupported()
	}
	if t.Kind != ReplicaSetWithPrimary && t.Kind != ReplicaSetNoPrimary {
		return false
	}
	for _, s := range t.Servers {
		if s.DataBearing() && s.WireVersion != nil && s.WireVersion.Max < 7 {
			return false
		}
	}
	return t.SessionsSupported()
}

// PrimaryAddress returns the address of the current RSPrimary, if any.
func (t Topology) PrimaryAddress() (address.Address, bool) {
	for addr, s := range t.Servers {
		if s.Kind == RSPrimary {
			return addr, true
		}
	}
	return "", false
}
