// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package description holds the immutable snapshots the monitor and
// topology manager produce: ServerDescription and TopologyDescription
// (spec.md §3), plus the server-selection machinery that consumes them
// (spec.md §4.6).
package description

import (
	"bytes"
	"time"

	"github.com/lattixdb/mongogo/bson"
	"github.com/lattixdb/mongogo/x/mongo/driver/address"
)

// ServerKind enumerates the roles a server can occupy, a pure function of
// its hello reply plus "has it been checked?" (spec.md §3).
type ServerKind int

const (
	Unknown ServerKind = iota
	Standalone
	Mongos
	RSPrimary
	RSSecondary
	RSArbiter
	RSOther
	RSGhost
	PossiblePrimary
	LoadBalancer
)

func (k ServerKind) String() string {
	switch k {
	case Standalone:
		return "Standalone"
	case Mongos:
		return "Mongos"
	case RSPrimary:
		return "RSPrimary"
	case RSSecondary:
		return "RSSecondary"
	case RSArbiter:
		return "RSArbiter"
	case RSOther:
		return "RSOther"
	case RSGhost:
		return "RSGhost"
	case PossiblePrimary:
		return "PossiblePrimary"
	case LoadBalancer:
		return "LoadBalancer"
	default:
		return "Unknown"
	}
}

// VersionRange is an inclusive [Min, Max] wire version range, grounded on
// the teacher's core/desc.Range (min/max wire protocol version negotiation).
type VersionRange struct {
	Min, Max int32
}

// Includes reports whether v falls within the range, inclusive.
func (vr VersionRange) Includes(v int32) bool {
	return v >= vr.Min && v <= vr.Max
}

// IntersectsWith reports whether vr and other share at least one version,
// the compatibility check spec.md §4.5 step 2 requires.
func (vr VersionRange) IntersectsWith(other VersionRange) bool {
	return vr.Min <= other.Max && other.Min <= vr.Max
}

// SupportedWireVersions is the range of wire protocol versions this driver
// core understands (spec.md §1: "server 3.6+", wire version 6 and up).
var SupportedWireVersions = VersionRange{Min: 6, Max: 25}

// TopologyVersion tracks the monotonically increasing (processID,
// counter) pair servers attach to hello replies so stale responses racing
// with a fresher heartbeat can be discarded.
type TopologyVersion struct {
	ProcessID bson.Raw
	Counter   int64
}

// NewerThan reports whether tv is strictly newer than other by counter,
// given equal process ids; a differing process id always counts as newer
// (the server restarted).
func (tv *TopologyVersion) NewerThan(other *TopologyVersion) bool {
	if tv == nil {
		return false
	}
	if other == nil {
		return true
	}
	if !bytes.Equal(tv.ProcessID, other.ProcessID) {
		return true
	}
	return tv.Counter > other.Counter
}

// Server is an immutable snapshot of one server as seen by the last
// completed heartbeat (spec.md §3, ServerDescription).
type Server struct {
	Addr    address.Address
	Kind    ServerKind
	LastErr error

	AverageRTT    time.Duration
	AverageRTTSet bool

	HelloOK bool
	Raw     bson.Raw

	SetName  string
	Primary  address.Address
	Me       address.Address
	Hosts    []string
	Passives []string
	Arbiters []string
	Tags     map[string]string

	SetVersion  uint32
	HasSetVers  bool
	ElectionID  bson.Raw
	TopologyVer *TopologyVersion

	LastWriteDate                time.Time
	LastUpdateTime               time.Time
	LogicalSessionTimeoutMinutes *int64

	WireVersion         *VersionRange
	MaxBsonObjectSize   int64
	MaxMessageSizeBytes int64
	MaxWriteBatchSize   int64

	Compression []string

	SessionTimeoutMinutes *int64
}

// DataBearing reports whether this server can serve reads/writes of user
// data -- used to compute the topology's minimum
// logicalSessionTimeoutMinutes (spec.md §3).
func (s Server) DataBearing() bool {
	switch s.Kind {
	case RSPrimary, RSSecondary, Mongos, Standalone:
		return true
	default:
		return false
	}
}

// Writable reports whether an operation requiring write capability may be
// routed to this server (spec.md §4.6 step 2).
func (s Server) Writable() bool {
	switch s.Kind {
	case RSPrimary, Standalone, Mongos, LoadBalancer:
		return true
	default:
		return false
	}
}

// Readable reports whether this server may serve a non-primary-mode read.
func (s Server) Readable() bool {
	switch s.Kind {
	case RSPrimary, RSSecondary, Mongos, Standalone, LoadBalancer:
		return true
	default:
		return false
	}
}
