// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package event

import "time"

// ServerDescriptionChangedEvent fires whenever a server monitor's hello
// reply changes that server's description (spec.md §4.4).
type ServerDescriptionChangedEvent struct {
	Address             string
	TopologyID           string
	PreviousDescription string
	NewDescription      string
}

// TopologyDescriptionChangedEvent fires whenever applying a server
// description change alters the topology's own description (spec.md
// §4.4: primary election, member add/remove, topology kind change).
type TopologyDescriptionChangedEvent struct {
	TopologyID           string
	PreviousDescription string
	NewDescription      string
}

// TopologyOpeningEvent/TopologyClosedEvent bracket a Topology's lifetime.
type TopologyOpeningEvent struct{ TopologyID string }
type TopologyClosedEvent struct{ TopologyID string }

// ServerOpeningEvent/ServerClosedEvent bracket a single server monitor's
// lifetime within a topology.
type ServerOpeningEvent struct {
	Address    string
	TopologyID string
}
type ServerClosedEvent struct {
	Address    string
	TopologyID string
}

// ServerHeartbeatStartedEvent fires immediately before a monitor sends its
// hello/isMaster command.
type ServerHeartbeatStartedEvent struct {
	ConnectionID string
	Awaited      bool
}

// ServerHeartbeatSucceededEvent fires once the hello reply decodes
// successfully.
type ServerHeartbeatSucceededEvent struct {
	Duration     time.Duration
	Reply        []byte
	ConnectionID string
	Awaited      bool
}

// ServerHeartbeatFailedEvent fires when the heartbeat round trip or its
// reply fails, which (per spec.md §4.4) also clears the connection pool
// and marks the server Unknown.
type ServerHeartbeatFailedEvent struct {
	Duration     time.Duration
	Failure      string
	ConnectionID string
	Awaited      bool
}

// ServerMonitor lets an application observe SDAM state transitions. Each
// field is optional.
type ServerMonitor struct {
	ServerDescriptionChanged   func(ServerDescriptionChangedEvent)
	TopologyDescriptionChanged func(TopologyDescriptionChangedEvent)
	TopologyOpening            func(TopologyOpeningEvent)
	TopologyClosed             func(TopologyClosedEvent)
	ServerOpening              func(ServerOpeningEvent)
	ServerClosed               func(ServerClosedEvent)
	ServerHeartbeatStarted     func(ServerHeartbeatStartedEvent)
	ServerHeartbeatSucceeded   func(ServerHeartbeatSucceededEvent)
	ServerHeartbeatFailed      func(ServerHeartbeatFailedEvent)
}
