// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package topology

import (
	"context"
	"errors"
	"testing"

	"github.com/lattixdb/mongogo/event"
	"github.com/lattixdb/mongogo/x/mongo/driver/address"
	"github.com/lattixdb/mongogo/x/mongo/driver/connstring"
	"github.com/lattixdb/mongogo/x/mongo/driver/description"
)

func TestNewTopologyKindFromHosts(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cs   connstring.ConnString
		want description.TopologyKind
	}{
		{
			name: "single host",
			cs:   connstring.ConnString{Hosts: []string{"a:27017"}},
			want: description.Single,
		},
		{
			name: "multiple hosts, no replica set name",
			cs:   connstring.ConnString{Hosts: []string{"a:27017", "b:27017"}},
			want: description.Sharded,
		},
		{
			name: "replica set name set",
			cs:   connstring.ConnString{Hosts: []string{"a:27017", "b:27017"}, ReplicaSet: "rs0"},
			want: description.ReplicaSetNoPrimary,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			topo, err := NewTopology(&tc.cs, nil, nil)
			if err != nil {
				t.Fatalf("NewTopology: %v", err)
			}
			if got := topo.Description().Kind; got != tc.want {
				t.Errorf("Kind = %v, want %v", got, tc.want)
			}
			if len(topo.servers) != len(tc.cs.Hosts) {
				t.Errorf("len(servers) = %d, want %d", len(topo.servers), len(tc.cs.Hosts))
			}
		})
	}
}

func TestNewTopologyRequiresAHost(t *testing.T) {
	t.Parallel()

	_, err := NewTopology(&connstring.ConnString{}, nil, nil)
	if err == nil {
		t.Fatal("expected an error for an empty host list")
	}
}

func TestAddServerFiresServerOpening(t *testing.T) {
	t.Parallel()

	var opened []string
	monitor := &event.ServerMonitor{
		ServerOpening: func(evt event.ServerOpeningEvent) {
			opened = append(opened, evt.Address)
		},
	}

	cs := &connstring.ConnString{Hosts: []string{"a:27017"}}
	topo, err := NewTopology(cs, monitor, nil)
	if err != nil {
		t.Fatalf("NewTopology: %v", err)
	}

	topo.addServer(address.Address("b:27017"))

	if len(opened) != 1 || opened[0] != "b:27017" {
		t.Fatalf("opened = %v, want [b:27017]", opened)
	}

	// Re-adding an existing address must not fire a second event.
	topo.addServer(address.Address("b:27017"))
	if len(opened) != 1 {
		t.Fatalf("re-adding an existing server fired another ServerOpening: %v", opened)
	}
}

func TestApplyDropsStaleTopologyVersion(t *testing.T) {
	t.Parallel()

	cs := &connstring.ConnString{Hosts: []string{"a:27017"}}
	topo, err := NewTopology(cs, nil, nil)
	if err != nil {
		t.Fatalf("NewTopology: %v", err)
	}
	topo.connected = true

	addr := address.Address("a:27017")
	fresh := description.Server{Addr: addr, Kind: description.Standalone, TopologyVer: &description.TopologyVersion{Counter: 2}}
	topo.desc.Servers[addr] = fresh

	stale := description.Server{Addr: addr, Kind: description.Unknown, TopologyVer: &description.TopologyVersion{Counter: 1}}
	got := topo.apply(stale)

	if got.Kind != description.Standalone {
		t.Errorf("apply returned %v for a stale heartbeat, want the prior description preserved", got.Kind)
	}
}

func TestApplyShardedRejectsNonMongos(t *testing.T) {
	t.Parallel()

	cs := &connstring.ConnString{Hosts: []string{"a:27017", "b:27017"}}
	topo, err := NewTopology(cs, nil, nil)
	if err != nil {
		t.Fatalf("NewTopology: %v", err)
	}
	topo.connected = true

	addr := address.Address("a:27017")
	got := topo.apply(description.Server{Addr: addr, Kind: description.RSPrimary})

	if got.Kind != description.Unknown {
		t.Errorf("apply(RSPrimary) under a Sharded topology = %v, want Unknown", got.Kind)
	}
	if got.LastErr == nil {
		t.Error("expected LastErr to explain the rejection")
	}
}

func TestApplyReplicaSetAddsHostsFromPrimary(t *testing.T) {
	t.Parallel()

	cs := &connstring.ConnString{Hosts: []string{"a:27017"}, ReplicaSet: "rs0"}
	topo, err := NewTopology(cs, nil, nil)
	if err != nil {
		t.Fatalf("NewTopology: %v", err)
	}
	topo.connected = true

	primary := address.Address("a:27017")
	topo.apply(description.Server{
		Addr:    primary,
		Kind:    description.RSPrimary,
		Me:      primary,
		SetName: "rs0",
		Hosts:   []string{"a:27017", "b:27017"},
	})

	if _, ok := topo.servers[address.Address("b:27017")]; !ok {
		t.Fatal("expected the primary's host list to add b:27017")
	}
	if got := topo.Description().Kind; got != description.ReplicaSetWithPrimary {
		t.Errorf("Kind = %v, want ReplicaSetWithPrimary", got)
	}
}

func TestApplyReplicaSetDemotesServerReportingWrongSetName(t *testing.T) {
	t.Parallel()

	cs := &connstring.ConnString{Hosts: []string{"a:27017"}, ReplicaSet: "rs0"}
	topo, err := NewTopology(cs, nil, nil)
	if err != nil {
		t.Fatalf("NewTopology: %v", err)
	}
	topo.connected = true

	addr := address.Address("a:27017")
	got := topo.apply(description.Server{Addr: addr, Kind: description.RSPrimary, SetName: "other-rs"})

	if got.Kind != description.Unknown {
		t.Errorf("Kind = %v, want Unknown for a mismatched replica set name", got.Kind)
	}
}

func TestIsNewerPrimary(t *testing.T) {
	t.Parallel()

	older := description.Server{HasSetVers: true, SetVersion: 1, ElectionID: []byte{1}}
	newer := description.Server{HasSetVers: true, SetVersion: 2, ElectionID: []byte{1}}

	if !isNewerPrimary(newer, older) {
		t.Error("expected a higher setVersion to be newer")
	}
	if isNewerPrimary(older, newer) {
		t.Error("expected a lower setVersion to not be newer")
	}
}

func TestPickRandomSingleCandidate(t *testing.T) {
	t.Parallel()

	only := description.Server{Addr: address.Address("a:27017")}
	if got := pickRandom([]description.Server{only}); got.Addr != only.Addr {
		t.Errorf("pickRandom returned %v, want the sole candidate %v", got.Addr, only.Addr)
	}
}

func TestDescribeTopologyReflectsServerSet(t *testing.T) {
	t.Parallel()

	empty := describeTopology(description.Topology{Kind: description.Single, Servers: map[address.Address]description.Server{}})
	withServer := describeTopology(description.Topology{
		Kind:    description.Single,
		Servers: map[address.Address]description.Server{"a:27017": {Addr: "a:27017", Kind: description.Standalone}},
	})

	if empty == withServer {
		t.Error("expected describeTopology to differ once a server is added")
	}
}

func TestDisconnectFiresTopologyClosed(t *testing.T) {
	t.Parallel()

	var closed bool
	monitor := &event.ServerMonitor{
		TopologyClosed: func(event.TopologyClosedEvent) { closed = true },
	}

	cs := &connstring.ConnString{Hosts: []string{"a:27017"}}
	topo, err := NewTopology(cs, monitor, nil)
	if err != nil {
		t.Fatalf("NewTopology: %v", err)
	}

	if err := topo.Disconnect(context.Background()); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if !closed {
		t.Error("expected TopologyClosed to fire")
	}
}

func TestSelectServerReturnsClosedErrorWhenNotConnected(t *testing.T) {
	t.Parallel()

	cs := &connstring.ConnString{Hosts: []string{"a:27017"}}
	topo, err := NewTopology(cs, nil, nil)
	if err != nil {
		t.Fatalf("NewTopology: %v", err)
	}

	_, err = topo.SelectServer(context.Background(), alwaysSelects{})
	if !errors.Is(err, ErrTopologyClosed) {
		t.Fatalf("SelectServer error = %v, want ErrTopologyClosed", err)
	}
}

type alwaysSelects struct{}

func (alwaysSelects) SelectServer(_ description.Topology, candidates []description.Server) ([]description.Server, error) {
	return candidates, nil
}
