// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package topology

import (
	"errors"
	"testing"

	"github.com/lattixdb/mongogo/event"
	"github.com/lattixdb/mongogo/x/mongo/driver/address"
	"github.com/lattixdb/mongogo/x/mongo/driver/description"
)

func TestNewServerStartsUnknown(t *testing.T) {
	t.Parallel()

	s := NewServer(address.Address("a:27017"), serverConfig{})
	desc := s.Description()
	if desc.Kind != description.Unknown {
		t.Errorf("Kind = %v, want Unknown before any heartbeat", desc.Kind)
	}
	if desc.Addr != address.Address("a:27017") {
		t.Errorf("Addr = %v, want a:27017", desc.Addr)
	}
}

func TestUpdateDescriptionFiresServerDescriptionChanged(t *testing.T) {
	t.Parallel()

	var got event.ServerDescriptionChangedEvent
	var fired int
	monitor := &event.ServerMonitor{
		ServerDescriptionChanged: func(evt event.ServerDescriptionChangedEvent) {
			fired++
			got = evt
		},
	}

	s := NewServer(address.Address("a:27017"), serverConfig{monitor: monitor, topologyID: "topo1"})

	s.updateDescription(description.Server{Addr: address.Address("a:27017"), Kind: description.Standalone})

	if fired != 1 {
		t.Fatalf("ServerDescriptionChanged fired %d times, want 1", fired)
	}
	if got.Address != "a:27017" || got.TopologyID != "topo1" {
		t.Errorf("event = %+v, want Address a:27017 and TopologyID topo1", got)
	}
}

func TestUpdateDescriptionSkipsEventWhenUnchanged(t *testing.T) {
	t.Parallel()

	var fired int
	monitor := &event.ServerMonitor{
		ServerDescriptionChanged: func(event.ServerDescriptionChangedEvent) { fired++ },
	}

	s := NewServer(address.Address("a:27017"), serverConfig{monitor: monitor})

	desc := description.Server{Addr: address.Address("a:27017"), Kind: description.Standalone}
	s.updateDescription(desc)
	s.updateDescription(desc)

	if fired != 1 {
		t.Fatalf("ServerDescriptionChanged fired %d times for an identical description, want 1", fired)
	}
}

func TestUpdateDescriptionHonorsTopologyCallbackVeto(t *testing.T) {
	t.Parallel()

	s := NewServer(address.Address("a:27017"), serverConfig{})
	vetoed := description.Server{Addr: address.Address("a:27017"), Kind: description.Unknown, LastErr: errors.New("vetoed")}
	s.updateTopologyCallback.Store(updateTopologyCallback(func(description.Server) description.Server {
		return vetoed
	}))

	s.updateDescription(description.Server{Addr: address.Address("a:27017"), Kind: description.Standalone})

	if got := s.Description(); got.Kind != description.Unknown || got.LastErr == nil {
		t.Errorf("Description() = %+v, want the topology callback's vetoed description", got)
	}
}

func TestDescribeServerReflectsKindAndError(t *testing.T) {
	t.Parallel()

	a := describeServer(description.Server{Addr: "a:27017", Kind: description.Standalone})
	b := describeServer(description.Server{Addr: "a:27017", Kind: description.Unknown, LastErr: errors.New("boom")})

	if a == b {
		t.Error("expected describeServer to differ between a healthy and a failed description")
	}
}

func TestServerSubscribeReceivesUpdates(t *testing.T) {
	t.Parallel()

	s := NewServer(address.Address("a:27017"), serverConfig{})
	s.connectionstate = serverConnected

	sub, err := s.Subscribe()
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	// Drain the initial snapshot Subscribe seeds the channel with.
	<-sub.C

	s.updateDescription(description.Server{Addr: address.Address("a:27017"), Kind: description.Standalone})

	select {
	case got := <-sub.C:
		if got.Kind != description.Standalone {
			t.Errorf("received Kind = %v, want Standalone", got.Kind)
		}
	default:
		t.Fatal("expected updateDescription to publish to the subscriber")
	}
}
