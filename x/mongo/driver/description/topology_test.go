// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package description

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/lattixdb/mongogo/x/mongo/driver/address"
)

func errComparer() cmp.Option {
	return cmp.Comparer(func(a, b error) bool {
		if a == nil || b == nil {
			return a == b
		}
		return a.Error() == b.Error()
	})
}

func TestTopologyCloneIsIndependentOfOriginal(t *testing.T) {
	t.Parallel()

	wv := VersionRange{Min: 6, Max: 21}
	orig := Topology{
		Kind: ReplicaSetWithPrimary,
		Servers: map[address.Address]Server{
			"a:27017": {Addr: "a:27017", Kind: RSPrimary, WireVersion: &wv},
			"b:27017": {Addr: "b:27017", Kind: RSSecondary, LastErr: errors.New("boom")},
		},
		SetName: "rs0",
	}

	clone := orig.Clone()

	if diff := cmp.Diff(orig, clone, cmpopts.EquateComparable(VersionRange{}), errComparer()); diff != "" {
		t.Errorf("Clone() diverged from the original immediately after cloning (-orig +clone):\n%s", diff)
	}

	clone.Servers["c:27017"] = Server{Addr: "c:27017", Kind: RSSecondary}
	if _, ok := orig.Servers["c:27017"]; ok {
		t.Error("mutating the clone's Servers map also mutated the original -- Clone() did not copy-on-write")
	}

	delete(clone.Servers, "a:27017")
	if _, ok := orig.Servers["a:27017"]; !ok {
		t.Error("deleting from the clone's Servers map also deleted from the original")
	}
}

func TestTopologySupportsTransactionsRequiresWireVersion(t *testing.T) {
	t.Parallel()

	timeout := int64(30)
	modern := VersionRange{Min: 6, Max: 21}
	old := VersionRange{Min: 0, Max: 6}

	cases := []struct {
		name string
		topo Topology
		want bool
	}{
		{
			name: "replica set with modern wire version supports transactions",
			topo: Topology{
				Kind:                         ReplicaSetWithPrimary,
				LogicalSessionTimeoutMinutes: &timeout,
				Servers: map[address.Address]Server{
					"a:27017": {Addr: "a:27017", Kind: RSPrimary, WireVersion: &modern},
				},
			},
			want: true,
		},
		{
			name: "replica set with a pre-4.0 member does not",
			topo: Topology{
				Kind:                         ReplicaSetWithPrimary,
				LogicalSessionTimeoutMinutes: &timeout,
				Servers: map[address.Address]Server{
					"a:27017": {Addr: "a:27017", Kind: RSPrimary, WireVersion: &old},
				},
			},
			want: false,
		},
		{
			name: "standalone never supports transactions",
			topo: Topology{
				Kind:                         Single,
				LogicalSessionTimeoutMinutes: &timeout,
				Servers: map[address.Address]Server{
					"a:27017": {Addr: "a:27017", Kind: Standalone, WireVersion: &modern},
				},
			},
			want: false,
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := tc.topo.SupportsTransactions(); got != tc.want {
				t.Errorf("SupportsTransactions() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestTopologyPrimaryAddress(t *testing.T) {
	t.Parallel()

	topo := Topology{
		Kind: ReplicaSetWithPrimary,
		Servers: map[address.Address]Server{
			"a:27017": {Addr: "a:27017", Kind: RSSecondary},
			"b:27017": {Addr: "b:27017", Kind: RSPrimary},
		},
	}

	addr, ok := topo.PrimaryAddress()
	if !ok || addr != "b:27017" {
		t.Errorf("PrimaryAddress() = (%v, %v), want (b:27017, true)", addr, ok)
	}

	none := Topology{Kind: ReplicaSetNoPrimary, Servers: map[address.Address]Server{
		"a:27017": {Addr: "a:27017", Kind: RSSecondary},
	}}
	if _, ok := none.PrimaryAddress(); ok {
		t.Error("PrimaryAddress() reported a primary when none exists")
	}
}
