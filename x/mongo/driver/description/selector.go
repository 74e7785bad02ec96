// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package description

import (
	"time"

	"github.com/lattixdb/mongogo/mongo/readpref"
	"github.com/lattixdb/mongogo/x/mongo/driver/address"
)

// ServerSelector narrows a Topology's servers to the candidates eligible
// for one operation (spec.md §4.6). Implementations must be pure functions
// of (topology, candidate list) so selection can be retried against
// successive topology snapshots without side effects.
type ServerSelector interface {
	SelectServer(Topology, []Server) ([]Server, error)
}

// ServerSelectorFunc adapts a function to a ServerSelector.
type ServerSelectorFunc func(Topology, []Server) ([]Server, error)

// SelectServer implements ServerSelector.
func (f ServerSelectorFunc) SelectServer(t Topology, c []Server) ([]Server, error) { return f(t, c) }

// CompositeSelector applies each selector in order, narrowing the candidate
// list at each step -- role filter, then tag-set filter, then staleness
// filter, then local-threshold (spec.md §4.6 steps 2-5).
type CompositeSelector struct {
	Selectors []ServerSelector
}

// SelectServer implements ServerSelector.
func (cs *CompositeSelector) SelectServer(t Topology, candidates []Server) ([]Server, error) {
	var err error
	for _, sel := range cs.Selectors {
		candidates, err = sel.SelectServer(t, candidates)
		if err != nil {
			return nil, err
		}
	}
	return candidates, nil
}

// WriteSelector selects servers able to accept writes (spec.md §4.6 step 2,
// "write ... require RSPrimary, Standalone, or Mongos").
var WriteSelector ServerSelectorFunc = func(_ Topology, candidates []Server) ([]Server, error) {
	var out []Server
	for _, s := range candidates {
		if s.Writable() {
			out = append(out, s)
		}
	}
	return out, nil
}

// ReadPrefSelector filters candidates by read preference mode (spec.md §4.6
// step 2).
func ReadPrefSelector(rp *readpref.ReadPref) ServerSelectorFunc {
	return func(topo Topology, candidates []Server) ([]Server, error) {
		if rp == nil || topo.Kind == Single {
			return candidates, nil
		}
		switch rp.Mode() {
		case readpref.PrimaryMode:
			return filterKind(candidates, RSPrimary), nil
		case readpref.PrimaryPreferredMode:
			primary := filterKind(candidates, RSPrimary)
			if len(primary) > 0 {
				return primary, nil
			}
			return filterSecondaryish(candidates), nil
		case readpref.SecondaryMode:
			return filterSecondaryish(candidates), nil
		case readpref.SecondaryPreferredMode:
			secondaries := filterSecondaryish(candidates)
			if len(secondaries) > 0 {
				return secondaries, nil
			}
			return filterKind(candidates, RSPrimary), nil
		case readpref.NearestMode:
			var out []Server
			for _, s := range candidates {
				if s.Kind == RSPrimary || s.Kind == RSSecondary || s.Kind == Mongos {
					out = append(out, s)
				}
			}
			return out, nil
		default:
			return candidates, nil
		}
	}
}

func filterKind(candidates []Server, kind ServerKind) []Server {
	var out []Server
	for _, s := range candidates {
		if s.Kind == kind {
			out = append(out, s)
		}
	}
	return out
}

func filterSecondaryish(candidates []Server) []Server {
	var out []Server
	for _, s := range candidates {
		if s.Kind == RSSecondary || s.Kind == Mongos {
			out = append(out, s)
		}
	}
	return out
}

// TagSetSelector applies spec.md §4.6 step 3: find the first tag set in the
// preference's ordered list for which any candidate's tag map is a
// superset, and keep only those candidates. Mongos candidates (sharded
// topologies don't carry driver-meaningful tags) always pass through.
func TagSetSelector(rp *readpref.ReadPref) ServerSelectorFunc {
	return func(_ Topology, candidates []Server) ([]Server, error) {
		tagSets := rp.TagSets()
		if rp == nil || len(tagSets) == 0 {
			return candidates, nil
		}
		for _, ts := range tagSets {
			var matched []Server
			for _, s := range candidates {
				if s.Kind == Mongos {
					matched = append(matched, s)
					continue
				}
				if readpref.TagSet(ts).IsSubsetOf(s.Tags) {
					matched = append(matched, s)
				}
			}
			if len(matched) > 0 {
				return matched, nil
			}
		}
		return nil, nil
	}
}

// MaxStalenessSelector implements spec.md §4.6 step 4. A secondary's
// staleness is estimated as:
//
//	(primary.LastWriteDate - secondary.LastWriteDate) + heartbeatFrequency
//
// or, with no primary known, the spread between the freshest and this
// secondary's LastWriteDate plus the heartbeat interval.
func MaxStalenessSelector(rp *readpref.ReadPref, heartbeatInterval time.Duration) ServerSelectorFunc {
	return func(topo Topology, candidates []Server) ([]Server, error) {
		maxStaleness, ok := rp.MaxStaleness()
		if rp == nil || !ok || maxStaleness <= 0 {
			return candidates, nil
		}

		primary, hasPrimary := findPrimary(topo)
		var freshest time.Time
		for _, s := range topo.Servers {
			if s.Kind == RSSecondary && s.LastWriteDate.After(freshest) {
				freshest = s.LastWriteDate
			}
		}

		var out []Server
		for _, s := range candidates {
			if s.Kind != RSSecondary {
				out = append(out, s)
				continue
			}
			var staleness time.Duration
			if hasPrimary {
				staleness = (primary.LastWriteDate.Sub(s.LastWriteDate)) + heartbeatInterval
			} else {
				staleness = (freshest.Sub(s.LastWriteDate)) + heartbeatInterval
			}
			if staleness <= maxStaleness {
				out = append(out, s)
			}
		}
		return out, nil
	}
}

func findPrimary(topo Topology) (Server, bool) {
	for _, s := range topo.Servers {
		if s.Kind == RSPrimary {
			return s, true
		}
	}
	return Server{}, false
}

// LatencySelector implements spec.md §4.6 step 5: keep every candidate
// within localThreshold of the minimum observed RTT.
func LatencySelector(localThreshold time.Duration) ServerSelectorFunc {
	return func(_ Topology, candidates []Server) ([]Server, error) {
		if len(candidates) < 2 {
			return candidates, nil
		}
		min := candidates[0].AverageRTT
		for _, s := range candidates[1:] {
			if s.AverageRTT < min {
				min = s.AverageRTT
			}
		}
		var out []Server
		for _, s := range candidates {
			if s.AverageRTT-min <= localThreshold {
				out = append(out, s)
			}
		}
		return out, nil
	}
}

// SelectedServer is a server chosen by selection, annotated with the
// topology kind it was chosen from (needed to decide e.g. whether a
// sharded-transaction pin applies).
type SelectedServer struct {
	Server
	TopologyKind TopologyKind
}

// PinnedSelector bypasses role/tag/staleness filtering entirely and returns
// exactly the pinned address if present (spec.md §4.10: "Selection for
// pinned operations bypasses the read-preference filter").
func PinnedSelector(addr address.Address) ServerSelectorFunc {
	return func(_ Topology, candidates []Server) ([]Server, error) {
		for _, s := range candidates {
			if s.Addr == addr {
				return []Server{s}, nil
			}
		}
		return nil, nil
	}
}
