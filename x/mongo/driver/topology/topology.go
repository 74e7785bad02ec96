// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package topology

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lattixdb/mongogo/bson/primitive"
	"github.com/lattixdb/mongogo/event"
	"github.com/lattixdb/mongogo/internal/csot"
	"github.com/lattixdb/mongogo/internal/logger"
	driver "github.com/lattixdb/mongogo/x/mongo/driver"
	"github.com/lattixdb/mongogo/x/mongo/driver/address"
	"github.com/lattixdb/mongogo/x/mongo/driver/auth"
	"github.com/lattixdb/mongogo/x/mongo/driver/connstring"
	"github.com/lattixdb/mongogo/x/mongo/driver/description"
	"github.com/lattixdb/mongogo/x/mongo/driver/wiremessage"
)

// ErrTopologyClosed is returned by Select/FindServer once the topology has
// been disconnected.
var ErrTopologyClosed = errors.New("topology: manager is closed")

// ErrServerSelectionTimeout is returned when no server satisfying a
// ServerSelector becomes available before the deadline (spec.md §4.6 step
// 6: "retry until serverSelectionTimeoutMS elapses").
var ErrServerSelectionTimeout = errors.New("topology: server selection timed out")

// Topology owns every monitored Server in a deployment and aggregates
// their published ServerDescriptions into one immutable
// description.Topology snapshot, which server selection consumes (spec.md
// §3, §4.6). It implements the SDAM state-transition rules of spec.md
// §4.4: stale writes are dropped, a replica set's host list drives adding
// and removing member servers, and a setVersion/electionId regression
// demotes a stale primary.
type Topology struct {
	mu      sync.RWMutex
	servers map[address.Address]*Server
	desc    description.Topology

	cfg replicaSetConfig

	id      string
	monitor *event.ServerMonitor
	log     *logger.Logger

	subLock     sync.Mutex
	subscribers map[uint64]chan description.Topology
	nextSubID   uint64

	pendingRemovals []address.Address

	connected bool
}

// replicaSetConfig is the subset of connstring.ConnString the topology
// manager needs to decide its initial TopologyKind and server-construction
// settings (spec.md §4.1).
type replicaSetConfig struct {
	setName                string
	mode                   description.TopologyKind
	serverSelectionTimeout time.Duration
	localThreshold         time.Duration
	heartbeatInterval      time.Duration
	serverConfig           serverConfig
}

// NewTopology builds a Topology from a parsed connection string, seeding
// one Server per host entry (spec.md §4.1 "a seed list of one or more
// hosts"). monitor, if non-nil, receives every SDAM lifecycle and
// description-change event this topology and its member servers publish.
// log, if non-nil, additionally records topology/server-selection/
// connection lifecycle events at LevelInfo/LevelDebug through the
// driver's ambient logging stack.
func NewTopology(cs *connstring.ConnString, monitor *event.ServerMonitor, log *logger.Logger) (*Topology, error) {
	if len(cs.Hosts) == 0 {
		return nil, errors.New("topology: at least one host is required")
	}

	kind := description.Single
	if cs.ReplicaSet != "" {
		kind = description.ReplicaSetNoPrimary
	} else if len(cs.Hosts) > 1 {
		kind = description.Sharded
	}

	heartbeatInterval := cs.HeartbeatInterval
	if heartbeatInterval <= 0 {
		heartbeatInterval = 10 * time.Second
	}
	serverSelectionTimeout := cs.ServerSelectionTimeout
	if serverSelectionTimeout <= 0 {
		serverSelectionTimeout = 30 * time.Second
	}
	connectTimeout := cs.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 30 * time.Second
	}

	maxPoolSize := uint64(100)
	if cs.MaxPoolSize > 0 {
		maxPoolSize = cs.MaxPoolSize
	}

	var compressors []wiremessage.CompressorID
	for _, name := range cs.Compressors {
		if id, ok := wiremessage.CompressorIDFromName(name); ok {
			compressors = append(compressors, id)
		}
	}

	var cred *auth.Cred
	if cs.Username != "" || cs.PasswordSet {
		cred = &auth.Cred{
			Source:      cs.AuthSource,
			Username:    cs.Username,
			Password:    cs.Password,
			PasswordSet: cs.PasswordSet,
			Mechanism:   cs.AuthMechanism,
			Props:       cs.AuthMechanismProperties,
		}
		if cred.Source == "" {
			cred.Source = "admin"
		}
	}

	topologyID := primitive.NewObjectID().Hex()

	t := &Topology{
		id:          topologyID,
		monitor:     monitor,
		log:         log,
		servers:     make(map[address.Address]*Server),
		subscribers: make(map[uint64]chan description.Topology),
		cfg: replicaSetConfig{
			setName:                cs.ReplicaSet,
			mode:                   kind,
			serverSelectionTimeout: serverSelectionTimeout,
			localThreshold:         cs.LocalThreshold,
			heartbeatInterval:      heartbeatInterval,
			serverConfig: serverConfig{
				heartbeatInterval: heartbeatInterval,
				connectTimeout:    connectTimeout,
				maxPoolSize:       maxPoolSize,
				appName:           cs.AppName,
				compressors:       compressors,
				credential:        cred,
				monitor:           monitor,
				topologyID:        topologyID,
				log:               log,
			},
		},
	}

	t.desc = description.Topology{Kind: kind, Servers: map[address.Address]description.Server{}, SetName: cs.ReplicaSet}

	if t.monitor != nil && t.monitor.TopologyOpening != nil {
		t.monitor.TopologyOpening(event.TopologyOpeningEvent{TopologyID: t.id})
	}
	t.log.Print(logger.LevelInfo, logger.ComponentTopology, "topology opening", "topologyID", t.id)

	for _, h := range cs.Hosts {
		addr := address.Address(h).Canonicalize()
		t.addServer(addr)
	}

	return t, nil
}

// Connect starts monitoring every seed server.
func (t *Topology) Connect() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connected = true
	for _, s := range t.servers {
		if err := s.Connect(t.apply); err != nil && err != ErrServerConnected {
			return err
		}
	}
	return nil
}

// Disconnect stops monitoring and disconnects every server.
func (t *Topology) Disconnect(ctx context.Context) error {
	t.mu.Lock()
	servers := make([]*Server, 0, len(t.servers))
	for _, s := range t.servers {
		servers = append(servers, s)
	}
	t.connected = false
	t.mu.Unlock()

	var firstErr error
	for _, s := range servers {
		if err := s.Disconnect(ctx); err != nil && err != ErrServerClosed && firstErr == nil {
			firstErr = err
		}
	}

	if t.monitor != nil && t.monitor.TopologyClosed != nil {
		t.monitor.TopologyClosed(event.TopologyClosedEvent{TopologyID: t.id})
	}
	t.log.Print(logger.LevelInfo, logger.ComponentTopology, "topology closed", "topologyID", t.id)

	return firstErr
}

func (t *Topology) addServer(addr address.Address) *Server {
	if s, ok := t.servers[addr]; ok {
		return s
	}
	if t.monitor != nil && t.monitor.ServerOpening != nil {
		t.monitor.ServerOpening(event.ServerOpeningEvent{Address: string(addr), TopologyID: t.id})
	}
	s := NewServer(addr, t.cfg.serverConfig)
	s.requestImmediateCheck = t.RequestImmediateCheck
	t.servers[addr] = s
	t.desc.Servers[addr] = newDefaultServerDescription(addr)
	if t.connected {
		_ = s.Connect(t.apply)
	}
	return s
}

func (t *Topology) removeServer(ctx context.Context, addr address.Address) {
	s, ok := t.servers[addr]
	if !ok {
		return
	}
	delete(t.servers, addr)
	delete(t.desc.Servers, addr)
	go s.Disconnect(ctx)
	if t.monitor != nil && t.monitor.ServerClosed != nil {
		t.monitor.ServerClosed(event.ServerClosedEvent{Address: string(addr), TopologyID: t.id})
	}
}

// apply is the updateTopologyCallback every member Server invokes with its
// freshly completed heartbeat description; it runs the SDAM transition
// table (spec.md §4.4) under the topology lock and publishes the resulting
// snapshot to subscribers.
func (t *Topology) apply(desc description.Server) description.Server {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.connected {
		return desc
	}

	prev, existed := t.desc.Servers[desc.Addr]
	if existed && desc.TopologyVer != nil && prev.TopologyVer != nil && !desc.TopologyVer.NewerThan(prev.TopologyVer) {
		// Stale heartbeat racing a fresher one for the same server; drop it
		// (spec.md §4.4: "discard responses that race a fresher update").
		return prev
	}

	switch t.desc.Kind {
	case description.Single:
		// A single monitored server is always trusted as-is.
	case description.Sharded:
		if desc.Kind != description.Unknown && desc.Kind != description.Mongos {
			desc = description.Server{Addr: desc.Addr, Kind: description.Unknown, LastErr: fmt.Errorf("topology: %s is not a mongos", desc.Addr)}
		}
	default:
		t.applyReplicaSetRules(&desc)
	}

	previousDesc := describeTopology(t.desc)

	t.desc.Servers[desc.Addr] = desc

	if len(t.pendingRemovals) > 0 {
		removals := t.pendingRemovals
		t.pendingRemovals = nil
		for _, addr := range removals {
			t.removeServer(context.Background(), addr)
		}
	}

	t.recomputeKind()
	t.recomputeSessionTimeout()

	if newDesc := describeTopology(t.desc); previousDesc != newDesc {
		if t.monitor != nil && t.monitor.TopologyDescriptionChanged != nil {
			t.monitor.TopologyDescriptionChanged(event.TopologyDescriptionChangedEvent{
				TopologyID:          t.id,
				PreviousDescription: previousDesc,
				NewDescription:      newDesc,
			})
		}
		t.log.Print(logger.LevelDebug, logger.ComponentTopology, "topology description changed", "topologyID", t.id, "previousDescription", previousDesc, "newDescription", newDesc)
	}

	t.publish()

	return desc
}

// describeTopology renders a topology snapshot for ServerMonitor event
// payloads, mirroring how the driver's TopologyDescription.String() reads.
func describeTopology(desc description.Topology) string {
	return fmt.Sprintf("Type: %s, Servers: %v", desc.Kind, desc.Servers)
}

// applyReplicaSetRules implements spec.md §4.4's replica-set-specific
// rules: host-list-driven membership changes, me-mismatch re-keying, and
// stale-primary demotion via setVersion/electionId comparison.
func (t *Topology) applyReplicaSetRules(desc *description.Server) {
	if desc.Kind == description.Unknown {
		return
	}

	if desc.SetName != "" && t.cfg.setName != "" && desc.SetName != t.cfg.setName {
		*desc = description.Server{Addr: desc.Addr, Kind: description.Unknown, LastErr: fmt.Errorf("topology: server reports replica set %q, expected %q", desc.SetName, t.cfg.setName)}
		return
	}

	if desc.Me != "" && desc.Me != desc.Addr {
		// The server's self-reported address differs from how we dialed it
		// (spec.md §4.4 "me mismatch"): drop this entry, the canonical
		// address will be discovered via the host list below.
		desc.Kind = description.Unknown
	}

	if desc.Kind == description.RSPrimary {
		if existingPrimary, ok := t.desc.PrimaryAddress(); ok && existingPrimary != desc.Addr {
			// Two primaries observed simultaneously; demote whichever is
			// older by (setVersion, electionId), spec.md §4.4's stale
			// primary check.
			old := t.desc.Servers[existingPrimary]
			if !isNewerPrimary(*desc, old) {
				*desc = description.Server{Addr: desc.Addr, Kind: description.Unknown, LastErr: errors.New("topology: stale primary superseded by a newer election")}
				return
			}
			t.desc.Servers[existingPrimary] = description.Server{Addr: existingPrimary, Kind: description.Unknown, LastErr: errors.New("topology: demoted by a newer primary")}
		}
		if desc.HasSetVers && (t.desc.MaxSetVersion == 0 || desc.SetVersion >= t.desc.MaxSetVersion) {
			t.desc.MaxSetVersion = desc.SetVersion
			t.desc.MaxElectionID = desc.ElectionID
		}
	}

	members := append(append(append([]string{}, desc.Hosts...), desc.Passives...), desc.Arbiters...)
	for _, host := range members {
		addr := address.Address(host).Canonicalize()
		if _, ok := t.desc.Servers[addr]; !ok {
			t.addServer(addr)
		}
	}

	if desc.Kind == description.RSPrimary {
		// The primary's host list is authoritative: any member no longer
		// listed has left the set and is removed (spec.md §4.4 "the primary's
		// reported host list drives adding and removing member servers").
		keep := make(map[address.Address]bool, len(members)+1)
		keep[desc.Addr] = true
		for _, host := range members {
			keep[address.Address(host).Canonicalize()] = true
		}
		for addr := range t.desc.Servers {
			if !keep[addr] {
				t.pendingRemovals = append(t.pendingRemovals, addr)
			}
		}
	}
}

// isNewerPrimary reports whether a reports a strictly newer election than
// b, by (setVersion, electionId) per spec.md §4.4.
func isNewerPrimary(a, b description.Server) bool {
	if a.HasSetVers && b.HasSetVers && a.SetVersion != b.SetVersion {
		return a.SetVersion > b.SetVersion
	}
	return string(a.ElectionID) > string(b.ElectionID)
}

// recomputeKind derives the topology's aggregate TopologyKind from its
// member descriptions (spec.md §3).
func (t *Topology) recomputeKind() {
	if t.desc.Kind == description.Single || t.desc.Kind == description.Sharded || t.desc.Kind == description.LoadBalanced {
		return
	}
	if _, ok := t.desc.PrimaryAddress(); ok {
		t.desc.Kind = description.ReplicaSetWithPrimary
	} else {
		t.desc.Kind = description.ReplicaSetNoPrimary
	}
}

// recomputeSessionTimeout sets the topology's logicalSessionTimeoutMinutes
// to the minimum across all data-bearing servers, or nil if any data-bearing
// server doesn't report one (spec.md §3).
func (t *Topology) recomputeSessionTimeout() {
	var min *int64
	for _, s := range t.desc.Servers {
		if !s.DataBearing() {
			continue
		}
		if s.SessionTimeoutMinutes == nil {
			t.desc.LogicalSessionTimeoutMinutes = nil
			return
		}
		if min == nil || *s.SessionTimeoutMinutes < *min {
			v := *s.SessionTimeoutMinutes
			min = &v
		}
	}
	t.desc.LogicalSessionTimeoutMinutes = min
}

// publish snapshots the current topology description to every subscriber,
// mirroring the server-level drain-then-send pattern (spec.md §4.4).
func (t *Topology) publish() {
	snap := t.desc.Clone()
	t.subLock.Lock()
	defer t.subLock.Unlock()
	for _, ch := range t.subscribers {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}

// Description returns the current topology snapshot.
func (t *Topology) Description() description.Topology {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.desc.Clone()
}

// Subscribe registers a channel that receives every future topology
// snapshot, starting with the current one.
func (t *Topology) Subscribe() (chan description.Topology, func(), error) {
	t.mu.RLock()
	snap := t.desc.Clone()
	t.mu.RUnlock()

	ch := make(chan description.Topology, 1)
	ch <- snap

	t.subLock.Lock()
	id := t.nextSubID
	t.subscribers[id] = ch
	t.nextSubID++
	t.subLock.Unlock()

	unsubscribe := func() {
		t.subLock.Lock()
		defer t.subLock.Unlock()
		if c, ok := t.subscribers[id]; ok {
			close(c)
			delete(t.subscribers, id)
		}
	}
	return ch, unsubscribe, nil
}

// RequestImmediateCheck wakes every member server's heartbeat loop, used
// after a stepdown/stale-primary error forces a faster rediscovery
// (spec.md §4.7).
func (t *Topology) RequestImmediateCheck() {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, s := range t.servers {
		s.RequestImmediateCheck()
	}
}

// SelectServer blocks until a server satisfying selector is found or
// ctx/the configured serverSelectionTimeout elapses, re-checking on every
// fresh topology publication in between (spec.md §4.6 step 6: "mark
// stale, retry until serverSelectionTimeoutMS elapses").
func (t *Topology) SelectServer(ctx context.Context, selector description.ServerSelector) (driver.Server, error) {
	timeoutCtx, cancel := csot.WithServerSelectionTimeout(ctx, t.cfg.serverSelectionTimeout)
	defer cancel()

	ch, unsubscribe, err := t.Subscribe()
	if err != nil {
		return nil, err
	}
	defer unsubscribe()

	for {
		t.mu.RLock()
		connected := t.connected
		current := t.desc.Clone()
		t.mu.RUnlock()
		if !connected {
			return nil, ErrTopologyClosed
		}

		if !current.Stale {
			candidates := make([]description.Server, 0, len(current.Servers))
			for _, s := range current.Servers {
				candidates = append(candidates, s)
			}
			selected, err := selector.SelectServer(current, candidates)
			if err != nil {
				return nil, err
			}
			if len(selected) > 0 {
				addr := pickRandom(selected).Addr
				t.mu.RLock()
				srv, ok := t.servers[addr]
				t.mu.RUnlock()
				if ok {
					return srv, nil
				}
			}
		}

		t.log.Print(logger.LevelDebug, logger.ComponentServerSelection, "waiting for a suitable server", "selector", fmt.Sprintf("%v", selector))
		t.RequestImmediateCheck()

		select {
		case <-ch:
		case <-timeoutCtx.Done():
			t.log.Print(logger.LevelInfo, logger.ComponentServerSelection, "server selection timed out", "selector", fmt.Sprintf("%v", selector))
			return nil, fmt.Errorf("%w: %v", ErrServerSelectionTimeout, selector)
		}
	}
}

// pickRandom returns one element of candidates uniformly at random, the
// final step of server selection once latency filtering has narrowed the
// field (spec.md §4.6 step 5: "select randomly among the survivors").
func pickRandom(candidates []description.Server) description.Server {
	if len(candidates) == 1 {
		return candidates[0]
	}
	idx := randIntn(len(candidates))
	return candidates[idx]
}
