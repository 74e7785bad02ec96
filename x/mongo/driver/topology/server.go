// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package topology

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lattixdb/mongogo/event"
	"github.com/lattixdb/mongogo/internal/logger"
	driver "github.com/lattixdb/mongogo/x/mongo/driver"
	"github.com/lattixdb/mongogo/x/mongo/driver/address"
	"github.com/lattixdb/mongogo/x/mongo/driver/auth"
	"github.com/lattixdb/mongogo/x/mongo/driver/description"
	"github.com/lattixdb/mongogo/x/mongo/driver/wiremessage"
)

// minHeartbeatInterval rate-limits RequestImmediateCheck: a checkNow signal
// never causes more than one heartbeat per this interval (spec.md §4.4:
// "minHeartbeatFrequencyMS... defaults to 500ms").
const minHeartbeatInterval = 500 * time.Millisecond

// ErrServerClosed is returned by Connection/Disconnect once the server has
// already been torn down.
var ErrServerClosed = errors.New("topology: server is closed")

// ErrServerConnected is returned by Connect on a server that is already
// running.
var ErrServerConnected = errors.New("topology: server is already connected")

// ErrSubscribeAfterClosed is returned by Subscribe once the server has
// stopped publishing descriptions.
var ErrSubscribeAfterClosed = errors.New("topology: cannot subscribe, server is closed")

const (
	serverDisconnected int32 = iota
	serverDisconnecting
	serverConnected
	serverConnecting
)

// serverConfig collects the dial-time and monitoring settings a Server
// needs, built from the client's ConnString (spec.md §4.1/§4.4).
type serverConfig struct {
	heartbeatInterval time.Duration
	connectTimeout    time.Duration
	maxPoolSize       uint64
	tlsConfig         *tls.Config
	appName           string
	compressors       []wiremessage.CompressorID
	zlibLevel         int
	credential        *auth.Cred

	monitor    *event.ServerMonitor
	topologyID string
	log        *logger.Logger
}

// Server owns one monitored server's connection pool and background
// heartbeat loop, publishing an immutable description.Server snapshot on
// every completed heartbeat (spec.md §3, §4.4). It is the unit the
// Topology manager subscribes to and selects among.
type Server struct {
	cfg     serverConfig
	address address.Address

	connectionstate int32
	pool            *pool

	done          chan struct{}
	checkNow      chan struct{}
	disconnecting chan struct{}
	closewg       sync.WaitGroup

	desc                   atomic.Value // description.Server
	updateTopologyCallback atomic.Value // updateTopologyCallback

	averageRTTSet bool
	averageRTT    time.Duration

	subLock             sync.Mutex
	subscribers         map[uint64]chan description.Server
	currentSubscriberID uint64
	subscriptionsClosed bool

	processErrorLock sync.Mutex

	// requestImmediateCheck points back at the owning Topology's
	// RequestImmediateCheck, set once by addServer. It lets ProcessError
	// force every member server's heartbeat loop to re-probe immediately
	// after a stepdown, the same way the topology already does when
	// SelectServer observes a stale description (spec.md §4.6 step 6).
	requestImmediateCheck func()
}

// newDefaultServerDescription is the Unknown placeholder a server
// publishes before its first heartbeat completes.
func newDefaultServerDescription(addr address.Address) description.Server {
	return description.Server{Addr: addr, Kind: description.Unknown}
}

// NewServer constructs a Server for addr, ready to Connect.
func NewServer(addr address.Address, cfg serverConfig) *Server {
	s := &Server{
		cfg:     cfg,
		address: addr,

		done:          make(chan struct{}),
		checkNow:      make(chan struct{}, 1),
		disconnecting: make(chan struct{}),

		subscribers: make(map[uint64]chan description.Server),
	}
	s.desc.Store(newDefaultServerDescription(addr))
	s.pool = newPool(addr, cfg.maxPoolSize, cfg.log)
	return s
}

// updateTopologyCallback lets the owning Topology manager rewrite or veto
// a heartbeat's description before it is published and before
// subscribers see it (spec.md §4.4: "the monitor hands each new
// description to the topology manager").
type updateTopologyCallback func(description.Server) description.Server

// Connect starts the server's background heartbeat goroutine. Must be
// called before Connection/Subscribe are used.
func (s *Server) Connect(cb updateTopologyCallback) error {
	if !atomic.CompareAndSwapInt32(&s.connectionstate, serverDisconnected, serverConnected) {
		return ErrServerConnected
	}
	s.updateTopologyCallback.Store(cb)
	s.closewg.Add(1)
	go s.update()
	return nil
}

// Disconnect stops the heartbeat loop and closes the connection pool,
// waiting for the monitoring goroutine to exit (spec.md §3's teardown
// lifecycle step).
func (s *Server) Disconnect(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.connectionstate, serverConnected, serverDisconnecting) {
		return ErrServerClosed
	}
	s.updateTopologyCallback.Store(updateTopologyCallback(nil))

	select {
	case <-ctx.Done():
		close(s.disconnecting)
		s.done <- struct{}{}
	case s.done <- struct{}{}:
	}

	s.pool.Disconnect()
	s.closewg.Wait()
	atomic.StoreInt32(&s.connectionstate, serverDisconnected)
	return nil
}

// Connection checks out a connection from the pool, dialing and
// handshaking a fresh one if none is idle (spec.md §3's "Connection pool
// checkout").
func (s *Server) Connection(ctx context.Context) (driver.Connection, error) {
	if atomic.LoadInt32(&s.connectionstate) != serverConnected {
		return nil, ErrServerClosed
	}

	var nextID uint64
	conn, err := s.pool.Checkout(ctx, func(ctx context.Context, generation uint64) (*Connection, error) {
		id := atomic.AddUint64(&nextID, 1)
		c, err := dialConnection(ctx, s.address, generation, id, s.connConfig())
		if err != nil {
			s.processHandshakeError(err)
		}
		return c, err
	})
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// CheckIn returns conn to the pool once the caller is done with it.
func (s *Server) CheckIn(conn *Connection) {
	s.pool.Checkin(conn)
}

func (s *Server) connConfig() connectionConfig {
	var authenticator auth.Authenticator
	if s.cfg.credential != nil {
		authenticator, _ = auth.CreateAuthenticator(s.cfg.credential.Mechanism, s.cfg.credential)
	}
	return connectionConfig{
		connectTimeout: s.cfg.connectTimeout,
		tlsConfig:      s.cfg.tlsConfig,
		appName:        s.cfg.appName,
		compressors:    s.cfg.compressors,
		zlibLevel:      s.cfg.zlibLevel,
		handshaker: func(ctx context.Context, conn *Connection) (description.Server, error) {
			return sayHello(ctx, conn, s.cfg.appName, s.cfg.compressors, authenticator, nil)
		},
	}
}

// processHandshakeError implements SDAM error handling for failures that
// occur before a connection finishes handshaking: the server is marked
// Unknown and the pool is cleared so no other checkout reuses a socket to
// the same broken address (spec.md §4.7 "connection error -> mark stale").
func (s *Server) processHandshakeError(err error) {
	wrapped := unwrapConnectionError(err)
	if wrapped == nil {
		return
	}
	desc := description.Server{Addr: s.address, Kind: description.Unknown, LastErr: err}
	s.updateDescription(desc)
	s.pool.Clear()
}

// ProcessError implements driver.Server: it is Operation's hook for a
// command-level error observed on an otherwise healthy connection (a
// stepdown/NotMaster reply or a retryable network error), mirroring
// processHandshakeError's pre-handshake handling for errors that instead
// surface after a live round trip (spec.md §4.6 step 6, §4.7: "mark the
// server Unknown... mark the topology stale so monitors re-probe
// immediately").
func (s *Server) ProcessError(err error) {
	s.processErrorLock.Lock()
	defer s.processErrorLock.Unlock()

	desc := description.Server{Addr: s.address, Kind: description.Unknown, LastErr: err}
	s.updateDescription(desc)
	s.pool.Clear()
	if s.requestImmediateCheck != nil {
		s.requestImmediateCheck()
	}
}

// Description returns the most recently published ServerDescription.
func (s *Server) Description() description.Server {
	return s.desc.Load().(description.Server)
}

// SelectedDescription wraps the current description as a single-server
// selection result, for commands that bypass ordinary selection (direct
// connections, the handshake itself).
func (s *Server) SelectedDescription() description.SelectedServer {
	return description.SelectedServer{Server: s.Description(), TopologyKind: description.Single}
}

// ServerSubscription delivers every description.Server this Server
// publishes, starting with the one current at subscribe time.
type ServerSubscription struct {
	C  <-chan description.Server
	s  *Server
	id uint64
}

// Unsubscribe removes this subscription; the server stops sending to C.
func (ss *ServerSubscription) Unsubscribe() error {
	ss.s.subLock.Lock()
	defer ss.s.subLock.Unlock()
	if ss.s.subscriptionsClosed {
		return nil
	}
	ch, ok := ss.s.subscribers[ss.id]
	if !ok {
		return nil
	}
	close(ch)
	delete(ss.s.subscribers, ss.id)
	return nil
}

// Subscribe registers a new subscriber, pre-populated with the current
// description (spec.md §4.4: the topology manager subscribes to every
// member server).
func (s *Server) Subscribe() (*ServerSubscription, error) {
	if atomic.LoadInt32(&s.connectionstate) != serverConnected {
		return nil, ErrSubscribeAfterClosed
	}
	ch := make(chan description.Server, 1)
	ch <- s.Description()

	s.subLock.Lock()
	defer s.subLock.Unlock()
	if s.subscriptionsClosed {
		return nil, ErrSubscribeAfterClosed
	}
	id := s.currentSubscriberID
	s.subscribers[id] = ch
	s.currentSubscriberID++

	return &ServerSubscription{C: ch, s: s, id: id}, nil
}

// RequestImmediateCheck wakes the heartbeat loop early, rate-limited to
// once per minHeartbeatInterval (spec.md §4.4's checkNow signal, used
// after a stale-primary or stepdown error).
func (s *Server) RequestImmediateCheck() {
	select {
	case s.checkNow <- struct{}{}:
	default:
	}
}

// update is the background heartbeat loop: one hello/isMaster per
// heartbeatInterval, or immediately on a rate-limited checkNow signal
// (spec.md §4.4).
func (s *Server) update() {
	defer s.closewg.Done()
	defer s.closeServer()

	heartbeatTicker := time.NewTicker(s.cfg.heartbeatInterval)
	rateLimiter := time.NewTicker(minHeartbeatInterval)
	defer heartbeatTicker.Stop()
	defer rateLimiter.Stop()

	var conn *Connection
	checkNow := func() {
		desc, newConn := s.heartbeat(conn)
		conn = newConn
		s.updateDescription(desc)
	}
	checkNow()

	waitForRateLimit := false
	for {
		if waitForRateLimit {
			select {
			case <-rateLimiter.C:
			case <-s.done:
				return
			}
		}
		select {
		case <-heartbeatTicker.C:
			checkNow()
			waitForRateLimit = true
		case <-s.checkNow:
			checkNow()
			waitForRateLimit = true
		case <-s.done:
			return
		}
	}
}

func (s *Server) closeServer() {
	s.subLock.Lock()
	s.subscriptionsClosed = true
	for id, ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, id)
	}
	s.subLock.Unlock()
}

// updateDescription stores desc (after letting the topology manager veto
// or rewrite it), then fans it out to every subscriber, draining any
// stale pending value first so subscribers never see more than one
// description behind (spec.md §4.4).
func (s *Server) updateDescription(desc description.Server) {
	previous := s.Description()

	if cbVal := s.updateTopologyCallback.Load(); cbVal != nil {
		if cb, ok := cbVal.(updateTopologyCallback); ok && cb != nil {
			desc = cb(desc)
		}
	}
	s.desc.Store(desc)

	prevStr, newStr := describeServer(previous), describeServer(desc)
	if prevStr != newStr {
		if s.cfg.monitor != nil && s.cfg.monitor.ServerDescriptionChanged != nil {
			s.cfg.monitor.ServerDescriptionChanged(event.ServerDescriptionChangedEvent{
				Address:             string(s.address),
				TopologyID:          s.cfg.topologyID,
				PreviousDescription: prevStr,
				NewDescription:      newStr,
			})
		}
		s.cfg.log.Print(logger.LevelDebug, logger.ComponentTopology, "server description changed", "address", string(s.address), "previousDescription", prevStr, "newDescription", newStr)
	}

	s.subLock.Lock()
	defer s.subLock.Unlock()
	for _, ch := range s.subscribers {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- desc:
		default:
		}
	}
}

// heartbeat runs one hello/isMaster against conn, dialing a fresh
// connection if conn is nil or expired, retrying once on a connectivity
// failure before giving up and reporting the server Unknown (spec.md §4.4:
// "on failure, retry once before marking the server Unknown").
func (s *Server) heartbeat(conn *Connection) (description.Server, *Connection) {
	const maxRetry = 2
	var lastErr error
	connID := string(s.address)

	for attempts := 1; attempts <= maxRetry; attempts++ {
		if conn != nil && conn.expired(s.pool.Generation()) {
			conn.close()
			conn = nil
		}

		if conn == nil {
			heartbeatCtx, cancel := context.WithTimeout(context.Background(), s.cfg.connectTimeout)
			s.publishHeartbeatStarted(connID)
			start := time.Now()
			newConn, err := dialConnection(heartbeatCtx, s.address, s.pool.Generation(), 0, connectionConfig{
				connectTimeout: s.cfg.connectTimeout,
				tlsConfig:      s.cfg.tlsConfig,
				handshaker: func(ctx context.Context, c *Connection) (description.Server, error) {
					return sayHello(ctx, c, s.cfg.appName, s.cfg.compressors, nil, nil)
				},
			})
			cancel()
			if err != nil {
				s.publishHeartbeatFailed(connID, time.Since(start), err)
				lastErr = err
				if wrapped := unwrapConnectionError(err); wrapped != nil {
					s.pool.Clear()
					if s.Description().Kind == description.Unknown {
						break
					}
				}
				continue
			}
			s.publishHeartbeatSucceeded(connID, time.Since(start), newConn.Description())
			conn = newConn
			return conn.Description(), conn
		}

		s.publishHeartbeatStarted(connID)
		now := time.Now()
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.connectTimeout)
		desc, err := sayHello(ctx, conn, s.cfg.appName, s.cfg.compressors, nil, nil)
		cancel()
		if err != nil {
			s.publishHeartbeatFailed(connID, time.Since(now), err)
			lastErr = err
			conn.close()
			conn = nil
			if wrapped := unwrapConnectionError(err); wrapped != nil {
				s.pool.Clear()
				if s.Description().Kind == description.Unknown {
					break
				}
			}
			continue
		}
		delay := time.Since(now)
		s.publishHeartbeatSucceeded(connID, delay, desc)
		desc.AverageRTT = s.updateAverageRTT(delay)
		desc.AverageRTTSet = true
		return desc, conn
	}

	if conn != nil {
		conn.close()
	}
	return description.Server{Addr: s.address, Kind: description.Unknown, LastErr: lastErr}, nil
}

// updateAverageRTT folds delay into the server's exponentially weighted
// moving average round-trip time (spec.md §4.4: "alpha = 0.2").
func (s *Server) updateAverageRTT(delay time.Duration) time.Duration {
	const alpha = 0.2
	if !s.averageRTTSet {
		s.averageRTT = delay
		s.averageRTTSet = true
	} else {
		s.averageRTT = time.Duration(alpha*float64(delay) + (1-alpha)*float64(s.averageRTT))
	}
	return s.averageRTT
}

func (s *Server) String() string {
	return fmt.Sprintf("Server(%s) %s", s.address, s.Description().Kind)
}

// describeServer renders a server description for ServerMonitor event
// payloads.
func describeServer(desc description.Server) string {
	return fmt.Sprintf("Type: %s, Addr: %s, SetName: %s, Err: %v", desc.Kind, desc.Addr, desc.SetName, desc.LastErr)
}

func (s *Server) publishHeartbeatStarted(connID string) {
	if s.cfg.monitor == nil || s.cfg.monitor.ServerHeartbeatStarted == nil {
		return
	}
	s.cfg.monitor.ServerHeartbeatStarted(event.ServerHeartbeatStartedEvent{ConnectionID: connID})
}

func (s *Server) publishHeartbeatSucceeded(connID string, delay time.Duration, desc description.Server) {
	if s.cfg.monitor == nil || s.cfg.monitor.ServerHeartbeatSucceeded == nil {
		return
	}
	s.cfg.monitor.ServerHeartbeatSucceeded(event.ServerHeartbeatSucceededEvent{
		Duration:     delay,
		Reply:        []byte(desc.Raw),
		ConnectionID: connID,
	})
}

func (s *Server) publishHeartbeatFailed(connID string, delay time.Duration, err error) {
	s.cfg.log.Print(logger.LevelDebug, logger.ComponentTopology, "heartbeat failed", "address", string(s.address), "connectionID", connID, "failure", err.Error())
	if s.cfg.monitor == nil || s.cfg.monitor.ServerHeartbeatFailed == nil {
		return
	}
	s.cfg.monitor.ServerHeartbeatFailed(event.ServerHeartbeatFailedEvent{
		Duration:     delay,
		Failure:      err.Error(),
		ConnectionID: connID,
	})
}
