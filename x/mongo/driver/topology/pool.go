// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package topology implements the per-server connection pool and monitor,
// and the topology manager that aggregates ServerDescriptions into a
// TopologyDescription and drives server selection (spec.md §3, §4.4,
// §4.6).
package topology

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/lattixdb/mongogo/internal/logger"
	"github.com/lattixdb/mongogo/x/mongo/driver/address"
)

// ErrPoolClosed is returned by Checkout once the pool has been cleared for
// the last time by Disconnect.
var ErrPoolClosed = errors.New("topology: connection pool is closed")

// pool is the bounded, generation-tagged connection pool described by
// spec.md's Connection data model ("generation number... retired when...
// the generation is bumped") and §5's shared-resource policy ("Connection
// pool: guarded stack plus wait queue"). The semaphore provides the
// bounded wait queue; the generation counter lets Clear invalidate every
// outstanding and idle connection without enumerating them.
type pool struct {
	address address.Address

	sem *semaphore.Weighted

	mu         sync.Mutex
	idle       []*Connection
	generation uint64
	closed     bool

	maxPoolSize uint64

	log *logger.Logger
}

// newPool constructs a pool bounded to maxPoolSize concurrently checked-out
// connections.
func newPool(addr address.Address, maxPoolSize uint64, log *logger.Logger) *pool {
	if maxPoolSize == 0 {
		maxPoolSize = 100
	}
	return &pool{
		address:     addr,
		sem:         semaphore.NewWeighted(int64(maxPoolSize)),
		maxPoolSize: maxPoolSize,
		generation:  1,
		log:         log,
	}
}

// Checkout acquires a connection, bounded by ctx (the wait-queue timeout,
// spec.md §5 "Connection pool checkout (bounded by wait-queue timeout)"):
// an idle connection from the current generation if one is available and
// still alive, otherwise a fresh one from dial.
func (p *pool) Checkout(ctx context.Context, dial func(ctx context.Context, generation uint64) (*Connection, error)) (*Connection, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	p.mu.Unlock()

	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	for {
		p.mu.Lock()
		if p.closed {
			generation := p.generation
			p.mu.Unlock()
			p.sem.Release(1)
			_ = generation
			return nil, ErrPoolClosed
		}
		if len(p.idle) > 0 {
			conn := p.idle[len(p.idle)-1]
			p.idle = p.idle[:len(p.idle)-1]
			currentGen := p.generation
			p.mu.Unlock()

			if conn.generation != currentGen || !conn.alive() {
				conn.close()
				continue
			}
			p.log.Print(logger.LevelDebug, logger.ComponentConnection, "connection checked out", "address", string(p.address))
			return conn, nil
		}
		currentGen := p.generation
		p.mu.Unlock()

		conn, err := dial(ctx, currentGen)
		if err != nil {
			p.sem.Release(1)
			return nil, err
		}
		p.log.Print(logger.LevelDebug, logger.ComponentConnection, "connection checked out", "address", string(p.address))
		return conn, nil
	}
}

// Checkin returns conn to the idle list if it's from the current generation
// and still alive, otherwise closes it and releases its slot.
func (p *pool) Checkin(conn *Connection) {
	defer p.sem.Release(1)

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed || conn.generation != p.generation || !conn.alive() {
		p.mu.Unlock()
		conn.close()
		p.mu.Lock()
		return
	}
	p.idle = append(p.idle, conn)
	p.log.Print(logger.LevelDebug, logger.ComponentConnection, "connection checked in", "address", string(p.address))
}

// Clear bumps the generation, invalidating every outstanding connection on
// its next checkin and every idle connection immediately, without closing
// the pool itself (spec.md §3: "retired when... the generation is
// bumped"). Invoked when a server's monitor observes a connectivity
// failure, per spec.md §4.4/§4.7's "mark stale" signal.
func (p *pool) Clear() {
	p.mu.Lock()
	p.generation++
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()

	p.log.Print(logger.LevelDebug, logger.ComponentConnection, "connection pool cleared", "address", string(p.address))

	for _, c := range idle {
		c.close()
	}
}

// Disconnect closes the pool permanently, closing every idle connection.
func (p *pool) Disconnect() {
	p.mu.Lock()
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()

	for _, c := range idle {
		c.close()
	}
}

// Generation returns the pool's current generation, used by the heartbeat
// loop to tag its monitoring connection and to retire it once stale.
func (p *pool) Generation() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.generation
}
