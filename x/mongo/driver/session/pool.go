// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package session

import (
	"container/list"
	"sync"
	"time"
)

// EndSessionsFunc sends a best-effort endSessions admin command for up to
// 10,000 session ids at a time (spec.md §4.8: "batch up to 10,000 session
// ids at a time... best-effort (errors ignored)"). Supplied by the caller
// so this package stays free of a dependency on the operation dispatcher.
type EndSessionsFunc func(sessionIDs [][]byte)

const endSessionsBatchSize = 10000

// Pool is the process-wide queue of ServerSessions described by spec.md
// §4.8. Sessions are recycled front-to-back (checkout pops the front,
// checkin pushes the front) so the most recently used sessions are reused
// first and the least recently used naturally age toward the back, where
// checkin's expiry sweep looks for them.
type Pool struct {
	mu    sync.Mutex
	queue *list.List // of *ServerSession
	epoch uint64
}

// NewPool constructs an empty session pool.
func NewPool() *Pool {
	return &Pool{queue: list.New()}
}

// Checkout pops the front of the queue, discarding any sessions within one
// minute of timeoutMinutes; if the queue is exhausted, a new session is
// minted tagged with the pool's current epoch (spec.md §4.8).
func (p *Pool) Checkout(timeoutMinutes int64) (*ServerSession, error) {
	p.mu.Lock()
	epoch := p.epoch
	for e := p.queue.Front(); e != nil; e = p.queue.Front() {
		ss := e.Value.(*ServerSession)
		p.queue.Remove(e)
		if ss.expired(timeoutMinutes) {
			continue
		}
		p.mu.Unlock()
		return ss, nil
	}
	p.mu.Unlock()
	return newServerSession(epoch)
}

// Checkin returns ss to the pool, unless it's stale relative to the pool's
// epoch, dirty, or itself expired; it also sweeps expiring sessions off
// the back of the queue before pushing ss onto the front (spec.md §4.8).
func (p *Pool) Checkin(ss *ServerSession, timeoutMinutes int64) {
	if ss == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if ss.epoch != p.epoch || ss.Dirty || ss.expired(timeoutMinutes) {
		return
	}

	for e := p.queue.Back(); e != nil; {
		prev := e.Prev()
		back := e.Value.(*ServerSession)
		if back.expired(timeoutMinutes) {
			p.queue.Remove(e)
		}
		e = prev
	}

	ss.LastUsed = time.Now()
	p.queue.PushFront(ss)
}

// EndAll drains the pool and best-effort notifies the server the sessions
// are no longer needed, batched per spec.md §4.8.
func (p *Pool) EndAll(send EndSessionsFunc) {
	p.mu.Lock()
	ids := make([][]byte, 0, p.queue.Len())
	for e := p.queue.Front(); e != nil; e = e.Next() {
		ids = append(ids, e.Value.(*ServerSession).SessionID)
	}
	p.queue.Init()
	p.mu.Unlock()

	if send == nil {
		return
	}
	for len(ids) > 0 {
		n := endSessionsBatchSize
		if n > len(ids) {
			n = len(ids)
		}
		send(ids[:n])
		ids = ids[n:]
	}
}

// Reset bumps the pool's epoch and clears it without calling endSessions,
// required after fork/process duplication so sessions checked out by the
// parent are never re-queued into the child (spec.md §4.8).
func (p *Pool) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.epoch++
	p.queue.Init()
}
