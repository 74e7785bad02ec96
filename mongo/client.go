// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package mongo is the application-facing facade over x/mongo/driver:
// Client, Database, and Collection dispatch user calls into operation
// builders against a Deployment, exactly as spec.md §1 scopes the split
// between "core" and "ergonomic" layers.
package mongo

import (
	"context"

	"github.com/lattixdb/mongogo/bson/bsoncore"
	"github.com/lattixdb/mongogo/event"
	"github.com/lattixdb/mongogo/internal/logger"
	"github.com/lattixdb/mongogo/mongo/options"
	"github.com/lattixdb/mongogo/mongo/readconcern"
	"github.com/lattixdb/mongogo/mongo/readpref"
	"github.com/lattixdb/mongogo/mongo/writeconcern"
	"github.com/lattixdb/mongogo/x/mongo/driver/connstring"
	"github.com/lattixdb/mongogo/x/mongo/driver/operation"
	"github.com/lattixdb/mongogo/x/mongo/driver/session"
	"github.com/lattixdb/mongogo/x/mongo/driver/topology"
)

// Client is a handle to a MongoDB deployment, holding the topology
// monitor, the session pool, and the deployment-wide defaults every
// Database and Collection derived from it inherits (spec.md §1).
type Client struct {
	deployment     *topology.Topology
	sessionPool    *session.Pool
	clusterClock   *session.ClusterClock
	defaultTxnOpts session.TransactionOptions

	readConcern    *readconcern.ReadConcern
	writeConcern   *writeconcern.WriteConcern
	readPreference *readpref.ReadPref
	retryWrites    bool
	retryReads     bool

	monitor       *event.CommandMonitor
	serverMonitor *event.ServerMonitor
	log           *logger.Logger

	disconnected bool
}

// Connect parses uri, applies any opts on top of it, and starts background
// monitoring of every seed host. The returned Client is usable immediately;
// operations block on server selection rather than failing until a
// suitable server is discovered or serverSelectionTimeoutMS elapses.
func Connect(ctx context.Context, uri string, opts ...*options.ClientOptions) (*Client, error) {
	args := options.ClientArgs{}
	for _, o := range opts {
		for _, setter := range o.ArgsSetters() {
			if err := setter(&args); err != nil {
				return nil, err
			}
		}
	}
	if args.URI == "" {
		args.URI = uri
	}

	cs, err := connstring.Parse(ctx, args.URI)
	if err != nil {
		return nil, err
	}
	if args.AppName != nil {
		cs.AppName = *args.AppName
	}
	if args.ConnectTimeout != nil {
		cs.ConnectTimeout = *args.ConnectTimeout
	}
	if args.HeartbeatInterval != nil {
		cs.HeartbeatInterval = *args.HeartbeatInterval
	}
	if args.LocalThreshold != nil {
		cs.LocalThreshold = *args.LocalThreshold
	}
	if args.MaxPoolSize != nil {
		cs.MaxPoolSize = *args.MaxPoolSize
	}
	if args.MinPoolSize != nil {
		cs.MinPoolSize = *args.MinPoolSize
	}
	if args.ReplicaSet != nil {
		cs.ReplicaSet = *args.ReplicaSet
	}
	if args.ServerSelectionTimeout != nil {
		cs.ServerSelectionTimeout = *args.ServerSelectionTimeout
	}
	if args.SocketTimeout != nil {
		cs.SocketTimeout = *args.SocketTimeout
	}
	if len(args.Compressors) > 0 {
		cs.Compressors = args.Compressors
	}

	log := logger.New(args.LogSink, args.LogComponentLevels)

	topo, err := topology.NewTopology(cs, args.ServerMonitor, log)
	if err != nil {
		log.Close()
		return nil, err
	}
	if err := topo.Connect(); err != nil {
		log.Close()
		return nil, err
	}

	retryWrites := true
	if args.RetryWrites != nil {
		retryWrites = *args.RetryWrites
	} else if cs.RetryWrites != nil {
		retryWrites = *cs.RetryWrites
	}
	retryReads := true
	if args.RetryReads != nil {
		retryReads = *args.RetryReads
	} else if cs.RetryReads != nil {
		retryReads = *cs.RetryReads
	}

	rc := args.ReadConcern
	if rc == nil && cs.ReadConcernLevel != "" {
		rc = &readconcern.ReadConcern{Level: cs.ReadConcernLevel}
	}
	rp := args.ReadPreference
	if rp == nil {
		rp = readpref.Primary()
	}
	wc := args.WriteConcern

	c := &Client{
		deployment:     topo,
		sessionPool:    session.NewPool(),
		clusterClock:   &session.ClusterClock{},
		readConcern:    rc,
		writeConcern:   wc,
		readPreference: rp,
		retryWrites:    retryWrites,
		retryReads:     retryReads,
		monitor:        args.Monitor,
		serverMonitor:  args.ServerMonitor,
		log:            log,
	}
	return c, nil
}

func boolPtr(b bool) *bool { return &b }

// Disconnect stops monitoring every server and ends every session this
// client's pool still tracks, notifying the server via endSessions on a
// best-effort basis (spec.md §4.9 glossary).
func (c *Client) Disconnect(ctx context.Context) error {
	if c.disconnected {
		return ErrClientDisconnected
	}
	c.disconnected = true
	c.sessionPool.EndAll(func(sessionIDs [][]byte) {
		docs := make([]bsoncore.Document, len(sessionIDs))
		for i, b := range sessionIDs {
			docs[i] = bsoncore.Document(b)
		}
		if len(docs) == 0 {
			return
		}
		_ = operation.NewEndSessions(docs...).Deployment(c.deployment).Execute(ctx)
	})
	err := c.deployment.Disconnect(ctx)
	c.log.Close()
	return err
}

// Ping runs the hello/isMaster handshake's cheaper cousin -- a no-op
// "ping" command -- against a server matching rp, confirming connectivity.
func (c *Client) Ping(ctx context.Context, rp *readpref.ReadPref) error {
	if rp == nil {
		rp = c.readPreference
	}
	cmd := operation.NewCommand(bsoncore.NewDocumentBuilder().AppendInt32("ping", 1).Build()).
		Database("admin").
		Deployment(c.deployment).
		ReadPreference(rp)
	return cmd.Execute(ctx)
}

// Database returns a handle to the named database, inheriting this
// client's defaults unless overridden.
func (c *Client) Database(name string) *Database {
	return &Database{
		client:         c,
		name:           name,
		readConcern:    c.readConcern,
		writeConcern:   c.writeConcern,
		readPreference: c.readPreference,
	}
}

// StartSession checks out a server session and wraps it for causally
// consistent reads and multi-document transactions (spec.md §4.9).
func (c *Client) StartSession(opts ...*options.SessionOptions) (*Session, error) {
	args := options.SessionArgs{}
	for _, o := range opts {
		for _, setter := range o.ArgsSetters() {
			if err := setter(&args); err != nil {
				return nil, err
			}
		}
	}
	causal := true
	if args.CausalConsistency != nil {
		causal = *args.CausalConsistency
	}
	if args.Snapshot != nil && *args.Snapshot {
		causal = false
	}

	sessClient := &session.Client{
		ClusterClock:              c.clusterClock,
		DefaultTransactionOptions: c.defaultTxnOpts,
	}
	cs, err := session.NewClientSession(c.sessionPool, sessClient, causal, 30)
	if err != nil {
		return nil, err
	}
	cs.SessionOptions = session.TransactionOptions{
		ReadConcern:    args.DefaultReadConcern,
		WriteConcern:   args.DefaultWriteConcern,
		ReadPreference: args.DefaultReadPreference,
		MaxCommitTime:  args.DefaultMaxCommitTime,
	}
	return &Session{client: c, cs: cs}, nil
}
