// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package options

import (
	"time"

	"github.com/lattixdb/mongogo/event"
	"github.com/lattixdb/mongogo/internal/logger"
	"github.com/lattixdb/mongogo/mongo/readconcern"
	"github.com/lattixdb/mongogo/mongo/readpref"
	"github.com/lattixdb/mongogo/mongo/writeconcern"
)

// ClientArgs represents arguments that can be used to configure a Client.
// A connection string parsed via ApplyURI seeds these fields; later
// setters override whatever the URI specified, matching the precedence
// rule spec.md §4.1 sets for programmatic options over URI options.
type ClientArgs struct {
	URI                    string
	AppName                *string
	ConnectTimeout         *time.Duration
	HeartbeatInterval      *time.Duration
	LocalThreshold         *time.Duration
	MaxPoolSize            *uint64
	MinPoolSize            *uint64
	ReplicaSet             *string
	RetryWrites             *bool
	RetryReads              *bool
	ServerSelectionTimeout *time.Duration
	SocketTimeout          *time.Duration
	ReadConcern            *readconcern.ReadConcern
	ReadPreference         *readpref.ReadPref
	WriteConcern           *writeconcern.WriteConcern
	Monitor                *event.CommandMonitor
	ServerMonitor          *event.ServerMonitor
	Compressors            []string
	LogSink                logger.Sink
	LogComponentLevels     map[logger.Component]logger.Level
}

// ClientOptions contains options to configure a Client. Each option can be
// set through setter functions.
type ClientOptions struct {
	Opts []func(*ClientArgs) error
}

// Client creates a new ClientOptions instance.
func Client() *ClientOptions { return &ClientOptions{} }

// ArgsSetters returns a list of ClientArgs setter functions.
func (c *ClientOptions) ArgsSetters() []func(*ClientArgs) error { return c.Opts }

// ApplyURI sets the connection string this client will parse, and must be
// the first option set: later setters override whatever it specifies.
func (c *ClientOptions) ApplyURI(uri string) *ClientOptions {
	c.Opts = append(c.Opts, func(args *ClientArgs) error { args.URI = uri; return nil })
	return c
}

// SetAppName sets the value for the AppName field.
func (c *ClientOptions) SetAppName(name string) *ClientOptions {
	c.Opts = append(c.Opts, func(args *ClientArgs) error { args.AppName = &name; return nil })
	return c
}

// SetConnectTimeout sets the value for the ConnectTimeout field.
func (c *ClientOptions) SetConnectTimeout(d time.Duration) *ClientOptions {
	c.Opts = append(c.Opts, func(args *ClientArgs) error { args.ConnectTimeout = &d; return nil })
	return c
}

// SetHeartbeatInterval sets the value for the HeartbeatInterval field.
func (c *ClientOptions) SetHeartbeatInterval(d time.Duration) *ClientOptions {
	c.Opts = append(c.Opts, func(args *ClientArgs) error { args.HeartbeatInterval = &d; return nil })
	return c
}

// SetLocalThreshold sets the value for the LocalThreshold field.
func (c *ClientOptions) SetLocalThreshold(d time.Duration) *ClientOptions {
	c.Opts = append(c.Opts, func(args *ClientArgs) error { args.LocalThreshold = &d; return nil })
	return c
}

// SetMaxPoolSize sets the value for the MaxPoolSize field.
func (c *ClientOptions) SetMaxPoolSize(size uint64) *ClientOptions {
	c.Opts = append(c.Opts, func(args *ClientArgs) error { args.MaxPoolSize = &size; return nil })
	return c
}

// SetMinPoolSize sets the value for the MinPoolSize field.
func (c *ClientOptions) SetMinPoolSize(size uint64) *ClientOptions {
	c.Opts = append(c.Opts, func(args *ClientArgs) error { args.MinPoolSize = &size; return nil })
	return c
}

// SetReplicaSet sets the value for the ReplicaSet field.
func (c *ClientOptions) SetReplicaSet(name string) *ClientOptions {
	c.Opts = append(c.Opts, func(args *ClientArgs) error { args.ReplicaSet = &name; return nil })
	return c
}

// SetRetryWrites sets the value for the RetryWrites field.
func (c *ClientOptions) SetRetryWrites(b bool) *ClientOptions {
	c.Opts = append(c.Opts, func(args *ClientArgs) error { args.RetryWrites = &b; return nil })
	return c
}

// SetRetryReads sets the value for the RetryReads field.
func (c *ClientOptions) SetRetryReads(b bool) *ClientOptions {
	c.Opts = append(c.Opts, func(args *ClientArgs) error { args.RetryReads = &b; return nil })
	return c
}

// SetServerSelectionTimeout sets the value for the ServerSelectionTimeout field.
func (c *ClientOptions) SetServerSelectionTimeout(d time.Duration) *ClientOptions {
	c.Opts = append(c.Opts, func(args *ClientArgs) error { args.ServerSelectionTimeout = &d; return nil })
	return c
}

// SetSocketTimeout sets the value for the SocketTimeout field.
func (c *ClientOptions) SetSocketTimeout(d time.Duration) *ClientOptions {
	c.Opts = append(c.Opts, func(args *ClientArgs) error { args.SocketTimeout = &d; return nil })
	return c
}

// SetReadConcern sets the value for the ReadConcern field.
func (c *ClientOptions) SetReadConcern(rc *readconcern.ReadConcern) *ClientOptions {
	c.Opts = append(c.Opts, func(args *ClientArgs) error { args.ReadConcern = rc; return nil })
	return c
}

// SetReadPreference sets the value for the ReadPreference field.
func (c *ClientOptions) SetReadPreference(rp *readpref.ReadPref) *ClientOptions {
	c.Opts = append(c.Opts, func(args *ClientArgs) error { args.ReadPreference = rp; return nil })
	return c
}

// SetWriteConcern sets the value for the WriteConcern field.
func (c *ClientOptions) SetWriteConcern(wc *writeconcern.WriteConcern) *ClientOptions {
	c.Opts = append(c.Opts, func(args *ClientArgs) error { args.WriteConcern = wc; return nil })
	return c
}

// SetMonitor registers a CommandMonitor that observes every command this
// client sends (spec.md's command-monitoring events).
func (c *ClientOptions) SetMonitor(m *event.CommandMonitor) *ClientOptions {
	c.Opts = append(c.Opts, func(args *ClientArgs) error { args.Monitor = m; return nil })
	return c
}

// SetServerMonitor registers a ServerMonitor that observes this client's
// topology and server discovery/monitoring (SDAM) events.
func (c *ClientOptions) SetServerMonitor(m *event.ServerMonitor) *ClientOptions {
	c.Opts = append(c.Opts, func(args *ClientArgs) error { args.ServerMonitor = m; return nil })
	return c
}

// SetLoggerOptions wires the driver's ambient internal/logger sink and
// per-component verbosity for this client (spec.md's ambient logging
// stack: topology/server-selection/connection events are otherwise
// silent).
func (c *ClientOptions) SetLoggerOptions(sink logger.Sink, componentLevels map[logger.Component]logger.Level) *ClientOptions {
	c.Opts = append(c.Opts, func(args *ClientArgs) error {
		args.LogSink = sink
		args.LogComponentLevels = componentLevels
		return nil
	})
	return c
}

// SetCompressors sets the value for the Compressors field, in order of
// preference.
func (c *ClientOptions) SetCompressors(names []string) *ClientOptions {
	c.Opts = append(c.Opts, func(args *ClientArgs) error { args.Compressors = names; return nil })
	return c
}
