// Copyright (C) MongoDB, Inc. 2019-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package operation

import (
	"context"
	"errors"

	"github.com/lattixdb/mongogo/bson/bsoncore"
	"github.com/lattixdb/mongogo/event"
	"github.com/lattixdb/mongogo/mongo/readconcern"
	"github.com/lattixdb/mongogo/mongo/readpref"
	"github.com/lattixdb/mongogo/x/mongo/driver"
	"github.com/lattixdb/mongogo/x/mongo/driver/description"
	"github.com/lattixdb/mongogo/x/mongo/driver/session"
)

// Command runs an arbitrary already-encoded command document, the
// escape hatch behind Database.RunCommand (spec.md §1 Non-goals:
// "does not attempt to offer a typed method for every server command").
type Command struct {
	cmd         bsoncore.Document
	commandName string
	session     *session.ClientSession
	clock       *session.ClusterClock
	database    string
	monitor     *event.CommandMonitor
	deployment  driver.Deployment
	selector    description.ServerSelector
	readPref    *readpref.ReadPref
	readConcern *readconcern.ReadConcern

	result bsoncore.Document
}

// NewCommand constructs a Command from an already-encoded document.
func NewCommand(cmd bsoncore.Document) *Command {
	var name string
	if elem, err := cmd.IndexErr(0); err == nil {
		name = elem.Key()
	}
	return &Command{cmd: cmd, commandName: name}
}

// Result returns the raw reply of the last successful Execute.
func (c *Command) Result() bsoncore.Document { return c.result }

// Session sets the session for this operation.
func (c *Command) Session(sess *session.ClientSession) *Command { c.session = sess; return c }

// ClusterClock sets the cluster clock used absent a session.
func (c *Command) ClusterClock(clock *session.ClusterClock) *Command { c.clock = clock; return c }

// Database sets the database the command runs against.
func (c *Command) Database(database string) *Command { c.database = database; return c }

// Deployment sets the topology this command selects a server from.
func (c *Command) Deployment(d driver.Deployment) *Command { c.deployment = d; return c }

// ServerSelector overrides the server selector entirely.
func (c *Command) ServerSelector(sel description.ServerSelector) *Command {
	c.selector = sel
	return c
}

// ReadPreference sets the read preference used to select a server.
func (c *Command) ReadPreference(rp *readpref.ReadPref) *Command { c.readPref = rp; return c }

// ReadConcern sets the read concern included in the command document.
func (c *Command) ReadConcern(rc *readconcern.ReadConcern) *Command { c.readConcern = rc; return c }

// CommandMonitor sets the monitor to use for command-monitoring events.
func (c *Command) CommandMonitor(monitor *event.CommandMonitor) *Command { c.monitor = monitor; return c }

func (c *Command) command(description.SelectedServer) (bsoncore.Document, error) {
	return c.cmd, nil
}

// Execute runs the command and stores its reply for Result.
func (c *Command) Execute(ctx context.Context) error {
	if c.deployment == nil {
		return errors.New("operation: Command must have a Deployment set before Execute can be called")
	}
	res, err := driver.Operation{
		CommandName:    c.commandName,
		Database:       c.database,
		Command:        c.command,
		Deployment:     c.deployment,
		Selector:       c.selector,
		ReadPref:       c.readPref,
		ReadConcern:    c.readConcern,
		Session:        c.session,
		Clock:          c.clock,
		CommandMonitor: c.monitor,
	}.Execute(ctx)
	c.result = res
	return err
}
