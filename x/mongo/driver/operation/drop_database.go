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
	"github.com/lattixdb/mongogo/mongo/writeconcern"
	"github.com/lattixdb/mongogo/x/mongo/driver"
	"github.com/lattixdb/mongogo/x/mongo/driver/description"
	"github.com/lattixdb/mongogo/x/mongo/driver/session"
)

// DropDatabase performs a dropDatabase command.
type DropDatabase struct {
	session      *session.ClientSession
	clock        *session.ClusterClock
	database     string
	monitor      *event.CommandMonitor
	deployment   driver.Deployment
	selector     description.ServerSelector
	writeConcern *writeconcern.WriteConcern

	result bsoncore.Document
}

// NewDropDatabase constructs a DropDatabase.
func NewDropDatabase() *DropDatabase { return &DropDatabase{} }

// Result returns the raw reply of the last successful Execute.
func (dd *DropDatabase) Result() bsoncore.Document { return dd.result }

// Session sets the session for this operation.
func (dd *DropDatabase) Session(sess *session.ClientSession) *DropDatabase { dd.session = sess; return dd }

// ClusterClock sets the cluster clock used absent a session.
func (dd *DropDatabase) ClusterClock(clock *session.ClusterClock) *DropDatabase {
	dd.clock = clock
	return dd
}

// Database sets the database to drop.
func (dd *DropDatabase) Database(database string) *DropDatabase { dd.database = database; return dd }

// Deployment sets the topology this drop selects a server from.
func (dd *DropDatabase) Deployment(d driver.Deployment) *DropDatabase { dd.deployment = d; return dd }

// ServerSelector overrides the server selector entirely.
func (dd *DropDatabase) ServerSelector(sel description.ServerSelector) *DropDatabase {
	dd.selector = sel
	return dd
}

// WriteConcern sets the write concern for this drop.
func (dd *DropDatabase) WriteConcern(wc *writeconcern.WriteConcern) *DropDatabase {
	dd.writeConcern = wc
	return dd
}

func (dd *DropDatabase) command(description.SelectedServer) (bsoncore.Document, error) {
	b := bsoncore.NewDocumentBuilder()
	b.AppendInt32("dropDatabase", 1)
	return b.Build(), nil
}

// CommandMonitor sets the monitor to use for command-monitoring events.
func (dd *DropDatabase) CommandMonitor(monitor *event.CommandMonitor) *DropDatabase {
	dd.monitor = monitor
	return dd
}

// Execute runs dropDatabase and stores its reply for Result.
func (dd *DropDatabase) Execute(ctx context.Context) error {
	if dd.deployment == nil {
		return errors.New("operation: DropDatabase must have a Deployment set before Execute can be called")
	}
	res, err := driver.Operation{
		CommandMonitor: dd.monitor,
		CommandName:  "dropDatabase",
		Database:     dd.database,
		Command:      dd.command,
		Deployment:   dd.deployment,
		Selector:     dd.selector,
		WriteConcern: dd.writeConcern,
		Session:      dd.session,
		Clock:        dd.clock,
	}.Execute(ctx)
	dd.result = res
	return err
}
