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
	"github.com/lattixdb/mongogo/mongo/readpref"
	"github.com/lattixdb/mongogo/x/mongo/driver"
	"github.com/lattixdb/mongogo/x/mongo/driver/description"
	"github.com/lattixdb/mongogo/x/mongo/driver/session"
)

// ListCollections performs a listCollections command and opens a cursor
// over the resulting collection specs.
type ListCollections struct {
	filter         bsoncore.Document
	nameOnly       *bool
	session        *session.ClientSession
	clock          *session.ClusterClock
	database       string
	monitor      *event.CommandMonitor
	deployment     driver.Deployment
	readPreference *readpref.ReadPref
	selector       description.ServerSelector

	cursor *driver.BatchCursor
}

// NewListCollections constructs a ListCollections for the given filter.
func NewListCollections(filter bsoncore.Document) *ListCollections {
	return &ListCollections{filter: filter}
}

// Result returns the opened cursor from the last successful Execute.
func (lc *ListCollections) Result() *driver.BatchCursor { return lc.cursor }

// Filter determines what results are returned from listCollections.
func (lc *ListCollections) Filter(filter bsoncore.Document) *ListCollections {
	lc.filter = filter
	return lc
}

// NameOnly specifies whether to only return collection names.
func (lc *ListCollections) NameOnly(nameOnly bool) *ListCollections {
	lc.nameOnly = &nameOnly
	return lc
}

// Session sets the session for this operation.
func (lc *ListCollections) Session(sess *session.ClientSession) *ListCollections {
	lc.session = sess
	return lc
}

// ClusterClock sets the cluster clock used absent a session.
func (lc *ListCollections) ClusterClock(clock *session.ClusterClock) *ListCollections {
	lc.clock = clock
	return lc
}

// Database sets the database to run this operation against.
func (lc *ListCollections) Database(database string) *ListCollections {
	lc.database = database
	return lc
}

// Deployment sets the topology this operation selects a server from.
func (lc *ListCollections) Deployment(d driver.Deployment) *ListCollections {
	lc.deployment = d
	return lc
}

// ReadPreference sets the read preference used with this operation.
func (lc *ListCollections) ReadPreference(rp *readpref.ReadPref) *ListCollections {
	lc.readPreference = rp
	return lc
}

// ServerSelector sets the selector used to retrieve a server.
func (lc *ListCollections) ServerSelector(sel description.ServerSelector) *ListCollections {
	lc.selector = sel
	return lc
}

func (lc *ListCollections) command(description.SelectedServer) (bsoncore.Document, error) {
	b := bsoncore.NewDocumentBuilder()
	b.AppendInt32("listCollections", 1)
	if lc.filter != nil {
		b.AppendDocument("filter", lc.filter)
	}
	if lc.nameOnly != nil {
		b.AppendBoolean("nameOnly", *lc.nameOnly)
	}
	return b.Build(), nil
}

// CommandMonitor sets the monitor to use for command-monitoring events.
func (lc *ListCollections) CommandMonitor(monitor *event.CommandMonitor) *ListCollections {
	lc.monitor = monitor
	return lc
}

// Execute runs listCollections and opens the resulting cursor, retrievable
// via Result.
func (lc *ListCollections) Execute(ctx context.Context) error {
	if lc.deployment == nil {
		return errors.New("operation: ListCollections must have a Deployment set before Execute can be called")
	}
	_, err := driver.Operation{
		CommandMonitor: lc.monitor,
		CommandName:       "listCollections",
		Database:          lc.database,
		Command:           lc.command,
		Deployment:        lc.deployment,
		Session:           lc.session,
		Clock:             lc.clock,
		ReadPref:          lc.readPreference,
		Selector:          lc.selector,
		ProcessResponseFn: lc.openCursor,
	}.Execute(ctx)
	return err
}

func (lc *ListCollections) openCursor(res bsoncore.Document, srv driver.Server) error {
	id, ns, firstBatch, err := parseCursorReply(res)
	if err != nil {
		return err
	}
	if ns.DB == "" {
		ns = driver.Namespace{DB: lc.database, Collection: "$cmd.listCollections"}
	}
	lc.cursor = driver.NewBatchCursor(id, ns, srv, firstBatch)
	return nil
}
