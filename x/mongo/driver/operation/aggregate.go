// Copyright (C) MongoDB, Inc. 2019-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package operation

import (
	"context"
	"errors"

	"github.com/lattixdb/mongogo/bson"
	"github.com/lattixdb/mongogo/bson/bsoncore"
	"github.com/lattixdb/mongogo/event"
	"github.com/lattixdb/mongogo/mongo/readconcern"
	"github.com/lattixdb/mongogo/mongo/readpref"
	"github.com/lattixdb/mongogo/mongo/writeconcern"
	"github.com/lattixdb/mongogo/x/mongo/driver"
	"github.com/lattixdb/mongogo/x/mongo/driver/description"
	"github.com/lattixdb/mongogo/x/mongo/driver/session"
)

// Aggregate performs an aggregate command and opens a server-side cursor
// over its results (spec.md §4.11: "aggregate is, for cursor-management
// purposes, indistinguishable from find once the initial reply comes
// back").
type Aggregate struct {
	pipeline     bsoncore.Array
	collection   string
	database     string
	batchSize    *int32
	comment      interface{}
	maxTime      *int64
	bypassDocVal *bool
	session      *session.ClientSession
	clock        *session.ClusterClock
	readConcern  *readconcern.ReadConcern
	writeConcern *writeconcern.WriteConcern
	readPref     *readpref.ReadPref
	selector     description.ServerSelector
	monitor      *event.CommandMonitor
	deployment   driver.Deployment
	retry        driver.RetryMode

	cursor *driver.BatchCursor
}

// NewAggregate constructs an Aggregate for the given pipeline.
func NewAggregate(pipeline bsoncore.Array) *Aggregate { return &Aggregate{pipeline: pipeline} }

// Result returns the opened cursor from the last successful Execute.
func (a *Aggregate) Result() *driver.BatchCursor { return a.cursor }

// Collection sets the collection this aggregate runs against; left empty
// for a database-level (collection-less) aggregation.
func (a *Aggregate) Collection(collection string) *Aggregate { a.collection = collection; return a }

// Database sets the database this aggregate runs against.
func (a *Aggregate) Database(database string) *Aggregate { a.database = database; return a }

// BatchSize sets the cursor's batch size.
func (a *Aggregate) BatchSize(size int32) *Aggregate { a.batchSize = &size; return a }

// Comment attaches a comment visible in server-side logs and profiling to
// the aggregate command and every getMore of its cursor; only a value that
// encodes as a document is sent.
func (a *Aggregate) Comment(v interface{}) *Aggregate { a.comment = v; return a }

// MaxTime sets maxTimeMS on the aggregate command.
func (a *Aggregate) MaxTime(ms int64) *Aggregate { a.maxTime = &ms; return a }

// BypassDocumentValidation skips the server's schema validation for a
// pipeline containing a $merge or $out stage.
func (a *Aggregate) BypassDocumentValidation(bypass bool) *Aggregate {
	a.bypassDocVal = &bypass
	return a
}

// Session sets the session this aggregate runs in.
func (a *Aggregate) Session(sess *session.ClientSession) *Aggregate { a.session = sess; return a }

// ClusterClock sets the cluster clock used absent a session.
func (a *Aggregate) ClusterClock(clock *session.ClusterClock) *Aggregate { a.clock = clock; return a }

// ReadConcern sets the read concern for this aggregate.
func (a *Aggregate) ReadConcern(rc *readconcern.ReadConcern) *Aggregate { a.readConcern = rc; return a }

// WriteConcern sets the write concern, used only when the pipeline
// contains a $merge/$out stage.
func (a *Aggregate) WriteConcern(wc *writeconcern.WriteConcern) *Aggregate {
	a.writeConcern = wc
	return a
}

// ReadPreference sets the read preference used to select a server.
func (a *Aggregate) ReadPreference(rp *readpref.ReadPref) *Aggregate { a.readPref = rp; return a }

// ServerSelector overrides the server selector entirely.
func (a *Aggregate) ServerSelector(sel description.ServerSelector) *Aggregate {
	a.selector = sel
	return a
}

// Deployment sets the topology this aggregate selects a server from.
func (a *Aggregate) Deployment(d driver.Deployment) *Aggregate { a.deployment = d; return a }

// Retry sets the retry mode. A pipeline containing $merge/$out is never
// retryable regardless of this setting (spec.md §7).
func (a *Aggregate) Retry(rm driver.RetryMode) *Aggregate { a.retry = rm; return a }

func (a *Aggregate) hasWriteStage() bool {
	vals, err := a.pipeline.Values()
	if err != nil {
		return false
	}
	for _, v := range vals {
		doc, ok := v.DocumentOK()
		if !ok {
			continue
		}
		if _, ok := doc.Lookup("$merge"); ok {
			return true
		}
		if _, ok := doc.Lookup("$out"); ok {
			return true
		}
	}
	return false
}

func (a *Aggregate) command(description.SelectedServer) (bsoncore.Document, error) {
	b := bsoncore.NewDocumentBuilder()
	if a.collection != "" {
		b.AppendString("aggregate", a.collection)
	} else {
		b.AppendInt32("aggregate", 1)
	}
	b.AppendArray("pipeline", a.pipeline)
	cursorOpts := bsoncore.NewDocumentBuilder()
	if a.batchSize != nil {
		cursorOpts.AppendInt32("batchSize", *a.batchSize)
	}
	b.AppendDocument("cursor", cursorOpts.Build())
	if a.maxTime != nil {
		b.AppendInt64("maxTimeMS", *a.maxTime)
	}
	if a.bypassDocVal != nil {
		b.AppendBoolean("bypassDocumentValidation", *a.bypassDocVal)
	}
	if a.comment != nil {
		if doc, err := bson.EncodeOne(a.comment); err == nil {
			b.AppendDocument("comment", doc)
		}
	}
	return b.Build(), nil
}

// CommandMonitor sets the monitor to use for command-monitoring events.
func (a *Aggregate) CommandMonitor(monitor *event.CommandMonitor) *Aggregate {
	a.monitor = monitor
	return a
}

// Execute runs the aggregate and opens the resulting cursor, retrievable
// via Result.
func (a *Aggregate) Execute(ctx context.Context) error {
	if a.deployment == nil {
		return errors.New("operation: Aggregate must have a Deployment set before Execute can be called")
	}
	retry := a.retry
	if a.hasWriteStage() {
		retry = driver.RetryNone
	}
	_, err := driver.Operation{
		CommandMonitor: a.monitor,
		CommandName:       "aggregate",
		Database:          a.database,
		Command:           a.command,
		Deployment:        a.deployment,
		Session:           a.session,
		Clock:             a.clock,
		ReadConcern:       a.readConcern,
		WriteConcern:      a.writeConcern,
		ReadPref:          a.readPref,
		Selector:          a.selector,
		Retry:             retry,
		ProcessResponseFn: a.openCursor,
	}.Execute(ctx)
	return err
}

func (a *Aggregate) openCursor(res bsoncore.Document, srv driver.Server) error {
	id, ns, firstBatch, err := parseCursorReply(res)
	if err != nil {
		return err
	}
	if ns.DB == "" {
		ns = driver.Namespace{DB: a.database, Collection: a.collection}
	}
	bc := driver.NewBatchCursor(id, ns, srv, firstBatch)
	if a.batchSize != nil {
		bc.SetBatchSize(*a.batchSize)
	}
	if a.comment != nil {
		bc.SetComment(a.comment)
	}
	a.cursor = bc
	return nil
}
