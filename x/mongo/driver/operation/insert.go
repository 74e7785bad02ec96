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

// Insert performs an insert command against one batch of documents
// (spec.md §4.12 names batch splitting, not multi-document insert, as the
// responsibility of the caller -- Insert itself just sends the batch it's
// given).
type Insert struct {
	documents    []bsoncore.Document
	collection   string
	database     string
	ordered      *bool
	bypassDocVal *bool
	session      *session.ClientSession
	clock        *session.ClusterClock
	writeConcern *writeconcern.WriteConcern
	monitor      *event.CommandMonitor
	deployment   driver.Deployment
	retry        driver.RetryMode

	result bsoncore.Document
}

// NewInsert constructs an Insert for the given batch of documents.
func NewInsert(documents ...bsoncore.Document) *Insert {
	return &Insert{documents: documents}
}

// Result returns the raw reply of the last successful Execute.
func (ins *Insert) Result() bsoncore.Document { return ins.result }

// Collection sets the collection this insert runs against.
func (ins *Insert) Collection(collection string) *Insert { ins.collection = collection; return ins }

// Database sets the database this insert runs against.
func (ins *Insert) Database(database string) *Insert { ins.database = database; return ins }

// Ordered sets whether the server should stop at the first failing
// document (spec.md §4.12).
func (ins *Insert) Ordered(ordered bool) *Insert { ins.ordered = &ordered; return ins }

// BypassDocumentValidation skips the server's schema validation.
func (ins *Insert) BypassDocumentValidation(bypass bool) *Insert {
	ins.bypassDocVal = &bypass
	return ins
}

// Session sets the session this insert runs in.
func (ins *Insert) Session(sess *session.ClientSession) *Insert { ins.session = sess; return ins }

// ClusterClock sets the cluster clock used absent a session.
func (ins *Insert) ClusterClock(clock *session.ClusterClock) *Insert { ins.clock = clock; return ins }

// WriteConcern sets the write concern for this insert.
func (ins *Insert) WriteConcern(wc *writeconcern.WriteConcern) *Insert {
	ins.writeConcern = wc
	return ins
}

// Deployment sets the topology this insert selects a server from.
func (ins *Insert) Deployment(d driver.Deployment) *Insert { ins.deployment = d; return ins }

// Retry sets the retry mode (spec.md §7: retryable writes retry once on a
// supported error given retryWrites=true and a supporting topology).
func (ins *Insert) Retry(rm driver.RetryMode) *Insert { ins.retry = rm; return ins }

func (ins *Insert) command(description.SelectedServer) (bsoncore.Document, error) {
	b := bsoncore.NewDocumentBuilder()
	b.AppendString("insert", ins.collection)
	b.AppendArray("documents", bsoncore.DocumentsToArray(ins.documents))
	if ins.ordered != nil {
		b.AppendBoolean("ordered", *ins.ordered)
	}
	if ins.bypassDocVal != nil {
		b.AppendBoolean("bypassDocumentValidation", *ins.bypassDocVal)
	}
	return b.Build(), nil
}

// CommandMonitor sets the monitor to use for command-monitoring events.
func (ins *Insert) CommandMonitor(monitor *event.CommandMonitor) *Insert {
	ins.monitor = monitor
	return ins
}

// Execute runs the insert and stores its reply for Result.
func (ins *Insert) Execute(ctx context.Context) error {
	if ins.deployment == nil {
		return errors.New("operation: Insert must have a Deployment set before Execute can be called")
	}
	res, err := driver.Operation{
		CommandMonitor: ins.monitor,
		CommandName:  "insert",
		Database:     ins.database,
		Command:      ins.command,
		Deployment:   ins.deployment,
		WriteConcern: ins.writeConcern,
		Session:      ins.session,
		Clock:        ins.clock,
		Retry:        ins.retry,
	}.Execute(ctx)
	ins.result = res
	return err
}
