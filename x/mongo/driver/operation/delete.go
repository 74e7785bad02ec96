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

// DeleteDoc is one element of a delete command's "deletes" array.
type DeleteDoc struct {
	Filter    bsoncore.Document
	Limit     int32 // 0 = delete all matching, 1 = delete at most one
	Collation bsoncore.Document
}

func (d DeleteDoc) toDocument() bsoncore.Document {
	b := bsoncore.NewDocumentBuilder()
	b.AppendDocument("q", d.Filter)
	b.AppendInt32("limit", d.Limit)
	if d.Collation != nil {
		b.AppendDocument("collation", d.Collation)
	}
	return b.Build()
}

// Delete performs a delete command against one batch of DeleteDocs
// (spec.md §4.12).
type Delete struct {
	deletes      []DeleteDoc
	collection   string
	database     string
	ordered      *bool
	session      *session.ClientSession
	clock        *session.ClusterClock
	writeConcern *writeconcern.WriteConcern
	monitor      *event.CommandMonitor
	deployment   driver.Deployment
	retry        driver.RetryMode

	result bsoncore.Document
}

// NewDelete constructs a Delete for the given batch of DeleteDocs.
func NewDelete(deletes ...DeleteDoc) *Delete { return &Delete{deletes: deletes} }

// Result returns the raw reply of the last successful Execute.
func (d *Delete) Result() bsoncore.Document { return d.result }

// Collection sets the collection this delete runs against.
func (d *Delete) Collection(collection string) *Delete { d.collection = collection; return d }

// Database sets the database this delete runs against.
func (d *Delete) Database(database string) *Delete { d.database = database; return d }

// Ordered sets whether the server should stop at the first failing delete.
func (d *Delete) Ordered(ordered bool) *Delete { d.ordered = &ordered; return d }

// Session sets the session this delete runs in.
func (d *Delete) Session(sess *session.ClientSession) *Delete { d.session = sess; return d }

// ClusterClock sets the cluster clock used absent a session.
func (d *Delete) ClusterClock(clock *session.ClusterClock) *Delete { d.clock = clock; return d }

// WriteConcern sets the write concern for this delete.
func (d *Delete) WriteConcern(wc *writeconcern.WriteConcern) *Delete { d.writeConcern = wc; return d }

// Deployment sets the topology this delete selects a server from.
func (d *Delete) Deployment(dep driver.Deployment) *Delete { d.deployment = dep; return d }

// Retry sets the retry mode. A limit:0 (delete-many) entry in the batch
// disables retryability regardless of this setting (spec.md §7).
func (d *Delete) Retry(rm driver.RetryMode) *Delete { d.retry = rm; return d }

func (d *Delete) isRetryable() bool {
	for _, doc := range d.deletes {
		if doc.Limit == 0 {
			return false
		}
	}
	return d.retry.Enabled()
}

func (d *Delete) command(description.SelectedServer) (bsoncore.Document, error) {
	docs := make([]bsoncore.Document, len(d.deletes))
	for i, dd := range d.deletes {
		docs[i] = dd.toDocument()
	}
	b := bsoncore.NewDocumentBuilder()
	b.AppendString("delete", d.collection)
	b.AppendArray("deletes", bsoncore.DocumentsToArray(docs))
	if d.ordered != nil {
		b.AppendBoolean("ordered", *d.ordered)
	}
	return b.Build(), nil
}

// CommandMonitor sets the monitor to use for command-monitoring events.
func (d *Delete) CommandMonitor(monitor *event.CommandMonitor) *Delete {
	d.monitor = monitor
	return d
}

// Execute runs the delete and stores its reply for Result.
func (d *Delete) Execute(ctx context.Context) error {
	if d.deployment == nil {
		return errors.New("operation: Delete must have a Deployment set before Execute can be called")
	}
	retry := driver.RetryNone
	if d.isRetryable() {
		retry = driver.RetryOnce
	}
	res, err := driver.Operation{
		CommandMonitor: d.monitor,
		CommandName:  "delete",
		Database:     d.database,
		Command:      d.command,
		Deployment:   d.deployment,
		WriteConcern: d.writeConcern,
		Session:      d.session,
		Clock:        d.clock,
		Retry:        retry,
	}.Execute(ctx)
	d.result = res
	return err
}
