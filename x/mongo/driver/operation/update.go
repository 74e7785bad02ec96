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

// UpdateDoc is one element of an update command's "updates" array.
type UpdateDoc struct {
	Filter       bsoncore.Document
	Update       bsoncore.Document // a modifier document or, for a pipeline update, an array
	UpdateIsArray bool
	Multi        *bool
	Upsert       *bool
	Collation    bsoncore.Document
	ArrayFilters bsoncore.Array
}

func (u UpdateDoc) toDocument() bsoncore.Document {
	b := bsoncore.NewDocumentBuilder()
	b.AppendDocument("q", u.Filter)
	if u.UpdateIsArray {
		b.AppendArray("u", bsoncore.Array(u.Update))
	} else {
		b.AppendDocument("u", u.Update)
	}
	if u.Multi != nil {
		b.AppendBoolean("multi", *u.Multi)
	}
	if u.Upsert != nil {
		b.AppendBoolean("upsert", *u.Upsert)
	}
	if u.Collation != nil {
		b.AppendDocument("collation", u.Collation)
	}
	if u.ArrayFilters != nil {
		b.AppendArray("arrayFilters", u.ArrayFilters)
	}
	return b.Build()
}

// Update performs an update command against one batch of UpdateDocs
// (spec.md §4.12).
type Update struct {
	updates      []UpdateDoc
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

// NewUpdate constructs an Update for the given batch of UpdateDocs.
func NewUpdate(updates ...UpdateDoc) *Update { return &Update{updates: updates} }

// Result returns the raw reply of the last successful Execute.
func (u *Update) Result() bsoncore.Document { return u.result }

// Collection sets the collection this update runs against.
func (u *Update) Collection(collection string) *Update { u.collection = collection; return u }

// Database sets the database this update runs against.
func (u *Update) Database(database string) *Update { u.database = database; return u }

// Ordered sets whether the server should stop at the first failing update.
func (u *Update) Ordered(ordered bool) *Update { u.ordered = &ordered; return u }

// BypassDocumentValidation skips the server's schema validation.
func (u *Update) BypassDocumentValidation(bypass bool) *Update {
	u.bypassDocVal = &bypass
	return u
}

// Session sets the session this update runs in.
func (u *Update) Session(sess *session.ClientSession) *Update { u.session = sess; return u }

// ClusterClock sets the cluster clock used absent a session.
func (u *Update) ClusterClock(clock *session.ClusterClock) *Update { u.clock = clock; return u }

// WriteConcern sets the write concern for this update.
func (u *Update) WriteConcern(wc *writeconcern.WriteConcern) *Update { u.writeConcern = wc; return u }

// Deployment sets the topology this update selects a server from.
func (u *Update) Deployment(d driver.Deployment) *Update { u.deployment = d; return u }

// Retry sets the retry mode. A multi:true update in the batch disables
// retryability regardless of this setting (spec.md §7: only single-
// document-targeting writes are retryable).
func (u *Update) Retry(rm driver.RetryMode) *Update { u.retry = rm; return u }

func (u *Update) isRetryable() bool {
	for _, doc := range u.updates {
		if doc.Multi != nil && *doc.Multi {
			return false
		}
	}
	return u.retry.Enabled()
}

func (u *Update) command(description.SelectedServer) (bsoncore.Document, error) {
	docs := make([]bsoncore.Document, len(u.updates))
	for i, ud := range u.updates {
		docs[i] = ud.toDocument()
	}
	b := bsoncore.NewDocumentBuilder()
	b.AppendString("update", u.collection)
	b.AppendArray("updates", bsoncore.DocumentsToArray(docs))
	if u.ordered != nil {
		b.AppendBoolean("ordered", *u.ordered)
	}
	if u.bypassDocVal != nil {
		b.AppendBoolean("bypassDocumentValidation", *u.bypassDocVal)
	}
	return b.Build(), nil
}

// CommandMonitor sets the monitor to use for command-monitoring events.
func (u *Update) CommandMonitor(monitor *event.CommandMonitor) *Update {
	u.monitor = monitor
	return u
}

// Execute runs the update and stores its reply for Result.
func (u *Update) Execute(ctx context.Context) error {
	if u.deployment == nil {
		return errors.New("operation: Update must have a Deployment set before Execute can be called")
	}
	retry := driver.RetryNone
	if u.isRetryable() {
		retry = driver.RetryOnce
	}
	res, err := driver.Operation{
		CommandMonitor: u.monitor,
		CommandName:  "update",
		Database:     u.database,
		Command:      u.command,
		Deployment:   u.deployment,
		WriteConcern: u.writeConcern,
		Session:      u.session,
		Clock:        u.clock,
		Retry:        retry,
	}.Execute(ctx)
	u.result = res
	return err
}
