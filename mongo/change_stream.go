// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package mongo

import (
	"context"
	"errors"

	"github.com/lattixdb/mongogo/bson"
	"github.com/lattixdb/mongogo/bson/bsoncore"
	"github.com/lattixdb/mongogo/bson/primitive"
	"github.com/lattixdb/mongogo/mongo/options"
	"github.com/lattixdb/mongogo/x/mongo/driver"
	"github.com/lattixdb/mongogo/x/mongo/driver/operation"
)

// ErrMissingResumeToken is raised when a change event arrives without a
// top-level _id; resumption would be impossible without it (spec.md
// §4.13: "If a document lacks _id, throw").
var ErrMissingResumeToken = errors.New("mongo: change stream event missing resume token")

// cursorNotFound is the server error code a getMore against a dropped
// cursor reports.
const cursorNotFound int32 = 43

// resumableChangeStreamErrorLabel is the 4.2+ label a server attaches to
// errors safe to resume a change stream across (spec.md §4.13).
const resumableChangeStreamErrorLabel = "ResumableChangeStreamError"

// ChangeStream is a resumable iterator over a $changeStream aggregation
// pipeline (spec.md §4.13).
type ChangeStream struct {
	client     *Client
	dbName     string
	collName   string
	pipeline   bsoncore.Array
	args       options.ChangeStreamArgs

	cursor *driver.BatchCursor

	resumeToken      bsoncore.Document
	clusterTimeSeen  *primitive.Timestamp
	current          bsoncore.Document
	err              error
	closed           bool
}

// newChangeStream opens a change stream over collName (or every collection
// in dbName, if collName is empty) and saves the resulting cursor.
func newChangeStream(ctx context.Context, client *Client, dbName, collName string, pipeline interface{}, opts ...*options.ChangeStreamOptions) (*ChangeStream, error) {
	userStages, err := changeStreamPipelineStages(pipeline)
	if err != nil {
		return nil, err
	}

	args := options.ChangeStreamArgs{}
	for _, o := range opts {
		for _, setter := range o.ArgsSetters() {
			if err := setter(&args); err != nil {
				return nil, err
			}
		}
	}

	cs := &ChangeStream{
		client:   client,
		dbName:   dbName,
		collName: collName,
		pipeline: userStages,
		args:     args,
	}
	if err := cs.open(ctx, nil, nil); err != nil {
		return nil, err
	}
	return cs, nil
}

func changeStreamPipelineStages(pipeline interface{}) (bsoncore.Array, error) {
	if pipeline == nil {
		return bsoncore.Array{}, nil
	}
	return encodePipelineValue(pipeline)
}

// open (re-)issues the aggregate with a $changeStream stage built from
// either the stream's resume state or the given overrides, and stores the
// resulting cursor.
func (cs *ChangeStream) open(ctx context.Context, resumeAfter bsoncore.Document, startAtOperationTime *primitive.Timestamp) error {
	stage := bsoncore.NewDocumentBuilder()
	if cs.args.FullDocument != nil {
		stage.AppendString("fullDocument", string(*cs.args.FullDocument))
	}
	if cs.args.FullDocumentBeforeChange != nil {
		stage.AppendString("fullDocumentBeforeChange", string(*cs.args.FullDocumentBeforeChange))
	}
	switch {
	case resumeAfter != nil:
		stage.AppendDocument("resumeAfter", resumeAfter)
	case startAtOperationTime != nil:
		stage.AppendTimestamp("startAtOperationTime", startAtOperationTime.T, startAtOperationTime.I)
	case cs.args.ResumeAfter != nil:
		stage.AppendDocument("resumeAfter", mustEncode(cs.args.ResumeAfter))
	case cs.args.StartAfter != nil:
		stage.AppendDocument("startAfter", mustEncode(cs.args.StartAfter))
	case cs.args.StartAtOperationTime != nil:
		t := cs.args.StartAtOperationTime
		stage.AppendTimestamp("startAtOperationTime", t.T, t.I)
	}
	if cs.args.ShowExpandedEvents != nil {
		stage.AppendBoolean("showExpandedEvents", *cs.args.ShowExpandedEvents)
	}
	for k, v := range cs.args.CustomPipeline {
		appendValue(stage, k, v)
	}
	changeStreamStage := bsoncore.NewDocumentBuilder().AppendDocument("$changeStream", stage.Build()).Build()

	fullPipeline := bsoncore.Array(bsoncore.DocumentsToArray(append([]bsoncore.Document{changeStreamStage}, arrayToDocuments(cs.pipeline)...)))

	agg := operation.NewAggregate(fullPipeline).
		Database(cs.dbName).
		Deployment(cs.client.deployment).
		ReadConcern(cs.client.readConcern).
		ReadPreference(cs.client.readPreference).
		ClusterClock(cs.client.clusterClock).
		CommandMonitor(cs.client.monitor)
	if cs.collName != "" {
		agg.Collection(cs.collName)
	}
	if cs.args.BatchSize != nil {
		agg.BatchSize(*cs.args.BatchSize)
	}
	if cs.args.Comment != nil {
		agg.Comment(cs.args.Comment)
	}
	if cs.client.retryReads {
		agg.Retry(driver.RetryOnce)
	}

	if err := agg.Execute(ctx); err != nil {
		return err
	}
	cs.cursor = agg.Result()
	return nil
}

func arrayToDocuments(arr bsoncore.Array) []bsoncore.Document {
	vals, err := arr.Values()
	if err != nil {
		return nil
	}
	docs := make([]bsoncore.Document, 0, len(vals))
	for _, v := range vals {
		if d, ok := v.DocumentOK(); ok {
			docs = append(docs, d)
		}
	}
	return docs
}

func appendValue(b *bsoncore.DocumentBuilder, key string, v interface{}) {
	b.AppendDocument(key, mustEncode(v))
}

// Next advances the stream to the next change event, transparently
// resuming once across a recoverable error (spec.md §4.13: "this retry is
// single-shot per next"). It returns false once the context is done or a
// non-recoverable error occurs; check Err afterward.
func (cs *ChangeStream) Next(ctx context.Context) bool {
	if cs.err != nil || cs.closed {
		return false
	}

	doc, ok, err := cs.cursor.Next(ctx)
	if err != nil && cs.resumable(err) {
		_ = cs.cursor.Close(ctx)
		var resumeAfter bsoncore.Document
		var startAt *primitive.Timestamp
		if cs.resumeToken != nil {
			resumeAfter = cs.resumeToken
		} else {
			startAt = cs.clusterTimeSeen
		}
		if reopenErr := cs.open(ctx, resumeAfter, startAt); reopenErr != nil {
			cs.err = reopenErr
			return false
		}
		doc, ok, err = cs.cursor.Next(ctx)
	}
	if err != nil {
		cs.err = err
		return false
	}
	if !ok {
		// Await timeout elapsed with no event; spec.md §4.13 treats this
		// as "no event at this time" rather than an error.
		return false
	}

	id, hasID := doc.Lookup("_id")
	if !hasID {
		cs.err = ErrMissingResumeToken
		return false
	}
	if rtDoc, ok := id.DocumentOK(); ok {
		cs.resumeToken = rtDoc
	}
	cs.current = doc
	return true
}

func (cs *ChangeStream) resumable(err error) bool {
	var de driver.Error
	if errors.As(err, &de) {
		return de.Code == cursorNotFound || de.HasErrorLabel(resumableChangeStreamErrorLabel) || de.Retryable()
	}
	return false
}

// Decode unmarshals the current change event into v.
func (cs *ChangeStream) Decode(v interface{}) error {
	if cs.current == nil {
		return ErrNoDocuments
	}
	return bson.DecodeOne(cs.current, v)
}

// ResumeToken returns the resume token of the most recently returned
// event, or nil if no event has been returned yet.
func (cs *ChangeStream) ResumeToken() bsoncore.Document { return cs.resumeToken }

// Err returns the error, if any, encountered during iteration.
func (cs *ChangeStream) Err() error { return cs.err }

// Close kills the underlying server-side cursor.
func (cs *ChangeStream) Close(ctx context.Context) error {
	if cs.closed {
		return nil
	}
	cs.closed = true
	return cs.cursor.Close(ctx)
}
