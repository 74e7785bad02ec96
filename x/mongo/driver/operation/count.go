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
	"github.com/lattixdb/mongogo/mongo/readconcern"
	"github.com/lattixdb/mongogo/mongo/readpref"
	"github.com/lattixdb/mongogo/x/mongo/driver"
	"github.com/lattixdb/mongogo/x/mongo/driver/description"
	"github.com/lattixdb/mongogo/x/mongo/driver/session"
)

// CountDocuments performs the count-via-aggregation-pipeline that replaced
// the legacy count command (spec.md Non-goals exclude legacy opcodes; the
// count command itself was deprecated server-side in favor of a pipeline;
// this always sends $match, then $skip and $limit when set, then a $group
// that sums 1 per document into n).
type CountDocuments struct {
	filter      bsoncore.Document
	collection  string
	database    string
	limit       *int64
	skip        *int64
	session     *session.ClientSession
	clock       *session.ClusterClock
	readConcern *readconcern.ReadConcern
	readPref    *readpref.ReadPref
	selector    description.ServerSelector
	deployment  driver.Deployment
	retry       driver.RetryMode

	result int64
}

// NewCountDocuments constructs a CountDocuments for the given filter.
func NewCountDocuments(filter bsoncore.Document) *CountDocuments {
	return &CountDocuments{filter: filter}
}

// Result returns the count from the last successful Execute.
func (c *CountDocuments) Result() int64 { return c.result }

// Collection sets the collection this count runs against.
func (c *CountDocuments) Collection(collection string) *CountDocuments {
	c.collection = collection
	return c
}

// Database sets the database this count runs against.
func (c *CountDocuments) Database(database string) *CountDocuments { c.database = database; return c }

// Limit caps the number of matching documents counted.
func (c *CountDocuments) Limit(limit int64) *CountDocuments { c.limit = &limit; return c }

// Skip sets the number of matching documents to skip before counting.
func (c *CountDocuments) Skip(skip int64) *CountDocuments { c.skip = &skip; return c }

// Session sets the session this count runs in.
func (c *CountDocuments) Session(sess *session.ClientSession) *CountDocuments {
	c.session = sess
	return c
}

// ClusterClock sets the cluster clock used absent a session.
func (c *CountDocuments) ClusterClock(clock *session.ClusterClock) *CountDocuments {
	c.clock = clock
	return c
}

// ReadConcern sets the read concern for this count.
func (c *CountDocuments) ReadConcern(rc *readconcern.ReadConcern) *CountDocuments {
	c.readConcern = rc
	return c
}

// ReadPreference sets the read preference used to select a server.
func (c *CountDocuments) ReadPreference(rp *readpref.ReadPref) *CountDocuments {
	c.readPref = rp
	return c
}

// ServerSelector overrides the server selector entirely.
func (c *CountDocuments) ServerSelector(sel description.ServerSelector) *CountDocuments {
	c.selector = sel
	return c
}

// Deployment sets the topology this count selects a server from.
func (c *CountDocuments) Deployment(d driver.Deployment) *CountDocuments { c.deployment = d; return c }

// Retry sets the retry mode (counting is a retryable read).
func (c *CountDocuments) Retry(rm driver.RetryMode) *CountDocuments { c.retry = rm; return c }

func (c *CountDocuments) pipeline() bsoncore.Array {
	matchStage := bsoncore.NewDocumentBuilder()
	filter := c.filter
	if filter == nil {
		filter = bsoncore.EmptyDocument()
	}
	matchStage.AppendDocument("$match", filter)
	stages := []bsoncore.Document{bsoncore.BuildDocument(elementBytes(matchStage.Build()))}

	if c.skip != nil {
		skipStage := bsoncore.NewDocumentBuilder()
		skipStage.AppendInt64("$skip", *c.skip)
		stages = append(stages, bsoncore.BuildDocument(elementBytes(skipStage.Build())))
	}
	if c.limit != nil {
		limitStage := bsoncore.NewDocumentBuilder()
		limitStage.AppendInt64("$limit", *c.limit)
		stages = append(stages, bsoncore.BuildDocument(elementBytes(limitStage.Build())))
	}
	groupStage := bsoncore.NewDocumentBuilder()
	groupStage.AppendInt32("_id", 1)
	inner := bsoncore.NewDocumentBuilder()
	inner.AppendInt32("$sum", 1)
	groupStage.AppendDocument("n", inner.Build())
	stages = append(stages, bsoncore.BuildDocument(elementBytes(groupStage.Build())))

	return bsoncore.DocumentsToArray(stages)
}

// elementBytes strips a complete document's length prefix and trailing
// NUL, leaving just its element bytes -- used here to repackage a
// single-field document built via DocumentBuilder as one pipeline stage.
func elementBytes(doc bsoncore.Document) []byte {
	raw := []byte(doc)
	return raw[4 : len(raw)-1]
}

func (c *CountDocuments) command(description.SelectedServer) (bsoncore.Document, error) {
	b := bsoncore.NewDocumentBuilder()
	b.AppendString("aggregate", c.collection)
	b.AppendArray("pipeline", c.pipeline())
	b.AppendDocument("cursor", bsoncore.NewDocumentBuilder().Build())
	return b.Build(), nil
}

// Execute runs the count pipeline and drains its single-document cursor
// reply, storing the count for Result.
func (c *CountDocuments) Execute(ctx context.Context) error {
	if c.deployment == nil {
		return errors.New("operation: CountDocuments must have a Deployment set before Execute can be called")
	}
	_, err := driver.Operation{
		CommandName: "aggregate",
		Database:    c.database,
		Command:     c.command,
		Deployment:  c.deployment,
		Session:     c.session,
		Clock:       c.clock,
		ReadConcern: c.readConcern,
		ReadPref:    c.readPref,
		Selector:    c.selector,
		Retry:       c.retry,
		ProcessResponseFn: func(res bsoncore.Document, _ driver.Server) error {
			return c.extractCount(res)
		},
	}.Execute(ctx)
	return err
}

func (c *CountDocuments) extractCount(res bsoncore.Document) error {
	_, _, firstBatch, err := parseCursorReply(res)
	if err != nil {
		return err
	}
	if len(firstBatch) == 0 {
		c.result = 0
		return nil
	}
	v, ok := firstBatch[0].Lookup("n")
	if !ok {
		c.result = 0
		return nil
	}
	n, _ := v.AsInt64()
	c.result = n
	return nil
}
