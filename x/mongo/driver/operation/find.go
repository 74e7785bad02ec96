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
	"github.com/lattixdb/mongogo/x/mongo/driver"
	"github.com/lattixdb/mongogo/x/mongo/driver/description"
	"github.com/lattixdb/mongogo/x/mongo/driver/session"
)

// Find performs a find command and opens a server-side cursor over its
// results (spec.md §4.11).
type Find struct {
	filter      bsoncore.Document
	sort        bsoncore.Document
	projection  bsoncore.Document
	collection  string
	database    string
	limit       *int64
	skip        *int64
	batchSize   *int32
	comment     interface{}
	maxTime     *int64
	session     *session.ClientSession
	clock       *session.ClusterClock
	readConcern *readconcern.ReadConcern
	readPref    *readpref.ReadPref
	selector    description.ServerSelector
	monitor     *event.CommandMonitor
	deployment  driver.Deployment
	retry       driver.RetryMode

	cursor *driver.BatchCursor
}

// NewFind constructs a Find for the given filter.
func NewFind(filter bsoncore.Document) *Find { return &Find{filter: filter} }

// Result returns the opened cursor from the last successful Execute.
func (f *Find) Result() *driver.BatchCursor { return f.cursor }

// Collection sets the collection this find runs against.
func (f *Find) Collection(collection string) *Find { f.collection = collection; return f }

// Database sets the database this find runs against.
func (f *Find) Database(database string) *Find { f.database = database; return f }

// Sort sets the sort order.
func (f *Find) Sort(sort bsoncore.Document) *Find { f.sort = sort; return f }

// Projection sets the field projection.
func (f *Find) Projection(proj bsoncore.Document) *Find { f.projection = proj; return f }

// Limit caps the total number of documents returned.
func (f *Find) Limit(limit int64) *Find { f.limit = &limit; return f }

// Skip sets the number of matching documents to skip.
func (f *Find) Skip(skip int64) *Find { f.skip = &skip; return f }

// BatchSize sets the batch size for the initial find and every getMore.
func (f *Find) BatchSize(size int32) *Find { f.batchSize = &size; return f }

// Comment attaches a comment visible in server-side logs and profiling to
// the find command and every getMore of its cursor; only a value that
// encodes as a document is sent.
func (f *Find) Comment(v interface{}) *Find { f.comment = v; return f }

// MaxTime sets maxTimeMS on the find command.
func (f *Find) MaxTime(ms int64) *Find { f.maxTime = &ms; return f }

// Session sets the session this find runs in.
func (f *Find) Session(sess *session.ClientSession) *Find { f.session = sess; return f }

// ClusterClock sets the cluster clock used absent a session.
func (f *Find) ClusterClock(clock *session.ClusterClock) *Find { f.clock = clock; return f }

// ReadConcern sets the read concern for this find.
func (f *Find) ReadConcern(rc *readconcern.ReadConcern) *Find { f.readConcern = rc; return f }

// ReadPreference sets the read preference used to select a server.
func (f *Find) ReadPreference(rp *readpref.ReadPref) *Find { f.readPref = rp; return f }

// ServerSelector overrides the server selector entirely.
func (f *Find) ServerSelector(sel description.ServerSelector) *Find { f.selector = sel; return f }

// Deployment sets the topology this find selects a server from.
func (f *Find) Deployment(d driver.Deployment) *Find { f.deployment = d; return f }

// CommandMonitor sets the monitor to use for command-monitoring events.
func (f *Find) CommandMonitor(monitor *event.CommandMonitor) *Find { f.monitor = monitor; return f }

// Retry sets the retry mode (spec.md §7: finds are retryable reads).
func (f *Find) Retry(rm driver.RetryMode) *Find { f.retry = rm; return f }

func (f *Find) command(description.SelectedServer) (bsoncore.Document, error) {
	b := bsoncore.NewDocumentBuilder()
	b.AppendString("find", f.collection)
	if f.filter != nil {
		b.AppendDocument("filter", f.filter)
	}
	if f.sort != nil {
		b.AppendDocument("sort", f.sort)
	}
	if f.projection != nil {
		b.AppendDocument("projection", f.projection)
	}
	if f.skip != nil {
		b.AppendInt64("skip", *f.skip)
	}
	if f.limit != nil {
		b.AppendInt64("limit", *f.limit)
	}
	if f.batchSize != nil {
		b.AppendInt32("batchSize", *f.batchSize)
	}
	if f.maxTime != nil {
		b.AppendInt64("maxTimeMS", *f.maxTime)
	}
	if f.comment != nil {
		if doc, err := bson.EncodeOne(f.comment); err == nil {
			b.AppendDocument("comment", doc)
		}
	}
	return b.Build(), nil
}

// Execute runs the find and opens the resulting cursor, retrievable via
// Result.
func (f *Find) Execute(ctx context.Context) error {
	if f.deployment == nil {
		return errors.New("operation: Find must have a Deployment set before Execute can be called")
	}
	_, err := driver.Operation{
		CommandMonitor:    f.monitor,
		CommandName:       "find",
		Database:          f.database,
		Command:           f.command,
		Deployment:        f.deployment,
		Session:           f.session,
		Clock:             f.clock,
		ReadConcern:       f.readConcern,
		ReadPref:          f.readPref,
		Selector:          f.selector,
		Retry:             f.retry,
		ProcessResponseFn: f.openCursor,
	}.Execute(ctx)
	return err
}

func (f *Find) openCursor(res bsoncore.Document, srv driver.Server) error {
	id, ns, firstBatch, err := parseCursorReply(res)
	if err != nil {
		return err
	}
	if ns.DB == "" {
		ns = driver.Namespace{DB: f.database, Collection: f.collection}
	}
	bc := driver.NewBatchCursor(id, ns, srv, firstBatch)
	if f.batchSize != nil {
		bc.SetBatchSize(*f.batchSize)
	}
	if f.limit != nil {
		bc.SetLimit(int32(*f.limit))
	}
	if f.comment != nil {
		bc.SetComment(f.comment)
	}
	f.cursor = bc
	return nil
}

// parseCursorReply decodes the "cursor" subdocument every find/aggregate/
// listCollections reply carries (spec.md §4.11): an id, a namespace, and
// the batch of documents already fetched by the opening command.
func parseCursorReply(res bsoncore.Document) (int64, driver.Namespace, []bsoncore.Document, error) {
	v, ok := res.Lookup("cursor")
	if !ok {
		return 0, driver.Namespace{}, nil, errors.New("operation: reply has no cursor field")
	}
	doc, ok := v.DocumentOK()
	if !ok {
		return 0, driver.Namespace{}, nil, errors.New("operation: cursor field is not a document")
	}
	var id int64
	if idv, ok := doc.Lookup("id"); ok {
		id, _ = idv.AsInt64()
	}
	var ns driver.Namespace
	if nsv, ok := doc.Lookup("ns"); ok {
		if s, ok := nsv.StringValueOK(); ok {
			ns = splitNamespace(s)
		}
	}
	var batch []bsoncore.Document
	batchKey := "firstBatch"
	if _, ok := doc.Lookup("firstBatch"); !ok {
		batchKey = "nextBatch"
	}
	if bv, ok := doc.Lookup(batchKey); ok {
		if arr, ok := bv.ArrayOK(); ok {
			vals, _ := arr.Values()
			for _, val := range vals {
				if d, ok := val.DocumentOK(); ok {
					batch = append(batch, d)
				}
			}
		}
	}
	return id, ns, batch, nil
}

func splitNamespace(s string) driver.Namespace {
	for i := 0; i < len(s); i++ {
		if s[i] == '.' {
			return driver.Namespace{DB: s[:i], Collection: s[i+1:]}
		}
	}
	return driver.Namespace{DB: s}
}
