// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package mongo

import (
	"context"

	"github.com/lattixdb/mongogo/bson"
	"github.com/lattixdb/mongogo/bson/bsoncore"
	"github.com/lattixdb/mongogo/bson/primitive"
	"github.com/lattixdb/mongogo/mongo/options"
	"github.com/lattixdb/mongogo/mongo/readconcern"
	"github.com/lattixdb/mongogo/mongo/readpref"
	"github.com/lattixdb/mongogo/mongo/writeconcern"
	"github.com/lattixdb/mongogo/x/mongo/driver"
	"github.com/lattixdb/mongogo/x/mongo/driver/operation"
)

// maxWriteBatchDocuments bounds a single insert/update/delete batch absent
// an authoritative maxWriteBatchSize from the server description.
const maxWriteBatchDocuments = 100000

// targetBatchSizeBytes is the default wire-message budget a batch is split
// to stay under (spec.md §4.12).
const targetBatchSizeBytes = 16 * 1024 * 1024

// Collection is a handle to a named MongoDB collection, inheriting its
// database's defaults unless overridden (spec.md §1).
type Collection struct {
	db   *Database
	name string

	readConcern    *readconcern.ReadConcern
	writeConcern   *writeconcern.WriteConcern
	readPreference *readpref.ReadPref
}

// Name returns the name of this collection.
func (c *Collection) Name() string { return c.name }

// Database returns the Database this Collection was derived from.
func (c *Collection) Database() *Database { return c.db }

func (c *Collection) deployment() driver.Deployment { return c.db.client.deployment }

// InsertOneResult holds the result of an InsertOne call.
type InsertOneResult struct {
	InsertedID interface{}
}

// InsertManyResult holds the result of an InsertMany call.
type InsertManyResult struct {
	InsertedIDs []interface{}
}

// InsertOne inserts a single document, generating an ObjectID for its
// _id field if one isn't already present (spec.md §1).
func (c *Collection) InsertOne(ctx context.Context, document interface{}, opts ...*options.InsertOneOptionsBuilder) (*InsertOneResult, error) {
	doc, id, err := ensureID(document)
	if err != nil {
		return nil, err
	}

	args := options.InsertOneOptions{}
	for _, o := range opts {
		for _, setter := range o.OptionsSetters() {
			if err := setter(&args); err != nil {
				return nil, err
			}
		}
	}

	ins := operation.NewInsert(doc).
		Collection(c.name).
		Database(c.db.name).
		Deployment(c.deployment()).
		WriteConcern(c.writeConcern).
		ClusterClock(c.db.client.clusterClock).
		CommandMonitor(c.db.client.monitor)
	if args.BypassDocumentValidation != nil {
		ins.BypassDocumentValidation(*args.BypassDocumentValidation)
	}
	if c.db.client.retryWrites {
		ins.Retry(driver.RetryOnce)
	}

	if err := ins.Execute(ctx); err != nil {
		return nil, err
	}
	return &InsertOneResult{InsertedID: id}, nil
}

// InsertMany inserts a slice of documents, splitting them into
// server-sized batches (spec.md §4.12).
func (c *Collection) InsertMany(ctx context.Context, documents []interface{}, opts ...*options.InsertManyOptionsBuilder) (*InsertManyResult, error) {
	if len(documents) == 0 {
		return nil, ErrEmptySlice
	}

	args := options.InsertManyOptions{Ordered: boolPtr(options.DefaultOrdered)}
	for _, o := range opts {
		for _, setter := range o.OptionsSetters() {
			if err := setter(&args); err != nil {
				return nil, err
			}
		}
	}

	docs := make([]bsoncore.Document, len(documents))
	ids := make([]interface{}, len(documents))
	for i, d := range documents {
		doc, id, err := ensureID(d)
		if err != nil {
			return nil, err
		}
		docs[i] = doc
		ids[i] = id
	}

	for len(docs) > 0 {
		batch, rest, err := driver.SplitBatches(docs, maxWriteBatchDocuments, targetBatchSizeBytes)
		if err != nil {
			return nil, err
		}
		ins := operation.NewInsert(batch...).
			Collection(c.name).
			Database(c.db.name).
			Deployment(c.deployment()).
			WriteConcern(c.writeConcern).
			ClusterClock(c.db.client.clusterClock).
			CommandMonitor(c.db.client.monitor)
		if args.Ordered != nil {
			ins.Ordered(*args.Ordered)
		}
		if args.BypassDocumentValidation != nil {
			ins.BypassDocumentValidation(*args.BypassDocumentValidation)
		}
		if c.db.client.retryWrites && len(batch) == 1 {
			ins.Retry(driver.RetryOnce)
		}
		if err := ins.Execute(ctx); err != nil {
			return nil, err
		}
		docs = rest
	}
	return &InsertManyResult{InsertedIDs: ids}, nil
}

// ensureID marshals document and, if it has no _id field, generates an
// ObjectID and prepends it -- the server would otherwise assign one that
// the caller could never learn (spec.md §1: InsertOneResult reports the
// effective _id).
func ensureID(document interface{}) (bsoncore.Document, interface{}, error) {
	raw, err := bson.Marshal(document)
	if err != nil {
		return nil, nil, err
	}
	doc := bsoncore.Document(raw)
	if _, ok := doc.Lookup("_id"); ok {
		var d bson.D
		if err := bson.Unmarshal(raw, &d); err != nil {
			return nil, nil, err
		}
		for _, e := range d {
			if e.Key == "_id" {
				return doc, e.Value, nil
			}
		}
		return doc, nil, nil
	}
	oid := primitive.NewObjectID()
	return prependObjectID(oid, doc), oid, nil
}

// prependObjectID splices an "_id" element onto the front of doc's element
// list, matching the field order a server-assigned _id would occupy.
func prependObjectID(oid primitive.ObjectID, doc bsoncore.Document) bsoncore.Document {
	raw := []byte(doc)
	elems := raw[4 : len(raw)-1]
	idElem := bsoncore.AppendObjectIDElement(nil, "_id", oid)
	out := make([]byte, 4, 4+len(idElem)+len(elems)+1)
	out = append(out, idElem...)
	out = append(out, elems...)
	out = append(out, 0x00)
	l := int32(len(out))
	out[0] = byte(l)
	out[1] = byte(l >> 8)
	out[2] = byte(l >> 16)
	out[3] = byte(l >> 24)
	return bsoncore.Document(out)
}

// UpdateResult holds the result of an update/replace call.
type UpdateResult struct {
	MatchedCount  int64
	ModifiedCount int64
	UpsertedCount int64
	UpsertedID    interface{}
}

func extractUpdateResult(res bsoncore.Document) *UpdateResult {
	ur := &UpdateResult{}
	if v, ok := res.Lookup("n"); ok {
		ur.MatchedCount, _ = v.AsInt64()
	}
	if v, ok := res.Lookup("nModified"); ok {
		ur.ModifiedCount, _ = v.AsInt64()
	}
	if v, ok := res.Lookup("upserted"); ok {
		if arr, ok := v.ArrayOK(); ok {
			vals, _ := arr.Values()
			ur.UpsertedCount = int64(len(vals))
			if len(vals) > 0 {
				if doc, ok := vals[0].DocumentOK(); ok {
					if idv, ok := doc.Lookup("_id"); ok {
						if oid, ok := idv.ObjectIDOK(); ok {
							ur.UpsertedID = oid
						}
					}
				}
			}
		}
	}
	return ur
}

// UpdateOne applies update to at most one document matching filter.
func (c *Collection) UpdateOne(ctx context.Context, filter, update interface{}, opts ...*options.UpdateOneOptions) (*UpdateResult, error) {
	args := options.UpdateArgs{}
	for _, o := range opts {
		for _, setter := range o.ArgsSetters() {
			if err := setter(&args); err != nil {
				return nil, err
			}
		}
	}
	doc, isArray, err := encodeUpdate(update)
	if err != nil {
		return nil, err
	}
	ud := operation.UpdateDoc{
		Filter:        mustEncode(filter),
		Update:        doc,
		UpdateIsArray: isArray,
		Multi:         boolPtr(false),
		Upsert:        args.Upsert,
	}
	if args.ArrayFilters != nil {
		ud.ArrayFilters = bsoncore.Array(mustEncode(args.ArrayFilters))
	}
	if args.Collation != nil {
		ud.Collation = mustEncode(args.Collation.ToDocument())
	}

	op := operation.NewUpdate(ud).
		Collection(c.name).
		Database(c.db.name).
		Deployment(c.deployment()).
		WriteConcern(c.writeConcern).
		ClusterClock(c.db.client.clusterClock).
		CommandMonitor(c.db.client.monitor)
	if args.BypassDocumentValidation != nil {
		op.BypassDocumentValidation(*args.BypassDocumentValidation)
	}
	if c.db.client.retryWrites {
		op.Retry(driver.RetryOnce)
	}
	if err := op.Execute(ctx); err != nil {
		return nil, err
	}
	return extractUpdateResult(op.Result()), nil
}

// UpdateMany applies update to every document matching filter.
func (c *Collection) UpdateMany(ctx context.Context, filter, update interface{}, opts ...*options.UpdateManyOptions) (*UpdateResult, error) {
	args := options.UpdateArgs{}
	for _, o := range opts {
		for _, setter := range o.ArgsSetters() {
			if err := setter(&args); err != nil {
				return nil, err
			}
		}
	}
	doc, isArray, err := encodeUpdate(update)
	if err != nil {
		return nil, err
	}
	ud := operation.UpdateDoc{
		Filter:        mustEncode(filter),
		Update:        doc,
		UpdateIsArray: isArray,
		Multi:         boolPtr(true),
		Upsert:        args.Upsert,
	}
	if args.Collation != nil {
		ud.Collation = mustEncode(args.Collation.ToDocument())
	}

	op := operation.NewUpdate(ud).
		Collection(c.name).
		Database(c.db.name).
		Deployment(c.deployment()).
		WriteConcern(c.writeConcern).
		ClusterClock(c.db.client.clusterClock).
		CommandMonitor(c.db.client.monitor)
	if err := op.Execute(ctx); err != nil {
		return nil, err
	}
	return extractUpdateResult(op.Result()), nil
}

// ReplaceOne replaces at most one document matching filter with
// replacement in its entirety.
func (c *Collection) ReplaceOne(ctx context.Context, filter, replacement interface{}, opts ...*options.ReplaceOptions) (*UpdateResult, error) {
	args := options.UpdateArgs{}
	for _, o := range opts {
		for _, setter := range o.ArgsSetters() {
			if err := setter(&args); err != nil {
				return nil, err
			}
		}
	}
	ud := operation.UpdateDoc{
		Filter: mustEncode(filter),
		Update: mustEncode(replacement),
		Multi:  boolPtr(false),
		Upsert: args.Upsert,
	}
	if args.Collation != nil {
		ud.Collation = mustEncode(args.Collation.ToDocument())
	}

	op := operation.NewUpdate(ud).
		Collection(c.name).
		Database(c.db.name).
		Deployment(c.deployment()).
		WriteConcern(c.writeConcern).
		ClusterClock(c.db.client.clusterClock).
		CommandMonitor(c.db.client.monitor)
	if c.db.client.retryWrites {
		op.Retry(driver.RetryOnce)
	}
	if err := op.Execute(ctx); err != nil {
		return nil, err
	}
	return extractUpdateResult(op.Result()), nil
}

// encodeUpdate accepts either a modifier document (bson.D{{"$set", ...}})
// or an aggregation-pipeline update ([]bson.D), returning whether it
// encoded as an array.
func encodeUpdate(update interface{}) (bsoncore.Document, bool, error) {
	if pipeline, ok := update.([]bson.D); ok {
		arr, err := encodePipeline(toInterfaceSlice(pipeline))
		return bsoncore.Document(arr), true, err
	}
	if pipeline, ok := update.([]interface{}); ok {
		arr, err := encodePipeline(pipeline)
		return bsoncore.Document(arr), true, err
	}
	return mustEncode(update), false, nil
}

func toInterfaceSlice(ds []bson.D) []interface{} {
	out := make([]interface{}, len(ds))
	for i, d := range ds {
		out[i] = d
	}
	return out
}

// DeleteResult holds the result of a delete call.
type DeleteResult struct {
	DeletedCount int64
}

func extractDeleteResult(res bsoncore.Document) *DeleteResult {
	dr := &DeleteResult{}
	if v, ok := res.Lookup("n"); ok {
		dr.DeletedCount, _ = v.AsInt64()
	}
	return dr
}

// DeleteOne deletes at most one document matching filter.
func (c *Collection) DeleteOne(ctx context.Context, filter interface{}, opts ...*options.DeleteOneOptions) (*DeleteResult, error) {
	args := options.DeleteArgs{}
	for _, o := range opts {
		for _, setter := range o.ArgsSetters() {
			if err := setter(&args); err != nil {
				return nil, err
			}
		}
	}
	dd := operation.DeleteDoc{Filter: mustEncode(filter), Limit: 1}
	if args.Collation != nil {
		dd.Collation = mustEncode(args.Collation.ToDocument())
	}

	op := operation.NewDelete(dd).
		Collection(c.name).
		Database(c.db.name).
		Deployment(c.deployment()).
		WriteConcern(c.writeConcern).
		ClusterClock(c.db.client.clusterClock).
		CommandMonitor(c.db.client.monitor)
	if c.db.client.retryWrites {
		op.Retry(driver.RetryOnce)
	}
	if err := op.Execute(ctx); err != nil {
		return nil, err
	}
	return extractDeleteResult(op.Result()), nil
}

// DeleteMany deletes every document matching filter.
func (c *Collection) DeleteMany(ctx context.Context, filter interface{}, opts ...*options.DeleteManyOptions) (*DeleteResult, error) {
	args := options.DeleteArgs{}
	for _, o := range opts {
		for _, setter := range o.ArgsSetters() {
			if err := setter(&args); err != nil {
				return nil, err
			}
		}
	}
	dd := operation.DeleteDoc{Filter: mustEncode(filter), Limit: 0}
	if args.Collation != nil {
		dd.Collation = mustEncode(args.Collation.ToDocument())
	}

	op := operation.NewDelete(dd).
		Collection(c.name).
		Database(c.db.name).
		Deployment(c.deployment()).
		WriteConcern(c.writeConcern).
		ClusterClock(c.db.client.clusterClock).
		CommandMonitor(c.db.client.monitor)
	if err := op.Execute(ctx); err != nil {
		return nil, err
	}
	return extractDeleteResult(op.Result()), nil
}

// Find runs a query and returns a Cursor over the matching documents.
func (c *Collection) Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (*Cursor, error) {
	args := options.FindArgs{}
	for _, o := range opts {
		for _, setter := range o.ArgsSetters() {
			if err := setter(&args); err != nil {
				return nil, err
			}
		}
	}

	f := operation.NewFind(mustEncode(filter)).
		Collection(c.name).
		Database(c.db.name).
		Deployment(c.deployment()).
		ReadConcern(c.readConcern).
		ReadPreference(c.readPreference).
		ClusterClock(c.db.client.clusterClock).
		CommandMonitor(c.db.client.monitor)
	if args.Sort != nil {
		f.Sort(mustEncode(args.Sort))
	}
	if args.Projection != nil {
		f.Projection(mustEncode(args.Projection))
	}
	if args.Limit != nil {
		f.Limit(*args.Limit)
	}
	if args.Skip != nil {
		f.Skip(*args.Skip)
	}
	if args.BatchSize != nil {
		f.BatchSize(*args.BatchSize)
	}
	if args.Comment != nil {
		f.Comment(args.Comment)
	}
	if c.db.client.retryReads {
		f.Retry(driver.RetryOnce)
	}

	if err := f.Execute(ctx); err != nil {
		return nil, err
	}
	return newCursor(f.Result(), c.db.client), nil
}

// FindOne runs a query limited to a single document, returning
// ErrNoDocuments if nothing matched.
func (c *Collection) FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) *SingleResult {
	args := options.FindOneArgs{}
	for _, o := range opts {
		for _, setter := range o.ArgsSetters() {
			if err := setter(&args); err != nil {
				return &SingleResult{err: err}
			}
		}
	}

	f := operation.NewFind(mustEncode(filter)).
		Collection(c.name).
		Database(c.db.name).
		Deployment(c.deployment()).
		ReadConcern(c.readConcern).
		ReadPreference(c.readPreference).
		ClusterClock(c.db.client.clusterClock).
		CommandMonitor(c.db.client.monitor).
		Limit(1)
	if args.Sort != nil {
		f.Sort(mustEncode(args.Sort))
	}
	if args.Projection != nil {
		f.Projection(mustEncode(args.Projection))
	}
	if args.Skip != nil {
		f.Skip(*args.Skip)
	}
	if c.db.client.retryReads {
		f.Retry(driver.RetryOnce)
	}

	if err := f.Execute(ctx); err != nil {
		return &SingleResult{err: err}
	}
	cursor := newCursor(f.Result(), c.db.client)
	defer cursor.Close(ctx)
	if !cursor.Next(ctx) {
		if err := cursor.Err(); err != nil {
			return &SingleResult{err: err}
		}
		return &SingleResult{err: ErrNoDocuments}
	}
	return &SingleResult{doc: cursor.current}
}

// SingleResult wraps the outcome of a single-document read.
type SingleResult struct {
	doc bsoncore.Document
	err error
}

// Decode unmarshals the matched document into v, or returns the error
// that occurred finding it (including ErrNoDocuments).
func (sr *SingleResult) Decode(v interface{}) error {
	if sr.err != nil {
		return sr.err
	}
	return bson.DecodeOne(sr.doc, v)
}

// Err returns the error, if any, that occurred finding the document.
func (sr *SingleResult) Err() error { return sr.err }

// Aggregate runs an aggregation pipeline and returns a Cursor over its
// results.
func (c *Collection) Aggregate(ctx context.Context, pipeline interface{}, opts ...*options.AggregateOptions) (*Cursor, error) {
	args := options.AggregateArgs{}
	for _, o := range opts {
		for _, setter := range o.ArgsSetters() {
			if err := setter(&args); err != nil {
				return nil, err
			}
		}
	}

	arr, err := encodePipelineValue(pipeline)
	if err != nil {
		return nil, err
	}

	a := operation.NewAggregate(arr).
		Collection(c.name).
		Database(c.db.name).
		Deployment(c.deployment()).
		ReadConcern(c.readConcern).
		WriteConcern(c.writeConcern).
		ReadPreference(c.readPreference).
		ClusterClock(c.db.client.clusterClock).
		CommandMonitor(c.db.client.monitor)
	if args.BatchSize != nil {
		a.BatchSize(*args.BatchSize)
	}
	if args.Comment != nil {
		a.Comment(args.Comment)
	}
	if args.BypassDocumentValidation != nil {
		a.BypassDocumentValidation(*args.BypassDocumentValidation)
	}
	if c.db.client.retryReads {
		a.Retry(driver.RetryOnce)
	}

	if err := a.Execute(ctx); err != nil {
		return nil, err
	}
	return newCursor(a.Result(), c.db.client), nil
}

func encodePipelineValue(pipeline interface{}) (bsoncore.Array, error) {
	switch p := pipeline.(type) {
	case []bson.D:
		return encodePipeline(toInterfaceSlice(p))
	case []interface{}:
		return encodePipeline(p)
	default:
		return encodePipeline([]interface{}{pipeline})
	}
}

func encodePipeline(stages []interface{}) (bsoncore.Array, error) {
	docs := make([]bsoncore.Document, len(stages))
	for i, s := range stages {
		docs[i] = mustEncode(s)
	}
	return bsoncore.Array(bsoncore.DocumentsToArray(docs)), nil
}

// CountDocuments returns the number of documents matching filter, run as
// an aggregation pipeline since the legacy count command is out of scope
// (spec.md Non-goals exclude legacy opcode fallbacks).
func (c *Collection) CountDocuments(ctx context.Context, filter interface{}, opts ...*options.CountOptionsBuilder) (int64, error) {
	args := options.CountOptions{}
	for _, o := range opts {
		for _, setter := range o.ArgsSetters() {
			if err := setter(&args); err != nil {
				return 0, err
			}
		}
	}

	cd := operation.NewCountDocuments(mustEncode(filter)).
		Collection(c.name).
		Database(c.db.name).
		Deployment(c.deployment()).
		ReadConcern(c.readConcern).
		ReadPreference(c.readPreference).
		ClusterClock(c.db.client.clusterClock)
	if args.Limit != nil {
		cd.Limit(*args.Limit)
	}
	if args.Skip != nil {
		cd.Skip(*args.Skip)
	}
	if c.db.client.retryReads {
		cd.Retry(driver.RetryOnce)
	}

	if err := cd.Execute(ctx); err != nil {
		return 0, err
	}
	return cd.Result(), nil
}

// Drop drops this collection.
func (c *Collection) Drop(ctx context.Context) error {
	cmd := bsoncore.NewDocumentBuilder().AppendString("drop", c.name).Build()
	op := operation.NewCommand(cmd).
		Database(c.db.name).
		Deployment(c.deployment()).
		ClusterClock(c.db.client.clusterClock).
		CommandMonitor(c.db.client.monitor)
	err := op.Execute(ctx)
	if err != nil && IsNamespaceNotFound(err) {
		return nil
	}
	return err
}

// Watch opens a change stream over this collection (spec.md §4.13).
func (c *Collection) Watch(ctx context.Context, pipeline interface{}, opts ...*options.ChangeStreamOptions) (*ChangeStream, error) {
	return newChangeStream(ctx, c.db.client, c.db.name, c.name, pipeline, opts...)
}
