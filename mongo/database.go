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
	"github.com/lattixdb/mongogo/mongo/readconcern"
	"github.com/lattixdb/mongogo/mongo/readpref"
	"github.com/lattixdb/mongogo/mongo/writeconcern"
	"github.com/lattixdb/mongogo/x/mongo/driver/operation"
)

// Database is a handle to a named MongoDB database, inheriting its
// client's defaults unless overridden (spec.md §1).
type Database struct {
	client *Client
	name   string

	readConcern    *readconcern.ReadConcern
	writeConcern   *writeconcern.WriteConcern
	readPreference *readpref.ReadPref
}

// Name returns the name of this database.
func (db *Database) Name() string { return db.name }

// Client returns the Client this Database was derived from.
func (db *Database) Client() *Client { return db.client }

// Collection returns a handle to the named collection, inheriting this
// database's defaults unless overridden.
func (db *Database) Collection(name string) *Collection {
	return &Collection{
		db:             db,
		name:           name,
		readConcern:    db.readConcern,
		writeConcern:   db.writeConcern,
		readPreference: db.readPreference,
	}
}

// RunCommand runs an arbitrary command against this database -- the
// escape hatch for server commands the package does not otherwise wrap
// (spec.md §1 Non-goals).
func (db *Database) RunCommand(ctx context.Context, cmd interface{}) bsoncore.Document {
	op := operation.NewCommand(mustEncode(cmd)).
		Database(db.name).
		Deployment(db.client.deployment).
		ReadPreference(db.readPreference).
		ReadConcern(db.readConcern).
		ClusterClock(db.client.clusterClock).
		CommandMonitor(db.client.monitor)
	if err := op.Execute(ctx); err != nil {
		return nil
	}
	return op.Result()
}

// Drop drops this database and all its collections (spec.md's
// supplemented admin-command surface).
func (db *Database) Drop(ctx context.Context) error {
	return operation.NewDropDatabase().
		Database(db.name).
		Deployment(db.client.deployment).
		WriteConcern(db.writeConcern).
		ClusterClock(db.client.clusterClock).
		CommandMonitor(db.client.monitor).
		Execute(ctx)
}

// ListCollectionNames returns the names of the collections in this
// database matching filter.
func (db *Database) ListCollectionNames(ctx context.Context, filter interface{}) ([]string, error) {
	if filter == nil {
		filter = bson.D{}
	}
	lc := operation.NewListCollections(mustEncode(filter)).
		NameOnly(true).
		Database(db.name).
		Deployment(db.client.deployment).
		ReadPreference(db.readPreference).
		ClusterClock(db.client.clusterClock).
		CommandMonitor(db.client.monitor)
	if err := lc.Execute(ctx); err != nil {
		return nil, err
	}
	cursor := newCursor(lc.Result(), db.client)
	defer cursor.Close(ctx)

	var names []string
	for cursor.Next(ctx) {
		var spec struct {
			Name string `bson:"name"`
		}
		if err := cursor.Decode(&spec); err != nil {
			return nil, err
		}
		names = append(names, spec.Name)
	}
	return names, cursor.Err()
}

func mustEncode(v interface{}) bsoncore.Document {
	if doc, ok := v.(bsoncore.Document); ok {
		return doc
	}
	b, err := bson.Marshal(v)
	if err != nil {
		panic(err)
	}
	return bsoncore.Document(b)
}
