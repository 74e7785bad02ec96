// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package mongo

import (
	"context"
	"reflect"

	"github.com/lattixdb/mongogo/bson"
	"github.com/lattixdb/mongogo/bson/bsoncore"
	"github.com/lattixdb/mongogo/x/mongo/driver"
)

// Cursor iterates the results of a find/aggregate/listCollections call,
// wrapping the server-side getMore protocol (spec.md §4.11).
type Cursor struct {
	bc      *driver.BatchCursor
	client  *Client
	current bsoncore.Document
	err     error
}

func newCursor(bc *driver.BatchCursor, client *Client) *Cursor {
	return &Cursor{bc: bc, client: client}
}

// ID returns the server-side cursor id; 0 means the cursor is exhausted.
func (c *Cursor) ID() int64 { return c.bc.ID() }

// Next advances the cursor to the next document, blocking on a getMore
// if the buffered batch is exhausted. It returns false once the cursor
// is exhausted or an error occurs; check Err afterward.
func (c *Cursor) Next(ctx context.Context) bool {
	if c.err != nil {
		return false
	}
	doc, ok, err := c.bc.Next(ctx)
	if err != nil {
		c.err = err
		return false
	}
	if !ok {
		return false
	}
	c.current = doc
	return true
}

// Decode unmarshals the current document into v.
func (c *Cursor) Decode(v interface{}) error {
	if c.current == nil {
		return ErrNoDocuments
	}
	return bson.DecodeOne(c.current, v)
}

// All drains every remaining document into results, which must be a
// pointer to a slice.
func (c *Cursor) All(ctx context.Context, results interface{}) error {
	rv := reflect.ValueOf(results)
	if rv.Kind() != reflect.Ptr || rv.Elem().Kind() != reflect.Slice {
		panic("mongo: results argument must be a pointer to a slice")
	}
	slice := rv.Elem()
	elemType := slice.Type().Elem()
	slice.Set(reflect.MakeSlice(slice.Type(), 0, 0))

	for c.Next(ctx) {
		elem := reflect.New(elemType)
		if err := c.Decode(elem.Interface()); err != nil {
			return err
		}
		slice.Set(reflect.Append(slice, elem.Elem()))
	}
	return c.Err()
}

// Err returns the error, if any, encountered during iteration.
func (c *Cursor) Err() error { return c.err }

// Close kills the server-side cursor, reclaiming its resources.
func (c *Cursor) Close(ctx context.Context) error {
	return c.bc.Close(ctx)
}
