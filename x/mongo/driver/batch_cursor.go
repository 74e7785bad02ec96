// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package driver

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/lattixdb/mongogo/bson"
	"github.com/lattixdb/mongogo/bson/bsoncore"
	"github.com/lattixdb/mongogo/x/mongo/driver/wiremessage"
)

// BatchCursor drives the getMore/killCursors iteration of a server-side
// cursor (spec.md §4.11): the find/aggregate/listCollections reply's first
// batch is buffered here, and every subsequent call to Next issues a
// getMore against the server that opened the cursor.
type BatchCursor struct {
	id          int64
	ns          Namespace
	server      Server
	current     []bsoncore.Document
	batchSize   int32
	limit       int32
	numReturned int32
	maxTimeMS   int64
	comment     bsonComment
	closed      bool
}

// Namespace identifies the database+collection a cursor or write targets.
type Namespace struct {
	DB         string
	Collection string
}

// NewBatchCursor wraps a cursor opened on srv, seeded with its first batch
// (spec.md §4.11: "the initial command's reply already carries the first
// batch").
func NewBatchCursor(id int64, ns Namespace, srv Server, firstBatch []bsoncore.Document) *BatchCursor {
	return &BatchCursor{
		id:          id,
		ns:          ns,
		server:      srv,
		current:     firstBatch,
		numReturned: int32(len(firstBatch)),
	}
}

// ID returns the server-side cursor id; 0 means the cursor is exhausted.
func (bc *BatchCursor) ID() int64 { return bc.id }

// SetBatchSize overrides the per-getMore batch size.
func (bc *BatchCursor) SetBatchSize(size int32) { bc.batchSize = size }

// SetLimit caps the total number of documents this cursor will ever
// return, so calcGetMoreBatchSize stops issuing getMores once satisfied.
func (bc *BatchCursor) SetLimit(limit int32) { bc.limit = limit }

// SetMaxTime sets the getMore command's maxTimeMS, truncating sub-
// millisecond durations to zero (spec.md §4.11).
func (bc *BatchCursor) SetMaxTime(d time.Duration) {
	bc.maxTimeMS = d.Milliseconds()
}

// SetComment attaches a comment to every getMore this cursor issues. Only
// a value that encodes as a document is kept; a bare scalar (a string,
// say) is dropped, so it is neither sent nor rendered by String.
func (bc *BatchCursor) SetComment(v interface{}) {
	bc.comment = newBSONComment(v)
}

// bsonComment lazily renders a comment value as a JSON-ish string for
// logging, without pulling in a full extended-JSON encoder.
type bsonComment struct {
	doc   bsoncore.Document
	valid bool
}

func newBSONComment(v interface{}) bsonComment {
	if v == nil {
		return bsonComment{}
	}
	doc, err := bson.EncodeOne(v)
	if err != nil {
		return bsonComment{}
	}
	return bsonComment{doc: doc, valid: true}
}

// String renders the comment's fields as a JSON-ish object (one space
// after each colon, matching mongosh's log-line rendering of a command
// comment), or "" if the comment was never set or wasn't document-shaped.
func (c bsonComment) String() string {
	if !c.valid {
		return ""
	}
	var d bson.D
	if err := bson.DecodeOne(c.doc, &d); err != nil {
		return ""
	}
	if len(d) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteByte('{')
	for i, e := range d {
		if i > 0 {
			sb.WriteString(", ")
		}
		key, _ := json.Marshal(e.Key)
		sb.Write(key)
		sb.WriteString(": ")
		val, err := json.Marshal(e.Value)
		if err != nil {
			return ""
		}
		sb.Write(val)
	}
	sb.WriteByte('}')
	return sb.String()
}

// calcGetMoreBatchSize computes the numberToReturn for this cursor's next
// getMore (spec.md §4.11). A limit that has already been fully satisfied by
// prior batches wins outright and reports ok=false, so the caller issues no
// further getMore; otherwise an explicit batchSize is used, falling back to
// an unbounded 0 (let the server pick) when neither is set.
func calcGetMoreBatchSize(bc BatchCursor) (int32, bool) {
	if bc.limit != 0 && bc.numReturned >= bc.limit {
		return bc.limit - bc.numReturned, false
	}
	if bc.batchSize != 0 {
		return bc.batchSize, true
	}
	return 0, true
}

// Next issues a getMore if the buffered batch is exhausted and the cursor
// isn't dead, then returns the next document. It returns ok=false once the
// cursor is exhausted and no buffered documents remain.
func (bc *BatchCursor) Next(ctx context.Context) (doc bsoncore.Document, ok bool, err error) {
	if len(bc.current) > 0 {
		doc, bc.current = bc.current[0], bc.current[1:]
		return doc, true, nil
	}
	if bc.id == 0 || bc.closed {
		return nil, false, nil
	}
	size, more := calcGetMoreBatchSize(*bc)
	if !more {
		return nil, false, nil
	}
	batch, nextID, err := bc.getMore(ctx, size)
	if err != nil {
		return nil, false, err
	}
	bc.id = nextID
	bc.numReturned += int32(len(batch))
	bc.current = batch
	if len(bc.current) == 0 {
		return nil, false, nil
	}
	doc, bc.current = bc.current[0], bc.current[1:]
	return doc, true, nil
}

// Close kills the server-side cursor if it's still alive (spec.md §4.11:
// "an abandoned open cursor... is reclaimed by sending killCursors").
func (bc *BatchCursor) Close(ctx context.Context) error {
	if bc.closed {
		return nil
	}
	bc.closed = true
	if bc.id == 0 {
		return nil
	}
	return bc.killCursors(ctx)
}

func (bc *BatchCursor) getMore(ctx context.Context, batchSize int32) ([]bsoncore.Document, int64, error) {
	conn, err := bc.server.Connection(ctx)
	if err != nil {
		return nil, 0, err
	}
	defer conn.Close()

	b := bsoncore.NewDocumentBuilder()
	b.AppendInt64("getMore", bc.id)
	b.AppendString("collection", bc.ns.Collection)
	if batchSize > 0 {
		b.AppendInt32("batchSize", batchSize)
	}
	if bc.maxTimeMS > 0 {
		b.AppendInt64("maxTimeMS", bc.maxTimeMS)
	}
	if bc.comment.valid {
		b.AppendDocument("comment", bc.comment.doc)
	}

	res, err := roundTripDecode(ctx, conn, commandWireMessage(b.Build(), bc.ns.DB))
	if err != nil {
		return nil, 0, err
	}

	cursorVal, ok := res.Lookup("cursor")
	if !ok {
		return nil, 0, nil
	}
	cursorDoc, ok := cursorVal.DocumentOK()
	if !ok {
		return nil, 0, nil
	}
	var nextID int64
	if idVal, ok := cursorDoc.Lookup("id"); ok {
		nextID, _ = idVal.AsInt64()
	}
	var batch []bsoncore.Document
	if batchVal, ok := cursorDoc.Lookup("nextBatch"); ok {
		if arr, ok := batchVal.ArrayOK(); ok {
			vals, _ := arr.Values()
			for _, v := range vals {
				if d, ok := v.DocumentOK(); ok {
					batch = append(batch, d)
				}
			}
		}
	}
	return batch, nextID, nil
}

func (bc *BatchCursor) killCursors(ctx context.Context) error {
	conn, err := bc.server.Connection(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	idsDoc := bsoncore.NewDocumentBuilder().AppendInt64("0", bc.id).Build()

	b := bsoncore.NewDocumentBuilder()
	b.AppendString("killCursors", bc.ns.Collection)
	b.AppendArray("cursors", bsoncore.Array(idsDoc))
	cmd := b.Build()

	_, err = roundTripDecode(ctx, conn, commandWireMessage(cmd, bc.ns.DB))
	return err
}

// commandWireMessage splices $db onto a complete command document and
// frames it as an OP_MSG, the same two-step every command in this package
// goes through (see Operation.createWireMessage).
func commandWireMessage(cmd bsoncore.Document, db string) []byte {
	raw := openDoc(cmd)
	raw = bsoncore.AppendStringElement(raw, "$db", db)
	return wiremessage.AppendMsg(nil, wiremessage.NextRequestID(), 0, closeDoc(raw))
}
