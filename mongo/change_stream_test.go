// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package mongo

import (
	"context"
	"errors"
	"testing"

	"github.com/lattixdb/mongogo/bson"
	"github.com/lattixdb/mongogo/bson/bsoncore"
	"github.com/lattixdb/mongogo/x/mongo/driver"
	"github.com/lattixdb/mongogo/x/mongo/driver/connstring"
	"github.com/lattixdb/mongogo/x/mongo/driver/description"
	"github.com/lattixdb/mongogo/x/mongo/driver/topology"
	"github.com/lattixdb/mongogo/x/mongo/driver/wiremessage"
)

// fakeCSConnection answers every getMore/killCursors round trip with a
// canned OP_MSG reply, so a *driver.BatchCursor can be driven without a
// live server.
type fakeCSConnection struct {
	reply  bsoncore.Document
	closed bool
}

func (f *fakeCSConnection) WriteWireMessage(context.Context, []byte) error { return nil }

func (f *fakeCSConnection) ReadWireMessage(context.Context) ([]byte, error) {
	return wiremessage.AppendMsg(nil, 1, 0, f.reply), nil
}

func (f *fakeCSConnection) Description() description.Server { return description.Server{} }
func (f *fakeCSConnection) Close() error                    { f.closed = true; return nil }

// fakeCSServer hands out a single fakeCSConnection for every getMore and
// killCursors the cursor under test issues.
type fakeCSServer struct {
	conn *fakeCSConnection
}

func (s *fakeCSServer) Connection(context.Context) (driver.Connection, error) { return s.conn, nil }
func (s *fakeCSServer) ProcessError(error)                                    {}

func resumableErrorReply(label string) bsoncore.Document {
	return bsoncore.NewDocumentBuilder().
		AppendInt32("ok", 0).
		AppendString("errmsg", "the cursor has been invalidated").
		AppendInt32("code", cursorNotFound).
		AppendArray("errorLabels", bsoncore.Array(bsoncore.DocumentsToArray([]bsoncore.Document{
			bsoncore.NewDocumentBuilder().AppendString("0", label).Build(),
		}))).
		Build()
}

func eventDoc(id int32) bsoncore.Document {
	rt := bsoncore.NewDocumentBuilder().AppendInt32("_data", id).Build()
	return bsoncore.NewDocumentBuilder().
		AppendDocument("_id", rt).
		AppendString("operationType", "insert").
		Build()
}

func TestChangeStreamResumableClassifiesServerErrors(t *testing.T) {
	t.Parallel()

	cs := &ChangeStream{}

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"cursor not found code", driver.Error{Code: cursorNotFound}, true},
		{"ResumableChangeStreamError label", driver.Error{Code: 1, Labels: []string{resumableChangeStreamErrorLabel}}, true},
		{"retryable network error", driver.Error{Code: 1, Labels: []string{driver.NetworkError}}, true},
		{"ordinary command error", driver.Error{Code: 121, Message: "document validation failure"}, false},
		{"non-driver error", errors.New("boom"), false},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := cs.resumable(tc.err); got != tc.want {
				t.Errorf("resumable(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

// TestChangeStreamNextAdvancesAndCapturesResumeToken exercises the non-
// resume path of Next: a buffered batch with no getMore needed, asserting
// the resume token is captured from each event's _id.
func TestChangeStreamNextAdvancesAndCapturesResumeToken(t *testing.T) {
	t.Parallel()

	server := &fakeCSServer{conn: &fakeCSConnection{}}
	bc := driver.NewBatchCursor(0, driver.Namespace{DB: "db", Collection: "coll"}, server, []bsoncore.Document{
		eventDoc(1),
		eventDoc(2),
	})
	cs := &ChangeStream{cursor: bc}

	if !cs.Next(context.Background()) {
		t.Fatalf("Next() = false, want true; err = %v", cs.Err())
	}
	var d1 bson.M
	if err := cs.Decode(&d1); err != nil {
		t.Fatalf("Decode() = %v, want nil", err)
	}
	if d1["operationType"] != "insert" {
		t.Errorf("Decode() operationType = %v, want %q", d1["operationType"], "insert")
	}
	if cs.ResumeToken() == nil {
		t.Fatal("ResumeToken() = nil after a successful Next()")
	}
	firstToken := cs.ResumeToken()

	if !cs.Next(context.Background()) {
		t.Fatalf("second Next() = false, want true; err = %v", cs.Err())
	}
	if string(cs.ResumeToken()) == string(firstToken) {
		t.Error("ResumeToken() unchanged across two distinct events")
	}

	// The buffered batch and the live cursor (id 0) are both exhausted now.
	if cs.Next(context.Background()) {
		t.Error("third Next() = true, want false (cursor exhausted)")
	}
	if cs.Err() != nil {
		t.Errorf("Err() = %v after exhaustion, want nil", cs.Err())
	}
}

func TestChangeStreamNextErrorsOnMissingResumeToken(t *testing.T) {
	t.Parallel()

	server := &fakeCSServer{conn: &fakeCSConnection{}}
	noID := bsoncore.NewDocumentBuilder().AppendString("operationType", "insert").Build()
	bc := driver.NewBatchCursor(0, driver.Namespace{DB: "db", Collection: "coll"}, server, []bsoncore.Document{noID})
	cs := &ChangeStream{cursor: bc}

	if cs.Next(context.Background()) {
		t.Fatal("Next() = true for an event without _id, want false")
	}
	if cs.Err() != ErrMissingResumeToken {
		t.Errorf("Err() = %v, want ErrMissingResumeToken", cs.Err())
	}
}

// TestChangeStreamNextAttemptsResumeOnResumableError exercises the core of
// scenario 5: a getMore that fails with a ResumableChangeStreamError-
// labeled command error must be classified as resumable and trigger a
// reopen attempt through (*ChangeStream).open. The reopen here runs
// against a freshly constructed, never-Connect()-ed *topology.Topology --
// a real driver.Deployment, not a fake one -- so SelectServer deterministically
// fails closed with topology.ErrTopologyClosed rather than ever reaching the
// network; that failure is what the test observes propagate out through
// Next/Err, which is the full resumable-detection-and-reopen control flow
// this driver runs in production minus the network leg.
func TestChangeStreamNextAttemptsResumeOnResumableError(t *testing.T) {
	t.Parallel()

	server := &fakeCSServer{conn: &fakeCSConnection{
		reply: resumableErrorReply(resumableChangeStreamErrorLabel),
	}}
	// id != 0 so Next must issue a getMore instead of reporting exhaustion.
	bc := driver.NewBatchCursor(123, driver.Namespace{DB: "db", Collection: "coll"}, server, nil)

	cstr, err := connstring.Parse(context.Background(), "mongodb://localhost:27017/testdb")
	if err != nil {
		t.Fatalf("connstring.Parse() = %v, want nil", err)
	}
	topo, err := topology.NewTopology(cstr, nil, nil)
	if err != nil {
		t.Fatalf("topology.NewTopology() = %v, want nil", err)
	}

	cs := &ChangeStream{
		client:   &Client{deployment: topo},
		dbName:   "testdb",
		collName: "coll",
		cursor:   bc,
	}

	if cs.Next(context.Background()) {
		t.Fatal("Next() = true after a reopen that cannot succeed against a disconnected topology, want false")
	}
	if !errors.Is(cs.Err(), topology.ErrTopologyClosed) {
		t.Errorf("Err() = %v, want topology.ErrTopologyClosed (the reopen attempt's failure)", cs.Err())
	}
	if !server.conn.closed {
		t.Error("the original cursor's connection was never closed before reopening")
	}
}

func TestChangeStreamPipelineStagesEmptyForNilPipeline(t *testing.T) {
	t.Parallel()

	arr, err := changeStreamPipelineStages(nil)
	if err != nil {
		t.Fatalf("changeStreamPipelineStages(nil) = %v, want nil", err)
	}
	if len(arrayToDocuments(arr)) != 0 {
		t.Errorf("changeStreamPipelineStages(nil) produced %d stages, want 0", len(arrayToDocuments(arr)))
	}
}

func TestArrayToDocumentsRoundTripsAPipeline(t *testing.T) {
	t.Parallel()

	stage := bsoncore.NewDocumentBuilder().AppendDocument("$match", bsoncore.NewDocumentBuilder().AppendString("op", "insert").Build()).Build()
	arr := bsoncore.Array(bsoncore.DocumentsToArray([]bsoncore.Document{stage}))

	docs := arrayToDocuments(arr)
	if len(docs) != 1 {
		t.Fatalf("arrayToDocuments() returned %d documents, want 1", len(docs))
	}
	matchVal, ok := docs[0].Lookup("$match")
	if !ok {
		t.Fatal("round-tripped stage lost its $match field")
	}
	if _, ok := matchVal.DocumentOK(); !ok {
		t.Error("$match field is not document-shaped after round trip")
	}
}

func TestChangeStreamCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	server := &fakeCSServer{conn: &fakeCSConnection{}}
	bc := driver.NewBatchCursor(0, driver.Namespace{DB: "db", Collection: "coll"}, server, nil)
	cs := &ChangeStream{cursor: bc}

	if err := cs.Close(context.Background()); err != nil {
		t.Fatalf("Close() = %v, want nil", err)
	}
	if err := cs.Close(context.Background()); err != nil {
		t.Errorf("second Close() = %v, want nil (idempotent)", err)
	}
}
