// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package writeconcern implements the caller-supplied write acknowledgement
// policy (spec.md glossary).
package writeconcern

import (
	"time"

	"github.com/lattixdb/mongogo/bson/bsoncore"
)

// WriteConcern describes the acknowledgement the server must give before a
// write is considered successful.
type WriteConcern struct {
	W        interface{} // int, "majority", or a custom tag set name
	Journal  *bool
	WTimeout time.Duration
}

// W1 is the default write concern, majority is commonly configured by
// applications talking to a replica set.
func W1() *WriteConcern       { return &WriteConcern{W: 1} }
func Majority() *WriteConcern { return &WriteConcern{W: "majority"} }

// Acknowledged reports whether this write concern requires any
// acknowledgement at all; it is false only for an integer w of 0. The
// driver still sends every write the same way and waits for its reply.
func (wc *WriteConcern) Acknowledged() bool {
	if wc == nil {
		return true
	}
	if i, ok := wc.W.(int); ok {
		return i != 0
	}
	return true
}

// AppendElement appends this write concern as a "writeConcern" subdocument
// element to a command document builder.
func (wc *WriteConcern) AppendElement(b *bsoncore.DocumentBuilder) {
	if wc == nil {
		return
	}
	inner := bsoncore.NewDocumentBuilder()
	switch w := wc.W.(type) {
	case int:
		inner.AppendInt32("w", int32(w))
	case string:
		inner.AppendString("w", w)
	}
	if wc.Journal != nil {
		inner.AppendBoolean("j", *wc.Journal)
	}
	if wc.WTimeout > 0 {
		inner.AppendInt64("wtimeout", wc.WTimeout.Milliseconds())
	}
	b.AppendDocument("writeConcern", inner.Build())
}
