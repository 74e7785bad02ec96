// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package readconcern implements the caller-supplied read isolation policy,
// including the afterClusterTime causal-consistency field (spec.md §4.9).
package readconcern

import (
	"github.com/lattixdb/mongogo/bson/bsoncore"
	"github.com/lattixdb/mongogo/bson/primitive"
)

// ReadConcern describes the isolation/durability guarantee a read requires.
type ReadConcern struct {
	Level             string
	AfterClusterTime  *primitive.Timestamp
}

func Local() *ReadConcern      { return &ReadConcern{Level: "local"} }
func Majority() *ReadConcern   { return &ReadConcern{Level: "majority"} }
func Snapshot() *ReadConcern   { return &ReadConcern{Level: "snapshot"} }
func Linearizable() *ReadConcern { return &ReadConcern{Level: "linearizable"} }

// WithAfterClusterTime returns a copy of rc with afterClusterTime set,
// attached whenever a causally-consistent session has a known operationTime
// (spec.md §4.9).
func (rc *ReadConcern) WithAfterClusterTime(ts primitive.Timestamp) *ReadConcern {
	cp := &ReadConcern{AfterClusterTime: &ts}
	if rc != nil {
		cp.Level = rc.Level
	}
	return cp
}

// AppendElement appends this read concern as a "readConcern" subdocument
// element.
func (rc *ReadConcern) AppendElement(b *bsoncore.DocumentBuilder) {
	if rc == nil {
		return
	}
	if rc.Level == "" && rc.AfterClusterTime == nil {
		return
	}
	inner := bsoncore.NewDocumentBuilder()
	if rc.Level != "" {
		inner.AppendString("level", rc.Level)
	}
	if rc.AfterClusterTime != nil {
		inner.AppendTimestamp("afterClusterTime", rc.AfterClusterTime.T, rc.AfterClusterTime.I)
	}
	b.AppendDocument("readConcern", inner.Build())
}
