// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package bsoncore

import (
	"testing"

	"github.com/lattixdb/mongogo/bson/primitive"
)

func TestDocumentBuilderRoundTrip(t *testing.T) {
	t.Parallel()

	oid := primitive.NewObjectID()
	sub := NewDocumentBuilder().AppendString("city", "nyc").Build()
	arr := NewArrayBuilder().AppendInt32(1).AppendInt32(2).Build()

	doc := NewDocumentBuilder().
		AppendInt32("n", 7).
		AppendInt64("big", 1<<40).
		AppendDouble("pi", 3.5).
		AppendString("name", "ada").
		AppendBoolean("ok", true).
		AppendNull("nothing").
		AppendDocument("addr", sub).
		AppendArray("nums", arr).
		AppendBinary("blob", 0x00, []byte{1, 2, 3}).
		AppendObjectID("_id", oid).
		AppendDateTime("when", 1234).
		AppendTimestamp("ts", 5, 6).
		Build()

	if err := doc.Validate(); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}

	if v, ok := doc.Lookup("n"); !ok {
		t.Fatal("Lookup(\"n\") found nothing")
	} else if n, ok := v.Int32OK(); !ok || n != 7 {
		t.Fatalf("n = (%v, %v), want (7, true)", n, ok)
	}

	if v, ok := doc.Lookup("big"); !ok {
		t.Fatal("Lookup(\"big\") found nothing")
	} else if n, ok := v.AsInt64(); !ok || n != 1<<40 {
		t.Fatalf("big = (%v, %v), want (%v, true)", n, ok, int64(1<<40))
	}

	if v, ok := doc.Lookup("name"); !ok {
		t.Fatal("Lookup(\"name\") found nothing")
	} else if s, ok := v.StringValueOK(); !ok || s != "ada" {
		t.Fatalf("name = (%q, %v), want (\"ada\", true)", s, ok)
	}

	if v, ok := doc.Lookup("ok"); !ok {
		t.Fatal("Lookup(\"ok\") found nothing")
	} else if b, ok := v.BooleanOK(); !ok || !b {
		t.Fatalf("ok = (%v, %v), want (true, true)", b, ok)
	}

	if v, ok := doc.Lookup("addr"); !ok {
		t.Fatal("Lookup(\"addr\") found nothing")
	} else if d, ok := v.DocumentOK(); !ok || d.String() != sub.String() {
		t.Fatalf("addr = %v, want %v", d, sub)
	}

	if v, ok := doc.Lookup("nums"); !ok {
		t.Fatal("Lookup(\"nums\") found nothing")
	} else if a, ok := v.ArrayOK(); !ok || a.String() != arr.String() {
		t.Fatalf("nums = %v, want %v", a, arr)
	}

	if v, ok := doc.Lookup("blob"); !ok {
		t.Fatal("Lookup(\"blob\") found nothing")
	} else if sub, data, ok := v.BinaryOK(); !ok || sub != 0x00 || len(data) != 3 {
		t.Fatalf("blob = (%v, %v, %v), want (0, [1 2 3], true)", sub, data, ok)
	}

	if v, ok := doc.Lookup("_id"); !ok {
		t.Fatal("Lookup(\"_id\") found nothing")
	} else if id, ok := v.ObjectIDOK(); !ok || id != oid {
		t.Fatalf("_id = (%v, %v), want (%v, true)", id, ok, oid)
	}

	if v, ok := doc.Lookup("ts"); !ok {
		t.Fatal("Lookup(\"ts\") found nothing")
	} else if tm, i, ok := v.TimestampOK(); !ok || tm != 5 || i != 6 {
		t.Fatalf("ts = (%v, %v, %v), want (5, 6, true)", tm, i, ok)
	}

	if v, ok := doc.Lookup("nothing"); !ok || !v.IsNull() {
		t.Fatalf("nothing = (%v, %v), want a null value", v, ok)
	}

	if _, ok := doc.Lookup("missing"); ok {
		t.Fatal("Lookup(\"missing\") unexpectedly found a value")
	}
}

func TestDocumentElementsPreservesInsertionOrder(t *testing.T) {
	t.Parallel()

	doc := NewDocumentBuilder().
		AppendString("z", "first").
		AppendString("a", "second").
		AppendString("m", "third").
		Build()

	elems, err := doc.Elements()
	if err != nil {
		t.Fatalf("Elements() = %v, want nil", err)
	}
	want := []string{"z", "a", "m"}
	if len(elems) != len(want) {
		t.Fatalf("Elements() returned %d elements, want %d", len(elems), len(want))
	}
	for i, k := range want {
		if elems[i].Key() != k {
			t.Errorf("Elements()[%d].Key() = %q, want %q -- command documents rely on first-key-wins ordering", i, elems[i].Key(), k)
		}
	}

	for i, k := range want {
		elem := doc.Index(uint(i))
		if elem.Key() != k {
			t.Errorf("Index(%d).Key() = %q, want %q", i, elem.Key(), k)
		}
	}
}

func TestDocumentValidateRejectsMalformedInput(t *testing.T) {
	t.Parallel()

	good := NewDocumentBuilder().AppendString("k", "v").Build()

	tests := []struct {
		name string
		doc  Document
	}{
		{name: "too short to hold a length prefix", doc: Document{0x01, 0x00}},
		{name: "length prefix does not match buffer size", doc: Document{0xff, 0x00, 0x00, 0x00, 0x00}},
		{name: "missing null terminator", doc: Document(append(append([]byte{}, good[:len(good)-1]...), 0x01))},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if err := tc.doc.Validate(); err == nil {
				t.Error("Validate() = nil, want an error")
			}
		})
	}

	if err := good.Validate(); err != nil {
		t.Errorf("Validate() on a well-formed document = %v, want nil", err)
	}
}

func TestArrayValuesRoundTrip(t *testing.T) {
	t.Parallel()

	arr := NewArrayBuilder().
		AppendInt32(1).
		AppendString("two").
		AppendDocument(NewDocumentBuilder().AppendInt32("x", 3).Build()).
		Build()

	vals, err := arr.Values()
	if err != nil {
		t.Fatalf("Values() = %v, want nil", err)
	}
	if len(vals) != 3 {
		t.Fatalf("Values() returned %d values, want 3", len(vals))
	}
	if n, ok := vals[0].Int32OK(); !ok || n != 1 {
		t.Errorf("vals[0] = (%v, %v), want (1, true)", n, ok)
	}
	if s, ok := vals[1].StringValueOK(); !ok || s != "two" {
		t.Errorf("vals[1] = (%q, %v), want (\"two\", true)", s, ok)
	}
	if d, ok := vals[2].DocumentOK(); !ok {
		t.Errorf("vals[2] DocumentOK() = false, want true")
	} else if v, ok := d.Lookup("x"); !ok {
		t.Error("vals[2] sub-document missing key \"x\"")
	} else if n, ok := v.Int32OK(); !ok || n != 3 {
		t.Errorf("vals[2].x = (%v, %v), want (3, true)", n, ok)
	}
}

func TestDocumentsToArray(t *testing.T) {
	t.Parallel()

	docs := []Document{
		NewDocumentBuilder().AppendInt32("i", 0).Build(),
		NewDocumentBuilder().AppendInt32("i", 1).Build(),
	}
	arr := DocumentsToArray(docs)

	vals, err := arr.Values()
	if err != nil {
		t.Fatalf("Values() = %v, want nil", err)
	}
	if len(vals) != len(docs) {
		t.Fatalf("Values() returned %d values, want %d", len(vals), len(docs))
	}
	for i, v := range vals {
		d, ok := v.DocumentOK()
		if !ok {
			t.Fatalf("vals[%d] is not a document", i)
		}
		if d.String() != docs[i].String() {
			t.Errorf("vals[%d] = %v, want %v", i, d, docs[i])
		}
	}
}

func TestEmptyDocumentIsValidAndEmpty(t *testing.T) {
	t.Parallel()

	doc := EmptyDocument()
	if err := doc.Validate(); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}
	elems, err := doc.Elements()
	if err != nil {
		t.Fatalf("Elements() = %v, want nil", err)
	}
	if len(elems) != 0 {
		t.Fatalf("Elements() = %d elements, want 0", len(elems))
	}
}
