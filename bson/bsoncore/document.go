// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package bsoncore provides a byte-level, insertion-ordered BSON document
// representation. It exists because command documents are position
// sensitive -- the server reads the first key of a command document as the
// command name -- so an insertion-ordered map (what the source driver used
// a Tie::IxHash-equivalent for) is a load-bearing requirement, not a
// convenience. Full BSON codec behavior (struct tags, registries, custom
// codecs) is out of scope for the driver core; this package only implements
// enough of the wire format to build and read command documents.
package bsoncore

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/lattixdb/mongogo/bson/primitive"
)

// ErrMalformedElement is returned when an element cannot be parsed from a
// buffer.
var ErrMalformedElement = errors.New("bsoncore: malformed element")

// ErrMalformedDocument is returned when a document's length does not match
// its actual size or it is missing a null terminator.
var ErrMalformedDocument = errors.New("bsoncore: malformed document")

// Document is a raw BSON document: a 4-byte little-endian length, a run of
// elements, and a null terminator.
type Document []byte

// NewDocumentBuilder returns an empty Builder ready to accept elements.
func NewDocumentBuilder() *DocumentBuilder {
	return &DocumentBuilder{buf: make([]byte, 4, 256)}
}

// DocumentBuilder accumulates elements in insertion order and finishes into
// a Document.
type DocumentBuilder struct {
	buf []byte
}

// AppendInt32 appends a 32-bit integer element.
func (b *DocumentBuilder) AppendInt32(key string, v int32) *DocumentBuilder {
	b.buf = AppendInt32Element(b.buf, key, v)
	return b
}

// AppendInt64 appends a 64-bit integer element.
func (b *DocumentBuilder) AppendInt64(key string, v int64) *DocumentBuilder {
	b.buf = AppendInt64Element(b.buf, key, v)
	return b
}

// AppendDouble appends a double element.
func (b *DocumentBuilder) AppendDouble(key string, v float64) *DocumentBuilder {
	b.buf = AppendDoubleElement(b.buf, key, v)
	return b
}

// AppendString appends a UTF-8 string element.
func (b *DocumentBuilder) AppendString(key, v string) *DocumentBuilder {
	b.buf = AppendStringElement(b.buf, key, v)
	return b
}

// AppendBoolean appends a boolean element.
func (b *DocumentBuilder) AppendBoolean(key string, v bool) *DocumentBuilder {
	b.buf = AppendBooleanElement(b.buf, key, v)
	return b
}

// AppendNull appends a null element.
func (b *DocumentBuilder) AppendNull(key string) *DocumentBuilder {
	b.buf = AppendNullElement(b.buf, key)
	return b
}

// AppendDocument appends an embedded document element.
func (b *DocumentBuilder) AppendDocument(key string, doc Document) *DocumentBuilder {
	b.buf = AppendDocumentElement(b.buf, key, doc)
	return b
}

// AppendArray appends an array element.
func (b *DocumentBuilder) AppendArray(key string, arr Array) *DocumentBuilder {
	b.buf = AppendArrayElement(b.buf, key, arr)
	return b
}

// AppendBinary appends a binary element.
func (b *DocumentBuilder) AppendBinary(key string, subtype byte, data []byte) *DocumentBuilder {
	b.buf = AppendBinaryElement(b.buf, key, subtype, data)
	return b
}

// AppendObjectID appends an ObjectID element.
func (b *DocumentBuilder) AppendObjectID(key string, id primitive.ObjectID) *DocumentBuilder {
	b.buf = AppendObjectIDElement(b.buf, key, id)
	return b
}

// AppendDateTime appends a UTC datetime element (milliseconds since epoch).
func (b *DocumentBuilder) AppendDateTime(key string, dt int64) *DocumentBuilder {
	b.buf = AppendDateTimeElement(b.buf, key, dt)
	return b
}

// AppendTimestamp appends a BSON internal timestamp element.
func (b *DocumentBuilder) AppendTimestamp(key string, t, i uint32) *DocumentBuilder {
	b.buf = AppendTimestampElement(b.buf, key, t, i)
	return b
}

// AppendValue appends a pre-built Value as an element.
func (b *DocumentBuilder) AppendValue(key string, v Value) *DocumentBuilder {
	b.buf = appendHeader(b.buf, v.Type, key)
	b.buf = append(b.buf, v.Data...)
	return b
}

// Build finishes the document, writing the length prefix and terminator.
func (b *DocumentBuilder) Build() Document {
	b.buf = append(b.buf, 0x00)
	binary.LittleEndian.PutUint32(b.buf[0:4], uint32(len(b.buf)))
	return Document(b.buf)
}

// BuildDocument is a convenience for constructing a Document from element
// bytes already produced by the Append*Element helpers, used by code that
// assembles elements in a loop rather than through DocumentBuilder.
func BuildDocument(elements []byte) Document {
	doc := make([]byte, 4, len(elements)+5)
	doc = append(doc, elements...)
	doc = append(doc, 0x00)
	binary.LittleEndian.PutUint32(doc[0:4], uint32(len(doc)))
	return Document(doc)
}

// EmptyDocument returns the canonical empty BSON document {}.
func EmptyDocument() Document {
	return Document{0x05, 0x00, 0x00, 0x00, 0x00}
}

// ReadLength reads the 4-byte little-endian length prefix from src.
func ReadLength(src []byte) (int32, []byte, bool) {
	if len(src) < 4 {
		return 0, src, false
	}
	return int32(binary.LittleEndian.Uint32(src[0:4])), src[4:], true
}

// Validate checks that d has a well-formed length prefix, a run of
// syntactically valid elements, and a null terminator. It does not validate
// UTF-8 string contents.
func (d Document) Validate() error {
	length, rem, ok := ReadLength(d)
	if !ok {
		return ErrMalformedDocument
	}
	if int(length) != len(d) {
		return fmt.Errorf("%w: length %d does not match buffer of %d bytes", ErrMalformedDocument, length, len(d))
	}
	if len(d) == 0 || d[len(d)-1] != 0x00 {
		return fmt.Errorf("%w: missing null terminator", ErrMalformedDocument)
	}
	for len(rem) > 1 {
		var elem Element
		var ok bool
		elem, rem, ok = ReadElement(rem)
		if !ok {
			return ErrMalformedElement
		}
		if err := elem.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Index searches for and retrieves the element at the given index. It
// panics on a malformed document or an out-of-bounds index, matching the
// teacher's bsoncore.Array.Index behavior for trusted, already-validated
// buffers.
func (d Document) Index(index uint) Element {
	elem, err := d.IndexErr(index)
	if err != nil {
		panic(err)
	}
	return elem
}

// IndexErr searches for and retrieves the element at the given index.
func (d Document) IndexErr(index uint) (Element, error) {
	_, rem, ok := ReadLength(d)
	if !ok {
		return nil, ErrMalformedDocument
	}
	var i uint
	for len(rem) > 1 {
		elem, next, ok := ReadElement(rem)
		if !ok {
			return nil, ErrMalformedElement
		}
		if i == index {
			return elem, nil
		}
		rem = next
		i++
	}
	return nil, fmt.Errorf("bsoncore: index %d out of range", index)
}

// Elements returns the elements of d in insertion order.
func (d Document) Elements() ([]Element, error) {
	_, rem, ok := ReadLength(d)
	if !ok {
		return nil, ErrMalformedDocument
	}
	var elems []Element
	for len(rem) > 1 {
		var elem Element
		var ok bool
		elem, rem, ok = ReadElement(rem)
		if !ok {
			return nil, ErrMalformedElement
		}
		elems = append(elems, elem)
	}
	return elems, nil
}

// Lookup returns the value of the first top-level element whose key matches
// key, matching the "first key wins" semantics commands rely on.
func (d Document) Lookup(key string) (Value, bool) {
	elems, err := d.Elements()
	if err != nil {
		return Value{}, false
	}
	for _, e := range elems {
		if e.Key() == key {
			return e.Value(), true
		}
	}
	return Value{}, false
}

// String renders d as a compact debug string; it never fails, falling back
// to the marker "<malformed>" for malformed input.
func (d Document) String() string {
	elems, err := d.Elements()
	if err != nil {
		return "<malformed>"
	}
	out := "{"
	for i, e := range elems {
		if i > 0 {
			out += ", "
		}
		out += e.Key() + ": " + e.Value().String()
	}
	return out + "}"
}

// Len returns the document's declared length.
func (d Document) Len() int32 {
	l, _, _ := ReadLength(d)
	return l
}
