// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package bsoncore

import (
	"encoding/binary"
	"math"

	"github.com/lattixdb/mongogo/bson/primitive"
)

func doubleFromBits(bits uint64) float64 { return math.Float64frombits(bits) }

func appendInt32(dst []byte, v int32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(v))
	return append(dst, b[:]...)
}

func appendInt64(dst []byte, v int64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(v))
	return append(dst, b[:]...)
}

func appendDouble(dst []byte, v float64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], math.Float64bits(v))
	return append(dst, b[:]...)
}

func appendCString(dst []byte, s string) []byte {
	dst = append(dst, s...)
	return append(dst, 0x00)
}

// AppendInt32Element appends a BSON int32 element to dst.
func AppendInt32Element(dst []byte, key string, v int32) []byte {
	dst = appendHeader(dst, TypeInt32, key)
	return appendInt32(dst, v)
}

// AppendInt64Element appends a BSON int64 element to dst.
func AppendInt64Element(dst []byte, key string, v int64) []byte {
	dst = appendHeader(dst, TypeInt64, key)
	return appendInt64(dst, v)
}

// AppendDoubleElement appends a BSON double element to dst.
func AppendDoubleElement(dst []byte, key string, v float64) []byte {
	dst = appendHeader(dst, TypeDouble, key)
	return appendDouble(dst, v)
}

// AppendStringElement appends a BSON UTF-8 string element to dst.
func AppendStringElement(dst []byte, key, v string) []byte {
	dst = appendHeader(dst, TypeString, key)
	dst = appendInt32(dst, int32(len(v)+1))
	return appendCString(dst, v)
}

// AppendBooleanElement appends a BSON boolean element to dst.
func AppendBooleanElement(dst []byte, key string, v bool) []byte {
	dst = appendHeader(dst, TypeBoolean, key)
	if v {
		return append(dst, 0x01)
	}
	return append(dst, 0x00)
}

// AppendNullElement appends a BSON null element to dst.
func AppendNullElement(dst []byte, key string) []byte {
	return appendHeader(dst, TypeNull, key)
}

// AppendDocumentElement appends an embedded document element to dst.
func AppendDocumentElement(dst []byte, key string, doc Document) []byte {
	dst = appendHeader(dst, TypeEmbeddedDocument, key)
	return append(dst, doc...)
}

// AppendArrayElement appends an array element to dst.
func AppendArrayElement(dst []byte, key string, arr Array) []byte {
	dst = appendHeader(dst, TypeArray, key)
	return append(dst, arr...)
}

// AppendBinaryElement appends a binary element to dst.
func AppendBinaryElement(dst []byte, key string, subtype byte, data []byte) []byte {
	dst = appendHeader(dst, TypeBinary, key)
	dst = appendInt32(dst, int32(len(data)))
	dst = append(dst, subtype)
	return append(dst, data...)
}

// AppendObjectIDElement appends an ObjectID element to dst.
func AppendObjectIDElement(dst []byte, key string, id primitive.ObjectID) []byte {
	dst = appendHeader(dst, TypeObjectID, key)
	return append(dst, id[:]...)
}

// AppendDateTimeElement appends a UTC datetime element to dst.
func AppendDateTimeElement(dst []byte, key string, dt int64) []byte {
	dst = appendHeader(dst, TypeDateTime, key)
	return appendInt64(dst, dt)
}

// AppendTimestampElement appends a BSON internal timestamp element to dst.
// Note the wire order is (increment, seconds), the reverse of how the
// fields usually read in prose.
func AppendTimestampElement(dst []byte, key string, t, i uint32) []byte {
	dst = appendHeader(dst, TypeTimestamp, key)
	dst = appendInt32(dst, int32(i))
	return appendInt32(dst, int32(t))
}

// AppendRegexElement appends a regular expression element to dst.
func AppendRegexElement(dst []byte, key, pattern, options string) []byte {
	dst = appendHeader(dst, TypeRegex, key)
	dst = appendCString(dst, pattern)
	return appendCString(dst, options)
}

// AppendValueElement appends an already-built Value under key.
func AppendValueElement(dst []byte, key string, v Value) []byte {
	dst = appendHeader(dst, v.Type, key)
	return append(dst, v.Data...)
}

// Int32Value constructs a Value of type int32.
func Int32Value(v int32) Value { return Value{Type: TypeInt32, Data: appendInt32(nil, v)} }

// Int64Value constructs a Value of type int64.
func Int64Value(v int64) Value { return Value{Type: TypeInt64, Data: appendInt64(nil, v)} }

// StringValue constructs a Value of type string.
func StringValue(v string) Value {
	data := appendInt32(nil, int32(len(v)+1))
	data = appendCString(data, v)
	return Value{Type: TypeString, Data: data}
}

// BooleanValue constructs a Value of type boolean.
func BooleanValue(v bool) Value {
	if v {
		return Value{Type: TypeBoolean, Data: []byte{0x01}}
	}
	return Value{Type: TypeBoolean, Data: []byte{0x00}}
}

// DocumentValue constructs a Value wrapping an embedded document.
func DocumentValue(doc Document) Value { return Value{Type: TypeEmbeddedDocument, Data: doc} }

// ArrayValue constructs a Value wrapping an array.
func ArrayValue(arr Array) Value { return Value{Type: TypeArray, Data: arr} }
