// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package bson implements the pluggable codec boundary the driver core
// depends on (spec.md §1): EncodeOne/DecodeOne between a D/M-shaped Go
// document and BSON bytes, plus the ordered document types (D, A) that
// replace the Tie::IxHash-style insertion-ordered map the source driver
// used (spec.md §9). Reflection-heavy codec registries, custom type codecs,
// and extended-JSON are intentionally not reproduced here; they are outside
// the core per spec.md §1.
package bson

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/lattixdb/mongogo/bson/bsoncore"
	"github.com/lattixdb/mongogo/bson/primitive"
)

// Raw is an undecoded BSON document, an alias for the wire-level document
// bytes so operation code can pass results around without forcing a decode.
type Raw = bsoncore.Document

// D is an ordered BSON document, represented as a slice of key/value pairs
// so that command documents stay position sensitive -- the first element is
// the command name the server dispatches on.
type D []E

// E represents a BSON document element.
type E struct {
	Key   string
	Value interface{}
}

// M is an unordered BSON document represented as a Go map; convenient for
// filters and updates where key order does not matter, but never used for
// command bodies.
type M map[string]interface{}

// A is a BSON array.
type A []interface{}

// Marshal encodes v into a raw BSON document via EncodeOne, matching the
// external "encode_one(document) -> bytes" contract of spec.md §1.
func Marshal(v interface{}) ([]byte, error) {
	doc, err := EncodeOne(v)
	if err != nil {
		return nil, err
	}
	return []byte(doc), nil
}

// Unmarshal decodes data into v via DecodeOne.
func Unmarshal(data []byte, v interface{}) error {
	return DecodeOne(bsoncore.Document(data), v)
}

// EncodeOne encodes a D, M, struct, or map[string]interface{} into an
// insertion-ordered bsoncore.Document.
func EncodeOne(v interface{}) (bsoncore.Document, error) {
	switch t := v.(type) {
	case nil:
		return bsoncore.EmptyDocument(), nil
	case D:
		return encodeD(t)
	case bsoncore.Document:
		return t, nil
	case M:
		return encodeM(t)
	}

	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return bsoncore.EmptyDocument(), nil
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Struct:
		return encodeStruct(rv)
	case reflect.Map:
		return encodeMapValue(rv)
	default:
		return nil, fmt.Errorf("bson: cannot encode %T as a document", v)
	}
}

func encodeD(d D) (bsoncore.Document, error) {
	b := bsoncore.NewDocumentBuilder()
	for _, e := range d {
		val, err := encodeValue(e.Value)
		if err != nil {
			return nil, fmt.Errorf("bson: key %q: %w", e.Key, err)
		}
		b.AppendValue(e.Key, val)
	}
	return b.Build(), nil
}

func encodeM(m M) (bsoncore.Document, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	b := bsoncore.NewDocumentBuilder()
	for _, k := range keys {
		val, err := encodeValue(m[k])
		if err != nil {
			return nil, fmt.Errorf("bson: key %q: %w", k, err)
		}
		b.AppendValue(k, val)
	}
	return b.Build(), nil
}

func encodeMapValue(rv reflect.Value) (bsoncore.Document, error) {
	if rv.Type().Key().Kind() != reflect.String {
		return nil, fmt.Errorf("bson: map key type %s is not string", rv.Type().Key())
	}
	keys := rv.MapKeys()
	strKeys := make([]string, len(keys))
	for i, k := range keys {
		strKeys[i] = k.String()
	}
	sort.Strings(strKeys)
	b := bsoncore.NewDocumentBuilder()
	for _, k := range strKeys {
		val, err := encodeValue(rv.MapIndex(reflect.ValueOf(k).Convert(rv.Type().Key())).Interface())
		if err != nil {
			return nil, fmt.Errorf("bson: key %q: %w", k, err)
		}
		b.AppendValue(k, val)
	}
	return b.Build(), nil
}

func encodeStruct(rv reflect.Value) (bsoncore.Document, error) {
	b := bsoncore.NewDocumentBuilder()
	t := rv.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.PkgPath != "" {
			continue // unexported
		}
		name, omitempty, skip := fieldName(f)
		if skip {
			continue
		}
		fv := rv.Field(i)
		if omitempty && isEmptyValue(fv) {
			continue
		}
		val, err := encodeValue(fv.Interface())
		if err != nil {
			return nil, fmt.Errorf("bson: field %q: %w", f.Name, err)
		}
		b.AppendValue(name, val)
	}
	return b.Build(), nil
}

func fieldName(f reflect.StructField) (name string, omitempty, skip bool) {
	tag := f.Tag.Get("bson")
	if tag == "-" {
		return "", false, true
	}
	name = f.Name
	if tag == "" {
		return lowerFirst(name), false, false
	}
	parts := splitTag(tag)
	if parts[0] != "" {
		name = parts[0]
	} else {
		name = lowerFirst(name)
	}
	for _, p := range parts[1:] {
		if p == "omitempty" {
			omitempty = true
		}
	}
	return name, omitempty, false
}

func splitTag(tag string) []string {
	var parts []string
	start := 0
	for i := 0; i <= len(tag); i++ {
		if i == len(tag) || tag[i] == ',' {
			parts = append(parts, tag[start:i])
			start = i + 1
		}
	}
	return parts
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	if r[0] >= 'A' && r[0] <= 'Z' {
		r[0] = r[0] + ('a' - 'A')
	}
	return string(r)
}

func isEmptyValue(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array, reflect.String:
		return v.Len() == 0
	case reflect.Ptr, reflect.Interface:
		return v.IsNil()
	case reflect.Bool:
		return !v.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int() == 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return v.Uint() == 0
	case reflect.Float32, reflect.Float64:
		return v.Float() == 0
	default:
		return false
	}
}

func encodeValue(v interface{}) (bsoncore.Value, error) {
	switch t := v.(type) {
	case nil:
		return bsoncore.Value{Type: bsoncore.TypeNull}, nil
	case bsoncore.Value:
		return t, nil
	case string:
		return bsoncore.StringValue(t), nil
	case int32:
		return bsoncore.Int32Value(t), nil
	case int:
		return bsoncore.Int64Value(int64(t)), nil
	case int64:
		return bsoncore.Int64Value(t), nil
	case float64:
		return bsoncore.Value{Type: bsoncore.TypeDouble, Data: mustAppendDouble(t)}, nil
	case bool:
		return bsoncore.BooleanValue(t), nil
	case D:
		doc, err := encodeD(t)
		if err != nil {
			return bsoncore.Value{}, err
		}
		return bsoncore.DocumentValue(doc), nil
	case M:
		doc, err := encodeM(t)
		if err != nil {
			return bsoncore.Value{}, err
		}
		return bsoncore.DocumentValue(doc), nil
	case bsoncore.Document:
		return bsoncore.DocumentValue(t), nil
	case A:
		arr, err := encodeArray(t)
		if err != nil {
			return bsoncore.Value{}, err
		}
		return bsoncore.ArrayValue(arr), nil
	case bsoncore.Array:
		return bsoncore.ArrayValue(t), nil
	case primitive.ObjectID:
		return bsoncore.Value{Type: bsoncore.TypeObjectID, Data: append([]byte(nil), t[:]...)}, nil
	case primitive.Binary:
		return encodeBinary(t), nil
	case primitive.DateTime:
		return bsoncore.Value{Type: bsoncore.TypeDateTime, Data: mustAppendInt64(int64(t))}, nil
	case primitive.Timestamp:
		return encodeTimestamp(t), nil
	case primitive.Null:
		return bsoncore.Value{Type: bsoncore.TypeNull}, nil
	case primitive.MinKey:
		return bsoncore.Value{Type: bsoncore.TypeMinKey}, nil
	case primitive.MaxKey:
		return bsoncore.Value{Type: bsoncore.TypeMaxKey}, nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr:
		if rv.IsNil() {
			return bsoncore.Value{Type: bsoncore.TypeNull}, nil
		}
		return encodeValue(rv.Elem().Interface())
	case reflect.Slice, reflect.Array:
		arr := bsoncore.NewArrayBuilder()
		for i := 0; i < rv.Len(); i++ {
			val, err := encodeValue(rv.Index(i).Interface())
			if err != nil {
				return bsoncore.Value{}, err
			}
			arr.AppendValue(val)
		}
		return bsoncore.ArrayValue(arr.Build()), nil
	case reflect.Struct:
		doc, err := encodeStruct(rv)
		if err != nil {
			return bsoncore.Value{}, err
		}
		return bsoncore.DocumentValue(doc), nil
	case reflect.Map:
		doc, err := encodeMapValue(rv)
		if err != nil {
			return bsoncore.Value{}, err
		}
		return bsoncore.DocumentValue(doc), nil
	default:
		return bsoncore.Value{}, fmt.Errorf("bson: cannot encode value of type %T", v)
	}
}

func encodeArray(a A) (bsoncore.Array, error) {
	b := bsoncore.NewArrayBuilder()
	for _, v := range a {
		val, err := encodeValue(v)
		if err != nil {
			return nil, err
		}
		b.AppendValue(val)
	}
	return b.Build(), nil
}

func encodeBinary(bin primitive.Binary) bsoncore.Value {
	data := make([]byte, 0, 5+len(bin.Data))
	data = appendLen(data, int32(len(bin.Data)))
	data = append(data, bin.Subtype)
	data = append(data, bin.Data...)
	return bsoncore.Value{Type: bsoncore.TypeBinary, Data: data}
}

func encodeTimestamp(ts primitive.Timestamp) bsoncore.Value {
	data := make([]byte, 0, 8)
	data = appendLen(data, int32(ts.I))
	data = appendLen(data, int32(ts.T))
	return bsoncore.Value{Type: bsoncore.TypeTimestamp, Data: data}
}

func appendLen(dst []byte, v int32) []byte {
	return append(dst, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}

func mustAppendInt64(v int64) []byte {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
	return b
}

func mustAppendDouble(v float64) []byte {
	doc := bsoncore.NewDocumentBuilder().AppendDouble("x", v).Build()
	elem, _, _ := bsoncore.ReadElement(doc[4:])
	return elem.Value().Data
}

// DecodeOne decodes a raw document into a D, M, or pointer-to-struct target,
// the external "decode_one(bytes) -> document" contract of spec.md §1.
func DecodeOne(doc bsoncore.Document, v interface{}) error {
	switch t := v.(type) {
	case *D:
		d, err := decodeD(doc)
		if err != nil {
			return err
		}
		*t = d
		return nil
	case *M:
		m, err := decodeM(doc)
		if err != nil {
			return err
		}
		*t = m
		return nil
	case *bsoncore.Document:
		*t = doc
		return nil
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return fmt.Errorf("bson: DecodeOne requires a non-nil pointer, got %T", v)
	}
	return decodeInto(doc, rv.Elem())
}

func decodeD(doc bsoncore.Document) (D, error) {
	elems, err := doc.Elements()
	if err != nil {
		return nil, err
	}
	out := make(D, 0, len(elems))
	for _, e := range elems {
		gv, err := decodeValueGeneric(e.Value())
		if err != nil {
			return nil, err
		}
		out = append(out, E{Key: e.Key(), Value: gv})
	}
	return out, nil
}

func decodeM(doc bsoncore.Document) (M, error) {
	elems, err := doc.Elements()
	if err != nil {
		return nil, err
	}
	out := make(M, len(elems))
	for _, e := range elems {
		gv, err := decodeValueGeneric(e.Value())
		if err != nil {
			return nil, err
		}
		out[e.Key()] = gv
	}
	return out, nil
}

func decodeValueGeneric(v bsoncore.Value) (interface{}, error) {
	switch v.Type {
	case bsoncore.TypeString:
		s, _ := v.StringValueOK()
		return s, nil
	case bsoncore.TypeInt32:
		i, _ := v.Int32OK()
		return i, nil
	case bsoncore.TypeInt64:
		i, _ := v.Int64OK()
		return i, nil
	case bsoncore.TypeDouble:
		f, _ := v.DoubleOK()
		return f, nil
	case bsoncore.TypeBoolean:
		b, _ := v.BooleanOK()
		return b, nil
	case bsoncore.TypeNull:
		return nil, nil
	case bsoncore.TypeEmbeddedDocument:
		d, _ := v.DocumentOK()
		return decodeD(d)
	case bsoncore.TypeArray:
		arr, _ := v.ArrayOK()
		vals, err := arr.Values()
		if err != nil {
			return nil, err
		}
		out := make(A, 0, len(vals))
		for _, val := range vals {
			gv, err := decodeValueGeneric(val)
			if err != nil {
				return nil, err
			}
			out = append(out, gv)
		}
		return out, nil
	case bsoncore.TypeObjectID:
		id, _ := v.ObjectIDOK()
		return id, nil
	case bsoncore.TypeBinary:
		subtype, data, _ := v.BinaryOK()
		return primitive.Binary{Subtype: subtype, Data: append([]byte(nil), data...)}, nil
	case bsoncore.TypeDateTime:
		i, _ := v.Int64OK()
		return primitive.DateTime(i), nil
	case bsoncore.TypeTimestamp:
		t, i, _ := v.TimestampOK()
		return primitive.Timestamp{T: t, I: i}, nil
	default:
		return v, nil
	}
}

func decodeInto(doc bsoncore.Document, rv reflect.Value) error {
	for rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			rv.Set(reflect.New(rv.Type().Elem()))
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return fmt.Errorf("bson: cannot decode into %s", rv.Type())
	}
	elems, err := doc.Elements()
	if err != nil {
		return err
	}
	byName := make(map[string]bsoncore.Value, len(elems))
	for _, e := range elems {
		byName[e.Key()] = e.Value()
	}
	t := rv.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.PkgPath != "" {
			continue
		}
		name, _, skip := fieldName(f)
		if skip {
			continue
		}
		val, ok := byName[name]
		if !ok {
			continue
		}
		if err := decodeFieldValue(val, rv.Field(i)); err != nil {
			return fmt.Errorf("bson: field %q: %w", f.Name, err)
		}
	}
	return nil
}

func decodeFieldValue(v bsoncore.Value, fv reflect.Value) error {
	switch fv.Kind() {
	case reflect.String:
		s, ok := v.StringValueOK()
		if !ok {
			return fmt.Errorf("expected string, got %s", v.Type)
		}
		fv.SetString(s)
	case reflect.Int, reflect.Int32, reflect.Int64:
		i, ok := v.AsInt64()
		if !ok {
			return fmt.Errorf("expected integer, got %s", v.Type)
		}
		fv.SetInt(i)
	case reflect.Float64, reflect.Float32:
		f, ok := v.DoubleOK()
		if !ok {
			return fmt.Errorf("expected double, got %s", v.Type)
		}
		fv.SetFloat(f)
	case reflect.Bool:
		b, ok := v.BooleanOK()
		if !ok {
			return fmt.Errorf("expected boolean, got %s", v.Type)
		}
		fv.SetBool(b)
	case reflect.Ptr:
		if v.IsNull() {
			return nil
		}
		fv.Set(reflect.New(fv.Type().Elem()))
		return decodeFieldValue(v, fv.Elem())
	case reflect.Struct:
		doc, ok := v.DocumentOK()
		if !ok {
			return fmt.Errorf("expected document, got %s", v.Type)
		}
		return decodeInto(doc, fv)
	case reflect.Slice:
		arr, ok := v.ArrayOK()
		if !ok {
			return fmt.Errorf("expected array, got %s", v.Type)
		}
		vals, err := arr.Values()
		if err != nil {
			return err
		}
		slice := reflect.MakeSlice(fv.Type(), len(vals), len(vals))
		for i, val := range vals {
			if err := decodeFieldValue(val, slice.Index(i)); err != nil {
				return err
			}
		}
		fv.Set(slice)
	default:
		gv, err := decodeValueGeneric(v)
		if err != nil {
			return err
		}
		rv := reflect.ValueOf(gv)
		if rv.IsValid() && rv.Type().AssignableTo(fv.Type()) {
			fv.Set(rv)
			return nil
		}
		return fmt.Errorf("unsupported field kind %s for type %s", fv.Kind(), v.Type)
	}
	return nil
}
