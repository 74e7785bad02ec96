// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package bsoncore

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/lattixdb/mongogo/bson/primitive"
)

// Element is a single raw BSON element: one type byte, a null-terminated
// key, and the encoded value.
type Element []byte

// Key returns the element's key.
func (e Element) Key() string {
	i := bytes.IndexByte(e[1:], 0x00)
	if i < 0 {
		return ""
	}
	return string(e[1 : 1+i])
}

// Value returns the element's value.
func (e Element) Value() Value {
	i := bytes.IndexByte(e[1:], 0x00)
	if i < 0 {
		return Value{}
	}
	return Value{Type: Type(e[0]), Data: e[1+i+1:]}
}

// Validate reports whether the element is syntactically well-formed.
func (e Element) Validate() error {
	if len(e) < 2 {
		return ErrMalformedElement
	}
	if bytes.IndexByte(e[1:], 0x00) < 0 {
		return fmt.Errorf("%w: unterminated key", ErrMalformedElement)
	}
	return e.Value().Validate()
}

// DebugString renders the element for diagnostics.
func (e Element) DebugString() string {
	return fmt.Sprintf("%s: %s", e.Key(), e.Value().String())
}

// Value is a single decoded-by-reference BSON value: a type tag plus the
// remaining encoded bytes for that type (which may include trailing bytes
// belonging to sibling elements -- call a Read*/sizing helper to learn the
// value's true length before slicing further).
type Value struct {
	Type Type
	Data []byte
}

// Validate reports whether the value's declared size is consistent with the
// bytes present; it does not recurse into sub-documents beyond a length
// check.
func (v Value) Validate() error {
	_, ok := sizeOfValue(v.Type, v.Data)
	if !ok {
		return fmt.Errorf("%w: invalid %s value", ErrMalformedElement, v.Type)
	}
	return nil
}

// StringValue returns the value as a Go string, panicking if the type is
// not TypeString.
func (v Value) StringValue() string {
	s, ok := v.StringValueOK()
	if !ok {
		panic(fmt.Sprintf("bsoncore: value is type %s, not string", v.Type))
	}
	return s
}

// StringValueOK is the non-panicking form of StringValue.
func (v Value) StringValueOK() (string, bool) {
	if v.Type != TypeString || len(v.Data) < 4 {
		return "", false
	}
	n := int32(binary.LittleEndian.Uint32(v.Data[0:4]))
	if n < 1 || int(4+n) > len(v.Data) {
		return "", false
	}
	return string(v.Data[4 : 4+n-1]), true
}

// Int32OK returns the value as an int32.
func (v Value) Int32OK() (int32, bool) {
	if v.Type != TypeInt32 || len(v.Data) < 4 {
		return 0, false
	}
	return int32(binary.LittleEndian.Uint32(v.Data[0:4])), true
}

// Int64OK returns the value as an int64.
func (v Value) Int64OK() (int64, bool) {
	if v.Type != TypeInt64 || len(v.Data) < 8 {
		return 0, false
	}
	return int64(binary.LittleEndian.Uint64(v.Data[0:8])), true
}

// AsInt64 widens Int32 or Int64 values to int64, which command response
// fields (wire versions, batch sizes) are frequently encoded as either of
// depending on server version.
func (v Value) AsInt64() (int64, bool) {
	if i, ok := v.Int32OK(); ok {
		return int64(i), true
	}
	return v.Int64OK()
}

// DoubleOK returns the value as a float64.
func (v Value) DoubleOK() (float64, bool) {
	if v.Type != TypeDouble || len(v.Data) < 8 {
		return 0, false
	}
	bits := binary.LittleEndian.Uint64(v.Data[0:8])
	return doubleFromBits(bits), true
}

// BooleanOK returns the value as a bool.
func (v Value) BooleanOK() (bool, bool) {
	if v.Type != TypeBoolean || len(v.Data) < 1 {
		return false, false
	}
	return v.Data[0] == 0x01, true
}

// DocumentOK returns the value as an embedded Document.
func (v Value) DocumentOK() (Document, bool) {
	if v.Type != TypeEmbeddedDocument {
		return nil, false
	}
	n, _, ok := ReadLength(v.Data)
	if !ok || int(n) > len(v.Data) {
		return nil, false
	}
	return Document(v.Data[:n]), true
}

// ArrayOK returns the value as an Array.
func (v Value) ArrayOK() (Array, bool) {
	if v.Type != TypeArray {
		return nil, false
	}
	n, _, ok := ReadLength(v.Data)
	if !ok || int(n) > len(v.Data) {
		return nil, false
	}
	return Array(v.Data[:n]), true
}

// BinaryOK returns the value's subtype and bytes.
func (v Value) BinaryOK() (byte, []byte, bool) {
	if v.Type != TypeBinary || len(v.Data) < 5 {
		return 0, nil, false
	}
	n, _, ok := ReadLength(v.Data)
	if !ok || n < 0 || int(5+n) > len(v.Data) {
		return 0, nil, false
	}
	subtype := v.Data[4]
	return subtype, v.Data[5 : 5+n], true
}

// ObjectIDOK returns the value as a primitive.ObjectID.
func (v Value) ObjectIDOK() (primitive.ObjectID, bool) {
	var id primitive.ObjectID
	if v.Type != TypeObjectID || len(v.Data) < 12 {
		return id, false
	}
	copy(id[:], v.Data[:12])
	return id, true
}

// TimestampOK returns the value's (T, I) pair.
func (v Value) TimestampOK() (uint32, uint32, bool) {
	if v.Type != TypeTimestamp || len(v.Data) < 8 {
		return 0, 0, false
	}
	i := binary.LittleEndian.Uint32(v.Data[0:4])
	t := binary.LittleEndian.Uint32(v.Data[4:8])
	return t, i, true
}

// IsNull reports whether the value is a BSON null.
func (v Value) IsNull() bool { return v.Type == TypeNull }

// String renders the value for diagnostics.
func (v Value) String() string {
	switch v.Type {
	case TypeString:
		s, _ := v.StringValueOK()
		return fmt.Sprintf("%q", s)
	case TypeInt32:
		i, _ := v.Int32OK()
		return fmt.Sprintf("%d", i)
	case TypeInt64:
		i, _ := v.Int64OK()
		return fmt.Sprintf("%d", i)
	case TypeDouble:
		f, _ := v.DoubleOK()
		return fmt.Sprintf("%v", f)
	case TypeBoolean:
		b, _ := v.BooleanOK()
		return fmt.Sprintf("%v", b)
	case TypeEmbeddedDocument:
		d, ok := v.DocumentOK()
		if !ok {
			return "<malformed document>"
		}
		return d.String()
	case TypeArray:
		a, ok := v.ArrayOK()
		if !ok {
			return "<malformed array>"
		}
		return a.String()
	case TypeNull:
		return "null"
	case TypeObjectID:
		id, _ := v.ObjectIDOK()
		return id.String()
	default:
		return fmt.Sprintf("<%s>", v.Type)
	}
}

func appendHeader(dst []byte, t Type, key string) []byte {
	dst = append(dst, byte(t))
	dst = append(dst, key...)
	dst = append(dst, 0x00)
	return dst
}

// ReadElement reads a single element off the front of src, returning the
// element and the remaining bytes. It returns ok=false on malformed input.
func ReadElement(src []byte) (Element, []byte, bool) {
	if len(src) < 2 {
		return nil, src, false
	}
	t := Type(src[0])
	i := bytes.IndexByte(src[1:], 0x00)
	if i < 0 {
		return nil, src, false
	}
	keyEnd := 1 + i + 1
	valLen, ok := sizeOfValue(t, src[keyEnd:])
	if !ok {
		return nil, src, false
	}
	end := keyEnd + valLen
	if end > len(src) {
		return nil, src, false
	}
	return Element(src[:end]), src[end:], true
}

// sizeOfValue returns how many bytes of data (starting at data[0]) the
// value of type t occupies.
func sizeOfValue(t Type, data []byte) (int, bool) {
	switch t {
	case TypeDouble:
		if len(data) < 8 {
			return 0, false
		}
		return 8, true
	case TypeString, TypeJavaScript, TypeSymbol:
		if len(data) < 4 {
			return 0, false
		}
		n := int32(binary.LittleEndian.Uint32(data[0:4]))
		if n < 1 || int(4+n) > len(data) {
			return 0, false
		}
		return int(4 + n), true
	case TypeEmbeddedDocument, TypeArray, TypeCodeWithScope:
		n, _, ok := ReadLength(data)
		if !ok || n < 5 || int(n) > len(data) {
			return 0, false
		}
		return int(n), true
	case TypeBinary:
		if len(data) < 5 {
			return 0, false
		}
		n, _, ok := ReadLength(data)
		if !ok || n < 0 || int(5+n) > len(data) {
			return 0, false
		}
		return int(5 + n), true
	case TypeUndefined, TypeNull, TypeMinKey, TypeMaxKey:
		return 0, true
	case TypeObjectID:
		if len(data) < 12 {
			return 0, false
		}
		return 12, true
	case TypeBoolean:
		if len(data) < 1 {
			return 0, false
		}
		return 1, true
	case TypeDateTime, TypeTimestamp, TypeInt64:
		if len(data) < 8 {
			return 0, false
		}
		return 8, true
	case TypeRegex:
		i := bytes.IndexByte(data, 0x00)
		if i < 0 {
			return 0, false
		}
		j := bytes.IndexByte(data[i+1:], 0x00)
		if j < 0 {
			return 0, false
		}
		return i + 1 + j + 1, true
	case TypeDBPointer:
		if len(data) < 4 {
			return 0, false
		}
		n := int32(binary.LittleEndian.Uint32(data[0:4]))
		if int(4+n+12) > len(data) {
			return 0, false
		}
		return int(4 + n + 12), true
	case TypeInt32:
		if len(data) < 4 {
			return 0, false
		}
		return 4, true
	case TypeDecimal128:
		if len(data) < 16 {
			return 0, false
		}
		return 16, true
	default:
		return 0, false
	}
}
