// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package wiremessage implements MongoDB wire protocol framing: the
// standard message header plus OP_MSG and OP_COMPRESSED bodies (spec.md
// §4.2). OP_QUERY encoding (AppendQuery) is present but not called: the
// handshake is sent as OP_MSG. OP_REPLY decoding lets ResultDocument read
// a legacy reply. No other legacy opcode is implemented, per
// spec.md §1's exclusion of legacy opcode fallbacks from the core.
package wiremessage

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// OpCode identifies the wire protocol message kind (spec.md §4.2).
type OpCode int32

// Wire protocol opcodes, per the MongoDB wire protocol specification.
const (
	OpReply       OpCode = 1
	OpQuery       OpCode = 2004
	OpCompressed  OpCode = 2012
	OpMsg         OpCode = 2013
)

func (c OpCode) String() string {
	switch c {
	case OpReply:
		return "OP_REPLY"
	case OpQuery:
		return "OP_QUERY"
	case OpCompressed:
		return "OP_COMPRESSED"
	case OpMsg:
		return "OP_MSG"
	default:
		return fmt.Sprintf("OpCode(%d)", int32(c))
	}
}

// headerLen is the fixed 16-byte standard message header length.
const headerLen = 16

// Header is the 16-byte prefix common to every wire protocol message.
type Header struct {
	MessageLength int32
	RequestID     int32
	ResponseTo    int32
	OpCode        OpCode
}

// ErrMalformedHeader is returned when fewer than 16 bytes are available to
// decode a Header.
var ErrMalformedHeader = errors.New("wiremessage: malformed header")

// ReadHeader decodes the 16-byte header prefix of src.
func ReadHeader(src []byte) (Header, []byte, error) {
	if len(src) < headerLen {
		return Header{}, src, ErrMalformedHeader
	}
	var h Header
	h.MessageLength = int32(binary.LittleEndian.Uint32(src[0:4]))
	h.RequestID = int32(binary.LittleEndian.Uint32(src[4:8]))
	h.ResponseTo = int32(binary.LittleEndian.Uint32(src[8:12]))
	h.OpCode = OpCode(binary.LittleEndian.Uint32(src[12:16]))
	return h, src[headerLen:], nil
}

// AppendHeader appends a placeholder header (message length left zero; the
// caller backpatches it once the full message is known) to dst and returns
// the index of the length field.
func AppendHeader(dst []byte, requestID, responseTo int32, opcode OpCode) ([]byte, int32) {
	idx := int32(len(dst))
	var buf [headerLen]byte
	binary.LittleEndian.PutUint32(buf[4:8], uint32(requestID))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(responseTo))
	binary.LittleEndian.PutUint32(buf[12:16], uint32(opcode))
	return append(dst, buf[:]...), idx
}

// UpdateLength backpatches the message-length field at idx now that dst's
// final length is known.
func UpdateLength(dst []byte, idx int32) []byte {
	binary.LittleEndian.PutUint32(dst[idx:idx+4], uint32(len(dst)-int(idx)))
	return dst
}

// NextRequestID hands out a fresh 31-bit positive random request id, safe
// for concurrent use; see requestid.go.
func NextRequestID() int32 { return nextRequestID() }
