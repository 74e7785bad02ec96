// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package wiremessage

import (
	"encoding/binary"
	"errors"
)

// QueryFlag is the OP_QUERY flags bitfield. Only SlaveOK is defined.
type QueryFlag uint32

const (
	SlaveOK QueryFlag = 1 << 2
)

// AppendQuery serializes a legacy OP_QUERY message. No code in this module
// calls it: the handshake hello is sent as OP_MSG, including on a
// connection whose wire version is not yet known.
func AppendQuery(requestID int32, flags QueryFlag, fullCollectionName string, numberToSkip, numberToReturn int32, query []byte) []byte {
	dst, lenIdx := AppendHeader(nil, requestID, 0, OpQuery)

	var flagBuf [4]byte
	binary.LittleEndian.PutUint32(flagBuf[:], uint32(flags))
	dst = append(dst, flagBuf[:]...)

	dst = append(dst, fullCollectionName...)
	dst = append(dst, 0x00)

	var skipBuf, retBuf [4]byte
	binary.LittleEndian.PutUint32(skipBuf[:], uint32(numberToSkip))
	binary.LittleEndian.PutUint32(retBuf[:], uint32(numberToReturn))
	dst = append(dst, skipBuf[:]...)
	dst = append(dst, retBuf[:]...)

	dst = append(dst, query...)

	return UpdateLength(dst, lenIdx)
}

// Reply is a decoded legacy OP_REPLY message, as read by ResultDocument
// for any reply whose opcode is OP_REPLY.
type Reply struct {
	ResponseFlags  int32
	CursorID       int64
	StartingFrom   int32
	NumberReturned int32
	Documents      [][]byte
}

// ReadReply decodes the body of an OP_REPLY message (the bytes following
// the 16-byte standard header).
func ReadReply(src []byte) (Reply, error) {
	if len(src) < 20 {
		return Reply{}, errors.New("wiremessage: malformed OP_REPLY body")
	}
	r := Reply{
		ResponseFlags:  int32(binary.LittleEndian.Uint32(src[0:4])),
		CursorID:       int64(binary.LittleEndian.Uint64(src[4:12])),
		StartingFrom:   int32(binary.LittleEndian.Uint32(src[12:16])),
		NumberReturned: int32(binary.LittleEndian.Uint32(src[16:20])),
	}
	rest := src[20:]
	for len(rest) > 4 {
		docLen := int32(binary.LittleEndian.Uint32(rest[0:4]))
		if int(docLen) > len(rest) || docLen < 5 {
			return Reply{}, errors.New("wiremessage: malformed OP_REPLY document")
		}
		r.Documents = append(r.Documents, rest[:docLen])
		rest = rest[docLen:]
	}
	return r, nil
}
