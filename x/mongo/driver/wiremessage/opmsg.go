// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package wiremessage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
)

// MsgFlag is the OP_MSG flagBits bitfield (spec.md §4.2).
type MsgFlag uint32

const (
	// ChecksumPresent indicates a CRC-32C checksum trails the message.
	ChecksumPresent MsgFlag = 1 << 0
	// MoreToCome indicates no reply is expected (fire-and-forget). This
	// driver never sets it.
	MoreToCome MsgFlag = 1 << 1
	// ExhaustAllowed requests the server may stream multiple replies.
	ExhaustAllowed MsgFlag = 1 << 16
)

// SectionType identifies an OP_MSG section kind.
type SectionType byte

const (
	// SectionBody is a single BSON document, the command itself.
	SectionBody SectionType = 0
	// SectionDocumentSequence is a named sequence of BSON documents, used
	// to attach a write batch's payload (e.g. documents/updates/deletes)
	// without re-embedding it inside the body document (spec.md §4.2).
	SectionDocumentSequence SectionType = 1
)

// DocumentSequence is a decoded OP_MSG kind-1 section: an identifier
// (e.g. "documents", "updates", "deletes") and its documents.
type DocumentSequence struct {
	Identifier string
	Documents  [][]byte
}

// Msg is a decoded OP_MSG message.
type Msg struct {
	FlagBits  MsgFlag
	BodyDoc   []byte
	Sequences []DocumentSequence
	Checksum  uint32
}

var (
	errMalformedMsg = errors.New("wiremessage: malformed OP_MSG body")
)

// AppendMsg serializes an OP_MSG message: header, flagBits, a single kind-0
// body section, then zero or more kind-1 document-sequence sections, per
// spec.md §4.2's payload type descriptions.
func AppendMsg(dst []byte, requestID int32, flags MsgFlag, body []byte, sequences ...DocumentSequence) []byte {
	dst, lenIdx := AppendHeader(dst, requestID, 0, OpMsg)

	withChecksum := flags&ChecksumPresent != 0
	var flagBuf [4]byte
	binary.LittleEndian.PutUint32(flagBuf[:], uint32(flags))
	dst = append(dst, flagBuf[:]...)

	dst = append(dst, byte(SectionBody))
	dst = append(dst, body...)

	for _, seq := range sequences {
		dst = appendDocumentSequence(dst, seq)
	}

	if withChecksum {
		sum := crc32.Checksum(dst[lenIdx:], crc32.MakeTable(crc32.Castagnoli))
		var sumBuf [4]byte
		binary.LittleEndian.PutUint32(sumBuf[:], sum)
		dst = append(dst, sumBuf[:]...)
	}

	return UpdateLength(dst, lenIdx)
}

func appendDocumentSequence(dst []byte, seq DocumentSequence) []byte {
	dst = append(dst, byte(SectionDocumentSequence))
	sizeIdx := len(dst)
	var sizeBuf [4]byte
	dst = append(dst, sizeBuf[:]...)
	dst = append(dst, seq.Identifier...)
	dst = append(dst, 0x00)
	for _, doc := range seq.Documents {
		dst = append(dst, doc...)
	}
	size := len(dst) - sizeIdx
	binary.LittleEndian.PutUint32(dst[sizeIdx:sizeIdx+4], uint32(size))
	return dst
}

// ReadMsg decodes the body of an OP_MSG message (the bytes following the
// 16-byte standard header) given the flagBits already parsed from it, i.e.
// src starts at the first section byte.
func ReadMsg(flags MsgFlag, src []byte) (Msg, error) {
	m := Msg{FlagBits: flags}
	withChecksum := flags&ChecksumPresent != 0

	body := src
	if withChecksum {
		if len(body) < 4 {
			return Msg{}, errMalformedMsg
		}
		body = body[:len(body)-4]
		m.Checksum = binary.LittleEndian.Uint32(src[len(src)-4:])
	}

	for len(body) > 0 {
		kind := SectionType(body[0])
		body = body[1:]
		switch kind {
		case SectionBody:
			if m.BodyDoc != nil {
				return Msg{}, errors.New("wiremessage: OP_MSG contains more than one body section")
			}
			if len(body) < 4 {
				return Msg{}, errMalformedMsg
			}
			length := int32(binary.LittleEndian.Uint32(body[0:4]))
			if int(length) > len(body) || length < 5 {
				return Msg{}, errMalformedMsg
			}
			m.BodyDoc = body[:length]
			body = body[length:]
		case SectionDocumentSequence:
			if len(body) < 4 {
				return Msg{}, errMalformedMsg
			}
			size := int32(binary.LittleEndian.Uint32(body[0:4]))
			if int(size) > len(body) || size < 5 {
				return Msg{}, errMalformedMsg
			}
			section := body[4:size]
			body = body[size:]

			nul := indexByte(section, 0x00)
			if nul < 0 {
				return Msg{}, errMalformedMsg
			}
			seq := DocumentSequence{Identifier: string(section[:nul])}
			rest := section[nul+1:]
			for len(rest) > 1 {
				if len(rest) < 4 {
					return Msg{}, errMalformedMsg
				}
				docLen := int32(binary.LittleEndian.Uint32(rest[0:4]))
				if int(docLen) > len(rest) || docLen < 5 {
					return Msg{}, errMalformedMsg
				}
				seq.Documents = append(seq.Documents, rest[:docLen])
				rest = rest[docLen:]
			}
			m.Sequences = append(m.Sequences, seq)
		default:
			return Msg{}, fmt.Errorf("wiremessage: unknown OP_MSG section kind %d", kind)
		}
	}

	if m.BodyDoc == nil {
		return Msg{}, errMalformedMsg
	}
	return m, nil
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}
