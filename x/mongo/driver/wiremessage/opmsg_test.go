// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package wiremessage

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestHeaderRoundTrip(t *testing.T) {
	t.Parallel()

	dst, idx := AppendHeader(nil, 42, 7, OpMsg)
	dst = append(dst, []byte("payload")...)
	dst = UpdateLength(dst, idx)

	h, rest, err := ReadHeader(dst)
	if err != nil {
		t.Fatalf("ReadHeader() = %v, want nil", err)
	}
	if h.RequestID != 42 || h.ResponseTo != 7 || h.OpCode != OpMsg {
		t.Fatalf("ReadHeader() = %+v, want RequestID=42 ResponseTo=7 OpCode=OP_MSG", h)
	}
	if h.MessageLength != int32(len(dst)) {
		t.Fatalf("MessageLength = %d, want %d", h.MessageLength, len(dst))
	}
	if !bytes.Equal(rest, []byte("payload")) {
		t.Fatalf("remaining bytes = %q, want %q", rest, "payload")
	}
}

func TestOpMsgEncodeDecodeRoundTrip(t *testing.T) {
	t.Parallel()

	body := bsonDoc("ping", int32(1))

	tests := []struct {
		name  string
		flags MsgFlag
		seqs  []DocumentSequence
	}{
		{name: "body only"},
		{
			name: "body with checksum",
			flags: ChecksumPresent,
		},
		{
			name: "body with a single document sequence",
			seqs: []DocumentSequence{
				{Identifier: "documents", Documents: [][]byte{bsonDoc("x", int32(1)), bsonDoc("x", int32(2))}},
			},
		},
		{
			name:  "body with document sequence and checksum, moreToCome",
			flags: ChecksumPresent | MoreToCome,
			seqs: []DocumentSequence{
				{Identifier: "updates", Documents: [][]byte{bsonDoc("q", int32(1))}},
			},
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			wire := AppendMsg(nil, NextRequestID(), tc.flags, body, tc.seqs...)

			hdr, rest, err := ReadHeader(wire)
			if err != nil {
				t.Fatalf("ReadHeader() = %v, want nil", err)
			}
			if hdr.OpCode != OpMsg {
				t.Fatalf("OpCode = %v, want OP_MSG", hdr.OpCode)
			}
			if int(hdr.MessageLength) != len(wire) {
				t.Fatalf("MessageLength = %d, want %d", hdr.MessageLength, len(wire))
			}

			flags := MsgFlag(binary.LittleEndian.Uint32(rest[0:4]))
			if flags != tc.flags {
				t.Fatalf("decoded flags = %v, want %v", flags, tc.flags)
			}

			msg, err := ReadMsg(flags, rest[4:])
			if err != nil {
				t.Fatalf("ReadMsg() = %v, want nil", err)
			}

			if !bytes.Equal(msg.BodyDoc, body) {
				t.Errorf("BodyDoc round-tripped to %v, want %v", msg.BodyDoc, body)
			}
			if len(msg.Sequences) != len(tc.seqs) {
				t.Fatalf("got %d sequences, want %d", len(msg.Sequences), len(tc.seqs))
			}
			for i, want := range tc.seqs {
				got := msg.Sequences[i]
				if got.Identifier != want.Identifier {
					t.Errorf("sequence %d identifier = %q, want %q", i, got.Identifier, want.Identifier)
				}
				if len(got.Documents) != len(want.Documents) {
					t.Fatalf("sequence %d has %d documents, want %d", i, len(got.Documents), len(want.Documents))
				}
				for j := range want.Documents {
					if !bytes.Equal(got.Documents[j], want.Documents[j]) {
						t.Errorf("sequence %d document %d = %v, want %v", i, j, got.Documents[j], want.Documents[j])
					}
				}
			}

			// Re-encoding the decoded message must reproduce the same bytes
			// for the section the flag claims -- the property spec.md §8
			// requires of the wire codec: encode(decode(x)) == x.
			reencoded := AppendMsg(nil, hdr.RequestID, flags, msg.BodyDoc, msg.Sequences...)
			if !bytes.Equal(reencoded, wire) {
				t.Errorf("encode(decode(wire)) != wire\n got: %v\nwant: %v", reencoded, wire)
			}
		})
	}
}

func TestReadMsgRejectsMalformedSections(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body []byte
	}{
		{name: "empty body", body: nil},
		{name: "unknown section kind", body: []byte{0x02, 0x00, 0x00, 0x00, 0x00}},
		{name: "truncated body length", body: []byte{0x00, 0xff, 0x00}},
		{name: "two body sections", body: append(append([]byte{0x00}, bsonDoc("a", int32(1))...), append([]byte{0x00}, bsonDoc("b", int32(2))...)...)},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, err := ReadMsg(0, tc.body); err == nil {
				t.Error("ReadMsg() = nil error, want a malformed-message error")
			}
		})
	}
}

// bsonDoc builds a minimal single-field int32 BSON document without
// depending on the bsoncore package, keeping this package's tests
// self-contained.
func bsonDoc(key string, v int32) []byte {
	buf := make([]byte, 0, 16)
	buf = append(buf, 0, 0, 0, 0) // length placeholder
	buf = append(buf, 0x10)       // int32 type
	buf = append(buf, key...)
	buf = append(buf, 0x00)
	var vbuf [4]byte
	binary.LittleEndian.PutUint32(vbuf[:], uint32(v))
	buf = append(buf, vbuf[:]...)
	buf = append(buf, 0x00)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(buf)))
	return buf
}
