// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package wiremessage

import (
	"context"
	"errors"
	"fmt"
)

// ReadWriter is implemented by anything that can exchange whole wire
// protocol messages, satisfied by both a raw connection and the handshake
// path that runs before a connection is fully pooled.
type ReadWriter interface {
	WriteWireMessage(ctx context.Context, wm []byte) error
	ReadWireMessage(ctx context.Context) ([]byte, error)
}

// ErrReplyMismatch is returned when a decoded reply's responseTo does not
// match the outstanding request (spec.md §4.2: "reject replies whose
// responseTo does not match the outstanding request id").
var ErrReplyMismatch = errors.New("wiremessage: responseTo does not match outstanding request id")

// Validate checks a decoded Header against the request it answers, per
// spec.md §4.2's reply-parsing rules: the opcode must be OP_REPLY or
// OP_MSG (OP_COMPRESSED is unwrapped by the caller before this check), and
// responseTo must match requestID.
func Validate(h Header, requestID int32) error {
	switch h.OpCode {
	case OpReply, OpMsg:
	default:
		return fmt.Errorf("wiremessage: unexpected opcode %s in reply", h.OpCode)
	}
	if h.ResponseTo != requestID {
		return ErrReplyMismatch
	}
	return nil
}

// ResultDocument extracts the single result document from a decoded
// message body, whichever opcode produced it: the payload-type-0 section
// of an OP_MSG, or the lone document of an OP_REPLY.
func ResultDocument(h Header, body []byte) ([]byte, error) {
	switch h.OpCode {
	case OpMsg:
		flags := MsgFlag(0)
		if len(body) >= 4 {
			flags = MsgFlag(leUint32(body[:4]))
		}
		msg, err := ReadMsg(flags, body[4:])
		if err != nil {
			return nil, err
		}
		return msg.BodyDoc, nil
	case OpReply:
		reply, err := ReadReply(body)
		if err != nil {
			return nil, err
		}
		if len(reply.Documents) == 0 {
			return nil, errors.New("wiremessage: OP_REPLY contained no documents")
		}
		return reply.Documents[0], nil
	default:
		return nil, fmt.Errorf("wiremessage: cannot extract result document from opcode %s", h.OpCode)
	}
}

func leUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
