// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package auth

import (
	"context"

	"github.com/lattixdb/mongogo/bson"
	"github.com/lattixdb/mongogo/bson/bsoncore"
)

// SaslClient is the client half of one SASL mechanism's conversation.
type SaslClient interface {
	Start() (mechanism string, payload []byte, err error)
	Next(challenge []byte) ([]byte, error)
	Completed() bool
}

// SaslClientCloser is a SaslClient holding resources that must be released
// once the conversation ends (e.g. a GSSAPI security context).
type SaslClientCloser interface {
	SaslClient
	Close()
}

type saslResponse struct {
	ConversationID int32  `bson:"conversationId"`
	Code           int32  `bson:"code"`
	Done           bool   `bson:"done"`
	Payload        []byte `bson:"payload"`
}

// ConductSaslConversation drives client's saslStart/saslContinue exchange
// to completion (spec.md §4.5 step 3), grounded directly on the teacher's
// mongo/private/auth/sasl.go ConductSaslConversation.
func ConductSaslConversation(ctx context.Context, cfg *Config, db string, client SaslClient) error {
	if db == "" {
		db = defaultAuthDB
	}
	if closer, ok := client.(SaslClientCloser); ok {
		defer closer.Close()
	}

	mechanism, payload, err := client.Start()
	if err != nil {
		return newAuthError(mechanism, "sasl start error", err)
	}

	var resp saslResponse
	if cfg.SpeculativeReply != nil {
		// The handshake already carried round one; decode its reply
		// instead of issuing a fresh saslStart (spec.md §4.5 step 3).
		if err := bson.Unmarshal(cfg.SpeculativeReply, &resp); err != nil {
			return newAuthError(mechanism, "malformed speculative authenticate reply", err)
		}
	} else {
		cmd := bsoncore.NewDocumentBuilder().
			AppendInt32("saslStart", 1).
			AppendString("mechanism", mechanism).
			AppendBinary("payload", 0x00, payload).
			AppendBoolean("autoAuthorize", true).
			Build()
		reply, err := cfg.Conn.RunCommand(ctx, db, cmd)
		if err != nil {
			return newAuthError(mechanism, "sasl start error", err)
		}
		if err := bson.Unmarshal(reply, &resp); err != nil {
			return newAuthError(mechanism, "malformed saslStart reply", err)
		}
	}

	for {
		if resp.Code != 0 {
			return newAuthError(mechanism, "server returned non-zero sasl code", nil)
		}
		if resp.Done && client.Completed() {
			return nil
		}

		payload, err = client.Next(resp.Payload)
		if err != nil {
			return newAuthError(mechanism, "sasl conversation error", err)
		}
		if resp.Done && client.Completed() {
			return nil
		}

		cmd := bsoncore.NewDocumentBuilder().
			AppendInt32("saslContinue", 1).
			AppendInt32("conversationId", resp.ConversationID).
			AppendBinary("payload", 0x00, payload).
			Build()
		reply, err := cfg.Conn.RunCommand(ctx, db, cmd)
		if err != nil {
			return newAuthError(mechanism, "sasl continue error", err)
		}
		if err := bson.Unmarshal(reply, &resp); err != nil {
			return newAuthError(mechanism, "malformed saslContinue reply", err)
		}
	}
}
