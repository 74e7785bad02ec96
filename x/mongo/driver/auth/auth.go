// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package auth implements the per-mechanism SASL conversations run during
// connection handshake (spec.md §4.5). MONGODB-AWS is not implemented:
// spec.md §4.5 step 3 names exactly DEFAULT, SCRAM-*, MONGODB-X509, PLAIN,
// and GSSAPI as in scope.
package auth

import (
	"context"
	"fmt"
)

// Mechanism names as they appear on the wire and in connection strings.
const (
	MechanismDefault     = "DEFAULT"
	MechanismScramSHA1   = "SCRAM-SHA-1"
	MechanismScramSHA256 = "SCRAM-SHA-256"
	MechanismMongoDBX509 = "MONGODB-X509"
	MechanismPlain       = "PLAIN"
	MechanismGSSAPI      = "GSSAPI"
)

// defaultAuthDB is the database SASL commands run against absent an
// explicit authSource.
const defaultAuthDB = "$external"

// Cred carries the credentials and mechanism properties needed to
// construct an Authenticator (spec.md §4.5 step 3).
type Cred struct {
	Source      string
	Username    string
	Password    string
	PasswordSet bool
	Mechanism   string
	Props       map[string]string

	// ClientCertificate is required for MONGODB-X509 when the username is
	// not supplied and must be derived from the certificate subject.
	ClientCertificate []byte
}

// SpeculativeConversation is implemented by an Authenticator that can
// start its conversation during the handshake command itself, so the
// first SASL round trip is folded into the hello/isMaster reply (spec.md
// §4.5 step 3: "If the server already returned a speculative reply, the
// first round is skipped").
type SpeculativeConversation interface {
	// SpeculativeAuthenticate returns the saslStart-equivalent payload to
	// attach to the handshake command.
	SpeculativeAuthenticate() (mechanism string, payload []byte, err error)
}

// Authenticator runs a mechanism's conversation to completion over conn.
type Authenticator interface {
	Auth(ctx context.Context, cfg *Config) error
	Mechanism() string
}

// Config bundles what an Authenticator needs from the connection it's
// authenticating: a way to run SASL commands and the server description
// from the just-completed handshake (to decide e.g. which SCRAM variant
// the server advertises).
type Config struct {
	Conn             SaslRunner
	ServerWireRange  [2]int32
	SpeculativeReply []byte // the handshake reply's "speculativeAuthenticate" subdocument, if any

	// SupportedSCRAMMechanisms is the server's saslSupportedMechs reply
	// (or, on older servers, empty), used to pick SCRAM-SHA-256 over
	// SCRAM-SHA-1 for the DEFAULT mechanism (spec.md §4.5 step 3).
	SupportedSCRAMMechanisms []string
}

// SaslRunner is the minimal connection surface ConductSaslConversation
// needs: the ability to run one command against the authenticating
// connection's own server, bypassing normal server selection (matching the
// teacher's `mongo/private/auth/sasl.go` use of a single already-open
// `conn.Connection`).
type SaslRunner interface {
	RunCommand(ctx context.Context, db string, cmd []byte) ([]byte, error)
}

// CreateAuthenticator builds the Authenticator for mechanism, the
// table-driven mechanism dispatch spec.md §9 calls for ("Use a sum type of
// authentication mechanisms and a table-driven constraint validator").
func CreateAuthenticator(mechanism string, cred *Cred) (Authenticator, error) {
	switch mechanism {
	case "", MechanismDefault:
		return newDefaultAuthenticator(cred)
	case MechanismScramSHA1:
		return newScramSHA1Authenticator(cred)
	case MechanismScramSHA256:
		return newScramSHA256Authenticator(cred)
	case MechanismMongoDBX509:
		return newMongoDBX509Authenticator(cred)
	case MechanismPlain:
		return newPlainAuthenticator(cred)
	case MechanismGSSAPI:
		return newGSSAPIAuthenticator(cred)
	default:
		return nil, fmt.Errorf("auth: unknown mechanism %q", mechanism)
	}
}

// authError wraps a mechanism-specific failure with the mechanism name for
// diagnostics, grounded on the teacher's sasl.go newError helper.
type authError struct {
	mechanism string
	message   string
	inner     error
}

func newAuthError(mechanism, message string, inner error) *authError {
	return &authError{mechanism: mechanism, message: message, inner: inner}
}

func (e *authError) Error() string {
	if e.inner != nil {
		return fmt.Sprintf("auth error: mechanism = %s: %s: %v", e.mechanism, e.message, e.inner)
	}
	return fmt.Sprintf("auth error: mechanism = %s: %s", e.mechanism, e.message)
}

func (e *authError) Unwrap() error { return e.inner }
