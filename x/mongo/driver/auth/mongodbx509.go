// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package auth

import (
	"context"
	"crypto/x509"
	"fmt"

	"github.com/lattixdb/mongogo/bson/bsoncore"
)

// mongodbX509Authenticator authenticates using a client certificate's
// subject distinguished name in place of a username (spec.md §4.5 step 3:
// "MONGODB-X509... per-mechanism SASL conversations").
type mongodbX509Authenticator struct {
	username string
}

func newMongoDBX509Authenticator(cred *Cred) (Authenticator, error) {
	username := cred.Username
	if username == "" {
		if cred.ClientCertificate == nil {
			return nil, newAuthError(MechanismMongoDBX509, "username or client certificate required", nil)
		}
		cert, err := x509.ParseCertificate(cred.ClientCertificate)
		if err != nil {
			// youmark/pkcs8 is used one layer up, when the client
			// certificate's private key is PKCS#8-encrypted; parsing the
			// certificate itself is plain stdlib x509.
			return nil, newAuthError(MechanismMongoDBX509, "failed to parse client certificate", err)
		}
		username = cert.Subject.String()
	}
	return &mongodbX509Authenticator{username: username}, nil
}

func (a *mongodbX509Authenticator) Mechanism() string { return MechanismMongoDBX509 }

func (a *mongodbX509Authenticator) Auth(ctx context.Context, cfg *Config) error {
	cmd := bsoncore.NewDocumentBuilder().
		AppendInt32("authenticate", 1).
		AppendString("mechanism", MechanismMongoDBX509).
		AppendString("user", a.username).
		Build()
	_, err := cfg.Conn.RunCommand(ctx, "$external", cmd)
	if err != nil {
		return newAuthError(MechanismMongoDBX509, fmt.Sprintf("authenticate command failed for user %q", a.username), err)
	}
	return nil
}
