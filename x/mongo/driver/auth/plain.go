// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package auth

import "context"

// plainAuthenticator implements SASL PLAIN (RFC 4616): authzid NUL authcid
// NUL password, sent over a TLS-protected connection (spec.md §4.5 step 3).
type plainAuthenticator struct {
	source   string
	username string
	password string
}

func newPlainAuthenticator(cred *Cred) (Authenticator, error) {
	if cred == nil || cred.Username == "" {
		return nil, newAuthError(MechanismPlain, "username required", nil)
	}
	return &plainAuthenticator{
		source:   authSourceOrDefault(cred.Source, "$external"),
		username: cred.Username,
		password: cred.Password,
	}, nil
}

func (a *plainAuthenticator) Mechanism() string { return MechanismPlain }

func (a *plainAuthenticator) Auth(ctx context.Context, cfg *Config) error {
	adapter := &plainSaslAdapter{username: a.username, password: a.password}
	return ConductSaslConversation(ctx, cfg, a.source, adapter)
}

type plainSaslAdapter struct {
	username string
	password string
	done     bool
}

func (a *plainSaslAdapter) Start() (string, []byte, error) {
	payload := []byte("\x00" + a.username + "\x00" + a.password)
	a.done = true
	return MechanismPlain, payload, nil
}

func (a *plainSaslAdapter) Next(challenge []byte) ([]byte, error) {
	return nil, nil
}

func (a *plainSaslAdapter) Completed() bool { return a.done }
