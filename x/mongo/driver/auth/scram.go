// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package auth

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"

	"github.com/xdg-go/scram"
)

// scramAuthenticator runs SCRAM-SHA-1 or SCRAM-SHA-256 (spec.md §4.5 step
// 3) using xdg-go/scram for the conversation mechanics and
// xdg-go/stringprep (a transitive dependency of xdg-go/scram, pulled in
// for SASLprep) to normalize the password.
type scramAuthenticator struct {
	mechanism  string
	source     string
	username   string
	password   string
	hashGenFcn scram.HashGeneratorFcn
}

// defaultAuthenticator implements the DEFAULT mechanism: it defers the
// SHA-1-vs-SHA-256 choice until it can see what the server advertised in
// the handshake reply (spec.md §4.5 step 3: "DEFAULT → use SCRAM-SHA-256
// if the server advertises it, else SCRAM-SHA-1").
type defaultAuthenticator struct {
	cred *Cred
}

func newDefaultAuthenticator(cred *Cred) (Authenticator, error) {
	if cred == nil || cred.Username == "" {
		return nil, newAuthError(MechanismDefault, "username required", nil)
	}
	return &defaultAuthenticator{cred: cred}, nil
}

func (a *defaultAuthenticator) Mechanism() string { return MechanismDefault }

func (a *defaultAuthenticator) Auth(ctx context.Context, cfg *Config) error {
	mechanism := MechanismScramSHA1
	for _, m := range cfg.SupportedSCRAMMechanisms {
		if m == MechanismScramSHA256 {
			mechanism = MechanismScramSHA256
			break
		}
	}
	delegate, err := CreateAuthenticator(mechanism, a.cred)
	if err != nil {
		return err
	}
	return delegate.Auth(ctx, cfg)
}

func newScramSHA1Authenticator(cred *Cred) (Authenticator, error) {
	return newScramAuthenticator(MechanismScramSHA1, scram.SHA1, cred)
}

func newScramSHA256Authenticator(cred *Cred) (Authenticator, error) {
	return newScramAuthenticator(MechanismScramSHA256, scram.SHA256, cred)
}

func newScramAuthenticator(mechanism string, hashGen scram.HashGeneratorFcn, cred *Cred) (Authenticator, error) {
	if cred == nil || cred.Username == "" {
		return nil, newAuthError(mechanism, "username required", nil)
	}
	password := cred.Password
	if mechanism == MechanismScramSHA1 {
		// MONGODB-CR/SCRAM-SHA-1 historically hashes the password with the
		// username mixed in, matching server-side credential derivation.
		password = md5Hex(cred.Username + ":mongo:" + cred.Password)
	}
	return &scramAuthenticator{
		mechanism:  mechanism,
		source:     authSourceOrDefault(cred.Source, "admin"),
		username:   cred.Username,
		password:   password,
		hashGenFcn: hashGen,
	}, nil
}

func authSourceOrDefault(source, fallback string) string {
	if source != "" {
		return source
	}
	return fallback
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

func (a *scramAuthenticator) Mechanism() string { return a.mechanism }

func (a *scramAuthenticator) Auth(ctx context.Context, cfg *Config) error {
	client, err := a.hashGenFcn.NewClient(a.username, a.password, "")
	if err != nil {
		return newAuthError(a.mechanism, "failed to create scram client", err)
	}

	conv := client.NewConversation()
	adapter := &scramSaslAdapter{mechanism: a.mechanism, conversation: conv}
	return ConductSaslConversation(ctx, cfg, a.source, adapter)
}

// scramSaslAdapter adapts xdg-go/scram's string-based ClientConversation
// to the byte-payload SaslClient interface ConductSaslConversation drives.
type scramSaslAdapter struct {
	mechanism    string
	conversation *scram.ClientConversation
}

func (a *scramSaslAdapter) Start() (string, []byte, error) {
	step, err := a.conversation.Step("")
	if err != nil {
		return a.mechanism, nil, fmt.Errorf("scram start: %w", err)
	}
	return a.mechanism, []byte(step), nil
}

func (a *scramSaslAdapter) Next(challenge []byte) ([]byte, error) {
	step, err := a.conversation.Step(string(challenge))
	if err != nil {
		return nil, fmt.Errorf("scram step: %w", err)
	}
	return []byte(step), nil
}

func (a *scramSaslAdapter) Completed() bool {
	return a.conversation.Done()
}
