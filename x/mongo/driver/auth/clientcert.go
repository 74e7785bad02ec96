// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package auth

import (
	"crypto"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"

	"github.com/youmark/pkcs8"
)

// LoadClientCertificate parses a PEM-encoded client certificate and
// private key for MONGODB-X509 (and general mutual-TLS connection setup),
// supporting a PKCS#8-encrypted private key block -- the case
// crypto/tls.X509KeyPair cannot handle on its own -- via youmark/pkcs8.
func LoadClientCertificate(certPEM, keyPEM []byte, keyPassword []byte) (tls.Certificate, error) {
	certBlock, _ := pem.Decode(certPEM)
	if certBlock == nil {
		return tls.Certificate{}, fmt.Errorf("auth: no PEM certificate block found")
	}

	keyBlock, _ := pem.Decode(keyPEM)
	if keyBlock == nil {
		return tls.Certificate{}, fmt.Errorf("auth: no PEM private key block found")
	}

	var key crypto.PrivateKey
	var err error
	if len(keyPassword) > 0 && isEncryptedPKCS8(keyBlock) {
		key, err = pkcs8.ParsePKCS8PrivateKey(keyBlock.Bytes, keyPassword)
	} else {
		cert, kerr := tls.X509KeyPair(certPEM, keyPEM)
		if kerr == nil {
			return cert, nil
		}
		key, err = x509.ParsePKCS8PrivateKey(keyBlock.Bytes)
	}
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("auth: failed to parse client private key: %w", err)
	}

	return tls.Certificate{
		Certificate: [][]byte{certBlock.Bytes},
		PrivateKey:  key,
	}, nil
}

func isEncryptedPKCS8(block *pem.Block) bool {
	return block.Type == "ENCRYPTED PRIVATE KEY"
}
